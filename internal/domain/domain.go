package domain

import "fmt"

// Mode selects the side-effect behavior of a run. It is chosen once at run
// start and never changes for the lifetime of the run.
type Mode string

const (
	// ModeDryRun previews the send without outbound calls or marker writes.
	ModeDryRun Mode = "dry-run"

	// ModeConfirmSend performs outbound sends and persists markers.
	ModeConfirmSend Mode = "confirm-send"
)

func (m Mode) Valid() bool {
	return m == ModeDryRun || m == ModeConfirmSend
}

// ActionAcornForm is the action kind baked into idempotency keys. It carries
// the Acorn form version so a form upgrade starts a fresh dedupe namespace.
const ActionAcornForm = "v14"

// IdempotencyKey builds the composite dedupe key for one send action.
// The result depends only on its inputs, never on run time.
func IdempotencyKey(clientID, asOfDate, action string) string {
	return fmt.Sprintf("acorn:%s:%s:%s", asOfDate, clientID, action)
}

// RawRecipient is one extracted row before normalization.
type RawRecipient struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

// SendPayload carries the destination-specific fields for one outbound send.
type SendPayload struct {
	ClientID  string `json:"client_id"`
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	FormValue string `json:"form_value"`
	SendVia   string `json:"send_via"`
	TextFrom  string `json:"text_from"`
}

// Record is one normalized candidate for a run. RecordID is derived purely
// from source attributes so repeated extractions of the same person on the
// same date always produce the same id. RecipientToken is the redaction-safe
// handle used everywhere a record is mentioned in logs or artifacts.
type Record struct {
	RecordID       string      `json:"record_id"`
	RecipientToken string      `json:"recipient_token"`
	Payload        SendPayload `json:"payload"`
	AsOfDate       string      `json:"as_of_date"`
}

// Key returns the record's idempotency key.
func (r Record) Key() string {
	return IdempotencyKey(r.RecordID, r.AsOfDate, ActionAcornForm)
}

// MarkerStatus is the lifecycle of a persisted idempotency marker.
type MarkerStatus string

const (
	// MarkerReserved means a dispatch claimed the key but has not confirmed.
	MarkerReserved MarkerStatus = "reserved"

	// MarkerSent means a confirmed successful dispatch wrote the marker.
	MarkerSent MarkerStatus = "sent"
)

// Marker is the persisted proof that a dispatch for a key happened (sent) or
// is in flight (reserved).
type Marker struct {
	Key       string       `json:"key"`
	Status    MarkerStatus `json:"status"`
	RunID     string       `json:"run_id"`
	WrittenAt string       `json:"written_at" format:"date-time"`
}

// Run is the top-level unit of execution.
type Run struct {
	RunID       string      `json:"run_id"`
	Mode        Mode        `json:"mode"`
	AsOfDate    string      `json:"as_of_date"`
	Disposition Disposition `json:"disposition"`
	StartedAt   string      `json:"started_at" format:"date-time"`
	FinishedAt  string      `json:"finished_at,omitempty" format:"date-time"`
	Summary     RunSummary  `json:"summary"`
}

// RunSummary counts record outcomes. TotalCandidates always equals
// Sent + SkippedIdempotent + SkippedOther + Failed.
type RunSummary struct {
	TotalCandidates   int `json:"total_candidates"`
	Sent              int `json:"sent"`
	SkippedIdempotent int `json:"skipped_idempotent"`
	SkippedOther      int `json:"skipped_other"`
	Failed            int `json:"failed"`
}

// Consistent reports whether the counts invariant holds.
func (s RunSummary) Consistent() bool {
	return s.TotalCandidates == s.Sent+s.SkippedIdempotent+s.SkippedOther+s.Failed
}
