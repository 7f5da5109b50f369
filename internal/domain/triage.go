package domain

// Severity grades one triage finding. Values are ordered: a higher value
// always dominates a lower one when deriving the run disposition.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "Critical"
	case SeverityHigh:
		return "High"
	case SeverityMedium:
		return "Medium"
	case SeverityLow:
		return "Low"
	default:
		return "Info"
	}
}

// Finding is one triage observation.
type Finding struct {
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Message  string   `json:"message"`
	RecordID string   `json:"record_id,omitempty"`
}

// Disposition classifies the overall outcome of a run. It is derived from
// the finding set, never set directly.
type Disposition string

const (
	DispositionBlocked        Disposition = "BLOCKED"
	DispositionReviewRequired Disposition = "REVIEW_REQUIRED"
	DispositionReviewOK       Disposition = "REVIEW_OK"
	DispositionSuccess        Disposition = "SUCCESS"
)

// TriageReport aggregates a run's findings. It is created once per run and
// immutable after the run completes.
type TriageReport struct {
	RunID          string      `json:"run_id"`
	Mode           Mode        `json:"mode"`
	SourceAccess   string      `json:"source_access"`
	Disposition    Disposition `json:"disposition"`
	Findings       []Finding   `json:"findings"`
	Recommendation string      `json:"recommendation"`
}
