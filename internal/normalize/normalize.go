// Package normalize turns raw extracted recipients into canonical records:
// a stable client id, an E.164 phone, and a redaction-safe recipient token.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"acornsend/internal/domain"
)

var (
	// ErrMissingNameParts means the full name has fewer than two parts, so no
	// stable client id can be derived.
	ErrMissingNameParts = errors.New("recipient name missing first/last parts", j.C("ERR_5c20aa97e13f04bd"))

	// ErrInvalidPhone means the phone could not be normalized to E.164.
	ErrInvalidPhone = errors.New("recipient phone is not a valid E.164 number", j.C("ERR_be8d33169a0c72f5"))
)

// Normalizer carries the destination constants stamped onto every payload.
type Normalizer struct {
	Salt        string
	Message     string
	FormValue   string
	SendVia     string
	TextFrom    string
	ClinicianID string
}

// ClientID builds a stable id from name parts: lowercased, spaces removed,
// everything outside [a-z0-9] stripped. Two extractions of the same person
// always produce the same id.
func ClientID(nameParts []string) string {
	merged := strings.ToLower(strings.Join(nameParts, ""))
	var b strings.Builder
	for _, r := range merged {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RecipientToken derives the short redaction-safe handle used for a
// recipient in logs and artifacts. Raw names and phones never appear there.
func RecipientToken(salt, fullName, phone string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", salt, fullName, phone)))
	return hex.EncodeToString(sum[:])[:12]
}

// Record normalizes one raw recipient for the given business date. Failures
// are per-record: the caller downgrades them to findings, never aborts.
func (n Normalizer) Record(raw domain.RawRecipient, asOfDate string) (domain.Record, error) {
	token := RecipientToken(n.Salt, raw.FullName, raw.Phone)

	parts := strings.Fields(strings.TrimSpace(raw.FullName))
	if len(parts) < 2 {
		return domain.Record{}, errors.Wrap(ErrMissingNameParts, "", j.KV("recipient_token", token))
	}

	phone, ok := Phone(raw.Phone)
	if !ok {
		return domain.Record{}, errors.Wrap(ErrInvalidPhone, "", j.KV("recipient_token", token))
	}

	clientID := ClientID([]string{parts[0], parts[len(parts)-1]})
	return domain.Record{
		RecordID:       clientID,
		RecipientToken: token,
		AsOfDate:       asOfDate,
		Payload: domain.SendPayload{
			ClientID:  clientID,
			Phone:     phone,
			Message:   n.Message,
			FormValue: n.FormValue,
			SendVia:   n.SendVia,
			TextFrom:  n.TextFrom,
		},
	}, nil
}
