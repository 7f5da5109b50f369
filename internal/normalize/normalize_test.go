package normalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acornsend/internal/domain"
	"acornsend/internal/normalize"
)

func TestClientID(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{name: "plain", parts: []string{"Ada", "Lovelace"}, want: "adalovelace"},
		{name: "hyphenated", parts: []string{"Mary", "Smith-Jones"}, want: "marysmithjones"},
		{name: "apostrophe", parts: []string{"Conor", "O'Brien"}, want: "conorobrien"},
		{name: "internal spaces", parts: []string{"Anne Marie", "Clark"}, want: "annemarieclark"},
		{name: "digits kept", parts: []string{"John", "Doe2"}, want: "johndoe2"},
		{name: "case folded", parts: []string{"ADA", "LOVELACE"}, want: "adalovelace"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalize.ClientID(tc.parts))
		})
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "+15551234567", want: "+15551234567", ok: true},
		{in: "5551234567", want: "+15551234567", ok: true},
		{in: "(555) 123-4567", want: "+15551234567", ok: true},
		{in: "555.123.4567", want: "+15551234567", ok: true},
		{in: "15551234567", want: "+15551234567", ok: true},
		{in: "+44 20 7946 0958", want: "+442079460958", ok: true},
		{in: " +15551234567 ", want: "+15551234567", ok: true},
		{in: "", ok: false},
		{in: "123", ok: false},
		{in: "+0555123456", ok: false},
		{in: "not a phone", ok: false},
		{in: "12345678901234567890", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := normalize.Phone(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestRecipientTokenIsStableAndShort(t *testing.T) {
	tok := normalize.RecipientToken("salt", "Ada Lovelace", "+15551234567")
	assert.Len(t, tok, 12)
	assert.Equal(t, tok, normalize.RecipientToken("salt", "Ada Lovelace", "+15551234567"))
	assert.NotEqual(t, tok, normalize.RecipientToken("other", "Ada Lovelace", "+15551234567"))
	assert.NotEqual(t, tok, normalize.RecipientToken("salt", "Ada Lovelace", "+15559876543"))
	assert.NotContains(t, tok, "Ada")
}

func newNormalizer() normalize.Normalizer {
	return normalize.Normalizer{
		Salt:      "salt",
		Message:   "Please complete today's form.",
		FormValue: "14",
		SendVia:   "text",
		TextFrom:  "clinic-main",
	}
}

func TestRecord(t *testing.T) {
	n := newNormalizer()

	rec, err := n.Record(domain.RawRecipient{FullName: "Ada Lovelace", Phone: "555-123-4567"}, "2026-02-13")
	require.NoError(t, err)
	assert.Equal(t, "adalovelace", rec.RecordID)
	assert.Equal(t, "2026-02-13", rec.AsOfDate)
	assert.Equal(t, "+15551234567", rec.Payload.Phone)
	assert.Equal(t, "14", rec.Payload.FormValue)
	assert.Equal(t, "acorn:2026-02-13:adalovelace:v14", rec.Key())

	// Middle names never affect the id.
	rec2, err := n.Record(domain.RawRecipient{FullName: "Ada Byron Lovelace", Phone: "555-123-4567"}, "2026-02-13")
	require.NoError(t, err)
	assert.Equal(t, rec.RecordID, rec2.RecordID)
}

func TestRecordFailures(t *testing.T) {
	n := newNormalizer()

	_, err := n.Record(domain.RawRecipient{FullName: "Cher", Phone: "555-123-4567"}, "2026-02-13")
	require.ErrorIs(t, err, normalize.ErrMissingNameParts)

	_, err = n.Record(domain.RawRecipient{FullName: "Ada Lovelace", Phone: "nope"}, "2026-02-13")
	require.ErrorIs(t, err, normalize.ErrInvalidPhone)
}
