// Package extract is the boundary to the source system. The browser
// automation that scrapes SimplePractice lives outside this repo; in-tree
// sources read a recipients file or inline CLI values, which is also what
// the tests use.
package extract

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"acornsend/internal/domain"
)

var (
	// ErrAuthExpired means the source session is no longer authenticated.
	ErrAuthExpired = errors.New("source session authentication expired", j.C("ERR_7f3a90d1c2e845bb"))

	// ErrSourceUnavailable means the source system could not be reached.
	ErrSourceUnavailable = errors.New("source system unavailable", j.C("ERR_c815f2073da96e40"))

	// ErrEmptyResult means extraction succeeded but produced no candidates.
	ErrEmptyResult = errors.New("extraction returned no candidates", j.C("ERR_229e6cb8f41d075a"))
)

// Extractor produces the raw candidate set for a business date.
type Extractor interface {
	Extract(ctx context.Context, asOfDate string) ([]domain.RawRecipient, error)
}

// FileSource reads recipients from inline CLI values or a JSON file. Inline
// values win when present.
type FileSource struct {
	Path   string
	Inline []string
}

func (s FileSource) Extract(ctx context.Context, asOfDate string) ([]domain.RawRecipient, error) {
	if len(s.Inline) > 0 {
		var res []domain.RawRecipient
		for _, item := range s.Inline {
			r, err := ParseInline(item)
			if err != nil {
				return nil, err
			}
			res = append(res, r)
		}
		return res, nil
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrEmptyResult, "recipients file missing", j.KV("path", s.Path))
		}
		return nil, errors.Wrap(ErrSourceUnavailable, err.Error(), j.KV("path", s.Path))
	}

	var raw []domain.RawRecipient
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(ErrSourceUnavailable, "recipients file is not a JSON list", j.KV("path", s.Path))
	}

	var res []domain.RawRecipient
	for _, item := range raw {
		if strings.TrimSpace(item.FullName) == "" || strings.TrimSpace(item.Phone) == "" {
			continue
		}
		res = append(res, domain.RawRecipient{
			FullName: strings.TrimSpace(item.FullName),
			Phone:    strings.TrimSpace(item.Phone),
		})
	}
	if len(res) == 0 {
		return nil, errors.Wrap(ErrEmptyResult, "", j.KV("path", s.Path))
	}
	return res, nil
}

// ParseInline parses the 'First Last|+15551234567' CLI format.
func ParseInline(value string) (domain.RawRecipient, error) {
	name, phone, ok := strings.Cut(value, "|")
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if !ok || name == "" || phone == "" {
		return domain.RawRecipient{}, errors.New("invalid inline recipient format, want 'First Last|+15551234567'",
			j.KV("value", value))
	}
	return domain.RawRecipient{FullName: name, Phone: phone}, nil
}
