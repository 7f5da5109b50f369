// Package artifact serializes a run's summary and triage report to disk.
// Format only; all decisions happen upstream.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"acornsend/internal/domain"
)

// Writer renders the two per-run documents. Summary and triage templates may
// contain {date}, {mode} and {timestamp} placeholders; when empty, default
// names under Root are used.
type Writer struct {
	Root            string
	SummaryTemplate string
	TriageTemplate  string
	Now             func() time.Time
}

// Summary is the structured per-run document.
type Summary struct {
	RunID  string `json:"run_id"`
	Mode   string `json:"mode"`
	Source struct {
		System       string `json:"system"`
		AccessMethod string `json:"access_method"`
	} `json:"source"`
	AsOfDate    string            `json:"as_of_date"`
	Totals      domain.RunSummary `json:"totals"`
	Idempotency struct {
		StorePath      string `json:"store_path"`
		NewKeysWritten int    `json:"new_keys_written"`
	} `json:"idempotency"`
	Notes []string `json:"notes"`
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w Writer) renderPath(template, defaultName, date string, mode domain.Mode) string {
	if template == "" {
		return filepath.Join(w.Root, defaultName)
	}
	r := strings.NewReplacer(
		"{date}", date,
		"{mode}", strings.ReplaceAll(string(mode), "-", "_"),
		"{timestamp}", w.now().UTC().Format("20060102T150405Z"),
	)
	return r.Replace(template)
}

// SummaryPath returns where the summary document for a run lands.
func (w Writer) SummaryPath(date string, mode domain.Mode) string {
	name := fmt.Sprintf("summary_%s_%s.json", date, strings.ReplaceAll(string(mode), "-", "_"))
	return w.renderPath(w.SummaryTemplate, name, date, mode)
}

// TriagePath returns where the triage document for a run lands.
func (w Writer) TriagePath(date string, mode domain.Mode) string {
	name := fmt.Sprintf("triage_%s_%s.md", date, strings.ReplaceAll(string(mode), "-", "_"))
	return w.renderPath(w.TriageTemplate, name, date, mode)
}

// WriteSummary writes the structured summary JSON and returns its path.
func (w Writer) WriteSummary(run domain.Run, report domain.TriageReport, storePath string, newKeys int) (string, error) {
	s := Summary{
		RunID:    run.RunID,
		Mode:     string(run.Mode),
		AsOfDate: run.AsOfDate,
		Totals:   run.Summary,
	}
	s.Source.System = "acorn"
	s.Source.AccessMethod = "browser-automation"
	s.Idempotency.StorePath = storePath
	s.Idempotency.NewKeysWritten = newKeys
	for _, f := range report.Findings {
		s.Notes = append(s.Notes, fmt.Sprintf("%s - %s", f.Severity, f.Message))
	}

	path := w.SummaryPath(run.AsOfDate, run.Mode)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeFile(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// WriteTriage writes the human-readable triage markdown and returns its path.
func (w Writer) WriteTriage(run domain.Run, report domain.TriageReport) (string, error) {
	title := "Dry Run"
	if run.Mode == domain.ModeConfirmSend {
		title = "Confirm Send"
	}
	lines := []string{
		fmt.Sprintf("# Triage Report - %s", title),
		"",
		fmt.Sprintf("- **Run ID:** `%s`", report.RunID),
		fmt.Sprintf("- **Mode:** `%s`", report.Mode),
		fmt.Sprintf("- **Source Access:** `%s`", report.SourceAccess),
		fmt.Sprintf("- **Disposition:** `%s`", report.Disposition),
		"",
		"## Findings",
	}
	if len(report.Findings) == 0 {
		lines = append(lines, "1. **Info** - No findings.")
	}
	for i, f := range report.Findings {
		lines = append(lines, fmt.Sprintf("%d. **%s** - %s", i+1, f.Severity, f.Message))
	}
	lines = append(lines, "", fmt.Sprintf("**Recommendation:** %s", report.Recommendation))

	path := w.TriagePath(run.AsOfDate, run.Mode)
	if err := writeFile(path, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
		return "", err
	}
	return path, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
