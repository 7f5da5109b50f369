package artifact_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acornsend/internal/artifact"
	"acornsend/internal/domain"
)

func testRun() (domain.Run, domain.TriageReport) {
	run := domain.Run{
		RunID:    "20260213T080000Z_dryrun_a1b2c3d4",
		Mode:     domain.ModeDryRun,
		AsOfDate: "2026-02-13",
		Summary:  domain.RunSummary{TotalCandidates: 3, Sent: 2, SkippedIdempotent: 1},
	}
	report := domain.TriageReport{
		RunID:        run.RunID,
		Mode:         run.Mode,
		SourceAccess: "browser-automation",
		Disposition:  domain.DispositionReviewOK,
		Findings: []domain.Finding{
			{Severity: domain.SeverityInfo, Category: "dispatch", Message: "would send"},
			{Severity: domain.SeverityLow, Category: "dedupe", Message: "already sent, skipped"},
		},
		Recommendation: "Dry-run clean. Re-run with --confirm-send to dispatch.",
	}
	return run, report
}

func TestWriteSummary(t *testing.T) {
	root := t.TempDir()
	w := artifact.Writer{Root: root}
	run, report := testRun()

	path, err := w.WriteSummary(run, report, "/tmp/ws/.acornsend/acornsend.db", 2)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "summary_2026-02-13_dry_run.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got artifact.Summary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, "dry-run", got.Mode)
	assert.Equal(t, "acorn", got.Source.System)
	assert.Equal(t, "browser-automation", got.Source.AccessMethod)
	assert.Equal(t, run.Summary, got.Totals)
	assert.Equal(t, 2, got.Idempotency.NewKeysWritten)
	require.Len(t, got.Notes, 2)
	assert.Equal(t, "Info - would send", got.Notes[0])
}

func TestWriteTriage(t *testing.T) {
	root := t.TempDir()
	w := artifact.Writer{Root: root}
	run, report := testRun()

	path, err := w.WriteTriage(run, report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "triage_2026-02-13_dry_run.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "# Triage Report - Dry Run")
	assert.Contains(t, body, "- **Disposition:** `REVIEW_OK`")
	assert.Contains(t, body, "1. **Info** - would send")
	assert.Contains(t, body, "2. **Low** - already sent, skipped")
	assert.Contains(t, body, "**Recommendation:** Dry-run clean.")
}

func TestWriteTriageConfirmSendTitle(t *testing.T) {
	w := artifact.Writer{Root: t.TempDir()}
	run, report := testRun()
	run.Mode = domain.ModeConfirmSend
	report.Findings = nil

	path, err := w.WriteTriage(run, report)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Triage Report - Confirm Send")
	assert.Contains(t, string(data), "1. **Info** - No findings.")
}

func TestPathTemplates(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 2, 13, 8, 0, 0, 0, time.UTC)
	w := artifact.Writer{
		Root:            root,
		SummaryTemplate: filepath.Join(root, "{date}", "{mode}", "summary_{timestamp}.json"),
		Now:             func() time.Time { return now },
	}

	got := w.SummaryPath("2026-02-13", domain.ModeConfirmSend)
	assert.Equal(t, filepath.Join(root, "2026-02-13", "confirm_send", "summary_20260213T080000Z.json"), got)

	// Parent directories are created on write.
	run, report := testRun()
	run.Mode = domain.ModeConfirmSend
	path, err := w.WriteSummary(run, report, "store", 0)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}
