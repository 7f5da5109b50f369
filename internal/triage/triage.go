// Package triage grades a run's observations into severity-ranked findings
// and derives the run disposition that gates promotion from dry-run to
// confirm-send.
package triage

import (
	"fmt"

	"acornsend/internal/domain"
)

// Finding categories.
const (
	CategorySession       = "session"
	CategoryExtraction    = "extraction"
	CategoryNormalization = "normalization"
	CategoryDedupe        = "dedupe"
	CategoryDispatch      = "dispatch"
	CategoryStore         = "store"
	CategoryRun           = "run"
	CategoryCounts        = "counts"
)

// Context is everything the classifier inspects: the orchestrator's counts
// and per-record findings plus pass-through signals from the collaborators.
type Context struct {
	RunID        string
	Mode         domain.Mode
	SourceAccess string

	// SessionValid is nil when no session probe ran.
	SessionValid *bool

	// MappingGaps lists recipients missing optional enrichment data.
	MappingGaps []string

	Summary        domain.RunSummary
	RecordFindings []domain.Finding
}

// Classify assembles the triage report for a run. Findings keep their
// insertion order: environment signals first, then per-record findings,
// then the operational count note.
func Classify(c Context) domain.TriageReport {
	findings := make([]domain.Finding, 0, len(c.RecordFindings)+len(c.MappingGaps)+2)

	if c.SessionValid != nil {
		if *c.SessionValid {
			findings = append(findings, domain.Finding{
				Severity: domain.SeverityInfo,
				Category: CategorySession,
				Message:  "source session valid",
			})
		} else {
			findings = append(findings, domain.Finding{
				Severity: domain.SeverityCritical,
				Category: CategorySession,
				Message:  "source session invalid or expired; extraction cannot be trusted",
			})
		}
	}

	for _, gap := range c.MappingGaps {
		findings = append(findings, domain.Finding{
			Severity: domain.SeverityMedium,
			Category: CategoryNormalization,
			Message:  fmt.Sprintf("recipient `%s` missing optional mapping data; still dispatchable", gap),
			RecordID: gap,
		})
	}

	findings = append(findings, c.RecordFindings...)

	findings = append(findings, domain.Finding{
		Severity: domain.SeverityInfo,
		Category: CategoryCounts,
		Message: fmt.Sprintf("candidates=%d sent=%d skipped_idempotent=%d skipped_other=%d failed=%d",
			c.Summary.TotalCandidates, c.Summary.Sent, c.Summary.SkippedIdempotent,
			c.Summary.SkippedOther, c.Summary.Failed),
	})

	disposition := Disposition(c.Mode, findings)
	return domain.TriageReport{
		RunID:          c.RunID,
		Mode:           c.Mode,
		SourceAccess:   c.SourceAccess,
		Disposition:    disposition,
		Findings:       findings,
		Recommendation: Recommendation(disposition, c.Mode),
	}
}

// Disposition derives the run outcome from the finding set. It is total over
// the ordered severity enum: any Critical blocks, any High without a
// Critical demands review, anything else is clean for the mode.
func Disposition(mode domain.Mode, findings []domain.Finding) domain.Disposition {
	max := domain.SeverityInfo
	for _, f := range findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	switch {
	case max >= domain.SeverityCritical:
		return domain.DispositionBlocked
	case max >= domain.SeverityHigh:
		return domain.DispositionReviewRequired
	case mode == domain.ModeConfirmSend:
		return domain.DispositionSuccess
	default:
		return domain.DispositionReviewOK
	}
}

// Recommendation renders the advisory line for the report. It never affects
// control flow; promotion to confirm-send is always a separate invocation.
func Recommendation(d domain.Disposition, mode domain.Mode) string {
	switch d {
	case domain.DispositionBlocked:
		return "Run blocked by a Critical finding. Investigate before attempting confirm-send again."
	case domain.DispositionReviewRequired:
		return "One or more records need attention. Review High findings before promoting to confirm-send."
	case domain.DispositionReviewOK:
		return "Dry-run clean. Re-run with --confirm-send to dispatch."
	default:
		return "Confirm-send completed cleanly. No action required."
	}
}
