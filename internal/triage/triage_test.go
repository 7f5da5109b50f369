package triage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acornsend/internal/domain"
	"acornsend/internal/triage"
)

func finding(s domain.Severity) domain.Finding {
	return domain.Finding{Severity: s, Category: triage.CategoryRun, Message: s.String()}
}

func TestDisposition(t *testing.T) {
	tests := []struct {
		name       string
		mode       domain.Mode
		severities []domain.Severity
		want       domain.Disposition
	}{
		{name: "dry run no findings", mode: domain.ModeDryRun, want: domain.DispositionReviewOK},
		{name: "confirm send no findings", mode: domain.ModeConfirmSend, want: domain.DispositionSuccess},
		{name: "info only dry run", mode: domain.ModeDryRun,
			severities: []domain.Severity{domain.SeverityInfo, domain.SeverityInfo},
			want:       domain.DispositionReviewOK},
		{name: "medium stays clean", mode: domain.ModeConfirmSend,
			severities: []domain.Severity{domain.SeverityLow, domain.SeverityMedium},
			want:       domain.DispositionSuccess},
		{name: "high demands review", mode: domain.ModeDryRun,
			severities: []domain.Severity{domain.SeverityInfo, domain.SeverityHigh},
			want:       domain.DispositionReviewRequired},
		{name: "high demands review in confirm send", mode: domain.ModeConfirmSend,
			severities: []domain.Severity{domain.SeverityHigh},
			want:       domain.DispositionReviewRequired},
		{name: "critical blocks", mode: domain.ModeDryRun,
			severities: []domain.Severity{domain.SeverityCritical},
			want:       domain.DispositionBlocked},
		{name: "critical outranks high", mode: domain.ModeConfirmSend,
			severities: []domain.Severity{domain.SeverityHigh, domain.SeverityCritical, domain.SeverityLow},
			want:       domain.DispositionBlocked},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var findings []domain.Finding
			for _, s := range tc.severities {
				findings = append(findings, finding(s))
			}
			assert.Equal(t, tc.want, triage.Disposition(tc.mode, findings))
		})
	}
}

// Adding a finding can only hold or worsen the disposition, never improve it.
func TestDispositionMonotonic(t *testing.T) {
	rank := map[domain.Disposition]int{
		domain.DispositionSuccess:        0,
		domain.DispositionReviewOK:       0,
		domain.DispositionReviewRequired: 1,
		domain.DispositionBlocked:        2,
	}
	severities := []domain.Severity{
		domain.SeverityInfo, domain.SeverityLow, domain.SeverityMedium,
		domain.SeverityHigh, domain.SeverityCritical,
	}

	var findings []domain.Finding
	prev := triage.Disposition(domain.ModeDryRun, findings)
	for _, s := range severities {
		findings = append(findings, finding(s))
		got := triage.Disposition(domain.ModeDryRun, findings)
		assert.GreaterOrEqual(t, rank[got], rank[prev], "severity %s weakened disposition", s)
		prev = got
	}
	assert.Equal(t, domain.DispositionBlocked, prev)
}

func TestSeverityOrderAndNames(t *testing.T) {
	assert.True(t, domain.SeverityInfo < domain.SeverityLow)
	assert.True(t, domain.SeverityLow < domain.SeverityMedium)
	assert.True(t, domain.SeverityMedium < domain.SeverityHigh)
	assert.True(t, domain.SeverityHigh < domain.SeverityCritical)

	assert.Equal(t, "Info", domain.SeverityInfo.String())
	assert.Equal(t, "Critical", domain.SeverityCritical.String())
}

func TestClassifyOrdersFindings(t *testing.T) {
	valid := true
	report := triage.Classify(triage.Context{
		RunID:        "run-1",
		Mode:         domain.ModeDryRun,
		SourceAccess: "browser-automation",
		SessionValid: &valid,
		MappingGaps:  []string{"a1b2c3d4e5f6"},
		Summary:      domain.RunSummary{TotalCandidates: 2, Sent: 1, SkippedOther: 1},
		RecordFindings: []domain.Finding{
			{Severity: domain.SeverityHigh, Category: triage.CategoryNormalization, Message: "normalization failed"},
		},
	})

	require.Len(t, report.Findings, 4)
	assert.Equal(t, triage.CategorySession, report.Findings[0].Category)
	assert.Equal(t, domain.SeverityMedium, report.Findings[1].Severity)
	assert.Equal(t, domain.SeverityHigh, report.Findings[2].Severity)
	assert.Equal(t, triage.CategoryCounts, report.Findings[3].Category)
	assert.Contains(t, report.Findings[3].Message, "candidates=2")

	assert.Equal(t, domain.DispositionReviewRequired, report.Disposition)
	assert.Contains(t, report.Recommendation, "Review High findings")
}

func TestClassifyInvalidSessionBlocks(t *testing.T) {
	invalid := false
	report := triage.Classify(triage.Context{
		RunID:        "run-1",
		Mode:         domain.ModeConfirmSend,
		SessionValid: &invalid,
	})
	assert.Equal(t, domain.DispositionBlocked, report.Disposition)
	assert.Contains(t, report.Recommendation, "blocked")
}

func TestClassifyWithoutProbeSkipsSessionFinding(t *testing.T) {
	report := triage.Classify(triage.Context{RunID: "run-1", Mode: domain.ModeDryRun})
	require.Len(t, report.Findings, 1)
	assert.Equal(t, triage.CategoryCounts, report.Findings[0].Category)
	assert.Equal(t, domain.DispositionReviewOK, report.Disposition)
}
