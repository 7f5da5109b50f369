// Package dispatch runs the daily send workflow: extract, normalize, dedupe,
// conditionally send, mark, report. Dry-run must stay side-effect free;
// confirm-send must dispatch at most once per idempotency key even across
// crashes and overlapping invocations.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"k8s.io/utils/clock"

	"acornsend/internal/acorn"
	"acornsend/internal/artifact"
	"acornsend/internal/config"
	"acornsend/internal/domain"
	"acornsend/internal/events"
	"acornsend/internal/extract"
	"acornsend/internal/normalize"
	"acornsend/internal/repo"
	"acornsend/internal/triage"
)

var (
	// ErrInvalidRunConfig means the run cannot start: bad date or mode.
	ErrInvalidRunConfig = errors.New("invalid run configuration", j.C("ERR_63b7f1a8d90ce254"))

	// ErrMarkerWrite means a marker could not be written after a confirmed
	// send. The outbound action already happened, so this is fatal in
	// confirm-send: reporting "not sent" would risk a duplicate next run.
	ErrMarkerWrite = errors.New("marker write failed after confirmed send", j.C("ERR_e04d27c6f9315ab8"))
)

// Sender is the outbound destination client.
type Sender interface {
	Send(ctx context.Context, p domain.SendPayload) (acorn.Ack, error)
}

// SessionChecker reports source session freshness before a run.
type SessionChecker interface {
	Check() extract.ProbeResult
}

// RetryPolicy bounds dispatch retries for transient send failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the backoff before the next attempt, doubling per attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Engine sequences one run. Collaborators are injectable; tests swap the
// extractor, sender and clocks.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Artifacts artifact.Writer
	Extractor extract.Extractor
	Sender    Sender
	Probe     SessionChecker
	Retry     RetryPolicy
	Now       func() time.Time
	Clock     clock.Clock

	// StorePath is reported in summary artifacts so operators can find the
	// marker store backing a run.
	StorePath string
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Config: cfg,
		Artifacts: artifact.Writer{
			Root:            cfg.Artifacts.Root,
			SummaryTemplate: cfg.Artifacts.SummaryTemplate,
			TriageTemplate:  cfg.Artifacts.TriageTemplate,
		},
		Retry: RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay.Std(),
		},
		Now:   time.Now,
		Clock: clock.RealClock{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func buildRunID(mode domain.Mode, now time.Time) string {
	suffix := "dryrun"
	if mode == domain.ModeConfirmSend {
		suffix = "confirm"
	}
	return fmt.Sprintf("%s_%s_%s", now.UTC().Format("2006-01-02T15:04:05Z"), suffix, uuid.NewString()[:8])
}

// RunOptions parameterize one invocation. Mode is immutable for the run.
type RunOptions struct {
	AsOfDate string
	Mode     domain.Mode

	// Explicit artifact destinations; empty means config templates/defaults.
	SummaryPath string
	TriagePath  string
}

// RunResult is everything a completed (or failed) run produced.
type RunResult struct {
	Run         domain.Run
	Report      domain.TriageReport
	SummaryPath string
	TriagePath  string
}

// Run executes the workflow once. A non-nil error means the run is FAILED;
// a best-effort triage report is still emitted when any processing occurred.
// Per-record problems never surface as errors here, only as findings and
// summary counts.
func (e Engine) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	if _, err := time.Parse("2006-01-02", opts.AsOfDate); err != nil {
		return RunResult{}, errors.Wrap(ErrInvalidRunConfig, "as-of date must be YYYY-MM-DD",
			j.KV("as_of_date", opts.AsOfDate))
	}
	if !opts.Mode.Valid() {
		return RunResult{}, errors.Wrap(ErrInvalidRunConfig, "mode must be dry-run or confirm-send",
			j.KV("mode", string(opts.Mode)))
	}

	start := e.now()
	run := domain.Run{
		RunID:     buildRunID(opts.Mode, start),
		Mode:      opts.Mode,
		AsOfDate:  opts.AsOfDate,
		StartedAt: ts(start),
	}
	log.Info(ctx, "run started", j.MKV{
		"run_id": run.RunID, "mode": string(run.Mode), "as_of_date": run.AsOfDate,
	})

	if err := e.Repo.InsertRun(ctx, run); err != nil {
		return RunResult{}, err
	}
	e.appendEvent(ctx, "run.started", run.RunID, "", events.Payload{"mode": run.Mode, "as_of_date": run.AsOfDate})

	st := &runState{run: run}

	if run.Mode == domain.ModeConfirmSend {
		if err := e.Repo.AcquireRunLock(ctx, run.AsOfDate, run.RunID, ts(e.now())); err != nil {
			st.fail(triage.CategoryRun, "another confirm-send run holds the lock for this date", err)
			return e.finish(ctx, opts, st)
		}
		defer func() {
			if err := e.Repo.ReleaseRunLock(context.WithoutCancel(ctx), run.AsOfDate, run.RunID); err != nil {
				log.Error(ctx, errors.Wrap(err, "release run lock"))
			}
		}()
	}

	if e.Probe != nil {
		res := e.Probe.Check()
		st.sessionValid = &res.Valid
		if !res.Valid && run.Mode == domain.ModeConfirmSend {
			st.fail(triage.CategorySession, res.Reason, extract.ErrAuthExpired)
			return e.finish(ctx, opts, st)
		}
	}

	raws, err := e.Extractor.Extract(ctx, run.AsOfDate)
	switch {
	case errors.Is(err, extract.ErrEmptyResult):
		st.finding(domain.SeverityMedium, triage.CategoryExtraction, "extraction returned no candidates", "")
	case errors.Is(err, extract.ErrAuthExpired):
		st.fail(triage.CategoryExtraction, "source authentication expired; extraction aborted", err)
		return e.finish(ctx, opts, st)
	case err != nil:
		st.fail(triage.CategoryExtraction, "source extraction failed", err)
		return e.finish(ctx, opts, st)
	}

	normalizer := normalize.Normalizer{
		Salt:        e.Config.Privacy.Salt,
		Message:     e.Config.Send.Message,
		FormValue:   e.Config.Send.FormValue,
		SendVia:     e.Config.Send.SendVia,
		TextFrom:    e.Config.Send.TextFrom,
		ClinicianID: e.Config.Send.ClinicianID,
	}

	var records []domain.Record
	for _, raw := range raws {
		rec, err := normalizer.Record(raw, run.AsOfDate)
		if err != nil {
			st.run.Summary.TotalCandidates++
			st.run.Summary.SkippedOther++
			token := normalize.RecipientToken(e.Config.Privacy.Salt, raw.FullName, raw.Phone)
			st.finding(domain.SeverityHigh, triage.CategoryNormalization,
				fmt.Sprintf("recipient `%s` could not be normalized: %s", token, reason(err)), token)
			e.appendEvent(ctx, "record.skipped", run.RunID, token, events.Payload{"reason": reason(err)})
			continue
		}
		records = append(records, rec)
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			st.cancelled = true
			st.finding(domain.SeverityCritical, triage.CategoryRun,
				"run cancelled before all records were processed; summary is partial", "")
			break
		}
		// Cancellation is only acknowledged between records: a dispatch
		// attempt and its marker write always run to completion.
		e.processRecord(context.WithoutCancel(ctx), st, rec)
		if st.fatal != nil {
			break
		}
	}

	return e.finish(ctx, opts, st)
}

// processRecord takes one record through lookup, optional reserve/send/
// finalize, and counting. A record's failure never stops the loop; only a
// marker-store failure after a confirmed send is fatal.
func (e Engine) processRecord(ctx context.Context, st *runState, rec domain.Record) {
	key := rec.Key()
	st.run.Summary.TotalCandidates++

	sent, err := e.Repo.LookupMarker(ctx, key)
	if err != nil {
		st.run.Summary.Failed++
		st.finding(domain.SeverityHigh, triage.CategoryStore,
			fmt.Sprintf("recipient `%s` marker lookup failed", rec.RecipientToken), rec.RecipientToken)
		return
	}
	if sent {
		st.run.Summary.SkippedIdempotent++
		st.finding(domain.SeverityLow, triage.CategoryDedupe,
			fmt.Sprintf("recipient `%s` skipped by idempotency dedupe", rec.RecipientToken), rec.RecipientToken)
		e.appendEvent(ctx, "record.skipped_idempotent", st.run.RunID, rec.RecipientToken, events.Payload{"key": key})
		return
	}

	if st.run.Mode == domain.ModeDryRun {
		st.run.Summary.Sent++
		st.finding(domain.SeverityInfo, triage.CategoryDispatch,
			fmt.Sprintf("would send to recipient `%s`", rec.RecipientToken), rec.RecipientToken)
		e.appendEvent(ctx, "record.would_send", st.run.RunID, rec.RecipientToken, events.Payload{"key": key})
		return
	}

	now := ts(e.now())
	err = e.Repo.ReserveKey(ctx, key, st.run.RunID, now)
	switch {
	case errors.Is(err, repo.ErrAlreadySent):
		st.run.Summary.SkippedIdempotent++
		st.finding(domain.SeverityLow, triage.CategoryDedupe,
			fmt.Sprintf("recipient `%s` skipped by idempotency dedupe", rec.RecipientToken), rec.RecipientToken)
		return
	case errors.Is(err, repo.ErrKeyReserved):
		st.run.Summary.SkippedOther++
		st.finding(domain.SeverityHigh, triage.CategoryStore,
			fmt.Sprintf("recipient `%s` has an unresolved reservation from an earlier run; resolve before resending", rec.RecipientToken),
			rec.RecipientToken)
		return
	case err != nil:
		st.run.Summary.Failed++
		st.finding(domain.SeverityHigh, triage.CategoryStore,
			fmt.Sprintf("recipient `%s` key reservation failed", rec.RecipientToken), rec.RecipientToken)
		return
	}

	ack, err := e.sendWithRetry(ctx, rec)
	if err != nil {
		if relErr := e.Repo.ReleaseKey(ctx, key, st.run.RunID); relErr != nil {
			log.Error(ctx, errors.Wrap(relErr, "release after failed send", j.KV("key", key)))
		}
		st.run.Summary.Failed++
		sev := domain.SeverityHigh
		if !errors.Is(err, acorn.ErrTransient) && !errors.Is(err, acorn.ErrRejected) {
			// Unclassified sender failure could leave destination state unknown.
			sev = domain.SeverityCritical
		}
		st.finding(sev, triage.CategoryDispatch,
			fmt.Sprintf("send failed for recipient `%s`: %s", rec.RecipientToken, reason(err)), rec.RecipientToken)
		e.appendEvent(ctx, "record.failed", st.run.RunID, rec.RecipientToken, events.Payload{"key": key, "reason": reason(err)})
		return
	}

	if err := e.Repo.FinalizeKey(ctx, key, st.run.RunID, ts(e.now())); err != nil {
		// The send already happened. Count it, then abort the run hard.
		st.run.Summary.Sent++
		st.newKeys++
		st.fail(triage.CategoryStore,
			fmt.Sprintf("marker write failed for recipient `%s` after a confirmed send; do not re-run confirm-send without investigating", rec.RecipientToken),
			errors.Wrap(ErrMarkerWrite, reason(err), j.KV("key", key)))
		return
	}

	st.run.Summary.Sent++
	st.newKeys++
	st.finding(domain.SeverityInfo, triage.CategoryDispatch,
		fmt.Sprintf("sent successfully to recipient `%s`", rec.RecipientToken), rec.RecipientToken)
	e.appendEvent(ctx, "record.sent", st.run.RunID, rec.RecipientToken,
		events.Payload{"key": key, "confirmation_id": ack.ConfirmationID})
	log.Info(ctx, "record sent", j.MKV{
		"run_id": st.run.RunID, "recipient_token": rec.RecipientToken, "key": key,
	})
}

// sendWithRetry applies the engine's bounded backoff policy. Only transient
// failures are retried; rejection fails immediately.
func (e Engine) sendWithRetry(ctx context.Context, rec domain.Record) (acorn.Ack, error) {
	var lastErr error
	for attempt := 1; attempt <= e.Retry.MaxAttempts; attempt++ {
		ack, err := e.Sender.Send(ctx, rec.Payload)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		if !errors.Is(err, acorn.ErrTransient) {
			return acorn.Ack{}, err
		}
		if attempt == e.Retry.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, e.Retry.Delay(attempt)); err != nil {
			return acorn.Ack{}, lastErr
		}
	}
	return acorn.Ack{}, lastErr
}

func (e Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	c := e.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	t := c.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// finish classifies, persists the terminal run row, and emits artifacts.
// It runs for fatal paths too so the operator always gets a report when any
// processing occurred.
func (e Engine) finish(ctx context.Context, opts RunOptions, st *runState) (RunResult, error) {
	// Artifacts and terminal bookkeeping still run after cancellation.
	ctx = context.WithoutCancel(ctx)

	report := triage.Classify(triage.Context{
		RunID:          st.run.RunID,
		Mode:           st.run.Mode,
		SourceAccess:   "acorn/browser-automation",
		SessionValid:   st.sessionValid,
		Summary:        st.run.Summary,
		RecordFindings: st.findings,
	})
	st.run.Disposition = report.Disposition
	st.run.FinishedAt = ts(e.now())

	if err := e.Repo.CompleteRun(ctx, st.run); err != nil {
		log.Error(ctx, errors.Wrap(err, "complete run", j.KV("run_id", st.run.RunID)))
	}
	e.appendEvent(ctx, "run.finished", st.run.RunID, "", events.Payload{
		"disposition": report.Disposition,
		"sent":        st.run.Summary.Sent,
		"failed":      st.run.Summary.Failed,
		"cancelled":   st.cancelled,
	})

	w := e.Artifacts
	if opts.SummaryPath != "" {
		w.SummaryTemplate = opts.SummaryPath
	}
	if opts.TriagePath != "" {
		w.TriageTemplate = opts.TriagePath
	}
	if w.Now == nil {
		w.Now = e.Now
	}

	res := RunResult{Run: st.run, Report: report}
	var err error
	if res.SummaryPath, err = w.WriteSummary(st.run, report, e.storePath(), st.newKeys); err != nil {
		log.Error(ctx, errors.Wrap(err, "write summary artifact"))
	}
	if res.TriagePath, err = w.WriteTriage(st.run, report); err != nil {
		log.Error(ctx, errors.Wrap(err, "write triage artifact"))
	}

	log.Info(ctx, "run finished", j.MKV{
		"run_id":      st.run.RunID,
		"disposition": string(report.Disposition),
		"sent":        fmt.Sprint(st.run.Summary.Sent),
		"failed":      fmt.Sprint(st.run.Summary.Failed),
	})

	if st.fatal != nil {
		return res, st.fatal
	}
	return res, nil
}

func (e Engine) storePath() string {
	if e.StorePath != "" {
		return e.StorePath
	}
	return "sqlite:markers"
}

func (e Engine) appendEvent(ctx context.Context, evtType, runID, token string, payload events.Payload) {
	if err := e.Events.Append(ctx, evtType, runID, token, payload); err != nil {
		log.Error(ctx, errors.Wrap(err, "append event", j.KV("type", evtType)))
	}
}

// runState accumulates counts and findings over one run.
type runState struct {
	run          domain.Run
	findings     []domain.Finding
	sessionValid *bool
	newKeys      int
	cancelled    bool
	fatal        error
}

func (s *runState) finding(sev domain.Severity, category, msg, recordID string) {
	s.findings = append(s.findings, domain.Finding{
		Severity: sev, Category: category, Message: msg, RecordID: recordID,
	})
}

// fail records a fatal condition: a Critical finding plus the run error.
func (s *runState) fail(category, msg string, err error) {
	s.finding(domain.SeverityCritical, category, msg, "")
	s.fatal = err
}

// reason extracts a short human-readable cause for findings.
func reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
