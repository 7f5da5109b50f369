package repo

import (
	"context"
	"database/sql"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"acornsend/internal/domain"
)

// InsertRun records a run at start, before any per-record work.
func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO runs(run_id,mode,as_of_date,disposition,started_at) VALUES (?,?,?,?,?)`,
		run.RunID, run.Mode, run.AsOfDate, nullable(string(run.Disposition)), run.StartedAt)
	if err != nil {
		return errors.Wrap(err, "insert run", j.KV("run_id", run.RunID))
	}
	return nil
}

// CompleteRun stores the terminal disposition and summary counts.
func (r Repo) CompleteRun(ctx context.Context, run domain.Run) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE runs SET disposition=?, finished_at=?, total_candidates=?, sent=?, skipped_idempotent=?, skipped_other=?, failed=? WHERE run_id=?`,
		string(run.Disposition), run.FinishedAt,
		run.Summary.TotalCandidates, run.Summary.Sent, run.Summary.SkippedIdempotent,
		run.Summary.SkippedOther, run.Summary.Failed, run.RunID)
	if err != nil {
		return errors.Wrap(err, "complete run", j.KV("run_id", run.RunID))
	}
	return nil
}

func scanRun(scan func(dest ...any) error) (domain.Run, error) {
	var run domain.Run
	var disposition, finished sql.NullString
	err := scan(&run.RunID, &run.Mode, &run.AsOfDate, &disposition, &run.StartedAt, &finished,
		&run.Summary.TotalCandidates, &run.Summary.Sent, &run.Summary.SkippedIdempotent,
		&run.Summary.SkippedOther, &run.Summary.Failed)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.Disposition = domain.Disposition(disposition.String)
	run.FinishedAt = finished.String
	return run, nil
}

const runColumns = `run_id,mode,as_of_date,disposition,started_at,finished_at,total_candidates,sent,skipped_idempotent,skipped_other,failed`

// GetRun returns one run by id.
func (r Repo) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID)
	return scanRun(row.Scan)
}

// ListRuns returns the most recent runs, newest first.
func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}
