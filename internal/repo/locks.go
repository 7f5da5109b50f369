package repo

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// AcquireRunLock takes the coarse per-date lock guarding confirm-send runs.
// Two confirm-send invocations for the same date must never interleave on
// the same idempotency keys; dry-runs take no lock.
func (r Repo) AcquireRunLock(ctx context.Context, asOfDate, runID, now string) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO run_locks(as_of_date,run_id,acquired_at) VALUES (?,?,?) ON CONFLICT(as_of_date) DO NOTHING`,
		asOfDate, runID, now)
	if err != nil {
		return errors.Wrap(err, "acquire run lock", j.KV("as_of_date", asOfDate))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var holder string
		if err := r.DB.QueryRowContext(ctx,
			`SELECT run_id FROM run_locks WHERE as_of_date=?`, asOfDate).Scan(&holder); err != nil {
			return errors.Wrap(err, "read run lock holder", j.KV("as_of_date", asOfDate))
		}
		return errors.Wrap(ErrLockHeld, "", j.MKV{"as_of_date": asOfDate, "holder_run_id": holder})
	}
	return nil
}

// ReleaseRunLock releases the lock if this run holds it.
func (r Repo) ReleaseRunLock(ctx context.Context, asOfDate, runID string) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM run_locks WHERE as_of_date=? AND run_id=?`, asOfDate, runID)
	if err != nil {
		return errors.Wrap(err, "release run lock", j.KV("as_of_date", asOfDate))
	}
	return nil
}
