// Package repo is the sqlite persistence layer: idempotency markers, run
// history, and per-date run locks.
package repo

import (
	"context"
	"database/sql"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found", j.C("ERR_a41c6f2d8be09311"))

	// ErrAlreadySent means the key has a confirmed sent marker.
	ErrAlreadySent = errors.New("idempotency key already sent", j.C("ERR_0f77b2ac914dd6e2"))

	// ErrKeyReserved means another run holds a live reservation for the key.
	ErrKeyReserved = errors.New("idempotency key reserved by another run", j.C("ERR_3db19c04e7f58a21"))

	// ErrLockHeld means a confirm-send run already holds the date's run lock.
	ErrLockHeld = errors.New("run lock held for date", j.C("ERR_91e2d75b30cafd48"))
)

// Healthcheck verifies the database is reachable and migrated.
func (r Repo) Healthcheck(ctx context.Context) error {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM markers LIMIT 1`).Scan(&one)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "marker store healthcheck")
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
