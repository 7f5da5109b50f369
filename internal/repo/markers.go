package repo

import (
	"context"
	"database/sql"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"acornsend/internal/domain"
)

// LookupMarker reports whether the key has a confirmed sent marker. A live
// reservation does not count: only a finalized send answers true.
func (r Repo) LookupMarker(ctx context.Context, key string) (bool, error) {
	var status string
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM markers WHERE key=?`, key).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "lookup marker", j.KV("key", key))
	}
	return domain.MarkerStatus(status) == domain.MarkerSent, nil
}

// GetMarker returns the marker row for a key.
func (r Repo) GetMarker(ctx context.Context, key string) (domain.Marker, error) {
	var m domain.Marker
	err := r.DB.QueryRowContext(ctx,
		`SELECT key,status,run_id,written_at FROM markers WHERE key=?`, key).
		Scan(&m.Key, &m.Status, &m.RunID, &m.WrittenAt)
	if err == sql.ErrNoRows {
		return domain.Marker{}, ErrNotFound
	}
	if err != nil {
		return domain.Marker{}, errors.Wrap(err, "get marker", j.KV("key", key))
	}
	return m, nil
}

// ReserveKey atomically claims a key for dispatch. A key with a sent marker
// returns ErrAlreadySent; a key reserved by a different run returns
// ErrKeyReserved. Re-reserving under the same run is a no-op so a retry
// within one run cannot double-claim.
func (r Repo) ReserveKey(ctx context.Context, key, runID, now string) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO markers(key,status,run_id,written_at) VALUES (?,?,?,?) ON CONFLICT(key) DO NOTHING`,
		key, domain.MarkerReserved, runID, now)
	if err != nil {
		return errors.Wrap(err, "reserve key", j.KV("key", key))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reserve key rows", j.KV("key", key))
	}
	if n > 0 {
		return nil
	}

	existing, err := r.GetMarker(ctx, key)
	if err != nil {
		return err
	}
	if existing.Status == domain.MarkerSent {
		return errors.Wrap(ErrAlreadySent, "", j.KV("key", key))
	}
	if existing.RunID == runID {
		return nil
	}
	return errors.Wrap(ErrKeyReserved, "", j.MKV{"key": key, "holder_run_id": existing.RunID})
}

// FinalizeKey promotes a reservation to a sent marker after a confirmed
// outbound success. Finalizing an already-sent key is a no-op, not an error,
// so a crash-retry within the same run cannot fail here.
func (r Repo) FinalizeKey(ctx context.Context, key, runID, now string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE markers SET status=?, run_id=?, written_at=? WHERE key=? AND (status=? OR run_id=?)`,
		domain.MarkerSent, runID, now, key, domain.MarkerSent, runID)
	if err != nil {
		return errors.Wrap(err, "finalize key", j.KV("key", key))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "finalize key rows", j.KV("key", key))
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, "finalize without reservation", j.KV("key", key))
	}
	return nil
}

// ReleaseKey drops this run's reservation after a failed dispatch so a later
// run can retry the key. Sent markers are never released.
func (r Repo) ReleaseKey(ctx context.Context, key, runID string) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM markers WHERE key=? AND run_id=? AND status=?`,
		key, runID, domain.MarkerReserved)
	if err != nil {
		return errors.Wrap(err, "release key", j.KV("key", key))
	}
	return nil
}

// ListMarkers returns all markers, newest first.
func (r Repo) ListMarkers(ctx context.Context) ([]domain.Marker, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT key,status,run_id,written_at FROM markers ORDER BY written_at DESC, key`)
	if err != nil {
		return nil, errors.Wrap(err, "list markers")
	}
	defer rows.Close()
	var res []domain.Marker
	for rows.Next() {
		var m domain.Marker
		if err := rows.Scan(&m.Key, &m.Status, &m.RunID, &m.WrittenAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
