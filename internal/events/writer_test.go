package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acornsend/internal/db"
	"acornsend/internal/events"
	"acornsend/internal/migrate"
)

func TestAppendAndListForRun(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	w := events.Writer{
		DB:  conn,
		Now: func() time.Time { return time.Date(2026, 2, 13, 8, 0, 0, 0, time.UTC) },
	}
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, "run.started", "run-1", "", events.Payload{"mode": "dry-run"}))
	require.NoError(t, w.Append(ctx, "record.sent", "run-1", "a1b2c3d4e5f6", events.Payload{"key": "k1"}))
	require.NoError(t, w.Append(ctx, "run.started", "run-2", "", nil))

	payloads, err := w.ListForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, payloads, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(payloads[0]), &first))
	assert.Equal(t, "dry-run", first["mode"])

	// A nil payload round-trips as an empty object.
	payloads, err = w.ListForRun(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.JSONEq(t, "{}", payloads[0])
}
