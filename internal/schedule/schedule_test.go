package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"acornsend/internal/schedule"
)

func TestValidate(t *testing.T) {
	ok := schedule.Scheduler{Spec: "0 8 * * *"}
	require.NoError(t, ok.Validate())

	for _, spec := range []string{"", "not a cron", "99 99 * * *", "* * * * * *"} {
		s := schedule.Scheduler{Spec: spec}
		require.Error(t, s.Validate(), "spec %q", spec)
	}
}

func TestRunRejectsBadSpec(t *testing.T) {
	s := schedule.Scheduler{Spec: "nope"}
	err := s.Run(context.Background())
	require.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := schedule.Scheduler{
		Spec:     "0 8 * * *",
		Location: time.UTC,
		Job:      func(ctx context.Context, asOfDate string) error { return nil },
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
