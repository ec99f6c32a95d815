package queue

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailflow/pkg/logger"
)

func TestNew_RequiresPool(t *testing.T) {
	t.Parallel()

	_, err := New(nil, func(context.Context, string) error { return nil })
	require.ErrorIs(t, err, ErrPoolRequired)
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	s, err := parseSchedule("*/5 * * * *")
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)
	require.Equal(t, time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC), s.Next(base))

	_, err = parseSchedule("every minute")
	require.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestDispatchArgs_SingleAttempt(t *testing.T) {
	t.Parallel()

	require.Equal(t, "mailflow:dispatch", dispatchArgs{}.Kind())
	require.Equal(t, 1, dispatchArgs{}.InsertOpts().MaxAttempts)
	require.Equal(t, 1, sweepArgs{}.InsertOpts().MaxAttempts)
}

func riverJob[T river.JobArgs](args T) *river.Job[T] {
	return &river.Job[T]{JobRow: &rivertype.JobRow{ID: 42, Attempt: 1}, Args: args}
}

func TestDispatchWorker(t *testing.T) {
	t.Parallel()

	t.Run("passes job id", func(t *testing.T) {
		t.Parallel()

		var got string
		w := &dispatchWorker{handler: func(_ context.Context, id string) error {
			got = id
			return nil
		}, log: nopLogger()}

		require.NoError(t, w.Work(context.Background(), riverJob(dispatchArgs{JobID: "job-1"})))
		require.Equal(t, "job-1", got)
	})

	t.Run("cancels on failure", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("store unavailable")
		w := &dispatchWorker{handler: func(context.Context, string) error { return cause }, log: nopLogger()}

		err := w.Work(context.Background(), riverJob(dispatchArgs{JobID: "job-1"}))
		require.ErrorIs(t, err, cause)
	})
}

func TestSweepWorker(t *testing.T) {
	t.Parallel()

	calls := 0
	w := &sweepWorker{sweep: func(context.Context) error {
		calls++
		return nil
	}, log: nopLogger()}

	require.NoError(t, w.Work(context.Background(), riverJob(sweepArgs{})))
	require.Equal(t, 1, calls)
}

func TestHealthcheck_NotStarted(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Healthcheck(nil)(context.Background()), ErrHealthcheckFailed)
	require.ErrorIs(t, Healthcheck(&Queue{})(context.Background()), ErrNotStarted)
}

func nopLogger() *slog.Logger { return logger.NewNope() }
