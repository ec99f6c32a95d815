package queue

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/dmitrymomot/mailflow/pkg/logger"
)

type dispatchArgs struct {
	JobID string `json:"job_id"`
}

func (dispatchArgs) Kind() string { return "mailflow:dispatch" }

// InsertOpts keeps River from retrying; the retry scheduler owns backoff.
func (dispatchArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type dispatchWorker struct {
	river.WorkerDefaults[dispatchArgs]
	handler HandlerFunc
	log     *slog.Logger
}

func (w *dispatchWorker) Work(ctx context.Context, job *river.Job[dispatchArgs]) error {
	ctx = logger.WithJobID(ctx, job.Args.JobID)
	if err := w.handler(ctx, job.Args.JobID); err != nil {
		w.log.ErrorContext(ctx, "queued dispatch failed",
			slog.Int64("river_job_id", job.ID),
			slog.Any("error", err),
		)
		// Failure is recorded on the email job; nothing for River to retry.
		return river.JobCancel(err)
	}
	return nil
}

type sweepArgs struct{}

func (sweepArgs) Kind() string { return "mailflow:sweep" }

func (sweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type sweepWorker struct {
	river.WorkerDefaults[sweepArgs]
	sweep func(context.Context) error
	log   *slog.Logger
}

func (w *sweepWorker) Work(ctx context.Context, _ *river.Job[sweepArgs]) error {
	if err := w.sweep(ctx); err != nil {
		w.log.ErrorContext(ctx, "sweep failed", slog.Any("error", err))
		return river.JobCancel(err)
	}
	return nil
}
