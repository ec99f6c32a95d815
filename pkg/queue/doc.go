// Package queue dispatches email jobs through River, a Postgres-backed job
// queue, so dispatch survives restarts and scales across processes.
//
// River jobs carry only the email job id and run at most once. A failed
// dispatch is recorded on the email job by the retry scheduler, which
// re-enqueues with EnqueueAt at the computed ScheduledFor. An optional
// periodic sweep, scheduled with a cron expression, re-dispatches pending
// jobs that were never enqueued.
//
//	q, err := queue.New(pool, svc.DispatchJob,
//	    queue.WithSweep("*/1 * * * *", svc.Sweep),
//	)
//	if err := queue.Migrate(ctx, pool); err != nil { ... }
//	_ = q.Start(ctx)
//	defer q.Stop(shutdownCtx)
package queue
