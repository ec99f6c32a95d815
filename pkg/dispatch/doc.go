// Package dispatch provides an in-process worker pool for email dispatch.
//
// A Pool is fed job ids, not messages: the job record is the source of
// truth and the handler loads it. A full buffer rejects new ids with
// ErrQueueFull rather than blocking the caller; those jobs stay pending and
// are picked up by the sweeper.
//
//	pool := dispatch.NewPool(svc.DispatchJob,
//	    dispatch.WithWorkers(8),
//	    dispatch.WithRateLimit(10, 5),
//	)
//	_ = pool.Start(ctx)
//	defer pool.Stop(shutdownCtx)
package dispatch
