// Package emailjob owns the lifecycle of outbound email jobs.
//
// A [Job] moves through a fixed transition table:
//
//	pending   -> sending, failed
//	sending   -> sent, bounced, failed, pending (retry)
//	sent      -> delivered, bounced, complained
//	delivered -> opened, bounced, complained
//	opened    -> clicked
//
// clicked, bounced, complained and failed are terminal. [Store] is the only
// writer; requests outside the table fail with [*InvalidTransitionError] and
// leave the job untouched. [Store.ApplyEvent] is idempotent, so duplicate or
// out-of-order provider events never regress a job or overwrite a
// timestamp.
//
// Persistence is behind [Repository], whose Update is atomic per job id.
// [MemoryRepository] serializes with a per-id lock; [PostgresRepository]
// uses SELECT ... FOR UPDATE inside a transaction.
//
//	store := emailjob.NewStore(emailjob.NewMemoryRepository(), retry.NewPolicy(5*time.Minute))
//	job, err := store.Create(ctx, emailjob.NewJob{To: mailer.Addresses("a@example.com"), MaxAttempts: 3})
//	job, err = store.MarkSending(ctx, job.ID, "resend")
//	job, err = store.RecordDispatchSuccess(ctx, job.ID, "msg_123")
package emailjob
