// Package mailflow is a transactional email pipeline: it renders localized
// templates, dispatches messages through one configured delivery provider,
// tracks every message through its delivery lifecycle, retries failed
// dispatches with linear backoff, ingests provider webhooks and computes
// deliverability statistics.
//
// A Service is built from an explicit Config; there is no global instance.
//
//	svc, err := mailflow.New(cfg,
//	    mailflow.WithLogger(log),
//	    mailflow.WithRepositories(
//	        emailjob.NewPostgresRepository(pool),
//	        emailjob.NewPostgresEventRepository(pool),
//	    ),
//	    mailflow.WithTemplateStore(template.NewPostgresStore(pool)),
//	)
//
//	job, err := svc.SendTemplateEmail(ctx,
//	    mailer.Addresses("ada@example.com"),
//	    template.TypeWelcome,
//	    map[string]string{"name": "Ada"},
//	    mailflow.TemplateOptions{Language: "en"},
//	)
//
// Errors returned before a job exists (unknown template, missing variables,
// invalid addresses) are synchronous and leave nothing behind. Dispatch
// failures never surface as errors: they are recorded on the job and
// reported as a DispatchResult.
//
// Without a Dispatcher, SendEmail dispatches inline. With one, for example
// a dispatch.Pool or a queue.Queue, it only enqueues the job id. Retries
// are picked up by RedispatchDue or, when the dispatcher implements
// DelayedDispatcher, enqueued directly at their scheduled time.
package mailflow
