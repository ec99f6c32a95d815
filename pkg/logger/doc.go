// Package logger builds the service's slog loggers.
//
// Records are JSON on stdout by default. A LogHandlerDecorator injects
// request-scoped attributes through ContextExtractor funcs, so a dispatch
// running under logger.WithJobID(ctx, id) logs job_id on every line without
// passing it around:
//
//	log := logger.New(logger.Config{Level: "info"}, logger.JobIDExtractor(), logger.RequestIDExtractor())
//	log.InfoContext(logger.WithJobID(ctx, job.ID), "email dispatched")
//
// NewWithSentry additionally forwards warnings and errors to Sentry and falls
// back to stdout only when no DSN is configured.
package logger
