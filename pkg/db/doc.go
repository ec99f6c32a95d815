// Package db connects mailflow to PostgreSQL through [github.com/jackc/pgx/v5/pgxpool]
// and applies the embedded schema with [github.com/pressly/goose/v3].
//
// # Configuration
//
// Settings are read from the environment through [Config]:
//
//	DATABASE_URL                - PostgreSQL connection URL (required)
//	DATABASE_MIGRATIONS_TABLE   - goose version table (default: mailflow_migrations)
//	DATABASE_MAX_OPEN_CONNS     - Maximum open connections (default: 20)
//	DATABASE_MIN_CONNS          - Minimum idle connections (default: 2)
//	DATABASE_HEALTHCHECK_PERIOD - Pool health check interval (default: 1m)
//	DATABASE_RETRY_ATTEMPTS     - Connection attempts at startup (default: 3)
//	DATABASE_RETRY_INTERVAL     - Base delay between attempts (default: 5s)
//
// # Usage
//
//	pool, err := db.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := db.Migrate(ctx, pool, cfg.MigrationsTable, logger); err != nil {
//		return err
//	}
//
// Job state changes run inside [WithTx] with SELECT ... FOR UPDATE so that
// concurrent dispatchers and webhook deliveries serialize per job.
//
// The migrations create email_templates, email_jobs and email_events.
// Errors are wrapped with [errors.Join] around the package sentinels.
package db
