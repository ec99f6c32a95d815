// Package app assembles the mailflow process from configuration: database,
// cache, attachment storage, provider, dispatcher and the service itself.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/mailflow"
	"github.com/dmitrymomot/mailflow/internal/config"
	"github.com/dmitrymomot/mailflow/pkg/cache"
	"github.com/dmitrymomot/mailflow/pkg/db"
	"github.com/dmitrymomot/mailflow/pkg/dispatch"
	"github.com/dmitrymomot/mailflow/pkg/emailjob"
	"github.com/dmitrymomot/mailflow/pkg/health"
	"github.com/dmitrymomot/mailflow/pkg/logger"
	"github.com/dmitrymomot/mailflow/pkg/metrics"
	"github.com/dmitrymomot/mailflow/pkg/queue"
	"github.com/dmitrymomot/mailflow/pkg/redis"
	"github.com/dmitrymomot/mailflow/pkg/storage"
	"github.com/dmitrymomot/mailflow/pkg/template"
)

// Container owns every long-lived dependency of the process.
type Container struct {
	Service *mailflow.Service
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	DB      *pgxpool.Pool

	cfg     *config.Config
	redis   goredis.UniversalClient
	s3      *storage.S3
	pool    *dispatch.Pool
	queue   *queue.Queue
	cron    *cron.Cron
	baseCtx context.Context
	closers []func(context.Context) error
}

// NewLogger builds the process logger, forwarding to Sentry when a DSN is set.
func NewLogger(cfg *config.Config) *slog.Logger {
	return logger.NewWithSentry(cfg.Log, cfg.Sentry, logger.RequestIDExtractor(), logger.JobIDExtractor())
}

// New connects to every configured backend and builds the service. The
// dispatcher is created but not started; see Start.
func New(ctx context.Context, cfg *config.Config) (_ *Container, err error) {
	c := &Container{
		cfg:     cfg,
		Logger:  NewLogger(cfg),
		Metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			_ = c.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	if c.DB, err = db.Connect(ctx, cfg.DB); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, db.Shutdown(c.DB))

	var templates template.Store = template.NewPostgresStore(c.DB)
	if cfg.Redis.Enabled() {
		if c.redis, err = redis.Open(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		c.closers = append(c.closers, redis.Shutdown(c.redis))
		templates = template.NewCachedStore(templates,
			cache.NewRedis[template.Template](c.redis, cfg.Redis.CachePrefix, cfg.Redis.CacheTTL, nil),
			cfg.Redis.CacheTTL)
	} else {
		mem := cache.NewMemory[template.Template](cache.WithDefaultTTL(cfg.Redis.CacheTTL), cache.WithMaxEntries(512))
		c.closers = append(c.closers, func(context.Context) error { return mem.Close() })
		templates = template.NewCachedStore(templates, mem, cfg.Redis.CacheTTL)
	}

	opts := []mailflow.Option{
		mailflow.WithLogger(c.Logger),
		mailflow.WithMetrics(c.Metrics),
		mailflow.WithTemplateStore(templates),
		mailflow.WithRepositories(emailjob.NewPostgresRepository(c.DB), emailjob.NewPostgresEventRepository(c.DB)),
	}

	if cfg.Storage.Enabled() {
		if c.s3, err = storage.NewS3(cfg.Storage); err != nil {
			return nil, err
		}
		opts = append(opts, mailflow.WithAttachmentStorage(c.s3, cfg.Storage.Prefix))
	}

	// The dispatcher handler runs only after Start, by which time svc is set.
	var svc *mailflow.Service
	handler := func(ctx context.Context, jobID string) error { return svc.DispatchJob(ctx, jobID) }
	sweep := func(ctx context.Context) error { return svc.Sweep(ctx) }

	switch cfg.Dispatch.Mode {
	case config.DispatchPool:
		poolOpts := []dispatch.Option{
			dispatch.WithLogger(c.Logger),
			dispatch.WithWorkers(cfg.Dispatch.Workers),
			dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
			dispatch.WithJobTimeout(cfg.Mailflow.RequestTimeout * 2),
		}
		if cfg.Dispatch.RateLimit > 0 {
			poolOpts = append(poolOpts, dispatch.WithRateLimit(cfg.Dispatch.RateLimit, cfg.Dispatch.RateBurst))
		}
		c.pool = dispatch.NewPool(handler, poolOpts...)
		opts = append(opts, mailflow.WithDispatcher(c.pool))
	case config.DispatchQueue:
		queueOpts := []queue.Option{
			queue.WithLogger(c.Logger),
			queue.WithMaxWorkers(cfg.Dispatch.Workers),
		}
		if cfg.Dispatch.SweepSchedule != "" {
			queueOpts = append(queueOpts, queue.WithSweep(cfg.Dispatch.SweepSchedule, sweep))
		}
		if c.queue, err = queue.New(c.DB, handler, queueOpts...); err != nil {
			return nil, err
		}
		opts = append(opts, mailflow.WithDispatcher(c.queue))
	}

	if svc, err = mailflow.New(cfg.Mailflow, opts...); err != nil {
		return nil, err
	}
	c.Service = svc

	// River owns the sweep schedule in queue mode.
	if cfg.Dispatch.Mode != config.DispatchQueue && cfg.Dispatch.SweepSchedule != "" {
		c.cron = cron.New()
		if _, err = c.cron.AddFunc(cfg.Dispatch.SweepSchedule, func() {
			if err := sweep(c.baseCtx); err != nil {
				c.Logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}); err != nil {
			return nil, fmt.Errorf("app: sweep schedule %q: %w", cfg.Dispatch.SweepSchedule, err)
		}
	}

	return c, nil
}

// Start seeds templates when configured and starts the dispatcher and the
// sweeper.
func (c *Container) Start(ctx context.Context) error {
	if c.cfg.Dispatch.SeedTemplates {
		if err := c.Service.SeedTemplates(ctx, false); err != nil {
			return fmt.Errorf("app: seed templates: %w", err)
		}
	}
	if c.pool != nil {
		if err := c.pool.Start(ctx); err != nil {
			return err
		}
	}
	if c.queue != nil {
		if err := c.queue.Start(ctx); err != nil {
			return err
		}
	}
	if c.cron != nil {
		c.baseCtx = context.WithoutCancel(ctx)
		c.cron.Start()
	}
	return nil
}

// Config returns the configuration the container was built from.
func (c *Container) Config() *config.Config { return c.cfg }

// ReadinessChecks lists the dependencies /readyz probes.
func (c *Container) ReadinessChecks() health.Checks {
	checks := health.Checks{"database": db.Healthcheck(c.DB)}
	if c.redis != nil {
		checks["redis"] = redis.Healthcheck(c.redis)
	}
	if c.s3 != nil {
		checks["storage"] = c.s3.Healthcheck
	}
	if c.queue != nil {
		checks["queue"] = queue.Healthcheck(c.queue)
	}
	return checks
}

// Shutdown stops the sweeper and the dispatcher, then closes connections.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
	if c.pool != nil {
		if err := c.pool.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.queue != nil {
		if err := c.queue.Stop(ctx); err != nil && !errors.Is(err, queue.ErrNotStarted) {
			errs = append(errs, err)
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
