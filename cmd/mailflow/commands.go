package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrymomot/mailflow/internal/app"
	"github.com/dmitrymomot/mailflow/internal/config"
	"github.com/dmitrymomot/mailflow/internal/httpserver"
	"github.com/dmitrymomot/mailflow/pkg/db"
	"github.com/dmitrymomot/mailflow/pkg/queue"
	"github.com/dmitrymomot/mailflow/pkg/stats"
)

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Shutdown(context.WithoutCancel(ctx))
		return err
	}
	c.Logger.Info("mailflow started",
		slog.String("provider", c.Service.Provider().Name()),
		slog.String("dispatch_mode", cfg.Dispatch.Mode),
	)

	srv := httpserver.New(c.Service,
		httpserver.WithLogger(c.Logger),
		httpserver.WithMetrics(c.Metrics),
		httpserver.WithReadinessChecks(c.ReadinessChecks()),
	)
	return httpserver.Run(ctx, srv.Handler(), httpserver.RunConfig{
		Logger:          c.Logger,
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Hooks:           []httpserver.ShutdownHook{c.Shutdown},
	}, nil)
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg)

	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, cfg.DB.MigrationsTable, log); err != nil {
		return err
	}
	if err := queue.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info("migrations completed successfully")
	return nil
}

func runSweep(ctx context.Context) error {
	return withContainer(ctx, func(ctx context.Context, c *app.Container) error {
		n, err := c.Service.RedispatchDue(ctx, c.Config().Mailflow.SweepBatchSize)
		if err != nil {
			return err
		}
		c.Logger.Info("sweep completed", slog.Int("jobs", n))
		return nil
	})
}

func runSeedTemplates(ctx context.Context, overwrite bool) error {
	return withContainer(ctx, func(ctx context.Context, c *app.Container) error {
		if err := c.Service.SeedTemplates(ctx, overwrite); err != nil {
			return err
		}
		c.Logger.Info("templates seeded", slog.Bool("overwrite", overwrite))
		return nil
	})
}

type statsOptions struct {
	Template  string
	Recipient string
	Since     time.Duration
}

func (o statsOptions) filter(now time.Time) stats.Filter {
	f := stats.Filter{TemplateType: o.Template, Recipient: o.Recipient}
	if o.Since > 0 {
		f.From = now.Add(-o.Since)
	}
	return f
}

func runStats(ctx context.Context, w io.Writer, opts statsOptions) error {
	return withContainer(ctx, func(ctx context.Context, c *app.Container) error {
		st, err := c.Service.GetEmailStats(ctx, opts.filter(time.Now().UTC()))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	})
}

// withContainer runs fn against a container in inline dispatch mode, so
// one-shot commands send directly instead of feeding a worker pool.
func withContainer(ctx context.Context, fn func(context.Context, *app.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Dispatch.Mode = config.DispatchInline
	cfg.Dispatch.SweepSchedule = ""

	c, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Shutdown(context.WithoutCancel(ctx)); err != nil {
			c.Logger.Error("shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := fn(ctx, c); err != nil {
		return fmt.Errorf("mailflow: %w", err)
	}
	return nil
}
