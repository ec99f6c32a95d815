package queue

import (
	"context"
	"log/slog"
)

const (
	defaultQueueName  = "mailflow_dispatch"
	defaultMaxWorkers = 20
)

type config struct {
	logger     *slog.Logger
	sweep      func(context.Context) error
	queueName  string
	schedule   string
	maxWorkers int
}

// Option configures a Queue.
type Option func(*config)

// WithLogger sets the logger passed to River and used by the workers.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxWorkers sets the dispatch queue concurrency. Default 20.
func WithMaxWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithQueueName overrides the River queue name.
func WithQueueName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.queueName = name
		}
	}
}

// WithSweep registers fn as a periodic job on a 5-field cron schedule,
// e.g. "*/1 * * * *". It typically re-dispatches due pending jobs.
func WithSweep(schedule string, fn func(context.Context) error) Option {
	return func(c *config) {
		c.schedule = schedule
		c.sweep = fn
	}
}
