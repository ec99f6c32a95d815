package mailflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/mailflow/pkg/emailjob"
	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/metrics"
	"github.com/dmitrymomot/mailflow/pkg/storage"
	"github.com/dmitrymomot/mailflow/pkg/template"
)

// Dispatcher hands a job id to asynchronous dispatch. It must not block.
// An error leaves the job pending for the sweeper.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string) error
}

// DelayedDispatcher also accepts a dispatch time. Retries and delayed
// sends are enqueued at their ScheduledFor instead of waiting for a sweep.
type DelayedDispatcher interface {
	Dispatcher
	EnqueueAt(ctx context.Context, jobID string, at time.Time) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
// If nil, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRepositories sets job and event persistence.
// Defaults to in-memory repositories.
func WithRepositories(jobs emailjob.Repository, events emailjob.EventRepository) Option {
	return func(s *Service) {
		if jobs != nil {
			s.jobRepo = jobs
		}
		if events != nil {
			s.events = events
		}
	}
}

// WithTemplateStore sets where templates are read from.
// Defaults to an in-memory store seeded with the built-in templates.
func WithTemplateStore(store template.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.templateStore = store
		}
	}
}

// WithProvider replaces the adapter selected from Config.Provider.
func WithProvider(p mailer.Provider) Option {
	return func(s *Service) {
		if p != nil {
			s.provider = p
		}
	}
}

// WithDispatcher makes SendEmail enqueue instead of dispatching inline.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

// WithAttachmentStorage offloads attachment bodies to st under prefix.
func WithAttachmentStorage(st storage.Storage, prefix string) Option {
	return func(s *Service) {
		s.storage = st
		s.storagePrefix = prefix
	}
}

// WithMetrics records pipeline metrics to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides UUIDv7 job ids, for tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}
