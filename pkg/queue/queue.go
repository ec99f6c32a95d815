package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/mailflow/pkg/logger"
)

// HandlerFunc dispatches one email job by id.
type HandlerFunc func(ctx context.Context, jobID string) error

// Queue runs email dispatch on River. Each River job carries only the email
// job id and is attempted once: retry timing belongs to the email job
// itself, which re-enqueues through EnqueueAt.
type Queue struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	log    *slog.Logger
	queue  string

	mu      sync.Mutex
	started bool
}

// New creates the River client. Jobs may be enqueued before Start.
func New(pool *pgxpool.Pool, handler HandlerFunc, opts ...Option) (*Queue, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	cfg := &config{
		logger:     logger.NewNope(),
		queueName:  defaultQueueName,
		maxWorkers: defaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &dispatchWorker{handler: handler, log: cfg.logger})

	var periodic []*river.PeriodicJob
	if cfg.sweep != nil {
		schedule, err := parseSchedule(cfg.schedule)
		if err != nil {
			return nil, err
		}
		river.AddWorker(workers, &sweepWorker{sweep: cfg.sweep, log: cfg.logger})
		periodic = append(periodic, river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) {
				return sweepArgs{}, &river.InsertOpts{Queue: cfg.queueName}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       map[string]river.QueueConfig{cfg.queueName: {MaxWorkers: cfg.maxWorkers}},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: create client: %w", err)
	}

	return &Queue{pool: pool, client: client, log: cfg.logger, queue: cfg.queueName}, nil
}

// Migrate applies River's own schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("queue: create migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("queue: migrate: %w", err)
	}
	return nil
}

// Enqueue schedules an immediate dispatch of jobID.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	return q.insert(ctx, jobID, time.Time{})
}

// EnqueueAt schedules a dispatch of jobID no earlier than at.
func (q *Queue) EnqueueAt(ctx context.Context, jobID string, at time.Time) error {
	return q.insert(ctx, jobID, at)
}

func (q *Queue) insert(ctx context.Context, jobID string, at time.Time) error {
	opts := &river.InsertOpts{Queue: q.queue, MaxAttempts: 1, ScheduledAt: at}
	if _, err := q.client.Insert(ctx, dispatchArgs{JobID: jobID}, opts); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", jobID, err)
	}
	return nil
}

// Start begins working the dispatch queue and the sweep schedule.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}
	if err := q.client.Start(ctx); err != nil {
		return fmt.Errorf("queue: start client: %w", err)
	}
	q.started = true
	q.log.Info("dispatch queue started", slog.String("queue", q.queue))
	return nil
}

// Stop waits for running dispatches to finish.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		return ErrNotStarted
	}
	if err := q.client.Stop(ctx); err != nil {
		return fmt.Errorf("queue: stop client: %w", err)
	}
	q.started = false
	q.log.Info("dispatch queue stopped")
	return nil
}

// Healthcheck verifies the queue is running and its database is reachable.
// Compatible with health.CheckFunc.
func Healthcheck(q *Queue) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if q == nil {
			return errors.Join(ErrHealthcheckFailed, errors.New("queue is nil"))
		}

		q.mu.Lock()
		started := q.started
		q.mu.Unlock()

		if !started {
			return errors.Join(ErrHealthcheckFailed, ErrNotStarted)
		}
		if err := q.pool.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

type cronSchedule struct {
	schedule cron.Schedule
}

func (s *cronSchedule) Next(current time.Time) time.Time {
	return s.schedule.Next(current)
}

func parseSchedule(expr string) (river.PeriodicSchedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, expr, err)
	}
	return &cronSchedule{schedule: schedule}, nil
}
