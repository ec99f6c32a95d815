package emailjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailflow/pkg/logger"
	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/retry"
)

// NewJob is the input to Store.Create.
type NewJob struct {
	ScheduledFor *time.Time // optional delayed first dispatch
	// ID is generated when empty. Callers set it to key data stored
	// alongside the job, such as offloaded attachments.
	ID           string
	Variables    map[string]string
	Metadata     map[string]string
	From         mailer.Address
	ReplyTo      string
	Subject      string
	HTML         string
	Text         string
	TemplateType string
	Language     string
	To           []mailer.Address
	CC           []mailer.Address
	BCC          []mailer.Address
	Attachments  []Attachment
	MaxAttempts  int
}

// Store is the only writer of jobs. Every status change goes through the
// transition table.
type Store struct {
	repo   Repository
	policy retry.Policy
	log    *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides UUIDv7 job ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore creates a Store over repo using policy for dispatch failures.
func NewStore(repo Repository, policy retry.Policy, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		policy: policy,
		log:    logger.NewNope(),
		now:    time.Now,
		newID:  newUUIDv7,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID returns a UUIDv7 string, the default job id format.
func NewID() string { return newUUIDv7() }

func newUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Create persists a new pending job with zero attempts.
func (s *Store) Create(ctx context.Context, in NewJob) (*Job, error) {
	if in.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidJob, in.MaxAttempts)
	}
	if len(in.To) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidJob)
	}

	id := in.ID
	if id == "" {
		id = s.newID()
	}

	now := s.now().UTC()
	j := &Job{
		ID:           id,
		To:           slices.Clone(in.To),
		CC:           slices.Clone(in.CC),
		BCC:          slices.Clone(in.BCC),
		From:         in.From,
		ReplyTo:      in.ReplyTo,
		Subject:      in.Subject,
		HTML:         in.HTML,
		Text:         in.Text,
		TemplateType: in.TemplateType,
		Language:     in.Language,
		Variables:    maps.Clone(in.Variables),
		Metadata:     maps.Clone(in.Metadata),
		Attachments:  slices.Clone(in.Attachments),
		Status:       StatusPending,
		MaxAttempts:  in.MaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.ScheduledFor != nil {
		at := in.ScheduledFor.UTC()
		j.ScheduledFor = &at
	}

	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}
	s.log.InfoContext(logger.WithJobID(ctx, j.ID), "email job created",
		slog.Int("recipients", len(j.To)+len(j.CC)+len(j.BCC)),
		slog.String("template", j.TemplateType),
	)
	return j, nil
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// GetByProviderMessageID resolves the job a provider callback refers to.
func (s *Store) GetByProviderMessageID(ctx context.Context, messageID string) (*Job, error) {
	return s.repo.GetByProviderMessageID(ctx, messageID)
}

// ListDue returns pending jobs ready for (re)dispatch. Jobs never scheduled
// are due once they are older than grace.
func (s *Store) ListDue(ctx context.Context, grace time.Duration, limit int) ([]*Job, error) {
	now := s.now().UTC()
	return s.repo.ListDue(ctx, now, now.Add(-grace), limit)
}

// ListStale returns sending jobs untouched for longer than olderThan. Such a
// job lost its dispatcher between the claim and recording the outcome.
func (s *Store) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*Job, error) {
	return s.repo.List(ctx, Filter{
		Statuses:      []Status{StatusSending},
		UpdatedBefore: s.now().UTC().Add(-olderThan),
		Limit:         limit,
	})
}

// List returns jobs matching f.
func (s *Store) List(ctx context.Context, f Filter) ([]*Job, error) {
	return s.repo.List(ctx, f)
}

// MarkSending claims a pending job for dispatch. A second concurrent claim
// fails with *InvalidTransitionError, which prevents double dispatch.
func (s *Store) MarkSending(ctx context.Context, id, provider string) (*Job, error) {
	return s.transition(ctx, id, StatusSending, func(j *Job, now time.Time) {
		j.Provider = provider
	})
}

// RecordDispatchSuccess moves a sending job to sent.
func (s *Store) RecordDispatchSuccess(ctx context.Context, id, providerMessageID string) (*Job, error) {
	return s.transition(ctx, id, StatusSent, func(j *Job, now time.Time) {
		j.ProviderMessageID = providerMessageID
		j.SentAt = &now
		j.ScheduledFor = nil
	})
}

// RecordDispatchFailure applies the retry policy to a sending job: it either
// returns to pending with a future ScheduledFor or becomes failed.
func (s *Store) RecordDispatchFailure(ctx context.Context, id string, cause error) (*Job, retry.Decision, error) {
	var decision retry.Decision
	job, err := s.repo.Update(ctx, id, func(j *Job) (bool, error) {
		if j.Status != StatusSending {
			return false, &InvalidTransitionError{JobID: id, From: j.Status, To: StatusFailed}
		}
		now := s.now().UTC()
		decision = s.policy.Decide(j.Attempts, j.MaxAttempts, now, cause)

		j.Attempts = decision.Attempts
		j.LastError = decision.LastError
		j.UpdatedAt = now
		if decision.Retry() {
			at := decision.ScheduledFor
			j.Status = StatusPending
			j.ScheduledFor = &at
		} else {
			j.Status = StatusFailed
			j.ScheduledFor = nil
		}
		return true, nil
	})
	if err != nil {
		s.logRejected(ctx, id, err)
		return job, decision, err
	}

	attrs := []any{
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.String("error", job.LastError),
	}
	if decision.Retry() {
		s.log.WarnContext(logger.WithJobID(ctx, id), "email dispatch failed, retry scheduled",
			append(attrs, slog.Time("scheduled_for", decision.ScheduledFor))...)
	} else {
		s.log.ErrorContext(logger.WithJobID(ctx, id), "email dispatch permanently failed", attrs...)
	}
	return job, decision, nil
}

// ApplyEvent advances a job for a provider event. It is idempotent: an
// event for the status the job already has is a no-op. The timestamp of a
// status is set once and never overwritten. changed reports whether the
// job was modified.
func (s *Store) ApplyEvent(ctx context.Context, id string, event EventType, ts time.Time) (*Job, bool, error) {
	target, ok := event.Status()
	if !ok {
		job, err := s.repo.Get(ctx, id)
		return job, false, err
	}

	changed := false
	job, err := s.repo.Update(ctx, id, func(j *Job) (bool, error) {
		if j.Status == target {
			return false, nil
		}
		if !CanTransition(j.Status, target) {
			return false, &InvalidTransitionError{JobID: id, From: j.Status, To: target}
		}

		at := ts.UTC()
		if at.IsZero() {
			at = s.now().UTC()
		}
		// Timestamps are monotonic with status progression even when
		// provider clocks disagree.
		if latest := j.latestTimestamp(); at.Before(latest) {
			at = latest
		}

		j.Status = target
		if field := j.timestampFor(target); field != nil && *field == nil {
			*field = &at
		}
		j.UpdatedAt = s.now().UTC()
		changed = true
		return true, nil
	})
	if err != nil {
		s.logRejected(ctx, id, err)
		return job, false, err
	}
	if changed {
		s.log.InfoContext(logger.WithJobID(ctx, id), "email job advanced", slog.String("status", string(target)))
	}
	return job, changed, nil
}

// Cancel fails a pending job so no sweeper picks it up again.
func (s *Store) Cancel(ctx context.Context, id, reason string) (*Job, error) {
	return s.transition(ctx, id, StatusFailed, func(j *Job, now time.Time) {
		if j.Status != StatusPending {
			return
		}
		j.LastError = "canceled"
		if reason != "" {
			j.LastError += ": " + reason
		}
		j.ScheduledFor = nil
	}, StatusPending)
}

// transition performs a table-checked status change. When from is given,
// the job must currently be in one of those statuses as well.
func (s *Store) transition(ctx context.Context, id string, to Status, mutate func(j *Job, now time.Time), from ...Status) (*Job, error) {
	job, err := s.repo.Update(ctx, id, func(j *Job) (bool, error) {
		if !CanTransition(j.Status, to) || len(from) > 0 && !slices.Contains(from, j.Status) {
			return false, &InvalidTransitionError{JobID: id, From: j.Status, To: to}
		}
		now := s.now().UTC()
		mutate(j, now)
		j.Status = to
		j.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		s.logRejected(ctx, id, err)
		return job, err
	}
	return job, nil
}

func (s *Store) logRejected(ctx context.Context, id string, err error) {
	var terr *InvalidTransitionError
	if errors.As(err, &terr) {
		s.log.WarnContext(logger.WithJobID(ctx, id), "status transition rejected",
			slog.String("from", string(terr.From)),
			slog.String("to", string(terr.To)),
		)
	}
}
