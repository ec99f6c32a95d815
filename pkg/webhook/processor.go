package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailflow/pkg/emailjob"
	"github.com/dmitrymomot/mailflow/pkg/logger"
)

// JobStore is the subset of *emailjob.Store the processor needs.
type JobStore interface {
	GetByProviderMessageID(ctx context.Context, messageID string) (*emailjob.Job, error)
	ApplyEvent(ctx context.Context, id string, event emailjob.EventType, ts time.Time) (*emailjob.Job, bool, error)
}

// Outcome describes what happened to one provider event.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeRejected   Outcome = "rejected"
	OutcomeUnknownJob Outcome = "unknown_job"
	OutcomeIgnored    Outcome = "ignored"
)

// Summary counts outcomes for one webhook call.
type Summary map[Outcome]int

// Processor turns provider callbacks into audit events and job transitions.
type Processor struct {
	store    JobStore
	events   emailjob.EventRepository
	parser   Parser
	verifier Verifier
	log      *slog.Logger
	now      func() time.Time
	observe  func(ProviderEvent, Outcome)
}

// Option configures a Processor.
type Option func(*Processor)

// WithVerifier enables signature verification. A nil verifier disables it.
func WithVerifier(v Verifier) Option {
	return func(p *Processor) { p.verifier = v }
}

// WithLogger sets the processor logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithObserver is called once per decoded event with its outcome.
func WithObserver(fn func(ProviderEvent, Outcome)) Option {
	return func(p *Processor) { p.observe = fn }
}

// NewProcessor creates a processor.
func NewProcessor(store JobStore, events emailjob.EventRepository, parser Parser, opts ...Option) *Processor {
	p := &Processor{
		store:   store,
		events:  events,
		parser:  parser,
		log:     logger.NewNope(),
		now:     time.Now,
		observe: func(ProviderEvent, Outcome) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process verifies, decodes and applies a webhook body. Unknown jobs and
// rejected transitions are not errors: returning one would make the
// provider redeliver an event that can never apply.
func (p *Processor) Process(ctx context.Context, body []byte, header http.Header) (Summary, error) {
	if p.verifier != nil {
		if err := p.verifier.Verify(header, body); err != nil {
			p.log.WarnContext(ctx, "webhook signature rejected", slog.String("error", err.Error()))
			if !errors.Is(err, ErrSignatureVerification) {
				err = errors.Join(ErrSignatureVerification, err)
			}
			return nil, err
		}
	}

	events, err := p.parser.Parse(body)
	if err != nil {
		return nil, err
	}

	summary := make(Summary)
	for _, ev := range events {
		outcome, err := p.apply(ctx, ev)
		if err != nil {
			return summary, err
		}
		summary[outcome]++
		p.observe(ev, outcome)
	}
	return summary, nil
}

func (p *Processor) apply(ctx context.Context, ev ProviderEvent) (Outcome, error) {
	log := p.log.With(slog.String("message_id", ev.MessageID), slog.String("event", ev.RawType))

	if ev.Type == "" {
		log.DebugContext(ctx, "webhook event type not tracked")
		return OutcomeIgnored, nil
	}
	if ev.MessageID == "" {
		log.WarnContext(ctx, "webhook event without message id")
		return OutcomeIgnored, nil
	}

	job, err := p.store.GetByProviderMessageID(ctx, ev.MessageID)
	if errors.Is(err, emailjob.ErrJobNotFound) {
		log.InfoContext(ctx, "webhook event for unknown message")
		return OutcomeUnknownJob, nil
	}
	if err != nil {
		return "", fmt.Errorf("webhook: resolve job: %w", err)
	}
	ctx = logger.WithJobID(ctx, job.ID)

	now := p.now().UTC()
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}
	record := &emailjob.Event{
		ID:        newEventID(),
		JobID:     job.ID,
		Type:      ev.Type,
		Timestamp: ts,
		IPAddress: ev.IPAddress,
		UserAgent: ev.UserAgent,
		Location:  ev.Location,
		Link:      ev.Link,
		Metadata:  ev.Raw,
		CreatedAt: now,
	}
	if err := p.events.Append(ctx, record); err != nil {
		return "", fmt.Errorf("webhook: append event: %w", err)
	}

	_, changed, err := p.store.ApplyEvent(ctx, job.ID, ev.Type, ts)
	switch {
	case errors.Is(err, emailjob.ErrInvalidTransition):
		log.InfoContext(ctx, "webhook event recorded without state change", slog.String("status", string(job.Status)))
		return OutcomeRejected, nil
	case err != nil:
		return "", fmt.Errorf("webhook: apply event: %w", err)
	case changed:
		return OutcomeApplied, nil
	}
	if _, tracked := ev.Type.Status(); !tracked {
		return OutcomeIgnored, nil
	}
	return OutcomeDuplicate, nil
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
