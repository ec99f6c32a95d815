package mailflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/mailflow/pkg/emailjob"
	"github.com/dmitrymomot/mailflow/pkg/logger"
	"github.com/dmitrymomot/mailflow/pkg/retry"
)

// DispatchOutcome is the result kind of one dispatch attempt.
type DispatchOutcome string

const (
	// Dispatched means the provider accepted the message; the job is sent.
	Dispatched DispatchOutcome = "dispatched"
	// RetryScheduled means the attempt failed and the job is pending again.
	RetryScheduled DispatchOutcome = DispatchOutcome(retry.Scheduled)
	// PermanentlyFailed means the attempt budget is spent; the job is failed.
	PermanentlyFailed DispatchOutcome = DispatchOutcome(retry.Exhausted)
)

// DispatchResult reports one attempt. Err carries the provider failure for
// RetryScheduled and PermanentlyFailed; it is informational, not returned.
type DispatchResult struct {
	// ScheduledFor is the next attempt time when Outcome is RetryScheduled.
	ScheduledFor      time.Time
	Err               error
	Job               *emailjob.Job
	Outcome           DispatchOutcome
	ProviderMessageID string
	Attempts          int
}

// Dispatch claims a due pending job and hands it to the provider. The
// error is non-nil only when nothing was attempted: ErrNotDispatchable,
// emailjob.ErrJobNotFound or a store failure.
func (s *Service) Dispatch(ctx context.Context, jobID string) (*DispatchResult, error) {
	ctx = logger.WithJobID(ctx, jobID)

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != emailjob.StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrNotDispatchable, job.Status)
	}
	if job.ScheduledFor != nil && job.ScheduledFor.After(s.now()) {
		return nil, fmt.Errorf("%w: scheduled for %s", ErrNotDispatchable, job.ScheduledFor.Format(time.RFC3339))
	}

	job, err = s.jobs.MarkSending(ctx, jobID, s.provider.Name())
	if err != nil {
		if errors.Is(err, emailjob.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: claimed concurrently", ErrNotDispatchable)
		}
		return nil, err
	}

	started := s.now()
	messageID, sendErr := s.send(ctx, job)
	elapsed := s.now().Sub(started)

	// The provider has answered; the outcome is recorded even if the
	// caller has gone away in the meantime.
	ctx = context.WithoutCancel(ctx)

	if sendErr == nil {
		sent, err := s.jobs.RecordDispatchSuccess(ctx, jobID, messageID)
		if err != nil {
			return nil, err
		}
		s.metrics.Dispatch(s.provider.Name(), string(Dispatched), elapsed)
		s.deleteAttachments(ctx, sent.Attachments)
		s.log.InfoContext(ctx, "email dispatched",
			slog.String("provider", s.provider.Name()),
			slog.String("provider_message_id", messageID),
			slog.Duration("duration", elapsed),
		)
		return &DispatchResult{
			Job:               sent,
			Outcome:           Dispatched,
			ProviderMessageID: messageID,
			Attempts:          sent.Attempts,
		}, nil
	}

	failed, decision, err := s.jobs.RecordDispatchFailure(ctx, jobID, sendErr)
	if err != nil {
		return nil, err
	}
	outcome := DispatchOutcome(decision.Outcome)
	s.metrics.Dispatch(s.provider.Name(), string(outcome), elapsed)

	if decision.Retry() {
		s.scheduleRetry(ctx, jobID, decision.ScheduledFor)
	} else {
		s.deleteAttachments(ctx, failed.Attachments)
	}
	return &DispatchResult{
		ScheduledFor: decision.ScheduledFor,
		Err:          sendErr,
		Job:          failed,
		Outcome:      outcome,
		Attempts:     decision.Attempts,
	}, nil
}

// ReclaimStale returns jobs stuck in sending for longer than
// Config.RequestTimeout plus Config.SweepGrace to the retry policy with
// ErrDispatchInterrupted. It returns how many jobs were reclaimed.
func (s *Service) ReclaimStale(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.cfg.SweepBatchSize
	}
	stale, err := s.jobs.ListStale(ctx, s.cfg.RequestTimeout+s.cfg.SweepGrace, limit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, job := range stale {
		jobCtx := logger.WithJobID(ctx, job.ID)
		failed, decision, err := s.jobs.RecordDispatchFailure(jobCtx, job.ID, ErrDispatchInterrupted)
		if errors.Is(err, emailjob.ErrInvalidTransition) {
			continue // finished meanwhile
		}
		if err != nil {
			return n, err
		}
		n++
		if decision.Retry() {
			s.scheduleRetry(jobCtx, job.ID, decision.ScheduledFor)
		} else {
			s.deleteAttachments(jobCtx, failed.Attachments)
		}
	}
	if n > 0 {
		s.log.WarnContext(ctx, "interrupted dispatches reclaimed", slog.Int("count", n))
	}
	return n, nil
}

// DispatchJob is Dispatch shaped for worker pools and queues: a job that
// is no longer dispatchable is not an error.
func (s *Service) DispatchJob(ctx context.Context, jobID string) error {
	_, err := s.Dispatch(ctx, jobID)
	if errors.Is(err, ErrNotDispatchable) {
		s.log.DebugContext(logger.WithJobID(ctx, jobID), "dispatch skipped", slog.String("reason", err.Error()))
		return nil
	}
	return err
}

func (s *Service) send(ctx context.Context, job *emailjob.Job) (string, error) {
	if err := s.loadAttachments(ctx, job); err != nil {
		return "", err
	}
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	return s.provider.Send(ctx, job.Email())
}

func (s *Service) scheduleRetry(ctx context.Context, jobID string, at time.Time) {
	d, ok := s.dispatcher.(DelayedDispatcher)
	if !ok {
		return
	}
	if err := d.EnqueueAt(ctx, jobID, at); err != nil {
		s.log.WarnContext(ctx, "retry enqueue failed, job left for sweeper", slog.String("error", err.Error()))
	}
}

// RedispatchDue dispatches up to limit pending jobs whose scheduled time
// has passed, plus never-scheduled jobs older than Config.SweepGrace. With
// a Dispatcher the jobs are enqueued, otherwise dispatched inline. It
// returns how many jobs were handed off.
func (s *Service) RedispatchDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.cfg.SweepBatchSize
	}
	due, err := s.jobs.ListDue(ctx, s.cfg.SweepGrace, limit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, job := range due {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		jobCtx := logger.WithJobID(ctx, job.ID)
		if s.dispatcher != nil {
			if err := s.dispatcher.Enqueue(jobCtx, job.ID); err != nil {
				s.log.WarnContext(jobCtx, "sweep enqueue failed", slog.String("error", err.Error()))
				continue
			}
			n++
			continue
		}
		if _, err := s.Dispatch(jobCtx, job.ID); err != nil {
			if errors.Is(err, ErrNotDispatchable) {
				continue
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.InfoContext(ctx, "due jobs redispatched", slog.Int("count", n))
	}
	return n, nil
}

// Sweep reclaims interrupted dispatches, then runs one RedispatchDue pass
// with the configured batch size. Its signature fits cron and River
// periodic jobs.
func (s *Service) Sweep(ctx context.Context) error {
	if _, err := s.ReclaimStale(ctx, 0); err != nil {
		return err
	}
	_, err := s.RedispatchDue(ctx, 0)
	return err
}
