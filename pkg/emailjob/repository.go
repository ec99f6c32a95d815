package emailjob

import (
	"context"
	"time"
)

// UpdateFunc mutates a job copy in place. Returning changed=false or an
// error discards the mutation.
type UpdateFunc func(j *Job) (changed bool, err error)

// Repository persists jobs. Update must be atomic per job id: no other
// Update for the same id may interleave between read and write.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	GetByProviderMessageID(ctx context.Context, messageID string) (*Job, error)
	// Update applies fn under the job's lock and returns the resulting job.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Job, error)
	// ListDue returns pending jobs whose scheduled time has passed, or that
	// were never scheduled and were created before createdBefore.
	ListDue(ctx context.Context, now, createdBefore time.Time, limit int) ([]*Job, error)
	List(ctx context.Context, f Filter) ([]*Job, error)
}

// EventRepository is the append-only event log.
type EventRepository interface {
	Append(ctx context.Context, e *Event) error
	ListByJob(ctx context.Context, jobID string) ([]*Event, error)
}

// Filter narrows List results. Zero fields do not filter.
type Filter struct {
	CreatedFrom   time.Time // inclusive
	CreatedTo     time.Time // exclusive
	UpdatedBefore time.Time // exclusive
	Recipient     string
	TemplateType  string
	Statuses      []Status
	Limit         int
}

// Match reports whether j satisfies the filter, ignoring Limit.
func (f Filter) Match(j *Job) bool {
	if f.Recipient != "" && !j.HasRecipient(f.Recipient) {
		return false
	}
	if f.TemplateType != "" && j.TemplateType != f.TemplateType {
		return false
	}
	if !f.CreatedFrom.IsZero() && j.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !j.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !j.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if j.Status == s {
				return true
			}
		}
		return false
	}
	return true
}
