package emailjob

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryRepository keeps jobs in process memory. Updates to one job are
// serialized by a per-id lock; different jobs never contend.
type MemoryRepository struct {
	locks keyedMutex
	mu    sync.RWMutex
	jobs  map[string]*Job
	byMsg map[string]string // provider message id -> job id
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:  make(map[string]*Job),
		byMsg: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidJob, j.ID)
	}
	r.jobs[j.ID] = j.Clone()
	if j.ProviderMessageID != "" {
		r.byMsg[j.ProviderMessageID] = j.ID
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

func (r *MemoryRepository) GetByProviderMessageID(ctx context.Context, messageID string) (*Job, error) {
	r.mu.RLock()
	id, ok := r.byMsg[messageID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepository) Update(ctx context.Context, id string, fn UpdateFunc) (*Job, error) {
	unlock := r.locks.lock(id)
	defer unlock()

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	changed, err := fn(next)
	if err != nil {
		return current, err
	}
	if !changed {
		return current, nil
	}

	r.mu.Lock()
	r.jobs[id] = next.Clone()
	if next.ProviderMessageID != "" {
		r.byMsg[next.ProviderMessageID] = id
	}
	r.mu.Unlock()
	return next, nil
}

func (r *MemoryRepository) ListDue(_ context.Context, now, createdBefore time.Time, limit int) ([]*Job, error) {
	r.mu.RLock()
	var due []*Job
	for _, j := range r.jobs {
		if j.Status != StatusPending {
			continue
		}
		if j.ScheduledFor != nil && !j.ScheduledFor.After(now) ||
			j.ScheduledFor == nil && !j.CreatedAt.After(createdBefore) {
			due = append(due, j.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(due, func(a, b *Job) int { return dueAt(a).Compare(dueAt(b)) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func dueAt(j *Job) time.Time {
	if j.ScheduledFor != nil {
		return *j.ScheduledFor
	}
	return j.CreatedAt
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*Job, error) {
	r.mu.RLock()
	var out []*Job
	for _, j := range r.jobs {
		if f.Match(j) {
			out = append(out, j.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// MemoryEventRepository keeps the event log in process memory.
type MemoryEventRepository struct {
	mu     sync.RWMutex
	events map[string][]*Event
}

// NewMemoryEventRepository creates an empty event log.
func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{events: make(map[string][]*Event)}
}

func (r *MemoryEventRepository) Append(_ context.Context, e *Event) error {
	c := *e
	c.Metadata = slices.Clone(e.Metadata)

	r.mu.Lock()
	r.events[e.JobID] = append(r.events[e.JobID], &c)
	r.mu.Unlock()
	return nil
}

func (r *MemoryEventRepository) ListByJob(_ context.Context, jobID string) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.events[jobID]
	out := make([]*Event, len(src))
	for i, e := range src {
		c := *e
		out[i] = &c
	}
	return out, nil
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
