package template

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// Store persists templates. Save upserts on (Type, Language).
type Store interface {
	// FindActive returns the active template or ErrTemplateNotFound.
	FindActive(ctx context.Context, typ Type, language string) (*Template, error)
	Save(ctx context.Context, tpl *Template) error
	List(ctx context.Context) ([]*Template, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
	now       func() time.Time
}

// NewMemoryStore creates an empty store, optionally seeded with templates.
func NewMemoryStore(seed ...*Template) *MemoryStore {
	s := &MemoryStore{templates: make(map[string]*Template), now: time.Now}
	for _, tpl := range seed {
		_ = s.Save(context.Background(), tpl)
	}
	return s
}

func (s *MemoryStore) FindActive(_ context.Context, typ Type, language string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[Key(typ, language)]
	if !ok || !tpl.IsActive {
		return nil, ErrTemplateNotFound
	}
	return clone(tpl), nil
}

func (s *MemoryStore) Save(_ context.Context, tpl *Template) error {
	if err := checkIdentity(tpl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := clone(tpl)
	c.Language = NormalizeLanguage(c.Language)
	now := s.now().UTC()
	if prev, ok := s.templates[Key(c.Type, c.Language)]; ok {
		c.CreatedAt = prev.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.templates[Key(c.Type, c.Language)] = c
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		out = append(out, clone(tpl))
	}
	slices.SortFunc(out, func(a, b *Template) int {
		return cmp.Compare(Key(a.Type, a.Language), Key(b.Type, b.Language))
	})
	return out, nil
}

func checkIdentity(tpl *Template) error {
	if tpl == nil || tpl.Type == "" || NormalizeLanguage(tpl.Language) == "" {
		return errors.Join(ErrInvalidTemplate, errors.New("type and language are required"))
	}
	return nil
}

func clone(tpl *Template) *Template {
	c := *tpl
	c.Variables = slices.Clone(tpl.Variables)
	return &c
}
