package template

import (
	"context"
	"time"

	"github.com/dmitrymomot/mailflow/pkg/cache"
)

// CachedStore puts a read-through cache in front of another Store.
// Save invalidates the affected entry. Misses are not cached.
type CachedStore struct {
	next  Store
	cache *cache.ReadThrough[Template]
	ttl   time.Duration
}

// NewCachedStore wraps next. A zero ttl uses the cache's default.
func NewCachedStore(next Store, c cache.Cache[Template], ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, cache: cache.NewReadThrough(c), ttl: ttl}
}

func (s *CachedStore) FindActive(ctx context.Context, typ Type, language string) (*Template, error) {
	tpl, err := s.cache.Get(ctx, Key(typ, language), func(ctx context.Context) (Template, time.Duration, error) {
		found, err := s.next.FindActive(ctx, typ, language)
		if err != nil {
			return Template{}, 0, err
		}
		return *found, s.ttl, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(&tpl), nil
}

func (s *CachedStore) Save(ctx context.Context, tpl *Template) error {
	if err := s.next.Save(ctx, tpl); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, Key(tpl.Type, tpl.Language))
}

func (s *CachedStore) List(ctx context.Context) ([]*Template, error) {
	return s.next.List(ctx)
}
