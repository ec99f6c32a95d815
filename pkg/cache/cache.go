package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is a key-value cache with TTL support.
//
// TTL semantics for Set: positive expires after the duration, zero uses the
// cache default, negative never expires.
type Cache[V any] interface {
	// Get returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Marshaler converts values for byte-oriented backends such as Redis.
type Marshaler[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

type jsonMarshaler[V any] struct{}

func (jsonMarshaler[V]) Marshal(v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrMarshal, err)
	}
	return data, nil
}

func (jsonMarshaler[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Join(ErrUnmarshal, err)
	}
	return v, nil
}

// LoadFunc computes a value on a cache miss along with the TTL to store it for.
type LoadFunc[V any] func(ctx context.Context) (V, time.Duration, error)

// ReadThrough wraps a Cache with stampede protection: concurrent misses for
// one key run the loader once. Each ReadThrough has its own flight group so
// caches of different value types never share results.
type ReadThrough[V any] struct {
	cache Cache[V]
	group singleflight.Group
}

// NewReadThrough wraps c.
func NewReadThrough[V any](c Cache[V]) *ReadThrough[V] {
	return &ReadThrough[V]{cache: c}
}

type loaded[V any] struct {
	val V
	ttl time.Duration
}

// Get returns the cached value for key or loads it with fn. Loader errors
// are returned and not cached. Cache write failures are ignored.
func (r *ReadThrough[V]) Get(ctx context.Context, key string, fn LoadFunc[V]) (V, error) {
	if v, err := r.cache.Get(ctx, key); err == nil {
		return v, nil
	}

	res, err, _ := r.group.Do(key, func() (any, error) {
		val, ttl, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		_ = r.cache.Set(ctx, key, val, ttl)
		return loaded[V]{val: val, ttl: ttl}, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(loaded[V]).val, nil
}

// Invalidate drops key from the underlying cache.
func (r *ReadThrough[V]) Invalidate(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
