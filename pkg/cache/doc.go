// Package cache provides a small generic cache with in-memory and Redis
// backends, used in front of the template store.
//
//	c := cache.NewMemory[template.Template](cache.WithDefaultTTL(5 * time.Minute))
//	rt := cache.NewReadThrough[template.Template](c)
//	tpl, err := rt.Get(ctx, "welcome:en", func(ctx context.Context) (template.Template, time.Duration, error) {
//		...
//	})
//
// [ReadThrough] collapses concurrent misses for one key into a single load.
package cache
