// Package redis opens the optional Redis connection used by the template
// cache. It wraps [github.com/redis/go-redis/v9] with startup retries and
// a readiness probe.
//
//	client, err := redis.Open(ctx, cfg.Redis)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Errors are wrapped with [errors.Join] around the sentinels
// [ErrEmptyConnectionURL], [ErrFailedToParseURL], [ErrConnectionFailed]
// and [ErrHealthcheckFailed].
package redis
