// Package health serves liveness and readiness probes.
//
//	r.Get("/healthz", health.LivenessHandler())
//	r.Get("/readyz", health.ReadinessHandler(health.Checks{
//		"postgres": db.Healthcheck(pool),
//		"redis":    redis.Healthcheck(client),
//	}, health.WithTimeout(3*time.Second)))
//
// Readiness runs every check in parallel under one deadline and answers 503
// with a JSON report when any fails.
package health
