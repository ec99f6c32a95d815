package queue

import "errors"

var (
	// ErrPoolRequired is returned when New is called without a pool.
	ErrPoolRequired = errors.New("queue: pool is required")

	// ErrHandlerRequired is returned when New is called without a dispatch handler.
	ErrHandlerRequired = errors.New("queue: dispatch handler is required")

	// ErrAlreadyStarted is returned when Start is called on a running queue.
	ErrAlreadyStarted = errors.New("queue: already started")

	// ErrNotStarted is returned when Stop is called on a queue that is not running.
	ErrNotStarted = errors.New("queue: not started")

	// ErrInvalidSchedule is returned for a sweep schedule cron cannot parse.
	ErrInvalidSchedule = errors.New("queue: invalid sweep schedule")

	// ErrHealthcheckFailed is returned when the queue health check fails.
	ErrHealthcheckFailed = errors.New("queue: healthcheck failed")
)
