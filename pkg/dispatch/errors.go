package dispatch

import "errors"

var (
	// ErrQueueFull is returned by Enqueue when the buffer is at capacity.
	ErrQueueFull = errors.New("dispatch: queue is full")

	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("dispatch: pool is stopped")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("dispatch: pool already started")
)
