package emailjob

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound indicates no job with the given id or provider message id.
	ErrJobNotFound = errors.New("emailjob: job not found")

	// ErrInvalidJob indicates a job failed validation at creation.
	ErrInvalidJob = errors.New("emailjob: invalid job")

	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("emailjob: invalid status transition")
)

// InvalidTransitionError is returned when a requested status change is
// not in the transition table. The job is left untouched.
type InvalidTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("emailjob: job %s: transition %s -> %s not allowed", e.JobID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
