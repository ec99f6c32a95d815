// Package retry decides what happens to a job after a failed dispatch.
//
// The backoff is linear: the n-th failure waits BaseDelay*n. This is
// intentional and must not be changed to exponential without a product
// decision. The scheduler never re-dispatches by itself; it only computes
// the next dispatch time for an external sweeper.
package retry

import (
	"time"
)

// DefaultBaseDelay is used when a Policy has no BaseDelay.
const DefaultBaseDelay = 5 * time.Minute

// Outcome is the result of a retry decision.
type Outcome string

const (
	// Scheduled means the job returns to pending with a future dispatch time.
	Scheduled Outcome = "retry_scheduled"
	// Exhausted means the attempt budget is spent and the job is failed.
	Exhausted Outcome = "permanently_failed"
)

// Decision is the explicit result of Policy.Decide.
type Decision struct {
	ScheduledFor time.Time // zero when Exhausted
	Outcome      Outcome
	LastError    string
	Attempts     int
	Delay        time.Duration
}

// Retry reports whether another dispatch is scheduled.
func (d Decision) Retry() bool { return d.Outcome == Scheduled }

// Policy computes retry decisions.
type Policy struct {
	BaseDelay time.Duration
}

// NewPolicy returns a linear policy with the given base delay.
func NewPolicy(base time.Duration) Policy {
	return Policy{BaseDelay: base}
}

// Delay returns the wait before the dispatch that follows failure number attempts.
func (p Policy) Delay(attempts int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base * time.Duration(max(attempts, 1))
}

// Decide records one more failed attempt. attempts is the count before this
// failure; maxAttempts is the job's budget (at least 1).
func (p Policy) Decide(attempts, maxAttempts int, now time.Time, cause error) Decision {
	maxAttempts = max(maxAttempts, 1)
	next := min(attempts+1, maxAttempts)

	d := Decision{Attempts: next}
	if cause != nil {
		d.LastError = cause.Error()
	}

	if next >= maxAttempts {
		d.Outcome = Exhausted
		return d
	}

	d.Outcome = Scheduled
	d.Delay = p.Delay(next)
	d.ScheduledFor = now.Add(d.Delay)
	return d
}
