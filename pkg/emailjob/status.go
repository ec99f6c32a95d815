package emailjob

// Status is a job's position in the delivery lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSending    Status = "sending"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusOpened     Status = "opened"
	StatusClicked    Status = "clicked"
	StatusBounced    Status = "bounced"
	StatusComplained Status = "complained"
	StatusFailed     Status = "failed"
)

// transitions is the complete allowed-transition table. Anything not
// listed is rejected. pending->failed covers cancellation of a queued job.
var transitions = map[Status][]Status{
	StatusPending:    {StatusSending, StatusFailed},
	StatusSending:    {StatusSent, StatusBounced, StatusFailed, StatusPending},
	StatusSent:       {StatusDelivered, StatusBounced, StatusComplained},
	StatusDelivered:  {StatusOpened, StatusBounced, StatusComplained},
	StatusOpened:     {StatusClicked},
	StatusClicked:    {},
	StatusBounced:    {},
	StatusComplained: {},
	StatusFailed:     {},
}

// CanTransition reports whether from->to is in the table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Dispatched reports whether the provider has accepted the message.
func (s Status) Dispatched() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusOpened, StatusClicked, StatusComplained:
		return true
	}
	return false
}
