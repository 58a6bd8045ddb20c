package bid

// Outcome is the terminal result of a bid. It is one of Accepted, Lost or
// TimedOut; none of them is an error.
type Outcome interface {
	Name() string
	isOutcome()
}

// Accepted means this driver won the request. RideID is empty while the
// assignment is still being resolved. Scheduled marks a ride accepted for
// later; nothing is assigned now.
type Accepted struct {
	RideID    string
	Scheduled bool
}

// Lost means the request went to another driver, was withdrawn, cancelled
// or was no longer available.
type Lost struct {
	Reason string
}

// TimedOut means no answer arrived before the bid deadline.
type TimedOut struct{}

func (a Accepted) Name() string {
	if a.Scheduled {
		return "scheduled"
	}
	return "accepted"
}
func (Lost) Name() string     { return "lost" }
func (TimedOut) Name() string { return "timed_out" }

func (Accepted) isOutcome() {}
func (Lost) isOutcome()     {}
func (TimedOut) isOutcome() {}

// ReasonUnavailable is the Lost reason for a request that left the cache
// before the bid was sent.
const ReasonUnavailable = "unavailable"
