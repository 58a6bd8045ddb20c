package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(10 * time.Second)
	bidding := Bidding{RequestID: "r1", OfferedFare: 25, ExpiresAt: exp}

	cases := []struct {
		name string
		from State
		ev   Event
		want State
		err  error
	}{
		{"online", Idle{}, GoOnline{}, Browsing{}, nil},
		{"online twice", Browsing{}, GoOnline{}, Browsing{}, nil},
		{"online while riding", InProgress{RideID: "x"}, GoOnline{}, InProgress{RideID: "x"}, ErrInvalidTransition},
		{"offline from anywhere", InProgress{RideID: "x"}, GoOffline{}, Idle{}, nil},

		{"bid from browsing", Browsing{}, BidStarted{RequestID: "r1", Fare: 25, ExpiresAt: exp}, bidding, nil},
		{"bid while bidding", bidding, BidStarted{RequestID: "r2"}, bidding, ErrBidAlreadyInFlight},
		{"bid while awaiting", AwaitingAssignment{RequestID: "r1"}, BidStarted{RequestID: "r2"}, AwaitingAssignment{RequestID: "r1"}, ErrBidAlreadyInFlight},
		{"bid from idle", Idle{}, BidStarted{RequestID: "r1"}, Idle{}, ErrInvalidTransition},

		{"lost", bidding, BidLost{RequestID: "r1"}, Browsing{}, nil},
		{"lost other id", bidding, BidLost{RequestID: "r2"}, bidding, ErrStaleEvent},
		{"lost twice", Browsing{}, BidLost{RequestID: "r1"}, Browsing{}, ErrStaleEvent},
		{"expired", bidding, BidExpired{RequestID: "r1"}, Browsing{}, nil},
		{"aborted", bidding, BidAborted{RequestID: "r1"}, Browsing{}, nil},
		{"deferred", bidding, BidDeferred{RequestID: "r1"}, Browsing{}, nil},

		{"accepted with ride", bidding, BidAccepted{RequestID: "r1", RideID: "ride1"}, Assigned{RideID: "ride1", RequestID: "r1"}, nil},
		{"accepted pending ride", bidding, BidAccepted{RequestID: "r1"}, AwaitingAssignment{RequestID: "r1"}, nil},
		{"accepted duplicate while awaiting", AwaitingAssignment{RequestID: "r1"}, BidAccepted{RequestID: "r1"}, AwaitingAssignment{RequestID: "r1"}, nil},
		{"accepted late ride id", AwaitingAssignment{RequestID: "r1"}, BidAccepted{RequestID: "r1", RideID: "ride1"}, Assigned{RideID: "ride1", RequestID: "r1"}, nil},
		{"accepted not bidding", Browsing{}, BidAccepted{RequestID: "r1"}, Browsing{}, ErrStaleEvent},
		{"accepted other id", bidding, BidAccepted{RequestID: "r9"}, bidding, ErrStaleEvent},
		{"accepted duplicate after assigned", Assigned{RideID: "ride1", RequestID: "r1"}, BidAccepted{RequestID: "r1"}, Assigned{RideID: "ride1", RequestID: "r1"}, nil},

		{"resolved", AwaitingAssignment{RequestID: "r1"}, AssignmentResolved{RequestID: "r1", RideID: "ride1"}, Assigned{RideID: "ride1", RequestID: "r1"}, nil},
		{"resolved without ride", AwaitingAssignment{RequestID: "r1"}, AssignmentResolved{RequestID: "r1"}, AwaitingAssignment{RequestID: "r1"}, ErrStaleEvent},

		{"started", Assigned{RideID: "ride1"}, RideStarted{RideID: "ride1", At: now}, InProgress{RideID: "ride1", StartedAt: now}, nil},
		{"started stamps now", Assigned{RideID: "ride1"}, RideStarted{}, InProgress{RideID: "ride1", StartedAt: now}, nil},
		{"started other ride", Assigned{RideID: "ride1"}, RideStarted{RideID: "ride2"}, Assigned{RideID: "ride1"}, ErrStaleEvent},
		{"started while browsing", Browsing{}, RideStarted{RideID: "ride1"}, Browsing{}, ErrStaleEvent},

		{"completed", InProgress{RideID: "ride1", StartedAt: now}, RideCompleted{RideID: "ride1"}, Completed{RideID: "ride1"}, nil},
		{"completed replay", Completed{RideID: "ride1"}, RideCompleted{RideID: "ride1"}, Completed{RideID: "ride1"}, nil},
		{"completed before start", Assigned{RideID: "ride1"}, RideCompleted{RideID: "ride1"}, Assigned{RideID: "ride1"}, ErrStaleEvent},

		{"cancel held ride", InProgress{RideID: "ride1"}, RideCancelled{RideID: "ride1", Reason: "passenger"}, Cancelled{RideID: "ride1", Reason: "passenger"}, nil},
		{"cancel awaiting", AwaitingAssignment{RequestID: "r1"}, RideCancelled{RideID: "ride1"}, Cancelled{RideID: "ride1"}, nil},
		{"cancel other ride", Assigned{RideID: "ride1"}, RideCancelled{RideID: "ride2"}, Assigned{RideID: "ride1"}, ErrStaleEvent},
		{"cancel while browsing", Browsing{}, RideCancelled{RideID: "ride1"}, Idle{}, nil},
		{"cancel while bidding", bidding, RideCancelled{}, Idle{}, nil},
		{"cancel replay", Cancelled{RideID: "ride1"}, RideCancelled{RideID: "ride1"}, Cancelled{RideID: "ride1"}, nil},
		{"cancel after completion", Completed{RideID: "ride1"}, RideCancelled{RideID: "ride1"}, Completed{RideID: "ride1"}, ErrStaleEvent},

		{"ack completed", Completed{RideID: "ride1"}, Acknowledge{}, Idle{}, nil},
		{"ack cancelled", Cancelled{RideID: "ride1"}, Acknowledge{}, Idle{}, nil},
		{"ack in progress", InProgress{RideID: "ride1"}, Acknowledge{}, InProgress{RideID: "ride1"}, ErrInvalidTransition},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Next(c.from, c.ev, now)
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, c.want, got)
		})
	}
}

func TestViewOf(t *testing.T) {
	exp := time.Unix(100, 0)
	v := ViewOf(Bidding{RequestID: "r1", OfferedFare: 25, ExpiresAt: exp})
	assert.Equal(t, "bidding", v.State)
	assert.Equal(t, "r1", v.RequestID)
	assert.Equal(t, 25.0, v.OfferedFare)
	assert.Equal(t, exp, *v.ExpiresAt)

	v = ViewOf(Cancelled{RideID: "ride1", Reason: "no show"})
	assert.Equal(t, "ride1", v.RideID)
	assert.Equal(t, "no show", v.Reason)

	assert.Equal(t, "idle", ViewOf(nil).State)
}
