package dispatch

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/rideset"
)

func snap(id string, fare float64) model.RideRequestSnapshot {
	return model.RideRequestSnapshot{ID: id, EstimatedFare: fare, PaymentMethod: "cash"}
}

func setWith(snaps ...model.RideRequestSnapshot) *rideset.Set {
	s := rideset.New(rideset.Options{})
	for _, sn := range snaps {
		s.Insert(sn)
	}
	return s
}

func TestReduceRequests(t *testing.T) {
	removed := setWith()
	removed.Remove("gone")
	full := snap("r1", 40)
	full.Pickup.Address = "Main St"

	cases := []struct {
		name string
		view View
		ev   Event
		want Delta
	}{
		{"insert", setWith(), NewRequest{Snapshot: snap("r1", 20)}, Delta{Change: rideset.Change{Op: rideset.OpInsert, ID: "r1", Snapshot: snap("r1", 20)}}},
		{"insert missing id", setWith(), NewRequest{}, Delta{Drop: DropMissingID}},
		{"insert duplicate", setWith(snap("r1", 20)), NewRequest{Snapshot: snap("r1", 20)}, Delta{Drop: DropDuplicate}},
		{"insert after withdrawn", removed, NewRequest{Snapshot: snap("gone", 20)}, Delta{Drop: DropRemoved}},
		{"raise fare only", setWith(snap("r1", 20)), FareRaised{RequestID: "r1", Fare: 25, HasFare: true}, Delta{Change: rideset.Change{Op: rideset.OpReplace, ID: "r1", Snapshot: snap("r1", 25)}}},
		{"raise full snapshot", setWith(snap("r1", 20)), FareRaised{RequestID: "r1", Fare: 40, HasFare: true, Snapshot: &full}, Delta{Change: rideset.Change{Op: rideset.OpReplace, ID: "r1", Snapshot: full}}},
		{"raise unknown", setWith(), FareRaised{RequestID: "r1", Fare: 25, HasFare: true}, Delta{Drop: DropUnknown}},
		{"raise without fare", setWith(snap("r1", 20)), FareRaised{RequestID: "r1"}, Delta{Drop: DropNoFare}},
		{"withdraw", setWith(snap("r1", 20)), Withdrawn{RequestID: "r1"}, Delta{Change: rideset.Change{Op: rideset.OpRemove, ID: "r1"}}},
		{"withdraw unseen", setWith(), Withdrawn{RequestID: "r9"}, Delta{Change: rideset.Change{Op: rideset.OpRemove, ID: "r9"}}},
		{"withdraw missing id", setWith(), Withdrawn{}, Delta{Drop: DropMissingID}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Reduce(c.view, lifecycle.Browsing{}, c.ev))
		})
	}
}

func TestReduceLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bidding := lifecycle.Bidding{RequestID: "r1", OfferedFare: 25}
	awaiting := lifecycle.AwaitingAssignment{RequestID: "r1"}
	assigned := lifecycle.Assigned{RideID: "ride1", RequestID: "r1"}
	inProgress := lifecycle.InProgress{RideID: "ride1", StartedAt: now}
	remove := rideset.Change{Op: rideset.OpRemove, ID: "r1"}

	cases := []struct {
		name  string
		state lifecycle.State
		ev    Event
		want  Delta
	}{
		{"lost to another driver", bidding, Withdrawn{RequestID: "r1", AssignedElsewhere: true}, Delta{
			Change:     remove,
			Lifecycle:  lifecycle.BidLost{RequestID: "r1", Reason: "assigned elsewhere"},
			Resolution: &Resolution{RequestID: "r1", Kind: ResolvedLost, Reason: "assigned elsewhere"},
		}},
		{"withdrawn other request while bidding", bidding, Withdrawn{RequestID: "r2"}, Delta{Change: rideset.Change{Op: rideset.OpRemove, ID: "r2"}}},

		{"accepted with ride", bidding, BidAccepted{RequestID: "r1", RideID: "ride1"}, Delta{
			Change:     remove,
			Lifecycle:  lifecycle.BidAccepted{RequestID: "r1", RideID: "ride1"},
			Resolution: &Resolution{RequestID: "r1", Kind: ResolvedAccepted, RideID: "ride1"},
		}},
		{"accepted ride pending", bidding, BidAccepted{RequestID: "r1"}, Delta{
			Change:     remove,
			Lifecycle:  lifecycle.BidAccepted{RequestID: "r1"},
			Resolution: &Resolution{RequestID: "r1", Kind: ResolvedAwaiting},
		}},
		{"accepted late ride id", awaiting, BidAccepted{RequestID: "r1", RideID: "ride1"}, Delta{
			Change:     remove,
			Lifecycle:  lifecycle.BidAccepted{RequestID: "r1", RideID: "ride1"},
			Resolution: &Resolution{RequestID: "r1", Kind: ResolvedAccepted, RideID: "ride1"},
		}},
		{"accepted repeat while awaiting", awaiting, BidAccepted{RequestID: "r1"}, Delta{Drop: DropDuplicate}},
		{"accepted repeat after assignment", assigned, BidAccepted{RequestID: "r1", RideID: "ride1"}, Delta{Drop: DropDuplicate}},
		{"accepted not bidding", lifecycle.Browsing{}, BidAccepted{RequestID: "r1"}, Delta{Drop: DropStale}},
		{"accepted other request", bidding, BidAccepted{RequestID: "r2"}, Delta{Drop: DropStale}},

		{"scheduled for bid", bidding, BidScheduled{RequestID: "r1", Message: "later"}, Delta{
			Change:     remove,
			Lifecycle:  lifecycle.BidDeferred{RequestID: "r1"},
			Resolution: &Resolution{RequestID: "r1", Kind: ResolvedScheduled},
			Notices:    []Notice{{Kind: NoticeScheduled, RequestID: "r1", Message: "later"}},
		}},
		{"scheduled without request", bidding, BidScheduled{Message: "later"}, Delta{
			Notices: []Notice{{Kind: NoticeScheduled, Message: "later"}},
		}},

		{"started", assigned, RideStarted{RideID: "ride1", At: now}, Delta{Lifecycle: lifecycle.RideStarted{RideID: "ride1", At: now}}},
		{"started other ride", assigned, RideStarted{RideID: "ride2"}, Delta{Drop: DropStale}},
		{"started twice", inProgress, RideStarted{RideID: "ride1"}, Delta{Drop: DropDuplicate}},
		{"started before assignment", bidding, RideStarted{RideID: "ride1"}, Delta{Drop: DropStale}},

		{"completed", inProgress, RideCompleted{RideID: "ride1"}, Delta{Lifecycle: lifecycle.RideCompleted{RideID: "ride1"}}},
		{"completed replay", lifecycle.Completed{RideID: "ride1"}, RideCompleted{RideID: "ride1"}, Delta{Lifecycle: lifecycle.RideCompleted{RideID: "ride1"}}},
		{"completed before start", assigned, RideCompleted{RideID: "ride1"}, Delta{Drop: DropStale}},

		{"cancelled in trip", inProgress, RideCancelled{RideID: "ride1", Reason: "no show"}, Delta{
			Lifecycle: lifecycle.RideCancelled{RideID: "ride1", Reason: "no show"},
			Notices:   []Notice{{Kind: NoticeInterrupt, RideID: "ride1", Message: "Ride has been cancelled: no show"}},
		}},
		{"cancelled while bidding", bidding, RideCancelled{}, Delta{
			Lifecycle:  lifecycle.RideCancelled{},
			Resolution: &Resolution{RequestID: "r1", Kind: ResolvedLost, Reason: "cancelled"},
			Notices:    []Notice{{Kind: NoticeInterrupt, RequestID: "r1", Message: "Ride has been cancelled"}},
		}},
		{"cancelled other ride", assigned, RideCancelled{RideID: "ride2"}, Delta{Drop: DropStale}},
		{"cancelled replay", lifecycle.Cancelled{RideID: "ride1"}, RideCancelled{RideID: "ride1"}, Delta{Drop: DropDuplicate}},
		{"cancelled after completion", lifecycle.Completed{RideID: "ride1"}, RideCancelled{RideID: "ride1"}, Delta{Drop: DropStale}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Reduce(setWith(snap("r1", 25)), c.state, c.ev))
		})
	}
}

// Any interleaving of new / raise / withdraw for the same ids keeps at most
// one snapshot per id, and a withdrawn id never comes back.
func TestReduceNeverDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ids := []string{"a", "b", "c"}
	for run := 0; run < 200; run++ {
		set := rideset.New(rideset.Options{})
		withdrawn := map[string]bool{}
		for step := 0; step < 40; step++ {
			id := ids[rng.Intn(len(ids))]
			var ev Event
			switch rng.Intn(3) {
			case 0:
				ev = NewRequest{Snapshot: snap(id, float64(rng.Intn(50)))}
			case 1:
				ev = FareRaised{RequestID: id, Fare: float64(rng.Intn(50)), HasFare: true}
			default:
				ev = Withdrawn{RequestID: id}
				withdrawn[id] = true
			}
			d := Reduce(set, lifecycle.Browsing{}, ev)
			if !d.Dropped() {
				set.Apply(d.Change)
			}

			seen := map[string]int{}
			for _, s := range set.Snapshot() {
				seen[s.ID]++
			}
			for k, n := range seen {
				require.Equal(t, 1, n, "id %s", k)
				require.False(t, withdrawn[k], "withdrawn id %s is back", k)
			}
		}
	}
}
