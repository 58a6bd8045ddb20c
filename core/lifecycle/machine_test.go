package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ridesync/infra/logger"
)

func TestMachineBidAlreadyInFlightLeavesBid(t *testing.T) {
	m := NewMachine(logger.NopLogger{}, nil)
	_, err := m.Submit(GoOnline{})
	require.NoError(t, err)
	_, err = m.Submit(BidStarted{RequestID: "r1", Fare: 20})
	require.NoError(t, err)

	_, err = m.Submit(BidStarted{RequestID: "r2", Fare: 30})
	assert.ErrorIs(t, err, ErrBidAlreadyInFlight)
	assert.Equal(t, Bidding{RequestID: "r1", OfferedFare: 20}, m.Current())
}

func TestMachineStaleAcceptIsNoop(t *testing.T) {
	m := NewMachine(logger.NopLogger{}, nil)
	_, _ = m.Submit(GoOnline{})
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	tr, err := m.Submit(BidAccepted{RequestID: "r1"})
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.False(t, tr.Changed())
	assert.Equal(t, Browsing{}, m.Current())
	select {
	case got := <-ch:
		t.Fatalf("unexpected transition %v", got)
	default:
	}
}

func TestMachineCompletedReplay(t *testing.T) {
	m := NewMachine(logger.NopLogger{}, nil)
	for _, ev := range []Event{
		GoOnline{},
		BidStarted{RequestID: "r1", Fare: 20},
		BidAccepted{RequestID: "r1", RideID: "ride1"},
		RideStarted{RideID: "ride1"},
		RideCompleted{RideID: "ride1"},
	} {
		_, err := m.Submit(ev)
		require.NoError(t, err, ev.EventName())
	}
	assert.Equal(t, Completed{RideID: "ride1"}, m.Current())

	tr, err := m.Submit(RideCompleted{RideID: "ride1"})
	assert.NoError(t, err)
	assert.False(t, tr.Changed())
	assert.Equal(t, Completed{RideID: "ride1"}, m.Current())
}

func TestMachinePublishesTransitions(t *testing.T) {
	m := NewMachine(logger.NopLogger{}, nil)
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	var seen []string
	unsubscribe := m.OnChange(func(s State) { seen = append(seen, s.Name()) })
	defer unsubscribe()

	_, _ = m.Submit(GoOnline{})
	_, _ = m.Submit(GoOnline{})
	m.Reset()

	select {
	case tr := <-ch:
		assert.Equal(t, "idle", tr.From.Name())
		assert.Equal(t, "browsing", tr.To.Name())
		assert.Equal(t, "go_online", tr.Event.EventName())
	case <-time.After(time.Second):
		t.Fatal("no transition")
	}
	assert.Equal(t, []string{"browsing", "idle"}, seen)
}
