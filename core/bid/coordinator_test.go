package bid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ridesync/core/connection"
	"github.com/kilianp07/ridesync/core/dispatch"
	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/protocol"
	"github.com/kilianp07/ridesync/core/rideset"
	"github.com/kilianp07/ridesync/infra/logger"
)

type fakeSender struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      []protocol.Message
	onSend    func(protocol.Message)
}

func (f *fakeSender) State() model.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return model.ConnectionState{Status: model.Connected}
	}
	return model.ConnectionState{Status: model.Disconnected}
}

func (f *fakeSender) Send(_ context.Context, msg protocol.Message) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	f.sent = append(f.sent, msg)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (f *fakeSender) messages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.sent...)
}

type fakeFunds struct {
	enough bool
	err    error
	calls  int
}

func (f *fakeFunds) HasEnoughFunds(context.Context, string) (bool, error) {
	f.calls++
	return f.enough, f.err
}

type fakeRides struct {
	ride model.ActiveRide
	ok   bool
}

func (f fakeRides) ActiveRide(context.Context) (model.ActiveRide, bool, error) {
	return f.ride, f.ok, nil
}

type bidRecorder struct {
	metrics.NopSink
	mu     sync.Mutex
	events []metrics.BidEvent
}

func (b *bidRecorder) RecordBid(ev metrics.BidEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

type harness struct {
	machine *lifecycle.Machine
	router  *dispatch.Router
	sender  *fakeSender
	funds   *fakeFunds
	rec     *bidRecorder
	coord   *Coordinator
}

func newHarness(t *testing.T, timeout time.Duration, rides ActiveRidePuller) *harness {
	t.Helper()
	h := &harness{
		machine: lifecycle.NewMachine(logger.NopLogger{}, nil),
		sender:  &fakeSender{connected: true},
		funds:   &fakeFunds{enough: true},
		rec:     &bidRecorder{},
	}
	h.router = dispatch.NewRouter(rideset.New(rideset.Options{}), h.machine, logger.NopLogger{}, nil)
	h.coord = NewCoordinator(Config{Timeout: timeout, RiderID: "rider-7"}, h.sender, h.machine, h.router, h.funds, rides, logger.NopLogger{}, h.rec)
	h.router.SetResolver(h.coord)
	_, err := h.machine.Submit(lifecycle.GoOnline{})
	require.NoError(t, err)
	return h
}

func offer(id string, fare float64) dispatch.NewRequest {
	return dispatch.NewRequest{Snapshot: model.RideRequestSnapshot{ID: id, EstimatedFare: fare, PaymentMethod: "cash"}}
}

func TestPlaceBidInsufficientFundsSendsNothing(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.funds.enough = false
	h.router.Handle(offer("r1", 20))

	out, err := h.coord.PlaceBid(context.Background(), "r1", 20)
	assert.ErrorIs(t, err, lifecycle.ErrInsufficientFunds)
	assert.Nil(t, out)
	assert.Empty(t, h.sender.messages())
	assert.Equal(t, lifecycle.Browsing{}, h.machine.Current())
	assert.True(t, h.router.Requests()[0].ID == "r1")
}

func TestPlaceBidAlreadyInFlight(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.router.Handle(offer("r1", 20))
	h.router.Handle(offer("r2", 30))
	_, err := h.machine.Submit(lifecycle.BidStarted{RequestID: "r1", Fare: 20})
	require.NoError(t, err)

	_, err = h.coord.PlaceBid(context.Background(), "r2", 30)
	assert.ErrorIs(t, err, lifecycle.ErrBidAlreadyInFlight)
	assert.Equal(t, lifecycle.Bidding{RequestID: "r1", OfferedFare: 20}, h.machine.Current())
	assert.Zero(t, h.funds.calls)
	assert.Empty(t, h.sender.messages())
}

type gatedFunds struct {
	entered chan struct{}
	release chan struct{}
}

func (f *gatedFunds) HasEnoughFunds(context.Context, string) (bool, error) {
	f.entered <- struct{}{}
	<-f.release
	return true, nil
}

type bidResult struct {
	out Outcome
	err error
}

func TestPlaceBidDuplicateKeepsLiveBid(t *testing.T) {
	h := newHarness(t, 2*time.Second, nil)
	funds := &gatedFunds{entered: make(chan struct{}, 2), release: make(chan struct{})}
	h.coord = NewCoordinator(Config{Timeout: 2 * time.Second, RiderID: "rider-7"}, h.sender, h.machine, h.router, funds, nil, logger.NopLogger{}, h.rec)
	h.router.SetResolver(h.coord)
	h.router.Handle(offer("r1", 20))

	results := make(chan bidResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			out, err := h.coord.PlaceBid(context.Background(), "r1", 20)
			results <- bidResult{out, err}
		}()
	}
	<-funds.entered
	<-funds.entered

	funds.release <- struct{}{}
	require.Eventually(t, func() bool {
		_, bidding := h.machine.Current().(lifecycle.Bidding)
		return bidding && h.coord.Pending("r1")
	}, time.Second, 5*time.Millisecond)

	funds.release <- struct{}{}
	second := <-results
	assert.ErrorIs(t, second.err, lifecycle.ErrBidAlreadyInFlight)
	assert.True(t, h.coord.Pending("r1"))

	h.router.Handle(dispatch.BidAccepted{RequestID: "r1", RideID: "ride-1"})
	first := <-results
	require.NoError(t, first.err)
	assert.Equal(t, Accepted{RideID: "ride-1"}, first.out)
	assert.Equal(t, lifecycle.Assigned{RideID: "ride-1", RequestID: "r1"}, h.machine.Current())
	assert.Len(t, h.sender.messages(), 1)
}

func TestPlaceBidNotConnected(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.sender.connected = false
	h.router.Handle(offer("r1", 20))

	_, err := h.coord.PlaceBid(context.Background(), "r1", 20)
	assert.ErrorIs(t, err, connection.ErrNotConnected)
	assert.Zero(t, h.funds.calls)
}

func TestPlaceBidUnavailableRequest(t *testing.T) {
	h := newHarness(t, time.Second, nil)

	out, err := h.coord.PlaceBid(context.Background(), "r1", 20)
	require.NoError(t, err)
	assert.Equal(t, Lost{Reason: ReasonUnavailable}, out)
	assert.Zero(t, h.funds.calls)
	assert.Empty(t, h.sender.messages())
}

func TestPlaceBidAccepted(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.router.Handle(offer("r1", 20))
	h.sender.onSend = func(protocol.Message) {
		h.router.Handle(dispatch.BidAccepted{RequestID: "r1", RideID: "ride1"})
	}

	out, err := h.coord.PlaceBid(context.Background(), "r1", 22)
	require.NoError(t, err)
	assert.Equal(t, Accepted{RideID: "ride1"}, out)
	assert.Equal(t, lifecycle.Assigned{RideID: "ride1", RequestID: "r1"}, h.machine.Current())
	assert.Empty(t, h.router.Requests())
	assert.False(t, h.coord.Pending("r1"))

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.PlaceBid{RiderID: "rider-7", RideRequestID: "r1", Price: 22, StartType: "standard"}, msgs[0])

	require.Len(t, h.rec.events, 1)
	assert.Equal(t, "accepted", h.rec.events[0].Outcome)
}

func TestPlaceBidAwaitingPullsActiveRide(t *testing.T) {
	h := newHarness(t, time.Second, fakeRides{ride: model.ActiveRide{RideID: "ride9", RequestID: "r1"}, ok: true})
	h.router.Handle(offer("r1", 20))
	h.sender.onSend = func(protocol.Message) {
		h.router.Handle(dispatch.BidAccepted{RequestID: "r1"})
	}

	out, err := h.coord.PlaceBid(context.Background(), "r1", 20)
	require.NoError(t, err)
	assert.Equal(t, Accepted{RideID: "ride9"}, out)
	assert.Equal(t, lifecycle.Assigned{RideID: "ride9", RequestID: "r1"}, h.machine.Current())
}

func TestPlaceBidAwaitingWithoutRide(t *testing.T) {
	h := newHarness(t, time.Second, fakeRides{})
	h.router.Handle(offer("r1", 20))
	h.sender.onSend = func(protocol.Message) {
		h.router.Handle(dispatch.BidAccepted{RequestID: "r1"})
	}

	out, err := h.coord.PlaceBid(context.Background(), "r1", 20)
	require.NoError(t, err)
	assert.Equal(t, Accepted{}, out)
	assert.Equal(t, lifecycle.AwaitingAssignment{RequestID: "r1"}, h.machine.Current())
}

func TestPlaceBidScheduled(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.router.Handle(offer("r1", 20))
	h.sender.onSend = func(protocol.Message) {
		h.router.Handle(dispatch.BidScheduled{RequestID: "r1", Message: "scheduled"})
	}

	out, err := h.coord.PlaceBid(context.Background(), "r1", 20)
	require.NoError(t, err)
	assert.Equal(t, Accepted{Scheduled: true}, out)
	assert.Equal(t, lifecycle.Browsing{}, h.machine.Current())
	assert.Empty(t, h.router.Requests())
}

func TestPlaceBidTimesOut(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, nil)
	h.router.Handle(offer("r1", 20))

	out, err := h.coord.PlaceBid(context.Background(), "r1", 20)
	require.NoError(t, err)
	assert.Equal(t, TimedOut{}, out)
	assert.Equal(t, lifecycle.Browsing{}, h.machine.Current())
	assert.False(t, h.coord.Pending("r1"))

	// A late acceptance for the expired bid is a no-op.
	d := h.router.Handle(dispatch.BidAccepted{RequestID: "r1", RideID: "ride1"})
	assert.Equal(t, dispatch.DropStale, d.Drop)
	assert.Equal(t, lifecycle.Browsing{}, h.machine.Current())
}

func TestPlaceBidSendFailureAborts(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.router.Handle(offer("r1", 20))
	h.sender.err = connection.ErrNotConnected

	_, err := h.coord.PlaceBid(context.Background(), "r1", 20)
	assert.ErrorIs(t, err, connection.ErrNotConnected)
	assert.Equal(t, lifecycle.Browsing{}, h.machine.Current())
	assert.False(t, h.coord.Pending("r1"))
}

func TestPlaceBidFundsCheckError(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.router.Handle(offer("r1", 20))
	h.funds.err = errors.New("wallet down")

	_, err := h.coord.PlaceBid(context.Background(), "r1", 20)
	assert.ErrorContains(t, err, "wallet down")
	assert.Equal(t, lifecycle.Browsing{}, h.machine.Current())
}

// new r1 at 20, raised to 25, then a bid races an assigned-elsewhere push.
// Whatever the interleaving the bid is lost and r1 is gone.
func TestPlaceBidRacesAssignedElsewhere(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t, 2*time.Second, nil)
		h.router.Handle(offer("r0", 10))
		h.router.Handle(offer("r1", 20))
		require.Len(t, h.router.Requests(), 2)

		h.router.Handle(dispatch.FareRaised{RequestID: "r1", Fare: 25, HasFare: true})
		reqs := h.router.Requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, "r1", reqs[1].ID)
		assert.Equal(t, 25.0, reqs[1].EstimatedFare)

		start := make(chan struct{})
		var wg sync.WaitGroup
		var out Outcome
		var err error
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			out, err = h.coord.PlaceBid(context.Background(), "r1", 25)
		}()
		go func() {
			defer wg.Done()
			<-start
			h.router.Handle(dispatch.Withdrawn{RequestID: "r1", AssignedElsewhere: true})
		}()
		close(start)
		wg.Wait()

		require.NoError(t, err)
		assert.IsType(t, Lost{}, out)
		for _, r := range h.router.Requests() {
			assert.NotEqual(t, "r1", r.ID)
		}
		assert.Equal(t, lifecycle.Browsing{}, h.machine.Current())
		assert.False(t, h.coord.Pending("r1"))
	}
}

func TestResolveWithoutPendingBid(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.coord.Resolve(dispatch.Resolution{RequestID: "r1", Kind: dispatch.ResolvedLost})
	assert.False(t, h.coord.Pending("r1"))
}
