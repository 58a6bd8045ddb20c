// Package bid places bids on ride requests and resolves their outcome.
package bid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/ridesync/core/connection"
	"github.com/kilianp07/ridesync/core/dispatch"
	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/protocol"
)

// DefaultTimeout matches the progress indicator shown while a bid is pending.
const DefaultTimeout = 10 * time.Second

// Config tunes the coordinator.
type Config struct {
	Timeout time.Duration `json:"timeout"`
	// RiderID identifies the driver in place-bid messages.
	RiderID string `json:"rider_id"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Sender is the part of the connection manager the coordinator uses.
type Sender interface {
	State() model.ConnectionState
	Send(ctx context.Context, msg protocol.Message) error
}

// FundsChecker asks the wallet service whether the driver can take a ride.
type FundsChecker interface {
	HasEnoughFunds(ctx context.Context, requestID string) (bool, error)
}

// ActiveRidePuller fetches the driver's current ride. ok is false when the
// driver has none.
type ActiveRidePuller interface {
	ActiveRide(ctx context.Context) (ride model.ActiveRide, ok bool, err error)
}

// Gate runs fn while no dispatch event is being applied.
type Gate interface {
	Atomically(fn func(dispatch.View) error) error
}

type pending struct {
	ch chan dispatch.Resolution
}

// Coordinator places one bid at a time. Outcomes are matched to bids by
// request id only, so a reconnect in the middle of a bid changes nothing.
type Coordinator struct {
	cfg     Config
	conn    Sender
	machine *lifecycle.Machine
	gate    Gate
	funds   FundsChecker
	rides   ActiveRidePuller
	log     logger.Logger
	metrics metrics.BidRecorder
	now     func() time.Time

	pendingMu sync.Mutex
	pending   map[string]*pending
}

// NewCoordinator wires a coordinator. rides and rec may be nil.
func NewCoordinator(cfg Config, conn Sender, machine *lifecycle.Machine, gate Gate, funds FundsChecker, rides ActiveRidePuller, log logger.Logger, rec metrics.BidRecorder) *Coordinator {
	cfg.SetDefaults()
	if rec == nil {
		rec = metrics.NopSink{}
	}
	return &Coordinator{
		cfg:     cfg,
		conn:    conn,
		machine: machine,
		gate:    gate,
		funds:   funds,
		rides:   rides,
		log:     logger.Nop(log),
		metrics: rec,
		now:     time.Now,
		pending: make(map[string]*pending),
	}
}

// SetRiderID updates the rider id sent with bids.
func (c *Coordinator) SetRiderID(id string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.cfg.RiderID = id
}

// PlaceBid offers fare for requestID and waits for the outcome.
//
// It fails with lifecycle.ErrBidAlreadyInFlight while another bid is
// pending, connection.ErrNotConnected when offline and
// lifecycle.ErrInsufficientFunds when the wallet check fails; in that last
// case nothing is sent. A request that left the cache resolves as Lost.
func (c *Coordinator) PlaceBid(ctx context.Context, requestID string, fare float64) (Outcome, error) {
	start := c.now()
	s := c.machine.Current()
	if lifecycle.BidInFlight(s) {
		return nil, lifecycle.ErrBidAlreadyInFlight
	}
	if _, browsing := s.(lifecycle.Browsing); !browsing {
		return nil, fmt.Errorf("%w: bid in state %s", lifecycle.ErrInvalidTransition, s.Name())
	}
	if !c.conn.State().IsConnected() {
		return nil, connection.ErrNotConnected
	}

	var snap model.RideRequestSnapshot
	var ok bool
	_ = c.gate.Atomically(func(v dispatch.View) error {
		snap, ok = v.Get(requestID)
		return nil
	})
	if !ok {
		return c.finish(requestID, fare, start, Lost{Reason: ReasonUnavailable}, nil)
	}

	enough, err := c.funds.HasEnoughFunds(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("funds check for %s: %w", requestID, err)
	}
	if !enough {
		_ = c.metrics.RecordBid(metrics.BidEvent{RequestID: requestID, Fare: fare, Outcome: "insufficient_funds", Time: c.now()})
		return nil, lifecycle.ErrInsufficientFunds
	}

	p, lost, err := c.begin(requestID, fare)
	if err != nil {
		return nil, err
	}
	if lost {
		return c.finish(requestID, fare, start, Lost{Reason: ReasonUnavailable}, nil)
	}

	c.pendingMu.Lock()
	riderID := c.cfg.RiderID
	c.pendingMu.Unlock()
	msg := protocol.PlaceBid{RiderID: riderID, RideRequestID: requestID, Price: fare, StartType: snap.Kind.String()}
	if err := c.conn.Send(ctx, msg); err != nil {
		c.abort(requestID, p)
		_ = c.metrics.RecordBid(metrics.BidEvent{RequestID: requestID, Fare: fare, Outcome: "aborted", Reason: err.Error(), Time: c.now()})
		return nil, fmt.Errorf("place bid %s: %w", requestID, err)
	}
	c.log.Infof("bid placed on %s at %.2f", requestID, fare)

	out, err := c.await(ctx, requestID, p)
	return c.finish(requestID, fare, start, out, err)
}

// begin atomically re-checks the request and enters Bidding. lost is true
// when the request disappeared since the first check.
func (c *Coordinator) begin(requestID string, fare float64) (p *pending, lost bool, err error) {
	err = c.gate.Atomically(func(v dispatch.View) error {
		if !v.Contains(requestID) {
			lost = true
			return nil
		}
		ev := lifecycle.BidStarted{RequestID: requestID, Fare: fare, ExpiresAt: c.now().Add(c.cfg.Timeout)}
		if _, err := c.machine.Submit(ev); err != nil {
			return err
		}
		// Registered only once Bidding is entered; the handling lock keeps
		// resolutions out until then.
		c.pendingMu.Lock()
		_, busy := c.pending[requestID]
		if !busy {
			p = &pending{ch: make(chan dispatch.Resolution, 2)}
			c.pending[requestID] = p
		}
		c.pendingMu.Unlock()
		if busy {
			_, _ = c.machine.Submit(lifecycle.BidAborted{RequestID: requestID})
			return lifecycle.ErrBidAlreadyInFlight
		}
		return nil
	})
	return p, lost, err
}

func (c *Coordinator) await(ctx context.Context, requestID string, p *pending) (Outcome, error) {
	defer c.unregister(requestID, p)
	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		return c.outcome(ctx, requestID, p, res), nil
	case <-timer.C:
		if res, ok := c.expire(requestID, p); ok {
			return c.outcome(ctx, requestID, p, res), nil
		}
		return TimedOut{}, nil
	case <-ctx.Done():
		if res, ok := c.expire(requestID, p); ok {
			return c.outcome(ctx, requestID, p, res), nil
		}
		return TimedOut{}, ctx.Err()
	}
}

func (c *Coordinator) outcome(ctx context.Context, requestID string, p *pending, res dispatch.Resolution) Outcome {
	switch res.Kind {
	case dispatch.ResolvedScheduled:
		return Accepted{Scheduled: true}
	case dispatch.ResolvedAccepted:
		return Accepted{RideID: res.RideID}
	case dispatch.ResolvedAwaiting:
		return Accepted{RideID: c.resolveAssignment(ctx, requestID, p)}
	}
	return Lost{Reason: res.Reason}
}

// expire settles the bid locally unless a resolution was delivered first,
// in which case that resolution is returned.
func (c *Coordinator) expire(requestID string, p *pending) (res dispatch.Resolution, resolved bool) {
	_ = c.gate.Atomically(func(dispatch.View) error {
		select {
		case res = <-p.ch:
			resolved = true
			return nil
		default:
		}
		c.unregister(requestID, p)
		if _, err := c.machine.Submit(lifecycle.BidExpired{RequestID: requestID}); err != nil {
			c.log.Debugf("bid %s expiry: %v", requestID, err)
		}
		return nil
	})
	return res, resolved
}

// resolveAssignment learns the ride id after an acceptance that did not
// carry one. It returns "" when the ride is still unknown; the state then
// stays AwaitingAssignment until a later push or pull resolves it.
func (c *Coordinator) resolveAssignment(ctx context.Context, requestID string, p *pending) string {
	select {
	case res := <-p.ch:
		if res.Kind == dispatch.ResolvedAccepted {
			return res.RideID
		}
	default:
	}
	if c.rides == nil {
		return ""
	}
	ride, ok, err := c.rides.ActiveRide(ctx)
	if err != nil {
		c.log.Warnf("active ride pull after bid %s: %v", requestID, err)
		return ""
	}
	if !ok || ride.RideID == "" {
		return ""
	}
	if _, err := c.machine.Submit(lifecycle.AssignmentResolved{RequestID: requestID, RideID: ride.RideID}); err != nil {
		c.log.Debugf("assignment for %s: %v", requestID, err)
	}
	if rid := lifecycle.RideID(c.machine.Current()); rid != "" {
		return rid
	}
	return ride.RideID
}

func (c *Coordinator) abort(requestID string, p *pending) {
	_ = c.gate.Atomically(func(dispatch.View) error {
		c.unregister(requestID, p)
		if _, err := c.machine.Submit(lifecycle.BidAborted{RequestID: requestID}); err != nil {
			c.log.Debugf("bid %s abort: %v", requestID, err)
		}
		return nil
	})
}

// Resolve delivers a resolution from the dispatch router. Resolutions for
// bids that are not pending are ignored.
func (c *Coordinator) Resolve(res dispatch.Resolution) {
	c.pendingMu.Lock()
	p := c.pending[res.RequestID]
	c.pendingMu.Unlock()
	if p == nil {
		c.log.Debugf("no pending bid for %s resolution %s", res.RequestID, res.Kind)
		return
	}
	select {
	case p.ch <- res:
	default:
		c.log.Warnf("bid %s: dropping %s resolution", res.RequestID, res.Kind)
	}
}

// Pending reports whether a bid on requestID awaits its outcome.
func (c *Coordinator) Pending(requestID string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	_, ok := c.pending[requestID]
	return ok
}

// unregister removes p; another bid's entry under the same id is kept.
func (c *Coordinator) unregister(requestID string, p *pending) {
	c.pendingMu.Lock()
	if c.pending[requestID] == p {
		delete(c.pending, requestID)
	}
	c.pendingMu.Unlock()
}

func (c *Coordinator) finish(requestID string, fare float64, start time.Time, out Outcome, err error) (Outcome, error) {
	ev := metrics.BidEvent{RequestID: requestID, Fare: fare, Latency: c.now().Sub(start), Time: c.now()}
	if out != nil {
		ev.Outcome = out.Name()
		if l, ok := out.(Lost); ok {
			ev.Reason = l.Reason
		}
		c.log.Infof("bid on %s: %s", requestID, out.Name())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		ev.Reason = err.Error()
	}
	_ = c.metrics.RecordBid(ev)
	return out, err
}
