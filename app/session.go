// Package app wires the dispatch sync core into one driver session and runs
// the side effects that follow lifecycle transitions.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/ridesync/core/bid"
	"github.com/kilianp07/ridesync/core/connection"
	"github.com/kilianp07/ridesync/core/dispatch"
	"github.com/kilianp07/ridesync/core/journal"
	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/location"
	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/protocol"
	"github.com/kilianp07/ridesync/core/rideset"
)

// ErrOffline is returned by ride operations while the driver is offline.
var ErrOffline = errors.New("driver is offline")

// IdentityProvider yields the handshake identity.
type IdentityProvider interface {
	Identity() (connection.Identity, error)
}

// API is the HTTP surface the session needs.
type API interface {
	bid.FundsChecker
	bid.ActiveRidePuller
	StartRide(ctx context.Context, rideID string) error
	CompleteRide(ctx context.Context, rideID string) error
	NearbyRequests(ctx context.Context, at model.GeoPoint) ([]model.RideRequestSnapshot, error)
	RiderID(ctx context.Context) (string, error)
}

// Options holds the tunables and collaborators of a session. Sink, Journal
// and Log may be nil.
type Options struct {
	Connection connection.Config
	Bid        bid.Config
	Location   location.Config

	Transport connection.Transport
	Identity  IdentityProvider
	API       API
	Source    location.Source
	Sink      metrics.MetricsSink
	Journal   journal.Writer
	Log       logger.Logger
}

// Session is one driver's view of the dispatch service: the connection,
// the cached requests, the ride lifecycle, bidding and location reporting.
type Session struct {
	log   logger.Logger
	api   API
	ident IdentityProvider
	now   func() time.Time

	conn     *connection.Manager
	machine  *lifecycle.Machine
	router   *dispatch.Router
	bids     *bid.Coordinator
	reporter *location.Reporter

	riderID string

	// opMu serializes GoOnline and GoOffline.
	opMu   sync.Mutex
	online bool
	// live mirrors online for readers that must not take opMu.
	live atomic.Bool
	// runCtx lives for the whole session, onlineCancel ends one online period.
	runCtx       context.Context
	runCancel    context.CancelFunc
	onlineCancel context.CancelFunc
	wg           sync.WaitGroup

	rideMu sync.Mutex
	ride   model.ActiveRide

	effects   *effects
	closeOnce sync.Once
}

// NewSession builds a session and starts routing inbound frames. The driver
// starts offline.
func NewSession(o Options) (*Session, error) {
	if o.Transport == nil || o.Identity == nil || o.API == nil || o.Source == nil {
		return nil, fmt.Errorf("app: transport, identity, api and position source are required")
	}
	log := logger.Nop(o.Log)
	var sink metrics.MetricsSink = metrics.NopSink{}
	if o.Sink != nil {
		sink = o.Sink
	}
	o.Bid.SetDefaults()
	o.Location.SetDefaults()

	s := &Session{
		log:     log,
		api:     o.API,
		ident:   o.Identity,
		now:     time.Now,
		riderID: o.Bid.RiderID,
	}
	s.conn = connection.NewManager(o.Transport, o.Connection, log, sink)
	s.machine = lifecycle.NewMachine(log, sink)
	s.router = dispatch.NewRouter(rideset.New(rideset.Options{}), s.machine, log, sink)
	if o.Journal != nil {
		s.router.SetJournal(o.Journal)
	}
	s.bids = bid.NewCoordinator(o.Bid, s.conn, s.machine, s.router, o.API, o.API, log, sink)
	s.router.SetResolver(s.bids)
	s.reporter = location.NewReporter(o.Location, o.Source, s.conn, s.customerID, log, sink)

	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.onlineCancel = func() {}
	s.effects = newEffects(s)
	s.effects.attach()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.router.Run(s.runCtx, s.conn.Inbound())
	}()
	return s, nil
}

// GoOnline connects, starts location reporting in foreground mode and
// begins browsing requests.
func (s *Session) GoOnline(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.online {
		return nil
	}
	id, err := s.ident.Identity()
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := s.conn.Connect(ctx, id); err != nil {
		return err
	}
	if s.riderID == "" {
		if rid, err := s.api.RiderID(ctx); err != nil {
			s.log.Warnf("rider id unavailable, bids and location updates carry none: %v", err)
		} else {
			s.setRiderID(rid)
		}
	}

	onlineCtx, cancel := context.WithCancel(s.runCtx)
	s.onlineCancel = cancel
	s.online = true
	s.live.Store(true)
	if err := s.router.Atomically(func(dispatch.View) error {
		_, err := s.machine.Submit(lifecycle.GoOnline{})
		return err
	}); err != nil {
		s.log.Warnf("go online: %v", err)
	}
	if err := s.reporter.Start(onlineCtx, s.modeFor(s.machine.Current())); err != nil {
		s.log.Errorf("location reporter: %v", err)
	}
	s.log.Infof("driver %s online", id.DriverID)
	return nil
}

// GoOffline stops reporting, closes the connection and clears the cached
// requests and lifecycle state. It is idempotent.
func (s *Session) GoOffline() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.goOfflineLocked()
}

func (s *Session) goOfflineLocked() {
	if !s.online {
		return
	}
	s.online = false
	s.live.Store(false)
	s.onlineCancel()
	s.reporter.Stop()
	s.conn.Disconnect()
	s.router.Reset()
	s.machine.Reset()
	s.setRide(model.ActiveRide{})
	s.log.Infof("driver offline")
}

// Online reports whether the driver is online.
func (s *Session) Online() bool { return s.live.Load() }

func (s *Session) isOnline() bool { return s.live.Load() }

// PlaceBid offers fare for a cached request and waits for the outcome.
func (s *Session) PlaceBid(ctx context.Context, requestID string, fare float64) (bid.Outcome, error) {
	if !s.isOnline() {
		return nil, ErrOffline
	}
	return s.bids.PlaceBid(ctx, requestID, fare)
}

// StartRide marks the assigned ride as started on the server, tells the
// passenger side and moves to InProgress.
func (s *Session) StartRide(ctx context.Context) error {
	cur, ok := s.machine.Current().(lifecycle.Assigned)
	if !ok {
		return fmt.Errorf("%w: start ride in state %s", lifecycle.ErrInvalidTransition, s.machine.Current().Name())
	}
	if err := s.api.StartRide(ctx, cur.RideID); err != nil {
		return fmt.Errorf("start ride %s: %w", cur.RideID, err)
	}
	msg := protocol.RideStarted{RideID: cur.RideID, GenericUserID: s.customerID()}
	if err := s.conn.Send(ctx, msg); err != nil {
		s.log.Warnf("ride-started emit for %s: %v", cur.RideID, err)
	}
	return s.submit(lifecycle.RideStarted{RideID: cur.RideID, At: s.now()})
}

// CompleteRide marks the ride in progress as completed.
func (s *Session) CompleteRide(ctx context.Context) error {
	cur, ok := s.machine.Current().(lifecycle.InProgress)
	if !ok {
		return fmt.Errorf("%w: complete ride in state %s", lifecycle.ErrInvalidTransition, s.machine.Current().Name())
	}
	if err := s.api.CompleteRide(ctx, cur.RideID); err != nil {
		return fmt.Errorf("complete ride %s: %w", cur.RideID, err)
	}
	msg := protocol.RideCompleted{RideID: cur.RideID, GenericUserID: s.customerID()}
	if err := s.conn.Send(ctx, msg); err != nil {
		s.log.Warnf("ride-completed emit for %s: %v", cur.RideID, err)
	}
	return s.submit(lifecycle.RideCompleted{RideID: cur.RideID})
}

// Acknowledge dismisses a completed or cancelled ride and resumes browsing
// when online.
func (s *Session) Acknowledge() error {
	return s.router.Atomically(func(dispatch.View) error {
		if _, err := s.machine.Submit(lifecycle.Acknowledge{}); err != nil {
			return err
		}
		if s.isOnline() {
			_, err := s.machine.Submit(lifecycle.GoOnline{})
			return err
		}
		return nil
	})
}

// RefreshRequests replaces the cached requests with the nearby listing
// around the driver's last fix. It returns the number of requests cached.
func (s *Session) RefreshRequests(ctx context.Context) (int, error) {
	if !s.isOnline() {
		return 0, ErrOffline
	}
	pos := s.reporter.Position()
	if pos.IsZero() {
		return 0, fmt.Errorf("refresh requests: driver position unknown")
	}
	snaps, err := s.api.NearbyRequests(ctx, pos.Point())
	if err != nil {
		return 0, fmt.Errorf("refresh requests: %w", err)
	}
	return s.router.Refresh(snaps), nil
}

// RefreshActiveRide pulls the driver's current ride. It resolves a pending
// assignment and records the passenger for location updates.
func (s *Session) RefreshActiveRide(ctx context.Context) (model.ActiveRide, bool, error) {
	ride, ok, err := s.api.ActiveRide(ctx)
	if err != nil || !ok {
		return ride, ok, err
	}
	err = s.router.Atomically(func(dispatch.View) error {
		cur, ok := s.machine.Current().(lifecycle.AwaitingAssignment)
		if !ok || (ride.RequestID != "" && ride.RequestID != cur.RequestID) {
			return nil
		}
		s.setRide(ride)
		_, err := s.machine.Submit(lifecycle.AssignmentResolved{RequestID: cur.RequestID, RideID: ride.RideID})
		return err
	})
	if lifecycle.RideID(s.machine.Current()) == ride.RideID {
		s.setRide(ride)
	}
	return ride, true, err
}

func (s *Session) submit(ev lifecycle.Event) error {
	return s.router.Atomically(func(dispatch.View) error {
		_, err := s.machine.Submit(ev)
		return err
	})
}

func (s *Session) setRiderID(id string) {
	s.riderID = id
	s.bids.SetRiderID(id)
	s.reporter.SetRiderID(id)
}

func (s *Session) customerID() string {
	s.rideMu.Lock()
	defer s.rideMu.Unlock()
	return s.ride.PassengerID
}

func (s *Session) setRide(r model.ActiveRide) {
	s.rideMu.Lock()
	s.ride = r
	s.rideMu.Unlock()
}

// ActiveRide returns the last pulled ride, if the driver holds one.
func (s *Session) ActiveRide() (model.ActiveRide, bool) {
	s.rideMu.Lock()
	defer s.rideMu.Unlock()
	return s.ride, s.ride.RideID != ""
}

func (s *Session) modeFor(st lifecycle.State) location.Mode {
	if _, ok := st.(lifecycle.InProgress); ok {
		return location.ModeTrip
	}
	return location.ModeForeground
}

// ConnectionState returns the current connection state.
func (s *Session) ConnectionState() model.ConnectionState { return s.conn.State() }

// State returns the current lifecycle state.
func (s *Session) State() lifecycle.State { return s.machine.Current() }

// Requests returns the cached ride requests in display order.
func (s *Session) Requests() []model.RideRequestSnapshot { return s.router.Requests() }

// Position returns the driver's last accepted fix.
func (s *Session) Position() model.DriverPosition { return s.reporter.Position() }

// Connection exposes connection state subscriptions.
func (s *Session) Connection() *connection.Manager { return s.conn }

// Lifecycle exposes the lifecycle state and its transitions.
func (s *Session) Lifecycle() *lifecycle.Machine { return s.machine }

// Router exposes the cached requests and notices.
func (s *Session) Router() *dispatch.Router { return s.router }

// Reporter exposes the driver position.
func (s *Session) Reporter() *location.Reporter { return s.reporter }

// Close goes offline and stops the session. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.GoOffline()
		s.runCancel()
		s.wg.Wait()
		s.effects.detach()
		s.router.Close()
	})
	return nil
}
