// Package location samples the device position and reports it to the
// dispatch service while the driver is online.
package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/protocol"
	"github.com/kilianp07/ridesync/internal/eventbus"
)

// Mode selects the sampling thresholds.
type Mode int

const (
	// ModeForeground is used while browsing requests.
	ModeForeground Mode = iota
	// ModeTrip is the high frequency mode used during a ride.
	ModeTrip
)

func (m Mode) String() string {
	if m == ModeTrip {
		return "trip"
	}
	return "foreground"
}

// Thresholds gate samples: one is accepted once the driver moved
// MinDistance meters or MinInterval elapsed since the last accepted one.
type Thresholds struct {
	MinDistance float64       `json:"min_distance_m"`
	MinInterval time.Duration `json:"min_interval"`
}

// Config tunes the reporter.
type Config struct {
	Foreground Thresholds `json:"foreground"`
	Trip       Thresholds `json:"trip"`
	RiderID    string     `json:"rider_id"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Foreground.MinDistance <= 0 {
		c.Foreground.MinDistance = 10
	}
	if c.Foreground.MinInterval <= 0 {
		c.Foreground.MinInterval = 10 * time.Second
	}
	if c.Trip.MinDistance <= 0 {
		c.Trip.MinDistance = 5
	}
	if c.Trip.MinInterval <= 0 {
		c.Trip.MinInterval = 3 * time.Second
	}
}

func (c Config) thresholds(m Mode) Thresholds {
	if m == ModeTrip {
		return c.Trip
	}
	return c.Foreground
}

// Source produces raw position fixes until ctx is done.
type Source interface {
	Watch(ctx context.Context) (<-chan model.DriverPosition, error)
}

// Pusher is the part of the connection manager the reporter uses.
type Pusher interface {
	State() model.ConnectionState
	Request(ctx context.Context, msg protocol.Message) (protocol.Ack, error)
}

// Reporter is the only writer of DriverPosition. Every accepted sample
// updates the position; it is pushed only while connected and dropped
// otherwise. At most one push is in flight; samples arriving meanwhile are
// not pushed.
type Reporter struct {
	cfg      Config
	source   Source
	conn     Pusher
	customer func() string
	log      logger.Logger
	metrics  metrics.LocationRecorder
	now      func() time.Time
	position *eventbus.Subject[model.DriverPosition]

	mu      sync.Mutex
	mode    Mode
	riderID string
	last    model.DriverPosition
	cancel  context.CancelFunc
	done    chan struct{}
	pushing bool
	pushes  sync.WaitGroup
}

// NewReporter returns a stopped reporter. customer returns the passenger of
// the current ride and may be nil; rec may be nil.
func NewReporter(cfg Config, source Source, conn Pusher, customer func() string, log logger.Logger, rec metrics.LocationRecorder) *Reporter {
	cfg.SetDefaults()
	if customer == nil {
		customer = func() string { return "" }
	}
	if rec == nil {
		rec = metrics.NopSink{}
	}
	return &Reporter{
		cfg:      cfg,
		source:   source,
		conn:     conn,
		customer: customer,
		log:      logger.Nop(log),
		metrics:  rec,
		now:      time.Now,
		position: eventbus.NewSubject(model.DriverPosition{}),
		riderID:  cfg.RiderID,
	}
}

// Start begins sampling in mode. Starting a running reporter only switches
// its mode.
func (r *Reporter) Start(ctx context.Context, mode Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	if r.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	samples, err := r.source.Watch(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("location source: %w", err)
	}
	r.cancel = cancel
	r.done = make(chan struct{})
	r.last = model.DriverPosition{}
	go r.loop(runCtx, samples, r.done)
	r.log.Infof("location reporter started in %s mode", mode)
	return nil
}

// Stop ends sampling and waits for in-flight pushes. It is idempotent.
func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.pushes.Wait()
	r.log.Infof("location reporter stopped")
}

// SetMode switches thresholds; it applies from the next sample.
func (r *Reporter) SetMode(m Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != m {
		r.log.Debugf("location mode %s -> %s", r.mode, m)
	}
	r.mode = m
}

// Mode returns the current mode.
func (r *Reporter) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Running reports whether the reporter is sampling.
func (r *Reporter) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// SetRiderID updates the rider id sent with positions.
func (r *Reporter) SetRiderID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.riderID = id
}

// Position returns the last accepted fix.
func (r *Reporter) Position() model.DriverPosition { return r.position.Current() }

// OnPosition registers cb for every accepted fix.
func (r *Reporter) OnPosition(cb func(model.DriverPosition)) (unsubscribe func()) {
	return r.position.Observe(cb)
}

// Positions returns a channel of accepted fixes.
func (r *Reporter) Positions() <-chan model.DriverPosition { return r.position.Subscribe() }

// UnsubscribePositions releases a channel from Positions.
func (r *Reporter) UnsubscribePositions(ch <-chan model.DriverPosition) {
	r.position.Unsubscribe(ch)
}

func (r *Reporter) loop(ctx context.Context, samples <-chan model.DriverPosition, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-samples:
			if !ok {
				return
			}
			r.handle(ctx, p)
		}
	}
}

func (r *Reporter) handle(ctx context.Context, p model.DriverPosition) {
	if p.CapturedAt.IsZero() {
		p.CapturedAt = r.now()
	}
	r.mu.Lock()
	mode := r.mode
	if !accept(r.last, p, r.cfg.thresholds(mode)) {
		r.mu.Unlock()
		return
	}
	r.last = p
	riderID := r.riderID
	push := !r.pushing && r.conn.State().IsConnected()
	if push {
		r.pushing = true
		r.pushes.Add(1)
	}
	r.mu.Unlock()

	r.position.Set(p)
	if !push {
		r.record(p, mode, false, false)
		return
	}
	msg := protocol.UpdateRiderLocation{
		RiderID:    riderID,
		CustomerID: r.customer(),
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
	}
	go r.push(ctx, msg, p, mode)
}

func (r *Reporter) push(ctx context.Context, msg protocol.UpdateRiderLocation, p model.DriverPosition, mode Mode) {
	defer func() {
		r.mu.Lock()
		r.pushing = false
		r.mu.Unlock()
		r.pushes.Done()
	}()
	ack, err := r.conn.Request(ctx, msg)
	switch {
	case err != nil:
		r.log.Debugf("location push: %v", err)
	case !ack.Success:
		r.log.Warnf("location update rejected by server")
	}
	r.record(p, mode, err == nil, err == nil && ack.Success)
}

func (r *Reporter) record(p model.DriverPosition, mode Mode, pushed, acked bool) {
	_ = r.metrics.RecordLocation(metrics.LocationEvent{
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		Mode:         mode.String(),
		Pushed:       pushed,
		Acknowledged: acked,
		Time:         p.CapturedAt,
	})
}

func accept(last, p model.DriverPosition, th Thresholds) bool {
	if last.IsZero() {
		return true
	}
	if p.CapturedAt.Sub(last.CapturedAt) >= th.MinInterval {
		return true
	}
	return model.DistanceMeters(last.Point(), p.Point()) >= th.MinDistance
}
