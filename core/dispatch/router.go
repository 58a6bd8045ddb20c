package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/ridesync/core/journal"
	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/protocol"
	"github.com/kilianp07/ridesync/core/rideset"
	"github.com/kilianp07/ridesync/internal/eventbus"
)

// Reasons recorded for frames that could not be decoded.
const (
	DropMalformed    = "malformed"
	DropUnknownEvent = "unknown event"
)

// BidResolver receives bid resolutions. Resolve is called with the router's
// handling lock held and must not call back into the router.
type BidResolver interface {
	Resolve(Resolution)
}

// Router is the single writer of the ActiveRideSet. It applies events one at
// a time; Handle, Refresh, Reset and Atomically never interleave.
type Router struct {
	set     *rideset.Set
	machine *lifecycle.Machine
	log     logger.Logger
	metrics metrics.DispatchEventRecorder
	now     func() time.Time

	handleMu sync.Mutex
	resolver BidResolver
	journal  journal.Writer

	requests *eventbus.Subject[[]model.RideRequestSnapshot]
	notices  *eventbus.TypedBus[Notice]
}

// NewRouter returns a router writing to set and machine. rec may be nil.
func NewRouter(set *rideset.Set, machine *lifecycle.Machine, log logger.Logger, rec metrics.DispatchEventRecorder) *Router {
	if rec == nil {
		rec = metrics.NopSink{}
	}
	return &Router{
		set:      set,
		machine:  machine,
		log:      logger.Nop(log),
		metrics:  rec,
		now:      time.Now,
		requests: eventbus.NewSubject[[]model.RideRequestSnapshot](set.Snapshot()),
		notices:  eventbus.NewTyped[Notice](),
	}
}

// SetResolver installs the bid resolver. It must be called before Run.
func (r *Router) SetResolver(res BidResolver) {
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	r.resolver = res
}

// SetJournal records every handled frame to w.
func (r *Router) SetJournal(w journal.Writer) {
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	r.journal = w
}

// Run handles frames in arrival order until ctx is done or frames closes.
func (r *Router) Run(ctx context.Context, frames <-chan protocol.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			_ = r.HandleFrame(ctx, f)
		}
	}
}

// HandleFrame decodes and handles one frame. Decoding errors are logged,
// counted and returned; they never stop the router.
func (r *Router) HandleFrame(ctx context.Context, f protocol.Frame) error {
	ev, err := Decode(f)

	r.handleMu.Lock()
	defer r.handleMu.Unlock()

	if err != nil {
		reason := DropMalformed
		if errors.Is(err, ErrUnknownEvent) {
			reason = DropUnknownEvent
		}
		r.log.Warnf("dispatch: %v", err)
		r.record(f.Event, "", reason)
		r.appendJournal(ctx, f, reason)
		return err
	}
	d := r.handleLocked(ev)
	r.appendJournal(ctx, f, d.Drop)
	return nil
}

// Handle applies ev and returns the delta that was computed for it.
func (r *Router) Handle(ev Event) Delta {
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	return r.handleLocked(ev)
}

func (r *Router) handleLocked(ev Event) Delta {
	id := requestIDOf(ev)
	d := Reduce(r.set, r.machine.Current(), ev)
	if d.Dropped() {
		r.log.Debugw("dispatch: dropping event", map[string]any{
			"event":  ev.Kind(),
			"id":     id,
			"reason": d.Drop,
			"state":  r.machine.Current().Name(),
		})
		r.record(ev.Kind(), id, d.Drop)
		return d
	}

	changed := r.set.Apply(d.Change)
	if d.Lifecycle != nil {
		if _, err := r.machine.Submit(d.Lifecycle); err != nil {
			r.log.Debugf("dispatch: %s for %s: %v", ev.Kind(), id, err)
		}
	}
	if changed {
		r.requests.Set(r.set.Snapshot())
	}
	if d.Resolution != nil && r.resolver != nil {
		r.resolver.Resolve(*d.Resolution)
	}
	for _, n := range d.Notices {
		r.notices.Publish(n)
	}
	r.record(ev.Kind(), id, "")
	return d
}

// Atomically runs fn with the handling lock held, so no event is applied
// between the checks fn performs and the transition it submits.
func (r *Router) Atomically(fn func(View) error) error {
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	return fn(r.set)
}

// Refresh replaces the cached requests wholesale, as after an explicit pull.
// Recently removed ids stay out. It returns the number of requests kept.
func (r *Router) Refresh(snaps []model.RideRequestSnapshot) int {
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	valid := make([]model.RideRequestSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if err := s.Validate(); err != nil {
			r.log.Debugf("dispatch: refresh skips %v", err)
			continue
		}
		valid = append(valid, s)
	}
	n := r.set.Reset(valid)
	r.requests.Set(r.set.Snapshot())
	return n
}

// Reset clears the cache, as on driver offline or logout.
func (r *Router) Reset() {
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	r.set.Clear()
	r.requests.Set(nil)
}

// Requests returns the cached requests in display order.
func (r *Router) Requests() []model.RideRequestSnapshot { return r.set.Snapshot() }

// OnRequests registers cb for every cache change. Callbacks run with the
// handling lock held and must not call the router.
func (r *Router) OnRequests(cb func([]model.RideRequestSnapshot)) (unsubscribe func()) {
	return r.requests.Observe(cb)
}

// SubscribeRequests returns a channel of cache contents after each change.
func (r *Router) SubscribeRequests() <-chan []model.RideRequestSnapshot {
	return r.requests.Subscribe()
}

// UnsubscribeRequests releases a channel from SubscribeRequests.
func (r *Router) UnsubscribeRequests(ch <-chan []model.RideRequestSnapshot) {
	r.requests.Unsubscribe(ch)
}

// Notify publishes a notice on behalf of another component.
func (r *Router) Notify(n Notice) { r.notices.Publish(n) }

// Notices returns a channel of notices.
func (r *Router) Notices() <-chan Notice { return r.notices.Subscribe() }

// UnsubscribeNotices releases a channel from Notices.
func (r *Router) UnsubscribeNotices(ch <-chan Notice) { r.notices.Unsubscribe(ch) }

// Close releases all subscribers.
func (r *Router) Close() {
	r.requests.Close()
	r.notices.Close()
}

func (r *Router) record(kind, id, reason string) {
	_ = r.metrics.RecordDispatchEvent(metrics.DispatchEvent{
		Kind:       kind,
		RequestID:  id,
		DropReason: reason,
		Time:       r.now(),
	})
}

func (r *Router) appendJournal(ctx context.Context, f protocol.Frame, reason string) {
	if r.journal == nil {
		return
	}
	rec := journal.Record{Time: r.now(), Event: f.Event, Data: f.Data, Drop: reason}
	if err := r.journal.Append(ctx, rec); err != nil {
		r.log.Warnf("dispatch: journal: %v", err)
	}
}
