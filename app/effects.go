package app

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/ridesync/core/dispatch"
	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/model"
)

// pullTimeout bounds the background active ride pull after an assignment.
const pullTimeout = 10 * time.Second

// effects reacts to lifecycle transitions: location mode, navigation
// notices, the active ride cache and resuming browsing after a cancellation.
// It runs inside Machine.Submit, so anything that submits again is started
// on its own goroutine.
type effects struct {
	s     *Session
	prev  lifecycle.State
	stop  func()
	once  sync.Once
	async sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newEffects(s *Session) *effects {
	return &effects{s: s, prev: lifecycle.Idle{}}
}

func (e *effects) attach() {
	e.stop = e.s.machine.OnChange(e.apply)
}

func (e *effects) detach() {
	e.once.Do(func() {
		e.stop()
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.async.Wait()
	})
}

func (e *effects) apply(to lifecycle.State) {
	from := e.prev
	e.prev = to
	s := e.s

	if s.reporter.Running() {
		s.reporter.SetMode(s.modeFor(to))
	}

	switch st := to.(type) {
	case lifecycle.Assigned:
		s.router.Notify(dispatch.Notice{
			Kind:      dispatch.NoticeNavigate,
			Target:    dispatch.TargetTripDetail,
			RequestID: st.RequestID,
			RideID:    st.RideID,
		})
		if ride, ok := s.ActiveRide(); !ok || ride.RideID != st.RideID {
			e.spawn(e.pullRide)
		}
	case lifecycle.Completed:
		s.router.Notify(dispatch.Notice{Kind: dispatch.NoticeNavigate, Target: dispatch.TargetRequests, RideID: st.RideID})
	case lifecycle.Cancelled:
		s.router.Notify(dispatch.Notice{Kind: dispatch.NoticeNavigate, Target: dispatch.TargetRequests, RideID: st.RideID})
	case lifecycle.Idle:
		s.setRide(model.ActiveRide{})
		if !s.isOnline() {
			return
		}
		switch from.(type) {
		case lifecycle.Browsing, lifecycle.Bidding, lifecycle.AwaitingAssignment:
			s.router.Notify(dispatch.Notice{Kind: dispatch.NoticeNavigate, Target: dispatch.TargetRequests})
		}
		e.spawn(e.rebrowse)
	}
}

// spawn runs fn unless the session is closing.
func (e *effects) spawn(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.async.Add(1)
	go func() {
		defer e.async.Done()
		fn()
	}()
}

// rebrowse returns an online driver from Idle to Browsing.
func (e *effects) rebrowse() {
	s := e.s
	err := s.router.Atomically(func(dispatch.View) error {
		if _, idle := s.machine.Current().(lifecycle.Idle); !idle || !s.isOnline() {
			return nil
		}
		_, err := s.machine.Submit(lifecycle.GoOnline{})
		return err
	})
	if err != nil {
		s.log.Warnf("resume browsing: %v", err)
	}
}

func (e *effects) pullRide() {
	ctx, cancel := context.WithTimeout(e.s.runCtx, pullTimeout)
	defer cancel()
	if _, _, err := e.s.RefreshActiveRide(ctx); err != nil {
		e.s.log.Warnf("active ride pull after assignment: %v", err)
	}
}
