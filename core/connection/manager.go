package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/protocol"
	"github.com/kilianp07/ridesync/internal/eventbus"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultBackoffBase    = 2 * time.Second
	DefaultBackoffMax     = 10 * time.Second
	DefaultAckTimeout     = 5 * time.Second
	defaultInboundBuffer  = 64
)

// Config tunes the connection manager.
type Config struct {
	ConnectTimeout time.Duration `json:"connect_timeout"`
	BackoffBase    time.Duration `json:"backoff_base"`
	BackoffMax     time.Duration `json:"backoff_max"`
	AckTimeout     time.Duration `json:"ack_timeout"`
	InboundBuffer  int           `json:"inbound_buffer"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = defaultInboundBuffer
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("connection: backoff_max %s below backoff_base %s", c.BackoffMax, c.BackoffBase)
	}
	return nil
}

// Manager keeps one logical connection alive. It reconnects forever with
// capped exponential backoff after unexpected drops and re-registers the
// driver's presence on every successful handshake. Network errors never
// leave the manager; callers observe them through state changes only.
type Manager struct {
	transport Transport
	cfg       Config
	log       logger.Logger
	metrics   metrics.ConnectionRecorder
	state     *eventbus.Subject[model.ConnectionState]
	inbound   chan protocol.Frame
	sleep     func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	conn     Conn
	identity *Identity
	cancel   context.CancelFunc
	gen      uint64

	// stateMu orders state publications so a stale session can never
	// overwrite the state written by Disconnect.
	stateMu sync.Mutex

	ackMu    sync.Mutex
	ackChans map[string]chan protocol.Ack
}

// NewManager creates a disconnected manager. rec may be nil.
func NewManager(t Transport, cfg Config, log logger.Logger, rec metrics.ConnectionRecorder) *Manager {
	cfg.SetDefaults()
	if rec == nil {
		rec = metrics.NopSink{}
	}
	return &Manager{
		transport: t,
		cfg:       cfg,
		log:       logger.Nop(log),
		metrics:   rec,
		state:     eventbus.NewSubject(model.ConnectionState{Status: model.Disconnected}),
		inbound:   make(chan protocol.Frame, cfg.InboundBuffer),
		sleep:     sleepCtx,
		ackChans:  make(map[string]chan protocol.Ack),
	}
}

// Connect dials the dispatch service and returns once the handshake is
// acknowledged. Transient dial failures are retried until the connect
// timeout elapses. The only error returned is *ConnectionError, or the
// context error when ctx is cancelled first. Any previous session is closed.
func (m *Manager) Connect(ctx context.Context, id Identity) error {
	m.Disconnect()

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.identity = &id
	m.cancel = cancel
	m.mu.Unlock()

	m.setState(runCtx, model.ConnectionState{Status: model.Connecting})
	conn, err := m.dialUntilTimeout(ctx, runCtx, id)
	if err != nil {
		m.setState(runCtx, model.ConnectionState{Status: model.Disconnected, LastError: errText(err)})
		cancel()
		m.mu.Lock()
		if m.gen == gen {
			m.identity = nil
			m.cancel = nil
		}
		m.mu.Unlock()
		return err
	}
	if !m.install(runCtx, conn, id) {
		return &ConnectionError{Reason: "disconnected during handshake", Err: context.Canceled}
	}
	go m.run(runCtx, conn, id)
	return nil
}

// Disconnect closes the session and clears the identity. Pending
// acknowledged requests fail with ErrNotConnected. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, conn := m.cancel, m.conn
	active := cancel != nil || m.identity != nil
	m.cancel, m.conn, m.identity = nil, nil, nil
	m.gen++
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.failPendingAcks()
	m.drainInbound()
	if active {
		m.log.Infof("disconnected")
		m.setState(context.Background(), model.ConnectionState{Status: model.Disconnected})
	}
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState { return m.state.Current() }

// OnStateChange registers cb for every state change. Callbacks run
// synchronously on the goroutine changing the state and must not call
// Connect or Disconnect directly.
func (m *Manager) OnStateChange(cb func(model.ConnectionState)) (unsubscribe func()) {
	return m.state.Observe(cb)
}

// States returns a channel of state changes. Slow readers miss values.
func (m *Manager) States() <-chan model.ConnectionState { return m.state.Subscribe() }

// Unsubscribe releases a channel returned by States.
func (m *Manager) Unsubscribe(ch <-chan model.ConnectionState) { m.state.Unsubscribe(ch) }

// Inbound yields non-ack frames in arrival order across reconnects.
func (m *Manager) Inbound() <-chan protocol.Frame { return m.inbound }

// Send emits msg on the current session. It never queues: when no session
// is up it fails immediately with ErrNotConnected.
func (m *Manager) Send(ctx context.Context, msg protocol.Message) error {
	f, err := protocol.Encode(msg, "")
	if err != nil {
		return err
	}
	return m.sendFrame(ctx, f)
}

// Request emits msg with an ack id and waits for the matching ack.
func (m *Manager) Request(ctx context.Context, msg protocol.Message) (protocol.Ack, error) {
	ackID := uuid.NewString()
	f, err := protocol.Encode(msg, ackID)
	if err != nil {
		return protocol.Ack{}, err
	}

	ch := make(chan protocol.Ack, 1)
	m.ackMu.Lock()
	m.ackChans[ackID] = ch
	m.ackMu.Unlock()
	defer func() {
		m.ackMu.Lock()
		delete(m.ackChans, ackID)
		m.ackMu.Unlock()
	}()

	if err := m.sendFrame(ctx, f); err != nil {
		return protocol.Ack{}, err
	}

	timer := time.NewTimer(m.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ch:
		if !ok {
			return protocol.Ack{}, ErrNotConnected
		}
		return ack, nil
	case <-timer.C:
		return protocol.Ack{}, fmt.Errorf("%s %s: %w", f.Event, ackID, ErrAckTimeout)
	case <-ctx.Done():
		return protocol.Ack{}, ctx.Err()
	}
}

func (m *Manager) sendFrame(ctx context.Context, f protocol.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil || !m.State().IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Send(ctx, f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warnf("send %s failed: %v", f.Event, err)
		return fmt.Errorf("send %s: %w", f.Event, ErrNotConnected)
	}
	return nil
}

func (m *Manager) dialUntilTimeout(ctx, runCtx context.Context, id Identity) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	b := NewBackoff(m.cfg.BackoffBase, m.cfg.BackoffMax)
	for {
		conn, err := m.transport.Dial(dialCtx, id)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, ErrHandshakeRejected) {
			m.log.Errorf("handshake rejected for driver %s: %v", id.DriverID, err)
			return nil, &ConnectionError{Reason: "handshake rejected", Err: err}
		}
		m.log.Debugf("dial attempt %d failed: %v", b.Attempt()+1, err)
		if m.sleep(dialCtx, b.Next()) != nil {
			break
		}
	}
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case runCtx.Err() != nil:
		return nil, &ConnectionError{Reason: "disconnected during handshake", Err: context.Canceled}
	default:
		return nil, &ConnectionError{Reason: "no handshake acknowledgment", Err: ErrConnectTimeout}
	}
}

// install makes conn the current session and registers presence. It
// returns false when the session was cancelled meanwhile.
func (m *Manager) install(ctx context.Context, conn Conn, id Identity) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	m.conn = conn
	m.mu.Unlock()

	if err := m.presence(ctx, conn, id); err != nil {
		m.log.Warnf("presence registration failed: %v", err)
	}
	m.setState(ctx, model.ConnectionState{Status: model.Connected})
	m.log.Infof("connected as driver %s", id.DriverID)
	return true
}

func (m *Manager) presence(ctx context.Context, conn Conn, id Identity) error {
	f, err := protocol.Encode(protocol.AddUser{ID: id.DriverID}, "")
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.AckTimeout)
	defer cancel()
	return conn.Send(sendCtx, f)
}

func (m *Manager) run(ctx context.Context, conn Conn, id Identity) {
	for {
		m.pump(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		cause := conn.Err()
		_ = conn.Close()
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		m.failPendingAcks()
		m.log.Warnf("connection lost: %v", cause)
		m.setState(ctx, model.ConnectionState{Status: model.Disconnected, LastError: errText(cause)})

		next, ok := m.reconnect(ctx, id)
		if !ok {
			return
		}
		conn = next
	}
}

func (m *Manager) reconnect(ctx context.Context, id Identity) (Conn, bool) {
	b := NewBackoff(m.cfg.BackoffBase, m.cfg.BackoffMax)
	for {
		delay := b.Next()
		_ = m.metrics.RecordConnection(metrics.ConnectionEvent{
			Status:  "reconnecting",
			Attempt: b.Attempt(),
			Delay:   delay,
			Time:    time.Now(),
		})
		if m.sleep(ctx, delay) != nil {
			return nil, false
		}
		m.setState(ctx, model.ConnectionState{Status: model.Connecting})

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		conn, err := m.transport.Dial(dialCtx, id)
		cancel()
		if err == nil {
			return conn, m.install(ctx, conn, id)
		}
		if ctx.Err() != nil {
			return nil, false
		}
		if errors.Is(err, ErrHandshakeRejected) {
			m.log.Errorf("handshake rejected for driver %s, giving up: %v", id.DriverID, err)
			m.setState(ctx, model.ConnectionState{
				Status:    model.Disconnected,
				LastError: errText(&ConnectionError{Reason: "handshake rejected", Err: err}),
			})
			return nil, false
		}
		m.log.Debugf("reconnect attempt %d failed: %v", b.Attempt(), err)
		m.setState(ctx, model.ConnectionState{Status: model.Connecting, LastError: errText(err)})
	}
}

func (m *Manager) pump(ctx context.Context, conn Conn) {
	frames := conn.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if f.Event == protocol.EventAck {
				m.resolveAck(f)
				continue
			}
			select {
			case m.inbound <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) resolveAck(f protocol.Frame) {
	ack, err := protocol.DecodeAck(f)
	if err != nil {
		m.log.Errorf("failed to decode ack: %v", err)
		return
	}
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	ch, ok := m.ackChans[ack.ID]
	if !ok {
		m.log.Debugf("ack %s has no pending request", ack.ID)
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

func (m *Manager) failPendingAcks() {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	for id, ch := range m.ackChans {
		delete(m.ackChans, id)
		close(ch)
	}
}

func (m *Manager) drainInbound() {
	for {
		select {
		case <-m.inbound:
		default:
			return
		}
	}
}

// setState publishes st unless ctx belongs to a cancelled session.
func (m *Manager) setState(ctx context.Context, st model.ConnectionState) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	m.state.Set(st)
	_ = m.metrics.RecordConnection(metrics.ConnectionEvent{
		Status: st.Status.String(),
		Error:  st.LastError,
		Time:   time.Now(),
	})
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
