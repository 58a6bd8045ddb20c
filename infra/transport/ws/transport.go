// Package ws is the default transport: one WebSocket per driver session
// carrying JSON frames.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/ridesync/core/connection"
	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/protocol"
)

// Config configures the WebSocket transport.
type Config struct {
	URL              string        `json:"url"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	PingPeriod       time.Duration `json:"ping_period"`
	PongWait         time.Duration `json:"pong_wait"`
	Buffer           int           `json:"buffer"`
}

// SetDefaults fills empty fields.
func (c *Config) SetDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
}

// Validate checks the service URL.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("ws: url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("ws: url scheme must be ws or wss, got %q", u.Scheme)
	}
	return nil
}

// Transport dials the dispatch service over WebSocket.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
	log    logger.Logger
}

// New returns a transport for cfg.
func New(cfg Config, log logger.Logger) (*Transport, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = cfg.HandshakeTimeout
	return &Transport{cfg: cfg, dialer: &d, log: logger.Nop(log)}, nil
}

// Dial opens the socket with the driver's bearer token. A 401 or 403
// upgrade response wraps connection.ErrHandshakeRejected.
func (t *Transport) Dial(ctx context.Context, id connection.Identity) (connection.Conn, error) {
	u, _ := url.Parse(t.cfg.URL)
	q := u.Query()
	q.Set("driverId", id.DriverID)
	u.RawQuery = q.Encode()

	h := http.Header{}
	if id.Token != "" {
		h.Set("Authorization", "Bearer "+id.Token)
	}
	ws, resp, err := t.dialer.DialContext(ctx, u.String(), h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", connection.ErrHandshakeRejected, resp.Status)
		}
		return nil, fmt.Errorf("ws dial %s: %w", u.Host, err)
	}

	c := &conn{
		ws:     ws,
		cfg:    t.cfg,
		log:    t.log,
		frames: make(chan protocol.Frame, t.cfg.Buffer),
		done:   make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})
	_ = ws.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	go c.readLoop()
	go c.pingLoop()
	t.log.Infof("ws connected to %s as %s", u.Host, id.DriverID)
	return c, nil
}

type conn struct {
	ws  *websocket.Conn
	cfg Config
	log logger.Logger

	writeMu sync.Mutex
	frames  chan protocol.Frame
	done    chan struct{}
	once    sync.Once
	errMu   sync.Mutex
	err     error
}

func (c *conn) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			c.finish(err)
			return
		}
		f, err := protocol.Unmarshal(data)
		if err != nil {
			c.log.Warnf("ws: dropping frame: %v", err)
			continue
		}
		select {
		case c.frames <- f:
		case <-c.done:
			return
		}
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.log.Warnf("ws: ping failed: %v", err)
				c.finish(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Send writes one text message. Writes are serialized.
func (c *conn) Send(ctx context.Context, f protocol.Frame) error {
	select {
	case <-c.done:
		return connection.ErrNotConnected
	default:
	}
	payload, err := protocol.Marshal(f)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.finish(err)
		return fmt.Errorf("ws send %s: %w", f.Event, err)
	}
	return nil
}

func (c *conn) Frames() <-chan protocol.Frame { return c.frames }

func (c *conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close sends a close frame and tears the socket down. It is idempotent.
func (c *conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

func (c *conn) finish(err error) {
	c.once.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}
