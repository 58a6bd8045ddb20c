// Package mqtt carries dispatch frames over per-driver MQTT topics.
//
// The driver subscribes to its inbound topic and publishes to its outbound
// topic. Credentials go in the CONNECT packet, so a refused CONNACK is the
// handshake rejection. Reconnects are left to the connection manager.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"

	"github.com/kilianp07/ridesync/core/connection"
	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/protocol"
)

// Default topic templates. {id} is replaced by the driver id.
const (
	DefaultInboundTopic  = "ridesync/driver/{id}/in"
	DefaultOutboundTopic = "ridesync/driver/{id}/out"
	DefaultStatusTopic   = "ridesync/driver/{id}/status"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker        string          `json:"broker"`
	ClientID      string          `json:"client_id"`
	Username      string          `json:"username"`
	Password      string          `json:"password"`
	InboundTopic  string          `json:"inbound_topic"`
	OutboundTopic string          `json:"outbound_topic"`
	UseTLS        bool            `json:"use_tls"`
	ClientCert    string          `json:"client_cert"`
	ClientKey     string          `json:"client_key"`
	CABundle      string          `json:"ca_bundle"`
	AuthMethod    string          `json:"auth_method"`
	QoS           map[string]byte `json:"qos"`
	LWTTopic      string          `json:"lwt_topic"`
	LWTPayload    string          `json:"lwt_payload"`
	LWTQoS        byte            `json:"lwt_qos"`
	LWTRetain     bool            `json:"lwt_retain"`
	MaxRetries    int             `json:"max_retries"`
	BackoffMS     int             `json:"backoff_ms"`
	Buffer        int             `json:"buffer"`
	TLSConfig     *tls.Config     `json:"-"`
}

// SetDefaults fills empty fields.
func (c *Config) SetDefaults() {
	if c.InboundTopic == "" {
		c.InboundTopic = DefaultInboundTopic
	}
	if c.OutboundTopic == "" {
		c.OutboundTopic = DefaultOutboundTopic
	}
	if c.LWTTopic == "" {
		c.LWTTopic = DefaultStatusTopic
	}
	if c.LWTPayload == "" {
		c.LWTPayload = "offline"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
	if c.ClientID == "" {
		c.ClientID = "ridesync"
	}
}

// Validate checks the broker address and topic templates.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if !strings.Contains(c.InboundTopic, "{id}") || !strings.Contains(c.OutboundTopic, "{id}") {
		return fmt.Errorf("mqtt: topics must contain {id}")
	}
	switch c.AuthMethod {
	case "", "username_password", "tls", "both":
	default:
		return fmt.Errorf("mqtt: unknown auth_method %q", c.AuthMethod)
	}
	return nil
}

func (c Config) qos(name string) byte {
	if q, ok := c.QoS[name]; ok {
		return q
	}
	return 1
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Transport dials one MQTT session per driver identity.
type Transport struct {
	cfg Config
	log logger.Logger
}

// New returns a transport for cfg. Defaults are applied to a copy.
func New(cfg Config, log logger.Logger) (*Transport, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transport{cfg: cfg, log: logger.Nop(log)}, nil
}

// NewClientOptions builds mqtt client options from Config for one driver.
func NewClientOptions(cfg Config, id connection.Identity) (*paho.ClientOptions, error) {
	clientID := fmt.Sprintf("%s-%s-%s", cfg.ClientID, id.DriverID, uuid.NewString()[:8])
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.AutoReconnect = false
	opts.ConnectRetry = false
	opts.CleanSession = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		user, pass := cfg.Username, cfg.Password
		if user == "" {
			user = id.DriverID
		}
		if id.Token != "" {
			pass = id.Token
		}
		if user != "" {
			opts.SetUsername(user)
		}
		if pass != "" {
			opts.SetPassword(pass)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(topicFor(cfg.LWTTopic, id.DriverID), cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s holds no certificates", c.CABundle)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Dial connects, subscribes to the driver's inbound topic and returns the
// session. A refused CONNACK wraps connection.ErrHandshakeRejected.
func (t *Transport) Dial(ctx context.Context, id connection.Identity) (connection.Conn, error) {
	if id.DriverID == "" {
		return nil, fmt.Errorf("%w: empty driver id", connection.ErrHandshakeRejected)
	}
	opts, err := NewClientOptions(t.cfg, id)
	if err != nil {
		return nil, err
	}
	c := &conn{
		outTopic: topicFor(t.cfg.OutboundTopic, id.DriverID),
		qos:      t.cfg.qos("outbound"),
		retries:  t.cfg.MaxRetries,
		backoff:  time.Duration(t.cfg.BackoffMS) * time.Millisecond,
		log:      t.log,
		frames:   make(chan protocol.Frame, t.cfg.Buffer),
		done:     make(chan struct{}),
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		t.log.Warnf("mqtt connection lost: %v", err)
		c.finish(fmt.Errorf("mqtt connection lost: %w", err))
	}

	cli := newMQTTClient(opts)
	c.cli = cli
	if err := wait(ctx, cli.Connect()); err != nil {
		if rejected(err) {
			return nil, fmt.Errorf("%w: %v", connection.ErrHandshakeRejected, err)
		}
		return nil, fmt.Errorf("mqtt connect %s: %w", t.cfg.Broker, err)
	}

	in := topicFor(t.cfg.InboundTopic, id.DriverID)
	if err := wait(ctx, cli.Subscribe(in, t.cfg.qos("inbound"), c.onMessage)); err != nil {
		cli.Disconnect(0)
		if errors.Is(err, packets.ErrorRefusedNotAuthorised) {
			return nil, fmt.Errorf("%w: subscribe %s: %v", connection.ErrHandshakeRejected, in, err)
		}
		return nil, fmt.Errorf("mqtt subscribe %s: %w", in, err)
	}
	t.log.Infof("mqtt connected to %s as %s", t.cfg.Broker, id.DriverID)
	return c, nil
}

func topicFor(tmpl, driverID string) string {
	return strings.ReplaceAll(tmpl, "{id}", driverID)
}

func rejected(err error) bool {
	return errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised) ||
		errors.Is(err, packets.ErrorRefusedIDRejected)
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type conn struct {
	cli      pahoClient
	outTopic string
	qos      byte
	retries  int
	backoff  time.Duration
	log      logger.Logger

	frames chan protocol.Frame
	done   chan struct{}
	once   sync.Once

	deliverMu sync.Mutex
	closed    bool
	errMu     sync.Mutex
	err       error
}

func (c *conn) onMessage(_ paho.Client, msg paho.Message) {
	f, err := protocol.Unmarshal(msg.Payload())
	if err != nil {
		c.log.Warnf("mqtt: dropping frame on %s: %v", msg.Topic(), err)
		return
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.frames <- f:
	case <-c.done:
	}
}

// Send publishes f on the outbound topic, retrying with exponential backoff.
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
	var publishErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		publishErr = wait(ctx, c.cli.Publish(c.outTopic, c.qos, false, payload))
		if publishErr == nil {
			c.log.Debugf("mqtt: sent %s to %s", f.Event, c.outTopic)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Errorf("mqtt: publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == c.retries {
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return connection.ErrNotConnected
		}
	}
	return fmt.Errorf("mqtt publish %s: %w", f.Event, publishErr)
}

func (c *conn) Frames() <-chan protocol.Frame { return c.frames }

func (c *conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close disconnects gracefully. It is idempotent.
func (c *conn) Close() error {
	c.finish(nil)
	return nil
}

func (c *conn) finish(err error) {
	c.once.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		if c.cli != nil && c.cli.IsConnected() {
			c.cli.Disconnect(250)
		}
		c.deliverMu.Lock()
		c.closed = true
		close(c.frames)
		c.deliverMu.Unlock()
	})
}
