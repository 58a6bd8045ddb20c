// Package rest talks to the dispatch service's HTTP API: wallet checks,
// the active ride pull, ride start and completion, and the nearby request
// listing.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/protocol"
)

// ErrNoZone is returned by the funds check when no zone is configured and
// none could be resolved from the driver position.
var ErrNoZone = errors.New("zone unknown")

// StatusError carries a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Config configures the API client.
type Config struct {
	BaseURL      string        `json:"base_url"`
	ZoneID       string        `json:"zone_id"`
	Timeout      time.Duration `json:"timeout"`
	NearbyRadius int           `json:"nearby_radius_m"`
}

// SetDefaults fills empty fields.
func (c *Config) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.NearbyRadius <= 0 {
		c.NearbyRadius = 5000
	}
}

// Validate checks the base URL.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("api: invalid base_url %q", c.BaseURL)
	}
	return nil
}

// Client is the HTTP API client. The *http.Client it wraps is expected to
// attach the driver's bearer token.
type Client struct {
	base     string
	http     *http.Client
	radius   int
	log      logger.Logger
	position func() (model.DriverPosition, bool)

	zoneMu sync.Mutex
	zoneID string
}

// New returns a client. hc may be nil.
func New(cfg Config, hc *http.Client, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hc == nil {
		hc = &http.Client{}
	}
	if hc.Timeout == 0 {
		c := *hc
		c.Timeout = cfg.Timeout
		hc = &c
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   hc,
		radius: cfg.NearbyRadius,
		log:    logger.Nop(log),
		zoneID: cfg.ZoneID,
	}, nil
}

// SetPositionSource lets the client resolve the zone and nearby requests
// from the driver's last fix.
func (c *Client) SetPositionSource(fn func() (model.DriverPosition, bool)) {
	c.position = fn
}

// HasEnoughFunds asks whether the driver's wallet covers the commission for
// the request in the current zone.
func (c *Client) HasEnoughFunds(ctx context.Context, requestID string) (bool, error) {
	zone, err := c.zone(ctx)
	if err != nil {
		return false, err
	}
	var out struct {
		HaveEnoughAmountInWallet *bool `json:"haveEnoughAmountInWallet"`
	}
	path := fmt.Sprintf("/api/v1/rides/riders/check/have-enough-amount/for-ride/%s/%s",
		url.PathEscape(requestID), url.PathEscape(zone))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	if out.HaveEnoughAmountInWallet == nil {
		return false, fmt.Errorf("funds check %s: missing haveEnoughAmountInWallet", requestID)
	}
	return *out.HaveEnoughAmountInWallet, nil
}

// ActiveRide pulls the driver's current assignment. The boolean is false
// when the driver holds no ride.
func (c *Client) ActiveRide(ctx context.Context) (model.ActiveRide, bool, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/v1/rides/ongoing/active/driver", nil, &raw)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return model.ActiveRide{}, false, nil
	}
	if err != nil {
		return model.ActiveRide{}, false, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "{}" {
		return model.ActiveRide{}, false, nil
	}
	var p protocol.ActiveRidePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.ActiveRide{}, false, fmt.Errorf("decode active ride: %w", err)
	}
	if p.ID == "" {
		return model.ActiveRide{}, false, nil
	}
	return p.ActiveRide(), true, nil
}

// StartRide marks the ride as started.
func (c *Client) StartRide(ctx context.Context, rideID string) error {
	id := url.PathEscape(rideID)
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/rides/%s/start-ride/%s", id, id), struct{}{}, nil)
}

// CompleteRide marks the ride as completed.
func (c *Client) CompleteRide(ctx context.Context, rideID string) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/rides/%s/complete-ride", url.PathEscape(rideID)), struct{}{}, nil)
}

// NearbyRequests lists open requests around at, in server order.
func (c *Client) NearbyRequests(ctx context.Context, at model.GeoPoint) ([]model.RideRequestSnapshot, error) {
	lat := strconv.FormatFloat(at.Latitude, 'f', -1, 64)
	lng := strconv.FormatFloat(at.Longitude, 'f', -1, 64)
	r := strconv.Itoa(c.radius)
	path := fmt.Sprintf("/api/v1/ride-vehicles/nearby/%s/%s/%s?radius=%s", lat, lng, r, r)
	var payloads []protocol.RideRequestPayload
	if err := c.do(ctx, http.MethodGet, path, nil, &payloads); err != nil {
		return nil, err
	}
	out := make([]model.RideRequestSnapshot, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.Snapshot())
	}
	return out, nil
}

// NearbyFromPosition lists requests around the driver's last fix.
func (c *Client) NearbyFromPosition(ctx context.Context) ([]model.RideRequestSnapshot, error) {
	pos, ok := c.lastFix()
	if !ok {
		return nil, fmt.Errorf("nearby requests: driver position unknown")
	}
	return c.NearbyRequests(ctx, pos.Point())
}

// RiderID returns the driver's rider id used in bids and location updates.
func (c *Client) RiderID(ctx context.Context) (string, error) {
	var out struct {
		RiderID string `json:"riderId"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/ride-vehicles/rider/get-my-rider-id", nil, &out); err != nil {
		return "", err
	}
	if out.RiderID == "" {
		return "", fmt.Errorf("rider id: empty response")
	}
	return out.RiderID, nil
}

// Zone resolves the service zone containing at.
func (c *Client) Zone(ctx context.Context, at model.GeoPoint) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Latitude, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(at.Longitude, 'f', -1, 64))
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/zones/check?"+q.Encode(), nil, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", ErrNoZone
	}
	return out.ID, nil
}

func (c *Client) zone(ctx context.Context) (string, error) {
	c.zoneMu.Lock()
	id := c.zoneID
	c.zoneMu.Unlock()
	if id != "" {
		return id, nil
	}
	pos, ok := c.lastFix()
	if !ok {
		return "", ErrNoZone
	}
	id, err := c.Zone(ctx, pos.Point())
	if err != nil {
		return "", fmt.Errorf("resolve zone: %w", err)
	}
	c.zoneMu.Lock()
	c.zoneID = id
	c.zoneMu.Unlock()
	c.log.Infof("resolved zone %s", id)
	return id, nil
}

func (c *Client) lastFix() (model.DriverPosition, bool) {
	if c.position == nil {
		return model.DriverPosition{}, false
	}
	p, ok := c.position()
	return p, ok && !p.IsZero()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, stripQuery(path), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, stripQuery(path), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: stripQuery(path), Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, stripQuery(path), err)
	}
	return nil
}

func stripQuery(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
