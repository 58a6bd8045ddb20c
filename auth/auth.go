// Package auth supplies the driver's bearer token and derives the driver
// identity from it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/kilianp07/ridesync/core/connection"
)

// ErrNoSubject is returned when the token carries no usable driver id.
var ErrNoSubject = errors.New("token has no subject")

// Credentials caches an access token and refreshes it on demand.
type Credentials struct {
	conf Conf
	src  oauth2.TokenSource

	mu    sync.Mutex
	token *oauth2.Token
}

// New returns credentials for conf. A static access token is used as is;
// client credentials are exchanged at AuthURL.
func New(conf Conf) (*Credentials, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	c := &Credentials{conf: conf}
	if conf.AccessToken != "" {
		c.src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: conf.AccessToken, TokenType: "Bearer"})
	} else {
		cc := conf.toOauth2Config()
		c.src = cc.TokenSource(context.Background())
	}
	return c, nil
}

// GetToken retrieves a valid access token. If the current token is valid, it
// returns the existing token. Otherwise, it requests a new one.
func (c *Credentials) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Valid() {
		return c.token.AccessToken, nil
	}
	tok, err := c.src.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	c.token = tok
	return tok.AccessToken, nil
}

// ForceRefresh drops the cached token and fetches a new one.
func (c *Credentials) ForceRefresh() (string, error) {
	c.mu.Lock()
	c.token = nil
	if c.conf.AccessToken == "" {
		cc := c.conf.toOauth2Config()
		c.src = cc.TokenSource(context.Background())
	}
	c.mu.Unlock()
	return c.GetToken()
}

// Token implements oauth2.TokenSource.
func (c *Credentials) Token() (*oauth2.Token, error) {
	if _, err := c.GetToken(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

// SetAuthHeader sets the Authorization header on r.
func (c *Credentials) SetAuthHeader(r *http.Request) error {
	tok, err := c.Token()
	if err != nil {
		return err
	}
	tok.SetAuthHeader(r)
	return nil
}

// HTTPClient returns a client that attaches the bearer token to every
// request.
func (c *Credentials) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, c)
}

// Identity returns the handshake identity. The driver id comes from
// configuration when set, else from the token's claims.
func (c *Credentials) Identity() (connection.Identity, error) {
	tok, err := c.GetToken()
	if err != nil {
		return connection.Identity{}, err
	}
	id := c.conf.DriverID
	if id == "" {
		if id, err = DriverID(tok); err != nil {
			return connection.Identity{}, err
		}
	}
	return connection.Identity{DriverID: id, Token: tok}, nil
}

// Claims is the subset of the access token the client reads.
type Claims struct {
	UserID  string `json:"userId"`
	PlainID string `json:"id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// DriverID extracts the driver id from an access token without verifying
// its signature; the server verifies it on every call. The subject claim
// wins over userId and id.
func DriverID(token string) (string, error) {
	var cl Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &cl); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, v := range []string{cl.Subject, cl.UserID, cl.PlainID} {
		if v != "" {
			return v, nil
		}
	}
	return "", ErrNoSubject
}
