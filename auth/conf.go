package auth

import (
	"fmt"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf represents the configuration needed for authentication. Either a
// pre-issued access token or client credentials must be set.
type Conf struct {
	AccessToken  string   `json:"access_token"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	Scopes       []string `json:"scopes"`
	DriverID     string   `json:"driver_id"`
}

// Validate checks that one credential kind is configured.
func (c Conf) Validate() error {
	if c.AccessToken != "" {
		return nil
	}
	if c.ClientID == "" || c.ClientSecret == "" || c.AuthURL == "" {
		return fmt.Errorf("auth: access_token or client_id, client_secret and auth_url are required")
	}
	return nil
}

func (c *Conf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.AuthURL,
		Scopes:       c.Scopes,
	}
}
