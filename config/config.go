// Package config loads the client configuration from a YAML or JSON file
// with RIDESYNC_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/ridesync/auth"
	"github.com/kilianp07/ridesync/core/bid"
	"github.com/kilianp07/ridesync/core/connection"
	"github.com/kilianp07/ridesync/core/journal"
	"github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/infra/rest"
)

// EnvPrefix marks environment overrides. A double underscore separates
// nesting levels: RIDESYNC_TRANSPORT__TYPE=mqtt sets transport.type.
const EnvPrefix = "RIDESYNC_"

type Config struct {
	Identity   auth.Conf         `json:"identity"`
	Connection connection.Config `json:"connection"`
	Transport  TransportConfig   `json:"transport"`
	API        rest.Config       `json:"api"`
	Bid        bid.Config        `json:"bid"`
	Location   LocationConfig    `json:"location"`
	Metrics    metrics.Config    `json:"metrics"`
	Logging    LoggingConfig     `json:"logging"`
	Journal    journal.Config    `json:"journal"`
	Status     StatusConfig      `json:"status"`
}

// Load reads path, applies environment overrides, fills defaults and
// validates every section. An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SetDefaults fills every section's zero values.
func (c *Config) SetDefaults() {
	c.Connection.SetDefaults()
	c.Transport.SetDefaults()
	c.API.SetDefaults()
	c.Bid.SetDefaults()
	c.Location.SetDefaults()
	c.Logging.SetDefaults()
	c.Status.SetDefaults()
	if c.Bid.RiderID == "" {
		c.Bid.RiderID = c.Location.Reporter.RiderID
	}
	if c.Location.Reporter.RiderID == "" {
		c.Location.Reporter.RiderID = c.Bid.RiderID
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"identity", c.Identity.Validate},
		{"connection", c.Connection.Validate},
		{"transport", c.Transport.Validate},
		{"api", c.API.Validate},
		{"location", c.Location.Validate},
		{"logging", c.Logging.Validate},
		{"status", c.Status.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}
