// Package plugins maps configured transport types to their constructors.
package plugins

import (
	"fmt"
	"sort"

	"github.com/kilianp07/ridesync/config"
	"github.com/kilianp07/ridesync/core/connection"
	"github.com/kilianp07/ridesync/core/logger"
)

// TransportFactory builds a wire transport from the transport section.
type TransportFactory func(cfg config.TransportConfig, log logger.Logger) (connection.Transport, error)

var Transports = map[string]TransportFactory{}

func RegisterTransport(name string, f TransportFactory) { Transports[name] = f }

// NewTransport builds the transport selected by cfg.Type.
func NewTransport(cfg config.TransportConfig, log logger.Logger) (connection.Transport, error) {
	f, ok := Transports[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("transport %q: not registered (have %v)", cfg.Type, TransportTypes())
	}
	return f(cfg, log)
}

// TransportTypes lists registered transport names.
func TransportTypes() []string {
	names := make([]string, 0, len(Transports))
	for n := range Transports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
