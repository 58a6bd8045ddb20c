// Package journal persists inbound dispatch frames together with how the
// router reconciled them. A journal can be replayed offline to reproduce a
// desync report.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kilianp07/ridesync/core/protocol"
)

// Record is one inbound frame. Drop holds the reason the router discarded
// it and is empty when the frame was applied. A bare protocol frame decodes
// as a Record with a zero Time.
type Record struct {
	Time  time.Time       `json:"time"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Drop  string          `json:"drop,omitempty"`
}

// Frame returns the protocol frame the record was built from.
func (r Record) Frame() protocol.Frame {
	return protocol.Frame{Event: r.Event, Data: r.Data}
}

// Query filters records. Zero fields match everything.
type Query struct {
	Start   time.Time
	End     time.Time
	Event   string
	Dropped bool
}

func (q Query) match(r Record) bool {
	if !q.Start.IsZero() && r.Time.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Time.After(q.End) {
		return false
	}
	if q.Event != "" && r.Event != q.Event {
		return false
	}
	if q.Dropped && r.Drop == "" {
		return false
	}
	return true
}

// Writer appends records.
type Writer interface {
	Append(ctx context.Context, rec Record) error
}

// Store persists records and supports querying.
type Store interface {
	Writer
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects the journal file and its rotation. MaxSizeMB of zero keeps
// a single unrotated file.
type Config struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Enabled reports whether a journal path is configured.
func (c Config) Enabled() bool { return c.Path != "" }

// Open returns the store described by c.
func Open(c Config) (Store, error) {
	if c.MaxSizeMB > 0 {
		return NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	}
	return NewJSONLStore(c.Path)
}
