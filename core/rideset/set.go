// Package rideset holds the driver's ordered cache of open ride requests.
package rideset

import (
	"sync"
	"time"

	"github.com/kilianp07/ridesync/core/model"
)

const (
	DefaultTombstoneLimit = 512
	DefaultTombstoneTTL   = 10 * time.Minute
)

// Op is a cache mutation kind.
type Op int

const (
	OpNone Op = iota
	OpInsert
	OpReplace
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	default:
		return "none"
	}
}

// Change is one cache mutation. Snapshot is used by insert and replace,
// ID by remove.
type Change struct {
	Op       Op
	ID       string
	Snapshot model.RideRequestSnapshot
}

// Options configure tombstone retention.
type Options struct {
	TombstoneLimit int           `json:"tombstone_limit"`
	TombstoneTTL   time.Duration `json:"tombstone_ttl"`
}

// Set is an insertion-ordered collection of ride request snapshots keyed by
// request id. It holds at most one snapshot per id. Ids removed from the set
// are remembered for a while so a late insert for them is refused.
//
// The dispatch router is the only writer; everything else reads.
type Set struct {
	mu    sync.RWMutex
	order []string
	items map[string]model.RideRequestSnapshot

	tombstones map[string]time.Time
	tombOrder  []string
	limit      int
	ttl        time.Duration
	now        func() time.Time
}

// New returns an empty set.
func New(opts Options) *Set {
	if opts.TombstoneLimit <= 0 {
		opts.TombstoneLimit = DefaultTombstoneLimit
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = DefaultTombstoneTTL
	}
	return &Set{
		items:      make(map[string]model.RideRequestSnapshot),
		tombstones: make(map[string]time.Time),
		limit:      opts.TombstoneLimit,
		ttl:        opts.TombstoneTTL,
		now:        time.Now,
	}
}

// Contains reports whether id is live in the set.
func (s *Set) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// Removed reports whether id was removed recently.
func (s *Set) Removed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.removedLocked(id)
}

// Get returns the snapshot for id.
func (s *Set) Get(id string) (model.RideRequestSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.items[id]
	return snap, ok
}

// Len returns the number of live snapshots.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns the live snapshots in display order.
func (s *Set) Snapshot() []model.RideRequestSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RideRequestSnapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// Apply performs c and reports whether the set changed.
func (s *Set) Apply(c Change) bool {
	switch c.Op {
	case OpInsert:
		return s.Insert(c.Snapshot)
	case OpReplace:
		return s.Replace(c.Snapshot)
	case OpRemove:
		return s.Remove(c.ID)
	default:
		return false
	}
}

// Insert appends snap unless its id is live or was removed recently.
func (s *Set) Insert(snap model.RideRequestSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[snap.ID]; ok || s.removedLocked(snap.ID) {
		return false
	}
	s.items[snap.ID] = snap
	s.order = append(s.order, snap.ID)
	return true
}

// Replace swaps the snapshot with the same id, keeping its position.
func (s *Set) Replace(snap model.RideRequestSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[snap.ID]; !ok {
		return false
	}
	s.items[snap.ID] = snap
	return true
}

// Remove deletes id and remembers it as removed.
func (s *Set) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	if ok {
		delete(s.items, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.tombstoneLocked(id)
	return ok
}

// Reset replaces the content wholesale with snaps in the given order.
// Duplicates keep their first occurrence and recently removed ids are
// skipped. It returns the number of snapshots kept.
func (s *Set) Reset(snaps []model.RideRequestSnapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]model.RideRequestSnapshot, len(snaps))
	s.order = s.order[:0]
	for _, snap := range snaps {
		if _, dup := s.items[snap.ID]; dup || s.removedLocked(snap.ID) {
			continue
		}
		s.items[snap.ID] = snap
		s.order = append(s.order, snap.ID)
	}
	return len(s.order)
}

// Clear drops every snapshot and tombstone.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]model.RideRequestSnapshot)
	s.order = nil
	s.tombstones = make(map[string]time.Time)
	s.tombOrder = nil
}

func (s *Set) removedLocked(id string) bool {
	at, ok := s.tombstones[id]
	return ok && s.now().Sub(at) < s.ttl
}

func (s *Set) tombstoneLocked(id string) {
	now := s.now()
	if _, ok := s.tombstones[id]; ok {
		for i, t := range s.tombOrder {
			if t == id {
				s.tombOrder = append(s.tombOrder[:i], s.tombOrder[i+1:]...)
				break
			}
		}
	}
	s.tombOrder = append(s.tombOrder, id)
	s.tombstones[id] = now

	// tombOrder is oldest first; drop expired and overflow entries.
	drop := 0
	for drop < len(s.tombOrder) {
		old := s.tombOrder[drop]
		expired := now.Sub(s.tombstones[old]) >= s.ttl
		if !expired && len(s.tombOrder)-drop <= s.limit {
			break
		}
		delete(s.tombstones, old)
		drop++
	}
	s.tombOrder = s.tombOrder[drop:]
}
