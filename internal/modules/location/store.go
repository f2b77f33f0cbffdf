// README: Latest-position store; one lock-free cell per driver.
package location

import (
	"sync"
	"sync/atomic"
	"time"

	"ridedispatch/internal/types"
)

// Store keeps the single latest position per driver. Writers never block
// each other or readers: each driver owns an atomic pointer that is replaced
// by compare-and-swap only when the incoming timestamp is strictly newer.
type Store struct {
	cells sync.Map // types.ID -> *atomic.Pointer[Position]
}

func NewStore() *Store {
	return &Store{}
}

// SetPosition records p for driver if at is newer than the stored sample.
// Older or equal timestamps are dropped; GPS delivery may reorder updates, so
// this is not an error. It reports whether the write was applied.
func (s *Store) SetPosition(driverID types.ID, p types.Point, at time.Time) bool {
	next := &Position{DriverID: driverID, Point: p, At: at}
	v, _ := s.cells.LoadOrStore(driverID, new(atomic.Pointer[Position]))
	cell := v.(*atomic.Pointer[Position])
	for {
		cur := cell.Load()
		if cur != nil && !at.After(cur.At) {
			return false
		}
		if cell.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (s *Store) Position(driverID types.ID) (Position, bool) {
	v, ok := s.cells.Load(driverID)
	if !ok {
		return Position{}, false
	}
	p := v.(*atomic.Pointer[Position]).Load()
	if p == nil {
		return Position{}, false
	}
	return *p, true
}

// Snapshot copies every driver's latest position. Each value is a consistent
// record; the map as a whole reflects the moment each cell was read.
func (s *Store) Snapshot() map[types.ID]Position {
	out := make(map[types.ID]Position)
	s.cells.Range(func(k, v any) bool {
		if p := v.(*atomic.Pointer[Position]).Load(); p != nil {
			out[k.(types.ID)] = *p
		}
		return true
	})
	return out
}
