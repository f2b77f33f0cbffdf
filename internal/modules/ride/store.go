// README: Ride store contract and the in-memory implementation.
package ride

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/types"
)

type Store interface {
	// Create inserts a ride in requested state. A rider that already has a
	// non-terminal ride gets ErrDuplicateActiveRide.
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	// Update writes r if the stored version still equals expectedVersion,
	// else returns ErrConflictingUpdate. On success r.Version is bumped.
	Update(ctx context.Context, r *Ride, expectedVersion int) error
	HasActiveByRider(ctx context.Context, riderID types.ID) (bool, error)
	ActiveByDriver(ctx context.Context, driverID types.ID) (*Ride, error)
	// ListActive returns every non-terminal ride, oldest request first.
	ListActive(ctx context.Context) ([]*Ride, error)
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, rideID types.ID) ([]Event, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	rides  map[types.ID]*Ride
	events map[types.ID][]Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[types.ID]*Ride),
		events: make(map[types.ID][]Event),
	}
}

func (s *MemoryStore) Create(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return fmt.Errorf("ride %s exists: %w", r.ID, apperr.ErrConflictingUpdate)
	}
	for _, other := range s.rides {
		if other.RiderID == r.RiderID && !other.Status.Terminal() {
			return fmt.Errorf("rider %s: %w", r.RiderID, apperr.ErrDuplicateActiveRide)
		}
	}
	s.rides[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, fmt.Errorf("ride %s: %w", id, apperr.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, r *Ride, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rides[r.ID]
	if !ok {
		return fmt.Errorf("ride %s: %w", r.ID, apperr.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("ride %s version %d: %w", r.ID, expectedVersion, apperr.ErrConflictingUpdate)
	}
	if r.DriverID != nil && !r.Status.Terminal() {
		for _, other := range s.rides {
			if other.ID != r.ID && other.DriverID != nil && *other.DriverID == *r.DriverID && !other.Status.Terminal() {
				return fmt.Errorf("driver %s already holds ride %s: %w", *r.DriverID, other.ID, apperr.ErrConflictingUpdate)
			}
		}
	}
	r.Version = expectedVersion + 1
	s.rides[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) HasActiveByRider(_ context.Context, riderID types.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rides {
		if r.RiderID == riderID && !r.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ActiveByDriver(_ context.Context, driverID types.ID) (*Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rides {
		if r.DriverID != nil && *r.DriverID == driverID && !r.Status.Terminal() {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("active ride of driver %s: %w", driverID, apperr.ErrNotFound)
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Ride
	for _, r := range s.rides {
		if !r.Status.Terminal() {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.events[e.RideID] = append(s.events[e.RideID], *e)
	return nil
}

func (s *MemoryStore) Events(_ context.Context, rideID types.ID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]Event(nil), s.events[rideID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
