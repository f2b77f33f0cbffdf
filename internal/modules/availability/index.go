// README: Availability index tracks which drivers are online and which hold a ride.
package availability

import (
	"fmt"
	"sync"
	"time"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/types"
)

// Status is a point-in-time view of one driver's entry.
type Status struct {
	DriverID types.ID
	Online   bool
	// Available is Online with no ride held.
	Available bool
	RideID    types.ID
	// Since is when the driver last became available.
	Since time.Time
}

type entry struct {
	mu     sync.Mutex
	online bool
	rideID types.ID
	since  time.Time
}

func (e *entry) status(id types.ID) Status {
	return Status{
		DriverID:  id,
		Online:    e.online,
		Available: e.online && e.rideID == "",
		RideID:    e.rideID,
		Since:     e.since,
	}
}

// Index holds one guarded entry per driver. The map lock is only held to
// find or create an entry; all state changes happen under the entry lock.
type Index struct {
	mu      sync.RWMutex
	entries map[types.ID]*entry
	now     func() time.Time
}

func NewIndex() *Index {
	return &Index{entries: make(map[types.ID]*entry), now: time.Now}
}

func (x *Index) entry(id types.ID, create bool) *entry {
	x.mu.RLock()
	e, ok := x.entries[id]
	x.mu.RUnlock()
	if ok || !create {
		return e
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if e, ok = x.entries[id]; ok {
		return e
	}
	e = &entry{}
	x.entries[id] = e
	return e
}

// SetAvailable toggles the driver's online flag. Repeating a call leaves the
// entry unchanged, including the wait-since timestamp.
func (x *Index) SetAvailable(driverID types.ID, online bool) Status {
	e := x.entry(driverID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.online != online {
		e.online = online
		if online && e.rideID == "" {
			e.since = x.now()
		}
	}
	return e.status(driverID)
}

// Reserve marks the driver as holding rideID. check runs under the driver's
// lock after availability is confirmed; a non-nil result aborts the
// reservation and is returned as is.
func (x *Index) Reserve(driverID, rideID types.ID, check func() error) error {
	e := x.entry(driverID, false)
	if e == nil {
		return fmt.Errorf("reserve driver %s: %w", driverID, apperr.ErrConflictingUpdate)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.online || e.rideID != "" {
		return fmt.Errorf("reserve driver %s: %w", driverID, apperr.ErrConflictingUpdate)
	}
	if check != nil {
		if err := check(); err != nil {
			return err
		}
	}
	e.rideID = rideID
	return nil
}

// Hold marks the driver as holding rideID without checking availability.
// It rebuilds the index from rides that were already assigned, so the driver
// stays unavailable even after going online. A driver already holding a
// different ride is left as is and reported with ErrConflictingUpdate.
func (x *Index) Hold(driverID, rideID types.ID) error {
	e := x.entry(driverID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rideID != "" && e.rideID != rideID {
		return fmt.Errorf("driver %s already holds ride %s: %w", driverID, e.rideID, apperr.ErrConflictingUpdate)
	}
	e.rideID = rideID
	return nil
}

// Release frees the driver from rideID. The driver becomes available again
// only if still online. Releasing a ride the driver does not hold is a no-op.
func (x *Index) Release(driverID, rideID types.ID) bool {
	e := x.entry(driverID, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rideID != rideID {
		return false
	}
	e.rideID = ""
	e.since = x.now()
	return true
}

func (x *Index) Status(driverID types.ID) (Status, bool) {
	e := x.entry(driverID, false)
	if e == nil {
		return Status{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status(driverID), true
}

// Snapshot copies every entry. Entries are read one at a time, so the copy
// is consistent per driver but not across drivers.
func (x *Index) Snapshot() map[types.ID]Status {
	x.mu.RLock()
	ids := make([]types.ID, 0, len(x.entries))
	es := make([]*entry, 0, len(x.entries))
	for id, e := range x.entries {
		ids = append(ids, id)
		es = append(es, e)
	}
	x.mu.RUnlock()

	out := make(map[types.ID]Status, len(ids))
	for i, e := range es {
		e.mu.Lock()
		out[ids[i]] = e.status(ids[i])
		e.mu.Unlock()
	}
	return out
}

// Available returns the IDs of drivers currently online with no ride.
func (x *Index) Available() []types.ID {
	var ids []types.ID
	for id, st := range x.Snapshot() {
		if st.Available {
			ids = append(ids, id)
		}
	}
	return ids
}
