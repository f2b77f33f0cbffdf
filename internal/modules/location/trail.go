// README: Per-ride append-only trail of location samples.
package location

import (
	"context"
	"sort"
	"sync"

	"ridedispatch/internal/types"
)

// Trail is the append-only sample log of active rides.
type Trail interface {
	Append(ctx context.Context, s Sample) error
	Samples(ctx context.Context, rideID types.ID) ([]Sample, error)
}

// MemoryTrail keeps trails in process. A ride's samples are never modified
// once appended.
type MemoryTrail struct {
	mu    sync.RWMutex
	rides map[types.ID][]Sample
}

func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{rides: make(map[types.ID][]Sample)}
}

func (t *MemoryTrail) Append(_ context.Context, s Sample) error {
	t.mu.Lock()
	t.rides[s.RideID] = append(t.rides[s.RideID], s)
	t.mu.Unlock()
	return nil
}

// Samples returns a copy of the ride's trail ordered by RecordedAt.
func (t *MemoryTrail) Samples(_ context.Context, rideID types.ID) ([]Sample, error) {
	t.mu.RLock()
	out := make([]Sample, len(t.rides[rideID]))
	copy(out, t.rides[rideID])
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}
