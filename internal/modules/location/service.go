// README: Location service handles high-frequency driver updates, trail appends and mirror fan-out.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/types"
)

// DefaultMaxClockSkew is how far past the server clock a report may be dated.
const DefaultMaxClockSkew = 10 * time.Second

type Service struct {
	store         *Store
	trail         Trail
	mirrors       []Mirror
	mirrorTimeout time.Duration
	maxSkew       time.Duration
	now           func() time.Time
	log           *slog.Logger
	wg            sync.WaitGroup
}

func NewService(store *Store, trail Trail, log *slog.Logger, mirrors ...Mirror) *Service {
	return &Service{
		store:         store,
		trail:         trail,
		mirrors:       mirrors,
		mirrorTimeout: 3 * time.Second,
		maxSkew:       DefaultMaxClockSkew,
		now:           time.Now,
		log:           log.With("component", "location"),
	}
}

// SetMaxClockSkew bounds how far in the future a report may be dated.
func (s *Service) SetMaxClockSkew(d time.Duration) {
	if d > 0 {
		s.maxSkew = d
	}
}

// Update applies a driver position. Out-of-order updates are dropped and
// reported as (false, nil). Reports dated past now plus the allowed skew are
// rejected, since one of them would shadow every real report after it. An
// accepted update for a driver on an active ride is appended to that ride's
// trail.
func (s *Service) Update(ctx context.Context, u Update) (bool, error) {
	if u.DriverID == "" || !u.Point.Valid() {
		return false, fmt.Errorf("location update: %w", apperr.ErrBadRequest)
	}
	now := s.now()
	if u.At.IsZero() {
		u.At = now
	}
	if u.At.After(now.Add(s.maxSkew)) {
		return false, fmt.Errorf("location recorded at %s is in the future: %w", u.At.Format(time.RFC3339), apperr.ErrBadRequest)
	}
	if !s.store.SetPosition(u.DriverID, u.Point, u.At) {
		s.log.Debug("dropped out-of-order position", "driver_id", u.DriverID, "at", u.At)
		return false, nil
	}

	if u.RideID != "" {
		if err := s.trail.Append(ctx, Sample{RideID: u.RideID, Point: u.Point, RecordedAt: u.At}); err != nil {
			return true, fmt.Errorf("append trail sample: %w", err)
		}
	}

	s.mirror(Position{DriverID: u.DriverID, Point: u.Point, At: u.At})
	return true, nil
}

func (s *Service) Position(driverID types.ID) (Position, bool) {
	return s.store.Position(driverID)
}

func (s *Service) Snapshot() map[types.ID]Position {
	return s.store.Snapshot()
}

func (s *Service) Samples(ctx context.Context, rideID types.ID) ([]Sample, error) {
	return s.trail.Samples(ctx, rideID)
}

// Close waits for in-flight mirror writes.
func (s *Service) Close() {
	s.wg.Wait()
}

func (s *Service) mirror(p Position) {
	for _, m := range s.mirrors {
		s.wg.Add(1)
		go func(m Mirror) {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.mirrorTimeout)
			defer cancel()
			if err := m.Mirror(ctx, p); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("position mirror failed", "driver_id", p.DriverID, "error", err)
			}
		}(m)
	}
}
