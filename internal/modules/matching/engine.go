// README: Match engine ranks eligible drivers for a requested ride.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/modules/availability"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

type PositionSource interface {
	Snapshot() map[types.ID]location.Position
}

type AvailabilitySource interface {
	Snapshot() map[types.ID]availability.Status
}

type FleetSource interface {
	ActiveVehicle(driverID types.ID) (fleet.Driver, fleet.Vehicle, error)
}

// Engine is a read-only query over position and availability snapshots.
type Engine struct {
	positions PositionSource
	avail     AvailabilitySource
	fleet     FleetSource
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

func NewEngine(positions PositionSource, avail AvailabilitySource, fl FleetSource, cfg Config, log *slog.Logger) *Engine {
	return &Engine{
		positions: positions,
		avail:     avail,
		fleet:     fl,
		cfg:       cfg,
		log:       log.With("component", "matching"),
		now:       time.Now,
	}
}

// FindMatch returns the best candidate or ErrNoDriverAvailable.
func (e *Engine) FindMatch(ctx context.Context, r ride.Ride) (Candidate, error) {
	ranked, err := e.Rank(ctx, r)
	if err != nil {
		return Candidate{}, err
	}
	if len(ranked) == 0 {
		return Candidate{}, fmt.Errorf("ride %s: %w", r.ID, apperr.ErrNoDriverAvailable)
	}
	return ranked[0], nil
}

// Rank returns every eligible driver within the search radius, nearest
// first. Ties at metre resolution go to the driver waiting longest, then
// to the lowest driver ID.
func (e *Engine) Rank(ctx context.Context, r ride.Ride) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := e.now()
	statuses := e.avail.Snapshot()
	positions := e.positions.Snapshot()
	req := fleet.Requirements{Passengers: r.Passengers, VehicleType: r.VehicleType}

	var out []Candidate
	for id, st := range statuses {
		if !st.Available {
			continue
		}
		c, err := e.evaluate(id, st, positions, r.Pickup, req, now)
		if err != nil {
			if !errors.Is(err, errOutOfRadius) {
				e.log.Debug("driver skipped", "ride_id", r.ID, "driver_id", id, "reason", err)
			}
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		di, dj := roundMetres(out[i].DistanceKm), roundMetres(out[j].DistanceKm)
		if di != dj {
			return di < dj
		}
		if !out[i].WaitingSince.Equal(out[j].WaitingSince) {
			return out[i].WaitingSince.Before(out[j].WaitingSince)
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out, nil
}

var errOutOfRadius = errors.New("outside search radius")

func (e *Engine) evaluate(id types.ID, st availability.Status, positions map[types.ID]location.Position, pickup types.Point, req fleet.Requirements, now time.Time) (Candidate, error) {
	pos, ok := positions[id]
	if !ok || now.Sub(pos.At) > e.cfg.Freshness {
		return Candidate{}, apperr.ErrStaleLocation
	}
	d, v, err := e.fleet.ActiveVehicle(id)
	if err != nil {
		return Candidate{}, err
	}
	if err := fleet.Eligible(d, v, req, now); err != nil {
		return Candidate{}, err
	}
	km := location.HaversineKm(pos.Point, pickup)
	if km > e.cfg.RadiusKm {
		return Candidate{}, errOutOfRadius
	}
	return Candidate{
		DriverID:     id,
		VehicleID:    v.ID,
		Position:     pos.Point,
		DistanceKm:   km,
		WaitingSince: st.Since,
	}, nil
}

func roundMetres(km float64) int64 {
	return int64(math.Round(km * 1000 / distanceResolutionM))
}
