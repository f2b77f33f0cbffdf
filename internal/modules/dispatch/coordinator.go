// README: Dispatch coordinator wires matching, ride transitions and location updates together.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/config"
	"ridedispatch/internal/modules/availability"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/matching"
	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

type Matcher interface {
	Rank(ctx context.Context, r ride.Ride) ([]matching.Candidate, error)
}

// errNotPending means the ride left requested state while being matched.
var errNotPending = errors.New("ride no longer pending")

type Coordinator struct {
	rides     *ride.Machine
	matcher   Matcher
	locations *location.Service
	avail     *availability.Index
	fleet     *fleet.Registry
	cfg       config.DispatchConfig
	log       *slog.Logger

	root    context.Context
	stop    context.CancelFunc
	mu      sync.Mutex
	retries map[types.ID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewCoordinator(rides *ride.Machine, matcher Matcher, locations *location.Service, avail *availability.Index, fl *fleet.Registry, cfg config.DispatchConfig, log *slog.Logger) *Coordinator {
	root, stop := context.WithCancel(context.Background())
	return &Coordinator{
		rides:     rides,
		matcher:   matcher,
		locations: locations,
		avail:     avail,
		fleet:     fl,
		cfg:       cfg,
		log:       log.With("component", "dispatch"),
		root:      root,
		stop:      stop,
		retries:   make(map[types.ID]context.CancelFunc),
	}
}

// RequestRide creates a ride and tries to assign it right away. When no
// driver takes it the ride stays requested and a retry worker keeps trying.
func (c *Coordinator) RequestRide(ctx context.Context, cmd ride.RequestCommand) (*ride.Ride, error) {
	r, err := c.rides.RequestRide(ctx, cmd)
	if err != nil {
		return nil, err
	}

	assigned, err := c.assign(ctx, r.ID)
	if err == nil {
		return assigned, nil
	}
	if errors.Is(err, errNotPending) {
		return c.rides.Get(ctx, r.ID)
	}
	if !errors.Is(err, apperr.ErrNoDriverAvailable) {
		c.log.Warn("initial assignment failed", "ride_id", r.ID, "error", err)
	}
	c.startRetry(r.ID)
	return r, nil
}

// assign offers the ride to ranked candidates until one reservation holds.
func (c *Coordinator) assign(ctx context.Context, rideID types.ID) (*ride.Ride, error) {
	r, err := c.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != ride.StatusRequested {
		return r, errNotPending
	}

	candidates, err := c.matcher.Rank(ctx, *r)
	if err != nil {
		return nil, err
	}
	for _, cand := range candidates {
		assigned, err := c.rides.Transition(ctx, ride.TransitionCommand{
			RideID:    rideID,
			Target:    ride.StatusAccepted,
			Actor:     ride.SystemActor,
			DriverID:  cand.DriverID,
			VehicleID: cand.VehicleID,
		})
		switch {
		case err == nil:
			c.log.Info("ride assigned", "ride_id", rideID, "driver_id", cand.DriverID, "distance_km", cand.DistanceKm)
			return assigned, nil
		case errors.Is(err, apperr.ErrInvalidTransition):
			return nil, errNotPending
		case errors.Is(err, apperr.ErrConflictingUpdate), errors.Is(err, fleet.ErrIneligible):
			c.log.Debug("candidate lost", "ride_id", rideID, "driver_id", cand.DriverID, "error", err)
		default:
			if errors.Is(err, apperr.ErrNotFound) {
				c.log.Error("candidate references missing fleet record", "ride_id", rideID, "driver_id", cand.DriverID, "integrity", true, "error", err)
				continue
			}
			return nil, err
		}
	}
	return nil, fmt.Errorf("ride %s: %w", rideID, apperr.ErrNoDriverAvailable)
}

// RecoveryStats summarises what Recover rebuilt.
type RecoveryStats struct {
	HeldDrivers  int
	PendingRides int
}

// Recover rebuilds in-memory dispatch state from stored rides. Drivers on
// accepted or in-progress rides are held so they cannot be assigned again,
// and requested rides get a retry worker. Call it before serving traffic.
func (c *Coordinator) Recover(ctx context.Context) (RecoveryStats, error) {
	active, err := c.rides.ActiveRides(ctx)
	if err != nil {
		return RecoveryStats{}, fmt.Errorf("list active rides: %w", err)
	}
	var st RecoveryStats
	for _, r := range active {
		switch r.Status {
		case ride.StatusRequested:
			c.startRetry(r.ID)
			st.PendingRides++
		case ride.StatusAccepted, ride.StatusInProgress:
			if r.DriverID == nil {
				c.log.Error("active ride without driver", "ride_id", r.ID, "status", r.Status, "integrity", true)
				continue
			}
			if err := c.avail.Hold(*r.DriverID, r.ID); err != nil {
				c.log.Error("driver holds several active rides", "ride_id", r.ID, "driver_id", *r.DriverID, "integrity", true, "error", err)
				continue
			}
			st.HeldDrivers++
		}
	}
	c.log.Info("dispatch state recovered", "held_drivers", st.HeldDrivers, "pending_rides", st.PendingRides)
	return st, nil
}

func (c *Coordinator) startRetry(rideID types.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.root.Err() != nil {
		return
	}
	if _, ok := c.retries[rideID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(c.root)
	c.retries[rideID] = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.stopRetry(rideID)
		c.retryLoop(ctx, rideID)
	}()
}

func (c *Coordinator) stopRetry(rideID types.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.retries[rideID]; ok {
		cancel()
		delete(c.retries, rideID)
	}
}

func (c *Coordinator) retryLoop(ctx context.Context, rideID types.ID) {
	log := c.log.With("ride_id", rideID)
	b := newBackoff(c.cfg.BackoffInitial, c.cfg.BackoffMax, c.cfg.BackoffMultiplier)

	for attempt := 1; attempt <= c.cfg.MaxRematchAttempts; attempt++ {
		timer := time.NewTimer(b.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		_, err := c.assign(ctx, rideID)
		switch {
		case err == nil, errors.Is(err, errNotPending):
			return
		case ctx.Err() != nil:
			return
		case errors.Is(err, apperr.ErrNoDriverAvailable):
			log.Debug("no driver yet", "attempt", attempt)
		default:
			log.Warn("re-match attempt failed", "attempt", attempt, "error", err)
		}
	}

	if ctx.Err() != nil {
		return
	}
	_, err := c.rides.Transition(ctx, ride.TransitionCommand{
		RideID: rideID,
		Target: ride.StatusCancelled,
		Actor:  ride.SystemActor,
		Reason: ride.CancelReasonNoDriver,
	})
	switch {
	case err == nil:
		log.Info("ride cancelled after re-match attempts", "attempts", c.cfg.MaxRematchAttempts)
	case errors.Is(err, apperr.ErrInvalidTransition):
		// assigned or cancelled in the meantime
	default:
		log.Error("cancel unmatched ride", "error", err)
	}
}

// CancelRide cancels a ride that has not started yet.
func (c *Coordinator) CancelRide(ctx context.Context, rideID types.ID, actor ride.Actor, reason string) (*ride.Ride, error) {
	r, err := c.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != ride.StatusRequested && r.Status != ride.StatusAccepted {
		return nil, fmt.Errorf("cancel ride %s in %s: %w", rideID, r.Status, apperr.ErrInvalidState)
	}
	if actor.Role == ride.RoleRider && actor.ID != "" && actor.ID != r.RiderID {
		return nil, fmt.Errorf("ride %s belongs to another rider: %w", rideID, apperr.ErrInvalidState)
	}
	cancelled, err := c.rides.Transition(ctx, ride.TransitionCommand{
		RideID: rideID,
		Target: ride.StatusCancelled,
		Actor:  actor,
		Reason: reason,
	})
	if err != nil {
		// The retry worker keeps running for a ride that is still requested.
		return nil, err
	}
	c.stopRetry(rideID)
	return cancelled, nil
}

// UpdateDriverLocation records a position report. A report older than the
// stored one is dropped and reported as accepted=false.
func (c *Coordinator) UpdateDriverLocation(ctx context.Context, driverID types.ID, p types.Point, at time.Time) (bool, error) {
	if _, err := c.fleet.Driver(driverID); err != nil {
		return false, err
	}
	u := location.Update{DriverID: driverID, Point: p, At: at}
	active, err := c.rides.ActiveRideOfDriver(ctx, driverID)
	switch {
	case err == nil:
		u.RideID = active.ID
	case !errors.Is(err, apperr.ErrNotFound):
		return false, fmt.Errorf("lookup active ride: %w", err)
	}
	return c.locations.Update(ctx, u)
}

// SetDriverAvailability toggles a driver online or offline. Repeating the
// same value changes nothing.
func (c *Coordinator) SetDriverAvailability(_ context.Context, driverID types.ID, online bool) (availability.Status, error) {
	if _, err := c.fleet.Driver(driverID); err != nil {
		return availability.Status{}, err
	}
	st := c.avail.SetAvailable(driverID, online)
	c.log.Info("driver availability", "driver_id", driverID, "online", online, "available", st.Available)
	return st, nil
}

func (c *Coordinator) StartRide(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	return c.rides.Transition(ctx, ride.TransitionCommand{
		RideID: rideID,
		Target: ride.StatusInProgress,
		Actor:  ride.Actor{Role: ride.RoleDriver, ID: driverID},
	})
}

func (c *Coordinator) CompleteRide(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	return c.rides.Transition(ctx, ride.TransitionCommand{
		RideID: rideID,
		Target: ride.StatusCompleted,
		Actor:  ride.Actor{Role: ride.RoleDriver, ID: driverID},
	})
}

func (c *Coordinator) RecordRating(ctx context.Context, cmd ride.RateCommand) (*ride.Ride, error) {
	return c.rides.RecordRating(ctx, cmd)
}

func (c *Coordinator) Ride(ctx context.Context, rideID types.ID) (*ride.Ride, error) {
	return c.rides.Get(ctx, rideID)
}

func (c *Coordinator) Trail(ctx context.Context, rideID types.ID) ([]location.Sample, error) {
	return c.rides.Trail(ctx, rideID)
}

func (c *Coordinator) DriverPosition(_ context.Context, driverID types.ID) (location.Position, error) {
	p, ok := c.locations.Position(driverID)
	if !ok {
		return location.Position{}, fmt.Errorf("position of driver %s: %w", driverID, apperr.ErrNotFound)
	}
	return p, nil
}

// DriverView is a driver's profile joined with live state.
type DriverView struct {
	Driver       fleet.Driver
	Availability availability.Status
	Position     *location.Position
}

func (c *Coordinator) Driver(_ context.Context, driverID types.ID) (DriverView, error) {
	d, err := c.fleet.Driver(driverID)
	if err != nil {
		return DriverView{}, err
	}
	view := DriverView{Driver: d}
	if st, ok := c.avail.Status(driverID); ok {
		view.Availability = st
	} else {
		view.Availability = availability.Status{DriverID: driverID}
	}
	if p, ok := c.locations.Position(driverID); ok {
		view.Position = &p
	}
	return view, nil
}

// RegisterDriver adds or updates a driver profile and returns its live view.
func (c *Coordinator) RegisterDriver(ctx context.Context, d fleet.Driver) (DriverView, error) {
	if _, err := c.fleet.RegisterDriver(ctx, d); err != nil {
		return DriverView{}, err
	}
	return c.Driver(ctx, d.ID)
}

func (c *Coordinator) RegisterVehicle(ctx context.Context, v fleet.Vehicle) (fleet.Vehicle, error) {
	return c.fleet.RegisterVehicle(ctx, v)
}

// PendingRetries reports how many rides are waiting for a re-match.
func (c *Coordinator) PendingRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.retries)
}

// Close stops retry workers and waits for them and for in-flight
// notifications and mirror writes.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stop()
	c.mu.Unlock()
	c.wg.Wait()
	c.rides.Close()
	c.locations.Close()
}
