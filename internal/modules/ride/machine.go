// README: Ride state machine: validated transitions, side effects and collaborator calls.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/types"
)

type Pricer interface {
	Estimate(ctx context.Context, distanceKm float64, duration time.Duration, vehicleType fleet.VehicleType) (types.Money, error)
	Finalize(ctx context.Context, r Ride) (types.Money, error)
}

type RouteEstimator interface {
	Route(ctx context.Context, from, to types.Point) (distanceKm float64, duration time.Duration, err error)
}

type Notifier interface {
	RideTransition(ctx context.Context, e Event) error
}

type PaymentNotifier interface {
	RideCompleted(ctx context.Context, rideID types.ID, price types.Money) error
}

type Availability interface {
	Reserve(driverID, rideID types.ID, check func() error) error
	Release(driverID, rideID types.ID) bool
}

type Fleet interface {
	CheckEligible(driverID, vehicleID types.ID, req fleet.Requirements, at time.Time) error
	RecordCompletion(ctx context.Context, driverID types.ID) (fleet.Driver, error)
	ApplyRating(ctx context.Context, driverID types.ID, score int) (fleet.Driver, error)
}

type Options struct {
	PricingTimeout time.Duration
	NotifyTimeout  time.Duration
	FlatEstimate   types.Money
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Deps struct {
	Store        Store
	Pricing      Pricer
	Routes       RouteEstimator
	Availability Availability
	Fleet        Fleet
	Trail        location.Trail
	Notifier     Notifier
	Payments     PaymentNotifier
	Log          *slog.Logger
}

type Machine struct {
	store    Store
	pricing  Pricer
	routes   RouteEstimator
	avail    Availability
	fleet    Fleet
	trail    location.Trail
	notifier Notifier
	payments PaymentNotifier
	log      *slog.Logger
	opts     Options
	rides    *keyedMutex
	riders   *keyedMutex
	wg       sync.WaitGroup

	// outbox holds undelivered notifications per ride. A key is present
	// while a drain goroutine owns that ride.
	outboxMu sync.Mutex
	outbox   map[types.ID][]func(context.Context)
}

func NewMachine(deps Deps, opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 5 * time.Second
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Trail == nil {
		deps.Trail = location.NewMemoryTrail()
	}
	return &Machine{
		store:    deps.Store,
		pricing:  deps.Pricing,
		routes:   deps.Routes,
		avail:    deps.Availability,
		fleet:    deps.Fleet,
		trail:    deps.Trail,
		notifier: deps.Notifier,
		payments: deps.Payments,
		log:      deps.Log.With("component", "ride"),
		opts:     opts,
		rides:    newKeyedMutex(),
		riders:   newKeyedMutex(),
		outbox:   make(map[types.ID][]func(context.Context)),
	}
}

type RequestCommand struct {
	RiderID     types.ID
	Pickup      types.Point
	Destination types.Point
	VehicleType fleet.VehicleType
	Passengers  int
}

type TransitionCommand struct {
	RideID    types.ID
	Target    Status
	Actor     Actor
	DriverID  types.ID
	VehicleID types.ID
	Reason    string
}

type RateCommand struct {
	RideID  types.ID
	Role    Role
	Score   int
	Comment string
}

func (c *RequestCommand) normalize() error {
	if c.RiderID == "" {
		return fmt.Errorf("rider is required: %w", apperr.ErrBadRequest)
	}
	if !c.Pickup.Valid() || !c.Destination.Valid() {
		return fmt.Errorf("coordinates out of range: %w", apperr.ErrBadRequest)
	}
	if c.Pickup == c.Destination {
		return fmt.Errorf("pickup and destination must differ: %w", apperr.ErrBadRequest)
	}
	if c.VehicleType == "" {
		c.VehicleType = fleet.VehicleStandard
	}
	if !c.VehicleType.Valid() {
		return fmt.Errorf("unknown vehicle type %q: %w", c.VehicleType, apperr.ErrBadRequest)
	}
	if c.Passengers == 0 {
		c.Passengers = 1
	}
	if c.Passengers < 1 || c.Passengers > c.VehicleType.MaxPassengers() {
		return fmt.Errorf("%s takes 1 to %d passengers: %w", c.VehicleType, c.VehicleType.MaxPassengers(), apperr.ErrBadRequest)
	}
	return nil
}

// RequestRide creates a ride in requested state with an estimated price.
func (m *Machine) RequestRide(ctx context.Context, cmd RequestCommand) (*Ride, error) {
	if err := cmd.normalize(); err != nil {
		return nil, err
	}

	unlock := m.riders.Lock(string(cmd.RiderID))
	defer unlock()

	active, err := m.store.HasActiveByRider(ctx, cmd.RiderID)
	if err != nil {
		return nil, fmt.Errorf("check active ride: %w", err)
	}
	if active {
		return nil, fmt.Errorf("rider %s: %w", cmd.RiderID, apperr.ErrDuplicateActiveRide)
	}

	r := &Ride{
		ID:             types.ID(uuid.NewString()),
		RiderID:        cmd.RiderID,
		VehicleType:    cmd.VehicleType,
		Passengers:     cmd.Passengers,
		Pickup:         cmd.Pickup,
		Destination:    cmd.Destination,
		Status:         StatusRequested,
		RequestedAt:    m.opts.Clock().UTC().Truncate(time.Microsecond),
		EstimatedPrice: m.estimate(ctx, cmd),
	}
	if err := m.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}

	m.record(ctx, r, Event{
		RideID: r.ID,
		From:   StatusNone,
		To:     StatusRequested,
		Actor:  Actor{Role: RoleRider, ID: cmd.RiderID},
		At:     r.RequestedAt,
	})
	return r, nil
}

// Transition moves a ride along one edge of AllowedTransitions.
func (m *Machine) Transition(ctx context.Context, cmd TransitionCommand) (*Ride, error) {
	unlock := m.rides.Lock(string(cmd.RideID))
	defer unlock()

	cur, err := m.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, cmd.Target) {
		return nil, fmt.Errorf("ride %s %s -> %s: %w", cur.ID, cur.Status, cmd.Target, apperr.ErrInvalidTransition)
	}
	if cmd.Actor.Role == RoleDriver && cur.DriverID != nil && cmd.Actor.ID != *cur.DriverID {
		return nil, fmt.Errorf("ride %s is not assigned to driver %s: %w", cur.ID, cmd.Actor.ID, apperr.ErrInvalidState)
	}

	next := cur.Clone()
	next.Status = cmd.Target
	at := m.stamp(cur)
	var reserved types.ID

	switch cmd.Target {
	case StatusAccepted:
		if cmd.DriverID == "" || cmd.VehicleID == "" {
			return nil, fmt.Errorf("driver and vehicle are required: %w", apperr.ErrBadRequest)
		}
		req := fleet.Requirements{Passengers: cur.Passengers, VehicleType: cur.VehicleType}
		err := m.avail.Reserve(cmd.DriverID, cur.ID, func() error {
			return m.fleet.CheckEligible(cmd.DriverID, cmd.VehicleID, req, at)
		})
		if err != nil {
			return nil, fmt.Errorf("assign driver %s: %w", cmd.DriverID, err)
		}
		reserved = cmd.DriverID
		driverID, vehicleID := cmd.DriverID, cmd.VehicleID
		next.DriverID = &driverID
		next.VehicleID = &vehicleID
		next.AcceptedAt = &at
	case StatusInProgress:
		next.StartedAt = &at
	case StatusCompleted:
		next.CompletedAt = &at
		next.DistanceKm = m.travelledKm(ctx, cur)
		if cur.StartedAt != nil {
			next.Duration = at.Sub(*cur.StartedAt)
		}
		price := m.finalize(ctx, *next)
		next.FinalPrice = &price
	case StatusCancelled:
		next.CancelledAt = &at
		next.CancelReason = cmd.Reason
	}

	if err := m.store.Update(ctx, next, cur.Version); err != nil {
		if reserved != "" {
			m.avail.Release(reserved, cur.ID)
		}
		return nil, fmt.Errorf("update ride %s: %w", cur.ID, err)
	}

	if next.Status.Terminal() && next.DriverID != nil {
		m.avail.Release(*next.DriverID, next.ID)
	}
	if next.Status == StatusCompleted {
		m.afterCompletion(ctx, next)
	}

	m.record(ctx, next, Event{
		RideID: next.ID,
		From:   cur.Status,
		To:     next.Status,
		Actor:  cmd.Actor,
		Reason: cmd.Reason,
		At:     at,
	})
	return next, nil
}

// RecordRating stores one rating per role on a completed ride.
func (m *Machine) RecordRating(ctx context.Context, cmd RateCommand) (*Ride, error) {
	unlock := m.rides.Lock(string(cmd.RideID))
	defer unlock()

	cur, err := m.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusCompleted {
		return nil, fmt.Errorf("rate ride %s in %s: %w", cur.ID, cur.Status, apperr.ErrInvalidState)
	}
	if cmd.Score < 1 || cmd.Score > 5 {
		return nil, fmt.Errorf("rating %d: %w", cmd.Score, apperr.ErrOutOfRange)
	}

	next := cur.Clone()
	score := cmd.Score
	switch cmd.Role {
	case RoleRider:
		if cur.RiderRating != nil {
			return nil, fmt.Errorf("rider already rated ride %s: %w", cur.ID, apperr.ErrInvalidState)
		}
		next.RiderRating = &score
		next.RiderComment = cmd.Comment
	case RoleDriver:
		if cur.DriverRating != nil {
			return nil, fmt.Errorf("driver already rated ride %s: %w", cur.ID, apperr.ErrInvalidState)
		}
		next.DriverRating = &score
		next.DriverComment = cmd.Comment
	default:
		return nil, fmt.Errorf("unknown rater role %q: %w", cmd.Role, apperr.ErrBadRequest)
	}

	if err := m.store.Update(ctx, next, cur.Version); err != nil {
		return nil, fmt.Errorf("update ride %s: %w", cur.ID, err)
	}

	if cmd.Role == RoleRider && next.DriverID != nil {
		if _, err := m.fleet.ApplyRating(ctx, *next.DriverID, score); err != nil {
			m.logFleetError("apply driver rating", next, err)
		}
	}
	return next, nil
}

func (m *Machine) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return m.store.Get(ctx, id)
}

func (m *Machine) Events(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.store.Events(ctx, id)
}

// Trail returns the ride's location samples ordered by time.
func (m *Machine) Trail(ctx context.Context, id types.ID) ([]location.Sample, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.trail.Samples(ctx, id)
}

// ActiveRides lists every ride that has not reached a terminal status.
func (m *Machine) ActiveRides(ctx context.Context) ([]*Ride, error) {
	return m.store.ListActive(ctx)
}

func (m *Machine) ActiveRideOfDriver(ctx context.Context, driverID types.ID) (*Ride, error) {
	return m.store.ActiveByDriver(ctx, driverID)
}

// Close waits until every queued notification has been delivered.
func (m *Machine) Close() {
	m.wg.Wait()
}

// stamp returns a timestamp strictly after every stamp already on r.
func (m *Machine) stamp(r *Ride) time.Time {
	at := m.opts.Clock().UTC().Truncate(time.Microsecond)
	if last := r.LastTimestamp(); !at.After(last) {
		at = last.Add(time.Microsecond)
	}
	return at
}

func (m *Machine) flatEstimate() types.Money {
	return m.opts.FlatEstimate
}

func (m *Machine) estimate(ctx context.Context, cmd RequestCommand) types.Money {
	if m.pricing == nil {
		return m.flatEstimate()
	}
	price, err := withTimeout(ctx, m.opts.PricingTimeout, func(ctx context.Context) (types.Money, error) {
		km := location.HaversineKm(cmd.Pickup, cmd.Destination)
		var dur time.Duration
		if m.routes != nil {
			if rkm, rdur, err := m.routes.Route(ctx, cmd.Pickup, cmd.Destination); err == nil {
				km, dur = rkm, rdur
			} else {
				m.log.Warn("route estimate failed", "error", err)
			}
		}
		return m.pricing.Estimate(ctx, km, dur, cmd.VehicleType)
	})
	if err != nil {
		m.log.Warn("pricing estimate degraded to flat estimate", "rider_id", cmd.RiderID, "error", err)
		return m.flatEstimate()
	}
	return price
}

func (m *Machine) finalize(ctx context.Context, r Ride) types.Money {
	if m.pricing == nil {
		return r.EstimatedPrice
	}
	price, err := withTimeout(ctx, m.opts.PricingTimeout, func(ctx context.Context) (types.Money, error) {
		return m.pricing.Finalize(ctx, r)
	})
	if err != nil {
		m.log.Warn("final price degraded to estimate", "ride_id", r.ID, "error", err)
		return r.EstimatedPrice
	}
	return price
}

// travelledKm measures the trail recorded since the ride started, falling
// back to the straight line from pickup to destination.
func (m *Machine) travelledKm(ctx context.Context, r *Ride) float64 {
	straight := location.HaversineKm(r.Pickup, r.Destination)
	samples, err := m.trail.Samples(ctx, r.ID)
	if err != nil {
		m.log.Warn("read trail", "ride_id", r.ID, "error", err)
		return straight
	}
	if r.StartedAt != nil {
		kept := samples[:0]
		for _, s := range samples {
			if !s.RecordedAt.Before(*r.StartedAt) {
				kept = append(kept, s)
			}
		}
		samples = kept
	}
	if len(samples) < 2 {
		return straight
	}
	return location.PathLengthKm(samples)
}

func (m *Machine) afterCompletion(ctx context.Context, r *Ride) {
	if _, err := m.fleet.RecordCompletion(ctx, *r.DriverID); err != nil {
		m.logFleetError("record completion", r, err)
	}
	if m.payments == nil || r.FinalPrice == nil {
		return
	}
	rideID, price := r.ID, *r.FinalPrice
	m.deliver(rideID, func(ctx context.Context) {
		if err := m.payments.RideCompleted(ctx, rideID, price); err != nil {
			m.log.Warn("payment notification failed", "ride_id", rideID, "error", err)
		}
	})
}

func (m *Machine) record(ctx context.Context, r *Ride, e Event) {
	e.RiderID = r.RiderID
	if r.DriverID != nil {
		e.DriverID = *r.DriverID
	}
	if err := m.store.AppendEvent(ctx, &e); err != nil {
		m.log.Warn("append ride event", "ride_id", r.ID, "error", err)
	}
	m.log.Info("ride transition", "ride_id", r.ID, "from", e.From, "to", e.To, "actor", e.Actor.Role)
	if m.notifier == nil {
		return
	}
	m.deliver(e.RideID, func(ctx context.Context) {
		if err := m.notifier.RideTransition(ctx, e); err != nil {
			m.log.Warn("ride notification failed", "ride_id", e.RideID, "to", e.To, "error", err)
		}
	})
}

// deliver runs fn off the caller's goroutine, after every notification
// already queued for the same ride. Callers hold the ride lock, so queue
// order is transition order.
func (m *Machine) deliver(rideID types.ID, fn func(ctx context.Context)) {
	m.outboxMu.Lock()
	pending, draining := m.outbox[rideID]
	m.outbox[rideID] = append(pending, fn)
	if !draining {
		m.wg.Add(1)
	}
	m.outboxMu.Unlock()
	if !draining {
		go m.drain(rideID)
	}
}

func (m *Machine) drain(rideID types.ID) {
	defer m.wg.Done()
	for {
		m.outboxMu.Lock()
		pending := m.outbox[rideID]
		if len(pending) == 0 {
			delete(m.outbox, rideID)
			m.outboxMu.Unlock()
			return
		}
		fn := pending[0]
		m.outbox[rideID] = pending[1:]
		m.outboxMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.opts.NotifyTimeout)
		fn(ctx)
		cancel()
	}
}

func (m *Machine) logFleetError(op string, r *Ride, err error) {
	if errors.Is(err, apperr.ErrNotFound) {
		m.log.Error(op, "ride_id", r.ID, "integrity", true, "error", fmt.Errorf("%w: %w", apperr.ErrIntegrity, err))
		return
	}
	m.log.Warn(op, "ride_id", r.ID, "error", err)
}

// withTimeout runs fn and gives up after d even if fn ignores its context.
func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) (types.Money, error)) (types.Money, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		m   types.Money
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := fn(ctx)
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		return r.m, r.err
	case <-ctx.Done():
		return types.Money{}, ctx.Err()
	}
}
