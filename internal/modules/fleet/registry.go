// README: Fleet registry keeps drivers and vehicles in memory with optional write-through.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/types"
)

// ErrIneligible is returned when a driver or vehicle cannot take a ride.
var ErrIneligible = fmt.Errorf("driver or vehicle not eligible: %w", apperr.ErrInvalidState)

// Persister is the durable side of the registry.
type Persister interface {
	LoadDrivers(ctx context.Context) ([]Driver, error)
	LoadVehicles(ctx context.Context) ([]Vehicle, error)
	SaveDriverStats(ctx context.Context, d Driver) error
	SaveDriver(ctx context.Context, d Driver) error
	SaveVehicle(ctx context.Context, v Vehicle) error
}

type Registry struct {
	mu       sync.RWMutex
	drivers  map[types.ID]Driver
	vehicles map[types.ID]Vehicle
	store    Persister
	log      *slog.Logger
}

func NewRegistry(store Persister, log *slog.Logger) *Registry {
	return &Registry{
		drivers:  make(map[types.ID]Driver),
		vehicles: make(map[types.ID]Vehicle),
		store:    store,
		log:      log.With("component", "fleet"),
	}
}

// Load replaces the in-memory view with the persisted one.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	drivers, err := r.store.LoadDrivers(ctx)
	if err != nil {
		return fmt.Errorf("load drivers: %w", err)
	}
	vehicles, err := r.store.LoadVehicles(ctx)
	if err != nil {
		return fmt.Errorf("load vehicles: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = make(map[types.ID]Driver, len(drivers))
	for _, d := range drivers {
		r.drivers[d.ID] = d
	}
	r.vehicles = make(map[types.ID]Vehicle, len(vehicles))
	for _, v := range vehicles {
		r.vehicles[v.ID] = v
	}
	r.log.Info("fleet loaded", "drivers", len(drivers), "vehicles", len(vehicles))
	return nil
}

// Refresh reloads the fleet every interval until ctx is done. Load errors
// are logged and the previous view is kept.
func (r *Registry) Refresh(ctx context.Context, interval time.Duration) {
	if r.store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Load(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("fleet refresh failed", "error", err)
			}
		}
	}
}

// RegisterDriver creates or replaces a driver's profile. Rating and
// completion counters of an existing driver are kept.
func (r *Registry) RegisterDriver(ctx context.Context, d Driver) (Driver, error) {
	if d.ID == "" {
		return Driver{}, fmt.Errorf("driver id is required: %w", apperr.ErrBadRequest)
	}
	if !d.LicenseValidFrom.IsZero() && !d.LicenseValidUntil.IsZero() && !d.LicenseValidUntil.After(d.LicenseValidFrom) {
		return Driver{}, fmt.Errorf("driver %s license ends before it starts: %w", d.ID, apperr.ErrBadRequest)
	}
	if d.ActiveVehicleID != "" {
		v, err := r.Vehicle(d.ActiveVehicleID)
		if err != nil {
			return Driver{}, err
		}
		if v.DriverID != d.ID {
			return Driver{}, fmt.Errorf("vehicle %s belongs to driver %s: %w", v.ID, v.DriverID, apperr.ErrBadRequest)
		}
	}
	d.Rating, d.RatingCount, d.CompletedRides = 0, 0, 0
	if r.store != nil {
		// The upsert leaves stored counters untouched.
		if err := r.store.SaveDriver(ctx, d); err != nil {
			return Driver{}, fmt.Errorf("save driver: %w", err)
		}
	}
	r.mu.Lock()
	if cur, ok := r.drivers[d.ID]; ok {
		d.Rating, d.RatingCount, d.CompletedRides = cur.Rating, cur.RatingCount, cur.CompletedRides
	}
	r.drivers[d.ID] = d
	r.mu.Unlock()
	r.log.Info("driver registered", "driver_id", d.ID)
	return d, nil
}

// RegisterVehicle creates or replaces a vehicle. A driver without an active
// vehicle gets this one.
func (r *Registry) RegisterVehicle(ctx context.Context, v Vehicle) (Vehicle, error) {
	switch {
	case v.ID == "" || v.DriverID == "":
		return Vehicle{}, fmt.Errorf("vehicle and driver ids are required: %w", apperr.ErrBadRequest)
	case !v.Type.Valid():
		return Vehicle{}, fmt.Errorf("unknown vehicle type %q: %w", v.Type, apperr.ErrBadRequest)
	case v.Capacity < 1:
		return Vehicle{}, fmt.Errorf("vehicle capacity must be positive: %w", apperr.ErrBadRequest)
	case v.InsuranceExpiry.IsZero() || v.InspectionExpiry.IsZero():
		return Vehicle{}, fmt.Errorf("insurance and inspection expiry are required: %w", apperr.ErrBadRequest)
	}
	d, err := r.Driver(v.DriverID)
	if err != nil {
		return Vehicle{}, err
	}
	if cur, err := r.Vehicle(v.ID); err == nil && cur.DriverID != v.DriverID {
		return Vehicle{}, fmt.Errorf("vehicle %s belongs to driver %s: %w", v.ID, cur.DriverID, apperr.ErrInvalidState)
	}
	if r.store != nil {
		if err := r.store.SaveVehicle(ctx, v); err != nil {
			return Vehicle{}, fmt.Errorf("save vehicle: %w", err)
		}
	}
	r.PutVehicle(v)

	if d.ActiveVehicleID == "" {
		d.ActiveVehicleID = v.ID
		if r.store != nil {
			if err := r.store.SaveDriver(ctx, d); err != nil {
				return v, fmt.Errorf("set active vehicle: %w", err)
			}
		}
		r.PutDriver(d)
	}
	r.log.Info("vehicle registered", "vehicle_id", v.ID, "driver_id", v.DriverID)
	return v, nil
}

func (r *Registry) PutDriver(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.ID] = d
}

func (r *Registry) PutVehicle(v Vehicle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vehicles[v.ID] = v
}

func (r *Registry) Driver(id types.ID) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	if !ok {
		return Driver{}, fmt.Errorf("driver %s: %w", id, apperr.ErrNotFound)
	}
	return d, nil
}

func (r *Registry) Vehicle(id types.ID) (Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[id]
	if !ok {
		return Vehicle{}, fmt.Errorf("vehicle %s: %w", id, apperr.ErrNotFound)
	}
	return v, nil
}

// ActiveVehicle returns the driver together with their active vehicle.
func (r *Registry) ActiveVehicle(driverID types.ID) (Driver, Vehicle, error) {
	d, err := r.Driver(driverID)
	if err != nil {
		return Driver{}, Vehicle{}, err
	}
	if d.ActiveVehicleID == "" {
		return d, Vehicle{}, fmt.Errorf("driver %s has no active vehicle: %w", driverID, ErrIneligible)
	}
	v, err := r.Vehicle(d.ActiveVehicleID)
	if err != nil {
		return d, Vehicle{}, err
	}
	return d, v, nil
}

// CheckEligible verifies that the driver may take a ride in the vehicle at at.
func (r *Registry) CheckEligible(driverID, vehicleID types.ID, req Requirements, at time.Time) error {
	d, err := r.Driver(driverID)
	if err != nil {
		return err
	}
	v, err := r.Vehicle(vehicleID)
	if err != nil {
		return err
	}
	return Eligible(d, v, req, at)
}

// Eligible is the pure eligibility rule shared by matching and assignment.
func Eligible(d Driver, v Vehicle, req Requirements, at time.Time) error {
	switch {
	case v.DriverID != d.ID:
		return fmt.Errorf("vehicle %s does not belong to driver %s: %w", v.ID, d.ID, ErrIneligible)
	case !d.LicenseValid(at):
		return fmt.Errorf("driver %s license not valid: %w", d.ID, ErrIneligible)
	case !v.DocumentsValid(at):
		return fmt.Errorf("vehicle %s documents expired: %w", v.ID, ErrIneligible)
	case !v.Fits(req):
		return fmt.Errorf("vehicle %s does not fit request: %w", v.ID, ErrIneligible)
	}
	return nil
}

// ApplyRating folds a 1..5 score into the driver's running average.
func (r *Registry) ApplyRating(ctx context.Context, driverID types.ID, score int) (Driver, error) {
	if score < 1 || score > 5 {
		return Driver{}, fmt.Errorf("rating %d: %w", score, apperr.ErrOutOfRange)
	}
	return r.update(ctx, driverID, func(d *Driver) {
		total := d.Rating*float64(d.RatingCount) + float64(score)
		d.RatingCount++
		d.Rating = clamp(total/float64(d.RatingCount), 0, 5)
	})
}

func (r *Registry) RecordCompletion(ctx context.Context, driverID types.ID) (Driver, error) {
	return r.update(ctx, driverID, func(d *Driver) {
		d.CompletedRides++
	})
}

func (r *Registry) update(ctx context.Context, driverID types.ID, fn func(*Driver)) (Driver, error) {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	if !ok {
		r.mu.Unlock()
		return Driver{}, fmt.Errorf("driver %s: %w", driverID, apperr.ErrNotFound)
	}
	fn(&d)
	r.drivers[driverID] = d
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveDriverStats(ctx, d); err != nil {
			return d, fmt.Errorf("save driver stats: %w", err)
		}
	}
	return d, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
