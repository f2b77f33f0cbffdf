// README: Pricing policy computes fare estimates and final prices.
package pricing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

type Policy struct {
	mu       sync.RWMutex
	rates    map[fleet.VehicleType]Rate
	currency string
	loc      *time.Location
	now      func() time.Time
}

// NewPolicy prices in currency. Peak and night hours are read in loc,
// which defaults to UTC.
func NewPolicy(currency string, loc *time.Location) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	rates := make(map[fleet.VehicleType]Rate, len(defaultRates))
	for k, v := range defaultRates {
		rates[k] = v
	}
	return &Policy{rates: rates, currency: currency, loc: loc, now: time.Now}
}

// Multiplier returns the time-of-day surcharge: peak at 7-9h and 17-19h,
// night from 22h to 6h.
func Multiplier(at time.Time) float64 {
	switch h := at.Hour(); {
	case h >= 22 || h < 6:
		return nightMultiplier
	case h == 7 || h == 8 || h == 17 || h == 18:
		return peakMultiplier
	default:
		return 1
	}
}

func (p *Policy) Calculate(req PricingRequest) (PricingResult, error) {
	if req.DistanceKm < 0 || req.Duration < 0 {
		return PricingResult{}, fmt.Errorf("negative distance or duration: %w", apperr.ErrBadRequest)
	}
	p.mu.RLock()
	rate, ok := p.rates[req.VehicleType]
	p.mu.RUnlock()
	if !ok {
		return PricingResult{}, fmt.Errorf("no rate for vehicle type %q: %w", req.VehicleType, apperr.ErrBadRequest)
	}

	distance := req.DistanceKm * float64(rate.PerKm)
	timeCharge := req.Duration.Hours() * float64(rate.PerHour)
	mult := Multiplier(req.RequestTime.In(p.loc))
	total := (float64(rate.BaseFare) + distance + timeCharge) * mult

	return PricingResult{
		TotalAmount: int64(math.Round(total)),
		Currency:    p.currency,
		Multiplier:  mult,
		Breakdown: map[string]int64{
			"base":     rate.BaseFare,
			"distance": int64(math.Round(distance)),
			"time":     int64(math.Round(timeCharge)),
		},
	}, nil
}

func (p *Policy) Estimate(_ context.Context, distanceKm float64, duration time.Duration, vehicleType fleet.VehicleType) (types.Money, error) {
	res, err := p.Calculate(PricingRequest{
		DistanceKm:  distanceKm,
		Duration:    duration,
		RequestTime: p.now(),
		VehicleType: vehicleType,
	})
	if err != nil {
		return types.Money{}, err
	}
	return types.Money{Amount: res.TotalAmount, Currency: res.Currency}, nil
}

// Finalize prices a finished ride from its measured distance and duration,
// applying the surcharge in force when the ride started.
func (p *Policy) Finalize(_ context.Context, r ride.Ride) (types.Money, error) {
	at := r.RequestedAt
	if r.StartedAt != nil {
		at = *r.StartedAt
	}
	res, err := p.Calculate(PricingRequest{
		DistanceKm:  r.DistanceKm,
		Duration:    r.Duration,
		RequestTime: at,
		VehicleType: r.VehicleType,
	})
	if err != nil {
		return types.Money{}, err
	}
	return types.Money{Amount: res.TotalAmount, Currency: res.Currency}, nil
}

// LoadRates overrides the built-in rates with persisted ones.
func (p *Policy) LoadRates(ctx context.Context, store *Store) (int, error) {
	rates, err := store.ListRates(ctx)
	if err != nil {
		return 0, fmt.Errorf("load rates: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range rates {
		p.rates[r.VehicleType] = r
	}
	return len(rates), nil
}
