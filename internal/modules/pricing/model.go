// README: Pricing rate definition for each vehicle type.
package pricing

import (
	"time"

	"ridedispatch/internal/modules/fleet"
)

// Rate amounts are in minor currency units.
type Rate struct {
	VehicleType fleet.VehicleType
	BaseFare    int64
	PerKm       int64
	PerHour     int64
}

var defaultRates = map[fleet.VehicleType]Rate{
	fleet.VehicleStandard: {VehicleType: fleet.VehicleStandard, BaseFare: 500, PerKm: 150, PerHour: 2500},
	fleet.VehiclePremium:  {VehicleType: fleet.VehiclePremium, BaseFare: 800, PerKm: 150, PerHour: 2500},
	fleet.VehicleVan:      {VehicleType: fleet.VehicleVan, BaseFare: 1200, PerKm: 150, PerHour: 2500},
	fleet.VehicleLuxury:   {VehicleType: fleet.VehicleLuxury, BaseFare: 1500, PerKm: 150, PerHour: 2500},
}

const (
	peakMultiplier  = 1.2
	nightMultiplier = 1.5
)

type PricingRequest struct {
	DistanceKm  float64
	Duration    time.Duration
	RequestTime time.Time
	VehicleType fleet.VehicleType
}

type PricingResult struct {
	TotalAmount int64
	Currency    string
	Multiplier  float64
	Breakdown   map[string]int64
}
