// README: Matching candidates and engine settings.
package matching

import (
	"time"

	"ridedispatch/internal/types"
)

type Candidate struct {
	DriverID     types.ID
	VehicleID    types.ID
	Position     types.Point
	DistanceKm   float64
	WaitingSince time.Time
}

type Config struct {
	RadiusKm  float64
	Freshness time.Duration
}

// distanceResolutionM is the resolution at which distances count as ties.
const distanceResolutionM = 1.0
