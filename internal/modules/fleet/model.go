// README: Fleet model: drivers, vehicles and vehicle categories.
package fleet

import (
	"time"

	"ridedispatch/internal/types"
)

type VehicleType string

const (
	VehicleStandard VehicleType = "standard"
	VehiclePremium  VehicleType = "premium"
	VehicleVan      VehicleType = "van"
	VehicleLuxury   VehicleType = "luxury"
)

// maxPassengers is the seat limit a ride request may ask for per category.
var maxPassengers = map[VehicleType]int{
	VehicleStandard: 4,
	VehiclePremium:  4,
	VehicleVan:      8,
	VehicleLuxury:   4,
}

func (t VehicleType) Valid() bool {
	_, ok := maxPassengers[t]
	return ok
}

// MaxPassengers returns the seat limit for t, or 0 for an unknown type.
func (t VehicleType) MaxPassengers() int {
	return maxPassengers[t]
}

type Driver struct {
	ID                types.ID
	UserID            types.ID
	LicenseValidFrom  time.Time
	LicenseValidUntil time.Time
	Rating            float64
	RatingCount       int
	CompletedRides    int
	ActiveVehicleID   types.ID
}

// LicenseValid reports whether the license window covers at.
func (d Driver) LicenseValid(at time.Time) bool {
	if !d.LicenseValidFrom.IsZero() && at.Before(d.LicenseValidFrom) {
		return false
	}
	return d.LicenseValidUntil.IsZero() || at.Before(d.LicenseValidUntil)
}

type Vehicle struct {
	ID               types.ID
	DriverID         types.ID
	Capacity         int
	Type             VehicleType
	InsuranceExpiry  time.Time
	InspectionExpiry time.Time
}

// DocumentsValid reports whether insurance and inspection are unexpired at at.
func (v Vehicle) DocumentsValid(at time.Time) bool {
	return at.Before(v.InsuranceExpiry) && at.Before(v.InspectionExpiry)
}

// Requirements describes what a ride needs from a vehicle.
type Requirements struct {
	Passengers  int
	VehicleType VehicleType
}

func (v Vehicle) Fits(req Requirements) bool {
	if req.Passengers > v.Capacity {
		return false
	}
	return req.VehicleType == "" || req.VehicleType == v.Type
}
