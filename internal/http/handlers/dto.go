// README: JSON shapes returned by the API.
package handlers

import (
	"time"

	"ridedispatch/internal/modules/dispatch"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

type pointDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p pointDTO) point() types.Point {
	return types.Point{Lat: p.Lat, Lng: p.Lng}
}

func toPointDTO(p types.Point) pointDTO {
	return pointDTO{Lat: p.Lat, Lng: p.Lng}
}

type moneyDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func toMoneyDTO(m types.Money) moneyDTO {
	return moneyDTO{Amount: m.Amount, Currency: m.Currency}
}

type rideResponse struct {
	ID              string     `json:"id"`
	RiderID         string     `json:"rider_id"`
	DriverID        string     `json:"driver_id,omitempty"`
	VehicleID       string     `json:"vehicle_id,omitempty"`
	VehicleType     string     `json:"vehicle_type"`
	Passengers      int        `json:"passengers"`
	Pickup          pointDTO   `json:"pickup"`
	Destination     pointDTO   `json:"destination"`
	Status          string     `json:"status"`
	RequestedAt     time.Time  `json:"requested_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	EstimatedPrice  moneyDTO   `json:"estimated_price"`
	FinalPrice      *moneyDTO  `json:"final_price,omitempty"`
	DistanceKm      float64    `json:"distance_km,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
	RiderRating     *int       `json:"rider_rating,omitempty"`
	DriverRating    *int       `json:"driver_rating,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
}

func toRideResponse(r *ride.Ride) rideResponse {
	out := rideResponse{
		ID:              string(r.ID),
		RiderID:         string(r.RiderID),
		VehicleType:     string(r.VehicleType),
		Passengers:      r.Passengers,
		Pickup:          toPointDTO(r.Pickup),
		Destination:     toPointDTO(r.Destination),
		Status:          string(r.Status),
		RequestedAt:     r.RequestedAt,
		AcceptedAt:      r.AcceptedAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		CancelledAt:     r.CancelledAt,
		EstimatedPrice:  toMoneyDTO(r.EstimatedPrice),
		DistanceKm:      r.DistanceKm,
		DurationSeconds: int64(r.Duration / time.Second),
		RiderRating:     r.RiderRating,
		DriverRating:    r.DriverRating,
		CancelReason:    r.CancelReason,
	}
	if r.DriverID != nil {
		out.DriverID = string(*r.DriverID)
	}
	if r.VehicleID != nil {
		out.VehicleID = string(*r.VehicleID)
	}
	if r.FinalPrice != nil {
		m := toMoneyDTO(*r.FinalPrice)
		out.FinalPrice = &m
	}
	return out
}

type sampleDTO struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

type positionDTO struct {
	DriverID string    `json:"driver_id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	At       time.Time `json:"at"`
}

func toPositionDTO(p location.Position) positionDTO {
	return positionDTO{DriverID: string(p.DriverID), Lat: p.Point.Lat, Lng: p.Point.Lng, At: p.At}
}

type driverResponse struct {
	ID              string       `json:"id"`
	Rating          float64      `json:"rating"`
	RatingCount     int          `json:"rating_count"`
	CompletedRides  int          `json:"completed_rides"`
	ActiveVehicleID string       `json:"active_vehicle_id,omitempty"`
	Online          bool         `json:"online"`
	Available       bool         `json:"available"`
	CurrentRideID   string       `json:"current_ride_id,omitempty"`
	Position        *positionDTO `json:"position,omitempty"`
}

func toDriverResponse(v dispatch.DriverView) driverResponse {
	out := driverResponse{
		ID:              string(v.Driver.ID),
		Rating:          v.Driver.Rating,
		RatingCount:     v.Driver.RatingCount,
		CompletedRides:  v.Driver.CompletedRides,
		ActiveVehicleID: string(v.Driver.ActiveVehicleID),
		Online:          v.Availability.Online,
		Available:       v.Availability.Available,
		CurrentRideID:   string(v.Availability.RideID),
	}
	if v.Position != nil {
		p := toPositionDTO(*v.Position)
		out.Position = &p
	}
	return out
}

type vehicleResponse struct {
	ID               string    `json:"id"`
	DriverID         string    `json:"driver_id"`
	Capacity         int       `json:"capacity"`
	VehicleType      string    `json:"vehicle_type"`
	InsuranceExpiry  time.Time `json:"insurance_expiry"`
	InspectionExpiry time.Time `json:"inspection_expiry"`
}

func toVehicleResponse(v fleet.Vehicle) vehicleResponse {
	return vehicleResponse{
		ID:               string(v.ID),
		DriverID:         string(v.DriverID),
		Capacity:         v.Capacity,
		VehicleType:      string(v.Type),
		InsuranceExpiry:  v.InsuranceExpiry,
		InspectionExpiry: v.InspectionExpiry,
	}
}
