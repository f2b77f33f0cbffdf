// README: Ride aggregate, status table and transition events.
package ride

import (
	"time"

	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/types"
)

type Status string

const (
	StatusNone       Status = ""
	StatusRequested  Status = "requested"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AllowedTransitions is the ride lifecycle as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:  {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleSystem Role = "system"
)

type Actor struct {
	Role Role
	ID   types.ID
}

var SystemActor = Actor{Role: RoleSystem}

// CancelReasonNoDriver is recorded when re-matching gives up.
const CancelReasonNoDriver = "no_driver_available"

type Ride struct {
	ID          types.ID
	RiderID     types.ID
	DriverID    *types.ID
	VehicleID   *types.ID
	VehicleType fleet.VehicleType
	Passengers  int
	Pickup      types.Point
	Destination types.Point
	Status      Status
	Version     int

	RequestedAt time.Time
	AcceptedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	EstimatedPrice types.Money
	FinalPrice     *types.Money
	DistanceKm     float64
	Duration       time.Duration

	// RiderRating is the score the rider gave the driver, DriverRating the
	// score the driver gave the rider.
	RiderRating   *int
	DriverRating  *int
	RiderComment  string
	DriverComment string
	CancelReason  string
}

// LastTimestamp returns the most recent lifecycle stamp.
func (r *Ride) LastTimestamp() time.Time {
	last := r.RequestedAt
	for _, t := range []*time.Time{r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt} {
		if t != nil && t.After(last) {
			last = *t
		}
	}
	return last
}

// Clone returns a deep copy so callers never share pointer fields.
func (r *Ride) Clone() *Ride {
	c := *r
	c.DriverID = clonePtr(r.DriverID)
	c.VehicleID = clonePtr(r.VehicleID)
	c.AcceptedAt = clonePtr(r.AcceptedAt)
	c.StartedAt = clonePtr(r.StartedAt)
	c.CompletedAt = clonePtr(r.CompletedAt)
	c.CancelledAt = clonePtr(r.CancelledAt)
	c.FinalPrice = clonePtr(r.FinalPrice)
	c.RiderRating = clonePtr(r.RiderRating)
	c.DriverRating = clonePtr(r.DriverRating)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type Event struct {
	ID     int64
	RideID types.ID
	From   Status
	To     Status
	Actor  Actor
	Reason string
	At     time.Time
	// RiderID and DriverID let notifiers route without a lookup.
	RiderID  types.ID
	DriverID types.ID
}
