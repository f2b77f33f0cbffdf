// README: Base handler utilities (JSON helpers, error mapping, caller checks).
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/http/middleware"
	"ridedispatch/internal/modules/availability"
	"ridedispatch/internal/modules/dispatch"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

// Dispatcher is the slice of dispatch.Coordinator the API needs.
type Dispatcher interface {
	RequestRide(ctx context.Context, cmd ride.RequestCommand) (*ride.Ride, error)
	CancelRide(ctx context.Context, rideID types.ID, actor ride.Actor, reason string) (*ride.Ride, error)
	StartRide(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error)
	CompleteRide(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error)
	RecordRating(ctx context.Context, cmd ride.RateCommand) (*ride.Ride, error)
	Ride(ctx context.Context, rideID types.ID) (*ride.Ride, error)
	Trail(ctx context.Context, rideID types.ID) ([]location.Sample, error)
	UpdateDriverLocation(ctx context.Context, driverID types.ID, p types.Point, at time.Time) (bool, error)
	SetDriverAvailability(ctx context.Context, driverID types.ID, online bool) (availability.Status, error)
	Driver(ctx context.Context, driverID types.ID) (dispatch.DriverView, error)
	DriverPosition(ctx context.Context, driverID types.ID) (location.Position, error)
	RegisterDriver(ctx context.Context, d fleet.Driver) (dispatch.DriverView, error)
	RegisterVehicle(ctx context.Context, v fleet.Vehicle) (fleet.Vehicle, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts short alphanumeric IDs plus '-' and '_' (uuids, Firebase UIDs).
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeAppError answers with the status mapped from err's kind. Unknown
// errors are hidden behind a generic message.
func writeAppError(c *gin.Context, err error) {
	_ = c.Error(err)
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(c, http.StatusGatewayTimeout, "request timed out")
		return
	}
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		writeError(c, status, "internal error")
		return
	}
	writeError(c, status, err.Error())
}

func pathID(c *gin.Context, name string) (types.ID, bool) {
	id := c.Param(name)
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(id), true
}

// requireSelfDriver lets only the driver named in the path through.
func requireSelfDriver(c *gin.Context, id types.ID) bool {
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return false
	}
	if middleware.CallerUID(c) != string(id) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return false
	}
	return true
}

// participant reports whether the caller may see r: its rider, its
// assigned driver or an operator.
func participant(c *gin.Context, r *ride.Ride) bool {
	uid := types.ID(middleware.CallerUID(c))
	switch middleware.CallerRole(c) {
	case middleware.RoleOperator:
		return true
	case middleware.RoleDriver:
		return r.DriverID != nil && *r.DriverID == uid
	default:
		return r.RiderID == uid
	}
}

func requireOperator(c *gin.Context) bool {
	if middleware.CallerRole(c) != middleware.RoleOperator {
		writeError(c, http.StatusForbidden, "forbidden: operator role required")
		return false
	}
	return true
}
