// README: Ride handlers for request, read, cancel, start, complete, rating and event streaming.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/http/middleware"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

// EventStreamer serves a ride's status events over a websocket.
type EventStreamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, rideID types.ID)
}

type RideHandler struct {
	dispatch Dispatcher
	events   EventStreamer
}

func NewRideHandler(d Dispatcher, events EventStreamer) *RideHandler {
	return &RideHandler{dispatch: d, events: events}
}

type requestRideReq struct {
	RiderID     string   `json:"rider_id"`
	Pickup      pointDTO `json:"pickup"`
	Destination pointDTO `json:"destination"`
	VehicleType string   `json:"vehicle_type"`
	Passengers  int      `json:"passengers"`
}

func (h *RideHandler) Request(c *gin.Context) {
	if middleware.CallerRole(c) != middleware.RoleRider {
		writeError(c, http.StatusForbidden, "forbidden: rider role required")
		return
	}
	var req requestRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	uid := middleware.CallerUID(c)
	if req.RiderID != "" && req.RiderID != uid {
		writeError(c, http.StatusForbidden, "forbidden: rider_id does not match authenticated user")
		return
	}
	r, err := h.dispatch.RequestRide(c.Request.Context(), ride.RequestCommand{
		RiderID:     types.ID(uid),
		Pickup:      req.Pickup.point(),
		Destination: req.Destination.point(),
		VehicleType: fleet.VehicleType(req.VehicleType),
		Passengers:  req.Passengers,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toRideResponse(r))
}

// load fetches the ride and checks the caller may see it.
func (h *RideHandler) load(c *gin.Context) (*ride.Ride, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	r, err := h.dispatch.Ride(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, err)
		return nil, false
	}
	if !participant(c, r) {
		// Same answer as a missing ride so IDs cannot be enumerated.
		writeError(c, http.StatusNotFound, "not found")
		return nil, false
	}
	return r, true
}

func (h *RideHandler) Get(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, toRideResponse(r))
}

func (h *RideHandler) Trail(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	samples, err := h.dispatch.Trail(c.Request.Context(), r.ID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	out := make([]sampleDTO, 0, len(samples))
	for _, s := range samples {
		out = append(out, sampleDTO{Lat: s.Point.Lat, Lng: s.Point.Lng, RecordedAt: s.RecordedAt})
	}
	writeJSON(c, http.StatusOK, map[string]any{"ride_id": r.ID, "samples": out})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	actor := ride.Actor{ID: types.ID(middleware.CallerUID(c))}
	switch middleware.CallerRole(c) {
	case middleware.RoleDriver:
		actor.Role = ride.RoleDriver
	case middleware.RoleOperator:
		actor = ride.SystemActor
	default:
		actor.Role = ride.RoleRider
	}
	if req.Reason == "" {
		req.Reason = string(actor.Role) + "_cancel"
	}
	updated, err := h.dispatch.CancelRide(c.Request.Context(), r.ID, actor, req.Reason)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideResponse(updated))
}

func (h *RideHandler) Start(c *gin.Context) {
	h.driverTransition(c, h.dispatch.StartRide)
}

func (h *RideHandler) Complete(c *gin.Context) {
	h.driverTransition(c, h.dispatch.CompleteRide)
}

func (h *RideHandler) driverTransition(c *gin.Context, fn func(context.Context, types.ID, types.ID) (*ride.Ride, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return
	}
	r, err := fn(c.Request.Context(), id, types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideResponse(r))
}

type ratingReq struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func (h *RideHandler) Rate(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	var role ride.Role
	switch middleware.CallerRole(c) {
	case middleware.RoleRider:
		role = ride.RoleRider
	case middleware.RoleDriver:
		role = ride.RoleDriver
	default:
		writeError(c, http.StatusForbidden, "forbidden: only the rider or the driver can rate")
		return
	}
	var req ratingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	updated, err := h.dispatch.RecordRating(c.Request.Context(), ride.RateCommand{
		RideID:  r.ID,
		Role:    role,
		Score:   req.Score,
		Comment: req.Comment,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideResponse(updated))
}

// Events upgrades to a websocket streaming the ride's status changes.
func (h *RideHandler) Events(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	if h.events == nil {
		writeError(c, http.StatusNotImplemented, "event streaming disabled")
		return
	}
	h.events.ServeWS(c.Writer, c.Request, r.ID)
}
