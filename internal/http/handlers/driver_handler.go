// README: Driver handlers for location reports, availability and profile reads.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type DriverHandler struct {
	dispatch Dispatcher
}

func NewDriverHandler(d Dispatcher) *DriverHandler {
	return &DriverHandler{dispatch: d}
}

type locationReq struct {
	Lat        *float64   `json:"lat"`
	Lng        *float64   `json:"lng"`
	RecordedAt *time.Time `json:"recorded_at"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	// Only the authenticated driver may update their own location.
	if !requireSelfDriver(c, id) {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	var at time.Time
	if req.RecordedAt != nil {
		at = *req.RecordedAt
	}
	p := pointDTO{Lat: *req.Lat, Lng: *req.Lng}.point()
	accepted, err := h.dispatch.UpdateDriverLocation(c.Request.Context(), id, p, at)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"accepted": accepted})
}

type availabilityReq struct {
	Online *bool `json:"online"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if !requireSelfDriver(c, id) {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		writeError(c, http.StatusBadRequest, "online is required")
		return
	}
	st, err := h.dispatch.SetDriverAvailability(c.Request.Context(), id, *req.Online)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"driver_id": st.DriverID,
		"online":    st.Online,
		"available": st.Available,
	})
}

func (h *DriverHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.dispatch.Driver(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(view))
}

func (h *DriverHandler) Position(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.dispatch.DriverPosition(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toPositionDTO(p))
}
