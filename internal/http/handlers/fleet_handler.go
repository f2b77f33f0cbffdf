// README: Operator handlers registering drivers and vehicles.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/types"
)

type FleetHandler struct {
	dispatch Dispatcher
}

func NewFleetHandler(d Dispatcher) *FleetHandler {
	return &FleetHandler{dispatch: d}
}

type registerDriverReq struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	LicenseValidFrom  *time.Time `json:"license_valid_from"`
	LicenseValidUntil *time.Time `json:"license_valid_until"`
	ActiveVehicleID   string     `json:"active_vehicle_id"`
}

func (h *FleetHandler) RegisterDriver(c *gin.Context) {
	if !requireOperator(c) {
		return
	}
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.ID) {
		writeError(c, http.StatusBadRequest, "invalid driver")
		return
	}
	if req.ActiveVehicleID != "" && !isValidID(req.ActiveVehicleID) {
		writeError(c, http.StatusBadRequest, "invalid active_vehicle_id")
		return
	}
	d := fleet.Driver{
		ID:              types.ID(req.ID),
		UserID:          types.ID(req.UserID),
		ActiveVehicleID: types.ID(req.ActiveVehicleID),
	}
	if d.UserID == "" {
		d.UserID = d.ID
	}
	if req.LicenseValidFrom != nil {
		d.LicenseValidFrom = *req.LicenseValidFrom
	}
	if req.LicenseValidUntil != nil {
		d.LicenseValidUntil = *req.LicenseValidUntil
	}
	view, err := h.dispatch.RegisterDriver(c.Request.Context(), d)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toDriverResponse(view))
}

type registerVehicleReq struct {
	ID               string    `json:"id"`
	DriverID         string    `json:"driver_id"`
	Capacity         int       `json:"capacity"`
	VehicleType      string    `json:"vehicle_type"`
	InsuranceExpiry  time.Time `json:"insurance_expiry"`
	InspectionExpiry time.Time `json:"inspection_expiry"`
}

func (h *FleetHandler) RegisterVehicle(c *gin.Context) {
	if !requireOperator(c) {
		return
	}
	var req registerVehicleReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.ID) || !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "invalid vehicle")
		return
	}
	v, err := h.dispatch.RegisterVehicle(c.Request.Context(), fleet.Vehicle{
		ID:               types.ID(req.ID),
		DriverID:         types.ID(req.DriverID),
		Capacity:         req.Capacity,
		Type:             fleet.VehicleType(req.VehicleType),
		InsuranceExpiry:  req.InsuranceExpiry,
		InspectionExpiry: req.InspectionExpiry,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toVehicleResponse(v))
}
