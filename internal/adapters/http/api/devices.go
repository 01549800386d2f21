package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/okian/autoscale/internal/domain/model"
)

// DevicesHandler registers scales explicitly.
type DevicesHandler struct {
	deps Dependencies
}

// NewDevicesHandler creates a new devices handler.
func NewDevicesHandler(deps Dependencies) *DevicesHandler {
	return &DevicesHandler{deps: deps}
}

type registerRequest struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
	HouseholdID string `json:"household_id"`
}

type scaleRow struct {
	ID          string `json:"id"`
	HouseholdID string `json:"household_id"`
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
}

type registerAck struct {
	OK    bool     `json:"ok"`
	Scale scaleRow `json:"scale"`
}

// HandleRegister handles POST /devices requests. Registration is
// idempotent under device_id.
func (h *DevicesHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, ErrMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, ErrMissingDeviceID)
		return
	}

	device, err := h.deps.RegisterDevice(r.Context(), req.DeviceID, req.HouseholdID, req.DisplayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerAck{OK: true, Scale: toScaleRow(device)})
}

func toScaleRow(d model.Device) scaleRow {
	return scaleRow{
		ID:          d.ID,
		HouseholdID: d.HouseholdID,
		DeviceID:    d.DeviceID,
		DisplayName: d.DisplayName,
	}
}
