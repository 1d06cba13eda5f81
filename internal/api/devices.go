package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lares-bridge/internal/audit"
	"github.com/nerrad567/lares-bridge/internal/bridge"
	"github.com/nerrad567/lares-bridge/internal/device"
	"github.com/nerrad567/lares-bridge/internal/lares"
)

// handleListDevices returns the registry snapshot, optionally filtered.
//
// Query parameters:
//   - kind: filter by device kind (light, cover, thermostat, sensor,
//     zone, scenario, gate)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if kindStr := r.URL.Query().Get("kind"); kindStr != "" {
		kind := device.Kind(kindStr)
		if !validKind(kind) {
			writeBadRequest(w, "unknown device kind: "+kindStr)
			return
		}
		devices := s.devices.ListKind(kind)
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	devices := s.devices.List()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device by its derived identifier.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, ok := s.devices.Get(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleDeviceCommand forwards a command to the panel via the bridge.
// The body uses the same action schema as the MQTT command topics.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeUnavailable(w, "command path not configured")
		return
	}

	id := chi.URLParam(r, "id")

	var req bridge.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}

	if err := s.bridge.Execute(r.Context(), id, req, audit.SourceAPI); err != nil {
		writeCommandError(w, id, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"device_id": id,
		"action":    req.Action,
	})
}

// writeCommandError maps a command failure onto an HTTP status.
func writeCommandError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, bridge.ErrUnknownDevice):
		writeNotFound(w, "device not found: "+id)
	case errors.Is(err, bridge.ErrMissingParameter),
		errors.Is(err, bridge.ErrUnsupportedAction),
		errors.Is(err, bridge.ErrReadOnlyDevice),
		errors.Is(err, lares.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	case errors.Is(err, lares.ErrNotConnected), errors.Is(err, lares.ErrClosed):
		writeUnavailable(w, "panel session not ready")
	default:
		writeInternalError(w, "command failed")
	}
}

// validKind reports whether kind names a known device kind.
func validKind(kind device.Kind) bool {
	for _, k := range device.AllKinds() {
		if k == kind {
			return true
		}
	}
	return false
}
