package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/emberhome/ember-gateway/internal/device"
	"github.com/emberhome/ember-gateway/internal/gateway"
)

// deviceResponse is a directory entry decorated with live connection state.
type deviceResponse struct {
	device.Device
	Status string `json:"status"` // "online" or "offline"
}

type updateAliasRequest struct {
	Alias string `json:"alias"`
}

// handleListDevices returns the caller's devices with their online status.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	devices, err := s.devices.List(r.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("list devices failed", "user_id", identity.UserID, "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		status := "offline"
		if s.gateway.IsDeviceOnline(d.HardwareID) {
			status = "online"
		}
		out = append(out, deviceResponse{Device: d, Status: status})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleUpdateAlias renames one of the caller's devices.
func (s *Server) handleUpdateAlias(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}
	hardwareID := chi.URLParam(r, "hardwareID")

	var req updateAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Alias == "" {
		writeBadRequest(w, "alias is required")
		return
	}

	if err := s.devices.UpdateAlias(r.Context(), hardwareID, identity.UserID, req.Alias); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("update alias failed", "hardware_id", hardwareID, "error", err)
		writeInternalError(w, "failed to update alias")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"unique_hardware_id": hardwareID,
		"alias":              req.Alias,
	})
}

// handleUnbindDevice removes a device from the caller's account. A live
// connection for the device is not torn down here; its next reconnect
// gets device_unbound and the firmware stops retrying.
func (s *Server) handleUnbindDevice(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}
	hardwareID := chi.URLParam(r, "hardwareID")

	if err := s.devices.Unbind(r.Context(), hardwareID, identity.UserID); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("unbind device failed", "hardware_id", hardwareID, "error", err)
		writeInternalError(w, "failed to unbind device")
		return
	}

	s.logger.Info("device unbound", "hardware_id", hardwareID, "user_id", identity.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDeviceConfig returns the stored configuration snapshot.
func (s *Server) handleGetDeviceConfig(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}
	hardwareID := chi.URLParam(r, "hardwareID")

	if !s.ownsDevice(w, r, hardwareID, identity.UserID) {
		return
	}

	cfg, err := s.configs.GetConfig(r.Context(), hardwareID)
	if err != nil {
		s.logger.Error("get device config failed", "hardware_id", hardwareID, "error", err)
		writeInternalError(w, "failed to load configuration")
		return
	}
	if cfg == nil {
		writeNotFound(w, "no configuration stored for device")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleSetDeviceConfig stores a configuration snapshot and relays it to
// the device as a set_config frame when it is online. The snapshot is
// persisted either way; an offline device picks it up on its next
// reconnect handshake.
func (s *Server) handleSetDeviceConfig(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}
	hardwareID := chi.URLParam(r, "hardwareID")

	if !s.ownsDevice(w, r, hardwareID, identity.UserID) {
		return
	}

	var cfg device.ConfigSnapshot
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.configs.SaveConfig(r.Context(), hardwareID, &cfg); err != nil {
		s.logger.Error("save device config failed", "hardware_id", hardwareID, "error", err)
		writeInternalError(w, "failed to save configuration")
		return
	}

	relayed := true
	payload, err := json.Marshal(&cfg)
	if err == nil {
		err = s.gateway.SendConfig(hardwareID, payload)
	}
	if err != nil {
		if !errors.Is(err, gateway.ErrDeviceOffline) {
			s.logger.Warn("relaying config failed", "hardware_id", hardwareID, "error", err)
		}
		relayed = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"unique_hardware_id": hardwareID,
		"relayed":            relayed,
	})
}

// handleListDeviceCommands returns the recent command audit trail for one
// of the caller's devices.
func (s *Server) handleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}
	hardwareID := chi.URLParam(r, "hardwareID")

	if !s.ownsDevice(w, r, hardwareID, identity.UserID) {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.audit.ListByDevice(r.Context(), hardwareID, limit)
	if err != nil {
		s.logger.Error("list device commands failed", "hardware_id", hardwareID, "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": records,
		"count":    len(records),
	})
}

// handleWSStatus reports the live connection population.
func (s *Server) handleWSStatus(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	status := s.gateway.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"activeConnections": status.ActiveConnections,
		"connectedDevices":  status.ConnectedDevices,
		"connectedUsers":    status.ConnectedUsers,
		"userInfo":          identity,
	})
}

// ownsDevice verifies the device belongs to the caller, writing the error
// response itself when it does not.
func (s *Server) ownsDevice(w http.ResponseWriter, r *http.Request, hardwareID, userID string) bool {
	ownerID, err := s.devices.FindOwner(r.Context(), hardwareID)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return false
		}
		s.logger.Error("owner lookup failed", "hardware_id", hardwareID, "error", err)
		writeInternalError(w, "failed to resolve device")
		return false
	}
	if ownerID != userID {
		// Report not-found rather than forbidden so callers cannot probe
		// for other users' hardware IDs.
		writeNotFound(w, "device not found")
		return false
	}
	return true
}
