package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rowanvale/mise/internal/audit"
	"github.com/rowanvale/mise/internal/auth"
	"github.com/rowanvale/mise/internal/mfa"
	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/store"
)

type MFAHandler struct {
	engine    *mfa.Engine
	devices   *store.MFADeviceStore
	userStore *store.UserStore
	recorder  *audit.Recorder
	logger    *slog.Logger
}

func NewMFAHandler(
	engine *mfa.Engine,
	devices *store.MFADeviceStore,
	userStore *store.UserStore,
	recorder *audit.Recorder,
	logger *slog.Logger,
) *MFAHandler {
	return &MFAHandler{
		engine:    engine,
		devices:   devices,
		userStore: userStore,
		recorder:  recorder,
		logger:    logger,
	}
}

// EnrollTOTP creates an unverified authenticator device and returns the
// provisioning URI. The secret never leaves this response.
func (h *MFAHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.UserFromContext(r.Context())

	user, err := h.userStore.GetByID(ac.UserID)
	if err != nil || user == nil {
		h.logger.Error("enroll lookup", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	device, uri, err := h.engine.EnrollTOTP(ac.UserID, user.Email)
	if err != nil {
		h.logger.Error("enroll totp", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.recorder.Record(ac.UserID, audit.ActionMFAEnroll, "totp")
	writeJSON(w, http.StatusCreated, map[string]any{
		"device_id":        device.ID,
		"secret":           device.Secret,
		"provisioning_uri": uri,
	})
}

// EnrollEmail creates an unverified email-code device and immediately
// sends a code so the user can verify it.
func (h *MFAHandler) EnrollEmail(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.UserFromContext(r.Context())

	device, err := h.engine.EnrollEmail(ac.UserID)
	if err != nil {
		h.logger.Error("enroll email", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.engine.SendEmailCode(ac.UserID); err != nil && !errors.Is(err, model.ErrCodeThrottled) {
		h.logger.Error("send enrollment code", "user_id", ac.UserID, "error", err)
	}

	h.recorder.Record(ac.UserID, audit.ActionMFAEnroll, "email")
	writeJSON(w, http.StatusCreated, map[string]any{"device_id": device.ID})
}

type verifyDeviceRequest struct {
	DeviceID int64  `json:"device_id"`
	Code     string `json:"code"`
}

// VerifyDevice confirms possession of an enrolled device and activates it
// as a login factor.
func (h *MFAHandler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.UserFromContext(r.Context())

	var req verifyDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DeviceID == 0 || req.Code == "" {
		writeError(w, http.StatusBadRequest, "device_id and code are required")
		return
	}

	device, err := h.engine.VerifyDevice(ac.UserID, req.DeviceID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			writeError(w, http.StatusNotFound, "device not found")
		case errors.Is(err, model.ErrInvalidCode):
			writeError(w, http.StatusUnauthorized, "invalid code")
		default:
			h.logger.Error("verify device", "user_id", ac.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.recorder.Record(ac.UserID, audit.ActionMFAVerify, fmt.Sprintf("device %d", device.ID))
	writeJSON(w, http.StatusOK, device)
}

type setPrimaryRequest struct {
	DeviceID int64 `json:"device_id"`
}

// SetPrimary promotes a verified device. Any previous primary is demoted
// in the same write.
func (h *MFAHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.UserFromContext(r.Context())

	var req setPrimaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.engine.SetPrimary(ac.UserID, req.DeviceID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such verified device")
			return
		}
		h.logger.Error("set primary device", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.recorder.Record(ac.UserID, audit.ActionMFASetPrimary, fmt.Sprintf("device %d", req.DeviceID))
	w.WriteHeader(http.StatusNoContent)
}

// ListDevices returns the caller's enrolled devices. Secrets are stripped
// by the model's JSON tags.
func (h *MFAHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.UserFromContext(r.Context())

	devices, err := h.devices.ListByUser(ac.UserID)
	if err != nil {
		h.logger.Error("list devices", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if devices == nil {
		devices = []model.MFADevice{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// SendCode issues a fresh email code on demand, e.g. for re-verification.
func (h *MFAHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.UserFromContext(r.Context())

	if err := h.engine.SendEmailCode(ac.UserID); err != nil {
		if errors.Is(err, model.ErrCodeThrottled) {
			writeError(w, http.StatusTooManyRequests, "a code was sent recently, try again shortly")
			return
		}
		h.logger.Error("send code", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
