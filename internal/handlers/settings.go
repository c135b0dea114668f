package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/authz"
	"github.com/stanstork/sensorhub/internal/models"
	"github.com/stanstork/sensorhub/internal/settings"
)

type SettingsService interface {
	Resolve(ctx context.Context, identity string) (models.NotificationSettings, error)
	Update(ctx context.Context, identity string, values map[string]any) error
	SetRecordInterval(ctx context.Context, identity string, d time.Duration) error
}

type SettingsHandler struct {
	settings SettingsService
	logger   zerolog.Logger
}

func NewSettingsHandler(svc SettingsService, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings: svc,
		logger:   logger.With().Str("handler", "settings").Logger(),
	}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	s, err := h.settings.Resolve(r.Context(), identity)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to load settings")
		http.Error(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Update accepts a flat object of setting keys. Legacy key names are
// accepted and stored under their current names.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	var values map[string]any
	if err := decodeJSON(w, r, &values); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if len(values) == 0 {
		http.Error(w, "No settings provided", http.StatusBadRequest)
		return
	}

	if err := h.settings.Update(r.Context(), identity, values); err != nil {
		if status, msg, ok := settingsClientError(err); ok {
			http.Error(w, msg, status)
			return
		}
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to save settings")
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	s, err := h.settings.Resolve(r.Context(), identity)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to reload settings")
		http.Error(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"settings": s,
	})
}

// GetDelay returns the recording interval in minutes.
func (h *SettingsHandler) GetDelay(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	s, err := h.settings.Resolve(r.Context(), identity)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to load delay")
		http.Error(w, "Failed to load delay", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"delayConfig": int(s.RecordInterval / time.Minute),
	})
}

func (h *SettingsHandler) SetDelay(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		DelayConfig interface{} `json:"delayConfig"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	minutes, ok := wholeMinutes(req.DelayConfig)
	if !ok {
		http.Error(w, "delayConfig must be a number of minutes", http.StatusBadRequest)
		return
	}

	err := h.settings.SetRecordInterval(r.Context(), identity, time.Duration(minutes)*time.Minute)
	if err != nil {
		if status, msg, ok := settingsClientError(err); ok {
			http.Error(w, msg, status)
			return
		}
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to save delay")
		http.Error(w, "Failed to save delay", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"delayConfig": minutes,
	})
}

func settingsClientError(err error) (int, string, bool) {
	var invalid *settings.InvalidValueError
	switch {
	case errors.Is(err, settings.ErrUnknownKey):
		return http.StatusBadRequest, err.Error(), true
	case errors.As(err, &invalid):
		return http.StatusBadRequest, invalid.Error(), true
	}
	return 0, "", false
}

func wholeMinutes(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}
