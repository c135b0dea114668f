package handlers

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/authz"
	"github.com/stanstork/sensorhub/internal/models"
)

type ReadingHistory interface {
	ListRecent(ctx context.Context, identity string, limit int) ([]models.Reading, error)
	DeleteAll(ctx context.Context, identity string) (int64, error)
}

type TokenIssuer interface {
	GetByEmail(ctx context.Context, email string) (models.Account, error)
	RegenerateToken(ctx context.Context, email string) (string, error)
}

// HistoryHandler exposes an identity's persisted readings and its device
// token.
type HistoryHandler struct {
	readings ReadingHistory
	tokens   TokenIssuer
	logger   zerolog.Logger
}

func NewHistoryHandler(readings ReadingHistory, tokens TokenIssuer, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		readings: readings,
		tokens:   tokens,
		logger:   logger.With().Str("handler", "history").Logger(),
	}
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 5000 {
		limit = 100
	}

	readings, err := h.readings.ListRecent(r.Context(), identity, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to list readings")
		http.Error(w, "Failed to list readings", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []models.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"readings": readings,
	})
}

func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	n, err := h.readings.DeleteAll(r.Context(), identity)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to clear readings")
		http.Error(w, "Failed to clear history", http.StatusInternalServerError)
		return
	}
	h.logger.Info().Str("identity", identity).Int64("deleted", n).Msg("reading history cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"deleted": n,
	})
}

// DeviceToken returns the token devices use to post readings for the
// caller's identity.
func (h *HistoryHandler) DeviceToken(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	account, err := h.tokens.GetByEmail(r.Context(), identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to load account")
		http.Error(w, "Failed to load token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"email": account.Email,
		"token": account.DeviceToken,
	})
}

// RegenerateToken issues a new device token; the previous one stops
// resolving immediately.
func (h *HistoryHandler) RegenerateToken(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	token, err := h.tokens.RegenerateToken(r.Context(), identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to regenerate token")
		http.Error(w, "Failed to regenerate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
	})
}
