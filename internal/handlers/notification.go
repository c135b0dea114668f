package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/authz"
	"github.com/stanstork/sensorhub/internal/models"
)

type NotificationLog interface {
	ListRecent(ctx context.Context, identity string, limit int) ([]models.NotificationLogEntry, error)
	DailyStats(ctx context.Context, identity string, since time.Time) ([]models.NotificationStatDay, error)
}

type NotificationHandler struct {
	logs   NotificationLog
	now    func() time.Time
	logger zerolog.Logger
}

func NewNotificationHandler(logs NotificationLog, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		logs:   logs,
		now:    time.Now,
		logger: logger.With().Str("handler", "notification").Logger(),
	}
}

func (h *NotificationHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	entries, err := h.logs.ListRecent(r.Context(), identity, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to list notification history")
		http.Error(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.NotificationLogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": entries,
	})
}

// Stats returns per-day delivery counts. days=0 covers the whole log.
func (h *NotificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	days := queryInt(r, "days", 30)
	var since time.Time
	if days > 0 {
		y, m, d := h.now().AddDate(0, 0, -days).Date()
		since = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	stats, err := h.logs.DailyStats(r.Context(), identity, since)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to load notification stats")
		http.Error(w, "Failed to load notification stats", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []models.NotificationStatDay{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}
