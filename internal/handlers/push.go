package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/authz"
	"github.com/stanstork/sensorhub/internal/models"
	"github.com/stanstork/sensorhub/internal/notification"
)

type SubscriptionStore interface {
	Replace(ctx context.Context, sub models.Subscription) (models.Subscription, error)
	DeleteByEndpoint(ctx context.Context, identity, endpoint string) (bool, error)
	ExistsByEndpoint(ctx context.Context, identity, endpoint string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, identity string, notif models.Notification) (notification.DeliveryResult, error)
}

type PushHandler struct {
	subs      SubscriptionStore
	notifier  Notifier
	publicKey string
	logger    zerolog.Logger
}

func NewPushHandler(subs SubscriptionStore, notifier Notifier, publicKey string, logger zerolog.Logger) *PushHandler {
	return &PushHandler{
		subs:      subs,
		notifier:  notifier,
		publicKey: publicKey,
		logger:    logger.With().Str("handler", "push").Logger(),
	}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type endpointRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.publicKey})
}

// Subscribe stores the browser subscription, replacing any previous one for
// the identity or the endpoint.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		http.Error(w, "Invalid subscription data", http.StatusBadRequest)
		return
	}

	saved, err := h.subs.Replace(r.Context(), models.Subscription{
		Identity:  identity,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to save subscription")
		http.Error(w, "Failed to save subscription", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      saved.ID,
	})
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	var req endpointRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Endpoint) == "" {
		http.Error(w, "Endpoint is required", http.StatusBadRequest)
		return
	}

	removed, err := h.subs.DeleteByEndpoint(r.Context(), identity, strings.TrimSpace(req.Endpoint))
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to remove subscription")
		http.Error(w, "Failed to remove subscription", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

// Validate tells the browser whether its endpoint is still registered.
func (h *PushHandler) Validate(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	var req endpointRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		writeJSON(w, http.StatusOK, map[string]bool{"valid": false})
		return
	}

	exists, err := h.subs.ExistsByEndpoint(r.Context(), identity, endpoint)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to validate subscription")
		http.Error(w, "Failed to validate subscription", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": exists})
}

func (h *PushHandler) Test(w http.ResponseWriter, r *http.Request) {
	identity, ok := authz.IdentityFromRequest(r)
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	notif := notification.SystemAlert(
		"Test notification",
		"This is a test notification. If you can see it, notifications are working!",
		models.NotificationSeverityNormal,
	)
	res, err := h.notifier.Notify(r.Context(), identity, notif)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("failed to send test notification")
		http.Error(w, "Failed to send test notification", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
