package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/handlers"
	"github.com/stretchr/testify/assert"
)

func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
	})
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	log := zerolog.Nop()
	router := NewRouter(Handlers{
		Health:        handlers.NewHealthHandler(nil),
		Push:          handlers.NewPushHandler(nil, nil, "pub", log),
		Settings:      handlers.NewSettingsHandler(nil, log),
		Notifications: handlers.NewNotificationHandler(nil, log),
		History:       handlers.NewHistoryHandler(nil, nil, log),
		Sensor:        handlers.NewSensorHandler(nil, log),
		Live:          handlers.NewLiveHandler(nil, nil, handlers.LiveOptions{}, log),
	}, denyAll)

	protected := []struct{ method, path string }{
		{http.MethodPost, "/api/push-subscribe"},
		{http.MethodPost, "/api/push-unsubscribe"},
		{http.MethodPost, "/api/validate-subscription"},
		{http.MethodPost, "/api/test-notification"},
		{http.MethodGet, "/api/notification-settings"},
		{http.MethodPost, "/api/notification-settings"},
		{http.MethodGet, "/api/delay-config"},
		{http.MethodPost, "/api/delay-config"},
		{http.MethodGet, "/api/notification-history"},
		{http.MethodGet, "/api/notification-stats"},
		{http.MethodGet, "/api/history"},
		{http.MethodPost, "/api/history/clear"},
		{http.MethodGet, "/api/device-token"},
		{http.MethodPost, "/api/regenerate-token"},
	}
	for _, p := range protected {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", p.method, p.path)
	}

	for _, path := range []string{"/health", "/api/vapid-key"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
