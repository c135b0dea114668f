package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/sensorhub/internal/handlers"
)

type Handlers struct {
	Health        *handlers.HealthHandler
	Sensor        *handlers.SensorHandler
	Live          *handlers.LiveHandler
	Push          *handlers.PushHandler
	Settings      *handlers.SettingsHandler
	Notifications *handlers.NotificationHandler
	History       *handlers.HistoryHandler
}

// NewRouter wires the public device and live endpoints and the viewer API
// behind auth.
func NewRouter(h Handlers, auth mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.Health.Check).Methods(http.MethodGet)
	router.HandleFunc("/ws", h.Live.Serve).Methods(http.MethodGet)
	router.HandleFunc("/api/sensor/token", h.Sensor.Token).Methods(http.MethodPost)
	router.HandleFunc("/api/vapid-key", h.Push.VAPIDKey).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth)

	api.HandleFunc("/push-subscribe", h.Push.Subscribe).Methods(http.MethodPost)
	api.HandleFunc("/push-unsubscribe", h.Push.Unsubscribe).Methods(http.MethodPost)
	api.HandleFunc("/validate-subscription", h.Push.Validate).Methods(http.MethodPost)
	api.HandleFunc("/test-notification", h.Push.Test).Methods(http.MethodPost)

	api.HandleFunc("/notification-settings", h.Settings.Get).Methods(http.MethodGet)
	api.HandleFunc("/notification-settings", h.Settings.Update).Methods(http.MethodPost)
	api.HandleFunc("/delay-config", h.Settings.GetDelay).Methods(http.MethodGet)
	api.HandleFunc("/delay-config", h.Settings.SetDelay).Methods(http.MethodPost)

	api.HandleFunc("/notification-history", h.Notifications.History).Methods(http.MethodGet)
	api.HandleFunc("/notification-stats", h.Notifications.Stats).Methods(http.MethodGet)

	api.HandleFunc("/history", h.History.List).Methods(http.MethodGet)
	api.HandleFunc("/history/clear", h.History.Clear).Methods(http.MethodPost)
	api.HandleFunc("/device-token", h.History.DeviceToken).Methods(http.MethodGet)
	api.HandleFunc("/regenerate-token", h.History.RegenerateToken).Methods(http.MethodPost)

	return router
}
