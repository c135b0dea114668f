package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/models"
)

// Sender delivers an encoded payload to one push endpoint.
type Sender interface {
	Send(ctx context.Context, sub models.Subscription, payload []byte, urgency models.NotificationSeverity) error
}

// PushError is a non-2xx answer from a push service.
type PushError struct {
	StatusCode int
	Body       string
}

func (e *PushError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("push endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Gone reports whether the endpoint no longer exists.
func (e *PushError) Gone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

func endpointForLog(endpoint string) string {
	if len(endpoint) > 50 {
		return endpoint[:50] + "..."
	}
	return endpoint
}

func logDeliveryError(logger zerolog.Logger, err error, identity string, sub models.Subscription, notif models.Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("identity", identity).
		Str("subscription_id", sub.ID).
		Str("endpoint", endpointForLog(sub.Endpoint)).
		Str("tag", notif.Tag).
		Msg("failed to deliver notification")
}
