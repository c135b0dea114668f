package notification

import (
	"context"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/config"
	"github.com/stanstork/sensorhub/internal/models"
)

// WebPushSender signs and encrypts payloads with the configured VAPID keys.
type WebPushSender struct {
	publicKey  string
	privateKey string
	subscriber string
	ttl        int
	client     webpush.HTTPClient
	logger     zerolog.Logger
}

func NewWebPushSender(cfg config.PushConfig, logger zerolog.Logger) *WebPushSender {
	return &WebPushSender{
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		subscriber: cfg.Subscriber,
		ttl:        cfg.TTL,
		client:     http.DefaultClient,
		logger:     logger.With().Str("sender", "webpush").Logger(),
	}
}

// WithHTTPClient replaces the client used to reach push services.
func (s *WebPushSender) WithHTTPClient(client webpush.HTTPClient) *WebPushSender {
	s.client = client
	return s
}

func (s *WebPushSender) PublicKey() string {
	return s.publicKey
}

func (s *WebPushSender) Send(ctx context.Context, sub models.Subscription, payload []byte, severity models.NotificationSeverity) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
		Urgency:         urgencyFor(severity),
	})
	if err != nil {
		return errors.Wrap(err, "send web push")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug().
			Str("endpoint", endpointForLog(sub.Endpoint)).
			Int("status", resp.StatusCode).
			Msg("push delivered")
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &PushError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func urgencyFor(s models.NotificationSeverity) webpush.Urgency {
	switch s {
	case models.NotificationSeverityCritical, models.NotificationSeverityUrgent:
		return webpush.UrgencyHigh
	case models.NotificationSeverityHigh:
		return webpush.UrgencyNormal
	default:
		return webpush.UrgencyLow
	}
}

// GenerateVAPIDKeys returns a fresh (public, private) key pair.
func GenerateVAPIDKeys() (string, string, error) {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", errors.Wrap(err, "generate vapid keys")
	}
	return public, private, nil
}
