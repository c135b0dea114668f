package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonNoSubscription = "no subscription"
	ReasonPushDisabled   = "push disabled"
	ReasonQuietHours     = "quiet hours"
)

type SubscriptionStore interface {
	ListByIdentity(ctx context.Context, identity string) ([]models.Subscription, error)
	Delete(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

type LogStore interface {
	Append(ctx context.Context, entry models.NotificationLogEntry) (models.NotificationLogEntry, error)
}

type SettingsResolver interface {
	Resolve(ctx context.Context, identity string) (models.NotificationSettings, error)
}

// SubscriptionResult is the outcome of one push attempt.
type SubscriptionResult struct {
	SubscriptionID string `json:"subscription_id"`
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code,omitempty"`
	Error          string `json:"error,omitempty"`
	Evicted        bool   `json:"evicted,omitempty"`
}

type DeliveryResult struct {
	Skipped   bool                 `json:"skipped"`
	Reason    string               `json:"reason,omitempty"`
	Attempted int                  `json:"attempted"`
	Succeeded int                  `json:"succeeded"`
	Results   []SubscriptionResult `json:"results,omitempty"`
}

func skipped(reason string) DeliveryResult {
	return DeliveryResult{Skipped: true, Reason: reason}
}

type Service interface {
	// Deliver sends notif to every subscription of identity. Per-subscription
	// failures are reported in the result; only lookup failures are errors.
	Deliver(ctx context.Context, identity string, notif models.Notification) (DeliveryResult, error)
	// Notify is Deliver for sends that do not originate from a reading.
	Notify(ctx context.Context, identity string, notif models.Notification) (DeliveryResult, error)
}

type Options struct {
	Location    *time.Location
	Timeout     time.Duration
	Parallelism int
	Now         func() time.Time
}

type service struct {
	subs     SubscriptionStore
	logs     LogStore
	settings SettingsResolver
	sender   Sender
	opts     Options
	logger   zerolog.Logger
}

func NewService(subs SubscriptionStore, logs LogStore, settings SettingsResolver, sender Sender, opts Options, logger zerolog.Logger) Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	return &service{
		subs:     subs,
		logs:     logs,
		settings: settings,
		sender:   sender,
		opts:     opts,
		logger:   logger.With().Str("component", "notification_service").Logger(),
	}
}

func (s *service) Notify(ctx context.Context, identity string, notif models.Notification) (DeliveryResult, error) {
	return s.Deliver(ctx, identity, notif)
}

func (s *service) Deliver(ctx context.Context, identity string, notif models.Notification) (DeliveryResult, error) {
	subs, err := s.subs.ListByIdentity(ctx, identity)
	if err != nil {
		return DeliveryResult{}, errors.Wrap(err, "list subscriptions")
	}
	if len(subs) == 0 {
		return skipped(ReasonNoSubscription), nil
	}

	settings, err := s.settings.Resolve(ctx, identity)
	if err != nil {
		return DeliveryResult{}, errors.Wrap(err, "resolve settings")
	}
	if !settings.PushEnabled {
		return skipped(ReasonPushDisabled), nil
	}
	if settings.InQuietHours(models.TimeOfDayOf(s.opts.Now().In(s.opts.Location))) {
		s.logger.Debug().Str("identity", identity).Str("tag", notif.Tag).Msg("notification held back by quiet hours")
		return skipped(ReasonQuietHours), nil
	}

	payload, err := json.Marshal(notif)
	if err != nil {
		return DeliveryResult{}, errors.Wrap(err, "encode notification")
	}
	data, err := json.Marshal(notif.Data)
	if err != nil {
		return DeliveryResult{}, errors.Wrap(err, "encode notification data")
	}

	sendCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	results := make([]SubscriptionResult, len(subs))
	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = s.deliverOne(sendCtx, identity, sub, notif, payload, data)
			return nil
		})
	}
	_ = g.Wait()

	res := DeliveryResult{Attempted: len(subs), Results: results}
	for _, r := range results {
		if r.Success {
			res.Succeeded++
		}
	}
	s.logger.Info().
		Str("identity", identity).
		Str("tag", notif.Tag).
		Int("attempted", res.Attempted).
		Int("succeeded", res.Succeeded).
		Msg("notification delivered")
	return res, nil
}

func (s *service) deliverOne(ctx context.Context, identity string, sub models.Subscription, notif models.Notification, payload, data []byte) SubscriptionResult {
	result := SubscriptionResult{SubscriptionID: sub.ID}
	sendErr := s.sender.Send(ctx, sub, payload, notif.Data.Priority)

	subID := sub.ID
	entry := models.NotificationLogEntry{
		Identity:       identity,
		SubscriptionID: &subID,
		Title:          notif.Title,
		Body:           notif.Body,
		Data:           data,
		Success:        sendErr == nil,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		entry.ErrorMessage = &msg
	}

	// Log and store writes outlive a send timeout.
	storeCtx := context.WithoutCancel(ctx)
	if _, err := s.logs.Append(storeCtx, entry); err != nil {
		s.logger.Error().Err(err).Str("identity", identity).Str("subscription_id", sub.ID).Msg("failed to append notification log")
	}

	if sendErr == nil {
		result.Success = true
		if err := s.subs.TouchLastUsed(storeCtx, sub.ID, s.opts.Now()); err != nil {
			s.logger.Warn().Err(err).Str("subscription_id", sub.ID).Msg("failed to touch subscription")
		}
		return result
	}

	logDeliveryError(s.logger, sendErr, identity, sub, notif)
	result.Error = sendErr.Error()

	var pushErr *PushError
	if errors.As(sendErr, &pushErr) {
		result.StatusCode = pushErr.StatusCode
		if pushErr.Gone() {
			if err := s.subs.Delete(storeCtx, sub.ID); err != nil {
				s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to evict subscription")
			} else {
				result.Evicted = true
				s.logger.Info().Str("identity", identity).Str("subscription_id", sub.ID).Msg("evicted gone subscription")
			}
		}
	}
	return result
}
