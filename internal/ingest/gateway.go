// Package ingest validates incoming readings and drives persistence,
// alerting and live fan-out for them.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/fanout"
	"github.com/stanstork/sensorhub/internal/models"
	"github.com/stanstork/sensorhub/internal/throttle"
)

type Source string

const (
	SourceLive  Source = "live"
	SourceToken Source = "token"
	SourceMQTT  Source = "mqtt"
)

const ReasonThrottled = "throttled"

type AccountResolver interface {
	ResolveIdentityByToken(ctx context.Context, token string) (string, bool, error)
}

type SettingsResolver interface {
	Resolve(ctx context.Context, identity string) (models.NotificationSettings, error)
}

type ReadingStore interface {
	Insert(ctx context.Context, reading models.Reading) error
}

type Throttle interface {
	Admit(ctx context.Context, identity string, arrival time.Time, interval time.Duration) (throttle.Admission, bool, error)
	Release(ctx context.Context, a throttle.Admission) error
}

type AlertProcessor interface {
	Process(ctx context.Context, identity string, reading models.Reading, settings models.NotificationSettings) ([]models.Notification, error)
}

type Router interface {
	Bind(identity string, conn fanout.Conn)
	Send(identity string, reading models.Reading)
}

// Result describes what happened to one reading.
type Result struct {
	Identity  string `json:"identity,omitempty"`
	Accepted  bool   `json:"accepted"`
	Persisted bool   `json:"persisted"`
	Alerts    int    `json:"alerts"`
	Reason    string `json:"reason,omitempty"`
}

type Gateway struct {
	accounts AccountResolver
	settings SettingsResolver
	readings ReadingStore
	throttle Throttle
	alerts   AlertProcessor
	router   Router
	bounds   Bounds
	now      func() time.Time
	logger   zerolog.Logger
}

type Deps struct {
	Accounts AccountResolver
	Settings SettingsResolver
	Readings ReadingStore
	Throttle Throttle
	Alerts   AlertProcessor
	Router   Router
}

func NewGateway(deps Deps, bounds Bounds, logger zerolog.Logger) *Gateway {
	return &Gateway{
		accounts: deps.Accounts,
		settings: deps.Settings,
		readings: deps.Readings,
		throttle: deps.Throttle,
		alerts:   deps.Alerts,
		router:   deps.Router,
		bounds:   bounds,
		now:      time.Now,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// IngestLive binds conn to the identity named in the message, replacing any
// previous binding, then ingests the reading.
func (g *Gateway) IngestLive(ctx context.Context, raw RawReading, conn fanout.Conn) (Result, error) {
	if identity := strings.TrimSpace(raw.Identity); identity != "" {
		g.router.Bind(identity, conn)
	}
	return g.Ingest(ctx, raw, SourceLive)
}

// Ingest runs one reading through validation, the throttle, persistence,
// alert evaluation and fan-out. Throttled readings are still evaluated and
// fanned out.
func (g *Gateway) Ingest(ctx context.Context, raw RawReading, source Source) (Result, error) {
	arrival := g.now()

	reading, err := raw.validate(g.bounds)
	if err != nil {
		return Result{Reason: err.Error()}, err
	}

	identity, err := g.identify(ctx, raw, source)
	if err != nil {
		return Result{Reason: err.Error()}, err
	}
	reading = canonical(identity, reading, arrival)
	log := g.logger.With().Str("identity", identity).Str("source", string(source)).Logger()

	settings, err := g.settings.Resolve(ctx, identity)
	if err != nil {
		return Result{Identity: identity, Reason: "settings unavailable"}, &StoreError{Op: "resolve settings", Err: err}
	}

	res := Result{Identity: identity, Accepted: true}

	adm, admitted, err := g.throttle.Admit(ctx, identity, arrival, settings.RecordInterval)
	if err != nil {
		log.Error().Err(err).Msg("throttle unavailable, reading not persisted")
		res.Reason = "throttle unavailable"
	}
	if admitted {
		if err := g.readings.Insert(ctx, reading); err != nil {
			if relErr := g.throttle.Release(ctx, adm); relErr != nil {
				log.Error().Err(relErr).Msg("failed to release throttle admission")
			}
			return Result{Identity: identity, Reason: "store unavailable"}, &StoreError{Op: "insert reading", Err: err}
		}
		res.Persisted = true
	} else if err == nil {
		res.Reason = ReasonThrottled
	}

	notifs, err := g.alerts.Process(ctx, identity, reading, settings)
	if err != nil {
		log.Warn().Err(err).Msg("alert evaluation incomplete")
	}
	res.Alerts = len(notifs)

	g.router.Send(identity, reading)

	log.Debug().
		Bool("persisted", res.Persisted).
		Int("alerts", res.Alerts).
		Msg("reading ingested")
	return res, nil
}

func (g *Gateway) identify(ctx context.Context, raw RawReading, source Source) (string, error) {
	if source == SourceLive {
		identity := strings.TrimSpace(raw.Identity)
		if identity == "" {
			return "", &ValidationError{Field: "email", Reason: "missing"}
		}
		return identity, nil
	}

	token := strings.TrimSpace(raw.Token)
	if token == "" {
		return "", &ValidationError{Field: "token", Reason: "missing"}
	}
	identity, ok, err := g.accounts.ResolveIdentityByToken(ctx, token)
	if err != nil {
		return "", &StoreError{Op: "resolve token", Err: err}
	}
	if !ok {
		return "", errors.WithStack(ErrUnknownIdentity)
	}
	return identity, nil
}
