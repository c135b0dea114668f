// Package mqtt ingests readings that devices publish to a broker instead of
// posting them over HTTP.
package mqtt

import (
	"context"
	"encoding/json"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/config"
	"github.com/stanstork/sensorhub/internal/ingest"
)

type Ingester interface {
	Ingest(ctx context.Context, raw ingest.RawReading, source ingest.Source) (ingest.Result, error)
}

// Subscriber consumes reading payloads from cfg.Topic. Payloads carry the
// device token like the HTTP endpoint does.
type Subscriber struct {
	client   paho.Client
	cfg      config.MQTTConfig
	ingester Ingester
	logger   zerolog.Logger
}

func NewSubscriber(cfg config.MQTTConfig, ingester Ingester, logger zerolog.Logger) *Subscriber {
	s := &Subscriber{
		cfg:      cfg,
		ingester: ingester,
		logger:   logger.With().Str("component", "mqtt").Logger(),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(s.subscribe)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn().Err(err).Msg("broker connection lost")
	})

	s.client = paho.NewClient(opts)
	return s
}

// Start connects to the broker. The subscription is (re)established on every
// successful connect.
func (s *Subscriber) Start(timeout time.Duration) error {
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		return errors.Errorf("timed out connecting to MQTT broker %s", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "failed to connect to MQTT broker %s", s.cfg.Broker)
	}
	return nil
}

func (s *Subscriber) Stop() {
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
}

func (s *Subscriber) subscribe(c paho.Client) {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		if err := s.handle(context.Background(), msg.Topic(), msg.Payload()); err != nil {
			s.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("dropping MQTT reading")
		}
	})
	if token.Wait() && token.Error() != nil {
		s.logger.Error().Err(token.Error()).Str("topic", s.cfg.Topic).Msg("failed to subscribe")
		return
	}
	s.logger.Info().Str("topic", s.cfg.Topic).Msg("subscribed")
}

func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) error {
	var raw ingest.RawReading
	if err := json.Unmarshal(payload, &raw); err != nil {
		return errors.Wrap(err, "decode payload")
	}

	res, err := s.ingester.Ingest(ctx, raw, ingest.SourceMQTT)
	if err != nil {
		return err
	}
	s.logger.Debug().
		Str("topic", topic).
		Str("identity", res.Identity).
		Bool("persisted", res.Persisted).
		Msg("reading ingested")
	return nil
}
