package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	h "github.com/gorilla/handlers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/alert"
	"github.com/stanstork/sensorhub/internal/authz"
	"github.com/stanstork/sensorhub/internal/config"
	"github.com/stanstork/sensorhub/internal/fanout"
	"github.com/stanstork/sensorhub/internal/handlers"
	"github.com/stanstork/sensorhub/internal/ingest"
	"github.com/stanstork/sensorhub/internal/middleware"
	"github.com/stanstork/sensorhub/internal/mqtt"
	"github.com/stanstork/sensorhub/internal/notification"
	"github.com/stanstork/sensorhub/internal/repository"
	"github.com/stanstork/sensorhub/internal/routes"
	"github.com/stanstork/sensorhub/internal/settings"
	"github.com/stanstork/sensorhub/internal/temporal"
	"github.com/stanstork/sensorhub/internal/temporal/activities"
	"github.com/stanstork/sensorhub/internal/temporal/workflows"
	"github.com/stanstork/sensorhub/internal/throttle"
	tc "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

type application struct {
	config *config.Config
	db     *sql.DB
	logger zerolog.Logger

	accounts      repository.AccountRepository
	readings      repository.ReadingRepository
	subscriptions repository.SubscriptionRepository
	notifLog      repository.NotificationLogRepository
	settings      *settings.Resolver

	redis      *redis.Client
	memory     *throttle.MemoryStore
	router     *fanout.Router
	sender     *notification.WebPushSender
	delivery   notification.Service
	dispatcher *notification.Dispatcher
	engine     *alert.Engine
	gateway    *ingest.Gateway
}

func newApplication(ctx context.Context, cfg *config.Config, db *sql.DB, logger zerolog.Logger) (*application, error) {
	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		accounts:      repository.NewAccountRepository(db),
		readings:      repository.NewReadingRepository(db),
		subscriptions: repository.NewSubscriptionRepository(db),
		notifLog:      repository.NewNotificationLogRepository(db),
		settings:      settings.NewResolver(repository.NewSettingsRepository(db)),
		router:        fanout.NewRouter(logger),
	}

	throttleStore, err := app.throttleStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := app.ensureVAPIDKeys(); err != nil {
		return nil, err
	}
	loc, err := cfg.Push.Location()
	if err != nil {
		return nil, errors.Wrap(err, "load push.timezone")
	}

	app.sender = notification.NewWebPushSender(cfg.Push, logger)
	app.delivery = notification.NewService(app.subscriptions, app.notifLog, app.settings, app.sender, notification.Options{
		Location:    loc,
		Timeout:     cfg.Push.DeliveryTimeout,
		Parallelism: 8,
	}, logger)
	app.dispatcher = notification.NewDispatcher(app.delivery, cfg.Push.MaxConcurrent, cfg.Push.QueueSize, 2*cfg.Push.DeliveryTimeout, logger)

	app.engine = alert.NewEngine(app.readings, app.dispatcher, alert.Options{
		RainStartEdgeTriggered: cfg.Alerts.RainStartEdgeTriggered,
		RepeatInterval:         cfg.Alerts.RepeatInterval,
		MaintenanceAfter:       cfg.Alerts.MaintenanceAfter,
	}, logger)

	app.gateway = ingest.NewGateway(ingest.Deps{
		Accounts: app.accounts,
		Settings: app.settings,
		Readings: app.readings,
		Throttle: throttle.NewController(throttleStore, cfg.Ingest.DefaultInterval),
		Alerts:   app.engine,
		Router:   app.router,
	}, ingest.Bounds{
		TemperatureMin: cfg.Ingest.TemperatureMin,
		TemperatureMax: cfg.Ingest.TemperatureMax,
	}, logger)

	return app, nil
}

func (app *application) throttleStore(ctx context.Context) (throttle.Store, error) {
	if app.config.Throttle.Backend != "redis" {
		app.memory = throttle.NewMemoryStore()
		return app.memory, nil
	}

	app.redis = redis.NewClient(&redis.Options{
		Addr:     app.config.Redis.Addr,
		Password: app.config.Redis.Password,
		DB:       app.config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := app.redis.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrapf(err, "connect to redis at %s", app.config.Redis.Addr)
	}
	app.logger.Info().Str("addr", app.config.Redis.Addr).Msg("Using Redis throttle store")
	return throttle.NewRedisStore(app.redis, app.config.Throttle.Prefix), nil
}

// ensureVAPIDKeys generates a throwaway key pair when none is configured.
// Browsers subscribed under it must resubscribe after a restart.
func (app *application) ensureVAPIDKeys() error {
	if app.config.Push.VAPIDPublicKey != "" && app.config.Push.VAPIDPrivateKey != "" {
		return nil
	}
	public, private, err := notification.GenerateVAPIDKeys()
	if err != nil {
		return errors.Wrap(err, "generate VAPID keys")
	}
	app.config.Push.VAPIDPublicKey = public
	app.config.Push.VAPIDPrivateKey = private
	app.logger.Warn().Str("public_key", public).Msg("VAPID keys not configured, generated a temporary pair; run `sensorhub vapid` and set them in config")
	return nil
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter() http.Handler {
	router := routes.NewRouter(routes.Handlers{
		Health: handlers.NewHealthHandler(app.db),
		Sensor: handlers.NewSensorHandler(app.gateway, app.logger),
		Live: handlers.NewLiveHandler(app.gateway, app.router, handlers.LiveOptions{
			SendBuffer:     app.config.Ingest.LiveSendBuffer,
			WriteTimeout:   app.config.Ingest.LiveWriteTimeout,
			MaxMessageSize: app.config.Ingest.LiveMaxMessageSize,
			AllowedOrigins: app.config.Auth.AllowedOrigins,
		}, app.logger),
		Push:          handlers.NewPushHandler(app.subscriptions, app.delivery, app.sender.PublicKey(), app.logger),
		Settings:      handlers.NewSettingsHandler(app.settings, app.logger),
		Notifications: handlers.NewNotificationHandler(app.notifLog, app.logger),
		History:       handlers.NewHistoryHandler(app.readings, app.accounts, app.logger),
	}, authz.JWT(app.config.Auth.JWTSecret))

	logged := middleware.Logging(app.logger)(router)
	return h.CORS(
		h.AllowedOrigins(app.config.Auth.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(logged)
}

func (app *application) startMQTT() (*mqtt.Subscriber, error) {
	if !app.config.MQTT.Enabled {
		return nil, nil
	}
	sub := mqtt.NewSubscriber(app.config.MQTT, app.gateway, app.logger)
	if err := sub.Start(10 * time.Second); err != nil {
		return nil, err
	}
	return sub, nil
}

func (app *application) startTemporalWorker(ctx context.Context) (tc.Client, worker.Worker, error) {
	if !app.config.Temporal.Enabled {
		return nil, nil, nil
	}

	client, err := tc.Dial(tc.Options{
		HostPort:  app.config.Temporal.HostPort,
		Namespace: app.config.Temporal.Namespace,
		Logger:    temporal.NewLogger(app.logger),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to create Temporal client")
	}

	activityImpl := &activities.Activities{
		Subscriptions: app.subscriptions,
		Readings:      app.readings,
		Settings:      app.settings,
		Maintenance:   app.engine,
		Notifier:      app.delivery,
		Retention:     app.config.Push.SubscriptionRetention,
	}

	w := worker.New(client, temporal.TaskQueueName, worker.Options{})
	w.RegisterWorkflow(workflows.DailyReportWorkflow)
	w.RegisterWorkflow(workflows.MaintenanceWorkflow)
	w.RegisterActivity(activityImpl)

	if err := w.Start(); err != nil {
		client.Close()
		return nil, nil, errors.Wrap(err, "unable to start Temporal worker")
	}

	schedules := []struct {
		id   string
		cron string
		fn   interface{}
	}{
		{temporal.DailyReportWorkflowID, app.config.Push.DailyReportCron, workflows.DailyReportWorkflow},
		{temporal.MaintenanceWorkflowID, app.config.Alerts.MaintenanceCron, workflows.MaintenanceWorkflow},
	}
	for _, s := range schedules {
		if s.cron == "" {
			continue
		}
		_, err := client.ExecuteWorkflow(ctx, tc.StartWorkflowOptions{
			ID:           s.id,
			TaskQueue:    temporal.TaskQueueName,
			CronSchedule: s.cron,
		}, s.fn)
		if err != nil {
			app.logger.Error().Err(err).Str("workflow_id", s.id).Msg("Failed to schedule workflow")
			continue
		}
		app.logger.Info().Str("workflow_id", s.id).Str("cron", s.cron).Msg("Workflow scheduled")
	}

	return client, w, nil
}

// sweepThrottle drops in-memory throttle entries that can no longer block
// any window.
func (app *application) sweepThrottle(ctx context.Context) {
	if app.memory == nil {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := app.memory.Forget(now.Add(-settings.MaxRecordInterval)); n > 0 {
				app.logger.Debug().Int("entries", n).Msg("Throttle entries expired")
			}
		}
	}
}

// run starts every listener and blocks until a signal or a server error,
// then shuts down in reverse order.
func (app *application) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	temporalClient, temporalWorker, err := app.startTemporalWorker(ctx)
	if err != nil {
		return err
	}
	subscriber, err := app.startMQTT()
	if err != nil {
		return err
	}
	go app.sweepThrottle(ctx)

	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           app.initRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		app.logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		app.logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case runErr = <-serverErrCh:
		app.logger.Error().Err(runErr).Msg("Server error occurred")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		app.logger.Info().Msg("HTTP server shutdown complete.")
	}

	if subscriber != nil {
		subscriber.Stop()
	}
	if temporalWorker != nil {
		temporalWorker.Stop()
		temporalClient.Close()
		app.logger.Info().Msg("Temporal worker stopped.")
	}
	if err := app.dispatcher.Close(shutdownCtx); err != nil {
		app.logger.Warn().Err(err).Msg("Pending notifications abandoned")
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	return runErr
}
