package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/notify-core/internal/api"
	"github.com/nerrad567/notify-core/internal/auth"
	"github.com/nerrad567/notify-core/internal/emqx"
	"github.com/nerrad567/notify-core/internal/infrastructure/config"
	"github.com/nerrad567/notify-core/internal/infrastructure/database"
	"github.com/nerrad567/notify-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/notify-core/internal/infrastructure/logging"
	"github.com/nerrad567/notify-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/notify-core/internal/notification"
	"github.com/nerrad567/notify-core/internal/presence"
	"github.com/nerrad567/notify-core/internal/push"
	"github.com/nerrad567/notify-core/internal/webhook"
)

// run is the service itself, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - path: Configuration file path
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, path string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Notify Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	// Users and the principal directory
	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedAdmin(ctx, users, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}
	directory, err := auth.NewDirectory(users, cfg.Cache)
	if err != nil {
		return fmt.Errorf("creating user directory: %w", err)
	}
	defer directory.Close()

	tokens := auth.NewTokenIssuer(cfg.Security.JWT.Secret, time.Duration(cfg.Security.JWT.BrokerTokenTTL)*time.Minute)
	acl := auth.NewAccessControl(cfg.EMQX.WebhookSecret, cfg.EMQX.AdminSubject)

	// Broker connection. The service keeps serving when the broker is
	// unreachable: presence still arrives over the webhook and publishes
	// fail per recipient.
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT, auth.NewBackendCredentials(tokens), log.Component("mqtt"))
	if err != nil {
		log.Warn("MQTT unavailable, continuing degraded", "error", err)
	} else {
		host, port := cfg.MQTT.BrokerAddress()
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", host, port))
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		mqttClient.Disconnect()
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	metrics := openMetrics(ctx, cfg.InfluxDB, log)
	if metrics != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := metrics.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Presence
	store := presence.NewStore(presence.NewSQLiteRepository(db.DB), directory)
	store.SetLogger(log.Component("presence"))
	if metrics != nil {
		store.Subscribe(presence.ObserverFunc(func(e presence.Event) {
			metrics.WritePresence(string(e.Kind), e.UserID, e.ClientID, e.At)
		}))
	}

	// Notifications
	sender, err := newPushSender(ctx, cfg.Push, log)
	if err != nil {
		return err
	}
	pushSvc := push.NewService(push.NewDeviceRepository(db.DB), sender)
	pushSvc.SetLogger(log.Component("push"))

	dispatcher := notification.NewDispatcher(notification.NewSQLiteRepository(db.DB), mqttClient, pushSvc, directory)
	dispatcher.SetActiveUsers(store)
	dispatcher.SetLogger(log.Component("notification"))
	if metrics != nil {
		dispatcher.SetMetrics(metrics)
	}

	// Broker hooks
	hook := webhook.NewHandler(acl, store)
	hook.SetLogger(log.Component("webhook"))

	if cfg.EMQX.SysEvents {
		sys := webhook.NewSysListener(mqttClient, store)
		sys.SetLogger(log.Component("sys-events"))
		if startErr := sys.Start(); startErr != nil {
			log.Warn("$SYS client events unavailable", "error", startErr)
		} else {
			defer func() {
				if stopErr := sys.Stop(); stopErr != nil {
					log.Warn("error stopping $SYS listener", "error", stopErr)
				}
			}()
		}
	}

	if cfg.EMQX.API.Enabled && cfg.EMQX.API.ReconcileInterval > 0 {
		reconciler, recErr := startReconciler(ctx, cfg.EMQX.API, store, log)
		if recErr != nil {
			return recErr
		}
		defer reconciler.Stop()
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Users:      users,
		Directory:  directory,
		Tokens:     tokens,
		ACL:        acl,
		Webhook:    hook,
		Presence:   store,
		Dispatcher: dispatcher,
		Push:       pushSvc,
		Broker:     mqttClient,
		DB:         db.DB,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	store.Subscribe(server.Hub())

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, metrics); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred Close() calls run in reverse order: API server, reconciler,
	// $SYS listener, InfluxDB, MQTT, directory, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openDatabase opens the SQLite database and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// openMetrics returns nil when metrics are disabled or unreachable.
// Metrics never block startup.
func openMetrics(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Recorder {
	rec, err := influxdb.Open(ctx, cfg, log.Component("influxdb"))
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		return nil
	case err != nil:
		log.Warn("InfluxDB unavailable, metrics disabled", "error", err)
		return nil
	}

	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return rec
}

// newPushSender returns the FCM sender when push is enabled.
func newPushSender(ctx context.Context, cfg config.PushConfig, log *logging.Logger) (push.Sender, error) {
	if !cfg.Enabled {
		log.Info("push notifications disabled")
		return push.NoopSender{}, nil
	}
	sender, err := push.NewFCMSender(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating push sender: %w", err)
	}
	log.Info("push notifications enabled", "project_id", cfg.ProjectID)
	return sender, nil
}

func startReconciler(ctx context.Context, cfg config.EMQXAPIConfig, store *presence.Store, log *logging.Logger) (*emqx.Reconciler, error) {
	client, err := emqx.NewClient(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("creating EMQX API client: %w", err)
	}

	interval := time.Duration(cfg.ReconcileInterval) * time.Second
	reconciler := emqx.NewReconciler(client, store, interval)
	reconciler.SetLogger(log.Component("reconciler"))
	reconciler.Start(ctx)

	log.Info("presence reconciliation started", "url", cfg.URL, "interval", interval)
	return reconciler, nil
}

// healthCheck verifies the required connections. The broker is optional
// and reported by /health instead.
func healthCheck(ctx context.Context, db *database.DB, metrics *influxdb.Recorder) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if metrics != nil {
		if err := metrics.Ping(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
