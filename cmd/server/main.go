package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ravenmail/internal/api"
	"ravenmail/internal/archive"
	"ravenmail/internal/conf"
	"ravenmail/internal/db"
	"ravenmail/internal/events"
	"ravenmail/internal/hub"
	"ravenmail/internal/jobs"
	"ravenmail/internal/logging"
	"ravenmail/internal/push"
	"ravenmail/internal/session"
)

func main() {
	// Command-line flags
	configPath := flag.String("config", "/etc/raven/notify.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file with secrets")
	dbPath := flag.String("db", "", "Path to database directory (overrides config)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Failed to load %s: %v", *envFile, err)
	}

	// Load configuration
	cfg, err := conf.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config from %s: %v", *configPath, err)
		log.Println("Using default configuration")
		cfg = conf.DefaultConfig()
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	}

	// Override config with command-line flags if provided
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *addr != "" {
		cfg.HTTP.Address = *addr
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Infof("Starting Raven notification server (%s)...", cfg.Environment)

	// Initialize database manager
	dbManager, err := db.NewDBManager(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("Failed to initialize database manager: %v", err)
	}
	defer func() {
		if err := dbManager.Close(); err != nil {
			logger.Errorf("Error closing database manager: %v", err)
		}
	}()

	logger.Infof("Database manager initialized: %s", cfg.Database.Path)

	secret := cfg.Session.Secret
	if secret == "" {
		secret = ephemeralSecret()
		logger.Warn("No session secret configured, generated an ephemeral one; sessions will not survive a restart")
	}
	sessions, err := session.NewManager(dbManager.Sessions(), cfg.Session.CookieName, secret)
	if err != nil {
		logger.Fatalf("Failed to initialize session manager: %v", err)
	}

	keys, err := push.NewKeyManager(cfg.Push, cfg.IsProduction(), logger)
	if err != nil {
		logger.Fatalf("Failed to initialize VAPID keys: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(ctx, cfg.Events, logger)

	// Live connections
	liveHub := hub.New(sessions, dbManager.Accounts(), cfg.Hub, cfg.HTTP.AllowedOrigins, logger)
	hubSub := bus.Subscribe("hub")
	go liveHub.Run(ctx, hubSub)

	// Push delivery
	engine := push.NewEngine(keys, dbManager.Subscriptions(), dbManager.Notifications(), cfg.Push, logger)
	var presence push.Presence
	if cfg.Push.SkipWhenConnected {
		presence = liveHub
	}
	dispatcher := push.NewDispatcher(engine, dbManager.Accounts(), presence, cfg.Push.SkipWhenConnected, cfg.Push.MaxConcurrency, logger)
	dispatcherDone := make(chan struct{})
	// Only events published on this replica, so a push goes out once however
	// many replicas share the bus
	pushSub := bus.SubscribeLocal("push")
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx, pushSub)
	}()

	// Background jobs
	periodic := []*jobs.Periodic{
		{
			Name:     "subscription-cleanup",
			Interval: cfg.Push.CleanupIntervalDuration(),
			Log:      logger,
			Task: func(ctx context.Context) error {
				engine.CleanupExpiredSubscriptions(ctx)
				return nil
			},
		},
		{
			Name:     "session-expiry",
			Interval: time.Hour,
			Log:      logger,
			Task: func(ctx context.Context) error {
				n, err := dbManager.Sessions().DeleteExpired(ctx, time.Now())
				if err == nil && n > 0 {
					logger.Infof("Removed %d expired sessions", n)
				}
				return err
			},
		},
	}
	if archiver := newArchiver(ctx, cfg.Archive, dbManager, logger); archiver != nil {
		periodic = append(periodic, &jobs.Periodic{
			Name:     "notification-archive",
			Interval: cfg.Archive.IntervalDuration(),
			Log:      logger,
			Task:     archiver.Run,
		})
	}
	for _, job := range periodic {
		job.Start(ctx)
	}

	server := api.NewServer(cfg.HTTP, cfg.IsProduction(), api.Dependencies{
		Sessions:      sessions,
		Push:          engine,
		Subscriptions: dbManager.Subscriptions(),
		Hub:           liveHub,
		Events:        bus,
		IngestToken:   cfg.Events.IngestToken,
	}, logger)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-errChan:
		if err != nil {
			logger.Errorf("Server error: %v", err)
		}
	case sig := <-sigChan:
		logger.Infof("Received signal %v, shutting down gracefully...", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	cancel()
	if err := liveHub.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error shutting down hub: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
	<-dispatcherDone
	for _, job := range periodic {
		job.Wait()
	}
	if err := bus.Close(); err != nil {
		logger.Errorf("Error closing event bus: %v", err)
	}

	logger.Info("Raven notification server stopped")
}

// newBus connects the Redis bus when configured, falling back to an
// in-process bus
func newBus(ctx context.Context, cfg conf.EventsConfig, logger *zap.SugaredLogger) events.Bus {
	if cfg.RedisURL == "" {
		logger.Info("Using in-process event bus")
		return events.NewMemoryBus(cfg.BufferSize, logger)
	}

	bus, err := events.NewRedisBus(ctx, cfg.RedisURL, cfg.Channel, cfg.BufferSize, logger)
	if err != nil {
		logger.Warnf("Failed to connect Redis event bus: %v", err)
		logger.Info("Falling back to in-process event bus")
		return events.NewMemoryBus(cfg.BufferSize, logger)
	}
	logger.Infof("Redis event bus subscribed to %s", cfg.Channel)
	return bus
}

// newArchiver returns nil when archiving is disabled or S3 is unreachable
func newArchiver(ctx context.Context, cfg conf.ArchiveConfig, dbManager *db.DBManager, logger *zap.SugaredLogger) *archive.Archiver {
	if !cfg.Enabled {
		logger.Info("Notification log archive is disabled in config")
		return nil
	}

	client, err := archive.NewS3Client(ctx, cfg)
	if err != nil {
		logger.Warnf("Failed to initialize S3 archive client: %v", err)
		logger.Info("Notification log entries will be kept in the database")
		return nil
	}

	logger.Infof("Notification log archive initialized (bucket: %s)", cfg.Bucket)
	return archive.New(client, dbManager.Notifications(), cfg, logger)
}

func ephemeralSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("Failed to generate session secret: %v", err)
	}
	return hex.EncodeToString(buf)
}
