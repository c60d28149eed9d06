package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotkeeper/internal/api"
	"slotkeeper/internal/availability"
	"slotkeeper/internal/config"
	"slotkeeper/internal/database"
	"slotkeeper/internal/domain"
	"slotkeeper/internal/events"
	"slotkeeper/internal/logging"
	"slotkeeper/internal/memstore"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"
	"slotkeeper/internal/notify"
	"slotkeeper/internal/postgres"
	"slotkeeper/internal/repository"
	"slotkeeper/internal/service"
	"slotkeeper/internal/timezone"
	"slotkeeper/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml (defaults to $CONFIG_PATH or configs/config.yaml)")
	flag.Parse()

	cfg, logger, closer, err := loadConfigAndLogger(*configPath)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter, closeLimiter := initRateLimiter(ctx, cfg, &logger)
	defer closeLimiter()

	bus := events.NewEventBus()
	forwarder := initKafka(ctx, cfg, bus, &logger)
	if forwarder != nil {
		defer forwarder.Close()
	}

	startMetrics(ctx, cfg, &logger)

	clock := timezone.NewClock()
	resolver := availability.NewResolver(clock)
	eventTypes := service.NewEventTypeService(store, clock, &logger)

	profiles := service.NewProfileService(store, clock, &logger)
	if n, err := profiles.SeedOwners(ctx, cfg.Owners()); err != nil {
		return fmt.Errorf("seed profiles: %w", err)
	} else if n > 0 {
		logger.Info().Int("created", n).Msg("Owner profiles seeded")
	}

	if err := seedEventTypes(ctx, cfg, eventTypes, &logger); err != nil {
		return err
	}

	coordinator := service.NewReservationCoordinator(
		store,
		resolver,
		clock,
		initNotifier(cfg, &logger),
		profiles,
		bus,
		service.ReservationConfig{
			MaxRecurring:        cfg.Booking.MaxRecurring,
			NotificationTimeout: cfg.Booking.NotificationTimeout,
		},
		&logger,
	)

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Slots:         availability.NewSlotService(store, store, resolver, clock, nil, &logger),
		Reservations:  coordinator,
		Bookings:      service.NewBookingService(store, bus, &logger),
		EventTypes:    eventTypes,
		Profiles:      profiles,
		Health:        store,
		PublicLimiter: limiter,
	}, &logger)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger(configPath string) (*config.Config, zerolog.Logger, io.Closer, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store, bookings are lost on restart")
		return memstore.New(logger), nil
	case config.DriverFile:
		store, err := memstore.Open(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("open file store")
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, err
		}
		if cfg.Backup.Enabled {
			backup := database.NewBackupService(db, cfg.Backup, logger)
			go backup.Start(ctx)
		}
		return db, nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Database.PostgresURL, logger)
		if err != nil {
			logger.Error().Err(err).Msg("connect postgres")
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func initRateLimiter(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.RateLimiter, func()) {
	memory := repository.NewMemoryRateLimiter()
	if cfg.Redis.Address == "" {
		return memory, func() {}
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, starting with in-memory rate limits")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	limiter := repository.NewFailoverRateLimiter(repository.NewRedisRateLimiter(client), memory, logger)
	return limiter, func() { _ = repository.Close(client) }
}

func initKafka(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *events.KafkaForwarder {
	if len(cfg.Events.Kafka.Brokers) == 0 {
		return nil
	}
	writer := events.NewKafkaWriter(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
	forwarder := events.NewKafkaForwarder(writer, cfg.Events.Kafka.Buffer, logger)
	forwarder.Attach(bus, events.BookingTypes...)
	forwarder.Start(ctx)
	logger.Info().Strs("brokers", cfg.Events.Kafka.Brokers).Str("topic", cfg.Events.Kafka.Topic).Msg("kafka forwarding enabled")
	return forwarder
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	if !cfg.Notification.Enabled {
		// Reservations still succeed, the result just reports notificationSent=false.
		return notify.NewEmailNotifier(nil, cfg.Notification.BaseURL, logger)
	}
	sender := notify.NewSMTPSender(cfg.Notification.SMTPHost, cfg.Notification.SMTPPort, cfg.Notification.From)
	email := notify.NewEmailNotifier(sender, cfg.Notification.BaseURL, logger)
	return notify.NewRetryingNotifier(email, worker.RetryPolicy{
		MaxRetries:    cfg.Notification.Retries,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
	}, logger)
}

func seedEventTypes(ctx context.Context, cfg *config.Config, svc *service.EventTypeService, logger *zerolog.Logger) error {
	path := cfg.Seed.EventTypesPath
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("seed_path", path).Msg("seed file not found, skipping")
			return nil
		}
		logger.Error().Err(err).Str("seed_path", path).Msg("read seed file")
		return err
	}

	var seed struct {
		EventTypes []*models.EventType `yaml:"event_types"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Str("seed_path", path).Msg("parse seed file")
		return err
	}

	created, err := svc.SeedEventTypes(ctx, seed.EventTypes)
	if err != nil {
		return fmt.Errorf("seed event types: %w", err)
	}
	logger.Info().Int("created", created).Int("total", len(seed.EventTypes)).Msg("event types seeded")
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Str("driver", cfg.Database.Driver).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
