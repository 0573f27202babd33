package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sessiond/internal/api"
	"sessiond/internal/config"
	"sessiond/internal/database"
	"sessiond/internal/domain"
	"sessiond/internal/events"
	"sessiond/internal/ledger"
	"sessiond/internal/logging"
	"sessiond/internal/metrics"
	"sessiond/internal/repository"
	"sessiond/internal/service"
	"sessiond/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if err := db.EnsureSettings(context.Background(), &cfg.Engine.Settings); err != nil {
		logger.Error().Err(err).Msg("seed engine settings")
		return err
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	guard := initGuardStore(cfg, &logger)

	principals, err := loadPrincipals(cfg, &logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	eventBus := events.NewEventBus()
	events.AttachObservers(eventBus, &logger)

	submitter := ledger.NewLogSubmitter(&logger)
	acct := ledger.NewAccounting(db, submitter, cfg.Engine.Treasury, eventBus, &logger)

	clock := service.NewRealClock()

	svc := api.Services{
		Slots:        service.NewSlotService(db, acct, eventBus, &logger),
		Bookings:     service.NewBookingService(db, acct, eventBus, clock, cfg.Engine.Treasury, &logger),
		Attestations: service.NewAttestationService(db, acct, eventBus, clock, cfg.Engine.Attester, cfg.Engine.Treasury, &logger),
		Disputes:     service.NewDisputeService(db, acct, eventBus, clock, cfg.Engine.Admins, &logger),
		Requests:     service.NewRequestService(db, acct, eventBus, clock, &logger),
		Admin:        service.NewAdminService(db, acct, cfg.Engine.Admins, &logger),
	}

	if cfg.Worker.Enabled {
		exporter := worker.NewSettlementExporter(db, cfg.Exports, &logger)
		reconciler := worker.NewReconciler(db, acct, exporter, cfg.Worker, &logger)
		go reconciler.Start(ctx)
	}

	httpServer := api.NewHTTPServer(cfg.API, svc, principals, guard, &logger)
	return serve(ctx, httpServer, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
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

// initGuardStore wires redis with an in-memory fallback. Without redis the
// engine still runs; idempotency and account limits just stop surviving a
// restart.
func initGuardStore(cfg *config.Config, logger *zerolog.Logger) domain.GuardRepository {
	memory := repository.NewMemoryGuardRepository()

	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, using in-memory guard store")
		return memory
	}

	client := repository.NewRedisClient(cfg.Redis)
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing with in-memory guard store")
		return repository.NewFailoverGuardRepository(repository.NewRedisGuardRepository(client), memory, logger)
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return repository.NewFailoverGuardRepository(repository.NewRedisGuardRepository(client), memory, logger)
}

func loadPrincipals(cfg *config.Config, logger *zerolog.Logger) ([]api.Principal, error) {
	if !cfg.API.Auth.Enabled {
		logger.Warn().Msg("API auth is disabled, accounts are taken from the X-Account header")
		return nil, nil
	}

	path := cfg.API.PrincipalsFile
	if path == "" {
		path = "configs/principals.yaml"
	}

	principals, err := api.LoadPrincipals(path)
	if err != nil {
		logger.Error().Err(err).Str("principals_path", path).Msg("load principals")
		return nil, err
	}

	logger.Info().Int("principals", len(principals)).Msg("principals loaded")
	return principals, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, logger *zerolog.Logger) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
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
