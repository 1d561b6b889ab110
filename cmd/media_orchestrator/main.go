package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/streamforge/media_orchestrator/internal/config"
	"github.com/streamforge/media_orchestrator/internal/download"
	"github.com/streamforge/media_orchestrator/internal/http/rest"
	"github.com/streamforge/media_orchestrator/internal/logctx"
	"github.com/streamforge/media_orchestrator/internal/notifier"
	"github.com/streamforge/media_orchestrator/internal/registry"
	"github.com/streamforge/media_orchestrator/internal/relay"
	"github.com/streamforge/media_orchestrator/internal/remote"
	"github.com/streamforge/media_orchestrator/internal/runner"
	"github.com/streamforge/media_orchestrator/internal/schedule"
	"github.com/streamforge/media_orchestrator/internal/storage/sqlite"
	"github.com/streamforge/media_orchestrator/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("media orchestrator starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}

	catalog := sqlite.NewInstrumentedCatalogRepository(database, tel)
	destinations := sqlite.NewDestinationRepository(database)
	schedules := sqlite.NewInstrumentedScheduleRepository(database, tel)

	// =========================================================================
	// Start Remote Access
	executor := remote.NewSSHExecutor(remote.Host{
		Addr:           cfg.Remote.Addr,
		User:           cfg.Remote.User,
		Password:       cfg.Remote.Password,
		PrivateKeyPath: cfg.Remote.PrivateKeyPath,
	}, cfg.Remote.CommandTimeout, tel)

	sessions := remote.NewSessionController(executor)

	// =========================================================================
	// Start Orchestrators
	reg := registry.New(tel)

	downloads := download.NewOrchestrator(download.Config{
		TempDir:         cfg.TempDir,
		RemotePathRoot:  cfg.Remote.PathRoot,
		MetadataTimeout: cfg.Download.MetadataTimeout,
		OutputTimeout:   cfg.Download.OutputTimeout,
		QuotaFloorMB:    cfg.Download.QuotaFloorMB,
	}, reg, runner.New(), executor, catalog, destinations, tel)
	defer downloads.Close()

	relays := relay.NewOrchestrator(relay.Config{
		KillSettleDelay:    cfg.Relay.KillSettleDelay,
		StabilizationDelay: cfg.Relay.StabilizationDelay,
		ProbeTimeout:       cfg.Relay.ProbeTimeout,
	}, sessions, schedules, destinations, reg, tel)

	// Records left active by a previous process are unverifiable now; flag
	// them before anything else reads relay state.
	if err := relays.ReconcileStartup(ctx); err != nil {
		return fmt.Errorf("failed to reconcile relay records: %w", err)
	}

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, downloads, cfg)

	// =========================================================================
	// Start Schedule Engine
	engine := schedule.NewEngine(schedules, relays, cfg.Schedule.TickInterval, tel)
	go engine.Run(ctx)

	// =========================================================================
	// Start Sweeper
	go reg.RunSweeper(ctx, cfg.Sweep.Interval, cfg.Sweep.MaxAge)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, downloads, relays, schedules, tel)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("orchestrator running",
		"temp_dir", cfg.TempDir,
		"remote_host", cfg.Remote.Addr,
		"schedule_tick", cfg.Schedule.TickInterval.String(),
		"sweep_interval", cfg.Sweep.Interval.String(),
	)

	// =========================================================================
	// Shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

func setupNotifications(ctx context.Context, downloads *download.Orchestrator, cfg *config.Config) {
	var notif notifier.Notifier = notifier.NopNotifier{}
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	go notifier.ConsumeDownloadEvents(ctx, notif, downloads.OnDownloadFinished, downloads.OnDownloadError)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	downloads *download.Orchestrator,
	relays *relay.Orchestrator,
	schedules *sqlite.InstrumentedScheduleRepository,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewHandler(downloads, relays, schedules)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	r.Handle("/metrics", tel.MetricsHandler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "media_orchestrator"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
