package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/Strob0t/AlarmRelay/internal/adapter/http"
	"github.com/Strob0t/AlarmRelay/internal/adapter/fanout"
	"github.com/Strob0t/AlarmRelay/internal/adapter/memory"
	cfnats "github.com/Strob0t/AlarmRelay/internal/adapter/nats"
	cfotel "github.com/Strob0t/AlarmRelay/internal/adapter/otel"
	"github.com/Strob0t/AlarmRelay/internal/adapter/ristretto"
	"github.com/Strob0t/AlarmRelay/internal/adapter/ws"
	"github.com/Strob0t/AlarmRelay/internal/config"
	"github.com/Strob0t/AlarmRelay/internal/logger"
	"github.com/Strob0t/AlarmRelay/internal/middleware"
	"github.com/Strob0t/AlarmRelay/internal/resilience"
	"github.com/Strob0t/AlarmRelay/internal/secrets"
	"github.com/Strob0t/AlarmRelay/internal/service"
	"github.com/Strob0t/AlarmRelay/internal/throttle"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"store_capacity", cfg.Store.Capacity,
		"max_body_bytes", cfg.Ingest.MaxBodyBytes,
		"forwarding", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTEL(shutdownCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Relay core ---
	relay := service.NewRelayService(
		memory.NewStore(cfg.Store.Capacity),
		fanout.NewHub(cfg.Stream.SendBuffer),
	)
	relay.SetMetrics(metrics)

	snapshotCache, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("snapshot cache: %w", err)
	}
	defer snapshotCache.Close()
	relay.SetCache(snapshotCache, cfg.Cache.SnapshotTTL)

	unregisterGauges, err := cfotel.RegisterGauges(relay, closeLog)
	if err != nil {
		return fmt.Errorf("gauges: %w", err)
	}
	defer func() { _ = unregisterGauges() }()

	handlers := &cfhttp.Handlers{
		Relay:  relay,
		Ingest: cfg.Ingest,
		Stream: cfg.Stream,
		Pool:   throttle.NewPool(cfg.Ingest.MaxConcurrent),
		WS: ws.NewHandler(relay, ws.Options{
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
			WriteTimeout:      cfg.Stream.WriteTimeout,
			AllowedOrigin:     cfg.Server.CORSOrigin,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)

	// --- Forwarder (optional) ---
	if cfg.NATS.URL != "" {
		queue, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Subject)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Close(); err != nil {
				slog.Warn("nats close failed", "error", err)
			}
		}()

		breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		breaker.OnStateChange(func(from, to resilience.State) {
			slog.Warn("forwarder circuit breaker state changed", "from", from, "to", to)
		})

		fwd := service.NewForwarder(relay, queue, cfg.NATS.Subject, breaker)
		fwd.SetMetrics(metrics)
		g.Go(func() error { return fwd.Run(gctx) })

		handlers.Queue = queue
		handlers.Breaker = breaker
	}

	// --- HTTP ---
	vault, err := secrets.NewVault(secrets.ConfigLoader(flags))
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	slog.Info("shared-secret gate", "secret", vault.Redacted())
	g.Go(func() error { return reloadOnHangup(gctx, vault) })

	authMW := middleware.SharedSecretFrom(vault, func(r *http.Request) {
		relay.RecordRejected(r.Context(), "unauthorized")
	})

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	limiter.OnReject(func(r *http.Request) {
		relay.RecordRejected(r.Context(), "rate_limited")
	})
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName, "/health", "/api/v1/alarms/stream", "/api/v1/alarms/ws"))
	r.Use(authMW)

	cfhttp.MountRoutes(r, handlers, cfg.Server.RequestTimeout, limiter.Handler)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		// No server-wide WriteTimeout: streams run indefinitely and bound
		// each frame write themselves.
		IdleTimeout: 120 * time.Second,
	}

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		// End every stream first; Shutdown does not wait on hijacked or
		// long-lived connections otherwise.
		relay.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// reloadOnHangup re-reads the shared-secret credentials on SIGHUP until ctx
// ends. A failed reload keeps the previous credentials.
func reloadOnHangup(ctx context.Context, vault *secrets.Vault) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("credential reload failed, keeping previous credentials", "error", err)
				continue
			}
			slog.Info("credentials reloaded", "secret", vault.Redacted())
		}
	}
}
