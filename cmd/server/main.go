// CBT research study server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/cbt-research/internal/api"
	"github.com/ashureev/cbt-research/internal/config"
	"github.com/ashureev/cbt-research/internal/dashboard"
	"github.com/ashureev/cbt-research/internal/events"
	"github.com/ashureev/cbt-research/internal/flow"
	"github.com/ashureev/cbt-research/internal/grpcserver"
	"github.com/ashureev/cbt-research/internal/identity"
	"github.com/ashureev/cbt-research/internal/live"
	"github.com/ashureev/cbt-research/internal/logging"
	"github.com/ashureev/cbt-research/internal/middleware"
	"github.com/ashureev/cbt-research/internal/store"
	"github.com/ashureev/cbt-research/internal/telemetry"
	"github.com/ashureev/cbt-research/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logCloser := logging.Setup(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer func() {
		if closeErr := logCloser.Close(); closeErr != nil {
			slog.Error("Failed to close log file", "error", closeErr)
		}
	}()

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	study, err := config.LoadStudy(cfg.StudyFile)
	if err != nil {
		return err
	}

	repo, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		DBPath:      cfg.DBPath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected")

	var bus events.Bus = events.NewLocalBus()
	if cfg.RedisURL != "" {
		redisBus, err := events.NewRedisBus(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		bus = redisBus
		slog.Info("Redis event bus connected")
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			slog.Warn("Failed to close event bus", "error", closeErr)
		}
	}()

	metrics, shutdownMetrics, err := telemetry.Setup(ctx, cfg.TelemetryEnabled, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Error("Failed to shutdown meter provider", "error", err)
		}
	}()

	tokens := identity.NewProvider(cfg.TokenSecret, cfg.TokenTTL)
	flows := flow.NewRegistry()
	hub := live.NewHub()
	limiter := middleware.NewRateLimiter(cfg.SubmitRatePerMin)

	handler := api.NewHandler(api.Options{
		Repo:      repo,
		Flows:     flows,
		Tokens:    tokens,
		Dashboard: dashboard.NewService(repo, time.UTC),
		Bus:       bus,
		Metrics:   metrics,
		Study:     study,
	})
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := live.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r, limiter.Middleware)
	r.With(tokens.RequireToken).Get("/ws/research", wsHandler.ServeHTTP)
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var grpcLis net.Listener
	if cfg.GRPCPort != "" {
		grpcLis, err = net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return hub.Run(gctx, bus)
	})

	g.Go(func() error {
		<-flow.StartSweeper(gctx, flows, cfg.FlowIdleTTL, 0)
		return nil
	})

	g.Go(func() error {
		limiter.Run(gctx, time.Minute)
		return nil
	})

	if grpcLis != nil {
		health := grpcserver.New(repo)
		g.Go(func() error {
			return health.Serve(gctx, grpcLis)
		})
	}

	return g.Wait()
}
