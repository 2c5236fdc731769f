// Pilot Chat server.
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
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/pilotchat/internal/api"
	"github.com/ashureev/pilotchat/internal/chat"
	"github.com/ashureev/pilotchat/internal/config"
	"github.com/ashureev/pilotchat/internal/conversation"
	"github.com/ashureev/pilotchat/internal/identity"
	"github.com/ashureev/pilotchat/internal/middleware"
	"github.com/ashureev/pilotchat/internal/quota"
	"github.com/ashureev/pilotchat/internal/store"
	"github.com/ashureev/pilotchat/internal/subscription"
	"github.com/ashureev/pilotchat/web"
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "env", cfg.AppEnv, "agent_backend", cfg.Agent.Backend)

	dsn := cfg.DB.Path
	if cfg.DB.Driver == store.DriverPostgres {
		dsn = cfg.DB.URL
	}
	docs, err := store.Open(cfg.DB.Driver, dsn)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := docs.Close(); closeErr != nil {
			slog.Error("Failed to close document store", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "driver", docs.Driver())

	client, closeClient, err := newAgentClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize agent client: %w", err)
	}
	defer closeClient()

	// Initialize services.
	quotas := quota.NewStore()
	subs := subscription.NewInMemory(quotas, subscription.Limits{
		FreePerDay: cfg.Quota.FreePerDay,
		ProPerDay:  cfg.Quota.ProPerDay,
	}, cfg.Quota.ProUserIDs)
	turns := conversation.NewDocumentBacked(docs)
	svc := chat.NewService(subs, turns, client)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	handler := api.NewHandler(svc, subs, docs, cfg)
	resolver := identity.NewResolver(cfg.Auth.JWTSecret)
	if !resolver.Enabled() {
		slog.Info("AUTH_JWT_SECRET not set, all callers are anonymous")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.Origins()))
	r.Use(identity.Middleware(resolver))

	handler.RegisterHealth(r)
	handler.RegisterRoutes(r, middleware.RateLimit(limiter))

	// Serve the embedded chat page.
	r.Handle("/*", web.Handler())

	// SSE responses stay open for the whole exchange, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return quotas.StartSweeper(gctx, cfg.Quota.SweepInterval)
	})
	g.Go(func() error {
		return limiter.StartEviction(gctx, time.Minute)
	})
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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
