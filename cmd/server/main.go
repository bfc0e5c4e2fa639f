package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trip-route-service/internal/adapters/cache"
	"trip-route-service/internal/adapters/routing"
	"trip-route-service/internal/api"
	"trip-route-service/internal/config"
	"trip-route-service/internal/platform/db"
	"trip-route-service/internal/platform/logger"
	"trip-route-service/internal/ports"
	"trip-route-service/internal/sessions"
)

const routeStorePrefix = "route:v1:"

// main is the application composition root.
// It wires the routing provider (optionally behind a shared route store),
// the session manager and the HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.NewNamed(cfg.AppEnv, "route-service")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, closeProvider, err := buildProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeProvider()

	mgr := sessions.NewManager(provider, sessions.Config{
		Debounce:        cfg.DebounceInterval,
		CacheTTL:        cfg.CacheTTL,
		CacheMaxEntries: cfg.CacheMaxEntries,
		IdleTimeout:     cfg.SessionIdleTimeout,
	}, log.Named("sessions"))
	defer mgr.Close()

	go mgr.Run(ctx, cfg.JanitorInterval)

	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	// No WriteTimeout: websocket streams are long-lived.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(mgr, log.Named("http"), cfg.WSOriginPatterns),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("provider", cfg.Provider),
			zap.Duration("debounce", cfg.DebounceInterval),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildProvider selects the routing adapter and, when REDIS_ADDR or
// DATABASE_URL is set, puts a shared route store in front of it.
func buildProvider(ctx context.Context, cfg *config.Config, log *zap.Logger) (ports.RoutingProvider, func(), error) {
	var upstream ports.RoutingProvider

	switch cfg.Provider {
	case config.ProviderGoogle:
		if cfg.GoogleAPIKey == "" {
			log.Warn("GOOGLE_ROUTES_API_KEY is not set; route requests will report a configuration error")
		}
		upstream = routing.NewGoogleRoutesProvider(routing.GoogleRoutesConfig{
			APIKey:      cfg.GoogleAPIKey,
			BaseURL:     cfg.GoogleBaseURL,
			Timeout:     cfg.ProviderTimeout,
			MaxAttempts: cfg.ProviderMaxAttempts,
		}, log.Named("google"))
	case config.ProviderOSRM:
		upstream = routing.NewOSRMProvider(routing.OSRMConfig{
			BaseURL:     cfg.OSRMBaseURL,
			Timeout:     cfg.ProviderTimeout,
			MaxAttempts: cfg.ProviderMaxAttempts,
		}, log.Named("osrm"))
	default:
		upstream = routing.NewMockProvider()
	}

	var (
		store   ports.RouteStore
		backend string
		cleanup func()
	)
	switch {
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %q: %w", cfg.RedisAddr, err)
		}

		store, backend = cache.NewRedisRouteStore(client, cfg.RouteStoreTTL, log.Named("redis")), "redis"
		cleanup = func() { _ = client.Close() }

	case cfg.DatabaseURL != "":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		conn, err := db.Connect(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		store, backend = cache.NewSQLRouteStore(conn, cfg.RouteStoreTTL, log.Named("postgres")), "postgres"
		cleanup = func() { _ = conn.Close() }

	default:
		return upstream, func() {}, nil
	}

	log.Info("shared route store enabled", zap.String("backend", backend), zap.String("key_prefix", routeStorePrefix))
	return routing.NewCachingProvider(upstream, store, routeStorePrefix, log), cleanup, nil
}
