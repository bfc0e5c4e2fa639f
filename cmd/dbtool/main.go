package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"trip-route-service/internal/adapters/cache"
	"trip-route-service/internal/config"
	"trip-route-service/internal/platform/db"
	"trip-route-service/internal/platform/logger"
)

// dbtool prepares the Postgres route store and optionally removes rows
// older than ROUTE_STORE_TTL.
func main() {
	purge := flag.Bool("purge", false, "delete expired route_cache rows after schema init")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.NewNamed(cfg.AppEnv, "dbtool")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Info("preparing route store database")
	conn, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("route store database unavailable", zap.Error(err))
	}
	defer conn.Close()
	log.Info("schema ready")

	if !*purge {
		return
	}

	store := cache.NewSQLRouteStore(conn, cfg.RouteStoreTTL, log)
	n, err := store.PurgeExpired(ctx)
	if err != nil {
		log.Fatal("purge failed", zap.Error(err))
	}
	log.Info("purged expired routes", zap.Int64("rows", n), zap.Duration("ttl", cfg.RouteStoreTTL))
}
