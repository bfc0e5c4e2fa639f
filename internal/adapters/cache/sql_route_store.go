package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
)

// SQLRouteStore is a Postgres-backed store of provider responses keyed by
// route key. Rows older than TTL are ignored on read and removed by PurgeExpired.
type SQLRouteStore struct {
	DB     *sql.DB
	TTL    time.Duration
	Logger *zap.Logger
	now    func() time.Time
}

func NewSQLRouteStore(db *sql.DB, ttl time.Duration, logger *zap.Logger) *SQLRouteStore {
	return &SQLRouteStore{DB: db, TTL: ttl, Logger: logger, now: time.Now}
}

// clock is the only time source for created_at and expiry checks; the
// database clock is never consulted.
func (s *SQLRouteStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *SQLRouteStore) cutoff() time.Time {
	return s.clock().Add(-s.TTL)
}

// Fetch the cached routes for key, or (nil, nil) when absent or expired.
func (s *SQLRouteStore) GetRoutes(ctx context.Context, key string) (_ []ports.ProviderRoute, err error) {
	defer obs.Time(ctx, s.Logger, "route.store.sql.Get")(&err)

	if s.DB == nil {
		return nil, errors.New("route store: db is nil")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("get route store: key must not be empty")
	}

	q := `
	SELECT payload
    FROM route_cache
    WHERE route_key = $1
        AND created_at >= $2;
	`

	var payload []byte
	err = s.DB.QueryRowContext(ctx, q, key, s.cutoff()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get route store: query route_cache table: %w", err)
	}

	routes, err := unmarshalRoutes(payload)
	if err != nil {
		return nil, fmt.Errorf("get route store key=%q: %w", key, err)
	}
	return routes, nil
}

// Store routes for key, overwriting any previous row with a fresh timestamp.
func (s *SQLRouteStore) PutRoutes(ctx context.Context, key string, routes []ports.ProviderRoute) (err error) {
	defer obs.Time(ctx, s.Logger, "route.store.sql.Put")(&err)

	if s.DB == nil {
		return errors.New("route store: db is nil")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("insert route store: key must not be empty")
	}
	if len(routes) == 0 {
		return nil
	}

	payload, err := marshalRoutes(routes)
	if err != nil {
		return fmt.Errorf("insert route store: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO route_cache (route_key, payload, created_at)
    VALUES ($1, $2, $3)
	ON CONFLICT (route_key) DO UPDATE
	SET payload = EXCLUDED.payload,
		created_at = EXCLUDED.created_at;
	`, key, payload, s.clock())
	if err != nil {
		return fmt.Errorf("insert route store key=%q: %w", key, err)
	}

	return nil
}

// PurgeExpired deletes rows older than the TTL and returns how many were removed.
func (s *SQLRouteStore) PurgeExpired(ctx context.Context) (_ int64, err error) {
	defer obs.Time(ctx, s.Logger, "route.store.sql.PurgeExpired")(&err)

	if s.DB == nil {
		return 0, errors.New("route store: db is nil")
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM route_cache WHERE created_at < $1;`, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("purge route store: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge route store: rows affected: %w", err)
	}
	return n, nil
}
