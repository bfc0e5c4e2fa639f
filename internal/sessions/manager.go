package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trip-route-service/internal/adapters/cache"
	"trip-route-service/internal/platform/logger"
	"trip-route-service/internal/ports"
	"trip-route-service/internal/services"
)

var ErrSessionNotFound = errors.New("session not found")

type Config struct {
	Debounce        time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int
	IdleTimeout     time.Duration
}

// Manager owns the live sessions. Sessions share the routing provider and
// nothing else.
type Manager struct {
	provider ports.RoutingProvider
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(provider ports.RoutingProvider, cfg Config, log *zap.Logger) *Manager {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultRouteTTL
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}

	return &Manager{
		provider: provider,
		cfg:      cfg,
		logger:   logger.OrNop(log),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Create() (*Session, error) {
	rc, err := cache.NewMemoryRouteCache(m.cfg.CacheTTL, m.cfg.CacheMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		cache:        rc,
		now:          m.now,
		lastActivity: now,
		subs:         make(map[int]chan services.Outcome),
	}

	s.sched = services.NewScheduler(m.provider, rc, s.publish,
		services.WithDebounce(m.cfg.Debounce),
		services.WithLogger(m.logger.With(zap.String("session_id", s.ID))),
	)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", s.ID))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	m.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the idle timeout and drops
// expired cache entries of the others. It returns the number closed.
func (m *Manager) Sweep(now time.Time) int {
	var (
		expired []*Session
		live    []*Session
	)

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince(now) > m.cfg.IdleTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
			continue
		}
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.close()
		m.logger.Info("session expired", zap.String("session_id", s.ID))
	}

	purged := 0
	for _, s := range live {
		purged += s.cache.Purge()
	}
	if len(expired) > 0 || purged > 0 {
		m.logger.Debug("session sweep",
			zap.Int("expired_sessions", len(expired)),
			zap.Int("purged_routes", purged),
		)
	}

	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}
