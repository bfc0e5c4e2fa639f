package sessions

import (
	"context"
	"sync"
	"time"

	"trip-route-service/internal/adapters/cache"
	"trip-route-service/internal/domain"
	"trip-route-service/internal/services"
)

// Session is one trip-planning session: its own scheduler, its own route
// cache and the clients watching its outcomes.
type Session struct {
	ID        string
	CreatedAt time.Time

	sched *services.Scheduler
	cache *cache.MemoryRouteCache
	now   func() time.Time

	mu           sync.Mutex
	latest       *services.Outcome
	lastActivity time.Time
	subs         map[int]chan services.Outcome
	nextSub      int
	closed       bool
}

// Apply hands a new waypoint snapshot to the session scheduler.
func (s *Session) Apply(ctx context.Context, set domain.WaypointSet) error {
	s.touch()
	return s.sched.Update(ctx, set)
}

// Latest returns the most recent outcome, if any was produced yet.
func (s *Session) Latest() (services.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return services.Outcome{}, false
	}
	return *s.latest, true
}

func (s *Session) State(ctx context.Context) (services.Snapshot, error) {
	return s.sched.Snapshot(ctx)
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Subscribe registers a listener for outcomes. The latest outcome, if any,
// is delivered first. Slow listeners miss outcomes instead of blocking the
// scheduler. The returned func unsubscribes; the channel is closed either
// then or when the session closes.
func (s *Session) Subscribe(buffer int) (<-chan services.Outcome, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan services.Outcome, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}
	if s.latest != nil {
		ch <- *s.latest
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// publish runs on the scheduler goroutine.
func (s *Session) publish(o services.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = &o
	for _, ch := range s.subs {
		select {
		case ch <- o:
		default:
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

func (s *Session) close() {
	s.sched.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
