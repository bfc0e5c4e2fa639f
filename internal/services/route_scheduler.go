package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/logger"
	"trip-route-service/internal/polyline"
	"trip-route-service/internal/ports"
)

// DefaultDebounce is the quiet period a waypoint change must survive before
// a provider call is made.
const DefaultDebounce = 800 * time.Millisecond

var (
	// ErrNotRoutable is carried by NoRoute outcomes for incomplete or invalid
	// waypoint sets.
	ErrNotRoutable = errors.New("waypoint set is not routable")

	ErrSchedulerClosed = errors.New("route scheduler is closed")
)

type OutcomeKind int

const (
	OutcomeRoute OutcomeKind = iota + 1
	OutcomeNoRoute
	OutcomeConfigError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRoute:
		return "route"
	case OutcomeNoRoute:
		return "no_route"
	case OutcomeConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// Outcome is what the scheduler reports to its owner after every settled
// change. Result is set only for OutcomeRoute; Err explains the other kinds.
type Outcome struct {
	Kind   OutcomeKind
	Key    domain.RouteKey
	Result domain.RouteResult
	Err    error
}

// OutcomeFunc receives outcomes on the scheduler goroutine. It must not
// block for long and must not call back into the scheduler.
type OutcomeFunc func(Outcome)

type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateInFlight
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateInFlight:
		return "in_flight"
	case StateSettled:
		return "settled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is a point-in-time view of the scheduler state machine.
type Snapshot struct {
	State State
	Key   domain.RouteKey
}

// Timer is the handle of a pending debounce. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d and returns its handle.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Option func(*Scheduler)

func WithDebounce(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.debounce = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger.OrNop(l) }
}

// WithAfterFunc replaces the timer source, mainly for tests.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.afterFunc = f
		}
	}
}

type updateEvent struct {
	set  domain.WaypointSet
	done chan struct{}
}

type timerEvent struct {
	seq uint64
}

type resultEvent struct {
	gen    uint64
	key    domain.RouteKey
	routes []ports.ProviderRoute
	err    error
}

type snapshotEvent struct {
	reply chan Snapshot
}

type inFlightCall struct {
	gen    uint64
	key    domain.RouteKey
	cancel context.CancelFunc
}

// Scheduler turns a stream of waypoint changes into route outcomes.
//
// Changes are debounced, served from the route cache when possible and
// otherwise sent to the routing provider, at most one call at a time. A
// response for anything but the latest dispatched request is dropped, so the
// most recently requested key always wins regardless of response order.
//
// All state below the channels is owned by the run goroutine.
type Scheduler struct {
	provider  ports.RoutingProvider
	cache     ports.RouteCache
	emit      OutcomeFunc
	debounce  time.Duration
	afterFunc AfterFunc
	logger    *zap.Logger

	events    chan any
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	baseCtx   context.Context
	cancelAll context.CancelFunc

	state    State
	key      domain.RouteKey
	pending  domain.WaypointSet
	timer    Timer
	timerSeq uint64
	gen      uint64
	inFlight *inFlightCall
}

// NewScheduler starts a scheduler. Close must be called to release it.
func NewScheduler(provider ports.RoutingProvider, cache ports.RouteCache, emit OutcomeFunc, opts ...Option) *Scheduler {
	if emit == nil {
		emit = func(Outcome) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		provider:  provider,
		cache:     cache,
		emit:      emit,
		debounce:  DefaultDebounce,
		afterFunc: realAfterFunc,
		logger:    zap.NewNop(),
		events:    make(chan any),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		baseCtx:   ctx,
		cancelAll: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

// Update hands a new waypoint snapshot to the scheduler and returns once it
// has been applied. Outcomes for cache hits and unroutable sets are emitted
// before Update returns.
func (s *Scheduler) Update(ctx context.Context, set domain.WaypointSet) error {
	ev := updateEvent{set: set, done: make(chan struct{})}
	if err := s.post(ctx, ev); err != nil {
		return err
	}

	select {
	case <-ev.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSchedulerClosed
	}
}

// Snapshot returns the current state and target key.
func (s *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	ev := snapshotEvent{reply: make(chan Snapshot, 1)}
	if err := s.post(ctx, ev); err != nil {
		return Snapshot{}, err
	}

	select {
	case snap := <-ev.reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-s.done:
		return Snapshot{}, ErrSchedulerClosed
	}
}

// Close stops the timer, cancels any in-flight call and waits for the
// scheduler goroutine to exit. It is safe to call more than once.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

func (s *Scheduler) post(ctx context.Context, ev any) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrSchedulerClosed
	case <-s.done:
		return ErrSchedulerClosed
	}
}

// postInternal delivers timer and provider events; they are dropped once the
// scheduler has exited.
func (s *Scheduler) postInternal(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	defer s.cancelAll()

	for {
		select {
		case <-s.quit:
			s.stopTimer()
			s.abandonInFlight()
			return
		case ev := <-s.events:
			switch ev := ev.(type) {
			case updateEvent:
				s.handleUpdate(ev.set)
				close(ev.done)
			case timerEvent:
				s.handleTimer(ev.seq)
			case resultEvent:
				s.handleResult(ev)
			case snapshotEvent:
				ev.reply <- Snapshot{State: s.state, Key: s.key}
			}
		}
	}
}

func (s *Scheduler) handleUpdate(set domain.WaypointSet) {
	key, ok := domain.NewRouteKey(set)
	if !ok {
		s.stopTimer()
		s.abandonInFlight()
		s.state, s.key = StateIdle, ""

		err := ErrNotRoutable
		if verr := set.Validate(); verr != nil {
			err = fmt.Errorf("%w: %w", ErrNotRoutable, verr)
		}
		s.emit(Outcome{Kind: OutcomeNoRoute, Err: err})
		return
	}

	if result, hit := s.cache.Get(key); hit {
		s.stopTimer()
		s.abandonInFlight()
		s.state, s.key = StateSettled, key
		s.logger.Debug("route cache hit", zap.String("route_key", key.String()))
		s.emit(Outcome{Kind: OutcomeRoute, Key: key, Result: result})
		return
	}

	if s.inFlight != nil && s.inFlight.key == key {
		s.stopTimer()
		s.state, s.key = StateInFlight, key
		return
	}

	s.abandonInFlight()
	s.pending = set
	s.startTimer()
	s.state, s.key = StateDebouncing, key
}

func (s *Scheduler) handleTimer(seq uint64) {
	if s.timer == nil || seq != s.timerSeq {
		return
	}
	s.timer = nil
	s.dispatch(s.pending)
}

func (s *Scheduler) dispatch(set domain.WaypointSet) {
	key, ok := domain.NewRouteKey(set)
	if !ok {
		return
	}

	if rc, ok := s.provider.(ports.ReadinessChecker); ok {
		if err := rc.Ready(); err != nil {
			s.settleFailure(key, err)
			return
		}
	}

	s.gen++
	ctx, cancel := context.WithCancel(s.baseCtx)
	call := &inFlightCall{gen: s.gen, key: key, cancel: cancel}
	s.inFlight = call
	s.state, s.key = StateInFlight, key

	req := ports.NewRouteRequest(set)
	s.logger.Debug("dispatching route request",
		zap.String("route_key", key.String()),
		zap.Uint64("gen", call.gen),
	)

	go func() {
		routes, err := s.provider.ComputeRoutes(ctx, req)
		s.postInternal(resultEvent{gen: call.gen, key: key, routes: routes, err: err})
	}()
}

func (s *Scheduler) handleResult(ev resultEvent) {
	if s.inFlight == nil || s.inFlight.gen != ev.gen {
		s.logger.Debug("discarding stale route response",
			zap.String("route_key", ev.key.String()),
			zap.Uint64("gen", ev.gen),
		)
		return
	}
	s.inFlight.cancel()
	s.inFlight = nil

	if ev.err != nil {
		s.settleFailure(ev.key, ev.err)
		return
	}
	if len(ev.routes) == 0 {
		s.settleFailure(ev.key, ports.ErrNoRoute)
		return
	}

	first := ev.routes[0]
	path, err := polyline.Decode(first.EncodedPolyline)
	if err != nil {
		s.settleFailure(ev.key, err)
		return
	}

	result := domain.NewRouteResult(path, first.DistanceMeters, first.Duration)
	s.cache.Put(ev.key, result)
	s.state, s.key = StateSettled, ev.key
	s.emit(Outcome{Kind: OutcomeRoute, Key: ev.key, Result: result})
}

func (s *Scheduler) settleFailure(key domain.RouteKey, err error) {
	kind := OutcomeNoRoute
	if errors.Is(err, ports.ErrMissingCredential) {
		kind = OutcomeConfigError
		s.logger.Error("routing provider is not configured", zap.Error(err))
	} else {
		s.logger.Warn("route computation failed",
			zap.String("route_key", key.String()),
			zap.Error(err),
		)
	}

	s.state, s.key = StateSettled, key
	s.emit(Outcome{Kind: kind, Key: key, Err: err})
}

func (s *Scheduler) startTimer() {
	s.stopTimer()
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.afterFunc(s.debounce, func() {
		s.postInternal(timerEvent{seq: seq})
	})
}

func (s *Scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) abandonInFlight() {
	if s.inFlight != nil {
		s.inFlight.cancel()
		s.inFlight = nil
	}
}
