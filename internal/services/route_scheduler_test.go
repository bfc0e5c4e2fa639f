package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"trip-route-service/internal/adapters/cache"
	"trip-route-service/internal/adapters/routing"
	"trip-route-service/internal/domain"
	"trip-route-service/internal/polyline"
	"trip-route-service/internal/ports"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

// fakeTimers records every debounce timer; tests fire them by hand.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimerHandle struct {
	owner *fakeTimers
	t     *fakeTimer
}

func (h fakeTimerHandle) Stop() bool {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	wasActive := !h.t.stopped && !h.t.fired
	h.t.stopped = true
	return wasActive
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return fakeTimerHandle{owner: ft, t: t}
}

func (ft *fakeTimers) created() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.timers)
}

func (ft *fakeTimers) active() []*fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []*fakeTimer
	for _, t := range ft.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireActive fires the single pending timer.
func (ft *fakeTimers) fireActive(t *testing.T) {
	t.Helper()
	active := ft.active()
	require.Len(t, active, 1, "expected exactly one pending debounce timer")

	ft.mu.Lock()
	active[0].fired = true
	ft.mu.Unlock()
	active[0].f()
}

type recorder struct {
	ch chan Outcome
}

func newRecorder() *recorder { return &recorder{ch: make(chan Outcome, 32)} }

func (r *recorder) emit(o Outcome) { r.ch <- o }

func (r *recorder) next(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-r.ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case o := <-r.ch:
		t.Fatalf("unexpected outcome: %+v", o)
	default:
	}
}

type pendingCall struct {
	ctx   context.Context
	req   ports.RouteRequest
	reply chan gatedReply
}

type gatedReply struct {
	routes []ports.ProviderRoute
	err    error
}

// gatedProvider holds every call until the test replies, ignoring
// cancellation so late responses can be delivered on purpose.
type gatedProvider struct {
	calls chan *pendingCall
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{calls: make(chan *pendingCall, 8)}
}

func (p *gatedProvider) ComputeRoutes(ctx context.Context, req ports.RouteRequest) ([]ports.ProviderRoute, error) {
	c := &pendingCall{ctx: ctx, req: req, reply: make(chan gatedReply, 1)}
	p.calls <- c
	r := <-c.reply
	return r.routes, r.err
}

func (p *gatedProvider) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case c := <-p.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for provider call")
		return nil
	}
}

func wp(lat, lng float64) *domain.Waypoint {
	return &domain.Waypoint{Point: domain.GeoPoint{Lat: lat, Lng: lng}}
}

func directSet(lat1, lng1, lat2, lng2 float64) domain.WaypointSet {
	return domain.WaypointSet{Pickup: wp(lat1, lng1), Dropoff: wp(lat2, lng2)}
}

func mustKey(t *testing.T, s domain.WaypointSet) domain.RouteKey {
	t.Helper()
	k, ok := domain.NewRouteKey(s)
	require.True(t, ok)
	return k
}

func routeFor(points []domain.GeoPoint, meters float64, d time.Duration) ports.ProviderRoute {
	return ports.ProviderRoute{
		EncodedPolyline: polyline.Encode(points),
		DistanceMeters:  meters,
		Duration:        d,
	}
}

type harness struct {
	sched  *Scheduler
	timers *fakeTimers
	cache  *cache.MemoryRouteCache
	out    *recorder
}

func newHarness(t *testing.T, provider ports.RoutingProvider, opts ...Option) *harness {
	t.Helper()
	c, err := cache.NewMemoryRouteCache(cache.DefaultRouteTTL, 0)
	require.NoError(t, err)

	h := &harness{timers: &fakeTimers{}, cache: c, out: newRecorder()}
	opts = append([]Option{WithAfterFunc(h.timers.AfterFunc)}, opts...)
	h.sched = NewScheduler(provider, c, h.out.emit, opts...)
	t.Cleanup(h.sched.Close)
	return h
}

func (h *harness) update(t *testing.T, s domain.WaypointSet) {
	t.Helper()
	require.NoError(t, h.sched.Update(context.Background(), s))
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.sched.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func TestSchedulerDebounceCollapsesBurst(t *testing.T) {
	provider := routing.NewMockProvider()
	h := newHarness(t, provider, WithDebounce(500*time.Millisecond))

	sets := []domain.WaypointSet{
		directSet(41.0, 29.0, 41.1, 29.1),
		directSet(41.0, 29.0, 41.2, 29.2),
		directSet(41.0, 29.0, 41.3, 29.3),
	}
	for _, s := range sets {
		h.update(t, s)
	}

	assert.Equal(t, 3, h.timers.created())
	assert.Len(t, h.timers.active(), 1, "each change must replace the pending timer")
	assert.Equal(t, 500*time.Millisecond, h.timers.active()[0].d)

	last := mustKey(t, sets[2])
	assert.Equal(t, Snapshot{State: StateDebouncing, Key: last}, h.snapshot(t))
	assert.Empty(t, provider.Calls())

	h.timers.fireActive(t)
	o := h.out.next(t)

	assert.Equal(t, OutcomeRoute, o.Kind)
	assert.Equal(t, last, o.Key)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.GeoPoint{Lat: 41.3, Lng: 29.3}, calls[0].Destination)
	h.out.none(t)
}

func TestSchedulerServesCacheHitWithoutCall(t *testing.T) {
	provider := routing.NewMockProvider()
	h := newHarness(t, provider)

	set := directSet(41.0, 29.0, 41.1, 29.1)
	key := mustKey(t, set)
	cached := domain.NewRouteResult(nil, 1500, 3*time.Minute)
	h.cache.Put(key, cached)

	h.update(t, set)

	o := h.out.next(t)
	assert.Equal(t, OutcomeRoute, o.Kind)
	assert.Equal(t, cached, o.Result)
	assert.Zero(t, h.timers.created())
	assert.Empty(t, provider.Calls())
	assert.Equal(t, Snapshot{State: StateSettled, Key: key}, h.snapshot(t))
}

func TestSchedulerCachesSuccessfulRoute(t *testing.T) {
	provider := routing.NewMockProvider()
	h := newHarness(t, provider)
	set := directSet(41.0, 29.0, 41.1, 29.1)

	h.update(t, set)
	h.timers.fireActive(t)
	first := h.out.next(t)
	require.Equal(t, OutcomeRoute, first.Kind)

	cached, ok := h.cache.Get(mustKey(t, set))
	require.True(t, ok)
	assert.Equal(t, first.Result, cached)

	h.update(t, set)
	second := h.out.next(t)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, 1, h.timers.created())
	assert.Len(t, provider.Calls(), 1)
}

func TestSchedulerScenarioDirectTrip(t *testing.T) {
	provider := routing.NewMockProvider()
	set := directSet(41.0, 29.0, 41.1, 29.1)
	key := mustKey(t, set)
	path := []domain.GeoPoint{{Lat: 41.0, Lng: 29.0}, {Lat: 41.05, Lng: 29.05}, {Lat: 41.1, Lng: 29.1}}
	provider.Script(key, routing.MockResponse{
		Routes: []ports.ProviderRoute{routeFor(path, 5000, 600*time.Second)},
	})

	h := newHarness(t, provider)
	h.update(t, set)
	h.timers.fireActive(t)

	o := h.out.next(t)
	require.Equal(t, OutcomeRoute, o.Kind)
	assert.Equal(t, 5.0, o.Result.DistanceKm)
	assert.Equal(t, 10, o.Result.DurationMinutes)
	require.Len(t, o.Result.Path, 3)
	assert.InDelta(t, 41.05, o.Result.Path[1].Lat, 1e-5)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Intermediates)
	assert.Equal(t, domain.GeoPoint{Lat: 41.0, Lng: 29.0}, calls[0].Origin)
	assert.Equal(t, domain.GeoPoint{Lat: 41.1, Lng: 29.1}, calls[0].Destination)
}

func TestSchedulerLastStopIsDestinationWithoutDropoff(t *testing.T) {
	provider := routing.NewMockProvider()
	h := newHarness(t, provider)

	set := domain.WaypointSet{
		Pickup: wp(41.0, 29.0),
		Stops: []domain.Waypoint{
			{Point: domain.GeoPoint{Lat: 41.05, Lng: 29.05}, Label: "coffee"},
			{Point: domain.GeoPoint{Lat: 41.2, Lng: 29.2}, Label: "office"},
		},
	}
	h.update(t, set)
	h.timers.fireActive(t)
	require.Equal(t, OutcomeRoute, h.out.next(t).Kind)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.GeoPoint{Lat: 41.2, Lng: 29.2}, calls[0].Destination)
	assert.Equal(t, []domain.GeoPoint{{Lat: 41.05, Lng: 29.05}}, calls[0].Intermediates)
}

func TestSchedulerFailuresAreNotCached(t *testing.T) {
	tests := []struct {
		name    string
		resp    routing.MockResponse
		wantErr error
	}{
		{name: "provider error", resp: routing.MockResponse{Err: errors.New("connection reset")}},
		{name: "zero routes", resp: routing.MockResponse{Routes: []ports.ProviderRoute{}}, wantErr: ports.ErrNoRoute},
		{
			name:    "malformed polyline",
			resp:    routing.MockResponse{Routes: []ports.ProviderRoute{{EncodedPolyline: "_p~iF~ps|", DistanceMeters: 10}}},
			wantErr: polyline.ErrMalformedPolyline,
		},
		{
			name: "coordinates out of range",
			resp: routing.MockResponse{Routes: []ports.ProviderRoute{
				routeFor([]domain.GeoPoint{{Lat: 41, Lng: 29}, {Lat: 412.5, Lng: -900}}, 1000, time.Minute),
			}},
			wantErr: polyline.ErrMalformedPolyline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := routing.NewMockProvider()
			set := directSet(41.0, 29.0, 41.1, 29.1)
			key := mustKey(t, set)
			provider.Script(key, tt.resp)

			h := newHarness(t, provider)
			h.update(t, set)
			h.timers.fireActive(t)

			o := h.out.next(t)
			assert.Equal(t, OutcomeNoRoute, o.Kind)
			assert.Equal(t, key, o.Key)
			require.Error(t, o.Err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, o.Err, tt.wantErr)
			}

			_, cached := h.cache.Get(key)
			assert.False(t, cached)
			assert.Equal(t, Snapshot{State: StateSettled, Key: key}, h.snapshot(t))

			// The same input after a failure goes through debounce and the
			// provider again.
			h.update(t, set)
			h.timers.fireActive(t)
			h.out.next(t)
			assert.Len(t, provider.Calls(), 2)
		})
	}
}

func TestSchedulerMissingCredentialIsConfigError(t *testing.T) {
	t.Run("readiness check", func(t *testing.T) {
		provider := routing.NewGoogleRoutesProvider(routing.GoogleRoutesConfig{}, nil)
		h := newHarness(t, provider)

		set := directSet(41.0, 29.0, 41.1, 29.1)
		h.update(t, set)
		h.timers.fireActive(t)

		o := h.out.next(t)
		assert.Equal(t, OutcomeConfigError, o.Kind)
		assert.ErrorIs(t, o.Err, ports.ErrMissingCredential)
		assert.Equal(t, StateSettled, h.snapshot(t).State)
	})

	t.Run("wrapped provider error", func(t *testing.T) {
		provider := routing.NewMockProvider()
		set := directSet(41.0, 29.0, 41.1, 29.1)
		provider.Script(mustKey(t, set), routing.MockResponse{
			Err: errors.Join(errors.New("compute routes"), ports.ErrMissingCredential),
		})

		h := newHarness(t, provider)
		h.update(t, set)
		h.timers.fireActive(t)

		o := h.out.next(t)
		assert.Equal(t, OutcomeConfigError, o.Kind)
		_, cached := h.cache.Get(mustKey(t, set))
		assert.False(t, cached)
	})
}

func TestSchedulerUnroutableSetGoesIdle(t *testing.T) {
	provider := routing.NewMockProvider()
	h := newHarness(t, provider)

	h.update(t, directSet(41.0, 29.0, 41.1, 29.1))
	require.Len(t, h.timers.active(), 1)

	h.update(t, domain.WaypointSet{Pickup: wp(41.0, 29.0)})

	o := h.out.next(t)
	assert.Equal(t, OutcomeNoRoute, o.Kind)
	assert.ErrorIs(t, o.Err, ErrNotRoutable)
	assert.Empty(t, o.Key)
	assert.Empty(t, h.timers.active(), "pending debounce must be cancelled")
	assert.Equal(t, Snapshot{State: StateIdle}, h.snapshot(t))

	h.update(t, domain.WaypointSet{Pickup: wp(95, 29.0), Dropoff: wp(41.1, 29.1)})
	o = h.out.next(t)
	assert.Equal(t, OutcomeNoRoute, o.Kind)
	assert.ErrorContains(t, o.Err, "pickup")
	assert.Empty(t, provider.Calls())
}

func TestSchedulerDiscardsStaleResponse(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	provider := newGatedProvider()
	h := newHarness(t, provider, WithLogger(zap.New(core)))

	setA := directSet(41.0, 29.0, 41.1, 29.1)
	setB := directSet(41.0, 29.0, 41.2, 29.2)

	h.update(t, setA)
	h.timers.fireActive(t)
	callA := provider.next(t)

	h.update(t, setB)
	assert.ErrorIs(t, callA.ctx.Err(), context.Canceled, "superseded call must be cancelled")
	h.timers.fireActive(t)
	callB := provider.next(t)

	pathB := []domain.GeoPoint{{Lat: 41.0, Lng: 29.0}, {Lat: 41.2, Lng: 29.2}}
	callB.reply <- gatedReply{routes: []ports.ProviderRoute{routeFor(pathB, 25000, 30*time.Minute)}}
	ob := h.out.next(t)
	require.Equal(t, OutcomeRoute, ob.Kind)
	assert.Equal(t, mustKey(t, setB), ob.Key)

	pathA := []domain.GeoPoint{{Lat: 41.0, Lng: 29.0}, {Lat: 41.1, Lng: 29.1}}
	callA.reply <- gatedReply{routes: []ports.ProviderRoute{routeFor(pathA, 14000, 20*time.Minute)}}

	require.Eventually(t, func() bool {
		return logs.FilterMessage("discarding stale route response").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.out.none(t)
	assert.Equal(t, Snapshot{State: StateSettled, Key: mustKey(t, setB)}, h.snapshot(t))
	_, cachedA := h.cache.Get(mustKey(t, setA))
	assert.False(t, cachedA, "stale responses are not cached")
}

func TestSchedulerKeepsInFlightCallForSameKey(t *testing.T) {
	provider := newGatedProvider()
	h := newHarness(t, provider)
	set := directSet(41.0, 29.0, 41.1, 29.1)

	h.update(t, set)
	h.timers.fireActive(t)
	call := provider.next(t)

	relabeled := set
	relabeled.Pickup = &domain.Waypoint{Point: set.Pickup.Point, Label: "home"}
	h.update(t, relabeled)

	assert.Equal(t, 1, h.timers.created())
	assert.Equal(t, Snapshot{State: StateInFlight, Key: mustKey(t, set)}, h.snapshot(t))
	assert.NoError(t, call.ctx.Err())

	call.reply <- gatedReply{routes: []ports.ProviderRoute{routeFor(nil, 14000, 20*time.Minute)}}
	o := h.out.next(t)
	assert.Equal(t, OutcomeRoute, o.Kind)
	assert.Equal(t, 14.0, o.Result.DistanceKm)
	assert.Empty(t, o.Result.Path)
}

func TestSchedulerCloseCancelsInFlight(t *testing.T) {
	provider := newGatedProvider()
	h := newHarness(t, provider)

	h.update(t, directSet(41.0, 29.0, 41.1, 29.1))
	h.timers.fireActive(t)
	call := provider.next(t)

	h.sched.Close()
	assert.ErrorIs(t, call.ctx.Err(), context.Canceled)
	call.reply <- gatedReply{err: call.ctx.Err()}

	err := h.sched.Update(context.Background(), directSet(41.0, 29.0, 41.2, 29.2))
	assert.ErrorIs(t, err, ErrSchedulerClosed)
	_, err = h.sched.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrSchedulerClosed)
	h.out.none(t)
}

func TestSchedulerWithRealTimer(t *testing.T) {
	provider := routing.NewMockProvider()
	c, err := cache.NewMemoryRouteCache(time.Minute, 0)
	require.NoError(t, err)
	out := newRecorder()

	s := NewScheduler(provider, c, out.emit, WithDebounce(30*time.Millisecond))
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Update(ctx, directSet(41.0, 29.0, 41.1, 29.1)))
	require.NoError(t, s.Update(ctx, directSet(41.0, 29.0, 41.2, 29.2)))
	require.NoError(t, s.Update(ctx, directSet(41.0, 29.0, 41.3, 29.3)))

	o := out.next(t)
	assert.Equal(t, OutcomeRoute, o.Kind)
	assert.Equal(t, mustKey(t, directSet(41.0, 29.0, 41.3, 29.3)), o.Key)
	assert.Len(t, provider.Calls(), 1)
}

func TestStateAndOutcomeKindStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "debouncing", StateDebouncing.String())
	assert.Equal(t, "in_flight", StateInFlight.String())
	assert.Equal(t, "settled", StateSettled.String())
	assert.Equal(t, "route", OutcomeRoute.String())
	assert.Equal(t, "no_route", OutcomeNoRoute.String())
	assert.Equal(t, "config_error", OutcomeConfigError.String())
}
