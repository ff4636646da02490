package netevent

import (
	"context"
	"sync"
	"testing"
	"time"

	"ipwatch/internal/clock"
	"ipwatch/internal/refresh"
	"ipwatch/internal/scheduler"
	"ipwatch/internal/signal"
	"ipwatch/internal/types"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type fakeRefresher struct {
	mu         sync.Mutex
	refreshes  int
	suppressed []time.Duration
	panicking  bool
}

func (f *fakeRefresher) Refresh(context.Context) refresh.Outcome {
	f.mu.Lock()
	f.refreshes++
	p := f.panicking
	f.mu.Unlock()
	if p {
		panic("refresh exploded")
	}
	return refresh.Applied
}

func (f *fakeRefresher) Suppress(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suppressed = append(f.suppressed, d)
}

type fakeRestarter struct {
	restarts []bool
}

func (f *fakeRestarter) Restart(immediate bool) {
	f.restarts = append(f.restarts, immediate)
}

func newTestDebouncer(t *testing.T) (*Debouncer, *fakeRefresher, *fakeRestarter, *clock.Fake) {
	clk := clock.NewFake(time.Unix(0, 0))
	r := &fakeRefresher{}
	s := &fakeRestarter{}
	d := New(Config{DebounceDelay: DefaultDebounceDelay, SuppressDuration: DefaultSuppressDuration},
		r, s, zaptest.NewLogger(t), WithClock(clk))
	t.Cleanup(d.Stop)
	return d, r, s, clk
}

func up() types.NetworkEvent   { return types.NetworkEvent{Available: true, Source: "test"} }
func down() types.NetworkEvent { return types.NetworkEvent{Available: false, Source: "test"} }

func TestDebounceCoalescesBurst(t *testing.T) {
	d, r, _, clk := newTestDebouncer(t)

	for i := 0; i < 10; i++ {
		d.OnNetwork(up())
		clk.Advance(300 * time.Millisecond)
	}
	assert.Zero(t, r.refreshes)
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(DefaultDebounceDelay)
	assert.Equal(t, 1, r.refreshes)
	assert.Len(t, r.suppressed, 10)
	assert.Equal(t, DefaultSuppressDuration, r.suppressed[9])
	assert.False(t, d.Pending())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, r.refreshes)
}

func TestNetworkDownCancelsPending(t *testing.T) {
	d, r, _, clk := newTestDebouncer(t)

	d.OnNetwork(up())
	clk.Advance(time.Second)
	d.OnNetwork(down())
	assert.False(t, d.Pending())

	clk.Advance(time.Minute)
	assert.Zero(t, r.refreshes)
	assert.Zero(t, clk.Pending())
}

func TestIdleSuspendsNetworkEvents(t *testing.T) {
	d, r, s, clk := newTestDebouncer(t)

	d.OnNetwork(up())
	d.OnPresence(types.PresenceIdle)
	assert.True(t, d.Idle())

	d.OnNetwork(up())
	clk.Advance(time.Minute)
	assert.Zero(t, r.refreshes)
	assert.Len(t, r.suppressed, 1)

	d.OnPresence(types.PresenceActive)
	assert.False(t, d.Idle())
	assert.Equal(t, []bool{true}, s.restarts)

	// a second active signal is not a wake
	d.OnPresence(types.PresenceActive)
	assert.Len(t, s.restarts, 1)
}

// blockingSource holds every FetchAll until release is closed
type blockingSource struct {
	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
	started   chan struct{}
	release   chan struct{}
}

func (b *blockingSource) FetchAll(context.Context, time.Duration) types.LookupResult {
	b.mu.Lock()
	b.calls++
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()

	b.started <- struct{}{}
	<-b.release

	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return types.LookupResult{
		IP:  "203.0.113.7",
		Geo: &types.GeoRecord{IPAddress: "203.0.113.7", CountryCode: types.StringPtr("GB")},
	}
}

func TestWakeDuringInFlightRefresh(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	logger := zaptest.NewLogger(t)
	src := &blockingSource{started: make(chan struct{}, 4), release: make(chan struct{})}
	o := refresh.New(refresh.Config{
		Interval:     refresh.DefaultInterval,
		MinInterval:  refresh.DefaultMinInterval,
		FetchTimeout: time.Second,
	}, src, logger, refresh.WithClock(clk))

	var (
		mu       sync.Mutex
		outcomes []refresh.Outcome
	)
	sched := scheduler.New(refresh.DefaultInterval, func(ctx context.Context) {
		outcome := o.Refresh(ctx)
		mu.Lock()
		outcomes = append(outcomes, outcome)
		mu.Unlock()
	}, logger, scheduler.WithClock(clk))
	sched.Start()
	t.Cleanup(sched.Stop)

	d := New(Config{DebounceDelay: DefaultDebounceDelay, SuppressDuration: DefaultSuppressDuration},
		o, sched, logger, WithClock(clk))
	t.Cleanup(d.Stop)

	first := make(chan refresh.Outcome, 1)
	go func() { first <- o.Refresh(context.Background()) }()
	<-src.started

	d.OnPresence(types.PresenceIdle)
	clk.Advance(10 * time.Second)
	d.OnPresence(types.PresenceActive)

	mu.Lock()
	assert.Equal(t, []refresh.Outcome{refresh.SkippedInFlight}, outcomes)
	mu.Unlock()
	assert.True(t, o.InFlight())

	close(src.release)
	assert.Equal(t, refresh.Applied, <-first)
	assert.Equal(t, "203.0.113.7", o.State().CurrentIP)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, src.maxActive)
}

func TestHandlerRecoversPanic(t *testing.T) {
	d, r, _, clk := newTestDebouncer(t)
	r.panicking = true

	d.OnNetwork(up())
	assert.NotPanics(t, func() { clk.Advance(DefaultDebounceDelay) })
	assert.Equal(t, 1, r.refreshes)

	r.panicking = false
	d.OnNetwork(up())
	clk.Advance(DefaultDebounceDelay)
	assert.Equal(t, 2, r.refreshes)
}

func TestBind(t *testing.T) {
	d, r, _, clk := newTestDebouncer(t)
	presence := signal.NewBus[types.PresenceStatus]()
	network := signal.NewBus[types.NetworkEvent]()

	unbind := d.Bind(presence, network)
	network.Publish(up())
	clk.Advance(DefaultDebounceDelay)
	assert.Equal(t, 1, r.refreshes)

	unbind()
	assert.Zero(t, presence.Len())
	assert.Zero(t, network.Len())

	network.Publish(up())
	clk.Advance(DefaultDebounceDelay)
	assert.Equal(t, 1, r.refreshes)
}
