// Package netevent turns bursty network and presence transitions into a single
// delayed refresh and a notification suppression window.
package netevent

import (
	"context"
	"sync"
	"time"

	"ipwatch/internal/clock"
	"ipwatch/internal/metrics"
	"ipwatch/internal/refresh"
	"ipwatch/internal/signal"
	"ipwatch/internal/types"

	"go.uber.org/zap"
)

const (
	DefaultDebounceDelay    = 4 * time.Second
	DefaultSuppressDuration = 15000 * time.Millisecond
)

// Config represents debouncer configuration
type Config struct {
	DebounceDelay    time.Duration `mapstructure:"debounce_delay" validate:"gte=0"`
	SuppressDuration time.Duration `mapstructure:"suppress_duration" validate:"gte=0"`
}

// Refresher is the orchestrator surface used by the debouncer
type Refresher interface {
	Refresh(ctx context.Context) refresh.Outcome
	Suppress(d time.Duration)
}

// Restarter restarts the periodic heartbeat
type Restarter interface {
	Restart(immediate bool)
}

// Debouncer coalesces network events into one refresh
type Debouncer struct {
	config    Config
	refresher Refresher
	scheduler Restarter
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu    sync.Mutex
	st    state
	timer clock.Timer
	seq   uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Debouncer
type Option func(*Debouncer)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(d *Debouncer) { d.clock = c }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Debouncer) { d.metrics = m }
}

// New creates new debouncer
func New(cfg Config, refresher Refresher, scheduler Restarter, logger *zap.Logger, opts ...Option) *Debouncer {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Debouncer{
		config:    cfg,
		refresher: refresher,
		scheduler: scheduler,
		clock:     clock.Real(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Bind subscribes the debouncer to the presence and network buses. The
// returned function removes both subscriptions.
func (d *Debouncer) Bind(presence *signal.Bus[types.PresenceStatus], network *signal.Bus[types.NetworkEvent]) func() {
	cancelPresence := presence.Subscribe(d.OnPresence)
	cancelNetwork := network.Subscribe(d.OnNetwork)
	return func() {
		cancelPresence()
		cancelNetwork()
	}
}

// OnPresence handles a presence transition
func (d *Debouncer) OnPresence(status types.PresenceStatus) {
	kind := presenceActive
	if status == types.PresenceIdle {
		kind = presenceIdle
	}
	d.handle(event{kind: kind, at: d.clock.Now()})
}

// OnNetwork handles a reachability transition
func (d *Debouncer) OnNetwork(ev types.NetworkEvent) {
	kind := networkDown
	if ev.Available {
		kind = networkUp
	}
	d.logger.Debug("Network changed", zap.Bool("available", ev.Available), zap.String("source", ev.Source))
	d.handle(event{kind: kind, at: d.clock.Now()})
}

// Idle reports whether the session is idle
func (d *Debouncer) Idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.idle
}

// Pending reports whether a debounced refresh is scheduled
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.pending
}

// Stop cancels any pending refresh
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.cancelTimerLocked()
	d.st.pending = false
	d.mu.Unlock()
	d.cancel()
}

func (d *Debouncer) handle(ev event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic in network event handler",
				zap.Stringer("event", ev.kind), zap.Any("panic", r))
		}
	}()

	d.metrics.RecordNetworkEvent(ev.kind.String())

	d.mu.Lock()
	next, effs := step(d.config, d.st, ev)
	d.st = next

	restart := false
	for _, eff := range effs {
		switch eff.kind {
		case cancelPending:
			d.cancelTimerLocked()
		case openSuppression:
			d.refresher.Suppress(eff.delay)
		case scheduleRefresh:
			d.scheduleLocked(eff.delay)
		case restartEpoch:
			restart = true
		}
	}
	d.mu.Unlock()

	if restart {
		d.logger.Info("Session resumed, restarting heartbeat")
		d.scheduler.Restart(true)
	}
}

func (d *Debouncer) scheduleLocked(delay time.Duration) {
	d.seq++
	seq := d.seq
	d.timer = d.clock.AfterFunc(delay, func() { d.fire(seq) })
	d.logger.Debug("Debounced refresh scheduled", zap.Duration("delay", delay))
}

func (d *Debouncer) cancelTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq || !d.st.pending {
		d.mu.Unlock()
		return
	}
	d.st.pending = false
	d.timer = nil
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic in debounced refresh", zap.Any("panic", r))
		}
	}()
	outcome := d.refresher.Refresh(d.ctx)
	d.logger.Debug("Debounced refresh finished", zap.Stringer("outcome", outcome))
}
