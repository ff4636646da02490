// Package netwatch polls the host's interfaces and publishes reachability
// transitions on the network bus.
package netwatch

import (
	"sync"
	"time"

	"ipwatch/internal/clock"
	"ipwatch/internal/signal"
	"ipwatch/internal/types"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Second

	eventSource = "netwatch"
)

// Config represents interface monitoring configuration
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	IncludeVirtual bool          `mapstructure:"include_virtual"`
}

// Watcher publishes a NetworkEvent whenever availability flips, and an
// available event when the set of global addresses changes
type Watcher struct {
	config  Config
	bus     *signal.Bus[types.NetworkEvent]
	lister  Lister
	clock   clock.Clock
	logger  *zap.Logger

	mu          sync.Mutex
	running     bool
	timer       clock.Timer
	initialized bool
	available   bool
	fp          string
	current     []types.InterfaceInfo
}

// Option configures a Watcher
type Option func(*Watcher)

// WithLister replaces the interface enumeration
func WithLister(l Lister) Option {
	return func(w *Watcher) { w.lister = l }
}

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// New creates new interface watcher
func New(cfg Config, bus *signal.Bus[types.NetworkEvent], logger *zap.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	w := &Watcher{
		config: cfg,
		bus:    bus,
		lister: SystemInterfaces,
		clock:  clock.Real(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start takes the baseline snapshot and begins polling. The baseline itself
// is not published.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.Poll()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.armLocked()
	w.logger.Info("Network watcher started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Bool("available", w.available))
}

// Stop cancels polling
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Available reports the last observed availability
func (w *Watcher) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

// Interfaces returns the usable interfaces seen by the last poll
func (w *Watcher) Interfaces() []types.InterfaceInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.InterfaceInfo, len(w.current))
	copy(out, w.current)
	return out
}

// Poll inspects the interfaces once and publishes a transition if one occurred
func (w *Watcher) Poll() {
	ifaces, err := w.lister()
	if err != nil {
		w.logger.Warn("Failed to list network interfaces", zap.Error(err))
		return
	}
	infos := snapshot(ifaces, w.config.IncludeVirtual)
	available := len(infos) > 0
	fp := fingerprint(infos)

	w.mu.Lock()
	first := !w.initialized
	changed := available != w.available || (available && fp != w.fp)
	w.initialized = true
	w.available = available
	w.fp = fp
	w.current = infos
	w.mu.Unlock()

	if first || !changed {
		return
	}

	w.logger.Info("Network changed",
		zap.Bool("available", available),
		zap.Int("interfaces", len(infos)))
	w.bus.Publish(types.NetworkEvent{
		Available: available,
		Source:    eventSource,
		At:        w.clock.Now(),
	})
}

func (w *Watcher) armLocked() {
	if !w.running {
		return
	}
	w.timer = w.clock.AfterFunc(w.config.PollInterval, w.tick)
}

func (w *Watcher) tick() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic in network poll", zap.Any("panic", r))
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		w.armLocked()
	}()

	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if running {
		w.Poll()
	}
}
