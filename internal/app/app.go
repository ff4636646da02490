// Package app wires the refresh engine, its host signals and its outer
// surfaces into one runnable agent.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ipwatch/internal/assets"
	"ipwatch/internal/clock"
	"ipwatch/internal/config"
	"ipwatch/internal/httpclient"
	ipwlog "ipwatch/internal/logger"
	"ipwatch/internal/metrics"
	"ipwatch/internal/netevent"
	"ipwatch/internal/netwatch"
	"ipwatch/internal/notify"
	"ipwatch/internal/provider"
	"ipwatch/internal/refresh"
	"ipwatch/internal/scheduler"
	"ipwatch/internal/signal"
	"ipwatch/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Status is the last displayed address, as a status indicator would show it
type Status struct {
	IP          string    `json:"ip"`
	CountryCode string    `json:"country_code,omitempty"`
	ISP         string    `json:"isp,omitempty"`
	FlagPath    string    `json:"flag_path"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event types streamed to subscribers
const (
	EventDisplay = "display"
	EventChange  = "change"
)

// Event is pushed to subscribers when the display or the address changes
type Event struct {
	Type   string          `json:"type"`
	Status *Status         `json:"status,omitempty"`
	Change *types.IPChange `json:"change,omitempty"`
}

// App owns every component of the agent
type App struct {
	config   *config.Config
	logger   *zap.Logger
	clock    clock.Clock
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	fetcher      httpclient.Fetcher
	client       *httpclient.Client
	geoip        *provider.GeoIP
	provider     *provider.Provider
	assets       *assets.Cache
	orchestrator *refresh.Orchestrator
	scheduler    *scheduler.Scheduler
	debouncer    *netevent.Debouncer
	watcher      *netwatch.Watcher
	notify       *notify.Manager

	presence *signal.Bus[types.PresenceStatus]
	network  *signal.Bus[types.NetworkEvent]
	events   *signal.Bus[Event]

	lister     netwatch.Lister
	notifyOpts []notify.Option

	mu      sync.RWMutex
	status  Status
	unbind  func()
	started bool
	stopped bool
}

// Option configures an App
type Option func(*App)

// WithFetcher replaces the upstream HTTP client
func WithFetcher(f httpclient.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithClock replaces the wall clock for every timer-driven component
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithRegistry sets the Prometheus registry collectors are registered on
func WithRegistry(r *prometheus.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithInterfaceLister replaces interface enumeration for the network watcher
func WithInterfaceLister(l netwatch.Lister) Option {
	return func(a *App) { a.lister = l }
}

// WithNotifyOptions passes options to the notification manager
func WithNotifyOptions(opts ...notify.Option) Option {
	return func(a *App) { a.notifyOpts = append(a.notifyOpts, opts...) }
}

// New builds the agent from cfg. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		config:   cfg,
		logger:   logger,
		clock:    clock.Real(),
		presence: signal.NewBus[types.PresenceStatus](),
		network:  signal.NewBus[types.NetworkEvent](),
		events:   signal.NewBus[Event](),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	a.metrics = metrics.New(a.registry)

	if a.fetcher == nil {
		a.client = httpclient.New(cfg.Provider.ClientConfig(), ipwlog.Component(logger, "http"))
		a.fetcher = a.client
	}

	var providerOpts []provider.Option
	providerOpts = append(providerOpts, provider.WithMetrics(a.metrics))
	if cfg.Provider.MMDBCityPath != "" {
		geoip, err := provider.OpenGeoIP(cfg.Provider.MMDBCityPath, cfg.Provider.MMDBASNPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open geoip database: %w", err)
		}
		a.geoip = geoip
		providerOpts = append(providerOpts, provider.WithFallback(geoip))
	}
	a.provider = provider.New(cfg.Provider, a.fetcher, ipwlog.Component(logger, "provider"), providerOpts...)

	a.assets = assets.New(cfg.Assets, a.fetcher, ipwlog.Component(logger, "assets"), assets.WithMetrics(a.metrics))

	a.notify = notify.NewManager(cfg.Notify, ipwlog.Component(logger, "notify"),
		append([]notify.Option{notify.WithMetrics(a.metrics)}, a.notifyOpts...)...)

	a.orchestrator = refresh.New(cfg.Refresh, a.provider, ipwlog.Component(logger, "refresh"),
		refresh.WithClock(a.clock),
		refresh.WithMetrics(a.metrics),
		refresh.WithDisplay(a.display),
		refresh.WithNotify(a.notify.Notify),
		refresh.WithChange(a.changed),
	)
	a.assets.OnUpdate(a.assetUpdated)

	a.scheduler = scheduler.New(cfg.Refresh.Interval, a.scheduledRefresh, ipwlog.Component(logger, "scheduler"),
		scheduler.WithClock(a.clock),
		scheduler.WithGate(a.gate),
	)

	a.debouncer = netevent.New(cfg.NetEvent, a.orchestrator, a.scheduler, ipwlog.Component(logger, "netevent"),
		netevent.WithClock(a.clock),
		netevent.WithMetrics(a.metrics),
	)

	if cfg.NetWatch.Enabled {
		watchOpts := []netwatch.Option{netwatch.WithClock(a.clock)}
		if a.lister != nil {
			watchOpts = append(watchOpts, netwatch.WithLister(a.lister))
		}
		a.watcher = netwatch.New(cfg.NetWatch, a.network, ipwlog.Component(logger, "netwatch"), watchOpts...)
	}

	return a, nil
}

// Start binds the host signals, starts the heartbeat and runs the first
// refresh in the background
func (a *App) Start() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return fmt.Errorf("app already stopped")
	}
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.unbind = a.debouncer.Bind(a.presence, a.network)
	a.mu.Unlock()

	a.scheduler.Start()
	if a.watcher != nil {
		a.watcher.Start()
	}

	go a.scheduler.Restart(true)

	a.logger.Info("ipwatch started",
		zap.Duration("interval", a.config.Refresh.Interval),
		zap.Strings("channels", a.notify.Channels()))
	return nil
}

// Stop tears components down in reverse order and clears the current state.
// A stopped App cannot be started again.
func (a *App) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.stopped = true
	unbind := a.unbind
	a.unbind = nil
	a.mu.Unlock()

	if unbind != nil {
		unbind()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.debouncer.Stop()
	a.scheduler.Stop()
	a.orchestrator.Disable()

	a.assets.Close()
	err := a.notify.Stop()
	if a.geoip != nil {
		if cerr := a.geoip.Close(); cerr != nil {
			a.logger.Warn("Failed to close geoip database", zap.Error(cerr))
		}
	}
	if a.client != nil {
		a.client.CloseIdleConnections()
	}

	a.mu.Lock()
	a.status = Status{}
	a.mu.Unlock()

	a.logger.Info("ipwatch stopped")
	return err
}

// Refresh runs one refresh cycle on demand
func (a *App) Refresh(ctx context.Context) refresh.Outcome {
	return a.orchestrator.Refresh(ctx)
}

// Enable accepts refresh cycles again and, once started, restarts the
// heartbeat with an immediate refresh
func (a *App) Enable() {
	a.orchestrator.Enable()

	a.mu.RLock()
	started := a.started
	a.mu.RUnlock()
	if started {
		go a.scheduler.Restart(true)
	}
}

// Disable refuses refresh cycles and clears the displayed status. The
// heartbeat stops re-arming until Enable.
func (a *App) Disable() {
	a.orchestrator.Disable()

	a.mu.Lock()
	a.status = Status{}
	a.mu.Unlock()
}

// SetPresence reports the session presence
func (a *App) SetPresence(status types.PresenceStatus) {
	a.presence.Publish(status)
}

// SetNetwork reports a network reachability transition
func (a *App) SetNetwork(available bool, source string) {
	a.network.Publish(types.NetworkEvent{Available: available, Source: source, At: a.clock.Now()})
}

// State returns a copy of the current state
func (a *App) State() types.State {
	return a.orchestrator.State()
}

// Status returns the last displayed address
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Idle reports whether the session is idle
func (a *App) Idle() bool {
	return a.debouncer.Idle()
}

// Subscribe registers fn for display and change events and returns a
// function that removes it
func (a *App) Subscribe(fn func(Event)) func() {
	return a.events.Subscribe(fn)
}

// Registry returns the Prometheus registry
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Interfaces returns the usable interfaces seen by the network watcher
func (a *App) Interfaces() []types.InterfaceInfo {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Interfaces()
}

func (a *App) scheduledRefresh(ctx context.Context) {
	outcome := a.orchestrator.Refresh(ctx)
	a.logger.Debug("Scheduled refresh finished", zap.Stringer("outcome", outcome))
}

func (a *App) gate() bool {
	return !a.debouncer.Idle() && !a.orchestrator.Disabled()
}

// display stores the status view and warms the flag cache
func (a *App) display(ip string, countryCode, isp *string) {
	flag := a.assets.FlagPath(types.Deref(countryCode))

	status := Status{
		IP:          ip,
		CountryCode: types.Deref(countryCode),
		ISP:         types.Deref(isp),
		FlagPath:    flag,
		UpdatedAt:   a.clock.Now(),
	}
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()

	a.events.Publish(Event{Type: EventDisplay, Status: &status})

	a.logger.Info("Display updated",
		zap.String("ip", ip),
		zap.String("country_code", types.Deref(countryCode)),
		zap.String("flag", flag))
}

// changed forwards every detected change to the event sinks and subscribers
func (a *App) changed(change types.IPChange) {
	a.notify.Publish(change)
	a.events.Publish(Event{Type: EventChange, Change: &change})
}

func (a *App) assetUpdated(kind, key, path string) {
	if kind != assets.KindFlag {
		return
	}
	a.logger.Debug("Flag downloaded", zap.String("country_code", key), zap.String("path", path))
	a.orchestrator.Redisplay()
}
