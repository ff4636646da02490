// Package refresh owns the current external address state and decides when a
// lookup may run and whether its result is still current.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ipwatch/internal/clock"
	"ipwatch/internal/metrics"
	"ipwatch/internal/types"

	"go.uber.org/zap"
)

const (
	DefaultInterval     = 600 * time.Second
	DefaultMinInterval  = 4 * time.Second
	DefaultFetchTimeout = 6 * time.Second

	NotifyTitle = "External IP Address"
)

// Config represents refresh configuration
type Config struct {
	Interval     time.Duration `mapstructure:"interval" validate:"gt=0"`
	MinInterval  time.Duration `mapstructure:"min_interval" validate:"gte=0"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
	Disabled     bool          `mapstructure:"disabled"`
}

// Source produces one lookup result per call
type Source interface {
	FetchAll(ctx context.Context, timeout time.Duration) types.LookupResult
}

// DisplayFunc receives the applied address with its country code and ISP
type DisplayFunc func(ip string, countryCode, isp *string)

// NotifyFunc shows a user-visible notification
type NotifyFunc func(title, message string)

// ChangeFunc observes every detected address change, suppressed or not
type ChangeFunc func(change types.IPChange)

// Orchestrator is the single owner of the current state
type Orchestrator struct {
	config  Config
	source  Source
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger

	display  DisplayFunc
	notify   NotifyFunc
	onChange ChangeFunc

	mu          sync.Mutex
	state       types.State
	inFlight    bool
	inFlightGen uint64
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithDisplay registers the display callback
func WithDisplay(fn DisplayFunc) Option {
	return func(o *Orchestrator) { o.display = fn }
}

// WithNotify registers the notification callback
func WithNotify(fn NotifyFunc) Option {
	return func(o *Orchestrator) { o.notify = fn }
}

// WithChange registers the address change observer
func WithChange(fn ChangeFunc) Option {
	return func(o *Orchestrator) { o.onChange = fn }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates new orchestrator
func New(cfg Config, source Source, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	o := &Orchestrator{
		config: cfg,
		source: source,
		clock:  clock.Real(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state.Disabled = cfg.Disabled
	return o
}

// Refresh runs one refresh cycle if the guards allow it. It never panics and
// never returns an error; the outcome describes what happened.
func (o *Orchestrator) Refresh(ctx context.Context) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic in refresh cycle", zap.Any("panic", r))
			outcome = Failed
		}
		o.metrics.RecordRefresh(outcome.String())
	}()

	gen, skipped, ok := o.begin()
	if !ok {
		return skipped
	}
	defer o.release(gen)

	o.logger.Debug("Refresh started", zap.Uint64("generation", gen))
	result := o.source.FetchAll(ctx, o.config.FetchTimeout)

	outcome, effects := o.complete(gen, result)
	effects.run(o)
	return outcome
}

// begin evaluates the entry guards and, when they pass, issues a new generation
func (o *Orchestrator) begin() (uint64, Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Disabled {
		o.logger.Debug("Refresh skipped: disabled")
		return 0, SkippedDisabled, false
	}

	now := o.clock.Now()
	// Stamped before the fetch; a slow cycle keeps later triggers throttled
	// until min_interval has passed since it started.
	if !o.state.LastCheckAt.IsZero() && now.Sub(o.state.LastCheckAt) <= o.config.MinInterval {
		o.logger.Debug("Refresh skipped: throttled",
			zap.Duration("since_last", now.Sub(o.state.LastCheckAt)))
		return 0, SkippedThrottled, false
	}
	if o.inFlight {
		o.logger.Debug("Refresh skipped: another refresh in flight",
			zap.Uint64("generation", o.inFlightGen))
		return 0, SkippedInFlight, false
	}

	o.state.Generation++
	o.state.LastCheckAt = now
	o.inFlight = true
	o.inFlightGen = o.state.Generation
	o.metrics.RecordGeneration(o.state.Generation)

	return o.state.Generation, 0, true
}

func (o *Orchestrator) release(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight && o.inFlightGen == gen {
		o.inFlight = false
	}
}

// effects are callbacks computed under the lock and run after it is released
type effects struct {
	display *displayCall
	notify  string
	change  *types.IPChange
}

type displayCall struct {
	ip          string
	countryCode *string
	isp         *string
}

func (o *Orchestrator) complete(gen uint64, result types.LookupResult) (Outcome, effects) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Disabled || o.state.Generation != gen {
		o.logger.Debug("Refresh result discarded",
			zap.Uint64("generation", gen),
			zap.Uint64("latest", o.state.Generation),
			zap.Bool("disabled", o.state.Disabled))
		return Superseded, effects{}
	}

	if !result.Usable() {
		o.logger.Warn("Refresh returned no usable result",
			zap.String("ip", result.IP),
			zap.Bool("has_geo", result.Geo != nil))
		return Failed, effects{}
	}

	now := o.clock.Now()
	prev := o.state.CurrentIP

	var eff effects
	if prev != "" && prev != result.IP {
		suppressed := now.Before(o.state.SuppressUntil)
		eff.change = &types.IPChange{
			OldIP:       prev,
			NewIP:       result.IP,
			CountryCode: result.Geo.Country(),
			ISP:         types.Deref(result.Geo.ISP),
			Suppressed:  suppressed,
			Generation:  gen,
			Timestamp:   now,
		}
		if suppressed {
			o.metrics.RecordSuppressed()
			o.logger.Info("IP changed but notifications suppressed",
				zap.String("old_ip", prev),
				zap.String("new_ip", result.IP),
				zap.Duration("remaining", o.state.SuppressUntil.Sub(now)))
		} else {
			eff.notify = fmt.Sprintf("Has been changed to %s", result.IP)
			o.logger.Info("IP changed",
				zap.String("old_ip", prev),
				zap.String("new_ip", result.IP))
		}
		o.metrics.RecordIPChange()
	}

	o.state.CurrentIP = result.IP
	o.state.Location = result.Geo
	o.state.LastLookup = result

	eff.display = &displayCall{
		ip:          result.IP,
		countryCode: result.Geo.CountryCode,
		isp:         result.Geo.ISP,
	}
	return Applied, eff
}

func (e effects) run(o *Orchestrator) {
	if e.change != nil && o.onChange != nil {
		o.safeCall("change", func() { o.onChange(*e.change) })
	}
	if e.notify != "" && o.notify != nil {
		o.safeCall("notify", func() { o.notify(NotifyTitle, e.notify) })
	}
	if e.display != nil && o.display != nil {
		o.safeCall("display", func() { o.display(e.display.ip, e.display.countryCode, e.display.isp) })
	}
}

func (o *Orchestrator) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic in callback", zap.String("callback", name), zap.Any("panic", r))
		}
	}()
	fn()
}

// Redisplay re-invokes the display callback with the current state, if any
func (o *Orchestrator) Redisplay() {
	o.mu.Lock()
	if o.state.Disabled || o.state.CurrentIP == "" || o.state.Location == nil {
		o.mu.Unlock()
		return
	}
	call := &displayCall{
		ip:          o.state.CurrentIP,
		countryCode: o.state.Location.CountryCode,
		isp:         o.state.Location.ISP,
	}
	o.mu.Unlock()

	effects{display: call}.run(o)
}

// Suppress swallows change notifications for d from now
func (o *Orchestrator) Suppress(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	until := o.clock.Now().Add(d)
	o.state.SuppressUntil = until
	o.logger.Debug("Notifications suppressed", zap.Time("until", until))
}

// Disable stops accepting cycles, supersedes any cycle in flight and clears
// the state. The in-flight slot stays held until that cycle returns.
func (o *Orchestrator) Disable() {
	o.mu.Lock()
	defer o.mu.Unlock()

	gen := o.state.Generation + 1
	o.state = types.State{Disabled: true, Generation: gen}
	o.metrics.RecordGeneration(gen)
	o.logger.Info("Refresh disabled")
}

// Enable accepts cycles again
func (o *Orchestrator) Enable() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Disabled {
		o.state.Disabled = false
		o.logger.Info("Refresh enabled")
	}
}

// Disabled reports whether cycles are refused
func (o *Orchestrator) Disabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Disabled
}

// InFlight reports whether a cycle is running
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// State returns a copy of the current state
func (o *Orchestrator) State() types.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}
