// Package scheduler runs the periodic refresh heartbeat.
package scheduler

import (
	"context"
	"sync"
	"time"

	"ipwatch/internal/clock"

	"go.uber.org/zap"
)

// RefreshFunc is invoked on every firing
type RefreshFunc func(ctx context.Context)

// GateFunc reports whether the scheduler may fire. A closed gate stops the
// heartbeat until the next Restart.
type GateFunc func() bool

// Scheduler is a self-rescheduling fixed-interval timer
type Scheduler struct {
	interval time.Duration
	refresh  RefreshFunc
	gate     GateFunc
	clock    clock.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	epoch   uint64
	timer   clock.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithGate sets the idle/disabled gate
func WithGate(g GateFunc) Option {
	return func(s *Scheduler) { s.gate = g }
}

// New creates new scheduler
func New(interval time.Duration, refresh RefreshFunc, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		interval: interval,
		refresh:  refresh,
		gate:     func() bool { return true },
		clock:    clock.Real(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start arms the first firing. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.armLocked()
	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
}

// Stop cancels the pending firing; no further firings happen.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.epoch++
	s.stopTimerLocked()
	s.mu.Unlock()

	s.cancel()
	s.logger.Info("Scheduler stopped")
}

// Restart begins a fresh epoch: the pending firing is cancelled, one refresh
// runs right away when immediate is set, and the interval starts from zero.
func (s *Scheduler) Restart(immediate bool) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.epoch++
	epoch := s.epoch
	s.stopTimerLocked()
	s.mu.Unlock()

	s.logger.Debug("Scheduler restarted", zap.Bool("immediate", immediate))
	if immediate && s.gate() {
		s.run()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.epoch == epoch {
		s.armLocked()
	}
}

// Pending reports whether a firing is armed
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) armLocked() {
	if !s.gate() {
		s.logger.Debug("Scheduler gate closed, not arming")
		return
	}
	epoch := s.epoch
	s.timer = s.clock.AfterFunc(s.interval, func() { s.fire(epoch) })
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(epoch uint64) {
	s.mu.Lock()
	if !s.running || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	if !s.gate() {
		s.logger.Debug("Scheduler gate closed, heartbeat paused")
		return
	}

	s.run()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.epoch == epoch {
		s.armLocked()
	}
}

func (s *Scheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in scheduled refresh", zap.Any("panic", r))
		}
	}()
	s.refresh(s.ctx)
}
