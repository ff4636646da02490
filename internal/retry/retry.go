package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Func defines the function signature for a retryable operation.
type Func func(ctx context.Context) error

// Execute performs op with staged retries: fast attempts first, then minute
// and hourly attempts, then one final attempt bounded by FinalRetryTimeout.
func Execute(ctx context.Context, cfg *Config, logger *zap.Logger, op Func) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	// If no retry configuration is provided, just execute the operation
	if cfg == nil || !cfg.Enable {
		return op(ctx)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry configuration: %w", err)
	}

	var lastErr error
	attemptRetry := func(attempts int, interval time.Duration) error {
		for i := 1; i <= attempts; i++ {
			err := op(ctx)
			if err == nil {
				return nil
			}
			lastErr = err
			logger.Debug("Retry attempt failed",
				zap.Int("attempt", i),
				zap.Int("attempts", attempts),
				zap.Duration("wait", interval),
				zap.Error(err))

			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		return fmt.Errorf("exhausted %d attempts", attempts)
	}

	retryStages := []struct {
		attempts int
		interval time.Duration
	}{
		{cfg.InitialAttempts, cfg.InitialInterval},
		{cfg.MinuteAttempts, cfg.MinuteInterval},
		{cfg.HourlyAttempts, cfg.HourlyInterval},
	}

	for _, stage := range retryStages {
		err := attemptRetry(stage.attempts, stage.interval)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled: %w (last error: %v)", ctx.Err(), lastErr)
		}
	}

	if cfg.FinalRetryTimeout <= 0 {
		return fmt.Errorf("operation failed after all retries: %w", lastErr)
	}

	// Final retry with timeout
	finalCtx, cancel := context.WithTimeout(ctx, cfg.FinalRetryTimeout)
	defer cancel()
	if err := op(finalCtx); err == nil {
		return nil
	}
	return fmt.Errorf("operation failed after all retries: %w", lastErr)
}
