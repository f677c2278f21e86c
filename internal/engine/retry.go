package engine

import (
	"context"
	"fmt"
	"time"

	"overunder/internal/domain"
	"overunder/internal/ledger"
	"overunder/internal/observability"
)

// retry runs fn until it succeeds, fails with a non-transient error or
// MaxAttempts is reached. Every attempt starts from the top, so fn must
// re-validate its preconditions. Backoff doubles up to MaxBackoff.
func (e *Engine) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := e.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			observability.RecordRetry(op)
			e.logger.Printf("%s: attempt %d/%d after %v: %v", op, attempt, e.cfg.MaxAttempts, delay, lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: %w (last error: %v)", op, err, lastErr)
			}
			delay *= 2
			if delay > e.cfg.MaxBackoff {
				delay = e.cfg.MaxBackoff
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !ledger.IsTransient(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w: %s: %w", domain.ErrRetriesExhausted, op, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
