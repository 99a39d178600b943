package sweeper

import (
	"context"
	"errors"
	"time"

	"electrum-sweeper/internal/infra/log"

	"go.uber.org/zap"
)

// Scheduler calls Step, waits Delay, and repeats. There is no jitter and no
// backoff; the only ways out are ctx, MaxCycles and a Step error.
type Scheduler struct {
	Delay     time.Duration
	MaxCycles int // 0 runs forever
	Step      func(ctx context.Context) error
}

// Run returns nil when ctx is cancelled or MaxCycles is reached, otherwise the
// first Step error.
func (sc *Scheduler) Run(ctx context.Context) error {
	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return nil
		}

		if err := sc.Step(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}

		if sc.MaxCycles > 0 && cycle >= sc.MaxCycles {
			log.LogInfo("Reached max cycles, stopping", zap.Int("cycles", cycle))
			return nil
		}

		if err := sleep(ctx, sc.Delay); err != nil {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
