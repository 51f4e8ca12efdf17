package crawler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// pauseController abstracts the fixed settle delays after navigation and clicks.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// navigationBudget paces page and detail navigations against one site.
type navigationBudget struct {
	limiter *rate.Limiter
}

func newNavigationBudget(qps float64) *navigationBudget {
	if qps <= 0 {
		return &navigationBudget{}
	}
	return &navigationBudget{limiter: rate.NewLimiter(rate.Limit(qps), 1)}
}

func (b *navigationBudget) Wait(ctx context.Context) error {
	if b == nil || b.limiter == nil {
		return nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait navigation budget: %w", err)
	}
	return nil
}
