package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickFunc performs one scheduled pass and reports how many items it
// handled so the runner can log drain progress.
type TickFunc func(context.Context) (int, error)

// RunnerConfig configures periodic runner behaviour.
type RunnerConfig struct {
	Interval time.Duration
	Logger   *zap.Logger
}

// Runner invokes a tick function on a fixed interval until stopped.
// There is exactly one goroutine per runner; overlapping ticks cannot
// happen inside one process, which keeps the drain effectively
// serialized from this scheduler's point of view.
type Runner struct {
	name     string
	tick     TickFunc
	interval time.Duration
	logger   *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewRunner builds a runner for the provided tick function.
func NewRunner(name string, tick TickFunc, cfg RunnerConfig) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{
		name:     name,
		tick:     tick,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}
}

// Start begins periodic execution. Safe to call once.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop()
	r.started = true
	r.logger.Sugar().Infow("runner started", "runner", r.name, "interval", r.interval)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
	r.logger.Sugar().Infow("runner stopped", "runner", r.name)
}

func (r *Runner) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			handled, err := r.tick(r.ctx)
			if err != nil {
				r.logger.Sugar().Errorw("runner tick failed", "runner", r.name, "error", err)
				continue
			}
			if handled > 0 {
				r.logger.Sugar().Infow("runner tick completed",
					"runner", r.name, "handled", handled, "elapsed", time.Since(start))
			}
		}
	}
}
