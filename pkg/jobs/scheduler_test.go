package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRunnerTicksUntilStopped(t *testing.T) {
	var ticks int64
	runner := NewRunner("test", func(_ context.Context) (int, error) {
		atomic.AddInt64(&ticks, 1)
		return 1, nil
	}, RunnerConfig{Interval: 5 * time.Millisecond, Logger: zap.NewNop()})

	runner.Start(context.Background())
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&ticks) >= 3
	}, time.Second, time.Millisecond)
	runner.Stop()

	after := atomic.LoadInt64(&ticks)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt64(&ticks))
}

func TestRunnerSurvivesTickErrors(t *testing.T) {
	var ticks int64
	runner := NewRunner("test", func(_ context.Context) (int, error) {
		atomic.AddInt64(&ticks, 1)
		return 0, errors.New("transient")
	}, RunnerConfig{Interval: 5 * time.Millisecond, Logger: zap.NewNop()})

	runner.Start(context.Background())
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&ticks) >= 2
	}, time.Second, time.Millisecond)
	runner.Stop()
}

func TestRunnerStartIsIdempotent(t *testing.T) {
	var ticks int64
	runner := NewRunner("test", func(_ context.Context) (int, error) {
		atomic.AddInt64(&ticks, 1)
		return 0, nil
	}, RunnerConfig{Interval: time.Hour, Logger: zap.NewNop()})

	ctx := context.Background()
	runner.Start(ctx)
	runner.Start(ctx)
	runner.Stop()
	runner.Stop()
}
