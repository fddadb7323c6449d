package autoscale

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Run_ProcessesAllTasksThenFinishes(t *testing.T) {
	const total = 20
	var remaining atomic.Int64
	remaining.Store(total)
	var handled atomic.Int64

	cfg := Config{
		MinConcurrency:     1,
		MaxConcurrency:     5,
		DesiredConcurrency: 3,
		MaybeRunInterval:   5 * time.Millisecond,
		AdjustInterval:     20 * time.Millisecond,
		LoggingInterval:    time.Hour,
	}

	runTask := func(ctx context.Context) error {
		handled.Add(1)
		return nil
	}
	isReady := func() bool { return remaining.Add(-1) >= 0 }
	isFinished := func() bool { return remaining.Load() < 0 }

	p := New(cfg, nil, runTask, isReady, isFinished)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(total), handled.Load())
	assert.Equal(t, 0, p.RunningTasks())
}

func TestPool_Run_SurfacesFirstTaskError(t *testing.T) {
	done := make(chan struct{})
	var fired atomic.Bool

	runTask := func(ctx context.Context) error {
		close(done)
		return assert.AnError
	}
	isReady := func() bool { return fired.CompareAndSwap(false, true) }
	isFinished := func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	cfg := Config{
		MinConcurrency:     1,
		MaxConcurrency:     1,
		DesiredConcurrency: 1,
		MaybeRunInterval:   5 * time.Millisecond,
		AdjustInterval:     time.Hour,
		LoggingInterval:    time.Hour,
	}
	p := New(cfg, nil, runTask, isReady, isFinished)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := p.Run(ctx)
	assert.Equal(t, assert.AnError, err)
}

func TestPool_Abort_ReturnsNilOnceRunningTasksDrain(t *testing.T) {
	cfg := Config{MinConcurrency: 1, MaxConcurrency: 1, DesiredConcurrency: 1}
	p := New(cfg, nil, func(ctx context.Context) error { return nil }, func() bool { return false }, func() bool { return false })
	assert.NoError(t, p.Abort(100*time.Millisecond))
}

func TestPool_Abort_ReturnsErrorWhenATaskOutlivesTheTimeout(t *testing.T) {
	cfg := Config{
		MinConcurrency:     1,
		MaxConcurrency:     1,
		DesiredConcurrency: 1,
		MaybeRunInterval:   5 * time.Millisecond,
		AdjustInterval:     time.Hour,
		LoggingInterval:    time.Hour,
	}
	started := make(chan struct{})
	release := make(chan struct{})
	p := New(cfg, nil, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, func() bool { return true }, func() bool { return false })
	defer close(release)

	runCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = p.Run(runCtx) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never started")
	}

	err := p.Abort(20 * time.Millisecond)
	assert.Error(t, err, "a still-running task must surface as an Abort error, not a silent timeout")
}

func TestDefaults_FillsZeroFields(t *testing.T) {
	cfg := defaults(Config{})
	assert.Equal(t, 0.05, cfg.ScaleUpStepRatio)
	assert.Equal(t, 0.05, cfg.ScaleDownStepRatio)
	assert.Equal(t, 500*time.Millisecond, cfg.MaybeRunInterval)
	assert.Equal(t, 10*time.Second, cfg.AdjustInterval)
	assert.Equal(t, 60*time.Second, cfg.LoggingInterval)
	assert.Equal(t, 1, cfg.DesiredConcurrency)
}
