// Package autoscale implements AutoscaledPool: a cooperative scheduler
// running N concurrent tasks, adjusting N up or down based on SystemStatus.
//
// The spec models this as a single-threaded cooperative loop; this
// implementation runs a real goroutine per task but keeps the contract's
// ordering guarantee (no two tasks start in the same control-loop turn) by
// serializing starts through the single control goroutine, the same
// scale-by-ratio idiom as the teacher's engine.AdaptivePool applied to tasks
// instead of browser pages.
//
// While IsTaskReadyFunc keeps returning false, no slot fills up, so desired
// concurrency is never scaled up; it is still scaled down whenever the
// historical status reports overload.
package autoscale

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/crawlkit/sysmon"
)

// Config tunes an AutoscaledPool.
type Config struct {
	MinConcurrency     int
	MaxConcurrency     int
	DesiredConcurrency int // initial

	ScaleUpStepRatio   float64 // default 0.05
	ScaleDownStepRatio float64 // default 0.05

	MaybeRunInterval  time.Duration // default 500ms
	AdjustInterval    time.Duration // default 10s
	LoggingInterval   time.Duration // default 60s
}

// RunTaskFunc processes one unit of work; it resolves when that unit is
// fully handled (including any retry bookkeeping the caller wants charged
// against this task slot).
type RunTaskFunc func(ctx context.Context) error

// IsTaskReadyFunc reports whether there's a task available to start right
// now (e.g. the request queue has a pending entry).
type IsTaskReadyFunc func() bool

// IsFinishedFunc reports whether the pool should stop once no tasks are
// running.
type IsFinishedFunc func() bool

func defaults(cfg Config) Config {
	if cfg.ScaleUpStepRatio <= 0 {
		cfg.ScaleUpStepRatio = 0.05
	}
	if cfg.ScaleDownStepRatio <= 0 {
		cfg.ScaleDownStepRatio = 0.05
	}
	if cfg.MaybeRunInterval <= 0 {
		cfg.MaybeRunInterval = 500 * time.Millisecond
	}
	if cfg.AdjustInterval <= 0 {
		cfg.AdjustInterval = 10 * time.Second
	}
	if cfg.LoggingInterval <= 0 {
		cfg.LoggingInterval = 60 * time.Second
	}
	if cfg.DesiredConcurrency <= 0 {
		cfg.DesiredConcurrency = cfg.MinConcurrency
		if cfg.DesiredConcurrency <= 0 {
			cfg.DesiredConcurrency = 1
		}
	}
	return cfg
}

// Pool runs RunTaskFunc tasks, scaling concurrency between MinConcurrency
// and MaxConcurrency based on SystemStatus.
type Pool struct {
	cfg    Config
	status *sysmon.SystemStatus

	runTask    RunTaskFunc
	isReady    IsTaskReadyFunc
	isFinished IsFinishedFunc

	desired atomic.Int64
	running atomic.Int64

	// saturated counts maybeRun ticks, since the last adjust, where the
	// pool was running at its full desired concurrency — the "recent
	// tasks actually saturated the slots" condition from §4.5.
	saturatedTicks atomic.Int64
	totalTicks     atomic.Int64

	startMu sync.Mutex // serializes task starts: "no two tasks start in the same turn"

	wg       sync.WaitGroup
	taskErrs chan error
	done     chan struct{}
}

// New creates a Pool. status feeds the scale decisions.
func New(cfg Config, status *sysmon.SystemStatus, runTask RunTaskFunc, isReady IsTaskReadyFunc, isFinished IsFinishedFunc) *Pool {
	cfg = defaults(cfg)
	p := &Pool{
		cfg:        cfg,
		status:     status,
		runTask:    runTask,
		isReady:    isReady,
		isFinished: isFinished,
		taskErrs:   make(chan error, 64),
		done:       make(chan struct{}),
	}
	p.desired.Store(int64(cfg.DesiredConcurrency))
	return p
}

// DesiredConcurrency returns the current target concurrency.
func (p *Pool) DesiredConcurrency() int {
	return int(p.desired.Load())
}

// RunningTasks returns the current number of in-flight tasks.
func (p *Pool) RunningTasks() int {
	return int(p.running.Load())
}

// Run blocks until IsFinishedFunc reports true and no tasks are running, or
// ctx is cancelled. It returns the first task error observed, if any
// (task failures do not crash the pool, but they're surfaced on return).
func (p *Pool) Run(ctx context.Context) error {
	maybeRun := time.NewTicker(p.cfg.MaybeRunInterval)
	defer maybeRun.Stop()
	adjust := time.NewTicker(p.cfg.AdjustInterval)
	defer adjust.Stop()
	logTick := time.NewTicker(p.cfg.LoggingInterval)
	defer logTick.Stop()

	var firstErr error
	recordErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return ctx.Err()
		case err := <-p.taskErrs:
			recordErr(err)
		case <-logTick.C:
			slog.Info("autoscaled pool", "desired", p.DesiredConcurrency(), "running", p.RunningTasks())
		case <-adjust.C:
			p.adjust()
		case <-maybeRun.C:
			p.maybeRunTasks(ctx)
			if p.isFinished() && p.RunningTasks() == 0 {
				p.wg.Wait()
				drainErrs(p.taskErrs, recordErr)
				return firstErr
			}
		}
	}
}

// maybeRunTasks starts new tasks while running < desired, the system is OK,
// and a task is ready — serialized so starts never race within one tick.
func (p *Pool) maybeRunTasks(ctx context.Context) {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	select {
	case <-p.done:
		return
	default:
	}

	for int(p.running.Load()) < p.DesiredConcurrency() {
		if p.status != nil && p.status.CurrentStatus() {
			// CurrentStatus() true means overloaded; stop starting more.
			break
		}
		if !p.isReady() {
			break
		}
		p.running.Add(1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.running.Add(-1)
			err := p.runTask(ctx)
			select {
			case p.taskErrs <- err:
			default:
			}
		}()
	}

	p.totalTicks.Add(1)
	if int(p.running.Load()) >= p.DesiredConcurrency() {
		p.saturatedTicks.Add(1)
	}
}

// adjust scales desired concurrency per §4.5's periodic rule.
func (p *Pool) adjust() {
	total := p.totalTicks.Swap(0)
	saturated := p.saturatedTicks.Swap(0)
	saturatedRecently := total > 0 && saturated > 0

	historicalOverloaded := p.status != nil && p.status.HistoricalStatus()

	desired := p.DesiredConcurrency()
	switch {
	case !historicalOverloaded && saturatedRecently:
		next := int(math.Ceil(float64(desired) * (1 + p.cfg.ScaleUpStepRatio)))
		if next > p.cfg.MaxConcurrency {
			next = p.cfg.MaxConcurrency
		}
		p.desired.Store(int64(next))
	case historicalOverloaded:
		next := int(math.Floor(float64(desired) * (1 - p.cfg.ScaleDownStepRatio)))
		if next < p.cfg.MinConcurrency {
			next = p.cfg.MinConcurrency
		}
		p.desired.Store(int64(next))
	}
}

func drainErrs(ch chan error, record func(error)) {
	for {
		select {
		case err := <-ch:
			record(err)
		default:
			return
		}
	}
}

// Abort stops starting new tasks and races a timeout against running tasks.
// On timeout it returns an error so the caller can observe the rejection —
// running tasks are left to resolve on their own, but the caller is not
// left believing the pool shut down cleanly.
func (p *Pool) Abort(timeout time.Duration) error {
	close(p.done)
	doneCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		running := p.RunningTasks()
		slog.Warn("autoscaled pool: abort timed out with tasks still running", "running", running)
		return fmt.Errorf("autoscaled pool: abort timed out after %s with %d task(s) still running", timeout, running)
	}
}
