// Package scheduler provides the periodic trigger facility that drives
// watcher ticks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-watcher/internal/id/uuid"
	"github.com/JakeFAU/keyword-watcher/internal/logging"
	"github.com/JakeFAU/keyword-watcher/internal/metrics"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// ErrIntervalTooShort is returned when arming below the configured floor.
var ErrIntervalTooShort = errors.New("interval below minimum")

// ErrClosed is returned when arming a closed trigger.
var ErrClosed = errors.New("trigger closed")

// Callback is invoked on every fire. The context is canceled only when the
// trigger closes; canceling a handle stops future fires but lets a running
// callback finish and notice the stop on its own.
type Callback func(ctx context.Context)

// Trigger arms and cancels periodic callbacks.
type Trigger interface {
	Arm(interval time.Duration, callback Callback) (watch.ScheduleHandle, error)
	Cancel(handle watch.ScheduleHandle) bool
	Active() []watch.ScheduleHandle
	Close()
}

// Config tunes the ticker trigger.
type Config struct {
	// MinInterval is the platform floor; shorter intervals are rejected.
	MinInterval time.Duration
	// RunImmediately fires the callback once as soon as the handle is armed.
	RunImmediately bool
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TickerTrigger runs one goroutine per handle around a time.Ticker. A
// callback runs inline on its goroutine, so fires that land while it is still
// running are dropped by the ticker.
type TickerTrigger struct {
	cfg    Config
	ids    watch.IDGenerator
	logger *zap.Logger

	// runCtx is handed to callbacks and ends on Close.
	runCtx  context.Context
	stopRun context.CancelFunc

	mu      sync.Mutex
	entries map[watch.ScheduleHandle]entry
	closed  bool
	wg      sync.WaitGroup
}

// NewTicker creates a TickerTrigger. A nil ids falls back to UUIDv7 handles.
func NewTicker(cfg Config, ids watch.IDGenerator, logger *zap.Logger) *TickerTrigger {
	if ids == nil {
		ids = uuid.New()
	}
	metrics.Init()
	runCtx, stopRun := context.WithCancel(context.Background())
	return &TickerTrigger{
		cfg:     cfg,
		ids:     ids,
		logger:  logging.OrNop(logger).Named("scheduler"),
		runCtx:  runCtx,
		stopRun: stopRun,
		entries: make(map[watch.ScheduleHandle]entry),
	}
}

// Arm starts a periodic callback and returns its handle.
func (t *TickerTrigger) Arm(interval time.Duration, callback Callback) (watch.ScheduleHandle, error) {
	if interval <= 0 || interval < t.cfg.MinInterval {
		return "", fmt.Errorf("%w: %s < %s", ErrIntervalTooShort, interval, t.cfg.MinInterval)
	}
	if callback == nil {
		return "", fmt.Errorf("callback is required")
	}
	id, err := t.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("allocate handle: %w", err)
	}
	handle := watch.ScheduleHandle(id)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrClosed
	}
	if _, exists := t.entries[handle]; exists {
		return "", fmt.Errorf("duplicate handle %s", handle)
	}
	ctx, cancel := context.WithCancel(t.runCtx)
	e := entry{cancel: cancel, done: make(chan struct{})}
	t.entries[handle] = e
	metrics.SetActiveSchedules(len(t.entries))

	t.wg.Add(1)
	go t.loop(ctx, e.done, handle, interval, callback)

	t.logger.Info("schedule armed",
		zap.String("handle", string(handle)),
		zap.Duration("interval", interval),
	)
	return handle, nil
}

func (t *TickerTrigger) loop(ctx context.Context, done chan struct{}, handle watch.ScheduleHandle, interval time.Duration, callback Callback) {
	defer t.wg.Done()
	defer close(done)

	if t.cfg.RunImmediately {
		t.fire(ctx, handle, callback)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fire(ctx, handle, callback)
		}
	}
}

func (t *TickerTrigger) fire(armed context.Context, handle watch.ScheduleHandle, callback Callback) {
	if armed.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("schedule callback panicked",
				zap.String("handle", string(handle)), zap.Any("panic", r))
		}
	}()
	callback(t.runCtx)
}

// Cancel stops the handle. It reports whether the handle was live. An
// in-flight callback keeps its context and is not waited for.
func (t *TickerTrigger) Cancel(handle watch.ScheduleHandle) bool {
	t.mu.Lock()
	e, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
		metrics.SetActiveSchedules(len(t.entries))
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	t.logger.Info("schedule canceled", zap.String("handle", string(handle)))
	return true
}

// Active lists live handles in sorted order.
func (t *TickerTrigger) Active() []watch.ScheduleHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	handles := make([]watch.ScheduleHandle, 0, len(t.entries))
	for h := range t.entries {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// Close cancels every handle and in-flight callback, then waits for their
// goroutines to exit.
func (t *TickerTrigger) Close() {
	t.stopRun()
	t.mu.Lock()
	t.closed = true
	entries := t.entries
	t.entries = make(map[watch.ScheduleHandle]entry)
	metrics.SetActiveSchedules(0)
	t.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	t.wg.Wait()
}
