// Package controller owns the schedule registry. It is the only writer of
// watch configuration and run flags and keeps at most one live schedule
// handle per target.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-watcher/internal/logging"
	"github.com/JakeFAU/keyword-watcher/internal/scheduler"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// ErrInvalidTarget is returned for target IDs that cannot be namespaced.
var ErrInvalidTarget = errors.New("invalid target id")

// Ticker runs one watcher tick.
type Ticker interface {
	Tick(ctx context.Context, targetID string) watch.TickResult
}

// Status is a point-in-time view of one target.
type Status struct {
	TargetID   string               `json:"target_id"`
	Config     watch.WatchConfig    `json:"config"`
	RunState   watch.RunState       `json:"-"`
	State      string               `json:"state"`
	Handle     watch.ScheduleHandle `json:"handle,omitempty"`
	Scheduled  bool                 `json:"scheduled"`
	LastResult *watch.TickResult    `json:"last_result,omitempty"`
}

// Controller starts, stops and inspects watch targets.
type Controller struct {
	store    watch.ControlStore
	ticker   Ticker
	trigger  scheduler.Trigger
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	registry map[string]watch.ScheduleHandle

	resultsMu sync.RWMutex
	results   map[string]watch.TickResult
}

// New constructs a Controller arming ticks every interval.
func New(
	store watch.ControlStore,
	ticker Ticker,
	trigger scheduler.Trigger,
	interval time.Duration,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		store:    store,
		ticker:   ticker,
		trigger:  trigger,
		interval: interval,
		logger:   logging.OrNop(logger).Named("controller"),
		registry: make(map[string]watch.ScheduleHandle),
		results:  make(map[string]watch.TickResult),
	}
}

// NormalizeTarget maps "" to the default target and rejects IDs containing
// the key separator.
func NormalizeTarget(targetID string) (string, error) {
	id := strings.TrimSpace(targetID)
	if id == "" {
		return watch.DefaultTarget, nil
	}
	if strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, targetID)
	}
	return id, nil
}

// Start persists cfg, marks the target Active and arms a fresh schedule,
// replacing any previous one. A zero cfg keeps the stored config, which
// makes Start double as resume. Calling Start twice leaves one live handle.
func (c *Controller) Start(ctx context.Context, targetID string, cfg watch.WatchConfig) (watch.ScheduleHandle, error) {
	id, err := NormalizeTarget(targetID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg != (watch.WatchConfig{}) {
		if err := watch.SaveConfig(ctx, c.store, id, cfg); err != nil {
			return "", fmt.Errorf("save config: %w", err)
		}
	}
	if err := watch.SaveRunState(ctx, c.store, id, watch.RunStateActive); err != nil {
		return "", fmt.Errorf("save run state: %w", err)
	}
	if err := watch.AddToTargetIndex(ctx, c.store, id); err != nil {
		return "", fmt.Errorf("index target: %w", err)
	}
	handle, err := c.armLocked(id)
	if err != nil {
		return "", err
	}
	c.logger.Info("target started", zap.String("target_id", id), zap.String("handle", string(handle)))
	return handle, nil
}

// armLocked replaces the registered handle for id. c.mu must be held.
func (c *Controller) armLocked(id string) (watch.ScheduleHandle, error) {
	if old, ok := c.registry[id]; ok {
		c.trigger.Cancel(old)
		delete(c.registry, id)
	}
	handle, err := c.trigger.Arm(c.interval, func(ctx context.Context) {
		c.runTick(ctx, id)
	})
	if err != nil {
		return "", fmt.Errorf("arm schedule: %w", err)
	}
	c.registry[id] = handle
	return handle, nil
}

// Stop pauses the target and cancels its schedule. The flag is written
// first so an in-flight tick sees the pause at its next check.
func (c *Controller) Stop(ctx context.Context, targetID string) error {
	id, err := NormalizeTarget(targetID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := watch.SaveRunState(ctx, c.store, id, watch.RunStatePaused); err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	if handle, ok := c.registry[id]; ok {
		c.trigger.Cancel(handle)
		delete(c.registry, id)
	}
	c.logger.Info("target stopped", zap.String("target_id", id))
	return nil
}

// UpdateConfig persists new config fields. The next tick picks them up.
func (c *Controller) UpdateConfig(ctx context.Context, targetID string, cfg watch.WatchConfig) error {
	id, err := NormalizeTarget(targetID)
	if err != nil {
		return err
	}
	if err := watch.SaveConfig(ctx, c.store, id, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// Status reports config, run state, handle and the last tick result.
func (c *Controller) Status(ctx context.Context, targetID string) (Status, error) {
	id, err := NormalizeTarget(targetID)
	if err != nil {
		return Status{}, err
	}
	cfg, err := watch.LoadConfig(ctx, c.store, id)
	if err != nil {
		return Status{}, err
	}
	state, err := watch.LoadRunState(ctx, c.store, id)
	if err != nil {
		return Status{}, err
	}

	st := Status{TargetID: id, Config: cfg, RunState: state, State: state.String()}
	c.mu.Lock()
	st.Handle, st.Scheduled = c.registry[id]
	c.mu.Unlock()

	c.resultsMu.RLock()
	if last, ok := c.results[id]; ok {
		st.LastResult = &last
	}
	c.resultsMu.RUnlock()
	return st, nil
}

// KnownTargets lists the default target plus every target ever started,
// as recorded in the store index.
func (c *Controller) KnownTargets(ctx context.Context) ([]string, error) {
	ids, err := watch.LoadTargetIndex(ctx, c.store)
	if err != nil {
		return nil, fmt.Errorf("load target index: %w", err)
	}
	return ids, nil
}

// Reconcile aligns the registry with the stored run flags: Active targets
// without a live handle are armed and Paused targets lose theirs. A nil
// targetIDs reconciles every known target. Errors are collected per target.
func (c *Controller) Reconcile(ctx context.Context, targetIDs []string) error {
	if targetIDs == nil {
		ids, err := c.KnownTargets(ctx)
		if err != nil {
			return err
		}
		targetIDs = ids
	}

	var errs []error
	for _, raw := range targetIDs {
		id, err := NormalizeTarget(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.reconcileOne(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// reconcileOne reads the flag under c.mu so a concurrent Start or Stop
// cannot land between the read and the registry change.
func (c *Controller) reconcileOne(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := watch.LoadRunState(ctx, c.store, id)
	if err != nil {
		return err
	}
	handle, armed := c.registry[id]
	switch {
	case state.Active() && !armed:
		handle, err := c.armLocked(id)
		if err != nil {
			return err
		}
		c.logger.Info("target re-armed", zap.String("target_id", id), zap.String("handle", string(handle)))
	case !state.Active() && armed:
		c.trigger.Cancel(handle)
		delete(c.registry, id)
		c.logger.Info("paused target disarmed", zap.String("target_id", id))
	}
	return nil
}

// CheckNow runs one tick synchronously. It is still subject to the
// watcher's one-tick-per-target guard.
func (c *Controller) CheckNow(ctx context.Context, targetID string) (watch.TickResult, error) {
	id, err := NormalizeTarget(targetID)
	if err != nil {
		return watch.TickResult{}, err
	}
	return c.runTick(ctx, id), nil
}

func (c *Controller) runTick(ctx context.Context, id string) watch.TickResult {
	result := c.ticker.Tick(ctx, id)
	if result.Reason != watch.ReasonCoalesced {
		c.resultsMu.Lock()
		c.results[id] = result
		c.resultsMu.Unlock()
	}
	return result
}

// Handle returns the live handle for a target.
func (c *Controller) Handle(targetID string) (watch.ScheduleHandle, bool) {
	id, err := NormalizeTarget(targetID)
	if err != nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.registry[id]
	return h, ok
}

// Targets lists targets with a live schedule, sorted.
func (c *Controller) Targets() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.registry))
	for id := range c.registry {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close cancels every schedule for shutdown. Stored run flags are left as
// they are so Reconcile can re-arm them on the next boot.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, handle := range c.registry {
		c.trigger.Cancel(handle)
		delete(c.registry, id)
	}
}
