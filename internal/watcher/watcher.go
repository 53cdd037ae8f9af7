// Package watcher runs the periodic keyword check. One Tick reads the control
// store, fetches the page, locates the keyword and raises at most one alert.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-watcher/internal/clock/system"
	"github.com/JakeFAU/keyword-watcher/internal/locator"
	"github.com/JakeFAU/keyword-watcher/internal/logging"
	"github.com/JakeFAU/keyword-watcher/internal/metrics"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// DefaultNotifyTimeout bounds alert delivery once a tick decides to alert.
const DefaultNotifyTimeout = 30 * time.Second

// Config tunes tick behavior.
type Config struct {
	// NotifyTimeout bounds the detached alert context.
	NotifyTimeout time.Duration
	// SuppressRepeats skips the alert when the fingerprint equals the last
	// one delivered for the target.
	SuppressRepeats bool
}

// Watcher executes ticks for any number of targets sharing one store.
type Watcher struct {
	store     watch.ControlStore
	fetcher   watch.Fetcher
	notifier  watch.Notifier
	hasher    watch.Hasher
	clock     watch.Clock
	observers []watch.Observer
	cfg       Config
	logger    *zap.Logger

	guards sync.Map // targetID -> *atomic.Bool
}

// New constructs a Watcher. Hasher may be nil, in which case alerts carry no
// fingerprint and repeat suppression is disabled.
func New(
	store watch.ControlStore,
	fetcher watch.Fetcher,
	notifier watch.Notifier,
	hasher watch.Hasher,
	clock watch.Clock,
	cfg Config,
	logger *zap.Logger,
	observers ...watch.Observer,
) *Watcher {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if clock == nil {
		clock = system.New()
	}
	metrics.Init()
	return &Watcher{
		store:     store,
		fetcher:   fetcher,
		notifier:  notifier,
		hasher:    hasher,
		clock:     clock,
		observers: observers,
		cfg:       cfg,
		logger:    logging.OrNop(logger).Named("watcher"),
	}
}

// Tick runs one check for targetID. It never panics and never returns an
// error; the outcome is carried by the result. A tick that finds another tick
// for the same target in flight returns immediately as coalesced.
func (w *Watcher) Tick(ctx context.Context, targetID string) (result watch.TickResult) {
	if targetID == "" {
		targetID = watch.DefaultTarget
	}
	started := w.clock.Now()
	result = watch.TickResult{TargetID: targetID, StartedAt: started}
	defer func() {
		result.Duration = w.clock.Now().Sub(started)
		w.observe(result)
	}()

	guard := w.guard(targetID)
	if !guard.CompareAndSwap(false, true) {
		return skipped(result, watch.ReasonCoalesced, nil)
	}
	defer guard.Store(false)

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("tick panicked", zap.String("target_id", targetID), zap.Any("panic", r))
			result = failed(result, watch.ReasonUnexpected, fmt.Errorf("%w: panic: %v", watch.ErrUnexpected, r))
		}
	}()

	return w.run(ctx, result)
}

func (w *Watcher) run(ctx context.Context, result watch.TickResult) watch.TickResult {
	targetID := result.TargetID

	// ConfigCheck
	cfg, err := watch.LoadConfig(ctx, w.store, targetID)
	if err != nil {
		return failed(result, watch.ReasonUnexpected, unexpected(err))
	}
	if !cfg.Executable() {
		return skipped(result, watch.ReasonConfigMissing, watch.ErrConfigMissing)
	}

	// RunCheck before fetching
	if res, ok := w.runCheck(ctx, result); !ok {
		return res
	}

	page, fetchErr := w.fetcher.Fetch(ctx, cfg.TargetURL)

	// RunCheck after fetching; a pause or cancellation raised mid-fetch wins
	// over whatever the fetch returned.
	if res, ok := w.runCheck(ctx, result); !ok {
		return res
	}
	if fetchErr != nil {
		return failed(result, watch.ReasonFetch, asFetchError(cfg.TargetURL, fetchErr))
	}
	metrics.ObserveFetch(cfg.TargetURL, page.Bytes)

	match := locator.Locate(page.Paragraphs, cfg.Keyword)
	if match == nil {
		result.Outcome = watch.OutcomeSuccess
		result.Reason = watch.ReasonNoMatch
		return result
	}
	result.Match = match

	// Alerting runs to completion even if the tick is canceled from here on.
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.NotifyTimeout)
	defer cancel()
	return w.alert(alertCtx, result, cfg, *match)
}

func (w *Watcher) runCheck(ctx context.Context, result watch.TickResult) (watch.TickResult, bool) {
	if ctx.Err() != nil {
		return skipped(result, watch.ReasonCanceled, fmt.Errorf("%w: %w", watch.ErrTickCanceled, ctx.Err())), false
	}
	state, err := watch.LoadRunState(ctx, w.store, result.TargetID)
	if err != nil {
		if ctx.Err() != nil {
			return skipped(result, watch.ReasonCanceled, fmt.Errorf("%w: %w", watch.ErrTickCanceled, ctx.Err())), false
		}
		return failed(result, watch.ReasonUnexpected, unexpected(err)), false
	}
	if !state.Active() {
		return skipped(result, watch.ReasonPaused, watch.ErrPaused), false
	}
	return result, true
}

func (w *Watcher) alert(ctx context.Context, result watch.TickResult, cfg watch.WatchConfig, match watch.MatchResult) watch.TickResult {
	keys := watch.KeysFor(result.TargetID)
	alert := watch.NewAlert(result.TargetID, cfg, match, w.clock.Now())

	if w.hasher != nil {
		fingerprint, err := w.hasher.Hash(watch.FingerprintInput(cfg, match))
		if err != nil {
			return failed(result, watch.ReasonUnexpected, unexpected(fmt.Errorf("fingerprint alert: %w", err)))
		}
		alert.Fingerprint = fingerprint
	}

	if w.cfg.SuppressRepeats && alert.Fingerprint != "" {
		last, ok, err := w.store.Get(ctx, keys.LastAlert)
		if err != nil {
			return failed(result, watch.ReasonUnexpected, unexpected(fmt.Errorf("read %s: %w", keys.LastAlert, err)))
		}
		if ok && last == alert.Fingerprint {
			result.Outcome = watch.OutcomeSuccess
			result.Reason = watch.ReasonDuplicate
			return result
		}
	}

	if err := w.notifier.Notify(ctx, alert); err != nil {
		return failed(result, watch.ReasonNotify, fmt.Errorf("notify: %w", err))
	}
	result.Outcome = watch.OutcomeSuccess
	result.Reason = watch.ReasonMatched
	result.Alerted = true

	if alert.Fingerprint != "" {
		if err := w.store.Set(ctx, keys.LastAlert, alert.Fingerprint); err != nil {
			w.logger.Warn("failed to record alert fingerprint",
				zap.String("target_id", result.TargetID), zap.Error(err))
		}
	}
	return result
}

func (w *Watcher) guard(targetID string) *atomic.Bool {
	if g, ok := w.guards.Load(targetID); ok {
		return g.(*atomic.Bool)
	}
	g, _ := w.guards.LoadOrStore(targetID, &atomic.Bool{})
	return g.(*atomic.Bool)
}

// Running reports whether a tick for targetID is in flight.
func (w *Watcher) Running(targetID string) bool {
	if targetID == "" {
		targetID = watch.DefaultTarget
	}
	g, ok := w.guards.Load(targetID)
	return ok && g.(*atomic.Bool).Load()
}

func (w *Watcher) observe(result watch.TickResult) {
	for _, o := range w.observers {
		if o != nil {
			o.ObserveTick(result)
		}
	}
}

func skipped(result watch.TickResult, reason string, err error) watch.TickResult {
	result.Outcome = watch.OutcomeSkipped
	result.Reason = reason
	result.Err = err
	return result
}

func failed(result watch.TickResult, reason string, err error) watch.TickResult {
	result.Outcome = watch.OutcomeFailed
	result.Reason = reason
	result.Err = err
	return result
}

func unexpected(err error) error {
	if errors.Is(err, watch.ErrUnexpected) {
		return err
	}
	return fmt.Errorf("%w: %w", watch.ErrUnexpected, err)
}

// asFetchError keeps the fetcher contract even for fetchers that return
// plain errors.
func asFetchError(url string, err error) error {
	if _, ok := watch.AsFetchError(err); ok {
		return err
	}
	return &watch.FetchError{Kind: watch.FetchNetwork, URL: url, Err: err}
}
