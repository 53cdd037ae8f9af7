package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-watcher/internal/clock/system"
	"github.com/JakeFAU/keyword-watcher/internal/hash/sha256"
	notifymem "github.com/JakeFAU/keyword-watcher/internal/notify/memory"
	storemem "github.com/JakeFAU/keyword-watcher/internal/store/memory"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	page    watch.PageText
	err     error
	onFetch func(ctx context.Context)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (watch.PageText, error) {
	f.mu.Lock()
	f.calls++
	hook := f.onFetch
	page, err := f.page, f.err
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	page.URL = url
	return page, err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type brokenStore struct {
	watch.ControlStore
	err error
}

func (b brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, b.err
}

type notifierFunc func(ctx context.Context, alert watch.Alert) error

func (f notifierFunc) Notify(ctx context.Context, alert watch.Alert) error {
	return f(ctx, alert)
}

type recordingObserver struct {
	mu      sync.Mutex
	results []watch.TickResult
}

func (r *recordingObserver) ObserveTick(result watch.TickResult) {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
}

func (r *recordingObserver) Results() []watch.TickResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]watch.TickResult(nil), r.results...)
}

func activeStore(url, word string) *storemem.Store {
	return storemem.New(map[string]string{
		watch.KeyURL:     url,
		watch.KeyWord:    word,
		watch.KeyRunFlag: string(watch.RunStateActive),
	})
}

func pageWith(paragraphs ...string) watch.PageText {
	return watch.PageText{Paragraphs: paragraphs, StatusCode: 200, Bytes: 128}
}

func newWatcher(store watch.ControlStore, f watch.Fetcher, n watch.Notifier, cfg Config, observers ...watch.Observer) *Watcher {
	clock := system.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return New(store, f, n, sha256.New(), clock, cfg, nil, observers...)
}

func TestTickSkipsWhenConfigMissing(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]string{
		"empty store":   {watch.KeyRunFlag: "V"},
		"empty url":     {watch.KeyURL: "", watch.KeyWord: "cat", watch.KeyRunFlag: "V"},
		"empty keyword": {watch.KeyURL: "https://example.com", watch.KeyWord: "  ", watch.KeyRunFlag: "V"},
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := &fakeFetcher{page: pageWith("cat")}
			n := notifymem.New()
			w := newWatcher(storemem.New(seed), f, n, Config{})

			res := w.Tick(context.Background(), "")
			assert.Equal(t, watch.OutcomeSkipped, res.Outcome)
			assert.Equal(t, watch.ReasonConfigMissing, res.Reason)
			assert.ErrorIs(t, res.Err, watch.ErrConfigMissing)
			assert.Zero(t, f.Calls())
			assert.Zero(t, n.Count())
		})
	}
}

func TestTickSkipsWhenPaused(t *testing.T) {
	t.Parallel()

	for name, flag := range map[string]*string{"paused": ptr("R"), "absent": nil, "garbage": ptr("x")} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			seed := map[string]string{watch.KeyURL: "https://example.com", watch.KeyWord: "cat"}
			if flag != nil {
				seed[watch.KeyRunFlag] = *flag
			}
			f := &fakeFetcher{page: pageWith("cat")}
			n := notifymem.New()
			w := newWatcher(storemem.New(seed), f, n, Config{})

			res := w.Tick(context.Background(), watch.DefaultTarget)
			assert.Equal(t, watch.OutcomeSkipped, res.Outcome)
			assert.Equal(t, watch.ReasonPaused, res.Reason)
			assert.ErrorIs(t, res.Err, watch.ErrPaused)
			assert.Zero(t, f.Calls(), "no fetch while paused")
			assert.Zero(t, n.Count())
		})
	}
}

func TestTickAlertsOnMatch(t *testing.T) {
	t.Parallel()

	store := activeStore("https://example.com", "Cat")
	f := &fakeFetcher{page: pageWith("nothing here", "the big CAT sat")}
	n := notifymem.New()
	obs := &recordingObserver{}
	w := newWatcher(store, f, n, Config{}, obs)

	res := w.Tick(context.Background(), "")
	require.Equal(t, watch.OutcomeSuccess, res.Outcome)
	assert.Equal(t, watch.ReasonMatched, res.Reason)
	assert.True(t, res.Alerted)
	require.NotNil(t, res.Match)
	assert.Equal(t, watch.MatchResult{ParagraphIndex: 1, ContextBefore: "big", ContextAfter: "sat", MatchedWord: "CAT"}, *res.Match)

	alerts := n.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, watch.AlertTitle, alerts[0].Title)
	assert.Equal(t, "https://example.com", alerts[0].TargetURL)
	assert.Contains(t, alerts[0].Body, "paragraph 2: big CAT sat...")
	assert.NotEmpty(t, alerts[0].Fingerprint)

	last, ok := store.Snapshot()[watch.KeyLastAlert]
	assert.True(t, ok)
	assert.Equal(t, alerts[0].Fingerprint, last)

	require.Len(t, obs.Results(), 1)
	assert.Equal(t, watch.OutcomeSuccess, obs.Results()[0].Outcome)
}

func TestTickNoMatch(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{page: pageWith("dog", "bird")}
	n := notifymem.New()
	w := newWatcher(activeStore("https://example.com", "cat"), f, n, Config{})

	res := w.Tick(context.Background(), "")
	assert.Equal(t, watch.OutcomeSuccess, res.Outcome)
	assert.Equal(t, watch.ReasonNoMatch, res.Reason)
	assert.Nil(t, res.Match)
	assert.False(t, res.Alerted)
	assert.Zero(t, n.Count())
}

func TestTickFetchFailureDoesNotAlert(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{err: &watch.FetchError{Kind: watch.FetchTimeout, URL: "https://example.com", Err: context.DeadlineExceeded}}
	n := notifymem.New()
	w := newWatcher(activeStore("https://example.com", "cat"), f, n, Config{})

	res := w.Tick(context.Background(), "")
	assert.Equal(t, watch.OutcomeFailed, res.Outcome)
	assert.Equal(t, watch.ReasonFetch, res.Reason)
	fe, ok := watch.AsFetchError(res.Err)
	require.True(t, ok)
	assert.Equal(t, watch.FetchTimeout, fe.Kind)
	assert.Zero(t, n.Count())

	// the next tick proceeds normally
	f.mu.Lock()
	f.err = nil
	f.page = pageWith("a cat")
	f.mu.Unlock()
	res = w.Tick(context.Background(), "")
	assert.Equal(t, watch.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, n.Count())
}

func TestTickWrapsPlainFetchErrors(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{err: errors.New("connection reset")}
	w := newWatcher(activeStore("https://example.com", "cat"), f, notifymem.New(), Config{})

	res := w.Tick(context.Background(), "")
	fe, ok := watch.AsFetchError(res.Err)
	require.True(t, ok)
	assert.Equal(t, watch.FetchNetwork, fe.Kind)
}

func TestTickPausedDuringFetchSuppressesAlert(t *testing.T) {
	t.Parallel()

	store := activeStore("https://example.com", "cat")
	n := notifymem.New()
	f := &fakeFetcher{page: pageWith("a cat")}
	f.onFetch = func(ctx context.Context) {
		require.NoError(t, watch.SaveRunState(ctx, store, "", watch.RunStatePaused))
	}
	w := newWatcher(store, f, n, Config{})

	res := w.Tick(context.Background(), "")
	assert.Equal(t, watch.OutcomeSkipped, res.Outcome)
	assert.Equal(t, watch.ReasonPaused, res.Reason)
	assert.Equal(t, 1, f.Calls())
	assert.Zero(t, n.Count())
}

func TestTickCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{page: pageWith("cat")}
	n := notifymem.New()
	w := newWatcher(activeStore("https://example.com", "cat"), f, n, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := w.Tick(ctx, "")
	assert.Equal(t, watch.OutcomeSkipped, res.Outcome)
	assert.Equal(t, watch.ReasonCanceled, res.Reason)
	assert.ErrorIs(t, res.Err, watch.ErrTickCanceled)
	assert.Zero(t, f.Calls())
}

func TestTickCanceledDuringFetch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &fakeFetcher{err: &watch.FetchError{Kind: watch.FetchNetwork, Err: context.Canceled}}
	f.onFetch = func(context.Context) { cancel() }
	n := notifymem.New()
	w := newWatcher(activeStore("https://example.com", "cat"), f, n, Config{})

	res := w.Tick(ctx, "")
	assert.Equal(t, watch.OutcomeSkipped, res.Outcome)
	assert.Equal(t, watch.ReasonCanceled, res.Reason)
}

func TestTickAlertSurvivesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var delivered atomic.Bool
	n := notifierFunc(func(alertCtx context.Context, _ watch.Alert) error {
		cancel()
		if alertCtx.Err() != nil {
			return alertCtx.Err()
		}
		_, hasDeadline := alertCtx.Deadline()
		if !hasDeadline {
			return errors.New("alert context must be bounded")
		}
		delivered.Store(true)
		return nil
	})
	w := newWatcher(activeStore("https://example.com", "cat"), &fakeFetcher{page: pageWith("cat")}, n, Config{})

	res := w.Tick(ctx, "")
	assert.Equal(t, watch.OutcomeSuccess, res.Outcome)
	assert.True(t, res.Alerted)
	assert.True(t, delivered.Load())
}

func TestTickCoalescesConcurrentRuns(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	f := &fakeFetcher{page: pageWith("cat")}
	f.onFetch = func(context.Context) {
		close(entered)
		<-release
	}
	n := notifymem.New()
	w := newWatcher(activeStore("https://example.com", "cat"), f, n, Config{})

	done := make(chan watch.TickResult, 1)
	go func() { done <- w.Tick(context.Background(), "") }()
	<-entered
	assert.True(t, w.Running(""))

	second := w.Tick(context.Background(), "")
	assert.Equal(t, watch.OutcomeSkipped, second.Outcome)
	assert.Equal(t, watch.ReasonCoalesced, second.Reason)

	close(release)
	first := <-done
	assert.Equal(t, watch.OutcomeSuccess, first.Outcome)
	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, 1, n.Count(), "exactly one alert")
	assert.False(t, w.Running(""))
}

func TestTickGuardsArePerTarget(t *testing.T) {
	t.Parallel()

	store := activeStore("https://example.com", "cat")
	require.NoError(t, watch.SaveConfig(context.Background(), store, "other", watch.WatchConfig{TargetURL: "https://other.example", Keyword: "cat"}))
	require.NoError(t, watch.SaveRunState(context.Background(), store, "other", watch.RunStateActive))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f := &fakeFetcher{page: pageWith("cat")}
	f.onFetch = func(context.Context) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
	}
	w := newWatcher(store, f, notifymem.New(), Config{})

	done := make(chan watch.TickResult, 1)
	go func() { done <- w.Tick(context.Background(), "") }()
	<-entered

	other := w.Tick(context.Background(), "other")
	assert.Equal(t, watch.OutcomeSuccess, other.Outcome)
	close(release)
	assert.Equal(t, watch.OutcomeSuccess, (<-done).Outcome)
}

func TestTickRecoversPanics(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{page: pageWith("cat")}
	f.onFetch = func(context.Context) { panic("boom") }
	w := newWatcher(activeStore("https://example.com", "cat"), f, notifymem.New(), Config{})

	res := w.Tick(context.Background(), "")
	assert.Equal(t, watch.OutcomeFailed, res.Outcome)
	assert.Equal(t, watch.ReasonUnexpected, res.Reason)
	assert.ErrorIs(t, res.Err, watch.ErrUnexpected)
	assert.False(t, w.Running(""), "guard released after panic")

	f.mu.Lock()
	f.onFetch = nil
	f.mu.Unlock()
	assert.Equal(t, watch.OutcomeSuccess, w.Tick(context.Background(), "").Outcome)
}

func TestTickStoreErrorIsUnexpected(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk on fire")
	w := newWatcher(brokenStore{err: boom}, &fakeFetcher{}, notifymem.New(), Config{})

	res := w.Tick(context.Background(), "")
	assert.Equal(t, watch.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, watch.ErrUnexpected)
	assert.ErrorIs(t, res.Err, boom)
}

func TestTickNotifyFailure(t *testing.T) {
	t.Parallel()

	n := notifymem.New()
	n.FailWith(errors.New("smtp down"))
	store := activeStore("https://example.com", "cat")
	w := newWatcher(store, &fakeFetcher{page: pageWith("cat")}, n, Config{})

	res := w.Tick(context.Background(), "")
	assert.Equal(t, watch.OutcomeFailed, res.Outcome)
	assert.Equal(t, watch.ReasonNotify, res.Reason)
	assert.False(t, res.Alerted)
	_, recorded := store.Snapshot()[watch.KeyLastAlert]
	assert.False(t, recorded)
}

func TestTickSuppressesRepeatedAlerts(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{page: pageWith("a cat here")}
	n := notifymem.New()
	w := newWatcher(activeStore("https://example.com", "cat"), f, n, Config{SuppressRepeats: true})

	assert.Equal(t, watch.ReasonMatched, w.Tick(context.Background(), "").Reason)
	dup := w.Tick(context.Background(), "")
	assert.Equal(t, watch.OutcomeSuccess, dup.Outcome)
	assert.Equal(t, watch.ReasonDuplicate, dup.Reason)
	assert.False(t, dup.Alerted)

	f.mu.Lock()
	f.page = pageWith("another cat appeared")
	f.mu.Unlock()
	assert.Equal(t, watch.ReasonMatched, w.Tick(context.Background(), "").Reason)
	assert.Equal(t, 2, n.Count())
}

func TestTickRepeatsAlertsByDefault(t *testing.T) {
	t.Parallel()

	n := notifymem.New()
	w := newWatcher(activeStore("https://example.com", "cat"), &fakeFetcher{page: pageWith("cat")}, n, Config{})
	w.Tick(context.Background(), "")
	w.Tick(context.Background(), "")
	assert.Equal(t, 2, n.Count())
}

func TestTickUsesNamespacedKeys(t *testing.T) {
	t.Parallel()

	store := storemem.New(map[string]string{
		"shop/url":      "https://shop.example",
		"shop/word":     "tickets",
		"shop/semaforo": "V",
	})
	n := notifymem.New()
	w := newWatcher(store, &fakeFetcher{page: pageWith("Tickets on sale")}, n, Config{})

	res := w.Tick(context.Background(), "shop")
	assert.Equal(t, "shop", res.TargetID)
	assert.True(t, res.Alerted)
	assert.Equal(t, "shop", n.Alerts()[0].TargetID)

	res = w.Tick(context.Background(), "")
	assert.Equal(t, watch.ReasonConfigMissing, res.Reason)
}

func ptr(s string) *string { return &s }
