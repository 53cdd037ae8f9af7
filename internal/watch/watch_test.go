package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func (s *mapStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.data == nil {
		s.data = map[string]string{}
	}
	s.data[key] = value
	return nil
}

func (s *mapStore) Close() error { return nil }

func TestExecutable(t *testing.T) {
	t.Parallel()

	assert.True(t, WatchConfig{TargetURL: "https://example.com", Keyword: "sale"}.Executable())
	assert.False(t, WatchConfig{TargetURL: "https://example.com"}.Executable())
	assert.False(t, WatchConfig{Keyword: "sale"}.Executable())
	assert.False(t, WatchConfig{TargetURL: "  ", Keyword: "sale"}.Executable())
}

func TestParseRunState(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RunStateActive, ParseRunState("V", true))
	assert.Equal(t, RunStatePaused, ParseRunState("R", true))
	assert.Equal(t, RunStatePaused, ParseRunState("", false))
	assert.Equal(t, RunStatePaused, ParseRunState("V", false))
	assert.Equal(t, RunStatePaused, ParseRunState("x", true))
	assert.Equal(t, "active", RunStateActive.String())
	assert.Equal(t, "paused", RunStatePaused.String())
}

func TestKeysFor(t *testing.T) {
	t.Parallel()

	def := KeysFor(DefaultTarget)
	assert.Equal(t, Keys{URL: "url", Word: "word", RunFlag: "semaforo", LastAlert: "last_alert"}, def)
	assert.Equal(t, def, KeysFor(""))

	shop := KeysFor("shop")
	assert.Equal(t, "shop/url", shop.URL)
	assert.Equal(t, "shop/word", shop.Word)
	assert.Equal(t, "shop/semaforo", shop.RunFlag)
	assert.Equal(t, "shop/last_alert", shop.LastAlert)
}

func TestConfigRoundTripThroughStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &mapStore{}
	cfg := WatchConfig{TargetURL: "https://example.com", Keyword: "tickets"}

	require.NoError(t, SaveConfig(ctx, store, "shop", cfg))
	got, err := LoadConfig(ctx, store, "shop")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	empty, err := LoadConfig(ctx, store, DefaultTarget)
	require.NoError(t, err)
	assert.False(t, empty.Executable())
}

func TestRunStateThroughStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &mapStore{}

	state, err := LoadRunState(ctx, store, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, RunStatePaused, state)

	require.NoError(t, SaveRunState(ctx, store, DefaultTarget, RunStateActive))
	assert.Equal(t, "V", store.data["semaforo"])

	state, err = LoadRunState(ctx, store, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, RunStateActive, state)
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	store := &mapStore{err: boom}

	_, err := LoadRunState(context.Background(), store, "a")
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "a/semaforo")
}

func TestNewAlert(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := WatchConfig{TargetURL: "https://example.com", Keyword: "fox"}
	alert := NewAlert("default", cfg, MatchResult{
		ParagraphIndex: 1,
		ContextBefore:  "brown",
		ContextAfter:   "jumps",
		MatchedWord:    "fox",
	}, at)

	assert.Equal(t, "Keyword found!", alert.Title)
	assert.Equal(t, "Found \"fox\" in paragraph 2: brown fox jumps...\nTap to open the page.", alert.Body)
	assert.Equal(t, "https://example.com", alert.TargetURL)
	assert.Equal(t, at, alert.RaisedAt)
}

func TestFormatAlertBodyAtBoundary(t *testing.T) {
	t.Parallel()

	body := FormatAlertBody("hello", MatchResult{MatchedWord: "Hello"})
	assert.Equal(t, "Found \"hello\" in paragraph 1: Hello...\nTap to open the page.", body)
}

func TestFetchError(t *testing.T) {
	t.Parallel()

	inner := errors.New("dial tcp: refused")
	var err error = &FetchError{Kind: FetchNetwork, URL: "https://x", Err: inner}
	wrapped := errors.Join(errors.New("tick"), err)

	fe, ok := AsFetchError(wrapped)
	require.True(t, ok)
	assert.Equal(t, FetchNetwork, fe.Kind)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "network")

	statusErr := &FetchError{Kind: FetchStatus, URL: "https://x", StatusCode: 503, Err: errors.New("bad status")}
	assert.Contains(t, statusErr.Error(), "status 503")

	_, ok = AsFetchError(inner)
	assert.False(t, ok)
}

func TestTargetIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &mapStore{}

	ids, err := LoadTargetIndex(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultTarget}, ids)

	require.NoError(t, AddToTargetIndex(ctx, store, "shop"))
	require.NoError(t, AddToTargetIndex(ctx, store, "alpha"))
	require.NoError(t, AddToTargetIndex(ctx, store, "shop"))
	require.NoError(t, AddToTargetIndex(ctx, store, DefaultTarget))
	assert.JSONEq(t, `["alpha","shop"]`, store.data[KeyTargets])

	ids, err = LoadTargetIndex(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", DefaultTarget, "shop"}, ids)

	store.data[KeyTargets] = "{broken"
	_, err = LoadTargetIndex(ctx, store)
	require.Error(t, err)
}
