// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-watcher/internal/app"
	"github.com/JakeFAU/keyword-watcher/internal/config"
	"github.com/JakeFAU/keyword-watcher/internal/notify"
	notifymem "github.com/JakeFAU/keyword-watcher/internal/notify/memory"
	storemem "github.com/JakeFAU/keyword-watcher/internal/store/memory"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// MockFetcher mocks the watch.Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

// Fetch satisfies the watch.Fetcher interface for the mock.
func (m *MockFetcher) Fetch(ctx context.Context, url string) (watch.PageText, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(watch.PageText), args.Error(1)
}

func testConfig() config.Config {
	return config.Config{
		Server:    config.ServerConfig{Port: 8080, CheckRPS: 10, CheckBurst: 10},
		Scheduler: config.SchedulerConfig{Interval: time.Hour, MinInterval: time.Minute, RunImmediately: true},
		Fetcher:   config.FetcherConfig{Mode: config.FetcherHTTP, Timeout: time.Second},
		Store:     config.StoreConfig{Backend: config.BackendMemory},
		Notify:    config.NotifyConfig{Timeout: time.Second},
		Targets: map[string]config.TargetConfig{
			"shop":  {URL: "https://shop.example", Word: "tickets", Start: true},
			"draft": {URL: "https://draft.example", Word: "soon"},
		},
	}
}

func TestNew_WithConfiguredBackends(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), zap.NewNop(), app.Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Store())
	assert.NotNil(t, a.Controller())
	assert.NotNil(t, a.Watcher())
	assert.NoError(t, a.Ready(context.Background()))
	assert.ElementsMatch(t, []string{"default", "shop", "draft"}, a.ConfiguredTargets())
}

func TestNew_StoreFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	cfg := testConfig()
	cfg.Store = config.StoreConfig{Backend: config.BackendFile, File: config.FileConfig{Path: path}}
	_, err := app.New(context.Background(), cfg, nil, app.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize store")
}

func TestSeedKeepsExistingConfig(t *testing.T) {
	t.Parallel()

	store := storemem.New(map[string]string{"shop/url": "https://changed.example", "shop/word": "later"})
	a, err := app.New(context.Background(), testConfig(), nil, app.Options{Store: store})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Seed(context.Background()))
	snap := store.Snapshot()
	assert.Equal(t, "https://changed.example", snap["shop/url"])
	assert.Equal(t, "https://draft.example", snap["draft/url"])
	_, flagged := snap["draft/semaforo"]
	assert.False(t, flagged, "unstarted seeds leave the flag absent")

	known, err := a.Controller().KnownTargets(context.Background())
	require.NoError(t, err)
	assert.Contains(t, known, "draft")
}

func TestSeedReconcileAndCheck(t *testing.T) {
	t.Parallel()

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://shop.example").
		Return(watch.PageText{Paragraphs: []string{"Tickets on sale now"}, StatusCode: 200}, nil)
	recorder := notifymem.New()
	store := storemem.New(nil)

	a, err := app.New(context.Background(), testConfig(), nil, app.Options{
		Store:     store,
		Fetcher:   fetcher,
		Notifiers: []notify.Channel{{Name: "memory", Notifier: recorder}},
	})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Seed(context.Background()))
	require.NoError(t, a.Controller().Reconcile(context.Background(), nil))
	assert.Equal(t, []string{"shop"}, a.Controller().Targets())

	res, err := a.Controller().CheckNow(context.Background(), "shop")
	require.NoError(t, err)
	assert.True(t, res.Alerted)
	require.Equal(t, 1, recorder.Count())
	assert.Equal(t, "https://shop.example", recorder.Alerts()[0].TargetURL)
	fetcher.AssertExpectations(t)
}

func TestHandlerServesHealth(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil, app.Options{})
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
