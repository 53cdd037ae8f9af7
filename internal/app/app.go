// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-watcher/internal/api"
	"github.com/JakeFAU/keyword-watcher/internal/clock/system"
	"github.com/JakeFAU/keyword-watcher/internal/config"
	"github.com/JakeFAU/keyword-watcher/internal/controller"
	collyfetcher "github.com/JakeFAU/keyword-watcher/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/keyword-watcher/internal/fetcher/headless"
	"github.com/JakeFAU/keyword-watcher/internal/hash/sha256"
	"github.com/JakeFAU/keyword-watcher/internal/id/uuid"
	"github.com/JakeFAU/keyword-watcher/internal/logging"
	"github.com/JakeFAU/keyword-watcher/internal/metrics"
	"github.com/JakeFAU/keyword-watcher/internal/notify"
	emailnotify "github.com/JakeFAU/keyword-watcher/internal/notify/email"
	lognotify "github.com/JakeFAU/keyword-watcher/internal/notify/log"
	pubsubnotify "github.com/JakeFAU/keyword-watcher/internal/notify/pubsub"
	sqsnotify "github.com/JakeFAU/keyword-watcher/internal/notify/sqs"
	telegramnotify "github.com/JakeFAU/keyword-watcher/internal/notify/telegram"
	"github.com/JakeFAU/keyword-watcher/internal/policy/ratelimit"
	"github.com/JakeFAU/keyword-watcher/internal/scheduler"
	"github.com/JakeFAU/keyword-watcher/internal/store"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
	"github.com/JakeFAU/keyword-watcher/internal/watcher"
)

// Options adjust how the container is built.
type Options struct {
	// Serving enables the immediate first tick on arm. One-shot commands
	// leave it off so arming a schedule never fetches from a short-lived
	// process.
	Serving bool
	// Store overrides the configured control store.
	Store watch.ControlStore
	// Fetcher overrides the configured fetcher.
	Fetcher watch.Fetcher
	// Notifiers are added to the configured channels.
	Notifiers []notify.Channel
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      watch.ControlStore
	fetcher    watch.Fetcher
	notifier   *notify.Multi
	watcher    *watcher.Watcher
	trigger    *scheduler.TickerTrigger
	controller *controller.Controller
	server     *api.Server
	closers    []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New creates and initializes an App from configuration. It fails fast if
// any critical service cannot be initialized, releasing whatever was opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (a *App, err error) {
	logger = logging.OrNop(logger)
	logger.Info("initializing application services")
	metrics.Init()

	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	a.store = opts.Store
	if a.store == nil {
		a.store, err = store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		logger.Info("control store ready", zap.String("backend", cfg.Store.Backend))
	}
	a.addCloser("store", a.store.Close)

	a.fetcher = opts.Fetcher
	if a.fetcher == nil {
		a.fetcher, err = a.buildFetcher()
		if err != nil {
			return nil, err
		}
	}

	channels, err := a.buildNotifiers(ctx)
	if err != nil {
		return nil, err
	}
	a.notifier = notify.NewMulti(append(channels, opts.Notifiers...)...)
	logger.Info("alert channels configured", zap.Strings("channels", a.notifier.Channels()))

	a.watcher = watcher.New(
		a.store,
		a.fetcher,
		a.notifier,
		sha256.New(),
		system.New(),
		watcher.Config{
			NotifyTimeout:   cfg.Notify.Timeout,
			SuppressRepeats: cfg.Watcher.SuppressRepeats,
		},
		logger,
		logging.NewTickObserver(logger),
		metrics.NewTickObserver(),
	)
	a.trigger = scheduler.NewTicker(scheduler.Config{
		MinInterval:    cfg.Scheduler.MinInterval,
		RunImmediately: cfg.Scheduler.RunImmediately && opts.Serving,
	}, uuid.New(), logger)
	a.controller = controller.New(a.store, a.watcher, a.trigger, cfg.Scheduler.Interval, logger)

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Server.CheckRPS, Burst: cfg.Server.CheckBurst})
	a.server = api.NewServer(a.controller, limiter, a.Ready, a.ConfiguredTargets(), cfg, logger)

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) buildFetcher() (watch.Fetcher, error) {
	switch a.cfg.Fetcher.Mode {
	case config.FetcherHeadless:
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Fetcher.MaxParallel,
			UserAgent:         a.cfg.Fetcher.UserAgent,
			NavigationTimeout: a.cfg.Fetcher.Timeout,
			SettleDelay:       a.cfg.Fetcher.SettleDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.addCloser("headless fetcher", f.Close)
		return f, nil
	default:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Fetcher.UserAgent,
			RespectRobots: a.cfg.Fetcher.RespectRobots,
			Timeout:       a.cfg.Fetcher.Timeout,
		}), nil
	}
}

func (a *App) buildNotifiers(ctx context.Context) ([]notify.Channel, error) {
	n := a.cfg.Notify
	channels := []notify.Channel{{Name: "log", Notifier: lognotify.New(a.logger)}}

	if n.Email.Enabled {
		email, err := emailnotify.New(emailnotify.Config{
			Host:     n.Email.Host,
			Port:     n.Email.Port,
			Username: n.Email.Username,
			Password: n.Email.Password,
			From:     n.Email.From,
			To:       n.Email.To,
		})
		if err != nil {
			return nil, fmt.Errorf("init email notifier: %w", err)
		}
		channels = append(channels, notify.Channel{Name: "email", Notifier: email})
	}
	if n.Telegram.Enabled {
		tg, err := telegramnotify.New(n.Telegram.Token, n.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("init telegram notifier: %w", err)
		}
		channels = append(channels, notify.Channel{Name: "telegram", Notifier: tg})
	}
	if n.PubSub.Enabled {
		ps, err := pubsubnotify.New(ctx, n.PubSub.ProjectID, n.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		a.addCloser("pubsub notifier", ps.Close)
		channels = append(channels, notify.Channel{Name: "pubsub", Notifier: ps})
	}
	if n.SQS.Enabled {
		q, err := sqsnotify.New(ctx, n.SQS.QueueURL, n.SQS.Region)
		if err != nil {
			return nil, fmt.Errorf("init sqs notifier: %w", err)
		}
		channels = append(channels, notify.Channel{Name: "sqs", Notifier: q})
	}
	return channels, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store exposes the control store.
func (a *App) Store() watch.ControlStore {
	return a.store
}

// Controller exposes the schedule registry.
func (a *App) Controller() *controller.Controller {
	return a.controller
}

// Watcher exposes the tick runner.
func (a *App) Watcher() *watcher.Watcher {
	return a.watcher
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Ready probes the control store.
func (a *App) Ready(ctx context.Context) error {
	if _, _, err := a.store.Get(ctx, watch.KeyRunFlag); err != nil {
		return fmt.Errorf("control store unavailable: %w", err)
	}
	return nil
}

// ConfiguredTargets lists the default target plus every target in config.
func (a *App) ConfiguredTargets() []string {
	ids := []string{watch.DefaultTarget}
	for id := range a.cfg.Targets {
		if id != watch.DefaultTarget {
			ids = append(ids, id)
		}
	}
	return ids
}

// Seed writes configured targets into the store. A target that already has a
// stored URL is left alone so runtime changes survive restarts.
func (a *App) Seed(ctx context.Context) error {
	var errs []error
	for id, target := range a.cfg.Targets {
		if err := a.seedTarget(ctx, id, target); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) seedTarget(ctx context.Context, id string, target config.TargetConfig) error {
	keys := watch.KeysFor(id)
	existing, ok, err := a.store.Get(ctx, keys.URL)
	if err != nil {
		return fmt.Errorf("read %s: %w", keys.URL, err)
	}
	if ok && existing != "" {
		return nil
	}
	cfg := watch.WatchConfig{TargetURL: target.URL, Keyword: target.Word}
	if err := watch.SaveConfig(ctx, a.store, id, cfg); err != nil {
		return err
	}
	if err := watch.AddToTargetIndex(ctx, a.store, id); err != nil {
		return err
	}
	if target.Start {
		if err := watch.SaveRunState(ctx, a.store, id, watch.RunStateActive); err != nil {
			return err
		}
	}
	a.logger.Info("seeded target", zap.String("target_id", id), zap.Bool("start", target.Start))
	return nil
}

// Close stops every schedule and releases resources. Stored run flags are
// untouched.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.controller != nil {
		a.controller.Close()
	}
	if a.trigger != nil {
		a.trigger.Close()
	}
	a.closeResources()
	// stdout/stderr sync errors are expected on some platforms
	_ = a.logger.Sync()
}

func (a *App) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing resource", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
