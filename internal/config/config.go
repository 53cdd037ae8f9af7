// Package config loads and validates watcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
)

// Fetcher modes.
const (
	FetcherHTTP     = "http"
	FetcherHeadless = "headless"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Auth      AuthConfig              `mapstructure:"auth"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler"`
	Fetcher   FetcherConfig           `mapstructure:"fetcher"`
	Store     StoreConfig             `mapstructure:"store"`
	Notify    NotifyConfig            `mapstructure:"notify"`
	Watcher   WatcherConfig           `mapstructure:"watcher"`
	Targets   map[string]TargetConfig `mapstructure:"targets"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CheckRPS        float64       `mapstructure:"check_rps"`
	CheckBurst      int           `mapstructure:"check_burst"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SchedulerConfig governs the periodic trigger.
type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	RunImmediately bool          `mapstructure:"run_immediately"`

	// ReconcileInterval is how often serve re-syncs schedules with the
	// stored run flags, picking up starts and stops made by other processes.
	// Zero disables the sweep.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// FetcherConfig selects and tunes the content fetcher.
type FetcherConfig struct {
	Mode          string        `mapstructure:"mode"`
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
}

// StoreConfig selects the control store backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	File     FileConfig     `mapstructure:"file"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// FileConfig points at the JSON control document.
type FileConfig struct {
	Path string `mapstructure:"path"`
}

// SQLiteConfig points at the SQLite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// GCSConfig sets the bucket and prefix for control objects.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// NotifyConfig lists alert channels. The log channel is always on.
type NotifyConfig struct {
	Timeout  time.Duration  `mapstructure:"timeout"`
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	SQS      SQSConfig      `mapstructure:"sqs"`
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// TelegramConfig configures bot delivery.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SQSConfig configures the alert queue.
type SQSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
}

// WatcherConfig tunes tick behavior.
type WatcherConfig struct {
	SuppressRepeats bool `mapstructure:"suppress_repeats"`
}

// TargetConfig seeds a watch target at startup.
type TargetConfig struct {
	URL   string `mapstructure:"url"`
	Word  string `mapstructure:"word"`
	Start bool   `mapstructure:"start"`
}

// Load builds a Config from disk/environment. With an empty path the usual
// locations are searched and a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/keyword-watcher/")
		v.AddConfigPath("$HOME/.keyword-watcher")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.check_rps", 1.0/60)
	v.SetDefault("server.check_burst", 2)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("scheduler.interval", 15*time.Minute)
	v.SetDefault("scheduler.min_interval", time.Minute)
	v.SetDefault("scheduler.run_immediately", true)
	v.SetDefault("scheduler.reconcile_interval", 30*time.Second)
	v.SetDefault("fetcher.mode", FetcherHTTP)
	v.SetDefault("fetcher.user_agent", "keyword-watcher/0.1")
	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("fetcher.max_parallel", 1)
	v.SetDefault("fetcher.settle_delay", 500*time.Millisecond)
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.file.path", "data/control.json")
	v.SetDefault("store.sqlite.path", "data/watcher.db")
	v.SetDefault("store.postgres.table", "control_store")
	v.SetDefault("store.postgres.migrate", true)
	v.SetDefault("notify.timeout", 30*time.Second)
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("watcher.suppress_repeats", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.MinInterval <= 0 {
		return fmt.Errorf("scheduler.min_interval must be > 0")
	}
	if c.Scheduler.Interval < c.Scheduler.MinInterval {
		return fmt.Errorf("scheduler.interval must be >= scheduler.min_interval (%s)", c.Scheduler.MinInterval)
	}
	if c.Scheduler.ReconcileInterval < 0 {
		return fmt.Errorf("scheduler.reconcile_interval must be >= 0")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Fetcher.Timeout >= c.Scheduler.Interval {
		return fmt.Errorf("fetcher.timeout must be shorter than scheduler.interval")
	}
	switch c.Fetcher.Mode {
	case FetcherHTTP:
	case FetcherHeadless:
		if c.Fetcher.MaxParallel <= 0 {
			return fmt.Errorf("fetcher.max_parallel must be > 0 when headless is enabled")
		}
	default:
		return fmt.Errorf("fetcher.mode %q is not supported", c.Fetcher.Mode)
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	for id, target := range c.Targets {
		if strings.Contains(id, "/") {
			return fmt.Errorf("targets.%s: target id must not contain '/'", id)
		}
		if target.Start && (target.URL == "" || target.Word == "") {
			return fmt.Errorf("targets.%s: url and word are required to start", id)
		}
	}
	return nil
}

func (s StoreConfig) validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendFile:
		if s.File.Path == "" {
			return fmt.Errorf("store.file.path is required")
		}
	case BackendSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required")
		}
	case BackendRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required")
		}
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
	case BackendGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("store.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", s.Backend)
	}
	return nil
}

func (n NotifyConfig) validate() error {
	if n.Timeout <= 0 {
		return fmt.Errorf("notify.timeout must be > 0")
	}
	if n.Email.Enabled {
		if n.Email.Host == "" || n.Email.From == "" || len(n.Email.To) == 0 {
			return fmt.Errorf("notify.email requires host, from and to")
		}
	}
	if n.Telegram.Enabled && (n.Telegram.Token == "" || n.Telegram.ChatID == 0) {
		return fmt.Errorf("notify.telegram requires token and chat_id")
	}
	if n.PubSub.Enabled && (n.PubSub.ProjectID == "" || n.PubSub.Topic == "") {
		return fmt.Errorf("notify.pubsub requires project_id and topic")
	}
	if n.SQS.Enabled && n.SQS.QueueURL == "" {
		return fmt.Errorf("notify.sqs.queue_url is required")
	}
	return nil
}
