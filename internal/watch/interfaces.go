package watch

import (
	"context"
	"time"
)

// ControlStore is the durable key-value store holding watch configuration and
// the run flag. Writes must be atomic per key; Get reports ok=false when the
// key has never been written.
type ControlStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Fetcher performs one bounded network fetch and returns paragraph text.
// Errors are always *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (PageText, error)
}

// Notifier delivers alerts to the user through some channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Observer receives every tick result (logging, metrics).
type Observer interface {
	ObserveTick(result TickResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(result TickResult)

// ObserveTick calls f.
func (f ObserverFunc) ObserveTick(result TickResult) {
	f(result)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces schedule handle IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes alert fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}
