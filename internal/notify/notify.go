// Package notify fans alerts out to every configured delivery channel.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/keyword-watcher/internal/metrics"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Channel is a named notifier.
type Channel struct {
	Name     string
	Notifier watch.Notifier
}

// Multi delivers an alert to every channel. All channels are attempted; the
// joined error of the failed ones is returned.
type Multi struct {
	channels []Channel
}

// NewMulti creates a fan-out notifier. Channels without a notifier are skipped.
func NewMulti(channels ...Channel) *Multi {
	kept := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Notifier != nil {
			kept = append(kept, ch)
		}
	}
	return &Multi{channels: kept}
}

// Channels lists the configured channel names.
func (m *Multi) Channels() []string {
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name)
	}
	return names
}

// Notify implements watch.Notifier.
func (m *Multi) Notify(ctx context.Context, alert watch.Alert) error {
	metrics.Init()
	var errs []error
	for _, ch := range m.channels {
		err := ch.Notifier.Notify(ctx, alert)
		metrics.ObserveAlert(ch.Name, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
		}
	}
	return errors.Join(errs...)
}
