// Package memory records alerts in-process for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Notifier stores every alert it receives.
type Notifier struct {
	mu     sync.Mutex
	alerts []watch.Alert
	err    error
}

// New creates an empty recorder.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes subsequent Notify calls return err (nil restores success).
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

// Notify records the alert unless a failure is configured.
func (n *Notifier) Notify(_ context.Context, alert watch.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, alert)
	return nil
}

// Alerts returns a copy of the recorded alerts.
func (n *Notifier) Alerts() []watch.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]watch.Alert(nil), n.alerts...)
}

// Count returns the number of recorded alerts.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}
