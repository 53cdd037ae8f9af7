// Package log writes alerts to the structured logger. It is always enabled.
package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-watcher/internal/logging"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Notifier logs each alert at info level.
type Notifier struct {
	logger *zap.Logger
}

// New creates a log notifier.
func New(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logging.OrNop(logger).Named("alert")}
}

// Notify implements watch.Notifier.
func (n *Notifier) Notify(_ context.Context, alert watch.Alert) error {
	n.logger.Info(alert.Title,
		zap.String("target_id", alert.TargetID),
		zap.String("url", alert.TargetURL),
		zap.String("keyword", alert.Keyword),
		zap.Int("paragraph", alert.Match.ParagraphIndex+1),
		zap.String("body", alert.Body),
		zap.Time("raised_at", alert.RaisedAt),
	)
	return nil
}
