package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// TickObserver logs every tick result. Skips log at debug, failures at warn.
type TickObserver struct {
	logger *zap.Logger
}

// NewTickObserver creates an observer writing to logger.
func NewTickObserver(logger *zap.Logger) *TickObserver {
	return &TickObserver{logger: OrNop(logger).Named("tick")}
}

// ObserveTick implements watch.Observer.
func (o *TickObserver) ObserveTick(result watch.TickResult) {
	fields := TickFields(result)
	switch result.Outcome {
	case watch.OutcomeFailed:
		o.logger.Warn("tick failed", fields...)
	case watch.OutcomeSkipped:
		o.logger.Debug("tick skipped", fields...)
	default:
		if result.Alerted {
			o.logger.Info("keyword found", fields...)
			return
		}
		o.logger.Info("tick completed", fields...)
	}
}

// TickFields renders a tick result as structured fields.
func TickFields(result watch.TickResult) []zapcore.Field {
	fields := []zapcore.Field{
		zap.String("target_id", result.TargetID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason),
		zap.Duration("duration", result.Duration),
		zap.Bool("alerted", result.Alerted),
	}
	if result.Match != nil {
		fields = append(fields,
			zap.Int("paragraph", result.Match.ParagraphIndex),
			zap.String("matched_word", result.Match.MatchedWord),
		)
	}
	if fe, ok := watch.AsFetchError(result.Err); ok {
		fields = append(fields, zap.String("fetch_error_kind", string(fe.Kind)))
		if fe.StatusCode != 0 {
			fields = append(fields, zap.Int("status_code", fe.StatusCode))
		}
	}
	if result.Err != nil {
		fields = append(fields, zap.Error(result.Err))
	}
	return fields
}
