package obs

import (
	"time"

	"go.uber.org/zap"
)

// Time logs the duration of an operation when the returned func runs.
// Usage: defer obs.Time(logger, "dima.build")(&err)
func Time(logger *zap.Logger, name string) func(errp *error) {
	start := time.Now()

	return func(errp *error) {
		dur := time.Since(start)

		if errp != nil && *errp != nil {
			logger.Warn("op failed",
				zap.String("op", name),
				zap.Int64("dur_ms", dur.Milliseconds()),
				zap.Error(*errp))
			return
		}
		logger.Info("op done",
			zap.String("op", name),
			zap.Int64("dur_ms", dur.Milliseconds()))
	}
}
