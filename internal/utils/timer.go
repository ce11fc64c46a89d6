package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// slowOperation is the duration above which a timed operation is logged as a warning.
const slowOperation = 30 * time.Second

// OperationTimer measures an operation and logs its duration when the
// returned function is called.
//
//	defer utils.OperationTimer("backtest", log)()
func OperationTimer(operation string, log zerolog.Logger) func() {
	start := time.Now()

	return func() {
		duration := time.Since(start)

		event := log.Debug()
		if duration > slowOperation {
			event = log.Warn()
		}
		event.
			Str("operation", operation).
			Dur("duration_ms", duration).
			Msg("Operation completed")
	}
}

// MeasureDBQuery measures a statement against the results database.
func MeasureDBQuery(queryName string, log zerolog.Logger) func(rowsAffected int64) {
	start := time.Now()

	return func(rowsAffected int64) {
		duration := time.Since(start)

		event := log.Debug()
		if duration > 5*time.Second {
			event = log.Warn()
		}
		event.
			Str("query", queryName).
			Dur("duration_ms", duration).
			Int64("rows_affected", rowsAffected).
			Msg("Database query completed")
	}
}
