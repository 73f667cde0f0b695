package livetick

import (
	"fmt"
	"log"

	"agent-chart-lab/internal/observability"
)

// ApplySafely runs fn for one tick and converts any failure into a skipped
// tick: errors and panics are logged and counted, never propagated.
// It reports whether fn completed without error.
func ApplySafely(logger *log.Logger, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logf(logger, "[livetick] tick skipped after panic: %v", r)
			observability.RecordTickDropped("panic")
			ok = false
		}
	}()

	if err := fn(); err != nil {
		logf(logger, "[livetick] tick skipped: %v", err)
		observability.RecordTickDropped("error")
		return false
	}
	return true
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger == nil {
		log.Print(fmt.Sprintf(format, args...))
		return
	}
	logger.Printf(format, args...)
}
