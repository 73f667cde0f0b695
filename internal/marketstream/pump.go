package marketstream

import (
	"context"
	"log"

	"agent-chart-lab/internal/livetick"
)

// Pump decodes payloads from ch and passes each update to apply until ch
// closes or ctx is done. A payload that fails to decode, or an apply that
// panics, costs that one tick only. It returns the number of ticks applied.
func Pump(ctx context.Context, ch <-chan []byte, logger *log.Logger, apply func(livetick.KlineUpdate)) int {
	applied := 0
	for {
		select {
		case <-ctx.Done():
			return applied
		case raw, ok := <-ch:
			if !ok {
				return applied
			}
			if livetick.ApplySafely(logger, func() error {
				update, err := livetick.DecodeKlineEnvelope(raw)
				if err != nil {
					return err
				}
				apply(update)
				return nil
			}) {
				applied++
			}
		}
	}
}
