package utils

import (
	"context"
	"time"
)

// Sleep through the global clock so mocked time works. Returns false
// if the context was cancelled before the full duration elapsed, so
// poll loops can abort without consulting ctx.Err again.
func SleepWithCtx(ctx context.Context, duration time.Duration) bool {
	select {
	case <-ctx.Done():
		return false

	case <-GetTime().After(duration):
		return true
	}
}
