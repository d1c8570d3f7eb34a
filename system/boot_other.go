//go:build !linux

package system

import (
	"context"
	"time"
)

// TimeSinceBoot falls back to the uptime counter where no boot
// clock is exposed.
func TimeSinceBoot(ctx context.Context) (time.Duration, error) {
	return Uptime(ctx)
}
