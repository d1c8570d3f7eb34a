//go:build linux

package system

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

// TimeSinceBoot reads CLOCK_BOOTTIME, which keeps counting across
// suspend. That makes it the right clock to compare against process
// start ticks.
func TimeSinceBoot(ctx context.Context) (time.Duration, error) {
	var ts unix.Timespec
	err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts)
	if err != nil {
		return 0, err
	}
	return time.Duration(ts.Nano()), nil
}
