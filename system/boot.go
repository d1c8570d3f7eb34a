package system

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

var (
	boot_mu     sync.Mutex
	boot_time   time.Time
	boot_loaded bool
)

// BootTime reports when the system booted. The kernel's answer never
// changes while we run, so it is queried once and cached for the
// process lifetime.
func BootTime(ctx context.Context) (time.Time, error) {
	boot_mu.Lock()
	defer boot_mu.Unlock()

	if boot_loaded {
		return boot_time, nil
	}

	secs, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, err
	}

	boot_time = time.Unix(int64(secs), 0)
	boot_loaded = true
	return boot_time, nil
}

// Uptime is the wall clock time since boot.
func Uptime(ctx context.Context) (time.Duration, error) {
	secs, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}
