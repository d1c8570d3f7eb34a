package system

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	fqdn "github.com/Showmax/go-fqdn"
	"github.com/Velocidex/ordereddict"
	"github.com/shirou/gopsutil/v4/host"
)

var (
	start_time = time.Now()
)

// GetInfo renders a host info snapshot into the flat dict shape the
// CLI and downstream consumers expect.
func GetInfo(host_info *host.InfoStat) *ordereddict.Dict {
	me, _ := os.Executable()
	cwd, _ := os.Getwd()

	zone, tz_offset := time.Now().Local().Zone()

	return ordereddict.NewDict().
		Set("Hostname", host_info.Hostname).
		Set("Uptime", host_info.Uptime).
		Set("BootTime", host_info.BootTime).
		Set("OS", host_info.OS).
		Set("Platform", host_info.Platform).
		Set("PlatformFamily", host_info.PlatformFamily).
		Set("PlatformVersion", host_info.PlatformVersion).
		Set("KernelVersion", host_info.KernelVersion).
		Set("HostID", host_info.HostID).
		Set("CompilerVersion", runtime.Version()).
		Set("Exe", me).
		Set("CWD", cwd).
		Set("StartTime", start_time).
		Set("LocalTZ", zone).
		Set("LocalTZOffset", tz_offset)
}

// Info queries the host and returns the full info dict. host.Info is
// rather slow on some platforms, so callers that need it repeatedly
// should keep the result.
func Info(ctx context.Context) (*ordereddict.Dict, error) {
	host_info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}

	return GetInfo(host_info).
		Set("Fqdn", fqdn.Get()).
		Set("Architecture", architecture()), nil
}

// architecture reports the machine architecture the way the kernel
// sees it. A 32 bit binary on 64 bit windows sees GOARCH 386, so
// consult the Wow64 environment to report the real machine.
func architecture() string {
	if runtime.GOOS != "windows" {
		return runtime.GOARCH
	}

	proc_arch := os.Getenv("PROCESSOR_ARCHITECTURE")
	if proc_arch == "" {
		return runtime.GOARCH
	}

	if proc_arch == "x86" &&
		os.Getenv("PROCESSOR_ARCHITEW6432") == "AMD64" {
		return "wow64"
	}

	return strings.ToLower(proc_arch)
}
