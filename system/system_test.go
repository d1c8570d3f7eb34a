package system

import (
	"context"
	"os"
	"testing"

	"www.velocidex.com/golang/psutils/vtesting/assert"
)

func TestVirtualMemory(t *testing.T) {
	res, err := VirtualMemory(context.Background())
	assert.NoError(t, err)
	assert.True(t, res.Total > 0)
	assert.True(t, res.Available <= res.Total)
}

func TestBootTimeIsCached(t *testing.T) {
	ctx := context.Background()

	first, err := BootTime(ctx)
	assert.NoError(t, err)
	assert.False(t, first.IsZero())

	// Repeated queries report the identical instant.
	second, err := BootTime(ctx)
	assert.NoError(t, err)
	assert.True(t, first.Equal(second))

	uptime, err := Uptime(ctx)
	assert.NoError(t, err)
	assert.True(t, uptime > 0)

	since_boot, err := TimeSinceBoot(ctx)
	assert.NoError(t, err)
	assert.True(t, since_boot > 0)
}

func TestCPUCounts(t *testing.T) {
	ctx := context.Background()

	logical, err := CPUCounts(ctx, true)
	assert.NoError(t, err)
	assert.True(t, logical >= 1)

	times, err := CPUTimes(ctx, false)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(times))

	per_cpu, err := CPUTimes(ctx, true)
	assert.NoError(t, err)
	assert.True(t, len(per_cpu) >= 1)
}

func TestDiskUsage(t *testing.T) {
	wd, err := os.Getwd()
	assert.NoError(t, err)

	usage, err := DiskUsage(context.Background(), wd)
	assert.NoError(t, err)
	assert.True(t, usage.Total > 0)

	// The working directory lives on one of the partitions.
	partitions, err := DiskPartitions(context.Background())
	assert.NoError(t, err)
	assert.True(t, len(partitions) > 0)
}

func TestInfoDict(t *testing.T) {
	info, err := Info(context.Background())
	assert.NoError(t, err)

	hostname, pres := info.GetString("Hostname")
	assert.True(t, pres)
	assert.NotEqual(t, "", hostname)

	_, pres = info.Get("BootTime")
	assert.True(t, pres)

	arch, pres := info.GetString("Architecture")
	assert.True(t, pres)
	assert.NotEqual(t, "", arch)
}
