package system

import (
	"context"

	"github.com/shirou/gopsutil/v4/disk"
)

type UsageStat struct {
	disk.UsageStat
}

type PartitionStat struct {
	disk.PartitionStat
}

func DiskUsage(ctx context.Context, mount string) (*UsageStat, error) {
	usage, err := disk.UsageWithContext(ctx, mount)
	if err != nil {
		return nil, err
	}
	return &UsageStat{*usage}, nil
}

func DiskPartitions(ctx context.Context) ([]PartitionStat, error) {
	res, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	result := make([]PartitionStat, 0, len(res))
	for _, i := range res {
		result = append(result, PartitionStat{i})
	}
	return result, nil
}
