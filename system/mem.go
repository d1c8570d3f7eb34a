package system

import (
	"context"

	"github.com/shirou/gopsutil/v4/mem"
)

type VirtualMemoryStat struct {
	mem.VirtualMemoryStat
}

type SwapMemoryStat struct {
	mem.SwapMemoryStat
}

func VirtualMemory(ctx context.Context) (*VirtualMemoryStat, error) {
	res, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &VirtualMemoryStat{*res}, nil
}

func SwapMemory(ctx context.Context) (*SwapMemoryStat, error) {
	res, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &SwapMemoryStat{*res}, nil
}
