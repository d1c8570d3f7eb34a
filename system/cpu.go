package system

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
)

type CPUTimesStat struct {
	cpu.TimesStat
}

// CPUTimes reports cumulative cpu times, either aggregated over all
// cpus (percpu false, one element) or one element per cpu.
func CPUTimes(ctx context.Context, percpu bool) ([]CPUTimesStat, error) {
	res, err := cpu.TimesWithContext(ctx, percpu)
	if err != nil {
		return nil, err
	}

	result := make([]CPUTimesStat, 0, len(res))
	for _, i := range res {
		result = append(result, CPUTimesStat{i})
	}
	return result, nil
}

// CPUCounts reports the number of cpus, logical (hyperthreads
// included) or physical cores.
func CPUCounts(ctx context.Context, logical bool) (int, error) {
	return cpu.CountsWithContext(ctx, logical)
}
