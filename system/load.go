package system

import (
	"context"

	"github.com/shirou/gopsutil/v4/load"
)

type LoadAvgStat struct {
	load.AvgStat
}

// LoadAvg reports the 1, 5 and 15 minute load averages. Windows has
// no kernel load average so the call reports an error there.
func LoadAvg(ctx context.Context) (*LoadAvgStat, error) {
	res, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &LoadAvgStat{*res}, nil
}
