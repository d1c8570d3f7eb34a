package main

import (
	"context"
	"fmt"

	"www.velocidex.com/golang/psutils/json"
	"www.velocidex.com/golang/psutils/system"
)

var (
	info_command = app.Command("info", "Show system information.")
)

func doInfo() error {
	load_config_or_default()

	ctx := context.Background()
	info, err := system.Info(ctx)
	if err != nil {
		return err
	}

	mem, err := system.VirtualMemory(ctx)
	if err == nil {
		info.Set("Memory", mem)
	}

	swap, err := system.SwapMemory(ctx)
	if err == nil {
		info.Set("Swap", swap)
	}

	count, err := system.CPUCounts(ctx, true)
	if err == nil {
		info.Set("CPUCount", count)
	}

	// Not available on all platforms.
	load_avg, err := system.LoadAvg(ctx)
	if err == nil {
		info.Set("LoadAvg", load_avg)
	}

	fmt.Println(string(json.MustMarshalIndent(info)))
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case info_command.FullCommand():
			FatalIfError(info_command, doInfo)

		default:
			return false
		}
		return true
	})
}
