package main

import (
	"context"
	"fmt"

	"www.velocidex.com/golang/psutils/json"
	"www.velocidex.com/golang/psutils/process"
)

var (
	show_command = app.Command("show", "Show details about one process.")

	show_pid = show_command.Arg(
		"pid", "The process to show.").Required().Int32()
)

func doShow() error {
	load_config_or_default()

	ctx := context.Background()
	proc, err := process.NewProcess(ctx, *show_pid)
	if err != nil {
		return err
	}

	// All reads below come from the same snapshot.
	scope := proc.Oneshot()
	defer scope.Close()

	result := proc.AsDict(ctx)

	if *verbose_flag {
		environ, err := proc.Environ(ctx)
		if err == nil {
			result.Set("Environ", environ)
		}

		open_files, err := proc.OpenFiles(ctx)
		if err == nil {
			result.Set("OpenFiles", open_files)
		}

		threads, err := proc.Threads(ctx)
		if err == nil {
			result.Set("Threads", threads)
		}
	}

	fmt.Println(string(json.MustMarshalIndent(result)))
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case show_command.FullCommand():
			FatalIfError(show_command, doShow)

		default:
			return false
		}
		return true
	})
}
