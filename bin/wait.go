package main

import (
	"context"
	"fmt"

	"www.velocidex.com/golang/psutils/process"
)

var (
	wait_command = app.Command("wait", "Wait for processes to exit.")

	wait_timeout = wait_command.Flag(
		"timeout", "Give up after this long. Negative waits forever.").
		Default("-1s").Duration()

	wait_pids = wait_command.Arg(
		"pids", "Process ids to wait for.").Required().Int32List()
)

func doWait() error {
	load_config_or_default()

	ctx := context.Background()
	procs := []*process.Process{}
	for _, pid := range *wait_pids {
		proc, err := process.NewProcess(ctx, pid)
		if err != nil {
			return fmt.Errorf("pid %d: %w", pid, err)
		}
		procs = append(procs, proc)
	}

	_, alive, err := process.WaitProcs(ctx, procs, *wait_timeout,
		func(proc *process.Process) {
			// The exit code was recorded when the process was
			// reaped so this does not block.
			code, _ := proc.Wait(ctx, 0)
			fmt.Printf("pid %d exited with code %d\n", proc.Pid(), code)
		})
	if err != nil {
		return err
	}

	for _, proc := range alive {
		fmt.Printf("pid %d is still running\n", proc.Pid())
	}

	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case wait_command.FullCommand():
			FatalIfError(wait_command, doWait)

		default:
			return false
		}
		return true
	})
}
