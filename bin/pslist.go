package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"www.velocidex.com/golang/psutils/json"
	"www.velocidex.com/golang/psutils/process"
)

var (
	pslist_command = app.Command("pslist", "List running processes.")

	pslist_pids = pslist_command.Arg(
		"pids", "Only show these pids.").Int32List()
)

func doPSList() error {
	load_config_or_default()

	ctx := context.Background()
	procs, err := process.ListProcesses(ctx)
	if err != nil {
		return err
	}

	if len(*pslist_pids) > 0 {
		selected := []*process.Process{}
		for _, proc := range procs {
			for _, pid := range *pslist_pids {
				if proc.Pid() == pid {
					selected = append(selected, proc)
					break
				}
			}
		}
		procs = selected
	}

	sort.Slice(procs, func(i, j int) bool {
		return procs[i].Pid() < procs[j].Pid()
	})

	// When piped we emit JSONL instead of a decorated table so the
	// output stays machine readable.
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		for _, proc := range procs {
			scope := proc.Oneshot()
			fmt.Println(json.MustMarshalString(proc.AsDict(ctx)))
			scope.Close()
		}
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{
		"Pid", "Ppid", "Name", "User", "RSS", "VMS", "Created"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	for _, proc := range procs {
		table.Append(pslistRow(ctx, proc))
	}

	table.Render()
	return nil
}

// One row of the pslist table. Attributes we can not read render as
// empty cells, a listing should not fail because one process is
// protected.
func pslistRow(ctx context.Context, proc *process.Process) []string {
	scope := proc.Oneshot()
	defer scope.Close()

	row := []string{fmt.Sprintf("%d", proc.Pid())}

	ppid, err := proc.Ppid(ctx)
	row = append(row, orBlank(fmt.Sprintf("%d", ppid), err))

	name, err := proc.Name(ctx)
	row = append(row, orBlank(name, err))

	username, err := proc.Username(ctx)
	row = append(row, orBlank(username, err))

	mem, err := proc.MemoryInfo(ctx)
	if err != nil {
		row = append(row, "", "")
	} else {
		row = append(row,
			humanize.Bytes(mem.RSS), humanize.Bytes(mem.VMS))
	}

	return append(row, humanize.Time(proc.CreateTime()))
}

func orBlank(value string, err error) string {
	if err != nil {
		return ""
	}
	return value
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case pslist_command.FullCommand():
			FatalIfError(pslist_command, doPSList)

		default:
			return false
		}
		return true
	})
}
