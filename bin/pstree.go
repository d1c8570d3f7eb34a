package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"www.velocidex.com/golang/psutils/tracker"
)

var (
	pstree_command = app.Command("pstree", "Show the process tree.")
)

func doPSTree() error {
	config_obj := load_config_or_default()

	ctx := context.Background()
	proc_tracker := tracker.NewTracker(tracker.Options{
		MaxSize:     int(config_obj.Tracker.MaxSize),
		MaxAge:      time.Duration(config_obj.Tracker.MaxAge) * time.Second,
		MaxChildren: 1000,
		Config:      config_obj,
	})
	defer proc_tracker.Close()

	err := proc_tracker.SyncOnce(ctx)
	if err != nil {
		return err
	}

	entries := proc_tracker.Processes(ctx)

	by_id := make(map[string]*tracker.ProcessEntry)
	for _, entry := range entries {
		by_id[entry.Id] = entry
	}

	// Processes() is pid ordered so both the roots and each child
	// list come out sorted.
	children := make(map[string][]*tracker.ProcessEntry)
	roots := []*tracker.ProcessEntry{}
	for _, entry := range entries {
		_, pres := by_id[entry.ParentId]
		if pres {
			children[entry.ParentId] = append(
				children[entry.ParentId], entry)
		} else {
			roots = append(roots, entry)
		}
	}

	for _, root := range roots {
		renderTree(os.Stdout, root, children, "")
	}

	return nil
}

func renderTree(out io.Writer, entry *tracker.ProcessEntry,
	children map[string][]*tracker.ProcessEntry, indent string) {
	fmt.Fprintf(out, "%v%v %v\n", indent, entry.Pid, entry.Name)

	for _, child := range children[entry.Id] {
		renderTree(out, child, children, indent+"  ")
	}
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case pstree_command.FullCommand():
			FatalIfError(pstree_command, doPSTree)

		default:
			return false
		}
		return true
	})
}
