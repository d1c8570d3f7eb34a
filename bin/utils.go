package main

import (
	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

func FatalIfError(command *kingpin.CmdClause, cb func() error) {
	err := cb()
	kingpin.FatalIfError(err, "%s", command.FullCommand())
}
