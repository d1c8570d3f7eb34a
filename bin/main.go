/*
   Velociraptor - Dig Deeper
   Copyright (C) 2019-2025 Rapid7 Inc.

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published
   by the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package main

import (
	"os"
	"runtime/pprof"
	"runtime/trace"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/psutils/config"
	"www.velocidex.com/golang/psutils/logging"
	"www.velocidex.com/golang/psutils/process"
)

type CommandHandler func(command string) bool

var (
	app = kingpin.New("psutils",
		"Cross platform process and system introspection.")

	config_path = app.Flag("config", "The configuration file.").Short('c').
			Envar("PSUTILS_CONFIG").String()

	verbose_flag = app.Flag(
		"verbose", "Enable verbose logging.").Short('v').
		Default("false").Bool()

	logfile_flag = app.Flag(
		"logfile", "Write to this file as well as the usual outputs.").
		String()

	profile_flag = app.Flag(
		"profile", "Write profiling information to this file.").String()

	trace_flag = app.Flag(
		"trace", "Write trace information to this file.").String()

	command_handlers []CommandHandler
)

// Load the config from the usual sources and bring up logging and
// the native process backend. Commands call this first.
func load_config_or_default() *config.Config {
	loader := new(config.Loader).
		WithVerbose(*verbose_flag).
		WithFileLoader(*config_path).
		WithEnvLoader("PSUTILS_CONFIG").
		WithDefaultLoader().
		WithRequiredProcFS()

	config_obj, err := loader.LoadAndValidate()
	kingpin.FatalIfError(err, "Unable to load config.")

	if config_obj.Logging != nil && config_obj.Logging.NoColor {
		logging.NoColor = true
	}

	err = logging.InitLogging(config_obj)
	kingpin.FatalIfError(err, "Logging")

	if *logfile_flag != "" {
		err = logging.AddLogFile(*logfile_flag)
		kingpin.FatalIfError(err, "Unable to open logfile")
	}

	logger := logging.GetLogger(config_obj, &logging.ToolComponent)
	for _, msg := range loader.Messages() {
		logger.Debug("%s", msg)
	}

	err = process.InitBackend(config_obj)
	kingpin.FatalIfError(err, "Process backend")

	return config_obj
}

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate).DefaultEnvars()
	args := os.Args[1:]

	command := kingpin.MustParse(app.Parse(args))

	if !*verbose_flag {
		logging.SuppressLogging = true
	}

	if *trace_flag != "" {
		f, err := os.Create(*trace_flag)
		kingpin.FatalIfError(err, "trace file.")
		trace.Start(f)
		defer trace.Stop()
	}

	if *profile_flag != "" {
		f2, err := os.Create(*profile_flag)
		kingpin.FatalIfError(err, "Profile file.")

		pprof.StartCPUProfile(f2)
		defer pprof.StopCPUProfile()

	}

	for _, command_handler := range command_handlers {
		if command_handler(command) {
			break
		}
	}
}
