package main

import (
	"fmt"

	"www.velocidex.com/golang/psutils/config"
)

var (
	config_command = app.Command(
		"config", "Manipulate the configuration.")

	config_show_command = config_command.Command(
		"show", "Show the effective configuration.")

	config_generate_command = config_command.Command(
		"generate", "Generate a default configuration.")

	config_generate_output = config_generate_command.Flag(
		"output", "Write the config to this file instead of stdout.").
		String()
)

func doShowConfig() error {
	config_obj := load_config_or_default()

	res, err := config.Encode(config_obj)
	if err != nil {
		return err
	}

	fmt.Printf("%v", string(res))
	return nil
}

func doGenerateConfig() error {
	config_obj := config.GetDefaultConfig()

	if *config_generate_output != "" {
		return config.WriteConfigToFile(
			*config_generate_output, config_obj)
	}

	res, err := config.Encode(config_obj)
	if err != nil {
		return err
	}

	fmt.Printf("%v", string(res))
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case config_show_command.FullCommand():
			FatalIfError(config_show_command, doShowConfig)

		case config_generate_command.FullCommand():
			FatalIfError(config_generate_command, doGenerateConfig)

		default:
			return false
		}
		return true
	})
}
