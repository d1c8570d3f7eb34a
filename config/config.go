package config

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/Velocidex/yaml/v2"
	"www.velocidex.com/golang/psutils/utils"
)

// Settings for log file management.
type LoggingConfig struct {
	// Directory to write log files in. If empty logs only go to
	// stderr.
	OutputDirectory string `json:"output_directory,omitempty"`

	// Seconds to keep old log files around for.
	MaxAge int64 `json:"max_age,omitempty"`

	// Seconds between log file rotation.
	RotationTime int64 `json:"rotation_time,omitempty"`

	Debug   bool `json:"debug,omitempty"`
	NoColor bool `json:"no_color,omitempty"`
}

// Settings for the process tracker.
type TrackerConfig struct {
	// Maximum number of processes we hold in memory.
	MaxSize int64 `json:"max_size,omitempty"`

	// Seconds an exited process lingers in the tracker before
	// being expired.
	MaxAge int64 `json:"max_age,omitempty"`

	// Seconds between full process table refreshes.
	SyncPeriod int64 `json:"sync_period,omitempty"`
}

type Config struct {
	// Root of the proc pseudo filesystem. Containers and tests
	// point this at an alternative tree.
	ProcFS string `json:"procfs,omitempty"`

	// Root of the sys pseudo filesystem.
	SysFS string `json:"sysfs,omitempty"`

	Logging *LoggingConfig `json:"Logging,omitempty"`
	Tracker *TrackerConfig `json:"Tracker,omitempty"`
}

func GetDefaultConfig() *Config {
	result := &Config{
		ProcFS: "/proc",
		SysFS:  "/sys",
		Logging: &LoggingConfig{
			MaxAge:       31536000, // One year.
			RotationTime: 604800,   // One week.
		},
		Tracker: &TrackerConfig{
			MaxSize:    10000,
			MaxAge:     3600,
			SyncPeriod: 10,
		},
	}

	return result
}

// Fill in any sections the user left out with the defaults so
// consumers do not need to nil check each section.
func EnsureDefaults(config_obj *Config) {
	defaults := GetDefaultConfig()

	if config_obj.ProcFS == "" {
		config_obj.ProcFS = defaults.ProcFS
	}

	if config_obj.SysFS == "" {
		config_obj.SysFS = defaults.SysFS
	}

	if config_obj.Logging == nil {
		config_obj.Logging = defaults.Logging
	}

	if config_obj.Logging.MaxAge == 0 {
		config_obj.Logging.MaxAge = defaults.Logging.MaxAge
	}

	if config_obj.Logging.RotationTime == 0 {
		config_obj.Logging.RotationTime = defaults.Logging.RotationTime
	}

	if config_obj.Tracker == nil {
		config_obj.Tracker = defaults.Tracker
	}

	if config_obj.Tracker.MaxSize == 0 {
		config_obj.Tracker.MaxSize = defaults.Tracker.MaxSize
	}

	if config_obj.Tracker.MaxAge == 0 {
		config_obj.Tracker.MaxAge = defaults.Tracker.MaxAge
	}

	if config_obj.Tracker.SyncPeriod == 0 {
		config_obj.Tracker.SyncPeriod = defaults.Tracker.SyncPeriod
	}
}

func ParseConfigFromString(config_string []byte) (*Config, error) {
	result := &Config{}
	err := yaml.UnmarshalStrict(config_string, result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.InvalidConfigError, err)
	}

	EnsureDefaults(result)

	return result, nil
}

func Encode(config_obj *Config) ([]byte, error) {
	res, err := yaml.Marshal(config_obj)
	return res, err
}

func WriteConfigToFile(filename string, config_obj *Config) error {
	bytes, err := Encode(config_obj)
	if err != nil {
		return err
	}
	err = ioutil.WriteFile(filename, bytes, os.ModePerm)
	if err != nil {
		return err
	}

	return nil
}
