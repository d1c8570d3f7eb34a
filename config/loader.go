package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"runtime"

	errors "github.com/go-errors/errors"
)

// A hard error causes the loader to stop immediately.
type HardError struct {
	Err error
}

func (self HardError) Error() string {
	return self.Err.Error()
}

type loaderFunction struct {
	name        string
	loader_func func(self *Loader) (*Config, error)
}

type validatorFunction struct {
	name      string
	validator func(self *Loader, config_obj *Config) error
}

// Loads the configuration from multiple sources in order, the first
// source that produces a config wins. Validators run on the result.
type Loader struct {
	verbose bool

	loaders    []loaderFunction
	validators []validatorFunction

	// Messages accumulated while loading. Logging is not
	// initialized yet at this point so the caller replays these
	// into the log once it is.
	messages []string
}

func (self *Loader) Copy() *Loader {
	return &Loader{
		verbose:    self.verbose,
		loaders:    append([]loaderFunction{}, self.loaders...),
		validators: append([]validatorFunction{}, self.validators...),
	}
}

func (self *Loader) Log(format string, v ...interface{}) {
	self.messages = append(self.messages, fmt.Sprintf(format, v...))
}

func (self *Loader) Messages() []string {
	return self.messages
}

func (self *Loader) WithVerbose(verbose bool) *Loader {
	self = self.Copy()
	self.verbose = verbose
	return self
}

func (self *Loader) WithFileLoader(filename string) *Loader {
	if filename == "" {
		return self
	}

	self = self.Copy()
	self.loaders = append(self.loaders, loaderFunction{
		name: "FileLoader",
		loader_func: func(self *Loader) (*Config, error) {
			self.Log("Loading config from file %v", filename)

			data, err := ioutil.ReadFile(filename)
			if err != nil {
				// A specified file that can not be read is a
				// hard error, we do not want to silently fall
				// back to defaults.
				return nil, HardError{err}
			}

			return ParseConfigFromString(data)
		}})
	return self
}

func (self *Loader) WithEnvLoader(env_var string) *Loader {
	if env_var == "" {
		return self
	}

	self = self.Copy()
	self.loaders = append(self.loaders, loaderFunction{
		name: "EnvLoader",
		loader_func: func(self *Loader) (*Config, error) {
			env_value, pres := os.LookupEnv(env_var)
			if !pres {
				return nil, fmt.Errorf("Env var %v is not set", env_var)
			}

			self.Log("Loading config from env %v (%v)", env_var, env_value)

			data, err := ioutil.ReadFile(env_value)
			if err != nil {
				return nil, HardError{err}
			}

			return ParseConfigFromString(data)
		}})
	return self
}

func (self *Loader) WithDefaultLoader() *Loader {
	self = self.Copy()
	self.loaders = append(self.loaders, loaderFunction{
		name: "DefaultLoader",
		loader_func: func(self *Loader) (*Config, error) {
			return GetDefaultConfig(), nil
		}})
	return self
}

func (self *Loader) WithCustomValidator(
	name string, validator func(config_obj *Config) error) *Loader {

	self = self.Copy()
	self.validators = append(self.validators, validatorFunction{
		name: name,
		validator: func(self *Loader, config_obj *Config) error {
			return validator(config_obj)
		}})
	return self
}

// Check the proc filesystem is actually reachable. Only meaningful on
// Linux - other platforms query the kernel directly.
func (self *Loader) WithRequiredProcFS() *Loader {
	self = self.Copy()
	self.validators = append(self.validators, validatorFunction{
		name: "RequiredProcFS",
		validator: func(self *Loader, config_obj *Config) error {
			if runtime.GOOS != "linux" {
				return nil
			}

			st, err := os.Stat(config_obj.ProcFS)
			if err != nil {
				return HardError{fmt.Errorf(
					"procfs not accessible at %v: %w",
					config_obj.ProcFS, err)}
			}

			if !st.IsDir() {
				return HardError{fmt.Errorf(
					"procfs at %v is not a directory", config_obj.ProcFS)}
			}

			return nil
		}})
	return self
}

func (self *Loader) Validate(config_obj *Config) error {
	EnsureDefaults(config_obj)

	for _, validator := range self.validators {
		if self.verbose {
			self.Log("Validating with %v", validator.name)
		}

		err := validator.validator(self, config_obj)
		if err != nil {
			hard, ok := err.(HardError)
			if ok {
				return hard.Err
			}
			return err
		}
	}

	return nil
}

func (self *Loader) LoadAndValidate() (*Config, error) {
	for _, loader := range self.loaders {
		if self.verbose {
			self.Log("Trying to load config with %v", loader.name)
		}

		result, err := loader.loader_func(self)
		if err == nil {
			return result, self.Validate(result)
		}

		hard, ok := err.(HardError)
		if ok {
			return nil, hard.Err
		}
	}

	return nil, errors.New("Unable to load config from any source")
}
