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

package logging

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/Velocidex/file-rotatelogs"
	"github.com/mattn/go-isatty"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"www.velocidex.com/golang/psutils/config"
)

var (
	SuppressLogging = false
	NoColor         = false

	GenericComponent = "Psutils"
	ToolComponent    = "PsutilsTool"
	TrackerComponent = "PsutilsTracker"

	mu      sync.Mutex
	Manager *LogManager

	tag_regex         = regexp.MustCompile(`<(red|green|yellow|cyan)>`)
	closing_tag_regex = regexp.MustCompile(`</>`)

	ansi_map = map[string]string{
		"red":    "\x1b[31m",
		"green":  "\x1b[32m",
		"yellow": "\x1b[33m",
		"cyan":   "\x1b[36m",
	}
)

// A LogContext is a single component's logger. Components get their
// own log files so operators can control retention per component.
type LogContext struct {
	*logrus.Logger
}

func (self *LogContext) Debug(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Debug(fmt.Sprintf(format, v...))
	}
}

func (self *LogContext) Info(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Info(fmt.Sprintf(format, v...))
	}
}

func (self *LogContext) Warn(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Warn(fmt.Sprintf(format, v...))
	}
}

func (self *LogContext) Error(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Error(fmt.Sprintf(format, v...))
	}
}

type LogManager struct {
	mu       sync.Mutex
	contexts map[*string]*LogContext
}

func (self *LogManager) GetContext(
	config_obj *config.Config, component *string) *LogContext {
	self.mu.Lock()
	defer self.mu.Unlock()

	ctx, pres := self.contexts[component]
	if !pres {
		new_ctx, err := self.makeNewComponent(config_obj, component)
		if err != nil {
			panic(err)
		}
		self.contexts[component] = new_ctx
		ctx = new_ctx
	}
	return ctx
}

func (self *LogManager) makeNewComponent(
	config_obj *config.Config,
	component *string) (*LogContext, error) {

	logger := logrus.New()
	logger.Out = ioutil.Discard
	logger.Level = logrus.InfoLevel

	if config_obj != nil && config_obj.Logging != nil &&
		config_obj.Logging.Debug {
		logger.Level = logrus.DebugLevel
	}

	if !SuppressLogging {
		logger.Hooks.Add(&stderrHook{
			formatter: &Formatter{stderr: true},
			level:     logger.Level,
		})
	}

	logger.Hooks.Add(&memoryHook{component: *component})

	if config_obj != nil && config_obj.Logging != nil &&
		config_obj.Logging.OutputDirectory != "" {

		base_filename := filepath.Join(
			config_obj.Logging.OutputDirectory,
			strings.ToLower(*component))

		rotator, err := rotatelogs.New(
			base_filename+".log.%Y%m%d%H%M",
			rotatelogs.WithLinkName(base_filename+".log"),
			rotatelogs.WithMaxAge(
				time.Duration(config_obj.Logging.MaxAge)*time.Second),
			rotatelogs.WithRotationTime(
				time.Duration(config_obj.Logging.RotationTime)*time.Second),
		)
		if err != nil {
			return nil, err
		}

		hook := lfshook.NewHook(lfshook.WriterMap{
			logrus.DebugLevel: rotator,
			logrus.InfoLevel:  rotator,
			logrus.WarnLevel:  rotator,
			logrus.ErrorLevel: rotator,
		}, &Formatter{})
		logger.Hooks.Add(hook)
	}

	return &LogContext{logger}, nil
}

func InitLogging(config_obj *config.Config) error {
	mu.Lock()
	Manager = &LogManager{
		contexts: make(map[*string]*LogContext),
	}

	for _, component := range []*string{
		&GenericComponent, &ToolComponent, &TrackerComponent} {
		logger, err := Manager.makeNewComponent(config_obj, component)
		if err != nil {
			mu.Unlock()
			return err
		}
		Manager.contexts[component] = logger
	}
	mu.Unlock()

	return nil
}

func GetLogger(config_obj *config.Config, component *string) *LogContext {
	mu.Lock()
	lm := Manager
	mu.Unlock()

	if lm == nil {
		err := InitLogging(config_obj)
		if err != nil {
			panic(err)
		}

		mu.Lock()
		lm = Manager
		mu.Unlock()
	}
	return lm.GetContext(config_obj, component)
}

// Add an extra plain log file to all components. Used by the --logfile
// flag.
func AddLogFile(filename string) error {
	fd, err := os.OpenFile(filename,
		os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}

	hook := lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: fd,
		logrus.InfoLevel:  fd,
		logrus.WarnLevel:  fd,
		logrus.ErrorLevel: fd,
	}, &Formatter{})

	mu.Lock()
	defer mu.Unlock()

	if Manager == nil {
		return nil
	}

	for _, ctx := range Manager.contexts {
		ctx.Logger.Hooks.Add(hook)
	}
	return nil
}

// Render or strip the <green>...</> style markup.
func Eval(message string, with_color bool) string {
	if with_color {
		message = tag_regex.ReplaceAllStringFunc(
			message, func(hit string) string {
				name := hit[1 : len(hit)-1]
				return ansi_map[name]
			})
		return closing_tag_regex.ReplaceAllString(message, "\x1b[0m")
	}

	message = tag_regex.ReplaceAllString(message, "")
	return closing_tag_regex.ReplaceAllString(message, "")
}

type Formatter struct {
	stderr bool
}

func (self *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	with_color := self.stderr && !NoColor &&
		isatty.IsTerminal(os.Stderr.Fd())

	message := Eval(entry.Message, with_color)

	fields := ""
	if len(entry.Data) > 0 {
		serialized, err := entryDataString(entry.Data)
		if err == nil {
			fields = " " + serialized
		}
	}

	return []byte(fmt.Sprintf("[%s] %s %s%s\n",
		strings.ToUpper(entry.Level.String()),
		entry.Time.Format(time.RFC3339),
		message, fields)), nil
}

func entryDataString(data logrus.Fields) (string, error) {
	parts := make([]string, 0, len(data))
	for _, k := range sortedKeys(data) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " "), nil
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type stderrHook struct {
	formatter logrus.Formatter
	level     logrus.Level
}

func (self *stderrHook) Levels() []logrus.Level {
	result := []logrus.Level{}
	for _, level := range logrus.AllLevels {
		if level <= self.level {
			result = append(result, level)
		}
	}
	return result
}

func (self *stderrHook) Fire(entry *logrus.Entry) error {
	serialized, err := self.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = os.Stderr.Write(serialized)
	return err
}
