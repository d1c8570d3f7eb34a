package logging

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Keep the last logs in memory so tests and the debug commands can
// inspect them.
const max_memory_logs = 1000

var (
	memory_mu   sync.Mutex
	memory_logs []string
)

type memoryHook struct {
	component string
}

func (self *memoryHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (self *memoryHook) Fire(entry *logrus.Entry) error {
	line := fmt.Sprintf("%s %s [%s] %s",
		entry.Time.Format(time.RFC3339),
		entry.Level.String(),
		self.component,
		Eval(entry.Message, false))

	memory_mu.Lock()
	defer memory_mu.Unlock()

	memory_logs = append(memory_logs, line)
	if len(memory_logs) > max_memory_logs {
		memory_logs = memory_logs[len(memory_logs)-max_memory_logs:]
	}
	return nil
}

func GetMemoryLogs() []string {
	memory_mu.Lock()
	defer memory_mu.Unlock()

	return append([]string{}, memory_logs...)
}

func ClearMemoryLogs() {
	memory_mu.Lock()
	defer memory_mu.Unlock()

	memory_logs = nil
}
