package process

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tableHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "process_table_hits",
		Help: "Number of processes carried over between table snapshots.",
	})

	tableMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "process_table_misses",
		Help: "Number of new processes discovered by table snapshots.",
	})

	tableEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "process_table_evictions",
		Help: "Number of processes dropped from the table because they exited or their pid was recycled.",
	})
)

// Table is a process table that preserves handle identity across
// enumerations: as long as a process stays alive, every snapshot
// hands back the same *Process for it. That keeps oneshot caches,
// dead flags and recorded exit codes attached to the right process
// while pids get recycled underneath.
//
// Tables are explicit objects. Independent subsystems use
// independent tables and nothing is shared behind their back.
type Table struct {
	mu      sync.Mutex
	backend Backend
	lookup  map[int32]*Process
}

func NewTable() *Table {
	return &Table{
		backend: GetBackend(),
		lookup:  make(map[int32]*Process),
	}
}

// Processes enumerates the live process table and reconciles it with
// the cached handles. The lock is never held across the kernel call,
// so concurrent snapshots are safe. They may race each other on
// individual entries, in which case the last writer wins, which is
// harmless because both writers describe the same live process.
func (self *Table) Processes(ctx context.Context) ([]*Process, error) {
	entries, err := self.backend.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int32]bool, len(entries))
	result := make([]*Process, 0, len(entries))
	for _, entry := range entries {
		seen[entry.Pid] = true
		result = append(result, self.reconcile(entry))
	}

	self.evictUnseen(seen)
	return result, nil
}

func (self *Table) reconcile(entry PidEntry) *Process {
	self.mu.Lock()
	defer self.mu.Unlock()

	existing, pres := self.lookup[entry.Pid]
	if pres {
		if existing.CreateTime().Equal(entry.CreateTime) {
			tableHits.Inc()
			return existing
		}

		// Same pid, different creation time: the pid was recycled.
		// The old handle is dead and a fresh one replaces it.
		tableEvictions.Inc()
		existing.markDead()
	}

	tableMisses.Inc()
	fresh := newProcessWithCreateTime(
		self.backend, entry.Pid, entry.CreateTime)
	self.lookup[entry.Pid] = fresh
	return fresh
}

// evictUnseen drops handles whose pid did not show up in the latest
// enumeration. A live process always appears in a full kernel pass,
// so absence means it exited.
func (self *Table) evictUnseen(seen map[int32]bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	for pid, proc := range self.lookup {
		if !seen[pid] {
			tableEvictions.Inc()
			proc.markDead()
			delete(self.lookup, pid)
		}
	}
}

// Get returns the cached handle for a pid, if the last snapshot saw
// it. It never queries the kernel.
func (self *Table) Get(pid int32) (*Process, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	proc, pres := self.lookup[pid]
	return proc, pres
}

// Len is the number of processes seen by the last snapshot.
func (self *Table) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()

	return len(self.lookup)
}
