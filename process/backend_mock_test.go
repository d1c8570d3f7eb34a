package process

import (
	"context"
	"sync"
	"syscall"
	"time"

	"www.velocidex.com/golang/psutils/utils"
)

// mockEntry is one scripted process in the MockBackend table.
type mockEntry struct {
	pid         int32
	create_time time.Time
	name        string
	ppid        int32
	status      Status
	cmdline     []string
	uids        Ids
	memory      *MemoryInfo

	// Set by MarkExited: Wait succeeds with exit_code, while the
	// enumeration and create time lookups treat the process as gone.
	exited    bool
	exit_code int32
}

// MockBackend is a process table driven entirely by the test. Every
// operation that would touch the kernel increments a counter so
// tests can assert on exactly how many "kernel" calls happened.
type MockBackend struct {
	UnimplementedBackend
	mu sync.Mutex

	caps      Capability
	max_batch int
	procs     map[int32]*mockEntry
	calls     map[string]int

	// Batch sizes seen by WaitAny, for partitioning assertions.
	wait_any_batches []int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		caps:  CAP_CMDLINE | CAP_MEMORY_INFO | CAP_UIDS | CAP_SUSPEND,
		procs: make(map[int32]*mockEntry),
		calls: make(map[string]int),
	}
}

func (self *MockBackend) WithCapabilities(caps Capability) *MockBackend {
	self.caps = caps
	return self
}

func (self *MockBackend) WithMaxBatch(n int) *MockBackend {
	self.max_batch = n
	return self
}

func (self *MockBackend) AddProcess(
	pid int32, create_time time.Time, name string) *mockEntry {
	self.mu.Lock()
	defer self.mu.Unlock()

	entry := &mockEntry{
		pid:         pid,
		create_time: create_time,
		name:        name,
		status:      STATUS_RUNNING,
		cmdline:     []string{name},
	}
	self.procs[pid] = entry
	return entry
}

func (self *MockBackend) RemoveProcess(pid int32) {
	self.mu.Lock()
	defer self.mu.Unlock()
	delete(self.procs, pid)
}

func (self *MockBackend) MarkExited(pid int32, code int32) {
	self.mu.Lock()
	defer self.mu.Unlock()

	entry, pres := self.procs[pid]
	if pres {
		entry.exited = true
		entry.exit_code = code
	}
}

func (self *MockBackend) CallCount(op string) int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.calls[op]
}

func (self *MockBackend) record(op string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.calls[op]++
}

// lookup finds the entry for a handle, exited ones included.
func (self *MockBackend) lookup(proc *Process) (*mockEntry, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	entry, pres := self.procs[proc.Pid()]
	if !pres || !entry.create_time.Equal(proc.CreateTime()) {
		return nil, false
	}
	return entry, true
}

// entryFor is the attribute read path: one recorded query per
// oneshot scope, or per call outside a scope.
func (self *MockBackend) entryFor(proc *Process) (*mockEntry, error) {
	cached, pres := proc.cacheGet("mock_entry")
	if pres {
		return cached.(*mockEntry), nil
	}

	self.record("query")
	entry, pres := self.lookup(proc)
	if !pres || entry.exited {
		return nil, ErrNoSuchProcess
	}

	// Cache a copy so scoped reads see the state at query time, the
	// way the real backends park their raw query products.
	snapshot := *entry
	proc.cacheSet("mock_entry", &snapshot)
	return &snapshot, nil
}

func (self *MockBackend) Name() string {
	return "mock"
}

func (self *MockBackend) Capabilities() Capability {
	return self.caps
}

func (self *MockBackend) Pids(ctx context.Context) ([]int32, error) {
	entries, err := self.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]int32, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry.Pid)
	}
	return result, nil
}

func (self *MockBackend) ListProcesses(
	ctx context.Context) ([]PidEntry, error) {
	self.record("list")

	self.mu.Lock()
	defer self.mu.Unlock()

	result := []PidEntry{}
	for _, entry := range self.procs {
		if entry.exited {
			continue
		}
		result = append(result, PidEntry{
			Pid:        entry.pid,
			CreateTime: entry.create_time,
		})
	}
	return result, nil
}

func (self *MockBackend) PidExists(
	ctx context.Context, pid int32) (bool, error) {
	self.record("pid_exists")

	self.mu.Lock()
	defer self.mu.Unlock()

	entry, pres := self.procs[pid]
	return pres && !entry.exited, nil
}

func (self *MockBackend) CreateTime(
	ctx context.Context, pid int32) (time.Time, error) {
	self.record("create_time")

	self.mu.Lock()
	defer self.mu.Unlock()

	entry, pres := self.procs[pid]
	if !pres || entry.exited {
		return time.Time{}, ErrNoSuchProcess
	}
	return entry.create_time, nil
}

func (self *MockBackend) ProcName(
	ctx context.Context, proc *Process) (string, error) {
	entry, err := self.entryFor(proc)
	if err != nil {
		return "", err
	}
	return entry.name, nil
}

func (self *MockBackend) Ppid(
	ctx context.Context, proc *Process) (int32, error) {
	entry, err := self.entryFor(proc)
	if err != nil {
		return 0, err
	}
	return entry.ppid, nil
}

func (self *MockBackend) Status(
	ctx context.Context, proc *Process) (Status, error) {
	entry, err := self.entryFor(proc)
	if err != nil {
		return "", err
	}
	return entry.status, nil
}

func (self *MockBackend) Cmdline(
	ctx context.Context, proc *Process) ([]string, error) {
	entry, err := self.entryFor(proc)
	if err != nil {
		return nil, err
	}
	if entry.status == STATUS_ZOMBIE {
		return nil, ErrZombieProcess
	}
	return entry.cmdline, nil
}

func (self *MockBackend) MemoryInfo(
	ctx context.Context, proc *Process) (*MemoryInfo, error) {
	entry, err := self.entryFor(proc)
	if err != nil {
		return nil, err
	}
	if entry.memory == nil {
		return &MemoryInfo{}, nil
	}
	return entry.memory, nil
}

func (self *MockBackend) Uids(
	ctx context.Context, proc *Process) (Ids, error) {
	entry, err := self.entryFor(proc)
	if err != nil {
		return Ids{}, err
	}
	return entry.uids, nil
}

func (self *MockBackend) SendSignal(ctx context.Context,
	proc *Process, sig syscall.Signal) error {
	self.record("send_signal")

	entry, pres := self.lookup(proc)
	if !pres {
		return ErrNoSuchProcess
	}

	if sig == syscall.SIGKILL || sig == syscall.SIGTERM {
		self.mu.Lock()
		entry.exited = true
		entry.exit_code = -int32(sig)
		self.mu.Unlock()
	}
	return nil
}

func (self *MockBackend) Suspend(
	ctx context.Context, proc *Process) error {
	self.record("suspend")

	entry, pres := self.lookup(proc)
	if !pres {
		return ErrNoSuchProcess
	}
	self.mu.Lock()
	entry.status = STATUS_SUSPENDED
	self.mu.Unlock()
	return nil
}

func (self *MockBackend) Resume(
	ctx context.Context, proc *Process) error {
	self.record("resume")

	entry, pres := self.lookup(proc)
	if !pres {
		return ErrNoSuchProcess
	}
	self.mu.Lock()
	entry.status = STATUS_RUNNING
	self.mu.Unlock()
	return nil
}

func (self *MockBackend) Wait(ctx context.Context, proc *Process,
	timeout time.Duration) (int32, error) {
	self.record("wait")

	clock := utils.GetTime()
	start := clock.Now()
	for {
		entry, pres := self.lookup(proc)
		if !pres {
			return -1, nil
		}

		self.mu.Lock()
		exited, code := entry.exited, entry.exit_code
		self.mu.Unlock()
		if exited {
			return code, nil
		}

		elapsed := clock.Now().Sub(start)
		if timeout == 0 || (timeout > 0 && elapsed >= timeout) {
			return -1, &TimeoutExpiredError{
				Pid: proc.Pid(), Elapsed: elapsed}
		}

		utils.SleepWithCtx(ctx, time.Millisecond)
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
	}
}

func (self *MockBackend) MaxWaitBatch() int {
	return self.max_batch
}

func (self *MockBackend) WaitAny(ctx context.Context,
	procs []*Process, timeout time.Duration) (int, error) {
	self.record("wait_any")
	self.mu.Lock()
	self.wait_any_batches = append(self.wait_any_batches, len(procs))
	self.mu.Unlock()

	clock := utils.GetTime()
	start := clock.Now()
	for {
		for i, proc := range procs {
			entry, pres := self.lookup(proc)
			if !pres {
				return i, nil
			}
			self.mu.Lock()
			exited := entry.exited
			self.mu.Unlock()
			if exited {
				return i, nil
			}
		}

		elapsed := clock.Now().Sub(start)
		if elapsed >= timeout {
			return -1, &TimeoutExpiredError{Elapsed: elapsed}
		}

		utils.SleepWithCtx(ctx, time.Millisecond)
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
	}
}

func (self *MockBackend) WaitAnyBatches() []int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]int{}, self.wait_any_batches...)
}
