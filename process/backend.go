package process

import (
	"context"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/psutils/config"
)

// Capability is a bit set describing the optional operations a
// Backend supports. Required operations (enumeration, identity,
// name, status, signals, wait) are not represented here because
// every backend must provide them.
type Capability uint64

const (
	CAP_EXE Capability = 1 << iota
	CAP_CWD
	CAP_ROOT
	CAP_CMDLINE
	CAP_ENVIRON
	CAP_MEMORY_INFO
	CAP_CPU_TIMES
	CAP_UIDS
	CAP_GIDS
	CAP_GROUPS
	CAP_UMASK
	CAP_TERMINAL
	CAP_NUM_THREADS
	CAP_THREADS
	CAP_NUM_FDS
	CAP_OPEN_FILES
	CAP_RLIMIT
	CAP_SIGNAL_MASKS
	CAP_NICE
	CAP_IO_COUNTERS
	CAP_SUSPEND
	CAP_WAIT_MULTI
)

var capability_names = map[Capability]string{
	CAP_EXE:          "exe",
	CAP_CWD:          "cwd",
	CAP_ROOT:         "root",
	CAP_CMDLINE:      "cmdline",
	CAP_ENVIRON:      "environ",
	CAP_MEMORY_INFO:  "memory_info",
	CAP_CPU_TIMES:    "cpu_times",
	CAP_UIDS:         "uids",
	CAP_GIDS:         "gids",
	CAP_GROUPS:       "groups",
	CAP_UMASK:        "umask",
	CAP_TERMINAL:     "terminal",
	CAP_NUM_THREADS:  "num_threads",
	CAP_THREADS:      "threads",
	CAP_NUM_FDS:      "num_fds",
	CAP_OPEN_FILES:   "open_files",
	CAP_RLIMIT:       "rlimit",
	CAP_SIGNAL_MASKS: "signal_masks",
	CAP_NICE:         "nice",
	CAP_IO_COUNTERS:  "io_counters",
	CAP_SUSPEND:      "suspend",
	CAP_WAIT_MULTI:   "wait_multi",
}

func (self Capability) Has(flag Capability) bool {
	return self&flag == flag
}

func (self Capability) String() string {
	if self == 0 {
		return "none"
	}

	names := []string{}
	for flag, name := range capability_names {
		if self.Has(flag) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// PidEntry is one row of a full process table enumeration. The
// creation time is captured in the same kernel pass as the pid so
// the pair can be used to build reuse safe handles.
type PidEntry struct {
	Pid        int32
	CreateTime time.Time
}

// Backend is the kernel facing surface of this package. Exactly one
// backend is active in a program and it never changes after
// initialization, so callers may cache capability decisions.
//
// Operations taking a *Process must verify the handle still refers
// to the same process (same pid and creation time) before returning
// data, and report ErrNoSuchProcess when it does not.
type Backend interface {
	Name() string
	Capabilities() Capability

	// Enumeration.
	Pids(ctx context.Context) ([]int32, error)
	ListProcesses(ctx context.Context) ([]PidEntry, error)
	PidExists(ctx context.Context, pid int32) (bool, error)
	CreateTime(ctx context.Context, pid int32) (time.Time, error)

	// Required per process attributes.
	ProcName(ctx context.Context, proc *Process) (string, error)
	Ppid(ctx context.Context, proc *Process) (int32, error)
	Status(ctx context.Context, proc *Process) (Status, error)

	// Optional attributes gated by capabilities.
	Exe(ctx context.Context, proc *Process) (string, error)
	Cwd(ctx context.Context, proc *Process) (string, error)
	Root(ctx context.Context, proc *Process) (string, error)
	Cmdline(ctx context.Context, proc *Process) ([]string, error)
	Environ(ctx context.Context, proc *Process) (*ordereddict.Dict, error)
	MemoryInfo(ctx context.Context, proc *Process) (*MemoryInfo, error)
	CPUTimes(ctx context.Context, proc *Process) (*CPUTimes, error)
	Uids(ctx context.Context, proc *Process) (Ids, error)
	Gids(ctx context.Context, proc *Process) (Ids, error)
	Groups(ctx context.Context, proc *Process) ([]int32, error)
	Umask(ctx context.Context, proc *Process) (uint32, error)
	Terminal(ctx context.Context, proc *Process) (string, error)
	NumThreads(ctx context.Context, proc *Process) (int32, error)
	Threads(ctx context.Context, proc *Process) ([]Thread, error)
	NumFDs(ctx context.Context, proc *Process) (int32, error)
	OpenFiles(ctx context.Context, proc *Process) ([]OpenFile, error)
	Rlimit(ctx context.Context, proc *Process, resource int) (Rlimit, error)
	SetRlimit(ctx context.Context, proc *Process,
		resource int, limits Rlimit) error
	SignalMasks(ctx context.Context, proc *Process) (*SignalMasks, error)
	Nice(ctx context.Context, proc *Process) (int32, error)
	SetNice(ctx context.Context, proc *Process, priority int32) error
	IOCounters(ctx context.Context, proc *Process) (*IOCounters, error)

	// Lifecycle control.
	SendSignal(ctx context.Context, proc *Process, sig syscall.Signal) error
	Suspend(ctx context.Context, proc *Process) error
	Resume(ctx context.Context, proc *Process) error

	// Wait blocks until the process exits or the timeout passes. The
	// exit code is negative when the process died to a signal and -1
	// when it can not be recovered (not our child on posix systems).
	Wait(ctx context.Context, proc *Process,
		timeout time.Duration) (int32, error)

	// WaitAny blocks until any one of procs exits, returning its
	// index. Only meaningful with CAP_WAIT_MULTI and at most
	// MaxWaitBatch() processes per call.
	WaitAny(ctx context.Context, procs []*Process,
		timeout time.Duration) (int, error)
	MaxWaitBatch() int
}

// UnimplementedBackend reports ErrNotImplemented from every optional
// operation without touching the kernel. Platform backends embed it
// so they only implement what their capability set declares.
type UnimplementedBackend struct{}

func (self UnimplementedBackend) Capabilities() Capability {
	return 0
}

func (self UnimplementedBackend) Exe(
	ctx context.Context, proc *Process) (string, error) {
	return "", ErrNotImplemented
}

func (self UnimplementedBackend) Cwd(
	ctx context.Context, proc *Process) (string, error) {
	return "", ErrNotImplemented
}

func (self UnimplementedBackend) Root(
	ctx context.Context, proc *Process) (string, error) {
	return "", ErrNotImplemented
}

func (self UnimplementedBackend) Cmdline(
	ctx context.Context, proc *Process) ([]string, error) {
	return nil, ErrNotImplemented
}

func (self UnimplementedBackend) Environ(
	ctx context.Context, proc *Process) (*ordereddict.Dict, error) {
	return nil, ErrNotImplemented
}

func (self UnimplementedBackend) MemoryInfo(
	ctx context.Context, proc *Process) (*MemoryInfo, error) {
	return nil, ErrNotImplemented
}

func (self UnimplementedBackend) CPUTimes(
	ctx context.Context, proc *Process) (*CPUTimes, error) {
	return nil, ErrNotImplemented
}

func (self UnimplementedBackend) Uids(
	ctx context.Context, proc *Process) (Ids, error) {
	return Ids{}, ErrNotImplemented
}

func (self UnimplementedBackend) Gids(
	ctx context.Context, proc *Process) (Ids, error) {
	return Ids{}, ErrNotImplemented
}

func (self UnimplementedBackend) Groups(
	ctx context.Context, proc *Process) ([]int32, error) {
	return nil, ErrNotImplemented
}

func (self UnimplementedBackend) Umask(
	ctx context.Context, proc *Process) (uint32, error) {
	return 0, ErrNotImplemented
}

func (self UnimplementedBackend) Terminal(
	ctx context.Context, proc *Process) (string, error) {
	return "", ErrNotImplemented
}

func (self UnimplementedBackend) NumThreads(
	ctx context.Context, proc *Process) (int32, error) {
	return 0, ErrNotImplemented
}

func (self UnimplementedBackend) Threads(
	ctx context.Context, proc *Process) ([]Thread, error) {
	return nil, ErrNotImplemented
}

func (self UnimplementedBackend) NumFDs(
	ctx context.Context, proc *Process) (int32, error) {
	return 0, ErrNotImplemented
}

func (self UnimplementedBackend) OpenFiles(
	ctx context.Context, proc *Process) ([]OpenFile, error) {
	return nil, ErrNotImplemented
}

func (self UnimplementedBackend) Rlimit(
	ctx context.Context, proc *Process, resource int) (Rlimit, error) {
	return Rlimit{}, ErrNotImplemented
}

func (self UnimplementedBackend) SetRlimit(
	ctx context.Context, proc *Process,
	resource int, limits Rlimit) error {
	return ErrNotImplemented
}

func (self UnimplementedBackend) SignalMasks(
	ctx context.Context, proc *Process) (*SignalMasks, error) {
	return nil, ErrNotImplemented
}

func (self UnimplementedBackend) Nice(
	ctx context.Context, proc *Process) (int32, error) {
	return 0, ErrNotImplemented
}

func (self UnimplementedBackend) SetNice(
	ctx context.Context, proc *Process, priority int32) error {
	return ErrNotImplemented
}

func (self UnimplementedBackend) IOCounters(
	ctx context.Context, proc *Process) (*IOCounters, error) {
	return nil, ErrNotImplemented
}

func (self UnimplementedBackend) Suspend(
	ctx context.Context, proc *Process) error {
	return ErrNotImplemented
}

func (self UnimplementedBackend) Resume(
	ctx context.Context, proc *Process) error {
	return ErrNotImplemented
}

func (self UnimplementedBackend) WaitAny(
	ctx context.Context, procs []*Process,
	timeout time.Duration) (int, error) {
	return -1, ErrNotImplemented
}

func (self UnimplementedBackend) MaxWaitBatch() int {
	return 0
}

var (
	g_mu      sync.Mutex
	g_backend Backend
)

// InitBackend installs the native backend for this platform. It is
// called once at startup. Library users that never call it get a
// default configured backend on first use.
func InitBackend(config_obj *config.Config) error {
	g_mu.Lock()
	defer g_mu.Unlock()

	backend, err := NewNativeBackend(config_obj)
	if err != nil {
		return err
	}
	g_backend = backend
	return nil
}

func GetBackend() Backend {
	g_mu.Lock()
	defer g_mu.Unlock()

	if g_backend == nil {
		backend, err := NewNativeBackend(config.GetDefaultConfig())
		if err != nil {
			// No fallback exists if the native backend can not
			// start. Surface the failure on first real use.
			backend = &failedBackend{UnimplementedBackend{}, err}
		}
		g_backend = backend
	}
	return g_backend
}

// SetBackendForTests swaps the global backend and returns a closer
// restoring the previous one.
func SetBackendForTests(backend Backend) func() {
	g_mu.Lock()
	defer g_mu.Unlock()

	old_backend := g_backend
	g_backend = backend

	return func() {
		g_mu.Lock()
		defer g_mu.Unlock()
		g_backend = old_backend
	}
}

// failedBackend remembers an initialization error and reports it
// from the operations a real backend would have served.
type failedBackend struct {
	UnimplementedBackend
	err error
}

func (self *failedBackend) Name() string {
	return "failed"
}

func (self *failedBackend) Pids(ctx context.Context) ([]int32, error) {
	return nil, self.err
}

func (self *failedBackend) ListProcesses(
	ctx context.Context) ([]PidEntry, error) {
	return nil, self.err
}

func (self *failedBackend) PidExists(
	ctx context.Context, pid int32) (bool, error) {
	return false, self.err
}

func (self *failedBackend) CreateTime(
	ctx context.Context, pid int32) (time.Time, error) {
	return time.Time{}, self.err
}

func (self *failedBackend) ProcName(
	ctx context.Context, proc *Process) (string, error) {
	return "", self.err
}

func (self *failedBackend) Ppid(
	ctx context.Context, proc *Process) (int32, error) {
	return 0, self.err
}

func (self *failedBackend) Status(
	ctx context.Context, proc *Process) (Status, error) {
	return "", self.err
}

func (self *failedBackend) SendSignal(
	ctx context.Context, proc *Process, sig syscall.Signal) error {
	return self.err
}

func (self *failedBackend) Wait(ctx context.Context, proc *Process,
	timeout time.Duration) (int32, error) {
	return -1, self.err
}
