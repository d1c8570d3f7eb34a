package process

import (
	"context"

	"github.com/Velocidex/ordereddict"
)

// Status is the scheduler state of a process, normalized across
// platforms to the linux naming.
type Status string

const (
	STATUS_RUNNING      Status = "running"
	STATUS_SLEEPING     Status = "sleeping"
	STATUS_DISK_SLEEP   Status = "disk-sleep"
	STATUS_STOPPED      Status = "stopped"
	STATUS_TRACING_STOP Status = "tracing-stop"
	STATUS_ZOMBIE       Status = "zombie"
	STATUS_DEAD         Status = "dead"
	STATUS_WAKE_KILL    Status = "wake-kill"
	STATUS_WAKING       Status = "waking"
	STATUS_IDLE         Status = "idle"
	STATUS_PARKED       Status = "parked"
	STATUS_LOCKED       Status = "locked"
	STATUS_WAITING      Status = "waiting"
	STATUS_SUSPENDED    Status = "suspended"
)

type MemoryInfo struct {
	RSS    uint64 `json:"rss"`    // bytes
	VMS    uint64 `json:"vms"`    // bytes
	Shared uint64 `json:"shared"` // bytes
	Text   uint64 `json:"text"`   // bytes
	Data   uint64 `json:"data"`   // bytes
}

type CPUTimes struct {
	User           float64 `json:"user"`   // seconds
	System         float64 `json:"system"` // seconds
	ChildrenUser   float64 `json:"childrenUser"`
	ChildrenSystem float64 `json:"childrenSystem"`
}

// Total is the time the process itself spent on CPU, not counting
// reaped children.
func (self *CPUTimes) Total() float64 {
	return self.User + self.System
}

// Ids carries the real, effective and saved variants of a uid or
// gid.
type Ids struct {
	Real      int32 `json:"real"`
	Effective int32 `json:"effective"`
	Saved     int32 `json:"saved"`
}

type Thread struct {
	Tid    int32   `json:"tid"`
	User   float64 `json:"user"`   // seconds
	System float64 `json:"system"` // seconds
}

type OpenFile struct {
	Path string `json:"path"`
	Fd   int32  `json:"fd"`
}

// RLIM_INFINITY marks an unlimited resource limit.
const RLIM_INFINITY = ^uint64(0)

type Rlimit struct {
	Soft uint64 `json:"soft"`
	Hard uint64 `json:"hard"`
}

// SignalMasks are the per thread and process wide signal bit masks.
// Bit N-1 corresponds to signal number N.
type SignalMasks struct {
	Pending        uint64 `json:"pending"`
	ProcessPending uint64 `json:"processPending"`
	Blocked        uint64 `json:"blocked"`
	Ignored        uint64 `json:"ignored"`
	Caught         uint64 `json:"caught"`
}

type IOCounters struct {
	ReadCount  uint64 `json:"readCount"`
	WriteCount uint64 `json:"writeCount"`
	ReadBytes  uint64 `json:"readBytes"`  // bytes
	WriteBytes uint64 `json:"writeBytes"` // bytes
}

// Name is the short program name as the kernel reports it (possibly
// truncated, 15 chars on linux).
func (self *Process) Name(ctx context.Context) (string, error) {
	if err := self.checkDead(); err != nil {
		return "", err
	}
	res, err := self.backend.ProcName(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Ppid(ctx context.Context) (int32, error) {
	if err := self.checkDead(); err != nil {
		return 0, err
	}
	res, err := self.backend.Ppid(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Status(ctx context.Context) (Status, error) {
	if err := self.checkDead(); err != nil {
		return "", err
	}
	res, err := self.backend.Status(ctx, self)
	return res, self.noteError(err)
}

// Exe is the absolute path of the program image. Needs CAP_EXE.
func (self *Process) Exe(ctx context.Context) (string, error) {
	if !self.HasCapability(CAP_EXE) {
		return "", notImplemented("exe")
	}
	if err := self.checkDead(); err != nil {
		return "", err
	}
	res, err := self.backend.Exe(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Cwd(ctx context.Context) (string, error) {
	if !self.HasCapability(CAP_CWD) {
		return "", notImplemented("cwd")
	}
	if err := self.checkDead(); err != nil {
		return "", err
	}
	res, err := self.backend.Cwd(ctx, self)
	return res, self.noteError(err)
}

// Root is the process' filesystem root (differs from / in chroots).
func (self *Process) Root(ctx context.Context) (string, error) {
	if !self.HasCapability(CAP_ROOT) {
		return "", notImplemented("root")
	}
	if err := self.checkDead(); err != nil {
		return "", err
	}
	res, err := self.backend.Root(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Cmdline(ctx context.Context) ([]string, error) {
	if !self.HasCapability(CAP_CMDLINE) {
		return nil, notImplemented("cmdline")
	}
	if err := self.checkDead(); err != nil {
		return nil, err
	}
	res, err := self.backend.Cmdline(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Environ(ctx context.Context) (*ordereddict.Dict, error) {
	if !self.HasCapability(CAP_ENVIRON) {
		return nil, notImplemented("environ")
	}
	if err := self.checkDead(); err != nil {
		return nil, err
	}
	res, err := self.backend.Environ(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) MemoryInfo(ctx context.Context) (*MemoryInfo, error) {
	if !self.HasCapability(CAP_MEMORY_INFO) {
		return nil, notImplemented("memory_info")
	}
	if err := self.checkDead(); err != nil {
		return nil, err
	}
	res, err := self.backend.MemoryInfo(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) CPUTimes(ctx context.Context) (*CPUTimes, error) {
	if !self.HasCapability(CAP_CPU_TIMES) {
		return nil, notImplemented("cpu_times")
	}
	if err := self.checkDead(); err != nil {
		return nil, err
	}
	res, err := self.backend.CPUTimes(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Uids(ctx context.Context) (Ids, error) {
	if !self.HasCapability(CAP_UIDS) {
		return Ids{}, notImplemented("uids")
	}
	if err := self.checkDead(); err != nil {
		return Ids{}, err
	}
	res, err := self.backend.Uids(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Gids(ctx context.Context) (Ids, error) {
	if !self.HasCapability(CAP_GIDS) {
		return Ids{}, notImplemented("gids")
	}
	if err := self.checkDead(); err != nil {
		return Ids{}, err
	}
	res, err := self.backend.Gids(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Groups(ctx context.Context) ([]int32, error) {
	if !self.HasCapability(CAP_GROUPS) {
		return nil, notImplemented("groups")
	}
	if err := self.checkDead(); err != nil {
		return nil, err
	}
	res, err := self.backend.Groups(ctx, self)
	return res, self.noteError(err)
}

// Umask is the process file creation mask. Reading it does not
// disturb the target process.
func (self *Process) Umask(ctx context.Context) (uint32, error) {
	if !self.HasCapability(CAP_UMASK) {
		return 0, notImplemented("umask")
	}
	if err := self.checkDead(); err != nil {
		return 0, err
	}
	res, err := self.backend.Umask(ctx, self)
	return res, self.noteError(err)
}

// Terminal is the controlling terminal device, empty for daemons.
func (self *Process) Terminal(ctx context.Context) (string, error) {
	if !self.HasCapability(CAP_TERMINAL) {
		return "", notImplemented("terminal")
	}
	if err := self.checkDead(); err != nil {
		return "", err
	}
	res, err := self.backend.Terminal(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) NumThreads(ctx context.Context) (int32, error) {
	if !self.HasCapability(CAP_NUM_THREADS) {
		return 0, notImplemented("num_threads")
	}
	if err := self.checkDead(); err != nil {
		return 0, err
	}
	res, err := self.backend.NumThreads(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Threads(ctx context.Context) ([]Thread, error) {
	if !self.HasCapability(CAP_THREADS) {
		return nil, notImplemented("threads")
	}
	if err := self.checkDead(); err != nil {
		return nil, err
	}
	res, err := self.backend.Threads(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) NumFDs(ctx context.Context) (int32, error) {
	if !self.HasCapability(CAP_NUM_FDS) {
		return 0, notImplemented("num_fds")
	}
	if err := self.checkDead(); err != nil {
		return 0, err
	}
	res, err := self.backend.NumFDs(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) OpenFiles(ctx context.Context) ([]OpenFile, error) {
	if !self.HasCapability(CAP_OPEN_FILES) {
		return nil, notImplemented("open_files")
	}
	if err := self.checkDead(); err != nil {
		return nil, err
	}
	res, err := self.backend.OpenFiles(ctx, self)
	return res, self.noteError(err)
}

// Rlimit reads one resource limit, e.g. unix.RLIMIT_NOFILE.
func (self *Process) Rlimit(
	ctx context.Context, resource int) (Rlimit, error) {
	if !self.HasCapability(CAP_RLIMIT) {
		return Rlimit{}, notImplemented("rlimit")
	}
	if err := self.checkDead(); err != nil {
		return Rlimit{}, err
	}
	res, err := self.backend.Rlimit(ctx, self, resource)
	return res, self.noteError(err)
}

func (self *Process) SetRlimit(
	ctx context.Context, resource int, limits Rlimit) error {
	if !self.HasCapability(CAP_RLIMIT) {
		return notImplemented("rlimit")
	}
	if err := self.checkDead(); err != nil {
		return err
	}
	return self.noteError(self.backend.SetRlimit(ctx, self, resource, limits))
}

func (self *Process) SignalMasks(ctx context.Context) (*SignalMasks, error) {
	if !self.HasCapability(CAP_SIGNAL_MASKS) {
		return nil, notImplemented("signal_masks")
	}
	if err := self.checkDead(); err != nil {
		return nil, err
	}
	res, err := self.backend.SignalMasks(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) Nice(ctx context.Context) (int32, error) {
	if !self.HasCapability(CAP_NICE) {
		return 0, notImplemented("nice")
	}
	if err := self.checkDead(); err != nil {
		return 0, err
	}
	res, err := self.backend.Nice(ctx, self)
	return res, self.noteError(err)
}

func (self *Process) SetNice(ctx context.Context, priority int32) error {
	if !self.HasCapability(CAP_NICE) {
		return notImplemented("nice")
	}
	if err := self.checkDead(); err != nil {
		return err
	}
	return self.noteError(self.backend.SetNice(ctx, self, priority))
}

func (self *Process) IOCounters(ctx context.Context) (*IOCounters, error) {
	if !self.HasCapability(CAP_IO_COUNTERS) {
		return nil, notImplemented("io_counters")
	}
	if err := self.checkDead(); err != nil {
		return nil, err
	}
	res, err := self.backend.IOCounters(ctx, self)
	return res, self.noteError(err)
}
