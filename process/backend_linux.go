//go:build linux

package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Velocidex/ordereddict"
	errors "github.com/go-errors/errors"
	"github.com/tklauser/go-sysconf"
	"golang.org/x/sys/unix"
	"www.velocidex.com/golang/psutils/config"
	"www.velocidex.com/golang/psutils/utils"
)

const default_clock_ticks = 100

// LinuxBackend reads the procfs. The boot time and tick rate are
// resolved once at construction: both are constants for the life of
// the host, and caching them makes create time arithmetic exactly
// reproducible, which process identity depends on.
type LinuxBackend struct {
	UnimplementedBackend

	root        string
	boot_time   time.Time
	clock_ticks int64
	page_size   uint64
}

func NewNativeBackend(config_obj *config.Config) (Backend, error) {
	root := config_obj.ProcFS
	if root == "" {
		root = "/proc"
	}

	boot_time, err := readBootTime(root)
	if err != nil {
		return nil, fmt.Errorf("procfs at %v: %w", root, err)
	}

	clock_ticks, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil {
		clock_ticks = default_clock_ticks
	}

	return &LinuxBackend{
		root:        root,
		boot_time:   boot_time,
		clock_ticks: clock_ticks,
		page_size:   uint64(os.Getpagesize()),
	}, nil
}

// readBootTime extracts the integral btime line from /proc/stat.
func readBootTime(root string) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(root, "stat"))
	if err != nil {
		return time.Time{}, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		secs, err := strconv.ParseInt(
			strings.TrimSpace(line[6:]), 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, errors.New("no btime in stat")
}

func (self *LinuxBackend) Name() string {
	return "linux"
}

func (self *LinuxBackend) Capabilities() Capability {
	return CAP_EXE | CAP_CWD | CAP_ROOT | CAP_CMDLINE | CAP_ENVIRON |
		CAP_MEMORY_INFO | CAP_CPU_TIMES | CAP_UIDS | CAP_GIDS |
		CAP_GROUPS | CAP_UMASK | CAP_TERMINAL | CAP_NUM_THREADS |
		CAP_THREADS | CAP_NUM_FDS | CAP_OPEN_FILES | CAP_RLIMIT |
		CAP_SIGNAL_MASKS | CAP_NICE | CAP_IO_COUNTERS | CAP_SUSPEND
}

// procStat is the parsed /proc/pid/stat line.
type procStat struct {
	Name       string
	State      string
	Ppid       int32
	TtyNr      uint32
	Utime      uint64 // ticks
	Stime      uint64
	Cutime     uint64
	Cstime     uint64
	Nice       int32
	NumThreads int32
	Starttime  uint64 // ticks since boot
}

// parseProcStat splits a stat line. The comm field is enclosed in
// parentheses and may itself contain spaces and parentheses, so the
// name ends at the last closing paren, not the first.
func parseProcStat(data string) (*procStat, error) {
	open := strings.IndexByte(data, '(')
	closing := strings.LastIndexByte(data, ')')
	if open < 0 || closing < open {
		return nil, fmt.Errorf("malformed stat line %q", utils.Elide(data, 64))
	}

	// fields[0] is the state, overall field 3 of the line.
	fields := strings.Fields(data[closing+1:])
	if len(fields) < 22 {
		return nil, fmt.Errorf("short stat line %q", utils.Elide(data, 64))
	}

	ppid, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return nil, err
	}
	tty_nr, _ := strconv.ParseUint(fields[4], 10, 32)
	utime, _ := strconv.ParseUint(fields[11], 10, 64)
	stime, _ := strconv.ParseUint(fields[12], 10, 64)
	cutime, _ := strconv.ParseUint(fields[13], 10, 64)
	cstime, _ := strconv.ParseUint(fields[14], 10, 64)
	nice, _ := strconv.ParseInt(fields[16], 10, 32)
	num_threads, _ := strconv.ParseInt(fields[17], 10, 32)

	starttime, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return nil, err
	}

	return &procStat{
		Name:       data[open+1 : closing],
		State:      fields[0],
		Ppid:       int32(ppid),
		TtyNr:      uint32(tty_nr),
		Utime:      utime,
		Stime:      stime,
		Cutime:     cutime,
		Cstime:     cstime,
		Nice:       int32(nice),
		NumThreads: int32(num_threads),
		Starttime:  starttime,
	}, nil
}

// createTimeFromTicks turns a starttime tick count into wall time.
// Integer tick arithmetic over the cached boot time means the same
// process always maps to the identical time.Time.
func (self *LinuxBackend) createTimeFromTicks(ticks uint64) time.Time {
	secs := int64(ticks) / self.clock_ticks
	frac_ns := (int64(ticks) % self.clock_ticks) *
		int64(time.Second) / self.clock_ticks
	return self.boot_time.Add(
		time.Duration(secs)*time.Second +
			time.Duration(frac_ns)*time.Nanosecond)
}

func (self *LinuxBackend) classifyReadError(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return ErrNoSuchProcess
	}
	if os.IsPermission(err) {
		return ErrAccessDenied
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.ESRCH {
		return ErrNoSuchProcess
	}
	return err
}

func (self *LinuxBackend) procPath(pid int32, name string) string {
	return filepath.Join(self.root, strconv.Itoa(int(pid)), name)
}

func (self *LinuxBackend) readProcFile(pid int32, name string) ([]byte, error) {
	data, err := os.ReadFile(self.procPath(pid, name))
	if err != nil {
		return nil, self.classifyReadError(err)
	}
	return data, nil
}

// statFor reads and parses the stat line for a handle, verifying the
// pid still belongs to the same process incarnation. All other
// attribute reads start here, so a recycled pid is caught before any
// data is reported. Inside a oneshot scope the parse is done once.
func (self *LinuxBackend) statFor(
	ctx context.Context, proc *Process) (*procStat, error) {
	cached, pres := proc.cacheGet("linux_stat")
	if pres {
		return cached.(*procStat), nil
	}

	data, err := self.readProcFile(proc.Pid(), "stat")
	if err != nil {
		return nil, err
	}
	stat, err := parseProcStat(string(data))
	if err != nil {
		return nil, err
	}

	if !self.createTimeFromTicks(stat.Starttime).Equal(proc.CreateTime()) {
		return nil, ErrNoSuchProcess
	}

	proc.cacheSet("linux_stat", stat)
	return stat, nil
}

// statusFor parses /proc/pid/status into a field map.
func (self *LinuxBackend) statusFor(
	ctx context.Context, proc *Process) (map[string]string, error) {
	cached, pres := proc.cacheGet("linux_status")
	if pres {
		return cached.(map[string]string), nil
	}

	// Identity first, then the auxiliary file.
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	data, err := self.readProcFile(proc.Pid(), "status")
	if err != nil {
		return nil, err
	}

	status := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		status[key] = strings.TrimSpace(value)
	}

	proc.cacheSet("linux_status", status)
	return status, nil
}

func (self *LinuxBackend) isZombie(
	ctx context.Context, proc *Process) bool {
	stat, err := self.statFor(ctx, proc)
	return err == nil && stat.State == "Z"
}

func (self *LinuxBackend) Pids(ctx context.Context) ([]int32, error) {
	entries, err := os.ReadDir(self.root)
	if err != nil {
		return nil, err
	}

	result := make([]int32, 0, len(entries))
	for _, entry := range entries {
		pid, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil {
			continue
		}
		result = append(result, int32(pid))
	}
	return result, nil
}

func (self *LinuxBackend) ListProcesses(
	ctx context.Context) ([]PidEntry, error) {
	pids, err := self.Pids(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]PidEntry, 0, len(pids))
	for _, pid := range pids {
		data, err := self.readProcFile(pid, "stat")
		if err != nil {
			// Exited while we were enumerating.
			continue
		}
		stat, err := parseProcStat(string(data))
		if err != nil {
			continue
		}
		result = append(result, PidEntry{
			Pid:        pid,
			CreateTime: self.createTimeFromTicks(stat.Starttime),
		})
	}
	return result, nil
}

func (self *LinuxBackend) PidExists(
	ctx context.Context, pid int32) (bool, error) {
	return posixPidExists(pid)
}

func (self *LinuxBackend) CreateTime(
	ctx context.Context, pid int32) (time.Time, error) {
	data, err := self.readProcFile(pid, "stat")
	if err != nil {
		return time.Time{}, err
	}
	stat, err := parseProcStat(string(data))
	if err != nil {
		return time.Time{}, err
	}
	return self.createTimeFromTicks(stat.Starttime), nil
}

func (self *LinuxBackend) ProcName(
	ctx context.Context, proc *Process) (string, error) {
	stat, err := self.statFor(ctx, proc)
	if err != nil {
		return "", err
	}
	return stat.Name, nil
}

func (self *LinuxBackend) Ppid(
	ctx context.Context, proc *Process) (int32, error) {
	stat, err := self.statFor(ctx, proc)
	if err != nil {
		return 0, err
	}
	return stat.Ppid, nil
}

var linux_states = map[string]Status{
	"R": STATUS_RUNNING,
	"S": STATUS_SLEEPING,
	"D": STATUS_DISK_SLEEP,
	"T": STATUS_STOPPED,
	"t": STATUS_TRACING_STOP,
	"Z": STATUS_ZOMBIE,
	"X": STATUS_DEAD,
	"x": STATUS_DEAD,
	"K": STATUS_WAKE_KILL,
	"W": STATUS_WAKING,
	"I": STATUS_IDLE,
	"P": STATUS_PARKED,
}

func (self *LinuxBackend) Status(
	ctx context.Context, proc *Process) (Status, error) {
	stat, err := self.statFor(ctx, proc)
	if err != nil {
		return "", err
	}

	status, pres := linux_states[stat.State]
	if !pres {
		return Status(stat.State), nil
	}
	return status, nil
}

func (self *LinuxBackend) Exe(
	ctx context.Context, proc *Process) (string, error) {
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return "", err
	}

	exe, err := os.Readlink(self.procPath(proc.Pid(), "exe"))
	if err != nil {
		if os.IsNotExist(err) {
			// The pid directory is still there for zombies and
			// kernel threads, but the exe link is not.
			if self.isZombie(ctx, proc) {
				return "", ErrZombieProcess
			}
			_, dir_err := os.Stat(self.procPath(proc.Pid(), ""))
			if dir_err == nil {
				return "", nil
			}
		}
		return "", self.classifyReadError(err)
	}
	return strings.TrimSuffix(exe, " (deleted)"), nil
}

func (self *LinuxBackend) readProcLink(
	ctx context.Context, proc *Process, name string) (string, error) {
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return "", err
	}

	target, err := os.Readlink(self.procPath(proc.Pid(), name))
	if err != nil {
		if os.IsNotExist(err) && self.isZombie(ctx, proc) {
			return "", ErrZombieProcess
		}
		return "", self.classifyReadError(err)
	}
	return target, nil
}

func (self *LinuxBackend) Cwd(
	ctx context.Context, proc *Process) (string, error) {
	return self.readProcLink(ctx, proc, "cwd")
}

func (self *LinuxBackend) Root(
	ctx context.Context, proc *Process) (string, error) {
	return self.readProcLink(ctx, proc, "root")
}

func (self *LinuxBackend) Cmdline(
	ctx context.Context, proc *Process) ([]string, error) {
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	data, err := self.readProcFile(proc.Pid(), "cmdline")
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		// Zombies and kernel threads have no argument vector.
		if self.isZombie(ctx, proc) {
			return nil, ErrZombieProcess
		}
		return []string{}, nil
	}

	args := strings.Split(
		strings.TrimRight(string(data), "\x00"), "\x00")
	return args, nil
}

func (self *LinuxBackend) Environ(
	ctx context.Context, proc *Process) (*ordereddict.Dict, error) {
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	data, err := self.readProcFile(proc.Pid(), "environ")
	if err != nil {
		return nil, err
	}

	if len(data) == 0 && self.isZombie(ctx, proc) {
		return nil, ErrZombieProcess
	}

	result := ordereddict.NewDict()
	for _, entry := range strings.Split(string(data), "\x00") {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			continue
		}
		result.Set(key, value)
	}
	return result, nil
}

func (self *LinuxBackend) MemoryInfo(
	ctx context.Context, proc *Process) (*MemoryInfo, error) {
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	data, err := self.readProcFile(proc.Pid(), "statm")
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(string(data))
	if len(fields) < 6 {
		return nil, fmt.Errorf("short statm for pid %v", proc.Pid())
	}

	page := func(field string) uint64 {
		pages, _ := strconv.ParseUint(field, 10, 64)
		return pages * self.page_size
	}
	return &MemoryInfo{
		VMS:    page(fields[0]),
		RSS:    page(fields[1]),
		Shared: page(fields[2]),
		Text:   page(fields[3]),
		Data:   page(fields[5]),
	}, nil
}

func (self *LinuxBackend) CPUTimes(
	ctx context.Context, proc *Process) (*CPUTimes, error) {
	stat, err := self.statFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	ticks := float64(self.clock_ticks)
	return &CPUTimes{
		User:           float64(stat.Utime) / ticks,
		System:         float64(stat.Stime) / ticks,
		ChildrenUser:   float64(stat.Cutime) / ticks,
		ChildrenSystem: float64(stat.Cstime) / ticks,
	}, nil
}

// parseIdsField splits a status line like "Uid: 1000 1000 1000 1000"
// into the real, effective and saved ids.
func parseIdsField(value string) (Ids, error) {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return Ids{}, fmt.Errorf("malformed id field %q", value)
	}

	ids := [3]int32{}
	for i := 0; i < 3; i++ {
		parsed, err := strconv.ParseInt(fields[i], 10, 32)
		if err != nil {
			return Ids{}, err
		}
		ids[i] = int32(parsed)
	}
	return Ids{Real: ids[0], Effective: ids[1], Saved: ids[2]}, nil
}

func (self *LinuxBackend) Uids(
	ctx context.Context, proc *Process) (Ids, error) {
	status, err := self.statusFor(ctx, proc)
	if err != nil {
		return Ids{}, err
	}
	return parseIdsField(status["Uid"])
}

func (self *LinuxBackend) Gids(
	ctx context.Context, proc *Process) (Ids, error) {
	status, err := self.statusFor(ctx, proc)
	if err != nil {
		return Ids{}, err
	}
	return parseIdsField(status["Gid"])
}

func (self *LinuxBackend) Groups(
	ctx context.Context, proc *Process) ([]int32, error) {
	status, err := self.statusFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	result := []int32{}
	for _, field := range strings.Fields(status["Groups"]) {
		gid, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return nil, err
		}
		result = append(result, int32(gid))
	}
	return result, nil
}

func (self *LinuxBackend) Umask(
	ctx context.Context, proc *Process) (uint32, error) {
	status, err := self.statusFor(ctx, proc)
	if err != nil {
		return 0, err
	}

	value, pres := status["Umask"]
	if !pres {
		// Kernels before 4.7 do not expose it.
		return 0, notImplemented("umask")
	}
	mask, err := strconv.ParseUint(value, 8, 32)
	if err != nil {
		return 0, err
	}
	return uint32(mask), nil
}

// Terminal maps the tty_nr device number onto the conventional
// device name. tty_nr packs major and minor in the historic layout.
func (self *LinuxBackend) Terminal(
	ctx context.Context, proc *Process) (string, error) {
	stat, err := self.statFor(ctx, proc)
	if err != nil {
		return "", err
	}
	if stat.TtyNr == 0 {
		return "", nil
	}

	major := (stat.TtyNr >> 8) & 0xfff
	minor := (stat.TtyNr & 0xff) | ((stat.TtyNr >> 12) & 0xfff00)

	switch {
	case major >= 136 && major <= 143:
		return fmt.Sprintf("/dev/pts/%d",
			minor+(major-136)*256), nil
	case major == 4 && minor < 64:
		return fmt.Sprintf("/dev/tty%d", minor), nil
	case major == 4:
		return fmt.Sprintf("/dev/ttyS%d", minor-64), nil
	}
	return fmt.Sprintf("/dev/char/%d:%d", major, minor), nil
}

func (self *LinuxBackend) NumThreads(
	ctx context.Context, proc *Process) (int32, error) {
	stat, err := self.statFor(ctx, proc)
	if err != nil {
		return 0, err
	}
	return stat.NumThreads, nil
}

func (self *LinuxBackend) Threads(
	ctx context.Context, proc *Process) ([]Thread, error) {
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	task_dir := self.procPath(proc.Pid(), "task")
	entries, err := os.ReadDir(task_dir)
	if err != nil {
		return nil, self.classifyReadError(err)
	}

	ticks := float64(self.clock_ticks)
	result := []Thread{}
	for _, entry := range entries {
		tid, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil {
			continue
		}

		data, err := os.ReadFile(
			filepath.Join(task_dir, entry.Name(), "stat"))
		if err != nil {
			// The thread exited under us.
			continue
		}
		stat, err := parseProcStat(string(data))
		if err != nil {
			continue
		}

		result = append(result, Thread{
			Tid:    int32(tid),
			User:   float64(stat.Utime) / ticks,
			System: float64(stat.Stime) / ticks,
		})
	}
	return result, nil
}

func (self *LinuxBackend) NumFDs(
	ctx context.Context, proc *Process) (int32, error) {
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(self.procPath(proc.Pid(), "fd"))
	if err != nil {
		return 0, self.classifyReadError(err)
	}
	return int32(len(entries)), nil
}

func (self *LinuxBackend) OpenFiles(
	ctx context.Context, proc *Process) ([]OpenFile, error) {
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	fd_dir := self.procPath(proc.Pid(), "fd")
	entries, err := os.ReadDir(fd_dir)
	if err != nil {
		return nil, self.classifyReadError(err)
	}

	result := []OpenFile{}
	for _, entry := range entries {
		fd, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil {
			continue
		}

		target, err := os.Readlink(
			filepath.Join(fd_dir, entry.Name()))
		if err != nil {
			continue
		}

		// Sockets, pipes and anonymous inodes are not files.
		if !strings.HasPrefix(target, "/") {
			continue
		}
		result = append(result, OpenFile{
			Path: strings.TrimSuffix(target, " (deleted)"),
			Fd:   int32(fd),
		})
	}
	return result, nil
}

func (self *LinuxBackend) Rlimit(
	ctx context.Context, proc *Process, resource int) (Rlimit, error) {
	err := revalidate(ctx, self, proc)
	if err != nil {
		return Rlimit{}, err
	}

	var limits unix.Rlimit
	err = unix.Prlimit(int(proc.Pid()), resource, nil, &limits)
	if err != nil {
		return Rlimit{}, classifySignalError(err)
	}
	return Rlimit{Soft: limits.Cur, Hard: limits.Max}, nil
}

func (self *LinuxBackend) SetRlimit(ctx context.Context,
	proc *Process, resource int, limits Rlimit) error {
	err := revalidate(ctx, self, proc)
	if err != nil {
		return err
	}

	new_limits := unix.Rlimit{Cur: limits.Soft, Max: limits.Hard}
	err = unix.Prlimit(int(proc.Pid()), resource, &new_limits, nil)
	if err != nil {
		return classifySignalError(err)
	}
	return nil
}

func parseSignalMask(value string) uint64 {
	mask, _ := strconv.ParseUint(value, 16, 64)
	return mask
}

func (self *LinuxBackend) SignalMasks(
	ctx context.Context, proc *Process) (*SignalMasks, error) {
	status, err := self.statusFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	return &SignalMasks{
		Pending:        parseSignalMask(status["SigPnd"]),
		ProcessPending: parseSignalMask(status["ShdPnd"]),
		Blocked:        parseSignalMask(status["SigBlk"]),
		Ignored:        parseSignalMask(status["SigIgn"]),
		Caught:         parseSignalMask(status["SigCgt"]),
	}, nil
}

// Nice comes from the stat line rather than getpriority(2): the raw
// syscall reports a shifted value on linux and the stat field does
// not.
func (self *LinuxBackend) Nice(
	ctx context.Context, proc *Process) (int32, error) {
	stat, err := self.statFor(ctx, proc)
	if err != nil {
		return 0, err
	}
	return stat.Nice, nil
}

func (self *LinuxBackend) SetNice(
	ctx context.Context, proc *Process, priority int32) error {
	return posixSetNice(ctx, self, proc, priority)
}

func (self *LinuxBackend) IOCounters(
	ctx context.Context, proc *Process) (*IOCounters, error) {
	_, err := self.statFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	data, err := self.readProcFile(proc.Pid(), "io")
	if err != nil {
		return nil, err
	}

	counters := &IOCounters{}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		count, err := strconv.ParseUint(
			strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}

		switch key {
		case "syscr":
			counters.ReadCount = count
		case "syscw":
			counters.WriteCount = count
		case "read_bytes":
			counters.ReadBytes = count
		case "write_bytes":
			counters.WriteBytes = count
		}
	}
	return counters, nil
}

func (self *LinuxBackend) SendSignal(ctx context.Context,
	proc *Process, sig syscall.Signal) error {
	return posixSendSignal(ctx, self, proc, sig)
}

func (self *LinuxBackend) Suspend(
	ctx context.Context, proc *Process) error {
	return posixSuspend(ctx, self, proc)
}

func (self *LinuxBackend) Resume(
	ctx context.Context, proc *Process) error {
	return posixResume(ctx, self, proc)
}

func (self *LinuxBackend) Wait(ctx context.Context, proc *Process,
	timeout time.Duration) (int32, error) {
	return posixWait(ctx, self, proc, timeout)
}
