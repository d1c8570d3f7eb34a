//go:build darwin

package process

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/Velocidex/ordereddict"
	errors "github.com/go-errors/errors"
	"golang.org/x/sys/unix"
	"www.velocidex.com/golang/psutils/config"
	"www.velocidex.com/golang/psutils/sysquery"
)

// Scheduler states from bsd/sys/proc.h.
const (
	SIDL   = 1
	SRUN   = 2
	SSLEEP = 3
	SSTOP  = 4
	SZOMB  = 5
)

// KERN_PROCARGS2 returns argc, the exec path, the argument vector
// and the environment block in one buffer.
const KERN_PROCARGS2 = 49

// DarwinBackend reads the kern.proc sysctl tree. Attributes that
// would need libproc (memory, cpu times, threads, open files) are
// not offered, which the capability set reflects.
type DarwinBackend struct {
	UnimplementedBackend
}

func NewNativeBackend(config_obj *config.Config) (Backend, error) {
	return &DarwinBackend{}, nil
}

func (self *DarwinBackend) Name() string {
	return "darwin"
}

func (self *DarwinBackend) Capabilities() Capability {
	return CAP_EXE | CAP_CMDLINE | CAP_ENVIRON | CAP_UIDS | CAP_GIDS |
		CAP_GROUPS | CAP_TERMINAL | CAP_NICE | CAP_SUSPEND
}

func createTimeFromKinfo(kinfo *unix.KinfoProc) time.Time {
	start := kinfo.Proc.P_starttime
	return time.Unix(start.Sec, int64(start.Usec)*1000)
}

func classifyKinfoError(err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ESRCH, syscall.ENOENT, syscall.EINVAL:
			return ErrNoSuchProcess
		case syscall.EPERM, syscall.EACCES:
			return ErrAccessDenied
		case syscall.EIO:
			// sysctl answers an unknown pid with an empty reply,
			// which surfaces as EIO.
			return ErrNoSuchProcess
		}
	}
	return err
}

func (self *DarwinBackend) kinfoForPid(pid int32) (*unix.KinfoProc, error) {
	kinfo, err := unix.SysctlKinfoProc("kern.proc.pid", int(pid))
	if err != nil {
		return nil, classifyKinfoError(err)
	}
	if kinfo.Proc.P_pid != pid {
		return nil, ErrNoSuchProcess
	}
	return kinfo, nil
}

// kinfoFor fetches the kernel process record for a handle, checking
// it still describes the same incarnation. One fetch per oneshot
// scope.
func (self *DarwinBackend) kinfoFor(
	ctx context.Context, proc *Process) (*unix.KinfoProc, error) {
	cached, pres := proc.cacheGet("darwin_kinfo")
	if pres {
		return cached.(*unix.KinfoProc), nil
	}

	kinfo, err := self.kinfoForPid(proc.Pid())
	if err != nil {
		return nil, err
	}
	if !createTimeFromKinfo(kinfo).Equal(proc.CreateTime()) {
		return nil, ErrNoSuchProcess
	}

	proc.cacheSet("darwin_kinfo", kinfo)
	return kinfo, nil
}

func (self *DarwinBackend) Pids(ctx context.Context) ([]int32, error) {
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

func (self *DarwinBackend) ListProcesses(
	ctx context.Context) ([]PidEntry, error) {
	kinfos, err := unix.SysctlKinfoProcSlice("kern.proc.all")
	if err != nil {
		return nil, err
	}

	result := make([]PidEntry, 0, len(kinfos))
	for i := range kinfos {
		kinfo := &kinfos[i]
		result = append(result, PidEntry{
			Pid:        kinfo.Proc.P_pid,
			CreateTime: createTimeFromKinfo(kinfo),
		})
	}
	return result, nil
}

func (self *DarwinBackend) PidExists(
	ctx context.Context, pid int32) (bool, error) {
	return posixPidExists(pid)
}

func (self *DarwinBackend) CreateTime(
	ctx context.Context, pid int32) (time.Time, error) {
	kinfo, err := self.kinfoForPid(pid)
	if err != nil {
		return time.Time{}, err
	}
	return createTimeFromKinfo(kinfo), nil
}

func (self *DarwinBackend) ProcName(
	ctx context.Context, proc *Process) (string, error) {
	kinfo, err := self.kinfoFor(ctx, proc)
	if err != nil {
		return "", err
	}
	return unix.ByteSliceToString(kinfo.Proc.P_comm[:]), nil
}

func (self *DarwinBackend) Ppid(
	ctx context.Context, proc *Process) (int32, error) {
	kinfo, err := self.kinfoFor(ctx, proc)
	if err != nil {
		return 0, err
	}
	return kinfo.Eproc.Ppid, nil
}

func (self *DarwinBackend) Status(
	ctx context.Context, proc *Process) (Status, error) {
	kinfo, err := self.kinfoFor(ctx, proc)
	if err != nil {
		return "", err
	}

	switch kinfo.Proc.P_stat {
	case SIDL:
		return STATUS_IDLE, nil
	case SRUN:
		return STATUS_RUNNING, nil
	case SSLEEP:
		return STATUS_SLEEPING, nil
	case SSTOP:
		return STATUS_STOPPED, nil
	case SZOMB:
		return STATUS_ZOMBIE, nil
	}
	return "", fmt.Errorf("unknown process state %v for pid %v",
		kinfo.Proc.P_stat, proc.Pid())
}

// procArgs is the decoded KERN_PROCARGS2 buffer.
type procArgs struct {
	ExecPath string
	Args     []string
	Env      []string
}

func cutCString(data []byte) (string, []byte) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return string(data), nil
	}
	return string(data[:idx]), data[idx+1:]
}

// parseProcArgs decodes the procargs2 layout: argc, then the exec
// path, NUL padding, argc argument strings and finally the
// environment strings.
func parseProcArgs(data []byte) (*procArgs, error) {
	if len(data) < 4 {
		return nil, errors.New("short procargs reply")
	}
	argc := int(binary.LittleEndian.Uint32(data[:4]))

	exec_path, rest := cutCString(data[4:])
	for len(rest) > 0 && rest[0] == 0 {
		rest = rest[1:]
	}

	args := make([]string, 0, argc)
	for i := 0; i < argc && len(rest) > 0; i++ {
		var arg string
		arg, rest = cutCString(rest)
		args = append(args, arg)
	}

	env := []string{}
	for len(rest) > 0 {
		var entry string
		entry, rest = cutCString(rest)
		if entry == "" || !strings.Contains(entry, "=") {
			break
		}
		env = append(env, entry)
	}

	return &procArgs{
		ExecPath: exec_path,
		Args:     args,
		Env:      env,
	}, nil
}

// procArgsFor reads the argument block of a process. Zombies drop
// their argument vector, so those classify as ErrZombieProcess
// rather than a plain failure.
func (self *DarwinBackend) procArgsFor(
	ctx context.Context, proc *Process) (*procArgs, error) {
	cached, pres := proc.cacheGet("darwin_procargs")
	if pres {
		return cached.(*procArgs), nil
	}

	kinfo, err := self.kinfoFor(ctx, proc)
	if err != nil {
		return nil, err
	}
	if kinfo.Proc.P_stat == SZOMB {
		return nil, ErrZombieProcess
	}

	raw := sysquery.SysctlQuery([]int32{
		unix.CTL_KERN, KERN_PROCARGS2, proc.Pid()})
	data, err := sysquery.Run(ctx, raw, sysquery.Options{})
	if err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) &&
			(errno == syscall.EPERM || errno == syscall.EACCES) {
			return nil, ErrAccessDenied
		}
		if errors.As(err, &errno) &&
			(errno == syscall.EINVAL || errno == syscall.ESRCH) {
			return nil, ErrNoSuchProcess
		}
		return nil, err
	}

	args, err := parseProcArgs(data)
	if err != nil {
		return nil, err
	}

	proc.cacheSet("darwin_procargs", args)
	return args, nil
}

func (self *DarwinBackend) Exe(
	ctx context.Context, proc *Process) (string, error) {
	args, err := self.procArgsFor(ctx, proc)
	if err != nil {
		return "", err
	}
	return args.ExecPath, nil
}

func (self *DarwinBackend) Cmdline(
	ctx context.Context, proc *Process) ([]string, error) {
	args, err := self.procArgsFor(ctx, proc)
	if err != nil {
		return nil, err
	}
	return args.Args, nil
}

func (self *DarwinBackend) Environ(
	ctx context.Context, proc *Process) (*ordereddict.Dict, error) {
	args, err := self.procArgsFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	result := ordereddict.NewDict()
	for _, entry := range args.Env {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			continue
		}
		result.Set(key, value)
	}
	return result, nil
}

func (self *DarwinBackend) Uids(
	ctx context.Context, proc *Process) (Ids, error) {
	kinfo, err := self.kinfoFor(ctx, proc)
	if err != nil {
		return Ids{}, err
	}
	return Ids{
		Real:      int32(kinfo.Eproc.Pcred.P_ruid),
		Effective: int32(kinfo.Eproc.Ucred.Uid),
		Saved:     int32(kinfo.Eproc.Pcred.P_svuid),
	}, nil
}

func (self *DarwinBackend) Gids(
	ctx context.Context, proc *Process) (Ids, error) {
	kinfo, err := self.kinfoFor(ctx, proc)
	if err != nil {
		return Ids{}, err
	}

	effective := int32(0)
	if kinfo.Eproc.Ucred.Ngroups > 0 {
		effective = int32(kinfo.Eproc.Ucred.Groups[0])
	}
	return Ids{
		Real:      int32(kinfo.Eproc.Pcred.P_rgid),
		Effective: effective,
		Saved:     int32(kinfo.Eproc.Pcred.P_svgid),
	}, nil
}

func (self *DarwinBackend) Groups(
	ctx context.Context, proc *Process) ([]int32, error) {
	kinfo, err := self.kinfoFor(ctx, proc)
	if err != nil {
		return nil, err
	}

	count := int(kinfo.Eproc.Ucred.Ngroups)
	if count > len(kinfo.Eproc.Ucred.Groups) {
		count = len(kinfo.Eproc.Ucred.Groups)
	}

	result := make([]int32, 0, count)
	for i := 0; i < count; i++ {
		result = append(result, int32(kinfo.Eproc.Ucred.Groups[i]))
	}
	return result, nil
}

// Terminal names the controlling tty in the /dev/ttysNNN
// convention.
func (self *DarwinBackend) Terminal(
	ctx context.Context, proc *Process) (string, error) {
	kinfo, err := self.kinfoFor(ctx, proc)
	if err != nil {
		return "", err
	}

	tdev := kinfo.Eproc.Tdev
	if tdev <= 0 || tdev == -1 {
		return "", nil
	}
	return fmt.Sprintf("/dev/ttys%03d", tdev&0xffffff), nil
}

func (self *DarwinBackend) Nice(
	ctx context.Context, proc *Process) (int32, error) {
	kinfo, err := self.kinfoFor(ctx, proc)
	if err != nil {
		return 0, err
	}
	return int32(kinfo.Proc.P_nice), nil
}

func (self *DarwinBackend) SetNice(
	ctx context.Context, proc *Process, priority int32) error {
	return posixSetNice(ctx, self, proc, priority)
}

func (self *DarwinBackend) SendSignal(ctx context.Context,
	proc *Process, sig syscall.Signal) error {
	return posixSendSignal(ctx, self, proc, sig)
}

func (self *DarwinBackend) Suspend(
	ctx context.Context, proc *Process) error {
	return posixSuspend(ctx, self, proc)
}

func (self *DarwinBackend) Resume(
	ctx context.Context, proc *Process) error {
	return posixResume(ctx, self, proc)
}

func (self *DarwinBackend) Wait(ctx context.Context, proc *Process,
	timeout time.Duration) (int32, error) {
	return posixWait(ctx, self, proc, timeout)
}
