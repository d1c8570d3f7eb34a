//go:build windows

package process

import (
	"context"
	"syscall"
	"time"
	"unsafe"

	"github.com/hillu/go-ntdll"
	"golang.org/x/sys/windows"
	"www.velocidex.com/golang/psutils/config"
	"www.velocidex.com/golang/psutils/sysquery"
	"www.velocidex.com/golang/psutils/utils"
)

// WaitForMultipleObjects refuses larger handle sets.
const MAXIMUM_WAIT_OBJECTS = 64

// Offset between the windows FILETIME epoch (1601) and the unix
// epoch, in 100ns units.
const filetime_epoch_offset = 116444736000000000

// SYSTEM_PROCESS_INFORMATION as NtQuerySystemInformation class 5
// returns it. Each entry is followed by its thread array, with
// NextEntryOffset chaining to the next process.
type SYSTEM_PROCESS_INFORMATION struct {
	NextEntryOffset              uint32
	NumberOfThreads              uint32
	WorkingSetPrivateSize        int64
	HardFaultCount               uint32
	NumberOfThreadsHighWatermark uint32
	CycleTime                    uint64
	CreateTime                   int64
	UserTime                     int64
	KernelTime                   int64
	ImageNameLength              uint16
	ImageNameMaxLength           uint16
	ImageNameBuffer              *uint16
	BasePriority                 int32
	UniqueProcessId              uintptr
	InheritedFromUniqueProcessId uintptr
	HandleCount                  uint32
	SessionId                    uint32
	UniqueProcessKey             uintptr
	PeakVirtualSize              uintptr
	VirtualSize                  uintptr
	PageFaultCount               uint32
	PeakWorkingSetSize           uintptr
	WorkingSetSize               uintptr
	QuotaPeakPagedPoolUsage      uintptr
	QuotaPagedPoolUsage          uintptr
	QuotaPeakNonPagedPoolUsage   uintptr
	QuotaNonPagedPoolUsage       uintptr
	PagefileUsage                uintptr
	PeakPagefileUsage            uintptr
	PrivatePageCount             uintptr
	ReadOperationCount           int64
	WriteOperationCount          int64
	OtherOperationCount          int64
	ReadTransferCount            int64
	WriteTransferCount           int64
	OtherTransferCount           int64
}

// windowsProcRow is one process entry copied out of the enumeration
// buffer, so the multi megabyte reply does not stay referenced.
type windowsProcRow struct {
	Pid          int32
	Ppid         int32
	Name         string
	CreateTime   time.Time
	NumThreads   int32
	HandleCount  uint32
	SessionId    uint32
	BasePriority int32

	WorkingSet   uint64
	Pagefile     uint64
	VirtualSize  uint64
	PrivatePages uint64

	UserTime   float64 // seconds
	KernelTime float64

	ReadOps    uint64
	WriteOps   uint64
	ReadBytes  uint64
	WriteBytes uint64
}

// WindowsBackend drives NtQuerySystemInformation for enumeration
// and attributes, and the Wait* APIs for reaping. It can block on up
// to 64 processes in a single kernel call.
type WindowsBackend struct {
	UnimplementedBackend
}

func NewNativeBackend(config_obj *config.Config) (Backend, error) {
	return &WindowsBackend{}, nil
}

func (self *WindowsBackend) Name() string {
	return "windows"
}

func (self *WindowsBackend) Capabilities() Capability {
	return CAP_EXE | CAP_MEMORY_INFO | CAP_CPU_TIMES |
		CAP_NUM_THREADS | CAP_IO_COUNTERS | CAP_WAIT_MULTI
}

func filetimeToTime(ft int64) time.Time {
	if ft == 0 {
		return time.Unix(0, 0)
	}
	return time.Unix(0, (ft-filetime_epoch_offset)*100)
}

func durationFrom100ns(units int64) float64 {
	return float64(units) * 100 / float64(time.Second)
}

func rowFromInfo(info *SYSTEM_PROCESS_INFORMATION) *windowsProcRow {
	name := ""
	if info.ImageNameBuffer != nil && info.ImageNameLength > 0 {
		name = windows.UTF16ToString(unsafe.Slice(
			info.ImageNameBuffer, info.ImageNameLength/2))
	}
	if name == "" && info.UniqueProcessId == 0 {
		name = "System Idle Process"
	}

	return &windowsProcRow{
		Pid:          int32(info.UniqueProcessId),
		Ppid:         int32(info.InheritedFromUniqueProcessId),
		Name:         name,
		CreateTime:   filetimeToTime(info.CreateTime),
		NumThreads:   int32(info.NumberOfThreads),
		HandleCount:  info.HandleCount,
		SessionId:    info.SessionId,
		BasePriority: info.BasePriority,
		WorkingSet:   uint64(info.WorkingSetSize),
		Pagefile:     uint64(info.PagefileUsage),
		VirtualSize:  uint64(info.VirtualSize),
		PrivatePages: uint64(info.PrivatePageCount),
		UserTime:     durationFrom100ns(info.UserTime),
		KernelTime:   durationFrom100ns(info.KernelTime),
		ReadOps:      uint64(info.ReadOperationCount),
		WriteOps:     uint64(info.WriteOperationCount),
		ReadBytes:    uint64(info.ReadTransferCount),
		WriteBytes:   uint64(info.WriteTransferCount),
	}
}

// listRows runs the class 5 query and copies out every entry.
func (self *WindowsBackend) listRows(
	ctx context.Context) ([]*windowsProcRow, error) {
	data, err := sysquery.Run(ctx,
		sysquery.SystemInformationQuery(ntdll.SystemProcessInformation),
		sysquery.Options{
			// Process churn between the probe and the real call is
			// routine, so leave headroom for new entries.
			Padding: 64 * 1024,
		})
	if err != nil {
		return nil, err
	}

	rows := []*windowsProcRow{}
	offset := 0
	entry_size := int(unsafe.Sizeof(SYSTEM_PROCESS_INFORMATION{}))
	for offset+entry_size <= len(data) {
		info := (*SYSTEM_PROCESS_INFORMATION)(
			unsafe.Pointer(&data[offset]))
		rows = append(rows, rowFromInfo(info))

		if info.NextEntryOffset == 0 {
			break
		}
		offset += int(info.NextEntryOffset)
	}
	return rows, nil
}

// rowFor locates the enumeration entry backing a handle, checking
// the create time still matches. Cached per oneshot scope.
func (self *WindowsBackend) rowFor(
	ctx context.Context, proc *Process) (*windowsProcRow, error) {
	cached, pres := proc.cacheGet("windows_row")
	if pres {
		return cached.(*windowsProcRow), nil
	}

	rows, err := self.listRows(ctx)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.Pid != proc.Pid() {
			continue
		}
		if !row.CreateTime.Equal(proc.CreateTime()) {
			return nil, ErrNoSuchProcess
		}
		proc.cacheSet("windows_row", row)
		return row, nil
	}
	return nil, ErrNoSuchProcess
}

func (self *WindowsBackend) Pids(ctx context.Context) ([]int32, error) {
	rows, err := self.listRows(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]int32, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.Pid)
	}
	return result, nil
}

func (self *WindowsBackend) ListProcesses(
	ctx context.Context) ([]PidEntry, error) {
	rows, err := self.listRows(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]PidEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, PidEntry{
			Pid:        row.Pid,
			CreateTime: row.CreateTime,
		})
	}
	return result, nil
}

func (self *WindowsBackend) PidExists(
	ctx context.Context, pid int32) (bool, error) {
	rows, err := self.listRows(ctx)
	if err != nil {
		return false, err
	}

	for _, row := range rows {
		if row.Pid == pid {
			return true, nil
		}
	}
	return false, nil
}

func (self *WindowsBackend) CreateTime(
	ctx context.Context, pid int32) (time.Time, error) {
	rows, err := self.listRows(ctx)
	if err != nil {
		return time.Time{}, err
	}

	for _, row := range rows {
		if row.Pid == pid {
			return row.CreateTime, nil
		}
	}
	return time.Time{}, ErrNoSuchProcess
}

func (self *WindowsBackend) ProcName(
	ctx context.Context, proc *Process) (string, error) {
	row, err := self.rowFor(ctx, proc)
	if err != nil {
		return "", err
	}
	return row.Name, nil
}

func (self *WindowsBackend) Ppid(
	ctx context.Context, proc *Process) (int32, error) {
	row, err := self.rowFor(ctx, proc)
	if err != nil {
		return 0, err
	}
	return row.Ppid, nil
}

// Status is degenerate on windows: a process either exists or it
// does not, the kernel keeps no run state at process granularity.
func (self *WindowsBackend) Status(
	ctx context.Context, proc *Process) (Status, error) {
	_, err := self.rowFor(ctx, proc)
	if err != nil {
		return "", err
	}
	return STATUS_RUNNING, nil
}

func classifyOpenError(err error) error {
	switch err {
	case windows.ERROR_INVALID_PARAMETER:
		// OpenProcess answers unknown pids with invalid parameter.
		return ErrNoSuchProcess
	case windows.ERROR_ACCESS_DENIED:
		return ErrAccessDenied
	}
	return err
}

// openVerified opens a handle with the requested rights plus query
// rights, then checks the kernel create time to make sure the pid
// was not recycled since the Process handle was made.
func (self *WindowsBackend) openVerified(
	proc *Process, access uint32) (windows.Handle, error) {
	handle, err := windows.OpenProcess(
		access|windows.PROCESS_QUERY_LIMITED_INFORMATION,
		false, uint32(proc.Pid()))
	if err != nil {
		return 0, classifyOpenError(err)
	}

	var creation, exit, kernel, user windows.Filetime
	err = windows.GetProcessTimes(
		handle, &creation, &exit, &kernel, &user)
	if err != nil {
		windows.CloseHandle(handle)
		return 0, err
	}

	create_time := time.Unix(0, creation.Nanoseconds())
	if !create_time.Equal(proc.CreateTime()) {
		windows.CloseHandle(handle)
		return 0, ErrNoSuchProcess
	}
	return handle, nil
}

func (self *WindowsBackend) Exe(
	ctx context.Context, proc *Process) (string, error) {
	handle, err := self.openVerified(proc, 0)
	if err != nil {
		return "", err
	}
	defer windows.CloseHandle(handle)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	err = windows.QueryFullProcessImageName(handle, 0, &buf[0], &size)
	if err == windows.ERROR_INSUFFICIENT_BUFFER {
		buf = make([]uint16, 32768)
		size = uint32(len(buf))
		err = windows.QueryFullProcessImageName(handle, 0, &buf[0], &size)
	}
	if err != nil {
		return "", err
	}
	return windows.UTF16ToString(buf[:size]), nil
}

func (self *WindowsBackend) MemoryInfo(
	ctx context.Context, proc *Process) (*MemoryInfo, error) {
	row, err := self.rowFor(ctx, proc)
	if err != nil {
		return nil, err
	}
	return &MemoryInfo{
		RSS: row.WorkingSet,
		VMS: row.Pagefile,
	}, nil
}

func (self *WindowsBackend) CPUTimes(
	ctx context.Context, proc *Process) (*CPUTimes, error) {
	row, err := self.rowFor(ctx, proc)
	if err != nil {
		return nil, err
	}
	return &CPUTimes{
		User:   row.UserTime,
		System: row.KernelTime,
	}, nil
}

func (self *WindowsBackend) NumThreads(
	ctx context.Context, proc *Process) (int32, error) {
	row, err := self.rowFor(ctx, proc)
	if err != nil {
		return 0, err
	}
	return row.NumThreads, nil
}

func (self *WindowsBackend) IOCounters(
	ctx context.Context, proc *Process) (*IOCounters, error) {
	row, err := self.rowFor(ctx, proc)
	if err != nil {
		return nil, err
	}
	return &IOCounters{
		ReadCount:  row.ReadOps,
		WriteCount: row.WriteOps,
		ReadBytes:  row.ReadBytes,
		WriteBytes: row.WriteBytes,
	}, nil
}

// SendSignal only supports termination. The exit code of the killed
// process is the signal number, matching what Wait reports for
// signal deaths elsewhere.
func (self *WindowsBackend) SendSignal(ctx context.Context,
	proc *Process, sig syscall.Signal) error {
	if sig != syscall.SIGTERM && sig != syscall.SIGKILL {
		return notImplemented("signal")
	}

	handle, err := self.openVerified(proc, windows.PROCESS_TERMINATE)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(handle)

	return windows.TerminateProcess(handle, uint32(sig))
}

func waitMilliseconds(timeout time.Duration) uint32 {
	if timeout < 0 {
		return windows.INFINITE
	}
	ms := timeout.Milliseconds()
	if ms >= int64(windows.INFINITE) {
		ms = int64(windows.INFINITE) - 1
	}
	return uint32(ms)
}

func (self *WindowsBackend) Wait(ctx context.Context, proc *Process,
	timeout time.Duration) (int32, error) {

	handle, err := self.openVerified(proc, windows.SYNCHRONIZE)
	if err != nil {
		if err == ErrNoSuchProcess {
			// Already gone, nothing to wait for.
			return -1, nil
		}
		return -1, err
	}
	defer windows.CloseHandle(handle)

	clock := utils.GetTime()
	start := clock.Now()
	infinite := timeout < 0

	var deadline time.Time
	if !infinite {
		deadline = start.Add(timeout)
	}

	for {
		// Wait in bounded slices so context cancellation is noticed
		// even on an unbounded wait.
		slice := time.Second
		if !infinite {
			remaining := deadline.Sub(clock.Now())
			if remaining < 0 {
				remaining = 0
			}
			if remaining < slice {
				slice = remaining
			}
		}

		event, err := windows.WaitForSingleObject(
			handle, waitMilliseconds(slice))
		if err != nil {
			return -1, err
		}

		if event == windows.WAIT_OBJECT_0 {
			var code uint32
			err := windows.GetExitCodeProcess(handle, &code)
			if err != nil {
				return -1, err
			}
			return int32(code), nil
		}

		elapsed := clock.Now().Sub(start)
		if timeout == 0 {
			return -1, &TimeoutExpiredError{
				Pid: proc.Pid(), Elapsed: elapsed}
		}
		if !infinite && !clock.Now().Before(deadline) {
			return -1, &TimeoutExpiredError{
				Pid: proc.Pid(), Elapsed: elapsed}
		}
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
	}
}

func (self *WindowsBackend) MaxWaitBatch() int {
	return MAXIMUM_WAIT_OBJECTS
}

// WaitAny blocks until one process of the batch exits and returns
// its index. Processes that turn out to be gone already count as
// exited immediately.
func (self *WindowsBackend) WaitAny(ctx context.Context,
	procs []*Process, timeout time.Duration) (int, error) {
	if len(procs) == 0 {
		return -1, &TimeoutExpiredError{Elapsed: 0}
	}
	if len(procs) > MAXIMUM_WAIT_OBJECTS {
		procs = procs[:MAXIMUM_WAIT_OBJECTS]
	}

	handles := make([]windows.Handle, 0, len(procs))
	closeAll := func() {
		for _, handle := range handles {
			windows.CloseHandle(handle)
		}
	}

	for i, proc := range procs {
		handle, err := self.openVerified(proc, windows.SYNCHRONIZE)
		if err != nil {
			closeAll()
			if err == ErrNoSuchProcess {
				return i, nil
			}
			return -1, err
		}
		handles = append(handles, handle)
	}
	defer closeAll()

	event, err := windows.WaitForMultipleObjects(
		handles, false, waitMilliseconds(timeout))
	if err != nil {
		return -1, err
	}
	if event == uint32(windows.WAIT_TIMEOUT) {
		return -1, &TimeoutExpiredError{Elapsed: timeout}
	}

	idx := int(event - windows.WAIT_OBJECT_0)
	if idx >= 0 && idx < len(handles) {
		return idx, nil
	}
	return -1, &TimeoutExpiredError{Elapsed: timeout}
}
