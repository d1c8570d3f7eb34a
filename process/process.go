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

package process

import (
	"context"
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Velocidex/ordereddict"
	errors "github.com/go-errors/errors"
)

// ProcessIdentity names a process for all time. Pids are recycled by
// the kernel but a (pid, creation time) pair is never reissued, so
// the identity is usable as a map key across process lifetimes.
type ProcessIdentity struct {
	Pid        int32
	CreateTime int64 // unix nanoseconds
}

func (self ProcessIdentity) String() string {
	return fmt.Sprintf("%d-%d", self.Pid, self.CreateTime)
}

// Process is a handle on a single process. The handle is bound to
// the process that owned the pid when it was created: if that
// process exits and the pid is reused, all accessors fail with
// ErrNoSuchProcess rather than report the impostor's data.
//
// A handle is safe for concurrent use except while a oneshot scope
// is open on it (see Oneshot).
type Process struct {
	mu sync.Mutex

	pid         int32
	create_time time.Time
	backend     Backend

	// Once the process is known to be gone this is set and never
	// cleared. Accessors fail immediately without kernel calls.
	dead bool

	// The exit code recovered by Wait, recorded once.
	exit_code *int32

	// Oneshot scope state. The cache only accepts writes while at
	// least one scope is open.
	oneshot_refs int
	cache        map[string]interface{}
}

// NewProcess resolves a pid into a handle, fixing its identity by
// reading the creation time now. Fails with ErrNoSuchProcess if the
// pid is not currently in use.
func NewProcess(ctx context.Context, pid int32) (*Process, error) {
	if pid < 0 {
		return nil, fmt.Errorf("invalid pid %v: %w", pid, ErrNoSuchProcess)
	}

	backend := GetBackend()
	create_time, err := backend.CreateTime(ctx, pid)
	if err != nil {
		return nil, err
	}
	return newProcessWithCreateTime(backend, pid, create_time), nil
}

// newProcessWithCreateTime seeds a handle from an enumeration row
// where the creation time is already known, skipping the existence
// check.
func newProcessWithCreateTime(
	backend Backend, pid int32, create_time time.Time) *Process {
	return &Process{
		pid:         pid,
		create_time: create_time,
		backend:     backend,
	}
}

// Self returns a handle on the calling process.
func Self(ctx context.Context) (*Process, error) {
	return NewProcess(ctx, int32(syscall.Getpid()))
}

func (self *Process) Pid() int32 {
	return self.pid
}

// CreateTime is the kernel reported start time of the process. It is
// resolved when the handle is made and never changes.
func (self *Process) CreateTime() time.Time {
	return self.create_time
}

func (self *Process) Identity() ProcessIdentity {
	return ProcessIdentity{
		Pid:        self.pid,
		CreateTime: self.create_time.UnixNano(),
	}
}

// Equals reports whether the two handles refer to the same process
// incarnation, even when they are distinct objects.
func (self *Process) Equals(other *Process) bool {
	if other == nil {
		return false
	}
	return self.pid == other.pid &&
		self.create_time.Equal(other.create_time)
}

func (self *Process) String() string {
	return fmt.Sprintf("Process(pid=%d, started=%s)",
		self.pid, self.create_time.UTC().Format(time.RFC3339))
}

func (self *Process) HasCapability(flag Capability) bool {
	return self.backend.Capabilities().Has(flag)
}

// IsRunning reports whether the process this handle was created for
// is still alive. Once it returns false it always returns false, and
// does so without touching the kernel again. A pid that is alive but
// was recycled to a different process counts as not running.
func (self *Process) IsRunning(ctx context.Context) (bool, error) {
	self.mu.Lock()
	dead := self.dead
	self.mu.Unlock()

	if dead {
		return false, nil
	}

	create_time, err := self.backend.CreateTime(ctx, self.pid)
	if err != nil {
		if errors.Is(err, ErrNoSuchProcess) {
			self.markDead()
			return false, nil
		}
		return false, err
	}

	if !create_time.Equal(self.create_time) {
		// The pid was reused by a new process.
		self.markDead()
		return false, nil
	}
	return true, nil
}

func (self *Process) checkDead() error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.dead {
		return ErrNoSuchProcess
	}
	return nil
}

func (self *Process) markDead() {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.dead = true
}

// noteError inspects an error from the backend and latches the dead
// flag when it proves the process is gone. Zombies still exist so
// they do not count.
func (self *Process) noteError(err error) error {
	if err != nil &&
		errors.Is(err, ErrNoSuchProcess) &&
		!errors.Is(err, ErrZombieProcess) {
		self.markDead()
	}
	return err
}

func (self *Process) setExitCode(code int32) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.exit_code == nil {
		recorded := code
		self.exit_code = &recorded
	}
	self.dead = true
}

func (self *Process) recordedExitCode() (int32, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.exit_code == nil {
		return -1, false
	}
	return *self.exit_code, true
}

// SendSignal delivers sig to the process. On windows only
// termination (SIGTERM, SIGKILL) is supported.
func (self *Process) SendSignal(ctx context.Context, sig syscall.Signal) error {
	if err := self.checkDead(); err != nil {
		return err
	}
	return self.noteError(self.backend.SendSignal(ctx, self, sig))
}

// Terminate asks the process to exit (SIGTERM).
func (self *Process) Terminate(ctx context.Context) error {
	return self.SendSignal(ctx, syscall.SIGTERM)
}

// Kill forcibly ends the process (SIGKILL). It cannot be refused or
// handled by the target.
func (self *Process) Kill(ctx context.Context) error {
	return self.SendSignal(ctx, syscall.SIGKILL)
}

// Suspend stops the process until Resume (SIGSTOP/SIGCONT).
func (self *Process) Suspend(ctx context.Context) error {
	if !self.HasCapability(CAP_SUSPEND) {
		return notImplemented("suspend")
	}
	if err := self.checkDead(); err != nil {
		return err
	}
	return self.noteError(self.backend.Suspend(ctx, self))
}

func (self *Process) Resume(ctx context.Context) error {
	if !self.HasCapability(CAP_SUSPEND) {
		return notImplemented("resume")
	}
	if err := self.checkDead(); err != nil {
		return err
	}
	return self.noteError(self.backend.Resume(ctx, self))
}

// Parent returns a handle on the parent process, or nil if there is
// none. A parent that started after this process did is a recycled
// pid, not our parent, and also yields nil.
func (self *Process) Parent(ctx context.Context) (*Process, error) {
	ppid, err := self.Ppid(ctx)
	if err != nil {
		return nil, err
	}
	if ppid <= 0 {
		return nil, nil
	}

	parent, err := NewProcess(ctx, ppid)
	if err != nil {
		if errors.Is(err, ErrNoSuchProcess) {
			return nil, nil
		}
		return nil, err
	}
	if parent.CreateTime().After(self.create_time) {
		return nil, nil
	}
	return parent, nil
}

// Parents walks the ancestry chain from the immediate parent up.
func (self *Process) Parents(ctx context.Context) ([]*Process, error) {
	result := []*Process{}
	seen := map[int32]bool{self.pid: true}

	current := self
	for {
		parent, err := current.Parent(ctx)
		if err != nil {
			return result, err
		}
		if parent == nil || seen[parent.Pid()] {
			return result, nil
		}
		seen[parent.Pid()] = true
		result = append(result, parent)
		current = parent
	}
}

// Children lists the live processes whose parent is this process.
// With recursive set, grandchildren and deeper are included too.
func (self *Process) Children(
	ctx context.Context, recursive bool) ([]*Process, error) {
	if err := self.checkDead(); err != nil {
		return nil, err
	}

	entries, err := self.backend.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}

	// Map each live pid to its parent. Processes that vanish while
	// we read them are skipped.
	children_of := make(map[int32][]*Process)
	for _, entry := range entries {
		if entry.Pid == self.pid {
			continue
		}
		proc := newProcessWithCreateTime(
			self.backend, entry.Pid, entry.CreateTime)
		ppid, err := proc.Ppid(ctx)
		if err != nil {
			continue
		}
		children_of[ppid] = append(children_of[ppid], proc)
	}

	result := children_of[self.pid]
	if !recursive {
		return result, nil
	}

	frontier := append([]*Process{}, result...)
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		for _, grandchild := range children_of[next.Pid()] {
			result = append(result, grandchild)
			frontier = append(frontier, grandchild)
		}
	}
	return result, nil
}

// AsDict collects the common attributes into an ordered dict in one
// oneshot scope. Attributes the platform can not provide are left
// out rather than reported as errors.
func (self *Process) AsDict(ctx context.Context) *ordereddict.Dict {
	scope := self.Oneshot()
	defer scope.Close()

	result := ordereddict.NewDict().SetCaseInsensitive().
		Set("Pid", self.pid).
		Set("CreateTime", self.create_time.UTC())

	name, err := self.Name(ctx)
	if err == nil {
		result.Set("Name", name)
	}

	ppid, err := self.Ppid(ctx)
	if err == nil {
		result.Set("Ppid", ppid)
	}

	status, err := self.Status(ctx)
	if err == nil {
		result.Set("Status", string(status))
	}

	cmdline, err := self.Cmdline(ctx)
	if err == nil {
		result.Set("CommandLine", strings.Join(cmdline, " "))
	}

	exe, err := self.Exe(ctx)
	if err == nil {
		result.Set("Exe", exe)
	}

	cwd, err := self.Cwd(ctx)
	if err == nil {
		result.Set("Cwd", cwd)
	}

	username, err := self.Username(ctx)
	if err == nil {
		result.Set("Username", username)
	}

	times, err := self.CPUTimes(ctx)
	if err == nil {
		result.Set("Times", times)
	}

	memory_info, err := self.MemoryInfo(ctx)
	if err == nil {
		result.Set("MemoryInfo", memory_info)
	}

	return result
}

// Username resolves the real uid into an account name. Needs
// CAP_UIDS, so it is unavailable on windows.
func (self *Process) Username(ctx context.Context) (string, error) {
	uids, err := self.Uids(ctx)
	if err != nil {
		return "", err
	}

	user_record, err := user.LookupId(strconv.Itoa(int(uids.Real)))
	if err != nil {
		// No passwd entry. The numeric id is still useful.
		return strconv.Itoa(int(uids.Real)), nil
	}
	return user_record.Username, nil
}

// Pids lists the pids currently in use, in kernel enumeration order.
func Pids(ctx context.Context) ([]int32, error) {
	return GetBackend().Pids(ctx)
}

// PidExists reports whether a pid is currently in use. Unlike
// IsRunning this says nothing about which process owns it.
func PidExists(ctx context.Context, pid int32) (bool, error) {
	return GetBackend().PidExists(ctx, pid)
}

// ListProcesses returns fresh handles for every process visible in
// one enumeration pass. For identity preserving iteration across
// repeated calls use a Table instead.
func ListProcesses(ctx context.Context) ([]*Process, error) {
	backend := GetBackend()
	entries, err := backend.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*Process, 0, len(entries))
	for _, entry := range entries {
		result = append(result,
			newProcessWithCreateTime(backend, entry.Pid, entry.CreateTime))
	}
	return result, nil
}
