//go:build linux

package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"www.velocidex.com/golang/psutils/vtesting"
	"www.velocidex.com/golang/psutils/vtesting/assert"
)

// startSleeper spawns a real child process the tests can inspect
// through procfs. The cleanup reaps it regardless of what the test
// did to it first.
func startSleeper(t *testing.T, env ...string) *exec.Cmd {
	cmd := exec.Command("sleep", "300")
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	err := cmd.Start()
	assert.NoError(t, err)

	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestLinuxSelfProcess(t *testing.T) {
	ctx := context.Background()
	proc, err := NewProcess(ctx, int32(os.Getpid()))
	assert.NoError(t, err)

	name, err := proc.Name(ctx)
	assert.NoError(t, err)
	assert.NotEqual(t, "", name)

	ppid, err := proc.Ppid(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int32(os.Getppid()), ppid)

	exe, err := proc.Exe(ctx)
	assert.NoError(t, err)
	assert.True(t, filepath.IsAbs(exe))

	cwd, err := proc.Cwd(ctx)
	assert.NoError(t, err)
	wd, _ := os.Getwd()
	assert.Equal(t, wd, cwd)

	cmdline, err := proc.Cmdline(ctx)
	assert.NoError(t, err)
	assert.True(t, len(cmdline) > 0)

	uids, err := proc.Uids(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int32(os.Getuid()), uids.Real)

	memory, err := proc.MemoryInfo(ctx)
	assert.NoError(t, err)
	assert.True(t, memory.RSS > 0)
	assert.True(t, memory.VMS >= memory.RSS)

	threads, err := proc.NumThreads(ctx)
	assert.NoError(t, err)
	assert.True(t, threads >= 1)

	num_fds, err := proc.NumFDs(ctx)
	assert.NoError(t, err)
	assert.True(t, num_fds >= 3)

	running, err := proc.IsRunning(ctx)
	assert.NoError(t, err)
	assert.True(t, running)
}

func TestLinuxChildAttributes(t *testing.T) {
	cmd := startSleeper(t, "PSUTILS_TEST_MARKER=sleeper")
	pid := int32(cmd.Process.Pid)

	ctx := context.Background()
	proc, err := NewProcess(ctx, pid)
	assert.NoError(t, err)

	name, err := proc.Name(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "sleep", name)

	cmdline, err := proc.Cmdline(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"sleep", "300"}, cmdline)

	ppid, err := proc.Ppid(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), ppid)

	env, err := proc.Environ(ctx)
	assert.NoError(t, err)
	marker, pres := env.GetString("PSUTILS_TEST_MARKER")
	assert.True(t, pres)
	assert.Equal(t, "sleeper", marker)

	// The creation time is reproducible: a second reading sees the
	// exact same instant.
	again, err := NewProcess(ctx, pid)
	assert.NoError(t, err)
	assert.True(t, proc.Equals(again))
	assert.True(t, proc.CreateTime().Equal(again.CreateTime()))

	parent, err := proc.Parent(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, parent)
	assert.Equal(t, int32(os.Getpid()), parent.Pid())
}

func TestLinuxChildLifecycle(t *testing.T) {
	cmd := startSleeper(t)
	pid := int32(cmd.Process.Pid)

	ctx := context.Background()
	proc, err := NewProcess(ctx, pid)
	assert.NoError(t, err)

	running, err := proc.IsRunning(ctx)
	assert.NoError(t, err)
	assert.True(t, running)

	err = proc.Terminate(ctx)
	assert.NoError(t, err)

	code, err := proc.Wait(ctx, 10*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, int32(-15), code)

	// The handle stays dead without further kernel traffic.
	running, err = proc.IsRunning(ctx)
	assert.NoError(t, err)
	assert.False(t, running)

	_, err = proc.Name(ctx)
	assert.ErrorIs(t, err, ErrNoSuchProcess)

	// The recorded code survives repeated waits.
	code, err = proc.Wait(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, int32(-15), code)
}

func TestLinuxSuspendResume(t *testing.T) {
	cmd := startSleeper(t)
	pid := int32(cmd.Process.Pid)

	ctx := context.Background()
	proc, err := NewProcess(ctx, pid)
	assert.NoError(t, err)

	err = proc.Suspend(ctx)
	assert.NoError(t, err)

	vtesting.WaitUntil(5*time.Second, t, func() bool {
		status, err := proc.Status(ctx)
		return err == nil && status == STATUS_STOPPED
	})

	err = proc.Resume(ctx)
	assert.NoError(t, err)

	vtesting.WaitUntil(5*time.Second, t, func() bool {
		status, err := proc.Status(ctx)
		return err == nil && status != STATUS_STOPPED
	})
}

func TestLinuxEnumeration(t *testing.T) {
	ctx := context.Background()
	self_pid := int32(os.Getpid())

	pids, err := Pids(ctx)
	assert.NoError(t, err)

	found := false
	for _, pid := range pids {
		if pid == self_pid {
			found = true
			break
		}
	}
	assert.True(t, found)

	procs, err := ListProcesses(ctx)
	assert.NoError(t, err)

	self, err := NewProcess(ctx, self_pid)
	assert.NoError(t, err)

	found = false
	for _, proc := range procs {
		if proc.Pid() == self_pid {
			found = true
			assert.True(t, proc.Equals(self))
		}
	}
	assert.True(t, found)

	exists, err := PidExists(ctx, self_pid)
	assert.NoError(t, err)
	assert.True(t, exists)
}

func TestLinuxWaitProcsChildren(t *testing.T) {
	short := exec.Command("sleep", "0.1")
	err := short.Start()
	assert.NoError(t, err)
	t.Cleanup(func() { _ = short.Wait() })

	long := startSleeper(t)

	ctx := context.Background()
	short_proc, err := NewProcess(ctx, int32(short.Process.Pid))
	assert.NoError(t, err)
	long_proc, err := NewProcess(ctx, int32(long.Process.Pid))
	assert.NoError(t, err)

	gone, alive, err := WaitProcs(ctx,
		[]*Process{short_proc, long_proc}, 2*time.Second, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(gone))
	assert.Equal(t, int32(short.Process.Pid), gone[0].Pid())
	assert.Equal(t, 1, len(alive))

	code, pres := gone[0].recordedExitCode()
	assert.True(t, pres)
	assert.Equal(t, int32(0), code)
}

func TestLinuxOneshotUsesOneRead(t *testing.T) {
	cmd := startSleeper(t)
	pid := int32(cmd.Process.Pid)

	ctx := context.Background()
	proc, err := NewProcess(ctx, pid)
	assert.NoError(t, err)

	// All of these come off the same stat snapshot.
	scope := proc.Oneshot()
	defer scope.Close()

	name, err := proc.Name(ctx)
	assert.NoError(t, err)
	status, err := proc.Status(ctx)
	assert.NoError(t, err)
	times, err := proc.CPUTimes(ctx)
	assert.NoError(t, err)

	assert.Equal(t, "sleep", name)
	assert.NotEqual(t, Status(""), status)
	assert.True(t, times.Total() >= 0)
}

func TestLinuxTerminalAndNice(t *testing.T) {
	ctx := context.Background()
	proc, err := NewProcess(ctx, int32(os.Getpid()))
	assert.NoError(t, err)

	// Test binaries usually have no controlling terminal, both
	// outcomes are fine. The call itself must not error.
	_, err = proc.Terminal(ctx)
	assert.NoError(t, err)

	nice, err := proc.Nice(ctx)
	assert.NoError(t, err)
	assert.True(t, nice >= -20 && nice <= 19)
}
