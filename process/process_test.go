package process

import (
	"context"
	"testing"
	"time"

	"www.velocidex.com/golang/psutils/vtesting/assert"
)

func TestProcessIdentity(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	create_time := time.Unix(1000, 500000000)
	backend.AddProcess(4242, create_time, "worker")

	ctx := context.Background()
	proc, err := NewProcess(ctx, 4242)
	assert.NoError(t, err)
	assert.Equal(t, int32(4242), proc.Pid())
	assert.True(t, proc.CreateTime().Equal(create_time))

	// Identities are comparable and usable as map keys.
	index := map[ProcessIdentity]string{
		proc.Identity(): "worker",
	}
	other, err := NewProcess(ctx, 4242)
	assert.NoError(t, err)
	assert.Equal(t, "worker", index[other.Identity()])
	assert.Equal(t, "4242-1000500000000", proc.Identity().String())
}

func TestEqualsAcrossConstructions(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(7, time.Unix(500, 0), "a")

	ctx := context.Background()
	first, err := NewProcess(ctx, 7)
	assert.NoError(t, err)
	second, err := NewProcess(ctx, 7)
	assert.NoError(t, err)

	assert.True(t, first != second)
	assert.True(t, first.Equals(second))
	assert.False(t, first.Equals(nil))
}

func TestNewProcessUnknownPid(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	_, err := NewProcess(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNoSuchProcess)

	_, err = NewProcess(context.Background(), -5)
	assert.ErrorIs(t, err, ErrNoSuchProcess)
}

func TestPidReuseDetected(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(4242, time.Unix(1000, 500000000), "original")

	ctx := context.Background()
	proc, err := NewProcess(ctx, 4242)
	assert.NoError(t, err)

	running, err := proc.IsRunning(ctx)
	assert.NoError(t, err)
	assert.True(t, running)

	// The pid is recycled to an unrelated process.
	backend.RemoveProcess(4242)
	backend.AddProcess(4242, time.Unix(2000, 100000000), "impostor")

	running, err = proc.IsRunning(ctx)
	assert.NoError(t, err)
	assert.False(t, running)

	// The stale handle refuses to report the impostor's data.
	_, err = proc.Name(ctx)
	assert.ErrorIs(t, err, ErrNoSuchProcess)

	// A fresh handle sees the new incarnation.
	fresh, err := NewProcess(ctx, 4242)
	assert.NoError(t, err)
	assert.False(t, proc.Equals(fresh))

	name, err := fresh.Name(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "impostor", name)
}

func TestDeadFlagIsSticky(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(55, time.Unix(100, 0), "shortlived")

	ctx := context.Background()
	proc, err := NewProcess(ctx, 55)
	assert.NoError(t, err)

	backend.RemoveProcess(55)
	running, err := proc.IsRunning(ctx)
	assert.NoError(t, err)
	assert.False(t, running)

	// Once dead, nothing touches the backend again.
	create_time_calls := backend.CallCount("create_time")
	queries := backend.CallCount("query")

	for i := 0; i < 3; i++ {
		running, err = proc.IsRunning(ctx)
		assert.NoError(t, err)
		assert.False(t, running)

		_, err = proc.Name(ctx)
		assert.ErrorIs(t, err, ErrNoSuchProcess)

		err = proc.Terminate(ctx)
		assert.ErrorIs(t, err, ErrNoSuchProcess)
	}

	assert.Equal(t, create_time_calls, backend.CallCount("create_time"))
	assert.Equal(t, queries, backend.CallCount("query"))
}

func TestZombieClassification(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	entry := backend.AddProcess(88, time.Unix(100, 0), "undead")
	entry.status = STATUS_ZOMBIE

	ctx := context.Background()
	proc, err := NewProcess(ctx, 88)
	assert.NoError(t, err)

	_, err = proc.Cmdline(ctx)
	assert.ErrorIs(t, err, ErrZombieProcess)

	// Zombie errors also read as no-such-process for callers that
	// do not care about the distinction.
	assert.ErrorIs(t, err, ErrNoSuchProcess)

	// But the zombie still exists: the handle is not dead and its
	// remaining attributes stay readable.
	status, err := proc.Status(ctx)
	assert.NoError(t, err)
	assert.Equal(t, STATUS_ZOMBIE, status)

	running, err := proc.IsRunning(ctx)
	assert.NoError(t, err)
	assert.True(t, running)
}

func TestUnsupportedCapabilityFailsWithoutKernelCall(t *testing.T) {
	backend := NewMockBackend().WithCapabilities(CAP_MEMORY_INFO)
	defer SetBackendForTests(backend)()

	backend.AddProcess(13, time.Unix(100, 0), "limited")

	ctx := context.Background()
	proc, err := NewProcess(ctx, 13)
	assert.NoError(t, err)

	queries := backend.CallCount("query")

	_, err = proc.Environ(ctx)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.Contains(t, err.Error(), "environ")

	_, err = proc.OpenFiles(ctx)
	assert.ErrorIs(t, err, ErrNotImplemented)

	err = proc.Suspend(ctx)
	assert.ErrorIs(t, err, ErrNotImplemented)

	assert.Equal(t, queries, backend.CallCount("query"))

	// The declared capability still works.
	assert.True(t, proc.HasCapability(CAP_MEMORY_INFO))
	_, err = proc.MemoryInfo(ctx)
	assert.NoError(t, err)
}

func TestParentAndChildren(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	base := time.Unix(100, 0)
	backend.AddProcess(1, base, "init")
	backend.AddProcess(100, base.Add(time.Second), "server").ppid = 1
	backend.AddProcess(200, base.Add(2*time.Second), "worker").ppid = 100
	backend.AddProcess(201, base.Add(2*time.Second), "worker").ppid = 100
	backend.AddProcess(300, base.Add(3*time.Second), "job").ppid = 200

	ctx := context.Background()
	server, err := NewProcess(ctx, 100)
	assert.NoError(t, err)

	children, err := server.Children(ctx, false)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(children))

	all, err := server.Children(ctx, true)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(all))

	worker, err := NewProcess(ctx, 200)
	assert.NoError(t, err)
	parent, err := worker.Parent(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, parent)
	assert.True(t, parent.Equals(server))

	parents, err := worker.Parents(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(parents))
	assert.Equal(t, int32(100), parents[0].Pid())
	assert.Equal(t, int32(1), parents[1].Pid())
}

func TestParentPidReuseYieldsNoParent(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	base := time.Unix(100, 0)
	backend.AddProcess(50, base, "parent")
	backend.AddProcess(60, base.Add(time.Second), "child").ppid = 50

	ctx := context.Background()
	child, err := NewProcess(ctx, 60)
	assert.NoError(t, err)

	// The parent pid is recycled to a process younger than the
	// child, which cannot be its real parent.
	backend.RemoveProcess(50)
	backend.AddProcess(50, base.Add(time.Hour), "newcomer")

	parent, err := child.Parent(ctx)
	assert.NoError(t, err)
	assert.Nil(t, parent)
}

func TestTerminateAndReap(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(77, time.Unix(100, 0), "victim")

	ctx := context.Background()
	proc, err := NewProcess(ctx, 77)
	assert.NoError(t, err)

	err = proc.Terminate(ctx)
	assert.NoError(t, err)

	code, err := proc.Wait(ctx, time.Second)
	assert.NoError(t, err)
	assert.Equal(t, int32(-15), code)
}

func TestListProcessesAndPids(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(1, time.Unix(10, 0), "init")
	backend.AddProcess(2, time.Unix(20, 0), "kthreadd")

	ctx := context.Background()
	pids, err := Pids(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(pids))

	procs, err := ListProcesses(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(procs))

	exists, err := PidExists(ctx, 1)
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = PidExists(ctx, 9999)
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestAsDict(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	entry := backend.AddProcess(42, time.Unix(100, 0), "dictproc")
	entry.cmdline = []string{"dictproc", "--flag"}
	entry.memory = &MemoryInfo{RSS: 4096, VMS: 8192}

	ctx := context.Background()
	proc, err := NewProcess(ctx, 42)
	assert.NoError(t, err)

	dict := proc.AsDict(ctx)

	pid, _ := dict.Get("Pid")
	assert.Equal(t, int32(42), pid)

	name, _ := dict.Get("name")
	assert.Equal(t, "dictproc", name)

	cmdline, _ := dict.Get("CommandLine")
	assert.Equal(t, "dictproc --flag", cmdline)

	// Attributes the backend cannot provide are simply absent.
	_, pres := dict.Get("Cwd")
	assert.False(t, pres)
}
