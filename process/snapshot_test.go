package process

import (
	"context"
	"testing"
	"time"

	"www.velocidex.com/golang/psutils/vtesting/assert"
)

func TestTableHandleIdentity(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(1, time.Unix(10, 0), "init")
	backend.AddProcess(2, time.Unix(20, 0), "daemon")

	ctx := context.Background()
	table := NewTable()

	first, err := table.Processes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(first))

	second, err := table.Processes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(second))

	// Surviving processes keep the exact same handle object.
	by_pid := make(map[int32]*Process)
	for _, proc := range first {
		by_pid[proc.Pid()] = proc
	}
	for _, proc := range second {
		assert.True(t, by_pid[proc.Pid()] == proc)
	}
}

func TestTablePidRecycling(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(42, time.Unix(100, 0), "old")

	ctx := context.Background()
	table := NewTable()

	first, err := table.Processes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(first))
	old := first[0]

	// The pid is recycled between snapshots.
	backend.RemoveProcess(42)
	backend.AddProcess(42, time.Unix(200, 0), "new")

	second, err := table.Processes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(second))
	fresh := second[0]

	assert.True(t, old != fresh)
	assert.False(t, old.Equals(fresh))
	assert.True(t, fresh.CreateTime().Equal(time.Unix(200, 0)))

	// The replaced handle is dead without any further kernel calls.
	create_time_calls := backend.CallCount("create_time")
	running, err := old.IsRunning(ctx)
	assert.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, create_time_calls, backend.CallCount("create_time"))
}

func TestTableEviction(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(1, time.Unix(10, 0), "init")
	backend.AddProcess(9, time.Unix(90, 0), "ephemeral")

	ctx := context.Background()
	table := NewTable()

	_, err := table.Processes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	ephemeral, pres := table.Get(9)
	assert.True(t, pres)

	backend.RemoveProcess(9)

	procs, err := table.Processes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(procs))
	assert.Equal(t, 1, table.Len())

	_, pres = table.Get(9)
	assert.False(t, pres)

	// Evicted handles turn dead so stale references cannot read
	// through them.
	running, err := ephemeral.IsRunning(ctx)
	assert.NoError(t, err)
	assert.False(t, running)
}

func TestTableGetNeverQueries(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(5, time.Unix(50, 0), "cached")

	ctx := context.Background()
	table := NewTable()

	_, err := table.Processes(ctx)
	assert.NoError(t, err)

	lists := backend.CallCount("list")
	queries := backend.CallCount("query")
	create_times := backend.CallCount("create_time")

	proc, pres := table.Get(5)
	assert.True(t, pres)
	assert.Equal(t, int32(5), proc.Pid())

	_, pres = table.Get(77)
	assert.False(t, pres)

	assert.Equal(t, lists, backend.CallCount("list"))
	assert.Equal(t, queries, backend.CallCount("query"))
	assert.Equal(t, create_times, backend.CallCount("create_time"))
}

func TestIndependentTables(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(3, time.Unix(30, 0), "shared")

	ctx := context.Background()
	table_a := NewTable()
	table_b := NewTable()

	procs_a, err := table_a.Processes(ctx)
	assert.NoError(t, err)
	procs_b, err := table_b.Processes(ctx)
	assert.NoError(t, err)

	// Different tables never share handles, though the handles
	// refer to the same process.
	assert.True(t, procs_a[0] != procs_b[0])
	assert.True(t, procs_a[0].Equals(procs_b[0]))
}
