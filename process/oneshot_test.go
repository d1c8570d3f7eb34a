package process

import (
	"context"
	"testing"
	"time"

	"www.velocidex.com/golang/psutils/vtesting/assert"
)

func TestOneshotBatchesReads(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(10, time.Unix(100, 0), "batcher")

	ctx := context.Background()
	proc, err := NewProcess(ctx, 10)
	assert.NoError(t, err)

	// Outside a scope every read queries the kernel fresh.
	_, err = proc.Name(ctx)
	assert.NoError(t, err)
	_, err = proc.Ppid(ctx)
	assert.NoError(t, err)
	_, err = proc.Status(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3, backend.CallCount("query"))

	// Inside a scope N reads cost one query.
	scope := proc.Oneshot()
	_, err = proc.Name(ctx)
	assert.NoError(t, err)
	_, err = proc.Ppid(ctx)
	assert.NoError(t, err)
	_, err = proc.Status(ctx)
	assert.NoError(t, err)
	_, err = proc.Cmdline(ctx)
	assert.NoError(t, err)
	scope.Close()

	assert.Equal(t, 4, backend.CallCount("query"))

	// Closing the scope drops the cache.
	_, err = proc.Name(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 5, backend.CallCount("query"))
}

func TestOneshotNesting(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(11, time.Unix(100, 0), "nested")

	ctx := context.Background()
	proc, err := NewProcess(ctx, 11)
	assert.NoError(t, err)

	outer := proc.Oneshot()
	_, err = proc.Name(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, backend.CallCount("query"))

	inner := proc.Oneshot()
	_, err = proc.Ppid(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, backend.CallCount("query"))

	// The inner close does not tear down the outer scope's cache.
	inner.Close()
	_, err = proc.Status(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, backend.CallCount("query"))

	// Only the outermost close clears it.
	outer.Close()
	_, err = proc.Name(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, backend.CallCount("query"))
}

func TestOneshotCloseIdempotent(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	backend.AddProcess(12, time.Unix(100, 0), "closer")

	ctx := context.Background()
	proc, err := NewProcess(ctx, 12)
	assert.NoError(t, err)

	outer := proc.Oneshot()
	inner := proc.Oneshot()

	// Double close of the inner scope must not release the outer
	// scope's reference.
	inner.Close()
	inner.Close()

	_, err = proc.Name(ctx)
	assert.NoError(t, err)
	_, err = proc.Ppid(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, backend.CallCount("query"))

	outer.Close()
	outer.Close()

	_, err = proc.Name(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, backend.CallCount("query"))
}

func TestOneshotSnapshotSemantics(t *testing.T) {
	backend := NewMockBackend()
	defer SetBackendForTests(backend)()

	entry := backend.AddProcess(13, time.Unix(100, 0), "before")

	ctx := context.Background()
	proc, err := NewProcess(ctx, 13)
	assert.NoError(t, err)

	scope := proc.Oneshot()
	defer scope.Close()

	name, err := proc.Name(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "before", name)

	// The scope pins the first query's snapshot even when the
	// process changes underneath.
	entry.name = "after"

	name, err = proc.Name(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "before", name)
}
