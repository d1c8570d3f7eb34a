package sysquery

import (
	"context"
	"testing"

	"github.com/alecthomas/assert"
	errors "github.com/go-errors/errors"
	"www.velocidex.com/golang/psutils/utils"
)

// A fake kernel table that can grow between calls.
type fakeTable struct {
	data  []byte
	calls int

	// Sizes of the buffers we were offered.
	offered []int

	// Grow the table by this much after a too small reply, up to
	// grows_left times, to simulate racing processes.
	grow_by    int
	grows_left int
}

func (self *fakeTable) query(dst []byte) (int, error) {
	self.calls++
	self.offered = append(self.offered, len(dst))

	if len(dst) < len(self.data) {
		needed := len(self.data)
		if self.grows_left > 0 {
			self.grows_left--
			self.data = append(self.data, make([]byte, self.grow_by)...)
		}
		return needed, ErrSizeMismatch
	}

	copy(dst, self.data)
	return len(self.data), nil
}

func TestDoubleTruncationMakesThreeCalls(t *testing.T) {
	table := &fakeTable{
		data: make([]byte, 100),
		// Grow past the estimate once, so the second buffer is
		// stale by the time it arrives.
		grow_by:    500,
		grows_left: 1,
	}

	result, err := Run(context.Background(), table.query, Options{})
	assert.NoError(t, err)
	assert.Equal(t, 3, table.calls)
	assert.Equal(t, 600, len(result))
	assert.Equal(t, []int{0, 100, 600}, table.offered)
}

func TestResultShrank(t *testing.T) {
	shrink_on_fetch := &fakeTable{data: make([]byte, 100)}

	raw := func(dst []byte) (int, error) {
		length, err := shrink_on_fetch.query(dst)
		if err == nil {
			// The table lost entries between the probe and the
			// fetch. The kernel reports the smaller length.
			return 60, nil
		}
		return length, err
	}

	result, err := Run(context.Background(), raw, Options{})
	assert.NoError(t, err)
	assert.Equal(t, 60, len(result))
}

func TestTerminalErrorStopsRetry(t *testing.T) {
	calls := 0
	terminal := errors.New("operation not permitted")

	raw := func(dst []byte) (int, error) {
		calls++
		return 0, terminal
	}

	_, err := Run(context.Background(), raw, Options{})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, terminal))
	assert.Equal(t, 1, calls)
}

func TestMaxSize(t *testing.T) {
	raw := func(dst []byte) (int, error) {
		return len(dst) * 2, ErrSizeMismatch
	}

	_, err := Run(context.Background(), raw, Options{
		InitialSize: 1024,
		MaxSize:     4096,
	})
	assert.True(t, errors.Is(err, ErrResultTooLarge))
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw := func(dst []byte) (int, error) {
		return 0, ErrSizeMismatch
	}

	_, err := Run(ctx, raw, Options{})
	assert.Equal(t, context.Canceled, err)
}

func TestTrimNul(t *testing.T) {
	raw := func(dst []byte) (int, error) {
		if len(dst) < 8 {
			return 8, ErrSizeMismatch
		}
		copy(dst, []byte("ps\x00\x00\x00\x00\x00\x00"))
		return 8, nil
	}

	result, err := Run(context.Background(), raw, Options{TrimNul: true})
	assert.NoError(t, err)
	assert.Equal(t, []byte("ps"), result)
}

func TestGeometricGrowthWithoutEstimate(t *testing.T) {
	offered := []int{}
	raw := func(dst []byte) (int, error) {
		offered = append(offered, len(dst))
		if len(dst) >= 16384 {
			return len(dst), nil
		}
		// A kernel that cannot estimate sizes reports 0.
		return 0, ErrSizeMismatch
	}

	_, err := Run(context.Background(), raw, Options{})
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 4096, 8192, 16384}, offered)
}

func TestPaddingAppliedToEstimate(t *testing.T) {
	offered := []int{}
	raw := func(dst []byte) (int, error) {
		offered = append(offered, len(dst))
		if len(dst) >= 100 {
			return 100, nil
		}
		return 100, ErrSizeMismatch
	}

	_, err := Run(context.Background(), raw, Options{Padding: 24})
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 124}, offered)
}

func TestRetriesAreCounted(t *testing.T) {
	before, err := utils.GetCounterValue(retriesCounter)
	assert.NoError(t, err)

	table := &fakeTable{data: make([]byte, 50)}
	_, err = Run(context.Background(), table.query, Options{})
	assert.NoError(t, err)

	after, err := utils.GetCounterValue(retriesCounter)
	assert.NoError(t, err)

	// One retry for the initial probe.
	assert.Equal(t, before+1, after)
}

func TestInitialSizeSkipsProbe(t *testing.T) {
	table := &fakeTable{data: make([]byte, 50)}

	result, err := Run(context.Background(), table.query, Options{
		InitialSize: 1024,
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, table.calls)
	assert.Equal(t, 50, len(result))
}
