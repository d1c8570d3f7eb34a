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

package sysquery

import (
	"bytes"
	"context"

	errors "github.com/go-errors/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Returned (or wrapped) by a RawQuery when the kernel reported
	// the buffer was too small. The reported length is the kernel's
	// estimate of the needed size.
	ErrSizeMismatch = errors.New("buffer too small for kernel result")

	// The kernel wants more memory than Options.MaxSize allows.
	ErrResultTooLarge = errors.New("kernel result exceeds maximum buffer size")

	rawCallsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sysquery_raw_calls",
			Help: "Number of raw variable length kernel calls made.",
		})

	retriesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sysquery_retries",
			Help: "Number of times a kernel query buffer had to be regrown.",
		})
)

// A RawQuery makes exactly one attempt to fill dst with the kernel
// result. It returns the length the kernel reported. On success that
// is the number of bytes actually written to dst, which may be less
// than len(dst) if the result shrank since the last estimate. When
// the buffer is too small the query returns ErrSizeMismatch and the
// length is the kernel's estimate of the needed size (0 if the
// kernel does not provide estimates). Calling with an empty dst is
// allowed and acts as a pure size probe.
type RawQuery func(dst []byte) (int, error)

type Options struct {
	// Size of the first buffer offered. 0 starts with an empty
	// probe call so the kernel reports the needed size without
	// copying anything.
	InitialSize int

	// Slack added on top of the kernel's size estimate. The table
	// may grow between the estimate and the next call, padding
	// avoids an extra round trip in the common case.
	Padding int

	// A hard upper limit on the buffer. 0 means unlimited.
	MaxSize int

	// Trim trailing NUL bytes from the result. String tables are
	// commonly NUL padded.
	TrimNul bool
}

// The growth start point when the kernel gives no size estimates.
const defaultGrowSize = 4096

// Run the query to completion, growing the buffer until the kernel
// result fits. The loop is unbounded unless Options.MaxSize is set -
// a kernel that keeps growing its table is not an error condition.
// Each iteration makes exactly one raw call.
func Run(ctx context.Context, raw RawQuery, opts Options) ([]byte, error) {
	size := opts.InitialSize

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if opts.MaxSize > 0 && size > opts.MaxSize {
			return nil, ErrResultTooLarge
		}

		var buffer []byte
		if size > 0 {
			buffer = make([]byte, size)
		}

		rawCallsCounter.Inc()
		length, err := raw(buffer)
		if err == nil {
			// Only trust the reported length - the result may
			// have shrunk since the estimate.
			if length < 0 || length > len(buffer) {
				length = len(buffer)
			}

			result := buffer[:length]
			if opts.TrimNul {
				result = bytes.TrimRight(result, "\x00")
			}
			return result, nil
		}

		if !errors.Is(err, ErrSizeMismatch) {
			return nil, err
		}

		retriesCounter.Inc()

		// Believe the kernel's estimate when it gives one,
		// otherwise grow geometrically.
		if length > size {
			size = length + opts.Padding
		} else if size == 0 {
			size = defaultGrowSize
		} else {
			size *= 2
		}
	}
}
