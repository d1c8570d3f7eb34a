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
	"time"

	errors "github.com/go-errors/errors"
	"www.velocidex.com/golang/psutils/utils"
)

const wait_poll_interval = 10 * time.Millisecond

// Wait blocks until the process exits and returns its exit code. A
// negative code means the process died to that signal number, -1
// that the code could not be recovered (a process that is not our
// child on posix systems, or that was reaped by someone else).
//
// timeout < 0 waits forever, 0 polls exactly once, > 0 bounds the
// wait. An exhausted budget reports TimeoutExpiredError. The exit
// code is recorded on the handle, so waiting again on a reaped
// handle returns immediately with the same code.
func (self *Process) Wait(
	ctx context.Context, timeout time.Duration) (int32, error) {
	if code, pres := self.recordedExitCode(); pres {
		return code, nil
	}
	if self.checkDead() != nil {
		// Known dead but never reaped through this handle. There is
		// no exit code left to collect.
		return -1, nil
	}

	code, err := self.backend.Wait(ctx, self, timeout)
	if err != nil {
		return -1, self.noteError(err)
	}

	self.setExitCode(code)
	return code, nil
}

// WaitProcs waits on many processes at once, up to timeout (same
// semantics as Wait). Each process is reported at most once: it
// lands either in gone or in alive, and once gone it can never come
// back. callback, if not nil, runs synchronously as each process is
// reaped.
//
// The deadline is fixed up front and the remaining budget re-derived
// from the clock every cycle, so slow kernel calls shorten later
// waits instead of extending the total.
func WaitProcs(ctx context.Context, procs []*Process, timeout time.Duration,
	callback func(proc *Process)) (
	gone []*Process, alive []*Process, err error) {

	clock := utils.GetTime()
	infinite := timeout < 0

	var deadline time.Time
	if !infinite {
		deadline = clock.Now().Add(timeout)
	}

	gone = []*Process{}
	reap := func(proc *Process) {
		gone = append(gone, proc)
		if callback != nil {
			callback(proc)
		}
	}

	pending := []*Process{}
	for _, proc := range procs {
		_, reaped := proc.recordedExitCode()
		if reaped || proc.checkDead() != nil {
			reap(proc)
			continue
		}
		pending = append(pending, proc)
	}

	for len(pending) > 0 {
		if ctx.Err() != nil {
			return gone, pending, ctx.Err()
		}

		// remaining < 0 means unbounded.
		remaining := time.Duration(-1)
		if !infinite {
			remaining = deadline.Sub(clock.Now())
			if remaining < 0 {
				remaining = 0
			}
		}

		batched := pending[0].HasCapability(CAP_WAIT_MULTI)

		var pass_err error
		if batched {
			pending, pass_err = waitAnyPass(ctx, pending, remaining, reap)
		} else {
			pending, pass_err = pollPass(ctx, pending, reap)
		}
		if pass_err != nil {
			return gone, pending, pass_err
		}

		if len(pending) == 0 || timeout == 0 {
			break
		}

		if !infinite {
			remaining = deadline.Sub(clock.Now())
			if remaining <= 0 {
				break
			}
		}

		// Batched backends block inside WaitAny. The polling path
		// has to pace itself.
		if !batched {
			interval := wait_poll_interval
			if !infinite && remaining/2 < interval {
				interval = remaining / 2
			}
			if interval > 0 && !utils.SleepWithCtx(ctx, interval) {
				return gone, pending, ctx.Err()
			}
		}
	}

	return gone, pending, nil
}

// pollPass checks every pending process once without blocking.
func pollPass(ctx context.Context, pending []*Process,
	reap func(proc *Process)) ([]*Process, error) {

	still := []*Process{}
	for i, proc := range pending {
		_, err := proc.Wait(ctx, 0)
		if err == nil || errors.Is(err, ErrNoSuchProcess) {
			reap(proc)
			continue
		}
		if IsTimeout(err) {
			still = append(still, proc)
			continue
		}
		return append(still, pending[i+1:]...), err
	}
	return still, nil
}

// waitAnyPass drives backends that can block on many processes in
// one kernel call. The pending set is partitioned into batches no
// larger than the backend allows and the remaining budget is divided
// evenly between the partitions.
func waitAnyPass(ctx context.Context, pending []*Process,
	remaining time.Duration, reap func(proc *Process)) ([]*Process, error) {

	backend := pending[0].backend
	max_batch := backend.MaxWaitBatch()
	if max_batch <= 0 {
		max_batch = len(pending)
	}
	partitions := (len(pending) + max_batch - 1) / max_batch

	// With no deadline, block in bounded slices so the context is
	// still checked periodically.
	slice_budget := time.Minute
	if remaining >= 0 {
		slice_budget = remaining / time.Duration(partitions)
	}

	still := []*Process{}
	for start := 0; start < len(pending); start += max_batch {
		end := start + max_batch
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		idx, err := backend.WaitAny(ctx, batch, slice_budget)
		if err != nil {
			if IsTimeout(err) {
				still = append(still, batch...)
				continue
			}
			return append(still, pending[start:]...), err
		}

		for i, proc := range batch {
			if i != idx {
				still = append(still, proc)
				continue
			}

			// The signaled process has exited. Collect its code.
			_, werr := proc.Wait(ctx, 0)
			if werr == nil || errors.Is(werr, ErrNoSuchProcess) {
				reap(proc)
			} else {
				still = append(still, proc)
			}
		}
	}
	return still, nil
}
