//go:build linux || darwin

package process

import (
	"context"
	"os"
	"syscall"
	"time"

	errors "github.com/go-errors/errors"
	"golang.org/x/sys/unix"
	"www.velocidex.com/golang/psutils/utils"
)

var errNotChild = errors.New("not a child of this process")

// classifySignalError maps kill(2) style errnos into the package
// error taxonomy.
func classifySignalError(err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ESRCH:
			return ErrNoSuchProcess
		case syscall.EPERM, syscall.EACCES:
			return ErrAccessDenied
		}
	}
	return err
}

// posixPidExists probes a pid with the null signal. EPERM proves the
// process exists even though we may not touch it.
func posixPidExists(pid int32) (bool, error) {
	if pid < 0 {
		return false, nil
	}
	if pid == 0 {
		// The kernel scheduler pseudo process always exists.
		return true, nil
	}

	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return false, err
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false, nil
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ESRCH:
			return false, nil
		case syscall.EPERM:
			return true, nil
		}
	}
	return false, err
}

// revalidate confirms the handle still names the same process
// incarnation before a side effect is applied to the pid.
func revalidate(ctx context.Context,
	backend Backend, proc *Process) error {
	create_time, err := backend.CreateTime(ctx, proc.Pid())
	if err != nil {
		return err
	}
	if !create_time.Equal(proc.CreateTime()) {
		return ErrNoSuchProcess
	}
	return nil
}

func posixSendSignal(ctx context.Context, backend Backend,
	proc *Process, sig syscall.Signal) error {
	err := revalidate(ctx, backend, proc)
	if err != nil {
		return err
	}

	err = unix.Kill(int(proc.Pid()), sig)
	if err != nil {
		return classifySignalError(err)
	}
	return nil
}

// reapChild collects the exit status of a direct child without
// blocking. done reports whether the process has exited.
func reapChild(pid int32) (code int32, done bool, err error) {
	var status unix.WaitStatus
	for {
		wpid, werr := unix.Wait4(int(pid), &status, unix.WNOHANG, nil)
		if werr == unix.EINTR {
			continue
		}
		if werr == unix.ECHILD {
			return 0, false, errNotChild
		}
		if werr == unix.ESRCH {
			return -1, true, nil
		}
		if werr != nil {
			return 0, false, werr
		}

		if wpid == 0 {
			// Still running.
			return 0, false, nil
		}
		if status.Exited() {
			return int32(status.ExitStatus()), true, nil
		}
		if status.Signaled() {
			return -int32(status.Signal()), true, nil
		}
		// Stopped or continued under ptrace. Not an exit.
		return 0, false, nil
	}
}

// posixWait implements Backend.Wait for unix systems. Children are
// reaped with waitpid so their exit code is recovered. For unrelated
// processes the best we can do is poll liveness, reporting -1 when
// they disappear.
func posixWait(ctx context.Context, backend Backend, proc *Process,
	timeout time.Duration) (int32, error) {

	clock := utils.GetTime()
	start := clock.Now()
	infinite := timeout < 0

	var deadline time.Time
	if !infinite {
		deadline = start.Add(timeout)
	}

	for {
		code, done, err := reapChild(proc.Pid())
		if err == nil && done {
			return code, nil
		}

		if err == errNotChild {
			alive, aerr := posixStillSame(ctx, backend, proc)
			if aerr != nil {
				return -1, aerr
			}
			if !alive {
				return -1, nil
			}
		} else if err != nil {
			return -1, err
		}

		elapsed := clock.Now().Sub(start)
		if timeout == 0 {
			return -1, &TimeoutExpiredError{
				Pid: proc.Pid(), Elapsed: elapsed}
		}

		remaining := time.Duration(-1)
		if !infinite {
			remaining = deadline.Sub(clock.Now())
			if remaining <= 0 {
				return -1, &TimeoutExpiredError{
					Pid: proc.Pid(), Elapsed: elapsed}
			}
		}

		interval := wait_poll_interval
		if !infinite && remaining/2 < interval {
			interval = remaining / 2
		}
		if !utils.SleepWithCtx(ctx, interval) {
			return -1, ctx.Err()
		}
	}
}

// posixStillSame reports whether the pid still belongs to the same
// process incarnation the handle was made for.
func posixStillSame(ctx context.Context,
	backend Backend, proc *Process) (bool, error) {
	create_time, err := backend.CreateTime(ctx, proc.Pid())
	if err != nil {
		if errors.Is(err, ErrNoSuchProcess) {
			return false, nil
		}
		return false, err
	}
	return create_time.Equal(proc.CreateTime()), nil
}

func posixSuspend(ctx context.Context,
	backend Backend, proc *Process) error {
	return posixSendSignal(ctx, backend, proc, syscall.SIGSTOP)
}

func posixResume(ctx context.Context,
	backend Backend, proc *Process) error {
	return posixSendSignal(ctx, backend, proc, syscall.SIGCONT)
}

func posixSetNice(ctx context.Context, backend Backend,
	proc *Process, priority int32) error {
	err := revalidate(ctx, backend, proc)
	if err != nil {
		return err
	}

	err = unix.Setpriority(unix.PRIO_PROCESS, int(proc.Pid()), int(priority))
	if err != nil {
		return classifySignalError(err)
	}
	return nil
}
