package process

import (
	"fmt"
	"time"

	errors "github.com/go-errors/errors"
	"www.velocidex.com/golang/psutils/utils"
)

var (
	// The pid does not refer to a running process. Handles whose
	// process has exited report this from every accessor.
	ErrNoSuchProcess = errors.New("process no longer exists")

	// The process exists but is a zombie, so only the fields kept in
	// the kernel process table are readable. Wraps ErrNoSuchProcess
	// because most callers treat the two the same way.
	ErrZombieProcess = fmt.Errorf("process is a zombie: %w", ErrNoSuchProcess)

	// The kernel refused access to another process' information.
	ErrAccessDenied = errors.New("access denied")

	// The selected backend does not implement this operation. It is
	// reported without making any kernel call.
	ErrNotImplemented = utils.NotImplementedError
)

// notImplemented tags ErrNotImplemented with the operation a caller
// asked for, so capability failures are self describing.
func notImplemented(op string) error {
	return utils.Wrap(ErrNotImplemented, op)
}

// TimeoutExpiredError is reported by Wait and WaitProcs when the
// process outlives the caller's time budget.
type TimeoutExpiredError struct {
	Pid     int32
	Elapsed time.Duration
}

func (self *TimeoutExpiredError) Error() string {
	if self.Pid > 0 {
		return fmt.Sprintf(
			"timeout after %v waiting for pid %v", self.Elapsed, self.Pid)
	}
	return fmt.Sprintf("timeout after %v", self.Elapsed)
}

// IsTimeout reports whether err is a wait timeout.
func IsTimeout(err error) bool {
	var timeout_err *TimeoutExpiredError
	return errors.As(err, &timeout_err)
}
