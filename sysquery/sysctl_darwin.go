//go:build darwin
// +build darwin

package sysquery

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Build a RawQuery over the raw sysctl interface for mibs that have
// no symbolic name. An empty dst performs the classic NULL oldp probe
// where the kernel only reports the needed length.
func SysctlQuery(mib []int32) RawQuery {
	return func(dst []byte) (int, error) {
		length := uintptr(len(dst))

		var dst_ptr unsafe.Pointer
		if len(dst) > 0 {
			dst_ptr = unsafe.Pointer(&dst[0])
		}

		_, _, errno := unix.Syscall6(
			unix.SYS___SYSCTL,
			uintptr(unsafe.Pointer(&mib[0])),
			uintptr(len(mib)),
			uintptr(dst_ptr),
			uintptr(unsafe.Pointer(&length)),
			0, 0)

		switch errno {
		case 0:
			if len(dst) == 0 && length > 0 {
				// Probe call - nothing was copied but the kernel
				// reported the needed length.
				return int(length), ErrSizeMismatch
			}
			return int(length), nil

		case unix.ENOMEM:
			// The result did not fit. length holds the kernel's
			// size estimate.
			return int(length), ErrSizeMismatch

		default:
			return 0, errno
		}
	}
}
