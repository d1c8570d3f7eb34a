//go:build windows
// +build windows

package sysquery

import (
	"fmt"

	"github.com/hillu/go-ntdll"
)

const (
	STATUS_SUCCESS              = ntdll.NtStatus(0x00000000)
	STATUS_INFO_LENGTH_MISMATCH = ntdll.NtStatus(0xC0000004)
	STATUS_BUFFER_TOO_SMALL     = ntdll.NtStatus(0xC0000023)
)

// Build a RawQuery over NtQuerySystemInformation for the given
// information class. The kernel reports the needed length through
// ReturnLength on both success and length mismatch.
func SystemInformationQuery(class ntdll.SystemInformationClass) RawQuery {
	return func(dst []byte) (int, error) {
		var length uint32

		var dst_ptr *byte
		if len(dst) > 0 {
			dst_ptr = &dst[0]
		}

		status := ntdll.NtQuerySystemInformation(
			class, dst_ptr, uint32(len(dst)), &length)

		switch status {
		case STATUS_SUCCESS:
			return int(length), nil

		case STATUS_INFO_LENGTH_MISMATCH, STATUS_BUFFER_TOO_SMALL:
			return int(length), ErrSizeMismatch

		default:
			return 0, fmt.Errorf(
				"NtQuerySystemInformation status %08x", uint32(status))
		}
	}
}
