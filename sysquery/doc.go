// Package sysquery drives variable length kernel queries.
//
// Many kernel interfaces (sysctl on the BSD family,
// NtQuerySystemInformation on Windows) return tables whose size is
// only known at call time and may change between calls. The protocol
// is always the same: offer a buffer, and if the kernel reports it
// was too small, grow it using the kernel's own estimate and try
// again. This package implements that loop once so the platform
// backends only supply the single raw call.
package sysquery
