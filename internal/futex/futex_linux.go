//go:build linux

package futex

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWaitPrivate = 0 | 128
	futexWakePrivate = 1 | 128
)

// Wait blocks the calling thread while the word at addr holds val.
func Wait(addr *atomic.Int32, val int32) {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWaitPrivate,
		uintptr(uint32(val)), 0, 0, 0)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return
	}
	panic(fmt.Sprintf("futex: wait: %v", errno))
}

// Wake wakes up to n threads blocked on addr and reports how many were woken.
func Wake(addr *atomic.Int32, n int) int {
	woken, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWakePrivate,
		uintptr(n), 0, 0, 0)
	if errno != 0 {
		panic(fmt.Sprintf("futex: wake: %v", errno))
	}
	return int(woken)
}
