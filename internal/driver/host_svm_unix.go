//go:build unix

package driver

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapShared reserves an anonymous shared mapping. Mappings live outside the Go heap, so
// the returned address is stable and may be handed to any goroutine or to C.
func mapShared(size, alignment uintptr) (region []byte, base unsafe.Pointer, ok bool) {
	page := uintptr(os.Getpagesize())
	length := size
	if alignment > page {
		length += alignment
	}
	region, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, nil, false
	}
	addr := uintptr(unsafe.Pointer(&region[0]))
	offset := alignUp(addr, alignment) - addr
	return region, unsafe.Pointer(&region[offset]), true
}

func unmapShared(region []byte) {
	_ = unix.Munmap(region)
}
