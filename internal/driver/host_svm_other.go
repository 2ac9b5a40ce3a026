//go:build !unix

package driver

import "unsafe"

// mapShared falls back to a heap allocation. The Go heap does not relocate objects and
// the Host driver keeps region referenced until SVMFree, so base stays valid.
func mapShared(size, alignment uintptr) (region []byte, base unsafe.Pointer, ok bool) {
	region = make([]byte, size+alignment)
	addr := uintptr(unsafe.Pointer(&region[0]))
	offset := alignUp(addr, alignment) - addr
	return region, unsafe.Pointer(&region[offset]), true
}

func unmapShared([]byte) {}
