package compute

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/internal/metrics"
	"github.com/fxnlabs/clsafe/pkg/kernelargs"
)

// region is a shared virtual memory block owned by one device.
type region struct {
	dev   *Device
	ptr   unsafe.Pointer
	size  uintptr
	bound atomic.Int32
	freed atomic.Bool
}

func (r *region) sharedRegion() *region { return r }

// sharedArgument is implemented by every Allocation instantiation.
type sharedArgument interface {
	kernelargs.Argument
	sharedRegion() *region
}

// Allocation is a typed view over shared memory addressable by host and device. The
// caller owns it and must hand it back with Device.Deallocate once no kernel bound to
// it is alive. Host access must be ordered against kernel execution through the
// completion Token.
type Allocation[T any] struct {
	region
	count int
}

// Len is the number of items.
func (a *Allocation[T]) Len() int { return a.count }

// Items is a slice over the shared region. It must not be used after Deallocate.
func (a *Allocation[T]) Items() []T {
	if a.freed.Load() {
		panic("compute: use of deallocated shared memory")
	}
	return unsafe.Slice((*T)(a.ptr), a.count)
}

// Erase binds the allocation as a shared memory pointer.
func (a *Allocation[T]) Erase() kernelargs.Erased {
	return kernelargs.Erased{
		Ptr:    unsafe.Pointer(&a.ptr),
		Size:   unsafe.Sizeof(a.ptr),
		Align:  unsafe.Alignof(a.ptr),
		Tag:    kernelargs.TagSharedMemory,
		Source: a,
	}
}

// Allocate reserves count items of T in shared memory. The alignment is the larger of
// T's alignment and the device's preferred platform atomic alignment. Allocate panics
// when count is not positive.
func Allocate[T any](d *Device, count int) (*Allocation[T], error) {
	if count <= 0 {
		panic(fmt.Sprintf("compute: allocation of %d items", count))
	}
	d.ctx.await()
	if !d.caps.SharedMemory.FineGrainBuffer {
		return nil, ErrSharedMemoryUnsupported
	}

	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 {
		panic("compute: allocation of zero-sized items")
	}
	if uintptr(count) > ^uintptr(0)/size {
		return nil, ErrResourcesExhausted
	}
	size *= uintptr(count)
	align := max(uint32(unsafe.Alignof(zero)), d.caps.SharedMemory.PlatformAtomicAlignment)

	flags := driver.MemReadWrite | driver.MemSVMFineGrainBuffer
	if d.caps.SharedMemory.Atomics {
		flags |= driver.MemSVMAtomics
	}
	ptr := d.ctx.drv.SVMAlloc(d.ctx.handle, flags, size, align)
	if ptr == nil {
		d.log.Debug("shared memory allocation failed", zap.Uintptr("bytes", size), zap.Uint32("alignment", align))
		return nil, ErrResourcesExhausted
	}
	metrics.SharedMemoryBytes.Add(float64(size))

	a := &Allocation[T]{count: count}
	a.dev, a.ptr, a.size = d, ptr, size
	return a, nil
}

// Deallocate frees an allocation made on d. It panics when the allocation was already
// freed, belongs to another device or is still bound to a live kernel.
func (d *Device) Deallocate(a sharedArgument) {
	r := a.sharedRegion()
	if r.dev != d {
		panic("compute: shared memory deallocated on a foreign device")
	}
	if n := r.bound.Load(); n > 0 {
		panic(fmt.Sprintf("compute: shared memory still bound to %d kernels", n))
	}
	if !r.freed.CompareAndSwap(false, true) {
		panic("compute: shared memory deallocated twice")
	}
	d.ctx.drv.SVMFree(d.ctx.handle, r.ptr)
	metrics.SharedMemoryBytes.Sub(float64(r.size))
}
