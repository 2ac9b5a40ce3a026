package compute

import (
	"sync/atomic"
	"unsafe"

	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/pkg/kernelargs"
)

// Kernel is an entry point with every argument bound. It owns the arguments handed to
// it and may be launched any number of times until Close.
type Kernel struct {
	ctx    *Context
	handle driver.Kernel
	name   string
	closed atomic.Bool

	sources  []kernelargs.Argument
	releases []func()
	regions  []*region
}

// Name is the entry point the kernel was built from.
func (k *Kernel) Name() string { return k.name }

func (k *Kernel) bind(i uint32, e kernelargs.Erased) error {
	drv := k.ctx.drv

	var st driver.Status
	if e.Tag == kernelargs.TagSharedMemory {
		if s, ok := e.Source.(sharedArgument); ok && s.sharedRegion().freed.Load() {
			panic("compute: deallocated shared memory bound to a kernel")
		}
		st = drv.SetKernelArgSVMPointer(k.handle, i, *(*unsafe.Pointer)(e.Ptr))
	} else {
		st = drv.SetKernelArg(k.handle, i, e.Size, e.Ptr)
	}

	switch st {
	case driver.StatusSuccess:
		return nil
	case driver.StatusOutOfResources, driver.StatusOutOfHostMemory, driver.StatusMemObjectAllocationFail:
		return ErrNoMem
	case driver.StatusInvalidArgIndex, driver.StatusInvalidArgValue, driver.StatusInvalidArgSize,
		driver.StatusInvalidMemObject, driver.StatusInvalidSampler:
		return &InvalidArgumentError{Index: int(i), Status: st}
	case driver.StatusInvalidDeviceQueue:
		panic("compute: device queue arguments are not supported")
	}
	unexpected("clSetKernelArg", st)
	return nil
}

// Close releases the kernel and the arguments it owns. Shared memory bound to the
// kernel may be deallocated afterwards.
func (k *Kernel) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	st := k.ctx.drv.ReleaseKernel(k.handle)
	for _, release := range k.releases {
		release()
	}
	for _, r := range k.regions {
		r.bound.Add(-1)
	}
	k.sources, k.releases, k.regions = nil, nil, nil
	if st != driver.StatusSuccess {
		return &driver.StatusError{Op: "clReleaseKernel", Status: st}
	}
	return nil
}
