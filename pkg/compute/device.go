package compute

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/internal/metrics"
)

// SharedMemoryCaps are the device's shared virtual memory features.
type SharedMemoryCaps struct {
	FineGrainBuffer         bool   `json:"fineGrainBuffer"`
	FineGrainSystem         bool   `json:"fineGrainSystem"`
	Atomics                 bool   `json:"atomics"`
	PlatformAtomicAlignment uint32 `json:"platformAtomicAlignment"`
	GlobalAtomicAlignment   uint32 `json:"globalAtomicAlignment"`
}

// Capabilities is a snapshot of device properties taken when the Context opens.
type Capabilities struct {
	Name             string           `json:"name"`
	ComputeUnits     uint32           `json:"computeUnits"`
	MaxWorkGroupSize uint64           `json:"maxWorkGroupSize"`
	MaxAllocSize     uint64           `json:"maxAllocSize"`
	GlobalMemSize    uint64           `json:"globalMemSize"`
	SharedMemory     SharedMemoryCaps `json:"sharedMemory"`
	MainQueueIsAsync bool             `json:"mainQueueIsAsync"`
	Version          Version          `json:"version"`
}

// Device is one device of an open Context with its command queue.
type Device struct {
	ctx    *Context
	handle driver.Device
	queue  driver.Queue
	caps   Capabilities
	log    *zap.Logger
}

func newDevice(c *Context, h driver.Device) (*Device, error) {
	d := &Device{ctx: c, handle: h}

	uints := []struct {
		param driver.DeviceParam
		set   func(uint64)
	}{
		{driver.DeviceMaxComputeUnits, func(v uint64) { d.caps.ComputeUnits = uint32(v) }},
		{driver.DeviceMaxWorkGroupSize, func(v uint64) { d.caps.MaxWorkGroupSize = v }},
		{driver.DeviceMaxMemAllocSize, func(v uint64) { d.caps.MaxAllocSize = v }},
		{driver.DeviceGlobalMemSize, func(v uint64) { d.caps.GlobalMemSize = v }},
		{driver.DeviceSVMCapabilities, func(v uint64) {
			d.caps.SharedMemory.FineGrainBuffer = v&driver.SVMFineGrainBuffer != 0
			d.caps.SharedMemory.FineGrainSystem = v&driver.SVMFineGrainSystem != 0
			d.caps.SharedMemory.Atomics = v&driver.SVMAtomics != 0
		}},
		{driver.DevicePreferredPlatformAtomicAlignment, func(v uint64) { d.caps.SharedMemory.PlatformAtomicAlignment = uint32(v) }},
		{driver.DevicePreferredGlobalAtomicAlignment, func(v uint64) { d.caps.SharedMemory.GlobalAtomicAlignment = uint32(v) }},
	}
	for _, u := range uints {
		v, st := c.drv.DeviceInfoUint(h, u.param)
		if err := deviceInfoStatus(st); err != nil {
			return nil, err
		}
		u.set(v)
	}

	deviceString := func(param driver.DeviceParam) (string, error) {
		v, st := queryString("clGetDeviceInfo", func(buf []byte) (int, driver.Status) {
			return c.drv.DeviceInfoString(h, param, buf)
		})
		return v, deviceInfoStatus(st)
	}
	name, err := deviceString(driver.DeviceName)
	if err != nil {
		return nil, err
	}
	version, err := deviceString(driver.DeviceVersion)
	if err != nil {
		return nil, err
	}
	d.caps.Name = name
	d.caps.Version = parseVersion(version)

	d.log = c.log.With(zap.String("device", d.caps.Name))
	return d, nil
}

func deviceInfoStatus(st driver.Status) error {
	switch {
	case st == driver.StatusSuccess:
		return nil
	case isResourceStatus(st):
		return ErrResourcesExhausted
	}
	unexpected("clGetDeviceInfo", st)
	return nil
}

func (d *Device) openQueue(ctx driver.Context) error {
	q, st := d.ctx.drv.CreateQueue(ctx, d.handle, driver.QueueOutOfOrderExecMode)
	switch {
	case st == driver.StatusSuccess:
	case isResourceStatus(st):
		return ErrResourcesExhausted
	default:
		unexpected("clCreateCommandQueue", st)
	}
	props, st := d.ctx.drv.QueueProperties(q)
	switch {
	case st == driver.StatusSuccess:
	case isResourceStatus(st):
		d.ctx.drv.ReleaseQueue(q)
		return ErrResourcesExhausted
	default:
		unexpected("clGetCommandQueueInfo", st)
	}
	d.queue = q
	d.caps.MainQueueIsAsync = props&driver.QueueOutOfOrderExecMode != 0
	return nil
}

// Capabilities returns the device's property snapshot.
func (d *Device) Capabilities() Capabilities { return d.caps }

// Name is the driver-reported device name.
func (d *Device) Name() string { return d.caps.Name }

// Launch enqueues k over a one-dimensional grid of grid work items. The kernel stays
// usable and may be launched again.
func (d *Device) Launch(k *Kernel, grid int) (tok *Token, err error) {
	defer func() { metrics.KernelLaunches.WithLabelValues(metrics.Result(err)).Inc() }()

	if k.closed.Load() {
		return nil, ErrClosed
	}
	if grid <= 0 {
		return nil, fmt.Errorf("%w: grid size %d", ErrInvalidLaunch, grid)
	}
	d.ctx.await()

	ev, st := d.ctx.drv.EnqueueNDRange(d.queue, k.handle, uintptr(grid))
	switch st {
	case driver.StatusSuccess:
	case driver.StatusOutOfResources, driver.StatusMemObjectAllocationFail, driver.StatusOutOfHostMemory:
		return nil, ErrNoMem
	case driver.StatusInvalidWorkItemSize, driver.StatusInvalidWorkGroupSize, driver.StatusInvalidGlobalOffset,
		driver.StatusInvalidGlobalWorkSize, driver.StatusInvalidKernelArgs, driver.StatusInvalidEventWaitList,
		driver.StatusInvalidOperation, driver.StatusImageFormatNotSupported, driver.StatusInvalidImageSize,
		driver.StatusMisalignedSubBufferOffset, driver.StatusInvalidWorkDimension:
		return nil, fmt.Errorf("%w: %s", ErrInvalidLaunch, st)
	default:
		unexpected("clEnqueueNDRangeKernel", st)
	}

	tok = newToken(d, ev, time.Now())
	tok.log.Debug("kernel launched", zap.String("kernel", k.name), zap.Int("grid", grid))
	return tok, nil
}
