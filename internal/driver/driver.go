package driver

import "unsafe"

// Opaque handles issued by a Driver. Zero is never a valid handle.
type (
	Platform uintptr
	Device   uintptr
	Context  uintptr
	Queue    uintptr
	Program  uintptr
	Kernel   uintptr
	Event    uintptr
)

// PlatformParam selects a string property of a platform.
type PlatformParam uint32

const (
	PlatformName PlatformParam = iota + 1
	PlatformVendor
	PlatformVersion
)

// DeviceParam selects a property of a device.
type DeviceParam uint32

const (
	DeviceName DeviceParam = iota + 1
	DeviceVersion
	DeviceMaxComputeUnits
	DeviceMaxWorkGroupSize
	DeviceMaxMemAllocSize
	DeviceGlobalMemSize
	DeviceSVMCapabilities
	DevicePreferredPlatformAtomicAlignment
	DevicePreferredGlobalAtomicAlignment
)

// SVM capability bits reported for DeviceSVMCapabilities.
const (
	SVMCoarseGrainBuffer uint64 = 1 << 0
	SVMFineGrainBuffer   uint64 = 1 << 1
	SVMFineGrainSystem   uint64 = 1 << 2
	SVMAtomics           uint64 = 1 << 3
)

// MemFlags are passed to SVMAlloc.
type MemFlags uint64

const (
	MemReadWrite          MemFlags = 1 << 0
	MemSVMFineGrainBuffer MemFlags = 1 << 10
	MemSVMAtomics         MemFlags = 1 << 11
)

// QueueProps are command-queue properties.
type QueueProps uint64

const (
	QueueOutOfOrderExecMode QueueProps = 1 << 0
)

// ProgramParam selects a program property.
type ProgramParam uint32

const (
	ProgramKernelNames ProgramParam = iota + 1
)

// EventCallback is invoked once, on a driver-chosen goroutine, with the terminal
// execution status of an event.
type EventCallback func(ev Event, status int32)

// Driver is the boundary to the underlying compute API.
//
// Buffer queries follow the size-then-fill convention: the returned int is the number of
// bytes the full value needs; when buf is shorter than that, nothing is copied and
// StatusInvalidValue is returned. Passing a nil buf is a pure size query.
//
// Implementations must be safe for concurrent use.
type Driver interface {
	Name() string

	Platforms() ([]Platform, Status)
	PlatformInfo(p Platform, param PlatformParam, buf []byte) (int, Status)

	Devices(p Platform) ([]Device, Status)
	DeviceInfoUint(d Device, param DeviceParam) (uint64, Status)
	DeviceInfoString(d Device, param DeviceParam, buf []byte) (int, Status)
	ReleaseDevice(d Device) Status

	CreateContext(devices []Device) (Context, Status)
	ReleaseContext(c Context) Status

	CreateQueue(c Context, d Device, props QueueProps) (Queue, Status)
	QueueProperties(q Queue) (QueueProps, Status)
	ReleaseQueue(q Queue) Status

	CreateProgramWithSource(c Context, sources [][]byte) (Program, Status)
	BuildProgram(p Program, devices []Device, options string) Status
	ProgramInfo(p Program, param ProgramParam, buf []byte) (int, Status)
	ProgramBuildLog(p Program, d Device, buf []byte) (int, Status)
	ReleaseProgram(p Program) Status

	CreateKernel(p Program, name string) (Kernel, Status)
	KernelNumArgs(k Kernel) (uint32, Status)
	KernelArgTypeName(k Kernel, index uint32, buf []byte) (int, Status)
	SetKernelArg(k Kernel, index uint32, size uintptr, value unsafe.Pointer) Status
	SetKernelArgSVMPointer(k Kernel, index uint32, ptr unsafe.Pointer) Status
	ReleaseKernel(k Kernel) Status

	EnqueueNDRange(q Queue, k Kernel, globalSize uintptr) (Event, Status)
	WaitForEvents(events []Event) Status
	EventStatus(e Event) (int32, Status)
	SetEventCallback(e Event, cb EventCallback) Status
	ReleaseEvent(e Event) Status

	SVMAlloc(c Context, flags MemFlags, size uintptr, alignment uint32) unsafe.Pointer
	SVMFree(c Context, ptr unsafe.Pointer)
}
