//go:build opencl
// +build opencl

package driver

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#cgo windows LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 200
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdint.h>
#include <stdlib.h>

extern void goEventCallback(uintptr_t ev, cl_int status, uintptr_t data);

static void CL_CALLBACK clsafe_event_trampoline(cl_event ev, cl_int status, void *data) {
	goEventCallback((uintptr_t)ev, status, (uintptr_t)data);
}

static cl_int clsafe_platforms(cl_uint n, uintptr_t *out, cl_uint *count) {
	return clGetPlatformIDs(n, (cl_platform_id *)out, count);
}

static cl_int clsafe_platform_info(uintptr_t p, cl_platform_info param, size_t size, void *buf, size_t *ret) {
	return clGetPlatformInfo((cl_platform_id)p, param, size, buf, ret);
}

static cl_int clsafe_devices(uintptr_t p, cl_uint n, uintptr_t *out, cl_uint *count) {
	return clGetDeviceIDs((cl_platform_id)p, CL_DEVICE_TYPE_ALL, n, (cl_device_id *)out, count);
}

static cl_int clsafe_device_info(uintptr_t d, cl_device_info param, size_t size, void *buf, size_t *ret) {
	return clGetDeviceInfo((cl_device_id)d, param, size, buf, ret);
}

static cl_int clsafe_device_uint(uintptr_t d, cl_device_info param, cl_ulong *out) {
	unsigned char buf[8] = {0};
	size_t ret = 0;
	cl_int st = clGetDeviceInfo((cl_device_id)d, param, sizeof buf, buf, &ret);
	if (st != CL_SUCCESS) {
		return st;
	}
	switch (ret) {
	case 1: *out = *(cl_uchar *)buf; break;
	case 2: *out = *(cl_ushort *)buf; break;
	case 4: *out = *(cl_uint *)buf; break;
	case 8: *out = *(cl_ulong *)buf; break;
	default: *out = 0;
	}
	return st;
}

static cl_int clsafe_release_device(uintptr_t d) {
	return clReleaseDevice((cl_device_id)d);
}

static uintptr_t clsafe_create_context(cl_uint n, uintptr_t *devices, cl_int *st) {
	return (uintptr_t)clCreateContext(NULL, n, (const cl_device_id *)devices, NULL, NULL, st);
}

static cl_int clsafe_release_context(uintptr_t c) {
	return clReleaseContext((cl_context)c);
}

static uintptr_t clsafe_create_queue(uintptr_t c, uintptr_t d, cl_command_queue_properties props, cl_int *st) {
	const cl_queue_properties list[] = {CL_QUEUE_PROPERTIES, (cl_queue_properties)props, 0};
	return (uintptr_t)clCreateCommandQueueWithProperties((cl_context)c, (cl_device_id)d, list, st);
}

static cl_int clsafe_queue_props(uintptr_t q, cl_command_queue_properties *out) {
	return clGetCommandQueueInfo((cl_command_queue)q, CL_QUEUE_PROPERTIES, sizeof *out, out, NULL);
}

static cl_int clsafe_release_queue(uintptr_t q) {
	return clReleaseCommandQueue((cl_command_queue)q);
}

static uintptr_t clsafe_create_program(uintptr_t c, cl_uint n, const char **srcs, const size_t *lens, cl_int *st) {
	return (uintptr_t)clCreateProgramWithSource((cl_context)c, n, srcs, lens, st);
}

static cl_int clsafe_build_program(uintptr_t p, cl_uint n, uintptr_t *devices, const char *options) {
	return clBuildProgram((cl_program)p, n, (const cl_device_id *)devices, options, NULL, NULL);
}

static cl_int clsafe_program_info(uintptr_t p, cl_program_info param, size_t size, void *buf, size_t *ret) {
	return clGetProgramInfo((cl_program)p, param, size, buf, ret);
}

static cl_int clsafe_build_log(uintptr_t p, uintptr_t d, size_t size, void *buf, size_t *ret) {
	return clGetProgramBuildInfo((cl_program)p, (cl_device_id)d, CL_PROGRAM_BUILD_LOG, size, buf, ret);
}

static cl_int clsafe_release_program(uintptr_t p) {
	return clReleaseProgram((cl_program)p);
}

static uintptr_t clsafe_create_kernel(uintptr_t p, const char *name, cl_int *st) {
	return (uintptr_t)clCreateKernel((cl_program)p, name, st);
}

static cl_int clsafe_kernel_num_args(uintptr_t k, cl_uint *out) {
	return clGetKernelInfo((cl_kernel)k, CL_KERNEL_NUM_ARGS, sizeof *out, out, NULL);
}

static cl_int clsafe_kernel_arg_type(uintptr_t k, cl_uint idx, size_t size, void *buf, size_t *ret) {
	return clGetKernelArgInfo((cl_kernel)k, idx, CL_KERNEL_ARG_TYPE_NAME, size, buf, ret);
}

static cl_int clsafe_set_arg(uintptr_t k, cl_uint idx, size_t size, const void *value) {
	return clSetKernelArg((cl_kernel)k, idx, size, value);
}

static cl_int clsafe_set_arg_svm(uintptr_t k, cl_uint idx, const void *ptr) {
	return clSetKernelArgSVMPointer((cl_kernel)k, idx, ptr);
}

static cl_int clsafe_release_kernel(uintptr_t k) {
	return clReleaseKernel((cl_kernel)k);
}

static cl_int clsafe_enqueue(uintptr_t q, uintptr_t k, size_t global, uintptr_t *ev) {
	return clEnqueueNDRangeKernel((cl_command_queue)q, (cl_kernel)k, 1, NULL, &global, NULL, 0, NULL, (cl_event *)ev);
}

static cl_int clsafe_wait(cl_uint n, uintptr_t *events) {
	return clWaitForEvents(n, (const cl_event *)events);
}

static cl_int clsafe_event_status(uintptr_t e, cl_int *out) {
	return clGetEventInfo((cl_event)e, CL_EVENT_COMMAND_EXECUTION_STATUS, sizeof *out, out, NULL);
}

static cl_int clsafe_set_event_callback(uintptr_t e, uintptr_t handle) {
	return clSetEventCallback((cl_event)e, CL_COMPLETE, clsafe_event_trampoline, (void *)handle);
}

static cl_int clsafe_release_event(uintptr_t e) {
	return clReleaseEvent((cl_event)e);
}

static void *clsafe_svm_alloc(uintptr_t c, cl_svm_mem_flags flags, size_t size, cl_uint align) {
	return clSVMAlloc((cl_context)c, flags, size, align);
}

static void clsafe_svm_free(uintptr_t c, void *ptr) {
	clSVMFree((cl_context)c, ptr);
}
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"go.uber.org/zap"
)

var clPlatformParams = map[PlatformParam]C.cl_platform_info{
	PlatformName:    C.CL_PLATFORM_NAME,
	PlatformVendor:  C.CL_PLATFORM_VENDOR,
	PlatformVersion: C.CL_PLATFORM_VERSION,
}

var clDeviceParams = map[DeviceParam]C.cl_device_info{
	DeviceName:                             C.CL_DEVICE_NAME,
	DeviceVersion:                          C.CL_DEVICE_VERSION,
	DeviceMaxComputeUnits:                  C.CL_DEVICE_MAX_COMPUTE_UNITS,
	DeviceMaxWorkGroupSize:                 C.CL_DEVICE_MAX_WORK_GROUP_SIZE,
	DeviceMaxMemAllocSize:                  C.CL_DEVICE_MAX_MEM_ALLOC_SIZE,
	DeviceGlobalMemSize:                    C.CL_DEVICE_GLOBAL_MEM_SIZE,
	DeviceSVMCapabilities:                  C.CL_DEVICE_SVM_CAPABILITIES,
	DevicePreferredPlatformAtomicAlignment: C.CL_DEVICE_PREFERRED_PLATFORM_ATOMIC_ALIGNMENT,
	DevicePreferredGlobalAtomicAlignment:   C.CL_DEVICE_PREFERRED_GLOBAL_ATOMIC_ALIGNMENT,
}

// OpenCL is the Driver backed by the system OpenCL ICD loader.
type OpenCL struct {
	log *zap.Logger
}

// NewOpenCL probes the ICD loader and fails when no platform is installed.
func NewOpenCL(log *zap.Logger) (*OpenCL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	d := &OpenCL{log: log.Named("opencl")}
	platforms, st := d.Platforms()
	if st == StatusSuccess && len(platforms) == 0 {
		st = StatusPlatformNotFound
	}
	if st != StatusSuccess {
		return nil, &StatusError{Op: "clGetPlatformIDs", Status: st}
	}
	d.log.Info("OpenCL driver initialized", zap.Int("platforms", len(platforms)))
	return d, nil
}

// query implements the size-then-fill convention over a clGet*Info call.
func query(buf []byte, get func(size C.size_t, ptr unsafe.Pointer, ret *C.size_t) C.cl_int) (int, Status) {
	var need C.size_t
	if st := Status(get(0, nil, &need)); st != StatusSuccess {
		return 0, st
	}
	if buf == nil {
		return int(need), StatusSuccess
	}
	if len(buf) < int(need) {
		return int(need), StatusInvalidValue
	}
	if need == 0 {
		return 0, StatusSuccess
	}
	return int(need), Status(get(need, unsafe.Pointer(&buf[0]), nil))
}

func handles[T ~uintptr](ids []C.uintptr_t) []T {
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = T(id)
	}
	return out
}

func cHandles[T ~uintptr](hs []T) *C.uintptr_t {
	arr := (*C.uintptr_t)(C.malloc(C.size_t(len(hs)) * C.size_t(unsafe.Sizeof(C.uintptr_t(0)))))
	view := unsafe.Slice(arr, len(hs))
	for i, h := range hs {
		view[i] = C.uintptr_t(h)
	}
	return arr
}

// cCopy returns a C allocation holding the size bytes at p, or nil when p is nil. An
// argument value may itself be a Go pointer, which cgo does not allow behind a pointer
// handed to C.
func cCopy(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	if p == nil || size == 0 {
		return nil
	}
	buf := C.malloc(C.size_t(size))
	copy(unsafe.Slice((*byte)(buf), size), unsafe.Slice((*byte)(p), size))
	return buf
}

func cFree(p unsafe.Pointer) {
	if p != nil {
		C.free(p)
	}
}

func (d *OpenCL) Name() string { return "opencl" }

func (d *OpenCL) Platforms() ([]Platform, Status) {
	var n C.cl_uint
	if st := Status(C.clsafe_platforms(0, nil, &n)); st != StatusSuccess {
		return nil, st
	}
	if n == 0 {
		return nil, StatusSuccess
	}
	ids := make([]C.uintptr_t, n)
	if st := Status(C.clsafe_platforms(n, &ids[0], nil)); st != StatusSuccess {
		return nil, st
	}
	return handles[Platform](ids), StatusSuccess
}

func (d *OpenCL) PlatformInfo(p Platform, param PlatformParam, buf []byte) (int, Status) {
	cp, ok := clPlatformParams[param]
	if !ok {
		return 0, StatusInvalidValue
	}
	return query(buf, func(size C.size_t, ptr unsafe.Pointer, ret *C.size_t) C.cl_int {
		return C.clsafe_platform_info(C.uintptr_t(p), cp, size, ptr, ret)
	})
}

func (d *OpenCL) Devices(p Platform) ([]Device, Status) {
	var n C.cl_uint
	st := Status(C.clsafe_devices(C.uintptr_t(p), 0, nil, &n))
	if st == StatusDeviceNotFound {
		return nil, StatusSuccess
	}
	if st != StatusSuccess {
		return nil, st
	}
	ids := make([]C.uintptr_t, n)
	if st := Status(C.clsafe_devices(C.uintptr_t(p), n, &ids[0], nil)); st != StatusSuccess {
		return nil, st
	}
	return handles[Device](ids), StatusSuccess
}

func (d *OpenCL) DeviceInfoUint(dev Device, param DeviceParam) (uint64, Status) {
	cp, ok := clDeviceParams[param]
	if !ok {
		return 0, StatusInvalidValue
	}
	var v C.cl_ulong
	st := Status(C.clsafe_device_uint(C.uintptr_t(dev), cp, &v))
	return uint64(v), st
}

func (d *OpenCL) DeviceInfoString(dev Device, param DeviceParam, buf []byte) (int, Status) {
	cp, ok := clDeviceParams[param]
	if !ok {
		return 0, StatusInvalidValue
	}
	return query(buf, func(size C.size_t, ptr unsafe.Pointer, ret *C.size_t) C.cl_int {
		return C.clsafe_device_info(C.uintptr_t(dev), cp, size, ptr, ret)
	})
}

func (d *OpenCL) ReleaseDevice(dev Device) Status {
	return Status(C.clsafe_release_device(C.uintptr_t(dev)))
}

func (d *OpenCL) CreateContext(devices []Device) (Context, Status) {
	if len(devices) == 0 {
		return 0, StatusInvalidValue
	}
	arr := cHandles(devices)
	defer C.free(unsafe.Pointer(arr))
	var st C.cl_int
	c := C.clsafe_create_context(C.cl_uint(len(devices)), arr, &st)
	return Context(c), Status(st)
}

func (d *OpenCL) ReleaseContext(c Context) Status {
	return Status(C.clsafe_release_context(C.uintptr_t(c)))
}

func (d *OpenCL) CreateQueue(c Context, dev Device, props QueueProps) (Queue, Status) {
	var cprops C.cl_command_queue_properties
	if props&QueueOutOfOrderExecMode != 0 {
		cprops |= C.CL_QUEUE_OUT_OF_ORDER_EXEC_MODE_ENABLE
	}
	var st C.cl_int
	q := C.clsafe_create_queue(C.uintptr_t(c), C.uintptr_t(dev), cprops, &st)
	if Status(st) == StatusInvalidQueueProperties && cprops != 0 {
		d.log.Debug("out-of-order queue unsupported, falling back to in-order")
		q = C.clsafe_create_queue(C.uintptr_t(c), C.uintptr_t(dev), 0, &st)
	}
	return Queue(q), Status(st)
}

func (d *OpenCL) QueueProperties(q Queue) (QueueProps, Status) {
	var v C.cl_command_queue_properties
	if st := Status(C.clsafe_queue_props(C.uintptr_t(q), &v)); st != StatusSuccess {
		return 0, st
	}
	var props QueueProps
	if v&C.CL_QUEUE_OUT_OF_ORDER_EXEC_MODE_ENABLE != 0 {
		props |= QueueOutOfOrderExecMode
	}
	return props, StatusSuccess
}

func (d *OpenCL) ReleaseQueue(q Queue) Status {
	return Status(C.clsafe_release_queue(C.uintptr_t(q)))
}

func (d *OpenCL) CreateProgramWithSource(c Context, sources [][]byte) (Program, Status) {
	if len(sources) == 0 {
		return 0, StatusInvalidValue
	}
	n := len(sources)
	srcs := (**C.char)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof((*C.char)(nil)))))
	lens := (*C.size_t)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.size_t(0)))))
	srcView := unsafe.Slice(srcs, n)
	lenView := unsafe.Slice(lens, n)
	for i, src := range sources {
		srcView[i] = (*C.char)(C.CBytes(src))
		lenView[i] = C.size_t(len(src))
	}
	defer func() {
		for i := range srcView {
			C.free(unsafe.Pointer(srcView[i]))
		}
		C.free(unsafe.Pointer(srcs))
		C.free(unsafe.Pointer(lens))
	}()
	var st C.cl_int
	p := C.clsafe_create_program(C.uintptr_t(c), C.cl_uint(n), srcs, lens, &st)
	return Program(p), Status(st)
}

func (d *OpenCL) BuildProgram(p Program, devices []Device, options string) Status {
	var arr *C.uintptr_t
	if len(devices) > 0 {
		arr = cHandles(devices)
		defer C.free(unsafe.Pointer(arr))
	}
	opts := C.CString(options)
	defer C.free(unsafe.Pointer(opts))
	return Status(C.clsafe_build_program(C.uintptr_t(p), C.cl_uint(len(devices)), arr, opts))
}

func (d *OpenCL) ProgramInfo(p Program, param ProgramParam, buf []byte) (int, Status) {
	if param != ProgramKernelNames {
		return 0, StatusInvalidValue
	}
	return query(buf, func(size C.size_t, ptr unsafe.Pointer, ret *C.size_t) C.cl_int {
		return C.clsafe_program_info(C.uintptr_t(p), C.CL_PROGRAM_KERNEL_NAMES, size, ptr, ret)
	})
}

func (d *OpenCL) ProgramBuildLog(p Program, dev Device, buf []byte) (int, Status) {
	return query(buf, func(size C.size_t, ptr unsafe.Pointer, ret *C.size_t) C.cl_int {
		return C.clsafe_build_log(C.uintptr_t(p), C.uintptr_t(dev), size, ptr, ret)
	})
}

func (d *OpenCL) ReleaseProgram(p Program) Status {
	return Status(C.clsafe_release_program(C.uintptr_t(p)))
}

func (d *OpenCL) CreateKernel(p Program, name string) (Kernel, Status) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var st C.cl_int
	k := C.clsafe_create_kernel(C.uintptr_t(p), cname, &st)
	return Kernel(k), Status(st)
}

func (d *OpenCL) KernelNumArgs(k Kernel) (uint32, Status) {
	var n C.cl_uint
	st := Status(C.clsafe_kernel_num_args(C.uintptr_t(k), &n))
	return uint32(n), st
}

func (d *OpenCL) KernelArgTypeName(k Kernel, index uint32, buf []byte) (int, Status) {
	return query(buf, func(size C.size_t, ptr unsafe.Pointer, ret *C.size_t) C.cl_int {
		return C.clsafe_kernel_arg_type(C.uintptr_t(k), C.cl_uint(index), size, ptr, ret)
	})
}

func (d *OpenCL) SetKernelArg(k Kernel, index uint32, size uintptr, value unsafe.Pointer) Status {
	buf := cCopy(value, size)
	defer cFree(buf)
	return Status(C.clsafe_set_arg(C.uintptr_t(k), C.cl_uint(index), C.size_t(size), buf))
}

func (d *OpenCL) SetKernelArgSVMPointer(k Kernel, index uint32, ptr unsafe.Pointer) Status {
	return Status(C.clsafe_set_arg_svm(C.uintptr_t(k), C.cl_uint(index), ptr))
}

func (d *OpenCL) ReleaseKernel(k Kernel) Status {
	return Status(C.clsafe_release_kernel(C.uintptr_t(k)))
}

func (d *OpenCL) EnqueueNDRange(q Queue, k Kernel, globalSize uintptr) (Event, Status) {
	var ev C.uintptr_t
	st := Status(C.clsafe_enqueue(C.uintptr_t(q), C.uintptr_t(k), C.size_t(globalSize), &ev))
	return Event(ev), st
}

func (d *OpenCL) WaitForEvents(events []Event) Status {
	if len(events) == 0 {
		return StatusInvalidValue
	}
	arr := cHandles(events)
	defer C.free(unsafe.Pointer(arr))
	return Status(C.clsafe_wait(C.cl_uint(len(events)), arr))
}

func (d *OpenCL) EventStatus(e Event) (int32, Status) {
	var v C.cl_int
	st := Status(C.clsafe_event_status(C.uintptr_t(e), &v))
	return int32(v), st
}

func (d *OpenCL) SetEventCallback(e Event, cb EventCallback) Status {
	if cb == nil {
		return StatusInvalidValue
	}
	h := cgo.NewHandle(cb)
	st := Status(C.clsafe_set_event_callback(C.uintptr_t(e), C.uintptr_t(h)))
	if st != StatusSuccess {
		h.Delete()
	}
	return st
}

func (d *OpenCL) ReleaseEvent(e Event) Status {
	return Status(C.clsafe_release_event(C.uintptr_t(e)))
}

func (d *OpenCL) SVMAlloc(c Context, flags MemFlags, size uintptr, alignment uint32) unsafe.Pointer {
	var cflags C.cl_svm_mem_flags
	if flags&MemReadWrite != 0 {
		cflags |= C.CL_MEM_READ_WRITE
	}
	if flags&MemSVMFineGrainBuffer != 0 {
		cflags |= C.CL_MEM_SVM_FINE_GRAIN_BUFFER
	}
	if flags&MemSVMAtomics != 0 {
		cflags |= C.CL_MEM_SVM_ATOMICS
	}
	return C.clsafe_svm_alloc(C.uintptr_t(c), cflags, C.size_t(size), C.cl_uint(alignment))
}

func (d *OpenCL) SVMFree(c Context, ptr unsafe.Pointer) {
	C.clsafe_svm_free(C.uintptr_t(c), ptr)
}
