//go:build opencl
// +build opencl

package driver

/*
#define CL_TARGET_OPENCL_VERSION 200
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdint.h>
*/
import "C"

import "runtime/cgo"

// goEventCallback runs on an OpenCL runtime thread. The handle is registered once per
// SetEventCallback and deleted after the single invocation.
//
//export goEventCallback
func goEventCallback(ev C.uintptr_t, status C.cl_int, data C.uintptr_t) {
	h := cgo.Handle(data)
	cb := h.Value().(EventCallback)
	h.Delete()
	cb(Event(ev), int32(status))
}
