package driver

import (
	"fmt"
	"unsafe"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// WorkItem is the view a HostKernelFunc has of one point of the launch grid.
type WorkItem struct {
	GlobalID   int
	GlobalSize int
	args       []hostArg
}

// NumArgs reports how many arguments the kernel was launched with.
func (w *WorkItem) NumArgs() int { return len(w.args) }

// Pointer returns the address bound to pointer parameter i.
func (w *WorkItem) Pointer(i int) unsafe.Pointer {
	return w.args[i].ptr
}

// Bytes returns the raw value bound to scalar parameter i.
func (w *WorkItem) Bytes(i int) []byte {
	return w.args[i].bytes
}

// Scalar decodes scalar parameter i as T.
func Scalar[T any](w *WorkItem, i int) T {
	var v T
	raw := w.args[i].bytes
	if uintptr(len(raw)) != unsafe.Sizeof(v) {
		panic(fmt.Sprintf("driver: argument %d holds %d bytes, want %d", i, len(raw), unsafe.Sizeof(v)))
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&v)), len(raw)), raw)
	return v
}

// Slice views pointer parameter i as n elements of T.
func Slice[T any](w *WorkItem, i, n int) []T {
	return unsafe.Slice((*T)(w.args[i].ptr), n)
}

// At returns element idx of the array bound to pointer parameter i.
func At[T any](w *WorkItem, i, idx int) *T {
	var zero T
	return (*T)(unsafe.Add(w.args[i].ptr, uintptr(idx)*unsafe.Sizeof(zero)))
}

// BuiltinSource declares the kernels every Host driver can execute. The same source
// compiles unchanged on an OpenCL device.
const BuiltinSource = `
__kernel void scale_u32(__global uint *data, uint factor) {
	size_t i = get_global_id(0);
	data[i] *= factor;
}

__kernel void saxpy(float a, __global const float *x, __global float *y) {
	size_t i = get_global_id(0);
	y[i] = a * x[i] + y[i];
}

__kernel void sgemm_row(__global const float *a, __global const float *b, __global float *c,
                        uint k, uint n) {
	size_t row = get_global_id(0);
	for (uint j = 0; j < n; j++) {
		float acc = 0.0f;
		for (uint p = 0; p < k; p++) {
			acc += a[row * k + p] * b[p * n + j];
		}
		c[row * n + j] = acc;
	}
}
`

func registerBuiltins(h *Host) {
	h.RegisterKernel("scale_u32", func(wi *WorkItem) {
		*At[uint32](wi, 0, wi.GlobalID) *= Scalar[uint32](wi, 1)
	})

	h.RegisterKernel("saxpy", func(wi *WorkItem) {
		a := Scalar[float32](wi, 0)
		x := blas32.Vector{N: 1, Inc: 1, Data: unsafe.Slice(At[float32](wi, 1, wi.GlobalID), 1)}
		y := blas32.Vector{N: 1, Inc: 1, Data: unsafe.Slice(At[float32](wi, 2, wi.GlobalID), 1)}
		blas32.Axpy(a, x, y)
	})

	// One work item computes one row of C = A*B with A m×k, B k×n.
	h.RegisterKernel("sgemm_row", func(wi *WorkItem) {
		k := int(Scalar[uint32](wi, 3))
		n := int(Scalar[uint32](wi, 4))
		row := wi.GlobalID
		a := blas32.General{Rows: 1, Cols: k, Stride: k, Data: unsafe.Slice(At[float32](wi, 0, row*k), k)}
		b := blas32.General{Rows: k, Cols: n, Stride: n, Data: Slice[float32](wi, 1, k*n)}
		c := blas32.General{Rows: 1, Cols: n, Stride: n, Data: unsafe.Slice(At[float32](wi, 2, row*n), n)}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, c)
	})
}
