// Package kernelargs turns statically typed kernel arguments into uniform
// (pointer, size, alignment, tag) records without copying the payload.
package kernelargs

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Tag is the binding category of an erased argument. Scalars have one tag per width and
// signedness; every pointer-shaped argument collapses to TagPointer or TagSharedMemory.
type Tag uint8

const (
	TagInvalid Tag = iota
	TagInt8
	TagUint8
	TagInt16
	TagUint16
	TagInt32
	TagUint32
	TagInt64
	TagUint64
	TagFloat32
	TagFloat64
	TagPointer
	TagSharedMemory
)

var tagNames = [...]string{
	TagInvalid:      "invalid",
	TagInt8:         "int8",
	TagUint8:        "uint8",
	TagInt16:        "int16",
	TagUint16:       "uint16",
	TagInt32:        "int32",
	TagUint32:       "uint32",
	TagInt64:        "int64",
	TagUint64:       "uint64",
	TagFloat32:      "float32",
	TagFloat64:      "float64",
	TagPointer:      "pointer",
	TagSharedMemory: "shared-memory",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// IsPointer reports whether t is one of the pointer-shaped categories.
func (t Tag) IsPointer() bool {
	return t == TagPointer || t == TagSharedMemory
}

// Erased is the uniform view of one argument. Ptr addresses the argument's own storage
// and stays valid for as long as the Argument it came from, which Source names.
type Erased struct {
	Ptr    unsafe.Pointer
	Size   uintptr
	Align  uintptr
	Tag    Tag
	Source Argument

	release func()
}

// Release runs the argument's release hook, if any. Whoever holds the record decides
// whether and when to call it.
func (e Erased) Release() {
	if e.release != nil {
		e.release()
	}
}

// Releasable reports whether the record carries a release hook.
func (e Erased) Releasable() bool { return e.release != nil }

// Argument is a value that can be passed to a kernel. Erase must be a pure projection:
// it neither copies the payload nor takes ownership.
type Argument interface {
	Erase() Erased
}

// Scalar is the set of types that bind as plain kernel values.
type Scalar interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

type value[T Scalar] struct {
	v T
}

// Value wraps a scalar kernel argument.
func Value[T Scalar](v T) Argument {
	return &value[T]{v: v}
}

func (a *value[T]) Erase() Erased {
	return Erased{
		Ptr:    unsafe.Pointer(&a.v),
		Size:   unsafe.Sizeof(a.v),
		Align:  unsafe.Alignof(a.v),
		Tag:    scalarTag[T](),
		Source: a,
	}
}

func scalarTag[T Scalar]() Tag {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Int8:
		return TagInt8
	case reflect.Uint8:
		return TagUint8
	case reflect.Int16:
		return TagInt16
	case reflect.Uint16:
		return TagUint16
	case reflect.Int32:
		return TagInt32
	case reflect.Uint32:
		return TagUint32
	case reflect.Int64:
		return TagInt64
	case reflect.Uint64:
		return TagUint64
	case reflect.Float32:
		return TagFloat32
	case reflect.Float64:
		return TagFloat64
	}
	return TagInvalid
}

type pointer struct {
	p unsafe.Pointer
}

// Pointer wraps a raw address. The kernel receives the address itself, so with a
// device driver it must be device-visible, such as shared memory from
// compute.Allocate or C memory. Go memory is only addressable by host kernels.
func Pointer(p unsafe.Pointer) Argument {
	return &pointer{p: p}
}

// Ref wraps the address of v. The same restriction as for Pointer applies.
func Ref[T any](v *T) Argument {
	return &pointer{p: unsafe.Pointer(v)}
}

func (a *pointer) Erase() Erased {
	return Erased{
		Ptr:    unsafe.Pointer(&a.p),
		Size:   unsafe.Sizeof(a.p),
		Align:  unsafe.Alignof(a.p),
		Tag:    TagPointer,
		Source: a,
	}
}

type owned struct {
	arg     Argument
	release func()
}

// Owned attaches a release hook to arg. The hook runs once: either by the consumer that
// takes the erased record, or by the List when the record is never handed out.
func Owned(arg Argument, release func()) Argument {
	return &owned{arg: arg, release: release}
}

func (a *owned) Erase() Erased {
	e := a.arg.Erase()
	e.release = a.release
	return e
}
