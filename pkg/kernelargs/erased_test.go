package kernelargs

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type celsius float32

func TestValueTags(t *testing.T) {
	testCases := []struct {
		name string
		arg  Argument
		tag  Tag
		size uintptr
	}{
		{"int8", Value(int8(-1)), TagInt8, 1},
		{"uint8", Value(uint8(1)), TagUint8, 1},
		{"int16", Value(int16(-1)), TagInt16, 2},
		{"uint16", Value(uint16(1)), TagUint16, 2},
		{"int32", Value(int32(-1)), TagInt32, 4},
		{"uint32", Value(uint32(1)), TagUint32, 4},
		{"int64", Value(int64(-1)), TagInt64, 8},
		{"uint64", Value(uint64(1)), TagUint64, 8},
		{"float32", Value(float32(1.5)), TagFloat32, 4},
		{"float64", Value(2.5), TagFloat64, 8},
		{"named type", Value(celsius(21)), TagFloat32, 4},
	}

	seen := make(map[Tag]bool)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := tc.arg.Erase()
			assert.Equal(t, tc.tag, e.Tag)
			assert.Equal(t, tc.size, e.Size)
			assert.Equal(t, tc.size, e.Align)
			assert.False(t, e.Tag.IsPointer())
			assert.False(t, e.Releasable())
		})
		if tc.name != "named type" {
			assert.False(t, seen[tc.tag], "tag %s reused", tc.tag)
			seen[tc.tag] = true
		}
	}
}

func TestEraseIsPure(t *testing.T) {
	arg := Value(uint32(0xdeadbeef))
	first, second := arg.Erase(), arg.Erase()
	assert.Equal(t, first.Ptr, second.Ptr, "erasure must not copy")
	assert.Equal(t, uint32(0xdeadbeef), *(*uint32)(first.Ptr))
}

func TestPointerArguments(t *testing.T) {
	var target [4]int32

	e := Ref(&target[0]).Erase()
	assert.Equal(t, TagPointer, e.Tag)
	assert.True(t, e.Tag.IsPointer())
	assert.Equal(t, unsafe.Sizeof(uintptr(0)), e.Size)
	assert.Equal(t, unsafe.Pointer(&target[0]), *(*unsafe.Pointer)(e.Ptr))

	raw := Pointer(unsafe.Pointer(&target[1])).Erase()
	assert.Equal(t, unsafe.Pointer(&target[1]), *(*unsafe.Pointer)(raw.Ptr))
	assert.True(t, TagSharedMemory.IsPointer())
}

func TestOwned(t *testing.T) {
	released := 0
	inner := Value(int16(3))
	arg := Owned(inner, func() { released++ })

	e := arg.Erase()
	require.True(t, e.Releasable())
	assert.Equal(t, TagInt16, e.Tag)
	assert.Same(t, inner, e.Source, "source names the wrapped argument")
	assert.Zero(t, released, "erasure must not release")

	e.Release()
	assert.Equal(t, 1, released)
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "uint32", TagUint32.String())
	assert.Equal(t, "shared-memory", TagSharedMemory.String())
	assert.Equal(t, "Tag(200)", Tag(200).String())
}
