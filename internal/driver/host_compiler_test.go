package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBuildOptions(t *testing.T) {
	testCases := []struct {
		name    string
		options string
		argInfo bool
		ok      bool
	}{
		{"empty", "", false, true},
		{"default set", "-cl-no-signed-zeros -cl-std=CL2.0 -cl-kernel-arg-info -O2", true, true},
		{"defines", "-D N=4 -DFOO -I include", false, true},
		{"dangling define", "-D", false, false},
		{"unknown option", "--fast-math", false, false},
		{"bad optimisation level", "-O9", false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			argInfo, ok := parseBuildOptions(tc.options)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.argInfo, argInfo)
		})
	}
}

func TestCompileHost(t *testing.T) {
	t.Run("parses entry points and parameters", func(t *testing.T) {
		src := []byte(`
// leading comment with kernel void fake(int x) {
__kernel void lol(__global uint *mem, const uint n) { mem[get_global_id(0)] *= 2; }
kernel void lol2(global const float * restrict x, float4 v, ulong count) {}
__kernel void lol3(void) { /* kernel void nested() {} */ }
`)
		bin, log, st := compileHost([][]byte{src}, "-cl-kernel-arg-info")
		require.Equal(t, StatusSuccess, st, log)
		assert.True(t, bin.argInfo)
		assert.Equal(t, "lol;lol2;lol3", bin.kernelNames())

		lol := bin.kernels[bin.byName["lol"]]
		require.Len(t, lol.Params, 2)
		assert.Equal(t, paramDecl{Name: "mem", TypeName: "uint*", Pointer: true, Size: 8}, lol.Params[0])
		assert.Equal(t, paramDecl{Name: "n", TypeName: "uint", Size: 4}, lol.Params[1])

		lol2 := bin.kernels[bin.byName["lol2"]]
		require.Len(t, lol2.Params, 3)
		assert.Equal(t, "float*", lol2.Params[0].TypeName)
		assert.Equal(t, uintptr(16), lol2.Params[1].Size)
		assert.Equal(t, "ulong", lol2.Params[2].TypeName)

		assert.Empty(t, bin.kernels[bin.byName["lol3"]].Params)
	})

	t.Run("multiple sources form one program", func(t *testing.T) {
		bin, _, st := compileHost([][]byte{
			[]byte("__kernel void a(int x) {}"),
			[]byte("__kernel void b(unsigned int y) {}"),
		}, "")
		require.Equal(t, StatusSuccess, st)
		assert.False(t, bin.argInfo)
		assert.Equal(t, "unsigned int", bin.kernels[1].Params[0].TypeName)
	})

	t.Run("kernel as an identifier", func(t *testing.T) {
		bin, log, st := compileHost([][]byte{[]byte(`
__kernel __attribute__((reqd_work_group_size(64, 1, 1))) void a(__global int *m) {
	int kernel = 0;
	m[0] = kernel;
	m[1] = kernel + 1;
}
`)}, "")
		require.Equal(t, StatusSuccess, st, log)
		assert.Equal(t, "a", bin.kernelNames())
	})

	failures := []struct {
		name string
		src  string
		want string
	}{
		{"unbalanced braces", "__kernel void a(int x) {", "unbalanced braces"},
		{"duplicate kernel", "__kernel void a(int x) {} __kernel void a(int y) {}", "redefinition"},
		{"unknown type", "__kernel void a(matrix m) {}", "unknown type name"},
		{"malformed parameter", "__kernel void a(int) {}", "malformed parameter"},
		{"unparsed declaration", "__kernel int a(int x) {}", "could not be parsed"},
	}
	for _, tc := range failures {
		t.Run(tc.name, func(t *testing.T) {
			bin, log, st := compileHost([][]byte{[]byte(tc.src)}, "")
			assert.Equal(t, StatusBuildProgramFailure, st)
			assert.Nil(t, bin)
			assert.Contains(t, log, tc.want)
		})
	}

	t.Run("invalid options", func(t *testing.T) {
		_, _, st := compileHost([][]byte{[]byte("__kernel void a(int x) {}")}, "-bogus")
		assert.Equal(t, StatusInvalidBuildOptions, st)
	})
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "CL_SUCCESS", StatusSuccess.String())
	assert.Equal(t, "CL_INVALID_ARG_SIZE", StatusInvalidArgSize.String())
	assert.Equal(t, "CL_UNKNOWN_ERROR(-9999)", Status(-9999).String())

	err := &StatusError{Op: "clBuildProgram", Status: StatusOutOfHostMemory}
	assert.Equal(t, "clBuildProgram: CL_OUT_OF_HOST_MEMORY", err.Error())
}
