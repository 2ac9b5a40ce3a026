package compute

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxnlabs/clsafe/fixtures"
	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/pkg/kernelargs"
)

// gateSource declares kernels whose host bodies are controlled by the tests.
const gateSource = `
__kernel void gate(__global uint *mem) {}
__kernel void boom(__global uint *mem) {}
__kernel void orphan(__global uint *mem) {}
`

type fixture struct {
	host *driver.Host
	ctx  *Context
	dev  *Device
	gate chan struct{}
}

func registerTestKernels(h *driver.Host, gate <-chan struct{}) {
	h.RegisterKernel("lol", func(wi *driver.WorkItem) {
		*driver.At[uint32](wi, 0, wi.GlobalID) *= 2
	})
	h.RegisterKernel("lol2", func(wi *driver.WorkItem) {
		*driver.At[uint32](wi, 0, wi.GlobalID) += driver.Scalar[uint32](wi, 1)
	})
	h.RegisterKernel("lol3", func(wi *driver.WorkItem) {
		bias := driver.Scalar[int16](wi, 1)
		seed := driver.Scalar[uint64](wi, 2)
		p := driver.At[uint32](wi, 0, wi.GlobalID)
		*p = uint32(seed^uint64(bias)) + *p
	})
	h.RegisterKernel("gate", func(wi *driver.WorkItem) {
		<-gate
		*driver.At[uint32](wi, 0, wi.GlobalID) = 1
	})
	h.RegisterKernel("boom", func(wi *driver.WorkItem) {
		panic("boom")
	})
}

func newFixture(t *testing.T, drv func(*driver.Host) Driver, opts ...Option) *fixture {
	t.Helper()
	host := driver.NewHost(zap.NewNop(), driver.DefaultHostOptions())
	gate := make(chan struct{})
	registerTestKernels(host, gate)

	var d Driver = host
	if drv != nil {
		d = drv(host)
	}
	c := NewContext(d, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, c.Open())
	t.Cleanup(func() { _ = c.Close() })

	devices := c.Devices()
	require.Len(t, devices, 1)
	return &fixture{host: host, ctx: c, dev: devices[0], gate: gate}
}

func (f *fixture) program(t *testing.T, src []byte) *Program {
	t.Helper()
	p, err := f.ctx.Compile(src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func (f *fixture) doubles(t *testing.T) *Program {
	return f.program(t, fixtures.DoubleKernels)
}

// sequence allocates n uint32 items holding 0..n-1.
func (f *fixture) sequence(t *testing.T, n int) *Allocation[uint32] {
	t.Helper()
	mem, err := Allocate[uint32](f.dev, n)
	require.NoError(t, err)
	items := mem.Items()
	for i := range items {
		items[i] = uint32(i)
	}
	return mem
}

func (f *fixture) kernel(t *testing.T, p *Program, name string, args ...kernelargs.Argument) *Kernel {
	t.Helper()
	k, err := p.BuildKernel(name, kernelargs.New(args...))
	require.NoError(t, err)
	return k
}

// releaseCounter hands out arguments whose release hooks bump a shared counter.
type releaseCounter struct {
	n int
}

func (r *releaseCounter) wrap(arg kernelargs.Argument) kernelargs.Argument {
	return kernelargs.Owned(arg, func() { r.n++ })
}
