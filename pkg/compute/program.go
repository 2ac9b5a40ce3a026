package compute

import (
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/internal/metrics"
	"github.com/fxnlabs/clsafe/pkg/kernelargs"
)

// Program is a built program and its catalog of entry points.
type Program struct {
	ctx         *Context
	handle      driver.Program
	entryPoints string
	log         *zap.Logger
	closed      atomic.Bool
}

// Compile builds sources into one program for every device of the Context. A source
// that fails to compile yields a *BuildError carrying the compiler log.
func (c *Context) Compile(sources ...[]byte) (prog *Program, err error) {
	defer func() { metrics.ProgramsCompiled.WithLabelValues(metrics.Result(err)).Inc() }()

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrInvalidProgram)
	}
	for i, src := range sources {
		if len(src) == 0 {
			return nil, fmt.Errorf("%w: source %d is empty", ErrInvalidProgram, i)
		}
	}
	c.await()

	h, st := c.drv.CreateProgramWithSource(c.handle, sources)
	switch {
	case st == driver.StatusSuccess:
	case isResourceStatus(st):
		return nil, ErrResourcesExhausted
	default:
		unexpected("clCreateProgramWithSource", st)
	}

	if err := c.build(h); err != nil {
		c.drv.ReleaseProgram(h)
		return nil, err
	}

	names, st := queryString("clGetProgramInfo", func(buf []byte) (int, driver.Status) {
		return c.drv.ProgramInfo(h, driver.ProgramKernelNames, buf)
	})
	switch {
	case st == driver.StatusSuccess:
	case isResourceStatus(st):
		c.drv.ReleaseProgram(h)
		return nil, ErrResourcesExhausted
	default:
		unexpected("clGetProgramInfo", st)
	}

	prog = &Program{ctx: c, handle: h, entryPoints: names, log: c.log.Named("program")}
	prog.log.Debug("program compiled", zap.String("entryPoints", names))
	return prog, nil
}

func (c *Context) build(h driver.Program) error {
	handles := make([]driver.Device, len(c.devices))
	for i, d := range c.devices {
		handles[i] = d.handle
	}

	st := c.drv.BuildProgram(h, handles, c.opts.buildOptions)
	switch st {
	case driver.StatusSuccess:
		return nil
	case driver.StatusOutOfResources, driver.StatusOutOfHostMemory:
		return ErrResourcesExhausted
	case driver.StatusBuildProgramFailure, driver.StatusInvalidProgram:
		log, lst := queryString("clGetProgramBuildInfo", func(buf []byte) (int, driver.Status) {
			return c.drv.ProgramBuildLog(h, handles[0], buf)
		})
		if lst != driver.StatusSuccess {
			c.log.Warn("failed to fetch build log", zap.Stringer("status", lst))
		}
		c.log.Warn("program build failed", zap.String("log", log))
		return &BuildError{Log: log}
	case driver.StatusInvalidBuildOptions:
		panic(fmt.Sprintf("compute: build options rejected: %q", c.opts.buildOptions))
	case driver.StatusCompilerNotAvailable:
		panic("compute: device compiler not available")
	}
	unexpected("clBuildProgram", st)
	return nil
}

// EntryPoints yields the names of the program's kernels in driver order.
func (p *Program) EntryPoints() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, name := range strings.Split(p.entryPoints, ";") {
			if name == "" {
				continue
			}
			if !yield(name) {
				return
			}
		}
	}
}

// Close releases the program. Kernels built from it stay valid.
func (p *Program) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if st := p.ctx.drv.ReleaseProgram(p.handle); st != driver.StatusSuccess {
		return &driver.StatusError{Op: "clReleaseProgram", Status: st}
	}
	return nil
}

// BuildKernel creates the kernel name with args bound to it. The list is consumed
// whatever the outcome. Argument count and every declared parameter type are checked
// before the first argument is bound, so a failed build binds nothing observable.
func (p *Program) BuildKernel(name string, args *kernelargs.List) (k *Kernel, err error) {
	defer func() {
		metrics.KernelsBuilt.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			p.log.Debug("kernel build failed", zap.String("kernel", name), zap.Error(err))
		}
	}()

	if p.closed.Load() {
		args.Discard()
		return nil, ErrClosed
	}
	drv := p.ctx.drv

	h, st := drv.CreateKernel(p.handle, name)
	switch {
	case st == driver.StatusSuccess:
	case st == driver.StatusInvalidKernelName:
		args.Discard()
		return nil, fmt.Errorf("%w: %q", ErrInvalidKernelName, name)
	case isResourceStatus(st):
		args.Discard()
		return nil, ErrNoMem
	default:
		unexpected("clCreateKernel", st)
	}

	n, st := drv.KernelNumArgs(h)
	switch {
	case st == driver.StatusSuccess:
	case isResourceStatus(st):
		drv.ReleaseKernel(h)
		args.Discard()
		return nil, ErrNoMem
	default:
		unexpected("clGetKernelInfo", st)
	}
	if int(n) != args.Len() {
		drv.ReleaseKernel(h)
		args.Discard()
		return nil, &ArgNumMismatchError{Expected: int(n), Actual: args.Len()}
	}

	erased := make([]kernelargs.Erased, 0, n)
	for e := range args.All() {
		erased = append(erased, e)
	}
	fail := func(err error) (*Kernel, error) {
		for _, e := range erased {
			e.Release()
		}
		drv.ReleaseKernel(h)
		return nil, err
	}

	for i, e := range erased {
		declared, st := queryString("clGetKernelArgInfo", func(buf []byte) (int, driver.Status) {
			return drv.KernelArgTypeName(h, uint32(i), buf)
		})
		switch {
		case st == driver.StatusSuccess:
		case st == driver.StatusKernelArgInfoNotAvailable:
			panic("compute: kernel argument metadata unavailable, build with -cl-kernel-arg-info")
		case isResourceStatus(st):
			return fail(ErrNoMem)
		default:
			unexpected("clGetKernelArgInfo", st)
		}
		if !accepts(declared, e.Tag) {
			return fail(&ArgTypeMismatchError{Index: i, Declared: declared, Tag: e.Tag})
		}
	}

	k = &Kernel{ctx: p.ctx, handle: h, name: name}
	for i, e := range erased {
		if err := k.bind(uint32(i), e); err != nil {
			return fail(err)
		}
	}
	for _, e := range erased {
		k.sources = append(k.sources, e.Source)
		if e.Releasable() {
			k.releases = append(k.releases, e.Release)
		}
		if s, ok := e.Source.(sharedArgument); ok {
			r := s.sharedRegion()
			r.bound.Add(1)
			k.regions = append(k.regions, r)
		}
	}
	return k, nil
}

var scalarTypes = map[string]kernelargs.Tag{
	"char":           kernelargs.TagInt8,
	"uchar":          kernelargs.TagUint8,
	"unsigned char":  kernelargs.TagUint8,
	"short":          kernelargs.TagInt16,
	"ushort":         kernelargs.TagUint16,
	"unsigned short": kernelargs.TagUint16,
	"int":            kernelargs.TagInt32,
	"uint":           kernelargs.TagUint32,
	"unsigned int":   kernelargs.TagUint32,
	"long":           kernelargs.TagInt64,
	"ulong":          kernelargs.TagUint64,
	"unsigned long":  kernelargs.TagUint64,
	"float":          kernelargs.TagFloat32,
	"double":         kernelargs.TagFloat64,
}

// accepts reports whether an argument tagged tag may bind to a parameter declared as
// the OpenCL C type name declared.
func accepts(declared string, tag kernelargs.Tag) bool {
	if strings.Contains(declared, "*") {
		return tag.IsPointer()
	}
	want, ok := scalarTypes[declared]
	return ok && want == tag
}
