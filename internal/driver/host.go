package driver

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
)

const (
	hostPlatform Platform = 1
	hostDevice   Device   = 1

	hostPlatformName    = "clsafe host"
	hostPlatformVendor  = "fxnlabs"
	hostPlatformVersion = "OpenCL 2.0 clsafe-host"
)

// HostOptions describes the device exposed by the Host driver.
type HostOptions struct {
	ComputeUnits     int
	MaxWorkGroupSize uint64
	MaxAllocSize     uint64
	GlobalMemSize    uint64
	AtomicAlignment  uint32
	// OutOfOrderQueue controls whether out-of-order queue requests are honoured.
	OutOfOrderQueue bool
}

// DefaultHostOptions returns the options used when none are configured.
func DefaultHostOptions() HostOptions {
	return HostOptions{
		ComputeUnits:     runtime.NumCPU(),
		MaxWorkGroupSize: 1024,
		MaxAllocSize:     1 << 30,
		GlobalMemSize:    4 << 30,
		AtomicAlignment:  64,
		OutOfOrderQueue:  true,
	}
}

// HostKernelFunc is the body of a kernel on the Host driver. It is called once per
// work item, concurrently from several goroutines.
type HostKernelFunc func(wi *WorkItem)

type hostArg struct {
	set   bool
	bytes []byte
	ptr   unsafe.Pointer
}

type hostContext struct{}

type hostQueue struct {
	props QueueProps
	mu    sync.Mutex
	tail  *hostEvent
}

type hostProgram struct {
	sources [][]byte
	bin     *hostBinary
	log     string
}

type hostKernel struct {
	decl    kernelDecl
	argInfo bool
	mu      sync.Mutex
	args    []hostArg
}

type hostEvent struct {
	handle        Event
	status        atomic.Int32
	done          chan struct{}
	mu            sync.Mutex
	completed     bool
	callbacks     []EventCallback
	registrations int
	refs          int
}

type svmRegion struct {
	region []byte
	size   uintptr
}

// Host is a software driver that runs kernels on the CPU. It parses kernel signatures
// out of OpenCL C sources and executes Go bodies registered per entry point.
type Host struct {
	log  *zap.Logger
	opts HostOptions

	next atomic.Uintptr

	mu        sync.Mutex
	contexts  map[Context]*hostContext
	queues    map[Queue]*hostQueue
	programs  map[Program]*hostProgram
	kernels   map[Kernel]*hostKernel
	events    map[Event]*hostEvent
	svm       map[uintptr]svmRegion
	svmBytes  uintptr
	faults    map[string][]Status
	bodies    map[string]HostKernelFunc
	bodiesMux sync.RWMutex
}

// NewHost creates a Host driver with the built-in kernel library registered.
func NewHost(log *zap.Logger, opts HostOptions) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ComputeUnits <= 0 {
		opts.ComputeUnits = runtime.NumCPU()
	}
	h := &Host{
		log:      log.Named("host"),
		opts:     opts,
		contexts: make(map[Context]*hostContext),
		queues:   make(map[Queue]*hostQueue),
		programs: make(map[Program]*hostProgram),
		kernels:  make(map[Kernel]*hostKernel),
		events:   make(map[Event]*hostEvent),
		svm:      make(map[uintptr]svmRegion),
		faults:   make(map[string][]Status),
		bodies:   make(map[string]HostKernelFunc),
	}
	h.next.Store(0x100)
	registerBuiltins(h)
	h.log.Info("host driver initialized",
		zap.Int("compute_units", opts.ComputeUnits),
		zap.Uint64("max_alloc_size", opts.MaxAllocSize))
	return h
}

// RegisterKernel installs the Go body executed for entry point name.
func (h *Host) RegisterKernel(name string, fn HostKernelFunc) {
	h.bodiesMux.Lock()
	h.bodies[name] = fn
	h.bodiesMux.Unlock()
}

// InjectFault makes the next call of op return st. Ops are method names such as
// "BuildProgram", "SetKernelArg", "WaitForEvents" or "SVMAlloc".
func (h *Host) InjectFault(op string, st Status) {
	h.mu.Lock()
	h.faults[op] = append(h.faults[op], st)
	h.mu.Unlock()
}

// CallbackRegistrations reports how many callbacks were attached to e.
func (h *Host) CallbackRegistrations(e Event) int {
	h.mu.Lock()
	ev := h.events[e]
	h.mu.Unlock()
	if ev == nil {
		return 0
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.registrations
}

// SharedBytes reports the number of SVM bytes currently allocated.
func (h *Host) SharedBytes() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.svmBytes
}

func (h *Host) fault(op string) (Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	queued := h.faults[op]
	if len(queued) == 0 {
		return StatusSuccess, false
	}
	h.faults[op] = queued[1:]
	return queued[0], true
}

func (h *Host) handle() uintptr {
	return h.next.Add(1)
}

// copyInfo implements the size-then-fill convention for NUL-terminated strings.
func copyInfo(buf []byte, value string) (int, Status) {
	need := len(value) + 1
	if buf == nil {
		return need, StatusSuccess
	}
	if len(buf) < need {
		return need, StatusInvalidValue
	}
	copy(buf, value)
	buf[len(value)] = 0
	return need, StatusSuccess
}

func (h *Host) Name() string { return "host" }

func (h *Host) Platforms() ([]Platform, Status) {
	if st, ok := h.fault("Platforms"); ok {
		return nil, st
	}
	return []Platform{hostPlatform}, StatusSuccess
}

func (h *Host) PlatformInfo(p Platform, param PlatformParam, buf []byte) (int, Status) {
	if p != hostPlatform {
		return 0, StatusInvalidPlatform
	}
	switch param {
	case PlatformName:
		return copyInfo(buf, hostPlatformName)
	case PlatformVendor:
		return copyInfo(buf, hostPlatformVendor)
	case PlatformVersion:
		return copyInfo(buf, hostPlatformVersion)
	}
	return 0, StatusInvalidValue
}

func (h *Host) Devices(p Platform) ([]Device, Status) {
	if p != hostPlatform {
		return nil, StatusInvalidPlatform
	}
	if st, ok := h.fault("Devices"); ok {
		return nil, st
	}
	return []Device{hostDevice}, StatusSuccess
}

func (h *Host) DeviceInfoUint(d Device, param DeviceParam) (uint64, Status) {
	if d != hostDevice {
		return 0, StatusInvalidDevice
	}
	switch param {
	case DeviceMaxComputeUnits:
		return uint64(h.opts.ComputeUnits), StatusSuccess
	case DeviceMaxWorkGroupSize:
		return h.opts.MaxWorkGroupSize, StatusSuccess
	case DeviceMaxMemAllocSize:
		return h.opts.MaxAllocSize, StatusSuccess
	case DeviceGlobalMemSize:
		return h.opts.GlobalMemSize, StatusSuccess
	case DeviceSVMCapabilities:
		return SVMCoarseGrainBuffer | SVMFineGrainBuffer | SVMAtomics, StatusSuccess
	case DevicePreferredPlatformAtomicAlignment, DevicePreferredGlobalAtomicAlignment:
		return uint64(h.opts.AtomicAlignment), StatusSuccess
	}
	return 0, StatusInvalidValue
}

func (h *Host) DeviceInfoString(d Device, param DeviceParam, buf []byte) (int, Status) {
	if d != hostDevice {
		return 0, StatusInvalidDevice
	}
	switch param {
	case DeviceName:
		return copyInfo(buf, fmt.Sprintf("clsafe host CPU (%s)", runtime.GOARCH))
	case DeviceVersion:
		return copyInfo(buf, hostPlatformVersion)
	}
	return 0, StatusInvalidValue
}

func (h *Host) ReleaseDevice(d Device) Status {
	if d != hostDevice {
		return StatusInvalidDevice
	}
	return StatusSuccess
}

func (h *Host) CreateContext(devices []Device) (Context, Status) {
	if len(devices) == 0 {
		return 0, StatusInvalidValue
	}
	for _, d := range devices {
		if d != hostDevice {
			return 0, StatusInvalidDevice
		}
	}
	if st, ok := h.fault("CreateContext"); ok {
		return 0, st
	}
	c := Context(h.handle())
	h.mu.Lock()
	h.contexts[c] = &hostContext{}
	h.mu.Unlock()
	return c, StatusSuccess
}

func (h *Host) ReleaseContext(c Context) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.contexts[c]; !ok {
		return StatusInvalidContext
	}
	delete(h.contexts, c)
	return StatusSuccess
}

func (h *Host) CreateQueue(c Context, d Device, props QueueProps) (Queue, Status) {
	h.mu.Lock()
	_, ok := h.contexts[c]
	h.mu.Unlock()
	if !ok {
		return 0, StatusInvalidContext
	}
	if d != hostDevice {
		return 0, StatusInvalidDevice
	}
	if st, ok := h.fault("CreateQueue"); ok {
		return 0, st
	}
	if !h.opts.OutOfOrderQueue {
		props &^= QueueOutOfOrderExecMode
	}
	q := Queue(h.handle())
	h.mu.Lock()
	h.queues[q] = &hostQueue{props: props}
	h.mu.Unlock()
	return q, StatusSuccess
}

func (h *Host) QueueProperties(q Queue) (QueueProps, Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hq, ok := h.queues[q]
	if !ok {
		return 0, StatusInvalidCommandQueue
	}
	return hq.props, StatusSuccess
}

func (h *Host) ReleaseQueue(q Queue) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.queues[q]; !ok {
		return StatusInvalidCommandQueue
	}
	delete(h.queues, q)
	return StatusSuccess
}

func (h *Host) CreateProgramWithSource(c Context, sources [][]byte) (Program, Status) {
	h.mu.Lock()
	_, ok := h.contexts[c]
	h.mu.Unlock()
	if !ok {
		return 0, StatusInvalidContext
	}
	if len(sources) == 0 {
		return 0, StatusInvalidValue
	}
	if st, ok := h.fault("CreateProgramWithSource"); ok {
		return 0, st
	}
	owned := make([][]byte, len(sources))
	for i, src := range sources {
		if len(src) == 0 {
			return 0, StatusInvalidValue
		}
		owned[i] = append([]byte(nil), src...)
	}
	p := Program(h.handle())
	h.mu.Lock()
	h.programs[p] = &hostProgram{sources: owned}
	h.mu.Unlock()
	return p, StatusSuccess
}

func (h *Host) program(p Program) *hostProgram {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.programs[p]
}

func (h *Host) BuildProgram(p Program, devices []Device, options string) Status {
	hp := h.program(p)
	if hp == nil {
		return StatusInvalidProgram
	}
	for _, d := range devices {
		if d != hostDevice {
			return StatusInvalidDevice
		}
	}
	if st, ok := h.fault("BuildProgram"); ok {
		return st
	}
	bin, log, st := compileHost(hp.sources, options)
	h.mu.Lock()
	hp.bin, hp.log = bin, log
	h.mu.Unlock()
	if st == StatusSuccess {
		h.log.Debug("program built", zap.String("kernels", bin.kernelNames()))
	}
	return st
}

func (h *Host) ProgramInfo(p Program, param ProgramParam, buf []byte) (int, Status) {
	if st, ok := h.fault("ProgramInfo"); ok {
		return 0, st
	}
	h.mu.Lock()
	hp := h.programs[p]
	var bin *hostBinary
	if hp != nil {
		bin = hp.bin
	}
	h.mu.Unlock()
	if hp == nil {
		return 0, StatusInvalidProgram
	}
	if param != ProgramKernelNames {
		return 0, StatusInvalidValue
	}
	if bin == nil {
		return 0, StatusInvalidProgramExecutable
	}
	return copyInfo(buf, bin.kernelNames())
}

func (h *Host) ProgramBuildLog(p Program, d Device, buf []byte) (int, Status) {
	if d != hostDevice {
		return 0, StatusInvalidDevice
	}
	h.mu.Lock()
	hp := h.programs[p]
	var log string
	if hp != nil {
		log = hp.log
	}
	h.mu.Unlock()
	if hp == nil {
		return 0, StatusInvalidProgram
	}
	return copyInfo(buf, log)
}

func (h *Host) ReleaseProgram(p Program) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.programs[p]; !ok {
		return StatusInvalidProgram
	}
	delete(h.programs, p)
	return StatusSuccess
}

func (h *Host) CreateKernel(p Program, name string) (Kernel, Status) {
	h.mu.Lock()
	hp := h.programs[p]
	var bin *hostBinary
	if hp != nil {
		bin = hp.bin
	}
	h.mu.Unlock()
	if hp == nil {
		return 0, StatusInvalidProgram
	}
	if bin == nil {
		return 0, StatusInvalidProgramExecutable
	}
	if st, ok := h.fault("CreateKernel"); ok {
		return 0, st
	}
	idx, ok := bin.byName[name]
	if !ok {
		return 0, StatusInvalidKernelName
	}
	decl := bin.kernels[idx]
	k := Kernel(h.handle())
	h.mu.Lock()
	h.kernels[k] = &hostKernel{decl: decl, argInfo: bin.argInfo, args: make([]hostArg, len(decl.Params))}
	h.mu.Unlock()
	return k, StatusSuccess
}

func (h *Host) kernel(k Kernel) *hostKernel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kernels[k]
}

func (h *Host) KernelNumArgs(k Kernel) (uint32, Status) {
	hk := h.kernel(k)
	if hk == nil {
		return 0, StatusInvalidKernel
	}
	if st, ok := h.fault("KernelNumArgs"); ok {
		return 0, st
	}
	return uint32(len(hk.decl.Params)), StatusSuccess
}

func (h *Host) KernelArgTypeName(k Kernel, index uint32, buf []byte) (int, Status) {
	hk := h.kernel(k)
	if hk == nil {
		return 0, StatusInvalidKernel
	}
	if int(index) >= len(hk.decl.Params) {
		return 0, StatusInvalidArgIndex
	}
	if !hk.argInfo {
		return 0, StatusKernelArgInfoNotAvailable
	}
	return copyInfo(buf, hk.decl.Params[index].TypeName)
}

func (h *Host) SetKernelArg(k Kernel, index uint32, size uintptr, value unsafe.Pointer) Status {
	hk := h.kernel(k)
	if hk == nil {
		return StatusInvalidKernel
	}
	if int(index) >= len(hk.decl.Params) {
		return StatusInvalidArgIndex
	}
	if st, ok := h.fault("SetKernelArg"); ok {
		return st
	}
	param := hk.decl.Params[index]
	if size != param.Size {
		return StatusInvalidArgSize
	}
	if value == nil {
		return StatusInvalidArgValue
	}
	arg := hostArg{set: true}
	if param.Pointer {
		arg.ptr = *(*unsafe.Pointer)(value)
	} else {
		arg.bytes = append([]byte(nil), unsafe.Slice((*byte)(value), size)...)
	}
	hk.mu.Lock()
	hk.args[index] = arg
	hk.mu.Unlock()
	return StatusSuccess
}

func (h *Host) SetKernelArgSVMPointer(k Kernel, index uint32, ptr unsafe.Pointer) Status {
	hk := h.kernel(k)
	if hk == nil {
		return StatusInvalidKernel
	}
	if int(index) >= len(hk.decl.Params) {
		return StatusInvalidArgIndex
	}
	if st, ok := h.fault("SetKernelArgSVMPointer"); ok {
		return st
	}
	if !hk.decl.Params[index].Pointer {
		return StatusInvalidArgValue
	}
	hk.mu.Lock()
	hk.args[index] = hostArg{set: true, ptr: ptr}
	hk.mu.Unlock()
	return StatusSuccess
}

func (h *Host) ReleaseKernel(k Kernel) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.kernels[k]; !ok {
		return StatusInvalidKernel
	}
	delete(h.kernels, k)
	return StatusSuccess
}

func (h *Host) EnqueueNDRange(q Queue, k Kernel, globalSize uintptr) (Event, Status) {
	h.mu.Lock()
	hq := h.queues[q]
	hk := h.kernels[k]
	h.mu.Unlock()
	if hq == nil {
		return 0, StatusInvalidCommandQueue
	}
	if hk == nil {
		return 0, StatusInvalidKernel
	}
	if globalSize == 0 {
		return 0, StatusInvalidGlobalWorkSize
	}
	if st, ok := h.fault("EnqueueNDRange"); ok {
		return 0, st
	}

	hk.mu.Lock()
	snapshot := make([]hostArg, len(hk.args))
	copy(snapshot, hk.args)
	hk.mu.Unlock()
	for _, a := range snapshot {
		if !a.set {
			return 0, StatusInvalidKernelArgs
		}
	}

	h.bodiesMux.RLock()
	body := h.bodies[hk.decl.Name]
	h.bodiesMux.RUnlock()

	ev := &hostEvent{handle: Event(h.handle()), done: make(chan struct{}), refs: 1}
	ev.status.Store(ExecQueued)
	h.mu.Lock()
	h.events[ev.handle] = ev
	h.mu.Unlock()

	var prev *hostEvent
	if hq.props&QueueOutOfOrderExecMode == 0 {
		hq.mu.Lock()
		prev, hq.tail = hq.tail, ev
		hq.mu.Unlock()
	}
	go h.run(ev, prev, hk.decl.Name, body, snapshot, int(globalSize))
	return ev.handle, StatusSuccess
}

func (h *Host) run(ev, prev *hostEvent, name string, body HostKernelFunc, args []hostArg, size int) {
	if prev != nil {
		<-prev.done
	}
	ev.status.Store(ExecSubmitted)
	ev.status.Store(ExecRunning)
	if body == nil {
		h.log.Warn("no host implementation for kernel", zap.String("kernel", name))
		ev.complete(int32(StatusInvalidOperation))
		return
	}
	ev.complete(h.execute(name, body, args, size))
}

func (h *Host) execute(name string, body HostKernelFunc, args []hostArg, size int) int32 {
	workers := h.opts.ComputeUnits
	if workers > size {
		workers = size
	}
	chunk := (size + workers - 1) / workers
	var (
		wg     sync.WaitGroup
		failed atomic.Bool
	)
	for start := 0; start < size; start += chunk {
		end := min(start+chunk, size)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					failed.Store(true)
					h.log.Error("host kernel panicked", zap.String("kernel", name), zap.Any("panic", r))
				}
			}()
			wi := &WorkItem{GlobalSize: size, args: args}
			for gid := start; gid < end; gid++ {
				wi.GlobalID = gid
				body(wi)
			}
		}(start, end)
	}
	wg.Wait()
	if failed.Load() {
		return int32(StatusOutOfResources)
	}
	return ExecComplete
}

func (ev *hostEvent) complete(code int32) {
	ev.mu.Lock()
	ev.status.Store(code)
	ev.completed = true
	callbacks := ev.callbacks
	ev.callbacks = nil
	close(ev.done)
	ev.mu.Unlock()
	for _, cb := range callbacks {
		cb(ev.handle, code)
	}
}

func (h *Host) event(e Event) *hostEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[e]
}

func (h *Host) WaitForEvents(events []Event) Status {
	if len(events) == 0 {
		return StatusInvalidValue
	}
	if st, ok := h.fault("WaitForEvents"); ok {
		return st
	}
	pending := make([]*hostEvent, len(events))
	for i, e := range events {
		ev := h.event(e)
		if ev == nil {
			return StatusInvalidEvent
		}
		pending[i] = ev
	}
	result := StatusSuccess
	for _, ev := range pending {
		<-ev.done
		if ev.status.Load() < 0 {
			result = StatusExecStatusErrorForEvents
		}
	}
	return result
}

func (h *Host) EventStatus(e Event) (int32, Status) {
	ev := h.event(e)
	if ev == nil {
		return 0, StatusInvalidEvent
	}
	if st, ok := h.fault("EventStatus"); ok {
		return 0, st
	}
	return ev.status.Load(), StatusSuccess
}

func (h *Host) SetEventCallback(e Event, cb EventCallback) Status {
	if cb == nil {
		return StatusInvalidValue
	}
	ev := h.event(e)
	if ev == nil {
		return StatusInvalidEvent
	}
	if st, ok := h.fault("SetEventCallback"); ok {
		return st
	}
	ev.mu.Lock()
	ev.registrations++
	if !ev.completed {
		ev.callbacks = append(ev.callbacks, cb)
		ev.mu.Unlock()
		return StatusSuccess
	}
	code := ev.status.Load()
	ev.mu.Unlock()
	go cb(e, code)
	return StatusSuccess
}

func (h *Host) ReleaseEvent(e Event) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev, ok := h.events[e]
	if !ok {
		return StatusInvalidEvent
	}
	ev.refs--
	if ev.refs == 0 {
		delete(h.events, e)
	}
	return StatusSuccess
}

func (h *Host) SVMAlloc(c Context, flags MemFlags, size uintptr, alignment uint32) unsafe.Pointer {
	h.mu.Lock()
	_, ok := h.contexts[c]
	h.mu.Unlock()
	if !ok || size == 0 || uint64(size) > h.opts.MaxAllocSize {
		return nil
	}
	if alignment == 0 {
		alignment = 128
	}
	if alignment&(alignment-1) != 0 {
		return nil
	}
	if st, ok := h.fault("SVMAlloc"); ok && st != StatusSuccess {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if uint64(h.svmBytes+size) > h.opts.GlobalMemSize {
		return nil
	}
	region, base, ok := mapShared(size, uintptr(alignment))
	if !ok {
		return nil
	}
	h.svm[uintptr(base)] = svmRegion{region: region, size: size}
	h.svmBytes += size
	return base
}

func (h *Host) SVMFree(c Context, ptr unsafe.Pointer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.svm[uintptr(ptr)]
	if !ok {
		h.log.Warn("free of unknown shared memory pointer", zap.Uintptr("ptr", uintptr(ptr)))
		return
	}
	delete(h.svm, uintptr(ptr))
	h.svmBytes -= r.size
	unmapShared(r.region)
}

func alignUp(v, a uintptr) uintptr {
	return (v + a - 1) &^ (a - 1)
}
