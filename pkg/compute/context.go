// Package compute is a safety layer over an OpenCL 2.0 style compute driver: program
// compilation, checked kernel construction, shared memory and completion tokens.
package compute

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/fxnlabs/clsafe/internal/config"
	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/internal/logger"
)

// Driver is the compute API a Context runs on.
type Driver = driver.Driver

// maxDevices caps the devices taken from one platform.
const maxDevices = 16

const (
	stateUninit int32 = iota
	stateInInit
	stateDoneInit
)

type options struct {
	platform     string
	minVersion   int
	buildOptions string
	log          *zap.Logger
}

// Option configures a Context.
type Option func(*options)

// WithPlatform selects the platform whose name contains name.
func WithPlatform(name string) Option {
	return func(o *options) { o.platform = name }
}

// WithMinVersion sets the minimum platform major version considered eligible.
func WithMinVersion(major int) Option {
	return func(o *options) { o.minVersion = major }
}

// WithBuildOptions replaces the options passed to the device compiler.
func WithBuildOptions(opts string) Option {
	return func(o *options) { o.buildOptions = opts }
}

// WithLogger sets the logger used by the Context and everything it creates.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// Version is a platform or device API version.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

var versionPattern = regexp.MustCompile(`^OpenCL (\d+)\.(\d+)`)

func parseVersion(s string) Version {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	return Version{Major: major, Minor: minor}
}

// Platform describes one installed driver platform.
type Platform struct {
	Name    string  `json:"name"`
	Vendor  string  `json:"vendor"`
	Version Version `json:"version"`

	handle driver.Platform
}

// Context owns the driver context and the devices of one platform. It moves from
// uninitialised through initialising to ready; Open may only be called while
// uninitialised, and accessors block while initialisation is in progress.
type Context struct {
	drv  Driver
	opts options
	log  *zap.Logger

	state atomic.Int32
	mu    sync.Mutex
	ready chan struct{}

	platform Platform
	handle   driver.Context
	devices  []*Device
}

// NewContext prepares a Context on drv. Nothing is queried until Open.
func NewContext(drv Driver, opts ...Option) *Context {
	o := options{minVersion: 2, buildOptions: config.DefaultBuildOptions}
	for _, opt := range opts {
		opt(&o)
	}
	return &Context{
		drv:   drv,
		opts:  o,
		log:   logger.OrNop(o.log).Named("compute"),
		ready: make(chan struct{}),
	}
}

// Open selects a platform, discovers its devices and creates the driver context and
// one command queue per device. Calling Open on a Context that is initialising or
// open panics.
func (c *Context) Open() error {
	if !c.state.CompareAndSwap(stateUninit, stateInInit) {
		panic("compute: context already initialised")
	}
	err := c.init()

	c.mu.Lock()
	ready := c.ready
	c.ready = make(chan struct{})
	if err != nil {
		c.state.Store(stateUninit)
	} else {
		c.state.Store(stateDoneInit)
	}
	c.mu.Unlock()
	close(ready)

	if err != nil {
		return err
	}
	c.log.Info("compute context opened",
		zap.String("driver", c.drv.Name()),
		zap.String("platform", c.platform.Name),
		zap.Stringer("version", c.platform.Version),
		zap.Int("devices", len(c.devices)))
	return nil
}

func (c *Context) init() error {
	platforms, err := EnumeratePlatforms(c.drv)
	if err != nil {
		return err
	}
	p, err := c.selectPlatform(platforms)
	if err != nil {
		return err
	}

	handles, st := c.drv.Devices(p.handle)
	switch {
	case st == driver.StatusSuccess, st == driver.StatusDeviceNotFound:
	case isResourceStatus(st):
		return ErrResourcesExhausted
	default:
		unexpected("clGetDeviceIDs", st)
	}
	if len(handles) == 0 {
		return ErrNoDevices
	}
	if len(handles) > maxDevices {
		for _, h := range handles[maxDevices:] {
			c.drv.ReleaseDevice(h)
		}
		handles = handles[:maxDevices]
	}

	var devices []*Device
	cleanup := func() {
		for _, d := range devices {
			if d.queue != 0 {
				c.drv.ReleaseQueue(d.queue)
			}
		}
		for _, h := range handles {
			c.drv.ReleaseDevice(h)
		}
	}
	for _, h := range handles {
		d, err := newDevice(c, h)
		if err != nil {
			cleanup()
			return err
		}
		devices = append(devices, d)
	}

	ctx, st := c.drv.CreateContext(handles)
	switch {
	case st == driver.StatusSuccess:
	case isResourceStatus(st):
		cleanup()
		return ErrResourcesExhausted
	case st == driver.StatusDeviceNotAvailable:
		panic("compute: a device of the selected platform is not available")
	default:
		unexpected("clCreateContext", st)
	}

	for _, d := range devices {
		if err := d.openQueue(ctx); err != nil {
			cleanup()
			c.drv.ReleaseContext(ctx)
			return err
		}
	}

	c.platform = p
	c.handle = ctx
	c.devices = devices
	return nil
}

func (c *Context) selectPlatform(platforms []Platform) (Platform, error) {
	var eligible []Platform
	for _, p := range platforms {
		if p.Version.Major < c.opts.minVersion {
			continue
		}
		if c.opts.platform != "" && !strings.Contains(p.Name, c.opts.platform) {
			continue
		}
		eligible = append(eligible, p)
	}
	switch {
	case len(eligible) == 0:
		return Platform{}, ErrNoPlatforms
	case len(eligible) > 1 && c.opts.platform == "":
		return Platform{}, ErrPlatformAmbiguous
	}
	return eligible[0], nil
}

// await blocks while the Context is initialising and panics when it is not open.
func (c *Context) await() {
	for {
		if c.state.Load() == stateDoneInit {
			return
		}
		c.mu.Lock()
		s, ready := c.state.Load(), c.ready
		c.mu.Unlock()
		switch s {
		case stateDoneInit:
			return
		case stateUninit:
			panic("compute: context is not open")
		}
		<-ready
	}
}

// Platform returns the selected platform.
func (c *Context) Platform() Platform {
	c.await()
	return c.platform
}

// Devices returns the devices of the selected platform in driver order.
func (c *Context) Devices() []*Device {
	c.await()
	return append([]*Device(nil), c.devices...)
}

// Close releases the command queues, devices and driver context. Programs, kernels,
// tokens and allocations created from the Context must be released first. The
// Context may be opened again afterwards.
func (c *Context) Close() error {
	if !c.state.CompareAndSwap(stateDoneInit, stateInInit) {
		if c.state.Load() == stateUninit {
			return ErrClosed
		}
		panic("compute: Close during initialisation")
	}

	for _, d := range c.devices {
		if st := c.drv.ReleaseQueue(d.queue); st != driver.StatusSuccess {
			c.log.Warn("failed to release command queue", zap.Stringer("status", st))
		}
		if st := c.drv.ReleaseDevice(d.handle); st != driver.StatusSuccess {
			c.log.Warn("failed to release device", zap.Stringer("status", st))
		}
	}
	if st := c.drv.ReleaseContext(c.handle); st != driver.StatusSuccess {
		c.log.Warn("failed to release context", zap.Stringer("status", st))
	}
	c.devices, c.handle, c.platform = nil, 0, Platform{}

	c.mu.Lock()
	ready := c.ready
	c.ready = make(chan struct{})
	c.state.Store(stateUninit)
	c.mu.Unlock()
	close(ready)

	c.log.Info("compute context closed")
	return nil
}

type inventory struct {
	Driver   string         `json:"driver"`
	Platform Platform       `json:"platform"`
	Devices  []Capabilities `json:"devices"`
}

// Describe renders the platform and device capabilities as indented JSON.
func (c *Context) Describe() ([]byte, error) {
	c.await()
	inv := inventory{Driver: c.drv.Name(), Platform: c.platform}
	for _, d := range c.devices {
		inv.Devices = append(inv.Devices, d.caps)
	}
	out, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode device inventory: %w", err)
	}
	return out, nil
}

// EnumeratePlatforms lists the platforms drv exposes with their names and versions.
func EnumeratePlatforms(drv Driver) ([]Platform, error) {
	handles, st := drv.Platforms()
	switch {
	case st == driver.StatusSuccess:
	case st == driver.StatusPlatformNotFound:
		return nil, ErrNoPlatforms
	case isResourceStatus(st):
		return nil, ErrResourcesExhausted
	default:
		unexpected("clGetPlatformIDs", st)
	}
	if len(handles) == 0 {
		return nil, ErrNoPlatforms
	}

	platforms := make([]Platform, 0, len(handles))
	for _, h := range handles {
		p := Platform{handle: h}
		var version string
		fields := []struct {
			param driver.PlatformParam
			dst   *string
		}{
			{driver.PlatformName, &p.Name},
			{driver.PlatformVendor, &p.Vendor},
			{driver.PlatformVersion, &version},
		}
		for _, f := range fields {
			v, st := queryString("clGetPlatformInfo", func(buf []byte) (int, driver.Status) {
				return drv.PlatformInfo(h, f.param, buf)
			})
			switch {
			case st == driver.StatusSuccess:
			case isResourceStatus(st):
				return nil, ErrResourcesExhausted
			default:
				unexpected("clGetPlatformInfo", st)
			}
			*f.dst = v
		}
		p.Version = parseVersion(version)
		platforms = append(platforms, p)
	}
	return platforms, nil
}

// queryString runs a size-then-fill query into a scratch buffer that grows until the
// value fits, and returns the value without its NUL terminator.
func queryString(op string, query func(buf []byte) (int, driver.Status)) (string, driver.Status) {
	buf := make([]byte, 64)
	for {
		n, st := query(buf)
		switch st {
		case driver.StatusSuccess:
			return strings.TrimRight(string(buf[:n]), "\x00"), st
		case driver.StatusInvalidValue:
			if n <= len(buf) {
				unexpected(op, st)
			}
			buf = make([]byte, max(n, len(buf)+64))
		default:
			return "", st
		}
	}
}
