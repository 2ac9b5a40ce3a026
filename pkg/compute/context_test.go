package compute

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxnlabs/clsafe/internal/driver"
)

// twoPlatforms exposes the host platform twice under different names.
type twoPlatforms struct {
	*driver.Host
}

func (d twoPlatforms) Platforms() ([]driver.Platform, driver.Status) {
	return []driver.Platform{1, 2}, driver.StatusSuccess
}

func (d twoPlatforms) PlatformInfo(p driver.Platform, param driver.PlatformParam, buf []byte) (int, driver.Status) {
	if p == 1 {
		return d.Host.PlatformInfo(p, param, buf)
	}
	value := map[driver.PlatformParam]string{
		driver.PlatformName:    "legacy accelerator",
		driver.PlatformVendor:  "acme",
		driver.PlatformVersion: "OpenCL 2.1 acme",
	}[param]
	need := len(value) + 1
	if buf == nil {
		return need, driver.StatusSuccess
	}
	if len(buf) < need {
		return need, driver.StatusInvalidValue
	}
	copy(buf, value+"\x00")
	return need, driver.StatusSuccess
}

func TestParseVersion(t *testing.T) {
	testCases := []struct {
		in   string
		want Version
	}{
		{"OpenCL 2.0 clsafe-host", Version{2, 0}},
		{"OpenCL 3.0 CUDA 12.2.148", Version{3, 0}},
		{"OpenCL 1.2", Version{1, 2}},
		{"garbage", Version{}},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, parseVersion(tc.in))
		})
	}
}

func TestEnumeratePlatforms(t *testing.T) {
	host := driver.NewHost(zap.NewNop(), driver.DefaultHostOptions())

	platforms, err := EnumeratePlatforms(twoPlatforms{host})
	require.NoError(t, err)
	require.Len(t, platforms, 2)
	assert.Equal(t, "clsafe host", platforms[0].Name)
	assert.Equal(t, "fxnlabs", platforms[0].Vendor)
	assert.Equal(t, Version{2, 0}, platforms[0].Version)
	assert.Equal(t, "legacy accelerator", platforms[1].Name)
	assert.Equal(t, Version{2, 1}, platforms[1].Version)

	host.InjectFault("Platforms", driver.StatusPlatformNotFound)
	_, err = EnumeratePlatforms(host)
	assert.ErrorIs(t, err, ErrNoPlatforms)

	host.InjectFault("Platforms", driver.StatusOutOfHostMemory)
	_, err = EnumeratePlatforms(host)
	assert.ErrorIs(t, err, ErrResourcesExhausted)

	host.InjectFault("Platforms", driver.StatusInvalidValue)
	assert.PanicsWithValue(t, "compute: clGetPlatformIDs: unexpected driver status CL_INVALID_VALUE (-30)", func() {
		_, _ = EnumeratePlatforms(host)
	})
}

func TestQueryString(t *testing.T) {
	value := make([]byte, 200)
	for i := range value {
		value[i] = 'x'
	}
	calls := 0
	got, st := queryString("clGetDeviceInfo", func(buf []byte) (int, driver.Status) {
		calls++
		if len(buf) < len(value)+1 {
			return len(value) + 1, driver.StatusInvalidValue
		}
		copy(buf, value)
		buf[len(value)] = 0
		return len(value) + 1, driver.StatusSuccess
	})
	require.Equal(t, driver.StatusSuccess, st)
	assert.Equal(t, string(value), got)
	assert.Equal(t, 2, calls)

	assert.Panics(t, func() {
		queryString("clGetDeviceInfo", func(buf []byte) (int, driver.Status) {
			return 1, driver.StatusInvalidValue
		})
	})
}

func TestContext_Lifecycle(t *testing.T) {
	host := driver.NewHost(zap.NewNop(), driver.DefaultHostOptions())
	c := NewContext(host, WithLogger(zap.NewNop()))

	assert.PanicsWithValue(t, "compute: context is not open", func() { c.Devices() })
	assert.ErrorIs(t, c.Close(), ErrClosed)

	require.NoError(t, c.Open())
	assert.PanicsWithValue(t, "compute: context already initialised", func() { _ = c.Open() })

	p := c.Platform()
	assert.Equal(t, "clsafe host", p.Name)
	assert.Equal(t, Version{2, 0}, p.Version)

	devices := c.Devices()
	require.Len(t, devices, 1)
	caps := devices[0].Capabilities()
	assert.Equal(t, devices[0].Name(), caps.Name)
	assert.Contains(t, caps.Name, "clsafe host CPU")
	assert.Positive(t, caps.ComputeUnits)
	assert.Equal(t, uint64(1024), caps.MaxWorkGroupSize)
	assert.Equal(t, uint64(1<<30), caps.MaxAllocSize)
	assert.Equal(t, uint64(4<<30), caps.GlobalMemSize)
	assert.True(t, caps.SharedMemory.FineGrainBuffer)
	assert.False(t, caps.SharedMemory.FineGrainSystem)
	assert.True(t, caps.SharedMemory.Atomics)
	assert.Equal(t, uint32(64), caps.SharedMemory.PlatformAtomicAlignment)
	assert.True(t, caps.MainQueueIsAsync)
	assert.Equal(t, Version{2, 0}, caps.Version)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ErrClosed)

	// A closed context may be opened again.
	require.NoError(t, c.Open())
	require.NoError(t, c.Close())
}

func TestContext_ReopenCycles(t *testing.T) {
	c := NewContext(driver.NewHost(zap.NewNop(), driver.DefaultHostOptions()))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Open())
		require.Len(t, c.Devices(), 1)
		assert.NotPanics(t, func() { require.NoError(t, c.Close()) })
		assert.PanicsWithValue(t, "compute: context is not open", func() { c.Platform() })
	}
}

func TestContext_InOrderQueue(t *testing.T) {
	opts := driver.DefaultHostOptions()
	opts.OutOfOrderQueue = false
	c := NewContext(driver.NewHost(zap.NewNop(), opts))
	require.NoError(t, c.Open())
	defer c.Close()

	assert.False(t, c.Devices()[0].Capabilities().MainQueueIsAsync)
}

func TestContext_PlatformSelection(t *testing.T) {
	host := driver.NewHost(zap.NewNop(), driver.DefaultHostOptions())

	t.Run("ambiguous", func(t *testing.T) {
		c := NewContext(twoPlatforms{host})
		assert.ErrorIs(t, c.Open(), ErrPlatformAmbiguous)
	})

	t.Run("explicit", func(t *testing.T) {
		c := NewContext(twoPlatforms{host}, WithPlatform("clsafe"))
		require.NoError(t, c.Open())
		defer c.Close()
		assert.Equal(t, "clsafe host", c.Platform().Name)
	})

	t.Run("minimum version", func(t *testing.T) {
		c := NewContext(twoPlatforms{host}, WithMinVersion(3))
		assert.ErrorIs(t, c.Open(), ErrNoPlatforms)
	})

	t.Run("no match", func(t *testing.T) {
		c := NewContext(host, WithPlatform("nvidia"))
		assert.ErrorIs(t, c.Open(), ErrNoPlatforms)
	})
}

func TestContext_OpenFailures(t *testing.T) {
	testCases := []struct {
		name string
		op   string
		st   driver.Status
		want error
	}{
		{"no devices", "Devices", driver.StatusDeviceNotFound, ErrNoDevices},
		{"device enumeration out of memory", "Devices", driver.StatusOutOfHostMemory, ErrResourcesExhausted},
		{"context creation out of resources", "CreateContext", driver.StatusOutOfResources, ErrResourcesExhausted},
		{"queue creation out of memory", "CreateQueue", driver.StatusOutOfHostMemory, ErrResourcesExhausted},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			host := driver.NewHost(zap.NewNop(), driver.DefaultHostOptions())
			c := NewContext(host)
			host.InjectFault(tc.op, tc.st)
			assert.ErrorIs(t, c.Open(), tc.want)

			// The fault is consumed and a failed open leaves the context reusable.
			require.NoError(t, c.Open())
			require.NoError(t, c.Close())
		})
	}

	t.Run("device unavailable", func(t *testing.T) {
		host := driver.NewHost(zap.NewNop(), driver.DefaultHostOptions())
		host.InjectFault("CreateContext", driver.StatusDeviceNotAvailable)
		assert.Panics(t, func() { _ = NewContext(host).Open() })
	})
}

func TestContext_Describe(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.ctx.Describe()
	require.NoError(t, err)

	var inv struct {
		Driver   string `json:"driver"`
		Platform struct {
			Name    string  `json:"name"`
			Version Version `json:"version"`
		} `json:"platform"`
		Devices []Capabilities `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(out, &inv))
	assert.Equal(t, "host", inv.Driver)
	assert.Equal(t, "clsafe host", inv.Platform.Name)
	assert.Equal(t, Version{2, 0}, inv.Platform.Version)
	require.Len(t, inv.Devices, 1)
	assert.Equal(t, f.dev.Capabilities(), inv.Devices[0])
}
