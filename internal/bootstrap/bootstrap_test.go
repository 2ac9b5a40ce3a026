package bootstrap

import (
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/fxnlabs/clsafe/fixtures"
	"github.com/fxnlabs/clsafe/internal/config"
	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/pkg/compute"
	"github.com/fxnlabs/clsafe/pkg/kernelargs"
)

func TestModule(t *testing.T) {
	var (
		ctx      *compute.Context
		drv      driver.Driver
		gatherer prometheus.Gatherer
	)
	app := fxtest.New(t,
		FromFile("../../fixtures/tests/config/valid_config.yaml"),
		Module,
		fx.Populate(&ctx, &drv, &gatherer),
	)
	app.RequireStart()

	assert.Equal(t, "host", drv.Name())
	assert.Equal(t, "clsafe host", ctx.Platform().Name)
	devices := ctx.Devices()
	require.Len(t, devices, 1)
	caps := devices[0].Capabilities()
	assert.Equal(t, uint32(4), caps.ComputeUnits)
	assert.Equal(t, uint64(1<<20), caps.MaxAllocSize)
	assert.Equal(t, uint32(128), caps.SharedMemory.PlatformAtomicAlignment)
	assert.False(t, caps.MainQueueIsAsync)

	// The configured options omit nothing the binder needs.
	prog, err := ctx.Compile([]byte(driver.BuiltinSource))
	require.NoError(t, err)
	mem, err := compute.Allocate[uint32](devices[0], 256)
	require.NoError(t, err)
	items := mem.Items()
	for i := range items {
		items[i] = uint32(i)
	}
	k, err := prog.BuildKernel("scale_u32", kernelargs.New(mem, kernelargs.Value[uint32](3)))
	require.NoError(t, err)
	tok, err := devices[0].Launch(k, mem.Len())
	require.NoError(t, err)
	require.NoError(t, tok.Wait())
	assert.Equal(t, uint32(255*3), items[255])

	require.NoError(t, tok.Close())
	require.NoError(t, k.Close())
	require.NoError(t, prog.Close())
	devices[0].Deallocate(mem)

	// Metrics are disabled in this configuration.
	families, err := gatherer.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)

	app.RequireStop()
	assert.Panics(t, func() { ctx.Devices() })
}

func TestModule_Metrics(t *testing.T) {
	cfg := config.Default()
	cfg.Driver.Name = driver.NameHost

	var (
		ctx      *compute.Context
		gatherer prometheus.Gatherer
	)
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&ctx, &gatherer),
	)
	app.RequireStart()
	defer app.RequireStop()

	prog, err := ctx.Compile(fixtures.DoubleKernels)
	require.NoError(t, err)
	defer prog.Close()

	families, err := gatherer.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "clsafe_") {
			names = append(names, mf.GetName())
		}
	}
	assert.True(t, slices.Contains(names, "clsafe_programs_compiled_total"), names)
}

func TestModule_InvalidConfig(t *testing.T) {
	app := fx.New(
		FromFile("../../fixtures/tests/invalid_config/config.yaml"),
		Module,
		fx.Invoke(func(*compute.Context) {}),
		fx.NopLogger,
	)
	assert.Error(t, app.Err())
}
