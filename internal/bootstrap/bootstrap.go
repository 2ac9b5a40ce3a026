// Package bootstrap wires configuration, logging, the compute driver and the Context
// into an fx application.
package bootstrap

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fxnlabs/clsafe/internal/config"
	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/internal/logger"
	"github.com/fxnlabs/clsafe/pkg/compute"
)

// Module provides a *zap.Logger, a driver.Driver, an open *compute.Context and a
// prometheus.Gatherer. It needs a *config.Config, see FromFile.
var Module = fx.Module("clsafe",
	fx.Provide(
		NewLogger,
		NewDriver,
		NewContext,
		NewGatherer,
	),
)

// FromFile provides the configuration loaded from path.
func FromFile(path string) fx.Option {
	return fx.Provide(func() (*config.Config, error) {
		return config.LoadConfig(path)
	})
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Logger.Verbosity)
}

// HostOptions maps the host section of cfg onto driver options.
func HostOptions(cfg *config.Config) driver.HostOptions {
	return driver.HostOptions{
		ComputeUnits:     cfg.Host.ComputeUnits,
		MaxWorkGroupSize: cfg.Host.MaxWorkGroupSize,
		MaxAllocSize:     cfg.Host.MaxAllocSize,
		GlobalMemSize:    cfg.Host.GlobalMemSize,
		AtomicAlignment:  cfg.Host.AtomicAlignment,
		OutOfOrderQueue:  cfg.Host.OutOfOrderQueue,
	}
}

func NewDriver(cfg *config.Config, log *zap.Logger) (driver.Driver, error) {
	return driver.New(cfg.Driver.Name, HostOptions(cfg), log.Named("driver"))
}

// NewContext creates the Context and ties Open and Close to the application lifecycle.
func NewContext(lc fx.Lifecycle, cfg *config.Config, drv driver.Driver, log *zap.Logger) *compute.Context {
	c := compute.NewContext(drv,
		compute.WithPlatform(cfg.Driver.Platform),
		compute.WithMinVersion(cfg.Driver.MinVersion),
		compute.WithBuildOptions(cfg.Build.Options),
		compute.WithLogger(log),
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return c.Open() },
		OnStop:  func(context.Context) error { return c.Close() },
	})
	return c
}

// NewGatherer returns the registry holding the clsafe collectors, or an empty one when
// metrics are disabled.
func NewGatherer(cfg *config.Config) prometheus.Gatherer {
	if !cfg.Metrics.Enabled {
		return prometheus.NewRegistry()
	}
	return prometheus.DefaultGatherer
}
