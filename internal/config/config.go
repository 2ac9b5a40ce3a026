package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultBuildOptions are passed to the device compiler when none are configured.
const DefaultBuildOptions = "-cl-no-signed-zeros -cl-std=CL2.0 -cl-kernel-arg-info -O2"

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Driver struct {
		Name       string `yaml:"name"`
		Platform   string `yaml:"platform"`
		MinVersion int    `yaml:"minVersion"`
	} `yaml:"driver"`
	Build struct {
		Options string `yaml:"options"`
	} `yaml:"build"`
	Host struct {
		ComputeUnits     int    `yaml:"computeUnits"`
		MaxWorkGroupSize uint64 `yaml:"maxWorkGroupSize"`
		MaxAllocSize     uint64 `yaml:"maxAllocSize"`
		GlobalMemSize    uint64 `yaml:"globalMemSize"`
		AtomicAlignment  uint32 `yaml:"atomicAlignment"`
		OutOfOrderQueue  bool   `yaml:"outOfOrderQueue"`
	} `yaml:"host"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	var c Config
	c.Logger.Verbosity = "info"
	c.Driver.Name = "auto"
	c.Driver.MinVersion = 2
	c.Build.Options = DefaultBuildOptions
	c.Host.MaxWorkGroupSize = 1024
	c.Host.MaxAllocSize = 1 << 30
	c.Host.GlobalMemSize = 4 << 30
	c.Host.AtomicAlignment = 64
	c.Host.OutOfOrderQueue = true
	c.Metrics.Enabled = true
	return &c
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Validate rejects values no driver can honour.
func (c *Config) Validate() error {
	switch c.Driver.Name {
	case "auto", "host", "opencl":
	default:
		return fmt.Errorf("unknown driver %q", c.Driver.Name)
	}
	if c.Driver.MinVersion < 1 {
		return fmt.Errorf("driver.minVersion must be at least 1, got %d", c.Driver.MinVersion)
	}
	if c.Host.ComputeUnits < 0 {
		return fmt.Errorf("host.computeUnits must not be negative, got %d", c.Host.ComputeUnits)
	}
	if a := c.Host.AtomicAlignment; a == 0 || a&(a-1) != 0 {
		return fmt.Errorf("host.atomicAlignment must be a power of two, got %d", a)
	}
	if c.Host.MaxAllocSize > c.Host.GlobalMemSize {
		return fmt.Errorf("host.maxAllocSize %d exceeds host.globalMemSize %d", c.Host.MaxAllocSize, c.Host.GlobalMemSize)
	}
	return nil
}
