package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnlabs/clsafe/fixtures"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "host", config.Driver.Name)
		assert.Equal(t, "clsafe", config.Driver.Platform)
		assert.Equal(t, 2, config.Driver.MinVersion)
		assert.Equal(t, "-cl-kernel-arg-info -O1", config.Build.Options)
		assert.Equal(t, 4, config.Host.ComputeUnits)
		assert.Equal(t, uint64(1<<20), config.Host.MaxAllocSize)
		assert.Equal(t, uint32(128), config.Host.AtomicAlignment)
		assert.False(t, config.Host.OutOfOrderQueue)
		assert.False(t, config.Metrics.Enabled)
	})

	t.Run("missing keys keep defaults", func(t *testing.T) {
		config, err := LoadConfig(writeConfig(t, "logger:\n  verbosity: warn\n"))
		require.NoError(t, err)
		assert.Equal(t, "warn", config.Logger.Verbosity)
		assert.Equal(t, "auto", config.Driver.Name)
		assert.Equal(t, DefaultBuildOptions, config.Build.Options)
		assert.True(t, config.Host.OutOfOrderQueue)
	})

	t.Run("template parses", func(t *testing.T) {
		config, err := LoadConfig(writeConfig(t, string(fixtures.ConfigTemplate)))
		require.NoError(t, err)
		assert.Equal(t, Default(), config)
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir, err := os.Getwd()
		require.NoError(t, err)

		configPath := filepath.Join(dir, "..", "..", "fixtures", "tests", "invalid_config", "config.yaml")
		_, err = LoadConfig(configPath)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Driver.Name = "cuda" }, "unknown driver"},
		{"zero min version", func(c *Config) { c.Driver.MinVersion = 0 }, "minVersion"},
		{"negative compute units", func(c *Config) { c.Host.ComputeUnits = -1 }, "computeUnits"},
		{"odd alignment", func(c *Config) { c.Host.AtomicAlignment = 48 }, "power of two"},
		{"alloc above global", func(c *Config) { c.Host.MaxAllocSize = c.Host.GlobalMemSize + 1 }, "exceeds"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
