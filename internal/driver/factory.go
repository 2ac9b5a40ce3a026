package driver

import (
	"fmt"

	"go.uber.org/zap"
)

// Driver names accepted by New.
const (
	NameAuto   = "auto"
	NameHost   = "host"
	NameOpenCL = "opencl"
)

// New creates the driver selected by name. "auto" tries OpenCL first and falls back to
// the Host driver when it is not built in or no platform is installed.
func New(name string, opts HostOptions, log *zap.Logger) (Driver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch name {
	case NameHost:
		return NewHost(log, opts), nil
	case NameOpenCL:
		d, err := NewOpenCL(log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenCL driver: %w", err)
		}
		return d, nil
	case NameAuto, "":
		d, err := NewOpenCL(log)
		if err == nil {
			log.Info("Using OpenCL driver")
			return d, nil
		}
		log.Info("Using host driver (OpenCL unavailable)", zap.Error(err))
		return NewHost(log, opts), nil
	}
	return nil, fmt.Errorf("unknown driver %q", name)
}
