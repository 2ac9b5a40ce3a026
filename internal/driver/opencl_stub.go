//go:build !opencl
// +build !opencl

package driver

import (
	"errors"

	"go.uber.org/zap"
)

// ErrOpenCLNotBuilt is returned when the binary was built without the opencl tag.
var ErrOpenCLNotBuilt = errors.New("driver: OpenCL support requires building with '-tags opencl'")

// OpenCL is a placeholder when OpenCL support is not compiled in.
type OpenCL struct {
	Driver
}

// NewOpenCL always fails without the opencl build tag.
func NewOpenCL(log *zap.Logger) (*OpenCL, error) {
	return nil, ErrOpenCLNotBuilt
}
