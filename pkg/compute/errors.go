package compute

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/pkg/kernelargs"
)

var (
	ErrResourcesExhausted      = errors.New("compute: host or device resources exhausted")
	ErrNoPlatforms             = errors.New("compute: no eligible platform")
	ErrPlatformAmbiguous       = errors.New("compute: several eligible platforms, select one with WithPlatform")
	ErrNoDevices               = errors.New("compute: platform has no devices")
	ErrInvalidProgram          = errors.New("compute: program failed to build")
	ErrInvalidKernelName       = errors.New("compute: no such kernel entry point")
	ErrArgNumMismatch          = errors.New("compute: argument count mismatch")
	ErrArgTypeMismatch         = errors.New("compute: argument type mismatch")
	ErrInvalidArgument         = errors.New("compute: invalid kernel argument")
	ErrNoMem                   = errors.New("compute: out of memory")
	ErrJobFinishedWithError    = errors.New("compute: job finished with error")
	ErrInvalidLaunch           = errors.New("compute: invalid launch")
	ErrSharedMemoryUnsupported = errors.New("compute: device lacks fine-grain shared buffers")
	ErrClosed                  = errors.New("compute: use of closed object")
)

// ArgNumMismatchError reports a kernel whose declared arity differs from the list.
type ArgNumMismatchError struct {
	Expected int
	Actual   int
}

func (e *ArgNumMismatchError) Error() string {
	return fmt.Sprintf("compute: kernel declares %d arguments, got %d", e.Expected, e.Actual)
}

func (e *ArgNumMismatchError) Is(target error) bool { return target == ErrArgNumMismatch }

// ArgTypeMismatchError reports the first argument whose tag does not fit the declared type.
type ArgTypeMismatchError struct {
	Index    int
	Declared string
	Tag      kernelargs.Tag
}

func (e *ArgTypeMismatchError) Error() string {
	return fmt.Sprintf("compute: argument %d is declared %q, got %s", e.Index, e.Declared, e.Tag)
}

func (e *ArgTypeMismatchError) Is(target error) bool { return target == ErrArgTypeMismatch }

// InvalidArgumentError reports an argument the driver refused to bind.
type InvalidArgumentError struct {
	Index  int
	Status driver.Status
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("compute: argument %d rejected: %s", e.Index, e.Status)
}

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// BuildError carries the compiler log of a failed build.
type BuildError struct {
	Log string
}

func (e *BuildError) Error() string {
	if e.Log == "" {
		return ErrInvalidProgram.Error()
	}
	return fmt.Sprintf("%s:\n%s", ErrInvalidProgram, e.Log)
}

func (e *BuildError) Is(target error) bool { return target == ErrInvalidProgram }

// JobError reports the terminal status of a job that did not complete successfully.
type JobError struct {
	Code int32
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", ErrJobFinishedWithError, driver.Status(e.Code))
}

func (e *JobError) Is(target error) bool { return target == ErrJobFinishedWithError }

// unexpected is raised for statuses outside the documented failure modes of op.
func unexpected(op string, st driver.Status) {
	panic(fmt.Sprintf("compute: %s: unexpected driver status %s (%d)", op, st, int32(st)))
}

func isResourceStatus(st driver.Status) bool {
	return st == driver.StatusOutOfResources || st == driver.StatusOutOfHostMemory
}
