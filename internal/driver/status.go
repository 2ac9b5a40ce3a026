package driver

import "fmt"

// Status is a raw driver status code. Values follow the OpenCL numbering so the
// OpenCL driver can pass codes through unchanged.
type Status int32

const (
	StatusSuccess                   Status = 0
	StatusDeviceNotFound            Status = -1
	StatusDeviceNotAvailable        Status = -2
	StatusCompilerNotAvailable      Status = -3
	StatusMemObjectAllocationFail   Status = -4
	StatusOutOfResources            Status = -5
	StatusOutOfHostMemory           Status = -6
	StatusBuildProgramFailure       Status = -11
	StatusMisalignedSubBufferOffset Status = -13
	StatusExecStatusErrorForEvents  Status = -14
	StatusKernelArgInfoNotAvailable Status = -19
	StatusInvalidValue              Status = -30
	StatusInvalidDeviceType         Status = -31
	StatusInvalidPlatform           Status = -32
	StatusInvalidDevice             Status = -33
	StatusInvalidContext            Status = -34
	StatusInvalidQueueProperties    Status = -35
	StatusInvalidCommandQueue       Status = -36
	StatusInvalidMemObject          Status = -38
	StatusImageFormatNotSupported   Status = -39
	StatusInvalidImageSize          Status = -40
	StatusInvalidSampler            Status = -41
	StatusInvalidBinary             Status = -42
	StatusInvalidBuildOptions       Status = -43
	StatusInvalidProgram            Status = -44
	StatusInvalidProgramExecutable  Status = -45
	StatusInvalidKernelName         Status = -46
	StatusInvalidKernelDefinition   Status = -47
	StatusInvalidKernel             Status = -48
	StatusInvalidArgIndex           Status = -49
	StatusInvalidArgValue           Status = -50
	StatusInvalidArgSize            Status = -51
	StatusInvalidKernelArgs         Status = -52
	StatusInvalidWorkDimension      Status = -53
	StatusInvalidWorkGroupSize      Status = -54
	StatusInvalidWorkItemSize       Status = -55
	StatusInvalidGlobalOffset       Status = -56
	StatusInvalidEventWaitList      Status = -57
	StatusInvalidEvent              Status = -58
	StatusInvalidOperation          Status = -59
	StatusInvalidGlobalWorkSize     Status = -63
	StatusInvalidDeviceQueue        Status = -70
	StatusPlatformNotFound          Status = -1001
)

var statusNames = map[Status]string{
	StatusSuccess:                   "CL_SUCCESS",
	StatusDeviceNotFound:            "CL_DEVICE_NOT_FOUND",
	StatusDeviceNotAvailable:        "CL_DEVICE_NOT_AVAILABLE",
	StatusCompilerNotAvailable:      "CL_COMPILER_NOT_AVAILABLE",
	StatusMemObjectAllocationFail:   "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	StatusOutOfResources:            "CL_OUT_OF_RESOURCES",
	StatusOutOfHostMemory:           "CL_OUT_OF_HOST_MEMORY",
	StatusBuildProgramFailure:       "CL_BUILD_PROGRAM_FAILURE",
	StatusMisalignedSubBufferOffset: "CL_MISALIGNED_SUB_BUFFER_OFFSET",
	StatusExecStatusErrorForEvents:  "CL_EXEC_STATUS_ERROR_FOR_EVENTS_IN_WAIT_LIST",
	StatusKernelArgInfoNotAvailable: "CL_KERNEL_ARG_INFO_NOT_AVAILABLE",
	StatusInvalidValue:              "CL_INVALID_VALUE",
	StatusInvalidDeviceType:         "CL_INVALID_DEVICE_TYPE",
	StatusInvalidPlatform:           "CL_INVALID_PLATFORM",
	StatusInvalidDevice:             "CL_INVALID_DEVICE",
	StatusInvalidContext:            "CL_INVALID_CONTEXT",
	StatusInvalidQueueProperties:    "CL_INVALID_QUEUE_PROPERTIES",
	StatusInvalidCommandQueue:       "CL_INVALID_COMMAND_QUEUE",
	StatusInvalidMemObject:          "CL_INVALID_MEM_OBJECT",
	StatusImageFormatNotSupported:   "CL_IMAGE_FORMAT_NOT_SUPPORTED",
	StatusInvalidImageSize:          "CL_INVALID_IMAGE_SIZE",
	StatusInvalidSampler:            "CL_INVALID_SAMPLER",
	StatusInvalidBinary:             "CL_INVALID_BINARY",
	StatusInvalidBuildOptions:       "CL_INVALID_BUILD_OPTIONS",
	StatusInvalidProgram:            "CL_INVALID_PROGRAM",
	StatusInvalidProgramExecutable:  "CL_INVALID_PROGRAM_EXECUTABLE",
	StatusInvalidKernelName:         "CL_INVALID_KERNEL_NAME",
	StatusInvalidKernelDefinition:   "CL_INVALID_KERNEL_DEFINITION",
	StatusInvalidKernel:             "CL_INVALID_KERNEL",
	StatusInvalidArgIndex:           "CL_INVALID_ARG_INDEX",
	StatusInvalidArgValue:           "CL_INVALID_ARG_VALUE",
	StatusInvalidArgSize:            "CL_INVALID_ARG_SIZE",
	StatusInvalidKernelArgs:         "CL_INVALID_KERNEL_ARGS",
	StatusInvalidWorkDimension:      "CL_INVALID_WORK_DIMENSION",
	StatusInvalidWorkGroupSize:      "CL_INVALID_WORK_GROUP_SIZE",
	StatusInvalidWorkItemSize:       "CL_INVALID_WORK_ITEM_SIZE",
	StatusInvalidGlobalOffset:       "CL_INVALID_GLOBAL_OFFSET",
	StatusInvalidEventWaitList:      "CL_INVALID_EVENT_WAIT_LIST",
	StatusInvalidEvent:              "CL_INVALID_EVENT",
	StatusInvalidOperation:          "CL_INVALID_OPERATION",
	StatusInvalidGlobalWorkSize:     "CL_INVALID_GLOBAL_WORK_SIZE",
	StatusInvalidDeviceQueue:        "CL_INVALID_DEVICE_QUEUE",
	StatusPlatformNotFound:          "CL_PLATFORM_NOT_FOUND_KHR",
}

// String returns the OpenCL name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CL_UNKNOWN_ERROR(%d)", int32(s))
}

// Execution states reported by EventStatus. Negative values are terminal error codes.
const (
	ExecComplete  int32 = 0
	ExecRunning   int32 = 1
	ExecSubmitted int32 = 2
	ExecQueued    int32 = 3
)

// StatusError reports a driver call that failed with Status.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}
