package csx

import (
	"errors"
	"syscall"

	"github.com/ehrlich-b/go-csx/internal/status"
)

// Status is a computational storage status code
type Status = status.Status

// Error is a structured failure with the operation, device and status
type Error = status.Error

// Status codes
const (
	StatusSuccess                = status.Success
	StatusCouldNotMapMemory      = status.CouldNotMapMemory
	StatusDeviceError            = status.DeviceError
	StatusDeviceNotAvailable     = status.DeviceNotAvailable
	StatusDeviceNotReady         = status.DeviceNotReady
	StatusDeviceNotPresent       = status.DeviceNotPresent
	StatusENODEV                 = status.ENODEV
	StatusEntityNotOnDevice      = status.EntityNotOnDevice
	StatusENXIO                  = status.ENXIO
	StatusErrorInExecution       = status.ErrorInExecution
	StatusFatalError             = status.FatalError
	StatusHandleInUse            = status.HandleInUse
	StatusInvalidHandle          = status.InvalidHandle
	StatusInvalidArg             = status.InvalidArg
	StatusInvalidEvent           = status.InvalidEvent
	StatusInvalidID              = status.InvalidID
	StatusInvalidLength          = status.InvalidLength
	StatusInvalidOption          = status.InvalidOption
	StatusInvalidFunction        = status.InvalidFunction
	StatusInvalidFunctionName    = status.InvalidFunctionName
	StatusIOTimeout              = status.IOTimeout
	StatusLoadError              = status.LoadError
	StatusMemoryInUse            = status.MemoryInUse
	StatusNoPermissions          = status.NoPermissions
	StatusNotDone                = status.NotDone
	StatusNotEnoughMemory        = status.NotEnoughMemory
	StatusNoSuchEntityExists     = status.NoSuchEntityExists
	StatusOutOfResources         = status.OutOfResources
	StatusQueued                 = status.Queued
	StatusUnknownMemory          = status.UnknownMemory
	StatusUnknownComputeFunction = status.UnknownComputeFunction
	StatusUnsupported            = status.Unsupported
)

// StatusOf returns the status carried by err (StatusSuccess for nil)
func StatusOf(err error) Status {
	return status.Of(err)
}

// IsStatus checks if an error carries a specific status
func IsStatus(err error, s Status) bool {
	return errors.Is(err, s)
}

func newError(op string, s Status, msg string) *Error {
	return status.New(op, s, msg)
}

func newErrorf(op string, s Status, format string, args ...any) *Error {
	return status.Newf(op, s, format, args...)
}

func wrapError(op string, s Status, inner error) *Error {
	return status.Wrap(op, s, inner)
}

// openError reports a failed open of a device node. A kernel errno picks
// the status; anything else means the node does not exist.
func openError(op string, err error) *Error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return wrapError(op, StatusNoSuchEntityExists, err)
	}
	e := status.FromErrno(op, errno)
	e.Msg = err.Error()
	e.Inner = err
	return e
}
