// Package status holds the computational storage status taxonomy and the
// structured error type every layer returns.
package status

import (
	"errors"
	"fmt"
	"syscall"
)

// Status is a computational storage status code. Values follow the order of
// the CS_STATUS enumeration so they can be reported to peers unchanged.
type Status int

const (
	Success Status = iota
	CouldNotMapMemory
	DeviceError
	DeviceNotAvailable
	DeviceNotReady
	DeviceNotPresent
	ENODEV
	EntityNotOnDevice
	ENXIO
	ErrorInExecution
	FatalError
	HandleInUse
	InvalidHandle
	InvalidArg
	InvalidEvent
	InvalidID
	InvalidLength
	InvalidOption
	InvalidFunction
	InvalidFunctionName
	IOTimeout
	LoadError
	MemoryInUse
	NoPermissions
	NotDone
	NotEnoughMemory
	NoSuchEntityExists
	OutOfResources
	Queued
	UnknownMemory
	UnknownComputeFunction
	Unsupported
)

var names = [...]string{
	Success:                "SUCCESS",
	CouldNotMapMemory:      "COULD_NOT_MAP_MEMORY",
	DeviceError:            "DEVICE_ERROR",
	DeviceNotAvailable:     "DEVICE_NOT_AVAILABLE",
	DeviceNotReady:         "DEVICE_NOT_READY",
	DeviceNotPresent:       "DEVICE_NOT_PRESENT",
	ENODEV:                 "ENODEV",
	EntityNotOnDevice:      "ENTITY_NOT_ON_DEVICE",
	ENXIO:                  "ENXIO",
	ErrorInExecution:       "ERROR_IN_EXECUTION",
	FatalError:             "FATAL_ERROR",
	HandleInUse:            "HANDLE_IN_USE",
	InvalidHandle:          "INVALID_HANDLE",
	InvalidArg:             "INVALID_ARG",
	InvalidEvent:           "INVALID_EVENT",
	InvalidID:              "INVALID_ID",
	InvalidLength:          "INVALID_LENGTH",
	InvalidOption:          "INVALID_OPTION",
	InvalidFunction:        "INVALID_FUNCTION",
	InvalidFunctionName:    "INVALID_FUNCTION_NAME",
	IOTimeout:              "IO_TIMEOUT",
	LoadError:              "LOAD_ERROR",
	MemoryInUse:            "MEMORY_IN_USE",
	NoPermissions:          "NO_PERMISSIONS",
	NotDone:                "NOT_DONE",
	NotEnoughMemory:        "NOT_ENOUGH_MEMORY",
	NoSuchEntityExists:     "NO_SUCH_ENTITY_EXISTS",
	OutOfResources:         "OUT_OF_RESOURCES",
	Queued:                 "QUEUED",
	UnknownMemory:          "UNKNOWN_MEMORY",
	UnknownComputeFunction: "UNKNOWN_COMPUTE_FUNCTION",
	Unsupported:            "UNSUPPORTED",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// Error lets a bare Status be returned and matched with errors.Is.
func (s Status) Error() string {
	return "csx: " + s.String()
}

// Error is a structured failure carrying the operation, the device it ran
// against and the raw controller result when there was one.
type Error struct {
	Op     string        // Operation that failed (e.g. "IDENTIFY", "OPEN_RELAY")
	Device string        // Device name or path ("" if not applicable)
	Status Status        // Status reported to the caller
	Result uint32        // NVMe completion status (0 if not applicable)
	Errno  syscall.Errno // Kernel errno (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Status.String()
	}

	var detail string
	switch {
	case e.Errno != 0:
		detail = fmt.Sprintf(" (op=%s, errno=%d)", e.Op, e.Errno)
	case e.Result != 0:
		detail = fmt.Sprintf(" (op=%s, nvme=0x%x)", e.Op, e.Result)
	case e.Op != "":
		detail = fmt.Sprintf(" (op=%s)", e.Op)
	}

	if e.Device != "" {
		return fmt.Sprintf("csx: %s: %s%s", e.Device, msg, detail)
	}
	return fmt.Sprintf("csx: %s%s", msg, detail)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches a bare Status or another *Error with the same status.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Status:
		return e.Status == t
	case *Error:
		return e.Status == t.Status
	}
	return false
}

// New creates a structured error.
func New(op string, s Status, msg string) *Error {
	return &Error{Op: op, Status: s, Msg: msg}
}

// Newf creates a structured error with a formatted message.
func Newf(op string, s Status, format string, args ...any) *Error {
	return &Error{Op: op, Status: s, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches op and status to inner. An inner *Error keeps its raw
// result and errno but takes the new status.
func Wrap(op string, s Status, inner error) *Error {
	if inner == nil {
		return nil
	}

	var se *Error
	if errors.As(inner, &se) {
		return &Error{
			Op:     op,
			Device: se.Device,
			Status: s,
			Result: se.Result,
			Errno:  se.Errno,
			Msg:    se.Msg,
			Inner:  inner,
		}
	}

	e := &Error{Op: op, Status: s, Msg: inner.Error(), Inner: inner}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		e.Errno = errno
	}
	return e
}

// FromErrno maps a kernel errno from an open or stat of a device node.
func FromErrno(op string, errno syscall.Errno) *Error {
	return &Error{
		Op:     op,
		Status: mapErrno(errno),
		Errno:  errno,
		Msg:    errno.Error(),
		Inner:  errno,
	}
}

func mapErrno(errno syscall.Errno) Status {
	switch errno {
	case syscall.ENOENT:
		return NoSuchEntityExists
	case syscall.ENXIO:
		return ENXIO
	case syscall.ENODEV:
		return ENODEV
	case syscall.EBUSY:
		return HandleInUse
	case syscall.EINVAL:
		return InvalidArg
	case syscall.EPERM, syscall.EACCES:
		return NoPermissions
	case syscall.ENOMEM:
		return NotEnoughMemory
	case syscall.ETIMEDOUT:
		return IOTimeout
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return Unsupported
	default:
		return DeviceError
	}
}

// Of returns the status carried by err. nil is Success and an error that
// carries no status is DeviceError.
func Of(err error) Status {
	if err == nil {
		return Success
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Status
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return DeviceError
}

// WithDevice returns a copy of e tagged with a device name.
func (e *Error) WithDevice(device string) *Error {
	c := *e
	c.Device = device
	return &c
}
