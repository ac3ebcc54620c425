package csx

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/go-csx/internal/logging"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

// FunctionID identifies a compute function on a device
type FunctionID uint32

// SleepFunctionID is the raw id of the device's sleep function. It takes
// one 32-bit argument, the duration in milliseconds.
const SleepFunctionID FunctionID = 100

// functionCapabilities maps function names to their capability selector
var functionCapabilities = map[string]Capability{
	"Checksum": CapChecksum,
}

// FunctionID resolves a named function to the id the device assigned it.
// Unknown names fail with StatusInvalidOption.
func (d *Device) FunctionID(ctx context.Context, name string) (FunctionID, error) {
	cap, ok := functionCapabilities[name]
	if !ok {
		return 0, newErrorf("GET_FUN", StatusInvalidOption, "unknown function %q", name).WithDevice(d.name)
	}

	id, err := d.ctrl.FunctionID(ctx, uint64(cap))
	if err != nil {
		return 0, err
	}
	d.logger.Debug("resolved function", "function", name, "id", id)
	return FunctionID(id), nil
}

// ArgType is the discriminant of a compute argument
type ArgType uint32

const (
	ArgAFDM       ArgType = uapi.ArgTypeAFDM
	Arg32Bit      ArgType = uapi.ArgType32Bit
	Arg64Bit      ArgType = uapi.ArgType64Bit
	ArgStream     ArgType = uapi.ArgTypeStream
	ArgDescriptor ArgType = uapi.ArgTypeDescriptor
)

func (t ArgType) String() string {
	switch t {
	case ArgAFDM:
		return "AFDM"
	case Arg32Bit:
		return "32BIT"
	case Arg64Bit:
		return "64BIT"
	case ArgStream:
		return "STREAM"
	case ArgDescriptor:
		return "DESCRIPTOR"
	}
	return fmt.Sprintf("ARG(%d)", uint32(t))
}

// Arg is one compute argument. Build it with MemArg, Uint32Arg or
// Uint64Arg; the zero Arg is unset.
type Arg struct {
	typ    ArgType
	handle MemHandle
	offset uint64
	value  uint64
}

// MemArg references device memory at handle plus offset
func MemArg(handle MemHandle, offset uint64) Arg {
	return Arg{typ: ArgAFDM, handle: handle, offset: offset}
}

// Uint32Arg is a 32-bit value argument
func Uint32Arg(v uint32) Arg {
	return Arg{typ: Arg32Bit, value: uint64(v)}
}

// Uint64Arg is a 64-bit value argument
func Uint64Arg(v uint64) Arg {
	return Arg{typ: Arg64Bit, value: v}
}

func (a Arg) Type() ArgType {
	return a.typ
}

// SetArg tags arg with typ and stores values: a handle and offset for
// ArgAFDM, one value for Arg32Bit and Arg64Bit. Other types leave arg
// untouched and log a warning.
func SetArg(arg *Arg, typ ArgType, values ...uint64) bool {
	var next Arg
	switch {
	case typ == ArgAFDM && len(values) == 2:
		next = MemArg(MemHandle(values[0]), values[1])
	case typ == Arg32Bit && len(values) == 1:
		next = Uint32Arg(uint32(values[0]))
	case typ == Arg64Bit && len(values) == 1:
		next = Uint64Arg(values[0])
	default:
		logging.Warn("unsupported compute argument", "type", typ.String(), "values", len(values))
		return false
	}
	*arg = next
	return true
}

func (a Arg) wire() uapi.ComputeArg {
	ca := uapi.ComputeArg{Type: uint32(a.typ)}
	switch a.typ {
	case ArgAFDM:
		ca.Value = [2]uint64{uint64(a.handle), a.offset}
	case Arg32Bit:
		ca.Value[0] = a.value & 0xffffffff
	case Arg64Bit:
		ca.Value[0] = a.value
	}
	return ca
}

// ComputeRequest is a function invocation. The argument count is len(Args).
type ComputeRequest struct {
	CSEHandle  int32
	FunctionID FunctionID
	Args       []Arg
}

// NewComputeRequest returns a request for id on cse with n unset arguments
func NewComputeRequest(cse *CSE, id FunctionID, n int) *ComputeRequest {
	return &ComputeRequest{
		CSEHandle:  cse.Handle(),
		FunctionID: id,
		Args:       make([]Arg, n),
	}
}

// RequestSize returns the serialized size of a request with n arguments.
// The header holds one argument slot, so n of 0 and 1 both give 32.
func RequestSize(n int) int {
	return uapi.RequestSize(n)
}

// Size returns the serialized size of r
func (r *ComputeRequest) Size() int {
	return RequestSize(len(r.Args))
}

// Marshal serializes r in the device layout
func (r *ComputeRequest) Marshal() []byte {
	args := make([]uapi.ComputeArg, len(r.Args))
	for i, a := range r.Args {
		args[i] = a.wire()
	}
	return uapi.MarshalComputeRequest(&uapi.ComputeRequestHdr{
		CSEHandle:  r.CSEHandle,
		FunctionID: uint32(r.FunctionID),
		NumArgs:    int32(len(r.Args)),
	}, args)
}

// QueueCompute runs r on the device and waits for it to finish. Results
// written to device memory are read through the allocations' host views.
func (d *Device) QueueCompute(ctx context.Context, r *ComputeRequest) error {
	if r == nil {
		return newError("COMPUTE", StatusInvalidArg, "nil compute request").WithDevice(d.name)
	}
	if size := r.Size(); size > d.ctrl.Config().PayloadSize {
		return newErrorf("COMPUTE", StatusInvalidArg,
			"request of %d bytes exceeds the %d byte payload", size, d.ctrl.Config().PayloadSize).WithDevice(d.name)
	}
	for i, a := range r.Args {
		if a.typ == 0 {
			d.logger.Warn("compute argument left unset", "index", i, "function", uint32(r.FunctionID))
		}
	}

	if err := d.ctrl.Compute(ctx, r.Marshal()); err != nil {
		if IsStatus(err, StatusNotDone) || IsStatus(err, StatusIOTimeout) {
			return err
		}
		return wrapError("COMPUTE", StatusErrorInExecution, err).WithDevice(d.name)
	}
	d.logger.Debug("compute completed", "function", uint32(r.FunctionID), "args", len(r.Args))
	return nil
}
