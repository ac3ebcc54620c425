package sim

import (
	"encoding/binary"
	"time"

	"github.com/ehrlich-b/go-csx/internal/uapi"
)

func (d *Device) compute(cmd *uapi.PassthruCmd, data []byte) uint32 {
	size := int(cmd.Cdw12)
	if size < uapi.ComputeRequestSize || size > len(data) {
		return StatusInvalidField
	}
	hdr, args, err := uapi.UnmarshalComputeRequest(data[:size])
	if err != nil {
		return StatusInvalidField
	}

	d.mu.Lock()
	known := d.handles[hdr.CSEHandle]
	d.mu.Unlock()
	if !known {
		d.logger.Warn("compute request for unknown engine handle", "handle", hdr.CSEHandle)
		return StatusInvalidField
	}

	switch hdr.FunctionID {
	case ChecksumFunctionID:
		return d.checksum(args)
	case SleepFunctionID:
		return d.sleep(args)
	}
	d.logger.Warn("compute request for unknown function", "function", hdr.FunctionID)
	return StatusInvalidField
}

// checksum sums the 32-bit little-endian words of args[0] (length args[1])
// into the first word of args[2], wrapping on overflow.
func (d *Device) checksum(args []uapi.ComputeArg) uint32 {
	if len(args) < 3 ||
		args[0].Type != uapi.ArgTypeAFDM ||
		args[1].Type != uapi.ArgType32Bit ||
		args[2].Type != uapi.ArgTypeAFDM {
		return StatusInvalidField
	}
	length := uint64(uint32(args[1].Value[0]))
	src := args[0].Value[0] + args[0].Value[1]
	dst := args[2].Value[0] + args[2].Value[1]

	d.mu.Lock()
	defer d.mu.Unlock()

	if src == 0 || dst == 0 || src+length > uint64(len(d.arena)) || dst+4 > uint64(len(d.arena)) {
		return StatusInternal
	}

	var sum uint32
	words := d.arena[src : src+length]
	for i := 0; i+4 <= len(words); i += 4 {
		sum += binary.LittleEndian.Uint32(words[i:])
	}
	binary.LittleEndian.PutUint32(d.arena[dst:], sum)

	d.logger.Debug("computed checksum", "length", length, "checksum", sum)
	return StatusSuccess
}

func (d *Device) sleep(args []uapi.ComputeArg) uint32 {
	if len(args) < 1 || args[0].Type != uapi.ArgType32Bit {
		return StatusInvalidField
	}
	ms := uint32(args[0].Value[0])
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return StatusSuccess
}
