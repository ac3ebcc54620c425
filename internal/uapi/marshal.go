package uapi

import "encoding/binary"

// Marshal converts a wire struct to its packed little-endian form
func Marshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case *CSxPropertiesHdr:
		buf := make([]byte, CSxPropertiesHdrSize)
		putCSxPropertiesHdr(buf, val)
		return buf, nil
	case *CSEProperties:
		buf := make([]byte, CSEPropertiesSize)
		putCSEProperties(buf, val)
		return buf, nil
	case *ComputeRequestHdr:
		buf := make([]byte, ComputeRequestHdrSize)
		putComputeRequestHdr(buf, val)
		return buf, nil
	case *ComputeArg:
		buf := make([]byte, ComputeArgSize)
		putComputeArg(buf, val)
		return buf, nil
	case *AddrInfo:
		buf := make([]byte, AddrInfoSize)
		copy(buf[:AddrInfoFieldSize], val.Node[:])
		copy(buf[AddrInfoFieldSize:], val.Service[:])
		return buf, nil
	default:
		return nil, ErrInvalidType
	}
}

// Unmarshal converts packed bytes back to a wire struct
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *CSxPropertiesHdr:
		if len(data) < CSxPropertiesHdrSize {
			return ErrInsufficientData
		}
		getCSxPropertiesHdr(data, val)
	case *CSEProperties:
		if len(data) < CSEPropertiesSize {
			return ErrInsufficientData
		}
		getCSEProperties(data, val)
	case *ComputeRequestHdr:
		if len(data) < ComputeRequestHdrSize {
			return ErrInsufficientData
		}
		val.CSEHandle = int32(binary.LittleEndian.Uint32(data[0:4]))
		val.FunctionID = binary.LittleEndian.Uint32(data[4:8])
		val.NumArgs = int32(binary.LittleEndian.Uint32(data[8:12]))
	case *ComputeArg:
		if len(data) < ComputeArgSize {
			return ErrInsufficientData
		}
		val.Type = binary.LittleEndian.Uint32(data[0:4])
		val.Value[0] = binary.LittleEndian.Uint64(data[4:12])
		val.Value[1] = binary.LittleEndian.Uint64(data[12:20])
	case *AddrInfo:
		if len(data) < AddrInfoSize {
			return ErrInsufficientData
		}
		copy(val.Node[:], data[:AddrInfoFieldSize])
		copy(val.Service[:], data[AddrInfoFieldSize:AddrInfoSize])
	default:
		return ErrInvalidType
	}
	return nil
}

func putCSxPropertiesHdr(buf []byte, p *CSxPropertiesHdr) {
	binary.LittleEndian.PutUint16(buf[0:2], p.HwVersion)
	binary.LittleEndian.PutUint16(buf[2:4], p.SwVersion)
	binary.LittleEndian.PutUint16(buf[4:6], p.VendorID)
	binary.LittleEndian.PutUint16(buf[6:8], p.DeviceID)
	copy(buf[8:40], p.FriendlyName[:])
	binary.LittleEndian.PutUint32(buf[40:44], p.CFMinMB)
	binary.LittleEndian.PutUint32(buf[44:48], p.FDMinMB)
	binary.LittleEndian.PutUint64(buf[48:56], p.Flags)
	binary.LittleEndian.PutUint16(buf[56:58], p.NumCSEs)
}

func getCSxPropertiesHdr(data []byte, p *CSxPropertiesHdr) {
	p.HwVersion = binary.LittleEndian.Uint16(data[0:2])
	p.SwVersion = binary.LittleEndian.Uint16(data[2:4])
	p.VendorID = binary.LittleEndian.Uint16(data[4:6])
	p.DeviceID = binary.LittleEndian.Uint16(data[6:8])
	copy(p.FriendlyName[:], data[8:40])
	p.CFMinMB = binary.LittleEndian.Uint32(data[40:44])
	p.FDMinMB = binary.LittleEndian.Uint32(data[44:48])
	p.Flags = binary.LittleEndian.Uint64(data[48:56])
	p.NumCSEs = binary.LittleEndian.Uint16(data[56:58])
}

func putCSEProperties(buf []byte, p *CSEProperties) {
	binary.LittleEndian.PutUint16(buf[0:2], p.HwVersion)
	binary.LittleEndian.PutUint16(buf[2:4], p.SwVersion)
	copy(buf[4:36], p.UniqueName[:])
	binary.LittleEndian.PutUint16(buf[36:38], p.NumBuiltinFunctions)
	binary.LittleEndian.PutUint32(buf[38:42], p.MaxRequestsPerBatch)
	binary.LittleEndian.PutUint32(buf[42:46], p.MaxFunctionParametersAllowed)
	binary.LittleEndian.PutUint32(buf[46:50], p.MaxConcurrentFunctionInstances)
}

func getCSEProperties(data []byte, p *CSEProperties) {
	p.HwVersion = binary.LittleEndian.Uint16(data[0:2])
	p.SwVersion = binary.LittleEndian.Uint16(data[2:4])
	copy(p.UniqueName[:], data[4:36])
	p.NumBuiltinFunctions = binary.LittleEndian.Uint16(data[36:38])
	p.MaxRequestsPerBatch = binary.LittleEndian.Uint32(data[38:42])
	p.MaxFunctionParametersAllowed = binary.LittleEndian.Uint32(data[42:46])
	p.MaxConcurrentFunctionInstances = binary.LittleEndian.Uint32(data[46:50])
}

func putComputeRequestHdr(buf []byte, h *ComputeRequestHdr) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.CSEHandle))
	binary.LittleEndian.PutUint32(buf[4:8], h.FunctionID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.NumArgs))
}

func putComputeArg(buf []byte, a *ComputeArg) {
	binary.LittleEndian.PutUint32(buf[0:4], a.Type)
	binary.LittleEndian.PutUint64(buf[4:12], a.Value[0])
	binary.LittleEndian.PutUint64(buf[12:20], a.Value[1])
}

// PropertiesRequiredSize is the number of bytes a property block with
// numCSEs engines occupies. The fixed record already holds one engine.
func PropertiesRequiredSize(numCSEs uint16) int {
	if numCSEs > 1 {
		return CSxPropertiesSize + int(numCSEs-1)*CSEPropertiesSize
	}
	return CSxPropertiesSize
}

// MarshalProperties packs a header and its engine records into buf and
// returns the number of bytes the block requires. Records that do not fit
// in buf are dropped.
func MarshalProperties(buf []byte, hdr *CSxPropertiesHdr, cses []CSEProperties) int {
	if len(buf) >= CSxPropertiesHdrSize {
		putCSxPropertiesHdr(buf, hdr)
	}
	for i := range cses {
		off := CSxPropertiesHdrSize + i*CSEPropertiesSize
		if off+CSEPropertiesSize > len(buf) {
			break
		}
		putCSEProperties(buf[off:], &cses[i])
	}
	return PropertiesRequiredSize(hdr.NumCSEs)
}

// UnmarshalProperties decodes a property block. It returns every complete
// engine record present in data, which may be fewer than NumCSEs.
func UnmarshalProperties(data []byte) (CSxPropertiesHdr, []CSEProperties, error) {
	var hdr CSxPropertiesHdr
	if err := Unmarshal(data, &hdr); err != nil {
		return hdr, nil, err
	}

	present := (len(data) - CSxPropertiesHdrSize) / CSEPropertiesSize
	n := int(hdr.NumCSEs)
	if present < n {
		n = present
	}

	cses := make([]CSEProperties, n)
	for i := range cses {
		getCSEProperties(data[CSxPropertiesHdrSize+i*CSEPropertiesSize:], &cses[i])
	}
	return hdr, cses, nil
}

// RequestSize is the serialized size of a compute request with numArgs
// arguments. The header reserves one argument slot, so zero and one
// argument both occupy ComputeRequestSize bytes.
func RequestSize(numArgs int) int {
	if numArgs > 0 {
		return ComputeRequestSize + (numArgs-1)*ComputeArgSize
	}
	return ComputeRequestSize
}

// MarshalComputeRequest serializes a request header and its arguments.
func MarshalComputeRequest(hdr *ComputeRequestHdr, args []ComputeArg) []byte {
	buf := make([]byte, RequestSize(int(hdr.NumArgs)))
	putComputeRequestHdr(buf, hdr)
	for i := range args {
		off := ComputeRequestHdrSize + i*ComputeArgSize
		if off+ComputeArgSize > len(buf) {
			break
		}
		putComputeArg(buf[off:], &args[i])
	}
	return buf
}

// UnmarshalComputeRequest decodes a serialized compute request.
func UnmarshalComputeRequest(data []byte) (ComputeRequestHdr, []ComputeArg, error) {
	var hdr ComputeRequestHdr
	if err := Unmarshal(data, &hdr); err != nil {
		return hdr, nil, err
	}
	if hdr.NumArgs < 0 || len(data) < RequestSize(int(hdr.NumArgs)) {
		return hdr, nil, ErrInsufficientData
	}

	args := make([]ComputeArg, hdr.NumArgs)
	for i := range args {
		_ = Unmarshal(data[ComputeRequestHdrSize+i*ComputeArgSize:], &args[i])
	}
	return hdr, args, nil
}

// NewAddrInfo builds the OPEN_RELAY payload. Names longer than the field
// are truncated.
func NewAddrInfo(node, service string) *AddrInfo {
	ai := &AddrInfo{}
	PutCString(ai.Node[:], node)
	PutCString(ai.Service[:], service)
	return ai
}

// PutFrame writes an inbound relay frame (length prefix and payload) into
// buf and returns the payload bytes written.
func PutFrame(buf []byte, payload []byte) int {
	limit := len(buf) - FrameHeaderSize
	if limit > MaxFramePayload {
		limit = MaxFramePayload
	}
	if len(payload) > limit {
		payload = payload[:limit]
	}
	binary.LittleEndian.PutUint32(buf[0:FrameHeaderSize], uint32(len(payload)))
	return copy(buf[FrameHeaderSize:], payload)
}

// Frame returns the payload of an inbound relay frame.
func Frame(buf []byte) ([]byte, error) {
	if len(buf) < FrameHeaderSize {
		return nil, ErrInsufficientData
	}
	n := binary.LittleEndian.Uint32(buf[0:FrameHeaderSize])
	if n > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}
	if int(n) > len(buf)-FrameHeaderSize {
		return nil, ErrInsufficientData
	}
	return buf[FrameHeaderSize : FrameHeaderSize+int(n)], nil
}

// Relay frame limits
const (
	FrameHeaderSize = 4
	MaxFramePayload = 4096 - FrameHeaderSize
)

// Error definitions
type MarshalError string

func (e MarshalError) Error() string {
	return string(e)
}

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrInvalidType      MarshalError = "invalid type for marshaling"
	ErrFrameTooLarge    MarshalError = "relay frame exceeds payload capacity"
)
