package uapi

import "unsafe"

// PassthruCmd must match the kernel struct exactly (72 bytes):
//
//	struct nvme_passthru_cmd {
//	  __u8  opcode;
//	  __u8  flags;
//	  __u16 rsvd1;
//	  __u32 nsid;
//	  __u32 cdw2;
//	  __u32 cdw3;
//	  __u64 metadata;
//	  __u64 addr;
//	  __u32 metadata_len;
//	  __u32 data_len;
//	  __u32 cdw10 ... cdw15;
//	  __u32 timeout_ms;
//	  __u32 result;
//	};
type PassthruCmd struct {
	Opcode      uint8
	Flags       uint8
	Rsvd1       uint16
	NSID        uint32
	Cdw2        uint32
	Cdw3        uint32
	Metadata    uint64
	Addr        uint64 // userspace data buffer, filled in by the transport
	MetadataLen uint32
	DataLen     uint32
	Cdw10       uint32 // operation family
	Cdw11       uint32 // selector
	Cdw12       uint32
	Cdw13       uint32
	Cdw14       uint32
	Cdw15       uint32
	TimeoutMS   uint32
	Result      uint32 // completion dword 0, set by the kernel
}

// Compile-time size check - ioctl number encodes 72 bytes
var _ [72]byte = [unsafe.Sizeof(PassthruCmd{})]byte{}

// CSEProperties describes one compute engine (packed, 50 bytes).
type CSEProperties struct {
	HwVersion                      uint16
	SwVersion                      uint16
	UniqueName                     [NameSize]byte
	NumBuiltinFunctions            uint16
	MaxRequestsPerBatch            uint32
	MaxFunctionParametersAllowed   uint32
	MaxConcurrentFunctionInstances uint32
}

// CSxPropertiesHdr is the fixed part of the device property block (packed,
// 58 bytes). On the wire it is followed by NumCSEs engine records, the first
// of which is always reserved in the fixed record.
type CSxPropertiesHdr struct {
	HwVersion    uint16
	SwVersion    uint16
	VendorID     uint16
	DeviceID     uint16
	FriendlyName [NameSize]byte
	CFMinMB      uint32
	FDMinMB      uint32
	Flags        uint64
	NumCSEs      uint16
}

// ComputeArg is one compute request argument (packed, 20 bytes). Value
// holds the 16-byte union: a device memory descriptor (handle, offset), a
// 64-bit value in the low word, or a 32-bit value in the low bytes.
type ComputeArg struct {
	Type  uint32
	Value [2]uint64
}

// ComputeRequestHdr precedes the argument array (packed, 12 bytes).
type ComputeRequestHdr struct {
	CSEHandle  int32
	FunctionID uint32
	NumArgs    int32
}

// AddrInfo names the endpoint a relay connects to (512 bytes).
type AddrInfo struct {
	Node    [AddrInfoFieldSize]byte
	Service [AddrInfoFieldSize]byte
}

// Compile-time size check
var _ [AddrInfoSize]byte = [unsafe.Sizeof(AddrInfo{})]byte{}

// CString returns the bytes of b up to the first NUL.
func CString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// PutCString copies s into b, truncating to len(b). Like strncpy the result
// is not NUL terminated when s fills b.
func PutCString(b []byte, s string) {
	n := copy(b, s)
	for i := n; i < len(b); i++ {
		b[i] = 0
	}
}
