// Package uapi provides the wire definitions for the computational storage
// protocol carried in NVMe vendor admin commands.
package uapi

import "fmt"

// NVMe admin passthrough ioctl (linux/nvme_ioctl.h)
const (
	NVME_IOCTL_ADMIN_CMD = 0xC0484E41 // _IOWR('N', 0x41, struct nvme_passthru_cmd)
	NVME_IOCTL_ID        = 0x00004E40 // _IO('N', 0x40)
)

// Family selects the operation group, carried in cdw10.
type Family uint32

const (
	FamilyIdentify   Family = 0
	FamilyGet        Family = 8
	FamilyAllocate   Family = 16
	FamilyDeallocate Family = 17
	FamilyCompute    Family = 32
	FamilyComm       Family = 64
	FamilyOpenRelay  Family = 128
	FamilyCloseRelay Family = 129
)

// ComputeThroughUserSpace is or'ed into the COMPUTE family to route the
// request through the device's userspace handler.
const ComputeThroughUserSpace = 1 << 0

// Base returns the family with the userspace routing bit cleared. Only the
// COMPUTE family carries that bit; DEALLOCATE and CLOSE_RELAY are odd values
// in their own right.
func (f Family) Base() Family {
	if f&^ComputeThroughUserSpace == FamilyCompute {
		return FamilyCompute
	}
	return f
}

func (f Family) String() string {
	switch f.Base() {
	case FamilyIdentify:
		return "IDENTIFY"
	case FamilyGet:
		return "GET"
	case FamilyAllocate:
		return "ALLOCATE"
	case FamilyDeallocate:
		return "DEALLOCATE"
	case FamilyCompute:
		return "COMPUTE"
	case FamilyComm:
		return "COMM"
	case FamilyOpenRelay:
		return "OPEN_RELAY"
	case FamilyCloseRelay:
		return "CLOSE_RELAY"
	}
	return fmt.Sprintf("FAMILY(%d)", uint32(f))
}

// Selector picks the object within a family, carried in cdw11.
type Selector uint32

const (
	SelectorCSx   Selector = 0
	SelectorProps Selector = 8
	SelectorCaps  Selector = 16
	SelectorFun   Selector = 32
	SelectorMem   Selector = 64
)

// COMM direction selectors
const (
	CommRead  Selector = 0
	CommWrite Selector = 1
)

// Compute argument type discriminants
const (
	ArgTypeAFDM       = 1
	ArgType32Bit      = 2
	ArgType64Bit      = 3
	ArgTypeStream     = 4
	ArgTypeDescriptor = 5
)

// Capability bits of the CsCapabilities record
const (
	CapCompression   = 1 << 0
	CapDecompression = 1 << 1
	CapEncryption    = 1 << 2
	CapDecryption    = 1 << 3
	CapRAID          = 1 << 4
	CapEC            = 1 << 5
	CapDedup         = 1 << 6
	CapHash          = 1 << 7
	CapChecksum      = 1 << 8
	CapRegEx         = 1 << 9
	CapDbFilter      = 1 << 10
	CapImageEncode   = 1 << 11
	CapVideoEncode   = 1 << 12

	CapCustomShift = 13
	CapCustomMask  = (1<<48 - 1) << CapCustomShift
)

// CSx property flag bits
const (
	PropFDMIsDeviceManaged     = 1 << 0
	PropFDMIsHostVisible       = 1 << 1
	PropBatchRequestsSupported = 1 << 2
	PropStreamsSupported       = 1 << 3
)

// Packed record sizes
const (
	CSEPropertiesSize     = 50
	CSxPropertiesHdrSize  = 58
	CSxPropertiesSize     = CSxPropertiesHdrSize + CSEPropertiesSize // header plus the one declared engine slot
	CapabilitiesSize      = 8
	ComputeArgSize        = 20
	ComputeRequestHdrSize = 12
	ComputeRequestSize    = ComputeRequestHdrSize + ComputeArgSize // header plus the one declared argument slot
	AddrInfoFieldSize     = 256
	AddrInfoSize          = 2 * AddrInfoFieldSize
	NameSize              = 32
)
