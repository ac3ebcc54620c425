package constants

import "time"

// Command channel constants
const (
	// VendorAdminOpcode is the NVMe vendor-specific admin opcode carrying the protocol
	VendorAdminOpcode = 0xC0

	// PayloadSize is the size of the data buffer exchanged with every command
	PayloadSize = 4096

	// DefaultTimeout leaves the completion deadline to the driver
	DefaultTimeout time.Duration = 0

	// ComputeTimeout bounds a synchronous compute dispatch
	ComputeTimeout = time.Hour
)

// Relay framing constants
const (
	// FrameHeaderSize is the little-endian length prefix of an inbound frame
	FrameHeaderSize = 4

	// MaxFramePayload is the largest payload an inbound frame can carry
	MaxFramePayload = PayloadSize - FrameHeaderSize

	// DefaultRelayNode is the endpoint host the device dials by default
	DefaultRelayNode = "127.0.0.1"

	// DefaultRelayService is the endpoint port the device dials by default
	DefaultRelayService = "22333"

	// DefaultListenPort is the local port the relay command accepts on
	DefaultListenPort = 44422
)

// Memory constants
const (
	// MaxAllocSize is the largest device memory allocation (4MB)
	MaxAllocSize = 4096 * 1024

	// AllocAlignment is the granularity demos round buffers up to
	AllocAlignment = 4096

	// DevMemPath exposes device memory to the host
	DevMemPath = "/dev/mem"
)

// Discovery constants
const (
	// IdentifyMarker is reported by devices that expose compute functions
	IdentifyMarker = "This device has compute"

	// DefaultDevDir is where device names are looked up
	DefaultDevDir = "/dev"

	// SimulatedCSEName names an engine when the device reports none
	SimulatedCSEName = "Simulated_CSE"
)
