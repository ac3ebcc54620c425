package interfaces

import "github.com/ehrlich-b/go-csx/internal/uapi"

// Transport issues vendor admin commands to one storage controller.
// Implementations must be safe for concurrent use: the relay forwarder
// submits reads and writes from two goroutines on the same transport.
type Transport interface {
	// Submit sends cmd to the controller with data as its payload buffer.
	// The transport fills in cmd.Addr and cmd.DataLen from data; a nil
	// data sends no buffer. The response, if any, is written back into data.
	//
	// err reports a failure to reach the controller (bad handle, ioctl
	// failure). A non-zero status is the NVMe completion status of a
	// command the controller rejected.
	Submit(cmd *uapi.PassthruCmd, data []byte) (status uint32, err error)

	// Handle returns the integer handle of the underlying controller
	// connection, used as the engine handle in compute requests.
	Handle() int32

	// Close releases the controller connection.
	// After Close is called, no other methods should be called.
	Close() error
}

// Mapper maps device memory into the host address space.
type Mapper interface {
	// Map returns a read/write shared view of length bytes of device
	// memory starting at offset.
	Map(offset int64, length int) ([]byte, error)

	// Unmap releases a view returned by Map.
	Unmap(b []byte) error
}

// Opener opens a device node and returns a transport to it. It must fail
// with an error wrapping syscall.ENXIO when the node is neither a character
// nor a block device.
type Opener func(path string) (Transport, error)

// Observer receives command channel and relay statistics.
type Observer interface {
	// ObserveCommand is called once per admin command with the payload
	// size sent and the round trip latency.
	ObserveCommand(family uapi.Family, payloadBytes uint64, latencyNs uint64, success bool)

	// ObserveAllocation is called for each device memory allocation.
	ObserveAllocation(bytes uint64, success bool)

	// ObserveRelayFrame is called for each frame a forwarder moves.
	ObserveRelayFrame(inbound bool, bytes uint64)
}
