package ctrl

import (
	"time"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

// Config holds the fixed protocol parameters of a command channel. It is
// copied into the Controller and never changes afterwards.
type Config struct {
	Opcode         uint8
	PayloadSize    int
	DefaultTimeout time.Duration
	ComputeTimeout time.Duration

	// UserSpaceCompute routes compute requests through the device's
	// userspace handler instead of the in-controller engine.
	UserSpaceCompute bool
}

// MinPayloadSize is the smallest data buffer a Controller uses. It holds
// the OPEN_RELAY address record and every fixed-offset response field.
const MinPayloadSize = uapi.AddrInfoSize

func DefaultConfig() Config {
	return Config{
		Opcode:         constants.VendorAdminOpcode,
		PayloadSize:    constants.PayloadSize,
		DefaultTimeout: constants.DefaultTimeout,
		ComputeTimeout: constants.ComputeTimeout,
	}
}

// Command is one request/response exchange.
type Command struct {
	Family   uapi.Family
	Selector uapi.Selector
	Params   [4]uint32 // cdw12..cdw15
	Payload  []byte    // copied into the PayloadSize data buffer
	NoData   bool      // send no data buffer at all
	Timeout  time.Duration
}
