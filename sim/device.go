// Package sim provides an in-memory computational storage device. It
// answers the vendor admin protocol the way device firmware does and backs
// tests and the --simulate mode of the csx tool.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/interfaces"
	"github.com/ehrlich-b/go-csx/internal/logging"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

// NVMe generic command status values the device completes with
const (
	StatusSuccess      uint32 = 0x0
	StatusInvalidOp    uint32 = 0x1
	StatusInvalidField uint32 = 0x2
	StatusInternal     uint32 = 0x6
)

// ChecksumFunctionID is the id the device assigns its checksum function
const ChecksumFunctionID = 1

// SleepFunctionID is the raw id of the sleep function
const SleepFunctionID = 100

// Engine describes one simulated compute engine
type Engine struct {
	Name                           string
	HwVersion                      uint16
	SwVersion                      uint16
	NumBuiltinFunctions            uint16
	MaxRequestsPerBatch            uint32
	MaxFunctionParametersAllowed   uint32
	MaxConcurrentFunctionInstances uint32
}

// Config describes what the device reports and how much memory it has
type Config struct {
	FriendlyName string
	HwVersion    uint16
	SwVersion    uint16
	VendorID     uint16
	DeviceID     uint16
	CFMinMB      uint32
	FDMinMB      uint32
	Flags        uint64
	Engines      []Engine

	// DeclaredEngines overrides the engine count in the property header
	// when non-zero.
	DeclaredEngines uint16

	Capabilities uint64

	// ArenaSize is the function data memory size in bytes
	ArenaSize int

	// NoCompute makes IDENTIFY report an ordinary controller
	NoCompute bool

	Logger *logging.Logger
}

// DefaultConfig returns a one-engine device with the checksum function
func DefaultConfig() Config {
	return Config{
		FriendlyName: "go-csx simulator",
		HwVersion:    1,
		SwVersion:    1,
		VendorID:     0x1b96,
		DeviceID:     0xc5c5,
		CFMinMB:      64,
		FDMinMB:      16,
		Flags:        uapi.PropFDMIsDeviceManaged | uapi.PropFDMIsHostVisible,
		Engines: []Engine{{
			Name:                           "sim-cse0",
			HwVersion:                      1,
			SwVersion:                      1,
			NumBuiltinFunctions:            2,
			MaxRequestsPerBatch:            1,
			MaxFunctionParametersAllowed:   3,
			MaxConcurrentFunctionInstances: 1,
		}},
		Capabilities: uapi.CapChecksum,
		ArenaSize:    16 * 1024 * 1024,
	}
}

// Device is a simulated controller. It is safe for concurrent use; a
// relay read blocks without holding the device lock.
type Device struct {
	cfg    Config
	logger *logging.Logger

	mu          sync.Mutex
	arena       []byte
	next        int
	mapped      int
	handles     map[int32]bool
	nextHandle  int32
	relays      map[int32]*endpoint
	nextRelay   int32
	relayCloses map[int32]int
	closed      bool

	commands atomic.Uint64
}

// New creates a simulated device
func New(cfg Config) *Device {
	if cfg.ArenaSize <= 0 {
		cfg.ArenaSize = DefaultConfig().ArenaSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Device{
		cfg:         cfg,
		logger:      cfg.Logger.WithDevice("sim"),
		arena:       make([]byte, cfg.ArenaSize),
		next:        constants.AllocAlignment, // location 0 means no memory
		handles:     make(map[int32]bool),
		nextHandle:  3,
		relays:      make(map[int32]*endpoint),
		nextRelay:   3,
		relayCloses: make(map[int32]int),
	}
}

// conn is one open of the device node
type conn struct {
	dev    *Device
	handle int32
	closed atomic.Bool
}

// Opener returns an Opener whose transports talk to this device. The
// path is ignored.
func (d *Device) Opener() interfaces.Opener {
	return func(path string) (interfaces.Transport, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return nil, fmt.Errorf("open %s: device removed", path)
		}
		h := d.nextHandle
		d.nextHandle++
		d.handles[h] = true
		d.logger.Debug("device node opened", "path", path, "handle", h)
		return &conn{dev: d, handle: h}, nil
	}
}

func (c *conn) Submit(cmd *uapi.PassthruCmd, data []byte) (uint32, error) {
	cmd.DataLen = uint32(len(data))
	if c.closed.Load() {
		return 0, fmt.Errorf("handle %d closed", c.handle)
	}
	if cmd.Opcode != constants.VendorAdminOpcode {
		return StatusInvalidOp, nil
	}
	return c.dev.execute(cmd, data), nil
}

func (c *conn) Handle() int32 {
	return c.handle
}

func (c *conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.dev.mu.Lock()
	delete(c.dev.handles, c.handle)
	c.dev.mu.Unlock()
	return nil
}

// execute runs one admin command and returns its completion status
func (d *Device) execute(cmd *uapi.PassthruCmd, data []byte) uint32 {
	d.commands.Add(1)
	family := uapi.Family(cmd.Cdw10)
	log := d.logger.WithCommand(family, cmd.Cdw11)

	var st uint32
	switch family.Base() {
	case uapi.FamilyIdentify:
		st = d.identify(data)
	case uapi.FamilyGet:
		st = d.get(cmd, data)
	case uapi.FamilyAllocate:
		st = d.allocate(cmd, data)
	case uapi.FamilyDeallocate:
		st = StatusSuccess
	case uapi.FamilyCompute:
		st = d.compute(cmd, data)
	case uapi.FamilyComm:
		if uapi.Selector(cmd.Cdw11) == uapi.CommWrite {
			st = d.relayWrite(cmd, data)
		} else {
			st = d.relayRead(cmd, data)
		}
	case uapi.FamilyOpenRelay:
		st = d.openRelay(data)
	case uapi.FamilyCloseRelay:
		st = d.closeRelay(int32(cmd.Cdw13))
	default:
		st = StatusInvalidField
	}

	if st != StatusSuccess {
		log.Debug("command failed", "status", st)
	}
	return st
}

func (d *Device) identify(data []byte) uint32 {
	if len(data) == 0 {
		return StatusInvalidField
	}
	marker := constants.IdentifyMarker
	if d.cfg.NoCompute {
		marker = "Generic NVMe controller"
	}
	uapi.PutCString(data, marker)
	return StatusSuccess
}

func (d *Device) get(cmd *uapi.PassthruCmd, data []byte) uint32 {
	switch uapi.Selector(cmd.Cdw11) {
	case uapi.SelectorProps:
		d.putProperties(data)
	case uapi.SelectorCaps:
		if len(data) < uapi.CapabilitiesSize {
			return StatusInvalidField
		}
		binary.LittleEndian.PutUint64(data, d.cfg.Capabilities)
	case uapi.SelectorFun:
		selector := uint64(cmd.Cdw12) | uint64(cmd.Cdw13)<<32
		if selector != uapi.CapChecksum || d.cfg.Capabilities&uapi.CapChecksum == 0 {
			return StatusInvalidField
		}
		binary.LittleEndian.PutUint32(data, ChecksumFunctionID)
	default:
		return StatusInvalidField
	}
	return StatusSuccess
}

func (d *Device) putProperties(data []byte) {
	declared := uint16(len(d.cfg.Engines))
	if d.cfg.DeclaredEngines != 0 {
		declared = d.cfg.DeclaredEngines
	}

	hdr := uapi.CSxPropertiesHdr{
		HwVersion: d.cfg.HwVersion,
		SwVersion: d.cfg.SwVersion,
		VendorID:  d.cfg.VendorID,
		DeviceID:  d.cfg.DeviceID,
		CFMinMB:   d.cfg.CFMinMB,
		FDMinMB:   d.cfg.FDMinMB,
		Flags:     d.cfg.Flags,
		NumCSEs:   declared,
	}
	uapi.PutCString(hdr.FriendlyName[:], d.cfg.FriendlyName)

	cses := make([]uapi.CSEProperties, len(d.cfg.Engines))
	for i, e := range d.cfg.Engines {
		cses[i] = uapi.CSEProperties{
			HwVersion:                      e.HwVersion,
			SwVersion:                      e.SwVersion,
			NumBuiltinFunctions:            e.NumBuiltinFunctions,
			MaxRequestsPerBatch:            e.MaxRequestsPerBatch,
			MaxFunctionParametersAllowed:   e.MaxFunctionParametersAllowed,
			MaxConcurrentFunctionInstances: e.MaxConcurrentFunctionInstances,
		}
		uapi.PutCString(cses[i].UniqueName[:], e.Name)
	}
	uapi.MarshalProperties(data, &hdr, cses)
}

// allocate bumps the arena pointer. Location 0 reports no memory.
func (d *Device) allocate(cmd *uapi.PassthruCmd, data []byte) uint32 {
	if uapi.Selector(cmd.Cdw11) != uapi.SelectorMem || len(data) < 8 {
		return StatusInvalidField
	}
	size := int(cmd.Cdw12)
	loc := uint64(0)

	d.mu.Lock()
	if size > 0 && size <= constants.MaxAllocSize {
		rounded := (size + constants.AllocAlignment - 1) &^ (constants.AllocAlignment - 1)
		if d.next+rounded <= len(d.arena) {
			loc = uint64(d.next)
			d.next += rounded
		}
	}
	d.mu.Unlock()

	binary.LittleEndian.PutUint64(data, loc)
	d.logger.Debug("allocated function data memory", "size", size, "location", loc)
	return StatusSuccess
}

// Map implements interfaces.Mapper over the arena. The view aliases
// device memory, so compute results show up in it directly.
func (d *Device) Map(offset int64, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset <= 0 || length <= 0 || offset+int64(length) > int64(len(d.arena)) {
		return nil, fmt.Errorf("map [%d, +%d) outside %d byte arena", offset, length, len(d.arena))
	}
	d.mapped++
	end := int(offset) + length
	return d.arena[offset:end:end], nil
}

// Unmap implements interfaces.Mapper
func (d *Device) Unmap(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mapped == 0 {
		return fmt.Errorf("unmap of %d bytes with no live mappings", len(b))
	}
	d.mapped--
	return nil
}

// Mapped returns the number of live host mappings
func (d *Device) Mapped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapped
}

// Allocated returns the arena bytes handed out so far
func (d *Device) Allocated() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next - constants.AllocAlignment
}

// ReadMemory copies device memory at location into p
func (d *Device) ReadMemory(location uint64, p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if location >= uint64(len(d.arena)) {
		return 0, fmt.Errorf("location 0x%x outside arena", location)
	}
	return copy(p, d.arena[location:]), nil
}

// Commands returns the number of admin commands executed
func (d *Device) Commands() uint64 {
	return d.commands.Load()
}

// Close tears down every relay and rejects further opens
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	relays := d.relays
	d.relays = make(map[int32]*endpoint)
	d.mu.Unlock()

	var err error
	for desc, ep := range relays {
		if cerr := ep.conn.Close(); cerr != nil && !isClosedErr(cerr) {
			err = multierr.Append(err, fmt.Errorf("relay %d: %w", desc, cerr))
		}
	}
	return err
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

var _ interfaces.Mapper = (*Device)(nil)
var _ interfaces.Transport = (*conn)(nil)
