// Package csx drives computational storage functions embedded in an NVMe
// controller. Requests travel as vendor admin commands: discovery and
// property queries, device memory allocation, compute dispatch, and relays
// that carry a byte stream across the controller link.
//
// Example:
//
//	name, err := csx.Resolve(ctx, "/dev/nvme0", nil)
//	dev, err := csx.Open(ctx, name, nil)
//	defer dev.Close()
//	props, err := dev.QueryProperties(ctx)
package csx

import (
	"context"
	"path/filepath"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/ctrl"
	"github.com/ehrlich-b/go-csx/internal/interfaces"
	"github.com/ehrlich-b/go-csx/internal/logging"
	"github.com/ehrlich-b/go-csx/internal/nvme"
)

// Transport issues vendor admin commands to one controller
type Transport = interfaces.Transport

// Mapper maps device memory into the host address space
type Mapper = interfaces.Mapper

// Opener opens a device node
type Opener = interfaces.Opener

// ChannelConfig holds the fixed protocol parameters of a device's command channel
type ChannelConfig = ctrl.Config

// DefaultChannelConfig returns the standard protocol parameters
func DefaultChannelConfig() ChannelConfig {
	return ctrl.DefaultConfig()
}

// Options contains optional settings for Resolve and Open
type Options struct {
	// DevDir is the directory device names are looked up in (default: /dev)
	DevDir string

	// MaxNameLen bounds the name Resolve returns, terminator included.
	// Zero means no bound.
	MaxNameLen int

	// Open opens a device node (default: NVMe admin passthrough)
	Open Opener

	// Mapper maps allocations into host memory (default: /dev/mem)
	Mapper Mapper

	// Channel holds protocol parameters (default: DefaultChannelConfig())
	Channel ChannelConfig

	// Logger for debug/info messages (default: logging.Default())
	Logger *logging.Logger

	// Observer for metrics collection (if nil, uses no-op observer)
	Observer Observer
}

// DefaultOptions returns options that talk to real hardware
func DefaultOptions() *Options {
	return &Options{
		DevDir:  constants.DefaultDevDir,
		Open:    nvme.Open,
		Mapper:  nvme.DevMem{},
		Channel: ctrl.DefaultConfig(),
	}
}

func (o *Options) withDefaults() *Options {
	d := DefaultOptions()
	if o == nil {
		d.Logger = logging.Default()
		d.Observer = NoOpObserver{}
		return d
	}

	out := *o
	if out.DevDir == "" {
		out.DevDir = d.DevDir
	}
	if out.Open == nil {
		out.Open = d.Open
	}
	if out.Mapper == nil {
		out.Mapper = d.Mapper
	}
	if out.Channel.Opcode == 0 {
		out.Channel.Opcode = d.Channel.Opcode
	}
	if out.Channel.PayloadSize == 0 {
		out.Channel.PayloadSize = d.Channel.PayloadSize
	}
	if out.Channel.ComputeTimeout == 0 {
		out.Channel.ComputeTimeout = d.Channel.ComputeTimeout
	}
	if out.Logger == nil {
		out.Logger = logging.Default()
	}
	if out.Observer == nil {
		out.Observer = NoOpObserver{}
	}
	return &out
}

// Device is an open computational storage device
type Device struct {
	name     string
	ctrl     *ctrl.Controller
	mapper   Mapper
	logger   *logging.Logger
	observer Observer
}

func newController(name string, t Transport, o *Options) *ctrl.Controller {
	c := ctrl.NewController(name, t, o.Channel)
	c.SetLogger(o.Logger.WithDevice(name))
	c.SetObserver(o.Observer)
	return c
}

// Resolve checks that path names a computational storage device and
// returns its device name. The node is opened only for the check.
func Resolve(ctx context.Context, path string, opts *Options) (string, error) {
	o := opts.withDefaults()
	name := filepath.Base(path)

	t, err := o.Open(filepath.Join(o.DevDir, name))
	if err != nil {
		return "", openError("RESOLVE", err).WithDevice(name)
	}
	defer t.Close()

	c := newController(name, t, o)
	if !hasCompute(ctx, c) {
		return "", newError("IDENTIFY", StatusEntityNotOnDevice, "device does not expose compute functions").WithDevice(name)
	}

	if o.MaxNameLen > 0 && len(name)+1 > o.MaxNameLen {
		return "", newErrorf("RESOLVE", StatusInvalidLength,
			"device name needs %d bytes, buffer holds %d", len(name)+1, o.MaxNameLen).WithDevice(name)
	}

	o.Logger.Debug("resolved computational storage device", "path", path, "device", name)
	return name, nil
}

func hasCompute(ctx context.Context, c *ctrl.Controller) bool {
	marker, err := c.Identify(ctx)
	return err == nil && marker == constants.IdentifyMarker
}

// Open opens the named device. Only the base name of name is used.
func Open(ctx context.Context, name string, opts *Options) (*Device, error) {
	o := opts.withDefaults()
	name = filepath.Base(name)

	t, err := o.Open(filepath.Join(o.DevDir, name))
	if err != nil {
		return nil, openError("OPEN", err).WithDevice(name)
	}

	logger := o.Logger.WithDevice(name)
	logger.Debug("device opened", "handle", t.Handle())

	return &Device{
		name:     name,
		ctrl:     newController(name, t, o),
		mapper:   o.Mapper,
		logger:   logger,
		observer: o.Observer,
	}, nil
}

// Name returns the device name
func (d *Device) Name() string {
	return d.name
}

// Handle returns the integer handle of the open controller connection
func (d *Device) Handle() int32 {
	return d.ctrl.Handle()
}

// Close releases the controller connection. Allocations must be freed
// first; their host mappings are not tracked by the device.
func (d *Device) Close() error {
	if err := d.ctrl.Close(); err != nil {
		return wrapError("CLOSE", StatusDeviceError, err).WithDevice(d.name)
	}
	return nil
}
