// Package ctrl binds computational storage operations to NVMe vendor admin
// commands.
package ctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-csx/internal/interfaces"
	"github.com/ehrlich-b/go-csx/internal/logging"
	"github.com/ehrlich-b/go-csx/internal/status"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

type Controller struct {
	name      string
	transport interfaces.Transport
	config    Config
	logger    *logging.Logger
	observer  interfaces.Observer
}

// NewController wraps transport. name identifies the device in errors and
// logs. A PayloadSize of zero takes the default; other sizes are raised to
// MinPayloadSize.
func NewController(name string, transport interfaces.Transport, config Config) *Controller {
	switch {
	case config.PayloadSize == 0:
		config.PayloadSize = DefaultConfig().PayloadSize
	case config.PayloadSize < MinPayloadSize:
		config.PayloadSize = MinPayloadSize
	}
	return &Controller{
		name:      name,
		transport: transport,
		config:    config,
		logger:    logging.Default().WithDevice(name),
	}
}

func (c *Controller) SetLogger(logger *logging.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *Controller) SetObserver(observer interfaces.Observer) {
	c.observer = observer
}

func (c *Controller) Config() Config {
	return c.config
}

func (c *Controller) Name() string {
	return c.name
}

func (c *Controller) Handle() int32 {
	return c.transport.Handle()
}

func (c *Controller) Close() error {
	return c.transport.Close()
}

// Send performs exactly one transport call and returns the data buffer.
// Any transport failure or non-zero completion status is reported as
// DEVICE_NOT_AVAILABLE; the raw completion status is kept in the error.
func (c *Controller) Send(ctx context.Context, cmd Command) ([]byte, error) {
	op := cmd.Family.String()

	if err := ctx.Err(); err != nil {
		s := status.NotDone
		if errors.Is(err, context.DeadlineExceeded) {
			s = status.IOTimeout
		}
		return nil, status.Wrap(op, s, err).WithDevice(c.name)
	}

	var data []byte
	if !cmd.NoData {
		if len(cmd.Payload) > c.config.PayloadSize {
			return nil, status.Newf(op, status.InvalidLength,
				"payload of %d bytes exceeds %d", len(cmd.Payload), c.config.PayloadSize).WithDevice(c.name)
		}
		data = make([]byte, c.config.PayloadSize)
		copy(data, cmd.Payload)
	}

	family := cmd.Family
	if family == uapi.FamilyCompute && c.config.UserSpaceCompute {
		family |= uapi.ComputeThroughUserSpace
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}

	pc := &uapi.PassthruCmd{
		Opcode:    c.config.Opcode,
		Cdw10:     uint32(family),
		Cdw11:     uint32(cmd.Selector),
		Cdw12:     cmd.Params[0],
		Cdw13:     cmd.Params[1],
		Cdw14:     cmd.Params[2],
		Cdw15:     cmd.Params[3],
		TimeoutMS: uint32(timeout / time.Millisecond),
	}

	start := time.Now()
	result, err := c.transport.Submit(pc, data)
	latency := time.Since(start)

	if c.observer != nil {
		c.observer.ObserveCommand(cmd.Family, uint64(len(cmd.Payload)), uint64(latency), err == nil && result == 0)
	}

	log := c.logger.WithCommand(cmd.Family, uint32(cmd.Selector))
	if err != nil {
		log.Debug("admin command submit failed", "error", err)
		return nil, status.Wrap(op, status.DeviceNotAvailable, err).WithDevice(c.name)
	}
	if result != 0 {
		log.Debug("admin command rejected", "nvme_status", fmt.Sprintf("0x%x", result))
		return nil, &status.Error{
			Op:     op,
			Device: c.name,
			Status: status.DeviceNotAvailable,
			Result: result,
			Msg:    "controller rejected admin command",
		}
	}

	log.Debug("admin command completed", "latency_us", latency.Microseconds(), "cdw12", cmd.Params[0], "cdw13", cmd.Params[1])
	return data, nil
}

// Identify returns the marker string the controller reports.
func (c *Controller) Identify(ctx context.Context) (string, error) {
	data, err := c.Send(ctx, Command{Family: uapi.FamilyIdentify, Selector: uapi.SelectorCSx})
	if err != nil {
		return "", err
	}
	return uapi.CString(data), nil
}

// Properties returns the raw property block.
func (c *Controller) Properties(ctx context.Context) ([]byte, error) {
	return c.Send(ctx, Command{Family: uapi.FamilyGet, Selector: uapi.SelectorProps})
}

// Capabilities returns the capability bitmask.
func (c *Controller) Capabilities(ctx context.Context) (uint64, error) {
	data, err := c.Send(ctx, Command{Family: uapi.FamilyGet, Selector: uapi.SelectorCaps})
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data[:uapi.CapabilitiesSize]), nil
}

// FunctionID resolves a one-hot capability selector to a function id.
func (c *Controller) FunctionID(ctx context.Context, selector uint64) (uint32, error) {
	data, err := c.Send(ctx, Command{
		Family:   uapi.FamilyGet,
		Selector: uapi.SelectorFun,
		Params:   [4]uint32{uint32(selector), uint32(selector >> 32)},
	})
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data[0:4]), nil
}

// Allocate requests size bytes of device memory and returns its location.
func (c *Controller) Allocate(ctx context.Context, size uint32) (uint64, error) {
	data, err := c.Send(ctx, Command{
		Family:   uapi.FamilyAllocate,
		Selector: uapi.SelectorMem,
		Params:   [4]uint32{size},
	})
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data[0:8]), nil
}

// Compute dispatches a serialized compute request and waits for it.
func (c *Controller) Compute(ctx context.Context, req []byte) error {
	_, err := c.Send(ctx, Command{
		Family:  uapi.FamilyCompute,
		Params:  [4]uint32{uint32(len(req))},
		Payload: req,
		Timeout: c.config.ComputeTimeout,
	})
	return err
}

// OpenRelay asks the device to connect to node:service and returns the
// descriptor it reports.
func (c *Controller) OpenRelay(ctx context.Context, node, service string) (int32, error) {
	payload, err := uapi.Marshal(uapi.NewAddrInfo(node, service))
	if err != nil {
		return -1, err
	}
	data, err := c.Send(ctx, Command{
		Family:  uapi.FamilyOpenRelay,
		Payload: payload,
	})
	if err != nil {
		return -1, err
	}
	return int32(binary.LittleEndian.Uint32(data[0:4])), nil
}

func (c *Controller) CloseRelay(ctx context.Context, desc int32) error {
	_, err := c.Send(ctx, Command{
		Family: uapi.FamilyCloseRelay,
		Params: [4]uint32{0, uint32(desc)},
		NoData: true,
	})
	return err
}

// RelayWrite sends p to the relay, truncated to the payload size, and
// returns the number of bytes sent.
func (c *Controller) RelayWrite(ctx context.Context, desc int32, p []byte) (int, error) {
	if len(p) > c.config.PayloadSize {
		p = p[:c.config.PayloadSize]
	}
	_, err := c.Send(ctx, Command{
		Family:   uapi.FamilyComm,
		Selector: uapi.CommWrite,
		Params:   [4]uint32{uint32(len(p)), uint32(desc)},
		Payload:  p,
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// RelayRead fetches one inbound frame into buf and returns its length.
func (c *Controller) RelayRead(ctx context.Context, desc int32, buf []byte) (int, error) {
	data, err := c.Send(ctx, Command{
		Family:   uapi.FamilyComm,
		Selector: uapi.CommRead,
		Params:   [4]uint32{0, uint32(desc)},
	})
	if err != nil {
		return 0, err
	}

	frame, err := uapi.Frame(data)
	if err != nil {
		return 0, status.Wrap("COMM", status.InvalidLength, err).WithDevice(c.name)
	}
	return copy(buf, frame), nil
}
