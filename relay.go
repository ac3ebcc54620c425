package csx

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/logging"
	"github.com/ehrlich-b/go-csx/internal/relay"
)

// Relay is a byte stream tunnel the device keeps to a remote endpoint.
// WriteFrame and ReadFrame may be called concurrently with each other.
type Relay struct {
	dev    *Device
	desc   int32
	closed atomic.Bool
	logger *logging.Logger
}

// ForwardStats reports what a Forward session moved
type ForwardStats = relay.Stats

// OpenRelay asks the device to connect to node:service. Names longer than
// 255 bytes are truncated.
func (d *Device) OpenRelay(ctx context.Context, node, service string) (*Relay, error) {
	desc, err := d.ctrl.OpenRelay(ctx, node, service)
	if err != nil {
		return nil, wrapError("OPEN_RELAY", StatusErrorInExecution, err).WithDevice(d.name)
	}
	if desc <= 0 {
		return nil, newErrorf("OPEN_RELAY", StatusErrorInExecution,
			"device returned descriptor %d for %s", desc, net.JoinHostPort(node, service)).WithDevice(d.name)
	}

	r := &Relay{dev: d, desc: desc, logger: d.logger.WithRelay(desc)}
	r.logger.Info("relay opened", "node", node, "service", service)
	return r, nil
}

// Descriptor returns the device's descriptor for the relay
func (r *Relay) Descriptor() int32 {
	return r.desc
}

// SetLogger replaces the relay's logger. It must not be called while the
// relay is forwarding.
func (r *Relay) SetLogger(l *logging.Logger) {
	r.logger = l.WithRelay(r.desc)
}

// Closed reports whether Close has been called
func (r *Relay) Closed() bool {
	return r.closed.Load()
}

// Close closes the relay on the device. A device failure is logged, not
// returned. Closing twice logs a warning.
func (r *Relay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		r.logger.Warn("relay already closed")
		return nil
	}
	if err := r.dev.ctrl.CloseRelay(context.Background(), r.desc); err != nil {
		r.logger.WithError(err).Warn("device failed to close relay")
		return nil
	}
	r.logger.Info("relay closed")
	return nil
}

// WriteFrame sends p as one outbound frame. p is truncated to one command
// payload; the bytes actually sent are returned.
func (r *Relay) WriteFrame(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, newError("COMM", StatusInvalidHandle, "relay is closed").WithDevice(r.dev.name)
	}
	n, err := r.dev.ctrl.RelayWrite(context.Background(), r.desc, p)
	if err != nil {
		return 0, wrapError("COMM", StatusErrorInExecution, err).WithDevice(r.dev.name)
	}
	return n, nil
}

// ReadFrame blocks for one inbound frame and copies it into buf, which must
// hold MaxFramePayload bytes. A return of 0 means the remote end finished.
func (r *Relay) ReadFrame(buf []byte) (int, error) {
	if r.closed.Load() {
		return 0, newError("COMM", StatusInvalidHandle, "relay is closed").WithDevice(r.dev.name)
	}
	if len(buf) < constants.MaxFramePayload {
		return 0, newErrorf("COMM", StatusInvalidLength,
			"buffer of %d bytes cannot hold a %d byte frame", len(buf), constants.MaxFramePayload).WithDevice(r.dev.name)
	}
	n, err := r.dev.ctrl.RelayRead(context.Background(), r.desc, buf)
	if err != nil {
		if IsStatus(err, StatusInvalidLength) {
			return 0, err
		}
		return 0, wrapError("COMM", StatusErrorInExecution, err).WithDevice(r.dev.name)
	}
	return n, nil
}

// Forward pumps conn through the relay in both directions until either end
// finishes. The relay is closed when conn ends; conn is shut down when the
// relay ends. conn must still be closed by the caller.
func (r *Relay) Forward(conn net.Conn) ForwardStats {
	return relay.Forward(conn, r, relay.Options{
		Logger:   r.logger,
		Observer: r.dev.observer,
	})
}
