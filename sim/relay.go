package sim

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

// DialTimeout bounds how long OPEN_RELAY waits for the endpoint
var DialTimeout = 5 * time.Second

// endpoint is the device side of a relay
type endpoint struct {
	desc int32
	conn net.Conn
}

// openRelay dials the endpoint named in the address payload and reports
// the new descriptor, or -1 when the endpoint cannot be reached.
func (d *Device) openRelay(data []byte) uint32 {
	var ai uapi.AddrInfo
	if err := uapi.Unmarshal(data, &ai); err != nil {
		return StatusInvalidField
	}
	node, service := uapi.CString(ai.Node[:]), uapi.CString(ai.Service[:])

	c, err := net.DialTimeout("tcp", net.JoinHostPort(node, service), DialTimeout)
	if err != nil {
		d.logger.Warn("relay endpoint unreachable", "node", node, "service", service, "error", err)
		binary.LittleEndian.PutUint32(data, uint32(0xffffffff))
		return StatusSuccess
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		c.Close()
		return StatusInternal
	}
	desc := d.nextRelay
	d.nextRelay++
	d.relays[desc] = &endpoint{desc: desc, conn: c}
	d.mu.Unlock()

	binary.LittleEndian.PutUint32(data, uint32(desc))
	d.logger.Debug("relay connected", "relay", desc, "node", node, "service", service)
	return StatusSuccess
}

func (d *Device) lookupRelay(desc int32) *endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.relays[desc]
}

func (d *Device) relayWrite(cmd *uapi.PassthruCmd, data []byte) uint32 {
	ep := d.lookupRelay(int32(cmd.Cdw13))
	n := int(cmd.Cdw12)
	if ep == nil || n > len(data) {
		return StatusInvalidField
	}
	if _, err := ep.conn.Write(data[:n]); err != nil {
		d.logger.Warn("relay endpoint write failed", "relay", ep.desc, "error", err)
		return StatusInternal
	}
	return StatusSuccess
}

// relayRead blocks until the endpoint sends data or goes away. A finished
// or closed endpoint yields an empty frame.
func (d *Device) relayRead(cmd *uapi.PassthruCmd, data []byte) uint32 {
	ep := d.lookupRelay(int32(cmd.Cdw13))
	if ep == nil || len(data) < constants.FrameHeaderSize {
		return StatusInvalidField
	}

	payload := data[constants.FrameHeaderSize:]
	if len(payload) > constants.MaxFramePayload {
		payload = payload[:constants.MaxFramePayload]
	}
	n, err := ep.conn.Read(payload)
	if n == 0 && err != nil {
		d.logger.Debug("relay endpoint finished", "relay", ep.desc, "error", err)
	}
	binary.LittleEndian.PutUint32(data, uint32(n))
	return StatusSuccess
}

func (d *Device) closeRelay(desc int32) uint32 {
	d.mu.Lock()
	d.relayCloses[desc]++
	ep := d.relays[desc]
	delete(d.relays, desc)
	d.mu.Unlock()

	if ep == nil {
		return StatusInvalidField
	}
	if err := ep.conn.Close(); err != nil {
		d.logger.Warn("relay endpoint close failed", "relay", desc, "error", err)
	}
	d.logger.Debug("relay closed", "relay", desc)
	return StatusSuccess
}

// RelayCloses returns how many CLOSE_RELAY commands named desc
func (d *Device) RelayCloses(desc int32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.relayCloses[desc]
}

// OpenRelays returns the number of connected relays
func (d *Device) OpenRelays() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.relays)
}
