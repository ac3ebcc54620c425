// Package relay pumps a byte stream through a relay tunnel in both
// directions at once.
package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/interfaces"
	"github.com/ehrlich-b/go-csx/internal/logging"
)

// Tunnel is an open relay. WriteFrame and ReadFrame are called from
// different goroutines.
type Tunnel interface {
	// WriteFrame sends p as one outbound frame and returns the bytes sent.
	WriteFrame(p []byte) (int, error)

	// ReadFrame blocks for one inbound frame. 0 means the far end finished.
	ReadFrame(buf []byte) (int, error)

	// Close closes the relay on the device.
	Close() error
}

// Options configures a forwarding session
type Options struct {
	// Logger for session events (default: logging.Default())
	Logger *logging.Logger

	// Observer is told about every frame moved (optional)
	Observer interfaces.Observer
}

// Stats reports what one session moved
type Stats struct {
	OutboundBytes  uint64
	InboundBytes   uint64
	OutboundFrames uint64
	InboundFrames  uint64
}

type session struct {
	conn   net.Conn
	tun    Tunnel
	logger *logging.Logger
	obs    interfaces.Observer

	outBytes, inBytes   atomic.Uint64
	outFrames, inFrames atomic.Uint64
}

// Forward copies conn to tun and tun to conn until either side ends, then
// returns. The outbound pump closes the relay when conn ends or a write
// fails; the inbound pump shuts conn down when the relay ends. Errors are
// logged, not returned. The caller still owns conn and must close it.
func Forward(conn net.Conn, tun Tunnel, opts Options) Stats {
	s := &session{
		conn:   conn,
		tun:    tun,
		logger: opts.Logger,
		obs:    opts.Observer,
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.outbound()
	}()
	go func() {
		defer wg.Done()
		s.inbound()
	}()
	wg.Wait()

	st := Stats{
		OutboundBytes:  s.outBytes.Load(),
		InboundBytes:   s.inBytes.Load(),
		OutboundFrames: s.outFrames.Load(),
		InboundFrames:  s.inFrames.Load(),
	}
	s.logger.Info("relay session finished",
		"outbound_bytes", st.OutboundBytes, "inbound_bytes", st.InboundBytes,
		"outbound_frames", st.OutboundFrames, "inbound_frames", st.InboundFrames)
	return st
}

// outbound moves conn -> relay, one write command per read. Bytes that
// arrive together with a read error are sent before the error is handled.
func (s *session) outbound() {
	buf := GetBuffer(constants.PayloadSize)
	defer PutBuffer(buf)

	for {
		n, rerr := s.conn.Read(buf)
		if n > 0 {
			sent, err := s.tun.WriteFrame(buf[:n])
			if err != nil {
				s.logger.Error("relay write failed", "error", err, "bytes", n)
				s.closeTunnel()
				return
			}
			s.outBytes.Add(uint64(sent))
			s.outFrames.Add(1)
			if s.obs != nil {
				s.obs.ObserveRelayFrame(false, uint64(sent))
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, net.ErrClosed) {
				s.logger.Debug("local peer finished")
			} else {
				s.logger.Warn("local read failed", "error", rerr)
			}
			s.closeTunnel()
			return
		}
	}
}

// inbound moves relay -> conn, one read command per frame
func (s *session) inbound() {
	buf := GetBuffer(constants.MaxFramePayload)
	defer PutBuffer(buf)
	defer s.shutdownConn()

	for {
		n, err := s.tun.ReadFrame(buf)
		if err != nil {
			s.logger.Warn("relay read failed", "error", err)
			return
		}
		if n == 0 {
			s.logger.Debug("relay endpoint finished")
			return
		}

		if _, err := s.conn.Write(buf[:n]); err != nil {
			s.logger.Warn("local write failed", "error", err, "bytes", n)
			return
		}
		s.inBytes.Add(uint64(n))
		s.inFrames.Add(1)
		if s.obs != nil {
			s.obs.ObserveRelayFrame(true, uint64(n))
		}
	}
}

func (s *session) closeTunnel() {
	if err := s.tun.Close(); err != nil {
		s.logger.Warn("relay close failed", "error", err)
	}
}

// shutdownConn stops both directions of conn so a blocked local read
// returns.
func (s *session) shutdownConn() {
	type halfCloser interface {
		CloseRead() error
		CloseWrite() error
	}

	if hc, ok := s.conn.(halfCloser); ok {
		rerr := hc.CloseRead()
		werr := hc.CloseWrite()
		if rerr == nil && werr == nil {
			return
		}
		s.logger.Debug("half close failed, closing connection", "read_error", rerr, "write_error", werr)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("local close failed", "error", err)
	}
}
