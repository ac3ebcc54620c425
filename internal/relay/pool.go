package relay

import (
	"sync"

	"github.com/ehrlich-b/go-csx/internal/constants"
)

// Frame buffers are pooled so the pumps do not allocate per chunk.
// Two buckets: a full command payload for the outbound pump and the
// inbound frame payload for the inbound pump.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

// Buffer size buckets
const (
	sizeFrame   = constants.MaxFramePayload
	sizePayload = constants.PayloadSize
)

var framePool = struct {
	frame   sync.Pool
	payload sync.Pool
}{
	frame:   sync.Pool{New: func() any { b := make([]byte, sizeFrame); return &b }},
	payload: sync.Pool{New: func() any { b := make([]byte, sizePayload); return &b }},
}

// GetBuffer returns a pooled buffer of the requested size, which must not
// exceed one command payload. Caller must call PutBuffer when done.
func GetBuffer(size int) []byte {
	if size <= sizeFrame {
		return (*framePool.frame.Get().(*[]byte))[:size]
	}
	if size > sizePayload {
		size = sizePayload
	}
	return (*framePool.payload.Get().(*[]byte))[:size]
}

// PutBuffer returns a buffer to the pool it came from.
func PutBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case sizeFrame:
		framePool.frame.Put(&buf)
	case sizePayload:
		framePool.payload.Put(&buf)
		// Buffers with non-standard capacity are not returned to pool
	}
}
