package csx

import (
	"errors"
	"sync"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

// PassthruCmd is the admin passthrough command a Transport receives
type PassthruCmd = uapi.PassthruCmd

// MockHandler answers one command. data is the payload buffer (nil for
// commands without data) and is returned to the caller as the response.
type MockHandler func(cmd *PassthruCmd, data []byte) (uint32, error)

// MockCall is one recorded Submit
type MockCall struct {
	Cmd  PassthruCmd
	Data []byte // copy of the payload as submitted
}

// MockTransport provides a scripted Transport for testing.
// It answers IDENTIFY with the compute marker unless told otherwise and
// tracks every call for verification.
type MockTransport struct {
	mu       sync.Mutex
	handlers map[Family]MockHandler
	calls    []MockCall
	handle   int32
	closes   int
}

// NewMockTransport creates a mock whose Handle reports handle
func NewMockTransport(handle int32) *MockTransport {
	m := &MockTransport{
		handlers: make(map[Family]MockHandler),
		handle:   handle,
	}
	m.On(FamilyIdentify, func(_ *PassthruCmd, data []byte) (uint32, error) {
		copy(data, constants.IdentifyMarker)
		return 0, nil
	})
	return m
}

// On installs the handler for a command family, replacing any previous one.
// Families without a handler complete successfully with an untouched buffer.
func (m *MockTransport) On(family Family, h MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[family] = h
}

// Submit implements the Transport interface
func (m *MockTransport) Submit(cmd *PassthruCmd, data []byte) (uint32, error) {
	cmd.DataLen = uint32(len(data))

	m.mu.Lock()
	if m.closes > 0 {
		m.mu.Unlock()
		return 0, errors.New("mock transport closed")
	}
	call := MockCall{Cmd: *cmd}
	if data != nil {
		call.Data = append([]byte(nil), data...)
	}
	m.calls = append(m.calls, call)
	h := m.handlers[Family(cmd.Cdw10).Base()]
	m.mu.Unlock()

	if h == nil {
		return 0, nil
	}
	return h(cmd, data)
}

// Handle implements the Transport interface
func (m *MockTransport) Handle() int32 {
	return m.handle
}

// Close implements the Transport interface
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Opener returns an Opener that hands out this transport for any path
func (m *MockTransport) Opener() Opener {
	return func(string) (Transport, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closes = 0
		return m, nil
	}
}

// Calls returns a copy of every recorded call
func (m *MockTransport) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns how many commands of family were submitted
func (m *MockTransport) CallCount(family Family) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if Family(c.Cmd.Cdw10).Base() == family {
			n++
		}
	}
	return n
}

// LastCall returns the most recent call of family
func (m *MockTransport) LastCall(family Family) (MockCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if Family(m.calls[i].Cmd.Cdw10).Base() == family {
			return m.calls[i], true
		}
	}
	return MockCall{}, false
}

// CloseCount returns how many times Close was called since the last open
func (m *MockTransport) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Reset forgets recorded calls
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MockMapper provides a heap-backed Mapper for testing
type MockMapper struct {
	mu      sync.Mutex
	MapErr  error
	maps    int
	unmaps  int
	offsets []int64
}

// Map implements the Mapper interface
func (m *MockMapper) Map(offset int64, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MapErr != nil {
		return nil, m.MapErr
	}
	m.maps++
	m.offsets = append(m.offsets, offset)
	return make([]byte, length), nil
}

// Unmap implements the Mapper interface
func (m *MockMapper) Unmap([]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmaps++
	return nil
}

// Counts returns the number of Map and Unmap calls
func (m *MockMapper) Counts() (maps, unmaps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maps, m.unmaps
}

// Offsets returns the device offsets passed to Map
func (m *MockMapper) Offsets() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.offsets...)
}

// Compile-time interface checks
var _ Transport = (*MockTransport)(nil)
var _ Mapper = (*MockMapper)(nil)
