package sim

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/interfaces"
	"github.com/ehrlich-b/go-csx/internal/logging"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

func newTestDevice(t *testing.T, cfg Config) (*Device, interfaces.Transport) {
	t.Helper()
	cfg.Logger = logging.Nop()
	d := New(cfg)
	tr, err := d.Opener()("/dev/nvme0")
	require.NoError(t, err)
	t.Cleanup(func() {
		tr.Close()
		d.Close()
	})
	return d, tr
}

func submit(t *testing.T, tr interfaces.Transport, family uapi.Family, sel uapi.Selector, cdw12, cdw13 uint32, data []byte) uint32 {
	t.Helper()
	cmd := &uapi.PassthruCmd{
		Opcode: constants.VendorAdminOpcode,
		Cdw10:  uint32(family),
		Cdw11:  uint32(sel),
		Cdw12:  cdw12,
		Cdw13:  cdw13,
	}
	st, err := tr.Submit(cmd, data)
	require.NoError(t, err)
	return st
}

func TestIdentify(t *testing.T) {
	_, tr := newTestDevice(t, DefaultConfig())
	data := make([]byte, constants.PayloadSize)
	assert.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyIdentify, uapi.SelectorCSx, 0, 0, data))
	assert.Equal(t, constants.IdentifyMarker, uapi.CString(data))

	cfg := DefaultConfig()
	cfg.NoCompute = true
	_, plain := newTestDevice(t, cfg)
	submit(t, plain, uapi.FamilyIdentify, uapi.SelectorCSx, 0, 0, data)
	assert.NotEqual(t, constants.IdentifyMarker, uapi.CString(data))
}

func TestWrongOpcode(t *testing.T) {
	_, tr := newTestDevice(t, DefaultConfig())
	st, err := tr.Submit(&uapi.PassthruCmd{Opcode: 0x06}, make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidOp, st)
}

func TestProperties(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engines = append(cfg.Engines, Engine{Name: "sim-cse1"})
	_, tr := newTestDevice(t, cfg)

	data := make([]byte, constants.PayloadSize)
	require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyGet, uapi.SelectorProps, 0, 0, data))

	hdr, cses, err := uapi.UnmarshalProperties(data[:uapi.PropertiesRequiredSize(2)])
	require.NoError(t, err)
	assert.Equal(t, uint16(2), hdr.NumCSEs)
	assert.Equal(t, "go-csx simulator", uapi.CString(hdr.FriendlyName[:]))
	require.Len(t, cses, 2)
	assert.Equal(t, "sim-cse0", uapi.CString(cses[0].UniqueName[:]))
	assert.Equal(t, "sim-cse1", uapi.CString(cses[1].UniqueName[:]))
}

func TestCapabilitiesAndFunctionLookup(t *testing.T) {
	_, tr := newTestDevice(t, DefaultConfig())
	data := make([]byte, constants.PayloadSize)

	require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyGet, uapi.SelectorCaps, 0, 0, data))
	assert.Equal(t, uint64(uapi.CapChecksum), binary.LittleEndian.Uint64(data))

	require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyGet, uapi.SelectorFun, uapi.CapChecksum, 0, data))
	assert.Equal(t, uint32(ChecksumFunctionID), binary.LittleEndian.Uint32(data))

	assert.Equal(t, StatusInvalidField, submit(t, tr, uapi.FamilyGet, uapi.SelectorFun, uapi.CapHash, 0, data))
	assert.Equal(t, StatusInvalidField, submit(t, tr, uapi.FamilyGet, uapi.SelectorFun, uapi.CapChecksum, 1, data))
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name    string
		size    uint32
		wantLoc bool
	}{
		{"one byte", 1, true},
		{"ceiling", constants.MaxAllocSize, true},
		{"over ceiling", constants.MaxAllocSize + 1, false},
		{"zero", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, tr := newTestDevice(t, DefaultConfig())
			data := make([]byte, constants.PayloadSize)
			require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyAllocate, uapi.SelectorMem, tt.size, 0, data))
			loc := binary.LittleEndian.Uint64(data)
			if tt.wantLoc {
				assert.NotZero(t, loc)
				assert.Zero(t, loc%constants.AllocAlignment)
			} else {
				assert.Zero(t, loc)
			}
		})
	}
}

func TestAllocateExhaustsArena(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArenaSize = 3 * constants.AllocAlignment
	d, tr := newTestDevice(t, cfg)
	data := make([]byte, constants.PayloadSize)

	submit(t, tr, uapi.FamilyAllocate, uapi.SelectorMem, constants.AllocAlignment, 0, data)
	assert.Equal(t, uint64(constants.AllocAlignment), binary.LittleEndian.Uint64(data))
	submit(t, tr, uapi.FamilyAllocate, uapi.SelectorMem, 10, 0, data)
	assert.Equal(t, uint64(2*constants.AllocAlignment), binary.LittleEndian.Uint64(data))
	submit(t, tr, uapi.FamilyAllocate, uapi.SelectorMem, 1, 0, data)
	assert.Zero(t, binary.LittleEndian.Uint64(data))
	assert.Equal(t, 2*constants.AllocAlignment, d.Allocated())
}

func TestMapAliasesArena(t *testing.T) {
	d, _ := newTestDevice(t, DefaultConfig())

	view, err := d.Map(constants.AllocAlignment, 16)
	require.NoError(t, err)
	copy(view, "shared")

	got := make([]byte, 6)
	_, err = d.ReadMemory(constants.AllocAlignment, got)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(got))
	assert.Equal(t, 1, d.Mapped())

	require.NoError(t, d.Unmap(view))
	assert.Equal(t, 0, d.Mapped())
	assert.Error(t, d.Unmap(view))

	_, err = d.Map(0, 16)
	assert.Error(t, err)
	_, err = d.Map(int64(d.cfg.ArenaSize), 1)
	assert.Error(t, err)
}

func computeRequest(handle int32, fid uint32, args ...uapi.ComputeArg) []byte {
	return uapi.MarshalComputeRequest(&uapi.ComputeRequestHdr{
		CSEHandle:  handle,
		FunctionID: fid,
		NumArgs:    int32(len(args)),
	}, args)
}

func TestChecksum(t *testing.T) {
	d, tr := newTestDevice(t, DefaultConfig())
	data := make([]byte, constants.PayloadSize)

	submit(t, tr, uapi.FamilyAllocate, uapi.SelectorMem, 4096, 0, data)
	src := binary.LittleEndian.Uint64(data)
	submit(t, tr, uapi.FamilyAllocate, uapi.SelectorMem, 4096, 0, data)
	dst := binary.LittleEndian.Uint64(data)

	view, err := d.Map(int64(src), 16)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(view[0:], 0xffffffff)
	binary.LittleEndian.PutUint32(view[4:], 2)
	binary.LittleEndian.PutUint32(view[8:], 40)
	view[12] = 0xAA // trailing partial word is ignored

	req := computeRequest(tr.Handle(), ChecksumFunctionID,
		uapi.ComputeArg{Type: uapi.ArgTypeAFDM, Value: [2]uint64{src, 0}},
		uapi.ComputeArg{Type: uapi.ArgType32Bit, Value: [2]uint64{13}},
		uapi.ComputeArg{Type: uapi.ArgTypeAFDM, Value: [2]uint64{dst, 0}},
	)
	copy(data, req)
	require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyCompute, 0, uint32(len(req)), 0, data))

	out := make([]byte, 4)
	_, err = d.ReadMemory(dst, out)
	require.NoError(t, err)
	assert.Equal(t, uint32(41), binary.LittleEndian.Uint32(out)) // 0xffffffff + 2 + 40 wraps
}

func TestComputeRejects(t *testing.T) {
	_, tr := newTestDevice(t, DefaultConfig())

	tests := []struct {
		name string
		req  []byte
	}{
		{"unknown handle", computeRequest(999, SleepFunctionID, uapi.ComputeArg{Type: uapi.ArgType32Bit})},
		{"unknown function", computeRequest(tr.Handle(), 42)},
		{"checksum missing args", computeRequest(tr.Handle(), ChecksumFunctionID)},
		{"sleep wrong arg type", computeRequest(tr.Handle(), SleepFunctionID, uapi.ComputeArg{Type: uapi.ArgType64Bit})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, constants.PayloadSize)
			copy(data, tt.req)
			assert.NotEqual(t, StatusSuccess, submit(t, tr, uapi.FamilyCompute, 0, uint32(len(tt.req)), 0, data))
		})
	}
}

func TestSleep(t *testing.T) {
	_, tr := newTestDevice(t, DefaultConfig())
	req := computeRequest(tr.Handle(), SleepFunctionID, uapi.ComputeArg{Type: uapi.ArgType32Bit, Value: [2]uint64{1}})
	data := make([]byte, constants.PayloadSize)
	copy(data, req)
	assert.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyCompute|uapi.ComputeThroughUserSpace, 0, uint32(len(req)), 0, data))
}

func echoServer(t *testing.T) (host, port string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()

	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port
}

func TestRelayRoundTrip(t *testing.T) {
	d, tr := newTestDevice(t, DefaultConfig())
	host, port := echoServer(t)

	data := make([]byte, constants.PayloadSize)
	ai, err := uapi.Marshal(uapi.NewAddrInfo(host, port))
	require.NoError(t, err)
	copy(data, ai)
	require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyOpenRelay, 0, 0, 0, data))
	desc := int32(binary.LittleEndian.Uint32(data))
	require.Greater(t, desc, int32(0))
	assert.Equal(t, 1, d.OpenRelays())

	msg := []byte("ping over admin commands")
	copy(data, msg)
	require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyComm, uapi.CommWrite, uint32(len(msg)), uint32(desc), data))

	var got []byte
	for len(got) < len(msg) {
		require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyComm, uapi.CommRead, 0, uint32(desc), data))
		frame, err := uapi.Frame(data)
		require.NoError(t, err)
		require.NotEmpty(t, frame)
		got = append(got, frame...)
	}
	assert.Equal(t, msg, got)

	require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyCloseRelay, 0, 0, uint32(desc), nil))
	assert.Equal(t, 1, d.RelayCloses(desc))
	assert.Equal(t, 0, d.OpenRelays())

	assert.Equal(t, StatusInvalidField, submit(t, tr, uapi.FamilyCloseRelay, 0, 0, uint32(desc), nil))
	assert.Equal(t, 2, d.RelayCloses(desc))
}

func TestRelayUnreachable(t *testing.T) {
	_, tr := newTestDevice(t, DefaultConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	data := make([]byte, constants.PayloadSize)
	ai, err := uapi.Marshal(uapi.NewAddrInfo("127.0.0.1", port))
	require.NoError(t, err)
	copy(data, ai)
	require.Equal(t, StatusSuccess, submit(t, tr, uapi.FamilyOpenRelay, 0, 0, 0, data))
	assert.Equal(t, int32(-1), int32(binary.LittleEndian.Uint32(data)))
}

func TestClosedHandle(t *testing.T) {
	_, tr := newTestDevice(t, DefaultConfig())
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Submit(&uapi.PassthruCmd{Opcode: constants.VendorAdminOpcode}, make([]byte, 8))
	assert.Error(t, err)
}

func TestCloseRejectsOpen(t *testing.T) {
	d := New(Config{Logger: logging.Nop()})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err := d.Opener()("/dev/nvme0")
	assert.Error(t, err)
}
