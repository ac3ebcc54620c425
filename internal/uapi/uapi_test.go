package uapi

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test structure sizes match kernel expectations
func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"PassthruCmd", unsafe.Sizeof(PassthruCmd{}), 72},
		{"AddrInfo", unsafe.Sizeof(AddrInfo{}), 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, int(tt.size))
		})
	}
}

func TestPassthruCmdOffsets(t *testing.T) {
	var cmd PassthruCmd
	assert.Equal(t, uintptr(24), unsafe.Offsetof(cmd.Addr))
	assert.Equal(t, uintptr(36), unsafe.Offsetof(cmd.DataLen))
	assert.Equal(t, uintptr(40), unsafe.Offsetof(cmd.Cdw10))
	assert.Equal(t, uintptr(64), unsafe.Offsetof(cmd.TimeoutMS))
	assert.Equal(t, uintptr(68), unsafe.Offsetof(cmd.Result))
}

func TestAdminIoctlNumber(t *testing.T) {
	// _IOWR('N', 0x41, 72 bytes)
	const iowr = 3<<30 | 72<<16 | 'N'<<8 | 0x41
	assert.Equal(t, uint32(iowr), uint32(NVME_IOCTL_ADMIN_CMD))
}

func TestPackedSizes(t *testing.T) {
	assert.Equal(t, 108, CSxPropertiesSize)
	assert.Equal(t, 32, ComputeRequestSize)

	buf, err := Marshal(&CSxPropertiesHdr{})
	require.NoError(t, err)
	assert.Len(t, buf, 58)

	buf, err = Marshal(&CSEProperties{})
	require.NoError(t, err)
	assert.Len(t, buf, 50)

	buf, err = Marshal(&ComputeArg{})
	require.NoError(t, err)
	assert.Len(t, buf, 20)
}

func TestFamilyString(t *testing.T) {
	assert.Equal(t, "OPEN_RELAY", FamilyOpenRelay.String())
	assert.Equal(t, "CLOSE_RELAY", FamilyCloseRelay.String())
	assert.Equal(t, "ALLOCATE", FamilyAllocate.String())
	assert.Equal(t, "DEALLOCATE", FamilyDeallocate.String())
	assert.Equal(t, "COMPUTE", (FamilyCompute | ComputeThroughUserSpace).String())
	assert.Equal(t, "FAMILY(7)", Family(7).String())
}

func TestFamilyBase(t *testing.T) {
	tests := []struct {
		in   Family
		want Family
	}{
		{FamilyCompute, FamilyCompute},
		{FamilyCompute | ComputeThroughUserSpace, FamilyCompute},
		{FamilyAllocate, FamilyAllocate},
		{FamilyDeallocate, FamilyDeallocate},
		{FamilyOpenRelay, FamilyOpenRelay},
		{FamilyCloseRelay, FamilyCloseRelay},
		{FamilyComm, FamilyComm},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Base())
		})
	}
}

func TestRequestSize(t *testing.T) {
	tests := []struct {
		name    string
		numArgs int
		want    int
	}{
		{"zero args keeps the reserved slot", 0, 32},
		{"one arg fits the reserved slot", 1, 32},
		{"two args", 2, 52},
		{"three args", 3, 72},
		{"negative treated as zero", -1, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequestSize(tt.numArgs))
		})
	}
}

func TestPropertiesRequiredSize(t *testing.T) {
	assert.Equal(t, 108, PropertiesRequiredSize(0))
	assert.Equal(t, 108, PropertiesRequiredSize(1))
	assert.Equal(t, 158, PropertiesRequiredSize(2))
	assert.Equal(t, 108+79*50, PropertiesRequiredSize(80))
	assert.Greater(t, PropertiesRequiredSize(81), 4096)
}

func TestComputeRequestLayout(t *testing.T) {
	hdr := &ComputeRequestHdr{CSEHandle: 7, FunctionID: 0x42, NumArgs: 2}
	args := []ComputeArg{
		{Type: ArgTypeAFDM, Value: [2]uint64{0x1000, 16}},
		{Type: ArgType32Bit, Value: [2]uint64{4096, 0}},
	}

	buf := MarshalComputeRequest(hdr, args)
	require.Len(t, buf, 52)

	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(0x42), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[8:12]))
	assert.Equal(t, uint32(ArgTypeAFDM), binary.LittleEndian.Uint32(buf[12:16]))
	assert.Equal(t, uint64(0x1000), binary.LittleEndian.Uint64(buf[16:24]))
	assert.Equal(t, uint64(16), binary.LittleEndian.Uint64(buf[24:32]))
	assert.Equal(t, uint32(ArgType32Bit), binary.LittleEndian.Uint32(buf[32:36]))
	assert.Equal(t, uint32(4096), binary.LittleEndian.Uint32(buf[36:40]))

	gotHdr, gotArgs, err := UnmarshalComputeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, *hdr, gotHdr)
	assert.Equal(t, args, gotArgs)
}

func TestComputeRequestNoArgs(t *testing.T) {
	buf := MarshalComputeRequest(&ComputeRequestHdr{CSEHandle: 1, FunctionID: 100}, nil)
	assert.Len(t, buf, ComputeRequestSize)

	_, args, err := UnmarshalComputeRequest(buf)
	require.NoError(t, err)
	assert.Empty(t, args)

	_, _, err = UnmarshalComputeRequest(buf[:8])
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPropertiesLayout(t *testing.T) {
	hdr := &CSxPropertiesHdr{
		HwVersion: 1,
		SwVersion: 2,
		VendorID:  0x1b36,
		DeviceID:  0x0010,
		CFMinMB:   4,
		FDMinMB:   4,
		Flags:     PropFDMIsDeviceManaged | PropFDMIsHostVisible,
		NumCSEs:   2,
	}
	PutCString(hdr.FriendlyName[:], "TSP CSx")

	cses := make([]CSEProperties, 2)
	for i := range cses {
		cses[i].NumBuiltinFunctions = uint16(i + 1)
		PutCString(cses[i].UniqueName[:], "engine")
	}

	buf := make([]byte, 4096)
	required := MarshalProperties(buf, hdr, cses)
	assert.Equal(t, 158, required)
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(buf[56:58]))

	gotHdr, gotCSEs, err := UnmarshalProperties(buf[:required])
	require.NoError(t, err)
	assert.Equal(t, *hdr, gotHdr)
	assert.Equal(t, cses, gotCSEs)
	assert.Equal(t, "TSP CSx", CString(gotHdr.FriendlyName[:]))

	// Only complete records are decoded.
	_, partial, err := UnmarshalProperties(buf[:required-1])
	require.NoError(t, err)
	assert.Len(t, partial, 1)

	_, _, err = UnmarshalProperties(buf[:10])
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAddrInfo(t *testing.T) {
	ai := NewAddrInfo("127.0.0.1", "22333")
	buf, err := Marshal(ai)
	require.NoError(t, err)
	require.Len(t, buf, AddrInfoSize)

	assert.Equal(t, "127.0.0.1", CString(buf[:AddrInfoFieldSize]))
	assert.Equal(t, "22333", CString(buf[AddrInfoFieldSize:]))

	var back AddrInfo
	require.NoError(t, Unmarshal(buf, &back))
	assert.Equal(t, *ai, back)
}

func TestAddrInfoTruncates(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	ai := NewAddrInfo(string(long), "1")
	// Filled completely, no terminator
	assert.Len(t, CString(ai.Node[:]), AddrInfoFieldSize)
}

func TestFrame(t *testing.T) {
	buf := make([]byte, 4096)
	payload := []byte("hello relay")

	n := PutFrame(buf, payload)
	assert.Equal(t, len(payload), n)

	got, err := Frame(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	big := make([]byte, 5000)
	n = PutFrame(buf, big)
	assert.Equal(t, MaxFramePayload, n)

	binary.LittleEndian.PutUint32(buf, MaxFramePayload+1)
	_, err = Frame(buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	binary.LittleEndian.PutUint32(buf, 100)
	_, err = Frame(buf[:50])
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestMarshalInvalidType(t *testing.T) {
	_, err := Marshal(struct{}{})
	assert.ErrorIs(t, err, ErrInvalidType)
	assert.ErrorIs(t, Unmarshal(nil, &struct{}{}), ErrInvalidType)
}
