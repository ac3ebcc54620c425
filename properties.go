package csx

import (
	"context"
	"math/bits"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

// Property block sizes
const (
	// PropertiesSize is the fixed property record: header plus one engine
	PropertiesSize = uapi.CSxPropertiesSize

	// CSEPropertiesSize is the size of each additional engine record
	CSEPropertiesSize = uapi.CSEPropertiesSize
)

// PropertyFlags are the feature flags of a device
type PropertyFlags struct {
	FDMIsDeviceManaged     bool
	FDMIsHostVisible       bool
	BatchRequestsSupported bool
	StreamsSupported       bool
}

// CSEProperties describes one compute engine
type CSEProperties struct {
	HwVersion                      uint16
	SwVersion                      uint16
	UniqueName                     string
	NumBuiltinFunctions            uint16
	MaxRequestsPerBatch            uint32
	MaxFunctionParametersAllowed   uint32
	MaxConcurrentFunctionInstances uint32
}

// Properties is the self-reported identity of a device
type Properties struct {
	HwVersion    uint16
	SwVersion    uint16
	VendorID     uint16
	DeviceID     uint16
	FriendlyName string
	CFMinMB      uint32
	FDMinMB      uint32
	Flags        PropertyFlags
	NumCSEs      uint16

	// CSEs holds the engine records present in the block. It is shorter
	// than NumCSEs only when the block was truncated.
	CSEs []CSEProperties
}

// PropertiesSizeFor returns the bytes a property block with n engines needs
func PropertiesSizeFor(n uint16) int {
	return uapi.PropertiesRequiredSize(n)
}

// ReadProperties copies the raw property block into buf and returns the
// bytes copied.
//
// A buf smaller than the block receives only the fixed record and the call
// fails with StatusInvalidLength. A block that does not fit in one command
// payload is clamped to the payload; the copy is made and the call also
// fails with StatusInvalidLength, since trailing engine records are lost.
func (d *Device) ReadProperties(ctx context.Context, buf []byte) (int, error) {
	if !hasCompute(ctx, d.ctrl) {
		return 0, newError("GET_PROPS", StatusDeviceNotAvailable, "device does not expose compute functions").WithDevice(d.name)
	}

	if len(buf) < PropertiesSize {
		return 0, newErrorf("GET_PROPS", StatusInvalidLength,
			"buffer of %d bytes cannot hold the %d byte property record", len(buf), PropertiesSize).WithDevice(d.name)
	}

	data, err := d.ctrl.Properties(ctx)
	if err != nil {
		return 0, wrapError("GET_PROPS", StatusDeviceNotAvailable, err)
	}

	var hdr uapi.CSxPropertiesHdr
	if err := uapi.Unmarshal(data, &hdr); err != nil {
		return 0, wrapError("GET_PROPS", StatusDeviceError, err).WithDevice(d.name)
	}

	required := uapi.PropertiesRequiredSize(hdr.NumCSEs)
	clamped := false
	if required > len(data) {
		d.logger.Error("property block exceeds command payload, clamping",
			"engines", hdr.NumCSEs, "required", required, "payload", len(data))
		required = len(data)
		clamped = true
	}

	if len(buf) < required {
		n := copy(buf, data[:PropertiesSize])
		return n, newErrorf("GET_PROPS", StatusInvalidLength,
			"property block needs %d bytes, buffer holds %d", required, len(buf)).WithDevice(d.name)
	}

	n := copy(buf, data[:required])
	if clamped {
		return n, newErrorf("GET_PROPS", StatusInvalidLength,
			"%d engine records do not fit in one payload", hdr.NumCSEs).WithDevice(d.name)
	}
	return n, nil
}

// QueryProperties reads and decodes the property block. On a clamped
// block it returns the decodable records together with the length error.
func (d *Device) QueryProperties(ctx context.Context) (*Properties, error) {
	buf := make([]byte, d.ctrl.Config().PayloadSize)
	n, err := d.ReadProperties(ctx, buf)
	if err != nil && (n == 0 || !IsStatus(err, StatusInvalidLength)) {
		return nil, err
	}

	props, derr := decodeProperties(buf[:n])
	if derr != nil {
		return nil, wrapError("GET_PROPS", StatusDeviceError, derr).WithDevice(d.name)
	}
	return props, err
}

func decodeProperties(data []byte) (*Properties, error) {
	hdr, cses, err := uapi.UnmarshalProperties(data)
	if err != nil {
		return nil, err
	}

	p := &Properties{
		HwVersion:    hdr.HwVersion,
		SwVersion:    hdr.SwVersion,
		VendorID:     hdr.VendorID,
		DeviceID:     hdr.DeviceID,
		FriendlyName: uapi.CString(hdr.FriendlyName[:]),
		CFMinMB:      hdr.CFMinMB,
		FDMinMB:      hdr.FDMinMB,
		Flags: PropertyFlags{
			FDMIsDeviceManaged:     hdr.Flags&uapi.PropFDMIsDeviceManaged != 0,
			FDMIsHostVisible:       hdr.Flags&uapi.PropFDMIsHostVisible != 0,
			BatchRequestsSupported: hdr.Flags&uapi.PropBatchRequestsSupported != 0,
			StreamsSupported:       hdr.Flags&uapi.PropStreamsSupported != 0,
		},
		NumCSEs: hdr.NumCSEs,
		CSEs:    make([]CSEProperties, len(cses)),
	}
	for i, c := range cses {
		p.CSEs[i] = CSEProperties{
			HwVersion:                      c.HwVersion,
			SwVersion:                      c.SwVersion,
			UniqueName:                     uapi.CString(c.UniqueName[:]),
			NumBuiltinFunctions:            c.NumBuiltinFunctions,
			MaxRequestsPerBatch:            c.MaxRequestsPerBatch,
			MaxFunctionParametersAllowed:   c.MaxFunctionParametersAllowed,
			MaxConcurrentFunctionInstances: c.MaxConcurrentFunctionInstances,
		}
	}
	return p, nil
}

// Capability is one bit of the capability set
type Capability uint64

const (
	CapCompression   Capability = uapi.CapCompression
	CapDecompression Capability = uapi.CapDecompression
	CapEncryption    Capability = uapi.CapEncryption
	CapDecryption    Capability = uapi.CapDecryption
	CapRAID          Capability = uapi.CapRAID
	CapEC            Capability = uapi.CapEC
	CapDedup         Capability = uapi.CapDedup
	CapHash          Capability = uapi.CapHash
	CapChecksum      Capability = uapi.CapChecksum
	CapRegEx         Capability = uapi.CapRegEx
	CapDbFilter      Capability = uapi.CapDbFilter
	CapImageEncode   Capability = uapi.CapImageEncode
	CapVideoEncode   Capability = uapi.CapVideoEncode
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapCompression, "Compression"},
	{CapDecompression, "Decompression"},
	{CapEncryption, "Encryption"},
	{CapDecryption, "Decryption"},
	{CapRAID, "RAID"},
	{CapEC, "EC"},
	{CapDedup, "Dedup"},
	{CapHash, "Hash"},
	{CapChecksum, "Checksum"},
	{CapRegEx, "RegEx"},
	{CapDbFilter, "DbFilter"},
	{CapImageEncode, "ImageEncode"},
	{CapVideoEncode, "VideoEncode"},
}

// Capabilities is the capability bitmask a device reports
type Capabilities uint64

// Has reports whether c is set
func (c Capabilities) Has(cap Capability) bool {
	return uint64(c)&uint64(cap) == uint64(cap)
}

// CustomType returns the 48-bit vendor extension field
func (c Capabilities) CustomType() uint64 {
	return (uint64(c) & uapi.CapCustomMask) >> uapi.CapCustomShift
}

// Names lists the standard capabilities that are set
func (c Capabilities) Names() []string {
	names := make([]string, 0, bits.OnesCount64(uint64(c)))
	for _, cn := range capabilityNames {
		if c.Has(cn.cap) {
			names = append(names, cn.name)
		}
	}
	return names
}

// QueryCapabilities reads the capability set
func (d *Device) QueryCapabilities(ctx context.Context) (Capabilities, error) {
	caps, err := d.ctrl.Capabilities(ctx)
	if err != nil {
		return 0, wrapError("GET_CAPS", StatusDeviceNotAvailable, err)
	}
	return Capabilities(caps), nil
}

// CSE is an opened compute engine
type CSE struct {
	Name   string
	device *Device
}

// CSEName returns the name of engine index. Engines that report no name
// are given a placeholder.
func (d *Device) CSEName(ctx context.Context, index int) (string, error) {
	props, err := d.QueryProperties(ctx)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= int(props.NumCSEs) {
		return "", newErrorf("GET_CSE", StatusInvalidArg, "engine %d out of range (%d engines)", index, props.NumCSEs).WithDevice(d.name)
	}
	if index < len(props.CSEs) && props.CSEs[index].UniqueName != "" {
		return props.CSEs[index].UniqueName, nil
	}
	return constants.SimulatedCSEName, nil
}

// OpenCSE opens the named engine. Engines share the device's controller
// connection, so the handle is the device handle.
func (d *Device) OpenCSE(name string) *CSE {
	return &CSE{Name: name, device: d}
}

// Handle returns the value compute requests carry as their engine handle
func (c *CSE) Handle() int32 {
	return c.device.Handle()
}
