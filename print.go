package csx

import (
	"fmt"
	"io"
	"strings"
)

// printer remembers the first write error so callers check once
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func negate(b bool) string {
	if b {
		return ""
	}
	return "not "
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// WriteProperties prints p in the human readable form the csx tool shows.
// Engines missing from a truncated block are not printed.
func WriteProperties(w io.Writer, p *Properties) error {
	pr := &printer{w: w}
	pr.printf("Hardware version : %d\n", p.HwVersion)
	pr.printf("Software version : %d\n", p.SwVersion)
	pr.printf("Vendor ID : %d\n", p.VendorID)
	pr.printf("Device ID : %d\n", p.DeviceID)
	pr.printf("Device Friendly Name : %s\n", p.FriendlyName)
	pr.printf("CFMinMB : %d\n", p.CFMinMB)
	pr.printf("FDMinMB : %d\n", p.FDMinMB)
	pr.printf("FDM is %sdevice managed\n", negate(p.Flags.FDMIsDeviceManaged))
	pr.printf("FDM is %shost visible\n", negate(p.Flags.FDMIsHostVisible))
	pr.printf("Batch requests support : %s\n", yesNo(p.Flags.BatchRequestsSupported))
	pr.printf("Streams support : %s\n", yesNo(p.Flags.StreamsSupported))
	pr.printf("Number of CSEs : %d\n", p.NumCSEs)

	for i := range p.CSEs {
		c := &p.CSEs[i]
		pr.printf("---\nCSE %d :\n", i)
		pr.printf("Hardware version : %d\n", c.HwVersion)
		pr.printf("Software version : %d\n", c.SwVersion)
		pr.printf("Device Unique Name : %s\n", c.UniqueName)
		pr.printf("Num built-in functions : %d\n", c.NumBuiltinFunctions)
		pr.printf("Max requests per batch : %d\n", c.MaxRequestsPerBatch)
		pr.printf("Max function parameters allowed : %d\n", c.MaxFunctionParametersAllowed)
		pr.printf("Max concurrent function instances : %d\n", c.MaxConcurrentFunctionInstances)
	}
	return pr.err
}

// WriteCapabilities prints the set capabilities and the custom type
func WriteCapabilities(w io.Writer, c Capabilities) error {
	pr := &printer{w: w}
	names := c.Names()
	if len(names) == 0 {
		names = []string{"none"}
	}
	pr.printf("Capabilities : %s\n", strings.Join(names, ", "))
	if ct := c.CustomType(); ct != 0 {
		pr.printf("Custom type : 0x%x\n", ct)
	}
	return pr.err
}
