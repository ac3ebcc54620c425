//go:build !linux

// Package nvme issues vendor admin commands to NVMe controllers. Only Linux
// exposes the admin passthrough; elsewhere every call fails.
package nvme

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-csx/internal/interfaces"
)

var errNoPassthru = fmt.Errorf("nvme admin passthrough requires linux: %w", errors.ErrUnsupported)

// Open always fails on this platform.
func Open(path string) (interfaces.Transport, error) {
	return nil, fmt.Errorf("open %s: %w", path, errNoPassthru)
}

// DevMem always fails on this platform.
type DevMem struct {
	Path string
}

func (DevMem) Map(offset int64, length int) ([]byte, error) {
	return nil, errNoPassthru
}

func (DevMem) Unmap(b []byte) error {
	return errNoPassthru
}
