//go:build linux

package nvme

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-csx/internal/constants"
	"github.com/ehrlich-b/go-csx/internal/interfaces"
)

// DevMem maps device memory through a physical memory node, /dev/mem
// unless Path is set.
type DevMem struct {
	Path string
}

var _ interfaces.Mapper = DevMem{}

func (m DevMem) path() string {
	if m.Path != "" {
		return m.Path
	}
	return constants.DevMemPath
}

// Map opens the node for each mapping; the mapping outlives the descriptor.
func (m DevMem) Map(offset int64, length int) ([]byte, error) {
	fd, err := unix.Open(m.path(), unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", m.path(), err)
	}
	defer unix.Close(fd)

	b, err := unix.Mmap(fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s at 0x%x (%d bytes): %w", m.path(), offset, length, err)
	}
	return b, nil
}

func (DevMem) Unmap(b []byte) error {
	return unix.Munmap(b)
}
