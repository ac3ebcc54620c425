//go:build linux

// Package nvme issues vendor admin commands to NVMe controllers through the
// kernel passthrough ioctl and maps device memory through /dev/mem.
package nvme

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-csx/internal/interfaces"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

// Device is an open NVMe controller or namespace node.
type Device struct {
	fd   atomic.Int32
	path string
}

var _ interfaces.Transport = (*Device)(nil)

// Open opens path and checks it is a character or block device. It
// satisfies interfaces.Opener.
func Open(path string) (interfaces.Transport, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %v: %w", path, err, unix.ENXIO)
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFCHR, unix.S_IFBLK:
	default:
		unix.Close(fd)
		return nil, fmt.Errorf("%s is not a character or block device: %w", path, unix.ENXIO)
	}

	d := &Device{path: path}
	d.fd.Store(int32(fd))
	return d, nil
}

// Submit issues NVME_IOCTL_ADMIN_CMD. The ioctl carries its own command and
// buffer, so concurrent calls need no locking.
func (d *Device) Submit(cmd *uapi.PassthruCmd, data []byte) (uint32, error) {
	fd := d.fd.Load()
	if fd < 0 {
		return 0, unix.EBADF
	}

	if len(data) > 0 {
		cmd.Addr = uint64(uintptr(unsafe.Pointer(&data[0])))
		cmd.DataLen = uint32(len(data))
	} else {
		cmd.Addr = 0
		cmd.DataLen = 0
	}

	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uapi.NVME_IOCTL_ADMIN_CMD, uintptr(unsafe.Pointer(cmd)))
	runtime.KeepAlive(data)
	if errno != 0 {
		return 0, errno
	}
	return uint32(r), nil
}

func (d *Device) Handle() int32 {
	return d.fd.Load()
}

func (d *Device) Path() string {
	return d.path
}

func (d *Device) Close() error {
	fd := d.fd.Swap(-1)
	if fd < 0 {
		return nil
	}
	return unix.Close(int(fd))
}
