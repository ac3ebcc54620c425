package csx

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ehrlich-b/go-csx/internal/constants"
)

// MemHandle identifies device memory. Its value is the device location the
// controller reported; it is never a host pointer.
type MemHandle uint64

func (h MemHandle) String() string {
	return fmt.Sprintf("0x%x", uint64(h))
}

// MemFlags is reserved and must be zero
type MemFlags uint32

// Allocation is a block of function data memory on the device
type Allocation struct {
	Handle MemHandle
	Size   int

	// Host is the read/write shared view of the block, nil unless the
	// allocation was mapped.
	Host []byte

	freed atomic.Bool
}

// AllocMem allocates size bytes of device memory. With mapHost the block is
// also mapped into the host address space once.
func (d *Device) AllocMem(ctx context.Context, size int, flags MemFlags, mapHost bool) (*Allocation, error) {
	if size <= 0 {
		return nil, newErrorf("ALLOCATE", StatusInvalidArg, "invalid allocation size %d", size).WithDevice(d.name)
	}
	if size > constants.MaxAllocSize {
		d.observer.ObserveAllocation(uint64(size), false)
		return nil, newErrorf("ALLOCATE", StatusNotEnoughMemory,
			"allocation of %d bytes exceeds %d", size, constants.MaxAllocSize).WithDevice(d.name)
	}
	if flags != 0 {
		d.logger.Warn("ignoring reserved allocation flags", "flags", uint32(flags))
	}

	loc, err := d.ctrl.Allocate(ctx, uint32(size))
	if err != nil {
		d.observer.ObserveAllocation(uint64(size), false)
		return nil, err
	}
	if loc == 0 {
		d.observer.ObserveAllocation(uint64(size), false)
		return nil, newErrorf("ALLOCATE", StatusNotEnoughMemory, "device has no room for %d bytes", size).WithDevice(d.name)
	}

	a := &Allocation{Handle: MemHandle(loc), Size: size}
	if mapHost {
		host, err := d.mapper.Map(int64(loc), size)
		if err != nil {
			d.observer.ObserveAllocation(uint64(size), false)
			return nil, wrapError("ALLOCATE", StatusCouldNotMapMemory, err).WithDevice(d.name)
		}
		a.Host = host
	}

	d.observer.ObserveAllocation(uint64(size), true)
	d.logger.Debug("allocated device memory", "handle", a.Handle.String(), "size", size, "mapped", mapHost)
	return a, nil
}

// FreeMem releases the host mapping of a. The device block itself is not
// reclaimed. Freeing the same allocation again does nothing.
func (d *Device) FreeMem(ctx context.Context, a *Allocation) error {
	if a == nil {
		return newError("FREE", StatusInvalidArg, "nil allocation").WithDevice(d.name)
	}
	if !a.freed.CompareAndSwap(false, true) {
		return nil
	}
	if a.Host == nil {
		return nil
	}

	host := a.Host
	a.Host = nil
	if err := d.mapper.Unmap(host); err != nil {
		return wrapError("FREE", StatusUnknownMemory, err).WithDevice(d.name)
	}
	d.logger.Debug("released device memory mapping", "handle", a.Handle.String(), "size", a.Size)
	return nil
}
