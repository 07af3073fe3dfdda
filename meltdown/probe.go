package meltdown

import (
	"fmt"
	"unsafe"

	"gitlab.com/stephen-fox/meltkit/hwkit"
	"golang.org/x/sys/unix"
)

const (
	// NumLines is the number of probe lines, one per byte value.
	NumLines = 256

	// DefaultLineShift is log2 of the default probe line size.
	// One page per line.
	DefaultLineShift = 12

	// MinLineShift is log2 of the smallest usable line size
	// (the size of a cache line).
	MinLineShift = 6

	// MaxLineShift is log2 of the largest supported line size.
	MaxLineShift = 16

	probeSentinel = 0x01
)

// ProbeRegion is the memory that transient reads encode their result
// into. It is laid out as:
//
//	[guard][line 0][line 1]...[line 255][guard]
//
// Both guards are the same size as the lines together, and are mapped
// with no access permissions.
type ProbeRegion struct {
	mapping   []byte
	lines     []byte
	lineShift uint
}

func newProbeRegion(lineShift uint) (*ProbeRegion, error) {
	size := NumLines << lineShift

	mapping, err := unix.Mmap(-1, 0, 3*size,
		unix.PROT_NONE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to map probe region - %w", err)
	}

	lines := mapping[size : 2*size : 2*size]

	err = unix.Mprotect(lines, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		_ = unix.Munmap(mapping)
		return nil, fmt.Errorf("failed to make probe lines read-write - %w", err)
	}

	adviseProbe(lines)

	// Every page must be resident before the first timed read.
	for i := range lines {
		lines[i] = probeSentinel
	}

	return &ProbeRegion{
		mapping:   mapping,
		lines:     lines,
		lineShift: lineShift,
	}, nil
}

// Lock attempts to lock the probe lines into memory.
func (o *ProbeRegion) Lock() error {
	return unix.Mlock(o.lines)
}

// Base returns the address of line zero.
func (o *ProbeRegion) Base() uintptr {
	return uintptr(unsafe.Pointer(&o.lines[0]))
}

// Line returns the address of the line for byte value b.
func (o *ProbeRegion) Line(b byte) uintptr {
	return o.Base() + uintptr(b)<<o.lineShift
}

// LineShift returns log2 of the line size.
func (o *ProbeRegion) LineShift() uint {
	return o.lineShift
}

// LineSize returns the size of a line in bytes.
func (o *ProbeRegion) LineSize() int {
	return 1 << o.lineShift
}

// Guard returns the address of the guard mapping that precedes
// the lines. Any access to it faults.
func (o *ProbeRegion) Guard() uintptr {
	return uintptr(unsafe.Pointer(&o.mapping[0]))
}

// FlushAll evicts every line from the cache.
func (o *ProbeRegion) FlushAll(hw hwkit.Hardware) {
	for i := 0; i < NumLines; i++ {
		hw.Flush(o.Line(byte(i)))
	}
}

// Close unmaps the region.
func (o *ProbeRegion) Close() error {
	if o.mapping == nil {
		return nil
	}

	err := unix.Munmap(o.mapping)
	o.mapping = nil
	o.lines = nil

	return err
}
