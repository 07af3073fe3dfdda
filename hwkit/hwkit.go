// Package hwkit implements the processor primitives required by cache
// timing side channels.
//
// Each supported instruction set provides a Hardware implementation
// that is selected at build time. Platforms without an implementation
// build successfully, but Native returns ErrUnsupported.
package hwkit

import (
	"errors"
	"fmt"
	"log"
	"runtime"
)

var (
	// DefaultExitFn is invoked by functions and methods ending in
	// the "OrExit" suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}

	// ErrUnsupported is returned when the current instruction set
	// has no Hardware implementation.
	ErrUnsupported = errors.New("hardware primitives are not implemented for " + runtime.GOARCH)
)

// Hardware abstracts the instruction set specific operations used
// to build a flush+reload side channel.
type Hardware interface {
	// Flush evicts the cache line containing addr from every
	// level of the cache hierarchy.
	Flush(addr uintptr)

	// TimedRead reads one byte at addr and returns the number
	// of cycles the read took.
	TimedRead(addr uintptr) uint64

	// SpeculativeRead reads the byte at target and uses it to
	// index into probe, touching the line at
	// probe + (value << lineShift). When target is not readable
	// the read faults, but the dependent access may still execute
	// transiently and leave the line in the cache.
	SpeculativeRead(target uintptr, probe uintptr, lineShift uint)
}

// NativeOrExit returns the Hardware implementation for the current
// instruction set. DefaultExitFn is invoked if there is none.
func NativeOrExit() Hardware {
	hw, err := Native()
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to get native hardware primitives - %w", err))
	}
	return hw
}
