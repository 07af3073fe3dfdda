package meltdown

import (
	"runtime"
	"runtime/debug"
)

// FaultBarrier lets the engine attempt an operation that is expected
// to raise a hardware protection fault, and resume afterwards.
type FaultBarrier interface {
	// Install prepares the calling goroutine for Attempt. The
	// returned function restores the previous state and must be
	// called on the same goroutine.
	Install() (restore func())

	// Attempt runs fn and reports whether it was interrupted
	// by a memory fault.
	Attempt(fn func()) (faulted bool)
}

// PanicOnFaultBarrier is a FaultBarrier built on
// runtime/debug.SetPanicOnFault. While installed, a fault at
// a non-nil address becomes a recoverable run-time panic instead
// of crashing the program.
type PanicOnFaultBarrier struct{}

func (PanicOnFaultBarrier) Install() func() {
	// SetPanicOnFault applies to the current goroutine only.
	runtime.LockOSThread()
	prev := debug.SetPanicOnFault(true)

	return func() {
		debug.SetPanicOnFault(prev)
		runtime.UnlockOSThread()
	}
}

func (PanicOnFaultBarrier) Attempt(fn func()) (faulted bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		if !isMemoryFault(r) {
			panic(r)
		}

		faulted = true
	}()

	fn()

	return false
}

// nilDereference is the run-time panic value raised for a fault
// below the first page. The runtime raises it instead of an
// addressed fault even while SetPanicOnFault is enabled, so a
// target in the first page is reported as a fault through it.
var nilDereference = func() (r interface{}) {
	defer func() {
		r = recover()
	}()

	var p *byte
	faultSink = *p

	return nil
}()

var faultSink byte

func isMemoryFault(r interface{}) bool {
	if _, hasAddr := r.(interface{ Addr() uintptr }); hasAddr {
		return true
	}

	return nilDereference != nil && r == nilDereference
}
