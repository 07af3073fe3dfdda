package meltdown

import (
	"fmt"
	"testing"
)

const (
	fakeHotLatency  = 40
	fakeColdLatency = 240
)

// fakeHardware simulates a cache. Reads of a line that is not
// cached cost coldLatency and cache it.
type fakeHardware struct {
	hotLatency  uint64
	coldLatency uint64
	cached      map[uintptr]bool

	// readable contains bytes that may be read architecturally.
	readable map[uintptr]byte

	// forbidden contains bytes that fault when read, but only
	// after their value has been used transiently.
	forbidden map[uintptr]byte

	// noisyLines are cached again after every flush.
	noisyLines map[uintptr]bool

	flushes int
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{
		hotLatency:  fakeHotLatency,
		coldLatency: fakeColdLatency,
		cached:      make(map[uintptr]bool),
		readable:    make(map[uintptr]byte),
		forbidden:   make(map[uintptr]byte),
		noisyLines:  make(map[uintptr]bool),
	}
}

func (o *fakeHardware) Flush(addr uintptr) {
	o.flushes++
	delete(o.cached, addr)
	if o.noisyLines[addr] {
		o.cached[addr] = true
	}
}

func (o *fakeHardware) TimedRead(addr uintptr) uint64 {
	if o.cached[addr] {
		return o.hotLatency
	}

	o.cached[addr] = true

	return o.coldLatency
}

func (o *fakeHardware) SpeculativeRead(target uintptr, probe uintptr, lineShift uint) {
	if b, isReadable := o.readable[target]; isReadable {
		o.cached[probe+uintptr(b)<<lineShift] = true
		return
	}

	if b, isForbidden := o.forbidden[target]; isForbidden {
		o.cached[probe+uintptr(b)<<lineShift] = true
	}

	panic(fakeFault{addr: target})
}

// fakeFault mimics the run-time error raised by a fault while
// debug.SetPanicOnFault is enabled.
type fakeFault struct {
	addr uintptr
}

func (o fakeFault) Error() string {
	return fmt.Sprintf("runtime error: invalid memory address (fault address 0x%x)", o.addr)
}

func (o fakeFault) RuntimeError() {}

func (o fakeFault) Addr() uintptr {
	return o.addr
}

// countingBarrier wraps PanicOnFaultBarrier and counts how often
// it is installed and restored.
type countingBarrier struct {
	PanicOnFaultBarrier
	installs int
	restores int
}

func (o *countingBarrier) Install() func() {
	o.installs++
	restore := o.PanicOnFaultBarrier.Install()
	return func() {
		o.restores++
		restore()
	}
}

func newFakeEngine(t testing.TB, hw *fakeHardware, optConfig ...Config) *Engine {
	t.Helper()

	var config Config
	if len(optConfig) > 0 {
		config = optConfig[0]
	}

	config.Hardware = hw
	if config.CalibrationRounds == 0 {
		config.CalibrationRounds = 64
	}

	e, err := New(config)
	if err != nil {
		t.Fatalf("failed to create engine - %s", err)
	}

	t.Cleanup(func() {
		_ = e.Close()
	})

	return e
}
