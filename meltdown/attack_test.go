package meltdown

import (
	"bytes"
	"errors"
	"runtime/debug"
	"testing"
)

func newCalibratedFakeEngine(t *testing.T, hw *fakeHardware, optConfig ...Config) *Engine {
	t.Helper()

	e := newFakeEngine(t, hw, optConfig...)

	_, err := e.Calibrate()
	if err != nil {
		t.Fatalf("failed to calibrate - %s", err)
	}

	return e
}

func TestEngine_ReadAll_SelfTest(t *testing.T) {
	for _, policy := range []DecodePolicy{MajorityVote, CumulativeSum} {
		t.Run(policy.String(), func(t *testing.T) {
			selfTest := NewSelfTest()

			hw := newFakeHardware()
			for i, b := range selfTest.Bytes() {
				hw.readable[selfTest.Address()+uintptr(i)] = b
			}

			e := newCalibratedFakeEngine(t, hw, Config{
				Policy: policy,
			})

			res, err := e.ReadAll(selfTest.Request(16, 16))
			if err != nil {
				t.Fatal(err)
			}

			exp := []byte("!\"#$%&'()*+,-./0")
			if !bytes.Equal(res, exp) {
				t.Fatalf("expected '%s' - got '%s'", exp, res)
			}
		})
	}
}

func TestEngine_Attack_ForbiddenMemory(t *testing.T) {
	const base = uintptr(0xc0000000)
	secret := []byte("Squeamish Ossifrage")

	hw := newFakeHardware()
	for i, b := range secret {
		hw.forbidden[base+uintptr(i)] = b
	}

	e := newCalibratedFakeEngine(t, hw)

	seq, err := e.Attack(Request{
		Address: base,
		Length:  uint(len(secret)),
		Rounds:  3,
	})
	if err != nil {
		t.Fatal(err)
	}

	var res []byte
	for decoded := range seq {
		if decoded.Address != base+uintptr(len(res)) {
			t.Fatalf("expected address 0x%x - got 0x%x", base+uintptr(len(res)), decoded.Address)
		}

		if decoded.Faults != 3 {
			t.Fatalf("expected 3 faults - got %d", decoded.Faults)
		}

		if decoded.Score != 3 || !decoded.Clear() {
			t.Fatalf("expected a clear result with 3 votes - got %s", decoded)
		}

		res = append(res, decoded.Value)
	}

	if !bytes.Equal(res, secret) {
		t.Fatalf("expected '%s' - got '%s'", secret, res)
	}
}

func TestEngine_Attack_EveryByteValue(t *testing.T) {
	const base = uintptr(0x7f000000)

	hw := newFakeHardware()
	for i := 0; i < NumLines; i++ {
		hw.forbidden[base+uintptr(i)] = byte(i)
	}

	e := newCalibratedFakeEngine(t, hw)

	res, err := e.ReadAll(Request{
		Address: base,
		Length:  NumLines,
		Rounds:  1,
	})
	if err != nil {
		t.Fatal(err)
	}

	for i, b := range res {
		if b != byte(i) {
			t.Fatalf("expected 0x%02x - got 0x%02x", i, b)
		}
	}
}

func TestEngine_Attack_NoisyLine(t *testing.T) {
	const addr = uintptr(0x1000)

	hw := newFakeHardware()
	hw.forbidden[addr] = 0xab

	e := newCalibratedFakeEngine(t, hw)

	// A line that is always cached collects a vote every round,
	// the same number as the real line. Ties go to the lower line.
	hw.noisyLines[e.Probe().Line(0xf0)] = true

	res, err := e.ReadAll(Request{Address: addr, Length: 1, Rounds: 8})
	if err != nil {
		t.Fatal(err)
	}

	if res[0] != 0xab {
		t.Fatalf("expected 0xab - got 0x%02x", res[0])
	}
}

func TestEngine_Attack_UnreadableAndUnknown(t *testing.T) {
	hw := newFakeHardware()
	e := newCalibratedFakeEngine(t, hw)

	res, err := e.ReadAll(Request{Address: 0xdead0000, Length: 2, Rounds: 2})
	if err != nil {
		t.Fatal(err)
	}

	if len(res) != 2 {
		t.Fatalf("expected 2 bytes - got %d", len(res))
	}
}

func TestEngine_Attack_InvalidRequests(t *testing.T) {
	e := newCalibratedFakeEngine(t, newFakeHardware())

	tests := []struct {
		req Request
		exp error
	}{
		{req: Request{Address: 0x1000, Length: 0, Rounds: 1}, exp: ErrZeroLength},
		{req: Request{Address: 0x1000, Length: 1, Rounds: 0}, exp: ErrZeroRounds},
		{req: Request{Address: ^uintptr(0), Length: 2, Rounds: 1}, exp: ErrAddressRange},
	}

	for _, test := range tests {
		_, err := e.Attack(test.req)
		if !errors.Is(err, test.exp) {
			t.Fatalf("%+v: expected %v - got %v", test.req, test.exp, err)
		}
	}

	_, err := e.Attack(Request{Address: ^uintptr(0), Length: 1, Rounds: 1})
	if err != nil {
		t.Fatalf("reading the last byte of the address space should be allowed - %s", err)
	}
}

func TestEngine_Attack_NotCalibrated(t *testing.T) {
	e := newFakeEngine(t, newFakeHardware())

	_, err := e.Attack(Request{Address: 0x1000, Length: 1, Rounds: 1})
	if !errors.Is(err, ErrNotCalibrated) {
		t.Fatalf("expected %v - got %v", ErrNotCalibrated, err)
	}
}

func TestEngine_Attack_LazyAndRestartable(t *testing.T) {
	const addr = uintptr(0x2000)

	hw := newFakeHardware()
	hw.forbidden[addr] = 'x'
	hw.forbidden[addr+1] = 'y'

	e := newCalibratedFakeEngine(t, hw)

	flushesBefore := hw.flushes

	seq, err := e.Attack(Request{Address: addr, Length: 2, Rounds: 2})
	if err != nil {
		t.Fatal(err)
	}

	if hw.flushes != flushesBefore {
		t.Fatal("attack started before the sequence was iterated")
	}

	for run := 0; run < 2; run++ {
		var res []byte
		for decoded := range seq {
			res = append(res, decoded.Value)
		}

		if string(res) != "xy" {
			t.Fatalf("run %d: expected 'xy' - got '%s'", run, res)
		}
	}
}

func TestEngine_Attack_EarlyStopRestoresBarrier(t *testing.T) {
	const addr = uintptr(0x3000)

	hw := newFakeHardware()
	barrier := &countingBarrier{}

	e := newCalibratedFakeEngine(t, hw, Config{
		Barrier: barrier,
	})

	seq, err := e.Attack(Request{Address: addr, Length: 10, Rounds: 1})
	if err != nil {
		t.Fatal(err)
	}

	num := 0
	for range seq {
		num++
		if num == 2 {
			break
		}
	}

	if barrier.installs != 1 || barrier.restores != 1 {
		t.Fatalf("expected 1 install and 1 restore - got %d and %d",
			barrier.installs, barrier.restores)
	}

	if debug.SetPanicOnFault(false) {
		t.Fatal("panic on fault is still enabled after the attack")
	}
}

func TestSelfTest(t *testing.T) {
	selfTest := NewSelfTest()

	buf := selfTest.Bytes()
	if len(buf) != SelfTestSize {
		t.Fatalf("expected %d bytes - got %d", SelfTestSize, len(buf))
	}

	if buf[0] != '!' || buf[93] != '~' || buf[94] != '!' {
		t.Fatalf("unexpected pattern: '%s'", buf[0:100])
	}

	req := selfTest.Request(SelfTestSize+1, 3)
	if req.Length != SelfTestSize {
		t.Fatalf("expected length to be clamped to %d - got %d", SelfTestSize, req.Length)
	}
}
