// Package asmkit disassembles machine code, including code that is
// already loaded into the current process.
package asmkit

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

const (
	SkipSyntax  DisassemblySyntax = ""
	ATTSyntax   DisassemblySyntax = "att"
	GoSyntax    DisassemblySyntax = "go"
	IntelSyntax DisassemblySyntax = "intel"
)

type DisassemblySyntax string

// DisassemblerConfig configures a Disassembler.
type DisassemblerConfig struct {
	// Syntax is the assembly syntax used to fill Inst.Dis.
	Syntax DisassemblySyntax

	// Bits is the x86 operating mode: 16, 32, or 64.
	Bits int
}

func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	switch config.Bits {
	case 16, 32, 64:
	default:
		return nil, fmt.Errorf("unsupported x86 mode: %d bits", config.Bits)
	}

	var disassemblyFn func(inst x86asm.Inst, pc uint64) string
	switch config.Syntax {
	case SkipSyntax:
		// Do nothing.
	case ATTSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GNUSyntax(inst, pc, nil)
		}
	case GoSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GoSyntax(inst, pc, nil)
		}
	case IntelSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.IntelSyntax(inst, pc, nil)
		}
	default:
		return nil, fmt.Errorf("unsupported syntax type for x86: %q", config.Syntax)
	}

	return &Disassembler{
		bits:          config.Bits,
		disassemblyFn: disassemblyFn,
	}, nil
}

type Disassembler struct {
	bits          int
	disassemblyFn func(inst x86asm.Inst, pc uint64) string
}

// Inst is one decoded instruction.
type Inst struct {
	Addr uintptr
	Bin  []byte
	Len  int
	Dis  string
	Inst x86asm.Inst
}

// Next decodes the first instruction in code, which is assumed
// to be located at address pc.
func (o *Disassembler) Next(code []byte, pc uintptr) (Inst, error) {
	x86Inst, err := x86asm.Decode(code, o.bits)
	if err != nil {
		return Inst{}, err
	}

	var disassembly string
	if o.disassemblyFn != nil {
		disassembly = o.disassemblyFn(x86Inst, uint64(pc))
	}

	bin := make([]byte, x86Inst.Len)
	copy(bin, code[0:x86Inst.Len])

	return Inst{
		Addr: pc,
		Bin:  bin,
		Len:  x86Inst.Len,
		Dis:  disassembly,
		Inst: x86Inst,
	}, nil
}

// All decodes every instruction in code, calling onDecodeFn for
// each one. Decoding stops early without error if onDecodeFn
// returns ErrStop.
func (o *Disassembler) All(code []byte, pc uintptr, onDecodeFn func(Inst) error) error {
	index := 0

	for index < len(code) {
		inst, err := o.Next(code[index:], pc+uintptr(index))
		if err != nil {
			return fmt.Errorf("failed to decode instruction at offset %d - %w - remaining data: 0x%x",
				index, err, code[index:])
		}

		err = onDecodeFn(inst)
		if err == ErrStop {
			return nil
		}
		if err != nil {
			return fmt.Errorf("on decode function failed for instruction at offset %d (%q) - %w",
				index, inst.Dis, err)
		}

		index += inst.Len
	}

	return nil
}

// Function disassembles the machine code of a function that is
// loaded in the current process, starting at entry and ending at
// the first RET. At most maxLen bytes are read.
//
// When the function makes a direct CALL or JMP before returning
// (as the wrappers that Go generates for assembly routines do),
// the callee is disassembled as well and its instructions are
// appended to the result.
func (o *Disassembler) Function(entry uintptr, maxLen int) ([]Inst, error) {
	insts, callee, err := o.function(entry, maxLen)
	if err != nil {
		return nil, err
	}

	if callee == 0 {
		return insts, nil
	}

	calleeInsts, _, err := o.function(callee, maxLen)
	if err != nil {
		return nil, fmt.Errorf("failed to disassemble callee at 0x%x - %w", callee, err)
	}

	return append(insts, calleeInsts...), nil
}

func (o *Disassembler) function(entry uintptr, maxLen int) ([]Inst, uintptr, error) {
	if entry == 0 {
		return nil, 0, fmt.Errorf("function entry address is zero")
	}

	code := readMapped(entry, maxLen)
	if len(code) == 0 {
		return nil, 0, fmt.Errorf("function entry 0x%x is not readable", entry)
	}

	var insts []Inst
	var callee uintptr
	var returned bool

	err := o.All(code, entry, func(inst Inst) error {
		insts = append(insts, inst)

		switch inst.Inst.Op {
		case x86asm.CALL:
			if callee == 0 {
				callee = relTarget(inst)
			}
		case x86asm.JMP:
			// A tail call. Nothing after it belongs to the function.
			if callee == 0 {
				callee = relTarget(inst)
			}
			returned = true
			return ErrStop
		case x86asm.RET:
			returned = true
			return ErrStop
		}

		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if !returned {
		return nil, 0, fmt.Errorf("no return instruction found in the first %d bytes", len(code))
	}

	return insts, callee, nil
}

// readMapped copies up to maxLen bytes starting at addr, stopping
// at the first byte that cannot be read.
func readMapped(addr uintptr, maxLen int) []byte {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))

	code := make([]byte, 0, maxLen)

	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			if _, hasAddr := r.(interface{ Addr() uintptr }); !hasAddr {
				panic(r)
			}
		}()

		for i := 0; i < maxLen; i++ {
			code = append(code, *(*byte)(unsafe.Pointer(addr + uintptr(i))))
		}
	}()

	return code
}

func relTarget(inst Inst) uintptr {
	rel, isRel := inst.Inst.Args[0].(x86asm.Rel)
	if !isRel {
		return 0
	}

	return inst.Addr + uintptr(inst.Len) + uintptr(int64(rel))
}
