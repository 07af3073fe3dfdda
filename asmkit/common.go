package asmkit

import "errors"

// ErrStop may be returned by the function passed to
// Disassembler.All to stop decoding without an error.
var ErrStop = errors.New("stop decoding")
