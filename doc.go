// Package meltkit provides functionality for researching transient
// execution side channels.
//
// The measurement engine lives in the meltdown package. The processor
// primitives it depends on (cache line flush, timed reads, and the
// speculative read gadget) are implemented per instruction set in
// the hwkit package.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package meltkit
