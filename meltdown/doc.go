// Package meltdown implements a flush+reload measurement engine for
// reading memory through transient execution.
//
// Attack overview
//
// A load from memory that the process may not read raises a protection
// fault, but on affected processors the fault is only delivered when the
// load retires. Instructions that depend on the loaded value may execute
// before that, and although their results are discarded, the cache lines
// they touched remain cached. The engine encodes the loaded byte as the
// index of one of 256 probe lines, then recovers it by timing a read of
// every line: the line that was touched is noticeably faster to read.
//
// The engine is used in three steps:
//	- New maps the probe region: 256 lines, each one page long, with
//	  inaccessible guard mappings on either side
//	- Calibrate measures the average latency of cached ("hot") and
//	  flushed ("cold") reads and picks a threshold between them
//	- Attack reads a range of addresses, one byte at a time, running
//	  a configurable number of rounds per byte and decoding the rounds
//	  with a DecodePolicy
//
// Each round deliberately triggers a protection fault. The FaultBarrier
// turns that fault into ordinary control flow so that the process keeps
// running.
//
// Please refer to "Meltdown: Reading Kernel Memory from User Space" by
// Lipp et al. for an introduction to the subject:
// https://meltdownattack.com/meltdown.pdf
package meltdown
