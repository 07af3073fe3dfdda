package meltdown

import (
	"unsafe"
)

// SelfTestSize is the size of the self-test buffer.
const SelfTestSize = 4096

// SelfTestByte returns the expected value of byte i of the
// self-test buffer: the printable ASCII characters from '!'
// to '~', repeated.
func SelfTestByte(i int) byte {
	return byte('!' + i%('~'-'!'+1))
}

// NewSelfTest allocates and fills a self-test buffer.
func NewSelfTest() *SelfTest {
	buf := make([]byte, SelfTestSize)
	for i := range buf {
		buf[i] = SelfTestByte(i)
	}

	return &SelfTest{
		buf: buf,
	}
}

// SelfTest is an in-process buffer of known content that can be
// attacked in place of forbidden memory to validate the engine.
// The SelfTest must be kept reachable while it is attacked.
type SelfTest struct {
	buf []byte
}

// Address returns the address of the first byte.
func (o *SelfTest) Address() uintptr {
	return uintptr(unsafe.Pointer(&o.buf[0]))
}

// Bytes returns the buffer.
func (o *SelfTest) Bytes() []byte {
	return o.buf
}

// Request returns a Request for the first length bytes of the
// buffer. length is clamped to the buffer size.
func (o *SelfTest) Request(length uint, rounds uint) Request {
	if length > uint(len(o.buf)) {
		length = uint(len(o.buf))
	}

	return Request{
		Address: o.Address(),
		Length:  length,
		Rounds:  rounds,
	}
}
