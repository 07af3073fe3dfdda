package mdcheck

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"unsafe"

	"gitlab.com/stephen-fox/meltkit/memory"
)

// BannerSymbol is the kernel symbol holding the version banner.
const BannerSymbol = "linux_banner"

// VersionPath is the path to the kernel's formatted version banner.
const VersionPath = "/proc/version"

var (
	// ErrEmptyTarget is returned for a Target without expected bytes.
	ErrEmptyTarget = errors.New("target has no expected bytes")

	// ErrMaskLength is returned for a Target whose Mask and
	// Expected lengths differ.
	ErrMaskLength = errors.New("mask length does not match expected length")

	// ErrLengthMismatch is returned when a read returns a different
	// number of bytes than the Target expects.
	ErrLengthMismatch = errors.New("read length does not match expected length")
)

// Target is memory whose contents are known.
type Target struct {
	// Name describes the target in log messages.
	Name string

	// Address is the address of the first byte.
	Address uintptr

	// Expected is the known content at Address.
	Expected []byte

	// Mask optionally selects the bits of Expected that must
	// match for a Partial outcome. A nil Mask selects every bit,
	// in which case only Success and Failed are possible.
	Mask []byte

	// backing is the in-process memory at Address, if any. It is
	// kept reachable until the check completes.
	backing []byte
}

// Validate checks that the target can be compared against.
func (o Target) Validate() error {
	if len(o.Expected) == 0 {
		return ErrEmptyTarget
	}

	if o.Mask != nil && len(o.Mask) != len(o.Expected) {
		return fmt.Errorf("%w (mask: %d, expected: %d)",
			ErrMaskLength, len(o.Mask), len(o.Expected))
	}

	return nil
}

// Truncate returns a copy of the target limited to its first
// n bytes.
func (o Target) Truncate(n int) Target {
	if n >= len(o.Expected) {
		return o
	}

	o.Expected = o.Expected[:n]
	if o.Mask != nil {
		o.Mask = o.Mask[:n]
	}

	return o
}

// Compare rates got against the target's expected contents.
func (o Target) Compare(got []byte) (Outcome, error) {
	if len(got) != len(o.Expected) {
		return SetupError, fmt.Errorf("%w (read: %d, expected: %d)",
			ErrLengthMismatch, len(got), len(o.Expected))
	}

	if bytes.Equal(got, o.Expected) {
		return Success, nil
	}

	if o.Mask == nil {
		return Failed, nil
	}

	for i := range got {
		if got[i]&o.Mask[i] != o.Expected[i]&o.Mask[i] {
			return Failed, nil
		}
	}

	return Partial, nil
}

// Hamming returns the number of bits that differ between a and b.
// Bytes past the end of the shorter slice count as zero.
func Hamming(a []byte, b []byte) int {
	if len(a) < len(b) {
		a, b = b, a
	}

	distance := 0
	for i := range a {
		var other byte
		if i < len(b) {
			other = b[i]
		}
		distance += bits.OnesCount8(a[i] ^ other)
	}

	return distance
}

// PIDTarget returns a target holding a copy of the current
// process ID in native byte order. Bytes that are zero in the
// process ID are excluded by the mask.
func PIDTarget() Target {
	backing := make([]byte, 4)
	binary.NativeEndian.PutUint32(backing, uint32(os.Getpid()))

	expected := make([]byte, len(backing))
	copy(expected, backing)

	mask := make([]byte, len(backing))
	for i, b := range expected {
		if b != 0 {
			mask[i] = 0xff
		}
	}

	return Target{
		Name:     "pid",
		Address:  uintptr(unsafe.Pointer(&backing[0])),
		Expected: expected,
		Mask:     mask,
		backing:  backing,
	}
}

// HexTarget returns a target for arbitrary memory at addr whose
// contents are expected.
func HexTarget(addr uintptr, expected []byte) Target {
	return Target{
		Name:     fmt.Sprintf("0x%x", addr),
		Address:  addr,
		Expected: expected,
	}
}

// BannerTargetFromProc returns a target for the kernel's version
// banner using memory.KallsymsPath and VersionPath.
func BannerTargetFromProc() (Target, error) {
	addr, err := memory.LookupKallsymsFile(memory.KallsymsPath, BannerSymbol)
	if err != nil {
		return Target{}, fmt.Errorf("failed to find kernel banner - %w", err)
	}

	version, err := os.Open(VersionPath)
	if err != nil {
		return Target{}, fmt.Errorf("failed to open kernel version - %w", err)
	}
	defer version.Close()

	return bannerTarget(addr, version)
}

// BannerTarget returns a target for the kernel's version banner.
// The banner's address is looked up in kallsyms and its expected
// content is read from version.
func BannerTarget(kallsyms io.Reader, version io.Reader) (Target, error) {
	addr, err := memory.LookupKallsyms(kallsyms, BannerSymbol)
	if err != nil {
		return Target{}, fmt.Errorf("failed to find kernel banner - %w", err)
	}

	return bannerTarget(addr, version)
}

func bannerTarget(addr uintptr, version io.Reader) (Target, error) {
	expected, err := io.ReadAll(version)
	if err != nil {
		return Target{}, fmt.Errorf("failed to read kernel version - %w", err)
	}

	if len(expected) == 0 {
		return Target{}, fmt.Errorf("kernel version is empty - %w", ErrEmptyTarget)
	}

	return Target{
		Name:     BannerSymbol,
		Address:  addr,
		Expected: expected,
	}, nil
}
