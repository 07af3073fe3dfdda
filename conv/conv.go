// Package conv converts command line input and memory contents
// between representations.
package conv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidNumber = errors.New("invalid number")
	ErrOutOfRange    = errors.New("value is out of range")
)

// ParseAddress parses a hexadecimal memory address. The "0x"
// prefix is optional. An error wrapping ErrOutOfRange is returned
// if the address does not fit in a uintptr.
func ParseAddress(str string) (uintptr, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(str, "0x"), "0X")

	u, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && numErr.Err == strconv.ErrRange {
			return 0, fmt.Errorf("address %q - %w", str, ErrOutOfRange)
		}
		return 0, fmt.Errorf("address %q - %w", str, ErrInvalidNumber)
	}

	addr := uintptr(u)
	if uint64(addr) != u {
		return 0, fmt.Errorf("address %q - %w", str, ErrOutOfRange)
	}

	return addr, nil
}

// ParseCount parses a non-zero unsigned integer that fits in
// the specified number of bits. Decimal, hexadecimal ("0x"),
// and octal ("0") notations are accepted.
func ParseCount(str string, bits int) (uint64, error) {
	u, err := strconv.ParseUint(str, 0, bits)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && numErr.Err == strconv.ErrRange {
			return 0, fmt.Errorf("%q - %w", str, ErrOutOfRange)
		}
		return 0, fmt.Errorf("%q - %w", str, ErrInvalidNumber)
	}

	if u == 0 {
		return 0, fmt.Errorf("%q - %w", str, ErrOutOfRange)
	}

	return u, nil
}
