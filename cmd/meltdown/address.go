package main

import (
	"errors"
	"fmt"
	"io"

	"gitlab.com/stephen-fox/meltkit/conv"
	"gitlab.com/stephen-fox/meltkit/memory"
)

// resolveAddress parses str as a hexadecimal address. If str is not
// a number, it is looked up as a kernel symbol in the symbols file
// returned by openSymbols.
func resolveAddress(str string, symbolsName string, openSymbols func() (io.ReadCloser, error)) (uintptr, error) {
	addr, err := conv.ParseAddress(str)
	if err == nil {
		return addr, nil
	}

	if !errors.Is(err, conv.ErrInvalidNumber) || !isSymbolName(str) {
		return 0, fmt.Errorf("invalid address - %w", err)
	}

	symbols, err := openSymbols()
	if err != nil {
		return 0, fmt.Errorf("failed to open kernel symbols - %w", err)
	}
	defer symbols.Close()

	table := memory.NewAddressTable(symbolsName)

	err = memory.LoadKallsyms(symbols, table, str)
	if err != nil {
		return 0, fmt.Errorf("failed to load kernel symbol - %w", err)
	}

	return table.Address(str)
}

func isSymbolName(str string) bool {
	if str == "" {
		return false
	}

	for i, c := range str {
		switch {
		case c == '_', c == '.', c == '$':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}

	return true
}
