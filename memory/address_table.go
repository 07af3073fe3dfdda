package memory

import (
	"errors"
	"fmt"
)

// ErrUnknownSymbol is returned when a symbol is not in an AddressTable.
var ErrUnknownSymbol = errors.New("symbol is not in the lookup table")

// NewAddressTable creates a new, empty *AddressTable for the
// specified context.
func NewAddressTable(context string) *AddressTable {
	return &AddressTable{
		context: context,
		symbols: make(map[string]uintptr),
	}
}

// AddressTable maps symbol names to memory addresses within a single
// context. A context is typically the source of the addresses, such
// as a particular kernel symbols file, because the addresses differ
// between kernel builds and (with KASLR) between boots.
type AddressTable struct {
	context string
	symbols map[string]uintptr
}

// Context returns the table's context.
func (o *AddressTable) Context() string {
	return o.context
}

// Add sets the address of a symbol.
func (o *AddressTable) Add(symbol string, addr uintptr) *AddressTable {
	o.symbols[symbol] = addr
	return o
}

// Address returns the address of symbol.
func (o *AddressTable) Address(symbol string) (uintptr, error) {
	addr, hasIt := o.symbols[symbol]
	if !hasIt {
		return 0, fmt.Errorf("failed to find %q in %q - %w",
			symbol, o.context, ErrUnknownSymbol)
	}

	return addr, nil
}
