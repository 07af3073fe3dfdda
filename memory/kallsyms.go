package memory

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gitlab.com/stephen-fox/meltkit/conv"
)

// KallsymsPath is the path to the kernel's symbol table.
const KallsymsPath = "/proc/kallsyms"

var (
	// ErrSymbolHidden is returned for a symbol whose address the
	// kernel replaced with zero.
	ErrSymbolHidden = errors.New("symbol address is hidden (check kernel.kptr_restrict)")

	// ErrNotFound is returned for a symbol that is not in the file.
	ErrNotFound = errors.New("symbol not found")
)

// Symbol is a single /proc/kallsyms entry.
type Symbol struct {
	Address uintptr
	Type    byte
	Name    string

	// Module is the name of the kernel module that owns the
	// symbol. It is empty for symbols in the core kernel.
	Module string
}

// Hidden reports whether the kernel replaced the symbol's
// address with zero.
func (o Symbol) Hidden() bool {
	return o.Address == 0
}

// ParseKallsyms parses symbols in the /proc/kallsyms format from r,
// calling fn for each symbol. Parsing stops early if fn returns false.
func ParseKallsyms(r io.Reader, fn func(Symbol) bool) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++

		line := scanner.Text()
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}

		sym, err := parseKallsymsLine(line)
		if err != nil {
			return fmt.Errorf("failed to parse line %d - %w", lineNum, err)
		}

		if !fn(sym) {
			return nil
		}
	}

	err := scanner.Err()
	if err != nil {
		return fmt.Errorf("failed to read symbols - %w", err)
	}

	return nil
}

// ffffffff81000000 T _text
// ffffffffc0a01000 t foo_init	[foo]
func parseKallsymsLine(line string) (Symbol, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Symbol{}, fmt.Errorf("expected at least 3 fields - got %d", len(fields))
	}

	if len(fields[1]) != 1 {
		return Symbol{}, fmt.Errorf("invalid symbol type: %q", fields[1])
	}

	addr, err := conv.ParseAddress(fields[0])
	if err != nil {
		return Symbol{}, err
	}

	sym := Symbol{
		Address: addr,
		Type:    fields[1][0],
		Name:    fields[2],
	}

	if len(fields) > 3 {
		sym.Module = strings.Trim(fields[3], "[]")
	}

	return sym, nil
}

// LookupKallsyms returns the address of the named symbol.
//
// ErrSymbolHidden is returned if the symbol exists but its
// address was hidden by the kernel.
func LookupKallsyms(r io.Reader, name string) (uintptr, error) {
	var found *Symbol

	err := ParseKallsyms(r, func(sym Symbol) bool {
		if sym.Name != name {
			return true
		}

		found = &sym
		return false
	})
	if err != nil {
		return 0, err
	}

	if found == nil {
		return 0, fmt.Errorf("%q - %w", name, ErrNotFound)
	}

	if found.Hidden() {
		return 0, fmt.Errorf("%q - %w", name, ErrSymbolHidden)
	}

	return found.Address, nil
}

// LookupKallsymsFile opens filePath (usually KallsymsPath) and
// calls LookupKallsyms.
func LookupKallsymsFile(filePath string, name string) (uintptr, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open kernel symbols file - %w", err)
	}
	defer f.Close()

	return LookupKallsyms(f, name)
}

// LoadKallsyms adds the named symbols found in r to table. All
// symbols must be present and visible.
func LoadKallsyms(r io.Reader, table *AddressTable, names ...string) error {
	want := make(map[string]struct{}, len(names))
	for _, name := range names {
		want[name] = struct{}{}
	}

	var hidden []string

	err := ParseKallsyms(r, func(sym Symbol) bool {
		_, isWanted := want[sym.Name]
		if !isWanted {
			return true
		}

		delete(want, sym.Name)

		if sym.Hidden() {
			hidden = append(hidden, sym.Name)
		} else {
			table.Add(sym.Name, sym.Address)
		}

		return len(want) > 0
	})
	if err != nil {
		return err
	}

	if len(hidden) > 0 {
		return fmt.Errorf("%s - %w", strings.Join(hidden, ", "), ErrSymbolHidden)
	}

	for name := range want {
		return fmt.Errorf("%q - %w", name, ErrNotFound)
	}

	return nil
}
