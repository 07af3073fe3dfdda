package conv

import (
	"bytes"
	"fmt"
	"io"
)

// HexDumpLineLen is the number of bytes on each line of a hex dump.
const HexDumpLineLen = 16

// NewHexDumper returns a HexDumper that writes to w, labelling the
// first byte written with address base.
func NewHexDumper(w io.Writer, base uintptr) *HexDumper {
	return &HexDumper{
		w:    w,
		addr: base,
	}
}

// HexDumper is an io.WriteCloser that formats the bytes written to
// it as a canonical hex dump:
//
//	ffffffff80000000  48 8d 25 51 3f 60 01 48  8d 3d f2 ff ff ff b9 01  |H.%Q?`.H.=......|
//
// Lines are written as soon as they are complete. Close writes
// the final partial line.
type HexDumper struct {
	w    io.Writer
	addr uintptr
	line []byte
}

func (o *HexDumper) Write(p []byte) (int, error) {
	written := 0

	for len(p) > 0 {
		n := HexDumpLineLen - len(o.line)
		if n > len(p) {
			n = len(p)
		}

		o.line = append(o.line, p[:n]...)
		p = p[n:]
		written += n

		if len(o.line) == HexDumpLineLen {
			err := o.flush()
			if err != nil {
				return written, err
			}
		}
	}

	return written, nil
}

// WriteByte writes a single byte.
func (o *HexDumper) WriteByte(b byte) error {
	_, err := o.Write([]byte{b})
	return err
}

// Close writes any buffered bytes as a final, shorter line.
func (o *HexDumper) Close() error {
	if len(o.line) == 0 {
		return nil
	}

	return o.flush()
}

func (o *HexDumper) flush() error {
	buf := bytes.NewBuffer(nil)

	fmt.Fprintf(buf, "%0*x ", 2*ptrSize, o.addr)

	for i := 0; i < HexDumpLineLen; i++ {
		if i%8 == 0 {
			buf.WriteByte(' ')
		}

		if i < len(o.line) {
			fmt.Fprintf(buf, "%02x ", o.line[i])
		} else {
			buf.WriteString("   ")
		}
	}

	buf.WriteString(" |")
	for _, b := range o.line {
		if b >= ' ' && b <= '~' {
			buf.WriteByte(b)
		} else {
			buf.WriteByte('.')
		}
	}
	buf.WriteString("|\n")

	o.addr += uintptr(len(o.line))
	o.line = o.line[:0]

	_, err := o.w.Write(buf.Bytes())
	return err
}

// HexDump formats b as a hex dump labelled with address base.
func HexDump(base uintptr, b []byte) string {
	buf := bytes.NewBuffer(nil)
	dumper := NewHexDumper(buf, base)

	dumper.Write(b)
	dumper.Close()

	return buf.String()
}
