package main

import (
	"bufio"
	"fmt"
	"io"
	"iter"

	"gitlab.com/stephen-fox/meltkit/conv"
	"gitlab.com/stephen-fox/meltkit/meltdown"
)

// writeDecoded writes the decoded bytes of seq to w as they arrive,
// either as a hex dump labelled from base or raw. w is flushed after
// every complete hex dump line. expectFn optionally returns the
// expected value of byte i. The number of bytes that matched
// expectFn is returned.
func writeDecoded(seq iter.Seq[meltdown.DecodedByte], w *bufio.Writer, format string, base uintptr, expectFn func(i int) byte) (int, error) {
	var out io.WriteCloser
	switch format {
	case rawOutput:
		out = nopCloser{w}
	case dumpOutput:
		out = conv.NewHexDumper(w, base)
	default:
		return 0, fmt.Errorf("unsupported output format: %q", format)
	}

	correct := 0
	i := 0

	for decoded := range seq {
		_, err := out.Write([]byte{decoded.Value})
		if err != nil {
			return correct, err
		}

		if expectFn != nil && decoded.Value == expectFn(i) {
			correct++
		}
		i++

		if i%conv.HexDumpLineLen == 0 {
			err = w.Flush()
			if err != nil {
				return correct, err
			}
		}
	}

	err := out.Close()
	if err != nil {
		return correct, err
	}

	return correct, w.Flush()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}
