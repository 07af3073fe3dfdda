package conv

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
)

// HexArrayToBytes decodes hex-encoded bytes read from source. It
// accepts the notations commonly used to write down memory contents:
//
//	de ad be ef
//	deadbeef
//	"\xde\xad\xbe\xef"
//	{0xde, 0xad, 0xbe, 0xef}
//
// C comments are ignored, which allows expected memory contents
// to be annotated.
func HexArrayToBytes(source io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read hex data - %w", err)
	}

	var out []byte
	var token []byte

	flush := func() error {
		if len(token) == 0 {
			return nil
		}

		if len(token)%2 != 0 {
			token = append([]byte{'0'}, token...)
		}

		decoded := make([]byte, hex.DecodedLen(len(token)))
		_, err := hex.Decode(decoded, token)
		if err != nil {
			return fmt.Errorf("failed to hex-decode %q - %w", token, err)
		}

		out = append(out, decoded...)
		token = token[:0]

		return nil
	}

	withoutComments := stripComments(raw)

	for i := 0; i < len(withoutComments); i++ {
		b := withoutComments[i]

		if isPrefix(withoutComments, i, len(token) == 0) {
			err := flush()
			if err != nil {
				return nil, err
			}
			i++
			continue
		}

		if isHexChar(b) {
			token = append(token, b)
			continue
		}

		err := flush()
		if err != nil {
			return nil, err
		}
	}

	err = flush()
	if err != nil {
		return nil, err
	}

	return out, nil
}

// isPrefix reports whether a "\x" or "0x" prefix starts at i.
func isPrefix(b []byte, i int, atTokenStart bool) bool {
	if i+1 >= len(b) || (b[i+1] != 'x' && b[i+1] != 'X') {
		return false
	}

	switch b[i] {
	case '\\':
		return true
	case '0':
		return atTokenStart
	default:
		return false
	}
}

func stripComments(b []byte) []byte {
	out := bytes.NewBuffer(nil)

	for i := 0; i < len(b); i++ {
		if b[i] == '/' && i+1 < len(b) {
			switch b[i+1] {
			case '/':
				end := bytes.IndexByte(b[i:], '\n')
				if end < 0 {
					return out.Bytes()
				}
				i += end
			case '*':
				end := bytes.Index(b[i+2:], []byte("*/"))
				if end < 0 {
					return out.Bytes()
				}
				i += end + 3
				out.WriteByte(' ')
				continue
			}
		}

		out.WriteByte(b[i])
	}

	return out.Bytes()
}

func isHexChar(b byte) bool {
	return (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || (b >= '0' && b <= '9')
}
