package main

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"gitlab.com/stephen-fox/meltkit/meltdown"
)

func decodedSeq(b []byte, beforeYield func(i int)) func(func(meltdown.DecodedByte) bool) {
	return func(yield func(meltdown.DecodedByte) bool) {
		for i, value := range b {
			beforeYield(i)

			if !yield(meltdown.DecodedByte{Address: 0x1000 + uintptr(i), Value: value}) {
				return
			}
		}
	}
}

func TestWriteDecoded_FlushesEveryDumpLine(t *testing.T) {
	input := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	out := bytes.NewBuffer(nil)

	seq := decodedSeq(input, func(i int) {
		expLines := i / 16
		lines := strings.Count(out.String(), "\n")
		if lines != expLines {
			t.Fatalf("before byte %d: expected %d lines written - got %d", i, expLines, lines)
		}
	})

	correct, err := writeDecoded(seq, bufio.NewWriter(out), dumpOutput, 0x1000, nil)
	if err != nil {
		t.Fatal(err)
	}

	if correct != 0 {
		t.Fatalf("expected no comparison - got %d correct", correct)
	}

	if strings.Count(out.String(), "\n") != 3 {
		t.Fatalf("expected 3 lines - got:\n%s", out.String())
	}

	if !strings.Contains(out.String(), "|wxyz|") {
		t.Fatalf("final partial line is missing:\n%s", out.String())
	}
}

func TestWriteDecoded_RawSelfTest(t *testing.T) {
	input := []byte("!\"#X")
	out := bytes.NewBuffer(nil)

	correct, err := writeDecoded(decodedSeq(input, func(int) {}), bufio.NewWriter(out),
		rawOutput, 0, meltdown.SelfTestByte)
	if err != nil {
		t.Fatal(err)
	}

	if out.String() != string(input) {
		t.Fatalf("expected '%s' - got '%s'", input, out.String())
	}

	if correct != 3 {
		t.Fatalf("expected 3 correct bytes - got %d", correct)
	}
}

func TestWriteDecoded_UnsupportedFormat(t *testing.T) {
	_, err := writeDecoded(decodedSeq(nil, func(int) {}), bufio.NewWriter(bytes.NewBuffer(nil)),
		"xml", 0, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
}
