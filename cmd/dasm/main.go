package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"gitlab.com/stephen-fox/meltkit/asmkit"
	"gitlab.com/stephen-fox/meltkit/conv"
)

const (
	asmSyntaxArg    = "s"
	inputFormatArg  = "i"
	outputFormatArg = "o"
	baseAddrArg     = "b"
	helpArg         = "h"

	intelSyntax = "intel"
	attSyntax   = "att"
	goSyntax    = "go"

	hexFormat = "hex"
	rawFormat = "raw"
	b64Format = "b64"

	prettyFormat      = "pretty"
	jsonVerboseFormat = "jsonv"
	goFormat          = "go"

	x86_32Platform = "x86_32"
	x86_64Platform = "x86_64"

	appName = "dasm"
	usage   = appName + `
DESCRIPTION
  Disassembles x86 machine code read from stdin, such as kernel
  text read with meltdown.

USAGE
  ` + appName + ` [options] [` + x86_32Platform + `|` + x86_64Platform + `] < some-file

EXAMPLES
  Disassemble the first bytes of the kernel:
    $ meltdown -o raw -a ffffffff81000000 -l 32 | ` + appName + ` -i raw -b ffffffff81000000
    ffffffff81000000  lea rsp, ptr [rip+0x1603f51]
    ...

  Disassemble hex-encoded instructions into a Go []byte:
    $ echo '0f b6 06 48 d3 e0 0f b6 04 07 c3' | ` + appName + ` -` + outputFormatArg + ` ` + goFormat + `
    []byte{
    	0x0f, 0xb6, 0x06, // movzx eax, byte ptr [rsi]
    	...
    }

OPTIONS
`
)

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	help := flag.Bool(
		helpArg,
		false,
		"Display this information")

	inputFormat := flag.String(
		inputFormatArg,
		hexFormat,
		fmt.Sprintf("The input data format ('%s', '%s', or '%s')", hexFormat, rawFormat, b64Format))

	outputFormat := flag.String(
		outputFormatArg,
		prettyFormat,
		fmt.Sprintf("The output format ('%s', '%s', or '%s')", prettyFormat, jsonVerboseFormat, goFormat))

	syntax := flag.String(
		asmSyntaxArg,
		intelSyntax,
		fmt.Sprintf("The desired assembly syntax ('%s', '%s', or '%s')", intelSyntax, attSyntax, goSyntax))

	baseAddrStr := flag.String(
		baseAddrArg,
		"0",
		"The hexadecimal address of the first instruction")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	platform := x86_64Platform
	switch flag.NArg() {
	case 0:
	case 1:
		platform = flag.Arg(0)
	default:
		return fmt.Errorf("please specify at most one platform ('%s' or '%s')",
			x86_32Platform, x86_64Platform)
	}

	config := asmkit.DisassemblerConfig{
		Syntax: asmkit.DisassemblySyntax(*syntax),
	}

	switch platform {
	case x86_32Platform:
		config.Bits = 32
	case x86_64Platform:
		config.Bits = 64
	default:
		return fmt.Errorf("unsupported platform: '%s'", platform)
	}

	baseAddr, err := conv.ParseAddress(*baseAddrStr)
	if err != nil {
		return fmt.Errorf("invalid base address - %w", err)
	}

	disassembler, err := asmkit.NewDisassembler(config)
	if err != nil {
		return fmt.Errorf("failed to create new disassembler - %w", err)
	}

	var binaryInsts []byte
	switch *inputFormat {
	case b64Format:
		binaryInsts, err = io.ReadAll(base64.NewDecoder(base64.StdEncoding, os.Stdin))
	case hexFormat:
		binaryInsts, err = conv.HexArrayToBytes(os.Stdin)
	case rawFormat:
		binaryInsts, err = io.ReadAll(os.Stdin)
	default:
		err = fmt.Errorf("unknown input format: %q", *inputFormat)
	}
	if err != nil {
		return fmt.Errorf("failed to read %q instructions - %w", *inputFormat, err)
	}

	output := bufio.NewWriter(os.Stdout)
	var writer instWriter

	switch *outputFormat {
	case prettyFormat:
		writer = &disassWriter{
			w: output,
		}
	case jsonVerboseFormat:
		writer = &jsonVerboseWriter{
			indent: "  ",
			w:      output,
		}
	case goFormat:
		writer = &goByteSliceWriter{
			w: output,
		}
	default:
		return fmt.Errorf("unsupported output format: %q",
			*outputFormat)
	}

	err = disassembler.All(binaryInsts, baseAddr, writer.Write)
	if err != nil {
		return fmt.Errorf("failed to decode instructions for %q - %w",
			platform, err)
	}

	err = writer.Flush()
	if err != nil {
		return fmt.Errorf("failed to write remaining data to output - %w", err)
	}

	return output.Flush()
}

type instWriter interface {
	Write(asmkit.Inst) error
	Flush() error
}

var _ instWriter = (*disassWriter)(nil)

type disassWriter struct {
	w io.Writer
}

func (o *disassWriter) Write(inst asmkit.Inst) error {
	_, err := fmt.Fprintf(o.w, "%x  %s\n", inst.Addr, inst.Dis)
	return err
}

func (o *disassWriter) Flush() error {
	return nil
}

var _ instWriter = (*jsonVerboseWriter)(nil)

type jsonInst struct {
	Addr string `json:"addr"`
	Hex  string `json:"hex"`
	Dis  string `json:"dis"`
	Op   string `json:"op"`
}

type jsonVerboseWriter struct {
	indent string
	w      io.Writer
	buf    []jsonInst
}

func (o *jsonVerboseWriter) Write(inst asmkit.Inst) error {
	o.buf = append(o.buf, jsonInst{
		Addr: fmt.Sprintf("0x%x", inst.Addr),
		Hex:  fmt.Sprintf("%x", inst.Bin),
		Dis:  inst.Dis,
		Op:   inst.Inst.Op.String(),
	})

	return nil
}

func (o *jsonVerboseWriter) Flush() error {
	enc := json.NewEncoder(o.w)

	enc.SetIndent("", o.indent)

	return enc.Encode(o.buf)
}

var _ instWriter = (*goByteSliceWriter)(nil)

type goByteSliceWriter struct {
	isInit bool
	w      io.Writer
}

func (o *goByteSliceWriter) Write(inst asmkit.Inst) error {
	if !o.isInit {
		o.isInit = true

		_, err := io.WriteString(o.w, "[]byte{\n")
		if err != nil {
			return err
		}
	}

	_, err := io.WriteString(o.w, "\t")
	if err != nil {
		return err
	}

	for _, b := range inst.Bin {
		_, err = fmt.Fprintf(o.w, "0x%02x, ", b)
		if err != nil {
			return err
		}
	}

	_, err = io.WriteString(o.w, "// "+inst.Dis+"\n")
	return err
}

func (o *goByteSliceWriter) Flush() error {
	if !o.isInit {
		return nil
	}

	_, err := io.WriteString(o.w, "}\n")
	return err
}
