package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"gitlab.com/stephen-fox/meltkit/conv"
	"gitlab.com/stephen-fox/meltkit/mdcheck"
	"gitlab.com/stephen-fox/meltkit/meltdown"
)

const (
	quickArg       = "q"
	verboseArg     = "v"
	modeArg        = "m"
	addressArg     = "a"
	expectedArg    = "x"
	calibrationArg = "c"
	helpArg        = "h"

	pidMode    = "pid"
	bannerMode = "banner"
	hexMode    = "hex"

	appName = "mdcheck"
	usage   = appName + `
DESCRIPTION
  Checks whether this system is vulnerable to Meltdown by reading
  memory of known content, with 8 to 512 rounds per byte.

  In '` + bannerMode + `' mode the kernel's version banner is read. Its
  address is looked up in /proc/kallsyms, which usually requires root.
  In '` + pidMode + `' mode an in-process copy of the process ID is read,
  which validates the side channel without crossing a privilege
  boundary. In '` + hexMode + `' mode the memory at -` + addressArg + ` is compared
  against the hex bytes in -` + expectedArg + `.

EXIT STATUS
  0 - the memory was read exactly
  1 - the memory was read partially
  2 - the memory could not be read
  3 - the check could not be run

USAGE
  ` + appName + ` [options]

OPTIONS
`
)

func main() {
	log.SetFlags(0)

	outcome, err := mainWithError()
	if err != nil {
		log.Println("fatal:", err)
	}

	os.Exit(outcome.ExitCode())
}

func mainWithError() (mdcheck.Outcome, error) {
	help := flag.Bool(
		helpArg,
		false,
		"Display this information")

	quick := flag.Bool(
		quickArg,
		false,
		fmt.Sprintf("Only read the first %d bytes", mdcheck.QuickLength))

	verbose := flag.Bool(
		verboseArg,
		false,
		"Log every read to stderr")

	mode := flag.String(
		modeArg,
		bannerMode,
		fmt.Sprintf("The memory to read ('%s', '%s', or '%s')", bannerMode, pidMode, hexMode))

	addressStr := flag.String(
		addressArg,
		"",
		fmt.Sprintf("The hexadecimal address to read in '%s' mode", hexMode))

	expectedStr := flag.String(
		expectedArg,
		"",
		fmt.Sprintf("The expected hex-encoded bytes in '%s' mode", hexMode))

	calibrationStr := flag.String(
		calibrationArg,
		fmt.Sprint(meltdown.DefaultCalibrationRounds),
		"The number of samples per calibration phase")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(mdcheck.SetupError.ExitCode())
	}

	if flag.NArg() > 0 {
		return mdcheck.SetupError, fmt.Errorf("unexpected arguments: %q", flag.Args())
	}

	calibrationRounds, err := conv.ParseCount(*calibrationStr, 31)
	if err != nil {
		return mdcheck.SetupError, fmt.Errorf("invalid calibration round count - %w", err)
	}

	verboseLogger := log.New(io.Discard, "", 0)
	if *verbose {
		verboseLogger = log.New(os.Stderr, "", 0)
	}

	var target mdcheck.Target

	switch *mode {
	case pidMode:
		target = mdcheck.PIDTarget()
	case bannerMode:
		target, err = mdcheck.BannerTargetFromProc()
		if err != nil {
			return mdcheck.SetupError, err
		}
	case hexMode:
		if *addressStr == "" || *expectedStr == "" {
			return mdcheck.SetupError, fmt.Errorf("'%s' mode requires -%s and -%s",
				hexMode, addressArg, expectedArg)
		}

		addr, err := conv.ParseAddress(*addressStr)
		if err != nil {
			return mdcheck.SetupError, fmt.Errorf("invalid address - %w", err)
		}

		expected, err := conv.HexArrayToBytes(strings.NewReader(*expectedStr))
		if err != nil {
			return mdcheck.SetupError, fmt.Errorf("invalid expected bytes - %w", err)
		}

		target = mdcheck.HexTarget(addr, expected)
	default:
		return mdcheck.SetupError, fmt.Errorf("unsupported mode: %q", *mode)
	}

	engine, err := meltdown.New(meltdown.Config{
		CalibrationRounds: int(calibrationRounds),
		Verbose:           verboseLogger,
	})
	if err != nil {
		return mdcheck.SetupError, fmt.Errorf("failed to initialize - %w", err)
	}
	defer engine.Close()

	_, err = engine.Calibrate()
	if err != nil {
		return mdcheck.SetupError, fmt.Errorf("failed to calibrate - %w", err)
	}

	result := mdcheck.Check(engine, target, mdcheck.Config{
		Quick:   *quick,
		Verbose: verboseLogger,
	})
	if result.Outcome == mdcheck.SetupError {
		return result.Outcome, result.Err
	}

	log.Printf("%s: %s", target.Name, result)

	return result.Outcome, nil
}
