package scripting

import (
	"bufio"
	"io"
	"log"
	"os"
)

// StageCtl reports the progress of a program through numbered
// stages to a log.Logger (log.Default by default), optionally
// pausing at a given stage so that a debugger or a tool such as
// perf can be attached.
type StageCtl struct {
	// Goto optionally specifies a stage number to pause
	// execution at until a newline is read from Input.
	// For example, setting this field to 2 means that
	// the second stage will block until a newline
	// is provided.
	//
	// The stage number is incremented by one each time
	// Next is called.
	Goto int

	// Logger may be specified to override the logging
	// behavior. By default, StageCtl uses the logger
	// returned by log.Default.
	Logger *log.Logger

	// Input is read from when pausing. Defaults to os.Stdin.
	Input io.Reader

	num      int
	prevDesc string
	input    *bufio.Reader
}

// Stage returns the current stage number. It is zero until
// Next is called.
func (o *StageCtl) Stage() int {
	return o.num
}

// Next increments the stage counter by one and writes a log
// message containing an optional description.
func (o *StageCtl) Next(description ...string) {
	logger := log.Default()
	if o.Logger != nil {
		logger = o.Logger
	}

	if o.num > 0 {
		logger.Printf("executed Stage %d: [%s]",
			o.num, o.prevDesc)
	}

	o.num++
	o.prevDesc = ""
	if len(description) > 0 {
		o.prevDesc = description[0]
	}

	logger.Printf("starting Stage %d: [%s]",
		o.num, o.prevDesc)

	if o.Goto == 0 || o.Goto != o.num {
		return
	}

	if o.input == nil {
		input := o.Input
		if input == nil {
			input = os.Stdin
		}
		o.input = bufio.NewReader(input)
	}

	logger.Printf("paused at Stage %d (pid %d), press enter to continue",
		o.num, os.Getpid())

	_, err := o.input.ReadString('\n')
	if err != nil && err != io.EOF {
		logger.Printf("failed to read from input - %s", err)
	}
}
