package mdcheck

import (
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"

	"gitlab.com/stephen-fox/meltkit/conv"
	"gitlab.com/stephen-fox/meltkit/meltdown"
)

const (
	// DefaultMinRounds is the number of rounds of the first read.
	DefaultMinRounds = 8

	// DefaultMaxRounds is the largest number of rounds attempted.
	DefaultMaxRounds = 512

	// QuickLength is the number of bytes read in quick mode.
	QuickLength = 4
)

// ErrRoundsRange is returned when Config.MinRounds exceeds
// Config.MaxRounds.
var ErrRoundsRange = errors.New("minimum rounds must be between 1 and the maximum rounds")

// Reader reads memory. *meltdown.Engine implements Reader.
type Reader interface {
	ReadAll(req meltdown.Request) ([]byte, error)
}

// Config configures Check. The zero value selects the defaults.
type Config struct {
	// MinRounds is the number of rounds of the first read.
	// Defaults to DefaultMinRounds.
	MinRounds uint

	// MaxRounds is the largest number of rounds attempted.
	// Defaults to DefaultMaxRounds.
	MaxRounds uint

	// Quick limits the check to the first QuickLength bytes
	// of the target.
	Quick bool

	// Verbose optionally receives a hex dump of every read
	// and its rating.
	Verbose *log.Logger
}

func (o *Config) setDefaults() {
	if o.MinRounds == 0 {
		o.MinRounds = DefaultMinRounds
	}

	if o.MaxRounds == 0 {
		o.MaxRounds = DefaultMaxRounds
	}

	if o.Verbose == nil {
		o.Verbose = log.New(io.Discard, "", 0)
	}
}

func (o Config) validate() error {
	if o.MinRounds > o.MaxRounds {
		return fmt.Errorf("%w (min: %d, max: %d)", ErrRoundsRange, o.MinRounds, o.MaxRounds)
	}

	return nil
}

// Result is the result of a Check.
type Result struct {
	Outcome Outcome

	// Rounds is the number of rounds of the read that produced
	// Outcome. It is zero if the check did not run.
	Rounds uint

	// Got is the content read at Rounds.
	Got []byte

	// Distance is the Hamming distance between Got and the
	// target's expected content.
	Distance int

	// Err is set when Outcome is SetupError.
	Err error
}

func (o Result) String() string {
	if o.Outcome == SetupError {
		return fmt.Sprintf("%s: %v", o.Outcome, o.Err)
	}

	return fmt.Sprintf("%s at %d rounds (d = %d)", o.Outcome, o.Rounds, o.Distance)
}

// Check reads target with reader, doubling the number of rounds
// from config.MinRounds until the read matches exactly or the
// rounds exceed config.MaxRounds.
//
// The best outcome is returned: Success, or otherwise Partial if
// any read was a partial match, or otherwise Failed.
func Check(reader Reader, target Target, config Config) Result {
	config.setDefaults()

	err := config.validate()
	if err != nil {
		return Result{Outcome: SetupError, Err: err}
	}

	err = target.Validate()
	if err != nil {
		return Result{Outcome: SetupError, Err: err}
	}

	if config.Quick {
		target = target.Truncate(QuickLength)
	}

	defer runtime.KeepAlive(target.backing)

	config.Verbose.Printf("attempting to read %d bytes of %s at 0x%x",
		len(target.Expected), target.Name, target.Address)

	best := Result{Outcome: Failed}

	for rounds := config.MinRounds; rounds <= config.MaxRounds; rounds *= 2 {
		got, err := reader.ReadAll(meltdown.Request{
			Address: target.Address,
			Length:  uint(len(target.Expected)),
			Rounds:  rounds,
		})
		if err != nil {
			return Result{
				Outcome: SetupError,
				Rounds:  rounds,
				Err:     fmt.Errorf("failed to read %s - %w", target.Name, err),
			}
		}

		config.Verbose.Print(conv.HexDump(target.Address, got))

		outcome, err := target.Compare(got)
		if err != nil {
			return Result{Outcome: SetupError, Rounds: rounds, Err: err}
		}

		current := Result{
			Outcome:  outcome,
			Rounds:   rounds,
			Got:      got,
			Distance: Hamming(got, target.Expected),
		}

		switch outcome {
		case Success:
			config.Verbose.Printf("exact match at %d rounds", rounds)
			return current
		case Partial:
			config.Verbose.Printf("imperfect match at %d rounds", rounds)
			best = current
		default:
			config.Verbose.Printf("no match with %d rounds (d = %d)", rounds, current.Distance)
			if best.Outcome != Partial {
				best = current
			}
		}
	}

	return best
}
