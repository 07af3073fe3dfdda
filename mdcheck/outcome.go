package mdcheck

import "strconv"

// Outcome is the result of a Check.
type Outcome int

const (
	// Success means the target was read exactly.
	Success Outcome = iota

	// Partial means the bytes selected by the target's mask
	// were read correctly, but not the whole target.
	Partial

	// Failed means no read matched the target.
	Failed

	// SetupError means the check could not be run.
	SetupError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Partial:
		return "partial"
	case Failed:
		return "failed"
	case SetupError:
		return "setup error"
	default:
		return "unknown outcome " + strconv.Itoa(int(o))
	}
}

// ExitCode returns the process exit status that reports o.
func (o Outcome) ExitCode() int {
	switch o {
	case Success, Partial, Failed, SetupError:
		return int(o)
	default:
		return int(SetupError)
	}
}
