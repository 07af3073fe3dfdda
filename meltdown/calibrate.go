package meltdown

import (
	"errors"
	"fmt"
	"math"

	"gitlab.com/stephen-fox/meltkit/hwkit"
)

// DefaultCalibrationRounds is the default number of samples taken
// per calibration phase.
const DefaultCalibrationRounds = 1 << 20

var (
	// ErrInvertedLatency means cached reads were not faster than
	// flushed reads on average.
	ErrInvertedLatency = errors.New("average hot read latency is not below average cold read latency")

	// ErrNoSeparation means no integer threshold lies strictly
	// between the hot and cold averages.
	ErrNoSeparation = errors.New("no threshold separates hot and cold read latency")
)

// Calibration is the result of timing hot and cold reads of
// a probe line. All values are in cycles.
type Calibration struct {
	AvgCold   uint64
	AvgHot    uint64
	Threshold uint64
}

// Margin returns the difference between the cold and hot averages.
func (o Calibration) Margin() uint64 {
	if o.AvgCold < o.AvgHot {
		return 0
	}
	return o.AvgCold - o.AvgHot
}

// LowMargin reports whether the hot and cold averages are so close
// that decoding is likely to be unreliable.
func (o Calibration) LowMargin() bool {
	return o.Margin() < o.Threshold/10
}

// Validate checks that AvgHot < Threshold < AvgCold.
func (o Calibration) Validate() error {
	if o.AvgHot >= o.AvgCold {
		return fmt.Errorf("%w (hot: %d, cold: %d)", ErrInvertedLatency, o.AvgHot, o.AvgCold)
	}

	if o.Threshold <= o.AvgHot || o.Threshold >= o.AvgCold {
		return fmt.Errorf("%w (hot: %d, threshold: %d, cold: %d)",
			ErrNoSeparation, o.AvgHot, o.Threshold, o.AvgCold)
	}

	return nil
}

func (o Calibration) String() string {
	return fmt.Sprintf("hot: %d, cold: %d, threshold: %d", o.AvgHot, o.AvgCold, o.Threshold)
}

// ThresholdPolicy derives the decision threshold from the
// hot and cold averages.
type ThresholdPolicy int

const (
	// MeanThreshold uses the arithmetic mean of the averages.
	MeanThreshold ThresholdPolicy = iota

	// GeometricThreshold uses the smallest integer t for which
	// t*t >= hot*cold.
	GeometricThreshold
)

// ParseThresholdPolicy parses "mean" or "geo".
func ParseThresholdPolicy(str string) (ThresholdPolicy, error) {
	switch str {
	case "mean":
		return MeanThreshold, nil
	case "geo":
		return GeometricThreshold, nil
	default:
		return 0, fmt.Errorf("unknown threshold policy: %q", str)
	}
}

func (o ThresholdPolicy) String() string {
	switch o {
	case MeanThreshold:
		return "mean"
	case GeometricThreshold:
		return "geo"
	default:
		return fmt.Sprintf("unknown (%d)", int(o))
	}
}

// Threshold returns the threshold for the given averages.
func (o ThresholdPolicy) Threshold(hot uint64, cold uint64) uint64 {
	switch o {
	case GeometricThreshold:
		return isqrtCeil(hot * cold)
	default:
		return (hot + cold) / 2
	}
}

// isqrtCeil returns the smallest t such that t*t >= n.
func isqrtCeil(n uint64) uint64 {
	t := uint64(math.Sqrt(float64(n)))
	for t*t < n {
		t++
	}
	for t > 0 && (t-1)*(t-1) >= n {
		t--
	}
	return t
}

func calibrate(hw hwkit.Hardware, addr uintptr, rounds int, policy ThresholdPolicy) (Calibration, error) {
	if rounds <= 0 {
		return Calibration{}, fmt.Errorf("calibration rounds must be greater than 0")
	}

	cold := trimmedMean(rounds, func() uint64 {
		hw.Flush(addr)
		return hw.TimedRead(addr)
	})

	hw.TimedRead(addr)
	hot := trimmedMean(rounds, func() uint64 {
		return hw.TimedRead(addr)
	})

	result := Calibration{
		AvgCold:   cold,
		AvgHot:    hot,
		Threshold: policy.Threshold(hot, cold),
	}

	err := result.Validate()
	if err != nil {
		return result, err
	}

	return result, nil
}

// trimmedMean takes n+2 samples, discards the smallest and the
// largest, and averages the rest.
func trimmedMean(n int, sampleFn func() uint64) uint64 {
	lowest := uint64(math.MaxUint64)
	highest := uint64(0)
	sum := uint64(0)

	for i := 0; i < n+2; i++ {
		meas := sampleFn()
		if meas < lowest {
			lowest = meas
		}
		if meas > highest {
			highest = meas
		}
		sum += meas
	}

	sum -= lowest
	sum -= highest

	return sum / uint64(n)
}
