// Package calib drives the multi-step calibration sequence: capture a
// zero average with nothing on the cell, capture an average with a known
// weight, derive the scale, and apply both to the device. Presentation
// (prompts, delays) is the caller's concern; this is only the state
// machine.
package calib

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"hx711-scale/pkg/device"
)

// ErrState rejects an operation that is not valid in the current state.
var ErrState = errors.New("calib: operation not valid in current state")

// State is the position in the calibration sequence.
type State int

const (
	// Idle is the inert state before Begin and after Cancel.
	Idle State = iota
	AwaitZero
	CapturingZero
	AwaitWeight
	CapturingWeight
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitZero:
		return "await-zero"
	case CapturingZero:
		return "capturing-zero"
	case AwaitWeight:
		return "await-weight"
	case CapturingWeight:
		return "capturing-weight"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result is the outcome of one completed calibration.
type Result struct {
	ZeroRaw     int64
	LoadedRaw   int64
	KnownWeight float64
	Scale       float64
	// ZeroNoise and LoadNoise are the sample standard deviations of the
	// two captures, in raw counts; a rough quality indicator.
	ZeroNoise    float64
	LoadNoise    float64
	Temperature  *float64
	CalibratedAt time.Time
}

// Procedure walks a Device through one calibration. Not safe for
// concurrent capture calls; Cancel may be called from another goroutine
// and takes effect once any in-flight capture finishes (which is bounded
// by the read timeout).
type Procedure struct {
	dev     *device.Device
	samples uint

	mu      sync.Mutex
	state   State
	zeroRaw int64
	zeroSD  float64
	temp    *float64
	result  *Result
}

// New returns an idle procedure averaging samples conversions per capture.
func New(dev *device.Device, samples uint) *Procedure {
	if samples < 1 {
		samples = 1
	}
	return &Procedure{dev: dev, samples: samples}
}

// State returns the current state.
func (p *Procedure) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the completed calibration, or nil before Done.
func (p *Procedure) Result() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// SetTemperature records the ambient temperature stored with the result.
func (p *Procedure) SetTemperature(celsius float64) {
	p.mu.Lock()
	p.temp = &celsius
	p.mu.Unlock()
}

// Begin starts (or restarts) a calibration from AwaitZero.
func (p *Procedure) Begin() {
	p.mu.Lock()
	p.state = AwaitZero
	p.zeroRaw = 0
	p.zeroSD = 0
	p.result = nil
	p.mu.Unlock()
}

// Cancel aborts from any non-terminal state back to Idle. Nothing
// captured so far is kept; stored calibration is untouched.
func (p *Procedure) Cancel() {
	p.mu.Lock()
	if p.state != Done {
		p.state = Idle
		p.zeroRaw = 0
		p.zeroSD = 0
		p.result = nil
	}
	p.mu.Unlock()
}

// CaptureZero measures the no-load average. On success the procedure
// advances to AwaitWeight; on a read failure it reports the error and
// returns to AwaitZero.
func (p *Procedure) CaptureZero() error {
	p.mu.Lock()
	if p.state != AwaitZero {
		st := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: capture zero in %v", ErrState, st)
	}
	p.state = CapturingZero
	p.mu.Unlock()

	samples, err := p.dev.ReadSamples(p.samples)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != CapturingZero {
		// Cancelled while reading; discard the capture.
		return fmt.Errorf("%w: cancelled", ErrState)
	}
	if err != nil {
		p.state = AwaitZero
		return fmt.Errorf("zero capture: %w", err)
	}
	p.zeroRaw = int64(math.Round(stat.Mean(samples, nil)))
	p.zeroSD = stat.StdDev(samples, nil)
	p.state = AwaitWeight
	return nil
}

// CaptureWeight measures the loaded average against the captured zero,
// derives the scale, and applies offset/scale to the device (clearing
// any session tare). Invalid weights are rejected synchronously without
// starting a read. On a failed compute the procedure returns to
// AwaitWeight with stored calibration untouched.
func (p *Procedure) CaptureWeight(knownWeight float64) error {
	p.mu.Lock()
	if p.state != AwaitWeight {
		st := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: capture weight in %v", ErrState, st)
	}
	if knownWeight <= 0 || math.IsNaN(knownWeight) || math.IsInf(knownWeight, 0) {
		p.mu.Unlock()
		return fmt.Errorf("%w: known weight must be > 0, got %v", device.ErrInvalidCalibration, knownWeight)
	}
	p.state = CapturingWeight
	zeroRaw := p.zeroRaw
	p.mu.Unlock()

	samples, err := p.dev.ReadSamples(p.samples)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != CapturingWeight {
		return fmt.Errorf("%w: cancelled", ErrState)
	}
	if err != nil {
		p.state = AwaitWeight
		return fmt.Errorf("weight capture: %w", err)
	}

	loadedRaw := int64(math.Round(stat.Mean(samples, nil)))
	scale, err := device.ScaleFrom(loadedRaw, zeroRaw, knownWeight)
	if err != nil {
		p.state = AwaitWeight
		return err
	}

	if err := p.dev.SetScale(scale); err != nil {
		p.state = AwaitWeight
		return err
	}
	p.dev.SetOffset(zeroRaw)
	p.dev.ClearTare()

	p.result = &Result{
		ZeroRaw:      zeroRaw,
		LoadedRaw:    loadedRaw,
		KnownWeight:  knownWeight,
		Scale:        scale,
		ZeroNoise:    p.zeroSD,
		LoadNoise:    stat.StdDev(samples, nil),
		Temperature:  p.temp,
		CalibratedAt: time.Now(),
	}
	p.state = Done
	return nil
}
