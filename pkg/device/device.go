// Package device owns one HX711 and its calibration model: persisted
// offset/scale, the session tare, and the conversion from raw counts to
// physical units. All chip access and state mutation happen under one
// mutex, so a delivered reading always reflects a consistent
// (offset, scale, tare) triple and the two-wire interface never sees
// concurrent readers.
package device

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"hx711-scale/pkg/hx711"
)

// StandardGravity converts grams to newtons: N = g/1000 * StandardGravity.
const StandardGravity = 9.80665

var (
	// ErrInvalidScale rejects a zero or non-finite calibration scale.
	ErrInvalidScale = errors.New("device: scale must be finite and non-zero")
	// ErrInvalidCalibration rejects a calibration that would store a
	// broken offset/scale pair.
	ErrInvalidCalibration = errors.New("device: invalid calibration")
)

// Reading is one converted measurement.
type Reading struct {
	Raw          int32     `json:"raw"`
	Grams        float64   `json:"grams"`
	Newtons      float64   `json:"newtons"`
	SampleRateHz float64   `json:"hz"`
	Timestamp    time.Time `json:"timestamp"`
}

// Device wraps a driver with calibration and tare state.
type Device struct {
	mu  sync.Mutex
	drv *hx711.Driver

	// offset is the persisted raw count at zero load, scale the persisted
	// counts per gram. tare is the additive session-only zero adjustment;
	// it never touches offset/scale.
	offset int64
	scale  float64
	tare   int64
}

// New returns an uncalibrated device (offset 0, scale 1).
func New(drv *hx711.Driver) *Device {
	return &Device{drv: drv, scale: 1.0}
}

// Configure applies the gain. Fails with hx711.ErrInvalidGain for
// unsupported values; nothing changes on failure.
func (d *Device) Configure(gain hx711.Gain) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drv.SetGain(gain)
}

// ReadAverage reads samples conversions and returns their mean rounded
// to integer counts. All-or-nothing: a timeout on any sub-read fails the
// whole average.
func (d *Device) ReadAverage(samples uint) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readAverageLocked(samples)
}

// ReadSamples reads samples conversions and returns each raw count, for
// callers that need distribution statistics rather than just the mean.
func (d *Device) ReadSamples(samples uint) ([]float64, error) {
	if samples < 1 {
		samples = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, 0, samples)
	for i := uint(0); i < samples; i++ {
		raw, err := d.drv.ReadRaw()
		if err != nil {
			return nil, fmt.Errorf("sample %d of %d: %w", i+1, samples, err)
		}
		out = append(out, float64(raw))
	}
	return out, nil
}

// Tare measures the current average and sets the session offset so that
// the present load reads as zero grams. Persisted calibration is not
// touched.
func (d *Device) Tare(samples uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	avg, err := d.readAverageLocked(samples)
	if err != nil {
		return err
	}
	d.tare = int64(avg) - d.offset
	return nil
}

// ClearTare resets the session offset to zero.
func (d *Device) ClearTare() {
	d.mu.Lock()
	d.tare = 0
	d.mu.Unlock()
}

// SessionOffset returns the current tare offset in raw counts.
func (d *Device) SessionOffset() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tare
}

// SetOffset sets the persisted zero-load raw count.
func (d *Device) SetOffset(offset int64) {
	d.mu.Lock()
	d.offset = offset
	d.mu.Unlock()
}

// Offset returns the persisted zero-load raw count.
func (d *Device) Offset() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset
}

// SetScale sets the persisted counts-per-gram scale. Fails with
// ErrInvalidScale for zero or non-finite values.
func (d *Device) SetScale(scale float64) error {
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	d.mu.Lock()
	d.scale = scale
	d.mu.Unlock()
	return nil
}

// Scale returns the persisted counts-per-gram scale.
func (d *Device) Scale() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scale
}

// ComputeScale measures the loaded average and derives counts per gram
// relative to zeroRaw. Nothing is stored; the caller decides whether to
// apply the result.
func (d *Device) ComputeScale(knownWeight float64, zeroRaw int64, samples uint) (float64, error) {
	if err := checkKnownWeight(knownWeight); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	loaded, err := d.readAverageLocked(samples)
	if err != nil {
		return 0, err
	}
	return ScaleFrom(int64(loaded), zeroRaw, knownWeight)
}

// ScaleFrom computes counts per gram from an already-measured loaded
// average. Fails with ErrInvalidCalibration when the weight is not
// positive, the delta is zero, or the result is non-finite.
func ScaleFrom(loadedRaw, zeroRaw int64, knownWeight float64) (float64, error) {
	if err := checkKnownWeight(knownWeight); err != nil {
		return 0, err
	}
	delta := loadedRaw - zeroRaw
	if delta == 0 {
		return 0, fmt.Errorf("%w: no raw delta between zero and load", ErrInvalidCalibration)
	}
	scale := float64(delta) / knownWeight
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return 0, fmt.Errorf("%w: computed scale %v", ErrInvalidCalibration, scale)
	}
	return scale, nil
}

// ToReading converts a raw count using the current calibration and tare.
// Pure; never fails.
func (d *Device) ToReading(raw int32) Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.toReadingLocked(raw, 0)
}

// Sample reads an average and converts it in one critical section, so
// the reading reflects the offset/scale pair in effect at read time.
func (d *Device) Sample(samples uint) (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.readAverageLocked(samples)
	if err != nil {
		return Reading{}, err
	}
	return d.toReadingLocked(raw, 0), nil
}

// Close powers the chip down and releases the pins.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.drv.PowerDown(); err != nil {
		return err
	}
	return d.drv.Close()
}

func (d *Device) readAverageLocked(samples uint) (int32, error) {
	if samples < 1 {
		samples = 1
	}
	var sum int64
	for i := uint(0); i < samples; i++ {
		raw, err := d.drv.ReadRaw()
		if err != nil {
			return 0, fmt.Errorf("sample %d of %d: %w", i+1, samples, err)
		}
		sum += int64(raw)
	}
	return int32(math.Round(float64(sum) / float64(samples))), nil
}

func (d *Device) toReadingLocked(raw int32, hz float64) Reading {
	grams := (float64(raw) - float64(d.offset) - float64(d.tare)) / d.scale
	return Reading{
		Raw:          raw,
		Grams:        grams,
		Newtons:      grams / 1000.0 * StandardGravity,
		SampleRateHz: hz,
		Timestamp:    time.Now(),
	}
}

func checkKnownWeight(w float64) error {
	if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("%w: known weight must be > 0, got %v", ErrInvalidCalibration, w)
	}
	return nil
}
