package calib

import (
	"errors"
	"math"
	"testing"
	"time"

	"hx711-scale/pkg/device"
	"hx711-scale/pkg/hx711"
)

func newSimProcedure(t *testing.T, samples uint) (*Procedure, *device.Device, *hx711.SimPins, *hx711.Driver) {
	t.Helper()
	sim := hx711.NewSimPins(0, 0)
	drv, err := hx711.New(sim, hx711.Gain128)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	dev := device.New(drv)
	return New(dev, samples), dev, sim, drv
}

func TestFullSequence(t *testing.T) {
	p, dev, sim, _ := newSimProcedure(t, 4)

	if p.State() != Idle {
		t.Fatalf("initial state: %v", p.State())
	}
	p.Begin()
	if p.State() != AwaitZero {
		t.Fatalf("state after begin: %v", p.State())
	}

	sim.QueueValues(1000, 1000, 1000, 1000)
	if err := p.CaptureZero(); err != nil {
		t.Fatalf("capture zero: %v", err)
	}
	if p.State() != AwaitWeight {
		t.Fatalf("state after zero: %v", p.State())
	}

	sim.QueueValues(5000, 5000, 5000, 5000)
	if err := p.CaptureWeight(1000); err != nil {
		t.Fatalf("capture weight: %v", err)
	}
	if p.State() != Done {
		t.Fatalf("state after weight: %v", p.State())
	}

	res := p.Result()
	if res == nil {
		t.Fatal("nil result after done")
	}
	if res.ZeroRaw != 1000 || res.LoadedRaw != 5000 || res.Scale != 4.0 {
		t.Fatalf("result: %+v", res)
	}
	if res.CalibratedAt.IsZero() {
		t.Fatal("missing calibration timestamp")
	}

	// Applied to the device, with the session tare cleared.
	if dev.Offset() != 1000 || dev.Scale() != 4.0 {
		t.Fatalf("device calibration: offset=%d scale=%v", dev.Offset(), dev.Scale())
	}
	if dev.SessionOffset() != 0 {
		t.Fatalf("tare not cleared: %d", dev.SessionOffset())
	}
	if r := dev.ToReading(5000); math.Abs(r.Grams-1000.0) > 1e-9 {
		t.Fatalf("round trip grams: got %v want 1000", r.Grams)
	}
}

func TestCaptureNoise(t *testing.T) {
	p, _, sim, _ := newSimProcedure(t, 4)
	p.Begin()
	sim.QueueValues(990, 1010, 990, 1010)
	if err := p.CaptureZero(); err != nil {
		t.Fatalf("capture zero: %v", err)
	}
	sim.QueueValues(5000, 5000, 5000, 5000)
	if err := p.CaptureWeight(1000); err != nil {
		t.Fatalf("capture weight: %v", err)
	}
	res := p.Result()
	if res.ZeroNoise <= 0 {
		t.Fatalf("zero noise: got %v, want > 0", res.ZeroNoise)
	}
	if res.LoadNoise != 0 {
		t.Fatalf("load noise: got %v, want 0", res.LoadNoise)
	}
}

func TestInvalidWeightRejectedSynchronously(t *testing.T) {
	p, _, sim, _ := newSimProcedure(t, 2)
	p.Begin()
	sim.QueueValues(1000, 1000)
	if err := p.CaptureZero(); err != nil {
		t.Fatalf("capture zero: %v", err)
	}

	reads := sim.Reads()
	for _, w := range []float64{0, -5, math.NaN()} {
		if err := p.CaptureWeight(w); !errors.Is(err, device.ErrInvalidCalibration) {
			t.Fatalf("weight %v: got %v, want ErrInvalidCalibration", w, err)
		}
		if p.State() != AwaitWeight {
			t.Fatalf("weight %v: state %v, want AwaitWeight", w, p.State())
		}
	}
	if sim.Reads() != reads {
		t.Fatal("rejected weight still triggered a read")
	}
}

func TestZeroDeltaLeavesCalibrationAlone(t *testing.T) {
	p, dev, sim, _ := newSimProcedure(t, 2)
	p.Begin()
	sim.QueueValues(1000, 1000)
	if err := p.CaptureZero(); err != nil {
		t.Fatalf("capture zero: %v", err)
	}
	sim.QueueValues(1000, 1000)
	if err := p.CaptureWeight(500); !errors.Is(err, device.ErrInvalidCalibration) {
		t.Fatalf("got %v, want ErrInvalidCalibration", err)
	}
	if p.State() != AwaitWeight {
		t.Fatalf("state: %v, want AwaitWeight", p.State())
	}
	if dev.Offset() != 0 || dev.Scale() != 1.0 {
		t.Fatalf("calibration mutated: offset=%d scale=%v", dev.Offset(), dev.Scale())
	}
}

func TestZeroTimeoutReturnsToAwaitZero(t *testing.T) {
	p, _, sim, drv := newSimProcedure(t, 2)
	sim.SetNeverReady(true)
	drv.ReadyTimeout = 10 * time.Millisecond
	p.Begin()
	if err := p.CaptureZero(); !errors.Is(err, hx711.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if p.State() != AwaitZero {
		t.Fatalf("state: %v, want AwaitZero", p.State())
	}
}

func TestCancel(t *testing.T) {
	p, _, sim, _ := newSimProcedure(t, 2)
	p.Begin()
	sim.QueueValues(1000, 1000)
	if err := p.CaptureZero(); err != nil {
		t.Fatalf("capture zero: %v", err)
	}
	p.Cancel()
	if p.State() != Idle {
		t.Fatalf("state after cancel: %v", p.State())
	}
	// Capture calls are rejected until Begin.
	if err := p.CaptureWeight(100); !errors.Is(err, ErrState) {
		t.Fatalf("got %v, want ErrState", err)
	}
	p.Begin()
	if p.State() != AwaitZero {
		t.Fatalf("state after re-begin: %v", p.State())
	}
}

func TestDoneIsTerminalUntilBegin(t *testing.T) {
	p, _, sim, _ := newSimProcedure(t, 1)
	p.Begin()
	sim.QueueValues(1000)
	if err := p.CaptureZero(); err != nil {
		t.Fatalf("capture zero: %v", err)
	}
	sim.QueueValues(5000)
	if err := p.CaptureWeight(1000); err != nil {
		t.Fatalf("capture weight: %v", err)
	}
	if err := p.CaptureZero(); !errors.Is(err, ErrState) {
		t.Fatalf("capture in Done: got %v, want ErrState", err)
	}
	p.Begin()
	if p.State() != AwaitZero || p.Result() != nil {
		t.Fatalf("restart: state=%v result=%v", p.State(), p.Result())
	}
}
