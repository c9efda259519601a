package reader

import (
	"errors"
	"math"
	"testing"
	"time"

	"hx711-scale/pkg/device"
	"hx711-scale/pkg/hx711"
)

func newSimReader(t *testing.T, baseline int32) (*Reader, *hx711.SimPins, *hx711.Driver) {
	t.Helper()
	sim := hx711.NewSimPins(baseline, 0)
	drv, err := hx711.New(sim, hx711.Gain128)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	return New(device.New(drv)), sim, drv
}

func TestDeliversAtInterval(t *testing.T) {
	r, _, _ := newSimReader(t, 1000)
	sink := NewChannelSink(64)

	if err := r.Start(Config{SamplesPerReading: 1, Interval: 50 * time.Millisecond}, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	r.Stop()

	n := len(sink.Readings)
	// ~10 cycles in 500ms at 50ms; allow generous slop for scheduling.
	if n < 6 || n > 15 {
		t.Fatalf("readings delivered: got %d, want ~10", n)
	}
	first := <-sink.Readings
	if first.Raw != 1000 {
		t.Fatalf("raw: got %d want 1000", first.Raw)
	}
	if first.SampleRateHz <= 0 || first.SampleRateHz > 25 {
		t.Fatalf("hz implausible: %v", first.SampleRateHz)
	}
}

func TestStartWhileRunning(t *testing.T) {
	r, _, _ := newSimReader(t, 0)
	sink := NewChannelSink(1)
	if err := r.Start(Config{SamplesPerReading: 1, Interval: 20 * time.Millisecond}, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()
	if err := r.Start(Config{SamplesPerReading: 1, Interval: 20 * time.Millisecond}, sink); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start: got %v, want ErrAlreadyRunning", err)
	}
}

func TestStopBoundedAndIdempotent(t *testing.T) {
	r, _, _ := newSimReader(t, 0)
	sink := NewChannelSink(8)
	interval := 100 * time.Millisecond
	if err := r.Start(Config{SamplesPerReading: 1, Interval: interval}, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	r.Stop()
	if elapsed := time.Since(start); elapsed > interval+hx711.DefaultReadyTimeout {
		t.Fatalf("stop took %v, want < interval+timeout", elapsed)
	}
	if r.Running() {
		t.Fatal("still running after stop")
	}
	r.Stop() // second stop is a no-op
}

func TestRollingWindowMean(t *testing.T) {
	r, sim, _ := newSimReader(t, 0)
	sim.QueueValues(10, 20, 30)
	sink := NewChannelSink(8)

	cfg := Config{
		SamplesPerReading: 1,
		Interval:          10 * time.Millisecond,
		RollingWindow:     true,
		WindowSize:        3,
	}
	if err := r.Start(cfg, sink); err != nil {
		t.Fatalf("start: %v", err)
	}

	var got []float64
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case rd := <-sink.Readings:
			got = append(got, rd.Grams)
		case <-deadline:
			t.Fatalf("timed out after %d readings", len(got))
		}
	}
	r.Stop()

	// Scale 1, offset 0: grams track raw. Window means: 10, 15, 20.
	want := []float64{10, 15, 20}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("reading %d: got %v want %v (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestTimeoutContinuesLoop(t *testing.T) {
	r, sim, drv := newSimReader(t, 0)
	sim.SetNeverReady(true)
	drv.ReadyTimeout = 10 * time.Millisecond
	sink := NewChannelSink(16)

	if err := r.Start(Config{SamplesPerReading: 1, Interval: 10 * time.Millisecond}, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	var errs int
	deadline := time.After(2 * time.Second)
	for errs < 3 {
		select {
		case err := <-sink.Errors:
			if !errors.Is(err, hx711.ErrTimeout) {
				t.Fatalf("error kind: %v", err)
			}
			errs++
		case <-deadline:
			t.Fatalf("timed out after %d errors", errs)
		}
	}
	if !r.Running() {
		t.Fatal("loop stopped on recoverable timeout")
	}
}

func TestTareWhileRunning(t *testing.T) {
	r, _, _ := newSimReader(t, 1200)
	sink := NewChannelSink(16)
	if err := r.Start(Config{SamplesPerReading: 1, Interval: 10 * time.Millisecond}, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	if err := r.Tare(2); err != nil {
		t.Fatalf("tare: %v", err)
	}
	// Drain anything sampled before the tare, then expect zeroed grams.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case rd := <-sink.Readings:
			if rd.Grams == 0 {
				return
			}
		case <-deadline:
			t.Fatal("no zeroed reading after tare")
		}
	}
}

func TestStartRejectsBadInterval(t *testing.T) {
	r, _, _ := newSimReader(t, 0)
	if err := r.Start(Config{SamplesPerReading: 1}, NewChannelSink(1)); err == nil {
		t.Fatal("zero interval accepted")
	}
}
