// Package reader runs the background sampling loop: it asks the device
// for an averaged reading at a fixed cadence and delivers each result
// (or error) to a Sink.
package reader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"hx711-scale/pkg/device"
	"hx711-scale/pkg/hx711"
)

// ErrAlreadyRunning rejects Start while a loop is active.
var ErrAlreadyRunning = errors.New("reader: already running")

// Config controls one sampling run.
type Config struct {
	// SamplesPerReading is the number of conversions averaged into each
	// delivered reading. Values below 1 are treated as 1.
	SamplesPerReading uint
	// Interval is the sleep between cycles. Must be positive.
	Interval time.Duration
	// RollingWindow enables smoothing: the delivered grams value is the
	// mean of the last WindowSize readings.
	RollingWindow bool
	WindowSize    uint
}

// Sink consumes readings and errors. Implementations must not block for
// long; the loop delivers from its own goroutine and readings are
// delivered in sampling order.
type Sink interface {
	OnReading(device.Reading)
	OnError(err error)
}

// SinkFuncs adapts plain callbacks to Sink. Nil funcs are skipped.
type SinkFuncs struct {
	Reading func(device.Reading)
	Error   func(error)
}

func (s SinkFuncs) OnReading(r device.Reading) {
	if s.Reading != nil {
		s.Reading(r)
	}
}

func (s SinkFuncs) OnError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

// ChannelSink delivers into bounded channels, dropping when the consumer
// lags so the sampling loop is never blocked.
type ChannelSink struct {
	Readings chan device.Reading
	Errors   chan error
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		Readings: make(chan device.Reading, buffer),
		Errors:   make(chan error, buffer),
	}
}

func (c *ChannelSink) OnReading(r device.Reading) {
	select {
	case c.Readings <- r:
	default:
	}
}

func (c *ChannelSink) OnError(err error) {
	select {
	case c.Errors <- err:
	default:
	}
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// Reader is the Idle -> Running -> Stopping -> Idle loop around one
// device. One background goroutine per run; other device operations
// (tare, calibration reads) queue behind the device mutex and complete
// between its read cycles.
type Reader struct {
	dev *device.Device

	mu   sync.Mutex
	st   state
	stop chan struct{}
	done chan struct{}
}

func New(dev *device.Device) *Reader {
	return &Reader{dev: dev}
}

// Running reports whether a sampling loop is active.
func (r *Reader) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st == stateRunning
}

// Start launches the sampling loop. Fails with ErrAlreadyRunning when a
// loop is active, or with an argument error for a non-positive interval.
func (r *Reader) Start(cfg Config, sink Sink) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("reader: interval must be positive, got %v", cfg.Interval)
	}
	if cfg.SamplesPerReading < 1 {
		cfg.SamplesPerReading = 1
	}
	if cfg.RollingWindow && cfg.WindowSize < 1 {
		cfg.WindowSize = 1
	}

	r.mu.Lock()
	if r.st != stateIdle {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.st = stateRunning
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	go r.run(cfg, sink, stop, done)
	return nil
}

// Stop signals the loop and waits for it to exit. The wait is bounded by
// one interval plus one read timeout. Idempotent.
func (r *Reader) Stop() {
	r.mu.Lock()
	if r.st != stateRunning {
		r.mu.Unlock()
		return
	}
	r.st = stateStopping
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done
}

// Tare zeroes the current load. Safe while running: the measurement
// queues behind the device mutex and never races a loop read.
func (r *Reader) Tare(samples uint) error {
	return r.dev.Tare(samples)
}

func (r *Reader) run(cfg Config, sink Sink, stop, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.st = stateIdle
		r.mu.Unlock()
		close(done)
	}()

	var window []float64
	if cfg.RollingWindow {
		window = make([]float64, 0, cfg.WindowSize)
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		cycleStart := time.Now()
		reading, err := r.dev.Sample(cfg.SamplesPerReading)
		if err != nil {
			sink.OnError(err)
			if !errors.Is(err, hx711.ErrTimeout) {
				// Pin or configuration failure: nothing a retry can fix.
				return
			}
		} else {
			if cfg.RollingWindow {
				if uint(len(window)) == cfg.WindowSize {
					copy(window, window[1:])
					window[len(window)-1] = reading.Grams
				} else {
					window = append(window, reading.Grams)
				}
				reading.Grams = stat.Mean(window, nil)
				reading.Newtons = reading.Grams / 1000.0 * device.StandardGravity
			}
			cycle := time.Since(cycleStart) + cfg.Interval
			if cycle > 0 {
				reading.SampleRateHz = 1.0 / cycle.Seconds()
			}
			sink.OnReading(reading)
		}

		select {
		case <-stop:
			return
		case <-time.After(cfg.Interval):
		}
	}
}
