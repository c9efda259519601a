package hx711

import (
	"math/rand"
	"sync"
	"time"
)

// SimPins is a synthetic PinPair that reproduces the chip's ready/shift
// waveform in memory, so the real Driver code runs unmodified without
// hardware. Samples are a baseline raw count plus optional noise and an
// optional simulated load.
type SimPins struct {
	mu         sync.Mutex
	baseline   int32
	noise      int32
	load       float64 // grams
	perGram    float64 // raw counts per simulated gram
	queue      []int32 // queued exact samples, consumed before synthesis
	neverReady bool
	settle     time.Duration
	readyAt    time.Time

	clockHigh bool
	pulses    int
	frame     uint32
	lastExtra int
	reads     int
	rnd       *rand.Rand
}

// NewSimPins returns simulated pins producing baseline plus uniform noise
// in [-noise, +noise] counts per sample.
func NewSimPins(baseline, noise int32) *SimPins {
	return &SimPins{
		baseline: baseline,
		noise:    noise,
		perGram:  4.0,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetLoad places a simulated load on the cell, in grams.
func (s *SimPins) SetLoad(grams float64) {
	s.mu.Lock()
	s.load = grams
	s.mu.Unlock()
}

// SetCountsPerGram sets the simulated cell sensitivity.
func (s *SimPins) SetCountsPerGram(c float64) {
	s.mu.Lock()
	s.perGram = c
	s.mu.Unlock()
}

// SetBaseline changes the no-load raw count.
func (s *SimPins) SetBaseline(b int32) {
	s.mu.Lock()
	s.baseline = b
	s.mu.Unlock()
}

// QueueValues enqueues exact raw samples returned by the next reads, in
// order, before any synthesized samples.
func (s *SimPins) QueueValues(vals ...int32) {
	s.mu.Lock()
	s.queue = append(s.queue, vals...)
	s.mu.Unlock()
}

// SetNeverReady makes the data line stay high forever, for timeout paths.
func (s *SimPins) SetNeverReady(v bool) {
	s.mu.Lock()
	s.neverReady = v
	s.mu.Unlock()
}

// SetSettle inserts a not-ready period after each consumed conversion,
// emulating the chip's output rate.
func (s *SimPins) SetSettle(d time.Duration) {
	s.mu.Lock()
	s.settle = d
	s.mu.Unlock()
}

// LastExtraPulses reports how many pulses beyond the 24 data bits the
// driver issued on the most recent read.
func (s *SimPins) LastExtraPulses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExtra
}

// Reads reports how many conversions have been shifted out.
func (s *SimPins) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *SimPins) SetClock(high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if high && !s.clockHigh {
		s.pulses++
		switch {
		case s.pulses == 1:
			s.frame = s.nextFrame()
			s.lastExtra = 0
		case s.pulses > 24:
			s.lastExtra = s.pulses - 24
		}
	}
	s.clockHigh = high
	return nil
}

func (s *SimPins) Data() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.neverReady {
		return true, nil
	}
	switch {
	case s.pulses == 0:
		// High (not ready) until the settle period elapses.
		return time.Now().Before(s.readyAt), nil
	case s.pulses <= 24:
		bit := s.frame >> uint(24-s.pulses) & 1
		return bit == 1, nil
	default:
		// The driver finished its trailing pulses and is polling for the
		// next conversion: start a fresh frame.
		s.pulses = 0
		s.readyAt = time.Now().Add(s.settle)
		return time.Now().Before(s.readyAt), nil
	}
}

func (s *SimPins) Close() error { return nil }

// nextFrame synthesizes one 24-bit two's-complement sample.
func (s *SimPins) nextFrame() uint32 {
	s.reads++
	var raw int32
	if len(s.queue) > 0 {
		raw = s.queue[0]
		s.queue = s.queue[1:]
	} else {
		raw = s.baseline + int32(s.load*s.perGram)
		if s.noise > 0 {
			raw += int32(s.rnd.Int63n(int64(s.noise)*2+1)) - s.noise
		}
	}
	if raw > 0x7FFFFF {
		raw = 0x7FFFFF
	}
	if raw < -0x800000 {
		raw = -0x800000
	}
	return uint32(raw) & 0xFFFFFF
}
