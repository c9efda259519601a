// Package hx711 drives the HX711 24-bit bridge amplifier ADC over its
// two-wire clock/data interface.
//
// The chip has no register map: the host waits for DOUT to go low
// (conversion ready), clocks out 24 data bits MSB-first on PD_SCK, then
// issues 1-3 extra pulses to select gain and input channel for the next
// conversion. See the Avia Semiconductor HX711 datasheet, "Serial
// Interface".
package hx711

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout means the chip did not signal conversion-ready in time.
	ErrTimeout = errors.New("hx711: conversion ready timeout")
	// ErrInvalidGain means the requested gain is not one the chip supports.
	ErrInvalidGain = errors.New("hx711: invalid gain")
	// ErrHardwareUnavailable means the GPIO lines could not be claimed.
	ErrHardwareUnavailable = errors.New("hx711: hardware unavailable")
)

// Gain is the programmable gain of the input amplifier. It also selects
// the input channel: 128 and 64 use channel A, 32 uses channel B.
type Gain int

const (
	Gain128 Gain = 128
	Gain64  Gain = 64
	Gain32  Gain = 32
)

// Valid reports whether g is one of the three supported gains.
func (g Gain) Valid() bool {
	_, err := g.extraPulses()
	return err == nil
}

// extraPulses maps a gain to the number of clock pulses issued after the
// 24 data bits. Datasheet: 25 total pulses select channel A gain 128,
// 26 select channel B gain 32, 27 select channel A gain 64.
func (g Gain) extraPulses() (int, error) {
	switch g {
	case Gain128:
		return 1, nil
	case Gain32:
		return 2, nil
	case Gain64:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: %d (must be 32, 64 or 128)", ErrInvalidGain, int(g))
}

const (
	// DefaultReadyTimeout bounds the wait for conversion-ready. At the
	// chip's slow rate (10SPS) a conversion takes 100ms, and settling
	// after power-up takes up to 400ms, so one second has ample margin.
	DefaultReadyTimeout = time.Second

	readyPollInterval = 100 * time.Microsecond

	// powerDownHold is how long PD_SCK must stay high to power the chip
	// down (datasheet minimum 60us).
	powerDownHold = 100 * time.Microsecond
)

// Driver performs conversion reads over a PinPair.
//
// ReadRaw is not reentrant on the same pin pair; callers must serialize
// access (pkg/device holds one mutex around every conversion).
type Driver struct {
	pins  PinPair
	extra int

	// ReadyTimeout bounds the conversion-ready wait of each ReadRaw.
	ReadyTimeout time.Duration
}

// New returns a driver for the given pins with the gain applied from the
// next conversion onward.
func New(pins PinPair, gain Gain) (*Driver, error) {
	d := &Driver{pins: pins, ReadyTimeout: DefaultReadyTimeout}
	if err := d.SetGain(gain); err != nil {
		return nil, err
	}
	return d, nil
}

// SetGain selects the gain/channel used for conversions after the next
// read. Fails with ErrInvalidGain for unsupported values.
func (d *Driver) SetGain(g Gain) error {
	extra, err := g.extraPulses()
	if err != nil {
		return err
	}
	d.extra = extra
	return nil
}

// ReadRaw performs exactly one conversion read and returns the signed
// 24-bit sample. It waits (bounded by ReadyTimeout) for the chip to
// signal ready, shifts in 24 bits sampling DOUT after each falling edge,
// then issues the gain-selection pulses. A timeout is surfaced, never
// retried internally.
func (d *Driver) ReadRaw() (int32, error) {
	if err := d.waitReady(); err != nil {
		return 0, err
	}

	var raw uint32
	for i := 0; i < 24; i++ {
		if err := d.pins.SetClock(true); err != nil {
			return 0, fmt.Errorf("hx711: clock high: %w", err)
		}
		if err := d.pins.SetClock(false); err != nil {
			return 0, fmt.Errorf("hx711: clock low: %w", err)
		}
		bit, err := d.pins.Data()
		if err != nil {
			return 0, fmt.Errorf("hx711: sample data: %w", err)
		}
		raw <<= 1
		if bit {
			raw |= 1
		}
	}

	for i := 0; i < d.extra; i++ {
		if err := d.pulse(); err != nil {
			return 0, err
		}
	}

	// Sign-extend the 24-bit two's-complement value.
	if raw&0x800000 != 0 {
		raw |= 0xFF000000
	}
	return int32(raw), nil
}

// PowerDown holds PD_SCK high long enough to put the chip into low-power
// mode. The next PowerUp (or read) wakes it.
func (d *Driver) PowerDown() error {
	if err := d.pins.SetClock(false); err != nil {
		return err
	}
	if err := d.pins.SetClock(true); err != nil {
		return err
	}
	time.Sleep(powerDownHold)
	return nil
}

// PowerUp wakes the chip by driving PD_SCK low.
func (d *Driver) PowerUp() error {
	return d.pins.SetClock(false)
}

// Close releases the underlying pins.
func (d *Driver) Close() error {
	return d.pins.Close()
}

func (d *Driver) pulse() error {
	if err := d.pins.SetClock(true); err != nil {
		return err
	}
	return d.pins.SetClock(false)
}

func (d *Driver) waitReady() error {
	deadline := time.Now().Add(d.ReadyTimeout)
	for {
		high, err := d.pins.Data()
		if err != nil {
			return fmt.Errorf("hx711: poll ready: %w", err)
		}
		if !high {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(readyPollInterval)
	}
}
