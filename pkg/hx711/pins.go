package hx711

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PinPair is the two-line capability the protocol driver runs on: drive
// the clock line, sample the data line. Backed by real GPIO via OpenPins
// or by SimPins when no hardware is present.
type PinPair interface {
	// SetClock drives PD_SCK high or low.
	SetClock(high bool) error
	// Data samples DOUT. The chip holds it high while a conversion is in
	// progress and drops it low when a sample is ready.
	Data() (bool, error)
	// Close releases the lines.
	Close() error
}

type gpioPins struct {
	sck  gpio.PinIO
	dout gpio.PinIO
}

// OpenPins claims the two GPIO lines by periph name (e.g. "GPIO5") and
// prepares them: DOUT as input, PD_SCK as output driven low (chip awake).
// Failures are reported as ErrHardwareUnavailable.
func OpenPins(doutPin, sckPin string) (PinPair, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: host init: %v", ErrHardwareUnavailable, err)
	}
	dout := gpioreg.ByName(doutPin)
	if dout == nil {
		return nil, fmt.Errorf("%w: no pin %q", ErrHardwareUnavailable, doutPin)
	}
	sck := gpioreg.ByName(sckPin)
	if sck == nil {
		return nil, fmt.Errorf("%w: no pin %q", ErrHardwareUnavailable, sckPin)
	}
	if err := dout.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: dout %q: %v", ErrHardwareUnavailable, doutPin, err)
	}
	if err := sck.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("%w: sck %q: %v", ErrHardwareUnavailable, sckPin, err)
	}
	return &gpioPins{sck: sck, dout: dout}, nil
}

func (p *gpioPins) SetClock(high bool) error {
	return p.sck.Out(gpio.Level(high))
}

func (p *gpioPins) Data() (bool, error) {
	return bool(p.dout.Read()), nil
}

func (p *gpioPins) Close() error {
	// Leave the chip powered down rather than mid-conversion.
	if err := p.sck.Out(gpio.High); err != nil {
		return err
	}
	return nil
}
