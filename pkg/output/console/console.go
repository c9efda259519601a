package console

import (
	"fmt"
	"time"

	"hx711-scale/pkg/device"
	"hx711-scale/pkg/output"
)

type ConsoleOutput struct {
	decimals int
}

// NewConsole prints one line per reading, with grams/newtons rendered at
// the configured decimal precision.
func NewConsole(decimals int) output.Output {
	if decimals < 0 {
		decimals = 0
	}
	return &ConsoleOutput{decimals: decimals}
}

func (c *ConsoleOutput) Publish(r device.Reading) error {
	fmt.Printf("%s raw=%d grams=%.*f newtons=%.*f hz=%.1f\n",
		r.Timestamp.Format(time.RFC3339), r.Raw,
		c.decimals, r.Grams, c.decimals, r.Newtons, r.SampleRateHz)
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
