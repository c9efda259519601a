package main

import (
	"testing"
	"time"

	"hx711-scale/pkg/config"
	"hx711-scale/pkg/hx711"
)

func TestInitOutputsConsole(t *testing.T) {
	cfg := config.Default()
	outs, err := initOutputs(cfg)
	if err != nil {
		t.Fatalf("initOutputs: %v", err)
	}
	if len(outs) != 1 {
		t.Fatalf("outputs len: %d", len(outs))
	}
}

func TestInitOutputsUnknownType(t *testing.T) {
	cfg := config.Default()
	cfg.Outputs = []config.OutputConfig{{Type: "carrier-pigeon"}}
	if _, err := initOutputs(cfg); err == nil {
		t.Fatal("unknown output accepted")
	}
}

func TestOpenPinsSim(t *testing.T) {
	cfg := config.Default()
	cfg.SensorType = config.SensorSim
	cfg.Scale = 4.0
	cfg.Offset = 8000
	cfg.KnownWeight = 100

	pins, err := openPins(cfg)
	if err != nil {
		t.Fatalf("openPins: %v", err)
	}
	drv, err := hx711.New(pins, hx711.Gain128)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	drv.ReadyTimeout = 2 * time.Second
	raw, err := drv.ReadRaw()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// baseline 8000 + 100g * 4 counts/g, +/- sim noise (25 counts)
	if raw < 8400-25 || raw > 8400+25 {
		t.Fatalf("sim raw: got %d, want 8400 +/- 25", raw)
	}
}
