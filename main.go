// Command hx711-scale samples an HX711 load cell amplifier in the
// background, fans readings out to the configured outputs, and offers
// single-key tare and calibration control on the terminal:
//
//	t  tare (session zero)
//	z  capture calibration zero (empty cell)
//	w  capture known weight and finish calibration
//	c  cancel calibration
//	q  quit (also ESC)
//
// Run with -demo to use simulated pins instead of hardware.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hx711-scale/pkg/calib"
	"hx711-scale/pkg/config"
	"hx711-scale/pkg/device"
	"hx711-scale/pkg/hx711"
	"hx711-scale/pkg/output"
	"hx711-scale/pkg/output/console"
	"hx711-scale/pkg/output/mqtt"
	"hx711-scale/pkg/output/ws"
	"hx711-scale/pkg/reader"
)

func main() {
	cfg, cfgPath, err := config.LoadFromFlags()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	pins, err := openPins(cfg)
	if err != nil {
		log.Fatal(err)
	}
	drv, err := hx711.New(pins, hx711.Gain(cfg.Gain))
	if err != nil {
		log.Fatal(err)
	}
	dev := device.New(drv)
	dev.SetOffset(cfg.Offset)
	if err := dev.SetScale(cfg.Scale); err != nil {
		log.Fatalf("config scale: %v", err)
	}

	outs, err := initOutputs(cfg)
	if err != nil {
		log.Fatal(err)
	}
	fan := output.NewFanout(outs...)

	rd := reader.New(dev)
	rdCfg := reader.Config{
		SamplesPerReading: cfg.Samples,
		Interval:          time.Duration(cfg.Interval * float64(time.Second)),
		RollingWindow:     cfg.RollingWindow,
		WindowSize:        cfg.WindowSize,
	}
	if err := rd.Start(rdCfg, fan); err != nil {
		log.Fatal(err)
	}

	log.Printf("sampling every %.2fs x%d samples (%s), %s",
		cfg.Interval, cfg.Samples, cfg.SensorType, cfg.CalibrationStatus(time.Now()))

	proc := calib.New(dev, cfg.Samples)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	keys := startKeyEvents()

	for {
		select {
		case <-sigCh:
			shutdown(rd, dev, fan)
			return
		case k, ok := <-keys:
			if !ok {
				// Keyboard gone; keep sampling until signalled.
				keys = nil
				continue
			}
			switch k {
			case 'q', 'Q', 27:
				shutdown(rd, dev, fan)
				return
			case 't', 'T':
				if err := rd.Tare(cfg.Samples); err != nil {
					log.Printf("tare: %v", err)
					continue
				}
				cfg.RecordZero(dev.Offset() + dev.SessionOffset())
				saveConfig(&cfg, cfgPath)
				log.Print("tared")
			case 'z', 'Z':
				if st := proc.State(); st == calib.Idle || st == calib.Done {
					proc.Begin()
				}
				log.Print("calibration: capturing zero, keep the cell empty")
				if err := proc.CaptureZero(); err != nil {
					log.Printf("calibration: %v", err)
					continue
				}
				log.Printf("calibration: zero captured, place %.0fg and press 'w'", cfg.KnownWeight)
			case 'w', 'W':
				if err := proc.CaptureWeight(cfg.KnownWeight); err != nil {
					log.Printf("calibration: %v", err)
					continue
				}
				res := proc.Result()
				cfg.RecordCalibration(res.Scale, res.ZeroRaw, res.KnownWeight, res.Temperature, res.CalibratedAt)
				saveConfig(&cfg, cfgPath)
				log.Printf("calibration done: scale=%.4f counts/g offset=%d (zero noise %.1f, load noise %.1f)",
					res.Scale, res.ZeroRaw, res.ZeroNoise, res.LoadNoise)
			case 'c', 'C':
				proc.Cancel()
				log.Print("calibration cancelled")
			}
		}
	}
}

// openPins picks real GPIO or the simulated pin pair. The simulation is
// seeded from the configured calibration so demo readings land near the
// known weight, and paced at roughly the chip's 10SPS rate.
func openPins(cfg config.Config) (hx711.PinPair, error) {
	if cfg.SensorType == config.SensorSim {
		sim := hx711.NewSimPins(int32(cfg.Offset), 25)
		if cfg.Scale != 1.0 {
			sim.SetCountsPerGram(cfg.Scale)
		}
		sim.SetLoad(cfg.KnownWeight)
		sim.SetSettle(80 * time.Millisecond)
		return sim, nil
	}
	return hx711.OpenPins(cfg.DoutPin, cfg.SckPin)
}

func initOutputs(cfg config.Config) ([]output.Output, error) {
	outs := make([]output.Output, 0, len(cfg.Outputs))
	for _, o := range cfg.Outputs {
		switch o.Type {
		case "console":
			outs = append(outs, console.NewConsole(cfg.Decimals))
		case "mqtt":
			mc := config.MQTTConfig{}
			if o.MQTT != nil {
				mc = *o.MQTT
			}
			out, err := mqtt.NewMQTT(mc)
			if err != nil {
				return nil, fmt.Errorf("output mqtt: %w", err)
			}
			outs = append(outs, out)
		case "ws":
			wc := config.WSConfig{Listen: "localhost:8711"}
			if o.WS != nil {
				wc = *o.WS
			}
			out, err := ws.NewServer(wc.Listen, wc.Path)
			if err != nil {
				return nil, fmt.Errorf("output ws: %w", err)
			}
			outs = append(outs, out)
		default:
			return nil, fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return outs, nil
}

func saveConfig(cfg *config.Config, path string) {
	if path == "" {
		return
	}
	if err := cfg.Save(path); err != nil {
		log.Printf("config save: %v", err)
	}
}

func shutdown(rd *reader.Reader, dev *device.Device, fan *output.Fanout) {
	rd.Stop()
	if err := fan.Close(); err != nil {
		log.Printf("output close: %v", err)
	}
	if err := dev.Close(); err != nil {
		log.Printf("device close: %v", err)
	}
}
