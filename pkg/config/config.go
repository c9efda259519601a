// Package config holds the persisted scale configuration: pin
// assignment, gain, calibration model, sampling preferences, and output
// fan-out. The on-disk format is JSON; calibration results and tare
// state are written back to the same file.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

type MQTTConfig struct {
	Server            string `json:"server"`
	Username          string `json:"username,omitempty"`
	Password          string `json:"password,omitempty"`
	ClientID          string `json:"client_id"`
	StateTopic        string `json:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty"`
}

type WSConfig struct {
	Listen string `json:"listen"`
	Path   string `json:"path"`
}

type OutputConfig struct {
	Type string      `json:"type"`
	MQTT *MQTTConfig `json:"mqtt,omitempty"`
	WS   *WSConfig   `json:"ws,omitempty"`
}

// Sensor types.
const (
	SensorReal = "real"
	SensorSim  = "sim"
)

type Config struct {
	DoutPin       string  `json:"dout_pin"`
	SckPin        string  `json:"sck_pin"`
	Gain          int     `json:"gain"`
	Scale         float64 `json:"scale"`
	Offset        int64   `json:"offset"`
	Samples       uint    `json:"samples"`
	Interval      float64 `json:"interval"` // seconds
	KnownWeight   float64 `json:"known_weight"`
	Decimals      int     `json:"decimals"`
	RollingWindow bool    `json:"rolling_window"`
	WindowSize    uint    `json:"window_size"`

	// Calibration metadata; nil until a calibration succeeded.
	CalibrationTime   *float64 `json:"calibration_time"` // unix seconds
	CalibrationTemp   *float64 `json:"calibration_temp"`
	CalibrationWeight *float64 `json:"calibration_weight"`
	LastZeroRaw       *int64   `json:"last_zero_raw"`

	SensorType string         `json:"sensor_type"`
	Outputs    []OutputConfig `json:"outputs"`
}

// Default returns the configuration used when no file exists. Scale 1
// with offset 0 is the uncalibrated marker; CalibrationStatus never
// reports it as good.
func Default() Config {
	return Config{
		DoutPin:     "GPIO5",
		SckPin:      "GPIO6",
		Gain:        128,
		Scale:       1.0,
		Offset:      0,
		Samples:     8,
		Interval:    0.2,
		KnownWeight: 1000.0,
		Decimals:    2,
		WindowSize:  3,
		SensorType:  SensorReal,
		Outputs:     []OutputConfig{{Type: "console"}},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration back to path.
func (c Config) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// Validate checks the invariants the core depends on. Violations are
// configuration errors, never silently defaulted.
func (c *Config) Validate() error {
	switch c.Gain {
	case 32, 64, 128:
	default:
		return fmt.Errorf("gain must be 32, 64 or 128, got %d", c.Gain)
	}
	if c.Samples < 1 {
		return errors.New("samples must be >= 1")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.RollingWindow && c.WindowSize < 1 {
		return errors.New("window_size must be >= 1 when rolling_window is set")
	}
	if c.SensorType != SensorReal && c.SensorType != SensorSim {
		return fmt.Errorf("sensor_type must be %q or %q, got %q", SensorReal, SensorSim, c.SensorType)
	}
	for _, o := range c.Outputs {
		switch o.Type {
		case "console", "mqtt", "ws":
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

// CalStatus classifies the stored calibration.
type CalStatus int

const (
	CalMissing CalStatus = iota
	CalStale
	CalOK
)

func (s CalStatus) String() string {
	switch s {
	case CalMissing:
		return "calibration required"
	case CalStale:
		return "calibration may be stale"
	case CalOK:
		return "calibration ok"
	}
	return fmt.Sprintf("calstatus(%d)", int(s))
}

// staleAfter is how old a calibration may be before it is flagged.
const staleAfter = 7 * 24 * time.Hour

// CalibrationStatus derives the indicator from the calibration age and
// the uncalibrated-default check: scale 1 with offset 0 is never "good".
func (c *Config) CalibrationStatus(now time.Time) CalStatus {
	if c.CalibrationTime == nil {
		return CalMissing
	}
	if c.Scale == 1.0 && c.Offset == 0 {
		return CalMissing
	}
	at := time.Unix(int64(*c.CalibrationTime), 0)
	if now.Sub(at) > staleAfter {
		return CalStale
	}
	return CalOK
}

// RecordCalibration stores a successful calibration for write-back.
func (c *Config) RecordCalibration(scale float64, offset int64, weight float64, temp *float64, at time.Time) {
	ts := float64(at.Unix())
	c.Scale = scale
	c.Offset = offset
	c.KnownWeight = weight
	c.CalibrationTime = &ts
	c.CalibrationTemp = temp
	c.CalibrationWeight = &weight
	zero := offset
	c.LastZeroRaw = &zero
}

// RecordZero stores the raw value measured by the latest tare.
func (c *Config) RecordZero(raw int64) {
	c.LastZeroRaw = &raw
}

// LoadFromFlags loads configuration from an optional JSON file and
// command-line flags; flags override file values. Returns the config and
// the file path used for write-back.
func LoadFromFlags() (Config, string, error) {
	cfgPath := flag.String("config", "config.json", "Path to JSON config file")
	flagDout := flag.String("dout-pin", "", "HX711 DOUT pin name (e.g. GPIO5)")
	flagSck := flag.String("sck-pin", "", "HX711 PD_SCK pin name (e.g. GPIO6)")
	flagGain := flag.Int("gain", -1, "HX711 gain: 32, 64 or 128")
	flagSamples := flag.Int("samples", -1, "conversions averaged per reading")
	flagInterval := flag.Float64("interval", -1, "seconds between readings")
	flagKnownWeight := flag.Float64("known-weight", -1, "calibration weight in grams")
	flagRolling := flag.Bool("rolling-window", false, "smooth readings over a short window")
	flagWindow := flag.Int("window-size", -1, "rolling window length")
	flagDemo := flag.Bool("demo", false, "run against simulated pins (no hardware)")
	flagSensorType := flag.String("sensor-type", "", "sensor type: real|sim")
	flagOutputs := flag.String("outputs", "", "comma-separated outputs (console,mqtt,ws)")
	flagMQTTServer := flag.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := flag.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := flag.String("mqtt-pass", "", "MQTT password")
	flagClientID := flag.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := flag.String("mqtt-topic", "", "MQTT state topic")
	flagWSListen := flag.String("ws-listen", "", "websocket listen address (host:port)")

	flag.Parse()

	cfg, err := Load(*cfgPath)
	if err != nil {
		return cfg, *cfgPath, err
	}

	if *flagDout != "" {
		cfg.DoutPin = *flagDout
	}
	if *flagSck != "" {
		cfg.SckPin = *flagSck
	}
	if *flagGain != -1 {
		cfg.Gain = *flagGain
	}
	if *flagSamples != -1 {
		cfg.Samples = uint(*flagSamples)
	}
	if *flagInterval != -1 {
		cfg.Interval = *flagInterval
	}
	if *flagKnownWeight != -1 {
		cfg.KnownWeight = *flagKnownWeight
	}
	if *flagRolling {
		cfg.RollingWindow = true
	}
	if *flagWindow != -1 {
		cfg.WindowSize = uint(*flagWindow)
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagDemo {
		cfg.SensorType = SensorSim
	}
	if *flagOutputs != "" {
		outs := make([]OutputConfig, 0)
		for _, p := range strings.Split(*flagOutputs, ",") {
			if t := strings.TrimSpace(p); t != "" {
				outs = append(outs, OutputConfig{Type: t})
			}
		}
		cfg.Outputs = outs
	}
	// Apply MQTT flags to every mqtt output, creating one if requested
	// on the command line but absent from the file.
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		applied := false
		for i := range cfg.Outputs {
			if !strings.EqualFold(cfg.Outputs[i].Type, "mqtt") {
				continue
			}
			if cfg.Outputs[i].MQTT == nil {
				cfg.Outputs[i].MQTT = &MQTTConfig{}
			}
			applyMQTTFlags(cfg.Outputs[i].MQTT, *flagMQTTServer, *flagMQTTUser, *flagMQTTPass, *flagClientID, *flagTopic)
			applied = true
		}
		if !applied {
			m := &MQTTConfig{}
			applyMQTTFlags(m, *flagMQTTServer, *flagMQTTUser, *flagMQTTPass, *flagClientID, *flagTopic)
			cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: "mqtt", MQTT: m})
		}
	}
	if *flagWSListen != "" {
		applied := false
		for i := range cfg.Outputs {
			if cfg.Outputs[i].Type != "ws" {
				continue
			}
			if cfg.Outputs[i].WS == nil {
				cfg.Outputs[i].WS = &WSConfig{}
			}
			cfg.Outputs[i].WS.Listen = *flagWSListen
			applied = true
		}
		if !applied {
			cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: "ws", WS: &WSConfig{Listen: *flagWSListen}})
		}
	}

	return cfg, *cfgPath, nil
}

func applyMQTTFlags(m *MQTTConfig, server, user, pass, clientID, topic string) {
	if server != "" {
		m.Server = server
	}
	if user != "" {
		m.Username = user
	}
	if pass != "" {
		m.Password = pass
	}
	if clientID != "" {
		m.ClientID = clientID
	}
	if topic != "" {
		m.StateTopic = topic
	}
}
