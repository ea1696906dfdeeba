package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"powermon-go/x/mathx"
)

// Config is the top-level powermon YAML file.
type Config struct {
	Device      string         `yaml:"device"`
	I2CBus      string         `yaml:"i2c_bus"`
	Log         LogConfig      `yaml:"log"`
	Sensors     []SensorConfig `yaml:"sensors"`
	Export      *ExportConfig  `yaml:"export"`
	HeartbeatMS int            `yaml:"heartbeat_ms"`
}

// ExportConfig streams readings to a remote collector over the bridge.
type ExportConfig struct {
	Endpoint string   `yaml:"endpoint"` // host:port
	Topics   []string `yaml:"topics"`   // patterns; empty = power capability tree
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// SensorConfig describes one monitored rail. The calibration word and the
// current/power LSBs come straight from the shunt sizing spreadsheet; the
// binary never derives one from the other.
type SensorConfig struct {
	Name          string  `yaml:"name"`
	Addr          uint16  `yaml:"addr"`
	ShuntMicroOhm uint32  `yaml:"shunt_uohm"`
	Calibration   uint16  `yaml:"calibration"`
	CurrentLSBmA  float64 `yaml:"current_lsb_mA"`
	PowerLSBW     float64 `yaml:"power_lsb_W"`
	Averages      *uint16 `yaml:"averages"`
	IntervalMS    int     `yaml:"interval_ms"`
	Triggered     bool    `yaml:"triggered"`
}

func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ValidateConfig(cfg *Config) error {
	if len(cfg.Sensors) == 0 {
		return errors.New("no sensors configured")
	}
	if cfg.Export != nil && cfg.Export.Endpoint == "" {
		return errors.New("export requires an endpoint")
	}

	seen := map[string]bool{}
	for i := range cfg.Sensors {
		s := &cfg.Sensors[i]
		if s.Name == "" {
			return fmt.Errorf("sensor %d: missing name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sensor %q: duplicate name", s.Name)
		}
		seen[s.Name] = true

		// 7-bit bus address
		if !mathx.Between(s.Addr, 0x08, 0x77) {
			return fmt.Errorf("sensor %q: addr 0x%02x out of range", s.Name, s.Addr)
		}
		if s.CurrentLSBmA < 0 || s.PowerLSBW < 0 {
			return fmt.Errorf("sensor %q: negative LSB", s.Name)
		}
		if s.Averages != nil && *s.Averages > 7 {
			return fmt.Errorf("sensor %q: averages selector %d out of range", s.Name, *s.Averages)
		}
		if s.IntervalMS == 0 {
			s.IntervalMS = 1000
		}
	}
	return nil
}

func (s *SensorConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}
