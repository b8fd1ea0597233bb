package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Web       WebConfig       `yaml:"web"`
	Path      PathConfig      `yaml:"path"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Reset     ResetConfig     `yaml:"reset"`
	Sim       SimConfig       `yaml:"sim"`
	Session   SessionConfig   `yaml:"session"`
}

type SerialConfig struct {
	// Device is a tty path, "tcp://host:port", or "auto".
	Device         string        `yaml:"device"`
	Baud           int           `yaml:"baud"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type PathConfig struct {
	LenientInflate bool `yaml:"lenient_inflate"`
	MaxLegs        int  `yaml:"max_legs"`
}

type TelemetryConfig struct {
	// Dest is an optional host:port that receives JSON report datagrams.
	Dest string `yaml:"dest"`
}

type ResetConfig struct {
	Enable bool          `yaml:"enable"`
	GPIO   int           `yaml:"gpio"`
	Pulse  time.Duration `yaml:"pulse"`
}

type SimConfig struct {
	Enable   bool          `yaml:"enable"`
	Lat      float64       `yaml:"lat"`
	Lng      float64       `yaml:"lng"`
	AltM     int           `yaml:"alt_m"`
	SpeedMps int           `yaml:"speed_mps"`
	Tick     time.Duration `yaml:"tick"`
	Seed     int64         `yaml:"seed"`
}

type SessionConfig struct {
	TrailMax    int           `yaml:"trail_max"`
	TargetTTL   time.Duration `yaml:"target_ttl"`
	MaxTargets  int           `yaml:"max_targets"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

const maxPathLegs = 32

var supportedBauds = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates. Empty input yields the
// default configuration.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) && unknownFieldsOnly(te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(stripLines(te.Errors), "; "))
		}
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unknownFieldsOnly(te *yaml.TypeError) bool {
	for _, e := range te.Errors {
		if !strings.Contains(e, "not found in type") {
			return false
		}
	}
	return len(te.Errors) > 0
}

func stripLines(errs []string) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if strings.HasPrefix(e, "line ") {
			if i := strings.Index(e, ": "); i >= 0 {
				e = e[i+2:]
			}
		}
		out = append(out, e)
	}
	return out
}

// ApplyEnv overrides selected settings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("SQUIDRID_SERIAL_DEVICE")); v != "" {
		c.Serial.Device = v
	}
	if v := strings.TrimSpace(getenv("SQUIDRID_WEB_LISTEN")); v != "" {
		c.Web.Listen = v
	}
}

func (c *Config) applyDefaults() error {
	c.Serial.Device = strings.TrimSpace(c.Serial.Device)
	if c.Serial.Device == "" {
		c.Serial.Device = "auto"
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 115200
	}
	if !isSupportedBaud(c.Serial.Baud) {
		return fmt.Errorf("serial.baud %d is not supported", c.Serial.Baud)
	}
	if c.Serial.ReconnectDelay <= 0 {
		c.Serial.ReconnectDelay = 250 * time.Millisecond
	}

	if strings.TrimSpace(c.Web.Listen) == "" {
		c.Web.Listen = ":8080"
	}

	if c.Path.MaxLegs == 0 {
		c.Path.MaxLegs = maxPathLegs
	}
	if c.Path.MaxLegs < 2 || c.Path.MaxLegs > maxPathLegs {
		return fmt.Errorf("path.max_legs must be between 2 and %d", maxPathLegs)
	}

	if c.Reset.Enable {
		if c.Reset.GPIO <= 0 {
			return fmt.Errorf("reset.gpio is required when reset.enable is true")
		}
		if c.Reset.Pulse == 0 {
			c.Reset.Pulse = 100 * time.Millisecond
		}
		if c.Reset.Pulse < 0 {
			return fmt.Errorf("reset.pulse must be > 0")
		}
	}

	// Simulator defaults (safe even if disabled).
	if math.IsNaN(c.Sim.Lat) || math.Abs(c.Sim.Lat) > 90 {
		return fmt.Errorf("sim.lat must be within [-90, 90]")
	}
	if math.IsNaN(c.Sim.Lng) || math.Abs(c.Sim.Lng) > 180 {
		return fmt.Errorf("sim.lng must be within [-180, 180]")
	}
	if c.Sim.SpeedMps < 0 {
		return fmt.Errorf("sim.speed_mps must be >= 0")
	}
	if c.Sim.SpeedMps == 0 {
		c.Sim.SpeedMps = 10
	}
	if c.Sim.AltM == 0 {
		c.Sim.AltM = 100
	}
	if c.Sim.Tick <= 0 {
		c.Sim.Tick = time.Second
	}

	if c.Session.TrailMax <= 0 {
		c.Session.TrailMax = 500
	}
	if c.Session.TargetTTL <= 0 {
		c.Session.TargetTTL = 2 * time.Minute
	}
	if c.Session.MaxTargets <= 0 {
		c.Session.MaxTargets = 100
	}
	if c.Session.LockTimeout <= 0 {
		c.Session.LockTimeout = 3 * time.Second
	}
	return nil
}

func isSupportedBaud(b int) bool {
	for _, v := range supportedBauds {
		if v == b {
			return true
		}
	}
	return false
}
