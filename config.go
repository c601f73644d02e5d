package beatglow

import (
	"encoding"
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"libdb.so/beatglow/internal/led"
)

// Config is the configuration for beatglow.
type Config struct {
	// Track is the path to the audio file.
	Track string `toml:"track"`
	// Artifact is the path of the timing file written by extract. It
	// defaults to beats.txt.
	Artifact string `toml:"artifact"`
	// Detector picks the beat detector.
	Detector DetectorKind `toml:"detector"`
	// AubioBin is the aubio executable used by the aubio detector.
	AubioBin string `toml:"aubio_bin"`
	// Timing picks where play gets its beat timing from.
	Timing TimingSource `toml:"timing"`
	// IncludeLeadingGap keeps the gap between the first two beats, which is
	// otherwise dropped from the pulse sequence.
	IncludeLeadingGap bool `toml:"include_leading_gap"`
	// Color is the color lamps are primed with on the first beat.
	Color *led.RGBColor `toml:"color,omitempty"`
	// StartDelay is added to the first beat. It compensates for audio output
	// latency and may be negative.
	StartDelay TOMLDuration `toml:"start_delay"`
	// Lamps is the list of lamps to pulse.
	Lamps []LampConfig `toml:"lamp"`
}

// DefaultArtifact is the default timing file path.
const DefaultArtifact = "beats.txt"

// DetectorKind is the kind of beat detector to use.
type DetectorKind string

const (
	// FluxDetector detects beats in-process from the decoded audio.
	FluxDetector DetectorKind = "flux"
	// AubioDetector runs the aubio command line tool.
	AubioDetector DetectorKind = "aubio"
)

// TimingSource is where play gets its beat timing from.
type TimingSource string

const (
	// InlineTiming detects beats right before playing.
	InlineTiming TimingSource = "inline"
	// ArtifactTiming reads the file written by extract.
	ArtifactTiming TimingSource = "artifact"
)

// LampKind is the kind of lamp.
type LampKind string

const (
	// WizLamp is a WiZ smart bulb reachable over UDP.
	WizLamp LampKind = "wiz"
	// StripLamp is an LED strip attached to a serial port.
	StripLamp LampKind = "strip"
)

// LampConfig is the configuration for a single lamp.
type LampConfig struct {
	Kind LampKind `toml:"kind"`

	// Address is the bulb's IP address, optionally with a port. Only for wiz
	// lamps.
	Address string `toml:"address"`
	// Dimming is the bulb brightness in percent used with Color. Zero keeps
	// the bulb's brightness. Only for wiz lamps.
	Dimming int `toml:"dimming"`

	// Device is the path to the serial device, usually /dev/ttyUSB0 or
	// /dev/ttyACM0. Only for strip lamps.
	Device string `toml:"device"`
	// Baud is the baud rate for the serial connection. Only for strip lamps.
	Baud int `toml:"baud"`
	// LEDs is the number of LEDs on the strip. Only for strip lamps.
	LEDs int `toml:"leds"`
}

// String returns a short description of the lamp.
func (c LampConfig) String() string {
	switch c.Kind {
	case WizLamp:
		return "wiz:" + c.Address
	case StripLamp:
		return "strip:" + c.Device
	default:
		return string(c.Kind)
	}
}

func (c *LampConfig) validate() error {
	switch c.Kind {
	case WizLamp:
		if c.Address == "" {
			return errors.New("wiz lamp has no address")
		}
		if c.Dimming != 0 && (c.Dimming < 10 || c.Dimming > 100) {
			return fmt.Errorf("dimming %d is out of range 10-100", c.Dimming)
		}
	case StripLamp:
		if c.Device == "" {
			return errors.New("strip lamp has no device")
		}
		if c.LEDs <= 0 || c.LEDs > 0xFFFF {
			return fmt.Errorf("strip lamp has invalid LED count %d", c.LEDs)
		}
		if c.Baud <= 0 {
			return fmt.Errorf("strip lamp has invalid baud rate %d", c.Baud)
		}
	default:
		return fmt.Errorf("unknown lamp kind %q", c.Kind)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Track == "" {
		return errors.New("no track configured")
	}

	switch c.Detector {
	case FluxDetector, AubioDetector:
	default:
		return fmt.Errorf("unknown detector %q", c.Detector)
	}

	switch c.Timing {
	case InlineTiming, ArtifactTiming:
	default:
		return fmt.Errorf("unknown timing source %q", c.Timing)
	}

	if c.Artifact == "" {
		return errors.New("no artifact path configured")
	}

	for i := range c.Lamps {
		if err := c.Lamps[i].validate(); err != nil {
			return errors.Wrapf(err, "lamp %d", i)
		}
	}

	return nil
}

// PrimeColor returns the color lamps are turned on with at the first beat.
func (c *Config) PrimeColor() led.RGBColor {
	if c.Color != nil {
		return *c.Color
	}
	return led.Red
}

func (c *Config) setDefaults() {
	if c.Artifact == "" {
		c.Artifact = DefaultArtifact
	}
	if c.Detector == "" {
		c.Detector = FluxDetector
	}
	if c.Timing == "" {
		c.Timing = InlineTiming
	}
	for i := range c.Lamps {
		if c.Lamps[i].Kind == StripLamp && c.Lamps[i].Baud == 0 {
			c.Lamps[i].Baud = 115200
		}
	}
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a configuration from a reader and fills in defaults.
// The returned configuration is not validated.
func ParseConfig(r io.Reader) (*Config, error) {
	var config Config
	if err := toml.NewDecoder(r).Decode(&config); err != nil {
		return nil, err
	}
	config.setDefaults()
	return &config, nil
}
