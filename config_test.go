package beatglow

import (
	"strings"
	"testing"
	"time"

	"libdb.so/beatglow/internal/led"
)

const testConfig = `
track = "songs/song.mp3"
color = "#00ff00"
start_delay = "-50ms"
include_leading_gap = true

[[lamp]]
kind = "wiz"
address = "192.168.1.20"
dimming = 80

[[lamp]]
kind = "strip"
device = "/dev/ttyUSB0"
leds = 30
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(testConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Track != "songs/song.mp3" {
		t.Errorf("Track = %q, want songs/song.mp3", cfg.Track)
	}
	if cfg.Artifact != DefaultArtifact {
		t.Errorf("Artifact = %q, want %q", cfg.Artifact, DefaultArtifact)
	}
	if cfg.Detector != FluxDetector {
		t.Errorf("Detector = %q, want %q", cfg.Detector, FluxDetector)
	}
	if cfg.Timing != InlineTiming {
		t.Errorf("Timing = %q, want %q", cfg.Timing, InlineTiming)
	}
	if !cfg.IncludeLeadingGap {
		t.Error("IncludeLeadingGap = false, want true")
	}
	if got := cfg.PrimeColor(); got != (led.RGBColor{0, 255, 0}) {
		t.Errorf("PrimeColor = %v, want #00ff00", got)
	}
	if d := time.Duration(cfg.StartDelay); d != -50*time.Millisecond {
		t.Errorf("StartDelay = %v, want -50ms", d)
	}

	if len(cfg.Lamps) != 2 {
		t.Fatalf("len(Lamps) = %d, want 2", len(cfg.Lamps))
	}
	if l := cfg.Lamps[0]; l.Kind != WizLamp || l.Address != "192.168.1.20" || l.Dimming != 80 {
		t.Errorf("Lamps[0] = %+v", l)
	}
	if l := cfg.Lamps[1]; l.Kind != StripLamp || l.Device != "/dev/ttyUSB0" || l.LEDs != 30 || l.Baud != 115200 {
		t.Errorf("Lamps[1] = %+v", l)
	}
	if s := cfg.Lamps[1].String(); s != "strip:/dev/ttyUSB0" {
		t.Errorf("Lamps[1].String() = %q", s)
	}
}

func TestPrimeColorDefault(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`track = "a.wav"`))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.PrimeColor(); got != led.Red {
		t.Errorf("PrimeColor = %v, want %v", got, led.Red)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"no track", `artifact = "x.txt"`},
		{"bad detector", "track = \"a.wav\"\ndetector = \"magic\""},
		{"bad timing", "track = \"a.wav\"\ntiming = \"psychic\""},
		{"bad lamp kind", "track = \"a.wav\"\n[[lamp]]\nkind = \"hue\""},
		{"wiz without address", "track = \"a.wav\"\n[[lamp]]\nkind = \"wiz\""},
		{"wiz dimming", "track = \"a.wav\"\n[[lamp]]\nkind = \"wiz\"\naddress = \"10.0.0.2\"\ndimming = 5"},
		{"strip without leds", "track = \"a.wav\"\n[[lamp]]\nkind = \"strip\"\ndevice = \"/dev/ttyACM0\""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := ParseConfig(strings.NewReader(test.toml))
			if err != nil {
				t.Fatalf("ParseConfig: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate succeeded, want error")
			}
		})
	}
}

func TestParseConfigBadColor(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("track = \"a.wav\"\ncolor = \"reddish\""))
	if err == nil {
		t.Fatal("ParseConfig accepted an invalid color")
	}
}
