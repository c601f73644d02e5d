package beatglow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/wiz"
)

// Lamp is a light the synchronizer can pulse.
type Lamp interface {
	// TurnOn switches the lamp on. A nil color keeps whatever color the lamp
	// last had.
	TurnOn(ctx context.Context, color *led.RGBColor) error
	// TurnOff switches the lamp off.
	TurnOff(ctx context.Context) error
	// Close releases the lamp's connection.
	Close() error
	fmt.Stringer
}

// OpenLamps connects to every configured lamp. On error, lamps opened so far
// are closed again. Callers close the returned lamps with CloseLamps.
func OpenLamps(ctx context.Context, cfg *Config, logger *slog.Logger) ([]Lamp, error) {
	if len(cfg.Lamps) == 0 {
		return nil, errors.New("no lamps configured")
	}

	lamps := make([]Lamp, 0, len(cfg.Lamps))
	for _, lc := range cfg.Lamps {
		l, err := openLamp(ctx, lc, logger)
		if err != nil {
			CloseLamps(lamps)
			return nil, errors.Wrapf(err, "failed to open lamp %s", lc)
		}

		logger.Debug("opened lamp", "lamp", l)
		lamps = append(lamps, l)
	}

	return lamps, nil
}

func openLamp(ctx context.Context, cfg LampConfig, logger *slog.Logger) (Lamp, error) {
	switch cfg.Kind {
	case WizLamp:
		bulb, err := wiz.Dial(ctx, cfg.Address)
		if err != nil {
			return nil, err
		}
		return &wizLamp{bulb: bulb, dimming: cfg.Dimming}, nil

	case StripLamp:
		port, err := serial.Open(cfg.Device, &serial.Mode{
			BaudRate: cfg.Baud,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to open serial port")
		}

		if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
			port.Close()
			return nil, errors.Wrap(err, "failed to reset read timeout")
		}

		strip, err := NewStrip(ctx, "strip:"+cfg.Device, port, cfg.LEDs, logger)
		if err != nil {
			port.Close()
			return nil, err
		}
		return strip, nil

	default:
		return nil, fmt.Errorf("unknown lamp kind %q", cfg.Kind)
	}
}

// CloseLamps closes every lamp and returns the first error.
func CloseLamps(lamps []Lamp) error {
	var first error
	for _, l := range lamps {
		if err := l.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to close lamp %s", l)
		}
	}
	return first
}

// wizLamp adapts a wiz.Bulb to Lamp.
type wizLamp struct {
	bulb    *wiz.Bulb
	dimming int
}

// NewWizLamp wraps an already dialed bulb. A non-zero dimming is sent along
// with every color.
func NewWizLamp(bulb *wiz.Bulb, dimming int) Lamp {
	return &wizLamp{bulb: bulb, dimming: dimming}
}

func (l *wizLamp) TurnOn(ctx context.Context, color *led.RGBColor) error {
	var pilot *wiz.PilotBuilder
	if color != nil {
		pilot = wiz.NewPilot().RGB(*color)
		if l.dimming > 0 {
			pilot.Dimming(l.dimming)
		}
	}
	return l.bulb.TurnOn(ctx, pilot)
}

func (l *wizLamp) TurnOff(ctx context.Context) error {
	return l.bulb.TurnOff(ctx)
}

func (l *wizLamp) Close() error {
	return l.bulb.Close()
}

func (l *wizLamp) String() string {
	return l.bulb.String()
}
