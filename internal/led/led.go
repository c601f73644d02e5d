// Package led describes colors and pixel buffers shared by every lamp kind.
package led

import (
	"encoding"
	"encoding/hex"
	"fmt"
	"strings"
	"unsafe"
)

// RGBColor is a 24-bit color in R, G, B order. It is laid out exactly like a
// pixel on the wire.
type RGBColor [3]uint8

var (
	_ encoding.TextUnmarshaler = (*RGBColor)(nil)
	_ encoding.TextMarshaler   = (*RGBColor)(nil)
)

// Red is the reference color bulbs are primed with before pulsing.
var Red = RGBColor{255, 0, 0}

// R returns the red channel.
func (c RGBColor) R() uint8 { return c[0] }

// G returns the green channel.
func (c RGBColor) G() uint8 { return c[1] }

// B returns the blue channel.
func (c RGBColor) B() uint8 { return c[2] }

// String returns the color as a "#rrggbb" hex string.
func (c RGBColor) String() string {
	return "#" + hex.EncodeToString(c[:])
}

// ParseRGBColor parses a "#rrggbb" or "rrggbb" hex string.
func ParseRGBColor(s string) (RGBColor, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGBColor{}, fmt.Errorf("invalid color %q: want 6 hex digits", s)
	}

	var c RGBColor
	if _, err := hex.Decode(c[:], []byte(s)); err != nil {
		return RGBColor{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}

func (c *RGBColor) UnmarshalText(text []byte) error {
	v, err := ParseRGBColor(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c RGBColor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// LEDs describes a strip of LEDs. It is a preallocated slice of RGBColor.
type LEDs []RGBColor

// NewLEDs creates a new strip of LEDs. Colors are initialized to black
// (off).
func NewLEDs(numLEDs int) LEDs {
	return make(LEDs, numLEDs)
}

// Fill sets every LED in the strip to the given color.
func (l LEDs) Fill(c RGBColor) {
	for i := range l {
		l[i] = c
	}
}

// AsPixels returns the LED strip as a slice of uint8 values. Each LED is
// represented by three values, one for each color channel. The returned slice
// aliases the strip.
func (l LEDs) AsPixels() []uint8 {
	if len(l) == 0 {
		return nil
	}
	return unsafe.Slice((*uint8)(unsafe.Pointer(&l[0])), 3*len(l))
}
