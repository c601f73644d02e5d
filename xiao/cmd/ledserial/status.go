package main

import (
	"machine"

	"tinygo.org/x/drivers/ws2812"
)

// StatusLED is the on-board RGB LED of the XIAO RP2040. It is lit while a
// packet is being received.
type StatusLED struct {
	power machine.Pin
	led   ws2812.Device
	color [3]uint8
}

// NewStatusLED sets up the on-board LED. The LED has its own power pin, see
// https://wiki.seeedstudio.com/XIAO-RP2040-with-Arduino/.
func NewStatusLED(color [3]uint8) *StatusLED {
	power := machine.GPIO11
	power.Configure(machine.PinConfig{Mode: machine.PinOutput})
	power.Low()

	data := machine.GPIO12
	data.Configure(machine.PinConfig{Mode: machine.PinOutput})

	return &StatusLED{
		power: power,
		led:   ws2812.New(data),
		color: color,
	}
}

func (s *StatusLED) On() {
	s.power.High()
	s.led.WriteByte(s.color[0])
	s.led.WriteByte(s.color[1])
	s.led.WriteByte(s.color[2])
}

func (s *StatusLED) Off() {
	s.power.Low()
}
