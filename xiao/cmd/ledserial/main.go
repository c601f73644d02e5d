// Command ledserial is the firmware of a beatglow strip lamp. Flash it with
//
//	tinygo flash -target xiao-rp2040 ./cmd/ledserial
//
// and point a [[lamp]] entry of kind "strip" at the board's USB serial device.
package main

import "machine"

// stripPin is where the strip's data line is wired.
const stripPin = machine.D10

func main() {
	machine.Serial.Configure(machine.UARTConfig{})

	status := NewStatusLED([3]uint8{255, 255, 255})
	NewDevice(machine.Serial, stripPin, status).Run()
}
