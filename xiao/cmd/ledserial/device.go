package main

import (
	"fmt"
	"machine"

	"libdb.so/beatglow/ledserial"
	"tinygo.org/x/drivers/ws2812"
)

// Device drives one WS2812 strip from packets read off the serial port.
// Every packet is answered with exactly one ack or error packet; log packets
// may be sent in between.
type Device struct {
	serial SerialReadWriter
	strip  ws2812.Device
	status *StatusLED

	numLEDs uint16
}

// NewDevice creates a new device.
func NewDevice(serial machine.Serialer, stripPin machine.Pin, status *StatusLED) *Device {
	stripPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &Device{
		serial: WrapSerial(serial),
		strip:  ws2812.New(stripPin),
		status: status,
	}
}

// Run runs the device loop forever.
func (d *Device) Run() {
	for {
		p, err := d.readPacket()
		if err != nil {
			d.sendPacket(ledserial.ErrorPacket{Message: err.Error()})
			continue
		}

		if err := d.handlePacket(p); err != nil {
			d.sendPacket(ledserial.ErrorPacket{Message: err.Error()})
			continue
		}

		d.sendPacket(ledserial.AckPacket{IncomingPacketType: p.Type()})
	}
}

func (d *Device) logf(format string, args ...any) {
	d.sendPacket(ledserial.LogPacket{Message: fmt.Sprintf(format, args...)})
}

func (d *Device) sendPacket(p ledserial.OutgoingPacket) {
	ledserial.WriteOutgoingPacket(d.serial, p)
}

func (d *Device) readPacket() (ledserial.IncomingPacket, error) {
	d.status.On()
	defer d.status.Off()

	return ledserial.ReadIncomingPacket(d.serial, ledserial.ReadContext{
		NumLEDs: d.numLEDs,
	})
}

func (d *Device) handlePacket(p ledserial.IncomingPacket) error {
	if _, ok := p.(ledserial.InitializePacket); !ok && d.numLEDs == 0 {
		return fmt.Errorf("%s packet before initialize", p.Type())
	}

	switch p := p.(type) {
	case ledserial.InitializePacket:
		if p.NumLEDs < 1 {
			return fmt.Errorf("invalid number of LEDs: %d", p.NumLEDs)
		}
		d.numLEDs = p.NumLEDs
		d.signalReady()
		d.logf("initialized %d LEDs", p.NumLEDs)

	case ledserial.ClearPacket:
		for i := uint16(0); i < d.numLEDs; i++ {
			d.writePixel(0, 0, 0)
		}

	case ledserial.SetPacket:
		for _, b := range p.Pix {
			d.strip.WriteByte(b)
		}

	default:
		return fmt.Errorf("unknown packet type: %T", p)
	}

	return nil
}

// signalReady lights the first LED red and the last one blue so the wiring
// and the LED count can be checked at a glance.
func (d *Device) signalReady() {
	for i := uint16(0); i < d.numLEDs; i++ {
		switch i {
		case 0:
			d.writePixel(255, 0, 0)
		case d.numLEDs - 1:
			d.writePixel(0, 0, 255)
		default:
			d.writePixel(0, 0, 0)
		}
	}
}

func (d *Device) writePixel(r, g, b uint8) {
	d.strip.WriteByte(r)
	d.strip.WriteByte(g)
	d.strip.WriteByte(b)
}
