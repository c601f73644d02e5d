// Package ledserial implements the LED strip serial protocol.
//
// Every packet is framed as a single type byte, a type-specific payload and a
// little-endian CRC32 (IEEE) of the type byte and payload. The host sends
// IncomingPackets; the strip controller answers each one with an AckPacket,
// or with an ErrorPacket if it could not apply it.
package ledserial

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Endianness defines the endianness of the protocol.
var Endianness = binary.LittleEndian

// IncomingPacketType is the type of a packet sent from the host to the strip.
type IncomingPacketType uint8

const (
	TypeInitializePacket IncomingPacketType = iota
	TypeClearPacket
	TypeSetPacket
)

// String returns a string representation of the packet type.
func (t IncomingPacketType) String() string {
	switch t {
	case TypeInitializePacket:
		return "initialize"
	case TypeClearPacket:
		return "clear"
	case TypeSetPacket:
		return "set"
	default:
		return fmt.Sprintf("IncomingPacketType(%d)", t)
	}
}

// IncomingPacket is a packet sent from the host to the strip.
type IncomingPacket interface {
	// Type returns the type of packet.
	Type() IncomingPacketType
}

// InitializePacket tells the strip how many LEDs it drives.
type InitializePacket struct {
	NumLEDs uint16
}

// ClearPacket turns every LED off.
type ClearPacket struct{}

// SetPacket sets the LED strip to the given colors, 3 bytes per LED.
type SetPacket struct {
	Pix []uint8
}

func (p InitializePacket) Type() IncomingPacketType { return TypeInitializePacket }
func (p ClearPacket) Type() IncomingPacketType      { return TypeClearPacket }
func (p SetPacket) Type() IncomingPacketType        { return TypeSetPacket }

// OutgoingPacketType is the type of a packet sent from the strip to the host.
type OutgoingPacketType uint8

const (
	TypeErrorPacket OutgoingPacketType = iota
	TypePanicPacket
	TypeLogPacket
	TypeAckPacket
)

// String returns a string representation of the packet type.
func (t OutgoingPacketType) String() string {
	switch t {
	case TypeErrorPacket:
		return "error"
	case TypePanicPacket:
		return "panic"
	case TypeLogPacket:
		return "log"
	case TypeAckPacket:
		return "ack"
	default:
		return fmt.Sprintf("OutgoingPacketType(%d)", t)
	}
}

// OutgoingPacket is a packet sent from the strip to the host.
type OutgoingPacket interface {
	// Type returns the type of packet.
	Type() OutgoingPacketType
}

// ErrorPacket indicates that the last incoming packet could not be applied.
type ErrorPacket struct {
	Message string
}

// PanicPacket indicates the controller cannot recover.
type PanicPacket struct{}

// LogPacket carries a log line from the controller.
type LogPacket struct {
	Message string
}

// AckPacket acknowledges an applied incoming packet.
type AckPacket struct {
	IncomingPacketType IncomingPacketType
}

func (p ErrorPacket) Type() OutgoingPacketType { return TypeErrorPacket }
func (p PanicPacket) Type() OutgoingPacketType { return TypePanicPacket }
func (p LogPacket) Type() OutgoingPacketType   { return TypeLogPacket }
func (p AckPacket) Type() OutgoingPacketType   { return TypeAckPacket }

// ReadContext is the state of the LED strip. Data in this structure are
// required to read incoming packets.
type ReadContext struct {
	// NumLEDs is the number of LEDs in the strip.
	NumLEDs uint16
}

// ReadIncomingPacket reads an incoming packet from the given reader.
func ReadIncomingPacket(r io.Reader, context ReadContext) (IncomingPacket, error) {
	var packet IncomingPacket
	err := readFrame(r, func(ptype uint8, r io.Reader) error {
		switch ptype := IncomingPacketType(ptype); ptype {
		case TypeInitializePacket:
			var p InitializePacket
			if err := binary.Read(r, Endianness, &p); err != nil {
				return fmt.Errorf("failed to read number of LEDs: %w", err)
			}
			packet = p
		case TypeClearPacket:
			packet = ClearPacket{}
		case TypeSetPacket:
			p := SetPacket{Pix: make([]uint8, 3*int(context.NumLEDs))}
			if _, err := io.ReadFull(r, p.Pix); err != nil {
				return fmt.Errorf("failed to read pixel data: %w", err)
			}
			packet = p
		default:
			return fmt.Errorf("unknown packet type: %s", ptype)
		}
		return nil
	})
	return packet, err
}

// WriteIncomingPacket writes an incoming packet to the given writer.
func WriteIncomingPacket(w io.Writer, p IncomingPacket) error {
	return writeFrame(w, uint8(p.Type()), func(w io.Writer) error {
		switch p := p.(type) {
		case InitializePacket:
			return binary.Write(w, Endianness, p)
		case ClearPacket:
			return nil
		case SetPacket:
			_, err := w.Write(p.Pix)
			return err
		default:
			return fmt.Errorf("unknown packet type: %T", p)
		}
	})
}

// ReadOutgoingPacket reads an outgoing packet from the given reader.
func ReadOutgoingPacket(r io.Reader) (OutgoingPacket, error) {
	var packet OutgoingPacket
	err := readFrame(r, func(ptype uint8, r io.Reader) error {
		switch ptype := OutgoingPacketType(ptype); ptype {
		case TypeErrorPacket:
			msg, err := readString(r)
			if err != nil {
				return fmt.Errorf("failed to read error message: %w", err)
			}
			packet = ErrorPacket{Message: msg}
		case TypePanicPacket:
			packet = PanicPacket{}
		case TypeLogPacket:
			msg, err := readString(r)
			if err != nil {
				return fmt.Errorf("failed to read log message: %w", err)
			}
			packet = LogPacket{Message: msg}
		case TypeAckPacket:
			var acked uint8
			if err := binary.Read(r, Endianness, &acked); err != nil {
				return fmt.Errorf("failed to read acked packet type: %w", err)
			}
			packet = AckPacket{IncomingPacketType: IncomingPacketType(acked)}
		default:
			return fmt.Errorf("unknown packet type: %s", ptype)
		}
		return nil
	})
	return packet, err
}

// WriteOutgoingPacket writes an outgoing packet to the given writer.
func WriteOutgoingPacket(w io.Writer, p OutgoingPacket) error {
	return writeFrame(w, uint8(p.Type()), func(w io.Writer) error {
		switch p := p.(type) {
		case ErrorPacket:
			return writeString(w, p.Message)
		case PanicPacket:
			return nil
		case LogPacket:
			return writeString(w, p.Message)
		case AckPacket:
			return binary.Write(w, Endianness, uint8(p.IncomingPacketType))
		default:
			return fmt.Errorf("unknown packet type: %T", p)
		}
	})
}

// readFrame reads the type byte and hands the checksummed payload reader to
// body, then verifies the trailing checksum.
func readFrame(r io.Reader, body func(ptype uint8, r io.Reader) error) error {
	hash := crc32.NewIEEE()
	tee := io.TeeReader(r, hash)

	var ptype [1]byte
	if _, err := io.ReadFull(tee, ptype[:]); err != nil {
		return fmt.Errorf("failed to read packet type: %w", err)
	}

	if err := body(ptype[0], tee); err != nil {
		return err
	}

	// The checksum itself is not part of the hash, so read it from r.
	var checksum uint32
	if err := binary.Read(r, Endianness, &checksum); err != nil {
		return fmt.Errorf("failed to read packet checksum: %w", err)
	}

	if checksum != hash.Sum32() {
		return fmt.Errorf("packet checksum mismatch")
	}

	return nil
}

// writeFrame buffers the whole frame so it reaches w in a single Write.
func writeFrame(w io.Writer, ptype uint8, body func(w io.Writer) error) error {
	var buf frameBuffer
	buf = append(buf, ptype)

	if err := body(&buf); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	buf = Endianness.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	return nil
}

type frameBuffer []byte

func (b *frameBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func readString(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, Endianness, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	if err := binary.Write(w, Endianness, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}
