package beatglow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/ledserial"
)

// AckTimeout is how long a strip has to acknowledge a packet.
const AckTimeout = 2 * time.Second

// Strip is a Lamp backed by an LED strip controller speaking the ledserial
// protocol. Every LED shows the same color.
type Strip struct {
	name   string
	port   io.ReadWriteCloser
	logger *slog.Logger

	replies chan stripReply
	done    chan struct{}
	readErr error

	closeOnce sync.Once
	closeErr  error

	mu    sync.Mutex
	leds  led.LEDs
	color led.RGBColor
	// writing is the result of a write that outlived its send.
	writing chan error
}

// stripReply is an ack or an error from the controller.
type stripReply struct {
	acked ledserial.IncomingPacketType
	err   error
}

var _ Lamp = (*Strip)(nil)

// NewStrip initializes the controller on port with numLEDs LEDs. The strip
// takes ownership of port.
func NewStrip(ctx context.Context, name string, port io.ReadWriteCloser, numLEDs int, logger *slog.Logger) (*Strip, error) {
	s := &Strip{
		name:    name,
		port:    port,
		logger:  logger.With("lamp", name),
		replies: make(chan stripReply, 8),
		done:    make(chan struct{}),
		leds:    led.NewLEDs(numLEDs),
		color:   led.RGBColor{255, 255, 255},
	}

	go s.readPackets()

	s.logger.Debug("sending initialize packet")
	if err := s.send(ctx, ledserial.InitializePacket{NumLEDs: uint16(numLEDs)}); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed to initialize LEDs")
	}

	return s, nil
}

func (s *Strip) String() string { return s.name }

// TurnOn implements Lamp. The strip starts out white until a color is given.
func (s *Strip) TurnOn(ctx context.Context, color *led.RGBColor) error {
	s.mu.Lock()
	if color != nil {
		s.color = *color
	}
	s.leds.Fill(s.color)
	pix := append([]uint8(nil), s.leds.AsPixels()...)
	s.mu.Unlock()

	return s.send(ctx, ledserial.SetPacket{Pix: pix})
}

// TurnOff implements Lamp.
func (s *Strip) TurnOff(ctx context.Context) error {
	return s.send(ctx, ledserial.ClearPacket{})
}

// Close closes the serial port. A pending command fails once the read loop
// stops.
func (s *Strip) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
		<-s.done
	})
	return s.closeErr
}

// send writes p and waits for the controller to acknowledge it.
func (s *Strip) send(ctx context.Context, p ledserial.IncomingPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return s.readError()
	default:
	}

	// Drop unsolicited replies so they are not taken for this packet's.
	for drained := false; !drained; {
		select {
		case <-s.replies:
		default:
			drained = true
		}
	}

	ctx, cancel := context.WithTimeout(ctx, AckTimeout)
	defer cancel()

	// Frames must not interleave on the port.
	if s.writing != nil {
		select {
		case <-s.writing:
			s.writing = nil
		case <-s.done:
			return s.readError()
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for previous write before %s packet", p.Type())
		}
	}

	written := make(chan error, 1)
	go func() { written <- ledserial.WriteIncomingPacket(s.port, p) }()

	select {
	case err := <-written:
		if err != nil {
			return errors.Wrapf(err, "failed to write %s packet", p.Type())
		}
	case <-s.done:
		return s.readError()
	case <-ctx.Done():
		s.writing = written
		return errors.Wrapf(ctx.Err(), "writing %s packet", p.Type())
	}

	for {
		select {
		case r := <-s.replies:
			if r.err != nil {
				return r.err
			}
			if r.acked != p.Type() {
				s.logger.Debug(
					"ignoring ack for another packet",
					"acked_for", r.acked,
					"waiting_for", p.Type())
				continue
			}
			return nil
		case <-s.done:
			return s.readError()
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for %s ack", p.Type())
		}
	}
}

func (s *Strip) readError() error {
	if s.readErr == nil {
		return errors.New("strip is closed")
	}
	return errors.Wrap(s.readErr, "strip stopped responding")
}

// readPackets runs until the port is closed or a packet cannot be read. Acks
// and errors are handed to the pending send; log packets are logged.
func (s *Strip) readPackets() {
	defer close(s.done)

	for {
		p, err := ledserial.ReadOutgoingPacket(s.port)
		if err != nil {
			s.readErr = err
			s.logger.Debug("read loop stopped", "error", err)
			return
		}

		s.logger.Debug(
			"received packet from controller",
			"type", p.Type())

		var reply stripReply
		switch p := p.(type) {
		case ledserial.AckPacket:
			s.logger.Debug(
				"received ack packet from controller",
				"acked_for", p.IncomingPacketType)
			reply.acked = p.IncomingPacketType

		case ledserial.ErrorPacket:
			s.logger.Warn(
				"received error packet from controller",
				"message", p.Message)
			reply.err = errors.Errorf("controller reported error: %s", p.Message)

		case ledserial.PanicPacket:
			s.logger.Error("controller unrecoverably panicked")
			s.readErr = errors.New("controller panicked")
			return

		case ledserial.LogPacket:
			s.logger.Info(
				"received log packet from controller",
				"message", p.Message)
			continue

		default:
			s.readErr = errors.Errorf("received unknown packet from controller: %s", p.Type())
			return
		}

		select {
		case s.replies <- reply:
		default:
			s.logger.Warn("dropping unsolicited reply", "type", p.Type())
		}
	}
}
