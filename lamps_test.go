package beatglow

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/ledserial"
	"libdb.so/beatglow/wiz"
	"libdb.so/beatglow/wiz/wiztest"
)

// fakeController is the device end of a serial link. It acknowledges every
// packet unless reject or replyTo say otherwise.
type fakeController struct {
	conn    net.Conn
	numLEDs uint16
	reject  func(ledserial.IncomingPacket) string
	replyTo func(ledserial.IncomingPacket) []ledserial.OutgoingPacket

	mu      sync.Mutex
	packets []ledserial.IncomingPacket
}

func newFakeController(t *testing.T, numLEDs int) (*fakeController, net.Conn) {
	host, device := net.Pipe()
	c := &fakeController{conn: device, numLEDs: uint16(numLEDs)}
	t.Cleanup(func() { device.Close() })
	return c, host
}

func (c *fakeController) serve() {
	for {
		p, err := ledserial.ReadIncomingPacket(c.conn, ledserial.ReadContext{NumLEDs: c.numLEDs})
		if err != nil {
			return
		}

		c.mu.Lock()
		c.packets = append(c.packets, p)
		c.mu.Unlock()

		var reply ledserial.OutgoingPacket = ledserial.AckPacket{IncomingPacketType: p.Type()}
		if c.reject != nil {
			if msg := c.reject(p); msg != "" {
				reply = ledserial.ErrorPacket{Message: msg}
			}
		}

		replies := []ledserial.OutgoingPacket{reply}
		if c.replyTo != nil {
			replies = c.replyTo(p)
		}

		if err := ledserial.WriteOutgoingPacket(c.conn, ledserial.LogPacket{Message: "got " + p.Type().String()}); err != nil {
			return
		}
		for _, reply := range replies {
			if err := ledserial.WriteOutgoingPacket(c.conn, reply); err != nil {
				return
			}
		}
	}
}

func (c *fakeController) Packets() []ledserial.IncomingPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ledserial.IncomingPacket(nil), c.packets...)
}

func TestStrip(t *testing.T) {
	ctrl, port := newFakeController(t, 2)
	go ctrl.serve()

	ctx := context.Background()

	strip, err := NewStrip(ctx, "strip:test", port, 2, discardLogger)
	if err != nil {
		t.Fatalf("NewStrip: %v", err)
	}
	defer strip.Close()

	red := led.Red
	if err := strip.TurnOn(ctx, &red); err != nil {
		t.Fatalf("TurnOn(red): %v", err)
	}
	if err := strip.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff: %v", err)
	}
	if err := strip.TurnOn(ctx, nil); err != nil {
		t.Fatalf("TurnOn(nil): %v", err)
	}

	packets := ctrl.Packets()
	if len(packets) != 4 {
		t.Fatalf("controller got %d packets, want 4", len(packets))
	}

	if p, ok := packets[0].(ledserial.InitializePacket); !ok || p.NumLEDs != 2 {
		t.Errorf("packet 0 = %#v, want InitializePacket{2}", packets[0])
	}

	wantPix := []uint8{255, 0, 0, 255, 0, 0}
	for _, i := range []int{1, 3} {
		p, ok := packets[i].(ledserial.SetPacket)
		if !ok {
			t.Errorf("packet %d = %#v, want SetPacket", i, packets[i])
			continue
		}
		if !bytes.Equal(p.Pix, wantPix) {
			t.Errorf("packet %d pixels = %v, want %v", i, p.Pix, wantPix)
		}
	}

	if _, ok := packets[2].(ledserial.ClearPacket); !ok {
		t.Errorf("packet 2 = %#v, want ClearPacket", packets[2])
	}
}

func TestStripControllerError(t *testing.T) {
	ctrl, port := newFakeController(t, 1)
	ctrl.reject = func(p ledserial.IncomingPacket) string {
		if p.Type() == ledserial.TypeSetPacket {
			return "pixel buffer overflow"
		}
		return ""
	}
	go ctrl.serve()

	ctx := context.Background()

	strip, err := NewStrip(ctx, "strip:test", port, 1, discardLogger)
	if err != nil {
		t.Fatalf("NewStrip: %v", err)
	}
	defer strip.Close()

	err = strip.TurnOn(ctx, nil)
	if err == nil || !strings.Contains(err.Error(), "pixel buffer overflow") {
		t.Fatalf("TurnOn error = %v, want controller error", err)
	}

	// The strip stays usable after a rejected packet.
	if err := strip.TurnOff(ctx); err != nil {
		t.Errorf("TurnOff after rejected packet: %v", err)
	}
}

func TestStripClosedByDevice(t *testing.T) {
	ctrl, port := newFakeController(t, 1)
	go ctrl.serve()

	ctx := context.Background()

	strip, err := NewStrip(ctx, "strip:test", port, 1, discardLogger)
	if err != nil {
		t.Fatalf("NewStrip: %v", err)
	}
	defer strip.Close()

	ctrl.conn.Close()

	if err := strip.TurnOff(ctx); err == nil {
		t.Fatal("TurnOff succeeded on a disconnected strip")
	}
}

func TestStripIgnoresOtherAcks(t *testing.T) {
	ctrl, port := newFakeController(t, 1)
	var lost atomic.Bool
	ctrl.replyTo = func(p ledserial.IncomingPacket) []ledserial.OutgoingPacket {
		ack := ledserial.AckPacket{IncomingPacketType: p.Type()}
		if p.Type() != ledserial.TypeSetPacket {
			return []ledserial.OutgoingPacket{ack}
		}
		// A late ack for an earlier clear packet comes first.
		stale := ledserial.AckPacket{IncomingPacketType: ledserial.TypeClearPacket}
		if lost.Load() {
			return []ledserial.OutgoingPacket{stale}
		}
		return []ledserial.OutgoingPacket{stale, ack}
	}
	go ctrl.serve()

	ctx := context.Background()

	strip, err := NewStrip(ctx, "strip:test", port, 1, discardLogger)
	if err != nil {
		t.Fatalf("NewStrip: %v", err)
	}
	defer strip.Close()

	if err := strip.TurnOn(ctx, nil); err != nil {
		t.Fatalf("TurnOn with a stale ack first: %v", err)
	}

	lost.Store(true)

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	if err := strip.TurnOn(shortCtx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("TurnOn acked only for a clear packet = %v, want deadline exceeded", err)
	}

	if err := strip.TurnOff(ctx); err != nil {
		t.Errorf("TurnOff: %v", err)
	}
}

// gatedPort holds back the next write until released and records whether
// two writes ever overlapped.
type gatedPort struct {
	net.Conn

	mu      sync.Mutex
	gate    chan struct{}
	active  atomic.Int32
	overlap atomic.Bool
}

func (p *gatedPort) hold() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = make(chan struct{})
	return p.gate
}

func (p *gatedPort) Write(b []byte) (int, error) {
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.active.Add(-1)

	p.mu.Lock()
	gate := p.gate
	p.gate = nil
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return p.Conn.Write(b)
}

func TestStripWaitsForTimedOutWrite(t *testing.T) {
	ctrl, conn := newFakeController(t, 1)
	go ctrl.serve()

	ctx := context.Background()
	port := &gatedPort{Conn: conn}

	strip, err := NewStrip(ctx, "strip:test", port, 1, discardLogger)
	if err != nil {
		t.Fatalf("NewStrip: %v", err)
	}
	defer strip.Close()

	release := port.hold()

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	err = strip.TurnOff(shortCtx)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("TurnOff with a stuck write = %v, want deadline exceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- strip.TurnOn(ctx, nil) }()

	time.Sleep(50 * time.Millisecond)
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("TurnOn after a timed out write: %v", err)
	}
	if port.overlap.Load() {
		t.Error("writes overlapped on the port")
	}

	packets := ctrl.Packets()
	if len(packets) != 3 {
		t.Fatalf("controller got %d packets, want 3", len(packets))
	}
	if _, ok := packets[1].(ledserial.ClearPacket); !ok {
		t.Errorf("packet 1 = %#v, want ClearPacket", packets[1])
	}
	if _, ok := packets[2].(ledserial.SetPacket); !ok {
		t.Errorf("packet 2 = %#v, want SetPacket", packets[2])
	}
}

func TestWizLamp(t *testing.T) {
	fake := wiztest.NewBulb(t)

	bulb, err := wiz.Dial(context.Background(), fake.Addr())
	if err != nil {
		t.Fatal(err)
	}

	lamp := NewWizLamp(bulb, 40)
	defer lamp.Close()

	if lamp.String() != "wiz:"+fake.Addr() {
		t.Errorf("String = %q", lamp.String())
	}

	ctx := context.Background()
	blue := led.RGBColor{0, 0, 255}
	if err := lamp.TurnOn(ctx, &blue); err != nil {
		t.Fatalf("TurnOn(blue): %v", err)
	}
	if err := lamp.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff: %v", err)
	}
	if err := lamp.TurnOn(ctx, nil); err != nil {
		t.Fatalf("TurnOn(nil): %v", err)
	}

	pilots := fake.SetPilots()
	if len(pilots) != 3 {
		t.Fatalf("bulb got %d setPilot requests, want 3", len(pilots))
	}
	if got := pilots[0]; got["b"] != float64(255) || got["r"] != float64(0) || got["dimming"] != float64(40) {
		t.Errorf("colored setPilot = %v", got)
	}
	if got := pilots[2]; len(got) != 1 || got["state"] != true {
		t.Errorf("plain setPilot = %v, want only state", got)
	}
	if !fake.State() {
		t.Error("bulb should be on")
	}
}

func TestOpenLamps(t *testing.T) {
	fake := wiztest.NewBulb(t)

	cfg := newTestConfig()
	cfg.Lamps = []LampConfig{{Kind: WizLamp, Address: fake.Addr()}}

	lamps, err := OpenLamps(context.Background(), cfg, discardLogger)
	if err != nil {
		t.Fatalf("OpenLamps: %v", err)
	}
	defer CloseLamps(lamps)

	if len(lamps) != 1 || lamps[0].String() != "wiz:"+fake.Addr() {
		t.Errorf("OpenLamps = %v", lamps)
	}
}

func TestOpenLampsErrors(t *testing.T) {
	cfg := newTestConfig()
	if _, err := OpenLamps(context.Background(), cfg, discardLogger); err == nil {
		t.Error("OpenLamps accepted a configuration without lamps")
	}

	cfg.Lamps = []LampConfig{
		{Kind: WizLamp, Address: "127.0.0.1"},
		{Kind: StripLamp, Device: "/dev/beatglow-does-not-exist", Baud: 115200, LEDs: 4},
	}
	if _, err := OpenLamps(context.Background(), cfg, discardLogger); err == nil {
		t.Error("OpenLamps opened a missing serial device")
	}
}
