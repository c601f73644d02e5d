// Package wiztest provides an in-process fake WiZ bulb for tests.
package wiztest

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
)

// parseError is what real firmware answers to a datagram that is not JSON.
var parseError = []byte(`{"env":"pro","error":{"code":-32700,"message":"Parse error"}}`)

// Request is a request received by the fake bulb.
type Request struct {
	Method string
	Params map[string]any
}

// Bulb is a fake bulb listening on a loopback UDP port.
type Bulb struct {
	conn *net.UDPConn
	done chan struct{}

	mu        sync.Mutex
	pilot     map[string]any
	system    map[string]any
	requests  []Request
	failAfter int
	muted     bool
	noisy     bool
}

// NewBulb starts a fake bulb. It is shut down when the test ends.
func NewBulb(t testing.TB) *Bulb {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to listen for fake bulb: %v", err)
	}

	b := &Bulb{
		conn: conn,
		done: make(chan struct{}),
		pilot: map[string]any{
			"mac":     "a8bb5006033d",
			"rssi":    -62,
			"src":     "udp",
			"state":   false,
			"sceneId": 0,
			"r":       255,
			"g":       127,
			"b":       0,
			"c":       0,
			"w":       0,
			"temp":    0,
			"dimming": 13,
		},
		system: map[string]any{
			"mac":        "a8bb5006033d",
			"homeId":     653906,
			"roomId":     989983,
			"moduleName": "ESP01_SHRGB_03",
			"fwVersion":  "1.25.0",
			"groupId":    0,
		},
		failAfter: -1,
	}

	go b.serve()
	t.Cleanup(b.Close)

	return b
}

// Addr returns the host:port the fake bulb listens on.
func (b *Bulb) Addr() string {
	return b.conn.LocalAddr().String()
}

// Close stops the fake bulb.
func (b *Bulb) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
		b.conn.Close()
	}
}

// FailAfter makes every setPilot after the first n answer with a firmware
// error. A negative n disables the fault.
func (b *Bulb) FailAfter(n int) {
	b.mu.Lock()
	b.failAfter = n
	b.mu.Unlock()
}

// Mute makes the bulb swallow requests without answering.
func (b *Bulb) Mute(muted bool) {
	b.mu.Lock()
	b.muted = muted
	b.mu.Unlock()
}

// Noisy makes the bulb send a garbage datagram and a stale reply to another
// method before every real answer.
func (b *Bulb) Noisy(noisy bool) {
	b.mu.Lock()
	b.noisy = noisy
	b.mu.Unlock()
}

// Requests returns every request received so far, in order.
func (b *Bulb) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// SetPilots returns the params of every setPilot received so far.
func (b *Bulb) SetPilots() []map[string]any {
	var params []map[string]any
	for _, r := range b.Requests() {
		if r.Method == "setPilot" {
			params = append(params, r.Params)
		}
	}
	return params
}

// State reports whether the fake light is on.
func (b *Bulb) State() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	on, _ := b.pilot["state"].(bool)
	return on
}

// Pilot returns a copy of the current pilot state.
func (b *Bulb) Pilot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make(map[string]any, len(b.pilot))
	for k, v := range b.pilot {
		cp[k] = v
	}
	return cp
}

func (b *Bulb) serve() {
	buf := make([]byte, 4096)
	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-b.done:
				return
			default:
				continue
			}
		}

		for _, reply := range b.handle(buf[:n]) {
			b.conn.WriteToUDP(reply, addr)
		}
	}
}

func (b *Bulb) handle(data []byte) [][]byte {
	var req struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Method == "" {
		return [][]byte{parseError}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, Request{Method: req.Method, Params: req.Params})
	if b.muted {
		return nil
	}

	var replies [][]byte
	if b.noisy {
		replies = append(replies,
			[]byte("garbage"),
			mustJSON(errorReply("getModelConfig", -32601, "Method not found")),
		)
	}

	switch req.Method {
	case "setPilot":
		if b.failAfter >= 0 && b.countLocked("setPilot") > b.failAfter {
			return append(replies, mustJSON(errorReply("setPilot", -32000, "Device busy")))
		}
		for k, v := range req.Params {
			b.pilot[k] = v
		}
		replies = append(replies, mustJSON(resultReply("setPilot", map[string]any{"success": true})))

	case "getPilot":
		replies = append(replies, mustJSON(resultReply("getPilot", b.pilot)))

	case "getSystemConfig":
		reply := mustJSON(resultReply("getSystemConfig", b.system))
		// Real firmware tends to answer twice.
		replies = append(replies, reply, reply)

	case "registration":
		replies = append(replies, mustJSON(resultReply("registration", map[string]any{
			"mac":     b.system["mac"],
			"success": true,
		})))

	default:
		replies = append(replies, mustJSON(errorReply(req.Method, -32601, "Method not found")))
	}

	return replies
}

func (b *Bulb) countLocked(method string) int {
	var n int
	for _, r := range b.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

func resultReply(method string, result any) map[string]any {
	return map[string]any{"method": method, "env": "pro", "result": result}
}

func errorReply(method string, code int, message string) map[string]any {
	return map[string]any{
		"method": method,
		"env":    "pro",
		"error":  map[string]any{"code": code, "message": message},
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
