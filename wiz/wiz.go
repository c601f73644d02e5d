// Package wiz implements a client for WiZ smart bulbs.
//
// Bulbs speak a small JSON-RPC dialect over UDP port 38899. Every request is
// a single datagram such as
//
//	{"method":"setPilot","params":{"state":true,"r":255,"g":0,"b":0}}
//
// and the bulb answers with a datagram carrying either a "result" or an
// "error" object. UDP is lossy, so requests are retransmitted until a matching
// answer arrives or the request times out.
package wiz

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultPort is the UDP port bulbs listen on.
const DefaultPort = 38899

const maxDatagram = 4096

// Bulb is a connection to a single bulb. Requests on one Bulb are
// serialized; it is safe to use from multiple goroutines.
type Bulb struct {
	addr          string
	conn          net.Conn
	timeout       time.Duration
	retryInterval time.Duration
	attempts      int

	mu  sync.Mutex
	buf []byte
}

// Option configures a Bulb.
type Option func(*Bulb)

// WithTimeout sets the overall deadline of a single request, including all
// retransmissions. The default is 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(b *Bulb) { b.timeout = d }
}

// WithRetryInterval sets how long to wait for an answer before retransmitting
// a request. The default is 750ms.
func WithRetryInterval(d time.Duration) Option {
	return func(b *Bulb) { b.retryInterval = d }
}

// WithAttempts sets how many times a request is sent at most. The default is
// 6.
func WithAttempts(n int) Option {
	return func(b *Bulb) { b.attempts = n }
}

// Dial opens a connection to the bulb at address. The address may omit the
// port, in which case DefaultPort is used.
func Dial(ctx context.Context, address string, opts ...Option) (*Bulb, error) {
	address = withDefaultPort(address)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, address, err)
	}

	b := &Bulb{
		addr:          address,
		conn:          conn,
		timeout:       5 * time.Second,
		retryInterval: 750 * time.Millisecond,
		attempts:      6,
		buf:           make([]byte, maxDatagram),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.attempts < 1 {
		b.attempts = 1
	}

	return b, nil
}

func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort))
}

// Addr returns the bulb's host:port address.
func (b *Bulb) Addr() string { return b.addr }

// String implements fmt.Stringer.
func (b *Bulb) String() string { return "wiz:" + b.addr }

// Close closes the underlying socket.
func (b *Bulb) Close() error {
	return b.conn.Close()
}

// TurnOn switches the light on. A nil pilot keeps the bulb's current color
// and brightness.
func (b *Bulb) TurnOn(ctx context.Context, pilot *PilotBuilder) error {
	params, err := pilot.Params()
	if err != nil {
		return errors.Wrap(err, "invalid pilot")
	}
	params["state"] = true
	return b.setPilot(ctx, params)
}

// TurnOff switches the light off.
func (b *Bulb) TurnOff(ctx context.Context) error {
	return b.setPilot(ctx, map[string]any{"state": false})
}

func (b *Bulb) setPilot(ctx context.Context, params map[string]any) error {
	var result struct {
		Success bool `json:"success"`
	}
	if err := b.Call(ctx, "setPilot", params, &result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("wiz: %s did not acknowledge setPilot", b.addr)
	}
	return nil
}

// GetPilot queries the current light state.
func (b *Bulb) GetPilot(ctx context.Context) (*Pilot, error) {
	var p Pilot
	if err := b.Call(ctx, "getPilot", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SystemConfig is the device description reported by getSystemConfig.
type SystemConfig struct {
	MAC        string `json:"mac"`
	HomeID     int    `json:"homeId"`
	RoomID     int    `json:"roomId"`
	TypeID     int    `json:"typeId"`
	ModuleName string `json:"moduleName"`
	FwVersion  string `json:"fwVersion"`
	GroupID    int    `json:"groupId"`
}

// SystemConfig queries the bulb's module name, firmware version and MAC.
func (b *Bulb) SystemConfig(ctx context.Context) (*SystemConfig, error) {
	var c SystemConfig
	if err := b.Call(ctx, "getSystemConfig", nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

type request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	Method string          `json:"method"`
	Env    string          `json:"env"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call sends a raw request and decodes the result object into result, which
// may be nil.
func (b *Bulb) Call(ctx context.Context, method string, params, result any) error {
	data, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	// Unblock a pending read as soon as ctx ends.
	stop := context.AfterFunc(ctx, func() { b.conn.SetReadDeadline(time.Now()) })
	defer stop()

	var lastErr error
	for attempt := 0; attempt < b.attempts && ctx.Err() == nil; attempt++ {
		if _, err := b.conn.Write(data); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConnection, b.addr, err)
		}

		resp, err := b.await(ctx, method)
		if err != nil {
			if ctx.Err() != nil || isTimeout(err) {
				continue
			}
			return fmt.Errorf("%w: %s: %v", ErrConnection, b.addr, err)
		}
		if resp == nil {
			lastErr = errors.New("undecodable reply")
			continue
		}

		if resp.Error != nil {
			return &ResponseError{
				Method:  method,
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
			}
		}

		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errors.Wrapf(err, "failed to decode %s result", method)
			}
		}
		return nil
	}

	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTimeout, b.addr, method, lastErr)
	}
	return fmt.Errorf("%w: %s %s", ErrTimeout, b.addr, method)
}

// await reads datagrams until one answers method or the retry interval
// elapses. It returns a nil response if only undecodable datagrams arrived.
func (b *Bulb) await(ctx context.Context, method string) (*response, error) {
	deadline := time.Now().Add(b.retryInterval)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := b.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var garbage bool
	for {
		n, err := b.conn.Read(b.buf)
		if err != nil {
			if garbage && isTimeout(err) {
				return nil, nil
			}
			return nil, err
		}

		var resp response
		if err := json.Unmarshal(b.buf[:n], &resp); err != nil {
			garbage = true
			continue
		}

		// Late replies to earlier requests carry another method. Parse errors
		// carry none and belong to the request just sent.
		if resp.Method != "" && resp.Method != method {
			continue
		}

		return &resp, nil
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
