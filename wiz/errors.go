package wiz

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConnection is returned when the bulb cannot be reached at all, for
	// example when the host reports the port unreachable.
	ErrConnection = errors.New("wiz: connection error")
	// ErrTimeout is returned when the bulb did not answer any retransmission of
	// a request in time.
	ErrTimeout = errors.New("wiz: request timed out")
	// ErrMethodNotFound is returned when the bulb firmware does not implement
	// the requested method.
	ErrMethodNotFound = errors.New("wiz: method not found")
)

// JSON-RPC error codes observed from bulb firmware.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
)

// ResponseError is an error object returned by the bulb.
type ResponseError struct {
	Method  string
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("wiz: bulb error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("wiz: %s: bulb error %d: %s", e.Method, e.Code, e.Message)
}

// Is reports ErrMethodNotFound for the matching error code.
func (e *ResponseError) Is(target error) bool {
	return target == ErrMethodNotFound && e.Code == codeMethodNotFound
}
