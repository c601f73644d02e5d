package beatglow

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDecode is returned when the track cannot be decoded or analyzed.
	ErrDecode = errors.New("failed to decode track")
	// ErrArtifactWrite is returned when the timing artifact cannot be written.
	ErrArtifactWrite = errors.New("failed to write timing artifact")
	// ErrLampCommand is matched by every *LampError.
	ErrLampCommand = errors.New("lamp command failed")
)

// LampError is returned when a lamp rejects or fails to answer a command.
// It aborts the light sequence.
type LampError struct {
	// Lamp is the lamp that failed.
	Lamp string
	// Op is the command, "on" or "off".
	Op string
	// Pulse is the index of the gap being pulsed, or -1 while priming.
	Pulse int

	Err error
}

func (e *LampError) Error() string {
	if e.Pulse < 0 {
		return fmt.Sprintf("lamp %s: priming %s: %v", e.Lamp, e.Op, e.Err)
	}
	return fmt.Sprintf("lamp %s: pulse %d %s: %v", e.Lamp, e.Pulse, e.Op, e.Err)
}

func (e *LampError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLampCommand) hold.
func (e *LampError) Is(target error) bool { return target == ErrLampCommand }

// wrapSentinel tags err with sentinel. errors.Is matches both of them, which
// a single errors.Wrap cannot express.
func wrapSentinel(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
