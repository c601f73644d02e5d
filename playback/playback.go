// Package playback plays tracks on the default audio output device.
package playback

import (
	"context"
	"log/slog"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/pkg/errors"
	"libdb.so/beatglow/track"
)

// DefaultBufferSize is the speaker buffer length. Shorter buffers start
// sooner but underrun more easily.
const DefaultBufferSize = 50 * time.Millisecond

// Speaker plays a track through the system speaker.
type Speaker struct {
	track      *track.Track
	bufferSize time.Duration
	logger     *slog.Logger
}

// NewSpeaker creates a Speaker for t. A zero bufferSize means
// DefaultBufferSize.
func NewSpeaker(t *track.Track, bufferSize time.Duration, logger *slog.Logger) *Speaker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Speaker{
		track:      t,
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Play plays the whole track. started is closed as soon as the first samples
// are handed to the audio device. Play blocks until the track has drained or
// ctx is canceled, in which case the output is silenced immediately.
func (s *Speaker) Play(ctx context.Context, started chan<- struct{}) error {
	sr := s.track.Format().SampleRate

	if err := speaker.Init(sr, sr.N(s.bufferSize)); err != nil {
		return errors.Wrap(err, "failed to initialize speaker")
	}
	defer speaker.Close()

	done := make(chan struct{})
	speaker.Play(beep.Seq(s.track.Streamer(), beep.Callback(func() {
		close(done)
	})))
	close(started)

	s.logger.Debug(
		"playback started",
		"track", s.track.Path,
		"duration", s.track.Duration())

	select {
	case <-done:
		s.logger.Debug("playback finished")
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}
