// Package track loads audio files into memory for beat detection and
// playback.
package track

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/pkg/errors"
)

// ErrUnsupported is returned for files whose extension has no decoder.
var ErrUnsupported = errors.New("unsupported audio format")

type decodeFunc func(io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decodeFunc{
	".wav": func(r io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
		return wav.Decode(r)
	},
	".flac": func(r io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
		return flac.Decode(r)
	},
	".mp3": mp3.Decode,
	".ogg": vorbis.Decode,
}

// Track is an audio file decoded into memory. It is read-only once loaded.
type Track struct {
	Path   string
	buffer *beep.Buffer
}

// Load decodes the whole file at path. The decoder is picked by the file
// extension.
func Load(path string) (*Track, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "%q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open track")
	}

	stream, format, err := decode(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	defer stream.Close()

	buffer := beep.NewBuffer(format)
	buffer.Append(stream)
	if err := stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	return &Track{Path: path, buffer: buffer}, nil
}

// FromBuffer wraps already decoded audio.
func FromBuffer(path string, buffer *beep.Buffer) *Track {
	return &Track{Path: path, buffer: buffer}
}

// Format returns the decoded sample format.
func (t *Track) Format() beep.Format {
	return t.buffer.Format()
}

// Len returns the number of samples per channel.
func (t *Track) Len() int {
	return t.buffer.Len()
}

// Duration returns the playback length.
func (t *Track) Duration() time.Duration {
	return t.Format().SampleRate.D(t.buffer.Len())
}

// Streamer returns a new streamer over the whole track. Each call returns an
// independent read position.
func (t *Track) Streamer() beep.StreamSeeker {
	return t.buffer.Streamer(0, t.buffer.Len())
}

// Mono returns the track downmixed to a single channel.
func (t *Track) Mono() []float64 {
	mono := make([]float64, 0, t.buffer.Len())

	s := t.Streamer()
	var chunk [512][2]float64
	for {
		n, ok := s.Stream(chunk[:])
		for _, frame := range chunk[:n] {
			mono = append(mono, (frame[0]+frame[1])/2)
		}
		if !ok {
			break
		}
	}

	return mono
}
