package beats

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNoBeats is returned when a detector found no beats at all.
	ErrNoBeats = errors.New("no beats detected")
	// ErrUnordered is returned for beat timestamps that go backwards.
	ErrUnordered = errors.New("beat timestamps are not in chronological order")
)

// Artifact is the persisted timing of a track: when the first beat lands and
// how long to wait after each pulse.
type Artifact struct {
	FirstBeat float64
	Gaps      []float64
}

// NewArtifact builds the artifact for the given beats. With includeLeading,
// the gap between the first two beats is kept as well.
func NewArtifact(beats []float64, includeLeading bool) (*Artifact, error) {
	if len(beats) == 0 {
		return nil, ErrNoBeats
	}

	for i := 1; i < len(beats); i++ {
		if beats[i] < beats[i-1] {
			return nil, errors.Wrapf(ErrUnordered, "beat %d at %gs follows %gs", i, beats[i], beats[i-1])
		}
	}

	a := &Artifact{FirstBeat: beats[0]}
	if includeLeading {
		a.Gaps = AllGaps(beats)
	} else {
		a.Gaps = Gaps(beats)
	}

	return a, nil
}

// FirstBeatDelay returns FirstBeat as a duration.
func (a *Artifact) FirstBeatDelay() time.Duration {
	return Seconds(a.FirstBeat)
}

// Length returns the first beat plus every gap, which is when the last pulse
// finishes.
func (a *Artifact) Length() time.Duration {
	total := a.FirstBeat
	for _, g := range a.Gaps {
		total += g
	}
	return Seconds(total)
}

// Seconds converts fractional seconds to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// MarshalText formats the artifact as two lines: the first beat, then the
// bracketed, comma separated gaps.
//
//	0.5
//	[0.6, 0.7, 0.7]
func (a *Artifact) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(formatFloat(a.FirstBeat))
	buf.WriteString("\n[")
	for i, g := range a.Gaps {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(formatFloat(g))
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}

// UnmarshalText parses the format written by MarshalText.
func (a *Artifact) UnmarshalText(text []byte) error {
	parsed, err := ParseArtifact(bytes.NewReader(text))
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}

// formatFloat writes the shortest decimal that reads back to v, always with a
// fractional part, switching to exponent form for very small or large values.
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	if abs := math.Abs(v); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseArtifact reads an artifact written by MarshalText.
func ParseArtifact(r io.Reader) (*Artifact, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 16<<20)

	var lines []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read artifact")
	}

	if len(lines) != 2 {
		return nil, fmt.Errorf("artifact has %d lines, want 2", len(lines))
	}

	first, err := strconv.ParseFloat(lines[0], 64)
	if err != nil {
		return nil, errors.Wrap(err, "invalid first beat")
	}

	list := lines[1]
	if !strings.HasPrefix(list, "[") || !strings.HasSuffix(list, "]") {
		return nil, fmt.Errorf("gap list %q is not bracketed", list)
	}
	list = strings.TrimSpace(list[1 : len(list)-1])

	a := &Artifact{FirstBeat: first, Gaps: []float64{}}
	if list == "" {
		return a, nil
	}

	for i, field := range strings.Split(list, ",") {
		g, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid gap %d", i)
		}
		if g < 0 {
			return nil, fmt.Errorf("gap %d is negative: %g", i, g)
		}
		a.Gaps = append(a.Gaps, g)
	}

	return a, nil
}

// WriteArtifactFile writes the artifact to path, replacing any previous
// content. The file is swapped in with a rename, so readers never observe a
// partial write.
func WriteArtifactFile(path string, a *Artifact) error {
	text, err := a.MarshalText()
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create artifact")
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(text); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write artifact")
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to chmod artifact")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to write artifact")
	}

	if err := os.Rename(f.Name(), path); err != nil {
		return errors.Wrap(err, "failed to replace artifact")
	}
	return nil
}

// ReadArtifactFile reads the artifact at path.
func ReadArtifactFile(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open artifact")
	}
	defer f.Close()

	a, err := ParseArtifact(f)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid artifact %s", path)
	}
	return a, nil
}
