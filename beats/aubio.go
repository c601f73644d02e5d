package beats

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"libdb.so/beatglow/track"
)

// AubioDetector runs the aubio command line tool, which prints one beat
// timestamp in seconds per line.
type AubioDetector struct {
	// Bin is the aubio executable. It defaults to "aubio".
	Bin string
}

// Detect implements Detector. The track is read by aubio from its path; the
// decoded buffer is not used.
func (d AubioDetector) Detect(ctx context.Context, t *track.Track) ([]float64, error) {
	bin := d.Bin
	if bin == "" {
		bin = "aubio"
	}

	if _, err := exec.LookPath(bin); err != nil {
		return nil, errors.Wrapf(err, "aubio not found")
	}

	cmd := exec.CommandContext(ctx, bin, "beat", "-i", t.Path)
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil && len(out) == 0 {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Wrapf(err, "aubio beat failed: %s", msg)
		}
		return nil, errors.Wrap(err, "aubio beat failed")
	}

	return parseAubioBeats(out), nil
}

// parseAubioBeats reads the first number of every line, skipping anything
// that is not one.
func parseAubioBeats(out []byte) []float64 {
	var beats []float64

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		beats = append(beats, v)
	}

	return beats
}
