package beats

import (
	"context"
	"math"
	"math/cmplx"
	"sort"

	"github.com/noriah/catnip/dsp/window"
	"github.com/noriah/catnip/fft"
	"libdb.so/beatglow/track"
)

// FluxDetector is an in-process beat tracker. It builds a spectral flux onset
// envelope, estimates a global tempo from its autocorrelation and then picks
// the beat sequence that best agrees with both using dynamic programming.
type FluxDetector struct {
	// FrameSize is the FFT length in samples. It defaults to 1024.
	FrameSize int
	// HopSize is the distance between frames in samples. It defaults to 256.
	HopSize int
	// StartBPM centers the tempo prior. It defaults to 120.
	StartBPM float64
	// Tightness penalizes beat intervals that stray from the tempo. It
	// defaults to 100.
	Tightness float64
}

const (
	minBPM = 30
	maxBPM = 300
)

func (d FluxDetector) withDefaults() FluxDetector {
	if d.FrameSize <= 0 {
		d.FrameSize = 1024
	}
	if d.HopSize <= 0 {
		d.HopSize = 256
	}
	if d.StartBPM <= 0 {
		d.StartBPM = 120
	}
	if d.Tightness <= 0 {
		d.Tightness = 100
	}
	return d
}

// Detect implements Detector.
func (d FluxDetector) Detect(ctx context.Context, t *track.Track) ([]float64, error) {
	d = d.withDefaults()

	env, err := d.onsetEnvelope(ctx, t.Mono())
	if err != nil {
		return nil, err
	}
	if !normalize(env) {
		return nil, nil
	}

	fps := float64(t.Format().SampleRate) / float64(d.HopSize)

	period := estimatePeriod(env, fps, d.StartBPM)
	if period <= 0 {
		return nil, nil
	}

	frames := trackBeats(env, period, d.Tightness)

	times := make([]float64, len(frames))
	for i, f := range frames {
		times[i] = float64(f) / fps
	}
	return times, nil
}

// onsetEnvelope returns the positive log-magnitude spectral difference of
// consecutive frames. Frames are centered: frame i covers the samples around
// i*HopSize.
func (d FluxDetector) onsetEnvelope(ctx context.Context, samples []float64) ([]float64, error) {
	pad := d.FrameSize / 2
	padded := make([]float64, len(samples)+2*pad)
	copy(padded[pad:], samples)

	if len(padded) < d.FrameSize {
		return nil, nil
	}

	nframes := 1 + (len(padded)-d.FrameSize)/d.HopSize
	bins := d.FrameSize/2 + 1

	hann := window.Hann()
	frame := make([]float64, d.FrameSize)
	spectrum := make([]complex128, bins)
	prev := make([]float64, bins)
	curr := make([]float64, bins)
	env := make([]float64, nframes)

	var plan *fft.Plan
	fft.InitPlan(&plan, frame, spectrum)

	for i := 0; i < nframes; i++ {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		start := i * d.HopSize
		copy(frame, padded[start:start+d.FrameSize])
		hann(frame)
		plan.Execute()

		var flux float64
		for k := 0; k < bins; k++ {
			curr[k] = math.Log1p(100 * cmplx.Abs(spectrum[k]))
			if i > 0 {
				if diff := curr[k] - prev[k]; diff > 0 {
					flux += diff
				}
			}
		}

		env[i] = flux
		prev, curr = curr, prev
	}

	return env, nil
}

// normalize scales env to unit standard deviation. It reports false if env
// is flat.
func normalize(env []float64) bool {
	if len(env) < 2 {
		return false
	}

	var mean float64
	for _, v := range env {
		mean += v
	}
	mean /= float64(len(env))

	var variance float64
	for _, v := range env {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(env)-1))
	if std < 1e-9 {
		return false
	}

	for i := range env {
		env[i] /= std
	}
	return true
}

// estimatePeriod returns the beat period in frames: the autocorrelation lag
// with the highest score under a log-normal tempo prior around startBPM.
func estimatePeriod(env []float64, fps, startBPM float64) float64 {
	minLag := max(int(math.Floor(fps*60/maxBPM)), 1)
	maxLag := min(int(math.Ceil(fps*60/minBPM)), len(env)-1)
	if maxLag <= minLag {
		return 0
	}

	scores := make([]float64, maxLag+2)
	for lag := minLag; lag <= maxLag; lag++ {
		var ac float64
		for i := 0; i+lag < len(env); i++ {
			ac += env[i] * env[i+lag]
		}
		ac /= float64(len(env) - lag)

		bpm := 60 * fps / float64(lag)
		prior := math.Exp(-0.5 * math.Pow(math.Log2(bpm/startBPM), 2))
		scores[lag] = ac * prior
	}

	best := minLag
	for lag := minLag; lag <= maxLag; lag++ {
		if scores[lag] > scores[best] {
			best = lag
		}
	}
	if scores[best] <= 0 {
		return 0
	}

	// Parabolic interpolation around the peak for a fractional period.
	period := float64(best)
	if best > minLag && best < maxLag {
		a, b, c := scores[best-1], scores[best], scores[best+1]
		if denom := a - 2*b + c; denom != 0 {
			offset := 0.5 * (a - c) / denom
			if math.Abs(offset) < 1 {
				period += offset
			}
		}
	}
	return period
}

// trackBeats picks beat frames from the onset envelope by dynamic
// programming: every frame's cumulative score is its own onset strength plus
// the best predecessor score, penalized by how far the interval to that
// predecessor is from period.
func trackBeats(env []float64, period, tightness float64) []int {
	n := len(env)
	local := smoothEnvelope(env, period)

	lo := max(int(math.Round(period/2)), 1)
	hi := max(int(math.Round(2*period)), lo)

	cum := make([]float64, n)
	back := make([]int, n)

	for i := 0; i < n; i++ {
		best := math.Inf(-1)
		bestJ := -1
		for j := max(i-hi, 0); j <= i-lo; j++ {
			penalty := math.Log(float64(i-j) / period)
			score := cum[j] - tightness*penalty*penalty
			if score > best {
				best, bestJ = score, j
			}
		}

		cum[i] = local[i]
		back[i] = -1
		if bestJ >= 0 {
			cum[i] += best
			back[i] = bestJ
		}
	}

	last := lastBeat(cum)
	if last < 0 {
		return nil
	}

	var beats []int
	for b := last; b >= 0; b = back[b] {
		beats = append(beats, b)
	}
	for i, j := 0, len(beats)-1; i < j; i, j = i+1, j-1 {
		beats[i], beats[j] = beats[j], beats[i]
	}

	return trimWeakBeats(beats, local)
}

// smoothEnvelope convolves env with a Gaussian a fraction of a period wide.
func smoothEnvelope(env []float64, period float64) []float64 {
	w := max(int(math.Round(period)), 1)
	kernel := make([]float64, 2*w+1)
	for k := range kernel {
		x := float64(k-w) * 32 / period
		kernel[k] = math.Exp(-0.5 * x * x)
	}

	local := make([]float64, len(env))
	for i := range env {
		var sum float64
		for k, kv := range kernel {
			if j := i + k - w; j >= 0 && j < len(env) {
				sum += env[j] * kv
			}
		}
		local[i] = sum
	}
	return local
}

// lastBeat returns the last local maximum of cum that is above a quarter of
// the median local maximum.
func lastBeat(cum []float64) int {
	var peaks []int
	for i := range cum {
		left := i == 0 || cum[i] > cum[i-1]
		right := i == len(cum)-1 || cum[i] >= cum[i+1]
		if left && right {
			peaks = append(peaks, i)
		}
	}
	if len(peaks) == 0 {
		return -1
	}

	values := make([]float64, len(peaks))
	for i, p := range peaks {
		values[i] = cum[p]
	}
	sort.Float64s(values)
	threshold := 0.25 * values[len(values)/2]

	for i := len(peaks) - 1; i >= 0; i-- {
		if cum[peaks[i]] > threshold {
			return peaks[i]
		}
	}
	return peaks[len(peaks)-1]
}

// trimWeakBeats drops leading and trailing beats whose onset strength is at
// most half the RMS strength of all beats. These are beats the tracker
// extrapolated into silence.
func trimWeakBeats(beats []int, local []float64) []int {
	if len(beats) == 0 {
		return beats
	}

	var sq float64
	for _, b := range beats {
		sq += local[b] * local[b]
	}
	threshold := 0.5 * math.Sqrt(sq/float64(len(beats)))

	start, end := 0, len(beats)
	for start < end && local[beats[start]] <= threshold {
		start++
	}
	for end > start && local[beats[end-1]] <= threshold {
		end--
	}
	return beats[start:end]
}
