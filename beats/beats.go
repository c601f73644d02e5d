// Package beats extracts beat timestamps from a track and turns them into the
// inter-beat gaps the light show is paced by.
package beats

import (
	"context"

	"libdb.so/beatglow/track"
)

// Detector finds beat onsets in a track. Timestamps are in seconds from the
// start of the track and in chronological order.
type Detector interface {
	Detect(ctx context.Context, t *track.Track) ([]float64, error)
}

// Gaps returns the gaps between adjacent beats, skipping the gap between the
// first and second beat: for beats b, it returns b[i+1]-b[i] for every i with
// 1 <= i < len(b)-1. Fewer than three beats yield no gaps. AllGaps keeps the
// leading gap.
func Gaps(beats []float64) []float64 {
	gaps := make([]float64, 0, max(len(beats)-2, 0))
	for i := range beats {
		if i+1 < len(beats) && i-1 >= 0 {
			gaps = append(gaps, beats[i+1]-beats[i])
		}
	}
	return gaps
}

// AllGaps returns every gap between adjacent beats, b[i+1]-b[i] for
// 0 <= i < len(b)-1.
func AllGaps(beats []float64) []float64 {
	gaps := make([]float64, 0, max(len(beats)-1, 0))
	for i := 0; i+1 < len(beats); i++ {
		gaps = append(gaps, beats[i+1]-beats[i])
	}
	return gaps
}
