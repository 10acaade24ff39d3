package spectrum

import (
	"fmt"
	"math"

	"github.com/radiolith/jamguard/internal/signal"
)

// DefaultThreshold is the peak-amplitude level above which traffic is scored
// anomalous.
const DefaultThreshold = 100

// Verdict is the outcome of scoring one waveform.
type Verdict struct {
	Anomalous     bool    // Whether the peak exceeded the threshold
	PeakAmplitude float64 // Maximum magnitude across the spectrum
}

// Scorer flags waveforms whose spectral peak exceeds a fixed threshold.
// Scoring is deterministic for a given waveform.
type Scorer struct {
	threshold float64
}

// NewScorer creates a scorer with the given detection threshold.
func NewScorer(threshold float64) (*Scorer, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold <= 0 {
		return nil, fmt.Errorf("spectrum: threshold must be a positive finite value, got %v", threshold)
	}
	return &Scorer{threshold: threshold}, nil
}

// Threshold returns the configured detection threshold.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score computes the amplitude spectrum of w and compares its peak against
// the threshold. The verdict holds the peak so callers can report it even
// when no anomaly is flagged.
func (s *Scorer) Score(w signal.Waveform) (Verdict, error) {
	spec, err := Compute(w)
	if err != nil {
		return Verdict{}, err
	}

	peak := spec.Peak()
	return Verdict{
		Anomalous:     peak > s.threshold,
		PeakAmplitude: peak,
	}, nil
}
