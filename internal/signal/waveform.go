package signal

import "math"

// Waveform is an ordered sequence of real-valued link samples spanning one
// second of simulated time. A waveform is immutable once produced: consumers
// read it but must not modify it.
type Waveform []float64

// Len returns the number of samples in the waveform.
func (w Waveform) Len() int {
	return len(w)
}

// WellFormed reports whether the waveform is non-empty and every sample is
// finite. Detectors treat anything else as a precondition violation.
func (w Waveform) WellFormed() bool {
	if len(w) == 0 {
		return false
	}
	for _, s := range w {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return false
		}
	}
	return true
}
