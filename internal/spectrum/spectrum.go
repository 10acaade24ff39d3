package spectrum

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/radiolith/jamguard/internal/signal"
)

// ErrInvalidInput is returned when a waveform handed to the spectrum layer is
// empty or contains non-finite samples.
var ErrInvalidInput = errors.New("spectrum: invalid input")

// AmplitudeSpectrum holds one non-negative magnitude per frequency bin. It
// has the same length as the source waveform and is computed on demand, never
// persisted.
type AmplitudeSpectrum []float64

// Peak returns the maximum magnitude across all bins.
func (s AmplitudeSpectrum) Peak() float64 {
	if len(s) == 0 {
		return 0
	}
	return floats.Max(s)
}

// Compute runs an unnormalized discrete Fourier transform over the waveform
// and returns the magnitude of every bin. A unit-amplitude carrier sitting on
// an integer bin therefore contributes n/2 to its bin, matching the raw
// transform the detection threshold is calibrated against.
func Compute(w signal.Waveform) (AmplitudeSpectrum, error) {
	if !w.WellFormed() {
		return nil, fmt.Errorf("%w: waveform must be non-empty with finite samples", ErrInvalidInput)
	}

	seq := make([]complex128, w.Len())
	for i, v := range w {
		seq[i] = complex(v, 0)
	}

	fft := fourier.NewCmplxFFT(len(seq))
	coeffs := fft.Coefficients(nil, seq)

	spec := make(AmplitudeSpectrum, len(coeffs))
	for i, c := range coeffs {
		spec[i] = cmplx.Abs(c)
	}
	return spec, nil
}
