package signal

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSampleCount is the number of samples in a generated waveform. The
// waveform always spans one second, so the sample count doubles as the
// sampling rate in Hz.
const DefaultSampleCount = 500

// ErrInvalidParameter is returned when a generation parameter is outside its
// valid domain.
var ErrInvalidParameter = errors.New("signal: invalid parameter")

// Option configures a Generator.
type Option func(*Generator)

// WithSampleCount overrides the number of samples per generated waveform.
func WithSampleCount(n int) Option {
	return func(g *Generator) {
		g.sampleCount = n
	}
}

// Generator synthesizes link waveforms: a unit-amplitude carrier with
// additive white Gaussian noise. All randomness flows through the injected
// source, so generated traffic is reproducible under a fixed seed.
type Generator struct {
	src         rand.Source
	sampleCount int
}

// NewGenerator creates a waveform generator drawing noise from src.
func NewGenerator(src rand.Source, opts ...Option) (*Generator, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidParameter)
	}

	g := &Generator{
		src:         src,
		sampleCount: DefaultSampleCount,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.sampleCount <= 0 {
		return nil, fmt.Errorf("%w: sample count must be positive, got %d", ErrInvalidParameter, g.sampleCount)
	}
	return g, nil
}

// SampleCount returns the length of waveforms produced by this generator.
func (g *Generator) SampleCount() int {
	return g.sampleCount
}

// Generate produces sin(2π·frequency·t) sampled at evenly spaced points over
// [0,1) seconds, then adds independent Gaussian noise with standard
// deviation noiseLevel to each sample. Frequency must be positive and finite,
// noiseLevel non-negative and finite; anything else is rejected with
// ErrInvalidParameter rather than silently clamped.
func (g *Generator) Generate(frequency, noiseLevel float64) (Waveform, error) {
	switch {
	case math.IsNaN(frequency) || math.IsInf(frequency, 0) || frequency <= 0:
		return nil, fmt.Errorf("%w: frequency must be a positive finite value, got %v", ErrInvalidParameter, frequency)
	case math.IsNaN(noiseLevel) || math.IsInf(noiseLevel, 0) || noiseLevel < 0:
		return nil, fmt.Errorf("%w: noise level must be a non-negative finite value, got %v", ErrInvalidParameter, noiseLevel)
	}

	noise := distuv.Normal{Mu: 0, Sigma: noiseLevel, Src: g.src}

	w := make(Waveform, g.sampleCount)
	n := float64(g.sampleCount)
	for i := range w {
		t := float64(i) / n
		w[i] = math.Sin(2 * math.Pi * frequency * t)
		if noiseLevel > 0 {
			w[i] += noise.Rand()
		}
	}
	return w, nil
}
