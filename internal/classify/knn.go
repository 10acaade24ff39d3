package classify

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/radiolith/jamguard/internal/signal"
)

// DefaultNeighbors is the vote size used when no explicit neighbour count is
// configured.
const DefaultNeighbors = 5

type prototype struct {
	feature float64
	label   Label
}

type neighborDistance struct {
	distance float64
	label    Label
}

// KNN classifies waveforms with a distance-weighted vote among the k nearest
// training examples. Examples are compared through one learned feature: the
// residual magnitude left after subtracting the fitted carrier template.
// Both classes share the carrier, so raw-sample distances are dominated by
// each waveform's own noise and do not separate them; the residual grows
// with injected noise power and does. Close neighbours dominate the vote
// through a 1/distance weight.
type KNN struct {
	k          int
	dims       int
	template   []float64 // Pointwise mean of the training waveforms
	prototypes []prototype
}

// NewKNN creates an unfitted classifier voting over k neighbours.
func NewKNN(k int) (*KNN, error) {
	if k <= 0 {
		return nil, fmt.Errorf("classify: neighbour count must be positive, got %d", k)
	}
	return &KNN{k: k}, nil
}

// Fit estimates the carrier template as the pointwise mean over all training
// waveforms and stores each example's residual magnitude as a labeled voting
// prototype. Refitting an already fitted model is rejected; a failed fit
// leaves no model behind.
func (c *KNN) Fit(ctx context.Context, ts TrainingSet) error {
	if c.template != nil {
		return fmt.Errorf("classify: model already fitted")
	}
	if err := ts.validate(); err != nil {
		return err
	}

	dims := ts.Waveforms[0].Len()
	template := make([]float64, dims)
	for _, w := range ts.Waveforms {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTrainingFailed, err)
		}
		floats.Add(template, w)
	}
	floats.Scale(1/float64(ts.Len()), template)

	prototypes := make([]prototype, ts.Len())
	for i, w := range ts.Waveforms {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTrainingFailed, err)
		}
		prototypes[i] = prototype{
			feature: floats.Distance(w, template, 2),
			label:   ts.Labels[i],
		}
	}

	c.dims = dims
	c.template = template
	c.prototypes = prototypes
	return nil
}

// Predict reports whether w looks jammed. The waveform length must equal the
// trained length; mismatches fail with ErrDimensionMismatch and are never
// truncated or padded away.
func (c *KNN) Predict(w signal.Waveform) (bool, error) {
	if c.template == nil {
		return false, fmt.Errorf("classify: model is not fitted")
	}
	if !w.WellFormed() {
		return false, fmt.Errorf("%w: waveform must be non-empty with finite samples", ErrInvalidInput)
	}
	if w.Len() != c.dims {
		return false, fmt.Errorf("%w: waveform has %d samples, model trained on %d", ErrDimensionMismatch, w.Len(), c.dims)
	}

	feature := floats.Distance(w, c.template, 2)

	neighbors := make([]neighborDistance, len(c.prototypes))
	for i, p := range c.prototypes {
		neighbors[i] = neighborDistance{
			distance: math.Abs(feature - p.feature),
			label:    p.label,
		}
	}
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].distance < neighbors[j].distance
	})

	k := min(c.k, len(neighbors))
	var jammedWeight, totalWeight float64
	for _, n := range neighbors[:k] {
		weight := 1.0 / (n.distance + 1e-9) // Guard against zero distance
		totalWeight += weight
		if n.label == LabelJammed {
			jammedWeight += weight
		}
	}
	return jammedWeight > totalWeight/2, nil
}
