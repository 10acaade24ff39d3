package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/radiolith/jamguard/internal/signal"
)

// Label marks a training waveform as clean or jammed traffic.
type Label int

const (
	LabelClean  Label = 0
	LabelJammed Label = 1
)

var (
	// ErrInvalidInput is returned when a waveform handed to a classifier is
	// empty or contains non-finite samples.
	ErrInvalidInput = errors.New("classify: invalid input")

	// ErrDimensionMismatch is returned when a waveform's sample count differs
	// from the length the model was trained on.
	ErrDimensionMismatch = errors.New("classify: dimension mismatch")

	// ErrTrainingFailed is returned when a model cannot be fitted, whether
	// from degenerate training data or an expired training deadline.
	ErrTrainingFailed = errors.New("classify: training failed")
)

// TrainingSet pairs labeled waveforms for fitting a binary jam classifier.
type TrainingSet struct {
	Waveforms []signal.Waveform
	Labels    []Label
}

// Len returns the number of labeled examples.
func (ts TrainingSet) Len() int {
	return len(ts.Waveforms)
}

// validate rejects degenerate training data: empty sets, label/waveform count
// mismatches, malformed or inconsistently sized waveforms, and sets missing
// one of the two classes.
func (ts TrainingSet) validate() error {
	if ts.Len() == 0 {
		return fmt.Errorf("%w: empty training set", ErrTrainingFailed)
	}
	if len(ts.Labels) != len(ts.Waveforms) {
		return fmt.Errorf("%w: %d waveforms but %d labels", ErrTrainingFailed, len(ts.Waveforms), len(ts.Labels))
	}

	dims := ts.Waveforms[0].Len()
	var clean, jammed int
	for i, w := range ts.Waveforms {
		if !w.WellFormed() {
			return fmt.Errorf("%w: example %d is malformed", ErrTrainingFailed, i)
		}
		if w.Len() != dims {
			return fmt.Errorf("%w: example %d has %d samples, expected %d", ErrTrainingFailed, i, w.Len(), dims)
		}
		switch ts.Labels[i] {
		case LabelClean:
			clean++
		case LabelJammed:
			jammed++
		default:
			return fmt.Errorf("%w: example %d has unknown label %d", ErrTrainingFailed, i, ts.Labels[i])
		}
	}
	if clean == 0 || jammed == 0 {
		return fmt.Errorf("%w: training set must contain both classes (clean=%d, jammed=%d)", ErrTrainingFailed, clean, jammed)
	}
	return nil
}

// Classifier is a binary jam detector. Implementations fit once on a labeled
// training set and afterwards predict jammed/clean for new waveforms; the
// fitted model is immutable, so concurrent Predict calls are safe. The
// learning algorithm behind the interface is interchangeable.
type Classifier interface {
	// Fit trains the model on ts. It is a one-time, blocking, CPU-bound
	// operation; ctx bounds training time and overruns surface as
	// ErrTrainingFailed. A failed fit leaves no usable model behind.
	Fit(ctx context.Context, ts TrainingSet) error

	// Predict reports whether the waveform looks jammed. The waveform must
	// have the sample count the model was trained on.
	Predict(w signal.Waveform) (bool, error)
}
