package classify

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/radiolith/jamguard/internal/signal"
)

func fittedKNN(t *testing.T, seed uint64) (*KNN, *signal.Generator) {
	t.Helper()

	gen, err := signal.NewGenerator(rand.NewPCG(seed, seed+1))
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}

	ts, err := BuildTrainingSet(gen, DefaultTrainingConfig())
	if err != nil {
		t.Fatalf("Failed to build training set: %v", err)
	}

	knn, err := NewKNN(DefaultNeighbors)
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}
	if err := knn.Fit(context.Background(), ts); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	return knn, gen
}

func TestBuildTrainingSetShape(t *testing.T) {
	gen, err := signal.NewGenerator(rand.NewPCG(11, 12))
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}

	ts, err := BuildTrainingSet(gen, DefaultTrainingConfig())
	if err != nil {
		t.Fatalf("BuildTrainingSet returned error: %v", err)
	}

	if ts.Len() != 100 {
		t.Errorf("Expected 100 examples, got %d", ts.Len())
	}

	var clean, jammed int
	for i, label := range ts.Labels {
		if ts.Waveforms[i].Len() != signal.DefaultSampleCount {
			t.Fatalf("Example %d: expected %d samples, got %d", i, signal.DefaultSampleCount, ts.Waveforms[i].Len())
		}
		switch label {
		case LabelClean:
			clean++
		case LabelJammed:
			jammed++
		}
	}
	if clean != 50 || jammed != 50 {
		t.Errorf("Expected a 50/50 split, got clean=%d jammed=%d", clean, jammed)
	}
}

func TestKNNSeparatesNoiseLevels(t *testing.T) {
	knn, gen := fittedKNN(t, 21)

	// Held-out draws from the same generator, graded against a 90% accuracy
	// bound. The two noise regimes sit far apart in sample space, so the
	// seeded run clears the bound with margin.
	const perClass = 20
	var correct, total int

	for i := 0; i < perClass; i++ {
		w, err := gen.Generate(50, 0.1)
		if err != nil {
			t.Fatalf("Generate returned error: %v", err)
		}
		jammed, err := knn.Predict(w)
		if err != nil {
			t.Fatalf("Predict returned error: %v", err)
		}
		total++
		if !jammed {
			correct++
		}
	}
	for i := 0; i < perClass; i++ {
		w, err := gen.Generate(50, 1.5)
		if err != nil {
			t.Fatalf("Generate returned error: %v", err)
		}
		jammed, err := knn.Predict(w)
		if err != nil {
			t.Fatalf("Predict returned error: %v", err)
		}
		total++
		if jammed {
			correct++
		}
	}

	accuracy := float64(correct) / float64(total)
	if accuracy < 0.9 {
		t.Errorf("Expected held-out accuracy >= 0.9, got %.2f (%d/%d)", accuracy, correct, total)
	}
}

func TestKNNDimensionMismatch(t *testing.T) {
	knn, _ := fittedKNN(t, 31)

	short := make(signal.Waveform, 100)
	if _, err := knn.Predict(short); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch for short waveform, got %v", err)
	}

	long := make(signal.Waveform, signal.DefaultSampleCount+1)
	if _, err := knn.Predict(long); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch for long waveform, got %v", err)
	}
}

func TestKNNRejectsMalformedWaveform(t *testing.T) {
	knn, _ := fittedKNN(t, 41)

	if _, err := knn.Predict(nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty waveform, got %v", err)
	}
}

func TestKNNUnfittedPredict(t *testing.T) {
	knn, err := NewKNN(DefaultNeighbors)
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}

	if _, err := knn.Predict(make(signal.Waveform, 10)); err == nil {
		t.Error("Expected error when predicting with an unfitted model")
	}
}

func TestKNNRejectsRefit(t *testing.T) {
	knn, gen := fittedKNN(t, 51)

	ts, err := BuildTrainingSet(gen, DefaultTrainingConfig())
	if err != nil {
		t.Fatalf("Failed to build training set: %v", err)
	}
	if err := knn.Fit(context.Background(), ts); err == nil {
		t.Error("Expected error when refitting a fitted model")
	}
}

func TestFitRejectsDegenerateData(t *testing.T) {
	w := func(n int) signal.Waveform { return make(signal.Waveform, n) }

	testCases := []struct {
		name string
		ts   TrainingSet
	}{
		{"empty set", TrainingSet{}},
		{"label count mismatch", TrainingSet{
			Waveforms: []signal.Waveform{w(8), w(8)},
			Labels:    []Label{LabelClean},
		}},
		{"single class", TrainingSet{
			Waveforms: []signal.Waveform{w(8), w(8)},
			Labels:    []Label{LabelClean, LabelClean},
		}},
		{"inconsistent lengths", TrainingSet{
			Waveforms: []signal.Waveform{w(8), w(9)},
			Labels:    []Label{LabelClean, LabelJammed},
		}},
		{"unknown label", TrainingSet{
			Waveforms: []signal.Waveform{w(8), w(8)},
			Labels:    []Label{LabelClean, Label(7)},
		}},
		{"empty waveform", TrainingSet{
			Waveforms: []signal.Waveform{w(8), nil},
			Labels:    []Label{LabelClean, LabelJammed},
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			knn, err := NewKNN(DefaultNeighbors)
			if err != nil {
				t.Fatalf("Failed to create classifier: %v", err)
			}
			if err := knn.Fit(context.Background(), tc.ts); !errors.Is(err, ErrTrainingFailed) {
				t.Errorf("Expected ErrTrainingFailed, got %v", err)
			}
		})
	}
}

func TestFitHonorsContext(t *testing.T) {
	gen, err := signal.NewGenerator(rand.NewPCG(61, 62))
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}
	ts, err := BuildTrainingSet(gen, DefaultTrainingConfig())
	if err != nil {
		t.Fatalf("Failed to build training set: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	knn, err := NewKNN(DefaultNeighbors)
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}

	err = knn.Fit(ctx, ts)
	if !errors.Is(err, ErrTrainingFailed) {
		t.Errorf("Expected ErrTrainingFailed on expired context, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the context cause to be preserved, got %v", err)
	}
}

func TestNewKNNValidation(t *testing.T) {
	for _, k := range []int{0, -1} {
		if _, err := NewKNN(k); err == nil {
			t.Errorf("Expected error for neighbour count %d", k)
		}
	}
}
