package classify

import (
	"fmt"

	"github.com/radiolith/jamguard/internal/signal"
)

// TrainingConfig controls the synthetic labeled split used to fit a jam
// classifier. The carrier frequency is held fixed across both classes so the
// model learns the noise floor, not the carrier.
type TrainingConfig struct {
	CleanCount  int
	JammedCount int
	Frequency   float64
	CleanNoise  float64
	JammedNoise float64
}

// DefaultTrainingConfig returns the reference split: 50 clean waveforms at
// noise level 0.1 and 50 jammed waveforms at noise level 1.5, carrier at
// 50 Hz.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		CleanCount:  50,
		JammedCount: 50,
		Frequency:   50,
		CleanNoise:  0.1,
		JammedNoise: 1.5,
	}
}

// BuildTrainingSet synthesizes the labeled split from gen. Generation
// failures and empty classes surface as errors; the split is never silently
// shrunk.
func BuildTrainingSet(gen *signal.Generator, cfg TrainingConfig) (TrainingSet, error) {
	if cfg.CleanCount <= 0 || cfg.JammedCount <= 0 {
		return TrainingSet{}, fmt.Errorf("%w: both classes need at least one example (clean=%d, jammed=%d)",
			ErrTrainingFailed, cfg.CleanCount, cfg.JammedCount)
	}

	total := cfg.CleanCount + cfg.JammedCount
	ts := TrainingSet{
		Waveforms: make([]signal.Waveform, 0, total),
		Labels:    make([]Label, 0, total),
	}

	for i := 0; i < cfg.CleanCount; i++ {
		w, err := gen.Generate(cfg.Frequency, cfg.CleanNoise)
		if err != nil {
			return TrainingSet{}, fmt.Errorf("classify: generating clean example %d: %w", i, err)
		}
		ts.Waveforms = append(ts.Waveforms, w)
		ts.Labels = append(ts.Labels, LabelClean)
	}
	for i := 0; i < cfg.JammedCount; i++ {
		w, err := gen.Generate(cfg.Frequency, cfg.JammedNoise)
		if err != nil {
			return TrainingSet{}, fmt.Errorf("classify: generating jammed example %d: %w", i, err)
		}
		ts.Waveforms = append(ts.Waveforms, w)
		ts.Labels = append(ts.Labels, LabelJammed)
	}
	return ts, nil
}
