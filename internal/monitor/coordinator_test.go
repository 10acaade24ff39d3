package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/radiolith/jamguard/internal/channel"
	"github.com/radiolith/jamguard/internal/classify"
	"github.com/radiolith/jamguard/internal/secure"
	"github.com/radiolith/jamguard/internal/signal"
	"github.com/radiolith/jamguard/internal/spectrum"
)

type stubScorer struct {
	verdict spectrum.Verdict
	err     error
}

func (s *stubScorer) Score(w signal.Waveform) (spectrum.Verdict, error) {
	return s.verdict, s.err
}

type stubClassifier struct {
	jammed bool
	err    error
}

func (s *stubClassifier) Predict(w signal.Waveform) (bool, error) {
	return s.jammed, s.err
}

// echoTransport seals and opens messages without real cryptography.
type echoTransport struct{}

func (echoTransport) Encrypt(msg string) ([]byte, error) { return []byte(msg), nil }
func (echoTransport) Decrypt(tok []byte) (string, error) { return string(tok), nil }

type failingTransport struct {
	encryptErr error
	decryptErr error
	corrupt    bool
}

func (t *failingTransport) Encrypt(msg string) ([]byte, error) {
	if t.encryptErr != nil {
		return nil, t.encryptErr
	}
	return []byte(msg), nil
}

func (t *failingTransport) Decrypt(tok []byte) (string, error) {
	if t.decryptErr != nil {
		return "", t.decryptErr
	}
	if t.corrupt {
		return "garbled payload", nil
	}
	return string(tok), nil
}

type captureRecorder struct {
	mu      sync.Mutex
	results []*CycleResult
	err     error
}

func (r *captureRecorder) RecordCycle(ctx context.Context, result *CycleResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.results = append(r.results, result)
	return nil
}

func (r *captureRecorder) recorded() []*CycleResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*CycleResult(nil), r.results...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testChannelState(t *testing.T, seed uint64) *channel.State {
	t.Helper()

	state, err := channel.NewState(channel.DefaultPlan(), rand.New(rand.NewPCG(seed, seed+1)))
	if err != nil {
		t.Fatalf("Failed to create channel state: %v", err)
	}
	return state
}

func testRequest() Request {
	return Request{
		Waveform:   make(signal.Waveform, 8),
		Frequency:  50,
		NoiseLevel: 0.1,
	}
}

func expectPhases(t *testing.T, res *CycleResult, expected []Phase) {
	t.Helper()

	phases := res.Phases()
	if len(phases) != len(expected) {
		t.Fatalf("Expected %d events %v, got %d: %v", len(expected), expected, len(phases), phases)
	}
	for i := range expected {
		if phases[i] != expected[i] {
			t.Fatalf("Event %d: expected phase %q, got %q", i, expected[i], phases[i])
		}
	}
}

func TestCycleCleanPath(t *testing.T) {
	state := testChannelState(t, 1)
	initial := state.Current()
	recorder := &captureRecorder{}

	coord, err := New(
		&stubScorer{verdict: spectrum.Verdict{Anomalous: false, PeakAmplitude: 42.5}},
		&stubClassifier{jammed: false},
		state,
		echoTransport{},
		WithLogger(quietLogger()),
		WithRecorder(recorder),
	)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	res, err := coord.Cycle(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}

	if res.Switched {
		t.Error("Expected no reactive switch on a clean cycle")
	}
	if res.HoppedFrom != initial {
		t.Errorf("Expected hop from initial channel %d, got %d", initial, res.HoppedFrom)
	}
	if res.HoppedTo == res.HoppedFrom {
		t.Error("Hop returned the pre-call channel")
	}
	if res.Channel != res.HoppedTo {
		t.Errorf("Expected final channel %d, got %d", res.HoppedTo, res.Channel)
	}
	if !res.Secured {
		t.Error("Expected the securing step to succeed")
	}
	if res.PeakAmplitude != 42.5 {
		t.Errorf("Expected peak amplitude 42.5, got %v", res.PeakAmplitude)
	}

	// The scheduled hop is the only channel change on a clean cycle.
	expectPhases(t, res, []Phase{PhaseScoring, PhaseClassifying, PhaseHopping, PhaseSecuring})

	status := coord.Status()
	if status.Cycles != 1 {
		t.Errorf("Expected 1 completed cycle, got %d", status.Cycles)
	}
	if status.Channel != res.Channel {
		t.Errorf("Expected status channel %d, got %d", res.Channel, status.Channel)
	}
	if status.PeakAmplitude != 42.5 || status.Anomalous || status.Jammed {
		t.Errorf("Status does not match the cycle result: %+v", status)
	}

	if got := recorder.recorded(); len(got) != 1 || got[0].ID != res.ID {
		t.Errorf("Expected the cycle to be journaled once, got %d entries", len(got))
	}
}

func TestCycleSwitchesOnEitherDetector(t *testing.T) {
	testCases := []struct {
		name      string
		anomalous bool
		jammed    bool
	}{
		{"energy detector only", true, false},
		{"classifier only", false, true},
		{"both detectors", true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			state := testChannelState(t, 7)
			initial := state.Current()

			coord, err := New(
				&stubScorer{verdict: spectrum.Verdict{Anomalous: tc.anomalous, PeakAmplitude: 180}},
				&stubClassifier{jammed: tc.jammed},
				state,
				echoTransport{},
				WithLogger(quietLogger()),
			)
			if err != nil {
				t.Fatalf("Failed to create coordinator: %v", err)
			}

			res, err := coord.Cycle(context.Background(), testRequest())
			if err != nil {
				t.Fatalf("Cycle returned error: %v", err)
			}

			if !res.Switched {
				t.Fatal("Expected a reactive switch when a detector fires")
			}
			if res.SwitchedFrom != initial {
				t.Errorf("Expected switch from %d, got %d", initial, res.SwitchedFrom)
			}
			if res.SwitchedTo == res.SwitchedFrom {
				t.Error("Switch returned the pre-call channel")
			}

			// The mandatory hop still runs after the reactive switch.
			if res.HoppedFrom != res.SwitchedTo {
				t.Errorf("Expected hop from %d, got %d", res.SwitchedTo, res.HoppedFrom)
			}
			if res.HoppedTo == res.HoppedFrom {
				t.Error("Hop returned the pre-call channel")
			}

			expectPhases(t, res, []Phase{PhaseScoring, PhaseClassifying, PhaseSwitching, PhaseHopping, PhaseSecuring})
		})
	}
}

func TestCycleSecureFailureAbortsCycle(t *testing.T) {
	state := testChannelState(t, 11)
	recorder := &captureRecorder{}

	coord, err := New(
		&stubScorer{verdict: spectrum.Verdict{Anomalous: false, PeakAmplitude: 55}},
		&stubClassifier{},
		state,
		&failingTransport{decryptErr: secure.ErrDecryptionFailed},
		WithLogger(quietLogger()),
		WithRecorder(recorder),
	)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	res, err := coord.Cycle(context.Background(), testRequest())
	if res != nil {
		t.Error("Expected no result from an aborted cycle")
	}
	if !errors.Is(err, ErrIntegrityFault) {
		t.Errorf("Expected ErrIntegrityFault, got %v", err)
	}
	if !errors.Is(err, secure.ErrDecryptionFailed) {
		t.Errorf("Expected the decryption cause to be preserved, got %v", err)
	}

	// The aborted cycle still lands in the journal, marked insecure.
	got := recorder.recorded()
	if len(got) != 1 {
		t.Fatalf("Expected 1 journaled cycle, got %d", len(got))
	}
	if got[0].Secured {
		t.Error("Expected the journaled cycle to be marked not secured")
	}

	status := coord.Status()
	if status.Cycles != 0 {
		t.Errorf("Expected 0 completed cycles, got %d", status.Cycles)
	}
	if status.SecureFailures != 1 {
		t.Errorf("Expected 1 secure failure, got %d", status.SecureFailures)
	}
	if status.PeakAmplitude != 0 {
		t.Errorf("Expected no peak reported from an aborted cycle, got %v", status.PeakAmplitude)
	}
	if status.Channel != got[0].Channel {
		t.Errorf("Expected status channel %d after the hop, got %d", got[0].Channel, status.Channel)
	}
}

func TestCycleCorruptedRoundTrip(t *testing.T) {
	coord, err := New(
		&stubScorer{},
		&stubClassifier{},
		testChannelState(t, 13),
		&failingTransport{corrupt: true},
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	_, err = coord.Cycle(context.Background(), testRequest())
	if !errors.Is(err, ErrIntegrityFault) {
		t.Errorf("Expected ErrIntegrityFault for a corrupted round trip, got %v", err)
	}
	if errors.Is(err, secure.ErrDecryptionFailed) {
		t.Errorf("Mismatch is an integrity fault, not a decryption failure: %v", err)
	}
}

func TestCycleDetectorErrorsPropagate(t *testing.T) {
	t.Run("scorer error", func(t *testing.T) {
		recorder := &captureRecorder{}
		coord, err := New(
			&stubScorer{err: spectrum.ErrInvalidInput},
			&stubClassifier{},
			testChannelState(t, 17),
			echoTransport{},
			WithLogger(quietLogger()),
			WithRecorder(recorder),
		)
		if err != nil {
			t.Fatalf("Failed to create coordinator: %v", err)
		}

		if _, err := coord.Cycle(context.Background(), testRequest()); !errors.Is(err, spectrum.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
		if len(recorder.recorded()) != 0 {
			t.Error("Expected nothing journaled for an invariant violation")
		}
		if coord.Status().Cycles != 0 {
			t.Error("Expected no completed cycles")
		}
	})

	t.Run("classifier error", func(t *testing.T) {
		coord, err := New(
			&stubScorer{},
			&stubClassifier{err: classify.ErrDimensionMismatch},
			testChannelState(t, 19),
			echoTransport{},
			WithLogger(quietLogger()),
		)
		if err != nil {
			t.Fatalf("Failed to create coordinator: %v", err)
		}

		if _, err := coord.Cycle(context.Background(), testRequest()); !errors.Is(err, classify.ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", err)
		}
	})
}

func TestCycleRecorderFailureIsNotFatal(t *testing.T) {
	coord, err := New(
		&stubScorer{verdict: spectrum.Verdict{PeakAmplitude: 10}},
		&stubClassifier{},
		testChannelState(t, 23),
		echoTransport{},
		WithLogger(quietLogger()),
		WithRecorder(&captureRecorder{err: errors.New("journal unavailable")}),
	)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	res, err := coord.Cycle(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Expected the cycle to survive a journal failure, got %v", err)
	}
	if res == nil || !res.Secured {
		t.Error("Expected a completed, secured cycle")
	}
	if coord.Status().Cycles != 1 {
		t.Error("Expected the cycle to count despite the journal failure")
	}
}

func TestCycleUsesInjectedClock(t *testing.T) {
	base := time.Date(2025, time.March, 9, 10, 0, 0, 0, time.UTC)
	var ticks int
	clock := func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Millisecond)
	}

	coord, err := New(
		&stubScorer{verdict: spectrum.Verdict{PeakAmplitude: 12}},
		&stubClassifier{},
		testChannelState(t, 41),
		echoTransport{},
		WithLogger(quietLogger()),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	res, err := coord.Cycle(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}

	// The first clock reading stamps the cycle start.
	if !res.StartedAt.Equal(base.Add(time.Millisecond)) {
		t.Errorf("Expected start time %v from the injected clock, got %v", base.Add(time.Millisecond), res.StartedAt)
	}
	if res.Duration <= 0 {
		t.Errorf("Expected a positive duration, got %v", res.Duration)
	}
	for i := 1; i < len(res.Events); i++ {
		if res.Events[i].At.Before(res.Events[i-1].At) {
			t.Errorf("Event %d at %v precedes event %d at %v", i, res.Events[i].At, i-1, res.Events[i-1].At)
		}
	}
}

func TestCycleCancelledContext(t *testing.T) {
	coord, err := New(
		&stubScorer{},
		&stubClassifier{},
		testChannelState(t, 29),
		echoTransport{},
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := coord.Cycle(ctx, testRequest()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if coord.Status().Cycles != 0 {
		t.Error("Expected no completed cycles")
	}
}

func TestStatusReadableWhileCycling(t *testing.T) {
	coord, err := New(
		&stubScorer{verdict: spectrum.Verdict{PeakAmplitude: 99}},
		&stubClassifier{},
		testChannelState(t, 31),
		echoTransport{},
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	const cycles = 50
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				status := coord.Status()
				if status.Cycles < 0 || status.Cycles > cycles {
					t.Errorf("Status cycle count out of range: %d", status.Cycles)
					return
				}
			}
		}()
	}

	for i := 0; i < cycles; i++ {
		if _, err := coord.Cycle(context.Background(), testRequest()); err != nil {
			t.Fatalf("Cycle %d returned error: %v", i, err)
		}
	}
	close(done)
	wg.Wait()

	if got := coord.Status().Cycles; got != cycles {
		t.Errorf("Expected %d completed cycles, got %d", cycles, got)
	}
}

func TestNewValidation(t *testing.T) {
	state := testChannelState(t, 37)

	testCases := []struct {
		name       string
		scorer     Scorer
		classifier Predictor
		channels   *channel.State
		transport  SecureTransport
	}{
		{"nil scorer", nil, &stubClassifier{}, state, echoTransport{}},
		{"nil classifier", &stubScorer{}, nil, state, echoTransport{}},
		{"nil channel state", &stubScorer{}, &stubClassifier{}, nil, echoTransport{}},
		{"nil transport", &stubScorer{}, &stubClassifier{}, state, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.scorer, tc.classifier, tc.channels, tc.transport); err == nil {
				t.Error("Expected error for missing collaborator")
			}
		})
	}
}

// buildPipeline wires the real detection stack: seeded generator, fitted
// classifier, spectral scorer, channel plan and fernet transport.
func buildPipeline(t *testing.T, seed uint64, threshold float64) (*Coordinator, *signal.Generator) {
	t.Helper()

	gen, err := signal.NewGenerator(rand.NewPCG(seed, seed+1))
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}

	ts, err := classify.BuildTrainingSet(gen, classify.DefaultTrainingConfig())
	if err != nil {
		t.Fatalf("Failed to build training set: %v", err)
	}
	knn, err := classify.NewKNN(classify.DefaultNeighbors)
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}
	if err := knn.Fit(context.Background(), ts); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}

	scorer, err := spectrum.NewScorer(threshold)
	if err != nil {
		t.Fatalf("Failed to create scorer: %v", err)
	}

	transport, err := secure.NewChannel()
	if err != nil {
		t.Fatalf("Failed to create secure channel: %v", err)
	}

	coord, err := New(scorer, knn, testChannelState(t, seed+100), transport, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	return coord, gen
}

func TestEndToEndCleanTraffic(t *testing.T) {
	// A unit carrier on bin 50 alone scores 250, so the clean regime is
	// exercised with the threshold raised above the carrier line.
	coord, gen := buildPipeline(t, 101, 400)

	const cycles = 15
	for i := 0; i < cycles; i++ {
		w, err := gen.Generate(50, 0.1)
		if err != nil {
			t.Fatalf("Generate returned error: %v", err)
		}

		res, err := coord.Cycle(context.Background(), Request{Waveform: w, Frequency: 50, NoiseLevel: 0.1})
		if err != nil {
			t.Fatalf("Cycle %d returned error: %v", i, err)
		}

		if res.Anomalous {
			t.Errorf("Cycle %d: expected no anomaly at noise 0.1 under a raised threshold (peak %v)", i, res.PeakAmplitude)
		}
		if res.Jammed {
			t.Errorf("Cycle %d: expected the classifier to predict clean", i)
		}
		if res.Switched {
			t.Errorf("Cycle %d: expected no reactive switch", i)
		}
		if res.HoppedTo == res.HoppedFrom {
			t.Errorf("Cycle %d: hop must change the channel", i)
		}
		if !res.Secured {
			t.Errorf("Cycle %d: expected the securing step to succeed", i)
		}
		if res.PeakAmplitude < 240 || res.PeakAmplitude > 260 {
			t.Errorf("Cycle %d: expected the carrier line near 250, got %v", i, res.PeakAmplitude)
		}

		expectPhases(t, res, []Phase{PhaseScoring, PhaseClassifying, PhaseHopping, PhaseSecuring})
	}

	if got := coord.Status().Cycles; got != cycles {
		t.Errorf("Expected %d completed cycles, got %d", cycles, got)
	}
}

func TestEndToEndJammedTraffic(t *testing.T) {
	coord, gen := buildPipeline(t, 211, spectrum.DefaultThreshold)

	const cycles = 10
	for i := 0; i < cycles; i++ {
		w, err := gen.Generate(50, 1.5)
		if err != nil {
			t.Fatalf("Generate returned error: %v", err)
		}

		res, err := coord.Cycle(context.Background(), Request{Waveform: w, Frequency: 50, NoiseLevel: 1.5})
		if err != nil {
			t.Fatalf("Cycle %d returned error: %v", i, err)
		}

		if !res.Anomalous {
			t.Errorf("Cycle %d: expected an anomaly at noise 1.5 (peak %v)", i, res.PeakAmplitude)
		}
		if res.PeakAmplitude <= spectrum.DefaultThreshold {
			t.Errorf("Cycle %d: expected peak above %v, got %v", i, float64(spectrum.DefaultThreshold), res.PeakAmplitude)
		}
		if !res.Jammed {
			t.Errorf("Cycle %d: expected the classifier to predict jammed", i)
		}

		// Reactive switch plus the mandatory hop: the channel changes twice.
		if !res.Switched {
			t.Fatalf("Cycle %d: expected a reactive switch", i)
		}
		if res.SwitchedTo == res.SwitchedFrom || res.HoppedTo == res.HoppedFrom {
			t.Errorf("Cycle %d: channel changes must not repeat the current channel", i)
		}
		if !res.Secured {
			t.Errorf("Cycle %d: expected the securing step to succeed", i)
		}

		expectPhases(t, res, []Phase{PhaseScoring, PhaseClassifying, PhaseSwitching, PhaseHopping, PhaseSecuring})
	}
}
