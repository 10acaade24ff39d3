package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radiolith/jamguard/internal/channel"
	"github.com/radiolith/jamguard/internal/secure"
	"github.com/radiolith/jamguard/internal/signal"
	"github.com/radiolith/jamguard/internal/spectrum"
)

// ErrIntegrityFault is returned when the securing step cannot reproduce the
// confirmation message, breaking the secure-transport invariant. The cycle
// that hit it is aborted and reports no peak amplitude.
var ErrIntegrityFault = errors.New("monitor: secure transport integrity fault")

// Scorer produces a detection verdict for a waveform.
type Scorer interface {
	Score(w signal.Waveform) (spectrum.Verdict, error)
}

// Predictor is the read side of a fitted jam classifier.
type Predictor interface {
	Predict(w signal.Waveform) (bool, error)
}

// SecureTransport seals and opens confirmation messages.
type SecureTransport interface {
	Encrypt(msg string) ([]byte, error)
	Decrypt(tok []byte) (string, error)
}

// Recorder persists completed cycles to the recovery journal.
type Recorder interface {
	RecordCycle(ctx context.Context, result *CycleResult) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, result *CycleResult) error

// RecordCycle calls f.
func (f RecorderFunc) RecordCycle(ctx context.Context, result *CycleResult) error {
	return f(ctx, result)
}

// Request is one monitoring request: the waveform to evaluate plus the link
// parameters it was generated with, carried through for reporting.
type Request struct {
	Waveform   signal.Waveform
	Frequency  float64 // Carrier frequency in Hz
	NoiseLevel float64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for cycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder attaches a recovery journal. Recording is best-effort: a
// failed write is logged and the cycle proceeds.
func WithRecorder(recorder Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = recorder
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator drives the recovery state machine over incoming waveforms:
// score, classify, switch away when either detector fires, hop
// unconditionally, then prove the secured link with an encrypt/decrypt round
// trip. One coordinator instance owns the channel state; Cycle is re-entrant
// per call but must be driven from a single goroutine, while Status may be
// read from any goroutine.
type Coordinator struct {
	scorer     Scorer
	classifier Predictor
	channels   *channel.State
	transport  SecureTransport

	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	status   Status
	sequence int64
}

// New wires a coordinator from its collaborators. All four are required; the
// classifier must already be fitted.
func New(scorer Scorer, classifier Predictor, channels *channel.State, transport SecureTransport, opts ...Option) (*Coordinator, error) {
	switch {
	case scorer == nil:
		return nil, fmt.Errorf("monitor: nil scorer")
	case classifier == nil:
		return nil, fmt.Errorf("monitor: nil classifier")
	case channels == nil:
		return nil, fmt.Errorf("monitor: nil channel state")
	case transport == nil:
		return nil, fmt.Errorf("monitor: nil secure transport")
	}

	c := &Coordinator{
		scorer:     scorer,
		classifier: classifier,
		channels:   channels,
		transport:  transport,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.status.Channel = channels.Current()
	return c, nil
}

// Cycle runs one pass of the recovery state machine over req. The pass is
// one atomic unit of work: the status snapshot and the journal only ever
// reflect cycles that ran to completion or aborted in the securing step,
// never a cycle in flight.
func (c *Coordinator) Cycle(ctx context.Context, req Request) (*CycleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.sequence++
	started := c.now()
	res := &CycleResult{
		ID:         uuid.NewString(),
		Sequence:   c.sequence,
		StartedAt:  started,
		Frequency:  req.Frequency,
		NoiseLevel: req.NoiseLevel,
	}

	logger := c.logger.With(
		slog.String("cycleId", res.ID),
		slog.Int64("sequence", res.Sequence),
	)

	// Scoring
	verdict, err := c.scorer.Score(req.Waveform)
	if err != nil {
		return nil, fmt.Errorf("monitor: scoring waveform: %w", err)
	}
	res.PeakAmplitude = verdict.PeakAmplitude
	res.Anomalous = verdict.Anomalous
	res.record(PhaseScoring, c.now(), fmt.Sprintf("max amplitude detected: %.2f", verdict.PeakAmplitude))

	logger.Debug("Waveform scored",
		slog.Float64("peakAmplitude", verdict.PeakAmplitude),
		slog.Bool("anomalous", verdict.Anomalous))
	if verdict.Anomalous {
		logger.Warn("Anomaly detected: potential jamming signal",
			slog.Float64("peakAmplitude", verdict.PeakAmplitude))
	}
	needSwitch := verdict.Anomalous

	// Classifying
	jammed, err := c.classifier.Predict(req.Waveform)
	if err != nil {
		return nil, fmt.Errorf("monitor: classifying waveform: %w", err)
	}
	res.Jammed = jammed
	if jammed {
		res.record(PhaseClassifying, c.now(), "classifier verdict: jammed")
		logger.Warn("Jamming detected by classifier")
		needSwitch = true
	} else {
		res.record(PhaseClassifying, c.now(), "classifier verdict: clean")
	}

	// Switching runs only as a reaction to a detection; either detector
	// alone is enough to trigger it.
	if needSwitch {
		res.SwitchedFrom = c.channels.Current()
		res.SwitchedTo = c.channels.SwitchAway()
		res.Switched = true
		res.record(PhaseSwitching, c.now(), fmt.Sprintf("interference suspected, switched to channel %d", res.SwitchedTo))
		logger.Warn("Interference suspected, switched channel",
			slog.Int("from", int(res.SwitchedFrom)),
			slog.Int("to", int(res.SwitchedTo)))
	}

	// Hopping runs every cycle whatever the verdicts said, on top of any
	// reactive switch. A cycle changes the channel at least once.
	res.HoppedFrom = c.channels.Current()
	res.HoppedTo = c.channels.Hop()
	res.Channel = res.HoppedTo
	res.record(PhaseHopping, c.now(), fmt.Sprintf("frequency hop, now using channel %d", res.HoppedTo))
	logger.Info("Frequency hop",
		slog.Int("from", int(res.HoppedFrom)),
		slog.Int("to", int(res.HoppedTo)))

	logger.Info("Recovery initiated: switched to a new channel",
		slog.Int("channel", int(res.Channel)))

	// Securing
	if err := c.secureRoundTrip(res); err != nil {
		res.Duration = c.now().Sub(started)
		res.record(PhaseSecuring, c.now(), fmt.Sprintf("confirmation round trip failed: %v", err))
		logger.Error("Secure transport round trip failed", slog.Any("error", err))

		c.recordCycle(ctx, res, logger)

		c.mu.Lock()
		c.status.SecureFailures++
		c.status.Channel = res.Channel
		c.mu.Unlock()
		return nil, err
	}

	res.Secured = true
	res.Duration = c.now().Sub(started)
	res.record(PhaseSecuring, c.now(), "confirmation message round trip verified")
	logger.Info("Secured message decrypted",
		slog.Float64("peakAmplitude", res.PeakAmplitude),
		slog.Int("channel", int(res.Channel)))

	c.recordCycle(ctx, res, logger)

	c.mu.Lock()
	c.status = Status{
		Cycles:         c.status.Cycles + 1,
		SecureFailures: c.status.SecureFailures,
		Channel:        res.Channel,
		LastCycleID:    res.ID,
		LastCycleAt:    res.StartedAt,
		PeakAmplitude:  res.PeakAmplitude,
		Anomalous:      res.Anomalous,
		Jammed:         res.Jammed,
	}
	c.mu.Unlock()

	return res, nil
}

// Status returns the latest snapshot. Safe to call from any goroutine while
// cycles run.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// secureRoundTrip encrypts the confirmation message and immediately decrypts
// it, asserting the round trip reproduces the original.
func (c *Coordinator) secureRoundTrip(res *CycleResult) error {
	tok, err := c.transport.Encrypt(secure.ConfirmationMessage)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrityFault, err)
	}

	plain, err := c.transport.Decrypt(tok)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrityFault, err)
	}
	if plain != secure.ConfirmationMessage {
		return fmt.Errorf("%w: decrypted message does not match the original", ErrIntegrityFault)
	}
	return nil
}

// recordCycle journals the cycle when a recorder is attached. Losing a row
// must not stop the link, so failures are logged and swallowed.
func (c *Coordinator) recordCycle(ctx context.Context, res *CycleResult, logger *slog.Logger) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordCycle(ctx, res); err != nil {
		logger.Error("Failed to record cycle", slog.Any("error", err))
	}
}
