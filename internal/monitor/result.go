package monitor

import (
	"time"

	"github.com/radiolith/jamguard/internal/channel"
)

// Phase names one stage of the recovery cycle state machine. A cycle moves
// through scoring, classifying, an optional reactive switch, the scheduled
// hop and the securing round trip before returning to idle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseScoring     Phase = "scoring"
	PhaseClassifying Phase = "classifying"
	PhaseSwitching   Phase = "switching"
	PhaseHopping     Phase = "hopping"
	PhaseSecuring    Phase = "securing"
)

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// Event records one state-machine transition inside a cycle. The ordered
// event trail is the observable contract of a cycle, independent of how log
// lines are formatted.
type Event struct {
	Phase   Phase
	At      time.Time
	Message string
}

// CycleResult captures everything observed during one monitoring cycle.
type CycleResult struct {
	ID        string // Unique cycle identifier
	Sequence  int64  // 1-based cycle number within the run
	StartedAt time.Time
	Duration  time.Duration

	Frequency  float64 // Carrier frequency of the scored waveform in Hz
	NoiseLevel float64 // Configured noise level of the scored waveform

	PeakAmplitude float64 // Maximum magnitude across the spectrum
	Anomalous     bool    // Energy detector verdict
	Jammed        bool    // Classifier verdict

	Switched     bool       // Whether a reactive switch ran
	SwitchedFrom channel.ID // Valid when Switched
	SwitchedTo   channel.ID // Valid when Switched
	HoppedFrom   channel.ID
	HoppedTo     channel.ID
	Channel      channel.ID // Channel in use when the cycle finished
	Secured      bool       // Whether the confirmation round trip succeeded

	Events []Event
}

// record appends a transition to the cycle's event trail.
func (r *CycleResult) record(phase Phase, at time.Time, message string) {
	r.Events = append(r.Events, Event{Phase: phase, At: at, Message: message})
}

// Phases returns the ordered phases of the event trail.
func (r *CycleResult) Phases() []Phase {
	phases := make([]Phase, len(r.Events))
	for i, e := range r.Events {
		phases[i] = e.Phase
	}
	return phases
}

// Status is a point-in-time snapshot of the link for observers. It reflects
// only cycles that have finished: the peak, verdicts and cycle fields come
// from the last completed cycle, while Channel and SecureFailures also move
// when a cycle aborts in the securing step (the hop has happened by then).
type Status struct {
	Cycles         int64      // Completed cycles
	SecureFailures int64      // Cycles aborted during the securing step
	Channel        channel.ID // Channel currently in use
	LastCycleID    string
	LastCycleAt    time.Time
	PeakAmplitude  float64
	Anomalous      bool
	Jammed         bool
}
