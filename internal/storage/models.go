package storage

import (
	"time"

	"github.com/radiolith/jamguard/internal/channel"
)

// SessionInfo describes a monitoring run to be journaled. Config may be
// a string, []byte, or any JSON-serializable value; it is stored as an
// opaque snapshot alongside the run parameters.
type SessionInfo struct {
	RunID       string
	StartedAt   time.Time
	Seed        int64
	Frequency   float64
	NoiseLevel  float64
	Threshold   float64
	ChannelPlan channel.Plan
	Config      any
}

// Session is a stored monitoring run.
type Session struct {
	ID          int64
	RunID       string
	StartedAt   time.Time
	Seed        int64
	Frequency   float64
	NoiseLevel  float64
	Threshold   float64
	ChannelPlan string
	Config      *string
}

// CycleRecord is a journaled recovery cycle. SwitchedFrom and
// SwitchedTo are nil for cycles that hopped on schedule without a
// reactive switch.
type CycleRecord struct {
	ID            int64
	SessionID     int64
	Sequence      int64
	CycleID       string
	StartedAt     time.Time
	Duration      time.Duration
	Frequency     float64
	NoiseLevel    float64
	PeakAmplitude float64
	Anomalous     bool
	Jammed        bool
	Switched      bool
	SwitchedFrom  *channel.ID
	SwitchedTo    *channel.ID
	HoppedFrom    channel.ID
	HoppedTo      channel.ID
	Channel       channel.ID
	Secured       bool
}

// EventRecord is a single entry from a cycle's phase trail.
type EventRecord struct {
	ID       int64
	CycleID  int64
	Sequence int64
	Phase    string
	At       time.Time
	Message  string
}
