package storage

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/radiolith/jamguard/internal/channel"
	"github.com/radiolith/jamguard/internal/monitor"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	rErr := rb.Rollback()
	if rErr != nil && !errors.Is(rErr, sql.ErrTxDone) && *err == nil {
		*err = rErr
	}
}

type cycleData struct {
	SessionID     int64
	Sequence      int64
	CycleID       string
	StartedAt     time.Time
	DurationNS    int64
	Frequency     float64
	NoiseLevel    float64
	PeakAmplitude float64
	Anomalous     bool
	Jammed        bool
	Switched      bool
	SwitchedFrom  sql.NullInt64
	SwitchedTo    sql.NullInt64
	HoppedFrom    int64
	HoppedTo      int64
	Channel       int64
	Secured       bool
}

func toCycleData(sessionID int64, result *monitor.CycleResult) *cycleData {
	var switchedFrom, switchedTo sql.NullInt64
	if result.Switched {
		switchedFrom.Int64 = int64(result.SwitchedFrom)
		switchedFrom.Valid = true
		switchedTo.Int64 = int64(result.SwitchedTo)
		switchedTo.Valid = true
	}

	return &cycleData{
		SessionID:     sessionID,
		Sequence:      result.Sequence,
		CycleID:       result.ID,
		StartedAt:     result.StartedAt.UTC(),
		DurationNS:    result.Duration.Nanoseconds(),
		Frequency:     result.Frequency,
		NoiseLevel:    result.NoiseLevel,
		PeakAmplitude: result.PeakAmplitude,
		Anomalous:     result.Anomalous,
		Jammed:        result.Jammed,
		Switched:      result.Switched,
		SwitchedFrom:  switchedFrom,
		SwitchedTo:    switchedTo,
		HoppedFrom:    int64(result.HoppedFrom),
		HoppedTo:      int64(result.HoppedTo),
		Channel:       int64(result.Channel),
		Secured:       result.Secured,
	}
}

func toNullChannel(v sql.NullInt64) *channel.ID {
	if !v.Valid {
		return nil
	}
	id := channel.ID(v.Int64)
	return &id
}

func planString(plan channel.Plan) string {
	parts := make([]string, len(plan))
	for i, id := range plan {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}
