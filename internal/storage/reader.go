package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CycleOption narrows the set of cycles a CycleReader returns.
type CycleOption func(*CycleReader)

// WithAnomalousOnly limits the reader to cycles whose max amplitude
// exceeded the detection threshold.
func WithAnomalousOnly() CycleOption {
	return func(r *CycleReader) {
		r.anomalousOnly = true
	}
}

// WithLimit caps the number of cycles the reader returns.
func WithLimit(n int) CycleOption {
	return func(r *CycleReader) {
		r.limit = &n
	}
}

// WithSince limits the reader to cycles started at or after t.
func WithSince(t time.Time) CycleOption {
	return func(r *CycleReader) {
		r.since = &t
	}
}

// CycleReader provides an iterator over the journaled cycles of one
// session in sequence order. It must be closed after use. Each reader
// instance should only be used from a single goroutine.
type CycleReader struct {
	rows *sql.Rows

	anomalousOnly bool
	limit         *int
	since         *time.Time

	current *CycleRecord
	err     error
}

// Cycles creates a reader over the journaled cycles of a session,
// narrowed by the given options. An unknown session yields an empty
// iteration, not an error.
func (s *Store) Cycles(ctx context.Context, sessionID int64, opts ...CycleOption) (*CycleReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	r := &CycleReader{}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.init(ctx, db, sessionID); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return r, nil
}

func (r *CycleReader) init(ctx context.Context, db *sql.DB, sessionID int64) (err error) {
	if sessionID <= 0 {
		return errors.New("session ID required")
	}

	var sb strings.Builder
	sb.WriteString(selectCyclesSQL)

	args := []any{sessionID}
	if r.anomalousOnly {
		sb.WriteString(" AND anomalous = 1")
	}
	if r.since != nil {
		sb.WriteString(" AND started_at >= ?")
		args = append(args, r.since.UTC())
	}
	sb.WriteString(" ORDER BY seq")
	if r.limit != nil {
		sb.WriteString(" LIMIT ?")
		args = append(args, *r.limit)
	}

	stmt, err := db.PrepareContext(ctx, sb.String())
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if r.rows, err = stmt.QueryContext(ctx, args...); err != nil {
		return fmt.Errorf("querying cycles: %w", err)
	}
	return nil
}

// Next advances the iterator and returns true if there is another cycle
// to read, false when the iteration is complete or an error occurred.
func (r *CycleReader) Next(ctx context.Context) bool {
	if r.err != nil || r.rows == nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		r.err = err
		return false
	}
	if !r.rows.Next() {
		r.err = r.rows.Err()
		return false
	}

	var rec CycleRecord
	var durationNS int64
	var switchedFrom, switchedTo sql.NullInt64
	if err := r.rows.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.Sequence,
		&rec.CycleID,
		&rec.StartedAt,
		&durationNS,
		&rec.Frequency,
		&rec.NoiseLevel,
		&rec.PeakAmplitude,
		&rec.Anomalous,
		&rec.Jammed,
		&rec.Switched,
		&switchedFrom,
		&switchedTo,
		&rec.HoppedFrom,
		&rec.HoppedTo,
		&rec.Channel,
		&rec.Secured,
	); err != nil {
		r.err = fmt.Errorf("scanning cycle: %w", err)
		return false
	}

	rec.Duration = time.Duration(durationNS)
	rec.SwitchedFrom = toNullChannel(switchedFrom)
	rec.SwitchedTo = toNullChannel(switchedTo)

	r.current = &rec
	return true
}

// Current returns the cycle read by the last successful call to Next.
// If called after Next returned false, the behavior is undefined.
func (r *CycleReader) Current() *CycleRecord {
	return r.current
}

// Err returns any error that occurred during iteration. When Next
// returns false, Err distinguishes end of data from a failure.
func (r *CycleReader) Err() error {
	return r.err
}

// Close releases the database resources associated with the reader.
// After Close is called, the reader should not be used.
func (r *CycleReader) Close() error {
	if r.rows == nil {
		return nil
	}
	return r.rows.Close()
}
