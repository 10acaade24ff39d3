// Package storage persists monitoring sessions and their recovery
// cycles to SQLite and reads them back for inspection.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/radiolith/jamguard/internal/monitor"
)

// Store manages the on-disk recovery journal. Connections are opened
// lazily: a WAL-mode write connection for journaling and a read-only
// connection for queries. It is safe to call from multiple goroutines.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store backed by the SQLite database at dbPath. The
// database file and schema are created on first write.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateSession journals the start of a monitoring run and returns its
// unique identifier. Subsequent RecordCycle calls attach cycles to it.
func (s *Store) CreateSession(ctx context.Context, info SessionInfo) (sessionID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	var configData sql.NullString
	switch v := info.Config.(type) {
	case nil:
	case string:
		configData.String = v
		configData.Valid = true
	case []byte:
		configData.String = string(v)
		configData.Valid = true
	default:
		data, mErr := json.Marshal(v)
		if mErr != nil {
			err = fmt.Errorf("marshaling session config: %w", mErr)
			return
		}
		configData.String = string(data)
		configData.Valid = true
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(
		ctx,
		info.RunID,
		info.StartedAt.UTC(),
		info.Seed,
		info.Frequency,
		info.NoiseLevel,
		info.Threshold,
		planString(info.ChannelPlan),
		configData,
	)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

const insertEventsSQL = `
    INSERT INTO cycle_events (
        cycle_id,
        seq,
        phase,
        at,
        message
    )
    VALUES `

// RecordCycle journals one finished or aborted recovery cycle together
// with its phase trail. The cycle row and its events are written in a
// single transaction.
func (s *Store) RecordCycle(ctx context.Context, sessionID int64, result *monitor.CycleResult) (err error) {
	if result == nil {
		return errors.New("nil cycle result")
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	data := toCycleData(sessionID, result)

	res, err := tx.ExecContext(
		ctx,
		insertCycleSQL,
		data.SessionID,
		data.Sequence,
		data.CycleID,
		data.StartedAt,
		data.DurationNS,
		data.Frequency,
		data.NoiseLevel,
		data.PeakAmplitude,
		data.Anomalous,
		data.Jammed,
		data.Switched,
		data.SwitchedFrom,
		data.SwitchedTo,
		data.HoppedFrom,
		data.HoppedTo,
		data.Channel,
		data.Secured,
	)
	if err != nil {
		return fmt.Errorf("inserting cycle: %w", err)
	}

	cycleID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting cycle ID: %w", err)
	}

	if len(result.Events) > 0 {
		values := make([]any, 0, len(result.Events)*5)
		valuesPlaceholder := "(?, ?, ?, ?, ?)"

		var sb strings.Builder
		sb.WriteString(insertEventsSQL)

		for i, ev := range result.Events {
			values = append(values, cycleID, i, string(ev.Phase), ev.At.UTC(), ev.Message)

			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(valuesPlaceholder)
		}

		if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
			return fmt.Errorf("batch inserting events: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Session retrieves a single stored run by its identifier.
func (s *Store) Session(ctx context.Context, id int64) (session *Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var sess Session
	var config sql.NullString
	if err = stmt.QueryRowContext(ctx, id).Scan(
		&sess.ID,
		&sess.RunID,
		&sess.StartedAt,
		&sess.Seed,
		&sess.Frequency,
		&sess.NoiseLevel,
		&sess.Threshold,
		&sess.ChannelPlan,
		&config,
	); err != nil {
		err = fmt.Errorf("querying session: %w", err)
		return
	}
	if config.Valid {
		sess.Config = &config.String
	}

	session = &sess
	return
}

// Sessions returns all stored runs ordered by start time.
func (s *Store) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess Session
		var config sql.NullString
		if err = rows.Scan(
			&sess.ID,
			&sess.RunID,
			&sess.StartedAt,
			&sess.Seed,
			&sess.Frequency,
			&sess.NoiseLevel,
			&sess.Threshold,
			&sess.ChannelPlan,
			&config,
		); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		if config.Valid {
			sess.Config = &config.String
		}
		sessions = append(sessions, &sess)
	}

	err = rows.Err()
	return
}

// CycleCount reports how many cycles a session has journaled.
func (s *Store) CycleCount(ctx context.Context, sessionID int64) (count int64, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	if err = db.QueryRowContext(ctx, countCyclesSQL, sessionID).Scan(&count); err != nil {
		err = fmt.Errorf("counting cycles: %w", err)
		return
	}
	return
}

// Events returns the phase trail of a journaled cycle in the order the
// phases ran. The id is the cycle row identifier from CycleRecord.ID.
func (s *Store) Events(ctx context.Context, cycleID int64) (events []EventRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectEventsSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	rows, err := stmt.QueryContext(ctx, cycleID)
	if err != nil {
		err = fmt.Errorf("querying events: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var ev EventRecord
		if err = rows.Scan(&ev.ID, &ev.CycleID, &ev.Sequence, &ev.Phase, &ev.At, &ev.Message); err != nil {
			err = fmt.Errorf("scanning event: %w", err)
			return
		}
		events = append(events, ev)
	}

	err = rows.Err()
	return
}

// Close finalizes indexes on the write connection and releases both
// database connections. It is safe to call Close multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}
