/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sqlite implements the session store on SQLite. Transactions
// take the write lock up front (_txlock=immediate) so concurrent
// start/stop calls for a subject serialize; the partial unique index on
// open sessions is the authoritative backstop for races.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/practicum/timeclock/resilience"
	"github.com/practicum/timeclock/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS clock_sessions (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	site_id TEXT NOT NULL,
	start_at TEXT NOT NULL,
	end_at TEXT,
	status TEXT NOT NULL,
	duration_hours REAL NOT NULL DEFAULT 0,
	start_location TEXT,
	end_location TEXT,
	notes TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_one_open_session
	ON clock_sessions(subject_id) WHERE end_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_sessions_subject
	ON clock_sessions(subject_id, start_at);
`

// Store is a SQLite-backed session.Store
type Store struct {
	db *sql.DB
}

// Open creates a Store at path and migrates the schema.
// ":memory:" works for tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	if path == ":memory:" {
		// a shared in-memory database so the pool sees one instance
		dsn = "file:timeclock?mode=memory&cache=shared&_txlock=immediate&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool
func (s *Store) Close() error {
	return s.db.Close()
}

// withTransaction runs fn in a transaction, rolling back on error
func (s *Store) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("beginning transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// CreateOpen implements session.Store
func (s *Store) CreateOpen(ctx context.Context, cs session.ClockSession) error {
	now := time.Now().UTC()
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		// application-level check first for a clean conflict; the
		// unique index below catches whatever slips through
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM clock_sessions WHERE subject_id = ? AND end_at IS NULL`,
			cs.SubjectID).Scan(&existing)
		if err == nil {
			return session.ErrDuplicateOpen
		}
		if err != sql.ErrNoRows {
			return mapError(err)
		}

		startLoc, err := marshalLocation(cs.StartLocation)
		if err != nil {
			return err
		}
		notes, err := marshalNotes(cs.Notes)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO clock_sessions
				(id, subject_id, site_id, start_at, end_at, status, duration_hours,
				 start_location, end_location, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, NULL, ?, 0, ?, NULL, ?, ?, ?)`,
			cs.ID, cs.SubjectID, cs.SiteID,
			cs.StartAt.UTC().Format(time.RFC3339Nano),
			cs.Status, startLoc, notes,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return mapError(err)
		}
		return nil
	})
}

// CloseOpen implements session.Store
func (s *Store) CloseOpen(ctx context.Context, subjectID string, mutate func(cs *session.ClockSession) error) (session.ClockSession, error) {
	var result session.ClockSession
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			selectColumns+` WHERE subject_id = ? AND end_at IS NULL`, subjectID)
		cs, err := scanSession(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return session.ErrNoOpenSession
			}
			return mapError(err)
		}

		if err := mutate(&cs); err != nil {
			return err
		}

		endLoc, err := marshalLocation(cs.EndLocation)
		if err != nil {
			return err
		}
		notes, err := marshalNotes(cs.Notes)
		if err != nil {
			return err
		}
		var endAt interface{}
		if cs.EndAt != nil {
			endAt = cs.EndAt.UTC().Format(time.RFC3339Nano)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE clock_sessions
			SET end_at = ?, status = ?, duration_hours = ?, end_location = ?,
			    notes = ?, updated_at = ?
			WHERE id = ?`,
			endAt, cs.Status, cs.DurationHours, endLoc, notes,
			time.Now().UTC().Format(time.RFC3339Nano), cs.ID,
		)
		if err != nil {
			return mapError(err)
		}
		result = cs
		return nil
	})
	if err != nil {
		return session.ClockSession{}, err
	}
	return result, nil
}

// FindOpen implements session.Store. Returns nil when nothing is open.
func (s *Store) FindOpen(ctx context.Context, subjectID string) (*session.ClockSession, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE subject_id = ? AND end_at IS NULL`, subjectID)
	cs, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return &cs, nil
}

// ListBySubject returns all sessions for a subject, newest first
func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]session.ClockSession, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE subject_id = ? ORDER BY start_at DESC`, subjectID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []session.ClockSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT id, subject_id, site_id, start_at, end_at, status, duration_hours,
	       start_location, end_location, notes, created_at, updated_at
	FROM clock_sessions`

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (session.ClockSession, error) {
	var cs session.ClockSession
	var startAt, createdAt, updatedAt string
	var endAt, startLoc, endLoc sql.NullString
	var notes string
	err := row.Scan(&cs.ID, &cs.SubjectID, &cs.SiteID, &startAt, &endAt,
		&cs.Status, &cs.DurationHours, &startLoc, &endLoc, &notes,
		&createdAt, &updatedAt)
	if err != nil {
		return session.ClockSession{}, err
	}
	if cs.StartAt, err = time.Parse(time.RFC3339Nano, startAt); err != nil {
		return session.ClockSession{}, fmt.Errorf("parsing start_at: %w", err)
	}
	if endAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endAt.String)
		if err != nil {
			return session.ClockSession{}, fmt.Errorf("parsing end_at: %w", err)
		}
		cs.EndAt = &t
	}
	if cs.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return session.ClockSession{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if cs.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return session.ClockSession{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if cs.StartLocation, err = unmarshalLocation(startLoc); err != nil {
		return session.ClockSession{}, err
	}
	if cs.EndLocation, err = unmarshalLocation(endLoc); err != nil {
		return session.ClockSession{}, err
	}
	if err = json.Unmarshal([]byte(notes), &cs.Notes); err != nil {
		return session.ClockSession{}, fmt.Errorf("parsing notes: %w", err)
	}
	return cs, nil
}

func marshalLocation(loc *session.GeoPoint) (interface{}, error) {
	if loc == nil {
		return nil, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("encoding location: %w", err)
	}
	return string(b), nil
}

func unmarshalLocation(v sql.NullString) (*session.GeoPoint, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	loc := &session.GeoPoint{}
	if err := json.Unmarshal([]byte(v.String), loc); err != nil {
		return nil, fmt.Errorf("decoding location: %w", err)
	}
	return loc, nil
}

func marshalNotes(notes []session.Advisory) (string, error) {
	if notes == nil {
		notes = []session.Advisory{}
	}
	b, err := json.Marshal(notes)
	if err != nil {
		return "", fmt.Errorf("encoding notes: %w", err)
	}
	return string(b), nil
}

// mapError translates driver errors. Unique-index violations on the
// open-session index become ErrDuplicateOpen; lock contention is marked
// retryable so the engine's retry policy can absorb it.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return session.ErrDuplicateOpen
	}
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "busy") {
		return resilience.MarkRetryable(err)
	}
	return err
}
