// Package local is the local-only persistent backend: the roster is kept in a
// SQLite file on this machine and nobody else sees it.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"rollcall/internal/remote"
	"rollcall/internal/roster"
)

var _ remote.Backend = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writes serialized and the pragma in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Name() string { return "sqlite" }

func (s *Store) WriteRecord(ctx context.Context, eventID string, p roster.Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := touchRoster(ctx, tx, eventID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO participants (event_id, id, position, name, entity, attendance)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM participants WHERE event_id = ?), ?, ?, ?)
		ON CONFLICT (event_id, id) DO UPDATE SET
			name = excluded.name,
			entity = excluded.entity,
			attendance = excluded.attendance`,
		eventID, p.ID, eventID, p.Name, p.Entity, p.Attendance.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert participant %d: %w", p.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write record: %w", err)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, eventID string, id int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE event_id = ? AND id = ?`, eventID, id); err != nil {
		return fmt.Errorf("delete participant %d: %w", id, err)
	}
	return nil
}

func (s *Store) WriteRoster(ctx context.Context, eventID string, snapshot roster.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write roster: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rosters (event_id, current_event, event_date, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (event_id) DO UPDATE SET
			current_event = excluded.current_event,
			event_date = excluded.event_date,
			updated_at = excluded.updated_at`,
		eventID, snapshot.CurrentEvent, snapshot.EventDate, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert roster: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	for i, p := range snapshot.Participants {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO participants (event_id, id, position, name, entity, attendance) VALUES (?, ?, ?, ?, ?, ?)`,
			eventID, p.ID, i+1, p.Name, p.Entity, p.Attendance.String(),
		)
		if err != nil {
			return fmt.Errorf("insert participant %d: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write roster: %w", err)
	}
	return nil
}

func (s *Store) ReadRoster(ctx context.Context, eventID string) (roster.Snapshot, bool, error) {
	var snapshot roster.Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT current_event, event_date FROM rosters WHERE event_id = ?`, eventID,
	).Scan(&snapshot.CurrentEvent, &snapshot.EventDate)
	if err == sql.ErrNoRows {
		return roster.Snapshot{}, false, nil
	}
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("get roster: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, entity, attendance FROM participants WHERE event_id = ? ORDER BY position, id`, eventID,
	)
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	snapshot.Participants = []roster.Participant{}
	for rows.Next() {
		var (
			p          roster.Participant
			attendance string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Entity, &attendance); err != nil {
			return roster.Snapshot{}, false, fmt.Errorf("scan participant: %w", err)
		}
		if p.Attendance, err = roster.ParseAttendance(attendance); err != nil {
			return roster.Snapshot{}, false, fmt.Errorf("participant %d: %w", p.ID, err)
		}
		snapshot.Participants = append(snapshot.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("iterate participants: %w", err)
	}
	return snapshot, true, nil
}

func (s *Store) DeleteAll(ctx context.Context, eventID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete all: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rosters WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete roster: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete all: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func touchRoster(ctx context.Context, tx *sql.Tx, eventID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rosters (event_id, updated_at) VALUES (?, ?)
		ON CONFLICT (event_id) DO UPDATE SET updated_at = excluded.updated_at`,
		eventID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("touch roster: %w", err)
	}
	return nil
}
