// Package docstore is the document-per-record backend on PostgreSQL. Each
// participant is one JSONB document; writers announce changes with
// NOTIFY so that other instances can LISTEN.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"rollcall/internal/remote"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

// NotifyChannel is the LISTEN/NOTIFY channel shared by all events.
const NotifyChannel = "rollcall_roster_changes"

var (
	_ remote.Backend    = (*Store)(nil)
	_ remote.Subscriber = (*Store)(nil)
)

type Store struct {
	db          *sql.DB
	databaseURL string
}

type notification struct {
	EventID string `json:"event_id"`
	Origin  string `json:"origin"`
}

// New opens the database, applies migrations and returns the backend.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := store.OpenMigrated(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, databaseURL: databaseURL}, nil
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) WriteRecord(ctx context.Context, eventID string, p roster.Participant) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rosters (event_id) VALUES ($1)
		ON CONFLICT (event_id) DO UPDATE SET updated_at = NOW()
	`, eventID); err != nil {
		return fmt.Errorf("touch roster: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO roster_participants (event_id, participant_id, position, document)
		VALUES ($1, $2, (SELECT COALESCE(MAX(position), 0) + 1 FROM roster_participants WHERE event_id = $1), $3)
		ON CONFLICT (event_id, participant_id) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = NOW()
	`, eventID, p.ID, doc)
	if err != nil {
		return fmt.Errorf("upsert participant %d: %w", p.ID, err)
	}

	if err := notify(ctx, tx, eventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write record: %w", err)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, eventID string, id int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM roster_participants WHERE event_id = $1 AND participant_id = $2`, eventID, id,
	); err != nil {
		return fmt.Errorf("delete participant %d: %w", id, err)
	}
	if err := notify(ctx, tx, eventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete record: %w", err)
	}
	return nil
}

func (s *Store) WriteRoster(ctx context.Context, eventID string, snapshot roster.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write roster: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rosters (event_id, current_event, event_date) VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE SET
			current_event = EXCLUDED.current_event,
			event_date = EXCLUDED.event_date,
			updated_at = NOW()
	`, eventID, snapshot.CurrentEvent, snapshot.EventDate); err != nil {
		return fmt.Errorf("upsert roster: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roster_participants WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	for i, p := range snapshot.Participants {
		doc, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal participant: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO roster_participants (event_id, participant_id, position, document)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (event_id, participant_id) DO NOTHING
		`, eventID, p.ID, i+1, doc); err != nil {
			return fmt.Errorf("insert participant %d: %w", p.ID, err)
		}
	}
	if err := notify(ctx, tx, eventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write roster: %w", err)
	}
	return nil
}

func (s *Store) ReadRoster(ctx context.Context, eventID string) (roster.Snapshot, bool, error) {
	var snapshot roster.Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT current_event, event_date FROM rosters WHERE event_id = $1`, eventID,
	).Scan(&snapshot.CurrentEvent, &snapshot.EventDate)
	if err == sql.ErrNoRows {
		return roster.Snapshot{}, false, nil
	}
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("get roster: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM roster_participants
		WHERE event_id = $1
		ORDER BY position, participant_id
	`, eventID)
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	snapshot.Participants = []roster.Participant{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return roster.Snapshot{}, false, fmt.Errorf("scan participant: %w", err)
		}
		var p roster.Participant
		if err := json.Unmarshal(doc, &p); err != nil {
			return roster.Snapshot{}, false, fmt.Errorf("decode participant: %w", err)
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM rosters WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("delete roster: %w", err)
	}
	if err := notify(ctx, tx, eventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete all: %w", err)
	}
	return nil
}

// Subscribe holds a dedicated connection listening on NotifyChannel and calls
// fn for notifications about eventID until ctx is done.
func (s *Store) Subscribe(ctx context.Context, eventID string, fn func(origin string)) error {
	conn, err := pgx.Connect(ctx, s.databaseURL)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		var payload notification
		if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
			continue
		}
		if payload.EventID == eventID {
			fn(payload.Origin)
		}
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func notify(ctx context.Context, tx *sql.Tx, eventID string) error {
	payload, err := json.Marshal(notification{EventID: eventID, Origin: remote.OriginFrom(ctx)})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify change: %w", err)
	}
	return nil
}
