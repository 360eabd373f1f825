package local

import "database/sql"

// schema runs on every open; statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS rosters (
    event_id TEXT PRIMARY KEY,
    current_event TEXT NOT NULL DEFAULT '',
    event_date TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
    event_id TEXT NOT NULL,
    id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    entity TEXT NOT NULL,
    attendance TEXT NOT NULL DEFAULT 'unmarked',
    PRIMARY KEY (event_id, id),
    FOREIGN KEY (event_id) REFERENCES rosters(event_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_participants_event_position ON participants(event_id, position);
`

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
