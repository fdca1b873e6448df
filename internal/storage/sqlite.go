package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS personas (
	position INTEGER NOT NULL,
	name     TEXT PRIMARY KEY,
	body     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL DEFAULT '',
	timestamp        TEXT NOT NULL,
	persona_name     TEXT NOT NULL,
	event_type       TEXT NOT NULL,
	context          TEXT NOT NULL,
	emotional_weight INTEGER NOT NULL,
	tags             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_persona ON events(persona_name);
CREATE TABLE IF NOT EXISTS lore (
	key    TEXT PRIMARY KEY,
	lines  TEXT NOT NULL
);`

// SQLiteBackend keeps state in a single SQLite database. Persona bodies and
// tag lists are stored as JSON so the snapshot shape matches the JSON
// backend field for field.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (or creates) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema %s: %w", path, err)
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

// Path returns the database file.
func (b *SQLiteBackend) Path() string {
	return b.path
}

// Load reads personas by position and events by insertion sequence.
func (b *SQLiteBackend) Load(ctx context.Context) (Snapshot, error) {
	snap := Empty()

	rows, err := b.db.QueryContext(ctx, `SELECT name, body FROM personas ORDER BY position`)
	if err != nil {
		return snap, fmt.Errorf("storage: query personas: %w", err)
	}
	for rows.Next() {
		var name, body string
		if err := rows.Scan(&name, &body); err != nil {
			rows.Close()
			return snap, fmt.Errorf("storage: scan persona: %w", err)
		}
		var p persona.Persona
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			rows.Close()
			return snap, fmt.Errorf("storage: parse persona %q: %w", name, err)
		}
		p.Name = name
		snap.Personas = append(snap.Personas, &p)
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("storage: personas: %w", err)
	}

	rows, err = b.db.QueryContext(ctx, `SELECT id, timestamp, persona_name, event_type, context, emotional_weight, tags FROM events ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("storage: query events: %w", err)
	}
	for rows.Next() {
		var (
			e         persona.Event
			timestamp string
			eventType string
			tags      string
		)
		if err := rows.Scan(&e.ID, &timestamp, &e.PersonaName, &eventType, &e.Context, &e.EmotionalWeight, &tags); err != nil {
			rows.Close()
			return snap, fmt.Errorf("storage: scan event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			rows.Close()
			return snap, fmt.Errorf("storage: parse event timestamp %q: %w", timestamp, err)
		}
		e.Timestamp = ts
		e.Type = persona.EventType(eventType)
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			rows.Close()
			return snap, fmt.Errorf("storage: parse event tags: %w", err)
		}
		snap.Events = append(snap.Events, e)
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("storage: events: %w", err)
	}

	rows, err = b.db.QueryContext(ctx, `SELECT key, lines FROM lore`)
	if err != nil {
		return snap, fmt.Errorf("storage: query lore: %w", err)
	}
	for rows.Next() {
		var key, lines string
		if err := rows.Scan(&key, &lines); err != nil {
			rows.Close()
			return snap, fmt.Errorf("storage: scan lore: %w", err)
		}
		var values []string
		if err := json.Unmarshal([]byte(lines), &values); err != nil {
			rows.Close()
			return snap, fmt.Errorf("storage: parse lore %q: %w", key, err)
		}
		snap.Lore[key] = values
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("storage: lore: %w", err)
	}

	normalizeSnapshot(&snap)
	return snap, nil
}

// Save replaces every row inside one transaction.
func (b *SQLiteBackend) Save(ctx context.Context, snap Snapshot) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"personas", "events", "lore"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("storage: clear %s: %w", table, err)
		}
	}

	for i, p := range snap.Personas {
		body, mErr := json.Marshal(p)
		if mErr != nil {
			return fmt.Errorf("storage: encode persona %q: %w", p.Name, mErr)
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO personas (position, name, body) VALUES (?, ?, ?)`, i, p.Name, string(body)); err != nil {
			return fmt.Errorf("storage: insert persona %q: %w", p.Name, err)
		}
	}

	for _, e := range snap.Events {
		tags, mErr := json.Marshal(e.Tags)
		if mErr != nil {
			return fmt.Errorf("storage: encode tags: %w", mErr)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO events (id, timestamp, persona_name, event_type, context, emotional_weight, tags) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Timestamp.Format(time.RFC3339Nano), e.PersonaName, string(e.Type), e.Context, e.EmotionalWeight, string(tags),
		); err != nil {
			return fmt.Errorf("storage: insert event: %w", err)
		}
	}

	for key, values := range snap.Lore {
		lines, mErr := json.Marshal(values)
		if mErr != nil {
			return fmt.Errorf("storage: encode lore %q: %w", key, mErr)
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO lore (key, lines) VALUES (?, ?)`, key, string(lines)); err != nil {
			return fmt.Errorf("storage: insert lore %q: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
