// Package storage persists the persona store, the event log, and the lore
// cache. Every Save rewrites the full state; there are no incremental writes.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

// Backend kinds accepted by Open.
const (
	KindJSON   = "json"
	KindSQLite = "sqlite"
)

// Snapshot is the complete durable state.
type Snapshot struct {
	// Personas in store insertion order.
	Personas []*persona.Persona
	Events   []persona.Event
	// Lore is reserved for generated lore; nothing populates it yet.
	Lore map[string][]string
}

// Empty returns a snapshot with initialized collections.
func Empty() Snapshot {
	return Snapshot{
		Personas: []*persona.Persona{},
		Events:   []persona.Event{},
		Lore:     map[string][]string{},
	}
}

// Backend loads and saves snapshots.
type Backend interface {
	// Load returns the persisted state. Missing documents yield empty
	// collections; malformed ones are an error.
	Load(ctx context.Context) (Snapshot, error)
	// Save overwrites the persisted state in full.
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Open builds the backend named by kind rooted at path. For json, path is a
// directory; for sqlite, a database file.
func Open(kind, path string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindJSON:
		return NewJSONBackend(path)
	case KindSQLite:
		return NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", kind)
	}
}

func normalizeSnapshot(snap *Snapshot) {
	if snap.Personas == nil {
		snap.Personas = []*persona.Persona{}
	}
	if snap.Events == nil {
		snap.Events = []persona.Event{}
	}
	if snap.Lore == nil {
		snap.Lore = map[string][]string{}
	}
	for _, p := range snap.Personas {
		p.Normalize()
	}
	for i := range snap.Events {
		if snap.Events[i].Tags == nil {
			snap.Events[i].Tags = []string{}
		}
	}
}
