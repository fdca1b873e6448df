package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

// Document names inside a JSON backend directory.
const (
	PersonasFile = "personas.json"
	EventsFile   = "mythological_events.json"
	LoreFile     = "generated_lore.json"
)

// JSONBackend keeps state in three JSON documents under one directory.
type JSONBackend struct {
	dir string
}

// NewJSONBackend creates the directory if needed.
func NewJSONBackend(dir string) (*JSONBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: json backend directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure %s: %w", dir, err)
	}
	return &JSONBackend{dir: dir}, nil
}

// Dir returns the directory holding the documents.
func (b *JSONBackend) Dir() string {
	return b.dir
}

// Load reads all three documents.
func (b *JSONBackend) Load(ctx context.Context) (Snapshot, error) {
	snap := Empty()
	if err := ctx.Err(); err != nil {
		return snap, err
	}

	if data, ok, err := b.read(PersonasFile); err != nil {
		return snap, err
	} else if ok {
		personas, err := decodePersonas(data)
		if err != nil {
			return snap, fmt.Errorf("storage: parse %s: %w", b.path(PersonasFile), err)
		}
		snap.Personas = personas
	}

	if data, ok, err := b.read(EventsFile); err != nil {
		return snap, err
	} else if ok {
		if err := json.Unmarshal(data, &snap.Events); err != nil {
			return snap, fmt.Errorf("storage: parse %s: %w", b.path(EventsFile), err)
		}
	}

	if data, ok, err := b.read(LoreFile); err != nil {
		return snap, err
	} else if ok {
		if err := json.Unmarshal(data, &snap.Lore); err != nil {
			return snap, fmt.Errorf("storage: parse %s: %w", b.path(LoreFile), err)
		}
	}

	normalizeSnapshot(&snap)
	return snap, nil
}

// Save rewrites all three documents. Each document is replaced atomically;
// the set as a whole is not.
func (b *JSONBackend) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.Lore == nil {
		snap.Lore = map[string][]string{}
	}

	personas, err := encodePersonas(snap.Personas)
	if err != nil {
		return fmt.Errorf("storage: encode personas: %w", err)
	}
	events, err := json.MarshalIndent(snap.Events, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode events: %w", err)
	}
	lore, err := json.MarshalIndent(snap.Lore, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode lore: %w", err)
	}

	for _, doc := range []struct {
		name string
		data []byte
	}{
		{PersonasFile, personas},
		{EventsFile, events},
		{LoreFile, lore},
	} {
		if err := writeFileAtomic(b.path(doc.name), doc.data); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; documents are not held open.
func (b *JSONBackend) Close() error {
	return nil
}

func (b *JSONBackend) path(name string) string {
	return filepath.Join(b.dir, name)
}

func (b *JSONBackend) read(name string) ([]byte, bool, error) {
	path := b.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, true, nil
}

// encodePersonas writes a JSON object keyed by persona name whose key order
// follows the slice order. encoding/json sorts map keys, so the object is
// assembled by hand.
func encodePersonas(personas []*persona.Persona) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, p := range personas {
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		body, err := json.MarshalIndent(p, "  ", "  ")
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(body)
	}
	if len(personas) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// decodePersonas streams the personas object so key order survives.
// Duplicate keys keep their first position; the last value wins.
func decodePersonas(data []byte) ([]*persona.Persona, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	store := persona.NewStore()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected persona name, got %v", tok)
		}
		var p persona.Persona
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("persona %q: %w", key, err)
		}
		p.Name = key
		store.Put(&p)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err == nil {
		return nil, fmt.Errorf("unexpected data after personas object")
	}
	return store.All(), nil
}

// writeFileAtomic writes to a temporary file in the target directory and
// renames it over path, so readers never see a half-written document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("storage: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("storage: close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("storage: chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("storage: replace %s: %w", path, err)
	}
	return nil
}
