package exportcfg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS export_presets (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    payload    TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS export_defaults (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    payload TEXT NOT NULL
);
`

// Store persists custom presets and defaults in SQLite. Preset payloads are
// stored as JSON: the option surface changes more often than the table
// layout, and presets are read once at startup.
type Store struct {
	db *sql.DB
}

// NewStore applies the schema and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("exportcfg: db is required")
	}
	for _, stmt := range strings.Split(storeSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("exportcfg schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// SavePreset inserts or replaces one preset row.
func (s *Store) SavePreset(p *Preset) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal preset: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO export_presets (id, name, payload, updated_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, string(payload), p.UpdatedAt.Unix(),
	)
	return err
}

// DeletePreset removes one preset row.
func (s *Store) DeletePreset(id string) error {
	_, err := s.db.Exec(`DELETE FROM export_presets WHERE id = ?`, id)
	return err
}

// LoadPresets returns every persisted custom preset.
func (s *Store) LoadPresets() ([]*Preset, error) {
	rows, err := s.db.Query(`SELECT payload FROM export_presets ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Preset
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p Preset
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("parse preset payload: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SaveDefaults persists the custom-defaults overlay. Nil clears it.
func (s *Store) SaveDefaults(o *Overlay) error {
	if o == nil {
		_, err := s.db.Exec(`DELETE FROM export_defaults WHERE id = 1`)
		return err
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO export_defaults (id, payload) VALUES (1, ?)`, string(payload))
	return err
}

// LoadDefaults returns the persisted overlay, or nil if none is stored.
func (s *Store) LoadDefaults() (*Overlay, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM export_defaults WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o Overlay
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return nil, fmt.Errorf("parse defaults payload: %w", err)
	}
	return &o, nil
}
