// Package exportcfg resolves and validates export configuration.
//
// Resolution layers, lowest to highest precedence:
//
//	system defaults → custom defaults → preset options → per-call overlay
//
// Built-in presets are read-only; custom presets are caller-managed and can
// be persisted through a SQLite Store. The full custom set round-trips as a
// versioned JSON snapshot for backup/restore.
package exportcfg

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docexport/idgen"
	"github.com/hazyhaar/docexport/schema"
)

// Preset is a named, reusable bundle of export options.
type Preset struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Category  string               `json:"category,omitempty"`
	Options   schema.ExportOptions `json:"options"`
	Tags      []string             `json:"tags,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	IsBuiltIn bool                 `json:"is_built_in"`
	IsActive  bool                 `json:"is_active"`
}

// Config configures a Manager.
type Config struct {
	// Store persists custom presets and custom defaults. Nil keeps
	// everything in memory.
	Store *Store

	// NewID generates preset IDs. Default: "preset_" + UUIDv7.
	NewID idgen.Generator

	// Logger for debug/error messages.
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("preset_", idgen.Default)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Manager owns presets and defaults for one engine instance.
type Manager struct {
	mu             sync.RWMutex
	builtins       map[string]*Preset
	custom         map[string]*Preset
	customDefaults *Overlay

	store  *Store
	newID  idgen.Generator
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Manager, seeds the built-in presets, and loads any persisted
// custom presets and defaults from the store.
func New(cfg Config) (*Manager, error) {
	cfg.defaults()
	m := &Manager{
		builtins: make(map[string]*Preset),
		custom:   make(map[string]*Preset),
		store:    cfg.Store,
		newID:    cfg.NewID,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	for _, p := range builtinPresets(m.now()) {
		m.builtins[p.ID] = p
	}
	if m.store != nil {
		presets, err := m.store.LoadPresets()
		if err != nil {
			return nil, fmt.Errorf("load presets: %w", err)
		}
		for _, p := range presets {
			m.custom[p.ID] = p
		}
		overlay, err := m.store.LoadDefaults()
		if err != nil {
			return nil, fmt.Errorf("load defaults: %w", err)
		}
		m.customDefaults = overlay
	}
	return m, nil
}

// GetConfig returns a resolved configuration restricted to the requested
// formats. An unknown presetID silently falls back to defaults.
func (m *Manager) GetConfig(formats []schema.Format, presetID string) schema.ExportOptions {
	return m.Resolve(formats, presetID, nil)
}

// Resolve layers system defaults, custom defaults, the preset (if any) and
// the per-call overlay, then strips option blocks for unrequested formats.
func (m *Manager) Resolve(formats []schema.Format, presetID string, overlay *Overlay) schema.ExportOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts := SystemDefaults()
	opts = applyOverlay(opts, m.customDefaults)

	if presetID != "" {
		if p := m.presetLocked(presetID); p != nil {
			opts = applyOverlay(opts, overlayFromOptions(p.Options))
		} else {
			m.logger.Debug("exportcfg: unknown preset, using defaults", "preset_id", presetID)
		}
	}
	opts = applyOverlay(opts, overlay)

	return restrict(opts, formats)
}

// presetLocked looks up a preset by ID in either map. Caller holds the lock.
func (m *Manager) presetLocked(id string) *Preset {
	if p, ok := m.custom[id]; ok && p.IsActive {
		return p
	}
	if p, ok := m.builtins[id]; ok && p.IsActive {
		return p
	}
	return nil
}

// restrict clears format option blocks that were not requested.
func restrict(opts schema.ExportOptions, formats []schema.Format) schema.ExportOptions {
	want := make(map[schema.Format]bool, len(formats))
	for _, f := range formats {
		want[f] = true
	}
	if !want[schema.FormatRAG] {
		opts.Formats.RAG = nil
	}
	if !want[schema.FormatJSONL] {
		opts.Formats.JSONL = nil
	}
	if !want[schema.FormatCorrections] {
		opts.Formats.Corrections = nil
	}
	if !want[schema.FormatManifest] {
		opts.Formats.Manifest = nil
	}
	if !want[schema.FormatLog] {
		opts.Formats.Log = nil
	}
	return opts
}
