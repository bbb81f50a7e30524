package exportcfg

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is the versioned backup of the custom preset set.
type Snapshot struct {
	Version        int       `json:"version"`
	ExportedAt     time.Time `json:"exported_at"`
	CustomDefaults *Overlay  `json:"custom_defaults,omitempty"`
	Presets        []Preset  `json:"presets"`
}

// ImportReport summarizes a snapshot import. A bad record never aborts the
// whole import; it is skipped and reported.
type ImportReport struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ExportSnapshot serializes the custom presets and custom defaults.
// Built-in presets are never included.
func (m *Manager) ExportSnapshot() ([]byte, error) {
	m.mu.RLock()
	snap := Snapshot{
		Version:        SnapshotVersion,
		ExportedAt:     m.now().UTC(),
		CustomDefaults: m.customDefaults,
		Presets:        make([]Preset, 0, len(m.custom)),
	}
	for _, p := range m.custom {
		snap.Presets = append(snap.Presets, *p)
	}
	m.mu.RUnlock()

	return json.MarshalIndent(snap, "", "  ")
}

// ImportSnapshot restores custom presets from a snapshot, collecting
// per-record errors. Presets whose ID already exists are skipped.
func (m *Manager) ImportSnapshot(data []byte) (ImportReport, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ImportReport{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return ImportReport{}, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var report ImportReport
	for i := range snap.Presets {
		p := snap.Presets[i]
		switch {
		case p.ID == "" || p.Name == "":
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("preset %d: missing id or name", i))
			continue
		case p.IsBuiltIn:
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("preset %s: built-in presets cannot be imported", p.ID))
			continue
		}
		if _, exists := m.custom[p.ID]; exists {
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("preset %s: already exists", p.ID))
			continue
		}
		cp := p
		m.custom[cp.ID] = &cp
		if m.store != nil {
			if err := m.store.SavePreset(&cp); err != nil {
				delete(m.custom, cp.ID)
				report.Skipped++
				report.Errors = append(report.Errors, fmt.Sprintf("preset %s: persist: %v", cp.ID, err))
				continue
			}
		}
		report.Imported++
	}

	if snap.CustomDefaults != nil {
		m.customDefaults = mergeOverlays(m.customDefaults, snap.CustomDefaults)
		if m.store != nil {
			if err := m.store.SaveDefaults(m.customDefaults); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("defaults: persist: %v", err))
			}
		}
	}
	return report, nil
}
