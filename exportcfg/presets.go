package exportcfg

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrBuiltIn is returned when a caller tries to modify a built-in preset.
var ErrBuiltIn = errors.New("preset is built-in")

// ErrNotFound is returned when a preset ID does not exist.
var ErrNotFound = errors.New("preset not found")

// PresetUpdate is a partial update to a custom preset. Nil fields are
// left unchanged.
type PresetUpdate struct {
	Name     *string  `json:"name,omitempty"`
	Category *string  `json:"category,omitempty"`
	Options  *Overlay `json:"options,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	IsActive *bool    `json:"is_active,omitempty"`
}

// CreatePreset registers a custom preset and returns its ID.
func (m *Manager) CreatePreset(name, category string, options *Overlay, tags []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("preset name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p := &Preset{
		ID:        m.newID(),
		Name:      name,
		Category:  category,
		Options:   applyOverlay(SystemDefaults(), options),
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
	}
	m.custom[p.ID] = p
	if m.store != nil {
		if err := m.store.SavePreset(p); err != nil {
			delete(m.custom, p.ID)
			return "", fmt.Errorf("persist preset: %w", err)
		}
	}
	m.logger.Debug("exportcfg: preset created", "preset_id", p.ID, "name", name)
	return p.ID, nil
}

// UpdatePreset applies a partial update. Built-in presets reject any change
// to their options; only IsActive may be toggled on them.
func (m *Manager) UpdatePreset(id string, update PresetUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.builtins[id]; ok {
		if update.Options != nil || update.Name != nil || update.Category != nil || update.Tags != nil {
			return fmt.Errorf("update preset %s: %w", id, ErrBuiltIn)
		}
		if update.IsActive != nil {
			b.IsActive = *update.IsActive
			b.UpdatedAt = m.now()
		}
		return nil
	}

	p, ok := m.custom[id]
	if !ok {
		return fmt.Errorf("update preset %s: %w", id, ErrNotFound)
	}
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Category != nil {
		p.Category = *update.Category
	}
	if update.Options != nil {
		p.Options = applyOverlay(p.Options, update.Options)
	}
	if update.Tags != nil {
		p.Tags = update.Tags
	}
	if update.IsActive != nil {
		p.IsActive = *update.IsActive
	}
	p.UpdatedAt = m.now()

	if m.store != nil {
		return m.store.SavePreset(p)
	}
	return nil
}

// DeletePreset removes a custom preset. Built-ins cannot be deleted.
func (m *Manager) DeletePreset(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.builtins[id]; ok {
		return fmt.Errorf("delete preset %s: %w", id, ErrBuiltIn)
	}
	if _, ok := m.custom[id]; !ok {
		return fmt.Errorf("delete preset %s: %w", id, ErrNotFound)
	}
	delete(m.custom, id)
	if m.store != nil {
		return m.store.DeletePreset(id)
	}
	return nil
}

// DuplicatePreset copies any preset (built-in or custom) into a new custom
// preset with the given name. Returns "" and ErrNotFound for unknown IDs.
func (m *Manager) DuplicatePreset(id, newName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.presetLocked(id)
	if src == nil {
		// Inactive presets may still be duplicated.
		if p, ok := m.custom[id]; ok {
			src = p
		} else if p, ok := m.builtins[id]; ok {
			src = p
		}
	}
	if src == nil {
		return "", fmt.Errorf("duplicate preset %s: %w", id, ErrNotFound)
	}

	now := m.now()
	cp := &Preset{
		ID:        m.newID(),
		Name:      newName,
		Category:  src.Category,
		Options:   src.Options,
		Tags:      append([]string(nil), src.Tags...),
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
	}
	m.custom[cp.ID] = cp
	if m.store != nil {
		if err := m.store.SavePreset(cp); err != nil {
			delete(m.custom, cp.ID)
			return "", fmt.Errorf("persist preset: %w", err)
		}
	}
	return cp.ID, nil
}

// GetPreset returns a copy of the preset, or ErrNotFound.
func (m *Manager) GetPreset(id string) (Preset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.custom[id]; ok {
		return *p, nil
	}
	if p, ok := m.builtins[id]; ok {
		return *p, nil
	}
	return Preset{}, fmt.Errorf("preset %s: %w", id, ErrNotFound)
}

// ListPresets returns all presets, built-ins first, then custom by name.
func (m *Manager) ListPresets() []Preset {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Preset, 0, len(m.builtins)+len(m.custom))
	for _, p := range m.builtins {
		out = append(out, *p)
	}
	for _, p := range m.custom {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsBuiltIn != out[j].IsBuiltIn {
			return out[i].IsBuiltIn
		}
		return out[i].Name < out[j].Name
	})
	return out
}
