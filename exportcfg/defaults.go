package exportcfg

import (
	"time"

	"github.com/hazyhaar/docexport/schema"
)

// SystemDefaults returns the built-in base configuration. Every format block
// is populated; resolution strips the unrequested ones.
func SystemDefaults() schema.ExportOptions {
	return schema.ExportOptions{
		Formats: schema.FormatOptions{
			RAG: &schema.RAGOptions{
				ChunkSize:         1024,
				OverlapPercentage: 0.1,
				MetadataFields:    []string{"zone_id", "page", "content_type", "confidence"},
			},
			JSONL: &schema.JSONLOptions{
				QualityThreshold:       0.7,
				MaxExamplesPerDocument: 200,
				BalanceExampleTypes:    true,
				ConversationStyle:      schema.StyleQA,
			},
			Corrections: &schema.CorrectionsOptions{
				MinImpactLevel: schema.ImpactLow,
				SortBy:         "timestamp",
			},
			Manifest: &schema.ManifestOptions{
				DetailLevel: schema.DetailDetailed,
			},
			Log: &schema.LogOptions{
				Sections: []string{"summary", "exports", "errors", "warnings"},
				Render:   schema.LogMarkdown,
			},
		},
		Validation: schema.ValidationOptions{
			SchemaValidation:  true,
			ContentValidation: true,
		},
		Output: schema.OutputOptions{
			Directory:       "exports",
			FileNamePattern: "{document}_{format}_{timestamp}",
			MaxFileSize:     100 * 1024 * 1024,
		},
	}
}

// SetCustomDefaults layers the overlay on top of any existing custom
// defaults and persists the result if a store is configured.
func (m *Manager) SetCustomDefaults(overlay *Overlay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customDefaults = mergeOverlays(m.customDefaults, overlay)
	if m.store != nil {
		if err := m.store.SaveDefaults(m.customDefaults); err != nil {
			return err
		}
	}
	return nil
}

// GetCustomDefaults returns the current custom-defaults overlay, or nil.
func (m *Manager) GetCustomDefaults() *Overlay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.customDefaults
}

// ResetToDefaults discards the custom defaults.
func (m *Manager) ResetToDefaults() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customDefaults = nil
	if m.store != nil {
		return m.store.SaveDefaults(nil)
	}
	return nil
}

func builtinPresets(now time.Time) []*Preset {
	base := SystemDefaults()

	rag := base
	rag.Formats = schema.FormatOptions{RAG: &schema.RAGOptions{
		ChunkSize:         512,
		OverlapPercentage: 0.15,
		MetadataFields:    []string{"zone_id", "page", "content_type", "confidence"},
	}}

	tuning := base
	tuning.Formats = schema.FormatOptions{JSONL: &schema.JSONLOptions{
		QualityThreshold:       0.8,
		MaxExamplesPerDocument: 100,
		BalanceExampleTypes:    true,
		ConversationStyle:      schema.StyleChat,
	}}

	archive := base
	archive.Formats.Manifest = &schema.ManifestOptions{DetailLevel: schema.DetailVerbose}
	archive.Output.Compression = true
	archive.Output.SplitLargeFiles = true

	return []*Preset{
		{
			ID: "builtin-rag-small", Name: "RAG (small chunks)", Category: "retrieval",
			Options: rag, Tags: []string{"rag", "retrieval"},
			CreatedAt: now, UpdatedAt: now, IsBuiltIn: true, IsActive: true,
		},
		{
			ID: "builtin-fine-tuning", Name: "Fine-tuning (chat)", Category: "training",
			Options: tuning, Tags: []string{"jsonl", "training"},
			CreatedAt: now, UpdatedAt: now, IsBuiltIn: true, IsActive: true,
		},
		{
			ID: "builtin-archive", Name: "Full archive", Category: "archive",
			Options: archive, Tags: []string{"archive", "compressed"},
			CreatedAt: now, UpdatedAt: now, IsBuiltIn: true, IsActive: true,
		},
	}
}
