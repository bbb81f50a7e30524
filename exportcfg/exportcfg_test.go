package exportcfg

import (
	"testing"
	"time"

	"github.com/hazyhaar/docexport/dbopen"
	"github.com/hazyhaar/docexport/idgen"
	"github.com/hazyhaar/docexport/schema"
	_ "modernc.org/sqlite"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{NewID: idgen.Sequential("preset")})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestValidateConfig_WellFormed(t *testing.T) {
	r := ValidateConfig(SystemDefaults())
	if !r.Valid {
		t.Fatalf("defaults should validate, got errors: %v", r.Errors)
	}
	if len(r.Errors) != 0 {
		t.Fatalf("errors: got %d, want 0", len(r.Errors))
	}
}

func TestValidateConfig_Rules(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*schema.ExportOptions)
		wantCode string
		isError  bool
	}{
		{"chunk size 50", func(o *schema.ExportOptions) { o.Formats.RAG.ChunkSize = 50 }, CodeInvalidChunkSize, true},
		{"chunk size 5000", func(o *schema.ExportOptions) { o.Formats.RAG.ChunkSize = 5000 }, CodeLargeChunkSize, false},
		{"overlap 0.6", func(o *schema.ExportOptions) { o.Formats.RAG.OverlapPercentage = 0.6 }, CodeInvalidOverlap, true},
		{"overlap negative", func(o *schema.ExportOptions) { o.Formats.RAG.OverlapPercentage = -0.1 }, CodeInvalidOverlap, true},
		{"quality 1.5", func(o *schema.ExportOptions) { o.Formats.JSONL.QualityThreshold = 1.5 }, CodeInvalidQualityThreshold, true},
		{"max examples 0", func(o *schema.ExportOptions) { o.Formats.JSONL.MaxExamplesPerDocument = 0 }, CodeInvalidMaxExamples, true},
		{"no directory", func(o *schema.ExportOptions) { o.Output.Directory = "" }, CodeMissingOutputDirectory, true},
		{"no pattern", func(o *schema.ExportOptions) { o.Output.FileNamePattern = "" }, CodeMissingFileNamePattern, true},
		{"tiny file cap", func(o *schema.ExportOptions) { o.Output.MaxFileSize = 512 }, CodeSmallFileSizeCap, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := SystemDefaults()
			tt.mutate(&opts)
			r := ValidateConfig(opts)
			if tt.isError {
				if !r.HasError(tt.wantCode) {
					t.Fatalf("expected error %s, got %v", tt.wantCode, r.Errors)
				}
				if r.Valid {
					t.Fatal("report should be invalid")
				}
				return
			}
			// Warning case: validity unaffected.
			found := false
			for _, w := range r.Warnings {
				if w.Code == tt.wantCode {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected warning %s, got %v", tt.wantCode, r.Warnings)
			}
			if !r.Valid {
				t.Fatalf("warnings alone must not invalidate, errors: %v", r.Errors)
			}
		})
	}
}

func TestGetConfig_RestrictsFormats(t *testing.T) {
	m := newManager(t)
	opts := m.GetConfig([]schema.Format{schema.FormatManifest}, "")
	if opts.Formats.Manifest == nil {
		t.Fatal("manifest options missing")
	}
	if opts.Formats.RAG != nil || opts.Formats.JSONL != nil || opts.Formats.Log != nil {
		t.Fatal("unrequested format blocks should be stripped")
	}
}

func TestGetConfig_UnknownPresetFallsBack(t *testing.T) {
	m := newManager(t)
	opts := m.GetConfig([]schema.Format{schema.FormatRAG}, "no-such-preset")
	if opts.Formats.RAG == nil {
		t.Fatal("expected default RAG options")
	}
	if opts.Formats.RAG.ChunkSize != 1024 {
		t.Fatalf("chunk size: got %d, want system default 1024", opts.Formats.RAG.ChunkSize)
	}
}

func TestResolve_Precedence(t *testing.T) {
	m := newManager(t)

	// Custom defaults sit above system defaults.
	if err := m.SetCustomDefaults(&Overlay{
		Formats: schema.FormatOptions{RAG: &schema.RAGOptions{ChunkSize: 800, OverlapPercentage: 0.2}},
	}); err != nil {
		t.Fatal(err)
	}
	opts := m.GetConfig([]schema.Format{schema.FormatRAG}, "")
	if opts.Formats.RAG.ChunkSize != 800 {
		t.Fatalf("custom default not applied: got %d", opts.Formats.RAG.ChunkSize)
	}

	// Call-site overlay wins over custom defaults.
	opts = m.Resolve([]schema.Format{schema.FormatRAG}, "", &Overlay{
		Formats: schema.FormatOptions{RAG: &schema.RAGOptions{ChunkSize: 256, OverlapPercentage: 0.05}},
	})
	if opts.Formats.RAG.ChunkSize != 256 {
		t.Fatalf("call overlay not applied: got %d", opts.Formats.RAG.ChunkSize)
	}

	// Reset drops the custom layer.
	if err := m.ResetToDefaults(); err != nil {
		t.Fatal(err)
	}
	opts = m.GetConfig([]schema.Format{schema.FormatRAG}, "")
	if opts.Formats.RAG.ChunkSize != 1024 {
		t.Fatalf("reset did not restore system default: got %d", opts.Formats.RAG.ChunkSize)
	}
}

func TestPresets_CRUD(t *testing.T) {
	m := newManager(t)

	id, err := m.CreatePreset("fast chunks", "retrieval", &Overlay{
		Formats: schema.FormatOptions{RAG: &schema.RAGOptions{ChunkSize: 300, OverlapPercentage: 0}},
	}, []string{"fast"})
	if err != nil {
		t.Fatal(err)
	}

	opts := m.GetConfig([]schema.Format{schema.FormatRAG}, id)
	if opts.Formats.RAG.ChunkSize != 300 {
		t.Fatalf("preset chunk size: got %d, want 300", opts.Formats.RAG.ChunkSize)
	}

	newName := "faster chunks"
	if err := m.UpdatePreset(id, PresetUpdate{Name: &newName}); err != nil {
		t.Fatal(err)
	}
	p, err := m.GetPreset(id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "faster chunks" {
		t.Fatalf("name: got %q", p.Name)
	}

	dupID, err := m.DuplicatePreset(id, "copy of faster chunks")
	if err != nil {
		t.Fatal(err)
	}
	if dupID == id {
		t.Fatal("duplicate must get a fresh ID")
	}

	if err := m.DeletePreset(id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetPreset(id); err == nil {
		t.Fatal("deleted preset still resolvable")
	}
}

func TestPresets_BuiltInProtection(t *testing.T) {
	m := newManager(t)

	name := "renamed"
	if err := m.UpdatePreset("builtin-rag-small", PresetUpdate{Name: &name}); err == nil {
		t.Fatal("renaming a built-in must fail")
	}
	if err := m.DeletePreset("builtin-rag-small"); err == nil {
		t.Fatal("deleting a built-in must fail")
	}
	// Duplicating a built-in is allowed.
	if _, err := m.DuplicatePreset("builtin-rag-small", "my rag"); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m := newManager(t)
	if _, err := m.CreatePreset("a", "", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreatePreset("b", "", nil, nil); err != nil {
		t.Fatal(err)
	}

	data, err := m.ExportSnapshot()
	if err != nil {
		t.Fatal(err)
	}

	m2 := newManager(t)
	report, err := m2.ImportSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 2 || report.Skipped != 0 {
		t.Fatalf("report: %+v", report)
	}

	// Importing again skips everything, but does not fail.
	report, err = m2.ImportSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 0 || report.Skipped != 2 {
		t.Fatalf("second import report: %+v", report)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected per-record errors, got %v", report.Errors)
	}
}

func TestStore_Persistence(t *testing.T) {
	db := dbopen.OpenMemory(t)

	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	m, err := New(Config{Store: store, NewID: idgen.Sequential("preset"), Now: func() time.Time { return time.Unix(1700000000, 0) }})
	if err != nil {
		t.Fatal(err)
	}
	id, err := m.CreatePreset("persisted", "archive", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	// A fresh manager over the same store sees the preset.
	m2, err := New(Config{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	p, err := m2.GetPreset(id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "persisted" {
		t.Fatalf("name: got %q", p.Name)
	}
}
