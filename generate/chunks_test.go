package generate

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/docexport/schema"
)

func testSuite() *Suite {
	return NewSuite(Config{})
}

func TestGenerateRAG_Windowing(t *testing.T) {
	doc := &schema.Document{
		ID: "doc-1",
		Zones: []schema.Zone{
			{ID: "z1", Content: "abcdefghijklmnopqrstuvwxyz", ContentType: schema.ContentText, Status: schema.ZoneCompleted, Confidence: 0.9},
		},
	}
	opts := &schema.RAGOptions{ChunkSize: 10, OverlapPercentage: 0.2}

	result := testSuite().generateRAG(context.Background(), doc, doc.Zones, opts, Hooks{})
	if result.Status != schema.StatusSuccess {
		t.Fatalf("status = %q, want %q (errors: %v)", result.Status, schema.StatusSuccess, result.Errors)
	}

	artifact := result.Artifact.(*ChunkArtifact)
	if artifact.Overlap != 2 {
		t.Errorf("overlap = %d, want 2", artifact.Overlap)
	}
	want := []string{"abcdefghij", "ijklmnopqr", "qrstuvwxyz"}
	if len(artifact.Chunks) != len(want) {
		t.Fatalf("chunk count = %d, want %d", len(artifact.Chunks), len(want))
	}
	for i, w := range want {
		if artifact.Chunks[i].Content != w {
			t.Errorf("chunk[%d] = %q, want %q", i, artifact.Chunks[i].Content, w)
		}
		if artifact.Chunks[i].Index != i {
			t.Errorf("chunk[%d].Index = %d, want %d", i, artifact.Chunks[i].Index, i)
		}
	}
	if result.ItemCount != 3 {
		t.Errorf("item count = %d, want 3", result.ItemCount)
	}
}

func TestGenerateRAG_ChunksNeverSpanZones(t *testing.T) {
	doc := &schema.Document{
		ID: "doc-2",
		Zones: []schema.Zone{
			{ID: "z1", Content: "alpha", ContentType: schema.ContentText, Confidence: 0.8},
			{ID: "z2", Content: "bravo", ContentType: schema.ContentText, Confidence: 0.8},
		},
	}
	opts := &schema.RAGOptions{ChunkSize: 100, OverlapPercentage: 0.1}

	result := testSuite().generateRAG(context.Background(), doc, doc.Zones, opts, Hooks{})
	artifact := result.Artifact.(*ChunkArtifact)
	if len(artifact.Chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(artifact.Chunks))
	}
	if artifact.Chunks[0].ZoneID != "z1" || artifact.Chunks[1].ZoneID != "z2" {
		t.Errorf("zone ids = %q, %q, want z1, z2", artifact.Chunks[0].ZoneID, artifact.Chunks[1].ZoneID)
	}
}

func TestGenerateRAG_EmptyZoneSkipped(t *testing.T) {
	doc := &schema.Document{
		ID: "doc-3",
		Zones: []schema.Zone{
			{ID: "z1", Content: "   \n  ", ContentType: schema.ContentText},
			{ID: "z2", Content: "usable content here", ContentType: schema.ContentText, Confidence: 0.7},
		},
	}
	opts := &schema.RAGOptions{ChunkSize: 1024, OverlapPercentage: 0.1}

	result := testSuite().generateRAG(context.Background(), doc, doc.Zones, opts, Hooks{})
	if result.ItemCount != 1 {
		t.Errorf("item count = %d, want 1", result.ItemCount)
	}
	if !hasWarning(result, "EMPTY_ZONE_SKIPPED") {
		t.Errorf("missing EMPTY_ZONE_SKIPPED warning, got %v", result.Warnings)
	}
}

func TestGenerateRAG_MetadataFields(t *testing.T) {
	doc := &schema.Document{
		ID: "doc-4",
		Zones: []schema.Zone{
			{
				ID: "z1", Page: 3, Content: "some text to chunk",
				ContentType: schema.ContentText, Confidence: 0.92, Tool: "ocr-engine",
				Metadata: map[string]string{"lang": "en"},
			},
		},
	}
	opts := &schema.RAGOptions{
		ChunkSize: 1024, OverlapPercentage: 0,
		MetadataFields: []string{"zone_id", "page", "confidence", "tool", "lang", "unknown_field"},
	}

	result := testSuite().generateRAG(context.Background(), doc, doc.Zones, opts, Hooks{})
	artifact := result.Artifact.(*ChunkArtifact)
	if len(artifact.Chunks) != 1 {
		t.Fatalf("chunk count = %d, want 1", len(artifact.Chunks))
	}
	md := artifact.Chunks[0].Metadata
	if md["zone_id"] != "z1" {
		t.Errorf("zone_id = %v, want z1", md["zone_id"])
	}
	if md["page"] != 3 {
		t.Errorf("page = %v, want 3", md["page"])
	}
	if md["tool"] != "ocr-engine" {
		t.Errorf("tool = %v, want ocr-engine", md["tool"])
	}
	if md["lang"] != "en" {
		t.Errorf("lang = %v, want en", md["lang"])
	}
	if _, ok := md["unknown_field"]; ok {
		t.Errorf("unknown_field should be absent, got %v", md["unknown_field"])
	}
}

func TestGenerateRAG_Cancellation(t *testing.T) {
	zones := make([]schema.Zone, 5)
	for i := range zones {
		zones[i] = schema.Zone{ID: "z", Content: "content here", ContentType: schema.ContentText}
	}
	doc := &schema.Document{ID: "doc-5", Zones: zones}
	opts := &schema.RAGOptions{ChunkSize: 1024}

	seen := 0
	hooks := Hooks{
		OnItem:    func(int, string) { seen++ },
		Cancelled: func() bool { return seen >= 2 },
	}
	result := testSuite().generateRAG(context.Background(), doc, doc.Zones, opts, hooks)
	if result.ItemCount != 2 {
		t.Errorf("item count after cancel = %d, want 2", result.ItemCount)
	}
}

func TestNormalizeContent_HTML(t *testing.T) {
	got := testSuite().normalizeContent("<p>Hello <b>world</b></p>")
	if got == "" {
		t.Fatal("normalized content is empty")
	}
	if !containsAll(got, "Hello", "world") {
		t.Errorf("normalized = %q, want it to contain Hello and world", got)
	}
	if containsAll(got, "<p>") {
		t.Errorf("normalized = %q, markup survived", got)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	got := normalizeWhitespace("  a   b\t c \n\n inner \n\n")
	want := "a b c\n\ninner"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func hasWarning(r *schema.ExportResult, code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func hasError(r *schema.ExportResult, code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
