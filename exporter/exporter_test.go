package exporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/docexport/exportcfg"
	"github.com/hazyhaar/docexport/generate"
	"github.com/hazyhaar/docexport/progress"
	"github.com/hazyhaar/docexport/schema"
)

func testDocument() *schema.Document {
	return &schema.Document{
		ID:        "doc-1",
		Name:      "handbook.pdf",
		PageCount: 1,
		Zones: []schema.Zone{
			{
				ID: "z1", Page: 1, ContentType: schema.ContentText,
				Status: schema.ZoneCompleted, Confidence: 0.9,
				Content: "What is the refund policy?\nCustomers may return items within thirty days of purchase.",
			},
			{
				ID: "z2", Page: 1, ContentType: schema.ContentTable,
				Status: schema.ZoneCompleted, Confidence: 0.8,
				Content: "item | price\nwidget | 10",
			},
		},
	}
}

func testOverlay(t *testing.T) *exportcfg.Overlay {
	t.Helper()
	dir := t.TempDir()
	return &exportcfg.Overlay{Output: &exportcfg.OutputOverlay{Directory: &dir}}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Configs == nil {
		mgr, err := exportcfg.New(exportcfg.Config{})
		if err != nil {
			t.Fatalf("exportcfg.New: %v", err)
		}
		cfg.Configs = mgr
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

// waitForResults polls until every requested format has settled.
func waitForResults(t *testing.T, e *Engine, exportID string, want int) []*schema.ExportResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		results, err := e.GetExportResults(exportID)
		if err != nil {
			t.Fatalf("GetExportResults: %v", err)
		}
		if len(results) >= want {
			return results
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d results of export %s", want, exportID)
	return nil
}

func TestStartExport_RejectsBadRequests(t *testing.T) {
	e := newTestEngine(t, Config{})
	doc := testDocument()

	if _, err := e.StartExport(context.Background(), nil, Request{Formats: []schema.Format{schema.FormatRAG}}); err == nil {
		t.Error("nil document should be rejected")
	}
	if _, err := e.StartExport(context.Background(), doc, Request{}); err == nil {
		t.Error("empty format list should be rejected")
	}
	if _, err := e.StartExport(context.Background(), doc, Request{Formats: []schema.Format{"bogus"}}); err == nil {
		t.Error("unknown format should be rejected")
	}
	if _, err := e.StartExport(context.Background(), doc, Request{
		Formats: []schema.Format{schema.FormatRAG, schema.FormatRAG},
	}); err == nil {
		t.Error("duplicate format should be rejected")
	}
}

func TestStartExport_RejectsInvalidConfigBeforeSessionExists(t *testing.T) {
	e := newTestEngine(t, Config{})

	overlay := testOverlay(t)
	overlay.Formats.RAG = &schema.RAGOptions{ChunkSize: 50, OverlapPercentage: 0.1}
	_, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatRAG},
		Overrides: overlay,
	})
	if err == nil {
		t.Fatal("chunk size below minimum should fail before launch")
	}
	if !strings.Contains(err.Error(), "INVALID_CHUNK_SIZE") {
		t.Errorf("error = %v, want INVALID_CHUNK_SIZE in it", err)
	}
	if len(e.GetActiveSessions()) != 0 {
		t.Error("no session should exist after a rejected start")
	}
}

func TestStartExport_AllFormats(t *testing.T) {
	e := newTestEngine(t, Config{})

	id, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   schema.AllFormats(),
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	if id == "" {
		t.Fatal("empty export id")
	}

	results := waitForResults(t, e, id, len(schema.AllFormats()))
	byFormat := map[schema.Format]*schema.ExportResult{}
	for _, r := range results {
		byFormat[r.Format] = r
		if r.ExportID != id {
			t.Errorf("result export id = %q, want %q", r.ExportID, id)
		}
		if r.Status != schema.StatusSuccess {
			t.Errorf("format %s status = %q (errors: %v)", r.Format, r.Status, r.Errors)
		}
	}
	for _, f := range schema.AllFormats() {
		if byFormat[f] == nil {
			t.Errorf("missing result for format %s", f)
		}
	}

	// The log format summarizes the others, so it must carry their outcome.
	logResult := byFormat[schema.FormatLog]
	if logResult == nil || logResult.Artifact == nil {
		t.Fatal("log result or artifact missing")
	}
	rendered := logResult.Artifact.(*generate.LogArtifact).Rendered
	if !strings.Contains(rendered, "rag") || !strings.Contains(rendered, "manifest") {
		t.Errorf("log does not summarize other formats:\n%s", rendered)
	}
}

func TestStartExport_WritesArtifacts(t *testing.T) {
	e := newTestEngine(t, Config{})
	dir := t.TempDir()
	overlay := &exportcfg.Overlay{Output: &exportcfg.OutputOverlay{Directory: &dir}}

	id, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatRAG},
		Overrides: overlay,
	})
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	results := waitForResults(t, e, id, 1)

	path, ok := results[0].Metadata["output_path"].(string)
	if !ok || path == "" {
		t.Fatalf("no output path in metadata: %v", results[0].Metadata)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat artifact: %v", err)
	}
	if info.Size() != results[0].FileSize {
		t.Errorf("file size = %d, result says %d", info.Size(), results[0].FileSize)
	}
	if !strings.Contains(filepath.Base(path), "handbook.pdf_rag_") {
		t.Errorf("file name = %q, want pattern expansion", filepath.Base(path))
	}
}

// failingValidator rejects one format with an overridable blocker.
type failingValidator struct {
	reject schema.Format
}

func (v failingValidator) Validate(_ context.Context, format schema.Format, _ *schema.ExportResult) (*schema.ValidationResult, error) {
	if format != v.reject {
		return &schema.ValidationResult{Valid: true, Score: 100}, nil
	}
	return &schema.ValidationResult{
		Valid: false,
		Score: 20,
		Blockers: []schema.BlockingIssue{{
			Reason:      "artifact below quality floor",
			CanOverride: true,
		}},
	}, nil
}

func TestValidationGate_IsolatesFormats(t *testing.T) {
	e := newTestEngine(t, Config{Validator: failingValidator{reject: schema.FormatRAG}})

	id, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatRAG, schema.FormatManifest},
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	results := waitForResults(t, e, id, 2)

	for _, r := range results {
		switch r.Format {
		case schema.FormatRAG:
			if r.Status != schema.StatusFailure {
				t.Errorf("rag status = %q, want failure", r.Status)
			}
			if !hasErrorCode(r, "VALIDATION_FAILED") {
				t.Errorf("rag errors = %v, want VALIDATION_FAILED", r.Errors)
			}
			if r.Artifact == nil {
				t.Error("artifact should survive a validation failure")
			}
		case schema.FormatManifest:
			if r.Status != schema.StatusSuccess {
				t.Errorf("manifest status = %q, want success (errors: %v)", r.Status, r.Errors)
			}
		}
	}
}

func TestRequestValidationOverride_Workflow(t *testing.T) {
	e := newTestEngine(t, Config{Validator: failingValidator{reject: schema.FormatRAG}})

	id, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatRAG},
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	waitForResults(t, e, id, 1)

	if _, err := e.RequestValidationOverride("nope", schema.FormatRAG, "a sufficiently long justification", "qa"); err == nil {
		t.Error("unknown export should error")
	}

	approved, err := e.RequestValidationOverride(id, schema.FormatRAG, "  too   short ", "qa")
	if err != nil {
		t.Fatalf("RequestValidationOverride: %v", err)
	}
	if approved {
		t.Error("justification under 10 non-space characters should be rejected")
	}

	approved, err = e.RequestValidationOverride(id, schema.FormatRAG, "reviewed manually, content is fine", "qa")
	if err != nil {
		t.Fatalf("RequestValidationOverride: %v", err)
	}
	if !approved {
		t.Fatal("valid override should be approved")
	}

	results, _ := e.GetExportResults(id)
	r := results[0]
	if r.Status != schema.StatusSuccess {
		t.Errorf("status after override = %q, want success", r.Status)
	}
	if hasErrorCode(r, "VALIDATION_FAILED") {
		t.Errorf("VALIDATION_FAILED should be cleared, errors = %v", r.Errors)
	}
	if !hasWarningCode(r, "VALIDATION_OVERRIDDEN") {
		t.Errorf("warnings = %v, want VALIDATION_OVERRIDDEN", r.Warnings)
	}
}

// blockingValidator holds tasks in the validating state until released.
type blockingValidator struct {
	release chan struct{}
}

func (v blockingValidator) Validate(ctx context.Context, _ schema.Format, _ *schema.ExportResult) (*schema.ValidationResult, error) {
	select {
	case <-v.release:
	case <-ctx.Done():
	}
	return &schema.ValidationResult{Valid: true, Score: 100}, nil
}

func TestCancelExport_Idempotent(t *testing.T) {
	release := make(chan struct{})
	e := newTestEngine(t, Config{Validator: blockingValidator{release: release}})

	id, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatRAG},
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}

	if !e.CancelExport(id) {
		t.Error("first cancel should report true")
	}
	if e.CancelExport(id) {
		t.Error("second cancel should report false")
	}
	if e.CancelExport("unknown") {
		t.Error("cancelling an unknown export should report false")
	}
	close(release)
}

// formatBlockingValidator holds one format in the validating state until
// released and passes every other format straight through.
type formatBlockingValidator struct {
	block   schema.Format
	release chan struct{}
}

func (v formatBlockingValidator) Validate(ctx context.Context, format schema.Format, _ *schema.ExportResult) (*schema.ValidationResult, error) {
	if format == v.block {
		select {
		case <-v.release:
		case <-ctx.Done():
		}
	}
	return &schema.ValidationResult{Valid: true, Score: 100}, nil
}

func TestCancelExport_PartiallySettledSession(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	e := newTestEngine(t, Config{
		Validator: formatBlockingValidator{block: schema.FormatRAG, release: release},
	})

	id, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatRAG, schema.FormatManifest},
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}

	// Let the manifest task settle while the rag task is held in validation.
	deadline := time.Now().Add(5 * time.Second)
	for {
		snaps, err := e.GetExportProgress(id)
		if err != nil {
			t.Fatalf("GetExportProgress: %v", err)
		}
		if snaps[schema.FormatManifest].Status == progress.StatusComplete {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("manifest task never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// One task already settled, so the cancellation is only partial.
	if e.CancelExport(id) {
		t.Error("cancel with a settled task should report false")
	}
	snaps, err := e.GetExportProgress(id)
	if err != nil {
		t.Fatalf("GetExportProgress: %v", err)
	}
	if snaps[schema.FormatRAG].Status != progress.StatusCancelled {
		t.Errorf("rag status = %q, want cancelled", snaps[schema.FormatRAG].Status)
	}
	if snaps[schema.FormatManifest].Status != progress.StatusComplete {
		t.Errorf("manifest status = %q, want complete", snaps[schema.FormatManifest].Status)
	}
	if e.CancelExport(id) {
		t.Error("repeat cancel should report false")
	}
}

func TestStartExport_EmptyDocumentStillValidatesAndWrites(t *testing.T) {
	e := newTestEngine(t, Config{})
	doc := &schema.Document{ID: "doc-empty", Name: "empty.pdf", PageCount: 1}

	id, err := e.StartExport(context.Background(), doc, Request{
		Formats:   []schema.Format{schema.FormatRAG},
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	results := waitForResults(t, e, id, 1)

	r := results[0]
	if r.Status != schema.StatusSuccess {
		t.Fatalf("status = %q, want success (errors: %v)", r.Status, r.Errors)
	}
	if r.ItemCount != 0 {
		t.Errorf("item count = %d, want 0", r.ItemCount)
	}

	// Zero generated items must not bypass the validation gate.
	validation, err := e.GetValidationResults(id)
	if err != nil {
		t.Fatalf("GetValidationResults: %v", err)
	}
	if validation[schema.FormatRAG] == nil {
		t.Fatal("no validation result for the empty export")
	}

	// The empty artifact is still written out.
	path, ok := r.Metadata["output_path"].(string)
	if !ok || path == "" {
		t.Fatalf("no output path in metadata: %v", r.Metadata)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat artifact: %v", err)
	}
}

func TestStartExport_TrackFailureReleasesRegisteredTasks(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	e := newTestEngine(t, Config{
		NewID:     func() string { return "exp_fixed" },
		Validator: blockingValidator{release: release},
	})

	// The first session keeps its rag task live in the tracker.
	if _, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatRAG},
		Overrides: testOverlay(t),
	}); err != nil {
		t.Fatalf("StartExport: %v", err)
	}

	// The second session reuses the ID: manifest registers, rag collides.
	_, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatManifest, schema.FormatRAG},
		Overrides: testOverlay(t),
	})
	if err == nil {
		t.Fatal("colliding task ID should fail the start")
	}

	snap, ok := e.Tracker().GetProgress("exp_fixed/manifest")
	if !ok {
		t.Fatal("manifest task not found in tracker")
	}
	if snap.Status != progress.StatusCancelled {
		t.Errorf("abandoned task status = %q, want cancelled", snap.Status)
	}
}

func TestStartBulkExport_Limits(t *testing.T) {
	e := newTestEngine(t, Config{})

	dup := testDocument()
	if _, err := e.StartBulkExport(context.Background(), []*schema.Document{dup, dup}, Request{
		Formats: []schema.Format{schema.FormatManifest},
	}); err == nil {
		t.Error("duplicate document IDs should be rejected")
	}

	over := make([]*schema.Document, maxBulkDocuments+1)
	for i := range over {
		over[i] = &schema.Document{ID: fmt.Sprintf("doc-%d", i)}
	}
	if _, err := e.StartBulkExport(context.Background(), over, Request{
		Formats: []schema.Format{schema.FormatManifest},
	}); err == nil {
		t.Errorf("more than %d documents should be rejected", maxBulkDocuments)
	}
}

func TestStartBulkExport_StartsAll(t *testing.T) {
	e := newTestEngine(t, Config{})

	docs := []*schema.Document{testDocument(), {ID: "doc-2", Name: "other.pdf"}}
	ids, err := e.StartBulkExport(context.Background(), docs, Request{
		Formats:   []schema.Format{schema.FormatManifest},
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatalf("StartBulkExport: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("session count = %d, want 2", len(ids))
	}
	for _, id := range ids {
		results := waitForResults(t, e, id, 1)
		if results[0].Format != schema.FormatManifest {
			t.Errorf("format = %q, want manifest", results[0].Format)
		}
	}
}

func TestStats(t *testing.T) {
	e := newTestEngine(t, Config{})

	id, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatManifest},
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	waitForResults(t, e, id, 1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Stats().CompletedSessions == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	stats := e.Stats()
	if stats.CompletedSessions != 1 || stats.TasksRun != 1 {
		t.Errorf("stats = %+v, want 1 completed session, 1 task", stats)
	}
	if stats.FormatCounts[schema.FormatManifest] != 1 {
		t.Errorf("format counts = %v, want one manifest task", stats.FormatCounts)
	}
	if stats.ArtifactBytes <= 0 {
		t.Errorf("artifact bytes = %d, want > 0", stats.ArtifactBytes)
	}
}

func TestSweep_DropsExpiredSessions(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	var offset time.Duration
	e := newTestEngine(t, Config{
		Now: func() time.Time { return now.Add(offset) },
	})

	id, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatManifest},
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	waitForResults(t, e, id, 1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.GetActiveSessions()) == 1 && e.GetActiveSessions()[0].State == SessionCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	offset = 6 * time.Minute
	e.sweep()
	if _, err := e.GetExportResults(id); err == nil {
		t.Error("expired session should be gone after the sweep")
	}
}

func hasErrorCode(r *schema.ExportResult, code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func hasWarningCode(r *schema.ExportResult, code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
