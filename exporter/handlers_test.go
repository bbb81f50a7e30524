package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docexport/schema"
)

type stubDocs map[string]*schema.Document

func (s stubDocs) GetDocument(_ context.Context, id string) (*schema.Document, error) {
	doc, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return doc, nil
}

func newTestServer(t *testing.T) (*Engine, *httptest.Server) {
	t.Helper()
	e := newTestEngine(t, Config{Documents: stubDocs{"doc-1": testDocument()}})
	r := chi.NewRouter()
	e.RegisterHTTP(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return e, srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHandleStart_RoundTrip(t *testing.T) {
	e, srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/exports", map[string]any{
		"document_id": "doc-1",
		"request": map[string]any{
			"formats":   []string{"manifest"},
			"overrides": testOverlay(t),
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%v)", resp.StatusCode, body)
	}
	exportID, _ := body["export_id"].(string)
	if exportID == "" {
		t.Fatalf("no export_id in %v", body)
	}

	waitForResults(t, e, exportID, 1)

	resp, body = getJSON(t, srv.URL+"/api/v1/exports/"+exportID+"/results")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("results status = %d", resp.StatusCode)
	}
	results, _ := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %v, want 1 entry", body["results"])
	}

	resp, _ = getJSON(t, srv.URL+"/api/v1/exports/"+exportID+"/progress")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("progress status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleStart_RejectsBadBody(t *testing.T) {
	_, srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/api/v1/exports", map[string]any{
		"request": map[string]any{"formats": []string{"manifest"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing document_id: status = %d, want 400", resp.StatusCode)
	}

	resp, _ = postJSON(t, srv.URL+"/api/v1/exports", map[string]any{
		"document_id": "doc-1",
		"request":     map[string]any{"formats": []string{"bogus"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown format: status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleBulk(t *testing.T) {
	e, srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/exports/bulk", map[string]any{
		"document_ids": []string{"doc-1"},
		"request": map[string]any{
			"formats":   []string{"manifest"},
			"overrides": testOverlay(t),
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d (%v)", resp.StatusCode, body)
	}
	ids, _ := body["export_ids"].([]any)
	if len(ids) != 1 {
		t.Fatalf("export_ids = %v, want 1", body["export_ids"])
	}
	waitForResults(t, e, ids[0].(string), 1)

	resp, _ = postJSON(t, srv.URL+"/api/v1/exports/bulk", map[string]any{
		"document_ids": []string{"missing"},
		"request":      map[string]any{"formats": []string{"manifest"}},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown document: status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleCancelAndStats(t *testing.T) {
	_, srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/exports/nope/cancel", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	if cancelled, _ := body["cancelled"].(bool); cancelled {
		t.Error("cancel of unknown export should report false")
	}

	resp, body = getJSON(t, srv.URL+"/api/v1/exports/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	if _, ok := body["tasks_run"]; !ok {
		t.Errorf("stats body = %v, want tasks_run field", body)
	}
}

func TestHandleOverride_UnknownExport(t *testing.T) {
	_, srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/api/v1/exports/nope/override", map[string]any{
		"format":        "rag",
		"justification": "reviewed manually, content is fine",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleValidation(t *testing.T) {
	e, srv := newTestServer(t)

	id, err := e.StartExport(context.Background(), testDocument(), Request{
		Formats:   []schema.Format{schema.FormatManifest},
		Overrides: testOverlay(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	waitForResults(t, e, id, 1)

	resp, body := getJSON(t, srv.URL+"/api/v1/exports/"+id+"/validation")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := body["validation"]; !ok {
		t.Errorf("body = %v, want validation field", body)
	}

	resp, _ = getJSON(t, srv.URL+"/api/v1/exports/nope/validation")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown export: status = %d, want 404", resp.StatusCode)
	}
}
