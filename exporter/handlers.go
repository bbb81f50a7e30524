package exporter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docexport/schema"
)

// RegisterHTTP mounts the export API on a chi router.
func (e *Engine) RegisterHTTP(r chi.Router) {
	r.Post("/api/v1/exports", e.handleStart)
	r.Post("/api/v1/exports/bulk", e.handleStartBulk)
	r.Get("/api/v1/exports", e.handleListSessions)
	r.Get("/api/v1/exports/stats", e.handleStats)
	r.Get("/api/v1/exports/{export_id}/progress", e.handleProgress)
	r.Get("/api/v1/exports/{export_id}/results", e.handleResults)
	r.Get("/api/v1/exports/{export_id}/validation", e.handleValidation)
	r.Post("/api/v1/exports/{export_id}/cancel", e.handleCancel)
	r.Post("/api/v1/exports/{export_id}/override", e.handleOverride)
}

type startExportBody struct {
	DocumentID string  `json:"document_id"`
	Request    Request `json:"request"`
}

// maxRequestBytes caps JSON request bodies.
const maxRequestBytes = 1 << 20

func (e *Engine) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startExportBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		jsonErr(w, http.StatusBadRequest, err)
		return
	}
	if body.DocumentID == "" {
		jsonErr(w, http.StatusBadRequest, errors.New("document_id is required"))
		return
	}

	id, err := e.StartExportByID(r.Context(), body.DocumentID, body.Request)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"export_id": id})
}

type bulkExportBody struct {
	DocumentIDs []string `json:"document_ids"`
	Request     Request  `json:"request"`
}

func (e *Engine) handleStartBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkExportBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		jsonErr(w, http.StatusBadRequest, err)
		return
	}
	if e.cfg.Documents == nil {
		jsonErr(w, http.StatusServiceUnavailable, errors.New("no document source configured"))
		return
	}

	docs := make([]*schema.Document, 0, len(body.DocumentIDs))
	for _, id := range body.DocumentIDs {
		doc, err := e.cfg.Documents.GetDocument(r.Context(), id)
		if err != nil {
			jsonErr(w, http.StatusNotFound, err)
			return
		}
		docs = append(docs, doc)
	}

	ids, err := e.StartBulkExport(r.Context(), docs, body.Request)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"export_ids": ids})
}

func (e *Engine) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": e.GetActiveSessions()})
}

func (e *Engine) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, e.Stats())
}

func (e *Engine) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "export_id")
	snaps, err := e.GetExportProgress(id)
	if err != nil {
		jsonErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export_id": id, "progress": snaps})
}

func (e *Engine) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "export_id")
	results, err := e.GetExportResults(id)
	if err != nil {
		jsonErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export_id": id, "results": results})
}

func (e *Engine) handleValidation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "export_id")
	validation, err := e.GetValidationResults(id)
	if err != nil {
		jsonErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export_id": id, "validation": validation})
}

func (e *Engine) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "export_id")
	cancelled := e.CancelExport(id)
	writeJSON(w, http.StatusOK, map[string]any{"export_id": id, "cancelled": cancelled})
}

type overrideBody struct {
	Format        string `json:"format"`
	Justification string `json:"justification"`
	RequestedBy   string `json:"requested_by,omitempty"`
}

func (e *Engine) handleOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "export_id")
	var body overrideBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		jsonErr(w, http.StatusBadRequest, err)
		return
	}
	format, err := schema.ParseFormat(body.Format)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err)
		return
	}

	approved, err := e.RequestValidationOverride(id, format, body.Justification, body.RequestedBy)
	if err != nil {
		jsonErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export_id": id, "approved": approved})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
