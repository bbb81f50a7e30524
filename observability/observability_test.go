package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docexport/dbopen"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestRecorder_RecordAndQuery(t *testing.T) {
	db := testDB(t)
	rec := NewRecorder(db, 10)
	defer rec.Close()

	err := rec.Record(context.Background(), &Event{
		Action:     "export_started",
		EntityID:   "exp-1",
		DocumentID: "doc-1",
		Details:    map[string]any{"formats": 2},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := rec.Query(context.Background(), &EventFilter{EntityID: "exp-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}
	e := events[0]
	if e.Action != "export_started" || e.DocumentID != "doc-1" {
		t.Errorf("event = %+v", e)
	}
	if e.EntityType != "export_session" {
		t.Errorf("entity type = %q, want default export_session", e.EntityType)
	}
	if e.Details["formats"] != float64(2) {
		t.Errorf("details = %v", e.Details)
	}
}

func TestRecorder_AsyncDrainsOnClose(t *testing.T) {
	db := testDB(t)
	rec := NewRecorder(db, 10)
	for i := 0; i < 5; i++ {
		rec.RecordAsync(&Event{Action: "export_finished", EntityID: "exp-2"})
	}
	rec.Close()

	events, err := rec.Query(context.Background(), &EventFilter{EntityID: "exp-2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 5 {
		t.Errorf("event count = %d, want 5", len(events))
	}
}

func TestRecorder_QueryFilters(t *testing.T) {
	db := testDB(t)
	rec := NewRecorder(db, 10)
	defer rec.Close()

	rec.Record(context.Background(), &Event{Action: "export_started", EntityID: "a", DocumentID: "d1"})
	rec.Record(context.Background(), &Event{Action: "export_cancelled", EntityID: "b", DocumentID: "d2"})

	events, err := rec.Query(context.Background(), &EventFilter{Action: "export_cancelled"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 || events[0].EntityID != "b" {
		t.Errorf("events = %+v, want only the cancelled one", events)
	}
}

func TestMetrics_FlushAndQuery(t *testing.T) {
	db := testDB(t)
	m := NewMetrics(db, 100, time.Hour)

	m.RecordDuration("export_duration_ms", 1500*time.Millisecond, map[string]string{"format": "rag"})
	m.Record(&Metric{Name: "chunks_generated", Timestamp: time.Now(), Value: 42, Unit: "count"})
	m.Close() // flushes

	points, err := m.QueryMetrics(context.Background(), "export_duration_ms", nil, 10)
	if err != nil {
		t.Fatalf("QueryMetrics: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("point count = %d, want 1", len(points))
	}
	if points[0].Value != 1500 || points[0].Labels["format"] != "rag" {
		t.Errorf("point = %+v", points[0])
	}
}
