// Package observability records export activity into a SQLite store:
// session lifecycle events and timing metrics, queryable after the fact.
//
// Persistence is async and non-blocking: a full buffer falls back to a
// synchronous insert, and a failing store never propagates errors into the
// export path.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/docexport/dbopen"
	"github.com/hazyhaar/docexport/idgen"
)

// Schema is the DDL for the observability tables. Apply with Init, or embed
// it in your own schema management.
const Schema = `
CREATE TABLE IF NOT EXISTS export_events (
    event_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    document_id TEXT,
    user_id TEXT,
    details TEXT,
    duration_ms INTEGER,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_export_events_time ON export_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_export_events_entity ON export_events(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_export_events_action ON export_events(action);

CREATE TABLE IF NOT EXISTS export_metrics (
    metric_id TEXT PRIMARY KEY,
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_export_metrics_name_time
    ON export_metrics(metric_name, timestamp DESC);
`

// Init applies the schema to the shared observability database.
func Init(db *sql.DB) error {
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply observability schema: %w", err)
		}
	}
	return nil
}

// Event is one export lifecycle record.
type Event struct {
	EventID    string
	Timestamp  time.Time
	Action     string // e.g. "export_started", "export_cancelled"
	EntityType string // e.g. "export_session"
	EntityID   string
	DocumentID string
	UserID     string
	Details    map[string]any
	DurationMs int64
}

// EventFilter controls Query results.
type EventFilter struct {
	Action     string
	EntityID   string
	DocumentID string
	Since      *time.Time
	Limit      int // default 100
}

// Recorder persists export events asynchronously.
type Recorder struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *Event
	stop  chan struct{}
	done  chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) RecorderOption {
	return func(r *Recorder) { r.newID = gen }
}

// NewRecorder creates an async event recorder. Recommended bufferSize: 1000.
func NewRecorder(db *sql.DB, bufferSize int, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		ch:    make(chan *Event, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	go r.flushLoop()
	return r
}

// Record inserts an event synchronously.
func (r *Recorder) Record(ctx context.Context, e *Event) error {
	r.fillDefaults(e)
	return r.insert(ctx, e)
}

// RecordAsync queues an event for async persistence. Falls back to a
// synchronous insert when the buffer is full.
func (r *Recorder) RecordAsync(e *Event) {
	r.fillDefaults(e)
	select {
	case r.ch <- e:
	default:
		slog.Warn("observability: event buffer full, sync fallback", "action", e.Action)
		if err := r.insert(context.Background(), e); err != nil {
			slog.Error("observability: sync fallback failed", "error", err)
		}
	}
}

// Close drains the buffer and stops the flush goroutine.
func (r *Recorder) Close() {
	close(r.stop)
	<-r.done
}

func (r *Recorder) fillDefaults(e *Event) {
	if e.EventID == "" {
		e.EventID = r.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.EntityType == "" {
		e.EntityType = "export_session"
	}
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	for {
		select {
		case e := <-r.ch:
			if err := r.insert(context.Background(), e); err != nil {
				slog.Error("observability: event insert failed", "error", err, "action", e.Action)
			}
		case <-r.stop:
			for {
				select {
				case e := <-r.ch:
					if err := r.insert(context.Background(), e); err != nil {
						slog.Error("observability: event insert failed", "error", err, "action", e.Action)
					}
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) insert(ctx context.Context, e *Event) error {
	details := ""
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			details = string(b)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO export_events (
			event_id, timestamp, action, entity_type, entity_id,
			document_id, user_id, details, duration_ms
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.EventID, e.Timestamp.Unix(), e.Action, e.EntityType, e.EntityID,
		e.DocumentID, e.UserID, details, e.DurationMs)
	if err != nil {
		return fmt.Errorf("insert export event: %w", err)
	}
	return nil
}

// Query retrieves events matching the filter, newest first.
func (r *Recorder) Query(ctx context.Context, f *EventFilter) ([]*Event, error) {
	q := `SELECT event_id, timestamp, action, entity_type, entity_id,
		document_id, user_id, details, duration_ms
		FROM export_events WHERE 1=1`
	var args []any

	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.EntityID != "" {
		q += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	if f.DocumentID != "" {
		q += " AND document_id = ?"
		args = append(args, f.DocumentID)
	}
	if f.Since != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.Unix())
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query export events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts int64
		var details string
		if err := rows.Scan(&e.EventID, &ts, &e.Action, &e.EntityType, &e.EntityID,
			&e.DocumentID, &e.UserID, &details, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan export event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		if details != "" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string // e.g. "export_duration_ms", "chunks_generated"
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "milliseconds", "count", "bytes"
}

// Metrics buffers datapoints and flushes them to SQLite in batches.
type Metrics struct {
	db            *sql.DB
	newID         idgen.Generator
	bufferSize    int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []*Metric

	stop chan struct{}
	done chan struct{}
}

// NewMetrics creates a batched metrics writer. Recommended defaults:
// bufferSize=100, flushInterval=5s.
func NewMetrics(db *sql.DB, bufferSize int, flushInterval time.Duration) *Metrics {
	m := &Metrics{
		db:            db,
		newID:         idgen.Prefixed("met_", idgen.Default),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go m.flushLoop()
	return m
}

// Record queues a metric. Non-blocking.
func (m *Metrics) Record(metric *Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, metric)
	if len(m.buffer) >= m.bufferSize {
		m.flushLocked()
	}
}

// RecordDuration is a convenience helper for timing metrics.
func (m *Metrics) RecordDuration(name string, d time.Duration, labels map[string]string) {
	m.Record(&Metric{
		Name:      name,
		Timestamp: time.Now(),
		Value:     float64(d.Milliseconds()),
		Labels:    labels,
		Unit:      "milliseconds",
	})
}

// Close flushes the remaining buffer and stops the flush goroutine.
func (m *Metrics) Close() {
	close(m.stop)
	<-m.done
}

func (m *Metrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.flushLocked()
			m.mu.Unlock()
		case <-m.stop:
			m.mu.Lock()
			m.flushLocked()
			m.mu.Unlock()
			return
		}
	}
}

// flushLocked writes the buffer in one retried transaction. Caller holds
// the lock.
func (m *Metrics) flushLocked() {
	if len(m.buffer) == 0 {
		return
	}
	err := dbopen.RunTx(context.Background(), m.db, func(tx *sql.Tx) error {
		for _, metric := range m.buffer {
			labels := ""
			if len(metric.Labels) > 0 {
				if b, err := json.Marshal(metric.Labels); err == nil {
					labels = string(b)
				}
			}
			if _, err := tx.Exec(`
				INSERT INTO export_metrics (metric_id, metric_name, timestamp, value, labels, unit)
				VALUES (?,?,?,?,?,?)`,
				m.newID(), metric.Name, metric.Timestamp.Unix(), metric.Value, labels, metric.Unit); err != nil {
				return fmt.Errorf("insert metric %s: %w", metric.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("observability: metrics flush failed", "error", err)
	}
	m.buffer = m.buffer[:0]
}

// QueryMetrics retrieves datapoints for one metric, newest first. Nil time
// bounds are unbounded.
func (m *Metrics) QueryMetrics(ctx context.Context, name string, since *time.Time, limit int) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM export_metrics WHERE 1=1"
	var args []any
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	if since != nil {
		q += " AND timestamp >= ?"
		args = append(args, since.Unix())
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query export metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var metric Metric
		var ts int64
		var labels string
		if err := rows.Scan(&metric.Name, &ts, &metric.Value, &labels, &metric.Unit); err != nil {
			return nil, fmt.Errorf("scan export metric: %w", err)
		}
		metric.Timestamp = time.Unix(ts, 0)
		if labels != "" {
			_ = json.Unmarshal([]byte(labels), &metric.Labels)
		}
		out = append(out, &metric)
	}
	return out, rows.Err()
}
