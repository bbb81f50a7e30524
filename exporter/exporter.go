// Package exporter orchestrates export sessions: it resolves configuration,
// fans the requested formats out to the generators, runs the validation
// gate, writes artifacts, and exposes session state to callers.
//
// One session covers one document and a set of formats. Formats run
// concurrently and settle independently; a panic or failure in one format
// never aborts the others. The session log, when requested, always runs
// after every other format has settled so it can summarize them.
package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docexport/exportcfg"
	"github.com/hazyhaar/docexport/generate"
	"github.com/hazyhaar/docexport/idgen"
	"github.com/hazyhaar/docexport/observability"
	"github.com/hazyhaar/docexport/progress"
	"github.com/hazyhaar/docexport/schema"
)

// DocumentSource resolves document IDs for the transport layers. The engine
// itself accepts documents directly.
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (*schema.Document, error)
}

// Request is what a caller supplies to start a session.
type Request struct {
	Formats   []schema.Format    `json:"formats"`
	PresetID  string             `json:"preset_id,omitempty"`
	Overrides *exportcfg.Overlay `json:"overrides,omitempty"`
}

// maxBulkDocuments caps one bulk call.
const maxBulkDocuments = 100

// Config configures an Engine.
type Config struct {
	// Configs resolves presets and defaults. Required.
	Configs *exportcfg.Manager

	// Suite runs the format generators. Default: generate.NewSuite.
	Suite *generate.Suite

	// Tracker tracks per-task progress. Default: progress.New. The engine
	// owns a defaulted tracker and closes it; an injected one stays open.
	Tracker *progress.Tracker

	// Validator gates generated artifacts. Default accepts everything.
	Validator Validator

	// Writer persists artifacts. Default writes per the output options.
	Writer *Writer

	// Documents backs the by-ID transport entry points. Optional.
	Documents DocumentSource

	// Events records session lifecycle to the observability store. Optional.
	Events *observability.Recorder

	// NewID generates session IDs. Default: "exp_" + UUIDv7.
	NewID idgen.Generator

	Logger *slog.Logger

	// CompletedRetention and CancelledRetention bound how long finished
	// sessions stay queryable.
	CompletedRetention time.Duration
	CancelledRetention time.Duration

	// SweepInterval is the retention sweep period.
	SweepInterval time.Duration

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Suite == nil {
		c.Suite = generate.NewSuite(generate.Config{Logger: c.Logger})
	}
	if c.Validator == nil {
		c.Validator = permissiveValidator{}
	}
	if c.Writer == nil {
		c.Writer = NewWriter(WriterConfig{Logger: c.Logger})
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("exp_", idgen.Default)
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 5 * time.Minute
	}
	if c.CancelledRetention <= 0 {
		c.CancelledRetention = time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// SessionState is the lifecycle of a whole session, as opposed to the
// per-task statuses the tracker holds.
type SessionState string

const (
	SessionRunning   SessionState = "running"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
)

type session struct {
	id      string
	doc     *schema.Document
	formats []schema.Format
	opts    schema.ExportOptions
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      SessionState
	finished   time.Time
	results    map[schema.Format]*schema.ExportResult
	validation map[schema.Format]*schema.ValidationResult
	overrides  map[schema.Format]*schema.OverrideRequest
}

func (s *session) taskID(f schema.Format) string {
	return s.id + "/" + string(f)
}

// SessionSummary is a caller-facing view of one session.
type SessionSummary struct {
	ExportID   string          `json:"export_id"`
	DocumentID string          `json:"document_id"`
	Formats    []schema.Format `json:"formats"`
	State      SessionState    `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Stats counts engine activity since start.
type Stats struct {
	ActiveSessions    int                     `json:"active_sessions"`
	CompletedSessions int64                   `json:"completed_sessions"`
	CancelledSessions int64                   `json:"cancelled_sessions"`
	TasksRun          int64                   `json:"tasks_run"`
	TasksFailed       int64                   `json:"tasks_failed"`
	FormatCounts      map[schema.Format]int64 `json:"format_counts"`
	ArtifactBytes     int64                   `json:"artifact_bytes"`
}

// Engine owns all live sessions.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	tracker *progress.Tracker

	// ownTracker marks a tracker the engine created and must close.
	ownTracker bool

	mu       sync.Mutex
	sessions map[string]*session
	stats    Stats

	stop chan struct{}
	done chan struct{}
}

// New creates an Engine and starts its retention sweeper. Call Close when
// done.
func New(cfg Config) (*Engine, error) {
	if cfg.Configs == nil {
		return nil, fmt.Errorf("exporter: Configs is required")
	}
	cfg.defaults()

	e := &Engine{
		cfg:      cfg,
		logger:   cfg.Logger,
		tracker:  cfg.Tracker,
		sessions: make(map[string]*session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if e.tracker == nil {
		e.tracker = progress.New(progress.Config{Logger: cfg.Logger, Now: cfg.Now})
		e.ownTracker = true
	}
	go e.sweepLoop()
	return e, nil
}

// Close stops the sweeper, cancels running sessions, and waits for them.
func (e *Engine) Close() {
	close(e.stop)
	<-e.done

	e.mu.Lock()
	running := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		running = append(running, s)
	}
	e.mu.Unlock()

	for _, s := range running {
		s.cancel()
		<-s.done
	}
	if e.ownTracker {
		e.tracker.Close()
	}
}

// Tracker exposes the progress tracker for subscription-based consumers.
func (e *Engine) Tracker() *progress.Tracker { return e.tracker }

// StartExport validates the request and configuration, registers the
// session, and launches generation in the background. It returns the
// session ID without waiting for any generator.
//
// Configuration problems surface here, before any session exists; after
// this returns, problems are per-format results, never errors.
func (e *Engine) StartExport(ctx context.Context, doc *schema.Document, req Request) (string, error) {
	if doc == nil || doc.ID == "" {
		return "", fmt.Errorf("document is required")
	}
	if len(req.Formats) == 0 {
		return "", fmt.Errorf("at least one format is required")
	}
	seen := make(map[schema.Format]bool, len(req.Formats))
	for _, f := range req.Formats {
		if _, err := schema.ParseFormat(string(f)); err != nil {
			return "", err
		}
		if seen[f] {
			return "", fmt.Errorf("format %q requested twice", f)
		}
		seen[f] = true
	}

	opts := e.cfg.Configs.Resolve(req.Formats, req.PresetID, req.Overrides)
	report := exportcfg.ValidateConfig(opts)
	if !report.Valid {
		return "", fmt.Errorf("invalid configuration: %s", describeIssues(report.Errors))
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		id:         e.cfg.NewID(),
		doc:        doc,
		formats:    append([]schema.Format(nil), req.Formats...),
		opts:       opts,
		started:    e.cfg.Now(),
		ctx:        sctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      SessionRunning,
		results:    make(map[schema.Format]*schema.ExportResult),
		validation: make(map[schema.Format]*schema.ValidationResult),
		overrides:  make(map[schema.Format]*schema.OverrideRequest),
	}

	for i, f := range req.Formats {
		if err := e.tracker.TrackExport(sess.taskID(f), f, generate.EstimateItems(f, doc)); err != nil {
			// Tasks registered before the failure would otherwise sit in
			// preparing forever; cancel them so the tracker can evict them.
			for _, tracked := range req.Formats[:i] {
				e.tracker.CancelExport(sess.taskID(tracked))
			}
			cancel()
			return "", fmt.Errorf("track %s: %w", f, err)
		}
	}

	e.mu.Lock()
	e.sessions[sess.id] = sess
	e.mu.Unlock()

	e.recordEvent(sess, "export_started", nil)
	go e.runSession(sess)
	return sess.id, nil
}

// StartBulkExport starts one session per document with a shared request.
// Duplicate document IDs in one call are rejected up front.
func (e *Engine) StartBulkExport(ctx context.Context, docs []*schema.Document, req Request) ([]string, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents given")
	}
	if len(docs) > maxBulkDocuments {
		return nil, fmt.Errorf("bulk export limited to %d documents, got %d", maxBulkDocuments, len(docs))
	}
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d == nil || d.ID == "" {
			return nil, fmt.Errorf("document without ID in bulk set")
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("document %q appears twice", d.ID)
		}
		seen[d.ID] = true
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		id, err := e.StartExport(ctx, d, req)
		if err != nil {
			// Cancel what already started so a bad tail does not leave a
			// half-launched batch running.
			for _, started := range ids {
				e.CancelExport(started)
			}
			return nil, fmt.Errorf("document %s: %w", d.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// StartExportByID resolves the document through the configured source.
func (e *Engine) StartExportByID(ctx context.Context, documentID string, req Request) (string, error) {
	if e.cfg.Documents == nil {
		return "", fmt.Errorf("no document source configured")
	}
	doc, err := e.cfg.Documents.GetDocument(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("get document %s: %w", documentID, err)
	}
	return e.StartExport(ctx, doc, req)
}

// runSession fans the document formats out, waits for all of them to
// settle, then runs the log format over their outcome.
func (e *Engine) runSession(sess *session) {
	defer close(sess.done)

	var docFormats []schema.Format
	wantLog := false
	for _, f := range sess.formats {
		if f == schema.FormatLog {
			wantLog = true
			continue
		}
		docFormats = append(docFormats, f)
	}

	var wg sync.WaitGroup
	for _, f := range docFormats {
		wg.Add(1)
		go func(format schema.Format) {
			defer wg.Done()
			e.runTask(sess, format)
		}(f)
	}
	wg.Wait()

	if wantLog {
		e.runLogTask(sess)
	}

	sess.mu.Lock()
	if sess.state == SessionRunning {
		sess.state = SessionCompleted
	}
	sess.finished = e.cfg.Now()
	state := sess.state
	sess.mu.Unlock()

	e.mu.Lock()
	if state == SessionCancelled {
		e.stats.CancelledSessions++
	} else {
		e.stats.CompletedSessions++
	}
	e.mu.Unlock()

	e.recordEvent(sess, "export_finished", map[string]any{"state": string(state)})
	e.logger.Info("exporter: session finished",
		"export_id", sess.id, "document_id", sess.doc.ID, "state", state)
}

// runTask runs one non-log format end to end: generate, validate, write,
// complete. A panic is contained to this task.
func (e *Engine) runTask(sess *session, format schema.Format) {
	taskID := sess.taskID(format)
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("exporter: task panic", "export_id", sess.id, "format", format, "panic", rec)
			result := &schema.ExportResult{
				ExportID: sess.id,
				Format:   format,
				Status:   schema.StatusFailure,
				Errors: []schema.ExportError{{
					Code:    "TASK_PANIC",
					Message: fmt.Sprintf("task panic: %v", rec),
				}},
			}
			sess.storeResult(result)
			e.tracker.CompleteExport(taskID, result)
			e.countTask(format, true, 0)
		}
	}()

	hooks := generate.Hooks{
		OnItem: func(current int, item string) {
			e.tracker.UpdateProgress(taskID, current, item)
		},
		Cancelled: func() bool {
			return e.tracker.IsCancelled(taskID) || sess.ctx.Err() != nil
		},
	}

	result := e.cfg.Suite.Generate(sess.ctx, format, sess.doc, &sess.opts, hooks)
	result.ExportID = sess.id

	if e.tracker.IsCancelled(taskID) || sess.ctx.Err() != nil {
		sess.storeResult(result)
		e.countTask(format, false, 0)
		return
	}

	e.validateTask(sess, format, result)

	// A failed result's artifact stays in memory for a possible override
	// but is never written out.
	if result.Artifact != nil && result.Status != schema.StatusFailure {
		if err := e.tracker.SetStatus(taskID, progress.StatusWriting); err != nil {
			e.logger.Warn("exporter: write skipped",
				"export_id", sess.id, "format", format, "error", err)
		} else {
			e.writeTask(sess, result)
		}
	}

	sess.storeResult(result)
	e.tracker.CompleteExport(taskID, result)
	e.countTask(format, result.Status == schema.StatusFailure, result.FileSize)
}

// runLogTask builds the session log after every other format settled.
func (e *Engine) runLogTask(sess *session) {
	taskID := sess.taskID(schema.FormatLog)
	if e.tracker.IsCancelled(taskID) || sess.ctx.Err() != nil {
		return
	}

	sess.mu.Lock()
	info := &generate.SessionInfo{
		ExportID:     sess.id,
		DocumentID:   sess.doc.ID,
		DocumentName: sess.doc.Name,
		Formats:      append([]schema.Format(nil), sess.formats...),
		Started:      sess.started,
		Finished:     e.cfg.Now(),
		Options:      &sess.opts,
		Validation:   make(map[schema.Format]*schema.ValidationResult, len(sess.validation)),
	}
	for _, f := range sess.formats {
		if f == schema.FormatLog {
			continue
		}
		if r, ok := sess.results[f]; ok {
			info.Results = append(info.Results, r)
		}
		if v, ok := sess.validation[f]; ok {
			info.Validation[f] = v
		}
	}
	sess.mu.Unlock()

	hooks := generate.Hooks{
		OnItem: func(current int, item string) {
			e.tracker.UpdateProgress(taskID, current, item)
		},
		Cancelled: func() bool {
			return e.tracker.IsCancelled(taskID) || sess.ctx.Err() != nil
		},
	}

	result := e.cfg.Suite.GenerateLog(sess.ctx, info, sess.opts.Formats.Log, hooks)
	result.ExportID = sess.id

	if result.Artifact != nil {
		if err := e.tracker.SetStatus(taskID, progress.StatusWriting); err == nil {
			e.writeTask(sess, result)
		}
	}

	sess.storeResult(result)
	e.tracker.CompleteExport(taskID, result)
	e.countTask(schema.FormatLog, result.Status == schema.StatusFailure, result.FileSize)
}

// writeTask persists the artifact and folds write problems into the result.
// The in-memory artifact survives a write failure.
func (e *Engine) writeTask(sess *session, result *schema.ExportResult) {
	path, size, err := e.cfg.Writer.Write(sess.ctx, sess.doc, result, sess.opts.Output)
	if err != nil {
		e.logger.Error("exporter: write failed",
			"export_id", sess.id, "format", result.Format, "error", err)
		result.Errors = append(result.Errors, schema.ExportError{
			Code:    "WRITE_FAILED",
			Message: err.Error(),
		})
		if result.ItemCount > 0 {
			result.Status = schema.StatusPartial
		} else {
			result.Status = schema.StatusFailure
		}
		return
	}
	result.FileSize = size
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["output_path"] = path
}

// CancelExport cancels every task of the session. It reports true only
// when every task transitioned to cancelled on this call; a session whose
// tasks partly settled already cancels what is left but reports false.
func (e *Engine) CancelExport(exportID string) bool {
	e.mu.Lock()
	sess, ok := e.sessions[exportID]
	e.mu.Unlock()
	if !ok {
		return false
	}

	anyCancelled := false
	allCancelled := true
	for _, f := range sess.formats {
		if e.tracker.CancelExport(sess.taskID(f)) {
			anyCancelled = true
		} else {
			allCancelled = false
		}
	}
	if anyCancelled {
		sess.mu.Lock()
		sess.state = SessionCancelled
		sess.mu.Unlock()
		sess.cancel()
		e.recordEvent(sess, "export_cancelled", nil)
	}
	return anyCancelled && allCancelled
}

// GetExportProgress returns per-format progress snapshots for a session.
func (e *Engine) GetExportProgress(exportID string) (map[schema.Format]progress.Snapshot, error) {
	e.mu.Lock()
	sess, ok := e.sessions[exportID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown export %q", exportID)
	}

	out := make(map[schema.Format]progress.Snapshot, len(sess.formats))
	for _, f := range sess.formats {
		if snap, ok := e.tracker.GetProgress(sess.taskID(f)); ok {
			out[f] = snap
		}
	}
	return out, nil
}

// GetExportResults returns the settled results so far. While the session
// runs, only the formats that already settled are present.
func (e *Engine) GetExportResults(exportID string) ([]*schema.ExportResult, error) {
	e.mu.Lock()
	sess, ok := e.sessions[exportID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown export %q", exportID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]*schema.ExportResult, 0, len(sess.results))
	for _, f := range sess.formats {
		if r, ok := sess.results[f]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetValidationResults returns the validation gate's findings per format.
func (e *Engine) GetValidationResults(exportID string) (map[schema.Format]*schema.ValidationResult, error) {
	e.mu.Lock()
	sess, ok := e.sessions[exportID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown export %q", exportID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make(map[schema.Format]*schema.ValidationResult, len(sess.validation))
	for f, v := range sess.validation {
		out[f] = v
	}
	return out, nil
}

// GetActiveSessions summarizes sessions that have not been swept yet.
func (e *Engine) GetActiveSessions() []SessionSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SessionSummary, 0, len(e.sessions))
	for _, sess := range e.sessions {
		sess.mu.Lock()
		summary := SessionSummary{
			ExportID:   sess.id,
			DocumentID: sess.doc.ID,
			Formats:    append([]schema.Format(nil), sess.formats...),
			State:      sess.state,
			StartedAt:  sess.started,
		}
		if !sess.finished.IsZero() {
			fin := sess.finished
			summary.FinishedAt = &fin
		}
		sess.mu.Unlock()
		out = append(out, summary)
	}
	return out
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.stats
	stats.FormatCounts = make(map[schema.Format]int64, len(e.stats.FormatCounts))
	for f, n := range e.stats.FormatCounts {
		stats.FormatCounts[f] = n
	}
	stats.ActiveSessions = 0
	for _, sess := range e.sessions {
		sess.mu.Lock()
		if sess.state == SessionRunning {
			stats.ActiveSessions++
		}
		sess.mu.Unlock()
	}
	return stats
}

func (e *Engine) sweepLoop() {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep drops finished sessions past their retention window. Cancelled
// sessions expire faster than completed ones.
func (e *Engine) sweep() {
	now := e.cfg.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, sess := range e.sessions {
		sess.mu.Lock()
		state, finished := sess.state, sess.finished
		sess.mu.Unlock()

		if state == SessionRunning || finished.IsZero() {
			continue
		}
		retention := e.cfg.CompletedRetention
		if state == SessionCancelled {
			retention = e.cfg.CancelledRetention
		}
		if now.Sub(finished) > retention {
			delete(e.sessions, id)
		}
	}
}

func (s *session) storeResult(r *schema.ExportResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.Format] = r
}

func (e *Engine) countTask(format schema.Format, failed bool, artifactBytes int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.TasksRun++
	if failed {
		e.stats.TasksFailed++
	}
	if e.stats.FormatCounts == nil {
		e.stats.FormatCounts = make(map[schema.Format]int64)
	}
	e.stats.FormatCounts[format]++
	e.stats.ArtifactBytes += artifactBytes
}

func (e *Engine) recordEvent(sess *session, action string, extra map[string]any) {
	if e.cfg.Events == nil {
		return
	}
	e.cfg.Events.RecordAsync(&observability.Event{
		Action:     action,
		EntityType: "export_session",
		EntityID:   sess.id,
		DocumentID: sess.doc.ID,
		Details:    extra,
	})
}

func describeIssues(issues []exportcfg.ConfigIssue) string {
	out := ""
	for i, issue := range issues {
		if i > 0 {
			out += "; "
		}
		out += issue.Code + " " + issue.Field
	}
	return out
}
