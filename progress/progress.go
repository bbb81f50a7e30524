// Package progress tracks per-task export progress: status transitions,
// completion percentage, throughput and ETA estimation, and change
// notification for pollers and subscribers.
//
// The tracker is the single writer of task state. Generators report through
// UpdateProgress, the orchestrator drives status transitions, and readers
// get immutable snapshots. A background ticker re-emits snapshots of
// long-running tasks so subscribers see liveness even between item updates,
// and evicts finished tasks into a bounded history.
package progress

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/docexport/schema"
)

// Status is the lifecycle state of one export task.
type Status string

const (
	StatusPreparing  Status = "preparing"
	StatusProcessing Status = "processing"
	StatusValidating Status = "validating"
	StatusWriting    Status = "writing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// validNext lists the allowed forward transitions. Error and cancelled are
// reachable from any non-terminal state and are not listed here. A task
// whose generator produced no items never reports item progress, so it may
// enter validation straight from preparing.
var validNext = map[Status][]Status{
	StatusPreparing:  {StatusProcessing, StatusValidating},
	StatusProcessing: {StatusValidating, StatusWriting, StatusComplete},
	StatusValidating: {StatusWriting, StatusComplete},
	StatusWriting:    {StatusComplete},
}

// Snapshot is an immutable view of one task's progress.
type Snapshot struct {
	TaskID      string                 `json:"task_id"`
	Format      schema.Format          `json:"format"`
	Status      Status                 `json:"status"`
	Current     int                    `json:"current"`
	Total       int                    `json:"total"`
	Percentage  int                    `json:"percentage"`
	CurrentItem string                 `json:"current_item,omitempty"`
	Rate        float64                `json:"rate"` // items per second
	ETA         string                 `json:"eta,omitempty"`
	Errors      []schema.ExportError   `json:"errors,omitempty"`
	Warnings    []schema.ExportWarning `json:"warnings,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
}

// rateWindowSize bounds the sliding window used for throughput estimation.
const rateWindowSize = 10

type sample struct {
	at time.Time
	n  int
}

type task struct {
	snap    Snapshot
	samples []sample
	subs    []*subscriber
}

type subscriber struct {
	ch     chan Snapshot
	closed bool
}

// Config configures a Tracker.
type Config struct {
	Logger *slog.Logger

	// TickInterval is the re-emission period for running tasks.
	TickInterval time.Duration

	// LiveRetention holds a finished task in the live map so late pollers
	// still find it before it moves to history.
	LiveRetention time.Duration

	// CancelledRetention overrides LiveRetention for cancelled tasks.
	CancelledRetention time.Duration

	// HistorySize bounds the finished-task ring.
	HistorySize int

	// HistoryRetention expires history entries by age.
	HistoryRetention time.Duration

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.LiveRetention <= 0 {
		c.LiveRetention = 60 * time.Second
	}
	if c.CancelledRetention <= 0 {
		c.CancelledRetention = 60 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 5 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Tracker tracks all live export tasks.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	history []Snapshot

	stop chan struct{}
	done chan struct{}
}

// New creates a Tracker and starts its ticker goroutine. Call Close when
// done.
func New(cfg Config) *Tracker {
	cfg.defaults()
	t := &Tracker{
		cfg:    cfg,
		logger: cfg.Logger,
		tasks:  make(map[string]*task),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

// Close stops the ticker and closes all subscriber channels.
func (t *Tracker) Close() {
	close(t.stop)
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tk := range t.tasks {
		for _, s := range tk.subs {
			if !s.closed {
				close(s.ch)
				s.closed = true
			}
		}
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// tick re-emits running snapshots and sweeps finished tasks into history.
func (t *Tracker) tick() {
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, tk := range t.tasks {
		if !tk.snap.Status.Terminal() {
			t.publishLocked(tk, true)
			continue
		}
		retention := t.cfg.LiveRetention
		if tk.snap.Status == StatusCancelled {
			retention = t.cfg.CancelledRetention
		}
		if tk.snap.FinishedAt != nil && now.Sub(*tk.snap.FinishedAt) > retention {
			t.history = append(t.history, tk.snap)
			for _, s := range tk.subs {
				if !s.closed {
					close(s.ch)
					s.closed = true
				}
			}
			delete(t.tasks, id)
		}
	}

	if n := len(t.history) - t.cfg.HistorySize; n > 0 {
		t.history = append([]Snapshot(nil), t.history[n:]...)
	}
	kept := t.history[:0]
	for _, s := range t.history {
		if s.FinishedAt == nil || now.Sub(*s.FinishedAt) <= t.cfg.HistoryRetention {
			kept = append(kept, s)
		}
	}
	t.history = kept
}

// TrackExport registers a new task in the preparing state. Re-registering a
// live task ID is an error.
func (t *Tracker) TrackExport(taskID string, format schema.Format, totalItems int) error {
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tasks[taskID]; ok {
		return fmt.Errorf("task %q already tracked", taskID)
	}
	t.tasks[taskID] = &task{
		snap: Snapshot{
			TaskID:    taskID,
			Format:    format,
			Status:    StatusPreparing,
			Total:     totalItems,
			StartedAt: now,
			UpdatedAt: now,
		},
	}
	return nil
}

// UpdateProgress records item completion. It moves a preparing task to
// processing, recomputes the percentage, and refreshes the rate window.
func (t *Tracker) UpdateProgress(taskID string, current int, item string) {
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[taskID]
	if !ok || tk.snap.Status.Terminal() {
		return
	}
	if tk.snap.Status == StatusPreparing {
		tk.snap.Status = StatusProcessing
	}

	tk.snap.Current = current
	tk.snap.CurrentItem = item
	tk.snap.Percentage = percentage(current, tk.snap.Total)
	tk.snap.UpdatedAt = now

	tk.samples = append(tk.samples, sample{at: now, n: current})
	if len(tk.samples) > rateWindowSize {
		tk.samples = tk.samples[len(tk.samples)-rateWindowSize:]
	}
	tk.snap.Rate = rateOf(tk.samples)
	tk.snap.ETA = formatETA(tk.snap.Total-current, tk.snap.Rate)

	t.publishLocked(tk, false)
}

// SetStatus drives a lifecycle transition. Error and cancelled are always
// reachable from a non-terminal state; forward transitions must follow the
// lifecycle order.
func (t *Tracker) SetStatus(taskID string, status Status) error {
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %q not tracked", taskID)
	}
	cur := tk.snap.Status
	if cur.Terminal() {
		return fmt.Errorf("task %q is already %s", taskID, cur)
	}
	if status != StatusError && status != StatusCancelled && !allowed(cur, status) {
		return fmt.Errorf("invalid transition %s -> %s", cur, status)
	}

	tk.snap.Status = status
	tk.snap.UpdatedAt = now
	if status.Terminal() {
		fin := now
		tk.snap.FinishedAt = &fin
	}
	t.publishLocked(tk, false)
	return nil
}

func allowed(from, to Status) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AddError attaches an error to the task without changing its status.
func (t *Tracker) AddError(taskID string, e schema.ExportError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tk, ok := t.tasks[taskID]; ok {
		tk.snap.Errors = append(tk.snap.Errors, e)
		tk.snap.UpdatedAt = t.cfg.Now()
		t.publishLocked(tk, false)
	}
}

// AddWarning attaches a warning to the task.
func (t *Tracker) AddWarning(taskID string, w schema.ExportWarning) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tk, ok := t.tasks[taskID]; ok {
		tk.snap.Warnings = append(tk.snap.Warnings, w)
		tk.snap.UpdatedAt = t.cfg.Now()
		t.publishLocked(tk, false)
	}
}

// CompleteExport finalizes a task from its settled result: progress snaps to
// 100%, the result's errors and warnings are merged in, and the status
// becomes complete or error.
func (t *Tracker) CompleteExport(taskID string, result *schema.ExportResult) {
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[taskID]
	if !ok || tk.snap.Status.Terminal() {
		return
	}

	tk.snap.Current = tk.snap.Total
	tk.snap.Percentage = 100
	tk.snap.ETA = ""
	tk.snap.CurrentItem = ""
	tk.snap.UpdatedAt = now
	fin := now
	tk.snap.FinishedAt = &fin

	if result != nil {
		tk.snap.Errors = append(tk.snap.Errors, result.Errors...)
		tk.snap.Warnings = append(tk.snap.Warnings, result.Warnings...)
		if result.Status == schema.StatusFailure {
			tk.snap.Status = StatusError
		} else {
			tk.snap.Status = StatusComplete
		}
	} else {
		tk.snap.Status = StatusComplete
	}
	t.publishLocked(tk, false)
}

// CancelExport marks the task cancelled. It reports true only on the call
// that performed the cancellation; cancelling a finished or unknown task
// reports false.
func (t *Tracker) CancelExport(taskID string) bool {
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[taskID]
	if !ok || tk.snap.Status.Terminal() {
		return false
	}
	tk.snap.Status = StatusCancelled
	tk.snap.UpdatedAt = now
	fin := now
	tk.snap.FinishedAt = &fin
	t.publishLocked(tk, false)
	return true
}

// IsCancelled reports whether the task has been cancelled. Generators poll
// this between items.
func (t *Tracker) IsCancelled(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[taskID]
	return ok && tk.snap.Status == StatusCancelled
}

// GetProgress returns the task's current snapshot, consulting history for
// recently evicted tasks.
func (t *Tracker) GetProgress(taskID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tk, ok := t.tasks[taskID]; ok {
		return cloneSnapshot(tk.snap), true
	}
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].TaskID == taskID {
			return cloneSnapshot(t.history[i]), true
		}
	}
	return Snapshot{}, false
}

// ActiveTasks returns snapshots of all non-terminal tasks, ordered by start
// time.
func (t *Tracker) ActiveTasks() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.tasks))
	for _, tk := range t.tasks {
		if !tk.snap.Status.Terminal() {
			out = append(out, cloneSnapshot(tk.snap))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// History returns the finished-task ring, oldest first.
func (t *Tracker) History() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, len(t.history))
	for i, s := range t.history {
		out[i] = cloneSnapshot(s)
	}
	return out
}

// Subscribe returns a channel of snapshots for one task and a cancel
// function. State changes are always delivered; ticker re-emissions may be
// coalesced so a slow reader sees the latest snapshot rather than every
// intermediate one. The channel closes when the task leaves the live map or
// the tracker shuts down.
func (t *Tracker) Subscribe(taskID string) (<-chan Snapshot, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[taskID]
	if !ok {
		return nil, nil, fmt.Errorf("task %q not tracked", taskID)
	}
	sub := &subscriber{ch: make(chan Snapshot, 16)}
	tk.subs = append(tk.subs, sub)

	// Seed with the current state so subscribers never start blind.
	sub.ch <- cloneSnapshot(tk.snap)

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range tk.subs {
			if s == sub {
				tk.subs = append(tk.subs[:i], tk.subs[i+1:]...)
				break
			}
		}
		if !sub.closed {
			close(sub.ch)
			sub.closed = true
		}
	}
	return sub.ch, cancel, nil
}

// publishLocked fans a snapshot out to the task's subscribers. Ticker
// re-emissions (coalesce) are skipped when the subscriber still has unread
// snapshots; state changes drop the oldest buffered snapshot instead, so a
// lagging reader always converges on the latest state.
func (t *Tracker) publishLocked(tk *task, coalesce bool) {
	snap := cloneSnapshot(tk.snap)
	for _, s := range tk.subs {
		if s.closed {
			continue
		}
		if coalesce && len(s.ch) > 0 {
			continue
		}
		for {
			select {
			case s.ch <- snap:
			default:
				select {
				case <-s.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Errors = append([]schema.ExportError(nil), s.Errors...)
	out.Warnings = append([]schema.ExportWarning(nil), s.Warnings...)
	if s.FinishedAt != nil {
		fin := *s.FinishedAt
		out.FinishedAt = &fin
	}
	return out
}

func percentage(current, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(current) / float64(total)))
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

// rateOf computes items per second over the sample window.
func rateOf(samples []sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	first, last := samples[0], samples[len(samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.n-first.n) / elapsed
}

// formatETA renders the remaining-time estimate: "45s", "2m 5s", "1h 12m".
// A zero rate yields no estimate.
func formatETA(remaining int, rate float64) string {
	if remaining <= 0 || rate <= 0 {
		return ""
	}
	secs := int(math.Round(float64(remaining) / rate))
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}
