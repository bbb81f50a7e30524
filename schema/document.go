// Package schema defines the shared types exchanged between the export
// engine, the format generators, and the callers that consume session state.
//
// Document and Zone mirror what the upstream document store produces; the
// engine only ever reads them.
package schema

import "time"

// ContentType classifies what a zone contains.
type ContentType string

const (
	ContentText    ContentType = "text"
	ContentTable   ContentType = "table"
	ContentDiagram ContentType = "diagram"
	ContentImage   ContentType = "image"
	ContentMixed   ContentType = "mixed"
	ContentHeader  ContentType = "header"
	ContentFooter  ContentType = "footer"
)

// ZoneStatus is the extraction status assigned by the upstream pipeline.
type ZoneStatus string

const (
	ZonePending    ZoneStatus = "pending"
	ZoneProcessing ZoneStatus = "processing"
	ZoneCompleted  ZoneStatus = "completed"
	ZoneError      ZoneStatus = "error"
)

// BoundingBox locates a zone on its page, in PDF points.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ProcessingEvent is one append-only entry in a zone's tool history.
type ProcessingEvent struct {
	Tool       string    `json:"tool"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	Error      string    `json:"error,omitempty"`
}

// Zone is a detected region of a document page with extracted content.
type Zone struct {
	ID                string            `json:"id"`
	Page              int               `json:"page"`
	Coordinates       BoundingBox       `json:"coordinates"`
	Content           string            `json:"content"`
	ContentType       ContentType       `json:"content_type"`
	Confidence        float64           `json:"confidence"` // 0..1
	Status            ZoneStatus        `json:"status"`
	Tool              string            `json:"tool"`
	ProcessingHistory []ProcessingEvent `json:"processing_history,omitempty"`
	Corrections       []UserCorrection  `json:"corrections,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Document is the immutable input to an export session.
type Document struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	PageCount           int              `json:"page_count"`
	Zones               []Zone           `json:"zones"`
	Corrections         []UserCorrection `json:"corrections,omitempty"`
	ProcessingStartTime time.Time        `json:"processing_start_time"`
	ProcessingEndTime   time.Time        `json:"processing_end_time"`
}

// ProcessingDuration returns the wall time the upstream pipeline spent on
// the document, or zero if the timestamps are unset.
func (d *Document) ProcessingDuration() time.Duration {
	if d.ProcessingStartTime.IsZero() || d.ProcessingEndTime.IsZero() {
		return 0
	}
	return d.ProcessingEndTime.Sub(d.ProcessingStartTime)
}

// CorrectionCategory classifies what kind of change a correction made.
type CorrectionCategory string

const (
	CategorySpelling   CorrectionCategory = "spelling"
	CategoryFormatting CorrectionCategory = "formatting"
	CategoryContent    CorrectionCategory = "content"
	CategoryStructure  CorrectionCategory = "structure"
)

// ImpactLevel grades how significant a correction is.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// Rank returns the ordinal position of the level (low=0, medium=1, high=2).
// Unknown levels rank below low.
func (l ImpactLevel) Rank() int {
	switch l {
	case ImpactLow:
		return 0
	case ImpactMedium:
		return 1
	case ImpactHigh:
		return 2
	default:
		return -1
	}
}

// Escalate bumps the level one step, saturating at high.
func (l ImpactLevel) Escalate() ImpactLevel {
	switch l {
	case ImpactLow:
		return ImpactMedium
	default:
		return ImpactHigh
	}
}

// OriginalContent is the pre-correction side of a user correction.
type OriginalContent struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Tool       string  `json:"tool,omitempty"`
}

// CorrectedContent is the post-correction side of a user correction.
type CorrectedContent struct {
	Content   string `json:"content"`
	Reason    string `json:"reason,omitempty"`
	Validator string `json:"validator,omitempty"`

	// Confidence is optional; nil means fully confident (a human wrote it).
	Confidence *float64 `json:"confidence,omitempty"`
}

// UserCorrection records one manual fix applied to a zone's extracted text.
type UserCorrection struct {
	ID        string             `json:"id"`
	ZoneID    string             `json:"zone_id"`
	UserID    string             `json:"user_id,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Original  OriginalContent    `json:"original"`
	Corrected CorrectedContent   `json:"corrected"`
	Category  CorrectionCategory `json:"category,omitempty"` // empty = classify on export
	Tags      []string           `json:"tags,omitempty"`
}

// ConfidenceDelta is corrected-minus-original confidence. An unset corrected
// confidence counts as 1.0: a human validated it.
func (c *UserCorrection) ConfidenceDelta() float64 {
	after := 1.0
	if c.Corrected.Confidence != nil {
		after = *c.Corrected.Confidence
	}
	return after - c.Original.Confidence
}
