package schema

import "time"

// ResultStatus is the outcome of one generator run.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success" // zero errors
	StatusPartial ResultStatus = "partial" // some items succeeded, some failed
	StatusFailure ResultStatus = "failure" // nothing usable produced
)

// ExportError is an item- or generator-level failure embedded in a result.
// Generators never return Go errors across their boundary; they record these.
type ExportError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Item    string `json:"item,omitempty"` // zone/correction/example the error concerns
}

// ExportWarning is a non-fatal quality or structural signal.
type ExportWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Item    string `json:"item,omitempty"`
}

// ExportResult is the outcome of one (session, format) pair. Created when
// the generator returns; only the validation gate may mutate it afterward,
// and only to downgrade Status.
type ExportResult struct {
	ExportID  string          `json:"export_id"`
	Format    Format          `json:"format"`
	Status    ResultStatus    `json:"status"`
	ItemCount int             `json:"item_count"`
	FileSize  int64           `json:"file_size,omitempty"`
	Errors    []ExportError   `json:"errors,omitempty"`
	Warnings  []ExportWarning `json:"warnings,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`

	// Artifact holds the generated payload (chunk set, example list, ...)
	// until the writer serializes it. Not part of the wire shape.
	Artifact any `json:"-"`
}

// Settle derives the final status from the error count and item count.
func (r *ExportResult) Settle() {
	switch {
	case len(r.Errors) == 0:
		r.Status = StatusSuccess
	case r.ItemCount > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusFailure
	}
}

// BlockingIssue is a validation-gate failure that prevents a format from
// being marked successful unless overridden.
type BlockingIssue struct {
	Reason               string   `json:"reason"`
	AffectedItems        []string `json:"affected_items,omitempty"`
	CanOverride          bool     `json:"can_override"`
	OverrideRequirements string   `json:"override_requirements,omitempty"`
}

// ValidationResult is what the external validation engine reports for one
// generated artifact.
type ValidationResult struct {
	Valid    bool            `json:"valid"`
	Score    float64         `json:"score"` // 0..100
	Errors   []string        `json:"errors,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Blockers []BlockingIssue `json:"blockers,omitempty"`
	Report   string          `json:"report,omitempty"`
}

// OverrideStatus tracks the lifecycle of an override request.
type OverrideStatus string

const (
	OverridePending  OverrideStatus = "pending"
	OverrideApproved OverrideStatus = "approved"
	OverrideRejected OverrideStatus = "rejected"
)

// OverrideRequest is a justified exception that unblocks a format's
// blocking issues for one session.
type OverrideRequest struct {
	Blockers      []BlockingIssue `json:"blockers"`
	Justification string          `json:"justification"`
	RequestedBy   string          `json:"requested_by,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
	ApprovedBy    string          `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
	Status        OverrideStatus  `json:"status"`
}
