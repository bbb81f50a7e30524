package exporter

import (
	"context"
	"fmt"
	"unicode"

	"github.com/hazyhaar/docexport/progress"
	"github.com/hazyhaar/docexport/schema"
)

// Validator gates generated artifacts before they count as successful.
// Implementations inspect the result's artifact and report findings; the
// engine decides what an invalid verdict does to the result.
type Validator interface {
	Validate(ctx context.Context, format schema.Format, result *schema.ExportResult) (*schema.ValidationResult, error)
}

// permissiveValidator accepts everything. It stands in when no validation
// engine is wired up.
type permissiveValidator struct{}

func (permissiveValidator) Validate(_ context.Context, _ schema.Format, _ *schema.ExportResult) (*schema.ValidationResult, error) {
	return &schema.ValidationResult{Valid: true, Score: 100}, nil
}

// minJustificationChars is the minimum number of non-space characters an
// override justification must carry.
const minJustificationChars = 10

// validateTask runs the validation gate for one settled result. An invalid
// verdict without an approved override downgrades the result to failure;
// the artifact itself is kept so an override can rehabilitate it later.
func (e *Engine) validateTask(sess *session, format schema.Format, result *schema.ExportResult) {
	taskID := sess.taskID(format)
	if err := e.tracker.SetStatus(taskID, progress.StatusValidating); err != nil {
		// Only a concurrently terminated task refuses the transition.
		e.logger.Warn("exporter: validation skipped",
			"export_id", sess.id, "format", format, "error", err)
		return
	}

	vr, err := e.cfg.Validator.Validate(sess.ctx, format, result)
	if err != nil {
		e.logger.Error("exporter: validator error",
			"export_id", sess.id, "format", format, "error", err)
		vr = &schema.ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("validator error: %v", err)},
			Blockers: []schema.BlockingIssue{{
				Reason:      fmt.Sprintf("validation engine failed: %v", err),
				CanOverride: true,
			}},
		}
	}

	sess.mu.Lock()
	sess.validation[format] = vr
	override := sess.overrides[format]
	sess.mu.Unlock()

	if vr.Valid {
		return
	}
	if override != nil && override.Status == schema.OverrideApproved {
		result.Warnings = append(result.Warnings, schema.ExportWarning{
			Code:    "VALIDATION_OVERRIDDEN",
			Message: "validation failures overridden by approved request",
		})
		return
	}

	result.Errors = append(result.Errors, schema.ExportError{
		Code:    "VALIDATION_FAILED",
		Message: fmt.Sprintf("validation rejected the artifact (score %.1f)", vr.Score),
	})
	result.Status = schema.StatusFailure
}

// RequestValidationOverride files a justified exception for one format's
// blocking issues. Approval requires at least one overridable blocker and a
// substantial justification. An approved override rehabilitates a result
// that was downgraded by the validation gate.
func (e *Engine) RequestValidationOverride(exportID string, format schema.Format, justification, requestedBy string) (bool, error) {
	e.mu.Lock()
	sess, ok := e.sessions[exportID]
	e.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("unknown export %q", exportID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	vr, ok := sess.validation[format]
	if !ok {
		return false, fmt.Errorf("no validation result for format %q", format)
	}

	req := &schema.OverrideRequest{
		Blockers:      vr.Blockers,
		Justification: justification,
		RequestedBy:   requestedBy,
		RequestedAt:   e.cfg.Now(),
		Status:        schema.OverridePending,
	}
	sess.overrides[format] = req

	overridable := false
	for _, b := range vr.Blockers {
		if b.CanOverride {
			overridable = true
			break
		}
	}
	if !overridable {
		req.Status = schema.OverrideRejected
		return false, nil
	}
	if countNonSpace(justification) < minJustificationChars {
		req.Status = schema.OverrideRejected
		return false, nil
	}

	now := e.cfg.Now()
	req.Status = schema.OverrideApproved
	req.ApprovedBy = requestedBy
	req.ApprovedAt = &now

	// Rehabilitate an already downgraded result.
	if result, ok := sess.results[format]; ok {
		kept := result.Errors[:0]
		removed := false
		for _, er := range result.Errors {
			if er.Code == "VALIDATION_FAILED" {
				removed = true
				continue
			}
			kept = append(kept, er)
		}
		if removed {
			result.Errors = kept
			result.Warnings = append(result.Warnings, schema.ExportWarning{
				Code:    "VALIDATION_OVERRIDDEN",
				Message: "validation failures overridden by approved request",
			})
			result.Settle()
		}
	}
	return true, nil
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
