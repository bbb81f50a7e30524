package exportcfg

import (
	"fmt"

	"github.com/hazyhaar/docexport/schema"
)

// Error codes produced by ValidateConfig.
const (
	CodeInvalidChunkSize        = "INVALID_CHUNK_SIZE"
	CodeInvalidOverlap          = "INVALID_OVERLAP"
	CodeInvalidQualityThreshold = "INVALID_QUALITY_THRESHOLD"
	CodeInvalidMaxExamples      = "INVALID_MAX_EXAMPLES"
	CodeMissingOutputDirectory  = "MISSING_OUTPUT_DIRECTORY"
	CodeMissingFileNamePattern  = "MISSING_FILENAME_PATTERN"
	CodeLargeChunkSize          = "LARGE_CHUNK_SIZE"
	CodeSmallFileSizeCap        = "SMALL_FILE_SIZE_CAP"
)

// ConfigIssue is one validation finding.
type ConfigIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationReport is the outcome of ValidateConfig. Warnings and
// suggestions never affect Valid.
type ValidationReport struct {
	Valid       bool          `json:"valid"`
	Errors      []ConfigIssue `json:"errors,omitempty"`
	Warnings    []ConfigIssue `json:"warnings,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

func (r *ValidationReport) addError(code, field, msg string) {
	r.Errors = append(r.Errors, ConfigIssue{Code: code, Field: field, Message: msg})
}

func (r *ValidationReport) addWarning(code, field, msg string) {
	r.Warnings = append(r.Warnings, ConfigIssue{Code: code, Field: field, Message: msg})
}

// HasError reports whether the report contains the given error code.
func (r *ValidationReport) HasError(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// ValidateConfig checks a resolved configuration. It only inspects format
// blocks that are present; resolution strips the unrequested ones.
func ValidateConfig(opts schema.ExportOptions) ValidationReport {
	var r ValidationReport

	if rag := opts.Formats.RAG; rag != nil {
		if rag.ChunkSize < 100 {
			r.addError(CodeInvalidChunkSize, "formats.rag.chunk_size",
				fmt.Sprintf("chunk size %d is below the minimum of 100 characters", rag.ChunkSize))
		} else if rag.ChunkSize > 4096 {
			r.addWarning(CodeLargeChunkSize, "formats.rag.chunk_size",
				fmt.Sprintf("chunk size %d may hurt retrieval performance", rag.ChunkSize))
			r.Suggestions = append(r.Suggestions, "consider a chunk size between 512 and 2048 characters")
		}
		if rag.OverlapPercentage < 0 || rag.OverlapPercentage > 0.5 {
			r.addError(CodeInvalidOverlap, "formats.rag.overlap_percentage",
				fmt.Sprintf("overlap %.2f is outside [0, 0.5]", rag.OverlapPercentage))
		}
	}

	if j := opts.Formats.JSONL; j != nil {
		if j.QualityThreshold < 0 || j.QualityThreshold > 1 {
			r.addError(CodeInvalidQualityThreshold, "formats.jsonl.quality_threshold",
				fmt.Sprintf("quality threshold %.2f is outside [0, 1]", j.QualityThreshold))
		}
		if j.MaxExamplesPerDocument < 1 {
			r.addError(CodeInvalidMaxExamples, "formats.jsonl.max_examples_per_document",
				"max examples per document must be at least 1")
		}
	}

	if opts.Output.Directory == "" {
		r.addError(CodeMissingOutputDirectory, "output.directory", "output directory is required")
	}
	if opts.Output.FileNamePattern == "" {
		r.addError(CodeMissingFileNamePattern, "output.file_name_pattern", "file name pattern is required")
	}
	if opts.Output.MaxFileSize > 0 && opts.Output.MaxFileSize < 1024 {
		r.addWarning(CodeSmallFileSizeCap, "output.max_file_size",
			fmt.Sprintf("max file size of %d bytes will split nearly every artifact", opts.Output.MaxFileSize))
	}

	r.Valid = len(r.Errors) == 0
	return r
}
