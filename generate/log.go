package generate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hazyhaar/docexport/schema"
)

// SessionInfo is the log generator's input: the outcome of one export
// session across the other formats. The orchestrator fills it after those
// formats settle.
type SessionInfo struct {
	ExportID     string                                     `json:"export_id"`
	DocumentID   string                                     `json:"document_id"`
	DocumentName string                                     `json:"document_name"`
	Formats      []schema.Format                            `json:"formats"`
	Results      []*schema.ExportResult                     `json:"results"`
	Started      time.Time                                  `json:"started"`
	Finished     time.Time                                  `json:"finished"`
	Options      *schema.ExportOptions                      `json:"options,omitempty"`
	Validation   map[schema.Format]*schema.ValidationResult `json:"validation,omitempty"`
}

// LogSection is one named block of key/value lines in the log document.
type LogSection struct {
	Name  string    `json:"name"`
	Title string    `json:"title"`
	Lines []LogLine `json:"lines"`
}

// LogLine is one rendered statement. Label may be empty for prose lines.
type LogLine struct {
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

// LogDocument is the structural form of the session log. Renderers turn it
// into markdown, plain text, JSON or HTML without re-deriving content.
type LogDocument struct {
	Header   string           `json:"header"`
	Summary  []string         `json:"summary"`
	Sections []LogSection     `json:"sections"`
	Errors   []string         `json:"errors,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Footer   string           `json:"footer"`
	Render   schema.LogRender `json:"render"`
}

// LogArtifact is the log generator's payload: the structural document plus
// its rendering.
type LogArtifact struct {
	Document *LogDocument `json:"document"`
	Rendered string       `json:"rendered"`
}

var defaultLogSections = []string{"summary", "exports", "errors", "warnings"}

// knownLogSections is the allow-list; unknown requested sections produce a
// warning and are skipped.
var knownLogSections = map[string]bool{
	"summary":  true,
	"exports":  true,
	"errors":   true,
	"warnings": true,
	"debug":    true,
}

// GenerateLog builds the human-readable session log. It is separate from
// Generate because its input is the session outcome, not the document.
func (s *Suite) GenerateLog(ctx context.Context, info *SessionInfo, opts *schema.LogOptions, hooks Hooks) (result *schema.ExportResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("generate: log generator panic", "panic", rec)
			result = &schema.ExportResult{
				Format: schema.FormatLog,
				Status: schema.StatusFailure,
				Errors: []schema.ExportError{{
					Code:    "GENERATOR_PANIC",
					Message: fmt.Sprintf("generator panic: %v", rec),
				}},
			}
		}
	}()

	result = &schema.ExportResult{Format: schema.FormatLog, Metadata: map[string]any{}}
	if opts == nil {
		opts = &schema.LogOptions{}
	}
	render := opts.Render
	if render == "" {
		render = schema.LogMarkdown
	}

	sections := opts.Sections
	if len(sections) == 0 {
		sections = defaultLogSections
	}

	doc := &LogDocument{
		Header: fmt.Sprintf("Export Session %s", info.ExportID),
		Render: render,
		Footer: fmt.Sprintf("Generated %s", info.Finished.UTC().Format(time.RFC3339)),
	}
	doc.Summary = sessionHighlights(info)

	step := 0
	for _, name := range sections {
		if hooks.cancelled() || ctx.Err() != nil {
			break
		}
		step++
		hooks.onItem(step, name)

		if !knownLogSections[name] {
			result.Warnings = append(result.Warnings, schema.ExportWarning{
				Code: "UNKNOWN_LOG_SECTION", Message: fmt.Sprintf("section %q is not known and was skipped", name), Item: name,
			})
			continue
		}
		switch name {
		case "summary":
			doc.Sections = append(doc.Sections, summarySection(info))
		case "exports":
			doc.Sections = append(doc.Sections, exportsSection(info))
		case "errors":
			doc.Errors = collectMessages(info, true)
		case "warnings":
			doc.Warnings = collectMessages(info, false)
		case "debug":
			doc.Sections = append(doc.Sections, debugSection(info))
		}
	}

	rendered, err := renderLog(doc, render)
	if err != nil {
		result.Errors = append(result.Errors, schema.ExportError{
			Code: "RENDER_FAILED", Message: err.Error(),
		})
	}

	result.ItemCount = len(doc.Sections) + len(doc.Summary)
	result.Metadata["render"] = string(render)
	result.Metadata["section_count"] = len(doc.Sections)
	result.Artifact = &LogArtifact{Document: doc, Rendered: rendered}
	result.Settle()
	return result
}

// sessionHighlights derives the summary bullet list. The heuristics favor
// the reader skimming for outcome: success ratio first, then anything
// notable about volume, speed or per-format quality.
func sessionHighlights(info *SessionInfo) []string {
	var out []string

	total := len(info.Results)
	succeeded := 0
	items := 0
	for _, r := range info.Results {
		if r == nil {
			continue
		}
		if r.Status == schema.StatusSuccess {
			succeeded++
		}
		items += r.ItemCount
	}

	switch {
	case total > 0 && succeeded == total:
		out = append(out, fmt.Sprintf("✅ All %d formats exported successfully", total))
	case total > 0 && float64(succeeded)/float64(total) >= 0.8:
		out = append(out, fmt.Sprintf("%d of %d formats exported successfully", succeeded, total))
	default:
		out = append(out, fmt.Sprintf("⚠️ Only %d of %d formats exported successfully", succeeded, total))
	}

	if items > 1000 {
		out = append(out, fmt.Sprintf("Large export: %d items across all formats", items))
	}
	if d := info.Finished.Sub(info.Started); d > 0 && d < 10*time.Second {
		out = append(out, fmt.Sprintf("Fast run: completed in %.1fs", d.Seconds()))
	}

	for _, r := range info.Results {
		if r == nil {
			continue
		}
		switch r.Format {
		case schema.FormatRAG:
			if n, ok := r.Metadata["chunk_count"]; ok {
				out = append(out, fmt.Sprintf("RAG: %v chunks generated", n))
			}
		case schema.FormatJSONL:
			if q, ok := r.Metadata["avg_quality"]; ok {
				out = append(out, fmt.Sprintf("JSONL: average example quality %.2f", q))
			}
		}
	}
	return out
}

func summarySection(info *SessionInfo) LogSection {
	sec := LogSection{Name: "summary", Title: "Session Summary"}
	sec.Lines = append(sec.Lines,
		LogLine{Label: "Document", Value: fmt.Sprintf("%s (%s)", info.DocumentName, info.DocumentID)},
		LogLine{Label: "Formats", Value: formatList(info.Formats)},
		LogLine{Label: "Started", Value: info.Started.UTC().Format(time.RFC3339)},
		LogLine{Label: "Finished", Value: info.Finished.UTC().Format(time.RFC3339)},
		LogLine{Label: "Duration", Value: fmt.Sprintf("%.1fs", info.Finished.Sub(info.Started).Seconds())},
	)
	return sec
}

func exportsSection(info *SessionInfo) LogSection {
	sec := LogSection{Name: "exports", Title: "Per-Format Results"}
	for _, r := range info.Results {
		if r == nil {
			continue
		}
		line := fmt.Sprintf("%s: %d items, %d errors, %d warnings", r.Status, r.ItemCount, len(r.Errors), len(r.Warnings))
		if v, ok := info.Validation[r.Format]; ok && v != nil {
			line += fmt.Sprintf(", validation score %.2f", v.Score)
		}
		sec.Lines = append(sec.Lines, LogLine{Label: string(r.Format), Value: line})
	}
	return sec
}

func debugSection(info *SessionInfo) LogSection {
	sec := LogSection{Name: "debug", Title: "Debug"}
	sec.Lines = append(sec.Lines, LogLine{Label: "Export ID", Value: info.ExportID})
	if info.Options != nil {
		sec.Lines = append(sec.Lines,
			LogLine{Label: "Output directory", Value: info.Options.Output.Directory},
			LogLine{Label: "File pattern", Value: info.Options.Output.FileNamePattern},
		)
	}
	for _, r := range info.Results {
		if r == nil || len(r.Metadata) == 0 {
			continue
		}
		keys := make([]string, 0, len(r.Metadata))
		for k := range r.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sec.Lines = append(sec.Lines, LogLine{
				Label: fmt.Sprintf("%s.%s", r.Format, k),
				Value: fmt.Sprintf("%v", r.Metadata[k]),
			})
		}
	}
	return sec
}

// collectMessages flattens per-format errors or warnings into prefixed
// strings.
func collectMessages(info *SessionInfo, errors bool) []string {
	var out []string
	for _, r := range info.Results {
		if r == nil {
			continue
		}
		if errors {
			for _, e := range r.Errors {
				out = append(out, fmt.Sprintf("[%s] %s: %s", r.Format, e.Code, e.Message))
			}
		} else {
			for _, w := range r.Warnings {
				out = append(out, fmt.Sprintf("[%s] %s: %s", r.Format, w.Code, w.Message))
			}
		}
	}
	return out
}

func formatList(formats []schema.Format) string {
	out := ""
	for i, f := range formats {
		if i > 0 {
			out += ", "
		}
		out += string(f)
	}
	return out
}
