// Package generate implements the five export format generators.
//
// Each generator is a pure function from a document and resolved options to
// an ExportResult. Generators never fail past their own boundary: item-level
// problems become ExportError entries and the item is skipped; a panic at
// the outermost boundary becomes a failure result. The caller decides what
// to do with partial output.
//
// Four generators consume the document directly (rag, jsonl, corrections,
// manifest). The log generator consumes a SessionInfo instead, because its
// content summarizes the other formats' results; the orchestrator runs it
// last.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/docexport/schema"
)

// Config configures a Suite.
type Config struct {
	// Logger for debug messages.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Suite holds the shared machinery for all generators: the HTML sanitizer
// and markdown converter used for content normalization.
type Suite struct {
	cfg       Config
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
	mdConv    *converter.Converter
}

// NewSuite creates a generator suite.
func NewSuite(cfg Config) *Suite {
	cfg.defaults()
	return &Suite{
		cfg:       cfg,
		logger:    cfg.Logger,
		sanitizer: bluemonday.UGCPolicy(),
		mdConv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Hooks connects a generator run to progress tracking and cooperative
// cancellation. All fields may be nil.
type Hooks struct {
	// OnItem is called before each item with the 1-based item number and a
	// short item label.
	OnItem func(current int, item string)

	// Cancelled is polled before each item. Once it returns true the
	// generator stops issuing new item work and returns what it has.
	Cancelled func() bool
}

func (h Hooks) onItem(current int, item string) {
	if h.OnItem != nil {
		h.OnItem(current, item)
	}
}

func (h Hooks) cancelled() bool {
	return h.Cancelled != nil && h.Cancelled()
}

// Generate dispatches to the document-driven generator for the format.
// The log format is rejected here: it needs a SessionInfo, see GenerateLog.
//
// A panic escaping a generator is caught and converted into a failure
// result, never propagated.
func (s *Suite) Generate(ctx context.Context, format schema.Format, doc *schema.Document, opts *schema.ExportOptions, hooks Hooks) (result *schema.ExportResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("generate: generator panic", "format", format, "panic", rec)
			result = &schema.ExportResult{
				Format: format,
				Status: schema.StatusFailure,
				Errors: []schema.ExportError{{
					Code:    "GENERATOR_PANIC",
					Message: fmt.Sprintf("generator panic: %v", rec),
				}},
			}
		}
	}()

	zones := selectZones(doc, opts.Selection)

	switch format {
	case schema.FormatRAG:
		return s.generateRAG(ctx, doc, zones, opts.Formats.RAG, hooks)
	case schema.FormatJSONL:
		return s.generateJSONL(ctx, doc, zones, opts.Formats.JSONL, hooks)
	case schema.FormatCorrections:
		return s.generateCorrections(ctx, doc, opts.Formats.Corrections, hooks)
	case schema.FormatManifest:
		return s.generateManifest(ctx, doc, zones, opts.Formats.Manifest, hooks)
	default:
		return &schema.ExportResult{
			Format: format,
			Status: schema.StatusFailure,
			Errors: []schema.ExportError{{
				Code:    "UNSUPPORTED_FORMAT",
				Message: fmt.Sprintf("no generator for format %q", format),
			}},
		}
	}
}

// EstimateItems sizes the progress bar for a format. The numbers are
// heuristic: they only have to make the percentage move sensibly.
func EstimateItems(format schema.Format, doc *schema.Document) int {
	zones := len(doc.Zones)
	switch format {
	case schema.FormatRAG:
		if zones < 10 {
			return 10
		}
		return zones
	case schema.FormatJSONL:
		return zones * 2
	case schema.FormatCorrections:
		n := len(collectCorrections(doc))
		if n < 1 {
			return 1
		}
		return n
	case schema.FormatManifest:
		return zones + 5
	case schema.FormatLog:
		return 4
	default:
		return zones
	}
}

// selectZones applies the session's zone selection criteria.
func selectZones(doc *schema.Document, sel *schema.Selection) []schema.Zone {
	if sel == nil {
		return doc.Zones
	}
	out := make([]schema.Zone, 0, len(doc.Zones))
	for i := range doc.Zones {
		if sel.Matches(&doc.Zones[i]) {
			out = append(out, doc.Zones[i])
		}
	}
	return out
}

// collectCorrections merges document-level and zone-level corrections.
func collectCorrections(doc *schema.Document) []schema.UserCorrection {
	out := append([]schema.UserCorrection(nil), doc.Corrections...)
	for i := range doc.Zones {
		out = append(out, doc.Zones[i].Corrections...)
	}
	return out
}

// estimateTokens approximates token count as ceil(chars/4).
func estimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4.0))
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
