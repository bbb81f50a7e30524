package schema

import (
	"fmt"
	"time"
)

// Format identifies one of the export output kinds.
type Format string

const (
	FormatRAG         Format = "rag"         // retrieval chunks
	FormatJSONL       Format = "jsonl"       // fine-tuning examples
	FormatCorrections Format = "corrections" // correction audit trail
	FormatManifest    Format = "manifest"    // processing manifest
	FormatLog         Format = "log"         // human-readable session log
)

// AllFormats lists every supported format in generation order. The log
// format is last by convention: it summarizes the others.
func AllFormats() []Format {
	return []Format{FormatRAG, FormatJSONL, FormatCorrections, FormatManifest, FormatLog}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatRAG, FormatJSONL, FormatCorrections, FormatManifest, FormatLog:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported format: %q", s)
	}
}

// ConversationStyle shapes the message sequence of a fine-tuning example.
type ConversationStyle string

const (
	StyleQA          ConversationStyle = "qa"
	StyleInstruction ConversationStyle = "instruction"
	StyleChat        ConversationStyle = "chat"
)

// DetailLevel controls how much zone content the manifest carries.
type DetailLevel string

const (
	DetailSummary  DetailLevel = "summary"
	DetailDetailed DetailLevel = "detailed"
	DetailVerbose  DetailLevel = "verbose"
)

// LogRender selects the textual rendering of the session log.
type LogRender string

const (
	LogMarkdown LogRender = "markdown"
	LogPlain    LogRender = "plain"
	LogJSON     LogRender = "json"
	LogHTML     LogRender = "html"
)

// RAGOptions configures the retrieval-chunk generator.
type RAGOptions struct {
	ChunkSize         int      `json:"chunk_size" yaml:"chunk_size"`
	OverlapPercentage float64  `json:"overlap_percentage" yaml:"overlap_percentage"` // fraction of chunk size, 0..0.5
	MetadataFields    []string `json:"metadata_fields,omitempty" yaml:"metadata_fields,omitempty"`
	IncludeEmbeddings bool     `json:"include_embeddings" yaml:"include_embeddings"`
}

// JSONLOptions configures the fine-tuning example generator.
type JSONLOptions struct {
	QualityThreshold       float64           `json:"quality_threshold" yaml:"quality_threshold"` // 0..1
	MaxExamplesPerDocument int               `json:"max_examples_per_document" yaml:"max_examples_per_document"`
	IncludeLowQuality      bool              `json:"include_low_quality" yaml:"include_low_quality"`
	BalanceExampleTypes    bool              `json:"balance_example_types" yaml:"balance_example_types"`
	ConversationStyle      ConversationStyle `json:"conversation_style" yaml:"conversation_style"`
}

// CorrectionsOptions configures the correction audit generator.
type CorrectionsOptions struct {
	DateFrom        *time.Time  `json:"date_from,omitempty" yaml:"date_from,omitempty"`
	DateTo          *time.Time  `json:"date_to,omitempty" yaml:"date_to,omitempty"`
	MinImpactLevel  ImpactLevel `json:"min_impact_level,omitempty" yaml:"min_impact_level,omitempty"`
	SortBy          string      `json:"sort_by,omitempty" yaml:"sort_by,omitempty"` // timestamp, impact, category
	GroupByCategory bool        `json:"group_by_category" yaml:"group_by_category"`
}

// ManifestOptions configures the processing-manifest generator.
type ManifestOptions struct {
	DetailLevel DetailLevel `json:"detail_level" yaml:"detail_level"`
}

// LogOptions configures the session-log generator. Sections is an allow-list
// over "summary", "exports", "errors", "warnings" and "debug".
type LogOptions struct {
	Sections []string  `json:"sections,omitempty" yaml:"sections,omitempty"`
	Render   LogRender `json:"render" yaml:"render"`
}

// FormatOptions bundles the per-format option blocks. Nil blocks take the
// resolved defaults when the format is requested.
type FormatOptions struct {
	RAG         *RAGOptions         `json:"rag,omitempty" yaml:"rag,omitempty"`
	JSONL       *JSONLOptions       `json:"jsonl,omitempty" yaml:"jsonl,omitempty"`
	Corrections *CorrectionsOptions `json:"corrections,omitempty" yaml:"corrections,omitempty"`
	Manifest    *ManifestOptions    `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Log         *LogOptions         `json:"log,omitempty" yaml:"log,omitempty"`
}

// ValidationOptions controls the validation gate.
type ValidationOptions struct {
	StrictMode        bool `json:"strict_mode" yaml:"strict_mode"`
	SchemaValidation  bool `json:"schema_validation" yaml:"schema_validation"`
	ContentValidation bool `json:"content_validation" yaml:"content_validation"`
}

// OutputOptions controls artifact writing.
type OutputOptions struct {
	Directory       string `json:"directory" yaml:"directory"`
	FileNamePattern string `json:"file_name_pattern" yaml:"file_name_pattern"` // {document}, {format}, {timestamp}
	Compression     bool   `json:"compression" yaml:"compression"`
	SplitLargeFiles bool   `json:"split_large_files" yaml:"split_large_files"`
	MaxFileSize     int64  `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"` // bytes
}

// PageRange is an inclusive [first, last] page interval.
type PageRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// Selection restricts which zones an export sees. Zero-value fields are
// inactive; active criteria are ANDed.
type Selection struct {
	ZoneIDs             []string      `json:"zone_ids,omitempty"`
	ContentTypes        []ContentType `json:"content_types,omitempty"`
	PageRanges          []PageRange   `json:"page_ranges,omitempty"`
	ConfidenceThreshold float64       `json:"confidence_threshold,omitempty"`
}

// Matches reports whether the zone passes every active criterion.
func (s *Selection) Matches(z *Zone) bool {
	if s == nil {
		return true
	}
	if len(s.ZoneIDs) > 0 {
		found := false
		for _, id := range s.ZoneIDs {
			if id == z.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.ContentTypes) > 0 {
		found := false
		for _, ct := range s.ContentTypes {
			if ct == z.ContentType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.PageRanges) > 0 {
		found := false
		for _, pr := range s.PageRanges {
			if z.Page >= pr.First && z.Page <= pr.Last {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.ConfidenceThreshold > 0 && z.Confidence < s.ConfidenceThreshold {
		return false
	}
	return true
}

// ExportOptions is the fully-resolved configuration for one session.
// Immutable once a session starts.
type ExportOptions struct {
	Formats    FormatOptions     `json:"formats" yaml:"formats"`
	Validation ValidationOptions `json:"validation" yaml:"validation"`
	Output     OutputOptions     `json:"output" yaml:"output"`
	Selection  *Selection        `json:"selection,omitempty" yaml:"selection,omitempty"`
}
