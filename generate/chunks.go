package generate

import (
	"context"
	"math"

	"github.com/hazyhaar/docexport/schema"
)

// Chunk is one retrieval window over a zone's normalized content.
type Chunk struct {
	Index     int            `json:"index"`
	ZoneID    string         `json:"zone_id"`
	Content   string         `json:"content"`
	CharCount int            `json:"char_count"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ChunkArtifact is the rag generator's payload.
type ChunkArtifact struct {
	DocumentID string  `json:"document_id"`
	ChunkSize  int     `json:"chunk_size"`
	Overlap    int     `json:"overlap"` // characters carried between windows
	Chunks     []Chunk `json:"chunks"`
}

// generateRAG windows each zone's normalized content into fixed-size,
// optionally overlapping chunks. Chunks never span zones: per-chunk zone
// metadata stays exact, at the cost of a short final window per zone.
func (s *Suite) generateRAG(ctx context.Context, doc *schema.Document, zones []schema.Zone, opts *schema.RAGOptions, hooks Hooks) *schema.ExportResult {
	result := &schema.ExportResult{Format: schema.FormatRAG, Metadata: map[string]any{}}
	if opts == nil {
		result.Errors = append(result.Errors, schema.ExportError{
			Code: "MISSING_OPTIONS", Message: "rag options not resolved",
		})
		result.Settle()
		return result
	}

	overlap := int(math.Floor(float64(opts.ChunkSize) * opts.OverlapPercentage))
	step := opts.ChunkSize - overlap
	if step < 1 {
		step = 1
	}

	artifact := &ChunkArtifact{
		DocumentID: doc.ID,
		ChunkSize:  opts.ChunkSize,
		Overlap:    overlap,
		Chunks:     []Chunk{},
	}

	for i := range zones {
		if hooks.cancelled() || ctx.Err() != nil {
			break
		}
		zone := &zones[i]
		hooks.onItem(i+1, zone.ID)

		text := s.normalizeContent(zone.Content)
		if text == "" {
			result.Warnings = append(result.Warnings, schema.ExportWarning{
				Code: "EMPTY_ZONE_SKIPPED", Message: "zone has no usable content", Item: zone.ID,
			})
			continue
		}

		runes := []rune(text)
		for start := 0; start < len(runes); start += step {
			end := start + opts.ChunkSize
			if end > len(runes) {
				end = len(runes)
			}
			content := string(runes[start:end])
			artifact.Chunks = append(artifact.Chunks, Chunk{
				Index:     len(artifact.Chunks),
				ZoneID:    zone.ID,
				Content:   content,
				CharCount: end - start,
				Metadata:  chunkMetadata(zone, opts.MetadataFields, content),
			})
			if end == len(runes) {
				break
			}
		}
	}

	if opts.IncludeEmbeddings {
		// Embeddings are computed by a downstream vectorizer; the flag only
		// marks the artifact so the writer schedules it.
		result.Metadata["embeddings_requested"] = true
		result.Warnings = append(result.Warnings, schema.ExportWarning{
			Code:    "EMBEDDINGS_DEFERRED",
			Message: "embeddings are computed by the downstream vectorizer, chunks are marked for embedding",
		})
	}

	result.ItemCount = len(artifact.Chunks)
	result.Metadata["chunk_count"] = len(artifact.Chunks)
	result.Metadata["chunk_size"] = opts.ChunkSize
	result.Metadata["overlap"] = overlap
	result.Metadata["zone_count"] = len(zones)
	result.Artifact = artifact
	result.Settle()
	return result
}

// chunkMetadata attaches the configured metadata fields to one chunk.
func chunkMetadata(zone *schema.Zone, fields []string, content string) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	md := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f {
		case "zone_id":
			md["zone_id"] = zone.ID
		case "page":
			md["page"] = zone.Page
		case "content_type":
			md["content_type"] = string(zone.ContentType)
		case "confidence":
			md["confidence"] = zone.Confidence
		case "tool":
			md["tool"] = zone.Tool
		case "printable_ratio":
			md["printable_ratio"] = printableRatio(content)
		case "wordlike_ratio":
			md["wordlike_ratio"] = wordlikeRatio(content)
		default:
			// Unknown fields resolve against the zone's own metadata map.
			if v, ok := zone.Metadata[f]; ok {
				md[f] = v
			}
		}
	}
	return md
}
