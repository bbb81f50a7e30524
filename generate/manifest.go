package generate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/docexport/schema"
)

// ZoneDetails is one zone's record in the processing manifest.
type ZoneDetails struct {
	ZoneID      string              `json:"zone_id"`
	Page        int                 `json:"page"`
	ContentType schema.ContentType  `json:"content_type"`
	Status      schema.ZoneStatus   `json:"status"`
	Tool        string              `json:"tool,omitempty"`
	Confidence  float64             `json:"confidence"`
	Content     string              `json:"content,omitempty"`
	Coordinates *schema.BoundingBox `json:"coordinates,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// ToolUsageReport aggregates one tool's processing history across zones.
type ToolUsageReport struct {
	Tool          string   `json:"tool"`
	Invocations   int      `json:"invocations"`
	Successes     int      `json:"successes"`
	Failures      int      `json:"failures"`
	AvgDurationMs float64  `json:"avg_duration_ms"`
	AvgConfidence float64  `json:"avg_confidence"` // over successful events
	ContentTypes  []string `json:"content_types"`
}

// ProcessingStatistics summarizes the document's processing outcome.
type ProcessingStatistics struct {
	AvgConfidence           float64                    `json:"avg_confidence"`
	ConfidenceHistogram     []int                      `json:"confidence_histogram"` // 5 fixed-width buckets
	ToolProcessingTimeMs    map[string]int64           `json:"tool_processing_time_ms"`
	SuccessRate             float64                    `json:"success_rate"`
	CorrectionRate          float64                    `json:"correction_rate"`
	ContentTypeDistribution map[schema.ContentType]int `json:"content_type_distribution"`
}

// ManifestArtifact is the manifest generator's payload.
type ManifestArtifact struct {
	DocumentID   string               `json:"document_id"`
	DocumentName string               `json:"document_name"`
	PageCount    int                  `json:"page_count"`
	DetailLevel  schema.DetailLevel   `json:"detail_level"`
	Zones        []ZoneDetails        `json:"zones"`
	ToolUsage    []ToolUsageReport    `json:"tool_usage"`
	Statistics   ProcessingStatistics `json:"statistics"`
}

const (
	summaryContentLimit  = 100
	detailedContentLimit = 5000
)

// generateManifest builds one ZoneDetails per zone at the configured detail
// level, the per-tool usage report, and the processing statistics.
func (s *Suite) generateManifest(ctx context.Context, doc *schema.Document, zones []schema.Zone, opts *schema.ManifestOptions, hooks Hooks) *schema.ExportResult {
	result := &schema.ExportResult{Format: schema.FormatManifest, Metadata: map[string]any{}}
	level := schema.DetailDetailed
	if opts != nil && opts.DetailLevel != "" {
		level = opts.DetailLevel
	}

	artifact := &ManifestArtifact{
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		PageCount:    doc.PageCount,
		DetailLevel:  level,
		Zones:        make([]ZoneDetails, 0, len(zones)),
	}

	errorZones := 0
	for i := range zones {
		if hooks.cancelled() || ctx.Err() != nil {
			break
		}
		zone := &zones[i]
		hooks.onItem(i+1, zone.ID)

		artifact.Zones = append(artifact.Zones, zoneDetails(zone, level))

		if zone.Status == schema.ZoneError {
			errorZones++
		}
		if strings.TrimSpace(zone.Content) == "" {
			result.Warnings = append(result.Warnings, schema.ExportWarning{
				Code: "EMPTY_ZONE_CONTENT", Message: "zone content is empty or blank", Item: zone.ID,
			})
		}
	}

	artifact.ToolUsage = toolUsage(zones)
	artifact.Statistics = processingStats(zones)

	if len(zones) > 0 && float64(errorZones)/float64(len(zones)) > 0.10 {
		result.Warnings = append(result.Warnings, schema.ExportWarning{
			Code:    "HIGH_ERROR_RATE",
			Message: fmt.Sprintf("%d of %d zones are in error state", errorZones, len(zones)),
		})
	}
	if d := doc.ProcessingDuration(); d.Seconds() > 300 {
		result.Warnings = append(result.Warnings, schema.ExportWarning{
			Code:    "LONG_PROCESSING_TIME",
			Message: fmt.Sprintf("document processing took %.0fs", d.Seconds()),
		})
	}

	result.ItemCount = len(artifact.Zones)
	result.Metadata["zone_count"] = len(artifact.Zones)
	result.Metadata["tool_count"] = len(artifact.ToolUsage)
	result.Artifact = artifact
	result.Settle()
	return result
}

func zoneDetails(zone *schema.Zone, level schema.DetailLevel) ZoneDetails {
	d := ZoneDetails{
		ZoneID:      zone.ID,
		Page:        zone.Page,
		ContentType: zone.ContentType,
		Status:      zone.Status,
		Tool:        zone.Tool,
		Confidence:  zone.Confidence,
	}

	switch level {
	case schema.DetailSummary:
		d.Content = truncate(zone.Content, summaryContentLimit)
		d.Metadata = map[string]any{
			"processing_attempts": len(zone.ProcessingHistory),
		}
	case schema.DetailVerbose:
		d.Content = zone.Content
		coords := zone.Coordinates
		d.Coordinates = &coords
		d.Metadata = computedZoneMetadata(zone)
		for k, v := range zone.Metadata {
			d.Metadata[k] = v
		}
	default: // detailed
		d.Content = truncate(zone.Content, detailedContentLimit)
		coords := zone.Coordinates
		d.Coordinates = &coords
		d.Metadata = computedZoneMetadata(zone)
	}
	return d
}

// computedZoneMetadata derives the full metadata block for detailed and
// verbose levels.
func computedZoneMetadata(zone *schema.Zone) map[string]any {
	md := map[string]any{
		"processing_attempts": len(zone.ProcessingHistory),
		"processing_success":  zone.Status == schema.ZoneCompleted,
		"correction_count":    len(zone.Corrections),
	}

	if n := len(zone.ProcessingHistory); n > 0 {
		sum := 0.0
		for _, ev := range zone.ProcessingHistory {
			sum += ev.Confidence
		}
		md["avg_history_confidence"] = sum / float64(n)
	}

	if zone.ContentType == schema.ContentTable {
		rows, cols := estimateTableShape(zone.Content)
		md["estimated_rows"] = rows
		md["estimated_columns"] = cols
	}
	return md
}

// estimateTableShape guesses row and column counts from delimiter density.
func estimateTableShape(content string) (rows, cols int) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows++
		sep := strings.Count(line, "|")
		if t := strings.Count(line, "\t"); t > sep {
			sep = t
		}
		if sep+1 > cols {
			cols = sep + 1
		}
	}
	return rows, cols
}

func toolUsage(zones []schema.Zone) []ToolUsageReport {
	type acc struct {
		invocations, successes, failures int
		durationSum                      int64
		confSum                          float64
		types                            map[string]bool
	}
	byTool := map[string]*acc{}

	for i := range zones {
		zone := &zones[i]
		for _, ev := range zone.ProcessingHistory {
			a := byTool[ev.Tool]
			if a == nil {
				a = &acc{types: map[string]bool{}}
				byTool[ev.Tool] = a
			}
			a.invocations++
			a.durationSum += ev.DurationMs
			a.types[string(zone.ContentType)] = true
			if ev.Success {
				a.successes++
				a.confSum += ev.Confidence
			} else {
				a.failures++
			}
		}
	}

	out := make([]ToolUsageReport, 0, len(byTool))
	for tool, a := range byTool {
		r := ToolUsageReport{
			Tool:        tool,
			Invocations: a.invocations,
			Successes:   a.successes,
			Failures:    a.failures,
		}
		if a.invocations > 0 {
			r.AvgDurationMs = float64(a.durationSum) / float64(a.invocations)
		}
		if a.successes > 0 {
			r.AvgConfidence = a.confSum / float64(a.successes)
		}
		for t := range a.types {
			r.ContentTypes = append(r.ContentTypes, t)
		}
		sort.Strings(r.ContentTypes)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Invocations != out[j].Invocations {
			return out[i].Invocations > out[j].Invocations
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

func processingStats(zones []schema.Zone) ProcessingStatistics {
	stats := ProcessingStatistics{
		ConfidenceHistogram:  make([]int, 5),
		ToolProcessingTimeMs: map[string]int64{},
		ContentTypeDistribution: map[schema.ContentType]int{
			schema.ContentText:    0,
			schema.ContentTable:   0,
			schema.ContentDiagram: 0,
			schema.ContentImage:   0,
			schema.ContentMixed:   0,
			schema.ContentHeader:  0,
			schema.ContentFooter:  0,
		},
	}
	if len(zones) == 0 {
		return stats
	}

	confSum := 0.0
	completed, corrected := 0, 0
	for i := range zones {
		zone := &zones[i]
		confSum += zone.Confidence

		// Fixed-width buckets [0,0.2) ... [0.8,1.0]; every zone lands in
		// exactly one bucket.
		bucket := int(zone.Confidence / 0.2)
		if bucket > 4 {
			bucket = 4
		}
		if bucket < 0 {
			bucket = 0
		}
		stats.ConfidenceHistogram[bucket]++

		stats.ContentTypeDistribution[zone.ContentType]++
		if zone.Status == schema.ZoneCompleted {
			completed++
		}
		if len(zone.Corrections) > 0 {
			corrected++
		}
		for _, ev := range zone.ProcessingHistory {
			stats.ToolProcessingTimeMs[ev.Tool] += ev.DurationMs
		}
	}

	n := float64(len(zones))
	stats.AvgConfidence = confSum / n
	stats.SuccessRate = float64(completed) / n
	stats.CorrectionRate = float64(corrected) / n
	return stats
}
