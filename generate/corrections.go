package generate

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/hazyhaar/docexport/schema"
)

// CorrectionRecord is one classified correction in the audit trail.
type CorrectionRecord struct {
	schema.UserCorrection
	Category        schema.CorrectionCategory `json:"category"`
	Impact          schema.ImpactLevel        `json:"impact"`
	ConfidenceDelta float64                   `json:"confidence_delta"`
}

// CorrectionStatistics aggregates the audit trail.
type CorrectionStatistics struct {
	Total              int                               `json:"total"`
	ByCategory         map[schema.CorrectionCategory]int `json:"by_category"`
	ByImpact           map[schema.ImpactLevel]int        `json:"by_impact"`
	AvgConfidenceDelta float64                           `json:"avg_confidence_delta"`
	MostCommonCategory schema.CorrectionCategory         `json:"most_common_category,omitempty"`
	Earliest           *time.Time                        `json:"earliest,omitempty"`
	Latest             *time.Time                        `json:"latest,omitempty"`
	ByUser             map[string]int                    `json:"by_user,omitempty"`
}

// CorrectionsArtifact is the corrections generator's payload.
type CorrectionsArtifact struct {
	DocumentID string               `json:"document_id"`
	Records    []CorrectionRecord   `json:"records"`
	Statistics CorrectionStatistics `json:"statistics"`

	// Groups is populated when grouping by category is requested; records
	// keep category-major, otherwise-stable order in both views.
	Groups map[schema.CorrectionCategory][]CorrectionRecord `json:"groups,omitempty"`
}

// generateCorrections builds the correction audit trail: filter by date
// range, classify, grade impact, filter by minimum impact, sort, group.
func (s *Suite) generateCorrections(ctx context.Context, doc *schema.Document, opts *schema.CorrectionsOptions, hooks Hooks) *schema.ExportResult {
	result := &schema.ExportResult{Format: schema.FormatCorrections, Metadata: map[string]any{}}
	if opts == nil {
		opts = &schema.CorrectionsOptions{}
	}

	corrections := collectCorrections(doc)
	records := make([]CorrectionRecord, 0, len(corrections))

	for i := range corrections {
		if hooks.cancelled() || ctx.Err() != nil {
			break
		}
		c := corrections[i]
		hooks.onItem(i+1, c.ID)

		if opts.DateFrom != nil && c.Timestamp.Before(*opts.DateFrom) {
			continue
		}
		if opts.DateTo != nil && c.Timestamp.After(*opts.DateTo) {
			continue
		}

		category := c.Category
		if category == "" {
			category = classifyCorrection(c.Original.Content, c.Corrected.Content)
		}
		impact := gradeImpact(category, &c)

		if impact.Rank() < opts.MinImpactLevel.Rank() {
			continue
		}

		rec := CorrectionRecord{
			UserCorrection:  c,
			Category:        category,
			Impact:          impact,
			ConfidenceDelta: c.ConfidenceDelta(),
		}

		if c.Original.Content == c.Corrected.Content {
			result.Warnings = append(result.Warnings, schema.ExportWarning{
				Code: "NO_CONTENT_CHANGE", Message: "original and corrected content are identical", Item: c.ID,
			})
		}
		if rec.ConfidenceDelta < 0 {
			result.Warnings = append(result.Warnings, schema.ExportWarning{
				Code: "NEGATIVE_CONFIDENCE_CHANGE", Message: "correction lowered confidence", Item: c.ID,
			})
		}
		if len(c.Corrected.Content) > 5000 {
			result.Warnings = append(result.Warnings, schema.ExportWarning{
				Code: "LARGE_CORRECTION", Message: "corrected content exceeds 5000 characters", Item: c.ID,
			})
		}

		records = append(records, rec)
	}

	sortRecords(records, opts.SortBy)

	artifact := &CorrectionsArtifact{
		DocumentID: doc.ID,
		Records:    records,
		Statistics: correctionStats(records),
	}
	if opts.GroupByCategory {
		artifact.Groups = groupByCategory(records)
	}

	result.ItemCount = len(records)
	result.Metadata["total_corrections"] = len(corrections)
	result.Metadata["included"] = len(records)
	result.Artifact = artifact
	result.Settle()
	return result
}

// classifyCorrection assigns a category by heuristic, evaluated in priority
// order: spelling, formatting, structure, content.
func classifyCorrection(original, corrected string) schema.CorrectionCategory {
	dist := editDistance(original, corrected)
	maxLen := len([]rune(original))
	if l := len([]rune(corrected)); l > maxLen {
		maxLen = l
	}
	if dist > 0 && maxLen > 0 && float64(dist)/float64(maxLen) < 0.2 {
		return schema.CategorySpelling
	}

	if original != corrected && stripNoise(original) == stripNoise(corrected) {
		return schema.CategoryFormatting
	}

	lo, lc := len([]rune(original)), len([]rune(corrected))
	if lo > 0 {
		ratio := float64(lc) / float64(lo)
		if ratio < 0.5 || ratio > 2.0 {
			return schema.CategoryStructure
		}
	} else if lc > 0 {
		return schema.CategoryStructure
	}
	dl := lineCount(corrected) - lineCount(original)
	if dl < 0 {
		dl = -dl
	}
	if dl > 2 {
		return schema.CategoryStructure
	}

	return schema.CategoryContent
}

// gradeImpact starts from the category baseline and escalates.
func gradeImpact(category schema.CorrectionCategory, c *schema.UserCorrection) schema.ImpactLevel {
	var impact schema.ImpactLevel
	switch category {
	case schema.CategorySpelling, schema.CategoryFormatting:
		impact = schema.ImpactLow
	case schema.CategoryContent:
		impact = schema.ImpactMedium
	case schema.CategoryStructure:
		impact = schema.ImpactHigh
	default:
		impact = schema.ImpactLow
	}

	lo := len([]rune(c.Original.Content))
	lc := len([]rune(c.Corrected.Content))
	diff := lc - lo
	if diff < 0 {
		diff = -diff
	}
	base := lo
	if base == 0 {
		base = 1
	}
	if float64(diff)/float64(base) > 0.5 {
		impact = impact.Escalate()
	}

	if category == schema.CategoryContent && c.Original.Confidence < 0.5 {
		impact = schema.ImpactHigh
	}
	return impact
}

// editDistance is the optimal-string-alignment distance: Levenshtein plus
// adjacent transposition, so "Teh" → "The" costs 1.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev2 := make([]int, lb+1)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			m := cur[j-1] + 1 // insertion
			if d := prev[j] + 1; d < m { // deletion
				m = d
			}
			if d := prev[j-1] + cost; d < m { // substitution
				m = d
			}
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if d := prev2[j-2] + 1; d < m { // transposition
					m = d
				}
			}
			cur[j] = m
		}
		prev2, prev, cur = prev, cur, prev2
	}
	return prev[lb]
}

// stripNoise removes whitespace and punctuation for the formatting check.
func stripNoise(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func sortRecords(records []CorrectionRecord, sortBy string) {
	switch sortBy {
	case "impact":
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Impact.Rank() > records[j].Impact.Rank()
		})
	case "category":
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Category < records[j].Category
		})
	default: // timestamp, newest first
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Timestamp.After(records[j].Timestamp)
		})
	}
}

func groupByCategory(records []CorrectionRecord) map[schema.CorrectionCategory][]CorrectionRecord {
	groups := make(map[schema.CorrectionCategory][]CorrectionRecord)
	for _, r := range records {
		groups[r.Category] = append(groups[r.Category], r)
	}
	return groups
}

func correctionStats(records []CorrectionRecord) CorrectionStatistics {
	stats := CorrectionStatistics{
		Total:      len(records),
		ByCategory: make(map[schema.CorrectionCategory]int),
		ByImpact:   make(map[schema.ImpactLevel]int),
		ByUser:     make(map[string]int),
	}
	if len(records) == 0 {
		return stats
	}

	var deltaSum float64
	for _, r := range records {
		stats.ByCategory[r.Category]++
		stats.ByImpact[r.Impact]++
		if r.UserID != "" {
			stats.ByUser[r.UserID]++
		}
		deltaSum += r.ConfidenceDelta

		ts := r.Timestamp
		if stats.Earliest == nil || ts.Before(*stats.Earliest) {
			t := ts
			stats.Earliest = &t
		}
		if stats.Latest == nil || ts.After(*stats.Latest) {
			t := ts
			stats.Latest = &t
		}
	}
	stats.AvgConfidenceDelta = deltaSum / float64(len(records))

	best := 0
	for cat, n := range stats.ByCategory {
		if n > best || (n == best && (stats.MostCommonCategory == "" || cat < stats.MostCommonCategory)) {
			best = n
			stats.MostCommonCategory = cat
		}
	}
	return stats
}
