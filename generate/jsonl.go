package generate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/docexport/schema"
)

// ExampleType buckets the four extraction strategies.
type ExampleType string

const (
	ExampleExplicitQA  ExampleType = "explicit_qa"
	ExampleSyntheticQA ExampleType = "synthetic_qa"
	ExampleExplanation ExampleType = "explanation"
	ExampleSummary     ExampleType = "summary"
)

var exampleTypes = []ExampleType{ExampleExplicitQA, ExampleSyntheticQA, ExampleExplanation, ExampleSummary}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Example is one fine-tuning record.
type Example struct {
	Messages []Message      `json:"messages"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// JSONLArtifact is the fine-tuning generator's payload.
type JSONLArtifact struct {
	DocumentID string    `json:"document_id"`
	Examples   []Example `json:"examples"`
}

// candidate is a question/answer pair before conversion into messages.
type candidate struct {
	Type     ExampleType
	Question string
	Answer   string
	Context  string
	ZoneID   string
	Page     int
	Quality  float64
}

// generateJSONL extracts fine-tuning examples via four independent
// strategies, filters by quality, optionally balances the type buckets,
// caps the count, and converts to the configured conversation style.
func (s *Suite) generateJSONL(ctx context.Context, doc *schema.Document, zones []schema.Zone, opts *schema.JSONLOptions, hooks Hooks) *schema.ExportResult {
	result := &schema.ExportResult{Format: schema.FormatJSONL, Metadata: map[string]any{}}
	if opts == nil {
		result.Errors = append(result.Errors, schema.ExportError{
			Code: "MISSING_OPTIONS", Message: "jsonl options not resolved",
		})
		result.Settle()
		return result
	}

	var candidates []candidate
	for i := range zones {
		if hooks.cancelled() || ctx.Err() != nil {
			break
		}
		zone := &zones[i]
		hooks.onItem(i+1, zone.ID)

		switch zone.ContentType {
		case schema.ContentTable, schema.ContentDiagram:
			candidates = append(candidates, explanationCandidates(zone)...)
		default:
			candidates = append(candidates, explicitQACandidates(zone)...)
			candidates = append(candidates, syntheticQACandidates(zone)...)
		}
	}
	candidates = append(candidates, pageSummaryCandidates(doc, zones)...)

	// Quality gate.
	if !opts.IncludeLowQuality {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.Quality >= opts.QualityThreshold {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 && len(candidates) > 0 {
			result.Warnings = append(result.Warnings, schema.ExportWarning{
				Code:    "NO_QUALITY_EXAMPLES",
				Message: fmt.Sprintf("no candidate met the quality threshold %.2f", opts.QualityThreshold),
			})
		}
		candidates = kept
	}

	if opts.BalanceExampleTypes {
		candidates = balanceTypes(candidates, opts.MaxExamplesPerDocument)
	} else {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Quality > candidates[j].Quality })
	}
	if opts.MaxExamplesPerDocument > 0 && len(candidates) > opts.MaxExamplesPerDocument {
		candidates = candidates[:opts.MaxExamplesPerDocument]
	}

	artifact := &JSONLArtifact{DocumentID: doc.ID, Examples: make([]Example, 0, len(candidates))}
	typeCounts := map[ExampleType]int{}
	for _, c := range candidates {
		ex := toExample(c, doc, opts.ConversationStyle)
		validateExample(&ex, c, result)
		artifact.Examples = append(artifact.Examples, ex)
		typeCounts[c.Type]++
	}

	result.ItemCount = len(artifact.Examples)
	result.Metadata["example_count"] = len(artifact.Examples)
	result.Metadata["type_counts"] = typeCounts
	result.Metadata["avg_quality"] = avgQuality(candidates)
	result.Artifact = artifact
	result.Settle()
	return result
}

var qaBlockPattern = regexp.MustCompile(`(?mi)^\s*Q[:.]\s*(.+)\s*$`)
var aBlockPattern = regexp.MustCompile(`(?mi)^\s*A[:.]\s*(.+)\s*$`)

// explicitQACandidates finds literal question/answer structure: a line
// ending in "?" followed by a substantial next line, or Q:/A: blocks.
func explicitQACandidates(zone *schema.Zone) []candidate {
	var out []candidate
	lines := strings.Split(zone.Content, "\n")
	for i := 0; i < len(lines)-1; i++ {
		q := strings.TrimSpace(lines[i])
		a := strings.TrimSpace(lines[i+1])
		if strings.HasSuffix(q, "?") && len(a) >= 20 {
			out = append(out, candidate{
				Type: ExampleExplicitQA, Question: q, Answer: a,
				ZoneID: zone.ID, Page: zone.Page,
				Quality: zone.Confidence,
			})
		}
	}

	qs := qaBlockPattern.FindAllStringSubmatch(zone.Content, -1)
	as := aBlockPattern.FindAllStringSubmatch(zone.Content, -1)
	for i := 0; i < len(qs) && i < len(as); i++ {
		out = append(out, candidate{
			Type: ExampleExplicitQA, Question: strings.TrimSpace(qs[i][1]), Answer: strings.TrimSpace(as[i][1]),
			ZoneID: zone.ID, Page: zone.Page,
			Quality: zone.Confidence,
		})
	}
	return out
}

var sentenceSplit = regexp.MustCompile(`[.!?]+\s+`)
var subjectPattern = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+){0,3})\b`)

var questionTemplates = []string{
	"What is %s?",
	"Explain %s.",
	"What does the document say about %s?",
}

// syntheticQACandidates generates questions from declarative sentences:
// sentences of at least five words with a capitalized-phrase subject get
// wrapped in a question template, with a quality discount for being
// heuristic rather than literal.
func syntheticQACandidates(zone *schema.Zone) []candidate {
	var out []candidate
	sentences := sentenceSplit.Split(zone.Content, -1)
	for i, sent := range sentences {
		sent = strings.TrimSpace(sent)
		if len(strings.Fields(sent)) < 5 {
			continue
		}
		m := subjectPattern.FindStringSubmatch(sent)
		if m == nil {
			continue
		}
		subject := m[1]
		template := questionTemplates[i%len(questionTemplates)]
		out = append(out, candidate{
			Type:     ExampleSyntheticQA,
			Question: fmt.Sprintf(template, subject),
			Answer:   sent,
			ZoneID:   zone.ID, Page: zone.Page,
			Quality: zone.Confidence * 0.8,
		})
	}
	return out
}

// explanationCandidates turns table and diagram zones into explanation
// prompts.
func explanationCandidates(zone *schema.Zone) []candidate {
	content := strings.TrimSpace(zone.Content)
	if content == "" {
		return nil
	}
	kind := "table"
	if zone.ContentType == schema.ContentDiagram {
		kind = "diagram"
	}
	return []candidate{{
		Type:     ExampleExplanation,
		Question: fmt.Sprintf("Explain the following %s from page %d.", kind, zone.Page),
		Answer:   content,
		Context:  content,
		ZoneID:   zone.ID, Page: zone.Page,
		Quality: zone.Confidence * 0.9,
	}}
}

// pageSummaryCandidates builds one summarization prompt per page from the
// concatenated text zones of that page.
func pageSummaryCandidates(doc *schema.Document, zones []schema.Zone) []candidate {
	byPage := map[int][]string{}
	confSum := map[int]float64{}
	confN := map[int]int{}
	for i := range zones {
		z := &zones[i]
		if z.ContentType != schema.ContentText {
			continue
		}
		text := strings.TrimSpace(z.Content)
		if text == "" {
			continue
		}
		byPage[z.Page] = append(byPage[z.Page], text)
		confSum[z.Page] += z.Confidence
		confN[z.Page]++
	}

	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var out []candidate
	for _, p := range pages {
		body := strings.Join(byPage[p], "\n\n")
		avg := confSum[p] / float64(confN[p])
		out = append(out, candidate{
			Type:     ExampleSummary,
			Question: fmt.Sprintf("Summarize page %d of %q.", p, doc.Name),
			Answer:   body,
			Page:     p,
			Quality:  avg * 0.85,
		})
	}
	return out
}

// balanceTypes takes an even share per example type, then fills remaining
// slots with the highest-quality leftovers.
func balanceTypes(candidates []candidate, limit int) []candidate {
	if limit <= 0 || len(candidates) <= limit {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Quality > candidates[j].Quality })
		return candidates
	}

	buckets := map[ExampleType][]candidate{}
	for _, c := range candidates {
		buckets[c.Type] = append(buckets[c.Type], c)
	}
	for t := range buckets {
		b := buckets[t]
		sort.SliceStable(b, func(i, j int) bool { return b[i].Quality > b[j].Quality })
		buckets[t] = b
	}

	share := limit / len(exampleTypes)
	var picked, leftovers []candidate
	for _, t := range exampleTypes {
		b := buckets[t]
		n := share
		if n > len(b) {
			n = len(b)
		}
		picked = append(picked, b[:n]...)
		leftovers = append(leftovers, b[n:]...)
	}

	sort.SliceStable(leftovers, func(i, j int) bool { return leftovers[i].Quality > leftovers[j].Quality })
	for _, c := range leftovers {
		if len(picked) >= limit {
			break
		}
		picked = append(picked, c)
	}
	return picked
}

// toExample converts a candidate pair into a message sequence.
func toExample(c candidate, doc *schema.Document, style schema.ConversationStyle) Example {
	var messages []Message
	switch style {
	case schema.StyleInstruction:
		messages = []Message{
			{Role: "system", Content: "Follow the instruction using only the provided document content."},
			{Role: "user", Content: c.Question},
			{Role: "assistant", Content: c.Answer},
		}
	case schema.StyleChat:
		context := c.Context
		if context == "" {
			context = fmt.Sprintf("We are discussing the document %q.", doc.Name)
		} else {
			context = fmt.Sprintf("Here is an excerpt from %q (page %d):\n\n%s", doc.Name, c.Page, truncate(context, 2000))
		}
		messages = []Message{
			{Role: "system", Content: "You are a helpful assistant answering questions about a document."},
			{Role: "user", Content: context},
			{Role: "assistant", Content: "Understood. What would you like to know?"},
			{Role: "user", Content: c.Question},
			{Role: "assistant", Content: c.Answer},
		}
	default: // qa
		messages = []Message{
			{Role: "user", Content: c.Question},
			{Role: "assistant", Content: c.Answer},
		}
	}

	tokens := 0
	for _, m := range messages {
		tokens += estimateTokens(m.Content)
	}

	return Example{
		Messages: messages,
		Metadata: map[string]any{
			"type":             string(c.Type),
			"quality_score":    c.Quality,
			"zone_id":          c.ZoneID,
			"page":             c.Page,
			"estimated_tokens": tokens,
		},
	}
}

// validateExample emits structural warnings for one converted example.
func validateExample(ex *Example, c candidate, result *schema.ExportResult) {
	if len(ex.Messages) < 2 {
		result.Warnings = append(result.Warnings, schema.ExportWarning{
			Code: "EXAMPLE_TOO_SHORT", Message: "example has fewer than 2 messages", Item: c.ZoneID,
		})
	}
	if tokens, ok := ex.Metadata["estimated_tokens"].(int); ok && tokens > 4096 {
		result.Warnings = append(result.Warnings, schema.ExportWarning{
			Code: "EXAMPLE_TOO_LONG", Message: fmt.Sprintf("estimated %d tokens exceeds 4096", tokens), Item: c.ZoneID,
		})
	}
	users, assistants := 0, 0
	for _, m := range ex.Messages {
		switch m.Role {
		case "user":
			users++
		case "assistant":
			assistants++
		}
	}
	if d := users - assistants; d > 1 || d < -1 {
		result.Warnings = append(result.Warnings, schema.ExportWarning{
			Code: "UNBALANCED_ROLES", Message: "user/assistant turn counts differ by more than 1", Item: c.ZoneID,
		})
	}
}

func avgQuality(candidates []candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candidates {
		sum += c.Quality
	}
	return sum / float64(len(candidates))
}
