package generate

import (
	"regexp"
	"strings"
	"unicode"
)

var htmlTagPattern = regexp.MustCompile(`<[a-zA-Z][^>]*>`)

// normalizeContent prepares zone content for windowing. HTML-looking content
// is sanitized and converted to markdown so chunk boundaries fall on prose,
// not on markup; everything else gets whitespace normalization.
func (s *Suite) normalizeContent(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	if htmlTagPattern.MatchString(content) {
		clean := s.sanitizer.Sanitize(content)
		md, err := s.mdConv.ConvertString(clean)
		if err != nil || strings.TrimSpace(md) == "" {
			return normalizeWhitespace(content)
		}
		return strings.TrimSpace(md)
	}
	return normalizeWhitespace(content)
}

// normalizeWhitespace collapses runs of spaces and tabs while preserving
// line structure.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	// Drop leading/trailing blank lines but keep interior ones.
	start, end := 0, len(lines)
	for start < end && lines[start] == "" {
		start++
	}
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// printableRatio returns the ratio of printable characters in text.
// Private-use-area runes, the replacement character and non-whitespace
// control characters count as garbage.
func printableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	if r == 0xFFFD {
		return true
	}
	if r < 0x0020 && r != '\n' && r != '\r' && r != '\t' {
		return true
	}
	return false
}

// wordlikeRatio returns the ratio of word-like tokens (length 2-15) to
// total tokens. Garbage extractions score low here.
func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}
