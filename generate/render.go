package generate

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/hazyhaar/docexport/schema"
)

// renderLog turns the structural log document into its textual form.
func renderLog(doc *LogDocument, render schema.LogRender) (string, error) {
	switch render {
	case schema.LogMarkdown, "":
		return renderMarkdown(doc), nil
	case schema.LogPlain:
		return renderPlain(doc), nil
	case schema.LogJSON:
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal log document: %w", err)
		}
		return string(b), nil
	case schema.LogHTML:
		return renderHTML(doc), nil
	default:
		return "", fmt.Errorf("unknown log render %q", render)
	}
}

func renderMarkdown(doc *LogDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Header)

	for _, h := range doc.Summary {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	if len(doc.Summary) > 0 {
		b.WriteString("\n")
	}

	for _, sec := range doc.Sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.Title)
		for _, line := range sec.Lines {
			if line.Label != "" {
				fmt.Fprintf(&b, "- **%s**: %s\n", line.Label, line.Value)
			} else {
				fmt.Fprintf(&b, "- %s\n", line.Value)
			}
		}
		b.WriteString("\n")
	}

	if len(doc.Errors) > 0 {
		b.WriteString("## Errors\n\n")
		for _, e := range doc.Errors {
			fmt.Fprintf(&b, "- ❌ %s\n", e)
		}
		b.WriteString("\n")
	}
	if len(doc.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range doc.Warnings {
			fmt.Fprintf(&b, "- ⚠️ %s\n", w)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n%s\n", doc.Footer)
	return b.String()
}

func renderPlain(doc *LogDocument) string {
	var b strings.Builder
	b.WriteString(doc.Header + "\n")
	b.WriteString(strings.Repeat("=", len(doc.Header)) + "\n\n")

	for _, h := range doc.Summary {
		fmt.Fprintf(&b, "* %s\n", stripEmoji(h))
	}
	if len(doc.Summary) > 0 {
		b.WriteString("\n")
	}

	for _, sec := range doc.Sections {
		b.WriteString(sec.Title + "\n")
		b.WriteString(strings.Repeat("-", len(sec.Title)) + "\n")
		for _, line := range sec.Lines {
			if line.Label != "" {
				fmt.Fprintf(&b, "  %s: %s\n", line.Label, line.Value)
			} else {
				fmt.Fprintf(&b, "  %s\n", line.Value)
			}
		}
		b.WriteString("\n")
	}

	if len(doc.Errors) > 0 {
		b.WriteString("Errors\n------\n")
		for _, e := range doc.Errors {
			fmt.Fprintf(&b, "  ERROR %s\n", e)
		}
		b.WriteString("\n")
	}
	if len(doc.Warnings) > 0 {
		b.WriteString("Warnings\n--------\n")
		for _, w := range doc.Warnings {
			fmt.Fprintf(&b, "  WARN  %s\n", w)
		}
		b.WriteString("\n")
	}

	b.WriteString(doc.Footer + "\n")
	return b.String()
}

func renderHTML(doc *LogDocument) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\">")
	fmt.Fprintf(&b, "<title>%s</title></head>\n<body>\n", html.EscapeString(doc.Header))
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(doc.Header))

	if len(doc.Summary) > 0 {
		b.WriteString("<ul>\n")
		for _, h := range doc.Summary {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(h))
		}
		b.WriteString("</ul>\n")
	}

	for _, sec := range doc.Sections {
		fmt.Fprintf(&b, "<h2>%s</h2>\n<ul>\n", html.EscapeString(sec.Title))
		for _, line := range sec.Lines {
			if line.Label != "" {
				fmt.Fprintf(&b, "<li><strong>%s</strong>: %s</li>\n",
					html.EscapeString(line.Label), html.EscapeString(line.Value))
			} else {
				fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(line.Value))
			}
		}
		b.WriteString("</ul>\n")
	}

	if len(doc.Errors) > 0 {
		b.WriteString("<h2>Errors</h2>\n<ul class=\"errors\">\n")
		for _, e := range doc.Errors {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(e))
		}
		b.WriteString("</ul>\n")
	}
	if len(doc.Warnings) > 0 {
		b.WriteString("<h2>Warnings</h2>\n<ul class=\"warnings\">\n")
		for _, w := range doc.Warnings {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(w))
		}
		b.WriteString("</ul>\n")
	}

	fmt.Fprintf(&b, "<hr><footer>%s</footer>\n</body>\n</html>\n", html.EscapeString(doc.Footer))
	return b.String()
}

// stripEmoji drops non-ASCII leading status markers for the plain rendering.
func stripEmoji(s string) string {
	for i, r := range s {
		if r < 128 {
			return strings.TrimSpace(s[i:])
		}
	}
	return s
}
