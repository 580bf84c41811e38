package export

import (
	"html"
	"strings"
)

// TextToHTML converts plain document text to HTML. Blank lines separate
// paragraphs; single newlines become <br>. Everything is escaped, so
// document content can never inject markup into the export.
func TextToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	paragraphs := strings.Split(text, "\n\n")

	var b strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lines := strings.Split(p, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(line)
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}
