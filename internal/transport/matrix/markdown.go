// ABOUTME: Markdown rendering for Matrix formatted_body
// ABOUTME: Converts model output to HTML with GitHub-flavored markdown extensions

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown returns the HTML rendering of text. It reports false when
// text is empty or renders to nothing more than a single plain paragraph.
func renderMarkdown(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", false
	}

	html := strings.TrimSpace(buf.String())
	if html == "<p>"+text+"</p>" {
		return "", false
	}
	return html, true
}
