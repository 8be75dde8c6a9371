// Package sanitize constrains model output to a small markup subset.
//
// Only b, i, p and br survive, with no attributes. Markdown emphasis is
// converted first and strong/em are normalized to b/i.
package sanitize

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// AllowedTags is the markup subset model output is reduced to
var AllowedTags = []string{"b", "i", "p", "br"}

var (
	htmlTag = regexp.MustCompile(`(?i)</?[a-z][\s\S]*>`)

	tagNormalizer = strings.NewReplacer(
		"<strong>", "<b>",
		"</strong>", "</b>",
		"<em>", "<i>",
		"</em>", "</i>",
	)

	policy = bluemonday.NewPolicy().AllowElements(AllowedTags...)

	markdown          = goldmark.New()
	markdownHardWraps = goldmark.New(goldmark.WithRendererOptions(gmhtml.WithHardWraps()))
)

// EscapeHTML escapes text for inline inclusion in a markup stream
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}

// ModelOutput converts a complete model reply into constrained markup.
// Applying it to its own output returns the same string.
func ModelOutput(raw string) string {
	return render(raw, markdown)
}

// Simple is the variant used for streamed chat text: single newlines
// become line breaks.
func Simple(raw string) string {
	return render(raw, markdownHardWraps)
}

func render(raw string, md goldmark.Markdown) string {
	src := strings.ReplaceAll(raw, "\r\n", "\n")
	if strings.TrimSpace(src) == "" {
		return ""
	}

	if !htmlTag.MatchString(src) {
		var buf bytes.Buffer
		if err := md.Convert([]byte(src), &buf); err != nil {
			return EscapeHTML(src)
		}
		src = buf.String()
	}

	src = tagNormalizer.Replace(src)
	return strings.TrimSpace(policy.Sanitize(src))
}
