// Package filter turns user-written markdown into HTML that is safe to
// embed in the web client, and into plain text for comments.
package filter

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

const extensions = blackfriday.CommonExtensions | blackfriday.HardLineBreak

var (
	markdownLinkRegex = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)

	ugcPolicy    = bluemonday.UGCPolicy().AddTargetBlankToFullyQualifiedLinks(true)
	strictPolicy = bluemonday.StrictPolicy()
)

// Render converts markdown to sanitized HTML.
func Render(markdown string) string {
	out := blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(extensions))
	return string(ugcPolicy.SanitizeBytes(out))
}

// Plain reduces markdown to text. Links keep their label, markup is dropped.
func Plain(markdown string) string {
	text := markdownLinkRegex.ReplaceAllString(markdown, "$1")
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(text)))
}
