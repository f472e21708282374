// Package providers holds helpers shared by the mail provider clients.
package providers

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// HTMLToText converts an HTML mail body to readable markdown text.
// If conversion fails the input is returned with surrounding space trimmed.
func HTMLToText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(html)
	}
	return blankLines.ReplaceAllString(strings.TrimSpace(md), "\n\n")
}
