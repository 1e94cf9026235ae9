// Package textutil normalises user-entered text before it is persisted or
// forwarded to the external mall.
package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText strips markup, unescapes entities, normalises to NFC, and trims
// whitespace. Product names and option labels arrive from web forms and may
// carry decomposed Hangul or pasted markup.
func CleanText(value string) string {
	cleaned := strictPolicy.Sanitize(value)
	cleaned = html.UnescapeString(cleaned)
	cleaned = norm.NFC.String(cleaned)
	return strings.TrimSpace(cleaned)
}

// NormalizeStringMap cleans keys and values, removing entries whose key
// becomes empty.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		cleanedKey := CleanText(key)
		if cleanedKey == "" {
			continue
		}
		result[cleanedKey] = CleanText(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
