package api

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"pollchat/internal/constants"
)

var contentPolicy = bluemonday.StrictPolicy()

// cleanContent strips markup from user text and leaves plain characters.
func cleanContent(raw string) string {
	return strings.TrimSpace(html.UnescapeString(contentPolicy.Sanitize(raw)))
}

func contentTooLong(content string) bool {
	return utf8.RuneCountInString(content) > constants.MaxMessageLength
}
