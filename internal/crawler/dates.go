package crawler

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Longer prefixes come first so "published on" wins over "published".
var datePrefixes = []string{
	"published on",
	"published",
	"posted on",
	"posted",
	"updated on",
	"updated",
	"date",
}

// ParsePublicationDate leniently parses listing date text. Unparsable or
// empty text yields nil rather than an error.
func ParsePublicationDate(raw string, loc *time.Location) *time.Time {
	text := collapseSpace(raw)
	if text == "" {
		return nil
	}
	for _, prefix := range datePrefixes {
		if len(text) > len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			text = strings.TrimSpace(strings.TrimLeft(text[len(prefix):], ": "))
			break
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	parsed, err := dateparse.ParseIn(text, loc)
	if err != nil {
		return nil
	}
	return &parsed
}
