package parser

import (
	"crawlytics/internal/types"
	"regexp"
)

// Variant is one access-log grammar: an ordered pattern list, a time
// layout and the fields that only this grammar carries.
type Variant interface {
	Name() string
	// Patterns are tried in order and the first match wins, so more
	// specific patterns come first.
	Patterns() []*regexp.Regexp
	TimeLayout() string
	// PostProcess fills variant-specific fields (request id, response time)
	PostProcess(re *regexp.Regexp, match []string, entry *types.LogEntry)
}

// Classifier names the crawler behind a user agent ("" when unknown)
type Classifier interface {
	Classify(userAgent string) string
}
