package parser

import (
	"crawlytics/internal/types"
	"regexp"
	"strconv"
	"time"
)

var reRequestIDParam = regexp.MustCompile(`request_id=([^&\s]+)`)

// Parser turns raw lines of one grammar into log entries
type Parser struct {
	variant    Variant
	classifier Classifier
}

// New creates a parser for a variant. classifier may be nil.
func New(variant Variant, classifier Classifier) *Parser {
	return &Parser{
		variant:    variant,
		classifier: classifier,
	}
}

// ParseLine returns nil when the line matches none of the variant's
// patterns or its timestamp does not parse.
func (p *Parser) ParseLine(line string) *types.LogEntry {
	for _, re := range p.variant.Patterns() {
		match := re.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		return p.build(re, match)
	}
	return nil
}

func (p *Parser) build(re *regexp.Regexp, match []string) *types.LogEntry {
	rawTime, _ := field(re, match, "time")
	ts, err := time.Parse(p.variant.TimeLayout(), rawTime)
	if err != nil {
		return nil
	}

	entry := &types.LogEntry{Time: ts}
	entry.IPAddress, _ = field(re, match, "ip")
	entry.Method, _ = field(re, match, "method")
	entry.Path, _ = field(re, match, "path")
	entry.UserAgent, _ = field(re, match, "user_agent")

	if raw, ok := field(re, match, "status"); ok {
		if status, err := strconv.Atoi(raw); err == nil {
			entry.Status = &status
		}
	}

	if ref, ok := field(re, match, "referer"); ok && ref != "-" {
		entry.Referer = &ref
	}

	p.variant.PostProcess(re, match, entry)

	if entry.RequestID == nil {
		entry.RequestID = requestIDFromPath(entry.Path)
	}

	if p.classifier != nil {
		if name := p.classifier.Classify(entry.UserAgent); name != "" {
			entry.CrawlerName = &name
		}
	}

	return entry
}

// requestIDFromPath recovers a request_id query parameter
func requestIDFromPath(path string) *string {
	m := reRequestIDParam.FindStringSubmatch(path)
	if m == nil {
		return nil
	}
	return normalizeRequestID(m[1])
}
