package parser

import (
	"time"
)

// Detector picks the grammar of a log file from a sample of its lines
type Detector struct {
	candidates []*HTTPVariant
}

// NewDetector creates a detector over all known variants
func NewDetector() *Detector {
	return &Detector{candidates: variants}
}

// Detect returns the first variant whose primary pattern matches a sample
// line, trying lines in order and variants in priority order. It returns
// "" when nothing matches.
func (d *Detector) Detect(lines []string) string {
	for _, line := range lines {
		for _, v := range d.candidates {
			match := v.primary().FindStringSubmatch(line)
			if match == nil {
				continue
			}
			// A structural match with a broken timestamp does not count
			raw, _ := field(v.primary(), match, "time")
			if _, err := time.Parse(v.TimeLayout(), raw); err != nil {
				continue
			}
			return v.name
		}
	}
	return ""
}
