package parser

import (
	"crawlytics/internal/types"
	"math"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// TimeLayout is the [day/Mon/year:hh:mm:ss zone] stamp shared by Apache and Nginx
const TimeLayout = "02/Jan/2006:15:04:05 -0700"

// Combined Log Format:
// 1.2.3.4 - user [01/Jan/2026:12:00:00 +0000] "GET /path HTTP/1.1" 200 123 "-" "UserAgent"
const combined = `^(?P<ip>\S+) \S+ \S+ \[(?P<time>[^\]]+)\] "(?P<method>\S+) (?P<path>[^"]*) HTTP/[\d.]*" (?P<status>\d+) (?P<size>\S+) "(?P<referer>[^"]*)" "(?P<user_agent>[^"]*)"`

// Format names
const (
	NginxIDTime = "nginx_id_time"
	NginxTime   = "nginx_time"
	ApacheTime  = "apache_time"
	NginxID     = "nginx_id"
	Nginx       = "nginx"
	Apache      = "apache"
)

type responseUnit int

const (
	unitNone responseUnit = iota
	unitSeconds
	unitMicros
)

// HTTPVariant is a Combined Log Format grammar with an optional trailer
type HTTPVariant struct {
	name     string
	patterns []*regexp.Regexp
	unit     responseUnit
}

// newHTTPVariant compiles combined+trailer as the primary pattern. Unless
// the variant is a bare prefix match, plain combined is appended as the
// most general fallback.
func newHTTPVariant(name, trailer string, unit responseUnit, fallback bool) *HTTPVariant {
	v := &HTTPVariant{
		name:     name,
		patterns: []*regexp.Regexp{regexp.MustCompile(combined + trailer)},
		unit:     unit,
	}
	if fallback {
		v.patterns = append(v.patterns, regexp.MustCompile(combined))
	}
	return v
}

// variants in detection priority order
var variants = []*HTTPVariant{
	newHTTPVariant(NginxIDTime, ` (?P<request_id>\S+) (?P<response_time>\d+\.\d+)\s*$`, unitSeconds, true),
	newHTTPVariant(NginxTime, ` (?P<response_time>\d+\.\d+)\s*$`, unitSeconds, true),
	newHTTPVariant(ApacheTime, ` (?P<response_time>\d+)\s*$`, unitMicros, true),
	newHTTPVariant(NginxID, ` (?P<request_id>\S+)\s*$`, unitNone, true),
	newHTTPVariant(Nginx, `\s*$`, unitNone, true),
	newHTTPVariant(Apache, ``, unitNone, false),
}

// Variants returns every known grammar in detection priority order
func Variants() []Variant {
	out := make([]Variant, len(variants))
	for i, v := range variants {
		out[i] = v
	}
	return out
}

// VariantByName looks up a grammar by its format name
func VariantByName(name string) (Variant, bool) {
	for _, v := range variants {
		if v.name == name {
			return v, true
		}
	}
	return nil, false
}

func (v *HTTPVariant) Name() string               { return v.name }
func (v *HTTPVariant) Patterns() []*regexp.Regexp { return v.patterns }
func (v *HTTPVariant) TimeLayout() string         { return TimeLayout }

// primary is the pattern that identifies this grammar during detection
func (v *HTTPVariant) primary() *regexp.Regexp { return v.patterns[0] }

// PostProcess reads the trailer fields captured by the primary pattern
func (v *HTTPVariant) PostProcess(re *regexp.Regexp, match []string, entry *types.LogEntry) {
	if raw, ok := field(re, match, "request_id"); ok {
		entry.RequestID = normalizeRequestID(raw)
	}

	raw, ok := field(re, match, "response_time")
	if !ok {
		return
	}
	switch v.unit {
	case unitSeconds:
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return
		}
		ms := int64(math.Round(secs * 1000))
		entry.ResponseTimeMS = &ms
	case unitMicros:
		us, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return
		}
		ms := us / 1000
		entry.ResponseTimeMS = &ms
	}
}

// field returns a named capture group, ok=false if the pattern has no such group
func field(re *regexp.Regexp, match []string, name string) (string, bool) {
	i := re.SubexpIndex(name)
	if i < 0 || i >= len(match) {
		return "", false
	}
	return match[i], true
}

// normalizeRequestID returns the canonical UUID text, nil if raw is not a UUID
func normalizeRequestID(raw string) *string {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	s := id.String()
	return &s
}
