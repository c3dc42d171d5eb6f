package crawler

import (
	"regexp"
	"sort"
	"strings"
)

// Registry classifies user agents against a fixed Taxonomy.
// It is immutable after New and safe for concurrent use.
type Registry struct {
	taxonomy Taxonomy

	// lowercased pattern -> canonical spelling
	exact map[string]string

	// substring candidates, longest first
	bySize []pattern
}

type pattern struct {
	lower     string
	canonical string
}

var (
	// FooBot/1.0, FooCrawler, FooSpider at the start of the agent
	reLeadingBot = regexp.MustCompile(`^([A-Za-z0-9_-]+)(Bot|Crawler|Spider)/?`)
	// Mozilla/5.0 (compatible; Foo/1.0)
	reCompatible = regexp.MustCompile(`compatible;\s*([A-Za-z0-9_-]+)[/\s]`)
	// FooBot/1.2.3 anywhere
	reVersionedBot = regexp.MustCompile(`([A-Za-z0-9_-]+)(Bot|bot)/[\d.~]+`)

	reTermWord = map[string]*regexp.Regexp{
		"bot":     regexp.MustCompile(`(?i)([A-Za-z0-9_-]+)bot`),
		"crawler": regexp.MustCompile(`(?i)([A-Za-z0-9_-]+)crawler`),
		"spider":  regexp.MustCompile(`(?i)([A-Za-z0-9_-]+)spider`),
	}
)

// lookBehind bounds how far the heuristic scan looks before a bare term
const lookBehind = 30

// New builds the lookup tables for a taxonomy
func New(t Taxonomy) *Registry {
	r := &Registry{
		taxonomy: t.clone(),
		exact:    make(map[string]string),
	}

	for _, p := range r.taxonomy.Providers {
		for _, pat := range p.Patterns {
			if pat == "" {
				continue
			}
			lower := strings.ToLower(pat)
			if _, seen := r.exact[lower]; seen {
				continue
			}
			r.exact[lower] = pat
			r.bySize = append(r.bySize, pattern{lower: lower, canonical: pat})
		}
	}

	sort.SliceStable(r.bySize, func(i, j int) bool {
		return len(r.bySize[i].lower) > len(r.bySize[j].lower)
	})

	return r
}

// NewDefault returns a registry over DefaultTaxonomy
func NewDefault() *Registry {
	return New(DefaultTaxonomy())
}

// Taxonomy returns a copy of the taxonomy the registry was built from
func (r *Registry) Taxonomy() Taxonomy {
	return r.taxonomy.clone()
}

// Classify returns the crawler name for a user agent, or "" when none
// can be extracted.
func (r *Registry) Classify(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	lower := strings.ToLower(userAgent)

	if name := r.matchPattern(lower); name != "" {
		return name
	}

	if name := extractName(userAgent); name != "" {
		return name
	}

	if name := scanTerms(userAgent, lower); name != "" {
		return name
	}

	for _, d := range r.taxonomy.Domains {
		if d.Domain != "" && strings.Contains(lower, strings.ToLower(d.Domain)) {
			return d.Name
		}
	}

	return ""
}

// IsCrawler decides whether a request counts as crawler traffic.
// A known pattern always counts; otherwise a generic bot/AI token with no
// browser token is enough, even though Classify may not name it.
func (r *Registry) IsCrawler(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	lower := strings.ToLower(userAgent)

	if r.matchPattern(lower) != "" {
		return true
	}

	if containsAny(lower, browserTokens) {
		return false
	}
	return containsAny(lower, genericTokens)
}

// matchPattern runs the exact then substring steps on a lowercased agent
func (r *Registry) matchPattern(lower string) string {
	if name, ok := r.exact[lower]; ok {
		return name
	}
	for _, p := range r.bySize {
		if strings.Contains(lower, p.lower) {
			return p.canonical
		}
	}
	return ""
}

func extractName(userAgent string) string {
	if m := reLeadingBot.FindStringSubmatch(userAgent); m != nil && !isBrowser(m[1]) {
		return m[1] + m[2]
	}
	if m := reCompatible.FindStringSubmatch(userAgent); m != nil && !isBrowser(m[1]) {
		return m[1]
	}
	if m := reVersionedBot.FindStringSubmatch(userAgent); m != nil && !isBrowser(m[1]) {
		return m[1] + m[2]
	}
	return ""
}

// scanTerms looks for a bare bot/crawler/spider term and the identifier
// glued in front of it. The term is returned lowercased.
func scanTerms(userAgent, lower string) string {
	for _, term := range []string{"bot", "crawler", "spider"} {
		idx := strings.Index(lower, term)
		if idx <= 0 {
			continue
		}
		start := idx - lookBehind
		if start < 0 {
			start = 0
		}
		segment := userAgent[start : idx+len(term)]
		m := reTermWord[term].FindStringSubmatch(segment)
		if m != nil && !isBrowser(m[1]) {
			return m[1] + term
		}
	}
	return ""
}

func isBrowser(token string) bool {
	token = strings.ToLower(token)
	for _, b := range browserTokens {
		if token == b {
			return true
		}
	}
	return false
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
