package crawler

// Provider groups the user-agent substrings of one organisation
type Provider struct {
	Name     string   `yaml:"name" json:"name"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// DomainMapping maps a URL fragment found in a user agent to a crawler name
type DomainMapping struct {
	Domain string `yaml:"domain" json:"domain"`
	Name   string `yaml:"name" json:"name"`
}

// Taxonomy is the full, ordered pattern set a Registry is built from.
// Order matters: the first declaration of a pattern (case-insensitively)
// is its canonical spelling.
type Taxonomy struct {
	Providers []Provider      `yaml:"providers" json:"providers"`
	Domains   []DomainMapping `yaml:"domains" json:"domains"`
}

// Patterns returns the flattened pattern list in declaration order
func (t Taxonomy) Patterns() []string {
	var out []string
	for _, p := range t.Providers {
		out = append(out, p.Patterns...)
	}
	return out
}

// clone deep-copies the taxonomy so callers cannot mutate a live registry
func (t Taxonomy) clone() Taxonomy {
	c := Taxonomy{
		Providers: make([]Provider, len(t.Providers)),
		Domains:   append([]DomainMapping(nil), t.Domains...),
	}
	for i, p := range t.Providers {
		c.Providers[i] = Provider{Name: p.Name, Patterns: append([]string(nil), p.Patterns...)}
	}
	return c
}

// browserTokens mark ordinary browsers; they veto heuristic detection
var browserTokens = []string{"mozilla", "chrome", "safari", "firefox", "edge", "opera", "webkit"}

// genericTokens make an unknown agent count as a crawler when no browser token is present
var genericTokens = []string{"bot", "crawler", "spider", "ai"}

// DefaultTaxonomy returns the built-in list of known LLM/AI crawlers
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		Providers: []Provider{
			{Name: "ai2", Patterns: []string{"AI2Bot", "AI2Bot-Dolma"}},
			{Name: "amazon", Patterns: []string{"Amazonbot"}},
			{Name: "anthropic", Patterns: []string{
				"ClaudeBot", "Claude-User", "Claude-SearchBot", "Claude-Web",
				"Anthropic-AI", "Anthropic-AI-Crawler",
			}},
			{Name: "apple", Patterns: []string{"Applebot", "Applebot-Extended"}},
			{Name: "bytedance", Patterns: []string{"Bytespider"}},
			{Name: "cohere", Patterns: []string{"cohere-ai", "Cohere-AI", "CohereBot", "cohere-training-data-crawler"}},
			{Name: "commoncrawl", Patterns: []string{"CCBot"}},
			{Name: "duckduckgo", Patterns: []string{"DuckDuckBot", "DuckAssistBot"}},
			{Name: "google", Patterns: []string{"googlebot", "Googlebot", "Google-Extended", "GoogleOther", "Google-CloudVertexBot"}},
			{Name: "huawei", Patterns: []string{"Petalbot", "PanguBot"}},
			{Name: "meta", Patterns: []string{
				"FacebookBot", "Facebookbot", "Meta-ExternalAgent", "LLaMA-Bot",
				"Meta AI", "Meta-ExternalFetcher",
			}},
			{Name: "mistral", Patterns: []string{"MistralAI-User"}},
			{Name: "openai", Patterns: []string{"GPTBot", "ChatGPT-User", "OAI-SearchBot", "MetaGPT"}},
			{Name: "perplexity", Patterns: []string{"PerplexityBot", "Perplexity-User"}},
			{Name: "other", Patterns: []string{
				"Diffbot", "Omgili", "Omgilibot", "webzio-extended", "Youbot",
				"SemrushBot-OCOB", "Kangaroo Bot", "Sentibot", "img2dataset",
				"Meltwater", "Seekr", "peer39_crawler", "Scrapy",
			}},
		},
		Domains: []DomainMapping{
			{Domain: "openai.com", Name: "GPTBot"},
			{Domain: "perplexity.ai", Name: "PerplexityBot"},
			{Domain: "bing.com/bingbot", Name: "bingbot"},
			{Domain: "anthropic.com", Name: "Anthropic-AI"},
			{Domain: "claude.ai", Name: "Claude-Web"},
			{Domain: "cohere.com", Name: "cohere-ai"},
			{Domain: "google.com", Name: "Googlebot"},
			{Domain: "meta.com", Name: "MetaGPT"},
		},
	}
}
