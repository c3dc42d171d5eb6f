package parser

import (
	"crawlytics/internal/crawler"
	"testing"
	"time"
)

const gptbotLine = `66.249.66.1 - - [10/Oct/2023:13:55:36 +0000] "GET /index.html HTTP/1.1" 200 2326 "-" "Mozilla/5.0 (compatible; GPTBot/1.0; +https://openai.com/gptbot)"`

const browserLine = `10.0.0.7 - - [10/Oct/2023:13:55:37 +0000] "GET /about HTTP/2.0" 304 0 "https://example.com/" "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0 Safari/537.36"`

func mustParser(t *testing.T, name string) *Parser {
	t.Helper()
	v, ok := VariantByName(name)
	if !ok {
		t.Fatalf("Expected variant %s to exist", name)
	}
	return New(v, crawler.NewDefault())
}

func TestParseLine_Nginx(t *testing.T) {
	p := mustParser(t, Nginx)

	entry := p.ParseLine(gptbotLine)
	if entry == nil {
		t.Fatal("Expected parsed entry, got nil")
	}
	if entry.IPAddress != "66.249.66.1" {
		t.Errorf("Expected IP '66.249.66.1', got '%s'", entry.IPAddress)
	}
	if entry.Method != "GET" || entry.Path != "/index.html" {
		t.Errorf("Expected GET /index.html, got %s %s", entry.Method, entry.Path)
	}
	if entry.Status == nil || *entry.Status != 200 {
		t.Errorf("Expected status 200, got %v", entry.Status)
	}
	want := time.Date(2023, time.October, 10, 13, 55, 36, 0, time.UTC)
	if !entry.Time.Equal(want) {
		t.Errorf("Expected time %v, got %v", want, entry.Time)
	}
	if entry.Referer != nil {
		t.Errorf("Expected '-' referer to be nil, got '%s'", *entry.Referer)
	}
	if entry.CrawlerName == nil || *entry.CrawlerName != "GPTBot" {
		t.Errorf("Expected crawler GPTBot, got %v", entry.CrawlerName)
	}
	if entry.ResponseTimeMS != nil {
		t.Errorf("Expected no response time, got %d", *entry.ResponseTimeMS)
	}
}

func TestParseLine_BrowserHasNoCrawlerName(t *testing.T) {
	p := mustParser(t, Nginx)

	entry := p.ParseLine(browserLine)
	if entry == nil {
		t.Fatal("Expected parsed entry, got nil")
	}
	if entry.CrawlerName != nil {
		t.Errorf("Expected no crawler name, got '%s'", *entry.CrawlerName)
	}
	if entry.Referer == nil || *entry.Referer != "https://example.com/" {
		t.Errorf("Expected referer to be kept, got %v", entry.Referer)
	}
}

func TestParseLine_ResponseTimeUnits(t *testing.T) {
	tests := []struct {
		variant string
		line    string
		want    int64
	}{
		{ApacheTime, gptbotLine + " 125000", 125},
		{ApacheTime, gptbotLine + " 999", 0},
		{NginxTime, gptbotLine + " 0.125", 125},
		{NginxTime, gptbotLine + " 0.0006", 1},
		{NginxIDTime, gptbotLine + " 550e8400-e29b-41d4-a716-446655440000 0.250", 250},
	}

	for _, tt := range tests {
		t.Run(tt.variant, func(t *testing.T) {
			entry := mustParser(t, tt.variant).ParseLine(tt.line)
			if entry == nil {
				t.Fatal("Expected parsed entry, got nil")
			}
			if entry.ResponseTimeMS == nil {
				t.Fatal("Expected response time, got nil")
			}
			if *entry.ResponseTimeMS != tt.want {
				t.Errorf("Expected %d ms, got %d", tt.want, *entry.ResponseTimeMS)
			}
		})
	}
}

func TestParseLine_RequestID(t *testing.T) {
	p := mustParser(t, NginxIDTime)
	entry := p.ParseLine(gptbotLine + " 550E8400-E29B-41D4-A716-446655440000 0.1")
	if entry == nil || entry.RequestID == nil {
		t.Fatal("Expected request id, got nil")
	}
	if *entry.RequestID != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("Expected canonical UUID, got '%s'", *entry.RequestID)
	}

	// Invalid ids are dropped, the line is kept
	entry = mustParser(t, NginxID).ParseLine(gptbotLine + " abc123def456")
	if entry == nil {
		t.Fatal("Expected parsed entry, got nil")
	}
	if entry.RequestID != nil {
		t.Errorf("Expected invalid request id to be nil, got '%s'", *entry.RequestID)
	}
}

func TestParseLine_RequestIDFromPath(t *testing.T) {
	p := mustParser(t, Nginx)
	line := `1.2.3.4 - - [10/Oct/2023:13:55:36 +0000] "GET /api?request_id=123E4567-E89B-12D3-A456-426614174000&x=1 HTTP/1.1" 200 10 "-" "GPTBot/1.0"`

	entry := p.ParseLine(line)
	if entry == nil {
		t.Fatal("Expected parsed entry, got nil")
	}
	if entry.RequestID == nil || *entry.RequestID != "123e4567-e89b-12d3-a456-426614174000" {
		t.Errorf("Expected request id from query, got %v", entry.RequestID)
	}

	line = `1.2.3.4 - - [10/Oct/2023:13:55:36 +0000] "GET /api?request_id=nope HTTP/1.1" 200 10 "-" "GPTBot/1.0"`
	entry = p.ParseLine(line)
	if entry == nil {
		t.Fatal("Expected parsed entry, got nil")
	}
	if entry.RequestID != nil {
		t.Errorf("Expected invalid query id to be nil, got '%s'", *entry.RequestID)
	}
}

func TestParseLine_BadTimestampVoidsLine(t *testing.T) {
	p := mustParser(t, Nginx)
	line := `1.2.3.4 - - [99/Foo/2023:13:55:36 +0000] "GET / HTTP/1.1" 200 10 "-" "GPTBot/1.0"`

	if entry := p.ParseLine(line); entry != nil {
		t.Errorf("Expected nil for bad timestamp, got %+v", entry)
	}
}

func TestParseLine_StatusOverflowIsNil(t *testing.T) {
	p := mustParser(t, Nginx)
	line := `1.2.3.4 - - [10/Oct/2023:13:55:36 +0000] "GET / HTTP/1.1" 99999999999999999999 10 "-" "GPTBot/1.0"`

	entry := p.ParseLine(line)
	if entry == nil {
		t.Fatal("Expected entry to survive a bad status, got nil")
	}
	if entry.Status != nil {
		t.Errorf("Expected nil status, got %d", *entry.Status)
	}
}

func TestParseLine_Unmatched(t *testing.T) {
	for _, v := range Variants() {
		p := New(v, nil)
		if entry := p.ParseLine("this is not an access log line"); entry != nil {
			t.Errorf("Expected nil from %s, got %+v", v.Name(), entry)
		}
	}
}

func TestParseLine_FallbackPattern(t *testing.T) {
	// A plain combined line still parses under a richer variant
	entry := mustParser(t, NginxTime).ParseLine(gptbotLine)
	if entry == nil {
		t.Fatal("Expected fallback pattern to match, got nil")
	}
	if entry.ResponseTimeMS != nil {
		t.Errorf("Expected no response time from fallback, got %d", *entry.ResponseTimeMS)
	}
}

func TestDetector_Detect(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		line string
		want string
	}{
		{gptbotLine + " 550e8400-e29b-41d4-a716-446655440000 0.250", NginxIDTime},
		{gptbotLine + " 0.125", NginxTime},
		{gptbotLine + " 125000", ApacheTime},
		{gptbotLine + " abc123def456", NginxID},
		{gptbotLine, Nginx},
		{gptbotLine + ` "extra field"`, Apache},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := d.Detect([]string{tt.line}); got != tt.want {
				t.Errorf("Expected '%s', got '%s'", tt.want, got)
			}
		})
	}
}

func TestDetector_SkipsUnrecognizedLines(t *testing.T) {
	d := NewDetector()

	if got := d.Detect([]string{"garbage", "", "more garbage"}); got != "" {
		t.Errorf("Expected no format, got '%s'", got)
	}
	if got := d.Detect(nil); got != "" {
		t.Errorf("Expected no format for empty sample, got '%s'", got)
	}
	if got := d.Detect([]string{"garbage", gptbotLine + " 0.5"}); got != NginxTime {
		t.Errorf("Expected nginx_time from second line, got '%s'", got)
	}

	badTime := `1.2.3.4 - - [99/Foo/2023:13:55:36 +0000] "GET / HTTP/1.1" 200 10 "-" "GPTBot/1.0"`
	if got := d.Detect([]string{badTime}); got != "" {
		t.Errorf("Expected bad timestamp to block detection, got '%s'", got)
	}
}
