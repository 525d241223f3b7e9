package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFindLink(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain link", "see https://example.com/news for details", "https://example.com/news"},
		{"http link", "http://example.com", "http://example.com"},
		{"first of several", "https://a.com and https://b.com", "https://a.com"},
		{"no link", "nothing to see here", ""},
		{"bare domain is not a link", "visit example.com today", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindLink(tt.text); got != tt.want {
				t.Errorf("FindLink(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>Test Article</title></head>
<body>
<article>
<h1>Rate Decision</h1>
<p>The central bank held rates steady on Wednesday, citing cooling inflation
and a resilient labor market. Officials signalled two cuts later this year.</p>
<p>Markets rallied on the announcement with the index closing up two percent
as traders repositioned for a softer policy path into the second half.</p>
</article>
</body>
</html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}))
	defer server.Close()

	e := NewExtractor()
	content, err := e.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if !strings.Contains(content, "held rates steady") {
		t.Errorf("content missing article text: %q", content)
	}
}

func TestExtractTruncates(t *testing.T) {
	longPara := strings.Repeat("A fairly long sentence about market conditions. ", 50)
	html := "<html><head><title>Long</title></head><body><article><p>" + longPara + "</p></article></body></html>"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}))
	defer server.Close()

	e := NewExtractor(WithMaxContentLength(200))
	content, err := e.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(content) > 200 {
		t.Errorf("content length = %d, want <= 200", len(content))
	}
}

func TestExtractInvalidURL(t *testing.T) {
	e := NewExtractor()

	for _, url := range []string{"", "not-a-url", "ftp//missing"} {
		if _, err := e.Extract(context.Background(), url); err == nil {
			t.Errorf("expected error for %q", url)
		}
	}
}

func TestExtractHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := NewExtractor()
	if _, err := e.Extract(context.Background(), server.URL); err == nil {
		t.Error("expected error for 404 response")
	}
}
