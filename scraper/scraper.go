package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const defaultMaxContentLen = 4000

var urlRegex = regexp.MustCompile(`https?://[^\s<>"]+`)

// FindLink returns the first http(s) URL in a message text, or "" if none.
func FindLink(text string) string {
	return urlRegex.FindString(text)
}

// Extractor pulls readable article text out of linked pages so short
// link-only messages still give the classifier something to work with.
type Extractor struct {
	httpClient    *http.Client
	maxContentLen int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		e.httpClient.Timeout = d
	}
}

// WithMaxContentLength sets the maximum content length to return.
func WithMaxContentLength(n int) Option {
	return func(e *Extractor) {
		e.maxContentLen = n
	}
}

// NewExtractor creates a new link-content extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		maxContentLen: defaultMaxContentLen,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fetches a URL and returns its readable text content.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	// Set a user agent to avoid being blocked
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; MarketPulse-Bot/1.0)")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}

	content := strings.TrimSpace(article.TextContent)

	if len(content) > e.maxContentLen {
		content = content[:e.maxContentLen]
	}

	return content, nil
}
