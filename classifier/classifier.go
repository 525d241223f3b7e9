package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"marketpulse-bot/storage"
)

const (
	defaultModel   = "anthropic/claude-3-opus-20240229"
	defaultBaseURL = "https://openrouter.ai/api/v1"
)

// ErrClassification is returned when the oracle's output is missing, malformed,
// or fails schema validation.
var ErrClassification = errors.New("classification failed")

// ErrTranslation is returned when the oracle fails to produce a translation.
var ErrTranslation = errors.New("translation failed")

// Classification is the validated analysis of one message text.
type Classification struct {
	Topic      string         `json:"topic"`
	Market     storage.Market `json:"market_target"`
	Importance int            `json:"importance"`
	IsCatalyst bool           `json:"is_catalyst"`
	Confidence float64        `json:"confidence"`
}

// Client analyzes and translates news text through the OpenRouter API.
type Client struct {
	apiKey       string
	model        string
	baseURL      string
	tradfiTopics []string
	cryptoTopics []string
	httpClient   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the OpenRouter model to use.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates an OpenRouter-backed classifier. The topic lists bound the
// vocabulary offered to the oracle.
func NewClient(apiKey string, tradfiTopics, cryptoTopics []string, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		tradfiTopics: tradfiTopics,
		cryptoTopics: cryptoTopics,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify analyzes a news text and returns its validated classification.
// Oracle output that is malformed or out of range never reaches callers as a
// partial result.
func (c *Client) Classify(ctx context.Context, text string) (*Classification, error) {
	prompt := buildClassifyPrompt(text, c.tradfiTopics, c.cryptoTopics)

	reply, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	result, err := parseClassification(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	return result, nil
}

// Translate renders a news text in the given style.
func (c *Client) Translate(ctx context.Context, text, style string) (string, error) {
	prompt := fmt.Sprintf("Translate the following news text into English using a %s style. Respond with the translation only.\n\n%s", style, text)

	reply, err := c.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranslation, err)
	}

	translated := strings.TrimSpace(reply)
	if translated == "" {
		return "", fmt.Errorf("%w: empty reply", ErrTranslation)
	}
	return translated, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

func buildClassifyPrompt(text string, tradfiTopics, cryptoTopics []string) string {
	return fmt.Sprintf(`Analyze the following news text and determine:
1. The topic, chosen from this list: %s
2. The target market area: TradFi, Crypto or Both
3. The importance, an integer from 1 to 5
4. Whether it is a market catalyst (true/false)
5. Your confidence in the analysis, a number from 0 to 1

Text: %s

Respond with JSON only, in this exact format:
{"topic": "...", "market_target": "TradFi", "importance": 3, "is_catalyst": false, "confidence": 0.8}`,
		strings.Join(append(append([]string{}, tradfiTopics...), cryptoTopics...), ", "), text)
}

// rawClassification uses pointers so missing fields are distinguishable from
// zero values during validation.
type rawClassification struct {
	Topic      *string  `json:"topic"`
	Market     *string  `json:"market_target"`
	Importance *int     `json:"importance"`
	IsCatalyst *bool    `json:"is_catalyst"`
	Confidence *float64 `json:"confidence"`
}

func parseClassification(reply string) (*Classification, error) {
	text := stripMarkdownCodeBlock(reply)

	var raw rawClassification
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse classification JSON: %w", err)
	}

	if raw.Topic == nil || *raw.Topic == "" {
		return nil, fmt.Errorf("missing topic")
	}
	if raw.Market == nil {
		return nil, fmt.Errorf("missing market_target")
	}
	market, err := storage.ParseMarket(*raw.Market)
	if err != nil {
		return nil, err
	}
	if raw.Importance == nil {
		return nil, fmt.Errorf("missing importance")
	}
	if *raw.Importance < 1 || *raw.Importance > 5 {
		return nil, fmt.Errorf("importance %d out of range [1,5]", *raw.Importance)
	}
	if raw.IsCatalyst == nil {
		return nil, fmt.Errorf("missing is_catalyst")
	}
	if raw.Confidence == nil {
		return nil, fmt.Errorf("missing confidence")
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range [0,1]", *raw.Confidence)
	}

	return &Classification{
		Topic:      *raw.Topic,
		Market:     market,
		Importance: *raw.Importance,
		IsCatalyst: *raw.IsCatalyst,
		Confidence: *raw.Confidence,
	}, nil
}

var codeBlockRegex = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*(.+?)\\s*```\\s*$")

func stripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if matches := codeBlockRegex.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return s
}

// OpenRouter chat completion API types

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}
