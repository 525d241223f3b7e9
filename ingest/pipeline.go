package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketpulse-bot/classifier"
	"marketpulse-bot/scraper"
	"marketpulse-bot/storage"
)

// Message is one raw inbound message from a source channel.
type Message struct {
	SourceID  int64
	OriginID  int64
	Text      string
	MediaRef  string
	Timestamp time.Time
}

// Outcome describes how the pipeline terminated for one message.
type Outcome string

const (
	// OutcomeStored means the message was classified, translated and persisted.
	OutcomeStored Outcome = "stored"
	// OutcomeDuplicate means the origin message was already ingested.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeEmptyPayload means the message carried no text and no media.
	OutcomeEmptyPayload Outcome = "empty_payload"
	// OutcomeClassifyFailed means the classification oracle failed or returned
	// invalid output; the message was dropped.
	OutcomeClassifyFailed Outcome = "classify_failed"
	// OutcomeTranslateFailed means translation failed; the message was dropped.
	OutcomeTranslateFailed Outcome = "translate_failed"
)

// Store persists classified items.
type Store interface {
	GetItemByOrigin(ctx context.Context, sourceID, originID int64) (*storage.NewsItem, error)
	SaveItem(ctx context.Context, item *storage.NewsItem) error
}

// Classifier analyzes and translates message text.
type Classifier interface {
	Classify(ctx context.Context, text string) (*classifier.Classification, error)
	Translate(ctx context.Context, text, style string) (string, error)
}

// LinkExtractor fetches readable content for a URL found in a message.
type LinkExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Publisher sends a stored item downstream (the target channel).
type Publisher interface {
	Publish(ctx context.Context, item *storage.NewsItem) error
}

// TriggerFunc schedules an aggregation run for a market. It must not block.
type TriggerFunc func(market storage.Market)

const (
	importanceThreshold = 4

	// Messages shorter than this that contain a link get enriched with the
	// linked page's text before classification.
	linkEnrichMaxTextLen = 120
)

// Pipeline turns raw messages into stored classified items. Messages are
// independent: a failure for one never affects others, and Process holds no
// shared mutable state, so concurrent calls are safe.
type Pipeline struct {
	store      Store
	classifier Classifier
	extractor  LinkExtractor
	publisher  Publisher
	trigger    TriggerFunc
	style      string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLinkExtractor enables link-content enrichment of classifier input.
func WithLinkExtractor(e LinkExtractor) Option {
	return func(p *Pipeline) {
		p.extractor = e
	}
}

// WithPublisher sets the downstream publisher for stored items.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// WithTrigger sets the aggregation trigger fired when an item crosses the
// importance threshold or is a catalyst.
func WithTrigger(fn TriggerFunc) Option {
	return func(p *Pipeline) {
		p.trigger = fn
	}
}

// WithTranslationStyle sets the style passed to the translator.
func WithTranslationStyle(style string) Option {
	return func(p *Pipeline) {
		p.style = style
	}
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store Store, cls Classifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		classifier: cls,
		style:      "business",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one message through the pipeline: dedup check, classification,
// translation, persistence, downstream publish and threshold trigger.
// Benign terminations (duplicate, empty payload, oracle failures) are reported
// through the Outcome with a nil error; only storage unavailability is an
// error.
func (p *Pipeline) Process(ctx context.Context, msg *Message) (Outcome, error) {
	if strings.TrimSpace(msg.Text) == "" && msg.MediaRef == "" {
		slog.Debug("skipping empty message", "source_id", msg.SourceID, "origin_id", msg.OriginID)
		return OutcomeEmptyPayload, nil
	}

	// Dedup check before spending oracle calls. The unique index on
	// (source_id, origin_id) still backstops the race between concurrent
	// deliveries.
	_, err := p.store.GetItemByOrigin(ctx, msg.SourceID, msg.OriginID)
	if err == nil {
		slog.Debug("skipping duplicate message", "source_id", msg.SourceID, "origin_id", msg.OriginID)
		return OutcomeDuplicate, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("dedup check: %w", err)
	}

	classifyInput := p.enrichInput(ctx, msg)

	classification, err := p.classifier.Classify(ctx, classifyInput)
	if err != nil {
		slog.Warn("classification failed",
			"source_id", msg.SourceID, "origin_id", msg.OriginID, "error", err)
		return OutcomeClassifyFailed, nil
	}

	translated, err := p.classifier.Translate(ctx, msg.Text, p.style)
	if err != nil {
		slog.Warn("translation failed",
			"source_id", msg.SourceID, "origin_id", msg.OriginID, "error", err)
		return OutcomeTranslateFailed, nil
	}

	item := &storage.NewsItem{
		SourceID:       msg.SourceID,
		OriginID:       msg.OriginID,
		OriginalText:   msg.Text,
		TranslatedText: translated,
		Topic:          classification.Topic,
		Market:         classification.Market,
		Importance:     classification.Importance,
		IsCatalyst:     classification.IsCatalyst,
		Confidence:     classification.Confidence,
		MediaRef:       msg.MediaRef,
		CreatedAt:      msg.Timestamp,
	}

	if err := p.store.SaveItem(ctx, item); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("save item: %w", err)
	}

	slog.Info("item stored",
		"id", item.ID,
		"topic", item.Topic,
		"market", item.Market,
		"importance", item.Importance,
		"is_catalyst", item.IsCatalyst,
	)

	// The record is durable; a publish failure only loses the downstream copy.
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, item); err != nil {
			slog.Warn("publish failed", "id", item.ID, "error", err)
		}
	}

	if p.trigger != nil && (item.Importance >= importanceThreshold || item.IsCatalyst) {
		for _, market := range triggerMarkets(item.Market) {
			p.trigger(market)
		}
	}

	return OutcomeStored, nil
}

// enrichInput returns the text handed to the classifier. Short messages that
// are mostly a link get the linked page's readable text appended; extraction
// failures fall back to the raw text.
func (p *Pipeline) enrichInput(ctx context.Context, msg *Message) string {
	if p.extractor == nil || len(msg.Text) >= linkEnrichMaxTextLen {
		return msg.Text
	}
	link := scraper.FindLink(msg.Text)
	if link == "" {
		return msg.Text
	}
	content, err := p.extractor.Extract(ctx, link)
	if err != nil {
		slog.Debug("link extraction failed", "url", link, "error", err)
		return msg.Text
	}
	return msg.Text + "\n\n" + content
}

// triggerMarkets expands Both into the two concrete markets, since forecasts
// are only ever computed per concrete market.
func triggerMarkets(market storage.Market) []storage.Market {
	if market == storage.MarketBoth {
		return []storage.Market{storage.MarketTradFi, storage.MarketCrypto}
	}
	return []storage.Market{market}
}
