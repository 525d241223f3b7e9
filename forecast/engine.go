package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"marketpulse-bot/storage"
)

// ErrNoData means the window held no usable items. It is a valid outcome, not
// a failure: no artifact is written, and callers can distinguish "no
// information" from a neutral result.
var ErrNoData = errors.New("no data for window")

// Sentiment thresholds. Strictly above bullishThreshold is bullish, strictly
// below -bullishThreshold is bearish, everything else neutral.
const bullishThreshold = 0.3

// Store is the persistence surface the engine needs.
type Store interface {
	ListItemsSince(ctx context.Context, since time.Time, market storage.Market) ([]*storage.NewsItem, error)
	SaveForecast(ctx context.Context, record *storage.ForecastRecord) error
	SaveDigest(ctx context.Context, record *storage.DigestRecord) error
	LatestForecast(ctx context.Context, market storage.Market) (*storage.ForecastRecord, error)
}

// DirectionFunc maps an item to its directional market impact, +1 or -1.
type DirectionFunc func(item *storage.NewsItem) int

// TopicGroup is one digest topic with its items, oldest first.
type TopicGroup struct {
	Topic string
	Items []*storage.NewsItem
}

// Digest is the result of one digest computation: the stored record plus the
// topic groups for rendering. Groups keep the order topics first appeared in
// the window; the record counts the full window regardless of any display cap
// applied later.
type Digest struct {
	Record *storage.DigestRecord
	Groups []TopicGroup
}

// Engine folds time-windowed item snapshots into digests and forecasts.
// Aggregation reads are not serialized against concurrent ingestion: an item
// ingested while the window is being read may or may not be included, which is
// an accepted race.
type Engine struct {
	store     Store
	direction DirectionFunc
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithDirection replaces the direction predicate.
func WithDirection(fn DirectionFunc) Option {
	return func(e *Engine) {
		e.direction = fn
	}
}

// WithNow replaces the clock (for testing).
func WithNow(fn func() time.Time) Option {
	return func(e *Engine) {
		e.now = fn
	}
}

// NewEngine creates an aggregation engine. The TradFi topic list feeds the
// default direction predicate.
func NewEngine(store Store, tradfiTopics []string, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		direction: DefaultDirection(tradfiTopics),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultDirection is a coarse cue check: items on TradFi topics count as
// positive when their original text mentions "positive", all other items when
// it mentions "bullish". Deliberately replaceable via WithDirection.
func DefaultDirection(tradfiTopics []string) DirectionFunc {
	topics := make(map[string]bool, len(tradfiTopics))
	for _, t := range tradfiTopics {
		topics[strings.ToLower(t)] = true
	}
	return func(item *storage.NewsItem) int {
		text := strings.ToLower(item.OriginalText)
		cue := "bullish"
		if topics[strings.ToLower(item.Topic)] {
			cue = "positive"
		}
		if strings.Contains(text, cue) {
			return 1
		}
		return -1
	}
}

// ComputeDigest groups the window's items by topic and appends a digest
// record. An empty window returns ErrNoData and writes nothing. Each
// invocation appends a new record; once-per-window semantics are the
// scheduler's job, not the engine's.
func (e *Engine) ComputeDigest(ctx context.Context, period storage.Period) (*Digest, error) {
	now := e.now()
	items, err := e.store.ListItemsSince(ctx, now.Add(-period.Duration()), "")
	if err != nil {
		return nil, fmt.Errorf("list window items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoData
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	var groups []TopicGroup
	index := make(map[string]int)
	for _, item := range items {
		i, ok := index[item.Topic]
		if !ok {
			i = len(groups)
			index[item.Topic] = i
			groups = append(groups, TopicGroup{Topic: item.Topic})
		}
		groups[i].Items = append(groups[i].Items, item)
	}

	record := &storage.DigestRecord{
		Period:      period,
		ItemCount:   len(items),
		TopicCount:  len(groups),
		GeneratedAt: now,
	}
	if err := e.store.SaveDigest(ctx, record); err != nil {
		return nil, fmt.Errorf("save digest: %w", err)
	}

	slog.Info("digest computed",
		"period", period, "items", record.ItemCount, "topics", record.TopicCount)

	return &Digest{Record: record, Groups: groups}, nil
}

// ComputeForecast folds the window's items for a market into a directional
// sentiment forecast and appends a forecast record. An empty window (or one
// with zero total weight) returns ErrNoData and writes nothing.
func (e *Engine) ComputeForecast(ctx context.Context, period storage.Period, market storage.Market) (*storage.ForecastRecord, error) {
	now := e.now()
	items, err := e.store.ListItemsSince(ctx, now.Add(-period.Duration()), market)
	if err != nil {
		return nil, fmt.Errorf("list window items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoData
	}

	totalWeight := 0
	weightedSum := 0
	var keyItems []*storage.NewsItem
	for _, item := range items {
		weight := item.Importance
		totalWeight += weight
		weightedSum += weight * e.direction(item)

		if item.Importance >= 4 || item.IsCatalyst {
			keyItems = append(keyItems, item)
		}
	}
	if totalWeight == 0 {
		return nil, ErrNoData
	}

	sentiment := float64(weightedSum) / float64(totalWeight)

	state := storage.StateNeutral
	switch {
	case sentiment > bullishThreshold:
		state = storage.StateBullish
	case sentiment < -bullishThreshold:
		state = storage.StateBearish
	}

	// Newest evidence first.
	sort.SliceStable(keyItems, func(i, j int) bool {
		return keyItems[i].CreatedAt.After(keyItems[j].CreatedAt)
	})
	keyItemIDs := make([]string, len(keyItems))
	for i, item := range keyItems {
		keyItemIDs[i] = item.ID
	}

	tier := storage.TierLow
	switch {
	case len(keyItems) >= 3:
		tier = storage.TierHigh
	case len(keyItems) >= 1:
		tier = storage.TierMedium
	}

	record := &storage.ForecastRecord{
		Market:      market,
		Period:      period,
		State:       state,
		Tier:        tier,
		KeyItemIDs:  keyItemIDs,
		GeneratedAt: now,
	}
	if err := e.store.SaveForecast(ctx, record); err != nil {
		return nil, fmt.Errorf("save forecast: %w", err)
	}

	slog.Info("forecast computed",
		"market", market,
		"period", period,
		"state", state,
		"tier", tier,
		"sentiment", sentiment,
		"key_items", len(keyItems),
	)

	return record, nil
}

// LatestForecast returns the most recent forecast for a market, or ErrNoData
// if none has been computed. A pure read.
func (e *Engine) LatestForecast(ctx context.Context, market storage.Market) (*storage.ForecastRecord, error) {
	record, err := e.store.LatestForecast(ctx, market)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, fmt.Errorf("latest forecast: %w", err)
	}
	return record, nil
}
