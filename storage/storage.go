package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an item with the same (source, origin) pair
// already exists.
var ErrDuplicate = errors.New("duplicate origin")

// ErrUnavailable wraps driver-level failures so callers can decide retry
// policy without inspecting sqlite internals.
var ErrUnavailable = errors.New("storage unavailable")

// Market identifies which market an item or forecast targets.
type Market string

const (
	MarketTradFi Market = "TradFi"
	MarketCrypto Market = "Crypto"
	MarketBoth   Market = "Both"
)

// ParseMarket converts a string into a Market.
func ParseMarket(s string) (Market, error) {
	switch Market(s) {
	case MarketTradFi, MarketCrypto, MarketBoth:
		return Market(s), nil
	}
	return "", fmt.Errorf("unknown market %q", s)
}

// Period is an aggregation window length.
type Period string

const (
	PeriodHour Period = "hour"
	PeriodDay  Period = "day"
	PeriodWeek Period = "week"
)

// Duration returns the window length for the period.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodHour:
		return time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ParsePeriod converts a string into a Period.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodHour, PeriodDay, PeriodWeek:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// State is the directional market sentiment of a forecast.
type State string

const (
	StateBullish State = "bullish"
	StateBearish State = "bearish"
	StateNeutral State = "neutral"
)

// Tier is the coarse confidence bucket of a forecast.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// NewsItem is one classified message from a source channel.
type NewsItem struct {
	ID             string
	SourceID       int64
	OriginID       int64
	OriginalText   string
	TranslatedText string
	Topic          string
	Market         Market
	Importance     int
	IsCatalyst     bool
	Confidence     float64
	MediaRef       string
	CreatedAt      time.Time
}

// ForecastRecord is one directional sentiment result for a market and period.
type ForecastRecord struct {
	ID          string
	Market      Market
	Period      Period
	State       State
	Tier        Tier
	KeyItemIDs  []string
	GeneratedAt time.Time
}

// DigestRecord logs one digest computation for a period.
type DigestRecord struct {
	ID          string
	Period      Period
	ItemCount   int
	TopicCount  int
	GeneratedAt time.Time
}

// DB wraps the SQLite database connection and provides storage operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS news_items (
		id TEXT PRIMARY KEY,
		source_id INTEGER NOT NULL,
		origin_id INTEGER NOT NULL,
		original_text TEXT NOT NULL,
		translated_text TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL,
		market_target TEXT NOT NULL,
		importance INTEGER NOT NULL,
		is_catalyst INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		media_ref TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_news_origin ON news_items(source_id, origin_id);
	CREATE INDEX IF NOT EXISTS idx_news_created_at ON news_items(created_at);

	CREATE TABLE IF NOT EXISTS forecasts (
		id TEXT PRIMARY KEY,
		market_target TEXT NOT NULL,
		period TEXT NOT NULL,
		state TEXT NOT NULL,
		confidence_tier TEXT NOT NULL,
		key_item_ids TEXT NOT NULL DEFAULT '[]',
		generated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_forecasts_market ON forecasts(market_target, generated_at);

	CREATE TABLE IF NOT EXISTS digests (
		id TEXT PRIMARY KEY,
		period TEXT NOT NULL,
		item_count INTEGER NOT NULL,
		topic_count INTEGER NOT NULL,
		generated_at DATETIME NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SaveItem inserts a news item and assigns its ID. A row already holding the
// item's (source, origin) pair makes the insert a no-op and returns
// ErrDuplicate; the unique index closes the race between concurrent
// deliveries of the same origin message.
func (db *DB) SaveItem(ctx context.Context, item *NewsItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO news_items (id, source_id, origin_id, original_text, translated_text,
		topic, market_target, importance, is_catalyst, confidence, media_ref, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(source_id, origin_id) DO NOTHING
	`

	res, err := db.conn.ExecContext(ctx, query,
		item.ID,
		item.SourceID,
		item.OriginID,
		item.OriginalText,
		item.TranslatedText,
		item.Topic,
		string(item.Market),
		item.Importance,
		item.IsCatalyst,
		item.Confidence,
		item.MediaRef,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert item: %v", ErrUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrUnavailable, err)
	}
	if affected == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetItemByOrigin retrieves an item by its (source, origin) pair.
func (db *DB) GetItemByOrigin(ctx context.Context, sourceID, originID int64) (*NewsItem, error) {
	query := `
	SELECT id, source_id, origin_id, original_text, translated_text,
		topic, market_target, importance, is_catalyst, confidence, media_ref, created_at
	FROM news_items WHERE source_id = ? AND origin_id = ?
	`
	return db.scanItem(db.conn.QueryRowContext(ctx, query, sourceID, originID))
}

// GetItem retrieves an item by ID.
func (db *DB) GetItem(ctx context.Context, id string) (*NewsItem, error) {
	query := `
	SELECT id, source_id, origin_id, original_text, translated_text,
		topic, market_target, importance, is_catalyst, confidence, media_ref, created_at
	FROM news_items WHERE id = ?
	`
	return db.scanItem(db.conn.QueryRowContext(ctx, query, id))
}

func (db *DB) scanItem(row *sql.Row) (*NewsItem, error) {
	item := &NewsItem{}
	var market string
	err := row.Scan(
		&item.ID,
		&item.SourceID,
		&item.OriginID,
		&item.OriginalText,
		&item.TranslatedText,
		&item.Topic,
		&market,
		&item.Importance,
		&item.IsCatalyst,
		&item.Confidence,
		&item.MediaRef,
		&item.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query item: %v", ErrUnavailable, err)
	}
	item.Market = Market(market)
	return item, nil
}

// ListItemsSince returns items created at or after the cutoff, oldest first.
// A non-empty market filter matches items targeting that market or Both.
func (db *DB) ListItemsSince(ctx context.Context, since time.Time, market Market) ([]*NewsItem, error) {
	query := `
	SELECT id, source_id, origin_id, original_text, translated_text,
		topic, market_target, importance, is_catalyst, confidence, media_ref, created_at
	FROM news_items WHERE created_at >= ?
	`
	args := []any{since}
	if market != "" {
		query += ` AND market_target IN (?, ?)`
		args = append(args, string(market), string(MarketBoth))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list items: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var items []*NewsItem
	for rows.Next() {
		item := &NewsItem{}
		var marketVal string
		if err := rows.Scan(
			&item.ID,
			&item.SourceID,
			&item.OriginID,
			&item.OriginalText,
			&item.TranslatedText,
			&item.Topic,
			&marketVal,
			&item.Importance,
			&item.IsCatalyst,
			&item.Confidence,
			&item.MediaRef,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan item: %v", ErrUnavailable, err)
		}
		item.Market = Market(marketVal)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate items: %v", ErrUnavailable, err)
	}
	return items, nil
}

// SaveForecast appends a forecast record and assigns its ID.
func (db *DB) SaveForecast(ctx context.Context, record *ForecastRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	keyIDs, err := json.Marshal(record.KeyItemIDs)
	if err != nil {
		return fmt.Errorf("marshal key item ids: %w", err)
	}

	query := `
	INSERT INTO forecasts (id, market_target, period, state, confidence_tier, key_item_ids, generated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.conn.ExecContext(ctx, query,
		record.ID,
		string(record.Market),
		string(record.Period),
		string(record.State),
		string(record.Tier),
		string(keyIDs),
		record.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert forecast: %v", ErrUnavailable, err)
	}
	return nil
}

// LatestForecast returns the most recently generated forecast for a market.
func (db *DB) LatestForecast(ctx context.Context, market Market) (*ForecastRecord, error) {
	query := `
	SELECT id, market_target, period, state, confidence_tier, key_item_ids, generated_at
	FROM forecasts WHERE market_target = ?
	ORDER BY generated_at DESC LIMIT 1
	`

	record := &ForecastRecord{}
	var marketVal, period, state, tier, keyIDs string
	err := db.conn.QueryRowContext(ctx, query, string(market)).Scan(
		&record.ID,
		&marketVal,
		&period,
		&state,
		&tier,
		&keyIDs,
		&record.GeneratedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query forecast: %v", ErrUnavailable, err)
	}

	record.Market = Market(marketVal)
	record.Period = Period(period)
	record.State = State(state)
	record.Tier = Tier(tier)
	if err := json.Unmarshal([]byte(keyIDs), &record.KeyItemIDs); err != nil {
		return nil, fmt.Errorf("unmarshal key item ids: %w", err)
	}
	if record.KeyItemIDs == nil {
		record.KeyItemIDs = []string{}
	}
	return record, nil
}

// SaveDigest appends a digest record and assigns its ID.
func (db *DB) SaveDigest(ctx context.Context, record *DigestRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	query := `
	INSERT INTO digests (id, period, item_count, topic_count, generated_at)
	VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		record.ID,
		string(record.Period),
		record.ItemCount,
		record.TopicCount,
		record.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert digest: %v", ErrUnavailable, err)
	}
	return nil
}

// CountItems returns the total number of stored news items.
func (db *DB) CountItems(ctx context.Context) (int, error) {
	return db.count(ctx, "news_items")
}

// CountForecasts returns the total number of stored forecast records.
func (db *DB) CountForecasts(ctx context.Context) (int, error) {
	return db.count(ctx, "forecasts")
}

// CountDigests returns the total number of stored digest records.
func (db *DB) CountDigests(ctx context.Context) (int, error) {
	return db.count(ctx, "digests")
}

func (db *DB) count(ctx context.Context, table string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", ErrUnavailable, table, err)
	}
	return count, nil
}
