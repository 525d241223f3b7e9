package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketpulse-bot/forecast"
	"marketpulse-bot/storage"
)

// MessageSender sends messages to Telegram.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// StatsProvider reports store counts for the status command.
type StatsProvider interface {
	CountItems(ctx context.Context) (int, error)
	CountForecasts(ctx context.Context) (int, error)
	CountDigests(ctx context.Context) (int, error)
}

// DigestProvider computes topic digests on demand.
type DigestProvider interface {
	ComputeDigest(ctx context.Context, period storage.Period) (*forecast.Digest, error)
}

// ForecastProvider computes and reads market forecasts.
type ForecastProvider interface {
	ComputeForecast(ctx context.Context, period storage.Period, market storage.Market) (*storage.ForecastRecord, error)
	LatestForecast(ctx context.Context, market storage.Market) (*storage.ForecastRecord, error)
}

// ItemLookup resolves stored items for key-item rendering.
type ItemLookup interface {
	GetItem(ctx context.Context, id string) (*storage.NewsItem, error)
}

// CommandHandler answers the bot's command surface: /start, /status, /digest
// and /forecast. Formatting is plain text; transport stays in main.
type CommandHandler struct {
	sender    MessageSender
	stats     StatsProvider
	digests   DigestProvider
	forecasts ForecastProvider
	items     ItemLookup

	maxItemsPerTopic int
	maxKeyItems      int
}

// NewCommandHandler creates a command handler. The caps bound rendered output
// only, never what is stored.
func NewCommandHandler(
	sender MessageSender,
	stats StatsProvider,
	digests DigestProvider,
	forecasts ForecastProvider,
	items ItemLookup,
	maxItemsPerTopic, maxKeyItems int,
) *CommandHandler {
	return &CommandHandler{
		sender:           sender,
		stats:            stats,
		digests:          digests,
		forecasts:        forecasts,
		items:            items,
		maxItemsPerTopic: maxItemsPerTopic,
		maxKeyItems:      maxKeyItems,
	}
}

// Dispatch routes a command line to its handler. Unknown commands are ignored.
func (h *CommandHandler) Dispatch(ctx context.Context, chatID int64, text string) error {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return nil
	}
	cmd := fields[0]
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start":
		return h.HandleStart(ctx, chatID)
	case "/status":
		return h.HandleStatus(ctx, chatID)
	case "/digest":
		return h.HandleDigest(ctx, chatID, args)
	case "/forecast":
		return h.HandleForecast(ctx, chatID, args)
	}
	return nil
}

// HandleStart handles the /start command.
func (h *CommandHandler) HandleStart(ctx context.Context, chatID int64) error {
	msg := "Hi! I collect news from market channels, translate them and build analytical digests. 📰\n\n" +
		"Commands:\n" +
		"/digest [hour|day|week] - Topic digest for the window\n" +
		"/forecast [tradfi|crypto] - Latest market forecast\n" +
		"/status - Processing statistics"
	return h.sender.SendMessage(ctx, chatID, msg)
}

// HandleStatus handles the /status command.
func (h *CommandHandler) HandleStatus(ctx context.Context, chatID int64) error {
	itemCount, err := h.stats.CountItems(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	forecastCount, err := h.stats.CountForecasts(ctx)
	if err != nil {
		return fmt.Errorf("count forecasts: %w", err)
	}
	digestCount, err := h.stats.CountDigests(ctx)
	if err != nil {
		return fmt.Errorf("count digests: %w", err)
	}

	msg := fmt.Sprintf("📊 Bot status:\n\n"+
		"📰 News processed: %d\n"+
		"📈 Forecasts generated: %d\n"+
		"📨 Digests generated: %d", itemCount, forecastCount, digestCount)
	return h.sender.SendMessage(ctx, chatID, msg)
}

// HandleDigest handles the /digest command. The optional argument selects the
// window; the default is day.
func (h *CommandHandler) HandleDigest(ctx context.Context, chatID int64, args []string) error {
	period := storage.PeriodDay
	if len(args) > 0 {
		p, err := storage.ParsePeriod(strings.ToLower(args[0]))
		if err != nil {
			return h.sender.SendMessage(ctx, chatID, "❌ Unknown period. Use: hour, day or week")
		}
		period = p
	}

	digest, err := h.digests.ComputeDigest(ctx, period)
	if errors.Is(err, forecast.ErrNoData) {
		return h.sender.SendMessage(ctx, chatID, fmt.Sprintf("📭 No news in the last %s", period))
	}
	if err != nil {
		return fmt.Errorf("compute digest: %w", err)
	}

	return h.sender.SendMessage(ctx, chatID, FormatDigest(digest, h.maxItemsPerTopic))
}

// HandleForecast handles the /forecast command. The optional argument selects
// the market; the default is TradFi. If no forecast exists yet a day forecast
// is computed on the spot.
func (h *CommandHandler) HandleForecast(ctx context.Context, chatID int64, args []string) error {
	market := storage.MarketTradFi
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "tradfi":
			market = storage.MarketTradFi
		case "crypto":
			market = storage.MarketCrypto
		default:
			return h.sender.SendMessage(ctx, chatID, "❌ Unknown market. Use: tradfi or crypto")
		}
	}

	record, err := h.forecasts.LatestForecast(ctx, market)
	if errors.Is(err, forecast.ErrNoData) {
		record, err = h.forecasts.ComputeForecast(ctx, storage.PeriodDay, market)
	}
	if errors.Is(err, forecast.ErrNoData) {
		return h.sender.SendMessage(ctx, chatID, fmt.Sprintf("📭 Not enough news to forecast the %s market", marketLabel(market)))
	}
	if err != nil {
		return fmt.Errorf("forecast: %w", err)
	}

	keyItems := h.resolveKeyItems(ctx, record)
	return h.sender.SendMessage(ctx, chatID, FormatForecast(record, keyItems, h.maxKeyItems))
}

// resolveKeyItems loads the items behind a forecast's key IDs, skipping any
// that cannot be read.
func (h *CommandHandler) resolveKeyItems(ctx context.Context, record *storage.ForecastRecord) []*storage.NewsItem {
	var items []*storage.NewsItem
	for _, id := range record.KeyItemIDs {
		item, err := h.items.GetItem(ctx, id)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	return items
}

// FormatDigest renders a digest as plain text, truncating each topic to
// maxPerTopic items. The stored counts are unaffected by the cap.
func FormatDigest(d *forecast.Digest, maxPerTopic int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📰 News digest for the last %s (%d items, %d topics):\n\n",
		d.Record.Period, d.Record.ItemCount, d.Record.TopicCount)

	for _, group := range d.Groups {
		fmt.Fprintf(&b, "📌 %s:\n", group.Topic)
		items := group.Items
		if maxPerTopic > 0 && len(items) > maxPerTopic {
			items = items[:maxPerTopic]
		}
		for _, item := range items {
			fmt.Fprintf(&b, "• %s\n", snippet(displayText(item), 100))
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// FormatForecast renders a forecast as plain text with up to maxKeyItems
// pieces of key evidence.
func FormatForecast(record *storage.ForecastRecord, keyItems []*storage.NewsItem, maxKeyItems int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s market forecast (%s window)\n", stateEmoji(record.State), marketLabel(record.Market), record.Period)
	fmt.Fprintf(&b, "State: %s\nConfidence: %s\n", record.State, record.Tier)

	if len(keyItems) > 0 {
		b.WriteString("\nKey news:\n")
		if maxKeyItems > 0 && len(keyItems) > maxKeyItems {
			keyItems = keyItems[:maxKeyItems]
		}
		for _, item := range keyItems {
			marker := ""
			if item.IsCatalyst {
				marker = " ⚡"
			}
			fmt.Fprintf(&b, "• [%d/5]%s %s\n", item.Importance, marker, snippet(displayText(item), 100))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func displayText(item *storage.NewsItem) string {
	if item.TranslatedText != "" {
		return item.TranslatedText
	}
	return item.OriginalText
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

func marketLabel(market storage.Market) string {
	switch market {
	case storage.MarketCrypto:
		return "Crypto"
	case storage.MarketBoth:
		return "TradFi+Crypto"
	default:
		return "TradFi"
	}
}

func stateEmoji(state storage.State) string {
	switch state {
	case storage.StateBullish:
		return "📈"
	case storage.StateBearish:
		return "📉"
	default:
		return "➖"
	}
}
