package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"marketpulse-bot/bot"
	"marketpulse-bot/classifier"
	"marketpulse-bot/config"
	"marketpulse-bot/forecast"
	"marketpulse-bot/ingest"
	"marketpulse-bot/scheduler"
	"marketpulse-bot/scraper"
	"marketpulse-bot/storage"
)

func main() {
	configPath := config.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting MarketPulse bot", "config", configPath)

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database initialized", "path", cfg.DBPath)

	tgBot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		slog.Error("failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}
	slog.Info("telegram bot initialized", "username", tgBot.Self.UserName)

	requestTimeout := time.Duration(cfg.RequestTimeout) * time.Second
	oracle := classifier.NewClient(
		cfg.OpenRouterAPIKey,
		cfg.TradFiTopics,
		cfg.CryptoTopics,
		classifier.WithModel(cfg.OpenRouterModel),
		classifier.WithTimeout(requestTimeout),
	)
	extractor := scraper.NewExtractor()

	engine := forecast.NewEngine(db, cfg.TradFiTopics)

	app := &App{
		cfg:    cfg,
		db:     db,
		tgBot:  tgBot,
		engine: engine,
	}

	app.pipeline = ingest.NewPipeline(
		db,
		oracle,
		ingest.WithLinkExtractor(extractor),
		ingest.WithPublisher(app),
		ingest.WithTrigger(app.triggerForecast),
		ingest.WithTranslationStyle(cfg.TranslationStyle),
	)

	app.commands = bot.NewCommandHandler(app, db, engine, engine, db,
		cfg.MaxItemsPerTopic, cfg.MaxKeyItems)

	sched, err := scheduler.NewScheduler(cfg.Timezone)
	if err != nil {
		slog.Error("failed to initialize scheduler", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}
	app.scheduler = sched

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := app.scheduleJobs(ctx); err != nil {
		slog.Error("failed to schedule jobs", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		app.pollUpdates(gctx)
		return nil
	})

	slog.Info("bot running",
		"sources", cfg.SourceChannelIDs,
		"target", cfg.TargetChannelID,
		"digest_time", cfg.DigestTime,
		"timezone", cfg.Timezone,
	)
	if err := g.Wait(); err != nil {
		slog.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("bot stopped")
}

// App holds all application dependencies.
type App struct {
	cfg       *config.Config
	db        *storage.DB
	tgBot     *tgbotapi.BotAPI
	engine    *forecast.Engine
	pipeline  *ingest.Pipeline
	commands  *bot.CommandHandler
	scheduler *scheduler.Scheduler
}

// scheduleJobs wires the periodic aggregation runs: a daily digest published
// to the target channel, hourly forecasts per market, a weekly digest on
// Monday mornings. Job failures are logged; the next tick is the retry.
func (a *App) scheduleJobs(ctx context.Context) error {
	if err := a.scheduler.AddDaily("daily-digest", a.cfg.DigestTime, func() {
		a.runScheduledDigest(ctx, storage.PeriodDay)
	}); err != nil {
		return err
	}
	if err := a.scheduler.AddSpec("weekly-digest", "0 9 * * 1", func() {
		a.runScheduledDigest(ctx, storage.PeriodWeek)
	}); err != nil {
		return err
	}
	for _, market := range []storage.Market{storage.MarketTradFi, storage.MarketCrypto} {
		market := market
		name := "hourly-forecast-" + strings.ToLower(string(market))
		if err := a.scheduler.AddSpec(name, "0 * * * *", func() {
			a.runScheduledForecast(ctx, storage.PeriodHour, market)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) runScheduledDigest(ctx context.Context, period storage.Period) {
	digest, err := a.engine.ComputeDigest(ctx, period)
	if errors.Is(err, forecast.ErrNoData) {
		slog.Info("scheduled digest skipped: no data", "period", period)
		return
	}
	if err != nil {
		slog.Error("scheduled digest failed", "period", period, "error", err)
		return
	}
	text := bot.FormatDigest(digest, a.cfg.MaxItemsPerTopic)
	if err := a.SendMessage(ctx, a.cfg.TargetChannelID, text); err != nil {
		slog.Warn("failed to publish scheduled digest", "period", period, "error", err)
	}
}

func (a *App) runScheduledForecast(ctx context.Context, period storage.Period, market storage.Market) {
	_, err := a.engine.ComputeForecast(ctx, period, market)
	if errors.Is(err, forecast.ErrNoData) {
		slog.Debug("scheduled forecast skipped: no data", "period", period, "market", market)
		return
	}
	if err != nil {
		slog.Error("scheduled forecast failed", "period", period, "market", market, "error", err)
	}
}

// triggerForecast is the pipeline's threshold trigger: a high-importance or
// catalyst item schedules a day forecast for its market without blocking
// ingestion.
func (a *App) triggerForecast(market storage.Market) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, err := a.engine.ComputeForecast(ctx, storage.PeriodDay, market)
		if err != nil && !errors.Is(err, forecast.ErrNoData) {
			slog.Error("triggered forecast failed", "market", market, "error", err)
		}
	}()
}

func (a *App) pollUpdates(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "channel_post"}

	updates := a.tgBot.GetUpdatesChan(u)
	defer a.tgBot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			a.handleUpdate(&update)
		}
	}
}

func (a *App) handleUpdate(update *tgbotapi.Update) {
	if post := update.ChannelPost; post != nil && a.isSourceChannel(post.Chat.ID) {
		msg := toIngestMessage(post)
		// Each message rides its own goroutine so a slow oracle call never
		// blocks other in-flight ingestions.
		go a.ingestMessage(msg)
		return
	}

	if msg := update.Message; msg != nil && msg.IsCommand() {
		// A slow on-demand digest must not stall the update loop.
		go a.handleCommand(msg.Chat.ID, msg.Text)
	}
}

func (a *App) handleCommand(chatID int64, text string) {
	timeout := time.Duration(a.cfg.RequestTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.commands.Dispatch(ctx, chatID, text); err != nil {
		slog.Warn("command failed", "chat_id", chatID, "text", text, "error", err)
		a.SendMessage(ctx, chatID, "❌ Something went wrong, try again later")
	}
}

func (a *App) ingestMessage(msg *ingest.Message) {
	timeout := 3 * time.Duration(a.cfg.RequestTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	outcome, err := a.pipeline.Process(ctx, msg)
	if err != nil {
		slog.Error("ingestion failed",
			"source_id", msg.SourceID, "origin_id", msg.OriginID, "error", err)
		return
	}
	slog.Debug("ingestion finished",
		"source_id", msg.SourceID, "origin_id", msg.OriginID, "outcome", outcome)
}

func (a *App) isSourceChannel(chatID int64) bool {
	for _, id := range a.cfg.SourceChannelIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func toIngestMessage(post *tgbotapi.Message) *ingest.Message {
	text := post.Text
	if text == "" {
		text = post.Caption
	}

	var mediaRef string
	switch {
	case len(post.Photo) > 0:
		// The last size is the largest resolution.
		mediaRef = post.Photo[len(post.Photo)-1].FileID
	case post.Document != nil:
		mediaRef = post.Document.FileID
	case post.Video != nil:
		mediaRef = post.Video.FileID
	}

	return &ingest.Message{
		SourceID:  post.Chat.ID,
		OriginID:  int64(post.MessageID),
		Text:      text,
		MediaRef:  mediaRef,
		Timestamp: post.Time(),
	}
}

// SendMessage implements bot.MessageSender.
func (a *App) SendMessage(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := a.tgBot.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Publish implements ingest.Publisher: a stored item is forwarded to the
// target channel together with its classification summary.
func (a *App) Publish(ctx context.Context, item *storage.NewsItem) error {
	catalyst := "No"
	if item.IsCatalyst {
		catalyst = "Yes"
	}
	text := fmt.Sprintf("📰 %s\n\n🏷 Topic: %s\n🎯 Market: %s\n📊 Importance: %d/5\n⚡ Catalyst: %s",
		item.TranslatedText, item.Topic, item.Market, item.Importance, catalyst)

	if err := a.SendMessage(ctx, a.cfg.TargetChannelID, text); err != nil {
		return err
	}

	if item.MediaRef != "" {
		photo := tgbotapi.NewPhoto(a.cfg.TargetChannelID, tgbotapi.FileID(item.MediaRef))
		if _, err := a.tgBot.Send(photo); err != nil {
			return fmt.Errorf("send media: %w", err)
		}
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
