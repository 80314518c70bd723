package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/spread_engine/internal/broker"
	"github.com/eddiefleurent/spread_engine/internal/config"
	"github.com/eddiefleurent/spread_engine/internal/metrics"
	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/notify"
	"github.com/eddiefleurent/spread_engine/internal/orders"
	"github.com/eddiefleurent/spread_engine/internal/positions"
	"github.com/eddiefleurent/spread_engine/internal/regime"
	"github.com/eddiefleurent/spread_engine/internal/retry"
	"github.com/eddiefleurent/spread_engine/internal/risk"
	"github.com/eddiefleurent/spread_engine/internal/status"
	"github.com/eddiefleurent/spread_engine/internal/storage"
	"github.com/eddiefleurent/spread_engine/internal/strategy"
)

// Bot holds every engine component. Only the cycle mutates the ledger.
type Bot struct {
	config    *config.Config
	logger    *logrus.Logger
	connector broker.Broker
	retry     *retry.Client
	store     storage.Interface
	positions *positions.Manager
	orders    *orders.Manager
	detector  *regime.Detector
	tracker   *regime.Tracker
	builder   *strategy.Builder
	sizer     *risk.Sizer
	exits     *strategy.ExitEvaluator
	notifier  *notify.Notifier
	metrics   *metrics.Recorder
	status    *status.Server
	cycle     *TradingCycle
	closers   []io.Closer
	now       func() time.Time
}

// NewBot builds the production stack: paper connector behind a rate limiter and a
// circuit breaker, the configured ledger backend and the configured notification sinks.
func NewBot(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Bot, error) {
	seed := cfg.Broker.Paper.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	paper := broker.NewPaperConnector(broker.PaperConfig{
		VIX:         cfg.Broker.Paper.VIX,
		PriceNoise:  cfg.Broker.Paper.PriceNoise,
		FillAfter:   cfg.Broker.Paper.FillAfter,
		HistoryDays: cfg.Broker.Paper.HistoryDays,
		FastPeriod:  cfg.Regime.FastPeriod,
		SlowPeriod:  cfg.Regime.SlowPeriod,
		RSIPeriod:   cfg.Regime.RSIPeriod,
		Seed:        seed,
	}, logger.WithField("component", "paper"))

	store, err := storage.NewStorage(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	senders := []notify.Sender{notify.NewLogSender(logger.WithField("component", "notify"))}
	var closers []io.Closer
	if tg := cfg.Notify.Telegram; tg.Enabled {
		s, err := notify.NewTelegramSender(tg.APIBase, tg.BotToken, tg.ChatID)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		senders = append(senders, s)
	}
	if rc := cfg.Notify.Redis; rc.Enabled {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		s, err := notify.NewRedisSender(pingCtx, notify.RedisOptions{
			Addr: rc.Addr, Password: rc.Password, DB: rc.DB, Channel: rc.Channel,
		})
		cancel()
		if err != nil {
			// notifications are best-effort
			logger.WithError(err).Warn("Redis notifications disabled")
		} else {
			senders = append(senders, s)
			closers = append(closers, s)
		}
	}

	bot, err := newBot(cfg, logger, paper, store, senders...)
	if err != nil {
		_ = store.Close()
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}
	bot.closers = append(bot.closers, closers...)
	return bot, nil
}

// bookRestorer is a connector that keeps no positions across restarts and must be
// seeded from the ledger.
type bookRestorer interface {
	Restore(ledger []models.Position) int
}

// newBot wires the engine around an already constructed broker and ledger store.
func newBot(cfg *config.Config, logger *logrus.Logger, brk broker.Broker, store storage.Interface, senders ...notify.Sender) (*Bot, error) {
	limited := broker.NewRateLimitedConnector(brk, cfg.Broker.RateLimit, cfg.Broker.Burst, cfg.Broker.CallTimeout)
	connector := broker.NewCircuitBreakerConnector(limited, broker.CircuitBreakerSettings{
		MaxRequests:  cfg.Broker.CircuitBreaker.MaxRequests,
		Interval:     cfg.Broker.CircuitBreaker.Interval,
		Timeout:      cfg.Broker.CircuitBreaker.Timeout,
		MinRequests:  cfg.Broker.CircuitBreaker.MinRequests,
		FailureRatio: cfg.Broker.CircuitBreaker.FailureRatio,
	}, logger.WithField("component", "broker"))

	b := &Bot{config: cfg, logger: logger, now: time.Now}
	ledger := positions.NewManager(store, logger.WithField("component", "ledger"),
		positions.WithClock(func() time.Time { return b.now() }))
	if err := ledger.Load(); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if r, ok := brk.(bookRestorer); ok {
		if n := r.Restore(ledger.Active()); n > 0 {
			logger.Infof("Restored %d ledger position(s) into the paper book", n)
		}
	}

	events, err := notify.ParseEventTypes(cfg.Notify.Events)
	if err != nil {
		return nil, fmt.Errorf("notify.events: %w", err)
	}

	b.connector = connector
	b.retry = retry.NewClient(connector, logger.WithField("component", "retry"), retry.Config{
		MaxRetries:     cfg.Broker.Retry.MaxRetries,
		InitialBackoff: cfg.Broker.Retry.InitialBackoff,
		MaxBackoff:     cfg.Broker.Retry.MaxBackoff,
		Timeout:        2 * time.Minute,
	})
	b.store = store
	b.positions = ledger
	b.orders = orders.NewManager(connector, ledger, logger.WithField("component", "orders"), orders.Config{
		CallTimeout: cfg.Broker.CallTimeout,
	})
	b.detector = regime.NewDetector(regime.Thresholds{
		VIXLow:         cfg.Regime.VIXLow,
		VIXHigh:        cfg.Regime.VIXHigh,
		VIXExtreme:     cfg.Regime.VIXExtreme,
		TrendThreshold: cfg.Regime.TrendThreshold,
		RSIOversold:    cfg.Regime.RSIOversold,
		RSIOverbought:  cfg.Regime.RSIOverbought,
	})
	b.tracker = regime.NewTracker()
	b.builder = strategy.NewBuilder(strategy.BuilderConfig{
		Pricing:         strategy.Pricing(cfg.Strategy.Pricing),
		TargetDelta:     cfg.Strategy.TargetDelta,
		DeltaTolerance:  cfg.Strategy.DeltaTolerance,
		Width:           cfg.Strategy.SpreadWidth,
		MinCredit:       cfg.Strategy.MinCredit,
		MinCreditPct:    cfg.Strategy.MinCreditPct,
		MaxBidAskPct:    cfg.Strategy.MaxBidAskPct,
		MaxBidAskAbs:    cfg.Strategy.MaxBidAskAbs,
		MinOpenInterest: cfg.Strategy.MinOpenInterest,
		TargetDTE:       cfg.Strategy.TargetDTE,
	})
	b.sizer = risk.NewSizer(risk.Config{
		MaxRiskPerTrade:           cfg.Risk.MaxRiskPerTrade,
		MaxPositions:              cfg.Risk.MaxPositions,
		MaxPositionsPerUnderlying: cfg.Risk.MaxPositionsPerUnderlying,
		MaxContracts:              cfg.Risk.MaxContracts,
	})
	b.exits = strategy.NewExitEvaluator(strategy.ExitConfig{
		ProfitTargetPct:    cfg.Exit.ProfitTargetPct,
		StopLossMultiplier: cfg.Exit.StopLossMultiplier,
		DTEExit:            cfg.Exit.DTEExit,
	})
	b.notifier = notify.NewNotifier(logger.WithField("component", "notify"), cfg.Notify.QueueSize, events, senders...)
	b.metrics = metrics.New()
	b.cycle = NewTradingCycle(b)

	if cfg.Status.Enabled {
		b.status = status.NewServer(status.Config{Addr: cfg.Status.Addr, AuthToken: cfg.Status.AuthToken},
			ledger, b.metrics.Handler(), logger.WithField("component", "status"),
			status.WithEntriesBlocked(b.cycle.EntriesBlocked))
	}
	b.metrics.RecordLedger(ledger.All())
	return b, nil
}

// Close flushes notifications and releases the ledger and sinks.
func (b *Bot) Close() {
	if b.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.status.Shutdown(ctx); err != nil {
			b.logger.WithError(err).Warn("Status server shutdown failed")
		}
		cancel()
	}
	b.notifier.Close()
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			b.logger.WithError(err).Warn("Failed to close notification sink")
		}
	}
	if err := b.store.Close(); err != nil {
		b.logger.WithError(err).Warn("Failed to close ledger")
	}
}
