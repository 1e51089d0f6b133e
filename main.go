package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"adaptive-trader/internal/adapt"
	"adaptive-trader/internal/engine"
	"adaptive-trader/internal/events"
	"adaptive-trader/internal/market"
	"adaptive-trader/internal/monitor"
	"adaptive-trader/internal/order"
	"adaptive-trader/internal/pattern"
	"adaptive-trader/internal/policy"
	"adaptive-trader/internal/risk"
	"adaptive-trader/internal/state"
	"adaptive-trader/pkg/config"
	"adaptive-trader/pkg/logger"
	"adaptive-trader/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open state store")
	}
	defer st.Close()

	bus := events.NewBus()
	portfolio := state.NewPortfolio()
	stops := risk.NewStopTracker()

	audit := risk.NewAuditLog(st, log)
	go audit.Run(ctx)

	gate := risk.NewGate(risk.Limits{
		MaxPositionSize: cfg.MaxPositionSize,
		StopLossPct:     cfg.StopLossPct,
		TakeProfitPct:   cfg.TakeProfitPct,
		UseTrailingStop: cfg.UseTrailingStop,
		TrailingPct:     cfg.TrailingPct,
	}, portfolio, audit)

	book := openPolicyBook(ctx, cfg, st, log)

	replay := policy.NewReplayBuffer(cfg.RLMemorySize)
	controller := adapt.New(adapt.Config{
		Cadence:          cfg.AdaptationFrequency,
		RetrainThreshold: cfg.ModelRetrainThreshold,
		MinTrainSamples:  cfg.MinTrainSamples,
		EvaluationWindow: cfg.EvaluationWindow,
		Gamma:            cfg.RLGamma,
		Epsilon:          cfg.RLEpsilon,
		BatchSize:        cfg.RLBatchSize,
		Epochs:           cfg.RLEpochs,
		LearnRate:        cfg.LearningRate,
		MaxPosition:      cfg.MaxPositionSize,
	}, replay, book, st, bus, log)
	go controller.Run(ctx)

	if !cfg.PaperTrading {
		log.Warn().Msg("live trading is not wired; forcing paper execution")
	}
	executor := order.NewPaperExecutor(order.PaperConfig{
		SlippagePct: cfg.TradeSlippage,
		StopLossPct: cfg.StopLossPct,
		TakeProfit:  cfg.TakeProfitPct,
		UseTrailing: cfg.UseTrailingStop,
		TrailingPct: cfg.TrailingPct,
	}, portfolio, stops, bus, log)
	executor.Start(ctx)

	metrics := monitor.NewMetrics()
	eng := engine.New(engine.Config{
		Symbols:       cfg.Symbols,
		Indicators:    cfg.Indicators,
		PatternWindow: cfg.PatternWindow,
		QueueSize:     cfg.BarQueueSize,
		MaxPosition:   cfg.MaxPositionSize,
		DrainTimeout:  cfg.DrainTimeout,
	}, bus, book, gate, executor, executor, controller, metrics, log)
	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start decision engine")
	}

	startFeed(ctx, cfg, bus, log)

	server := monitor.NewServer(cfg.Port, book, portfolio, gate, controller, executor, st, log)
	server.Start()

	log.Info().
		Strs("symbols", cfg.Symbols).
		Uint64("policy_version", book.Active().Number).
		Str("port", cfg.Port).
		Bool("mock_feed", cfg.UseMockFeed).
		Msg("trading core started")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	if err := eng.Stop(); err != nil {
		log.Warn().Err(err).Msg("engine drain incomplete")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("status server shutdown")
	}

	log.Info().Msg("trading core stopped")
}

// openPolicyBook restores the last serving version from the store, or seeds
// a fresh version 1 on first start.
func openPolicyBook(ctx context.Context, cfg config.TradingConfig, st *store.Store, log zerolog.Logger) *policy.Book {
	if restored, err := adapt.LoadActiveVersion(ctx, st); err == nil {
		if restored.Pattern.Window == cfg.PatternWindow && restored.Pattern.FeatureSize == len(cfg.Indicators) {
			log.Info().Uint64("version", restored.Number).Msg("restored policy version")
			return policy.NewBook(*restored)
		}
		log.Warn().Uint64("version", restored.Number).
			Msg("stored policy version does not match configuration; reseeding")
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Msg("load policy version failed; reseeding")
	}

	seed := time.Now().UnixNano()
	initial := policy.Version{
		Number:    1,
		CreatedAt: time.Now(),
		Pattern:   pattern.NewParams(cfg.PatternWindow, len(cfg.Indicators), cfg.EmbeddingSize, seed),
		Policy:    policy.NewParams(cfg.EmbeddingSize, seed+1),
	}
	log.Info().Int64("seed", seed).Msg("seeded fresh policy version")
	return policy.NewBook(initial)
}

// startFeed launches the configured market data source.
func startFeed(ctx context.Context, cfg config.TradingConfig, bus *events.Bus, log zerolog.Logger) {
	if cfg.UseMockFeed {
		mock := &market.MockFeed{
			Bus:      bus,
			Symbols:  cfg.Symbols,
			Interval: cfg.BarInterval,
		}
		mock.Start(ctx)
		return
	}

	feed := &market.Feed{
		Bus:      bus,
		Symbols:  cfg.Symbols,
		Interval: cfg.BarInterval,
		Log:      log,
	}
	if cfg.ProviderURL != "" {
		feed.Provider = market.NewHTTPProvider(cfg.ProviderURL, "rest", 5)
	}
	if cfg.StreamURL != "" {
		feed.Streamer = market.NewStreamProvider(cfg.StreamURL, "stream", log)
	}
	if feed.Provider == nil && feed.Streamer == nil {
		log.Fatal().Msg("mock feed disabled but no provider_url or stream_url configured")
	}
	feed.Start(ctx)
}
