package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/skarlet-lab/mtfa/internal/analysis/confluence"
	"github.com/skarlet-lab/mtfa/internal/analysis/pattern"
	"github.com/skarlet-lab/mtfa/internal/analysis/structure"
	"github.com/skarlet-lab/mtfa/internal/analysis/zone"
	"github.com/skarlet-lab/mtfa/internal/backtest"
	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/internal/marketdata"
	tradesignal "github.com/skarlet-lab/mtfa/internal/signal"
	"github.com/skarlet-lab/mtfa/pkg/logger"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	csvPath := flag.String("csv", "", "path to OHLCV CSV file")
	symbol := flag.String("symbol", "BTCUSDT", "instrument symbol")
	timeframe := flag.String("timeframe", "1h", "analysis timeframe")
	speed := flag.Duration("speed", 0, "delay between candles, 0 for full speed")
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Init("info")
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		cfg = loaded
	}

	logger.Init(cfg.Logging.Level)
	defer logger.GetLogger().Sync()

	if *csvPath == "" {
		logger.Fatal("Missing -csv flag: a candle file is required")
	}
	tf := models.Timeframe(*timeframe)
	if !tf.Valid() {
		logger.Fatal("Unknown timeframe", zap.String("timeframe", *timeframe))
	}

	candles, err := marketdata.LoadCSV(*csvPath, *symbol, tf)
	if err != nil {
		logger.Fatal("Failed to load candles", zap.Error(err))
	}

	scorer := confluence.NewScorer(cfg.Confluence,
		pattern.NewDetector(cfg.Pattern),
		structure.NewAnalyzer(cfg.Structure),
		zone.NewDetector(cfg.Zone))
	generator := tradesignal.NewGenerator(cfg.Signal, scorer)

	engine, err := backtest.NewEngine(cfg.Backtest, generator, *symbol, tf,
		map[models.Timeframe][]models.Candle{tf: candles})
	if err != nil {
		logger.Fatal("Failed to create backtest engine", zap.Error(err))
	}
	engine.SetSpeed(*speed)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutting down")
		cancel()
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}()

	start := time.Now()
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Backtest failed", zap.Error(err))
	}

	state := engine.Snapshot()
	m := state.Metrics
	logger.Info("Backtest complete",
		zap.String("status", state.Status.String()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("candles", state.CurrentIndex),
		zap.Int("trades", m.TotalTrades),
		zap.String("win_rate", m.WinRate.StringFixed(2)),
		zap.String("profit_factor", m.ProfitFactor.StringFixed(2)),
		zap.String("expectancy", m.Expectancy.StringFixed(2)),
		zap.String("max_drawdown", m.MaxDrawdown.StringFixed(2)),
		zap.String("max_drawdown_pct", m.MaxDrawdownPct.StringFixed(2)),
		zap.String("final_capital", state.Capital.StringFixed(2)))
}
