// Package config holds every tunable threshold, weight and risk
// parameter. Defaults live here and are injected at construction time;
// no component reads configuration implicitly.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the full application configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Pattern    PatternConfig    `yaml:"pattern"`
	Structure  StructureConfig  `yaml:"structure"`
	Zone       ZoneConfig       `yaml:"zone"`
	Confluence ConfluenceConfig `yaml:"confluence"`
	Signal     SignalConfig     `yaml:"signal"`
	Backtest   BacktestConfig   `yaml:"backtest"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// PatternConfig holds the candle-pattern thresholds. Every ratio is a
// fraction of the candle's total range unless noted otherwise.
type PatternConfig struct {
	LEBodyRatio       float64 `yaml:"le_body_ratio"`
	LEWickRatio       float64 `yaml:"le_wick_ratio"`
	StrongBodyRatio   float64 `yaml:"strong_body_ratio"`
	DojiBodyRatio     float64 `yaml:"doji_body_ratio"`
	CeleryBodyRatio   float64 `yaml:"celery_body_ratio"`
	CeleryWickRatio   float64 `yaml:"celery_wick_ratio"`
	HammerWickRatio   float64 `yaml:"hammer_wick_ratio"` // wick relative to body
	HammerOppWickMax  float64 `yaml:"hammer_opp_wick_max"`
	PinBarWickRatio   float64 `yaml:"pin_bar_wick_ratio"`
	PinBarBodyMax     float64 `yaml:"pin_bar_body_max"`
	SmallWickRatio    float64 `yaml:"small_wick_ratio"`
	SmallWickBodyMin  float64 `yaml:"small_wick_body_min"`
	SteeperWickRatio  float64 `yaml:"steeper_wick_ratio"`
	SteeperWickFactor float64 `yaml:"steeper_wick_factor"` // dominant wick vs opposite wick
	EngulfingCoverage float64 `yaml:"engulfing_coverage"`
	MinStrength       float64 `yaml:"min_strength"`
}

// StructureConfig holds the swing/break/block/gap parameters.
type StructureConfig struct {
	SwingLookback       int     `yaml:"swing_lookback"`
	ConfirmationPeriods int     `yaml:"confirmation_periods"`
	MinSwingScore       float64 `yaml:"min_swing_score"`
	VolumeFactor        float64 `yaml:"volume_factor"` // break volume confirmation multiple
	OrderBlockBodyRatio float64 `yaml:"order_block_body_ratio"`
	OrderBlockMoveMult  float64 `yaml:"order_block_move_mult"` // move body vs average body
	MinGapPercent       float64 `yaml:"min_gap_percent"`       // FVG size as fraction of price
}

// ZoneConfig holds the support/resistance zone parameters.
type ZoneConfig struct {
	ZoneWidthPct       float64 `yaml:"zone_width_pct"`
	MinTouches         int     `yaml:"min_touches"`
	MergeThreshold     float64 `yaml:"merge_threshold"` // midpoint proximity as fraction of price
	RejectionWickRatio float64 `yaml:"rejection_wick_ratio"`
	VolumeLookback     int     `yaml:"volume_lookback"`
}

// ConfluenceConfig holds the multi-timeframe scoring parameters.
type ConfluenceConfig struct {
	PatternWeight   float64 `yaml:"pattern_weight"`
	StructureWeight float64 `yaml:"structure_weight"`
	ZoneWeight      float64 `yaml:"zone_weight"`

	HigherTFWeight float64 `yaml:"higher_tf_weight"`
	EqualTFWeight  float64 `yaml:"equal_tf_weight"`
	LowerTFWeight  float64 `yaml:"lower_tf_weight"`

	RecentPatternWindow int     `yaml:"recent_pattern_window"`
	DominanceFactor     float64 `yaml:"dominance_factor"` // bullish vs bearish strength multiple
	ZoneBufferPct       float64 `yaml:"zone_buffer_pct"`
	StrongVoteRatio     float64 `yaml:"strong_vote_ratio"`
	StrongMinScore      float64 `yaml:"strong_min_score"`
}

// SignalConfig holds the signal-generation risk parameters.
type SignalConfig struct {
	MinConfluenceScore float64 `yaml:"min_confluence_score"`
	MinAgreementPct    float64 `yaml:"min_agreement_pct"`
	MaxStopLossPct     float64 `yaml:"max_stop_loss_pct"`
	SwingStopBufferPct float64 `yaml:"swing_stop_buffer_pct"`
	ATRPeriod          int     `yaml:"atr_period"`
	ATRMultiplier      float64 `yaml:"atr_multiplier"`

	TP1RewardRatio float64 `yaml:"tp1_reward_ratio"`
	// Minimum R:R at TP2 per confluence tier.
	HighTierRR float64 `yaml:"high_tier_rr"` // score >= 70
	MidTierRR  float64 `yaml:"mid_tier_rr"`  // 50-70
	LowTierRR  float64 `yaml:"low_tier_rr"`  // < 50
	TP3Factor  float64 `yaml:"tp3_factor"`   // multiple of TP2's R, high tier only

	// Setup classification; the range-compression multiple is empirically
	// tuned and should be recalibrated rather than trusted.
	RangeLookback    int     `yaml:"range_lookback"`
	RangeCompression float64 `yaml:"range_compression"`
	SMAPeriod        int     `yaml:"sma_period"`
}

// BacktestConfig holds the simulation parameters.
type BacktestConfig struct {
	InitialCapital  float64 `yaml:"initial_capital"`
	PositionSizePct float64 `yaml:"position_size_pct"`
	MaxOpenTrades   int     `yaml:"max_open_trades"`
	CommissionRate  float64 `yaml:"commission_rate"`
	SlippagePct     float64 `yaml:"slippage_pct"`

	TP1ExitPct float64 `yaml:"tp1_exit_pct"` // fraction closed at TP1, remainder at TP2

	TickSize float64 `yaml:"tick_size"`
	LotSize  float64 `yaml:"lot_size"`

	WarmupCandles int `yaml:"warmup_candles"`
	EmitEvery     int `yaml:"emit_every"` // snapshot cadence in candles
}

// Default returns the configuration defaults in one place.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Pattern: PatternConfig{
			LEBodyRatio:       0.7,
			LEWickRatio:       0.15,
			StrongBodyRatio:   0.6,
			DojiBodyRatio:     0.1,
			CeleryBodyRatio:   0.25,
			CeleryWickRatio:   0.3,
			HammerWickRatio:   2.0,
			HammerOppWickMax:  0.25,
			PinBarWickRatio:   0.6,
			PinBarBodyMax:     0.3,
			SmallWickRatio:    0.1,
			SmallWickBodyMin:  0.5,
			SteeperWickRatio:  0.5,
			SteeperWickFactor: 2.0,
			EngulfingCoverage: 0.95,
			MinStrength:       0.0,
		},
		Structure: StructureConfig{
			SwingLookback:       5,
			ConfirmationPeriods: 3,
			MinSwingScore:       0.2,
			VolumeFactor:        1.2,
			OrderBlockBodyRatio: 0.6,
			OrderBlockMoveMult:  1.5,
			MinGapPercent:       0.001,
		},
		Zone: ZoneConfig{
			ZoneWidthPct:       0.005,
			MinTouches:         2,
			MergeThreshold:     0.005,
			RejectionWickRatio: 0.4,
			VolumeLookback:     20,
		},
		Confluence: ConfluenceConfig{
			PatternWeight:       0.40,
			StructureWeight:     0.35,
			ZoneWeight:          0.25,
			HigherTFWeight:      2.0,
			EqualTFWeight:       1.5,
			LowerTFWeight:       1.0,
			RecentPatternWindow: 10,
			DominanceFactor:     1.5,
			ZoneBufferPct:       0.005,
			StrongVoteRatio:     0.8,
			StrongMinScore:      70,
		},
		Signal: SignalConfig{
			MinConfluenceScore: 60,
			MinAgreementPct:    60,
			MaxStopLossPct:     0.03,
			SwingStopBufferPct: 0.001,
			ATRPeriod:          14,
			ATRMultiplier:      1.5,
			TP1RewardRatio:     1.5,
			HighTierRR:         2.0,
			MidTierRR:          2.5,
			LowTierRR:          3.0,
			TP3Factor:          1.5,
			RangeLookback:      20,
			RangeCompression:   8.0,
			SMAPeriod:          20,
		},
		Backtest: BacktestConfig{
			InitialCapital:  10000,
			PositionSizePct: 0.02,
			MaxOpenTrades:   3,
			CommissionRate:  0.001,
			SlippagePct:     0.0005,
			TP1ExitPct:      0.5,
			TickSize:        0.01,
			LotSize:         0.0001,
			WarmupCandles:   50,
			EmitEvery:       100,
		},
	}
}

// Load reads a YAML file and unmarshals it over the defaults, so a
// partial file only overrides what it names.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
