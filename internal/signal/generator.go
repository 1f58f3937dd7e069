// Package signal turns confluence scores into fully specified trade
// setups: entry, stop, staged targets and context classification. A
// setup that fails any risk gate is silently discarded; errors are
// reserved for input-contract violations.
package signal

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skarlet-lab/mtfa/internal/analysis/confluence"
	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/logger"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

// Generator produces trade signals from multi-timeframe candle data.
type Generator struct {
	cfg    config.SignalConfig
	scorer *confluence.Scorer
}

// NewGenerator creates a signal generator on top of a confluence scorer.
func NewGenerator(cfg config.SignalConfig, scorer *confluence.Scorer) *Generator {
	return &Generator{cfg: cfg, scorer: scorer}
}

// Generate evaluates the market and returns a signal, or (nil, nil)
// when no valid setup exists. An error means the inputs were unusable,
// not that the market offered nothing.
func (g *Generator) Generate(symbol string, mtf map[models.Timeframe][]models.Candle, analysisTF models.Timeframe) (*models.Signal, error) {
	analyses := make(map[models.Timeframe]models.TimeframeAnalysis, len(mtf))
	for tf, candles := range mtf {
		analyses[tf] = g.scorer.AnalyzeTimeframe(symbol, tf, candles)
	}

	score, err := g.scorer.ScoreAnalyses(analyses, analysisTF)
	if err != nil {
		return nil, err
	}

	// Confluence gates.
	if score.Signal == models.LevelNeutral {
		return nil, nil
	}
	if score.OverallScore < g.cfg.MinConfluenceScore {
		logger.Debug("signal rejected: confluence below threshold",
			zap.Float64("score", score.OverallScore),
			zap.Float64("min", g.cfg.MinConfluenceScore))
		return nil, nil
	}
	if score.AgreementPercentage < g.cfg.MinAgreementPct {
		logger.Debug("signal rejected: timeframe agreement below threshold",
			zap.Float64("agreement", score.AgreementPercentage),
			zap.Float64("min", g.cfg.MinAgreementPct))
		return nil, nil
	}

	analysis := analyses[analysisTF]
	candles := analysis.Candles
	if len(candles) == 0 {
		return nil, confluence.ErrNoCandles
	}

	direction := models.DirectionLong
	if score.Signal.IsBearish() {
		direction = models.DirectionShort
	}

	last := candles[len(candles)-1]
	entry := decimal.NewFromFloat(last.Close)

	stop, ok := g.stopLoss(analysis, direction, last.Close)
	if !ok {
		logger.Debug("signal rejected: no valid stop", zap.String("symbol", symbol))
		return nil, nil
	}
	stopDec := decimal.NewFromFloat(stop)

	risk := entry.Sub(stopDec).Abs()
	if risk.IsZero() {
		return nil, nil
	}
	maxRisk := entry.Mul(decimal.NewFromFloat(g.cfg.MaxStopLossPct))
	if risk.GreaterThan(maxRisk) {
		logger.Debug("signal rejected: stop distance exceeds risk cap",
			zap.String("risk", risk.String()),
			zap.String("max", maxRisk.String()))
		return nil, nil
	}

	tp1, tp2, tp3 := g.targets(analysis, direction, entry, risk, score.OverallScore)

	sig := &models.Signal{
		ID:         uuid.NewString(),
		Timestamp:  last.Timestamp,
		Symbol:     symbol,
		Direction:  direction,
		Timeframe:  analysisTF,
		Entry:      entry,
		StopLoss:   stopDec,
		TakeProfit: tp1,
		TP2:        tp2,
		TP3:        tp3,
		Confluence: score,
		Patterns:   analysis.RecentPatterns,
		HTFBias:    htfBias(score, analysisTF),
	}
	sig.SetupType = g.classifySetup(analysis, direction)
	sig.MarketPhase = g.marketPhase(analysis)
	sig.Reasoning = reasoning(sig)

	if err := validate(sig); err != nil {
		logger.Warn("signal rejected: validation failed", zap.Error(err))
		return nil, nil
	}

	logger.Info("signal generated",
		zap.String("id", sig.ID),
		zap.String("symbol", symbol),
		zap.String("direction", direction.String()),
		zap.Float64("confluence", score.OverallScore),
		zap.String("entry", entry.String()),
		zap.String("stop", stopDec.String()))
	return sig, nil
}

// stopLoss places the stop beyond the latest confirmed swing on the
// protective side, with a small buffer. When no usable swing exists it
// falls back to an ATR multiple.
func (g *Generator) stopLoss(a models.TimeframeAnalysis, dir models.Direction, price float64) (float64, bool) {
	var swingPrice float64
	found := false
	for _, sp := range a.Swings {
		if !sp.Confirmed {
			continue
		}
		// Swings arrive in index order, so the last match is the most
		// recent qualifying swing.
		if dir == models.DirectionLong && sp.Type == models.SwingLow && sp.Price < price {
			swingPrice = sp.Price
			found = true
		}
		if dir == models.DirectionShort && sp.Type == models.SwingHigh && sp.Price > price {
			swingPrice = sp.Price
			found = true
		}
	}
	if found {
		if dir == models.DirectionLong {
			return swingPrice * (1 - g.cfg.SwingStopBufferPct), true
		}
		return swingPrice * (1 + g.cfg.SwingStopBufferPct), true
	}

	atr, ok := g.atr(a.Candles)
	if !ok {
		return 0, false
	}
	if dir == models.DirectionLong {
		return price - atr*g.cfg.ATRMultiplier, true
	}
	return price + atr*g.cfg.ATRMultiplier, true
}

func (g *Generator) atr(candles []models.Candle) (float64, bool) {
	if len(candles) <= g.cfg.ATRPeriod {
		return 0, false
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	series := talib.Atr(highs, lows, closes, g.cfg.ATRPeriod)
	atr := series[len(series)-1]
	if atr <= 0 || math.IsNaN(atr) {
		return 0, false
	}
	return atr, true
}

func (g *Generator) tierRewardRatio(score float64) float64 {
	switch {
	case score >= 70:
		return g.cfg.HighTierRR
	case score >= 50:
		return g.cfg.MidTierRR
	default:
		return g.cfg.LowTierRR
	}
}

// targets derives the staged take profits. TP1 is a fixed reward ratio,
// TP2 the tier minimum optionally snapped to a zone edge, and TP3 scales
// off TP2's final distance: a snap that moves TP2 moves TP3 with it, so
// TP3 always sits beyond TP2.
func (g *Generator) targets(a models.TimeframeAnalysis, dir models.Direction, entry, risk decimal.Decimal, score float64) (decimal.Decimal, decimal.Decimal, *decimal.Decimal) {
	sign := decimal.NewFromInt(1)
	if dir == models.DirectionShort {
		sign = decimal.NewFromInt(-1)
	}

	tierRR := g.tierRewardRatio(score)
	tp1 := entry.Add(sign.Mul(risk).Mul(decimal.NewFromFloat(g.cfg.TP1RewardRatio)))
	tp2 := entry.Add(sign.Mul(risk).Mul(decimal.NewFromFloat(tierRR)))
	tp2 = g.snapToZone(a, dir, entry, risk, tp2, tierRR)

	var tp3 *decimal.Decimal
	if score >= 70 {
		v := entry.Add(sign.Mul(tp2.Sub(entry).Abs()).Mul(decimal.NewFromFloat(g.cfg.TP3Factor)))
		tp3 = &v
	}
	return tp1, tp2, tp3
}

// snapToZone pulls TP2 back to the near edge of the first unbroken zone
// past TP1 in the profit direction, but only when the snapped target
// still clears the tier's minimum reward ratio.
func (g *Generator) snapToZone(a models.TimeframeAnalysis, dir models.Direction, entry, risk, tp2 decimal.Decimal, tierRR float64) decimal.Decimal {
	minTarget := risk.Mul(decimal.NewFromFloat(tierRR))

	var best *decimal.Decimal
	for _, z := range a.Zones {
		if z.Broken {
			continue
		}
		var edge decimal.Decimal
		if dir == models.DirectionLong {
			if z.Type == models.ZoneSupport {
				continue
			}
			edge = decimal.NewFromFloat(z.Bottom)
			if edge.LessThanOrEqual(entry) {
				continue
			}
		} else {
			if z.Type == models.ZoneResistance {
				continue
			}
			edge = decimal.NewFromFloat(z.Top)
			if edge.GreaterThanOrEqual(entry) {
				continue
			}
		}
		if edge.Sub(entry).Abs().LessThan(minTarget) {
			continue
		}
		if best == nil || edge.Sub(entry).Abs().LessThan(best.Sub(entry).Abs()) {
			e := edge
			best = &e
		}
	}
	if best != nil {
		return *best
	}
	return tp2
}

// classifySetup labels the market context. Checks run in priority
// order: a fakeout beats a breakout beats layered zones beats a plain
// range.
func (g *Generator) classifySetup(a models.TimeframeAnalysis, dir models.Direction) models.SetupType {
	candles := a.Candles
	if len(candles) < g.cfg.RangeLookback+1 {
		return models.SetupRange
	}

	window := candles[len(candles)-1-g.cfg.RangeLookback : len(candles)-1]
	hi, lo := window[0].High, window[0].Low
	var avgRange float64
	for _, c := range window {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
		avgRange += c.TotalRange()
	}
	avgRange /= float64(len(window))
	last := candles[len(candles)-1]

	// Fakeout: the extreme was pierced by a wick but the close came back
	// inside the range.
	if last.High > hi && last.Close < hi && dir == models.DirectionShort {
		return models.SetupFakeout
	}
	if last.Low < lo && last.Close > lo && dir == models.DirectionLong {
		return models.SetupFakeout
	}

	// Breakout: a close beyond the prior range extreme.
	if last.Close > hi || last.Close < lo {
		return models.SetupBreakout
	}

	// A tightly compressed window is a plain range regardless of the
	// zone picture.
	if avgRange > 0 && hi-lo <= g.cfg.RangeCompression*avgRange {
		return models.SetupRange
	}

	// Onion: price layered between live support and resistance.
	var hasSupport, hasResistance bool
	for _, z := range a.ActiveZones {
		switch z.Type {
		case models.ZoneSupport, models.ZoneSupportResistance:
			hasSupport = hasSupport || z.Mid() <= last.Close
		}
		switch z.Type {
		case models.ZoneResistance, models.ZoneSupportResistance:
			hasResistance = hasResistance || z.Mid() > last.Close
		}
	}
	if hasSupport && hasResistance {
		return models.SetupOnion
	}
	return models.SetupRange
}

// marketPhase combines the swing trend with the SMA slope; both must
// agree for a trend label.
func (g *Generator) marketPhase(a models.TimeframeAnalysis) models.MarketPhase {
	if len(a.Candles) <= g.cfg.SMAPeriod+1 {
		return models.PhaseRanging
	}
	closes := make([]float64, len(a.Candles))
	for i, c := range a.Candles {
		closes[i] = c.Close
	}
	sma := talib.Sma(closes, g.cfg.SMAPeriod)
	slope := sma[len(sma)-1] - sma[len(sma)-2]

	switch {
	case a.Trend == models.TrendUp && slope > 0:
		return models.PhaseUptrend
	case a.Trend == models.TrendDown && slope < 0:
		return models.PhaseDowntrend
	default:
		return models.PhaseRanging
	}
}

// htfBias is the pattern reading of the highest timeframe above the
// analysis timeframe, or neutral when none is higher.
func htfBias(score models.ConfluenceScore, analysisTF models.Timeframe) models.SignalLevel {
	bias := models.LevelNeutral
	best := analysisTF.Duration()
	for _, ts := range score.TimeframeScores {
		if d := ts.Timeframe.Duration(); d > best {
			best = d
			bias = ts.PatternSignal
		}
	}
	return bias
}

func reasoning(s *models.Signal) string {
	return fmt.Sprintf("%s %s on %s: confluence %.1f (%s), %d/%d timeframes agree, setup %s, phase %s",
		s.Direction, s.Symbol, s.Timeframe,
		s.Confluence.OverallScore, s.Confluence.Signal,
		agreeing(s.Confluence), len(s.Confluence.TimeframeScores),
		s.SetupType, s.MarketPhase)
}

func agreeing(c models.ConfluenceScore) int {
	n := 0
	for _, ts := range c.TimeframeScores {
		if (c.Signal.IsBullish() && ts.Signal.IsBullish()) ||
			(c.Signal.IsBearish() && ts.Signal.IsBearish()) {
			n++
		}
	}
	return n
}

// validate enforces side and ordering invariants before a signal may be
// emitted.
func validate(s *models.Signal) error {
	if s.Entry.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("non-positive entry %s", s.Entry)
	}
	if s.Risk().IsZero() {
		return fmt.Errorf("zero risk")
	}

	if s.Direction == models.DirectionLong {
		if s.StopLoss.GreaterThanOrEqual(s.Entry) {
			return fmt.Errorf("long stop %s not below entry %s", s.StopLoss, s.Entry)
		}
		if s.TakeProfit.LessThanOrEqual(s.Entry) || s.TP2.LessThanOrEqual(s.TakeProfit) {
			return fmt.Errorf("long targets not ascending: tp1 %s tp2 %s", s.TakeProfit, s.TP2)
		}
		if s.TP3 != nil && s.TP3.LessThanOrEqual(s.TP2) {
			return fmt.Errorf("long tp3 %s not above tp2 %s", s.TP3, s.TP2)
		}
	} else {
		if s.StopLoss.LessThanOrEqual(s.Entry) {
			return fmt.Errorf("short stop %s not above entry %s", s.StopLoss, s.Entry)
		}
		if s.TakeProfit.GreaterThanOrEqual(s.Entry) || s.TP2.GreaterThanOrEqual(s.TakeProfit) {
			return fmt.Errorf("short targets not descending: tp1 %s tp2 %s", s.TakeProfit, s.TP2)
		}
		if s.TP3 != nil && s.TP3.GreaterThanOrEqual(s.TP2) {
			return fmt.Errorf("short tp3 %s not below tp2 %s", s.TP3, s.TP2)
		}
	}
	return nil
}
