// Package pattern implements single- and multi-candle pattern detection
// over OHLCV series. Detection is a pure function of its input: the
// detector keeps no state between calls and never mutates the candles.
package pattern

import (
	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

// Detector recognises candle patterns using configured thresholds.
type Detector struct {
	cfg config.PatternConfig
}

// NewDetector creates a pattern detector.
func NewDetector(cfg config.PatternConfig) *Detector {
	return &Detector{cfg: cfg}
}

// DetectAll runs every pattern check over the series and returns all
// occurrences ordered by candle index. Candles with zero total range are
// skipped entirely; they produce no pattern and no division by zero.
func (d *Detector) DetectAll(candles []models.Candle) []models.DetectedPattern {
	var patterns []models.DetectedPattern

	for i, c := range candles {
		if c.TotalRange() == 0 {
			continue
		}

		patterns = appendPattern(patterns, d.detectLE(c, i))
		patterns = appendPattern(patterns, d.detectStrongDirectional(c, i))
		patterns = appendPattern(patterns, d.detectDoji(c, i))
		patterns = appendPattern(patterns, d.detectCelery(c, i))
		patterns = appendPattern(patterns, d.detectHammer(c, i))
		patterns = appendPattern(patterns, d.detectInvertedHammer(c, i))
		patterns = appendPattern(patterns, d.detectPinBar(c, i))
		patterns = appendPattern(patterns, d.detectSmallWick(c, i))
		patterns = appendPattern(patterns, d.detectSteeperWick(c, i))

		if i == 0 {
			continue
		}
		prev := candles[i-1]
		patterns = appendPattern(patterns, d.detectEngulfing(prev, c, i))
		patterns = appendPattern(patterns, d.detectInsideBar(prev, c, i))
		patterns = appendPattern(patterns, d.detectOutsideBar(prev, c, i))
	}

	if d.cfg.MinStrength > 0 {
		return Filter(patterns, d.cfg.MinStrength)
	}
	return patterns
}

// Filter returns the patterns at or above the minimum strength.
func Filter(patterns []models.DetectedPattern, minStrength float64) []models.DetectedPattern {
	out := make([]models.DetectedPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Strength >= minStrength {
			out = append(out, p)
		}
	}
	return out
}

// AtIndex returns the patterns detected at one candle index.
func AtIndex(patterns []models.DetectedPattern, idx int) []models.DetectedPattern {
	var out []models.DetectedPattern
	for _, p := range patterns {
		if p.CandleIndex == idx {
			out = append(out, p)
		}
	}
	return out
}

func appendPattern(patterns []models.DetectedPattern, p *models.DetectedPattern) []models.DetectedPattern {
	if p == nil {
		return patterns
	}
	return append(patterns, *p)
}

// detectLE finds full-bodied directional candles: a dominant body with
// both wicks small. Strength equals the body share of the range.
func (d *Detector) detectLE(c models.Candle, idx int) *models.DetectedPattern {
	total := c.TotalRange()
	bodyRatio := c.BodySize() / total
	upperRatio := c.UpperWick() / total
	lowerRatio := c.LowerWick() / total

	if bodyRatio < d.cfg.LEBodyRatio || upperRatio > d.cfg.LEWickRatio || lowerRatio > d.cfg.LEWickRatio {
		return nil
	}

	signal := models.SignalBullish
	if c.IsBearish() {
		signal = models.SignalBearish
	}
	return &models.DetectedPattern{
		Type:        models.PatternLE,
		Signal:      signal,
		Strength:    clamp01(bodyRatio),
		CandleIndex: idx,
		Metadata:    map[string]float64{"body_ratio": bodyRatio},
	}
}

func (d *Detector) detectStrongDirectional(c models.Candle, idx int) *models.DetectedPattern {
	bodyRatio := c.BodySize() / c.TotalRange()
	if bodyRatio < d.cfg.StrongBodyRatio || !c.IsBullish() && !c.IsBearish() {
		return nil
	}

	typ, signal := models.PatternStrongBullish, models.SignalBullish
	if c.IsBearish() {
		typ, signal = models.PatternStrongBearish, models.SignalBearish
	}
	strength := clamp01(0.5 + 0.5*(bodyRatio-d.cfg.StrongBodyRatio)/(1-d.cfg.StrongBodyRatio))
	return &models.DetectedPattern{
		Type:        typ,
		Signal:      signal,
		Strength:    strength,
		CandleIndex: idx,
		Metadata:    map[string]float64{"body_ratio": bodyRatio},
	}
}

func (d *Detector) detectDoji(c models.Candle, idx int) *models.DetectedPattern {
	bodyRatio := c.BodySize() / c.TotalRange()
	if bodyRatio >= d.cfg.DojiBodyRatio {
		return nil
	}
	return &models.DetectedPattern{
		Type:        models.PatternDoji,
		Signal:      models.SignalNeutral,
		Strength:    clamp01((d.cfg.DojiBodyRatio - bodyRatio) / d.cfg.DojiBodyRatio),
		CandleIndex: idx,
		Metadata:    map[string]float64{"body_ratio": bodyRatio},
	}
}

// detectCelery finds indecision churn: a small body squeezed between two
// long, roughly symmetric wicks.
func (d *Detector) detectCelery(c models.Candle, idx int) *models.DetectedPattern {
	total := c.TotalRange()
	bodyRatio := c.BodySize() / total
	upperRatio := c.UpperWick() / total
	lowerRatio := c.LowerWick() / total

	if bodyRatio > d.cfg.CeleryBodyRatio || upperRatio < d.cfg.CeleryWickRatio || lowerRatio < d.cfg.CeleryWickRatio {
		return nil
	}
	longer, shorter := upperRatio, lowerRatio
	if lowerRatio > upperRatio {
		longer, shorter = lowerRatio, upperRatio
	}
	if shorter > 0 && longer/shorter > 1.5 {
		return nil
	}

	strength := clamp01(0.5*(upperRatio+lowerRatio)/d.cfg.CeleryWickRatio*0.5 +
		0.5*(d.cfg.CeleryBodyRatio-bodyRatio)/d.cfg.CeleryBodyRatio)
	return &models.DetectedPattern{
		Type:        models.PatternCelery,
		Signal:      models.SignalNeutral,
		Strength:    strength,
		CandleIndex: idx,
	}
}

func (d *Detector) detectHammer(c models.Candle, idx int) *models.DetectedPattern {
	body := c.BodySize()
	if body == 0 {
		return nil
	}
	wickBody := c.LowerWick() / body
	if wickBody < d.cfg.HammerWickRatio || c.UpperWick() > d.cfg.HammerOppWickMax*c.TotalRange() {
		return nil
	}
	return &models.DetectedPattern{
		Type:        models.PatternHammer,
		Signal:      models.SignalBullish,
		Strength:    clamp01(wickBody / (2 * d.cfg.HammerWickRatio)),
		CandleIndex: idx,
		Metadata:    map[string]float64{"wick_body_ratio": wickBody},
	}
}

func (d *Detector) detectInvertedHammer(c models.Candle, idx int) *models.DetectedPattern {
	body := c.BodySize()
	if body == 0 {
		return nil
	}
	wickBody := c.UpperWick() / body
	if wickBody < d.cfg.HammerWickRatio || c.LowerWick() > d.cfg.HammerOppWickMax*c.TotalRange() {
		return nil
	}
	return &models.DetectedPattern{
		Type:        models.PatternInvertedHammer,
		Signal:      models.SignalReversal,
		Strength:    clamp01(wickBody / (2 * d.cfg.HammerWickRatio)),
		CandleIndex: idx,
		Metadata:    map[string]float64{"wick_body_ratio": wickBody},
	}
}

func (d *Detector) detectPinBar(c models.Candle, idx int) *models.DetectedPattern {
	total := c.TotalRange()
	if c.BodySize()/total > d.cfg.PinBarBodyMax {
		return nil
	}

	lowerRatio := c.LowerWick() / total
	upperRatio := c.UpperWick() / total

	if lowerRatio >= d.cfg.PinBarWickRatio {
		return &models.DetectedPattern{
			Type:        models.PatternBullishPinBar,
			Signal:      models.SignalBullish,
			Strength:    clamp01(2*lowerRatio - d.cfg.PinBarWickRatio),
			CandleIndex: idx,
			Metadata:    map[string]float64{"wick_ratio": lowerRatio},
		}
	}
	if upperRatio >= d.cfg.PinBarWickRatio {
		return &models.DetectedPattern{
			Type:        models.PatternBearishPinBar,
			Signal:      models.SignalBearish,
			Strength:    clamp01(2*upperRatio - d.cfg.PinBarWickRatio),
			CandleIndex: idx,
			Metadata:    map[string]float64{"wick_ratio": upperRatio},
		}
	}
	return nil
}

// detectSmallWick finds conviction candles: a directional body with
// almost no wick on either side.
func (d *Detector) detectSmallWick(c models.Candle, idx int) *models.DetectedPattern {
	total := c.TotalRange()
	bodyRatio := c.BodySize() / total
	if bodyRatio < d.cfg.SmallWickBodyMin ||
		c.UpperWick()/total > d.cfg.SmallWickRatio ||
		c.LowerWick()/total > d.cfg.SmallWickRatio {
		return nil
	}

	signal := models.SignalBullish
	if c.IsBearish() {
		signal = models.SignalBearish
	}
	return &models.DetectedPattern{
		Type:        models.PatternSmallWick,
		Signal:      signal,
		Strength:    clamp01(bodyRatio),
		CandleIndex: idx,
	}
}

// detectSteeperWick finds one-sided rejection: a wick dominating both
// the range and the opposite wick. A long upper wick rejects higher
// prices (bearish) and vice versa.
func (d *Detector) detectSteeperWick(c models.Candle, idx int) *models.DetectedPattern {
	total := c.TotalRange()
	upper := c.UpperWick()
	lower := c.LowerWick()

	if upper/total >= d.cfg.SteeperWickRatio && upper >= d.cfg.SteeperWickFactor*lower {
		return &models.DetectedPattern{
			Type:        models.PatternSteeperWick,
			Signal:      models.SignalBearish,
			Strength:    clamp01(2*upper/total - d.cfg.SteeperWickRatio),
			CandleIndex: idx,
			Metadata:    map[string]float64{"wick_ratio": upper / total},
		}
	}
	if lower/total >= d.cfg.SteeperWickRatio && lower >= d.cfg.SteeperWickFactor*upper {
		return &models.DetectedPattern{
			Type:        models.PatternSteeperWick,
			Signal:      models.SignalBullish,
			Strength:    clamp01(2*lower/total - d.cfg.SteeperWickRatio),
			CandleIndex: idx,
			Metadata:    map[string]float64{"wick_ratio": lower / total},
		}
	}
	return nil
}

// detectEngulfing compares the current body against the previous one.
// Coverage measures how far beyond the prior body the close reaches,
// as a multiple of the prior body size.
func (d *Detector) detectEngulfing(prev, c models.Candle, idx int) *models.DetectedPattern {
	prevBody := prev.BodySize()
	if prevBody == 0 {
		return nil
	}
	prevTop := max(prev.Open, prev.Close)
	prevBottom := min(prev.Open, prev.Close)
	slack := (1 - d.cfg.EngulfingCoverage) * prevBody

	if c.IsBullish() && prev.IsBearish() && c.Open <= prevBottom+slack {
		coverage := (c.Close - prevBottom) / prevBody
		if coverage >= d.cfg.EngulfingCoverage {
			return &models.DetectedPattern{
				Type:        models.PatternBullishEngulfing,
				Signal:      models.SignalBullish,
				Strength:    clamp01(0.5 + 0.5*(coverage-1)),
				CandleIndex: idx,
				Metadata:    map[string]float64{"coverage": coverage},
			}
		}
	}
	if c.IsBearish() && prev.IsBullish() && c.Open >= prevTop-slack {
		coverage := (prevTop - c.Close) / prevBody
		if coverage >= d.cfg.EngulfingCoverage {
			return &models.DetectedPattern{
				Type:        models.PatternBearishEngulfing,
				Signal:      models.SignalBearish,
				Strength:    clamp01(0.5 + 0.5*(coverage-1)),
				CandleIndex: idx,
				Metadata:    map[string]float64{"coverage": coverage},
			}
		}
	}
	return nil
}

func (d *Detector) detectInsideBar(prev, c models.Candle, idx int) *models.DetectedPattern {
	prevRange := prev.TotalRange()
	if prevRange == 0 {
		return nil
	}
	if c.High > prev.High || c.Low < prev.Low {
		return nil
	}
	return &models.DetectedPattern{
		Type:        models.PatternInsideBar,
		Signal:      models.SignalNeutral,
		Strength:    clamp01(1 - c.TotalRange()/prevRange),
		CandleIndex: idx,
	}
}

func (d *Detector) detectOutsideBar(prev, c models.Candle, idx int) *models.DetectedPattern {
	if prev.TotalRange() == 0 {
		return nil
	}
	if c.High < prev.High || c.Low > prev.Low || c.TotalRange() <= prev.TotalRange() {
		return nil
	}
	return &models.DetectedPattern{
		Type:        models.PatternOutsideBar,
		Signal:      models.SignalReversal,
		Strength:    clamp01(1 - prev.TotalRange()/c.TotalRange()),
		CandleIndex: idx,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
