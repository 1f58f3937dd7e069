// Package structure implements market-structure analysis: swing-point
// detection, Break-of-Structure / Change-of-Character classification,
// order blocks and fair-value gaps. Every detector returns empty results
// for empty or single-candle input and never mutates its inputs; swing
// updates ("broken") are applied to copies in the returned slice.
package structure

import (
	"math"

	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

// Analyzer detects market structure from candle series.
type Analyzer struct {
	cfg config.StructureConfig
}

// NewAnalyzer creates a structure analyzer.
func NewAnalyzer(cfg config.StructureConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// DetectSwings finds local extremes over a symmetric lookback window.
// A candle is a swing high iff its high is >= every high in
// [i-lookback, i+lookback] excluding itself; the dual holds for lows.
// Points scoring below the configured minimum are discarded.
func (a *Analyzer) DetectSwings(candles []models.Candle) []models.SwingPoint {
	lookback := a.cfg.SwingLookback
	if len(candles) < 2*lookback+1 {
		return nil
	}

	var swings []models.SwingPoint
	for i := lookback; i < len(candles)-lookback; i++ {
		isHigh, isLow := true, true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if candles[j].High > candles[i].High {
				isHigh = false
			}
			if candles[j].Low < candles[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			sp := a.buildSwing(candles, i, models.SwingHigh)
			if sp.Score >= a.cfg.MinSwingScore {
				swings = append(swings, sp)
			}
		}
		if isLow {
			sp := a.buildSwing(candles, i, models.SwingLow)
			if sp.Score >= a.cfg.MinSwingScore {
				swings = append(swings, sp)
			}
		}
	}
	return swings
}

// buildSwing scores a swing candidate from volume relative to the local
// average, price deviation from the neighbouring extremes, and wick size.
// The weighted sum is capped at 1.0.
func (a *Analyzer) buildSwing(candles []models.Candle, i int, typ models.SwingType) models.SwingPoint {
	lookback := a.cfg.SwingLookback
	c := candles[i]

	price := c.High
	if typ == models.SwingLow {
		price = c.Low
	}

	// Volume against the window average.
	var volSum float64
	count := 0
	for j := i - lookback; j <= i+lookback; j++ {
		if j == i {
			continue
		}
		volSum += candles[j].Volume
		count++
	}
	volComponent := 0.5
	if count > 0 && volSum > 0 {
		volComponent = clamp01(c.Volume / (volSum / float64(count)) / 2)
	}

	// Deviation from the opposing window extreme, relative to price.
	var extreme float64
	if typ == models.SwingHigh {
		extreme = 0
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			extreme = math.Max(extreme, candles[j].High)
		}
	} else {
		extreme = math.Inf(1)
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			extreme = math.Min(extreme, candles[j].Low)
		}
	}
	devComponent := 0.0
	if price > 0 {
		devComponent = clamp01(math.Abs(price-extreme) / price / 0.02)
	}

	// Wick on the swing side shows rejection of the extreme.
	wickComponent := 0.0
	if total := c.TotalRange(); total > 0 {
		if typ == models.SwingHigh {
			wickComponent = clamp01(c.UpperWick() / total)
		} else {
			wickComponent = clamp01(c.LowerWick() / total)
		}
	}

	score := 0.4*volComponent + 0.4*devComponent + 0.2*wickComponent
	if score > 1 {
		score = 1
	}

	return models.SwingPoint{
		CandleIndex: i,
		Type:        typ,
		Price:       price,
		Strength:    lookback,
		Score:       score,
		Confirmed:   a.isConfirmed(candles, i, typ, price),
	}
}

// isConfirmed checks that no candle violates the point for the
// configured number of periods after it.
func (a *Analyzer) isConfirmed(candles []models.Candle, i int, typ models.SwingType, price float64) bool {
	if i+a.cfg.ConfirmationPeriods >= len(candles) {
		return false
	}
	for j := i + 1; j <= i+a.cfg.ConfirmationPeriods; j++ {
		if typ == models.SwingHigh && candles[j].High > price {
			return false
		}
		if typ == models.SwingLow && candles[j].Low < price {
			return false
		}
	}
	return true
}

// DetectBreaks walks forward from each confirmed, unbroken swing and
// records the first close beyond its price. Same-direction breaks
// relative to the prevailing swing trend are BOS, opposite are CHoCH.
// The returned swings slice carries updated broken flags; the input
// slice is left untouched.
func (a *Analyzer) DetectBreaks(candles []models.Candle, swings []models.SwingPoint) ([]models.StructureBreak, []models.SwingPoint) {
	if len(candles) < 2 || len(swings) == 0 {
		return nil, swings
	}

	updated := make([]models.SwingPoint, len(swings))
	copy(updated, swings)

	var breaks []models.StructureBreak
	for si := range updated {
		sp := updated[si]
		if !sp.Confirmed || sp.Broken {
			continue
		}

		for ci := sp.CandleIndex + 1; ci < len(candles); ci++ {
			c := candles[ci]
			broken := (sp.Type == models.SwingHigh && c.Close > sp.Price) ||
				(sp.Type == models.SwingLow && c.Close < sp.Price)
			if !broken {
				continue
			}

			updated[si].Broken = true
			brk := models.StructureBreak{
				BrokenSwing:     updated[si],
				CandleIndex:     ci,
				BreakPrice:      c.Close,
				VolumeConfirmed: a.volumeConfirmed(candles, ci),
			}
			brk.Type = a.classifyBreak(updated, si)
			brk.Significance = a.significance(brk)
			breaks = append(breaks, brk)
			break
		}
	}
	return breaks, updated
}

// classifyBreak compares the break direction against the trend implied
// by the two most recent swings of the broken swing's type.
func (a *Analyzer) classifyBreak(swings []models.SwingPoint, brokenIdx int) models.BreakType {
	sp := swings[brokenIdx]
	trend := swingTrend(swings, brokenIdx)

	// Breaking a swing high is an upward move, breaking a low downward.
	breakDir := models.TrendUp
	if sp.Type == models.SwingLow {
		breakDir = models.TrendDown
	}

	if trend == models.TrendNone || trend == breakDir {
		return models.BreakBOS
	}
	return models.BreakCHoCH
}

// swingTrend infers direction from the last two swings of the same type
// at or before the given swing.
func swingTrend(swings []models.SwingPoint, idx int) models.TrendDirection {
	sp := swings[idx]
	for i := idx - 1; i >= 0; i-- {
		if swings[i].Type != sp.Type {
			continue
		}
		switch {
		case sp.Price > swings[i].Price:
			return models.TrendUp
		case sp.Price < swings[i].Price:
			return models.TrendDown
		}
		return models.TrendNone
	}
	return models.TrendNone
}

// volumeConfirmed reports whether the break candle's volume exceeds the
// trailing average by the configured factor. Recorded, not required.
func (a *Analyzer) volumeConfirmed(candles []models.Candle, ci int) bool {
	const trailing = 20
	start := ci - trailing
	if start < 0 {
		start = 0
	}
	if ci == start {
		return false
	}
	var sum float64
	for j := start; j < ci; j++ {
		sum += candles[j].Volume
	}
	avg := sum / float64(ci-start)
	return avg > 0 && candles[ci].Volume > a.cfg.VolumeFactor*avg
}

// significance blends the break margin with volume confirmation.
func (a *Analyzer) significance(brk models.StructureBreak) float64 {
	margin := 0.0
	if brk.BrokenSwing.Price > 0 {
		margin = math.Abs(brk.BreakPrice-brk.BrokenSwing.Price) / brk.BrokenSwing.Price
	}
	sig := clamp01(margin * 100)
	if sig > 0.7 {
		sig = 0.7
	}
	if brk.VolumeConfirmed {
		sig += 0.3
	}
	return clamp01(sig)
}

// DetectOrderBlocks finds the last opposite-colored candle before a
// strong directional move, validated by above-average volume.
func (a *Analyzer) DetectOrderBlocks(candles []models.Candle) []models.OrderBlock {
	if len(candles) < 3 {
		return nil
	}

	avgBody := averageBody(candles)
	if avgBody == 0 {
		return nil
	}
	avgVolume := averageVolume(candles)

	var blocks []models.OrderBlock
	for i := 1; i < len(candles); i++ {
		move := candles[i]
		total := move.TotalRange()
		if total == 0 {
			continue
		}
		if move.BodySize()/total < a.cfg.OrderBlockBodyRatio ||
			move.BodySize() < a.cfg.OrderBlockMoveMult*avgBody {
			continue
		}

		block := candles[i-1]
		opposite := (move.IsBullish() && block.IsBearish()) || (move.IsBearish() && block.IsBullish())
		if !opposite {
			continue
		}
		if avgVolume > 0 && block.Volume <= avgVolume {
			continue
		}

		dir := models.TrendUp
		if move.IsBearish() {
			dir = models.TrendDown
		}
		blocks = append(blocks, models.OrderBlock{
			CandleIndex: i - 1,
			High:        block.High,
			Low:         block.Low,
			Direction:   dir,
			VolumeRatio: block.Volume / avgVolume,
		})
	}
	return blocks
}

// DetectGaps finds three-candle fair-value gaps: sequences where the
// outer candles' ranges do not overlap. Gaps smaller than the minimum
// percentage of price are discarded. Fill percentages reflect the most
// recent close.
func (a *Analyzer) DetectGaps(candles []models.Candle) []models.FairValueGap {
	if len(candles) < 3 {
		return nil
	}

	lastPrice := candles[len(candles)-1].Close

	var gaps []models.FairValueGap
	for i := 2; i < len(candles); i++ {
		first, last := candles[i-2], candles[i]

		// Bullish gap: the later candle's low clears the earlier high.
		if last.Low > first.High {
			g := models.FairValueGap{
				CandleIndex: i - 1,
				Top:         last.Low,
				Bottom:      first.High,
				Direction:   models.TrendUp,
			}
			if g.Size() >= a.cfg.MinGapPercent*first.High {
				gaps = append(gaps, g.WithFill(lastPrice))
			}
		}
		// Bearish gap: the later candle's high stays under the earlier low.
		if last.High < first.Low {
			g := models.FairValueGap{
				CandleIndex: i - 1,
				Top:         first.Low,
				Bottom:      last.High,
				Direction:   models.TrendDown,
			}
			if g.Size() >= a.cfg.MinGapPercent*first.Low {
				gaps = append(gaps, g.WithFill(lastPrice))
			}
		}
	}
	return gaps
}

// Trend infers the current direction from the most recent confirmed
// swing highs and lows: higher highs and higher lows make an uptrend,
// the opposite a downtrend, anything else none.
func Trend(swings []models.SwingPoint) models.TrendDirection {
	var highs, lows []models.SwingPoint
	for _, sp := range swings {
		if !sp.Confirmed {
			continue
		}
		if sp.Type == models.SwingHigh {
			highs = append(highs, sp)
		} else {
			lows = append(lows, sp)
		}
	}
	if len(highs) < 2 || len(lows) < 2 {
		return models.TrendNone
	}

	hh := highs[len(highs)-1].Price > highs[len(highs)-2].Price
	hl := lows[len(lows)-1].Price > lows[len(lows)-2].Price
	switch {
	case hh && hl:
		return models.TrendUp
	case !hh && !hl:
		return models.TrendDown
	default:
		return models.TrendNone
	}
}

func averageBody(candles []models.Candle) float64 {
	var sum float64
	for _, c := range candles {
		sum += c.BodySize()
	}
	return sum / float64(len(candles))
}

func averageVolume(candles []models.Candle) float64 {
	var sum float64
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
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
