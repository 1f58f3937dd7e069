package models

// SwingType distinguishes local highs from local lows.
type SwingType int

const (
	SwingHigh SwingType = iota
	SwingLow
)

func (t SwingType) String() string {
	if t == SwingHigh {
		return "high"
	}
	return "low"
}

// SwingPoint is a local extremum confirmed by a symmetric lookback window.
// Strength records the lookback window size that produced the point; Score
// is the quality rating in [0,1] used to discard weak extremes.
type SwingPoint struct {
	CandleIndex int
	Type        SwingType
	Price       float64
	Strength    int
	Score       float64
	Confirmed   bool
	Broken      bool
}

// BreakType classifies a structure break relative to the prevailing trend.
type BreakType int

const (
	// BreakBOS continues the trend implied by the recent swing sequence.
	BreakBOS BreakType = iota
	// BreakCHoCH reverses it.
	BreakCHoCH
)

func (t BreakType) String() string {
	if t == BreakBOS {
		return "BOS"
	}
	return "CHoCH"
}

// TrendDirection is the direction implied by a swing sequence.
type TrendDirection int

const (
	TrendNone TrendDirection = iota
	TrendUp
	TrendDown
)

func (t TrendDirection) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendDown:
		return "down"
	default:
		return "none"
	}
}

// StructureBreak records a close beyond a confirmed swing point.
type StructureBreak struct {
	Type            BreakType
	BrokenSwing     SwingPoint
	CandleIndex     int
	BreakPrice      float64
	Significance    float64 // [0,1]
	VolumeConfirmed bool
}

// Direction returns the direction of the breaking move: a broken swing
// high means price pushed up, a broken swing low means it pushed down.
func (b StructureBreak) Direction() TrendDirection {
	if b.BrokenSwing.Type == SwingHigh {
		return TrendUp
	}
	return TrendDown
}

// OrderBlock is the last opposite-colored candle before a strong
// directional move, validated by above-average volume.
type OrderBlock struct {
	CandleIndex int
	High        float64
	Low         float64
	Direction   TrendDirection // direction of the move the block precedes
	VolumeRatio float64
}

// FairValueGap is a three-candle inefficiency where the outer candles'
// ranges do not overlap.
type FairValueGap struct {
	CandleIndex int // index of the middle candle
	Top         float64
	Bottom      float64
	Direction   TrendDirection
	FillPercent float64 // [0,1], recomputed on each new price observation
}

// Size returns the gap height in price units.
func (g FairValueGap) Size() float64 {
	return g.Top - g.Bottom
}

// WithFill returns a copy of the gap with the fill percentage recomputed
// for the given price. The original gap is not mutated.
func (g FairValueGap) WithFill(price float64) FairValueGap {
	size := g.Size()
	if size <= 0 {
		g.FillPercent = 1
		return g
	}
	var filled float64
	if g.Direction == TrendUp {
		// Bullish gap below price fills as price trades back down into it.
		filled = (g.Top - price) / size
	} else {
		filled = (price - g.Bottom) / size
	}
	if filled < 0 {
		filled = 0
	}
	if filled > 1 {
		filled = 1
	}
	if filled > g.FillPercent {
		g.FillPercent = filled
	}
	return g
}
