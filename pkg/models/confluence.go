package models

// SignalLevel is the overall directional reading of a confluence score.
type SignalLevel int

const (
	LevelNeutral SignalLevel = iota
	LevelBullish
	LevelStrongBullish
	LevelBearish
	LevelStrongBearish
)

func (l SignalLevel) String() string {
	switch l {
	case LevelStrongBullish:
		return "strong_bullish"
	case LevelBullish:
		return "bullish"
	case LevelBearish:
		return "bearish"
	case LevelStrongBearish:
		return "strong_bearish"
	default:
		return "neutral"
	}
}

// IsBullish reports whether the level reads long.
func (l SignalLevel) IsBullish() bool {
	return l == LevelBullish || l == LevelStrongBullish
}

// IsBearish reports whether the level reads short.
func (l SignalLevel) IsBearish() bool {
	return l == LevelBearish || l == LevelStrongBearish
}

// TimeframeAnalysis is the full detection output for one timeframe.
// It is recomputed whenever new candles arrive; consumers must treat
// the contained slices as read-only snapshots.
type TimeframeAnalysis struct {
	Symbol    string
	Timeframe Timeframe
	Candles   []Candle

	Patterns    []DetectedPattern
	Swings      []SwingPoint
	Breaks      []StructureBreak
	Zones       []Zone
	OrderBlocks []OrderBlock
	Gaps        []FairValueGap

	Trend          TrendDirection
	RecentPatterns []DetectedPattern
	ActiveZones    []Zone
	LastBreak      *StructureBreak
}

// CurrentPrice returns the close of the latest candle, or zero when empty.
func (a TimeframeAnalysis) CurrentPrice() float64 {
	if len(a.Candles) == 0 {
		return 0
	}
	return a.Candles[len(a.Candles)-1].Close
}

// TimeframeScore is the per-timeframe contribution to a confluence score.
// Signal is the composite reading; PatternSignal is the pattern
// component alone, which higher-timeframe bias reads.
type TimeframeScore struct {
	Timeframe     Timeframe
	Signal        SignalLevel
	PatternSignal SignalLevel
	Score         float64 // [0,100]
	Weight        float64
}

// ConfluenceScore fuses pattern, structure and zone signals across
// timeframes into one directional score. Produced fresh per evaluation.
type ConfluenceScore struct {
	OverallScore float64 // [0,100]
	Signal       SignalLevel

	PatternScore   float64 // [0,1]
	StructureScore float64 // [0,1]
	ZoneScore      float64 // [0,1]

	TimeframeScores       []TimeframeScore
	DominantTimeframe     Timeframe
	ConflictingTimeframes []Timeframe
	AgreementPercentage   float64 // [0,100]
}
