package models

// PatternType enumerates every candle pattern the detector can report.
// Consumers switch over this exhaustively; adding a type here must be
// reflected in the confluence scorer and signal generator.
type PatternType int

const (
	PatternLE PatternType = iota
	PatternStrongBullish
	PatternStrongBearish
	PatternDoji
	PatternCelery
	PatternHammer
	PatternInvertedHammer
	PatternBullishPinBar
	PatternBearishPinBar
	PatternSmallWick
	PatternSteeperWick
	PatternBullishEngulfing
	PatternBearishEngulfing
	PatternInsideBar
	PatternOutsideBar
)

var patternNames = map[PatternType]string{
	PatternLE:               "le_candle",
	PatternStrongBullish:    "strong_bullish",
	PatternStrongBearish:    "strong_bearish",
	PatternDoji:             "doji",
	PatternCelery:           "celery",
	PatternHammer:           "hammer",
	PatternInvertedHammer:   "inverted_hammer",
	PatternBullishPinBar:    "bullish_pin_bar",
	PatternBearishPinBar:    "bearish_pin_bar",
	PatternSmallWick:        "small_wick",
	PatternSteeperWick:      "steeper_wick",
	PatternBullishEngulfing: "bullish_engulfing",
	PatternBearishEngulfing: "bearish_engulfing",
	PatternInsideBar:        "inside_bar",
	PatternOutsideBar:       "outside_bar",
}

func (p PatternType) String() string {
	if s, ok := patternNames[p]; ok {
		return s
	}
	return "unknown"
}

// PatternSignal is the directional reading of a detected pattern.
type PatternSignal int

const (
	SignalNeutral PatternSignal = iota
	SignalBullish
	SignalBearish
	SignalReversal
)

func (s PatternSignal) String() string {
	switch s {
	case SignalBullish:
		return "bullish"
	case SignalBearish:
		return "bearish"
	case SignalReversal:
		return "reversal"
	default:
		return "neutral"
	}
}

// DetectedPattern is one pattern occurrence at a candle index. Multiple
// patterns may coexist at the same index. Immutable once produced.
type DetectedPattern struct {
	Type        PatternType
	Signal      PatternSignal
	Strength    float64 // [0,1]
	CandleIndex int
	Metadata    map[string]float64
}
