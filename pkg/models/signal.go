package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a trade signal.
type Direction int

const (
	DirectionLong Direction = iota
	DirectionShort
)

func (d Direction) String() string {
	if d == DirectionLong {
		return "long"
	}
	return "short"
}

// SetupType is the heuristic classification of the market context a
// signal was generated in.
type SetupType int

const (
	SetupRange SetupType = iota
	SetupBreakout
	SetupFakeout
	SetupOnion
)

func (s SetupType) String() string {
	switch s {
	case SetupBreakout:
		return "breakout"
	case SetupFakeout:
		return "fakeout"
	case SetupOnion:
		return "onion"
	default:
		return "range"
	}
}

// MarketPhase is the broad trend-vs-range context at signal time.
type MarketPhase int

const (
	PhaseRanging MarketPhase = iota
	PhaseUptrend
	PhaseDowntrend
)

func (p MarketPhase) String() string {
	switch p {
	case PhaseUptrend:
		return "uptrend"
	case PhaseDowntrend:
		return "downtrend"
	default:
		return "ranging"
	}
}

// Signal is a fully validated trade setup. It is created only after
// every risk check passes and is immutable once emitted. All prices are
// exact decimals.
type Signal struct {
	ID        string
	Timestamp time.Time
	Symbol    string
	Direction Direction
	Timeframe Timeframe

	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal // TP1
	TP2        decimal.Decimal
	TP3        *decimal.Decimal // only when confluence is high enough

	Confluence ConfluenceScore
	Patterns   []DetectedPattern

	SetupType   SetupType
	MarketPhase MarketPhase
	HTFBias     SignalLevel
	Reasoning   string
}

// Risk returns the entry-to-stop distance.
func (s Signal) Risk() decimal.Decimal {
	return s.Entry.Sub(s.StopLoss).Abs()
}

// RewardRatio returns the R-multiple at the given target.
func (s Signal) RewardRatio(target decimal.Decimal) decimal.Decimal {
	risk := s.Risk()
	if risk.IsZero() {
		return decimal.Zero
	}
	return target.Sub(s.Entry).Abs().Div(risk)
}
