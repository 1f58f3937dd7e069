package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the execution style of a simulated order.
type OrderType int

const (
	OrderMarket OrderType = iota
	OrderLimit
	OrderStop
)

func (t OrderType) String() string {
	switch t {
	case OrderLimit:
		return "limit"
	case OrderStop:
		return "stop"
	default:
		return "market"
	}
}

// OrderSide is the direction of a simulated order.
type OrderSide int

const (
	OrderBuy OrderSide = iota
	OrderSell
)

func (s OrderSide) String() string {
	if s == OrderBuy {
		return "buy"
	}
	return "sell"
}

// OrderPurpose ties an order back to the trade lifecycle stage it serves.
type OrderPurpose int

const (
	PurposeEntry OrderPurpose = iota
	PurposeStopLoss
	PurposeTP1
	PurposeTP2
)

func (p OrderPurpose) String() string {
	switch p {
	case PurposeStopLoss:
		return "stop_loss"
	case PurposeTP1:
		return "tp1"
	case PurposeTP2:
		return "tp2"
	default:
		return "entry"
	}
}

// Order is a pending simulated order owned by the backtest loop.
type Order struct {
	ID       string
	TradeID  string
	Symbol   string
	Type     OrderType
	Side     OrderSide
	Purpose  OrderPurpose
	Price    decimal.Decimal // limit/stop trigger price; unused for market
	Quantity decimal.Decimal
	Created  time.Time
}

// TradeStatus tracks the lifecycle of a simulated trade.
type TradeStatus int

const (
	TradeOpen TradeStatus = iota
	TradeTP1Hit
	TradeTP2Hit
	TradeStopped
	TradeClosed
)

func (s TradeStatus) String() string {
	switch s {
	case TradeTP1Hit:
		return "tp1_hit"
	case TradeTP2Hit:
		return "tp2_hit"
	case TradeStopped:
		return "stopped"
	case TradeClosed:
		return "closed"
	default:
		return "open"
	}
}

// Trade is one simulated trade opened from a signal. Quantity is the
// original size; Remaining tracks the outstanding portion across partial
// exits. A trade is fully closed only when Remaining reaches zero.
type Trade struct {
	ID        string
	SignalID  string
	Symbol    string
	Direction Direction
	Status    TradeStatus

	Quantity  decimal.Decimal
	Remaining decimal.Decimal

	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TP1        decimal.Decimal
	TP2        decimal.Decimal

	OpenTime  time.Time
	CloseTime time.Time

	RealizedPnL decimal.Decimal
	Commission  decimal.Decimal
	ExitReason  string
}

// Closed reports whether the trade has no outstanding quantity.
func (t Trade) Closed() bool {
	return t.Status == TradeClosed || t.Status == TradeStopped || t.Status == TradeTP2Hit
}

// PositionSide is the current exposure of a tracked position.
type PositionSide int

const (
	PositionFlat PositionSide = iota
	PositionLong
	PositionShort
)

func (s PositionSide) String() string {
	switch s {
	case PositionLong:
		return "long"
	case PositionShort:
		return "short"
	default:
		return "flat"
	}
}

// Position is the net exposure for one symbol. It is owned exclusively
// by the position tracker and mutated only through fill application.
type Position struct {
	Symbol        string
	Side          PositionSide
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal // volume-weighted
	CurrentPrice  decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// Metrics are the running performance statistics of a backtest,
// updated on every trade close.
type Metrics struct {
	TotalTrades int
	Wins        int
	Losses      int

	WinRate     decimal.Decimal // [0,100]
	GrossProfit decimal.Decimal
	GrossLoss   decimal.Decimal // negative or zero

	AvgWin      decimal.Decimal
	AvgLoss     decimal.Decimal
	LargestWin  decimal.Decimal
	LargestLoss decimal.Decimal

	ProfitFactor decimal.Decimal
	Expectancy   decimal.Decimal

	Peak           decimal.Decimal
	MaxDrawdown    decimal.Decimal
	MaxDrawdownPct decimal.Decimal
}

// BacktestStatus is the state of the engine's lifecycle machine.
type BacktestStatus int

const (
	StatusIdle BacktestStatus = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusFailed
)

func (s BacktestStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// BacktestState is a consistent snapshot of the engine emitted at yield
// points for streaming to a UI or log.
type BacktestState struct {
	Status       BacktestStatus
	CurrentIndex int
	CurrentTime  time.Time
	Progress     float64 // [0,100]

	Capital      decimal.Decimal
	Equity       decimal.Decimal
	CurrentPrice decimal.Decimal

	OpenTrades    []Trade
	RecentTrades  []Trade
	RecentSignals []Signal
	Metrics       Metrics

	// EquityCurve is populated on the final snapshot only.
	EquityCurve []EquityPoint
}
