package models

import (
	"fmt"
	"math"
	"time"
)

// Timeframe identifies the candle interval of a series.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
}

// Duration returns the candle duration of the timeframe, or zero for an
// unknown interval string.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Valid reports whether the timeframe is one of the supported intervals.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Candle is a single OHLCV bar. Candles are immutable once constructed;
// all derived geometry is exposed through methods rather than stored fields.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Symbol    string
	Timeframe Timeframe
}

// NewCandle validates the OHLC relationship and returns the candle.
// The invariant is low <= min(open,close) <= max(open,close) <= high.
func NewCandle(ts time.Time, open, high, low, close, volume float64, symbol string, tf Timeframe) (Candle, error) {
	if low > math.Min(open, close) || high < math.Max(open, close) || low > high {
		return Candle{}, fmt.Errorf("invalid candle at %s: O=%.8f H=%.8f L=%.8f C=%.8f",
			ts.Format(time.RFC3339), open, high, low, close)
	}
	return Candle{
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Symbol:    symbol,
		Timeframe: tf,
	}, nil
}

// BodySize returns |close - open|.
func (c Candle) BodySize() float64 {
	return math.Abs(c.Close - c.Open)
}

// UpperWick returns the distance from the high to the top of the body.
func (c Candle) UpperWick() float64 {
	return c.High - math.Max(c.Open, c.Close)
}

// LowerWick returns the distance from the bottom of the body to the low.
func (c Candle) LowerWick() float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

// TotalRange returns high - low.
func (c Candle) TotalRange() float64 {
	return c.High - c.Low
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}
