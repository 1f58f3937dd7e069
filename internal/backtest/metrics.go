package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/skarlet-lab/mtfa/pkg/models"
)

var hundred = decimal.NewFromInt(100)

// MetricsTracker accumulates trade statistics and the drawdown profile.
// It is not safe for concurrent use; the engine serializes access.
type MetricsTracker struct {
	m   models.Metrics
	net decimal.Decimal
}

// NewMetricsTracker starts the drawdown peak at the initial capital so
// an immediate loss registers as drawdown.
func NewMetricsTracker(initialCapital decimal.Decimal) *MetricsTracker {
	return &MetricsTracker{m: models.Metrics{Peak: initialCapital}}
}

// RecordClose folds one closed trade's net P&L (after commission) into
// the statistics.
func (t *MetricsTracker) RecordClose(pnl decimal.Decimal) {
	m := &t.m
	m.TotalTrades++
	t.net = t.net.Add(pnl)

	if pnl.IsPositive() {
		m.Wins++
		m.GrossProfit = m.GrossProfit.Add(pnl)
		if pnl.GreaterThan(m.LargestWin) {
			m.LargestWin = pnl
		}
		m.AvgWin = m.GrossProfit.Div(decimal.NewFromInt(int64(m.Wins)))
	} else {
		m.Losses++
		m.GrossLoss = m.GrossLoss.Add(pnl)
		if pnl.LessThan(m.LargestLoss) {
			m.LargestLoss = pnl
		}
		m.AvgLoss = m.GrossLoss.Div(decimal.NewFromInt(int64(m.Losses)))
	}

	m.WinRate = decimal.NewFromInt(int64(m.Wins)).Div(decimal.NewFromInt(int64(m.TotalTrades))).Mul(hundred)
	if m.GrossLoss.IsNegative() {
		m.ProfitFactor = m.GrossProfit.Div(m.GrossLoss.Abs())
	} else {
		m.ProfitFactor = m.GrossProfit
	}
	m.Expectancy = t.net.Div(decimal.NewFromInt(int64(m.TotalTrades)))
}

// MarkEquity updates the running peak and maximum drawdown.
func (t *MetricsTracker) MarkEquity(equity decimal.Decimal) {
	m := &t.m
	if equity.GreaterThan(m.Peak) {
		m.Peak = equity
	}
	dd := m.Peak.Sub(equity)
	if dd.GreaterThan(m.MaxDrawdown) {
		m.MaxDrawdown = dd
		if m.Peak.IsPositive() {
			m.MaxDrawdownPct = dd.Div(m.Peak).Mul(hundred)
		}
	}
}

// Snapshot returns a copy of the current metrics.
func (t *MetricsTracker) Snapshot() models.Metrics {
	return t.m
}
