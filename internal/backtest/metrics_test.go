package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMetrics_WinLossAccounting(t *testing.T) {
	m := NewMetricsTracker(decimal.NewFromInt(10000))

	m.RecordClose(dec("100"))
	m.RecordClose(dec("-50"))
	m.RecordClose(dec("30"))

	got := m.Snapshot()
	if got.TotalTrades != 3 || got.Wins != 2 || got.Losses != 1 {
		t.Fatalf("counts: want 3/2/1, got %d/%d/%d", got.TotalTrades, got.Wins, got.Losses)
	}
	if !got.GrossProfit.Equal(dec("130")) {
		t.Errorf("gross profit: want 130, got %s", got.GrossProfit)
	}
	if !got.GrossLoss.Equal(dec("-50")) {
		t.Errorf("gross loss: want -50, got %s", got.GrossLoss)
	}
	if !got.AvgWin.Equal(dec("65")) {
		t.Errorf("avg win: want 65, got %s", got.AvgWin)
	}
	if !got.LargestWin.Equal(dec("100")) || !got.LargestLoss.Equal(dec("-50")) {
		t.Errorf("extremes: got %s / %s", got.LargestWin, got.LargestLoss)
	}
	if !got.ProfitFactor.Equal(dec("2.6")) {
		t.Errorf("profit factor: want 2.6, got %s", got.ProfitFactor)
	}
	if want := dec("80").Div(dec("3")); !got.Expectancy.Equal(want) {
		t.Errorf("expectancy: want %s, got %s", want, got.Expectancy)
	}
	if got.WinRate.StringFixed(2) != "66.67" {
		t.Errorf("win rate: want 66.67, got %s", got.WinRate.StringFixed(2))
	}
}

func TestMetrics_Drawdown(t *testing.T) {
	m := NewMetricsTracker(decimal.NewFromInt(10000))

	m.MarkEquity(dec("10100"))
	m.MarkEquity(dec("9900"))
	m.MarkEquity(dec("10050"))
	m.MarkEquity(dec("9800"))

	got := m.Snapshot()
	if !got.Peak.Equal(dec("10100")) {
		t.Errorf("peak: want 10100, got %s", got.Peak)
	}
	if !got.MaxDrawdown.Equal(dec("300")) {
		t.Errorf("max drawdown: want 300, got %s", got.MaxDrawdown)
	}
	if got.MaxDrawdownPct.StringFixed(2) != "2.97" {
		t.Errorf("max drawdown pct: want 2.97, got %s", got.MaxDrawdownPct.StringFixed(2))
	}
}

func TestMetrics_ImmediateLossCountsFromInitialCapital(t *testing.T) {
	m := NewMetricsTracker(decimal.NewFromInt(10000))
	m.MarkEquity(dec("9700"))

	if got := m.Snapshot().MaxDrawdown; !got.Equal(dec("300")) {
		t.Errorf("drawdown from initial capital: want 300, got %s", got)
	}
}
