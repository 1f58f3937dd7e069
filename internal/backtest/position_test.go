package backtest

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTracker() *PositionTracker {
	cfg := config.Default().Backtest
	cfg.TickSize = 0.01
	cfg.LotSize = 0.0001
	return NewPositionTracker(cfg)
}

func TestRoundPrice_FloorsToTick(t *testing.T) {
	tr := newTracker()

	cases := []struct{ in, want string }{
		{"1.2345", "1.23"},
		{"1.2399", "1.23"},
		{"1.23", "1.23"},
		{"0.009", "0"},
	}
	for _, tc := range cases {
		got := tr.RoundPrice(dec(tc.in))
		if !got.Equal(dec(tc.want)) {
			t.Errorf("RoundPrice(%s): want %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestRounding_Idempotent(t *testing.T) {
	tr := newTracker()

	p := tr.RoundPrice(dec("1234.56789"))
	if !tr.RoundPrice(p).Equal(p) {
		t.Errorf("RoundPrice not idempotent: %s -> %s", p, tr.RoundPrice(p))
	}
	q := tr.RoundQuantity(dec("0.123456789"))
	if !tr.RoundQuantity(q).Equal(q) {
		t.Errorf("RoundQuantity not idempotent: %s -> %s", q, tr.RoundQuantity(q))
	}
}

func TestApplyFill_VolumeWeightedEntry(t *testing.T) {
	tr := newTracker()

	tr.ApplyFill("BTCUSDT", models.OrderBuy, dec("1"), dec("100"))
	tr.ApplyFill("BTCUSDT", models.OrderBuy, dec("1"), dec("110"))

	pos := tr.Position("BTCUSDT")
	if pos.Side != models.PositionLong {
		t.Fatalf("side: want long, got %v", pos.Side)
	}
	if !pos.Quantity.Equal(dec("2")) {
		t.Errorf("quantity: want 2, got %s", pos.Quantity)
	}
	if !pos.EntryPrice.Equal(dec("105")) {
		t.Errorf("entry: want volume-weighted 105, got %s", pos.EntryPrice)
	}
}

func TestApplyFill_ReduceRealizesPnL(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill("BTCUSDT", models.OrderBuy, dec("2"), dec("100"))

	realized := tr.ApplyFill("BTCUSDT", models.OrderSell, dec("1"), dec("120"))
	if !realized.Equal(dec("20")) {
		t.Errorf("realized: want 20, got %s", realized)
	}

	pos := tr.Position("BTCUSDT")
	if !pos.Quantity.Equal(dec("1")) || pos.Side != models.PositionLong {
		t.Errorf("want 1 long remaining, got %s %v", pos.Quantity, pos.Side)
	}
	if !pos.EntryPrice.Equal(dec("100")) {
		t.Errorf("entry must not change on reduce, got %s", pos.EntryPrice)
	}
}

func TestApplyFill_FlipThroughZero(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill("BTCUSDT", models.OrderBuy, dec("1"), dec("100"))

	realized := tr.ApplyFill("BTCUSDT", models.OrderSell, dec("3"), dec("90"))
	if !realized.Equal(dec("-10")) {
		t.Errorf("realized: want -10, got %s", realized)
	}

	pos := tr.Position("BTCUSDT")
	if pos.Side != models.PositionShort {
		t.Fatalf("side: want short after flip, got %v", pos.Side)
	}
	if !pos.Quantity.Equal(dec("2")) {
		t.Errorf("quantity: want 2, got %s", pos.Quantity)
	}
	if !pos.EntryPrice.Equal(dec("90")) {
		t.Errorf("flipped entry: want fill price 90, got %s", pos.EntryPrice)
	}
}

func TestApplyFill_CloseToFlat(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill("BTCUSDT", models.OrderSell, dec("2"), dec("100"))

	realized := tr.ApplyFill("BTCUSDT", models.OrderBuy, dec("2"), dec("95"))
	if !realized.Equal(dec("10")) {
		t.Errorf("short covered lower: want 10, got %s", realized)
	}

	pos := tr.Position("BTCUSDT")
	if pos.Side != models.PositionFlat || !pos.Quantity.IsZero() {
		t.Errorf("want flat, got %v qty %s", pos.Side, pos.Quantity)
	}
	if !pos.UnrealizedPnL.IsZero() {
		t.Errorf("flat position has no unrealized pnl, got %s", pos.UnrealizedPnL)
	}
}

func TestMark_UpdatesUnrealized(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill("BTCUSDT", models.OrderBuy, dec("2"), dec("100"))

	tr.Mark("BTCUSDT", dec("103"))
	if got := tr.UnrealizedTotal(); !got.Equal(dec("6")) {
		t.Errorf("unrealized: want 6, got %s", got)
	}
}
