package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

func makeCandle(i int, open, high, low, close float64) models.Candle {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
	c, err := models.NewCandle(ts, open, high, low, close, 1000, "BTCUSDT", models.TF1h)
	if err != nil {
		panic(err)
	}
	return c
}

// stubSource emits a fixed signal once, when exactly fireAt candles are
// visible.
type stubSource struct {
	sig    *models.Signal
	fireAt int
}

func (s *stubSource) Generate(symbol string, mtf map[models.Timeframe][]models.Candle, tf models.Timeframe) (*models.Signal, error) {
	if s.sig != nil && len(mtf[tf]) == s.fireAt {
		return s.sig, nil
	}
	return nil, nil
}

func testConfig() config.BacktestConfig {
	cfg := config.Default().Backtest
	cfg.InitialCapital = 10000
	cfg.PositionSizePct = 0.02
	cfg.MaxOpenTrades = 1
	cfg.CommissionRate = 0.001
	cfg.SlippagePct = 0
	cfg.TP1ExitPct = 0.5
	cfg.TickSize = 0.01
	cfg.LotSize = 0.01
	cfg.WarmupCandles = 2
	cfg.EmitEvery = 0
	return cfg
}

func longSignal() *models.Signal {
	return &models.Signal{
		ID:         "sig-1",
		Symbol:     "BTCUSDT",
		Direction:  models.DirectionLong,
		Timeframe:  models.TF1h,
		Entry:      dec("100"),
		StopLoss:   dec("95"),
		TakeProfit: dec("107.5"),
		TP2:        dec("110"),
	}
}

func newTestEngine(t *testing.T, src SignalSource, candles []models.Candle) *Engine {
	t.Helper()
	e, err := NewEngine(testConfig(), src, "BTCUSDT", models.TF1h,
		map[models.Timeframe][]models.Candle{models.TF1h: candles})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngine_StopOutSettlesCapital(t *testing.T) {
	candles := []models.Candle{
		makeCandle(0, 100, 101, 99, 100),
		makeCandle(1, 100, 101, 99, 100), // signal fires here
		makeCandle(2, 100, 101, 99, 100), // entry fills at open 100
		makeCandle(3, 99, 99.5, 94, 94.5), // low crosses the stop at 95
		makeCandle(4, 94.5, 95, 94, 94.5),
	}
	e := newTestEngine(t, &stubSource{sig: longSignal(), fireAt: 2}, candles)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state := e.Snapshot()
	if state.Status != models.StatusCompleted {
		t.Fatalf("status: want completed, got %v", state.Status)
	}
	if len(state.RecentTrades) != 1 {
		t.Fatalf("expected one closed trade, got %d", len(state.RecentTrades))
	}

	trade := state.RecentTrades[0]
	if trade.Status != models.TradeStopped {
		t.Errorf("status: want stopped, got %v", trade.Status)
	}
	if trade.ExitReason != "Stop loss" {
		t.Errorf("exit reason: want 'Stop loss', got %q", trade.ExitReason)
	}
	if !trade.Quantity.Equal(dec("40")) {
		t.Errorf("quantity: want 40, got %s", trade.Quantity)
	}
	// Entry 100, stop 95, qty 40: pnl -200, commission 4 + 3.8.
	if !trade.RealizedPnL.Equal(dec("-200")) {
		t.Errorf("realized pnl: want -200, got %s", trade.RealizedPnL)
	}
	if !trade.Commission.Equal(dec("7.8")) {
		t.Errorf("commission: want 7.8, got %s", trade.Commission)
	}
	if !state.Capital.Equal(dec("9792.2")) {
		t.Errorf("capital: want 9792.2, got %s", state.Capital)
	}

	m := state.Metrics
	if m.TotalTrades != 1 || m.Losses != 1 {
		t.Errorf("metrics counts: want 1 trade 1 loss, got %d/%d", m.TotalTrades, m.Losses)
	}
	if !m.MaxDrawdown.Equal(dec("207.8")) {
		t.Errorf("max drawdown: want 207.8, got %s", m.MaxDrawdown)
	}
	if len(state.EquityCurve) == 0 {
		t.Error("final snapshot must include the equity curve")
	}
}

func TestEngine_PartialExitThenForceClose(t *testing.T) {
	candles := []models.Candle{
		makeCandle(0, 100, 101, 99, 100),
		makeCandle(1, 100, 101, 99, 100),  // signal fires here
		makeCandle(2, 100, 101, 99, 100),  // entry fills at open 100
		makeCandle(3, 100, 108, 99, 107),  // TP1 at 107.5 fills half
		makeCandle(4, 107, 107.5, 104, 105), // stream ends, remainder closes at 105
	}
	e := newTestEngine(t, &stubSource{sig: longSignal(), fireAt: 2}, candles)

	for e.Tick() {
	}

	state := e.Snapshot()
	if len(state.RecentTrades) != 1 {
		t.Fatalf("expected one closed trade, got %d", len(state.RecentTrades))
	}
	trade := state.RecentTrades[0]

	if trade.ExitReason != "Backtest end" {
		t.Errorf("exit reason: want 'Backtest end', got %q", trade.ExitReason)
	}
	if !trade.Remaining.IsZero() {
		t.Errorf("remaining: want 0, got %s", trade.Remaining)
	}
	// TP1: 20 @ 107.5 = +150; force close: 20 @ 105 = +100.
	if !trade.RealizedPnL.Equal(dec("250")) {
		t.Errorf("realized pnl: want 250, got %s", trade.RealizedPnL)
	}
	// Commissions: 4 (entry) + 2.15 (TP1) + 2.1 (close).
	if !trade.Commission.Equal(dec("8.25")) {
		t.Errorf("commission: want 8.25, got %s", trade.Commission)
	}
	if !state.Capital.Equal(dec("10241.75")) {
		t.Errorf("capital: want 10241.75, got %s", state.Capital)
	}
	if state.Metrics.Wins != 1 {
		t.Errorf("wins: want 1, got %d", state.Metrics.Wins)
	}
}

func TestEngine_QuantityConservedAcrossPartialExits(t *testing.T) {
	candles := []models.Candle{
		makeCandle(0, 100, 101, 99, 100),
		makeCandle(1, 100, 101, 99, 100),
		makeCandle(2, 100, 101, 99, 100),
		makeCandle(3, 100, 108, 99, 107),   // TP1
		makeCandle(4, 107, 111, 106, 110.5), // TP2
		makeCandle(5, 110, 111, 109, 110),
	}
	e := newTestEngine(t, &stubSource{sig: longSignal(), fireAt: 2}, candles)

	for e.Tick() {
	}

	state := e.Snapshot()
	trade := state.RecentTrades[0]
	if trade.Status != models.TradeTP2Hit {
		t.Fatalf("status: want tp2_hit, got %v", trade.Status)
	}
	// 20 @ 107.5 (+150) then 20 @ 110 (+200).
	if !trade.RealizedPnL.Equal(dec("350")) {
		t.Errorf("realized pnl: want 350, got %s", trade.RealizedPnL)
	}
	pos := e.positions.Position("BTCUSDT")
	if pos.Side != models.PositionFlat {
		t.Errorf("position must be flat after full exit, got %v", pos.Side)
	}
}

func TestEngine_EquityMarksAtClose(t *testing.T) {
	candles := []models.Candle{
		makeCandle(0, 100, 101, 99, 100),
		makeCandle(1, 100, 101, 99, 100), // signal fires here
		makeCandle(2, 100, 104, 99, 103), // entry at open, marked at close
		makeCandle(3, 103, 104, 102, 103),
	}
	e := newTestEngine(t, &stubSource{sig: longSignal(), fireAt: 2}, candles)

	for i := 0; i < 3; i++ {
		if !e.Tick() {
			t.Fatal("stream ended early")
		}
	}

	// 40 @ 100 entry (commission 4), marked at close 103: 9996 + 120.
	if got := e.Snapshot().Equity; !got.Equal(dec("10116")) {
		t.Errorf("equity: want 10116, got %s", got)
	}
}

// recordingSource captures how many higher-timeframe candles the
// generator is shown on each call.
type recordingSource struct {
	htfCounts []int
}

func (r *recordingSource) Generate(symbol string, mtf map[models.Timeframe][]models.Candle, tf models.Timeframe) (*models.Signal, error) {
	r.htfCounts = append(r.htfCounts, len(mtf[models.TF4h]))
	return nil, nil
}

func TestEngine_HigherTimeframeHiddenUntilClosed(t *testing.T) {
	hourly := make([]models.Candle, 9)
	for i := range hourly {
		hourly[i] = makeCandle(i, 100, 101, 99, 100)
	}
	make4h := func(i int) models.Candle {
		ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 4 * time.Hour)
		c, err := models.NewCandle(ts, 100, 101, 99, 100, 4000, "BTCUSDT", models.TF4h)
		if err != nil {
			panic(err)
		}
		return c
	}
	fourHourly := []models.Candle{make4h(0), make4h(1)} // open 00:00 and 04:00

	src := &recordingSource{}
	e, err := NewEngine(testConfig(), src, "BTCUSDT", models.TF1h, map[models.Timeframe][]models.Candle{
		models.TF1h: hourly,
		models.TF4h: fourHourly,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for e.Tick() {
	}

	// Calls start at the second hourly candle (warmup 2). The 00:00 4h
	// candle closes at 04:00 and becomes visible with the 03:00 hourly
	// candle; the one opening at 04:00 stays hidden until 07:00.
	want := []int{0, 0, 1, 1, 1, 1, 2, 2}
	got := src.htfCounts
	if len(got) != len(want) {
		t.Fatalf("generator calls: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: want %d 4h candles visible, got %d", i, want[i], got[i])
		}
	}
}

func TestEngine_PauseStepSeek(t *testing.T) {
	candles := make([]models.Candle, 10)
	for i := range candles {
		candles[i] = makeCandle(i, 100, 101, 99, 100)
	}
	e := newTestEngine(t, &stubSource{}, candles)

	if !e.Step() || !e.Step() {
		t.Fatal("steps on a fresh engine should advance")
	}
	if got := e.CurrentIndex(); got != 2 {
		t.Fatalf("after two steps: want index 2, got %d", got)
	}

	if err := e.SeekForward(5); err != nil {
		t.Fatalf("SeekForward(5): %v", err)
	}
	if got := e.CurrentIndex(); got != 5 {
		t.Fatalf("after seek: want index 5, got %d", got)
	}

	if err := e.SeekForward(3); err == nil {
		t.Error("backward seek must fail")
	}
	if err := e.SeekForward(len(candles) + 1); err == nil {
		t.Error("seek beyond the stream must fail")
	}

	if err := e.SeekForward(len(candles)); err != nil {
		t.Fatalf("seek to end: %v", err)
	}
	if e.Snapshot().Status != models.StatusCompleted {
		t.Errorf("status: want completed, got %v", e.Snapshot().Status)
	}
	if e.Tick() {
		t.Error("Tick on a completed engine must report no more candles")
	}
	if got := e.Snapshot().Progress; got != 100 {
		t.Errorf("progress: want 100, got %v", got)
	}
}

func TestEngine_CancelledContextStops(t *testing.T) {
	candles := make([]models.Candle, 50)
	for i := range candles {
		candles[i] = makeCandle(i, 100, 101, 99, 100)
	}
	e := newTestEngine(t, &stubSource{}, candles)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); err != context.Canceled {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if got := e.Snapshot().Status; got != models.StatusCompleted {
		t.Errorf("cancelled run settles as completed, got %v", got)
	}
}

func TestNewEngine_RequiresCandles(t *testing.T) {
	_, err := NewEngine(testConfig(), &stubSource{}, "BTCUSDT", models.TF1h,
		map[models.Timeframe][]models.Candle{})
	if err != ErrNoData {
		t.Fatalf("want ErrNoData, got %v", err)
	}
}
