// Package backtest replays historical candles through the signal
// pipeline and simulates order fills, positions and performance
// metrics with exact decimal arithmetic.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/logger"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

// ErrNoData means the analysis timeframe had no candles to replay.
var ErrNoData = errors.New("backtest: no candles for analysis timeframe")

const exitReasonEnd = "Backtest end"

// SignalSource produces trade signals from the candles visible at the
// cursor. *signal.Generator is the production implementation.
type SignalSource interface {
	Generate(symbol string, mtf map[models.Timeframe][]models.Candle, analysisTF models.Timeframe) (*models.Signal, error)
}

// Engine replays one symbol's candle history through the signal
// generator. All state behind the mutex; Snapshot is the only way to
// observe it from outside and is consistent between ticks.
type Engine struct {
	mu sync.Mutex

	cfg        config.BacktestConfig
	gen        SignalSource
	symbol     string
	analysisTF models.Timeframe
	series     map[models.Timeframe][]models.Candle
	candles    []models.Candle

	status  models.BacktestStatus
	cursor  int
	err     error
	speed   time.Duration
	capital decimal.Decimal

	positions *PositionTracker
	metrics   *MetricsTracker

	orders  []models.Order
	trades  map[string]*models.Trade
	closed  []models.Trade
	signals []models.Signal
	curve   []models.EquityPoint

	commission decimal.Decimal
	slippage   decimal.Decimal
	sizePct    decimal.Decimal
	tp1Pct     decimal.Decimal
}

// NewEngine prepares a replay over the given multi-timeframe series.
// The analysis timeframe drives the cursor; other timeframes are only
// revealed up to the cursor's timestamp.
func NewEngine(cfg config.BacktestConfig, gen SignalSource, symbol string, analysisTF models.Timeframe, series map[models.Timeframe][]models.Candle) (*Engine, error) {
	candles := series[analysisTF]
	if len(candles) == 0 {
		return nil, ErrNoData
	}

	return &Engine{
		cfg:        cfg,
		gen:        gen,
		symbol:     symbol,
		analysisTF: analysisTF,
		series:     series,
		candles:    candles,
		status:     models.StatusIdle,
		capital:    decimal.NewFromFloat(cfg.InitialCapital),
		positions:  NewPositionTracker(cfg),
		metrics:    NewMetricsTracker(decimal.NewFromFloat(cfg.InitialCapital)),
		trades:     make(map[string]*models.Trade),
		commission: decimal.NewFromFloat(cfg.CommissionRate),
		slippage:   decimal.NewFromFloat(cfg.SlippagePct),
		sizePct:    decimal.NewFromFloat(cfg.PositionSizePct),
		tp1Pct:     decimal.NewFromFloat(cfg.TP1ExitPct),
	}, nil
}

// SetSpeed throttles Run's pacing. It changes only how fast candles are
// consumed, never the simulation results.
func (e *Engine) SetSpeed(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = d
}

// Tick processes exactly one candle and reports whether more remain.
// Calling Tick on a finished engine is a no-op.
func (e *Engine) Tick() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick()
}

func (e *Engine) tick() (more bool) {
	defer func() {
		if r := recover(); r != nil {
			e.err = fmt.Errorf("backtest: candle %d: %v", e.cursor, r)
			e.status = models.StatusFailed
			logger.Error("backtest failed", zap.Error(e.err))
			more = false
		}
	}()

	switch e.status {
	case models.StatusCompleted, models.StatusFailed:
		return false
	case models.StatusIdle:
		e.status = models.StatusRunning
	}
	if e.cursor >= len(e.candles) {
		e.finalize()
		return false
	}

	c := e.candles[e.cursor]

	// Mark at the open before fills, then at the close for the equity
	// point.
	e.positions.Mark(e.symbol, decimal.NewFromFloat(c.Open))
	e.processOrders(c)
	e.positions.Mark(e.symbol, decimal.NewFromFloat(c.Close))

	if e.cursor+1 >= e.cfg.WarmupCandles && e.openTradeCount() < e.cfg.MaxOpenTrades {
		e.generateSignal(c)
	}

	equity := e.capital.Add(e.positions.UnrealizedTotal())
	e.curve = append(e.curve, models.EquityPoint{Timestamp: c.Timestamp, Equity: equity})
	e.metrics.MarkEquity(equity)

	e.cursor++
	if e.cursor == len(e.candles) {
		e.finalize()
		return false
	}
	return true
}

// Run drives the replay with cooperative cancellation. Pause is a
// polled flag: a paused engine holds position until resumed or
// cancelled. Speed only paces the loop.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return ctx.Err()
		default:
		}

		e.mu.Lock()
		status, speed := e.status, e.speed
		e.mu.Unlock()

		switch status {
		case models.StatusPaused:
			time.Sleep(10 * time.Millisecond)
			continue
		case models.StatusCompleted, models.StatusFailed:
			return e.err
		}

		if !e.Tick() {
			return e.err
		}
		if e.cfg.EmitEvery > 0 && e.CurrentIndex()%e.cfg.EmitEvery == 0 {
			s := e.Snapshot()
			logger.Debug("backtest progress",
				zap.Float64("progress", s.Progress),
				zap.String("equity", s.Equity.String()),
				zap.Int("open_trades", len(s.OpenTrades)))
		}
		if speed > 0 {
			time.Sleep(speed)
		}
	}
}

// Pause suspends a running replay at the next candle boundary.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == models.StatusRunning {
		e.status = models.StatusPaused
	}
}

// Resume continues a paused replay.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == models.StatusPaused {
		e.status = models.StatusRunning
	}
}

// Step processes one candle while paused or idle, leaving the engine
// paused. A no-op while Run is driving the loop.
func (e *Engine) Step() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == models.StatusRunning {
		return e.cursor < len(e.candles)
	}
	more := e.tick()
	if e.status == models.StatusRunning {
		e.status = models.StatusPaused
	}
	return more
}

// SeekForward replays every candle up to idx. The simulation never
// skips: seeking produces exactly the state sequential ticking would.
func (e *Engine) SeekForward(idx int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx > len(e.candles) {
		return fmt.Errorf("backtest: seek index %d beyond stream of %d", idx, len(e.candles))
	}
	if idx < e.cursor {
		return fmt.Errorf("backtest: cannot seek backward from %d to %d", e.cursor, idx)
	}
	wasRunning := e.status == models.StatusRunning
	for e.cursor < idx {
		if !e.tick() {
			break
		}
	}
	if !wasRunning && e.status == models.StatusRunning {
		e.status = models.StatusPaused
	}
	return nil
}

// Stop ends the replay where it stands, force-closing open trades.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.status {
	case models.StatusCompleted, models.StatusFailed:
		return
	}
	e.finalize()
}

// CurrentIndex returns the cursor position.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Snapshot returns a consistent view of the engine. The equity curve is
// attached only once the replay has finished.
func (e *Engine) Snapshot() models.BacktestState {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := models.BacktestState{
		Status:       e.status,
		CurrentIndex: e.cursor,
		Capital:      e.capital,
		Equity:       e.capital.Add(e.positions.UnrealizedTotal()),
		Metrics:      e.metrics.Snapshot(),
		Progress:     float64(e.cursor) / float64(len(e.candles)) * 100,
	}
	if e.cursor > 0 {
		last := e.candles[min(e.cursor, len(e.candles))-1]
		s.CurrentTime = last.Timestamp
		s.CurrentPrice = decimal.NewFromFloat(last.Close)
	}

	for _, t := range e.trades {
		if !t.Closed() {
			s.OpenTrades = append(s.OpenTrades, *t)
		}
	}
	sort.Slice(s.OpenTrades, func(i, j int) bool { return s.OpenTrades[i].OpenTime.Before(s.OpenTrades[j].OpenTime) })

	s.RecentTrades = tail(e.closed, 10)
	s.RecentSignals = tail(e.signals, 10)

	if e.status == models.StatusCompleted || e.status == models.StatusFailed {
		s.EquityCurve = append([]models.EquityPoint(nil), e.curve...)
	}
	return s
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return append([]T(nil), s...)
	}
	return append([]T(nil), s[len(s)-n:]...)
}

// generateSignal runs the generator over the candles visible at the
// cursor. Generator errors never abort the replay.
func (e *Engine) generateSignal(c models.Candle) {
	// Timestamps are open times. A higher-timeframe candle is revealed
	// only once it has fully closed by the cursor candle's close;
	// anything still forming would leak its eventual close.
	cutoff := c.Timestamp.Add(e.analysisTF.Duration())
	windows := make(map[models.Timeframe][]models.Candle, len(e.series))
	windows[e.analysisTF] = e.candles[:e.cursor+1]
	for tf, candles := range e.series {
		if tf == e.analysisTF {
			continue
		}
		d := tf.Duration()
		n := sort.Search(len(candles), func(i int) bool {
			return candles[i].Timestamp.Add(d).After(cutoff)
		})
		if n > 0 {
			windows[tf] = candles[:n]
		}
	}

	sig, err := e.gen.Generate(e.symbol, windows, e.analysisTF)
	if err != nil {
		logger.Warn("signal generation failed", zap.Int("candle", e.cursor), zap.Error(err))
		return
	}
	if sig == nil {
		return
	}
	e.signals = append(e.signals, *sig)
	e.openTrade(sig, c)
}

// openTrade sizes a position off the signal's risk and queues a market
// entry. The entry fills at the next candle's open.
func (e *Engine) openTrade(sig *models.Signal, c models.Candle) {
	risk := sig.Risk()
	if risk.IsZero() {
		return
	}
	qty := e.positions.RoundQuantity(e.capital.Mul(e.sizePct).Div(risk))
	if qty.LessThanOrEqual(decimal.Zero) {
		logger.Debug("trade skipped: size rounds to zero", zap.String("signal", sig.ID))
		return
	}

	trade := &models.Trade{
		ID:         uuid.NewString(),
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Status:     models.TradeOpen,
		Quantity:   qty,
		Remaining:  qty,
		EntryPrice: sig.Entry,
		StopLoss:   sig.StopLoss,
		TP1:        sig.TakeProfit,
		TP2:        sig.TP2,
		OpenTime:   c.Timestamp,
	}
	e.trades[trade.ID] = trade

	side := models.OrderBuy
	if sig.Direction == models.DirectionShort {
		side = models.OrderSell
	}
	e.orders = append(e.orders, models.Order{
		ID:       uuid.NewString(),
		TradeID:  trade.ID,
		Symbol:   sig.Symbol,
		Type:     models.OrderMarket,
		Side:     side,
		Purpose:  models.PurposeEntry,
		Quantity: qty,
		Created:  c.Timestamp,
	})
}

// processOrders fills pending orders against one candle. Markets fill
// at the open, then stops, then limits: when a candle touches both the
// stop and a target the stop wins, which is the pessimistic reading.
func (e *Engine) processOrders(c models.Candle) {
	for _, pass := range []models.OrderType{models.OrderMarket, models.OrderStop, models.OrderLimit} {
		// Entry fills append bracket orders to e.orders; those join the
		// later passes of the same candle.
		pending := e.orders
		e.orders = nil
		for _, o := range pending {
			if o.Type != pass {
				e.orders = append(e.orders, o)
				continue
			}
			trade, ok := e.trades[o.TradeID]
			if !ok || (o.Purpose != models.PurposeEntry && trade.Closed()) {
				continue
			}
			price, filled := e.fillPrice(o, c)
			if !filled {
				e.orders = append(e.orders, o)
				continue
			}
			e.applyFill(trade, o, price, c.Timestamp)
		}
	}
}

// fillPrice decides whether the candle fills the order and at what
// price. Slippage moves market and stop fills against the trader;
// resting limits fill at their own price.
func (e *Engine) fillPrice(o models.Order, c models.Candle) (decimal.Decimal, bool) {
	switch o.Type {
	case models.OrderMarket:
		return e.positions.RoundPrice(e.slip(decimal.NewFromFloat(c.Open), o.Side)), true
	case models.OrderStop:
		triggered := (o.Side == models.OrderSell && decimal.NewFromFloat(c.Low).LessThanOrEqual(o.Price)) ||
			(o.Side == models.OrderBuy && decimal.NewFromFloat(c.High).GreaterThanOrEqual(o.Price))
		if !triggered {
			return decimal.Zero, false
		}
		return e.positions.RoundPrice(e.slip(o.Price, o.Side)), true
	default: // limit
		crossed := (o.Side == models.OrderSell && decimal.NewFromFloat(c.High).GreaterThanOrEqual(o.Price)) ||
			(o.Side == models.OrderBuy && decimal.NewFromFloat(c.Low).LessThanOrEqual(o.Price))
		if !crossed {
			return decimal.Zero, false
		}
		return e.positions.RoundPrice(o.Price), true
	}
}

func (e *Engine) slip(price decimal.Decimal, side models.OrderSide) decimal.Decimal {
	adj := price.Mul(e.slippage)
	if side == models.OrderBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// applyFill routes a fill into the position tracker and the trade
// lifecycle, charging commission on the filled notional.
func (e *Engine) applyFill(trade *models.Trade, o models.Order, price decimal.Decimal, ts time.Time) {
	qty := o.Quantity
	if o.Purpose != models.PurposeEntry && qty.GreaterThan(trade.Remaining) {
		qty = trade.Remaining
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return
	}

	realized := e.positions.ApplyFill(o.Symbol, o.Side, qty, price)
	commission := price.Mul(qty).Mul(e.commission)
	trade.Commission = trade.Commission.Add(commission)
	trade.RealizedPnL = trade.RealizedPnL.Add(realized)
	e.capital = e.capital.Add(realized).Sub(commission)

	switch o.Purpose {
	case models.PurposeEntry:
		trade.EntryPrice = price
		e.placeExitOrders(trade, ts)
	case models.PurposeStopLoss:
		trade.Remaining = decimal.Zero
		trade.Status = models.TradeStopped
		trade.ExitReason = "Stop loss"
		e.closeTrade(trade, ts)
	case models.PurposeTP1:
		trade.Remaining = trade.Remaining.Sub(qty)
		trade.Status = models.TradeTP1Hit
		e.resizeStop(trade)
		if trade.Remaining.IsZero() {
			trade.Status = models.TradeTP2Hit
			trade.ExitReason = "Take profit"
			e.closeTrade(trade, ts)
		}
	case models.PurposeTP2:
		trade.Remaining = trade.Remaining.Sub(qty)
		trade.Status = models.TradeTP2Hit
		trade.ExitReason = "Take profit"
		e.closeTrade(trade, ts)
	}
}

// placeExitOrders brackets a filled entry: a protective stop for the
// full size, a TP1 limit for the partial-exit slice and a TP2 limit for
// the remainder.
func (e *Engine) placeExitOrders(trade *models.Trade, ts time.Time) {
	exitSide := models.OrderSell
	if trade.Direction == models.DirectionShort {
		exitSide = models.OrderBuy
	}

	tp1Qty := e.positions.RoundQuantity(trade.Quantity.Mul(e.tp1Pct))
	tp2Qty := trade.Quantity.Sub(tp1Qty)

	e.orders = append(e.orders,
		models.Order{
			ID: uuid.NewString(), TradeID: trade.ID, Symbol: trade.Symbol,
			Type: models.OrderStop, Side: exitSide, Purpose: models.PurposeStopLoss,
			Price: trade.StopLoss, Quantity: trade.Quantity, Created: ts,
		},
		models.Order{
			ID: uuid.NewString(), TradeID: trade.ID, Symbol: trade.Symbol,
			Type: models.OrderLimit, Side: exitSide, Purpose: models.PurposeTP1,
			Price: trade.TP1, Quantity: tp1Qty, Created: ts,
		},
		models.Order{
			ID: uuid.NewString(), TradeID: trade.ID, Symbol: trade.Symbol,
			Type: models.OrderLimit, Side: exitSide, Purpose: models.PurposeTP2,
			Price: trade.TP2, Quantity: tp2Qty, Created: ts,
		},
	)
}

// resizeStop shrinks the protective stop to the trade's outstanding
// quantity after a partial exit.
func (e *Engine) resizeStop(trade *models.Trade) {
	for i := range e.orders {
		if e.orders[i].TradeID == trade.ID && e.orders[i].Purpose == models.PurposeStopLoss {
			e.orders[i].Quantity = trade.Remaining
		}
	}
}

func (e *Engine) closeTrade(trade *models.Trade, ts time.Time) {
	trade.CloseTime = ts
	e.metrics.RecordClose(trade.RealizedPnL.Sub(trade.Commission))
	e.closed = append(e.closed, *trade)
}

func (e *Engine) openTradeCount() int {
	n := 0
	for _, t := range e.trades {
		if !t.Closed() {
			n++
		}
	}
	return n
}

// finalize force-closes whatever is still open at the last seen price
// and settles the lifecycle.
func (e *Engine) finalize() {
	if e.cursor == 0 {
		e.orders = nil
		if e.status != models.StatusFailed {
			e.status = models.StatusCompleted
		}
		return
	}
	last := e.candles[min(e.cursor, len(e.candles))-1]
	price := e.positions.RoundPrice(decimal.NewFromFloat(last.Close))

	pendingEntry := make(map[string]bool)
	for _, o := range e.orders {
		if o.Purpose == models.PurposeEntry {
			pendingEntry[o.TradeID] = true
		}
	}
	e.orders = nil

	for _, trade := range e.trades {
		if trade.Closed() {
			continue
		}
		if pendingEntry[trade.ID] {
			// Entry never filled; nothing to settle.
			trade.Status = models.TradeClosed
			trade.ExitReason = exitReasonEnd
			trade.CloseTime = last.Timestamp
			continue
		}

		side := models.OrderSell
		if trade.Direction == models.DirectionShort {
			side = models.OrderBuy
		}
		realized := e.positions.ApplyFill(trade.Symbol, side, trade.Remaining, price)
		commission := price.Mul(trade.Remaining).Mul(e.commission)
		trade.RealizedPnL = trade.RealizedPnL.Add(realized)
		trade.Commission = trade.Commission.Add(commission)
		e.capital = e.capital.Add(realized).Sub(commission)

		trade.Remaining = decimal.Zero
		trade.Status = models.TradeClosed
		trade.ExitReason = exitReasonEnd
		e.closeTrade(trade, last.Timestamp)
	}

	equity := e.capital.Add(e.positions.UnrealizedTotal())
	e.metrics.MarkEquity(equity)
	if len(e.curve) == 0 || !e.curve[len(e.curve)-1].Timestamp.Equal(last.Timestamp) {
		e.curve = append(e.curve, models.EquityPoint{Timestamp: last.Timestamp, Equity: equity})
	}

	if e.status != models.StatusFailed {
		e.status = models.StatusCompleted
	}
	logger.Info("backtest finished",
		zap.String("status", e.status.String()),
		zap.Int("trades", e.metrics.Snapshot().TotalTrades),
		zap.String("capital", e.capital.String()))
}
