package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

// PositionTracker owns all simulated positions. Positions change only
// through ApplyFill, so entry prices and realized P&L stay consistent
// no matter how fills arrive.
type PositionTracker struct {
	tick      decimal.Decimal
	lot       decimal.Decimal
	positions map[string]*models.Position
}

// NewPositionTracker creates a tracker with the configured tick and lot
// granularity.
func NewPositionTracker(cfg config.BacktestConfig) *PositionTracker {
	return &PositionTracker{
		tick:      decimal.NewFromFloat(cfg.TickSize),
		lot:       decimal.NewFromFloat(cfg.LotSize),
		positions: make(map[string]*models.Position),
	}
}

// RoundPrice floors a price toward zero to the tick grid. Rounding an
// already-rounded price is a no-op.
func (t *PositionTracker) RoundPrice(p decimal.Decimal) decimal.Decimal {
	return roundToStep(p, t.tick)
}

// RoundQuantity floors a quantity toward zero to the lot grid.
func (t *PositionTracker) RoundQuantity(q decimal.Decimal) decimal.Decimal {
	return roundToStep(q, t.lot)
}

func roundToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return v
	}
	steps := v.Div(step).IntPart()
	return decimal.NewFromInt(steps).Mul(step)
}

// ApplyFill mutates the symbol's position with one fill and returns the
// P&L realized by it. Increasing fills reprice the entry volume-weighted;
// reducing fills realize P&L on the reduced portion; a fill through zero
// flips the side and the excess opens at the fill price.
func (t *PositionTracker) ApplyFill(symbol string, side models.OrderSide, qty, price decimal.Decimal) decimal.Decimal {
	pos, ok := t.positions[symbol]
	if !ok {
		pos = &models.Position{Symbol: symbol, Side: models.PositionFlat}
		t.positions[symbol] = pos
	}

	signed := qty
	if side == models.OrderSell {
		signed = qty.Neg()
	}
	current := pos.Quantity
	if pos.Side == models.PositionShort {
		current = current.Neg()
	}

	realized := decimal.Zero
	next := current.Add(signed)

	switch {
	case current.IsZero() || current.Sign() == signed.Sign():
		// Increase: volume-weighted entry.
		total := current.Abs().Add(qty)
		pos.EntryPrice = pos.EntryPrice.Mul(current.Abs()).Add(price.Mul(qty)).Div(total)
	case next.IsZero() || next.Sign() == current.Sign():
		// Reduce: realize on the closed portion, entry unchanged.
		closed := qty
		realized = t.pnl(current.Sign(), pos.EntryPrice, price, closed)
	default:
		// Flip: realize the whole old position, remainder opens fresh.
		realized = t.pnl(current.Sign(), pos.EntryPrice, price, current.Abs())
		pos.EntryPrice = price
	}

	pos.Quantity = next.Abs()
	switch next.Sign() {
	case 1:
		pos.Side = models.PositionLong
	case -1:
		pos.Side = models.PositionShort
	default:
		pos.Side = models.PositionFlat
		pos.EntryPrice = decimal.Zero
	}

	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	t.mark(pos, price)
	return realized
}

func (t *PositionTracker) pnl(dirSign int, entry, exit, qty decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if dirSign < 0 {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}

// Mark updates the symbol's position to the latest price.
func (t *PositionTracker) Mark(symbol string, price decimal.Decimal) {
	if pos, ok := t.positions[symbol]; ok {
		t.mark(pos, price)
	}
}

func (t *PositionTracker) mark(pos *models.Position, price decimal.Decimal) {
	pos.CurrentPrice = price
	if pos.Side == models.PositionFlat {
		pos.UnrealizedPnL = decimal.Zero
		return
	}
	sign := 1
	if pos.Side == models.PositionShort {
		sign = -1
	}
	pos.UnrealizedPnL = t.pnl(sign, pos.EntryPrice, price, pos.Quantity)
}

// Position returns a copy of the symbol's position, or an empty flat
// position when none exists.
func (t *PositionTracker) Position(symbol string) models.Position {
	if pos, ok := t.positions[symbol]; ok {
		return *pos
	}
	return models.Position{Symbol: symbol, Side: models.PositionFlat}
}

// UnrealizedTotal sums unrealized P&L across all positions.
func (t *PositionTracker) UnrealizedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range t.positions {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}
