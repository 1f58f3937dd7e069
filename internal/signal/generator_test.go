package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skarlet-lab/mtfa/internal/analysis/confluence"
	"github.com/skarlet-lab/mtfa/internal/analysis/pattern"
	"github.com/skarlet-lab/mtfa/internal/analysis/structure"
	"github.com/skarlet-lab/mtfa/internal/analysis/zone"
	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

func newTestGenerator() *Generator {
	cfg := config.Default()
	scorer := confluence.NewScorer(cfg.Confluence,
		pattern.NewDetector(cfg.Pattern),
		structure.NewAnalyzer(cfg.Structure),
		zone.NewDetector(cfg.Zone))
	return NewGenerator(cfg.Signal, scorer)
}

func flatCandles(n int, price float64) []models.Candle {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		c, err := models.NewCandle(base.Add(time.Duration(i)*time.Hour),
			price, price+0.5, price-0.5, price, 1000, "BTCUSDT", models.TF1h)
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}

func TestGenerate_FlatMarketYieldsNoSignal(t *testing.T) {
	g := newTestGenerator()
	mtf := map[models.Timeframe][]models.Candle{models.TF1h: flatCandles(60, 100)}

	sig, err := g.Generate("BTCUSDT", mtf, models.TF1h)
	if err != nil {
		t.Fatalf("flat market is a rejection, not an error: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected no signal, got %+v", sig)
	}
}

func TestGenerate_MissingTimeframeIsError(t *testing.T) {
	g := newTestGenerator()
	mtf := map[models.Timeframe][]models.Candle{models.TF4h: flatCandles(60, 100)}

	_, err := g.Generate("BTCUSDT", mtf, models.TF1h)
	if !errors.Is(err, confluence.ErrMissingTimeframe) {
		t.Fatalf("want ErrMissingTimeframe, got %v", err)
	}
}

func TestTierRewardRatio(t *testing.T) {
	g := newTestGenerator()
	cases := []struct {
		score float64
		want  float64
	}{
		{85, 2.0},
		{70, 2.0},
		{60, 2.5},
		{50, 2.5},
		{40, 3.0},
	}
	for _, tc := range cases {
		if got := g.tierRewardRatio(tc.score); got != tc.want {
			t.Errorf("score %.0f: want R:R %.1f, got %.1f", tc.score, tc.want, got)
		}
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validLong() *models.Signal {
	return &models.Signal{
		Direction:  models.DirectionLong,
		Entry:      dec("100"),
		StopLoss:   dec("95"),
		TakeProfit: dec("107.5"),
		TP2:        dec("110"),
	}
}

func TestValidate_LongInvariants(t *testing.T) {
	if err := validate(validLong()); err != nil {
		t.Fatalf("valid long rejected: %v", err)
	}

	s := validLong()
	s.StopLoss = dec("101")
	if validate(s) == nil {
		t.Error("long with stop above entry must fail")
	}

	s = validLong()
	s.TP2 = dec("105")
	if validate(s) == nil {
		t.Error("long with tp2 below tp1 must fail")
	}

	s = validLong()
	tp3 := dec("108")
	s.TP3 = &tp3
	if validate(s) == nil {
		t.Error("long with tp3 below tp2 must fail")
	}
}

func TestValidate_ShortInvariants(t *testing.T) {
	short := &models.Signal{
		Direction:  models.DirectionShort,
		Entry:      dec("100"),
		StopLoss:   dec("105"),
		TakeProfit: dec("92.5"),
		TP2:        dec("90"),
	}
	if err := validate(short); err != nil {
		t.Fatalf("valid short rejected: %v", err)
	}

	short.StopLoss = dec("99")
	if validate(short) == nil {
		t.Error("short with stop below entry must fail")
	}
}

func TestStopLoss_SwingThenATRFallback(t *testing.T) {
	g := newTestGenerator()

	// Confirmed swing low below price: stop goes under it with buffer.
	analysis := models.TimeframeAnalysis{
		Candles: flatCandles(20, 100),
		Swings: []models.SwingPoint{
			{CandleIndex: 5, Type: models.SwingLow, Price: 97, Confirmed: true},
		},
	}
	stop, ok := g.stopLoss(analysis, models.DirectionLong, 100)
	if !ok {
		t.Fatal("expected a swing stop")
	}
	want := 97 * (1 - g.cfg.SwingStopBufferPct)
	if diff := stop - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("stop: want %v, got %v", want, stop)
	}

	// No usable swing: ATR fallback needs enough candles.
	analysis.Swings = nil
	stop, ok = g.stopLoss(analysis, models.DirectionLong, 100)
	if !ok {
		t.Fatal("expected an ATR fallback stop")
	}
	if stop >= 100 {
		t.Errorf("long stop must sit below price, got %v", stop)
	}

	// Too short for ATR and no swing: no stop, no signal.
	analysis.Candles = flatCandles(5, 100)
	if _, ok := g.stopLoss(analysis, models.DirectionLong, 100); ok {
		t.Error("expected no stop when both methods are unavailable")
	}
}

func TestTargets_TP3FollowsSnappedTP2(t *testing.T) {
	g := newTestGenerator()
	entry, risk := dec("100"), dec("5")

	// No zone: high tier puts tp2 at 2R and tp3 at 1.5x that distance.
	tp1, tp2, tp3 := g.targets(models.TimeframeAnalysis{}, models.DirectionLong, entry, risk, 85)
	if !tp1.Equal(dec("107.5")) {
		t.Errorf("tp1: want 107.5, got %s", tp1)
	}
	if !tp2.Equal(dec("110")) {
		t.Errorf("tp2: want 110, got %s", tp2)
	}
	if tp3 == nil || !tp3.Equal(dec("115")) {
		t.Errorf("tp3: want 115, got %v", tp3)
	}

	// Zone edge at 2.4R pulls tp2 to 112; tp3 scales off the new distance.
	analysis := models.TimeframeAnalysis{
		Zones: []models.Zone{{Type: models.ZoneResistance, Bottom: 112, Top: 113}},
	}
	_, tp2, tp3 = g.targets(analysis, models.DirectionLong, entry, risk, 85)
	if !tp2.Equal(dec("112")) {
		t.Fatalf("tp2: want snap to 112, got %s", tp2)
	}
	if tp3 == nil || !tp3.Equal(dec("118")) {
		t.Errorf("tp3: want 118, got %v", tp3)
	}

	// Zone far beyond the tier distance: tp3 must still clear tp2.
	analysis.Zones[0] = models.Zone{Type: models.ZoneResistance, Bottom: 116, Top: 117}
	_, tp2, tp3 = g.targets(analysis, models.DirectionLong, entry, risk, 85)
	if !tp2.Equal(dec("116")) {
		t.Fatalf("tp2: want snap to 116, got %s", tp2)
	}
	if tp3 == nil || !tp3.GreaterThan(tp2) {
		t.Errorf("tp3 must sit beyond tp2 116, got %v", tp3)
	}

	// Short side mirrors the math.
	_, tp2, tp3 = g.targets(models.TimeframeAnalysis{}, models.DirectionShort, entry, risk, 85)
	if !tp2.Equal(dec("90")) {
		t.Errorf("short tp2: want 90, got %s", tp2)
	}
	if tp3 == nil || !tp3.Equal(dec("85")) {
		t.Errorf("short tp3: want 85, got %v", tp3)
	}

	// Below the score threshold there is no third target.
	if _, _, tp3 = g.targets(models.TimeframeAnalysis{}, models.DirectionLong, entry, risk, 60); tp3 != nil {
		t.Errorf("tp3: want none below score 70, got %s", tp3)
	}
}

func TestHTFBias_ReadsHighestTimeframePattern(t *testing.T) {
	score := models.ConfluenceScore{
		TimeframeScores: []models.TimeframeScore{
			{Timeframe: models.TF1h, Signal: models.LevelBullish, PatternSignal: models.LevelBullish},
			{Timeframe: models.TF4h, Signal: models.LevelBullish, PatternSignal: models.LevelBearish},
		},
	}

	// The 4h composite reads bullish but its pattern component is
	// bearish; the bias follows the pattern.
	if got := htfBias(score, models.TF1h); got != models.LevelBearish {
		t.Errorf("bias: want bearish from the 4h pattern, got %v", got)
	}

	// No timeframe above the analysis one: neutral.
	if got := htfBias(score, models.TF4h); got != models.LevelNeutral {
		t.Errorf("bias: want neutral without a higher timeframe, got %v", got)
	}
}

func TestSnapToZone_OnlyWhenRatioHolds(t *testing.T) {
	g := newTestGenerator()
	entry, risk := dec("100"), dec("5")
	tp2 := dec("110") // 2R

	// Resistance past the minimum target: snap to its near edge.
	analysis := models.TimeframeAnalysis{
		Zones: []models.Zone{{Type: models.ZoneResistance, Bottom: 111, Top: 112}},
	}
	got := g.snapToZone(analysis, models.DirectionLong, entry, risk, tp2, 2.0)
	if !got.Equal(dec("111")) {
		t.Errorf("want snap to 111, got %s", got)
	}

	// Zone too close: snapping would drop below the tier ratio.
	analysis.Zones[0] = models.Zone{Type: models.ZoneResistance, Bottom: 106, Top: 107}
	got = g.snapToZone(analysis, models.DirectionLong, entry, risk, tp2, 2.0)
	if !got.Equal(tp2) {
		t.Errorf("want original tp2 %s, got %s", tp2, got)
	}

	// Broken zones are ignored.
	analysis.Zones[0] = models.Zone{Type: models.ZoneResistance, Bottom: 111, Top: 112, Broken: true}
	got = g.snapToZone(analysis, models.DirectionLong, entry, risk, tp2, 2.0)
	if !got.Equal(tp2) {
		t.Errorf("broken zone must not attract tp2, got %s", got)
	}
}
