// Package confluence fuses pattern, structure and zone signals across
// timeframes into a single directional score.
package confluence

import (
	"errors"

	"github.com/skarlet-lab/mtfa/internal/analysis/pattern"
	"github.com/skarlet-lab/mtfa/internal/analysis/structure"
	"github.com/skarlet-lab/mtfa/internal/analysis/zone"
	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

// Input-contract violations. Everything else is encoded in the score
// itself; a flat market is a neutral score, not an error.
var (
	ErrMissingTimeframe = errors.New("confluence: analysis timeframe missing from input")
	ErrNoCandles        = errors.New("confluence: no timeframe has candles")
)

// Scorer runs detection per timeframe and produces weighted
// multi-timeframe confluence scores.
type Scorer struct {
	cfg        config.ConfluenceConfig
	patterns   *pattern.Detector
	structures *structure.Analyzer
	zones      *zone.Detector
}

// NewScorer creates a confluence scorer that owns its detectors.
func NewScorer(cfg config.ConfluenceConfig, p *pattern.Detector, s *structure.Analyzer, z *zone.Detector) *Scorer {
	return &Scorer{cfg: cfg, patterns: p, structures: s, zones: z}
}

// AnalyzeTimeframe runs pattern, structure and zone detection once over
// a candle series and packages the results. The returned analysis is a
// read-only snapshot; callers must not mutate its slices.
func (s *Scorer) AnalyzeTimeframe(symbol string, tf models.Timeframe, candles []models.Candle) models.TimeframeAnalysis {
	analysis := models.TimeframeAnalysis{
		Symbol:    symbol,
		Timeframe: tf,
		Candles:   candles,
	}
	if len(candles) == 0 {
		return analysis
	}

	analysis.Patterns = s.patterns.DetectAll(candles)

	swings := s.structures.DetectSwings(candles)
	breaks, swings := s.structures.DetectBreaks(candles, swings)
	analysis.Swings = swings
	analysis.Breaks = breaks
	analysis.OrderBlocks = s.structures.DetectOrderBlocks(candles)
	analysis.Gaps = s.structures.DetectGaps(candles)
	analysis.Zones = s.zones.Detect(candles, swings)
	analysis.Trend = structure.Trend(swings)

	// Derived convenience views.
	minIndex := len(candles) - s.cfg.RecentPatternWindow
	for _, p := range analysis.Patterns {
		if p.CandleIndex >= minIndex {
			analysis.RecentPatterns = append(analysis.RecentPatterns, p)
		}
	}

	price := analysis.CurrentPrice()
	for _, z := range analysis.Zones {
		if !z.Broken && z.DistanceTo(price) <= price*s.cfg.ZoneBufferPct {
			analysis.ActiveZones = append(analysis.ActiveZones, z)
		}
	}

	for i := range breaks {
		if analysis.LastBreak == nil || breaks[i].CandleIndex > analysis.LastBreak.CandleIndex {
			analysis.LastBreak = &breaks[i]
		}
	}

	return analysis
}

// vote is one component's directional reading on one timeframe.
type vote struct {
	direction int // +1 bullish, -1 bearish, 0 neutral
	strength  float64
}

// Score analyzes every supplied timeframe and fuses the results. It
// fails only on input-contract violations: the analysis timeframe must
// be present and at least one timeframe must have candles.
func (s *Scorer) Score(symbol string, mtf map[models.Timeframe][]models.Candle, analysisTF models.Timeframe) (models.ConfluenceScore, error) {
	if _, ok := mtf[analysisTF]; !ok {
		return models.ConfluenceScore{}, ErrMissingTimeframe
	}

	analyses := make(map[models.Timeframe]models.TimeframeAnalysis)
	for tf, candles := range mtf {
		if len(candles) == 0 {
			continue
		}
		analyses[tf] = s.AnalyzeTimeframe(symbol, tf, candles)
	}
	if len(analyses) == 0 {
		return models.ConfluenceScore{}, ErrNoCandles
	}

	return s.fuse(analyses, analysisTF), nil
}

// ScoreAnalyses fuses already-computed per-timeframe analyses. Useful
// when the caller needs the analyses themselves as well as the score.
func (s *Scorer) ScoreAnalyses(analyses map[models.Timeframe]models.TimeframeAnalysis, analysisTF models.Timeframe) (models.ConfluenceScore, error) {
	if _, ok := analyses[analysisTF]; !ok {
		return models.ConfluenceScore{}, ErrMissingTimeframe
	}
	populated := make(map[models.Timeframe]models.TimeframeAnalysis)
	for tf, a := range analyses {
		if len(a.Candles) > 0 {
			populated[tf] = a
		}
	}
	if len(populated) == 0 {
		return models.ConfluenceScore{}, ErrNoCandles
	}
	return s.fuse(populated, analysisTF), nil
}

func (s *Scorer) fuse(analyses map[models.Timeframe]models.TimeframeAnalysis, analysisTF models.Timeframe) models.ConfluenceScore {
	type tfVotes struct {
		tf        models.Timeframe
		weight    float64
		pattern   vote
		structure vote
		zone      vote
	}

	var all []tfVotes
	for tf, a := range analyses {
		all = append(all, tfVotes{
			tf:        tf,
			weight:    s.timeframeWeight(tf, analysisTF),
			pattern:   s.patternVote(a),
			structure: s.structureVote(a),
			zone:      s.zoneVote(a),
		})
	}

	// Component scores: weighted directional alignment blended with
	// average strength of the dominant side.
	componentScore := func(pick func(tfVotes) vote) float64 {
		var bullW, bearW, domStrength, domW float64
		for _, v := range all {
			vt := pick(v)
			switch vt.direction {
			case 1:
				bullW += v.weight
			case -1:
				bearW += v.weight
			}
		}
		dom := 0
		if bullW > bearW {
			dom = 1
		} else if bearW > bullW {
			dom = -1
		}
		if dom == 0 {
			return 0
		}
		for _, v := range all {
			vt := pick(v)
			if vt.direction == dom {
				domStrength += vt.strength * v.weight
				domW += v.weight
			}
		}
		alignment := 0.0
		if bullW+bearW > 0 {
			if dom == 1 {
				alignment = bullW / (bullW + bearW)
			} else {
				alignment = bearW / (bullW + bearW)
			}
		}
		avgStrength := 0.0
		if domW > 0 {
			avgStrength = domStrength / domW
		}
		return clamp01(0.6*alignment + 0.4*avgStrength)
	}

	patternScore := componentScore(func(v tfVotes) vote { return v.pattern })
	structureScore := componentScore(func(v tfVotes) vote { return v.structure })
	zoneScore := componentScore(func(v tfVotes) vote { return v.zone })

	overall := 100 * (s.cfg.PatternWeight*patternScore +
		s.cfg.StructureWeight*structureScore +
		s.cfg.ZoneWeight*zoneScore)
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}

	// Per-timeframe signals and weighted votes.
	score := models.ConfluenceScore{
		OverallScore:   overall,
		PatternScore:   patternScore,
		StructureScore: structureScore,
		ZoneScore:      zoneScore,
	}

	var bullTFs, bearTFs int
	var bullW, bearW, bestWeighted float64
	for _, v := range all {
		composite := s.cfg.PatternWeight*float64(v.pattern.direction)*v.pattern.strength +
			s.cfg.StructureWeight*float64(v.structure.direction)*v.structure.strength +
			s.cfg.ZoneWeight*float64(v.zone.direction)*v.zone.strength

		level := models.LevelNeutral
		switch {
		case composite > 0.1:
			level = models.LevelBullish
			bullTFs++
			bullW += v.weight
		case composite < -0.1:
			level = models.LevelBearish
			bearTFs++
			bearW += v.weight
		}

		patternLevel := models.LevelNeutral
		switch v.pattern.direction {
		case 1:
			patternLevel = models.LevelBullish
		case -1:
			patternLevel = models.LevelBearish
		}

		tfScore := clamp01(abs(composite)) * 100
		score.TimeframeScores = append(score.TimeframeScores, models.TimeframeScore{
			Timeframe:     v.tf,
			Signal:        level,
			PatternSignal: patternLevel,
			Score:         tfScore,
			Weight:        v.weight,
		})
		if weighted := tfScore * v.weight; weighted > bestWeighted {
			bestWeighted = weighted
			score.DominantTimeframe = v.tf
		}
	}

	total := len(all)
	majority := bullTFs
	if bearTFs > bullTFs {
		majority = bearTFs
	}
	score.AgreementPercentage = float64(majority) / float64(total) * 100

	majorityBull := bullTFs > bearTFs
	majorityBear := bearTFs > bullTFs
	for _, ts := range score.TimeframeScores {
		if ts.Signal == models.LevelNeutral {
			continue
		}
		if (majorityBull && ts.Signal.IsBearish()) || (majorityBear && ts.Signal.IsBullish()) {
			score.ConflictingTimeframes = append(score.ConflictingTimeframes, ts.Timeframe)
		}
	}

	// Overall signal with STRONG escalation.
	voteRatio := 0.0
	if bullW+bearW > 0 {
		if majorityBull {
			voteRatio = bullW / (bullW + bearW)
		} else if majorityBear {
			voteRatio = bearW / (bullW + bearW)
		}
	}
	switch {
	case majorityBull && voteRatio > s.cfg.StrongVoteRatio && overall > s.cfg.StrongMinScore:
		score.Signal = models.LevelStrongBullish
	case majorityBull:
		score.Signal = models.LevelBullish
	case majorityBear && voteRatio > s.cfg.StrongVoteRatio && overall > s.cfg.StrongMinScore:
		score.Signal = models.LevelStrongBearish
	case majorityBear:
		score.Signal = models.LevelBearish
	default:
		score.Signal = models.LevelNeutral
	}

	return score
}

// timeframeWeight weighs a timeframe by its candle duration relative to
// the analysis timeframe.
func (s *Scorer) timeframeWeight(tf, analysisTF models.Timeframe) float64 {
	d, ad := tf.Duration(), analysisTF.Duration()
	switch {
	case d > ad:
		return s.cfg.HigherTFWeight
	case d < ad:
		return s.cfg.LowerTFWeight
	default:
		return s.cfg.EqualTFWeight
	}
}

// patternVote is the strength-weighted majority of recent patterns. One
// side must dominate the other by the configured factor to count.
func (s *Scorer) patternVote(a models.TimeframeAnalysis) vote {
	var bull, bear float64
	var bullN, bearN int
	for _, p := range a.RecentPatterns {
		switch p.Signal {
		case models.SignalBullish:
			bull += p.Strength
			bullN++
		case models.SignalBearish:
			bear += p.Strength
			bearN++
		}
	}

	switch {
	case bull > 0 && bull >= s.cfg.DominanceFactor*bear:
		return vote{direction: 1, strength: bull / float64(bullN)}
	case bear > 0 && bear >= s.cfg.DominanceFactor*bull:
		return vote{direction: -1, strength: bear / float64(bearN)}
	default:
		return vote{}
	}
}

// structureVote reads the latest structure break, falling back to the
// swing trend when no break has occurred yet.
func (s *Scorer) structureVote(a models.TimeframeAnalysis) vote {
	if a.LastBreak != nil {
		dir := 1
		if a.LastBreak.Direction() == models.TrendDown {
			dir = -1
		}
		return vote{direction: dir, strength: a.LastBreak.Significance}
	}

	switch a.Trend {
	case models.TrendUp:
		return vote{direction: 1, strength: 0.4}
	case models.TrendDown:
		return vote{direction: -1, strength: 0.4}
	default:
		return vote{}
	}
}

// zoneVote reads the strongest active zone near the current price:
// support under price is bullish, resistance over price bearish.
func (s *Scorer) zoneVote(a models.TimeframeAnalysis) vote {
	price := a.CurrentPrice()

	var best *models.Zone
	bestScore := 0.0
	for i := range a.ActiveZones {
		if sc := a.ActiveZones[i].StrengthScore(); best == nil || sc > bestScore {
			best = &a.ActiveZones[i]
			bestScore = sc
		}
	}
	if best == nil {
		return vote{}
	}

	switch {
	case best.Type == models.ZoneSupport, best.Type == models.ZoneSupportResistance && best.Mid() <= price:
		return vote{direction: 1, strength: bestScore}
	case best.Type == models.ZoneResistance, best.Type == models.ZoneSupportResistance && best.Mid() > price:
		return vote{direction: -1, strength: bestScore}
	default:
		return vote{}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
