// Package zone builds support/resistance zones from swing points and
// wick-rejection clusters, tracks touches, merges overlapping zones and
// classifies their strength. Detection never mutates its inputs.
package zone

import (
	"math"
	"sort"

	"github.com/skarlet-lab/mtfa/internal/config"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

// Detector constructs support/resistance zones.
type Detector struct {
	cfg config.ZoneConfig
}

// NewDetector creates a zone detector.
func NewDetector(cfg config.ZoneConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect combines swing-anchored zones with wick-rejection clusters,
// accumulates touches, discards under-touched candidates, merges
// neighbours and classifies strength. Swings come from the structure
// analyzer so detection passes share one swing scan.
func (d *Detector) Detect(candles []models.Candle, swings []models.SwingPoint) []models.Zone {
	if len(candles) < 2 {
		return nil
	}

	candidates := d.swingZones(candles, swings)
	candidates = append(candidates, d.rejectionZones(candles)...)

	var zones []models.Zone
	for _, cand := range candidates {
		z := d.collectTouches(candles, cand)
		if len(z.Touches) < d.cfg.MinTouches {
			continue
		}
		z.Strength = Classify(z)
		zones = append(zones, z)
	}

	return d.Merge(zones)
}

type candidate struct {
	zone       models.Zone
	startIndex int
}

// swingZones anchors a band of price*zone_width_pct around each swing.
func (d *Detector) swingZones(candles []models.Candle, swings []models.SwingPoint) []candidate {
	var out []candidate
	for _, sp := range swings {
		width := sp.Price * d.cfg.ZoneWidthPct
		typ := models.ZoneSupport
		if sp.Type == models.SwingHigh {
			typ = models.ZoneResistance
		}
		out = append(out, candidate{
			zone: models.Zone{
				Type:   typ,
				Top:    sp.Price + width/2,
				Bottom: sp.Price - width/2,
			},
			startIndex: sp.CandleIndex,
		})
	}
	return out
}

// rejectionZones clusters candles whose rejection wick exceeds the
// threshold ratio by the price of the rejected extreme.
func (d *Detector) rejectionZones(candles []models.Candle) []candidate {
	type rejection struct {
		index int
		price float64
		typ   models.ZoneType
	}

	var rejections []rejection
	for i, c := range candles {
		total := c.TotalRange()
		if total == 0 {
			continue
		}
		if c.UpperWick()/total > d.cfg.RejectionWickRatio {
			rejections = append(rejections, rejection{i, c.High, models.ZoneResistance})
		}
		if c.LowerWick()/total > d.cfg.RejectionWickRatio {
			rejections = append(rejections, rejection{i, c.Low, models.ZoneSupport})
		}
	}

	var out []candidate
	used := make([]bool, len(rejections))
	for i, r := range rejections {
		if used[i] {
			continue
		}
		cluster := []rejection{r}
		used[i] = true
		for j := i + 1; j < len(rejections); j++ {
			if used[j] || rejections[j].typ != r.typ {
				continue
			}
			if math.Abs(rejections[j].price-r.price) <= r.price*d.cfg.ZoneWidthPct {
				cluster = append(cluster, rejections[j])
				used[j] = true
			}
		}
		if len(cluster) < 2 {
			continue
		}

		var sum float64
		first := cluster[0].index
		for _, cr := range cluster {
			sum += cr.price
			if cr.index < first {
				first = cr.index
			}
		}
		mid := sum / float64(len(cluster))
		width := mid * d.cfg.ZoneWidthPct
		out = append(out, candidate{
			zone: models.Zone{
				Type:   r.typ,
				Top:    mid + width/2,
				Bottom: mid - width/2,
			},
			startIndex: first,
		})
	}
	return out
}

// collectTouches scans candles after the zone origin. A candle whose
// range intersects the band touches it; the touch is a bounce only when
// the close ends back on the side the zone defends. A close fully beyond
// the band against the type is a break-through, never a bounce, and
// marks the zone broken.
func (d *Detector) collectTouches(candles []models.Candle, cand candidate) models.Zone {
	z := cand.zone
	for i := cand.startIndex + 1; i < len(candles); i++ {
		c := candles[i]
		if c.Low > z.Top || c.High < z.Bottom {
			continue
		}

		bounce := false
		switch z.Type {
		case models.ZoneSupport:
			bounce = c.Close > z.Top
		case models.ZoneResistance:
			bounce = c.Close < z.Bottom
		default:
			bounce = c.Close > z.Top || c.Close < z.Bottom
		}

		price := clampTo(c.Close, z.Bottom, z.Top)
		z.Touches = append(z.Touches, models.ZoneTouch{
			CandleIndex: i,
			Timestamp:   c.Timestamp,
			Price:       price,
			IsBounce:    bounce,
			VolumeRatio: d.volumeRatio(candles, i),
		})

		if (z.Type == models.ZoneSupport && c.Close < z.Bottom) ||
			(z.Type == models.ZoneResistance && c.Close > z.Top) {
			z.Broken = true
		}
	}
	return z
}

func (d *Detector) volumeRatio(candles []models.Candle, i int) float64 {
	start := i - d.cfg.VolumeLookback
	if start < 0 {
		start = 0
	}
	if i == start {
		return 1
	}
	var sum float64
	for j := start; j < i; j++ {
		sum += candles[j].Volume
	}
	avg := sum / float64(i-start)
	if avg == 0 {
		return 1
	}
	return candles[i].Volume / avg
}

// Merge combines zones whose midpoints fall within the merge threshold
// of each other when their types are compatible. Bounds become the
// union, touches are concatenated and re-sorted by time, and strength
// is recomputed. Merging is idempotent and order-independent.
func (d *Detector) Merge(zones []models.Zone) []models.Zone {
	if len(zones) < 2 {
		return zones
	}

	// Canonical order makes the result independent of input order.
	sorted := make([]models.Zone, len(zones))
	copy(sorted, zones)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Mid() < sorted[j].Mid() })

	for {
		merged := false
		var out []models.Zone
		for _, z := range sorted {
			if len(out) == 0 {
				out = append(out, z)
				continue
			}
			last := &out[len(out)-1]
			if d.canMerge(*last, z) {
				*last = mergeZones(*last, z)
				merged = true
			} else {
				out = append(out, z)
			}
		}
		sorted = out
		if !merged {
			return sorted
		}
	}
}

func (d *Detector) canMerge(a, b models.Zone) bool {
	ref := (a.Mid() + b.Mid()) / 2
	if ref == 0 {
		return false
	}
	return math.Abs(a.Mid()-b.Mid()) <= ref*d.cfg.MergeThreshold
}

func mergeZones(a, b models.Zone) models.Zone {
	typ := a.Type
	if a.Type != b.Type {
		typ = models.ZoneSupportResistance
	}

	touches := make([]models.ZoneTouch, 0, len(a.Touches)+len(b.Touches))
	touches = append(touches, a.Touches...)
	touches = append(touches, b.Touches...)
	sort.Slice(touches, func(i, j int) bool {
		if touches[i].CandleIndex != touches[j].CandleIndex {
			return touches[i].CandleIndex < touches[j].CandleIndex
		}
		return touches[i].Price < touches[j].Price
	})

	z := models.Zone{
		Type:    typ,
		Top:     math.Max(a.Top, b.Top),
		Bottom:  math.Min(a.Bottom, b.Bottom),
		Touches: touches,
		Broken:  a.Broken && b.Broken,
	}
	z.Strength = Classify(z)
	return z
}

// Classify applies the deterministic strength rule table over touch
// count, bounce rate and volume profile.
func Classify(z models.Zone) models.ZoneStrength {
	touches := len(z.Touches)
	bounce := z.BounceRate()
	vol := z.AvgVolumeRatio()

	switch {
	case touches >= 5 && bounce >= 0.7 && vol >= 1.5:
		return models.ZoneMajor
	case touches >= 4 && bounce >= 0.6 && vol >= 1.2:
		return models.ZoneStrong
	case touches >= 3 && bounce >= 0.5:
		return models.ZoneModerate
	default:
		return models.ZoneWeak
	}
}

func clampTo(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
