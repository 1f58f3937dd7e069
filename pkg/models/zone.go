package models

import "time"

// ZoneType classifies a price band by the side price has reacted from.
type ZoneType int

const (
	ZoneSupport ZoneType = iota
	ZoneResistance
	ZoneSupportResistance
)

func (t ZoneType) String() string {
	switch t {
	case ZoneSupport:
		return "support"
	case ZoneResistance:
		return "resistance"
	default:
		return "support_resistance"
	}
}

// ZoneStrength is the derived strength class of a zone. It is recomputed
// from the touch list and never set directly by callers.
type ZoneStrength int

const (
	ZoneWeak ZoneStrength = iota
	ZoneModerate
	ZoneStrong
	ZoneMajor
)

func (s ZoneStrength) String() string {
	switch s {
	case ZoneMajor:
		return "major"
	case ZoneStrong:
		return "strong"
	case ZoneModerate:
		return "moderate"
	default:
		return "weak"
	}
}

// ZoneTouch records one interaction of price with a zone.
type ZoneTouch struct {
	CandleIndex int
	Timestamp   time.Time
	Price       float64
	IsBounce    bool
	VolumeRatio float64
}

// Zone is a support/resistance price band with its touch history.
// Invariant: Top >= Bottom. Strength is derived from Touches.
type Zone struct {
	Type     ZoneType
	Top      float64
	Bottom   float64
	Touches  []ZoneTouch
	Strength ZoneStrength
	Broken   bool
}

// Mid returns the midpoint of the band.
func (z Zone) Mid() float64 {
	return (z.Top + z.Bottom) / 2
}

// ContainsPrice reports whether the price lies inside the band.
func (z Zone) ContainsPrice(price float64) bool {
	return price >= z.Bottom && price <= z.Top
}

// DistanceTo returns the distance from the price to the nearest bound,
// or zero when the price is inside the band.
func (z Zone) DistanceTo(price float64) float64 {
	switch {
	case price > z.Top:
		return price - z.Top
	case price < z.Bottom:
		return z.Bottom - price
	default:
		return 0
	}
}

// BounceRate returns the fraction of touches that bounced.
func (z Zone) BounceRate() float64 {
	if len(z.Touches) == 0 {
		return 0
	}
	bounces := 0
	for _, t := range z.Touches {
		if t.IsBounce {
			bounces++
		}
	}
	return float64(bounces) / float64(len(z.Touches))
}

// AvgVolumeRatio returns the mean volume ratio across touches.
func (z Zone) AvgVolumeRatio() float64 {
	if len(z.Touches) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range z.Touches {
		sum += t.VolumeRatio
	}
	return sum / float64(len(z.Touches))
}

// StrengthScore collapses touch count, bounce rate and volume profile
// into a single [0,1] quality score.
func (z Zone) StrengthScore() float64 {
	touches := float64(len(z.Touches)) / 5.0
	if touches > 1 {
		touches = 1
	}
	vol := z.AvgVolumeRatio() / 1.5
	if vol > 1 {
		vol = 1
	}
	score := 0.4*touches + 0.4*z.BounceRate() + 0.2*vol
	if score > 1 {
		score = 1
	}
	return score
}
