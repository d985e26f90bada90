package risk

import (
	"math"
	"math/rand"

	"github.com/brendanplayford/weathertrader/internal/signal"
)

// Risk bands in cents, scaled by the stacking multiplier.
const (
	noBandLow    = 175
	noBandHigh   = 225
	yesBand      = 175
	yesCheapLow  = 100
	yesCheapHigh = 125
)

// Sizer converts an accepted signal into a contract count.
type Sizer struct {
	maxContracts   int
	maxPositionPct float64
	jitter         bool
	rng            *rand.Rand
}

// NewSizer builds a sizer. Jitter randomizes sizes by one contract to
// avoid a recognizable order fingerprint.
func NewSizer(maxContracts int, maxPositionPct float64, jitter bool, rng *rand.Rand) *Sizer {
	return &Sizer{
		maxContracts:   maxContracts,
		maxPositionPct: maxPositionPct,
		jitter:         jitter,
		rng:            rng,
	}
}

// Size returns the contract count for a signal given the stacking
// multiplier and current balance in cents.
func (z *Sizer) Size(s *signal.Signal, mult, balance int) int {
	var contracts int
	var bandLow int

	switch {
	case s.Side == "no":
		// Longshot NO: risk is keyed to the yes quote.
		bandLow = noBandLow * mult
		band := z.between(noBandLow, noBandHigh) * mult
		contracts = band / s.YesPrice
	case s.Price >= 50:
		bandLow = yesBand * mult
		contracts = yesBand * mult / s.Price
		if contracts < 3 {
			contracts = 3
		}
	default:
		bandLow = yesCheapLow * mult
		band := z.between(yesCheapLow, yesCheapHigh) * mult
		contracts = band / s.Price
	}

	// Deploy at least the low end of the band.
	denom := s.Price
	if s.Side == "no" {
		denom = s.YesPrice
	}
	if floor := ceilDiv(bandLow, denom); contracts < floor {
		contracts = floor
	}

	if contracts > z.maxContracts {
		contracts = z.maxContracts
	}

	// Never breach the per-position share of the bankroll.
	if z.maxPositionPct > 0 && s.Price > 0 {
		if byBalance := int(float64(balance) * z.maxPositionPct / 100 / float64(s.Price)); contracts > byBalance {
			contracts = byBalance
		}
	}

	if z.jitter && contracts >= 3 {
		contracts += z.rng.Intn(3) - 1
	}
	if contracts < 1 {
		contracts = 1
	}
	return contracts
}

func (z *Sizer) between(low, high int) int {
	if z.rng == nil || high <= low {
		return low
	}
	return low + z.rng.Intn(high-low+1)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return int(math.Ceil(float64(a) / float64(b)))
}
