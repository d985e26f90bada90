package weather

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Confidence grades how tightly the forecast sources agree.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceVeryLow Confidence = "very_low"
)

// divergenceLimit flags a source whose value strays this far from the
// consensus median.
const divergenceLimit = 3.0

// consensusCacheTTL bounds repeat provider calls within one run.
const consensusCacheTTL = 10 * time.Minute

// Source supplies tomorrow's forecast high and low for a city.
type Source interface {
	Name() string
	TomorrowOutlook(ctx context.Context, city *City) (high, low float64, err error)
}

// named adapts the concrete clients to Source.
type named struct {
	name string
	fn   func(ctx context.Context, city *City) (float64, float64, error)
}

func (s named) Name() string { return s.name }
func (s named) TomorrowOutlook(ctx context.Context, city *City) (float64, float64, error) {
	return s.fn(ctx, city)
}

// Consensus is the agreed forecast for one city and market type.
type Consensus struct {
	Value      float64
	Confidence Confidence
	Sources    map[string]float64
	Divergent  []string
	FetchedAt  time.Time
}

// Usable reports whether the consensus is trustworthy enough to feed
// tomorrow estimates.
func (c *Consensus) Usable() bool {
	return c != nil && c.Confidence != ConfidenceVeryLow
}

// Validator queries every source, takes the median, and grades agreement.
// Results are cached per city and market type for a few minutes.
type Validator struct {
	sources []Source
	log     zerolog.Logger

	mu    sync.Mutex
	cache map[string]*Consensus
	now   func() time.Time
}

// NewValidator creates a validator over the default sources.
func NewValidator(log zerolog.Logger) *Validator {
	nws := NewNWSClient()
	om := NewOpenMeteoClient()
	return NewValidatorWithSources(log,
		named{name: "nws", fn: nws.TomorrowOutlook},
		named{name: "open-meteo", fn: om.TomorrowOutlook},
	)
}

// NewValidatorWithSources creates a validator over explicit sources.
func NewValidatorWithSources(log zerolog.Logger, sources ...Source) *Validator {
	return &Validator{
		sources: sources,
		log:     log.With().Str("component", "consensus").Logger(),
		cache:   make(map[string]*Consensus),
		now:     time.Now,
	}
}

// Tomorrow returns the consensus forecast for tomorrow's high or low.
func (v *Validator) Tomorrow(ctx context.Context, city *City, mt MarketType) *Consensus {
	key := city.Code + "/" + string(mt)

	v.mu.Lock()
	if cached, ok := v.cache[key]; ok && v.now().Sub(cached.FetchedAt) < consensusCacheTTL {
		v.mu.Unlock()
		return cached
	}
	v.mu.Unlock()

	values := make(map[string]float64)
	for _, src := range v.sources {
		high, low, err := src.TomorrowOutlook(ctx, city)
		if err != nil {
			v.log.Warn().Err(err).Str("source", src.Name()).Str("city", city.Code).
				Msg("forecast source failed")
			continue
		}
		if mt == MarketLow {
			values[src.Name()] = low
		} else {
			values[src.Name()] = high
		}
	}

	result := buildConsensus(values, v.now())
	if result != nil {
		v.log.Info().Str("city", city.Code).Str("type", string(mt)).
			Float64("value", result.Value).Str("confidence", string(result.Confidence)).
			Int("sources", len(values)).Msg("forecast consensus")

		v.mu.Lock()
		v.cache[key] = result
		v.mu.Unlock()
	}
	return result
}

// buildConsensus computes the median and grades it. Returns nil when no
// source answered.
func buildConsensus(values map[string]float64, at time.Time) *Consensus {
	if len(values) == 0 {
		return nil
	}

	sorted := make([]float64, 0, len(values))
	for _, val := range values {
		sorted = append(sorted, val)
	}
	sort.Float64s(sorted)

	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	result := &Consensus{
		Value:     median,
		Sources:   values,
		FetchedAt: at,
	}

	maxDivergence := 0.0
	for name, val := range values {
		d := val - median
		if d < 0 {
			d = -d
		}
		if d > divergenceLimit {
			result.Divergent = append(result.Divergent, name)
		}
		if d > maxDivergence {
			maxDivergence = d
		}
	}
	sort.Strings(result.Divergent)

	switch {
	case len(values) >= 3 && maxDivergence <= 2:
		result.Confidence = ConfidenceHigh
	case len(values) >= 2 && maxDivergence <= 3:
		result.Confidence = ConfidenceMedium
	case len(values) >= 2 && maxDivergence <= 5:
		result.Confidence = ConfidenceLow
	default:
		result.Confidence = ConfidenceVeryLow
	}

	return result
}
