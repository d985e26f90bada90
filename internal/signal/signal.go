// Package signal turns estimates and observed extremes into trade
// candidates: a base path that prices every market against the model,
// and a lock-in path that bets on brackets the observed extreme has
// already decided.
package signal

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/estimator"
	"github.com/brendanplayford/weathertrader/pkg/market"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// Signal sources.
const (
	SourceModel  = "model"
	SourceLockin = "metar_lockin"
)

// minSafetyMargin keeps NO entries away from bracket edges.
const minSafetyMargin = 3.0

// flaggedSafetyMargin is the stricter margin for flagged NO signals.
const flaggedSafetyMargin = 4.0

// Signal is one trade candidate.
type Signal struct {
	City        string
	Ticker      string
	EventTicker string
	MarketType  weather.MarketType
	DateET      string
	Tomorrow    bool

	Side     string // "yes" or "no"
	Price    int    // entry price in cents
	YesPrice int    // the yes-side quote the signal priced against
	OurPrice int    // model price, cents

	Probability float64
	EdgePct     float64
	Confidence  float64
	Margin      float64 // distance from estimate to nearest strike edge
	Source      string
	Priority    float64

	Strike   market.Strike
	Estimate *estimator.Estimate

	// PredictionID links back to the prediction_log row once journaled.
	PredictionID int64
}

// Generator produces signals from estimates and market quotes.
type Generator struct {
	minEntryPrice   int
	preferredCities map[string]bool
	log             zerolog.Logger
}

// New returns a signal generator. MIA and NYC markets carry the most
// edge historically and get a priority boost.
func New(minEntryPrice int, log zerolog.Logger) *Generator {
	return &Generator{
		minEntryPrice:   minEntryPrice,
		preferredCities: map[string]bool{"MIA": true, "NYC": true},
		log:             log.With().Str("component", "signal").Logger(),
	}
}

// FromEstimate prices every market in the event against the estimate
// and returns the surviving signals, best first.
func (g *Generator) FromEstimate(est *estimator.Estimate, city *weather.City, markets []rest.Market, tomorrow bool) []Signal {
	sigma := est.Sigma(city)

	var signals []Signal
	for _, m := range markets {
		if m.Status != "" && m.Status != "active" && m.Status != "open" {
			continue
		}
		// Untraded book: nothing to price against.
		if m.YesBid == 0 && m.YesAsk >= 100 {
			continue
		}

		strike, err := market.FromMarket(m)
		if err != nil {
			g.log.Debug().Str("ticker", m.Ticker).Err(err).Msg("unparsable strike")
			continue
		}

		p := strike.Probability(est.Value, sigma)
		ourPrice := int(math.Round(p * 100))
		margin := strike.NearestEdge(est.Value)

		if s := g.yesSignal(est, m, strike, p, ourPrice, margin, tomorrow); s != nil {
			s.City = city.Code
			signals = append(signals, *s)
		}
		if s := g.noSignal(est, m, strike, p, ourPrice, margin, tomorrow); s != nil {
			s.City = city.Code
			signals = append(signals, *s)
		}
	}

	signals = g.postFilter(signals)
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Priority > signals[j].Priority
	})
	return signals
}

func (g *Generator) yesSignal(est *estimator.Estimate, m rest.Market, strike market.Strike, p float64, ourPrice int, margin float64, tomorrow bool) *Signal {
	if m.YesAsk <= 0 || ourPrice <= m.YesAsk {
		return nil
	}
	if m.YesAsk < g.minEntryPrice {
		return nil
	}
	return &Signal{
		Ticker:      m.Ticker,
		EventTicker: m.EventTicker,
		MarketType:  est.MarketType,
		DateET:      est.DateET,
		Tomorrow:    tomorrow,
		Side:        "yes",
		Price:       m.YesAsk,
		YesPrice:    m.YesAsk,
		OurPrice:    ourPrice,
		Probability: p,
		EdgePct:     float64(ourPrice-m.YesAsk) / float64(m.YesAsk) * 100,
		Confidence:  est.Confidence,
		Margin:      margin,
		Source:      SourceModel,
		Strike:      strike,
		Estimate:    est,
	}
}

func (g *Generator) noSignal(est *estimator.Estimate, m rest.Market, strike market.Strike, p float64, ourPrice int, margin float64, tomorrow bool) *Signal {
	if m.YesBid <= 0 || ourPrice >= m.YesBid {
		return nil
	}
	if 100-m.YesBid < g.minEntryPrice {
		return nil
	}
	if margin < minSafetyMargin {
		return nil
	}

	s := &Signal{
		Ticker:      m.Ticker,
		EventTicker: m.EventTicker,
		MarketType:  est.MarketType,
		DateET:      est.DateET,
		Tomorrow:    tomorrow,
		Side:        "no",
		Price:       100 - m.YesBid,
		YesPrice:    m.YesBid,
		OurPrice:    ourPrice,
		Probability: p,
		EdgePct:     float64(m.YesBid-ourPrice) / float64(m.YesBid) * 100,
		Confidence:  est.Confidence,
		Margin:      margin,
		Source:      SourceModel,
		Strike:      strike,
		Estimate:    est,
	}

	if g.flagged(s) && !g.passesEnhancedValidation(s) {
		g.log.Info().Str("ticker", s.Ticker).Float64("edge", s.EdgePct).
			Msg("flagged NO signal blocked")
		return nil
	}
	return s
}

// flagged marks NO signals whose edge looks too good to be true.
func (g *Generator) flagged(s *Signal) bool {
	if s.Margin < 2 && s.EdgePct > 50 {
		return true
	}
	if s.YesPrice >= 15 && s.EdgePct > 80 && !s.Tomorrow {
		return true
	}
	est := s.Estimate
	if est.HasRunning && est.ForecastTemp != 0 && math.Abs(est.ForecastTemp-est.RunningExtreme) > 3 {
		return true
	}
	return false
}

// passesEnhancedValidation double-checks a flagged NO signal against
// observed reality. Passing costs confidence.
func (g *Generator) passesEnhancedValidation(s *Signal) bool {
	est := s.Estimate
	if est.HasRunning {
		// The rounding-adjusted extreme landing inside the bracket
		// means the market can still settle YES.
		adjusted := est.RunningExtreme + 1
		if s.MarketType == weather.MarketLow {
			adjusted = est.RunningExtreme - 1
		}
		if s.Strike.WouldWin(adjusted) {
			return false
		}

		// Reality already moved past the estimate the wrong way.
		if s.MarketType == weather.MarketHigh && est.RunningExtreme > est.Value {
			return false
		}
		if s.MarketType == weather.MarketLow && est.RunningExtreme < est.Value {
			return false
		}
	}

	if s.Margin < flaggedSafetyMargin {
		return false
	}

	s.Confidence = math.Max(0.2, s.Confidence-0.15)
	return true
}

// postFilter drops poor risk/reward shapes and scores the rest.
func (g *Generator) postFilter(signals []Signal) []Signal {
	kept := signals[:0]
	for _, s := range signals {
		if s.Side == "no" && s.YesPrice < 10 {
			continue
		}
		if s.Side == "yes" && s.Price < 50 {
			continue
		}
		s.Priority = g.priority(s)
		kept = append(kept, s)
	}
	return kept
}

func (g *Generator) priority(s Signal) float64 {
	var score float64
	switch {
	case s.Side == "no" && s.YesPrice <= 25:
		score = 5
	case s.Side == "yes" && s.Price >= 80:
		score = 3
	case s.Side == "no":
		score = 2
	default:
		score = 1
	}
	if g.preferredCities[s.City] {
		score *= 1.3
	}
	return score
}
