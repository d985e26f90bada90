// Package estimator fuses running observed extremes, station
// observations, and forecasts into a calibrated (temperature, sigma,
// confidence) per city, day, and market type.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// ErrNoEstimate is returned when the inputs are too thin to price from.
var ErrNoEstimate = errors.New("estimator: insufficient data")

// MaxConfidence caps every estimate; certainty belongs to the lock-in path.
const MaxConfidence = 0.95

// Estimate is one priced temperature outlook.
type Estimate struct {
	City       string
	MarketType weather.MarketType
	DateET     string
	Value      float64
	Confidence float64

	// Inputs, retained for journaling and sanity checks.
	PrimaryTemp    float64
	SurroundingAvg float64
	ForecastTemp   float64
	RunningExtreme float64
	HasRunning     bool
	Source         string
}

// Sigma derives the pricing spread. Lower confidence widens the
// distribution, floored per city.
func (e *Estimate) Sigma(city *weather.City) float64 {
	return math.Max(city.StdFloor, 4.0-2*e.Confidence)
}

// Engine builds estimates from the store and the consensus validator.
type Engine struct {
	store     *store.Store
	consensus *weather.Validator
	log       zerolog.Logger
	now       func() time.Time
}

// New returns an estimation engine.
func New(st *store.Store, consensus *weather.Validator, log zerolog.Logger) *Engine {
	return &Engine{
		store:     st,
		consensus: consensus,
		log:       log.With().Str("component", "estimator").Logger(),
		now:       time.Now,
	}
}

// Estimate prices a (city, market type, date). The date must be today
// or tomorrow on the settlement clock.
func (e *Engine) Estimate(ctx context.Context, city *weather.City, mt weather.MarketType, date time.Time) (*Estimate, error) {
	today := weather.DateET(e.now())
	dateET := weather.DateET(date)

	if dateET != today {
		return e.estimateTomorrow(ctx, city, mt, dateET)
	}
	return e.estimateToday(city, mt, dateET)
}

func (e *Engine) estimateToday(city *weather.City, mt weather.MarketType, dateET string) (*Estimate, error) {
	primary, err := e.store.LatestObservation(city.Primary)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, fmt.Errorf("%w: no %s observation", ErrNoEstimate, city.Primary)
	}

	surrounding, haveSurrounding := e.surroundingAvg(city)

	var forecast *store.ForecastRow
	forecast, err = e.store.LatestForecast(city.Code, string(mt), dateET)
	if err != nil {
		return nil, err
	}

	running, err := e.store.GetExtreme(city.Primary, dateET)
	if err != nil {
		return nil, err
	}

	est := &Estimate{
		City:        city.Code,
		MarketType:  mt,
		DateET:      dateET,
		Confidence:  0.5,
		PrimaryTemp: primary.TempF,
		Source:      "model",
	}
	if haveSurrounding {
		est.SurroundingAvg = surrounding
	}

	switch {
	case forecast != nil:
		est.Value = forecast.Value
		est.ForecastTemp = forecast.Value
	case running != nil:
		// No forecast on file: let the observed extreme carry the day.
		if mt == weather.MarketHigh {
			est.Value = running.High
		} else {
			est.Value = running.Low
		}
		est.Confidence = 0.4
	default:
		return nil, fmt.Errorf("%w: no forecast or extremes for %s %s", ErrNoEstimate, city.Code, mt)
	}

	if mt == weather.MarketHigh {
		e.applyHighRules(est, city, primary, surrounding, haveSurrounding, running)
	} else {
		e.applyLowRules(est, city, primary, surrounding, haveSurrounding, running)
	}

	est.Confidence = clampConfidence(est.Confidence)
	e.log.Debug().Str("city", city.Code).Str("type", string(mt)).
		Float64("value", est.Value).Float64("confidence", est.Confidence).
		Msg("estimate")
	return est, nil
}

// applyHighRules folds today's observed reality into the forecast high.
func (e *Engine) applyHighRules(est *Estimate, city *weather.City, primary *weather.Observation, surrounding float64, haveSurrounding bool, running *store.Extreme) {
	if running != nil {
		est.RunningExtreme = running.High
		est.HasRunning = true

		// The forecast is under-running observed reality.
		if running.High > est.Value {
			est.Value = running.High
			est.Confidence += 0.15
		}
		// METAR rounds through Celsius; the true high can sit 1F above.
		est.Value = math.Max(est.Value, running.High+1.0)
	}

	// A primary temp pressing against the estimate drags it up.
	if primary.TempF > est.Value-2 {
		est.Value += 0.7 * (primary.TempF - (est.Value - 2))
	}

	if haveSurrounding {
		delta := surrounding - primary.TempF
		if delta > 1.5 {
			est.Value += delta * 0.5
		} else if delta < -1.5 {
			est.Value += delta * 0.3
		}
	}

	est.Value += city.HighBias

	hour := weather.HourET(e.now())
	switch {
	case hour >= 12 && hour <= 16:
		est.Confidence += 0.2
	case hour >= 10 && hour <= 18:
		est.Confidence += 0.1
	}
}

// applyLowRules is the mirror image for overnight lows.
func (e *Engine) applyLowRules(est *Estimate, city *weather.City, primary *weather.Observation, surrounding float64, haveSurrounding bool, running *store.Extreme) {
	if running != nil {
		est.RunningExtreme = running.Low
		est.HasRunning = true

		if running.Low < est.Value {
			est.Value = running.Low
			est.Confidence += 0.15
		}
		est.Value = math.Min(est.Value, running.Low-1.0)
	}

	hour := weather.HourET(e.now())

	// Clear and calm radiates heat; overcast and windy holds it in.
	if isClear(primary.SkyCover) && primary.WindMPH < 5 {
		est.Value -= 1.5
	} else if isCloudy(primary.SkyCover) && primary.WindMPH > 10 {
		est.Value += 1.5
	}

	// Late evening through pre-dawn the current temp bounds the low.
	if hour >= 20 || hour <= 4 {
		est.Value = math.Min(primary.TempF, est.Value)
	}

	if haveSurrounding {
		delta := surrounding - primary.TempF
		if delta > 1.5 {
			est.Value += delta * 0.5
		} else if delta < -1.5 {
			est.Value += delta * 0.3
		}
	}

	est.Value += city.LowBias

	// The low locks by morning; confidence rises as dawn approaches.
	switch {
	case hour >= 4 && hour <= 8:
		est.Confidence += 0.2
	case hour >= 2 && hour <= 10:
		est.Confidence += 0.1
	}
}

func (e *Engine) estimateTomorrow(ctx context.Context, city *weather.City, mt weather.MarketType, dateET string) (*Estimate, error) {
	est := &Estimate{
		City:       city.Code,
		MarketType: mt,
		DateET:     dateET,
		Confidence: 0.4,
		Source:     "model",
	}

	if c := e.consensus.Tomorrow(ctx, city, mt); c.Usable() {
		est.Value = c.Value
		est.ForecastTemp = c.Value
		if c.Confidence == weather.ConfidenceHigh {
			est.Confidence = 0.5
		}
	} else {
		forecast, err := e.store.LatestForecast(city.Code, string(mt), dateET)
		if err != nil {
			return nil, err
		}
		if forecast == nil {
			return nil, fmt.Errorf("%w: no tomorrow forecast for %s %s", ErrNoEstimate, city.Code, mt)
		}
		est.Value = forecast.Value
		est.ForecastTemp = forecast.Value
	}

	if mt == weather.MarketHigh {
		est.Value += city.HighBias
	} else {
		est.Value += city.LowBias
	}

	est.Confidence = clampConfidence(est.Confidence)
	return est, nil
}

// surroundingAvg averages the latest temps at the non-settlement stations.
func (e *Engine) surroundingAvg(city *weather.City) (float64, bool) {
	var sum float64
	var n int
	for _, station := range city.Surrounding {
		obs, err := e.store.LatestObservation(station)
		if err != nil || obs == nil {
			continue
		}
		sum += obs.TempF
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func clampConfidence(c float64) float64 {
	if c > MaxConfidence {
		return MaxConfidence
	}
	if c < 0.1 {
		return 0.1
	}
	return c
}

func isClear(sky string) bool {
	switch sky {
	case "CLR", "SKC", "FEW":
		return true
	}
	return false
}

func isCloudy(sky string) bool {
	switch sky {
	case "BKN", "OVC":
		return true
	}
	return false
}
