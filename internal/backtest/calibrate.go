package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// Recommended σ bounds. Below 2.5 the model overstates its edge; above
// 6.0 every market prices as a coin flip.
const (
	minRecommendedStd = 2.5
	maxRecommendedStd = 6.0
	stdSafetyFactor   = 1.5
)

// calibrationWindow caps how many scored predictions feed one
// recommendation.
const calibrationWindow = 200

// BiasStats summarizes the signed error of one city/market-type.
type BiasStats struct {
	Samples     int
	MeanError   float64 // actual − predicted; positive means we run cold
	ErrorStd    float64
	MeanAbsErr  float64
}

// Recommendation is the calibration output for one city.
type Recommendation struct {
	City           string
	High           BiasStats
	Low            BiasStats
	RecommendedStd float64
	ObservedStd    float64
	Samples        int
}

// Calibrate derives per-city bias corrections and a σ recommendation
// from scored prediction-log rows.
func Calibrate(st *store.Store, city *weather.City) (*Recommendation, error) {
	rec := &Recommendation{City: city.Code, RecommendedStd: 4.0}

	var allErrors []float64
	for _, mt := range []weather.MarketType{weather.MarketHigh, weather.MarketLow} {
		if mt == weather.MarketLow && !city.HasLowMarket() {
			continue
		}
		pairs, err := st.PredictionErrors(city.Code, string(mt), calibrationWindow)
		if err != nil {
			return nil, err
		}

		stats := biasStats(pairs)
		if mt == weather.MarketHigh {
			rec.High = stats
		} else {
			rec.Low = stats
		}
		for _, pr := range pairs {
			allErrors = append(allErrors, pr[1]-pr[0])
		}
	}

	rec.Samples = len(allErrors)
	if len(allErrors) > 1 {
		rec.ObservedStd = stat.StdDev(allErrors, nil)
		rec.RecommendedStd = clampStd(rec.ObservedStd * stdSafetyFactor)
	}
	return rec, nil
}

// CalibrateAll runs Calibrate over every active city with any scored
// predictions.
func CalibrateAll(st *store.Store, cities []*weather.City) ([]Recommendation, error) {
	var out []Recommendation
	for _, city := range cities {
		rec, err := Calibrate(st, city)
		if err != nil {
			return nil, err
		}
		if rec.Samples == 0 {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func biasStats(pairs [][2]float64) BiasStats {
	s := BiasStats{Samples: len(pairs)}
	if len(pairs) == 0 {
		return s
	}

	errs := make([]float64, len(pairs))
	var absSum float64
	for i, pr := range pairs {
		errs[i] = pr[1] - pr[0]
		absSum += math.Abs(errs[i])
	}
	s.MeanError = stat.Mean(errs, nil)
	s.MeanAbsErr = absSum / float64(len(errs))
	if len(errs) > 1 {
		s.ErrorStd = stat.StdDev(errs, nil)
	}
	return s
}

func clampStd(v float64) float64 {
	if v < minRecommendedStd {
		return minRecommendedStd
	}
	if v > maxRecommendedStd {
		return maxRecommendedStd
	}
	return math.Round(v*10) / 10
}
