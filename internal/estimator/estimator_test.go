package estimator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// 19:00 ET on Feb 15: outside every confidence uplift window.
var evening = time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, now time.Time) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := New(st, weather.NewValidator(zerolog.Nop()), zerolog.Nop())
	e.now = func() time.Time { return now }
	return e, st
}

func saveObs(t *testing.T, st *store.Store, station string, temp float64) {
	t.Helper()
	require.NoError(t, st.SaveObservation(&weather.Observation{
		Station: station, TempF: temp, Time: time.Now(),
	}))
}

func TestEstimateToday_High_RunningExtremeDrivesUp(t *testing.T) {
	e, st := newTestEngine(t, evening)
	bos := weather.GetCity("BOS")

	saveObs(t, st, "KBOS", 38.0)
	require.NoError(t, st.SaveForecast(&store.ForecastRow{
		City: "BOS", MarketType: "high", DateET: "2026-02-15", Value: 40.0, Source: "nws",
	}))
	require.NoError(t, st.RecordExtreme("KBOS", "2026-02-15", 43.0, evening.Add(-4*time.Hour)))

	est, err := e.Estimate(context.Background(), bos, weather.MarketHigh, evening)
	require.NoError(t, err)

	// Running 43 beats forecast 40, then the rounding buffer adds 1.
	require.InDelta(t, 44.0, est.Value, 0.001)
	require.InDelta(t, 0.65, est.Confidence, 0.001)
	require.True(t, est.HasRunning)
	require.Equal(t, 43.0, est.RunningExtreme)
}

func TestEstimateToday_High_PrimaryNudge(t *testing.T) {
	e, st := newTestEngine(t, evening)
	bos := weather.GetCity("BOS")

	// Primary at 45 presses against an estimate of 44.
	saveObs(t, st, "KBOS", 45.0)
	require.NoError(t, st.SaveForecast(&store.ForecastRow{
		City: "BOS", MarketType: "high", DateET: "2026-02-15", Value: 44.0, Source: "nws",
	}))

	est, err := e.Estimate(context.Background(), bos, weather.MarketHigh, evening)
	require.NoError(t, err)

	// 44 + 0.7 * (45 - 42).
	require.InDelta(t, 46.1, est.Value, 0.001)
}

func TestEstimateToday_High_CityBias(t *testing.T) {
	e, st := newTestEngine(t, evening)
	nyc := weather.GetCity("NYC")

	saveObs(t, st, "KNYC", 35.0)
	require.NoError(t, st.SaveForecast(&store.ForecastRow{
		City: "NYC", MarketType: "high", DateET: "2026-02-15", Value: 42.0, Source: "nws",
	}))

	est, err := e.Estimate(context.Background(), nyc, weather.MarketHigh, evening)
	require.NoError(t, err)
	require.InDelta(t, 45.0, est.Value, 0.001)
}

func TestEstimateToday_High_SurroundingWarmer(t *testing.T) {
	e, st := newTestEngine(t, evening)
	bos := weather.GetCity("BOS")

	saveObs(t, st, "KBOS", 38.0)
	for _, s := range bos.Surrounding {
		saveObs(t, st, s, 42.0)
	}
	require.NoError(t, st.SaveForecast(&store.ForecastRow{
		City: "BOS", MarketType: "high", DateET: "2026-02-15", Value: 50.0, Source: "nws",
	}))

	est, err := e.Estimate(context.Background(), bos, weather.MarketHigh, evening)
	require.NoError(t, err)
	// Surrounding run 4 warmer than primary: +4*0.5.
	require.InDelta(t, 52.0, est.Value, 0.001)
}

func TestEstimateToday_MiddayConfidenceUplift(t *testing.T) {
	// 14:00 ET.
	midday := time.Date(2026, 2, 15, 19, 0, 0, 0, time.UTC)
	e, st := newTestEngine(t, midday)
	bos := weather.GetCity("BOS")

	saveObs(t, st, "KBOS", 35.0)
	require.NoError(t, st.SaveForecast(&store.ForecastRow{
		City: "BOS", MarketType: "high", DateET: "2026-02-15", Value: 44.0, Source: "nws",
	}))

	est, err := e.Estimate(context.Background(), bos, weather.MarketHigh, midday)
	require.NoError(t, err)
	require.InDelta(t, 0.7, est.Confidence, 0.001)
}

func TestEstimateToday_NoForecastFallsBackToRunning(t *testing.T) {
	e, st := newTestEngine(t, evening)
	bos := weather.GetCity("BOS")

	saveObs(t, st, "KBOS", 38.0)
	require.NoError(t, st.RecordExtreme("KBOS", "2026-02-15", 50.0, evening.Add(-4*time.Hour)))

	est, err := e.Estimate(context.Background(), bos, weather.MarketHigh, evening)
	require.NoError(t, err)
	require.InDelta(t, 51.0, est.Value, 0.001)
	require.InDelta(t, 0.55, est.Confidence, 0.001)
}

func TestEstimateToday_MissingPrimary(t *testing.T) {
	e, _ := newTestEngine(t, evening)
	_, err := e.Estimate(context.Background(), weather.GetCity("BOS"), weather.MarketHigh, evening)
	require.ErrorIs(t, err, ErrNoEstimate)
}

func TestEstimateToday_Low_AnchorsAndRadiates(t *testing.T) {
	// 23:00 ET, inside the late-evening anchor window.
	lateNight := time.Date(2026, 2, 16, 4, 0, 0, 0, time.UTC)
	e, st := newTestEngine(t, lateNight)
	bos := weather.GetCity("BOS")

	require.NoError(t, st.SaveObservation(&weather.Observation{
		Station: "KBOS", TempF: 25.0, SkyCover: "CLR", WindMPH: 3.0, Time: time.Now(),
	}))
	require.NoError(t, st.SaveForecast(&store.ForecastRow{
		City: "BOS", MarketType: "low", DateET: "2026-02-15", Value: 30.0, Source: "nws",
	}))
	require.NoError(t, st.RecordExtreme("KBOS", "2026-02-15", 27.0, lateNight.Add(-time.Hour)))

	est, err := e.Estimate(context.Background(), bos, weather.MarketLow, lateNight)
	require.NoError(t, err)

	// Running 27 beats forecast, buffer takes it to 26, clear-and-calm
	// subtracts 1.5; the 25F primary no longer binds.
	require.InDelta(t, 24.5, est.Value, 0.001)
	require.InDelta(t, 0.65, est.Confidence, 0.001)
}

func TestEstimateTomorrow_UsesConsensus(t *testing.T) {
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	v := weather.NewValidatorWithSources(zerolog.Nop(),
		fixedSource{"a", 52.0}, fixedSource{"b", 53.0}, fixedSource{"c", 52.0})
	e := New(st, v, zerolog.Nop())
	e.now = func() time.Time { return evening }

	tomorrow := evening.Add(24 * time.Hour)
	est, err := e.Estimate(context.Background(), weather.GetCity("NYC"), weather.MarketHigh, tomorrow)
	require.NoError(t, err)

	// Median 52 plus the NYC high bias; tight agreement earns 0.5.
	require.InDelta(t, 55.0, est.Value, 0.001)
	require.InDelta(t, 0.5, est.Confidence, 0.001)
	require.Equal(t, "2026-02-16", est.DateET)
}

func TestEstimateTomorrow_NoSourcesNoForecast(t *testing.T) {
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := New(st, weather.NewValidatorWithSources(zerolog.Nop()), zerolog.Nop())
	e.now = func() time.Time { return evening }

	_, err = e.Estimate(context.Background(), weather.GetCity("NYC"), weather.MarketHigh, evening.Add(24*time.Hour))
	require.ErrorIs(t, err, ErrNoEstimate)
}

func TestSigma(t *testing.T) {
	nyc := weather.GetCity("NYC")
	bos := weather.GetCity("BOS")

	est := &Estimate{Confidence: 0.65}
	// 4 - 2*0.65 = 2.7: above the BOS floor, below the NYC floor.
	require.InDelta(t, 2.7, est.Sigma(bos), 0.001)
	require.InDelta(t, 3.5, est.Sigma(nyc), 0.001)

	certain := &Estimate{Confidence: 0.95}
	require.InDelta(t, 2.5, certain.Sigma(bos), 0.001)
}

type fixedSource struct {
	name string
	temp float64
}

func (s fixedSource) Name() string { return s.name }
func (s fixedSource) TomorrowOutlook(_ context.Context, _ *weather.City) (float64, float64, error) {
	return s.temp, s.temp - 10, nil
}
