// Package ingest polls weather sources and persists observations,
// running extremes, and point forecasts for the estimator to read.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// stationPause spaces station fetches so the NWS API is never hammered.
const stationPause = 200 * time.Millisecond

// observationSource yields the latest observation for a station.
type observationSource interface {
	LatestObservation(ctx context.Context, station string) (*weather.Observation, error)
}

// forecastSource yields NWS point forecasts.
type forecastSource interface {
	Forecast(ctx context.Context, lat, lon float64) ([]weather.ForecastPeriod, error)
	TomorrowOutlook(ctx context.Context, city *weather.City) (high, low float64, err error)
}

// outlookSource yields a second-opinion tomorrow outlook.
type outlookSource interface {
	TomorrowOutlook(ctx context.Context, city *weather.City) (high, low float64, err error)
}

// extremesSource yields archived station-day extremes for backfill.
type extremesSource interface {
	DayExtremes(ctx context.Context, station string, date time.Time) (*weather.DayExtremes, error)
}

// Collector pulls weather for every active city into the store.
type Collector struct {
	cfg   *config.Config
	store *store.Store
	obs   observationSource
	fc    forecastSource
	meteo outlookSource
	asos  extremesSource
	log   zerolog.Logger
	now   func() time.Time
}

// New builds a collector on the live NWS, Open-Meteo, and ASOS clients.
func New(cfg *config.Config, st *store.Store, log zerolog.Logger) *Collector {
	nws := weather.NewNWSClient()
	return &Collector{
		cfg:   cfg,
		store: st,
		obs:   nws,
		fc:    nws,
		meteo: weather.NewOpenMeteoClient(),
		asos:  weather.NewASOSClient(),
		log:   log.With().Str("component", "collector").Logger(),
		now:   time.Now,
	}
}

// Collect runs one full pass: observations and running extremes for
// every station, then forecasts. Per-city failures are logged and
// skipped; one dead station must not starve the rest.
func (c *Collector) Collect(ctx context.Context) error {
	cities := c.cfg.ActiveCities()
	var okObs, okFc int
	for _, city := range cities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.collectObservations(ctx, city); err != nil {
			c.log.Warn().Str("city", city.Code).Err(err).Msg("observation pass failed")
		} else {
			okObs++
		}
		if err := c.collectForecasts(ctx, city); err != nil {
			c.log.Warn().Str("city", city.Code).Err(err).Msg("forecast pass failed")
		} else {
			okFc++
		}
	}

	c.log.Info().Int("cities", len(cities)).Int("observations", okObs).
		Int("forecasts", okFc).Msg("collection pass done")
	if okObs == 0 && len(cities) > 0 {
		return fmt.Errorf("collect: all %d observation passes failed", len(cities))
	}
	return nil
}

// collectObservations fetches every station of a city and folds each
// reading into the running station-day extremes.
func (c *Collector) collectObservations(ctx context.Context, city *weather.City) error {
	var lastErr error
	fetched := 0
	for i, station := range city.Stations() {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(stationPause):
			}
		}

		obs, err := c.obs.LatestObservation(ctx, station)
		if err != nil {
			lastErr = err
			c.log.Debug().Str("station", station).Err(err).Msg("observation fetch failed")
			continue
		}
		obs.City = city.Code
		obs.IsPrimary = station == city.Primary
		if err := c.store.SaveObservation(obs); err != nil {
			lastErr = err
			continue
		}
		// Extremes are keyed to the settlement clock of the reading,
		// not of the poll.
		dateET := weather.DateET(obs.Time)
		if err := c.store.RecordExtreme(station, dateET, obs.TempF, obs.Time); err != nil {
			lastErr = err
			continue
		}
		fetched++
	}
	if fetched == 0 {
		return fmt.Errorf("no stations reachable for %s: %w", city.Code, lastErr)
	}
	return nil
}

// collectForecasts stores today's point forecast and both tomorrow
// outlooks for a city.
func (c *Collector) collectForecasts(ctx context.Context, city *weather.City) error {
	periods, err := c.fc.Forecast(ctx, city.Lat, city.Lon)
	if err != nil {
		return fmt.Errorf("nws forecast: %w", err)
	}
	for _, p := range periods {
		row := forecastRow(city, p)
		if row == nil {
			continue
		}
		if err := c.store.SaveForecast(row); err != nil {
			return err
		}
	}

	tomorrow := c.now().Add(24 * time.Hour)
	c.saveOutlook(ctx, city, c.fc, "nws", tomorrow)
	c.saveOutlook(ctx, city, c.meteo, "open_meteo", tomorrow)
	return nil
}

// forecastRow maps one NWS period onto a market date. Daytime periods
// forecast the high for their own date; night periods forecast the low
// that bottoms out the following morning.
func forecastRow(city *weather.City, p weather.ForecastPeriod) *store.ForecastRow {
	if p.IsDaytime {
		return &store.ForecastRow{
			City:       city.Code,
			MarketType: string(weather.MarketHigh),
			DateET:     weather.DateET(p.StartTime),
			Value:      p.TempF,
			Source:     "nws",
		}
	}
	if !city.HasLowMarket() {
		return nil
	}
	lowDate := p.StartTime
	if weather.HourET(p.StartTime) >= 12 {
		lowDate = lowDate.Add(12 * time.Hour)
	}
	return &store.ForecastRow{
		City:       city.Code,
		MarketType: string(weather.MarketLow),
		DateET:     weather.DateET(lowDate),
		Value:      p.TempF,
		Source:     "nws",
	}
}

func (c *Collector) saveOutlook(ctx context.Context, city *weather.City, src outlookSource, name string, date time.Time) {
	high, low, err := src.TomorrowOutlook(ctx, city)
	if err != nil {
		c.log.Debug().Str("city", city.Code).Str("source", name).Err(err).Msg("outlook failed")
		return
	}

	dateET := weather.DateET(date)
	rows := []*store.ForecastRow{{
		City: city.Code, MarketType: string(weather.MarketHigh),
		DateET: dateET, Value: high, Source: name,
	}}
	if city.HasLowMarket() {
		rows = append(rows, &store.ForecastRow{
			City: city.Code, MarketType: string(weather.MarketLow),
			DateET: dateET, Value: low, Source: name,
		})
	}
	for _, row := range rows {
		if err := c.store.SaveForecast(row); err != nil {
			c.log.Warn().Str("city", city.Code).Err(err).Msg("forecast save failed")
		}
	}
}

// Backfill repairs the extremes table for a past date from the ASOS
// archive. Collector downtime otherwise leaves holes that break
// settlement verification.
func (c *Collector) Backfill(ctx context.Context, date time.Time) error {
	var lastErr error
	filled := 0
	for _, city := range c.cfg.ActiveCities() {
		ext, err := c.asos.DayExtremes(ctx, city.Primary, date)
		if err != nil {
			lastErr = err
			c.log.Warn().Str("station", city.Primary).Err(err).Msg("asos backfill failed")
			continue
		}
		if err := c.store.SetExtremes(&store.Extreme{
			Station:  ext.Station,
			DateET:   ext.Date,
			High:     ext.High,
			Low:      ext.Low,
			HighAt:   ext.HighAt,
			LowAt:    ext.LowAt,
			ObsCount: ext.Count,
		}); err != nil {
			lastErr = err
			continue
		}
		filled++
		c.log.Info().Str("station", ext.Station).Str("date", ext.Date).
			Float64("high", ext.High).Float64("low", ext.Low).Msg("extremes backfilled")
	}
	if filled == 0 && lastErr != nil {
		return fmt.Errorf("backfill %s: %w", weather.DateET(date), lastErr)
	}
	return nil
}
