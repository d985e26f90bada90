package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// Extreme is one station-day of observed extremes.
type Extreme struct {
	Station  string
	DateET   string
	High     float64
	Low      float64
	HighAt   time.Time
	LowAt    time.Time
	ObsCount int
}

// ForecastRow is a stored point forecast.
type ForecastRow struct {
	City       string
	MarketType string
	DateET     string
	Value      float64
	Confidence string
	Source     string
	CreatedAt  time.Time
}

// SaveObservation appends a station observation.
func (s *Store) SaveObservation(obs *weather.Observation) error {
	_, err := s.db.Exec(`
		INSERT INTO observations (station, city, is_primary, temp_f, humidity, wind_mph,
			wind_dir, pressure_mb, sky_cover, text, obs_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.Station, obs.City, obs.IsPrimary, obs.TempF, obs.Humidity, obs.WindMPH,
		obs.WindDirDeg, obs.PressureMB, obs.SkyCover, obs.Text,
		obs.Time.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save observation: %w", err)
	}
	return nil
}

// LatestObservation returns the most recent observation for a station,
// nil when none exists.
func (s *Store) LatestObservation(station string) (*weather.Observation, error) {
	var obs weather.Observation
	var humidity, windMPH, windDir, pressureMB sql.NullFloat64
	var skyCover, text sql.NullString

	err := s.db.QueryRow(`
		SELECT station, city, is_primary, temp_f, humidity, wind_mph, wind_dir,
			pressure_mb, sky_cover, text, obs_time
		FROM observations WHERE station = ? ORDER BY id DESC LIMIT 1`,
		station,
	).Scan(&obs.Station, &obs.City, &obs.IsPrimary, &obs.TempF, &humidity, &windMPH,
		&windDir, &pressureMB, &skyCover, &text, &obs.Time)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest observation: %w", err)
	}

	obs.Humidity = humidity.Float64
	obs.WindMPH = windMPH.Float64
	obs.WindDirDeg = windDir.Float64
	obs.PressureMB = pressureMB.Float64
	obs.SkyCover = skyCover.String
	obs.Text = text.String
	return &obs, nil
}

// RecordExtreme folds an observation into the station's daily extremes.
// The (station, date) row is created on first sight and widened after.
func (s *Store) RecordExtreme(station, dateET string, tempF float64, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO daily_extremes (station, date_et, high_f, low_f, high_at, low_at, obs_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(station, date_et) DO UPDATE SET
			high_at = CASE WHEN excluded.high_f > high_f THEN excluded.high_at ELSE high_at END,
			high_f = MAX(high_f, excluded.high_f),
			low_at = CASE WHEN excluded.low_f < low_f THEN excluded.low_at ELSE low_at END,
			low_f = MIN(low_f, excluded.low_f),
			obs_count = obs_count + 1,
			updated_at = excluded.updated_at`,
		station, dateET, tempF, tempF, at.UTC(), at.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record extreme: %w", err)
	}
	return nil
}

// SetExtremes overwrites a station-day with backfilled extremes.
func (s *Store) SetExtremes(ext *Extreme) error {
	_, err := s.db.Exec(`
		INSERT INTO daily_extremes (station, date_et, high_f, low_f, high_at, low_at, obs_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station, date_et) DO UPDATE SET
			high_f = excluded.high_f, low_f = excluded.low_f,
			high_at = excluded.high_at, low_at = excluded.low_at,
			obs_count = excluded.obs_count, updated_at = excluded.updated_at`,
		ext.Station, ext.DateET, ext.High, ext.Low,
		ext.HighAt.UTC(), ext.LowAt.UTC(), ext.ObsCount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set extremes: %w", err)
	}
	return nil
}

// GetExtreme returns the extremes for a station-day, nil when unseen.
func (s *Store) GetExtreme(station, dateET string) (*Extreme, error) {
	var ext Extreme
	var highAt, lowAt sql.NullTime

	err := s.db.QueryRow(`
		SELECT station, date_et, high_f, low_f, high_at, low_at, obs_count
		FROM daily_extremes WHERE station = ? AND date_et = ?`,
		station, dateET,
	).Scan(&ext.Station, &ext.DateET, &ext.High, &ext.Low, &highAt, &lowAt, &ext.ObsCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get extreme: %w", err)
	}

	ext.HighAt = highAt.Time
	ext.LowAt = lowAt.Time
	return &ext, nil
}

// SaveForecast appends a forecast row.
func (s *Store) SaveForecast(row *ForecastRow) error {
	_, err := s.db.Exec(`
		INSERT INTO forecasts (city, market_type, date_et, value_f, confidence, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.City, row.MarketType, row.DateET, row.Value, row.Confidence, row.Source, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save forecast: %w", err)
	}
	return nil
}

// LatestForecast returns the freshest stored forecast for a city-day,
// nil when none exists.
func (s *Store) LatestForecast(city, marketType, dateET string) (*ForecastRow, error) {
	var row ForecastRow
	var confidence sql.NullString

	err := s.db.QueryRow(`
		SELECT city, market_type, date_et, value_f, confidence, source, created_at
		FROM forecasts WHERE city = ? AND market_type = ? AND date_et = ?
		ORDER BY id DESC LIMIT 1`,
		city, marketType, dateET,
	).Scan(&row.City, &row.MarketType, &row.DateET, &row.Value, &confidence, &row.Source, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest forecast: %w", err)
	}

	row.Confidence = confidence.String
	return &row, nil
}
