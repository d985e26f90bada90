package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SettledMarket is one cached settled market row, the raw material for
// backtests and actuals sync.
type SettledMarket struct {
	Ticker          string
	EventTicker     string
	SeriesTicker    string
	City            string
	MarketType      string
	EventDate       string
	FloorStrike     float64
	CapStrike       float64
	StrikeType      string
	Result          string
	LastPrice       int
	YesBid          int
	YesAsk          int
	Volume          int
	ExpirationValue string
	OpenTime        string
	CloseTime       string
}

// UpsertSettledMarket inserts or refreshes a settled market by ticker.
func (s *Store) UpsertSettledMarket(m *SettledMarket) error {
	_, err := s.db.Exec(`
		INSERT INTO settled_markets
			(ticker, event_ticker, series_ticker, city, market_type, event_date,
			 floor_strike, cap_strike, strike_type, result, last_price, yes_bid,
			 yes_ask, volume, expiration_value, open_time, close_time, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			result = excluded.result, last_price = excluded.last_price,
			yes_bid = excluded.yes_bid, yes_ask = excluded.yes_ask,
			volume = excluded.volume, expiration_value = excluded.expiration_value,
			close_time = excluded.close_time, collected_at = excluded.collected_at`,
		m.Ticker, m.EventTicker, m.SeriesTicker, m.City, m.MarketType, m.EventDate,
		m.FloorStrike, m.CapStrike, m.StrikeType, m.Result, m.LastPrice, m.YesBid,
		m.YesAsk, m.Volume, m.ExpirationValue, m.OpenTime, m.CloseTime, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert settled market: %w", err)
	}
	return nil
}

// SettledMarkets returns decided settled markets ordered by event date.
// Empty city or marketType match everything.
func (s *Store) SettledMarkets(city, marketType string) ([]SettledMarket, error) {
	rows, err := s.db.Query(`
		SELECT ticker, event_ticker, series_ticker, city, market_type, event_date,
		       floor_strike, cap_strike, strike_type, result, last_price, yes_bid,
		       yes_ask, volume, expiration_value, open_time, close_time
		FROM settled_markets
		WHERE result IN ('yes', 'no')
		  AND (? = '' OR city = ?)
		  AND (? = '' OR market_type = ?)
		ORDER BY event_date, city, ticker`,
		city, city, marketType, marketType,
	)
	if err != nil {
		return nil, fmt.Errorf("settled markets: %w", err)
	}
	defer rows.Close()

	var out []SettledMarket
	for rows.Next() {
		var m SettledMarket
		var floor, cap sql.NullFloat64
		var strikeType, expVal, openTime, closeTime sql.NullString
		if err := rows.Scan(&m.Ticker, &m.EventTicker, &m.SeriesTicker, &m.City,
			&m.MarketType, &m.EventDate, &floor, &cap, &strikeType, &m.Result,
			&m.LastPrice, &m.YesBid, &m.YesAsk, &m.Volume, &expVal, &openTime,
			&closeTime); err != nil {
			return nil, err
		}
		m.FloorStrike = floor.Float64
		m.CapStrike = cap.Float64
		m.StrikeType = strikeType.String
		m.ExpirationValue = expVal.String
		m.OpenTime = openTime.String
		m.CloseTime = closeTime.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountSettledMarkets reports the cache size.
func (s *Store) CountSettledMarkets() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM settled_markets`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count settled markets: %w", err)
	}
	return n, nil
}
