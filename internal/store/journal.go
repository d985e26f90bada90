package store

import (
	"database/sql"
	"fmt"
	"time"
)

// TradeRecord is one row of the order journal. Money fields are cents.
// The decision-inputs snapshot (estimate, forecast, station temps,
// probabilities, strikes) is frozen at execution time so settled trades
// can be analyzed against what the model knew.
type TradeRecord struct {
	ID            int64
	CreatedAt     time.Time
	City          string
	EventTicker   string
	Ticker        string
	MarketType    string
	Side          string
	Action        string
	Price         int
	Contracts     int
	Cost          int
	OrderID       string
	ClientOrderID string
	Status        string
	Live          bool
	SignalSource  string

	EstimateF       float64
	ForecastTempF   float64
	PrimaryTempF    float64
	SurroundingAvgF float64
	Confidence      float64
	EdgePct         float64
	FloorStrike     float64
	CapStrike       float64
	OurProb         float64
	MarketProb      float64

	Settled     bool
	PnL         int
	Fees        int
	SettledAt   *time.Time
	ActualTempF *float64
}

// PredictionRecord is one row of the prediction log.
type PredictionRecord struct {
	ID              int64
	CreatedAt       time.Time
	City            string
	MarketType      string
	EventTicker     string
	Ticker          string
	Estimate        float64
	ForecastTempF   float64
	PrimaryTempF    float64
	SurroundingAvgF float64
	Confidence      float64
	Probability     float64
	OurPrice        int
	YesBid          int
	YesAsk          int
	Side            string
	EdgePct         float64
	SignalSource    string
	Traded          bool
	ActualTempF     *float64
	ErrorF          *float64
	Outcome         string
}

const tradeColumns = `id, created_at, city, event_ticker, ticker, market_type, side, action,
	price, contracts, cost, order_id, client_order_id, status, live, signal_source,
	estimate_f, forecast_temp_f, primary_temp_f, surrounding_avg_f, confidence, edge_pct,
	floor_strike, cap_strike, our_prob, market_prob,
	settled, pnl, fees, settled_at, actual_temp_f`

func scanTrade(row interface{ Scan(...any) error }) (*TradeRecord, error) {
	var t TradeRecord
	var orderID, clientOrderID sql.NullString
	var settledAt sql.NullTime
	var actual sql.NullFloat64
	inputs := make([]sql.NullFloat64, 10)

	err := row.Scan(&t.ID, &t.CreatedAt, &t.City, &t.EventTicker, &t.Ticker, &t.MarketType,
		&t.Side, &t.Action, &t.Price, &t.Contracts, &t.Cost, &orderID, &clientOrderID,
		&t.Status, &t.Live, &t.SignalSource,
		&inputs[0], &inputs[1], &inputs[2], &inputs[3], &inputs[4], &inputs[5],
		&inputs[6], &inputs[7], &inputs[8], &inputs[9],
		&t.Settled, &t.PnL, &t.Fees, &settledAt, &actual)
	if err != nil {
		return nil, err
	}

	t.OrderID = orderID.String
	t.ClientOrderID = clientOrderID.String
	t.EstimateF = inputs[0].Float64
	t.ForecastTempF = inputs[1].Float64
	t.PrimaryTempF = inputs[2].Float64
	t.SurroundingAvgF = inputs[3].Float64
	t.Confidence = inputs[4].Float64
	t.EdgePct = inputs[5].Float64
	t.FloorStrike = inputs[6].Float64
	t.CapStrike = inputs[7].Float64
	t.OurProb = inputs[8].Float64
	t.MarketProb = inputs[9].Float64
	if settledAt.Valid {
		t.SettledAt = &settledAt.Time
	}
	if actual.Valid {
		t.ActualTempF = &actual.Float64
	}
	return &t, nil
}

// SaveTrade journals an executed order and fills in the row ID.
func (s *Store) SaveTrade(t *TradeRecord) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(`
		INSERT INTO trades (created_at, city, event_ticker, ticker, market_type, side, action,
			price, contracts, cost, order_id, client_order_id, status, live, signal_source,
			estimate_f, forecast_temp_f, primary_temp_f, surrounding_avg_f, confidence, edge_pct,
			floor_strike, cap_strike, our_prob, market_prob, settled, pnl, fees)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0)`,
		t.CreatedAt, t.City, t.EventTicker, t.Ticker, t.MarketType, t.Side, t.Action,
		t.Price, t.Contracts, t.Cost, t.OrderID, t.ClientOrderID, t.Status, t.Live, t.SignalSource,
		t.EstimateF, t.ForecastTempF, t.PrimaryTempF, t.SurroundingAvgF, t.Confidence, t.EdgePct,
		t.FloorStrike, t.CapStrike, t.OurProb, t.MarketProb,
	)
	if err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	t.ID, _ = result.LastInsertId()
	return nil
}

// UnsettledTrades returns open journal rows, oldest first.
func (s *Store) UnsettledTrades() ([]TradeRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+tradeColumns+` FROM trades WHERE settled = 0 AND action = 'buy' ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("unsettled trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

// SettleTrade finalizes a journal row with realized P&L net of fees.
func (s *Store) SettleTrade(id int64, pnl, fees int, actualTempF *float64) error {
	_, err := s.db.Exec(`
		UPDATE trades SET settled = 1, pnl = ?, fees = ?, settled_at = ?, actual_temp_f = ? WHERE id = ?`,
		pnl, fees, time.Now().UTC(), actualTempF, id,
	)
	if err != nil {
		return fmt.Errorf("settle trade: %w", err)
	}
	return nil
}

// entry rows are buys; closes are journaled as sells and do not count
// against the daily entry budget.

// CountEntriesOn counts buy rows journaled on a settlement-clock day.
func (s *Store) CountEntriesOn(dateET string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE action = 'buy' AND DATE(created_at, '-5 hours') = ?`,
		dateET,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// CountWinsOn counts settled winning buys on a settlement-clock day.
func (s *Store) CountWinsOn(dateET string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE action = 'buy' AND settled = 1 AND pnl > 0
		AND DATE(created_at, '-5 hours') = ?`,
		dateET,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count wins: %w", err)
	}
	return n, nil
}

// OpenContracts sums unsettled bought contracts on a ticker and side.
func (s *Store) OpenContracts(ticker, side string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(contracts), 0) FROM trades
		WHERE ticker = ? AND side = ? AND action = 'buy' AND settled = 0`,
		ticker, side,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("open contracts: %w", err)
	}
	return n, nil
}

// HasEntryToday reports whether a buy on this ticker and side was already
// journaled on the given settlement-clock day.
func (s *Store) HasEntryToday(ticker, side, dateET string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE ticker = ? AND side = ? AND action = 'buy' AND settled = 0
		AND DATE(created_at, '-5 hours') = ?`,
		ticker, side, dateET,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has entry today: %w", err)
	}
	return n > 0, nil
}

// CountBracketsForEvent counts distinct tickers entered for an event
// on a settlement-clock day.
func (s *Store) CountBracketsForEvent(eventTicker, dateET string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(DISTINCT ticker) FROM trades
		WHERE event_ticker = ? AND action = 'buy'
		AND DATE(created_at, '-5 hours') = ?`,
		eventTicker, dateET,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count brackets: %w", err)
	}
	return n, nil
}

// LogPrediction appends a prediction row and fills in its ID.
func (s *Store) LogPrediction(p *PredictionRecord) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(`
		INSERT INTO prediction_log (created_at, city, market_type, event_ticker, ticker,
			estimate, forecast_temp_f, primary_temp_f, surrounding_avg_f, confidence,
			probability, our_price, yes_bid, yes_ask, side, edge_pct, signal_source, traded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CreatedAt, p.City, p.MarketType, p.EventTicker, p.Ticker,
		p.Estimate, p.ForecastTempF, p.PrimaryTempF, p.SurroundingAvgF, p.Confidence,
		p.Probability, p.OurPrice, p.YesBid, p.YesAsk, p.Side, p.EdgePct, p.SignalSource, p.Traded,
	)
	if err != nil {
		return fmt.Errorf("log prediction: %w", err)
	}
	p.ID, _ = result.LastInsertId()
	return nil
}

// MarkPredictionTraded flags a logged prediction as executed.
func (s *Store) MarkPredictionTraded(id int64) error {
	_, err := s.db.Exec(`UPDATE prediction_log SET traded = 1 WHERE id = ?`, id)
	return err
}

// BackfillActual records the settled temperature on every prediction and
// journal row of a city-day and grades prediction outcomes.
func (s *Store) BackfillActual(city, marketType, dateET string, actual float64) error {
	_, err := s.db.Exec(`
		UPDATE prediction_log SET actual_temp_f = ?, error_f = ? - estimate,
			outcome = CASE WHEN ABS(estimate - ?) <= 1.5 THEN 'hit' ELSE 'miss' END
		WHERE city = ? AND market_type = ? AND actual_temp_f IS NULL
		AND DATE(created_at, '-5 hours') = ?`,
		actual, actual, actual, city, marketType, dateET,
	)
	if err != nil {
		return fmt.Errorf("backfill predictions: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE trades SET actual_temp_f = ?
		WHERE city = ? AND market_type = ? AND actual_temp_f IS NULL
		AND DATE(created_at, '-5 hours') = ?`,
		actual, city, marketType, dateET,
	)
	if err != nil {
		return fmt.Errorf("backfill trades: %w", err)
	}
	return nil
}

// PredictionErrors returns (estimate, actual) pairs for graded rows of a
// city and market type, for calibration.
func (s *Store) PredictionErrors(city, marketType string, limit int) ([][2]float64, error) {
	rows, err := s.db.Query(`
		SELECT estimate, actual_temp_f FROM prediction_log
		WHERE city = ? AND market_type = ? AND actual_temp_f IS NOT NULL
		ORDER BY id DESC LIMIT ?`,
		city, marketType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("prediction errors: %w", err)
	}
	defer rows.Close()

	var pairs [][2]float64
	for rows.Next() {
		var est, actual float64
		if err := rows.Scan(&est, &actual); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]float64{est, actual})
	}
	return pairs, rows.Err()
}

// SaveOrderbookSnapshot records spot liquidity ahead of an order.
func (s *Store) SaveOrderbookSnapshot(ticker string, yesBid, yesAsk, noBid, noAsk int, depth string) error {
	_, err := s.db.Exec(`
		INSERT INTO orderbook_snapshots (created_at, ticker, yes_bid, yes_ask, no_bid, no_ask, depth)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), ticker, yesBid, yesAsk, noBid, noAsk, depth,
	)
	if err != nil {
		return fmt.Errorf("save orderbook snapshot: %w", err)
	}
	return nil
}
