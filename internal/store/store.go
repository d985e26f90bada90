// Package store provides SQLite persistence for observations, forecasts,
// daily extremes, the trade journal, predictions, and the paper ledger.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the collector and the bot share the file.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("path", path).Msg("database ready")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for sibling packages sharing the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		station TEXT NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		is_primary INTEGER NOT NULL DEFAULT 0,
		temp_f REAL NOT NULL,
		humidity REAL,
		wind_mph REAL,
		wind_dir REAL,
		pressure_mb REAL,
		sky_cover TEXT,
		text TEXT,
		obs_time DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_obs_station_time ON observations(station, obs_time);

	CREATE TABLE IF NOT EXISTS forecasts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		city TEXT NOT NULL,
		market_type TEXT NOT NULL,
		date_et TEXT NOT NULL,
		value_f REAL NOT NULL,
		confidence TEXT,
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_forecasts_city_date ON forecasts(city, date_et);

	CREATE TABLE IF NOT EXISTS daily_extremes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		station TEXT NOT NULL,
		date_et TEXT NOT NULL,
		high_f REAL NOT NULL,
		low_f REAL NOT NULL,
		high_at DATETIME,
		low_at DATETIME,
		obs_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		UNIQUE(station, date_et)
	);

	CREATE TABLE IF NOT EXISTS prediction_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		city TEXT NOT NULL,
		market_type TEXT NOT NULL,
		event_ticker TEXT NOT NULL,
		ticker TEXT NOT NULL,
		estimate REAL NOT NULL,
		forecast_temp_f REAL,
		primary_temp_f REAL,
		surrounding_avg_f REAL,
		confidence REAL NOT NULL,
		probability REAL NOT NULL,
		our_price INTEGER NOT NULL,
		yes_bid INTEGER NOT NULL,
		yes_ask INTEGER NOT NULL,
		side TEXT NOT NULL,
		edge_pct REAL NOT NULL,
		signal_source TEXT NOT NULL,
		traded INTEGER NOT NULL DEFAULT 0,
		actual_temp_f REAL,
		error_f REAL,
		outcome TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_city ON prediction_log(city, created_at);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		city TEXT NOT NULL,
		event_ticker TEXT NOT NULL,
		ticker TEXT NOT NULL,
		market_type TEXT NOT NULL,
		side TEXT NOT NULL,
		action TEXT NOT NULL,
		price INTEGER NOT NULL,
		contracts INTEGER NOT NULL,
		cost INTEGER NOT NULL,
		order_id TEXT,
		client_order_id TEXT,
		status TEXT NOT NULL,
		live INTEGER NOT NULL DEFAULT 0,
		signal_source TEXT NOT NULL DEFAULT 'model',
		estimate_f REAL,
		forecast_temp_f REAL,
		primary_temp_f REAL,
		surrounding_avg_f REAL,
		confidence REAL,
		edge_pct REAL,
		floor_strike REAL,
		cap_strike REAL,
		our_prob REAL,
		market_prob REAL,
		settled INTEGER NOT NULL DEFAULT 0,
		pnl INTEGER NOT NULL DEFAULT 0,
		fees INTEGER NOT NULL DEFAULT 0,
		settled_at DATETIME,
		actual_temp_f REAL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);
	CREATE INDEX IF NOT EXISTS idx_trades_settled ON trades(settled);
	CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);

	CREATE TABLE IF NOT EXISTS orderbook_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		ticker TEXT NOT NULL,
		yes_bid INTEGER NOT NULL,
		yes_ask INTEGER NOT NULL,
		no_bid INTEGER NOT NULL,
		no_ask INTEGER NOT NULL,
		depth TEXT
	);

	CREATE TABLE IF NOT EXISTS paper_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		city TEXT NOT NULL,
		event_ticker TEXT NOT NULL,
		ticker TEXT NOT NULL,
		market_type TEXT NOT NULL,
		side TEXT NOT NULL,
		price INTEGER NOT NULL,
		contracts INTEGER NOT NULL,
		cost INTEGER NOT NULL,
		signal_source TEXT NOT NULL DEFAULT 'model',
		settled INTEGER NOT NULL DEFAULT 0,
		pnl INTEGER NOT NULL DEFAULT 0,
		outcome TEXT,
		settled_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_paper_ticker ON paper_trades(ticker, side, settled);

	CREATE TABLE IF NOT EXISTS paper_balance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		balance INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settled_markets (
		ticker TEXT PRIMARY KEY,
		event_ticker TEXT NOT NULL,
		series_ticker TEXT NOT NULL,
		city TEXT NOT NULL,
		market_type TEXT NOT NULL,
		event_date TEXT NOT NULL,
		floor_strike REAL,
		cap_strike REAL,
		strike_type TEXT,
		result TEXT NOT NULL,
		last_price INTEGER,
		yes_bid INTEGER,
		yes_ask INTEGER,
		volume INTEGER,
		expiration_value TEXT,
		open_time TEXT,
		close_time TEXT,
		collected_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bot_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetState retrieves a state value, empty when unset.
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState sets a state value.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}
