// Package paper maintains a simulated ledger that mirrors every signal
// the bot acts on, so model performance is measurable without capital
// at risk. Prices and balances are cents.
package paper

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/store"
)

// StartingBalance seeds a fresh ledger.
const StartingBalance = 10000

var (
	// ErrInsufficientBalance is returned when a buy costs more than the ledger holds.
	ErrInsufficientBalance = errors.New("paper: insufficient balance")

	// ErrPositionTooLarge is returned when a buy breaches the position cap.
	ErrPositionTooLarge = errors.New("paper: position exceeds max position pct")

	// ErrNoPosition is returned when closing a ticker the ledger does not hold.
	ErrNoPosition = errors.New("paper: no open position")
)

// Trade is a simulated entry.
type Trade struct {
	City         string
	EventTicker  string
	Ticker       string
	MarketType   string
	Side         string
	Price        int
	Contracts    int
	SignalSource string
}

// Position aggregates the open rows on one ticker and side.
type Position struct {
	Ticker    string
	Side      string
	Contracts int
	Cost      int
}

// AvgPrice is the volume-weighted entry price in cents.
func (p Position) AvgPrice() float64 {
	if p.Contracts == 0 {
		return 0
	}
	return float64(p.Cost) / float64(p.Contracts)
}

// Value marks the position against the current yes bid.
func (p Position) Value(yesBid int) int {
	if p.Side == "no" {
		return p.Contracts * (100 - yesBid)
	}
	return p.Contracts * yesBid
}

// Ledger is the paper trading book.
type Ledger struct {
	db             *sql.DB
	log            zerolog.Logger
	maxPositionPct float64
}

// New opens the ledger over the shared store, seeding the starting
// balance on first use.
func New(st *store.Store, maxPositionPct float64, log zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		db:             st.DB(),
		log:            log.With().Str("component", "paper").Logger(),
		maxPositionPct: maxPositionPct,
	}

	err := l.withTx(func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM paper_balance`).Scan(&n); err != nil {
			return fmt.Errorf("paper: check balance: %w", err)
		}
		if n > 0 {
			return nil
		}
		if err := creditIn(tx, StartingBalance, "initial balance"); err != nil {
			return err
		}
		l.log.Info().Int("balance", StartingBalance).Msg("seeded paper ledger")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// withTx runs fn inside one transaction. The ledger's multi-statement
// updates share the database file with the collector and supervisor
// processes; without the transaction a crash between statements leaves
// a settled row with no matching balance entry.
func (l *Ledger) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("paper: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("paper: commit: %w", err)
	}
	return nil
}

// Balance returns the current ledger balance in cents.
func (l *Ledger) Balance() (int, error) {
	var balance int
	err := l.db.QueryRow(`SELECT balance FROM paper_balance ORDER BY id DESC LIMIT 1`).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("paper: balance: %w", err)
	}
	return balance, nil
}

func balanceIn(tx *sql.Tx) (int, error) {
	var balance int
	err := tx.QueryRow(`SELECT balance FROM paper_balance ORDER BY id DESC LIMIT 1`).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("paper: balance: %w", err)
	}
	return balance, nil
}

func creditIn(tx *sql.Tx, newBalance int, reason string) error {
	_, err := tx.Exec(`
		INSERT INTO paper_balance (balance, reason, created_at) VALUES (?, ?, ?)`,
		newBalance, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("paper: record balance: %w", err)
	}
	return nil
}

// Buy records a simulated entry, debiting the ledger.
func (l *Ledger) Buy(t *Trade) error {
	cost := t.Price * t.Contracts

	var newBalance int
	err := l.withTx(func(tx *sql.Tx) error {
		balance, err := balanceIn(tx)
		if err != nil {
			return err
		}
		if cost > balance {
			return ErrInsufficientBalance
		}
		if l.maxPositionPct > 0 && float64(cost) > float64(balance)*l.maxPositionPct/100 {
			return ErrPositionTooLarge
		}

		_, err = tx.Exec(`
			INSERT INTO paper_trades (created_at, city, event_ticker, ticker, market_type, side,
				price, contracts, cost, signal_source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			time.Now().UTC(), t.City, t.EventTicker, t.Ticker, t.MarketType, t.Side,
			t.Price, t.Contracts, cost, t.SignalSource,
		)
		if err != nil {
			return fmt.Errorf("paper: record trade: %w", err)
		}

		newBalance = balance - cost
		return creditIn(tx, newBalance, fmt.Sprintf("buy %s %s x%d @%d", t.Ticker, t.Side, t.Contracts, t.Price))
	})
	if err != nil {
		return err
	}

	l.log.Info().Str("ticker", t.Ticker).Str("side", t.Side).
		Int("contracts", t.Contracts).Int("price", t.Price).Int("balance", newBalance).
		Msg("paper buy")
	return nil
}

type openRow struct {
	id        int64
	contracts int
	cost      int
}

func openRowsIn(tx *sql.Tx, ticker, side string) ([]openRow, error) {
	rows, err := tx.Query(`
		SELECT id, contracts, cost FROM paper_trades
		WHERE ticker = ? AND side = ? AND settled = 0 ORDER BY id`,
		ticker, side,
	)
	if err != nil {
		return nil, fmt.Errorf("paper: open rows: %w", err)
	}
	defer rows.Close()

	var open []openRow
	for rows.Next() {
		var r openRow
		if err := rows.Scan(&r.id, &r.contracts, &r.cost); err != nil {
			return nil, err
		}
		open = append(open, r)
	}
	return open, rows.Err()
}

// Close unwinds up to contracts of a position FIFO at creditPer cents
// per contract, splitting the oldest row when it is only partly closed.
// It returns the realized P&L.
func (l *Ledger) Close(ticker, side string, contracts, creditPer int, reason string) (int, error) {
	now := time.Now().UTC()
	remaining := contracts
	totalPnl := 0
	closed := 0
	newBalance := 0

	err := l.withTx(func(tx *sql.Tx) error {
		open, err := openRowsIn(tx, ticker, side)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return ErrNoPosition
		}

		totalCredit := 0
		for _, row := range open {
			if remaining <= 0 {
				break
			}
			take := row.contracts
			if take > remaining {
				take = remaining
			}

			credit := take * creditPer
			costShare := row.cost * take / row.contracts
			pnl := credit - costShare

			if take == row.contracts {
				_, err = tx.Exec(`
					UPDATE paper_trades SET settled = 1, pnl = ?, outcome = ?, settled_at = ?
					WHERE id = ?`,
					pnl, reason, now, row.id,
				)
			} else {
				// Split the row: settle the closed slice, keep the rest open.
				_, err = tx.Exec(`
					UPDATE paper_trades SET contracts = ?, cost = ? WHERE id = ?`,
					row.contracts-take, row.cost-costShare, row.id,
				)
				if err == nil {
					_, err = tx.Exec(`
						INSERT INTO paper_trades (created_at, city, event_ticker, ticker, market_type,
							side, price, contracts, cost, signal_source, settled, pnl, outcome, settled_at)
						SELECT created_at, city, event_ticker, ticker, market_type, side, price,
							?, ?, signal_source, 1, ?, ?, ? FROM paper_trades WHERE id = ?`,
						take, costShare, pnl, reason, now, row.id,
					)
				}
			}
			if err != nil {
				return fmt.Errorf("paper: close row: %w", err)
			}

			totalPnl += pnl
			totalCredit += credit
			remaining -= take
		}

		balance, err := balanceIn(tx)
		if err != nil {
			return err
		}
		newBalance = balance + totalCredit
		return creditIn(tx, newBalance, fmt.Sprintf("close %s %s: %s", ticker, side, reason))
	})
	if err != nil {
		return 0, err
	}
	closed = contracts - remaining

	l.log.Info().Str("ticker", ticker).Str("side", side).
		Int("contracts", closed).Int("pnl", totalPnl).
		Int("balance", newBalance).Str("reason", reason).
		Msg("paper close")
	return totalPnl, nil
}

// Settle resolves every open row on a ticker against the market result
// ("yes" or "no"). Winning rows pay out 100 per contract.
func (l *Ledger) Settle(ticker, result string) error {
	return l.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT id, side, price, contracts, cost FROM paper_trades
			WHERE ticker = ? AND settled = 0 ORDER BY id`,
			ticker,
		)
		if err != nil {
			return fmt.Errorf("paper: settle query: %w", err)
		}

		type settleRow struct {
			id        int64
			side      string
			price     int
			contracts int
			cost      int
		}
		var pending []settleRow
		for rows.Next() {
			var r settleRow
			if err := rows.Scan(&r.id, &r.side, &r.price, &r.contracts, &r.cost); err != nil {
				rows.Close()
				return err
			}
			pending = append(pending, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().UTC()
		payout := 0
		for _, r := range pending {
			won := r.side == result
			pnl := -r.cost
			outcome := "lost"
			if won {
				pnl = (100 - r.price) * r.contracts
				outcome = "won"
				payout += 100 * r.contracts
			}
			if _, err := tx.Exec(`
				UPDATE paper_trades SET settled = 1, pnl = ?, outcome = ?, settled_at = ?
				WHERE id = ?`,
				pnl, outcome, now, r.id,
			); err != nil {
				return fmt.Errorf("paper: settle row: %w", err)
			}
			l.log.Info().Str("ticker", ticker).Str("side", r.side).
				Int("contracts", r.contracts).Int("pnl", pnl).Str("outcome", outcome).
				Msg("paper settle")
		}

		if payout == 0 {
			return nil
		}
		balance, err := balanceIn(tx)
		if err != nil {
			return err
		}
		return creditIn(tx, balance+payout, fmt.Sprintf("settle %s %s", ticker, result))
	})
}

// Positions returns the open book grouped by ticker and side.
func (l *Ledger) Positions() ([]Position, error) {
	rows, err := l.db.Query(`
		SELECT ticker, side, SUM(contracts), SUM(cost) FROM paper_trades
		WHERE settled = 0 GROUP BY ticker, side ORDER BY ticker, side`,
	)
	if err != nil {
		return nil, fmt.Errorf("paper: positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Ticker, &p.Side, &p.Contracts, &p.Cost); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// RealizedPnL sums P&L over settled rows.
func (l *Ledger) RealizedPnL() (int, error) {
	var pnl int
	err := l.db.QueryRow(`SELECT COALESCE(SUM(pnl), 0) FROM paper_trades WHERE settled = 1`).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("paper: realized pnl: %w", err)
	}
	return pnl, nil
}
