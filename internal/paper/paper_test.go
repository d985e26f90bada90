package paper

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brendanplayford/weathertrader/internal/store"
)

func openLedger(t *testing.T, maxPositionPct float64) *Ledger {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	l, err := New(st, maxPositionPct, zerolog.Nop())
	require.NoError(t, err)
	return l
}

func noTrade(ticker string, price, contracts int) *Trade {
	return &Trade{
		City: "NYC", EventTicker: "KXHIGHNY-26FEB15", Ticker: ticker,
		MarketType: "high", Side: "no", Price: price, Contracts: contracts,
		SignalSource: "model",
	}
}

func TestNew_SeedsStartingBalance(t *testing.T) {
	l := openLedger(t, 0)
	balance, err := l.Balance()
	require.NoError(t, err)
	require.Equal(t, StartingBalance, balance)
}

func TestBuy_DebitsAndRejects(t *testing.T) {
	l := openLedger(t, 40)

	require.NoError(t, l.Buy(noTrade("T-1", 20, 10)))
	balance, err := l.Balance()
	require.NoError(t, err)
	require.Equal(t, 9800, balance)

	// 40% of 9800 is 3920; a 4000-cent buy breaches the cap.
	err = l.Buy(noTrade("T-2", 40, 100))
	require.ErrorIs(t, err, ErrPositionTooLarge)

	err = l.Buy(noTrade("T-3", 99, 200))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestClose_FullPosition(t *testing.T) {
	l := openLedger(t, 0)

	// Buy 10 NO at 20 (cost 200), close at a no bid of 95.
	require.NoError(t, l.Buy(noTrade("T-1", 20, 10)))

	pnl, err := l.Close("T-1", "no", 10, 95, "take_profit")
	require.NoError(t, err)
	require.Equal(t, 750, pnl)

	balance, err := l.Balance()
	require.NoError(t, err)
	require.Equal(t, 10750, balance)

	positions, err := l.Positions()
	require.NoError(t, err)
	require.Empty(t, positions)
}

func TestClose_PartialSplitsRow(t *testing.T) {
	l := openLedger(t, 0)
	require.NoError(t, l.Buy(noTrade("T-1", 30, 10))) // cost 300

	pnl, err := l.Close("T-1", "no", 4, 80, "take_profit")
	require.NoError(t, err)
	// Credit 320 against a 120 cost share.
	require.Equal(t, 200, pnl)

	positions, err := l.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, 6, positions[0].Contracts)
	require.Equal(t, 180, positions[0].Cost)
	require.InDelta(t, 30.0, positions[0].AvgPrice(), 0.001)

	balance, err := l.Balance()
	require.NoError(t, err)
	require.Equal(t, 10020, balance)
}

func TestClose_FIFOAcrossRows(t *testing.T) {
	l := openLedger(t, 0)
	require.NoError(t, l.Buy(noTrade("T-1", 20, 5))) // cost 100
	require.NoError(t, l.Buy(noTrade("T-1", 40, 5))) // cost 200

	// Close 7: all of the first row plus 2 of the second.
	pnl, err := l.Close("T-1", "no", 7, 90, "take_profit")
	require.NoError(t, err)
	// First row: 450-100=350. Second slice: 180-80=100.
	require.Equal(t, 450, pnl)

	positions, err := l.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, 3, positions[0].Contracts)
	require.Equal(t, 120, positions[0].Cost)
}

func TestClose_NoPosition(t *testing.T) {
	l := openLedger(t, 0)
	_, err := l.Close("T-1", "no", 5, 80, "take_profit")
	require.ErrorIs(t, err, ErrNoPosition)
}

func TestSettle_WinAndLoss(t *testing.T) {
	l := openLedger(t, 0)
	require.NoError(t, l.Buy(noTrade("T-1", 25, 4))) // cost 100
	yes := noTrade("T-1", 60, 2)                     // cost 120
	yes.Side = "yes"
	require.NoError(t, l.Buy(yes))

	// Market resolves NO: the no side wins, the yes side loses.
	require.NoError(t, l.Settle("T-1", "no"))

	balance, err := l.Balance()
	require.NoError(t, err)
	// 10000 - 100 - 120 + 400 payout.
	require.Equal(t, 10180, balance)

	pnl, err := l.RealizedPnL()
	require.NoError(t, err)
	// NO: (100-25)*4 = 300. YES: -120.
	require.Equal(t, 180, pnl)

	positions, err := l.Positions()
	require.NoError(t, err)
	require.Empty(t, positions)
}

func TestClose_RollsBackWhenLedgerWriteFails(t *testing.T) {
	l := openLedger(t, 0)
	require.NoError(t, l.Buy(noTrade("T-1", 20, 10)))

	// Break the balance ledger so the credit inside the transaction fails.
	_, err := l.db.Exec(`DROP TABLE paper_balance`)
	require.NoError(t, err)

	_, err = l.Close("T-1", "no", 10, 95, "take_profit")
	require.Error(t, err)

	// The settle updates from the failed close must not survive.
	positions, err := l.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, 10, positions[0].Contracts)
}

func TestSettle_RollsBackWhenLedgerWriteFails(t *testing.T) {
	l := openLedger(t, 0)
	require.NoError(t, l.Buy(noTrade("T-1", 25, 4)))

	_, err := l.db.Exec(`DROP TABLE paper_balance`)
	require.NoError(t, err)

	require.Error(t, l.Settle("T-1", "no"))

	pnl, err := l.RealizedPnL()
	require.NoError(t, err)
	require.Equal(t, 0, pnl)

	positions, err := l.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
}

func TestPosition_Value(t *testing.T) {
	no := Position{Ticker: "T", Side: "no", Contracts: 5, Cost: 150}
	require.Equal(t, 5*(100-15), no.Value(15))

	yes := Position{Ticker: "T", Side: "yes", Contracts: 3, Cost: 150}
	require.Equal(t, 3*60, yes.Value(60))
}
