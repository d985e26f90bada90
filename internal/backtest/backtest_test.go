package backtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// seedSettledDays writes n days of NYC high markets: five brackets
// around 50°F with the middle one winning.
func seedSettledDays(t *testing.T, st *store.Store, n int) {
	t.Helper()
	for day := 0; day < n; day++ {
		date := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day)
		dateKey := date.Format("2006-01-02")
		for b := 0; b < 5; b++ {
			floor := 44.0 + float64(b)*3
			result := "no"
			if b == 2 { // [50, 52] wins; actual midpoint 51
				result = "yes"
			}
			require.NoError(t, st.UpsertSettledMarket(&store.SettledMarket{
				Ticker:      fmt.Sprintf("KXHIGHNY-%s-B%d", date.Format("06Jan02"), int(floor)+1),
				EventTicker: "KXHIGHNY-" + date.Format("06Jan02"),
				SeriesTicker: "KXHIGHNY",
				City:        "NYC",
				MarketType:  "high",
				EventDate:   dateKey,
				FloorStrike: floor,
				CapStrike:   floor + 2,
				StrikeType:  "between",
				Result:      result,
				LastPrice:   1,
			}))
		}
	}
}

func TestRun_EmptyCacheErrors(t *testing.T) {
	st := openTestStore(t)
	_, err := Run(st, DefaultParams())
	require.Error(t, err)
}

func TestRun_Reproducible(t *testing.T) {
	st := openTestStore(t)
	seedSettledDays(t, st, 20)

	p := DefaultParams()
	p.MaxEntryPrice = 99
	p.MinEdgePct = 0

	r1, err := Run(st, p)
	require.NoError(t, err)
	r2, err := Run(st, p)
	require.NoError(t, err)

	require.Equal(t, r1.Trades, r2.Trades)
	require.Equal(t, r1.FinalBankroll, r2.FinalBankroll)
	require.Equal(t, r1.Sharpe, r2.Sharpe)
	require.NotEmpty(t, r1.Trades)
}

func TestRun_AccountingInvariants(t *testing.T) {
	st := openTestStore(t)
	seedSettledDays(t, st, 30)

	p := DefaultParams()
	p.MaxEntryPrice = 99
	p.MinEdgePct = 0

	r, err := Run(st, p)
	require.NoError(t, err)
	require.NotEmpty(t, r.Trades)

	sum := 0
	fees := 0
	wins := 0
	for _, tr := range r.Trades {
		if tr.Won {
			wins++
			require.Equal(t, (100-tr.EntryPrice)*tr.Contracts-tr.Contracts, tr.PnL)
		} else {
			require.Equal(t, -(tr.EntryPrice*tr.Contracts)-tr.Contracts, tr.PnL)
		}
		require.GreaterOrEqual(t, tr.EntryPrice, 1)
		require.LessOrEqual(t, tr.EntryPrice, 99)
		require.GreaterOrEqual(t, tr.Contracts, 1)
		require.LessOrEqual(t, tr.Contracts, p.MaxContracts)
		sum += tr.PnL
		fees += tr.Contracts
	}
	require.Equal(t, sum, r.TotalPnL)
	require.Equal(t, fees, r.TotalFees)
	require.Equal(t, wins, r.Wins)
	require.Equal(t, p.BankrollCents+sum, r.FinalBankroll)

	// The daily curve ends where the bankroll ends.
	require.NotEmpty(t, r.Daily)
	require.Equal(t, r.FinalBankroll, r.Daily[len(r.Daily)-1].Bankroll)
}

func TestRun_TightModelWinsMore(t *testing.T) {
	st := openTestStore(t)
	seedSettledDays(t, st, 40)

	base := DefaultParams()
	base.MaxEntryPrice = 99
	base.MinEdgePct = 0

	tight := base
	tight.AccuracyStd = 1.0
	loose := base
	loose.AccuracyStd = 10.0

	rTight, err := Run(st, tight)
	require.NoError(t, err)
	rLoose, err := Run(st, loose)
	require.NoError(t, err)
	require.NotEmpty(t, rTight.Trades)

	require.Greater(t, rTight.WinRatePct, rLoose.WinRatePct)
}

func TestSweep(t *testing.T) {
	st := openTestStore(t)
	seedSettledDays(t, st, 10)

	base := DefaultParams()
	base.MaxEntryPrice = 99
	base.MinEdgePct = 0

	rows, err := Sweep(st, base)
	require.NoError(t, err)
	require.Len(t, rows, len(SweepStds))
	for i, row := range rows {
		require.Equal(t, SweepStds[i], row.AccuracyStd)
	}
}

func TestBracketProb(t *testing.T) {
	// ±2σ around the mean holds about 95.4%.
	require.InDelta(t, 0.954, bracketProb(49, 53, 51, 1.0), 0.001)
	require.InDelta(t, 0.5, bracketProb(51, 100, 51, 2.0), 0.001)
}

func TestActualTemp(t *testing.T) {
	markets := []store.SettledMarket{
		{FloorStrike: 44, CapStrike: 46, Result: "no"},
		{FloorStrike: 50, CapStrike: 52, Result: "yes"},
	}
	actual, ok := actualTemp(markets)
	require.True(t, ok)
	require.InDelta(t, 51.0, actual, 0.001)

	_, ok = actualTemp(markets[:1])
	require.False(t, ok)
}

func TestParseEventDate(t *testing.T) {
	require.Equal(t, "2026-02-15", parseEventDate("26FEB15"))
	require.Equal(t, "garbage", parseEventDate("garbage"))
}

type fakePager struct {
	pages map[string][]*rest.GetMarketsResponse
	calls map[string]int
}

func (f *fakePager) GetMarketsPage(p rest.MarketsParams) (*rest.GetMarketsResponse, error) {
	pages := f.pages[p.SeriesTicker]
	i := f.calls[p.SeriesTicker]
	f.calls[p.SeriesTicker]++
	if i >= len(pages) {
		return &rest.GetMarketsResponse{}, nil
	}
	return pages[i], nil
}

func TestCollect_PagesAndUpserts(t *testing.T) {
	st := openTestStore(t)

	cfg := &config.Config{}
	for code := range weather.DefaultCities {
		if code != "NYC" {
			cfg.DisabledCities = append(cfg.DisabledCities, code)
		}
	}

	pager := &fakePager{
		calls: make(map[string]int),
		pages: map[string][]*rest.GetMarketsResponse{
			"KXHIGHNY": {
				{
					Markets: []rest.Market{
						{Ticker: "KXHIGHNY-26FEB15-B51", EventTicker: "KXHIGHNY-26FEB15",
							StrikeType: "between", FloorStrike: 50, CapStrike: 52, Result: "yes",
							ExpirationValue: "51"},
					},
					Cursor: "next",
				},
				{
					Markets: []rest.Market{
						{Ticker: "KXHIGHNY-26FEB15-B54", EventTicker: "KXHIGHNY-26FEB15",
							StrikeType: "between", FloorStrike: 53, CapStrike: 55, Result: "no"},
					},
				},
			},
		},
	}

	c := NewCollector(cfg, pager, st, zerolog.Nop())
	c.pause = 0

	n, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, pager.calls["KXHIGHNY"])

	rows, err := st.SettledMarkets("NYC", "high")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "2026-02-15", rows[0].EventDate)
	require.Equal(t, "KXHIGHNY", rows[0].SeriesTicker)

	// Re-collect updates in place, no duplicates.
	pager.calls = make(map[string]int)
	_, err = c.Collect(context.Background())
	require.NoError(t, err)
	total, err := st.CountSettledMarkets()
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestCalibrate(t *testing.T) {
	st := openTestStore(t)
	nyc := weather.GetCity("NYC")

	// Five scored high predictions, each running 2°F cold.
	for i := 0; i < 5; i++ {
		created := time.Date(2026, 2, 2+i, 18, 0, 0, 0, time.UTC)
		require.NoError(t, st.LogPrediction(&store.PredictionRecord{
			CreatedAt: created, City: "NYC", MarketType: "high",
			Ticker: "T", Estimate: 50 + float64(i),
		}))
		require.NoError(t, st.BackfillActual("NYC", "high",
			weather.DateET(created), 52+float64(i)))
	}

	rec, err := Calibrate(st, nyc)
	require.NoError(t, err)
	require.Equal(t, 5, rec.High.Samples)
	require.InDelta(t, 2.0, rec.High.MeanError, 0.001)
	require.InDelta(t, 2.0, rec.High.MeanAbsErr, 0.001)
	require.Zero(t, rec.Low.Samples)
	// Identical errors: observed σ 0, recommendation clamps to the floor.
	require.InDelta(t, minRecommendedStd, rec.RecommendedStd, 0.001)
	require.Equal(t, 5, rec.Samples)
}

func TestCalibrateAll_SkipsUnscoredCities(t *testing.T) {
	st := openTestStore(t)
	recs, err := CalibrateAll(st, []*weather.City{weather.GetCity("NYC"), weather.GetCity("BOS")})
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestClampStd(t *testing.T) {
	require.InDelta(t, 2.5, clampStd(1.0), 0.001)
	require.InDelta(t, 6.0, clampStd(9.0), 0.001)
	require.InDelta(t, 4.2, clampStd(4.23), 0.001)
}
