package signal

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brendanplayford/weathertrader/internal/estimator"
	"github.com/brendanplayford/weathertrader/pkg/market"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

func restStrike(m rest.Market) (market.Strike, error) {
	return market.FromMarket(m)
}

func testEstimate(value, confidence float64) *estimator.Estimate {
	return &estimator.Estimate{
		City: "BOS", MarketType: weather.MarketHigh, DateET: "2026-02-15",
		Value: value, Confidence: confidence, Source: "model",
	}
}

func bracketMarket(ticker string, floor, cap float64, yesBid, yesAsk int) rest.Market {
	return rest.Market{
		Ticker: ticker, EventTicker: "KXHIGHTBOS-26FEB15", Status: "active",
		StrikeType: "between", FloorStrike: floor, CapStrike: cap,
		YesBid: yesBid, YesAsk: yesAsk,
	}
}

func greaterMarket(ticker string, floor float64, yesBid, yesAsk int) rest.Market {
	return rest.Market{
		Ticker: ticker, EventTicker: "KXHIGHTBOS-26FEB15", Status: "active",
		StrikeType: "greater", FloorStrike: floor,
		YesBid: yesBid, YesAsk: yesAsk,
	}
}

func TestFromEstimate_YesSignal(t *testing.T) {
	g := New(2, zerolog.Nop())
	bos := weather.GetCity("BOS")
	est := testEstimate(44.0, 0.65) // sigma 2.7

	// P(high > 40) with mu 44 is about 0.93; the ask sits at 80.
	markets := []rest.Market{greaterMarket("T-GT40", 40, 75, 80)}

	signals := g.FromEstimate(est, bos, markets, false)
	require.Len(t, signals, 1)

	s := signals[0]
	require.Equal(t, "yes", s.Side)
	require.Equal(t, 80, s.Price)
	require.Equal(t, 93, s.OurPrice)
	require.InDelta(t, 16.25, s.EdgePct, 0.01)
	require.Equal(t, SourceModel, s.Source)
}

func TestFromEstimate_NoSignalWithMargin(t *testing.T) {
	g := New(2, zerolog.Nop())
	bos := weather.GetCity("BOS")
	est := testEstimate(44.0, 0.65)

	// A bracket six degrees above the estimate, bid at 20.
	markets := []rest.Market{bracketMarket("T-B50", 50, 51, 20, 30)}

	signals := g.FromEstimate(est, bos, markets, false)
	require.Len(t, signals, 1)

	s := signals[0]
	require.Equal(t, "no", s.Side)
	require.Equal(t, 80, s.Price)
	require.Equal(t, 20, s.YesPrice)
	require.Equal(t, 1, s.OurPrice)
	require.InDelta(t, 95.0, s.EdgePct, 0.01)
	require.InDelta(t, 6.0, s.Margin, 0.001)
	// Flagged (cheap-looking 95% edge) but it survives enhanced
	// validation at a confidence cost.
	require.InDelta(t, 0.5, s.Confidence, 0.001)
}

func TestFromEstimate_NoSignalBlockedNearEdge(t *testing.T) {
	g := New(2, zerolog.Nop())
	bos := weather.GetCity("BOS")
	est := testEstimate(44.0, 0.65)

	// Margin exactly 3: past the base gate but under the flagged 4F bar.
	markets := []rest.Market{bracketMarket("T-B47", 47, 48, 60, 70)}

	signals := g.FromEstimate(est, bos, markets, false)
	require.Empty(t, signals)
}

func TestFromEstimate_RunningInsideBracketBlocks(t *testing.T) {
	g := New(2, zerolog.Nop())
	bos := weather.GetCity("BOS")

	est := testEstimate(44.0, 0.65)
	est.HasRunning = true
	est.RunningExtreme = 49.5 // rounding-adjusted 50.5 lands in [50, 51]
	est.ForecastTemp = 44.0

	markets := []rest.Market{bracketMarket("T-B50", 50, 51, 20, 30)}
	require.Empty(t, g.FromEstimate(est, bos, markets, false))
}

func TestFromEstimate_SkipsIlliquidAndCheapNo(t *testing.T) {
	g := New(2, zerolog.Nop())
	bos := weather.GetCity("BOS")
	est := testEstimate(44.0, 0.65)

	markets := []rest.Market{
		bracketMarket("T-ILLIQUID", 50, 51, 0, 100),
		// Bid under 10: bad risk/reward for a NO.
		bracketMarket("T-CHEAP", 52, 53, 5, 9),
	}
	require.Empty(t, g.FromEstimate(est, bos, markets, false))
}

func TestFromEstimate_MarginGateRejectsNearBrackets(t *testing.T) {
	g := New(2, zerolog.Nop())
	bos := weather.GetCity("BOS")
	est := testEstimate(44.0, 0.65)

	// The estimate sits on the bracket edge; NO is forbidden.
	markets := []rest.Market{bracketMarket("T-B43", 43, 44, 45, 55)}
	require.Empty(t, g.FromEstimate(est, bos, markets, false))
}

func TestFromEstimate_PriorityOrdersLongshotsFirst(t *testing.T) {
	g := New(2, zerolog.Nop())
	bos := weather.GetCity("BOS")
	est := testEstimate(44.0, 0.65)

	markets := []rest.Market{
		greaterMarket("T-YES", 40, 75, 80),     // standard-high YES, priority 3
		bracketMarket("T-B50", 50, 51, 20, 30), // longshot NO, priority 5
	}

	signals := g.FromEstimate(est, bos, markets, false)
	require.Len(t, signals, 2)
	require.Equal(t, "T-B50", signals[0].Ticker)
	require.Equal(t, "T-YES", signals[1].Ticker)
}

func TestPriority_PreferredCityBoost(t *testing.T) {
	g := New(2, zerolog.Nop())
	require.InDelta(t, 6.5, g.priority(Signal{City: "MIA", Side: "no", YesPrice: 20}), 0.001)
	require.InDelta(t, 5.0, g.priority(Signal{City: "BOS", Side: "no", YesPrice: 20}), 0.001)
	require.InDelta(t, 1.3, g.priority(Signal{City: "NYC", Side: "yes", Price: 60}), 0.001)
}

func TestLocked(t *testing.T) {
	require.False(t, Locked(weather.MarketHigh, 17))
	require.True(t, Locked(weather.MarketHigh, 18))
	require.False(t, Locked(weather.MarketLow, 7))
	require.True(t, Locked(weather.MarketLow, 8))
}

func TestLockin_ImpossibleThreshold(t *testing.T) {
	g := New(2, zerolog.Nop())
	nyc := weather.GetCity("NYC")

	// Running high 52.3 at 19:00 ET; ">58" cannot settle YES.
	markets := []rest.Market{greaterMarket("T-GT58", 58, 30, 40)}
	signals := g.Lockin(nyc, weather.MarketHigh, "2026-02-15", 52.3, markets, 19)
	require.Len(t, signals, 1)

	s := signals[0]
	require.Equal(t, "no", s.Side)
	require.Equal(t, 70, s.Price)
	require.Equal(t, 1, s.OurPrice)
	require.InDelta(t, 96.67, s.EdgePct, 0.01)
	require.InDelta(t, 5.7, s.Margin, 0.001)
	require.Equal(t, SourceLockin, s.Source)
	require.InDelta(t, 0.95, s.Confidence, 0.001)
}

func TestLockin_RequiresMinimumBid(t *testing.T) {
	g := New(2, zerolog.Nop())
	nyc := weather.GetCity("NYC")

	markets := []rest.Market{greaterMarket("T-GT58", 58, 5, 40)}
	require.Empty(t, g.Lockin(nyc, weather.MarketHigh, "2026-02-15", 52.3, markets, 19))
}

func TestLockin_ConfirmedThreshold(t *testing.T) {
	g := New(2, zerolog.Nop())
	nyc := weather.GetCity("NYC")

	markets := []rest.Market{greaterMarket("T-GT50", 50, 80, 85)}
	signals := g.Lockin(nyc, weather.MarketHigh, "2026-02-15", 52.3, markets, 19)
	require.Len(t, signals, 1)

	s := signals[0]
	require.Equal(t, "yes", s.Side)
	require.Equal(t, 85, s.Price)
	require.Equal(t, 99, s.OurPrice)
	require.InDelta(t, 16.47, s.EdgePct, 0.01)
}

func TestLockin_ConfirmedRejectsThinEdge(t *testing.T) {
	g := New(2, zerolog.Nop())
	nyc := weather.GetCity("NYC")

	// At 99 the ask breaches the cap; at 98 edge is barely over 1%.
	require.Empty(t, g.Lockin(nyc, weather.MarketHigh, "2026-02-15", 52.3,
		[]rest.Market{greaterMarket("T-GT50", 50, 98, 99)}, 19))
	signals := g.Lockin(nyc, weather.MarketHigh, "2026-02-15", 52.3,
		[]rest.Market{greaterMarket("T-GT50", 50, 97, 98)}, 19)
	require.Len(t, signals, 1)
}

func TestLockin_OutsideWindow(t *testing.T) {
	g := New(2, zerolog.Nop())

	// At noon the high is still in play.
	markets := []rest.Market{greaterMarket("T-GT58", 58, 30, 40)}
	require.Empty(t, g.Lockin(weather.GetCity("NYC"), weather.MarketHigh, "2026-02-15", 52.3, markets, 12))
}

func TestLockin_LowImpossibleBracket(t *testing.T) {
	g := New(2, zerolog.Nop())
	nyc := weather.GetCity("NYC")

	// 09:00 ET: the low is locked.
	m := bracketMarket("T-B20", 20, 21, 25, 35)
	m.EventTicker = "KXLOWTNYC-26FEB15"
	signals := g.Lockin(nyc, weather.MarketLow, "2026-02-15", 25.0, []rest.Market{m}, 9)
	require.Len(t, signals, 1)
	require.Equal(t, "no", signals[0].Side)
	require.Equal(t, 75, signals[0].Price)
}

func TestImpossibleAndConfirmed(t *testing.T) {
	gt58, err := restStrike(greaterMarket("T", 58, 0, 0))
	require.NoError(t, err)

	require.True(t, impossible(gt58, weather.MarketHigh, 52.3))
	require.False(t, impossible(gt58, weather.MarketHigh, 57.5))

	b := bracketMarket("T", 52, 53, 0, 0)
	bs, err := restStrike(b)
	require.NoError(t, err)
	require.True(t, confirmed(bs, 53.0))
	require.False(t, confirmed(bs, 52.3))
}
