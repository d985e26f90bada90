package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brendanplayford/weathertrader/pkg/rest"
)

func TestFromMarket_PrefersAPIStrikes(t *testing.T) {
	tests := []struct {
		name string
		m    rest.Market
		want Strike
	}{
		{
			"between",
			rest.Market{Ticker: "KXHIGHNY-26FEB15-B36.5", StrikeType: "between", FloorStrike: 36, CapStrike: 37},
			Strike{Type: StrikeBracket, Floor: 36, Cap: 37},
		},
		{
			"greater",
			rest.Market{Ticker: "KXHIGHNY-26FEB15-T58", StrikeType: "greater", FloorStrike: 58},
			Strike{Type: StrikeGreater, Floor: 58},
		},
		{
			"less",
			rest.Market{Ticker: "KXLOWTNYC-26FEB15-T29", StrikeType: "less", CapStrike: 29},
			Strike{Type: StrikeLess, Cap: 29},
		},
		{
			"strikes without type",
			rest.Market{Ticker: "whatever-x-y", FloorStrike: 80, CapStrike: 81},
			Strike{Type: StrikeBracket, Floor: 80, Cap: 81},
		},
		{
			"floor only",
			rest.Market{Ticker: "whatever-x-y", FloorStrike: 58},
			Strike{Type: StrikeGreater, Floor: 58},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromMarket(tt.m)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFromMarket_TickerFallback(t *testing.T) {
	got, err := FromMarket(rest.Market{Ticker: "KXHIGHNY-26FEB15-B40.5"})
	require.NoError(t, err)
	require.Equal(t, Strike{Type: StrikeBracket, Floor: 40, Cap: 41}, got)
}

func TestParseTicker(t *testing.T) {
	tests := []struct {
		ticker  string
		want    Strike
		wantErr bool
	}{
		{"KXHIGHNY-26FEB15-B40.5", Strike{Type: StrikeBracket, Floor: 40, Cap: 41}, false},
		{"KXHIGHNY-26FEB15-T43", Strike{Type: StrikeBracket, Floor: 43, Cap: 47}, false},
		{"KXHIGHMIA-26FEB15-80", Strike{Type: StrikeBracket, Floor: 80, Cap: 84}, false},
		{"garbage", Strike{}, true},
		{"KXHIGHNY-26FEB15-Bxx", Strike{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.ticker, func(t *testing.T) {
			got, err := ParseTicker(tt.ticker)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestProbability_Bracket(t *testing.T) {
	// Centered estimate over a two-degree-wide settlement band keeps most
	// of the mass inside.
	s := Strike{Type: StrikeBracket, Floor: 36, Cap: 37}
	p := s.Probability(36.5, 3.0)
	require.InDelta(t, 0.2586, p, 0.01)

	// Far-away estimate clamps at the floor.
	require.Equal(t, MinProbability, s.Probability(60, 2.0))

	// Tight sigma right on the bracket clamps at the cap.
	require.Equal(t, MaxProbability, s.Probability(37, 0.1))
}

func TestProbability_Thresholds(t *testing.T) {
	greater := Strike{Type: StrikeGreater, Floor: 58}
	require.InDelta(t, 0.5, greater.Probability(58, 3.0), 1e-9)
	require.Greater(t, greater.Probability(65, 3.0), 0.95)

	less := Strike{Type: StrikeLess, Cap: 29}
	require.InDelta(t, 0.5, less.Probability(29, 3.0), 1e-9)
	require.Equal(t, MinProbability, less.Probability(52.3, 3.5))
}

func TestWouldWin(t *testing.T) {
	bracket := Strike{Type: StrikeBracket, Floor: 36, Cap: 37}
	require.True(t, bracket.WouldWin(36))
	require.True(t, bracket.WouldWin(37))
	require.False(t, bracket.WouldWin(38))

	greater := Strike{Type: StrikeGreater, Floor: 58}
	require.False(t, greater.WouldWin(58))
	require.True(t, greater.WouldWin(58.5))

	less := Strike{Type: StrikeLess, Cap: 29}
	require.True(t, less.WouldWin(28))
	require.False(t, less.WouldWin(29))
}

func TestNearestEdge(t *testing.T) {
	bracket := Strike{Type: StrikeBracket, Floor: 36, Cap: 37}
	require.InDelta(t, 2.0, bracket.NearestEdge(39), 1e-9)
	require.InDelta(t, 1.0, bracket.NearestEdge(35), 1e-9)

	greater := Strike{Type: StrikeGreater, Floor: 58}
	require.InDelta(t, 5.7, greater.NearestEdge(52.3), 1e-9)
}

func TestDescription(t *testing.T) {
	require.Equal(t, "36-37°F", Strike{Type: StrikeBracket, Floor: 36, Cap: 37}.Description())
	require.Equal(t, ">58°F", Strike{Type: StrikeGreater, Floor: 58}.Description())
	require.Equal(t, "<29°F", Strike{Type: StrikeLess, Cap: 29}.Description())
}

func TestProbability_SumsNearOneAcrossLadder(t *testing.T) {
	// A full bracket ladder plus the two tails should cover the line.
	mu, sigma := 50.0, 3.5
	total := Strike{Type: StrikeLess, Cap: 44}.Probability(mu, sigma)
	for f := 45.0; f <= 55; f += 2 {
		total += Strike{Type: StrikeBracket, Floor: f, Cap: f + 1}.Probability(mu, sigma)
	}
	total += Strike{Type: StrikeGreater, Floor: 56}.Probability(mu, sigma)
	require.Less(t, math.Abs(total-1.0), 0.05)
}
