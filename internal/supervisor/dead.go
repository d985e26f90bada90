package supervisor

import (
	"fmt"

	"github.com/brendanplayford/weathertrader/pkg/market"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// positionDead applies the dead-position decision table: given the
// strike, the side held, the current station temperature, and the ET
// hour, it reports whether the position can no longer win. The bounds
// and hour gates are tuned to the ET diurnal cycle; changing them
// changes realized P&L.
func positionDead(s market.Strike, mt weather.MarketType, side string, temp float64, hourET int) (bool, string) {
	if s.Type == market.StrikeBracket {
		return bracketDead(s.Floor, s.Cap, mt, side, temp, hourET)
	}
	// Threshold rules are written for greater-than strikes; less-than
	// markets are rare in this series and get no early exit.
	if s.Type != market.StrikeGreater {
		return false, ""
	}
	return thresholdDead(s.Floor, mt, side, temp, hourET)
}

func bracketDead(floor, cap float64, mt weather.MarketType, side string, temp float64, hourET int) (bool, string) {
	switch {
	case mt == weather.MarketHigh && side == "yes":
		// The high already blew past the cap.
		if temp > cap+2 && hourET >= 12 {
			return true, fmt.Sprintf("current %.1f°F already above bracket [%.0f-%.0f]°F", temp, floor, cap)
		}
		// Too far below the floor with the heating hours gone.
		if temp < floor-5 && hourET >= 15 {
			return true, fmt.Sprintf("current %.1f°F is %.0f°F below bracket [%.0f-%.0f]°F at %d:00 ET", temp, floor-temp, floor, cap, hourET)
		}

	case mt == weather.MarketHigh && side == "no":
		if temp >= floor && temp <= cap && hourET >= 13 && hourET <= 16 {
			return true, fmt.Sprintf("current %.1f°F is in bracket [%.0f-%.0f]°F during peak heating", temp, floor, cap)
		}

	case mt == weather.MarketLow && side == "yes":
		// The low already dropped through the bracket.
		if temp < floor-3 && hourET >= 4 {
			return true, fmt.Sprintf("current %.1f°F already below bracket [%.0f-%.0f]°F", temp, floor, cap)
		}
		// Not enough cooling time left to reach the bracket.
		if temp > cap+4 && hourET >= 2 {
			return true, fmt.Sprintf("current %.1f°F is %.0f°F above bracket [%.0f-%.0f]°F at %d:00 ET", temp, temp-cap, floor, cap, hourET)
		}

	case mt == weather.MarketLow && side == "no":
		if temp >= floor && temp <= cap && hourET >= 4 && hourET <= 7 {
			return true, fmt.Sprintf("current %.1f°F is in bracket [%.0f-%.0f]°F during the coldest hours", temp, floor, cap)
		}
		if temp >= floor && temp <= cap && hourET >= 2 {
			return true, fmt.Sprintf("current %.1f°F is in bracket [%.0f-%.0f]°F overnight", temp, floor, cap)
		}
	}
	return false, ""
}

func thresholdDead(threshold float64, mt weather.MarketType, side string, temp float64, hourET int) (bool, string) {
	switch {
	case mt == weather.MarketHigh && side == "yes":
		if temp < threshold-5 && hourET >= 15 {
			return true, fmt.Sprintf("current %.1f°F never reaching %.0f°F threshold at %d:00 ET", temp, threshold, hourET)
		}

	case mt == weather.MarketHigh && side == "no":
		if temp > threshold+2 && hourET >= 12 {
			return true, fmt.Sprintf("current %.1f°F already exceeded %.0f°F threshold", temp, threshold)
		}

	case mt == weather.MarketLow && side == "yes":
		// The low needed to stay above the threshold and already broke it.
		if temp < threshold-1 && hourET >= 3 {
			return true, fmt.Sprintf("current %.1f°F already below %.0f°F threshold", temp, threshold)
		}

	case mt == weather.MarketLow && side == "no":
		// Betting the low drops below: morning lock with temp still high.
		if temp > threshold+3 && hourET >= 5 && hourET <= 8 {
			return true, fmt.Sprintf("current %.1f°F still %.0f°F above %.0f°F threshold at %d:00 ET", temp, temp-threshold, threshold, hourET)
		}
		if temp > threshold && temp < threshold+10 && hourET >= 4 && hourET <= 7 {
			return true, fmt.Sprintf("current %.1f°F above %.0f°F threshold during the coldest hours", temp, threshold)
		}
	}
	return false, ""
}
