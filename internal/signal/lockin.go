package signal

import (
	"github.com/brendanplayford/weathertrader/pkg/market"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// Lock windows: the daily high is final after 18 ET, the overnight low
// after 08 ET.
const (
	highLockHourET = 18
	lowLockHourET  = 8
)

// LockBuffer absorbs the C/F rounding ambiguity of 5-minute METAR.
const LockBuffer = 1.0

// lockinConfidence tags certainty-grade signals.
const lockinConfidence = 0.95

// minLockinYesBid keeps impossible-bracket NO entries worth the risk.
const minLockinYesBid = 10

// Locked reports whether the extreme for a market type is final at the
// given ET hour.
func Locked(mt weather.MarketType, hourET int) bool {
	if mt == weather.MarketLow {
		return hourET >= lowLockHourET
	}
	return hourET >= highLockHourET
}

// Lockin scans markets for brackets the locked extreme has already
// decided: impossible ones to bet against, confirmed ones to bet on.
// The caller supplies the ET hour so the lock window rides its clock.
func (g *Generator) Lockin(city *weather.City, mt weather.MarketType, dateET string, running float64, markets []rest.Market, hourET int) []Signal {
	if !Locked(mt, hourET) {
		return nil
	}

	var signals []Signal
	for _, m := range markets {
		if m.Status != "" && m.Status != "active" && m.Status != "open" {
			continue
		}
		strike, err := market.FromMarket(m)
		if err != nil {
			continue
		}

		if impossible(strike, mt, running) {
			if m.YesBid < minLockinYesBid {
				continue
			}
			signals = append(signals, Signal{
				City:        city.Code,
				Ticker:      m.Ticker,
				EventTicker: m.EventTicker,
				MarketType:  mt,
				DateET:      dateET,
				Side:        "no",
				Price:       100 - m.YesBid,
				YesPrice:    m.YesBid,
				OurPrice:    1,
				Probability: market.MinProbability,
				EdgePct:     float64(m.YesBid-1) / float64(m.YesBid) * 100,
				Confidence:  lockinConfidence,
				Margin:      strike.NearestEdge(running),
				Source:      SourceLockin,
				Strike:      strike,
			})
			continue
		}

		if confirmed(strike, running) {
			if m.YesAsk <= 0 || m.YesAsk > 98 {
				continue
			}
			edge := float64(99-m.YesAsk) / float64(m.YesAsk) * 100
			if edge < 1 {
				continue
			}
			signals = append(signals, Signal{
				City:        city.Code,
				Ticker:      m.Ticker,
				EventTicker: m.EventTicker,
				MarketType:  mt,
				DateET:      dateET,
				Side:        "yes",
				Price:       m.YesAsk,
				YesPrice:    m.YesAsk,
				OurPrice:    99,
				Probability: market.MaxProbability,
				EdgePct:     edge,
				Confidence:  lockinConfidence,
				Margin:      strike.NearestEdge(running),
				Source:      SourceLockin,
				Strike:      strike,
			})
		}
	}
	return signals
}

// impossible reports whether the locked extreme rules out a YES settle.
func impossible(s market.Strike, mt weather.MarketType, running float64) bool {
	if mt == weather.MarketHigh {
		switch s.Type {
		case market.StrikeBracket, market.StrikeGreater:
			// The high would have to climb past the floor.
			return s.Floor > running+LockBuffer
		case market.StrikeLess:
			return running-LockBuffer >= s.Cap
		}
		return false
	}

	switch s.Type {
	case market.StrikeBracket, market.StrikeLess:
		// The low would have to drop under the cap.
		return s.Cap < running-LockBuffer
	case market.StrikeGreater:
		return running-LockBuffer <= s.Floor
	}
	return false
}

// confirmed reports whether the locked extreme guarantees a YES settle
// with the rounding buffer to spare. Inside the lock window the extreme
// is final, so the check is the same for both market types.
func confirmed(s market.Strike, running float64) bool {
	switch s.Type {
	case market.StrikeBracket:
		return running >= s.Floor+LockBuffer && running <= s.Cap+1-LockBuffer
	case market.StrikeGreater:
		return running > s.Floor+LockBuffer
	case market.StrikeLess:
		return running < s.Cap-LockBuffer
	}
	return false
}
