// Package risk gates signals against capital, dedup, sanity, and daily
// trade limits, and sizes the accepted ones.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/signal"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// Reject reasons surfaced in logs.
const (
	ReasonKillSwitch  = "kill_switch"
	ReasonYesBlocked  = "yes_requires_lockin"
	ReasonMinEdge     = "below_min_edge"
	ReasonSanityEdge  = "edge_too_good"
	ReasonSanityTemp  = "forecast_diverges_from_current"
	ReasonSanityEdgeM = "margin_below_floor"
	ReasonDedup       = "duplicate_today"
	ReasonStackCap    = "lockin_stack_cap"
	ReasonCapitalCap  = "capital_cap"
	ReasonTickerCap   = "ticker_cap"
	ReasonDailyCap    = "daily_cap"
)

// Gate parameters beyond the config block.
const (
	lockinMinEdgePct  = 1.0
	lockinStackCap    = 25
	capitalCapPct     = 40.0
	sanityEdgePct     = 90.0
	sanityYesPrice    = 20
	sanityTempDiverge = 20.0
	sanityMarginFloor = 2.0
	scaleBaseCents    = 8000
)

// Account is a snapshot of cash and open positions, in cents.
type Account struct {
	Balance           int // available cash
	OpenExposure      int // cost basis of open positions
	MarkToMarket      int // current value of open positions
	PositionsInProfit int // open positions marked above cost
}

// Value is cash plus marked positions.
func (a Account) Value() int {
	return a.Balance + a.MarkToMarket
}

// Decision is the gate outcome for one signal.
type Decision struct {
	Accepted  bool
	Reason    string
	Contracts int
	StackMult int
}

func accept(contracts, mult int) Decision {
	return Decision{Accepted: true, Contracts: contracts, StackMult: mult}
}

func reject(reason string) Decision {
	return Decision{Reason: reason}
}

// Gate applies every risk check in order.
type Gate struct {
	cfg        config.RiskConfig
	killSwitch bool
	store      *store.Store
	sizer      *Sizer
	log        zerolog.Logger
	now        func() time.Time
}

// NewGate builds the gate over the shared store.
func NewGate(cfg config.RiskConfig, killSwitch bool, st *store.Store, sizer *Sizer, log zerolog.Logger) *Gate {
	return &Gate{
		cfg:        cfg,
		killSwitch: killSwitch,
		store:      st,
		sizer:      sizer,
		log:        log.With().Str("component", "risk").Logger(),
		now:        time.Now,
	}
}

// Check runs a signal through the full gate and sizes it on acceptance.
func (g *Gate) Check(s *signal.Signal, account Account, profitRuleFired bool) (Decision, error) {
	if g.killSwitch {
		return reject(ReasonKillSwitch), nil
	}

	lockin := s.Source == signal.SourceLockin
	if s.Side == "yes" && !lockin {
		return reject(ReasonYesBlocked), nil
	}

	minEdge := g.cfg.MinEdgePct
	if lockin {
		minEdge = lockinMinEdgePct
	}
	if s.EdgePct < minEdge {
		return reject(ReasonMinEdge), nil
	}

	if d := g.sanity(s, lockin); !d.Accepted {
		return d, nil
	}

	mult, d, err := g.dedup(s, lockin)
	if err != nil {
		return Decision{}, err
	}
	if !d.Accepted {
		return d, nil
	}

	if float64(account.OpenExposure) >= float64(account.Value())*capitalCapPct/100 {
		return reject(ReasonCapitalCap), nil
	}

	if d, err := g.dailyCap(s, account, profitRuleFired); err != nil || !d.Accepted {
		return d, err
	}

	contracts := g.sizer.Size(s, mult, account.Balance)

	held, err := g.store.OpenContracts(s.Ticker, s.Side)
	if err != nil {
		return Decision{}, err
	}
	limit := g.cfg.MaxContractsPerTick
	if lockin && lockinStackCap < limit {
		limit = lockinStackCap
	}
	if held+contracts > limit {
		contracts = limit - held
	}
	if contracts <= 0 {
		return reject(ReasonTickerCap), nil
	}

	return accept(contracts, mult), nil
}

// sanity rejects signals that are statistically implausible or priced
// off bad data.
func (g *Gate) sanity(s *signal.Signal, lockin bool) Decision {
	if !lockin && s.EdgePct > sanityEdgePct && s.YesPrice >= sanityYesPrice {
		return reject(ReasonSanityEdge)
	}

	if est := s.Estimate; est != nil {
		if est.ForecastTemp != 0 && est.PrimaryTemp != 0 &&
			math.Abs(est.ForecastTemp-est.PrimaryTemp) > sanityTempDiverge {
			return reject(ReasonSanityTemp)
		}
		if est.PrimaryTemp != 0 && est.SurroundingAvg != 0 &&
			math.Abs(est.PrimaryTemp-est.SurroundingAvg) > 8 {
			g.log.Warn().Str("city", s.City).
				Float64("primary", est.PrimaryTemp).
				Float64("surrounding", est.SurroundingAvg).
				Msg("primary and surrounding stations disagree")
		}
	}

	if !lockin && !s.Tomorrow && s.Margin < sanityMarginFloor {
		return reject(ReasonSanityEdgeM)
	}
	return Decision{Accepted: true}
}

// dedup enforces one model trade per (ticker, side) per day and the
// edge-tiered stacking rules for lock-in signals.
func (g *Gate) dedup(s *signal.Signal, lockin bool) (int, Decision, error) {
	today := weather.DateET(g.now())

	if !lockin {
		held, err := g.store.HasEntryToday(s.Ticker, s.Side, today)
		if err != nil {
			return 0, Decision{}, err
		}
		if held {
			return 0, reject(ReasonDedup), nil
		}
		if s.Tomorrow && s.Side == "no" && s.EdgePct >= 40 && s.Margin >= 3 {
			return 2, Decision{Accepted: true}, nil
		}
		return 1, Decision{Accepted: true}, nil
	}

	open, err := g.store.OpenContracts(s.Ticker, s.Side)
	if err != nil {
		return 0, Decision{}, err
	}
	if open >= lockinStackCap {
		return 0, reject(ReasonStackCap), nil
	}

	mult := 1
	switch {
	case s.EdgePct >= 80:
		mult = 5
	case s.EdgePct >= 40:
		mult = 3
	}
	return mult, Decision{Accepted: true}, nil
}

// dailyCap computes the effective trade budget for today.
func (g *Gate) dailyCap(s *signal.Signal, account Account, profitRuleFired bool) (Decision, error) {
	today := weather.DateET(g.now())

	entries, err := g.store.CountEntriesOn(today)
	if err != nil {
		return Decision{}, err
	}

	scale := math.Max(0.5, float64(account.Value())/scaleBaseCents)
	baseMax := int(math.Max(8, math.Round(float64(g.cfg.MaxTradesPerDay)*scale)))

	effective := baseMax
	if profitRuleFired {
		effective += 10
	}
	if float64(account.PositionsInProfit) >= 17*scale {
		effective += 3
	}

	if entries < effective {
		return Decision{Accepted: true}, nil
	}

	// Past the budget: bonus slots open only after a winning day and
	// only for longshot YES plays.
	wins, err := g.store.CountWinsOn(today)
	if err != nil {
		return Decision{}, err
	}
	threshold := int(math.Max(6, math.Round(float64(g.cfg.BonusTradesAfterWins)*scale)))
	if wins >= threshold && s.Side == "yes" && s.Price <= 10 &&
		entries < effective+g.cfg.BonusTradeCount {
		return Decision{Accepted: true}, nil
	}

	return reject(fmt.Sprintf("%s (%d/%d)", ReasonDailyCap, entries, effective)), nil
}
