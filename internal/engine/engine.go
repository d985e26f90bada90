// Package engine runs the trading cycle: settlement sync, portfolio
// sweeps, weather collection, signal generation, and order execution.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/estimator"
	"github.com/brendanplayford/weathertrader/internal/paper"
	"github.com/brendanplayford/weathertrader/internal/risk"
	"github.com/brendanplayford/weathertrader/internal/signal"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// maxOrdersPerCycle bounds execution per cycle.
const maxOrdersPerCycle = 3

// maxJitter is the random pre-cycle delay ceiling.
const maxJitter = 300 * time.Second

// profitRulePct triggers whole-portfolio winner liquidation.
const profitRulePct = 0.10

// takerFeeCents is the exchange fee per contract, deducted from
// settled P&L.
const takerFeeCents = 1

// cutLossPct closes positions whose value decayed this far below cost.
const cutLossPct = 42.0

// profitRuleStateKey records the last ET day the profit rule fired.
const profitRuleStateKey = "profit_rule_date"

// LastCycleStateKey records when the last cycle finished, RFC3339 UTC.
// The watchdog reads it to detect a stalled bot.
const LastCycleStateKey = "last_cycle_at"

// Exchange is the slice of the REST client the engine needs.
type Exchange interface {
	GetMarkets(eventTicker string) ([]rest.Market, error)
	GetMarket(ticker string) (*rest.Market, error)
	GetOrderbook(ticker string, depth int) (*rest.Orderbook, error)
	GetBalance() (*rest.Balance, error)
	GetPositions() ([]rest.Position, error)
	CreateOrder(req *rest.CreateOrderRequest) (*rest.Order, error)
}

// Collector ingests weather into the store; the engine treats it as a
// best-effort cycle step.
type Collector interface {
	Collect(ctx context.Context) error
}

// Notifier receives trade and portfolio alerts; nil-safe via NopNotifier.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// Engine owns one trading loop.
type Engine struct {
	cfg       *config.Config
	exchange  Exchange
	store     *store.Store
	ledger    *paper.Ledger
	estimator *estimator.Engine
	signals   *signal.Generator
	gate      *risk.Gate
	collector Collector
	notifier  Notifier

	live     bool
	noJitter bool

	log zerolog.Logger
	rng *rand.Rand
	now func() time.Time

	profitFired bool
}

// Options configure optional engine collaborators.
type Options struct {
	Live      bool
	NoJitter  bool
	Collector Collector
	Notifier  Notifier
	Rand      *rand.Rand
}

// New assembles an engine.
func New(cfg *config.Config, exchange Exchange, st *store.Store, ledger *paper.Ledger,
	est *estimator.Engine, gen *signal.Generator, gate *risk.Gate, opts Options, log zerolog.Logger) *Engine {

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &Engine{
		cfg:       cfg,
		exchange:  exchange,
		store:     st,
		ledger:    ledger,
		estimator: est,
		signals:   gen,
		gate:      gate,
		collector: opts.Collector,
		notifier:  notifier,
		live:      opts.Live,
		noJitter:  opts.NoJitter,
		log:       log.With().Str("component", "engine").Logger(),
		rng:       rng,
		now:       time.Now,
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string) {}

// Run executes cycles until the context is canceled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	for {
		if err := e.Cycle(ctx); err != nil {
			e.log.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Cycle runs one full trading pass. Step failures are isolated: a
// broken step logs and the cycle continues.
func (e *Engine) Cycle(ctx context.Context) error {
	if err := e.jitterSleep(ctx); err != nil {
		return err
	}

	today := weather.DateET(e.now())
	e.profitFired = e.profitFiredToday(today)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"sync_settlements", e.syncSettlements},
		{"portfolio_status", e.logPortfolio},
		{"profit_rule", e.profitRule},
		{"take_profits", e.takeProfits},
		{"cut_losers", e.cutLosers},
		{"collect_weather", e.collectWeather},
		{"trade_signals", e.tradeSignals},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.runStep(ctx, step.name, step.fn); err != nil {
			e.log.Error().Str("step", step.name).Err(err).Msg("step failed")
		}
	}

	if err := e.store.SetState(LastCycleStateKey, e.now().UTC().Format(time.RFC3339)); err != nil {
		e.log.Warn().Err(err).Msg("heartbeat write failed")
	}
	return nil
}

// runStep isolates panics so one step can never kill the loop.
func (e *Engine) runStep(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}

// jitterSleep randomizes cycle start times so order flow does not
// arrive on a recognizable schedule.
func (e *Engine) jitterSleep(ctx context.Context) error {
	if e.noJitter {
		return nil
	}
	delay := time.Duration(e.rng.Int63n(int64(maxJitter)))
	e.log.Debug().Dur("delay", delay).Msg("cycle jitter")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (e *Engine) collectWeather(ctx context.Context) error {
	if e.collector == nil {
		return nil
	}
	return e.collector.Collect(ctx)
}

func (e *Engine) profitFiredToday(today string) bool {
	v, err := e.store.GetState(profitRuleStateKey)
	if err != nil {
		return false
	}
	return v == today
}
