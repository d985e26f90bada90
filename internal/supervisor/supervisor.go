// Package supervisor runs the standalone position monitor: a
// long-lived process that watches open exchange positions, takes
// profits, exits mathematically dead positions, and fires the profit
// rule once per session. It shares nothing with the trading engine but
// the store and the kill switch.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/market"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/weather"
	"github.com/brendanplayford/weathertrader/pkg/ws"
)

// Polling cadence. Busy books get watched every 30 s, an empty book
// idles at five minutes.
const (
	pollInterval = 30 * time.Second
	idleInterval = 300 * time.Second
	callPause    = 200 * time.Millisecond
)

// quoteTTL bounds how long a websocket quote substitutes for a REST
// market fetch.
const quoteTTL = 30 * time.Second

// profitRulePct mirrors the orchestrator trigger: unrealized gains at
// 10% of account value lock in the winners.
const profitRulePct = 0.10

// Exchange is the slice of the trading API the supervisor needs.
type Exchange interface {
	GetMarket(ticker string) (*rest.Market, error)
	GetBalance() (*rest.Balance, error)
	GetPositions() ([]rest.Position, error)
	CreateOrder(req *rest.CreateOrderRequest) (*rest.Order, error)
}

// Stats counts what the supervisor has done this session.
type Stats struct {
	Checks       int `json:"checks"`
	Positions    int `json:"positions"`
	TakeProfits  int `json:"take_profits"`
	DeadExits    int `json:"dead_exits"`
	ProfitRule   int `json:"profit_rule"`
	Errors       int `json:"errors"`
}

type quote struct {
	yesBid, yesAsk int
	at             time.Time
}

// Supervisor watches open positions until cancelled.
type Supervisor struct {
	cfg      *config.Config
	exchange Exchange
	store    *store.Store
	log      zerolog.Logger
	side     zerolog.Logger // JSONL event log for operator review

	feed *ws.Feed

	mu     sync.Mutex
	quotes map[string]quote

	profitFired bool
	stats       Stats
	now         func() time.Time
	pause       time.Duration
}

// New builds a supervisor. The side log lands in <log_dir>/take_profits.jsonl.
func New(cfg *config.Config, exchange Exchange, st *store.Store, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		exchange: exchange,
		store:    st,
		log:      log.With().Str("component", "supervisor").Logger(),
		side:     zerolog.New(sideLogWriter(cfg.LogDir, log)).With().Timestamp().Logger(),
		quotes:   make(map[string]quote),
		now:      time.Now,
		pause:    callPause,
	}
}

func sideLogWriter(dir string, log zerolog.Logger) io.Writer {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Str("dir", dir).Err(err).Msg("side log dir unavailable")
		return io.Discard
	}
	f, err := os.OpenFile(filepath.Join(dir, "take_profits.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("side log unavailable")
		return io.Discard
	}
	return f
}

// UseFeed attaches a websocket feed; ticker updates then serve as
// fresh quotes between polls.
func (s *Supervisor) UseFeed(feed *ws.Feed) {
	s.feed = feed
}

// HandleUpdate is the feed callback; it caches the quote.
func (s *Supervisor) HandleUpdate(u *ws.TickerUpdate) {
	s.mu.Lock()
	s.quotes[u.MarketTicker] = quote{yesBid: u.YesBid, yesAsk: u.YesAsk, at: s.now()}
	s.mu.Unlock()
}

// Stats returns a copy of the session counters.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run polls until the context is cancelled. The PID file lifecycle
// belongs to the caller; Run itself only loops.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info().Dur("poll", pollInterval).Dur("idle", idleInterval).Msg("supervisor started")
	for {
		n, err := s.Check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error().Err(err).Msg("check cycle failed")
			s.countError()
		}

		interval := idleInterval
		if n > 0 {
			interval = pollInterval
		}
		select {
		case <-ctx.Done():
			s.log.Info().Interface("stats", s.Stats()).Msg("supervisor stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Check runs one pass over the open positions and returns how many
// were seen.
func (s *Supervisor) Check(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.stats.Checks++
	s.mu.Unlock()

	positions, err := s.openPositions()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.stats.Positions = len(positions)
	s.mu.Unlock()
	if len(positions) == 0 {
		return 0, nil
	}

	s.watchTickers(positions)

	// Profit rule first: one portfolio valuation instead of n checks.
	if fired, err := s.checkProfitRule(ctx, positions); err != nil {
		s.log.Warn().Err(err).Msg("profit rule check failed")
	} else if fired {
		return len(positions), nil
	}

	for i, pos := range positions {
		if err := ctx.Err(); err != nil {
			return len(positions), err
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return len(positions), ctx.Err()
			case <-time.After(s.pause):
			}
		}

		m, err := s.market(pos.Ticker)
		if err != nil {
			s.log.Warn().Str("ticker", pos.Ticker).Err(err).Msg("market fetch failed")
			s.countError()
			continue
		}
		if m.Status != "" && m.Status != "active" {
			continue
		}

		// Take-profit outranks the dead check.
		if s.checkTakeProfit(pos, m) {
			continue
		}
		s.checkDead(pos, m)
	}
	return len(positions), nil
}

func (s *Supervisor) openPositions() ([]rest.Position, error) {
	all, err := s.exchange.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	open := all[:0]
	for _, p := range all {
		if p.Position != 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

func (s *Supervisor) watchTickers(positions []rest.Position) {
	if s.feed == nil {
		return
	}
	tickers := make([]string, 0, len(positions))
	for _, p := range positions {
		tickers = append(tickers, p.Ticker)
	}
	if err := s.feed.Watch(tickers); err != nil {
		s.log.Debug().Err(err).Msg("feed watch failed")
	}
}

// market serves a cached websocket quote when fresh, otherwise a REST
// lookup.
func (s *Supervisor) market(ticker string) (*rest.Market, error) {
	s.mu.Lock()
	q, ok := s.quotes[ticker]
	s.mu.Unlock()
	if ok && s.now().Sub(q.at) < quoteTTL && q.yesBid > 0 {
		return &rest.Market{
			Ticker: ticker, Status: "active",
			YesBid: q.yesBid, YesAsk: q.yesAsk,
			NoBid: 100 - q.yesAsk, NoAsk: 100 - q.yesBid,
		}, nil
	}
	return s.exchange.GetMarket(ticker)
}

// side/qty/per normalize a signed exchange position.
func positionSide(p rest.Position) (side string, qty, per int) {
	qty = p.Position
	side = "yes"
	if qty < 0 {
		side = "no"
		qty = -qty
	}
	if qty > 0 {
		per = p.MarketExposure / qty
	}
	return side, qty, per
}

// checkTakeProfit closes a position whose bid has run past the
// take-profit threshold.
func (s *Supervisor) checkTakeProfit(p rest.Position, m *rest.Market) bool {
	side, qty, per := positionSide(p)
	if qty == 0 || per <= 0 {
		return false
	}

	var gainPct float64
	var exitPrice int
	if side == "yes" {
		if m.YesBid <= 0 {
			return false
		}
		gainPct = float64(m.YesBid-per) / float64(per) * 100
		exitPrice = m.YesBid
	} else {
		// Live NO exposure is the premium received; profit is buying
		// back cheaper.
		noAsk := m.NoAsk
		if noAsk <= 0 {
			noAsk = 100 - m.YesBid
		}
		if noAsk <= 0 || m.NoBid <= 0 {
			return false
		}
		gainPct = float64(per-noAsk) / float64(per) * 100
		exitPrice = m.NoBid
	}
	if gainPct < s.cfg.Risk.TakeProfitPct {
		return false
	}

	if err := s.sell(p.Ticker, side, qty, exitPrice); err != nil {
		s.log.Error().Str("ticker", p.Ticker).Err(err).Msg("take profit order failed")
		s.countError()
		return false
	}

	s.mu.Lock()
	s.stats.TakeProfits++
	s.mu.Unlock()
	s.log.Info().Str("ticker", p.Ticker).Str("side", side).Int("contracts", qty).
		Int("cost", per).Int("exit", exitPrice).Float64("gain_pct", gainPct).
		Msg("take profit")
	s.side.Info().Str("type", "take_profit").Str("ticker", p.Ticker).
		Str("side", side).Int("qty", qty).Int("cost_cents", per).
		Int("sell_price_cents", exitPrice).Float64("gain_pct", gainPct).Send()
	return true
}

// checkDead exits positions the current temperature has already
// decided against.
func (s *Supervisor) checkDead(p rest.Position, m *rest.Market) bool {
	side, qty, _ := positionSide(p)
	if qty == 0 {
		return false
	}

	city, mt := weather.CityByEventTicker(m.EventTicker)
	if city == nil {
		return false
	}
	strike, err := market.FromMarket(*m)
	if err != nil {
		return false
	}

	obs, err := s.store.LatestObservation(city.Primary)
	if err != nil || obs == nil {
		return false
	}

	dead, reason := positionDead(strike, mt, side, obs.TempF, weather.HourET(s.now()))
	if !dead {
		return false
	}

	var exitPrice int
	if side == "yes" {
		exitPrice = m.YesBid
	} else {
		exitPrice = m.NoBid
		if exitPrice <= 0 {
			exitPrice = 100 - m.YesAsk
		}
	}
	if exitPrice <= 0 {
		s.log.Warn().Str("ticker", p.Ticker).Msg("no bid for dead position")
		return false
	}

	s.log.Warn().Str("ticker", p.Ticker).Str("reason", reason).
		Float64("current_temp", obs.TempF).Msg("dead position")
	if err := s.sell(p.Ticker, side, qty, exitPrice); err != nil {
		s.log.Error().Str("ticker", p.Ticker).Err(err).Msg("dead exit failed")
		s.countError()
		return false
	}

	s.mu.Lock()
	s.stats.DeadExits++
	s.mu.Unlock()
	s.side.Info().Str("type", "dead_exit").Str("ticker", p.Ticker).
		Str("side", side).Int("qty", qty).Int("exit_price", exitPrice).
		Str("reason", reason).Float64("current_temp_f", obs.TempF).Send()
	return true
}

// checkProfitRule liquidates winners once per session when unrealized
// gains reach 10% of account value.
func (s *Supervisor) checkProfitRule(ctx context.Context, positions []rest.Position) (bool, error) {
	if s.profitFired {
		return false, nil
	}

	bal, err := s.exchange.GetBalance()
	if err != nil {
		return false, fmt.Errorf("get balance: %w", err)
	}

	type priced struct {
		pos rest.Position
		m   *rest.Market
	}
	var book []priced
	var value, cost int
	for i, p := range positions {
		if i > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(s.pause):
			}
		}
		side, qty, _ := positionSide(p)
		m, err := s.market(p.Ticker)
		if err != nil {
			// Unpriceable positions carry at cost.
			value += p.MarketExposure
			cost += p.MarketExposure
			continue
		}
		if side == "yes" {
			value += qty * m.YesBid
		} else {
			value += qty * (100 - m.YesBid)
		}
		cost += p.MarketExposure
		book = append(book, priced{pos: p, m: m})
	}

	total := bal.Balance + value
	unrealized := value - cost
	trigger := int(float64(total) * profitRulePct)
	s.log.Info().Int("cash", bal.Balance).Int("positions", value).
		Int("unrealized", unrealized).Int("trigger", trigger).Msg("portfolio")
	if trigger <= 0 || unrealized < trigger {
		return false, nil
	}

	s.profitFired = true
	s.mu.Lock()
	s.stats.ProfitRule++
	s.mu.Unlock()
	s.log.Warn().Int("unrealized", unrealized).Msg("profit rule triggered, selling winners")

	liquidated := 0
	for _, b := range book {
		side, qty, per := positionSide(b.pos)
		var exitPrice int
		if side == "yes" && b.m.YesBid > per {
			exitPrice = b.m.YesBid
		} else if side == "no" {
			noAsk := b.m.NoAsk
			if noAsk <= 0 {
				noAsk = 100 - b.m.YesBid
			}
			if noAsk > 0 && noAsk < per {
				exitPrice = noAsk
			}
		}
		if exitPrice <= 0 {
			continue
		}
		if err := s.sell(b.pos.Ticker, side, qty, exitPrice); err != nil {
			s.log.Error().Str("ticker", b.pos.Ticker).Err(err).Msg("profit rule sell failed")
			s.countError()
			continue
		}
		liquidated++
	}

	s.side.Info().Str("type", "profit_rule").Int("total_value_cents", total).
		Int("cash_cents", bal.Balance).Int("position_value_cents", value).
		Int("unrealized_cents", unrealized).Int("positions_liquidated", liquidated).Send()
	return true, nil
}

// sell issues the close order. Closes are always action=sell on the
// held side.
func (s *Supervisor) sell(ticker, side string, qty, price int) error {
	if s.cfg.KillSwitch {
		s.log.Warn().Str("ticker", ticker).Msg("kill switch on, order suppressed")
		return nil
	}
	req := &rest.CreateOrderRequest{
		Ticker: ticker,
		Action: rest.OrderActionSell,
		Side:   rest.Side(side),
		Type:   rest.OrderTypeLimit,
		Count:  qty,
	}
	if side == "yes" {
		req.YesPrice = price
	} else {
		req.NoPrice = price
	}
	_, err := s.exchange.CreateOrder(req)
	return err
}

func (s *Supervisor) countError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}
