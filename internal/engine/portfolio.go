package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/brendanplayford/weathertrader/internal/risk"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// holding is one open position normalized across live and paper books.
// Cost is the cents at risk: entry cost in paper mode, market exposure
// in live mode.
type holding struct {
	ticker string
	side   string
	qty    int
	cost   int
}

func (h holding) perContract() int {
	if h.qty == 0 {
		return 0
	}
	return h.cost / h.qty
}

// holdings returns the open book from the exchange in live mode, from
// the paper ledger otherwise.
func (e *Engine) holdings() ([]holding, error) {
	if !e.live {
		positions, err := e.ledger.Positions()
		if err != nil {
			return nil, err
		}
		out := make([]holding, 0, len(positions))
		for _, p := range positions {
			out = append(out, holding{ticker: p.Ticker, side: p.Side, qty: p.Contracts, cost: p.Cost})
		}
		return out, nil
	}

	positions, err := e.exchange.GetPositions()
	if err != nil {
		return nil, err
	}
	var out []holding
	for _, p := range positions {
		switch {
		case p.Position > 0:
			out = append(out, holding{ticker: p.Ticker, side: "yes", qty: p.Position, cost: p.MarketExposure})
		case p.Position < 0:
			out = append(out, holding{ticker: p.Ticker, side: "no", qty: -p.Position, cost: p.MarketExposure})
		}
	}
	return out, nil
}

// account snapshots cash and marked positions for the risk gate.
func (e *Engine) account() (risk.Account, error) {
	var account risk.Account

	if e.live {
		balance, err := e.exchange.GetBalance()
		if err != nil {
			return account, err
		}
		account.Balance = balance.Balance
	} else {
		balance, err := e.ledger.Balance()
		if err != nil {
			return account, err
		}
		account.Balance = balance
	}

	open, err := e.holdings()
	if err != nil {
		return account, err
	}
	for _, h := range open {
		account.OpenExposure += h.cost

		m, err := e.exchange.GetMarket(h.ticker)
		if err != nil {
			// Unpriceable position: carry it at cost.
			account.MarkToMarket += h.cost
			continue
		}
		value := h.qty * m.YesBid
		if h.side == "no" {
			value = h.qty * (100 - m.YesBid)
		}
		account.MarkToMarket += value
		if value > h.cost {
			account.PositionsInProfit++
		}
	}
	return account, nil
}

func (e *Engine) logPortfolio(context.Context) error {
	account, err := e.account()
	if err != nil {
		return err
	}
	e.log.Info().
		Int("balance", account.Balance).
		Int("exposure", account.OpenExposure).
		Int("mark_to_market", account.MarkToMarket).
		Int("value", account.Value()).
		Bool("live", e.live).
		Msg("portfolio")
	return nil
}

// profitRule liquidates winners once unrealized P&L reaches 10% of the
// account value, and unlocks bonus trades for the rest of the day.
func (e *Engine) profitRule(ctx context.Context) error {
	if e.profitFired {
		return nil
	}

	account, err := e.account()
	if err != nil {
		return err
	}
	unrealized := account.MarkToMarket - account.OpenExposure
	if float64(unrealized) < profitRulePct*float64(account.Value()) || unrealized <= 0 {
		return nil
	}

	e.log.Info().Int("unrealized", unrealized).Int("value", account.Value()).
		Msg("profit rule triggered")
	e.notifier.Notify(ctx, "Profit rule",
		fmt.Sprintf("unrealized %d¢ >= 10%% of %d¢, liquidating winners", unrealized, account.Value()))

	if err := e.liquidateWinners(ctx); err != nil {
		return err
	}

	today := weather.DateET(e.now())
	e.profitFired = true
	return e.store.SetState(profitRuleStateKey, today)
}

// liquidateWinners closes every position currently priced above cost.
// Live positions carry exposure as proceeds received, so a NO wins when
// buying it back at no_ask costs less per contract; paper positions
// carry entry cost, so a NO wins when no_bid values it above cost.
func (e *Engine) liquidateWinners(ctx context.Context) error {
	open, err := e.holdings()
	if err != nil {
		return err
	}

	for _, h := range open {
		m, err := e.exchange.GetMarket(h.ticker)
		if err != nil {
			e.log.Warn().Str("ticker", h.ticker).Err(err).Msg("cannot price position")
			continue
		}

		var price int
		var profitable bool
		per := h.perContract()
		switch {
		case e.live && h.side == "no":
			price, profitable = m.NoAsk, m.NoAsk > 0 && m.NoAsk < per
		case h.side == "no":
			price, profitable = m.NoBid, h.qty*m.NoBid > h.cost
		default:
			price, profitable = m.YesBid, m.YesBid > per
		}
		if !profitable {
			continue
		}
		if err := e.closePosition(h, price, "profit_rule"); err != nil {
			e.log.Error().Str("ticker", h.ticker).Err(err).Msg("close failed")
		}
	}
	return nil
}

// takeProfits closes positions whose gain from cost reached the target.
func (e *Engine) takeProfits(ctx context.Context) error {
	open, err := e.holdings()
	if err != nil {
		return err
	}

	for _, h := range open {
		m, err := e.exchange.GetMarket(h.ticker)
		if err != nil || h.cost == 0 {
			continue
		}

		bid := m.YesBid
		if h.side == "no" {
			bid = m.NoBid
		}
		if bid <= 0 {
			continue
		}

		value := h.qty * bid
		gainPct := float64(value-h.cost) / float64(h.cost) * 100
		if gainPct < e.cfg.Risk.TakeProfitPct {
			continue
		}

		e.log.Info().Str("ticker", h.ticker).Str("side", h.side).
			Float64("gain_pct", gainPct).Int("bid", bid).Msg("take profit")
		if err := e.closePosition(h, bid, "take_profit"); err != nil {
			e.log.Error().Str("ticker", h.ticker).Err(err).Msg("close failed")
		}
	}
	return nil
}

// cutLosers closes positions that lost enough of their cost basis, as
// long as a real bid exists to close into.
func (e *Engine) cutLosers(ctx context.Context) error {
	open, err := e.holdings()
	if err != nil {
		return err
	}

	for _, h := range open {
		m, err := e.exchange.GetMarket(h.ticker)
		if err != nil || h.cost == 0 {
			continue
		}

		bid := m.YesBid
		if h.side == "no" {
			bid = m.NoBid
		}
		if bid < 2 {
			continue
		}

		value := h.qty * bid
		lossPct := float64(h.cost-value) / float64(h.cost) * 100
		if lossPct < cutLossPct {
			continue
		}

		e.log.Info().Str("ticker", h.ticker).Str("side", h.side).
			Float64("loss_pct", lossPct).Int("bid", bid).Msg("cutting loser")
		e.notifier.Notify(ctx, "Cutting loser",
			fmt.Sprintf("%s %s x%d at %d¢ (%.1f%% down)", h.ticker, h.side, h.qty, bid, lossPct))
		if err := e.closePosition(h, bid, "cut_loser"); err != nil {
			e.log.Error().Str("ticker", h.ticker).Err(err).Msg("close failed")
		}
	}
	return nil
}

// syncSettlements finalizes journal rows whose markets have settled and
// backfills actual temperatures.
func (e *Engine) syncSettlements(_ context.Context) error {
	open, err := e.store.UnsettledTrades()
	if err != nil {
		return err
	}

	for _, t := range open {
		m, err := e.exchange.GetMarket(t.Ticker)
		if err != nil {
			e.log.Warn().Str("ticker", t.Ticker).Err(err).Msg("settlement lookup failed")
			continue
		}
		if (m.Status != "settled" && m.Status != "finalized") || m.Result == "" {
			continue
		}

		fees := t.Contracts * takerFeeCents
		pnl := -t.Cost - fees
		if t.Side == m.Result {
			pnl = (100-t.Price)*t.Contracts - fees
		}

		var actual *float64
		if v, err := strconv.ParseFloat(m.ExpirationValue, 64); err == nil {
			actual = &v
		}

		if err := e.store.SettleTrade(t.ID, pnl, fees, actual); err != nil {
			return err
		}
		if err := e.ledger.Settle(t.Ticker, m.Result); err != nil {
			e.log.Warn().Str("ticker", t.Ticker).Err(err).Msg("paper settle failed")
		}
		if actual != nil {
			dateET := weather.DateET(t.CreatedAt)
			if err := e.store.BackfillActual(t.City, t.MarketType, dateET, *actual); err != nil {
				e.log.Warn().Str("city", t.City).Err(err).Msg("actuals backfill failed")
			}
		}

		e.log.Info().Str("ticker", t.Ticker).Str("result", m.Result).
			Int("pnl", pnl).Msg("trade settled")
	}
	return nil
}
