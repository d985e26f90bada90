package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brendanplayford/weathertrader/internal/paper"
	"github.com/brendanplayford/weathertrader/internal/risk"
	"github.com/brendanplayford/weathertrader/internal/signal"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// tradeSignals generates both signal paths for every active city and
// executes the best survivors.
func (e *Engine) tradeSignals(ctx context.Context) error {
	signals := e.generateSignals(ctx)
	if len(signals) == 0 {
		return nil
	}

	account, err := e.account()
	if err != nil {
		return err
	}

	today := weather.DateET(e.now())
	executed := 0
	for i := range signals {
		if executed >= maxOrdersPerCycle {
			break
		}
		s := &signals[i]

		brackets, err := e.store.CountBracketsForEvent(s.EventTicker, today)
		if err != nil {
			return err
		}
		if brackets >= e.cfg.Risk.MaxBracketsPerEvent {
			e.log.Debug().Str("event", s.EventTicker).Msg("event bracket cap reached")
			continue
		}

		decision, err := e.gate.Check(s, account, e.profitFired)
		if err != nil {
			return err
		}
		if !decision.Accepted {
			e.log.Debug().Str("ticker", s.Ticker).Str("reason", decision.Reason).
				Msg("signal rejected")
			continue
		}

		if err := e.execute(ctx, s, decision); err != nil {
			e.log.Error().Str("ticker", s.Ticker).Err(err).Msg("execution failed")
			continue
		}
		executed++
	}

	e.log.Info().Int("signals", len(signals)).Int("executed", executed).Msg("cycle trades")
	return nil
}

// generateSignals runs the lock-in path first, then the model path, for
// today and tomorrow, honoring trading windows.
func (e *Engine) generateSignals(ctx context.Context) []signal.Signal {
	now := e.now()
	hour := weather.HourET(now)
	today := now
	tomorrow := now.Add(24 * time.Hour)

	var lockins, models []signal.Signal
	for _, city := range e.cfg.ActiveCities() {
		for _, mt := range []weather.MarketType{weather.MarketHigh, weather.MarketLow} {
			if mt == weather.MarketLow && !city.HasLowMarket() {
				continue
			}

			markets, err := e.exchange.GetMarkets(city.EventTicker(mt, today))
			if err != nil {
				e.log.Warn().Str("city", city.Code).Str("type", string(mt)).
					Err(err).Msg("market fetch failed")
				continue
			}

			// Lock-in runs regardless of window: certainty does not wait.
			if ext, err := e.store.GetExtreme(city.Primary, weather.DateET(today)); err == nil && ext != nil {
				running := ext.High
				if mt == weather.MarketLow {
					running = ext.Low
				}
				lockins = append(lockins,
					e.signals.Lockin(city, mt, weather.DateET(today), running, markets, hour)...)
			}

			if e.cfg.Window(mt).Contains(hour) {
				if est, err := e.estimator.Estimate(ctx, city, mt, today); err == nil {
					models = append(models, e.signals.FromEstimate(est, city, markets, false)...)
				}
			}

			// Tomorrow-dated signals trade in any window.
			tomorrowEvent := city.EventTicker(mt, tomorrow)
			if tMarkets, err := e.exchange.GetMarkets(tomorrowEvent); err == nil && len(tMarkets) > 0 {
				if est, err := e.estimator.Estimate(ctx, city, mt, tomorrow); err == nil {
					models = append(models, e.signals.FromEstimate(est, city, tMarkets, true)...)
				}
			}
		}
	}

	for i := range lockins {
		e.logSignal(&lockins[i])
	}
	for i := range models {
		e.logSignal(&models[i])
	}
	return append(lockins, models...)
}

func (e *Engine) logSignal(s *signal.Signal) {
	p := &store.PredictionRecord{
		City: s.City, MarketType: string(s.MarketType),
		EventTicker: s.EventTicker, Ticker: s.Ticker,
		Confidence: s.Confidence, Probability: s.Probability,
		OurPrice: s.OurPrice, Side: s.Side, EdgePct: s.EdgePct,
		SignalSource: s.Source,
	}
	if s.Estimate != nil {
		p.Estimate = s.Estimate.Value
		p.ForecastTempF = s.Estimate.ForecastTemp
		p.PrimaryTempF = s.Estimate.PrimaryTemp
		p.SurroundingAvgF = s.Estimate.SurroundingAvg
	}
	if s.Side == "yes" {
		p.YesAsk = s.YesPrice
	} else {
		p.YesBid = s.YesPrice
	}
	if err := e.store.LogPrediction(p); err != nil {
		e.log.Warn().Str("ticker", s.Ticker).Err(err).Msg("prediction log failed")
	} else {
		s.PredictionID = p.ID
	}
}

// execute places the order (live), mirrors it in the paper ledger, and
// journals it.
func (e *Engine) execute(ctx context.Context, s *signal.Signal, d risk.Decision) error {
	e.snapshotOrderbook(s.Ticker)

	req := &rest.CreateOrderRequest{
		Ticker: s.Ticker,
		Action: rest.OrderActionBuy,
		Side:   rest.Side(s.Side),
		Type:   rest.OrderTypeLimit,
		Count:  d.Contracts,
	}
	if s.Side == "yes" {
		req.YesPrice = s.Price
	} else {
		req.NoPrice = s.Price
	}

	record := &store.TradeRecord{
		City:         s.City,
		EventTicker:  s.EventTicker,
		Ticker:       s.Ticker,
		MarketType:   string(s.MarketType),
		Side:         s.Side,
		Action:       "buy",
		Price:        s.Price,
		Contracts:    d.Contracts,
		Cost:         s.Price * d.Contracts,
		Status:       "executed",
		Live:         e.live,
		SignalSource: s.Source,
		Confidence:   s.Confidence,
		EdgePct:      s.EdgePct,
		FloorStrike:  s.Strike.Floor,
		CapStrike:    s.Strike.Cap,
		OurProb:      s.Probability,
		MarketProb:   float64(s.YesPrice) / 100,
	}
	if s.Estimate != nil {
		record.EstimateF = s.Estimate.Value
		record.ForecastTempF = s.Estimate.ForecastTemp
		record.PrimaryTempF = s.Estimate.PrimaryTemp
		record.SurroundingAvgF = s.Estimate.SurroundingAvg
	}

	if e.live {
		order, err := e.exchange.CreateOrder(req)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		record.OrderID = order.OrderID
		record.ClientOrderID = order.ClientOrderID
		record.Status = string(order.Status)
	}

	// The paper book mirrors every action, live included.
	if err := e.ledger.Buy(&paper.Trade{
		City: s.City, EventTicker: s.EventTicker, Ticker: s.Ticker,
		MarketType: string(s.MarketType), Side: s.Side,
		Price: s.Price, Contracts: d.Contracts, SignalSource: s.Source,
	}); err != nil {
		e.log.Warn().Str("ticker", s.Ticker).Err(err).Msg("paper mirror rejected")
	}

	if err := e.store.SaveTrade(record); err != nil {
		return err
	}
	if s.PredictionID != 0 {
		if err := e.store.MarkPredictionTraded(s.PredictionID); err != nil {
			e.log.Warn().Int64("prediction", s.PredictionID).Err(err).Msg("mark traded failed")
		}
	}

	e.log.Info().Str("ticker", s.Ticker).Str("side", s.Side).
		Int("contracts", d.Contracts).Int("price", s.Price).
		Str("source", s.Source).Float64("edge", s.EdgePct).
		Bool("live", e.live).Msg("order placed")
	e.notifier.Notify(ctx, "Trade",
		fmt.Sprintf("BUY %s %s x%d @%d¢ (%s, edge %.1f%%)",
			s.Side, s.Ticker, d.Contracts, s.Price, s.Source, s.EdgePct))
	return nil
}

// closePosition unwinds a holding. Close orders are always sell on the
// held side; deriving the contra side here has cost real money before.
func (e *Engine) closePosition(h holding, price int, reason string) error {
	req := &rest.CreateOrderRequest{
		Ticker: h.ticker,
		Action: rest.OrderActionSell,
		Side:   rest.Side(h.side),
		Type:   rest.OrderTypeLimit,
		Count:  h.qty,
	}
	if h.side == "yes" {
		req.YesPrice = price
	} else {
		req.NoPrice = price
	}

	eventTicker := eventTickerOf(h.ticker)
	record := &store.TradeRecord{
		Ticker: h.ticker, EventTicker: eventTicker,
		Side: h.side, Action: "sell",
		Price: price, Contracts: h.qty,
		Status: "executed", Live: e.live, SignalSource: reason,
	}
	if city, mt := weather.CityByEventTicker(eventTicker); city != nil {
		record.City = city.Code
		record.MarketType = string(mt)
	}

	if e.live {
		order, err := e.exchange.CreateOrder(req)
		if err != nil {
			return fmt.Errorf("close order: %w", err)
		}
		record.OrderID = order.OrderID
		record.ClientOrderID = order.ClientOrderID
		record.Status = string(order.Status)
	}

	credit := price
	if _, err := e.ledger.Close(h.ticker, h.side, h.qty, credit, reason); err != nil && err != paper.ErrNoPosition {
		e.log.Warn().Str("ticker", h.ticker).Err(err).Msg("paper close failed")
	}

	if err := e.store.SaveTrade(record); err != nil {
		return err
	}

	e.log.Info().Str("ticker", h.ticker).Str("side", h.side).
		Int("contracts", h.qty).Int("price", price).Str("reason", reason).
		Msg("position closed")
	return nil
}

// snapshotOrderbook records resting liquidity ahead of an order, best
// effort.
func (e *Engine) snapshotOrderbook(ticker string) {
	ob, err := e.exchange.GetOrderbook(ticker, 5)
	if err != nil {
		return
	}

	var yesBid, yesAsk, noBid, noAsk int
	if n := len(ob.Yes); n > 0 {
		yesBid = ob.Yes[n-1][0]
	}
	if n := len(ob.No); n > 0 {
		noBid = ob.No[n-1][0]
		yesAsk = 100 - noBid
	}
	if yesBid > 0 {
		noAsk = 100 - yesBid
	}

	depth, _ := json.Marshal(ob)
	if err := e.store.SaveOrderbookSnapshot(ticker, yesBid, yesAsk, noBid, noAsk, string(depth)); err != nil {
		e.log.Warn().Str("ticker", ticker).Err(err).Msg("orderbook snapshot failed")
	}
}

// eventTickerOf strips the strike suffix from a market ticker.
func eventTickerOf(ticker string) string {
	for i := len(ticker) - 1; i >= 0; i-- {
		if ticker[i] == '-' {
			return ticker[:i]
		}
	}
	return ticker
}
