// Package backtest replays the strategy against settled markets: a
// cache of historical results, a gaussian-accuracy simulation, an
// accuracy sweep, and bias/σ calibration from the prediction log.
package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

// pagePause spaces settled-market pages; history is not urgent.
const pagePause = 200 * time.Millisecond

// pageLimit is the exchange maximum per markets page.
const pageLimit = 200

// pager is the one exchange call the collector needs.
type pager interface {
	GetMarketsPage(params rest.MarketsParams) (*rest.GetMarketsResponse, error)
}

// Collector downloads settled markets into the cache.
type Collector struct {
	cfg      *config.Config
	exchange pager
	store    *store.Store
	log      zerolog.Logger
	pause    time.Duration
}

// NewCollector builds a settled-market collector.
func NewCollector(cfg *config.Config, exchange pager, st *store.Store, log zerolog.Logger) *Collector {
	return &Collector{
		cfg:      cfg,
		exchange: exchange,
		store:    st,
		log:      log.With().Str("component", "backtest").Logger(),
		pause:    pagePause,
	}
}

// Collect pages through every active series and caches the settled
// markets. Returns how many rows were written.
func (c *Collector) Collect(ctx context.Context) (int, error) {
	total := 0
	for _, city := range c.cfg.ActiveCities() {
		for _, mt := range []weather.MarketType{weather.MarketHigh, weather.MarketLow} {
			series := city.Series(mt)
			if series == "" {
				continue
			}
			n, err := c.collectSeries(ctx, city.Code, mt, series)
			if err != nil {
				if ctx.Err() != nil {
					return total, err
				}
				c.log.Warn().Str("series", series).Err(err).Msg("series fetch failed")
				continue
			}
			total += n
		}
	}
	c.log.Info().Int("markets", total).Msg("settled markets collected")
	return total, nil
}

func (c *Collector) collectSeries(ctx context.Context, city string, mt weather.MarketType, series string) (int, error) {
	c.log.Info().Str("series", series).Str("city", city).Msg("fetching settled markets")
	n := 0
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-time.After(c.pause):
		}

		resp, err := c.exchange.GetMarketsPage(rest.MarketsParams{
			SeriesTicker: series,
			Status:       "settled",
			Limit:        pageLimit,
			Cursor:       cursor,
		})
		if err != nil {
			return n, fmt.Errorf("markets page: %w", err)
		}
		if len(resp.Markets) == 0 {
			return n, nil
		}

		for _, m := range resp.Markets {
			row := settledRow(m, city, mt, series)
			if err := c.store.UpsertSettledMarket(row); err != nil {
				return n, err
			}
			n++
		}

		cursor = resp.Cursor
		if cursor == "" {
			return n, nil
		}
	}
}

// settledRow maps an exchange market onto a cache row, deriving the
// event date from the ticker.
func settledRow(m rest.Market, city string, mt weather.MarketType, series string) *store.SettledMarket {
	eventTicker := m.EventTicker
	eventDate := ""
	parts := strings.Split(m.Ticker, "-")
	if len(parts) >= 2 {
		if eventTicker == "" {
			eventTicker = parts[0] + "-" + parts[1]
		}
		eventDate = parseEventDate(parts[1])
	}

	row := &store.SettledMarket{
		Ticker:          m.Ticker,
		EventTicker:     eventTicker,
		SeriesTicker:    series,
		City:            city,
		MarketType:      string(mt),
		EventDate:       eventDate,
		FloorStrike:     m.FloorStrike,
		CapStrike:       m.CapStrike,
		StrikeType:      m.StrikeType,
		Result:          m.Result,
		LastPrice:       m.LastPrice,
		YesBid:          m.YesBid,
		YesAsk:          m.YesAsk,
		Volume:          m.Volume,
		ExpirationValue: m.ExpirationValue,
		OpenTime:        m.OpenTime,
		CloseTime:       m.CloseTime,
	}
	return row
}

// parseEventDate converts the ticker date segment (26FEB15) to ISO.
// Unparsable segments pass through untouched.
func parseEventDate(s string) string {
	if len(s) != 7 {
		return s
	}
	normalized := s[:3] + strings.ToLower(s[3:5]) + s[5:]
	d, err := time.Parse("06Jan02", normalized)
	if err != nil {
		return s
	}
	return d.Format("2006-01-02")
}
