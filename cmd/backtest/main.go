// Package main is the backtest CLI: collect settled markets, replay
// the strategy against them, sweep model accuracy, and calibrate σ
// from the live prediction log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/backtest"
	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/notify"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/ws"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "config file path (default: ./config.yaml)")
		collect    = flag.Bool("collect", false, "download settled markets into the cache")
		runSim     = flag.Bool("run", false, "run one simulation")
		sweep      = flag.Bool("sweep", false, "sweep model accuracy levels")
		calibrate  = flag.Bool("calibrate", false, "recommend σ from the live prediction log")
		std        = flag.Float64("std", 0, "override model accuracy std dev, °F")
		maxPrice   = flag.Int("max-price", 0, "override max entry price, cents")
		minEdge    = flag.Float64("min-edge", -1, "override minimum edge percent")
		bankroll   = flag.Int("bankroll", 0, "override starting bankroll, cents")
		showTrades = flag.Bool("trades", false, "print individual simulated trades")
		debug      = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	if !*collect && !*runSim && !*sweep && !*calibrate {
		flag.Usage()
		return errors.New("pick at least one of --collect, --run, --sweep, --calibrate")
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if *collect {
		if err := runCollect(cfg, st, logger); err != nil {
			return err
		}
	}

	params := backtest.DefaultParams()
	if *std > 0 {
		params.AccuracyStd = *std
	}
	if *maxPrice > 0 {
		params.MaxEntryPrice = *maxPrice
	}
	if *minEdge >= 0 {
		params.MinEdgePct = *minEdge
	}
	if *bankroll > 0 {
		params.BankrollCents = *bankroll
	}

	if *runSim {
		result, err := backtest.Run(st, params)
		if err != nil {
			return err
		}
		printReport(result, *showTrades)
	}
	if *sweep {
		rows, err := backtest.Sweep(st, params)
		if err != nil {
			return err
		}
		printSweep(rows)
	}
	if *calibrate {
		recs, err := backtest.CalibrateAll(st, cfg.ActiveCities())
		if err != nil {
			return err
		}
		printCalibration(recs)
	}
	return nil
}

// runCollect needs exchange credentials; everything else reads the
// local cache.
func runCollect(cfg *config.Config, st *store.Store, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	key, err := ws.LoadPrivateKey(cfg.Kalshi.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("load private key: %w", err)
	}
	exchange := rest.New(cfg.Kalshi.APIKeyID, key, rest.WithBaseURL(cfg.APIBaseURL()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	n, err := backtest.NewCollector(cfg, exchange, st, logger).Collect(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Cached %d settled markets.\n", n)
	return nil
}

func printReport(r *backtest.Result, showTrades bool) {
	fmt.Println("=== BACKTEST REPORT ===")
	fmt.Printf("Period:        %s to %s (%d trading days)\n", r.FirstDate, r.LastDate, r.TradingDays)
	fmt.Printf("Model σ:       %.1f°F   max entry %d¢   min edge %.0f%%\n",
		r.Params.AccuracyStd, r.Params.MaxEntryPrice, r.Params.MinEdgePct)
	fmt.Printf("Trades:        %d (%d wins / %d losses, %.1f%% win rate)\n",
		len(r.Trades), r.Wins, r.Losses, r.WinRatePct)
	fmt.Printf("Net P&L:       %s (fees %s)\n", notify.Cents(r.TotalPnL), notify.Cents(r.TotalFees))
	fmt.Printf("Bankroll:      %s -> %s (%+.1f%%)\n",
		notify.Cents(r.Params.BankrollCents), notify.Cents(r.FinalBankroll), r.ReturnPct)
	fmt.Printf("Sharpe:        %.2f   max drawdown %s\n", r.Sharpe, notify.Cents(r.MaxDrawdown))
	fmt.Printf("Avg |error|:   %.1f°F\n", r.AvgErrorF)

	if !showTrades {
		return
	}
	fmt.Printf("\n%-12s %-5s %-5s %6s %5s %7s %8s %5s\n",
		"DATE", "CITY", "TYPE", "ENTRY", "QTY", "EDGE%", "PNL", "WON")
	for _, t := range r.Trades {
		won := " "
		if t.Won {
			won = "W"
		}
		fmt.Printf("%-12s %-5s %-5s %5d¢ %5d %6.1f%% %8s %5s\n",
			t.Date, t.City, t.MarketType, t.EntryPrice, t.Contracts,
			t.EdgePct, notify.Cents(t.PnL), won)
	}
}

func printSweep(rows []backtest.SweepRow) {
	fmt.Println("=== ACCURACY SWEEP ===")
	fmt.Printf("%6s %7s %8s %10s %8s %7s %10s\n",
		"σ(°F)", "TRADES", "WIN%", "NET PNL", "RET%", "SHARPE", "MAX DD")
	for _, row := range rows {
		fmt.Printf("%6.1f %7d %7.1f%% %10s %7.1f%% %7.2f %10s\n",
			row.AccuracyStd, row.Trades, row.WinRatePct,
			notify.Cents(row.NetPnL), row.ReturnPct, row.Sharpe,
			notify.Cents(row.MaxDrawdown))
	}
}

func printCalibration(recs []backtest.Recommendation) {
	if len(recs) == 0 {
		fmt.Println("No scored predictions yet; nothing to calibrate.")
		return
	}
	fmt.Println("=== CALIBRATION ===")
	for _, rec := range recs {
		fmt.Printf("%s: %d samples, observed σ %.2f°F -> recommended σ %.1f°F\n",
			rec.City, rec.Samples, rec.ObservedStd, rec.RecommendedStd)
		if rec.High.Samples > 0 {
			fmt.Printf("  high: bias %+.1f°F (|err| %.1f°F, n=%d)\n",
				rec.High.MeanError, rec.High.MeanAbsErr, rec.High.Samples)
		}
		if rec.Low.Samples > 0 {
			fmt.Printf("  low:  bias %+.1f°F (|err| %.1f°F, n=%d)\n",
				rec.Low.MeanError, rec.Low.MeanAbsErr, rec.Low.Samples)
		}
	}
}
