// Package main is the weathertrader CLI: one-shot or continuous
// trading cycles, live or paper, plus portfolio status readouts.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/engine"
	"github.com/brendanplayford/weathertrader/internal/estimator"
	"github.com/brendanplayford/weathertrader/internal/ingest"
	"github.com/brendanplayford/weathertrader/internal/notify"
	"github.com/brendanplayford/weathertrader/internal/paper"
	"github.com/brendanplayford/weathertrader/internal/risk"
	tradesignal "github.com/brendanplayford/weathertrader/internal/signal"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/weather"
	"github.com/brendanplayford/weathertrader/pkg/ws"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func run() error {
	var (
		configPath     = flag.String("config", "", "config file path (default: ./config.yaml)")
		live           = flag.Bool("live", false, "trade with real money on the exchange")
		yes            = flag.Bool("yes", false, "skip the live-trading confirmation prompt")
		continuous     = flag.Bool("continuous", false, "run cycles until interrupted")
		interval       = flag.Int("interval", 30, "minutes between cycles in continuous mode")
		status         = flag.Bool("status", false, "print portfolio status and exit")
		paperPortfolio = flag.Bool("paper-portfolio", false, "print open paper positions and exit")
		noJitter       = flag.Bool("no-jitter", false, "disable cycle start jitter and size jitter")
		debug          = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	logger := newLogger(*debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ledger, err := paper.New(st, cfg.Risk.MaxPositionPct, logger)
	if err != nil {
		return err
	}

	// Read-only modes need no exchange credentials.
	if *status {
		return printStatus(st, ledger)
	}
	if *paperPortfolio {
		return printPaperPortfolio(ledger)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	key, err := ws.LoadPrivateKey(cfg.Kalshi.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("load private key: %w", err)
	}
	exchange := rest.New(cfg.Kalshi.APIKeyID, key, rest.WithBaseURL(cfg.APIBaseURL()))

	if *live && !*yes {
		if !confirmLive() {
			return errors.New("live trading not confirmed")
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	notifier := notify.New(cfg.Notify, logger)
	collector := ingest.New(cfg, st, logger)
	est := estimator.New(st, weather.NewValidator(logger), logger)
	gen := tradesignal.New(cfg.Risk.MinEntryPrice, logger)
	sizer := risk.NewSizer(cfg.Risk.MaxContractsPerTrade, cfg.Risk.MaxPositionPct, !*noJitter, rng)
	gate := risk.NewGate(cfg.Risk, cfg.KillSwitch, st, sizer, logger)

	eng := engine.New(cfg, exchange, st, ledger, est, gen, gate, engine.Options{
		Live:      *live,
		NoJitter:  *noJitter,
		Collector: collector,
		Notifier:  notifier,
		Rand:      rng,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()
	}()

	mode := "paper"
	if *live {
		mode = "live"
	}
	logger.Info().Str("mode", mode).Bool("continuous", *continuous).Msg("weatherbot starting")
	notifier.Startup(ctx, startingBalance(*live, exchange, ledger), mode)

	if *continuous {
		err = eng.Run(ctx, time.Duration(*interval)*time.Minute)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	} else {
		err = eng.Cycle(ctx)
	}

	notifier.Shutdown(context.Background(), "run complete", nil)
	return err
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// confirmLive requires the operator to type YES before real orders go
// out. Anything else aborts.
func confirmLive() bool {
	fmt.Print("Live trading uses real money. Type YES to continue: ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line) == "YES"
}

func startingBalance(live bool, exchange *rest.Client, ledger *paper.Ledger) int {
	if live {
		if bal, err := exchange.GetBalance(); err == nil {
			return bal.Balance
		}
		return 0
	}
	bal, err := ledger.Balance()
	if err != nil {
		return 0
	}
	return bal
}

func printStatus(st *store.Store, ledger *paper.Ledger) error {
	bal, err := ledger.Balance()
	if err != nil {
		return err
	}
	realized, err := ledger.RealizedPnL()
	if err != nil {
		return err
	}
	positions, err := ledger.Positions()
	if err != nil {
		return err
	}
	today := weather.DateET(time.Now())
	entries, err := st.CountEntriesOn(today)
	if err != nil {
		return err
	}
	wins, err := st.CountWinsOn(today)
	if err != nil {
		return err
	}

	exposure := 0
	for _, p := range positions {
		exposure += p.Cost
	}

	fmt.Printf("Paper balance:   %s\n", notify.Cents(bal))
	fmt.Printf("Open positions:  %d (%s at risk)\n", len(positions), notify.Cents(exposure))
	fmt.Printf("Realized P&L:    %s\n", notify.Cents(realized))
	fmt.Printf("Trades today:    %d (%d wins settled)\n", entries, wins)

	if last, err := st.GetState(engine.LastCycleStateKey); err == nil && last != "" {
		fmt.Printf("Last cycle:      %s\n", last)
	}
	return nil
}

func printPaperPortfolio(ledger *paper.Ledger) error {
	positions, err := ledger.Positions()
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Println("No open paper positions.")
		return nil
	}

	fmt.Printf("%-32s %-4s %9s %9s %10s\n", "TICKER", "SIDE", "CONTRACTS", "AVG", "COST")
	for _, p := range positions {
		fmt.Printf("%-32s %-4s %9d %8.1f¢ %10s\n",
			p.Ticker, p.Side, p.Contracts, p.AvgPrice(), notify.Cents(p.Cost))
	}
	return nil
}
