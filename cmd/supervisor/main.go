// Package main runs the position supervisor: a daemon that watches
// open exchange positions for take-profit and dead-position exits.
//
// Usage: supervisor [flags] start|stop|status|once
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/internal/supervisor"
	"github.com/brendanplayford/weathertrader/pkg/rest"
	"github.com/brendanplayford/weathertrader/pkg/ws"
)

// stopWait is how long stop gives the daemon to exit on SIGTERM
// before escalating to SIGKILL.
const stopWait = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "config file path (default: ./config.yaml)")
		noFeed     = flag.Bool("no-feed", false, "skip the websocket quote feed, REST only")
		debug      = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	action := flag.Arg(0)
	if action == "" {
		action = "start"
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
	pidPath := filepath.Join(cfg.LogDir, "supervisor.pid")

	switch action {
	case "start":
		return start(cfg, pidPath, *noFeed, logger)
	case "once":
		return once(cfg, logger)
	case "stop":
		return stop(pidPath)
	case "status":
		return status(pidPath)
	default:
		return fmt.Errorf("unknown action %q (want start, stop, status or once)", action)
	}
}

func start(cfg *config.Config, pidPath string, noFeed bool, logger zerolog.Logger) error {
	if pid, err := supervisor.ReadPID(pidPath); err == nil && pid != 0 && supervisor.Alive(pid) {
		return fmt.Errorf("supervisor already running (pid %d)", pid)
	}

	sup, st, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := supervisor.WritePID(pidPath); err != nil {
		return err
	}
	defer supervisor.RemovePID(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("supervisor stopping")
		cancel()
	}()

	// The ws feed is an optimization; the supervisor falls back to
	// REST quotes when it is unavailable.
	if !noFeed {
		if feed, err := connectFeed(ctx, cfg, sup); err != nil {
			logger.Warn().Err(err).Msg("quote feed unavailable, using REST")
		} else {
			defer feed.Close()
			sup.UseFeed(feed)
		}
	}

	logger.Info().Int("pid", os.Getpid()).Msg("supervisor started")
	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := sup.Stats()
	logger.Info().
		Int("checks", stats.Checks).
		Int("take_profits", stats.TakeProfits).
		Int("dead_exits", stats.DeadExits).
		Msg("supervisor stopped")
	return nil
}

func once(cfg *config.Config, logger zerolog.Logger) error {
	sup, st, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := sup.Check(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Checked %d open positions.\n", n)
	return nil
}

func stop(pidPath string) error {
	pid, err := supervisor.ReadPID(pidPath)
	if err != nil {
		return err
	}
	if pid == 0 || !supervisor.Alive(pid) {
		fmt.Println("Supervisor is not running.")
		supervisor.RemovePID(pidPath)
		return nil
	}

	if err := supervisor.Stop(pid); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if !supervisor.Alive(pid) {
			fmt.Printf("Supervisor (pid %d) stopped.\n", pid)
			supervisor.RemovePID(pidPath)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := supervisor.Kill(pid); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	fmt.Printf("Supervisor (pid %d) killed after %s timeout.\n", pid, stopWait)
	supervisor.RemovePID(pidPath)
	return nil
}

func status(pidPath string) error {
	pid, err := supervisor.ReadPID(pidPath)
	if err != nil {
		return err
	}
	if pid != 0 && supervisor.Alive(pid) {
		fmt.Printf("Supervisor is running (pid %d).\n", pid)
	} else {
		fmt.Println("Supervisor is not running.")
	}
	return nil
}

func build(cfg *config.Config, logger zerolog.Logger) (*supervisor.Supervisor, *store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	key, err := ws.LoadPrivateKey(cfg.Kalshi.PrivateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load private key: %w", err)
	}
	exchange := rest.New(cfg.Kalshi.APIKeyID, key, rest.WithBaseURL(cfg.APIBaseURL()))

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	return supervisor.New(cfg, exchange, st, logger), st, nil
}

func connectFeed(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor) (*ws.Feed, error) {
	key, err := ws.LoadPrivateKey(cfg.Kalshi.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	feed := ws.NewFeed(sup.HandleUpdate, ws.WithCredentials(cfg.Kalshi.APIKeyID, key))
	if err := feed.Connect(ctx, nil); err != nil {
		return nil, err
	}
	return feed, nil
}
