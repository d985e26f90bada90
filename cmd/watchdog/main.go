// Package main is the dead-man's switch: if the bot has not finished a
// cycle recently during trading hours, it launches one itself.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/engine"
	"github.com/brendanplayford/weathertrader/internal/store"
	"github.com/brendanplayford/weathertrader/pkg/weather"
)

const (
	checkInterval = 5 * time.Minute
	staleAfter    = 45 * time.Minute
	cycleTimeout  = 2 * time.Minute

	// Markets are quiet overnight; a stale heartbeat outside these ET
	// hours is expected.
	activeStartET = 6
	activeEndET   = 23
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "config file path (default: ./config.yaml)")
		botPath    = flag.String("bot", "weatherbot", "path to the weatherbot binary")
		live       = flag.Bool("live", false, "launch recovery cycles in live mode")
		once       = flag.Bool("once", false, "run a single staleness check and exit")
		debug      = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Str("component", "watchdog").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	w := &watchdog{cfg: cfg, configPath: *configPath, botPath: *botPath, live: *live, log: logger}
	if *once {
		return w.check(ctx)
	}

	logger.Info().Dur("interval", checkInterval).Dur("stale_after", staleAfter).Msg("watchdog started")
	for {
		if err := w.check(ctx); err != nil {
			logger.Error().Err(err).Msg("check failed")
		}
		select {
		case <-ctx.Done():
			logger.Info().Msg("watchdog stopped")
			return nil
		case <-time.After(checkInterval):
		}
	}
}

type watchdog struct {
	cfg        *config.Config
	configPath string
	botPath    string
	live       bool
	log        zerolog.Logger
}

// check reads the heartbeat and launches a recovery cycle when it has
// gone stale inside trading hours.
func (w *watchdog) check(ctx context.Context) error {
	hour := weather.HourET(time.Now())
	if hour < activeStartET || hour > activeEndET {
		w.log.Debug().Int("hour_et", hour).Msg("outside trading hours")
		return nil
	}

	age, known, err := w.heartbeatAge()
	if err != nil {
		return err
	}
	if known && age < staleAfter {
		w.log.Debug().Dur("age", age).Msg("heartbeat fresh")
		return nil
	}

	if known {
		w.log.Warn().Dur("age", age).Msg("heartbeat stale, launching recovery cycle")
	} else {
		w.log.Warn().Msg("no heartbeat recorded, launching recovery cycle")
	}
	return w.runCycle(ctx)
}

// heartbeatAge opens the store per check so a crashed bot's lock is
// never held across the wait.
func (w *watchdog) heartbeatAge() (time.Duration, bool, error) {
	st, err := store.Open(w.cfg.DBPath, zerolog.Nop())
	if err != nil {
		return 0, false, err
	}
	defer st.Close()

	v, err := st.GetState(engine.LastCycleStateKey)
	if err != nil || v == "" {
		return 0, false, err
	}
	at, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false, nil
	}
	return time.Since(at), true, nil
}

func (w *watchdog) runCycle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	args := []string{"--no-jitter"}
	if w.configPath != "" {
		args = append(args, "--config", w.configPath)
	}
	if w.live {
		args = append(args, "--live", "--yes")
	}
	cmd := exec.CommandContext(ctx, w.botPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		w.log.Error().Err(err).Dur("took", time.Since(start)).Msg("recovery cycle failed")
		return err
	}
	w.log.Info().Dur("took", time.Since(start)).Msg("recovery cycle complete")
	return nil
}
