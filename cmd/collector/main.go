// Package main is the weather collector daemon: observations,
// forecasts and outlooks on a cron schedule, plus ASOS extreme
// backfill for settled days.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
	"github.com/brendanplayford/weathertrader/internal/ingest"
	"github.com/brendanplayford/weathertrader/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "config file path (default: ./config.yaml)")
		once       = flag.Bool("once", false, "run a single collection pass and exit")
		backfill   = flag.String("backfill", "", "backfill ASOS extremes for a date (YYYY-MM-DD) and exit")
		debug      = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

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

	collector := ingest.New(cfg, st, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *backfill != "" {
		date, err := time.Parse("2006-01-02", *backfill)
		if err != nil {
			return fmt.Errorf("parse backfill date: %w", err)
		}
		return collector.Backfill(ctx, date)
	}
	if *once {
		return collector.Collect(ctx)
	}

	interval := cfg.CollectorIntervalMin
	if interval <= 0 {
		interval = 10
	}

	c := cron.New()
	_, err = c.AddFunc(fmt.Sprintf("@every %dm", interval), func() {
		if err := collector.Collect(ctx); err != nil {
			logger.Error().Err(err).Msg("collection pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule collector: %w", err)
	}

	// First pass immediately; cron covers the rest.
	if err := collector.Collect(ctx); err != nil {
		logger.Error().Err(err).Msg("collection pass failed")
	}

	c.Start()
	logger.Info().Int("interval_min", interval).Msg("collector started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("collector stopping")
	cancel()
	<-c.Stop().Done()
	return nil
}
