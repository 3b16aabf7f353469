package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lendwatch/config"
	"lendwatch/internal/channel/price"
	"lendwatch/internal/dashboard"
	"lendwatch/internal/discovery"
	"lendwatch/internal/pricefeed"
	"lendwatch/internal/resolver"
	"lendwatch/internal/snapshot"
	"lendwatch/internal/solana"
	"lendwatch/internal/symbols"
	"lendwatch/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":        cfg.Lendwatch.Name,
		"version":        cfg.Lendwatch.Version,
		"environment":    config.AppEnvironment(),
		"program_id":     cfg.Market.ProgramID,
		"lending_market": cfg.Market.LendingMarket,
	}).Info("starting lendwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	rpc := solana.NewClient(solana.Config{
		RPCURL:            cfg.RPC.Endpoint,
		Commitment:        cfg.RPC.Commitment,
		Timeout:           cfg.RPC.Timeout,
		RequestsPerSecond: float64(cfg.RPC.RequestsPerSecond),
		BurstSize:         cfg.RPC.BurstSize,
	})

	reserves := resolver.New(rpc, resolver.Config{
		ProgramID:   cfg.Market.ProgramID,
		BatchSize:   cfg.RPC.BatchSize,
		Concurrency: cfg.RPC.BatchConcurrency,
	})

	discoverer := discovery.New(rpc, discovery.Config{
		ProgramID:         cfg.Market.ProgramID,
		LendingMarket:     cfg.Market.LendingMarket,
		MinPrimaryResults: cfg.Market.MinPrimaryResults,
	})

	feeds := symbols.NewRegistry(cfg.PriceFeed.Feeds)
	ticks := price.NewChannels(cfg.PriceFeed.TickBuffer)

	hermes := pricefeed.NewHermes(pricefeed.HermesConfig{
		URL:               cfg.PriceFeed.URL,
		ReconnectDelay:    cfg.PriceFeed.ReconnectDelay,
		MaxReconnectDelay: cfg.PriceFeed.MaxReconnectDelay,
		KeepAlive:         cfg.PriceFeed.KeepAlive,
	}, feeds, ticks)

	aggregator := pricefeed.NewAggregator(pricefeed.Config{
		StalenessWindow:   cfg.PriceFeed.StalenessWindow,
		HeartbeatInterval: cfg.PriceFeed.HeartbeatInterval,
	}, feeds, ticks, hermes)

	if err := aggregator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start price aggregator")
		os.Exit(1)
	}

	builder := snapshot.NewBuilder(snapshot.Config{
		ProgramID:       cfg.Market.ProgramID,
		LendingMarket:   cfg.Market.LendingMarket,
		Refresh:         cfg.Snapshot.Refresh,
		RediscoverEvery: cfg.Snapshot.RediscoverEvery,
	}, discoverer, reserves, aggregator, aggregator.Subscribe, snapshot.NewFileWriter(cfg.Snapshot.OutputPath))

	scheduler := snapshot.NewScheduler(builder, cfg.Snapshot.Interval, cfg.Snapshot.Warmup)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	dash, err := dashboard.NewServer(cfg.Dashboard, log, dashboard.Sources{
		Prices:       aggregator,
		Snapshots:    builder,
		SnapshotPath: cfg.Snapshot.OutputPath,
	})
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx, cfg.Lendwatch.Name); err != nil {
				log.WithError(err).Warn("dashboard stopped with error")
			}
		}()
	}

	log.WithFields(logger.Fields{
		"snapshot_path":     cfg.Snapshot.OutputPath,
		"snapshot_interval": cfg.Snapshot.Interval.String(),
		"warmup":            cfg.Snapshot.Warmup.String(),
		"configured_feeds":  feeds.Len(),
		"dashboard":         dash.Address(),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping price aggregator")
	aggregator.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	stats := ticks.GetStats()
	log.WithFields(logger.Fields{
		"ticks_sent":    stats.Sent,
		"ticks_dropped": stats.Dropped,
	}).Info("lendwatch stopped")
}
