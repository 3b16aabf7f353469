package pricefeed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lendwatch/internal/channel/price"
	"lendwatch/internal/metrics"
	"lendwatch/internal/models"
	"lendwatch/internal/symbols"
	"lendwatch/logger"
)

const defaultHeartbeatInterval = 30 * time.Second

// maxPrice bounds plausible USD prices; anything at or above it is rejected.
var maxPrice = decimal.NewFromInt(10_000_000)

// Stream is a consolidated price subscription.
type Stream interface {
	Subscribe(ids ...string) error
	Run(ctx context.Context)
}

// FeedRegistry maps mints to feed ids.
type FeedRegistry interface {
	FeedID(mint string) (string, bool)
}

// Config controls the aggregator.
type Config struct {
	StalenessWindow   time.Duration
	HeartbeatInterval time.Duration
}

// Aggregator owns the price cache. Its ingestion loop is the only writer;
// Get and Prices may be called from any goroutine.
type Aggregator struct {
	cfg      Config
	cache    *Cache
	feeds    FeedRegistry
	channels *price.Channels
	stream   Stream
	log      *logger.Log

	mu       sync.Mutex
	tracked  map[string]string // mint -> feed id, "" when no feed exists
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	applied  int64
	rejected int64
}

// NewAggregator wires an aggregator to its tick channel and stream.
func NewAggregator(cfg Config, feeds FeedRegistry, channels *price.Channels, stream Stream) *Aggregator {
	return newAggregator(cfg, feeds, channels, stream, time.Now)
}

func newAggregator(cfg Config, feeds FeedRegistry, channels *price.Channels, stream Stream, now func() time.Time) *Aggregator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Aggregator{
		cfg:      cfg,
		cache:    NewCache(cfg.StalenessWindow, now),
		feeds:    feeds,
		channels: channels,
		stream:   stream,
		log:      logger.GetLogger(),
		tracked:  make(map[string]string),
	}
}

// Start launches the stream reader, the ingestion loop and the heartbeat.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("price aggregator already running")
	}
	a.running = true

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.stream.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.ingest(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.heartbeat(runCtx)
	}()

	a.log.WithComponent("price_aggregator").WithFields(logger.Fields{
		"staleness_window":   a.cache.window.String(),
		"heartbeat_interval": a.cfg.HeartbeatInterval.String(),
	}).Info("price aggregator started")
	return nil
}

// Stop cancels the background tasks and waits for them to exit.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()
	a.log.WithComponent("price_aggregator").Info("price aggregator stopped")
}

// Subscribe adds mints to the price subscription. Mints without a known feed
// are remembered and reported once; they read as unavailable.
func (a *Aggregator) Subscribe(mints ...string) error {
	log := a.log.WithComponent("price_aggregator")

	a.mu.Lock()
	ids := make([]string, 0, len(mints))
	var unpriced []string
	for _, mint := range mints {
		if _, ok := a.tracked[mint]; ok {
			continue
		}
		id, ok := a.feeds.FeedID(mint)
		if !ok {
			a.tracked[mint] = ""
			unpriced = append(unpriced, mint)
			continue
		}
		a.tracked[mint] = id
		ids = append(ids, id)
	}
	a.mu.Unlock()

	if len(unpriced) > 0 {
		symbolsOf := make([]string, 0, len(unpriced))
		for _, m := range unpriced {
			symbolsOf = append(symbolsOf, symbols.Symbol(m))
		}
		log.WithFields(logger.Fields{
			"count":   len(unpriced),
			"symbols": symbolsOf,
		}).Warn("no price feed for mints")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := a.stream.Subscribe(ids...); err != nil {
		return fmt.Errorf("extend price subscription: %w", err)
	}
	return nil
}

// Get returns the current entry for mint, unavailable if it never ticked.
func (a *Aggregator) Get(mint string) models.PriceEntry {
	e := a.cache.Get(mint)
	if e.Symbol == "" {
		e.Symbol = symbols.Symbol(mint)
	}
	return e
}

// Prices returns a point-in-time copy of the cache.
func (a *Aggregator) Prices() map[string]models.PriceEntry {
	return a.cache.Snapshot()
}

// Tracked reports how many mints were requested and how many have a feed.
func (a *Aggregator) Tracked() (requested, withFeed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range a.tracked {
		if id != "" {
			withFeed++
		}
	}
	return len(a.tracked), withFeed
}

func (a *Aggregator) ingest(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-a.channels.Ticks:
			a.apply(tick)
		}
	}
}

// apply validates a tick and replaces the cache entry for its mint.
func (a *Aggregator) apply(tick models.PriceTick) bool {
	if !tick.Price.IsPositive() || tick.Price.GreaterThanOrEqual(maxPrice) {
		a.mu.Lock()
		a.rejected++
		a.mu.Unlock()
		metrics.RecordTick(metrics.TickRejected)
		a.log.WithComponent("price_aggregator").WithFields(logger.Fields{
			"mint":  tick.Mint,
			"price": tick.Price.String(),
		}).Warn("rejecting implausible price")
		return false
	}

	a.cache.Put(models.PriceEntry{
		Mint:        tick.Mint,
		Symbol:      symbols.Symbol(tick.Mint),
		FeedID:      tick.FeedID,
		Price:       tick.Price,
		Confidence:  tick.Confidence,
		LastUpdated: tick.ReceivedAt,
		PublishTime: tick.PublishTime,
	})

	a.mu.Lock()
	a.applied++
	a.mu.Unlock()
	metrics.RecordTick(metrics.TickApplied)
	logger.IncrementCounter("price_ticks_applied", 1)
	return true
}

func (a *Aggregator) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.logHeartbeat()
		}
	}
}

func (a *Aggregator) logHeartbeat() {
	prices := a.cache.Snapshot()
	live := make([]string, 0, len(prices))
	quotes := make(map[string]string, len(prices))
	for _, e := range prices {
		if e.IsLive() {
			live = append(live, e.Symbol)
			quotes[e.Symbol] = e.Price.StringFixed(4)
		}
	}
	sort.Strings(live)

	requested, withFeed := a.Tracked()
	a.mu.Lock()
	applied, rejected := a.applied, a.rejected
	a.mu.Unlock()
	stats := a.channels.GetStats()
	metrics.RecordPriceHeartbeat(requested, len(live), applied, rejected, stats.Dropped)

	a.log.WithComponent("price_aggregator").WithFields(logger.Fields{
		"tracked_mints": requested,
		"with_feed":     withFeed,
		"live":          len(live),
		"live_symbols":  live,
		"prices":        quotes,
		"applied":       applied,
		"rejected":      rejected,
		"dropped":       stats.Dropped,
		"buffered":      a.channels.Len(),
	}).Info("price heartbeat")
}
