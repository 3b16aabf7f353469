package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lendwatch/internal/discovery"
	"lendwatch/internal/metrics"
	"lendwatch/internal/models"
	"lendwatch/internal/symbols"
	"lendwatch/logger"
)

// Refresh policies for the obligation list.
const (
	RefreshAlways = "always"
	RefreshCached = "cached"
)

// ErrNoObligations is returned when discovery fails and nothing is cached.
var ErrNoObligations = errors.New("no obligation list available")

// ObligationSource discovers the current obligations.
type ObligationSource interface {
	Discover(ctx context.Context) (discovery.Result, error)
}

// ReserveResolver maps reserves to mints.
type ReserveResolver interface {
	Resolve(ctx context.Context, reserves []string) map[string]models.ReserveMapping
}

// PriceReader reads the shared price cache.
type PriceReader interface {
	Get(mint string) models.PriceEntry
}

// MintSubscriber is told about every resolved mint so it can be priced.
type MintSubscriber func(mints ...string) error

// Config controls the builder.
type Config struct {
	ProgramID       string
	LendingMarket   string
	Refresh         string
	RediscoverEvery int
}

// Builder joins discovered obligations with live prices and writes the
// result to disk.
type Builder struct {
	cfg       Config
	source    ObligationSource
	resolver  ReserveResolver
	prices    PriceReader
	subscribe MintSubscriber
	writer    *FileWriter
	log       *logger.Log
	now       func() time.Time

	cached         []models.Obligation
	cachedFallback bool
	cycles         int
	primed         bool

	mu   sync.RWMutex
	last *models.SnapshotSummary
}

// NewBuilder creates a snapshot builder. subscribe may be nil.
func NewBuilder(cfg Config, source ObligationSource, resolver ReserveResolver, prices PriceReader, subscribe MintSubscriber, writer *FileWriter) *Builder {
	if cfg.Refresh == "" {
		cfg.Refresh = RefreshAlways
	}
	if cfg.RediscoverEvery <= 0 {
		cfg.RediscoverEvery = 1
	}
	return &Builder{
		cfg:       cfg,
		source:    source,
		resolver:  resolver,
		prices:    prices,
		subscribe: subscribe,
		writer:    writer,
		log:       logger.GetLogger(),
		now:       time.Now,
	}
}

// Cycle runs one discover, resolve, price and write pass. Cycles must not run
// concurrently.
func (b *Builder) Cycle(ctx context.Context) (summary models.SnapshotSummary, err error) {
	start := time.Now()
	log := b.log.WithComponent("snapshot")
	defer func() {
		metrics.RecordSnapshot(err, summary.ObligationCount, time.Since(start))
	}()

	obligations, usedFallback, err := b.obligations(ctx)
	if err != nil {
		return summary, err
	}

	reserves := collectReserves(obligations)
	mappings := b.resolver.Resolve(ctx, reserves)

	mints := mintSet(mappings)
	if b.subscribe != nil && len(mints) > 0 {
		if err := b.subscribe(mints...); err != nil {
			log.WithError(err).Warn("failed to extend price subscription")
		}
	}

	snap := b.build(obligations, mappings, usedFallback)
	n, err := b.writer.Write(snap)
	if err != nil {
		log.WithError(err).WithField("path", b.writer.Path()).Error("snapshot write failed, previous file kept")
		return summary, fmt.Errorf("write snapshot: %w", err)
	}

	summary = models.SnapshotSummary{
		ID:              snap.ID,
		GeneratedAt:     snap.GeneratedAt,
		Path:            b.writer.Path(),
		ObligationCount: snap.ObligationCount,
		LivePriceCount:  snap.LivePriceCount,
		UnknownValues:   countUnknown(snap.Obligations),
		UsedFallback:    usedFallback,
		Bytes:           n,
	}
	b.mu.Lock()
	b.last = &summary
	b.mu.Unlock()

	logger.LogPerformanceEntry(log, "snapshot", "cycle", time.Since(start), logger.Fields{
		"obligations":    summary.ObligationCount,
		"reserves":       len(reserves),
		"resolved":       len(mappings),
		"live_prices":    summary.LivePriceCount,
		"unknown_values": summary.UnknownValues,
		"bytes":          n,
	})
	return summary, nil
}

// Prime discovers obligations, resolves their reserves and subscribes the
// mints without writing a snapshot, so prices can arrive before the first
// cycle. The first Cycle after a successful Prime reuses its list.
func (b *Builder) Prime(ctx context.Context) error {
	res, err := b.source.Discover(ctx)
	if err != nil {
		return fmt.Errorf("prime obligations: %w", err)
	}
	b.cached = res.Obligations
	b.cachedFallback = res.UsedFallback
	b.primed = true

	reserves := collectReserves(res.Obligations)
	mints := mintSet(b.resolver.Resolve(ctx, reserves))
	if b.subscribe != nil && len(mints) > 0 {
		if err := b.subscribe(mints...); err != nil {
			return fmt.Errorf("prime price subscription: %w", err)
		}
	}

	b.log.WithComponent("snapshot").WithFields(logger.Fields{
		"obligations":   len(res.Obligations),
		"reserves":      len(reserves),
		"mints":         len(mints),
		"used_fallback": res.UsedFallback,
	}).Info("price subscription primed")
	return nil
}

// Last returns the summary of the most recent successful cycle.
func (b *Builder) Last() (models.SnapshotSummary, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return models.SnapshotSummary{}, false
	}
	return *b.last, true
}

// obligations applies the refresh policy. A failed discovery falls back to
// the last good list when there is one.
func (b *Builder) obligations(ctx context.Context) ([]models.Obligation, bool, error) {
	log := b.log.WithComponent("snapshot")
	cycle := b.cycles
	b.cycles++

	if b.primed {
		b.primed = false
		return b.cached, b.cachedFallback, nil
	}

	due := b.cfg.Refresh == RefreshAlways || b.cached == nil || cycle%b.cfg.RediscoverEvery == 0
	if !due {
		log.WithField("obligations", len(b.cached)).Debug("reusing cached obligation list")
		return b.cached, b.cachedFallback, nil
	}

	res, err := b.source.Discover(ctx)
	if err != nil {
		if b.cached != nil {
			log.WithError(err).WithField("obligations", len(b.cached)).Warn("discovery failed, reusing last obligation list")
			return b.cached, b.cachedFallback, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrNoObligations, err)
	}

	b.cached = res.Obligations
	b.cachedFallback = res.UsedFallback
	return res.Obligations, res.UsedFallback, nil
}

// build produces enriched copies of obligations; the inputs are not modified.
func (b *Builder) build(obligations []models.Obligation, mappings map[string]models.ReserveMapping, usedFallback bool) models.Snapshot {
	live := make(map[string]struct{})
	out := make([]models.Obligation, 0, len(obligations))

	for _, src := range obligations {
		ob := src
		ob.Deposits = b.enrich(src.Deposits, mappings, live)
		ob.Borrows = b.enrich(src.Borrows, mappings, live)
		ob.DepositedValue = sumKnown(ob.Deposits)
		ob.BorrowedValue = sumKnown(ob.Borrows)
		ob.ActiveDepositsCount = len(ob.Deposits)
		ob.ActiveBorrowsCount = len(ob.Borrows)
		ob.AllTokenMints = tokenMints(src, mappings)
		out = append(out, ob)
	}

	return models.Snapshot{
		ID:              uuid.NewString(),
		GeneratedAt:     b.now().UTC(),
		ProgramID:       b.cfg.ProgramID,
		LendingMarket:   b.cfg.LendingMarket,
		UsedFallback:    usedFallback,
		ObligationCount: len(out),
		LivePriceCount:  len(live),
		Obligations:     out,
	}
}

func (b *Builder) enrich(positions []models.Position, mappings map[string]models.ReserveMapping, live map[string]struct{}) []models.Position {
	out := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		m, ok := mappings[p.ReserveAddress]
		if !ok {
			p.TokenMint = models.UnknownMint
			p.Symbol = models.UnknownMint
			p.MarketValue = nil
			p.Price = nil
			out = append(out, p)
			continue
		}

		p.TokenMint = m.Mint
		p.Decimals = m.Decimals
		p.Symbol = symbols.Symbol(m.Mint)

		entry := b.prices.Get(m.Mint)
		p.Price = &entry
		p.MarketValue = nil
		if entry.IsLive() {
			v := MarketValue(p.Amount, m.Decimals, entry.Price)
			p.MarketValue = &v
			live[m.Mint] = struct{}{}
		}
		out = append(out, p)
	}
	return out
}

// MarketValue is amount / 10^decimals * price. Decimal arithmetic keeps the
// result exact.
func MarketValue(amount decimal.Decimal, decimals uint8, price decimal.Decimal) decimal.Decimal {
	return amount.Shift(-int32(decimals)).Mul(price)
}

func sumKnown(positions []models.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.MarketValue != nil {
			total = total.Add(*p.MarketValue)
		}
	}
	return total
}

// tokenMints lists one mint per distinct reserve in slot order, UNKNOWN for
// reserves that did not resolve.
func tokenMints(ob models.Obligation, mappings map[string]models.ReserveMapping) []string {
	reserves := ob.ReserveAddresses()
	out := make([]string, 0, len(reserves))
	for _, r := range reserves {
		if m, ok := mappings[r]; ok {
			out = append(out, m.Mint)
			continue
		}
		out = append(out, models.UnknownMint)
	}
	return out
}

func collectReserves(obligations []models.Obligation) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, ob := range obligations {
		for _, r := range ob.ReserveAddresses() {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func mintSet(mappings map[string]models.ReserveMapping) []string {
	seen := make(map[string]struct{}, len(mappings))
	out := make([]string, 0, len(mappings))
	for _, m := range mappings {
		if _, ok := seen[m.Mint]; ok {
			continue
		}
		seen[m.Mint] = struct{}{}
		out = append(out, m.Mint)
	}
	sort.Strings(out)
	return out
}

func countUnknown(obligations []models.Obligation) int {
	n := 0
	for _, ob := range obligations {
		for _, group := range [][]models.Position{ob.Deposits, ob.Borrows} {
			for _, p := range group {
				if p.MarketValue == nil {
					n++
				}
			}
		}
	}
	return n
}
