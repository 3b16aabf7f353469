package resolver

import (
	"context"
	"sync"

	"lendwatch/internal/kamino"
	"lendwatch/internal/metrics"
	"lendwatch/internal/models"
	"lendwatch/internal/solana"
	"lendwatch/logger"
)

// AccountFetcher loads accounts by address, positionally aligned with keys.
type AccountFetcher interface {
	GetMultipleAccounts(ctx context.Context, keys []string) ([]*solana.Account, error)
}

// Config controls batching for reserve lookups.
type Config struct {
	ProgramID   string
	BatchSize   int
	Concurrency int
}

// Resolver maps reserve accounts to their mint and decimals and remembers the
// answer for the life of the process.
type Resolver struct {
	fetcher AccountFetcher
	cfg     Config
	log     *logger.Log

	mu    sync.RWMutex
	cache map[string]models.ReserveMapping
}

// New creates a resolver.
func New(fetcher AccountFetcher, cfg Config) *Resolver {
	if cfg.BatchSize <= 0 || cfg.BatchSize > solana.MaxMultipleAccounts {
		cfg.BatchSize = solana.MaxMultipleAccounts
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Resolver{
		fetcher: fetcher,
		cfg:     cfg,
		log:     logger.GetLogger(),
		cache:   make(map[string]models.ReserveMapping),
	}
}

// Resolve returns a mapping for every reserve that could be resolved.
// Cached reserves are answered without a network call. Reserves that fail to
// resolve are left out of the result.
func (r *Resolver) Resolve(ctx context.Context, reserves []string) map[string]models.ReserveMapping {
	out := make(map[string]models.ReserveMapping, len(reserves))
	missing := make([]string, 0)
	seen := make(map[string]struct{}, len(reserves))

	r.mu.RLock()
	for _, reserve := range reserves {
		if _, dup := seen[reserve]; dup {
			continue
		}
		seen[reserve] = struct{}{}
		if m, ok := r.cache[reserve]; ok {
			out[reserve] = m
			continue
		}
		missing = append(missing, reserve)
	}
	r.mu.RUnlock()

	if len(missing) == 0 {
		return out
	}

	log := r.log.WithComponent("resolver")
	batches := chunk(missing, r.cfg.BatchSize)

	var (
		wg       sync.WaitGroup
		resultMu sync.Mutex
		dropped  int
		sem      = make(chan struct{}, r.cfg.Concurrency)
	)

	for _, batch := range batches {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			resultMu.Lock()
			dropped += len(batch)
			resultMu.Unlock()
			continue
		}

		wg.Add(1)
		go func(batch []string) {
			defer wg.Done()
			defer func() { <-sem }()

			resolved, failed := r.fetchBatch(ctx, batch)

			resultMu.Lock()
			for k, m := range resolved {
				out[k] = m
			}
			dropped += failed
			resultMu.Unlock()
		}(batch)
	}
	wg.Wait()

	metrics.RecordUnresolved(dropped)
	log.WithFields(logger.Fields{
		"requested": len(seen),
		"fetched":   len(missing),
		"batches":   len(batches),
		"resolved":  len(out),
		"dropped":   dropped,
	}).Info("reserves resolved")

	return out
}

// fetchBatch loads one batch and stores every decoded reserve in the cache.
func (r *Resolver) fetchBatch(ctx context.Context, batch []string) (map[string]models.ReserveMapping, int) {
	log := r.log.WithComponent("resolver")

	accounts, err := r.fetcher.GetMultipleAccounts(ctx, batch)
	if err != nil {
		log.WithError(err).WithField("batch_size", len(batch)).Warn("reserve batch failed, dropping reserves")
		return nil, len(batch)
	}

	resolved := make(map[string]models.ReserveMapping, len(batch))
	failed := 0
	for i, reserve := range batch {
		var acc *solana.Account
		if i < len(accounts) {
			acc = accounts[i]
		}
		if acc == nil {
			log.WithField("reserve", reserve).Warn("reserve account not found")
			failed++
			continue
		}
		if r.cfg.ProgramID != "" && acc.Owner != r.cfg.ProgramID {
			log.WithFields(logger.Fields{"reserve": reserve, "owner": acc.Owner}).Warn("reserve not owned by lending program")
			failed++
			continue
		}
		m, err := kamino.DecodeReserve(reserve, acc.Data)
		if err != nil {
			log.WithError(err).WithField("reserve", reserve).Warn("reserve decode failed")
			failed++
			continue
		}
		resolved[reserve] = m
	}

	if len(resolved) > 0 {
		r.mu.Lock()
		for k, m := range resolved {
			r.cache[k] = m
		}
		r.mu.Unlock()
	}
	return resolved, failed
}

func chunk(keys []string, size int) [][]string {
	batches := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		batches = append(batches, keys[start:end])
	}
	return batches
}
