package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lendwatch/internal/kamino"
	"lendwatch/internal/metrics"
	"lendwatch/internal/models"
	"lendwatch/internal/solana"
	"lendwatch/logger"
)

// ProgramAccountSource lists accounts owned by a program.
type ProgramAccountSource interface {
	GetProgramAccounts(ctx context.Context, program string, filters ...solana.MemcmpFilter) ([]solana.KeyedAccount, error)
}

// Config identifies the market to observe.
type Config struct {
	ProgramID     string
	LendingMarket string
	// MinPrimaryResults is the smallest primary result accepted without
	// running the full scan.
	MinPrimaryResults int
}

// Result is the outcome of one discovery pass.
type Result struct {
	Obligations    []models.Obligation
	UsedFallback   bool
	Scanned        int
	DecodeFailures int
	Duration       time.Duration
}

// Discoverer finds obligations with outstanding borrows in a lending market.
type Discoverer struct {
	source ProgramAccountSource
	cfg    Config
	log    *logger.Log
}

// New creates a discoverer.
func New(source ProgramAccountSource, cfg Config) *Discoverer {
	if cfg.MinPrimaryResults <= 0 {
		cfg.MinPrimaryResults = 1
	}
	return &Discoverer{source: source, cfg: cfg, log: logger.GetLogger()}
}

// Discover runs the indexed lookup and, if it comes back short, one full
// program scan. Only obligations with a positive borrowed amount are returned.
func (d *Discoverer) Discover(ctx context.Context) (Result, error) {
	start := time.Now()
	log := d.log.WithComponent("discovery").WithFields(logger.Fields{
		"program": d.cfg.ProgramID,
		"market":  d.cfg.LendingMarket,
	})

	obligations, scanned, failures, primaryErr := d.primary(ctx)
	metrics.RecordDiscovery(metrics.PathPrimary)

	res := Result{Scanned: scanned, DecodeFailures: failures}
	if primaryErr == nil && !d.needsFallback(obligations) {
		res.Obligations = filterBorrowers(obligations)
		res.Duration = time.Since(start)
		d.report(log, res)
		return res, nil
	}

	entry := log.WithField("primary_count", len(obligations))
	if primaryErr != nil {
		entry = entry.WithError(primaryErr)
	}
	entry.Warn("primary lookup insufficient, scanning all program accounts")

	obligations, scanned, failures, err := d.fallback(ctx)
	metrics.RecordDiscovery(metrics.PathFallback)
	res.UsedFallback = true
	res.Scanned += scanned
	res.DecodeFailures += failures
	res.Duration = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("fallback scan: %w", errors.Join(primaryErr, err))
	}

	res.Obligations = filterBorrowers(obligations)
	d.report(log, res)
	return res, nil
}

func (d *Discoverer) needsFallback(obligations []models.Obligation) bool {
	return len(obligations) < d.cfg.MinPrimaryResults
}

func (d *Discoverer) primary(ctx context.Context) ([]models.Obligation, int, int, error) {
	accounts, err := d.source.GetProgramAccounts(ctx, d.cfg.ProgramID, solana.MemcmpFilter{
		Offset: kamino.LendingMarketOffset,
		Bytes:  d.cfg.LendingMarket,
	})
	if err != nil {
		return nil, 0, 0, err
	}
	obligations, failures := d.decodeAll(accounts)
	return obligations, len(accounts), failures, nil
}

func (d *Discoverer) fallback(ctx context.Context) ([]models.Obligation, int, int, error) {
	accounts, err := d.source.GetProgramAccounts(ctx, d.cfg.ProgramID)
	if err != nil {
		return nil, 0, 0, err
	}
	obligations, failures := d.decodeAll(accounts)
	return obligations, len(accounts), failures, nil
}

// decodeAll decodes obligations belonging to the configured market. Accounts
// of other types are skipped without counting as failures.
func (d *Discoverer) decodeAll(accounts []solana.KeyedAccount) ([]models.Obligation, int) {
	log := d.log.WithComponent("discovery")
	out := make([]models.Obligation, 0, len(accounts))
	failures := 0
	for _, acc := range accounts {
		if !kamino.IsObligation(acc.Account.Data) {
			continue
		}
		ob, err := kamino.DecodeObligation(acc.Pubkey, acc.Account.Data)
		if err != nil {
			failures++
			log.WithError(err).WithField("account", acc.Pubkey).Debug("skipping undecodable account")
			continue
		}
		if ob.LendingMarket != d.cfg.LendingMarket {
			continue
		}
		out = append(out, ob)
	}
	metrics.RecordDecodeFailures(failures)
	return out, failures
}

func (d *Discoverer) report(log *logger.Entry, res Result) {
	log.WithFields(logger.Fields{
		"obligations":     len(res.Obligations),
		"scanned":         res.Scanned,
		"decode_failures": res.DecodeFailures,
		"used_fallback":   res.UsedFallback,
		"duration":        res.Duration.String(),
	}).Info("discovery complete")
}

func filterBorrowers(obligations []models.Obligation) []models.Obligation {
	out := make([]models.Obligation, 0, len(obligations))
	for _, ob := range obligations {
		if ob.HasBorrows() {
			out = append(out, ob)
		}
	}
	return out
}
