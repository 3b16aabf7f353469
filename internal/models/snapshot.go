package models

import "time"

// Snapshot is the document written to disk every cycle.
type Snapshot struct {
	ID              string       `json:"snapshot_id"`
	GeneratedAt     time.Time    `json:"generated_at"`
	ProgramID       string       `json:"program_id"`
	LendingMarket   string       `json:"lending_market"`
	UsedFallback    bool         `json:"discovery_used_fallback"`
	ObligationCount int          `json:"obligation_count"`
	LivePriceCount  int          `json:"live_price_count"`
	Obligations     []Obligation `json:"obligations"`
}

// SnapshotSummary is the small view of the last snapshot kept in memory for
// diagnostics.
type SnapshotSummary struct {
	ID              string    `json:"snapshot_id"`
	GeneratedAt     time.Time `json:"generated_at"`
	Path            string    `json:"path"`
	ObligationCount int       `json:"obligation_count"`
	LivePriceCount  int       `json:"live_price_count"`
	UnknownValues   int       `json:"unknown_values"`
	UsedFallback    bool      `json:"discovery_used_fallback"`
	Bytes           int       `json:"bytes"`
}
