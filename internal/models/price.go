package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceStatus describes how trustworthy a cached price is at read time.
type PriceStatus string

const (
	PriceUnavailable PriceStatus = "unavailable"
	PriceStale       PriceStatus = "stale"
	PriceLive        PriceStatus = "live"
)

// PriceTick is one observation delivered by the price feed.
type PriceTick struct {
	Mint        string
	FeedID      string
	Price       decimal.Decimal
	Confidence  decimal.Decimal
	PublishTime time.Time
	ReceivedAt  time.Time
}

// PriceEntry is the cached view of the latest tick for a mint. Entries are
// replaced whole; a reader never sees one half-updated.
type PriceEntry struct {
	Mint        string          `json:"mint"`
	Symbol      string          `json:"symbol,omitempty"`
	FeedID      string          `json:"feed_id,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Confidence  decimal.Decimal `json:"confidence"`
	Status      PriceStatus     `json:"status"`
	LastUpdated time.Time       `json:"last_updated"`
	PublishTime time.Time       `json:"publish_time"`
}

// UnavailableEntry is returned for mints that never received a tick.
func UnavailableEntry(mint string) PriceEntry {
	return PriceEntry{Mint: mint, Status: PriceUnavailable}
}

func (e PriceEntry) IsLive() bool {
	return e.Status == PriceLive
}
