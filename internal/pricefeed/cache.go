package pricefeed

import (
	"sync"
	"time"

	"lendwatch/internal/models"
)

// DefaultStalenessWindow is how long a tick keeps an entry live.
const DefaultStalenessWindow = 60 * time.Second

// Cache holds the latest price per mint. Entries are stored and returned as
// whole values so readers never see a partial update. Status is derived at
// read time from the last update and the staleness window.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]models.PriceEntry
	window  time.Duration
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache(window time.Duration, now func() time.Time) *Cache {
	if window <= 0 {
		window = DefaultStalenessWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]models.PriceEntry),
		window:  window,
		now:     now,
	}
}

// Put replaces the entry for e.Mint.
func (c *Cache) Put(e models.PriceEntry) {
	c.mu.Lock()
	c.entries[e.Mint] = e
	c.mu.Unlock()
}

// Get returns the entry for mint with its status evaluated now, or an
// unavailable entry if no tick was ever stored.
func (c *Cache) Get(mint string) models.PriceEntry {
	c.mu.RLock()
	e, ok := c.entries[mint]
	c.mu.RUnlock()
	if !ok {
		return models.UnavailableEntry(mint)
	}
	return c.withStatus(e, c.now())
}

// Snapshot copies every entry with status evaluated at a single instant.
func (c *Cache) Snapshot() map[string]models.PriceEntry {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.PriceEntry, len(c.entries))
	for mint, e := range c.entries {
		out[mint] = c.withStatus(e, now)
	}
	return out
}

// Len reports how many mints have ever received a tick.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) withStatus(e models.PriceEntry, now time.Time) models.PriceEntry {
	if e.LastUpdated.IsZero() {
		e.Status = models.PriceUnavailable
	} else if now.Sub(e.LastUpdated) > c.window {
		e.Status = models.PriceStale
	} else {
		e.Status = models.PriceLive
	}
	return e
}
