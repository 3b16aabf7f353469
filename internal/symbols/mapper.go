package symbols

import (
	"strings"
	"sync"
)

// known maps token mints to display symbols.
var known = map[string]string{
	"So11111111111111111111111111111111111111112":  "SOL",
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":  "mSOL",
	"7dHbWXmci3dT8UFYWYZweBLXgycu7Y3iL6trKn1Y7ARj": "stSOL",
	"bSo13r4TkiE4KumL71LsHTPpL2euBYLFx6h9HP3piy1":  "bSOL",
	"J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn": "jitoSOL",
	"7vfCXTUXx5WJV5JADk17DUJ4ksgau7utNKj4b963voxs": "ETH",
	"9n4nbM75f5Ui33ZbPYXn59EwSgE8CGsHtAeTH5YFeJ9E": "BTC",
	"2b1kV6DkPAnxd5ixfnxCpjxmKwqjjaYmCZfHsFu24GXo": "WBTC",
	"3NZ9JMVBmGAqocybic2c7LQCJScmgsAZ6vQqTDzcqmJh": "WETH",
	"jtojtomepa8beP8AuQc6eXt5FriJwfFMwQx2v2f9mCL":  "JTO",
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN":  "JUP",
	"USDSwr9ApdHk5bvJKMjzff41FfuX8bSxdKcR81vTwcA":  "USDS",
	"HzwqbKZw8HxMN6bF2yFZNrht3c2iXXzpKcFu7uBEDKtr": "KMNO",
	"Dso1bDeDjCQxTrWHqUUi63oBvV7Mdm6WaobLbQ7gnPQ":  "DJUM",
	"cbbtcf3aa214zXHbiAZQwf4122FBYbraNdFqgw4iMij":  "camSOL",
	"BNso1VUJnh4zcfpZa6986Ea66P6TCp59hvtNJ8b1X85":  "BNSOL",
	"2u1tszSeqZ3qBWF3uNGPFc8TzMk2tdiwknnRMWGWjGWH": "WFDUSD",
	"6DNSN2BJsaPFdFFc1zP37kkeNe4Usc1Sqkzr9C9vPWcU": "TNSR",
	"9zNQRsGLjNKwCUU5Gq5LR8beUCPzQMVMqKAi3SSZh54u": "INF",
	"27G8MtK7VtTcCHkpASjSDdkWWYfoqT6ggEuKidVJidD4": "JLP",
	"A9mUU4qviSctJVPJdBJWkb28deg915LYJKrzQ19ji3FM": "USDCet",
	"Gh9ZwEmdLJ8DscKNTkTqPbNwLNNBjuSzaG9Vp2KGtKJr": "USDCpo",
}

// defaultFeeds maps token mints to Pyth price feed ids (hex, no 0x prefix).
var defaultFeeds = map[string]string{
	"So11111111111111111111111111111111111111112":  "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "eaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a",
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "2b89b9dc8fdf9f34709a5b106b472f0f39bb6ca9ce04b0fd7f2e971688e2e53b",
	"7vfCXTUXx5WJV5JADk17DUJ4ksgau7utNKj4b963voxs": "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
	"9n4nbM75f5Ui33ZbPYXn59EwSgE8CGsHtAeTH5YFeJ9E": "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
}

// Symbol returns a display symbol for mint. Unknown mints get "TOK" plus the
// upper-cased last four characters of the address.
func Symbol(mint string) string {
	if s, ok := known[mint]; ok {
		return s
	}
	if len(mint) < 4 {
		return "UNK"
	}
	return "TOK" + strings.ToUpper(mint[len(mint)-4:])
}

// NormalizeFeedID lower-cases a feed id and strips any 0x prefix.
func NormalizeFeedID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "0x")
}

// Registry resolves mints to price feed ids and back.
type Registry struct {
	mu     sync.RWMutex
	feeds  map[string]string // mint -> feed id
	byFeed map[string]string // feed id -> mint
}

// NewRegistry builds a registry from the built-in table with overrides
// layered on top. Overrides win for the same mint.
func NewRegistry(overrides map[string]string) *Registry {
	r := &Registry{
		feeds:  make(map[string]string, len(defaultFeeds)+len(overrides)),
		byFeed: make(map[string]string, len(defaultFeeds)+len(overrides)),
	}
	for mint, id := range defaultFeeds {
		r.set(mint, id)
	}
	for mint, id := range overrides {
		r.set(mint, id)
	}
	return r
}

func (r *Registry) set(mint, id string) {
	id = NormalizeFeedID(id)
	if old, ok := r.feeds[mint]; ok {
		delete(r.byFeed, old)
	}
	r.feeds[mint] = id
	r.byFeed[id] = mint
}

// FeedID returns the price feed for mint.
func (r *Registry) FeedID(mint string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.feeds[mint]
	return id, ok
}

// MintForFeed returns the mint a feed id was registered for.
func (r *Registry) MintForFeed(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mint, ok := r.byFeed[NormalizeFeedID(id)]
	return mint, ok
}

// Len reports how many mints have a feed.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}
