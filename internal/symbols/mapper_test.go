package symbols

import "testing"

func TestSymbol(t *testing.T) {
	tests := []struct {
		mint string
		want string
	}{
		{"So11111111111111111111111111111111111111112", "SOL"},
		{"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "USDC"},
		{"J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn", "jitoSOL"},
		{"HzwqbKZw8HxMN6bF2yFZNrht3c2iXXzpKcFu7uBEDKtr", "KMNO"},
		{"4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R", "TOKKX6R"},
		{"abc", "UNK"},
	}
	for _, tt := range tests {
		if got := Symbol(tt.mint); got != tt.want {
			t.Errorf("Symbol(%s)=%s want %s", tt.mint, got, tt.want)
		}
	}
}

func TestRegistryDefaultsAndOverrides(t *testing.T) {
	const sol = "So11111111111111111111111111111111111111112"
	const custom = "CustomMint1111111111111111111111111111111111"

	r := NewRegistry(map[string]string{
		custom: "0xABCDEF0000000000000000000000000000000000000000000000000000000001",
		sol:    "0x1111111111111111111111111111111111111111111111111111111111111111",
	})

	id, ok := r.FeedID(custom)
	if !ok || id != "abcdef0000000000000000000000000000000000000000000000000000000001" {
		t.Fatalf("custom feed = %q, %v", id, ok)
	}
	if id, _ := r.FeedID(sol); id != "1111111111111111111111111111111111111111111111111111111111111111" {
		t.Fatalf("override not applied: %s", id)
	}
	if _, ok := r.MintForFeed("ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"); ok {
		t.Fatalf("replaced feed id should no longer resolve")
	}
	if mint, ok := r.MintForFeed("0x1111111111111111111111111111111111111111111111111111111111111111"); !ok || mint != sol {
		t.Fatalf("MintForFeed = %q, %v", mint, ok)
	}
	if _, ok := r.FeedID("nope"); ok {
		t.Fatalf("unexpected feed for unknown mint")
	}
	if r.Len() != len(defaultFeeds)+1 {
		t.Fatalf("Len = %d", r.Len())
	}
}
