package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwatch/internal/kamino/kaminotest"
	"lendwatch/internal/solana"
)

const program = "KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD"

type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	maxBatch int
	accounts map[string]*solana.Account
	fail     map[string]bool
}

func (f *fakeFetcher) GetMultipleAccounts(_ context.Context, keys []string) ([]*solana.Account, error) {
	f.mu.Lock()
	f.calls++
	if len(keys) > f.maxBatch {
		f.maxBatch = len(keys)
	}
	f.mu.Unlock()

	out := make([]*solana.Account, len(keys))
	for i, k := range keys {
		if f.fail[k] {
			return nil, errors.New("upstream timeout")
		}
		out[i] = f.accounts[k]
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func mintKey(i int) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = byte(i)
	pk[1] = byte(i >> 8)
	pk[31] = 0xAA
	return pk
}

func newFetcher(n int) (*fakeFetcher, []string) {
	f := &fakeFetcher{accounts: map[string]*solana.Account{}, fail: map[string]bool{}}
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("reserve-%03d", i)
		f.accounts[keys[i]] = &solana.Account{Data: kaminotest.EncodeReserve(mintKey(i+1), 6), Owner: program}
	}
	return f, keys
}

func TestResolveBatchesAndCaches(t *testing.T) {
	f, keys := newFetcher(250)
	r := New(f, Config{ProgramID: program, BatchSize: 100, Concurrency: 3})

	got := r.Resolve(context.Background(), keys)
	require.Len(t, got, 250)
	assert.Equal(t, 3, f.callCount())
	assert.LessOrEqual(t, f.maxBatch, 100)
	assert.Equal(t, mintKey(1).String(), got["reserve-000"].Mint)
	assert.EqualValues(t, 6, got["reserve-000"].Decimals)

	again := r.Resolve(context.Background(), keys)
	assert.Equal(t, got, again)
	assert.Equal(t, 3, f.callCount(), "cached reserves must not hit the network")
	assert.Len(t, r.cache, 250)
}

func TestResolveOnlyFetchesMissing(t *testing.T) {
	f, keys := newFetcher(5)
	r := New(f, Config{ProgramID: program, BatchSize: 2})

	r.Resolve(context.Background(), keys[:2])
	require.Equal(t, 1, f.callCount())

	got := r.Resolve(context.Background(), keys)
	assert.Len(t, got, 5)
	assert.Equal(t, 3, f.callCount())
}

func TestResolveDropsUnresolvable(t *testing.T) {
	f, keys := newFetcher(3)
	f.accounts["missing"] = nil
	f.accounts["foreign"] = &solana.Account{Data: kaminotest.EncodeReserve(mintKey(9), 6), Owner: "SomeOtherProgram"}
	f.accounts["garbage"] = &solana.Account{Data: []byte{1, 2, 3}, Owner: program}
	f.accounts["toomany"] = &solana.Account{Data: kaminotest.EncodeReserve(mintKey(8), 30), Owner: program}

	r := New(f, Config{ProgramID: program, BatchSize: 100})
	got := r.Resolve(context.Background(), append(keys, "missing", "foreign", "garbage", "toomany"))

	assert.Len(t, got, 3)
	for _, k := range []string{"missing", "foreign", "garbage", "toomany"} {
		_, ok := got[k]
		assert.False(t, ok, k)
		_, cached := r.cache[k]
		assert.False(t, cached, k)
	}
}

func TestResolveFailedBatchDoesNotAbortOthers(t *testing.T) {
	f, keys := newFetcher(4)
	f.fail["reserve-003"] = true

	r := New(f, Config{ProgramID: program, BatchSize: 2, Concurrency: 2})
	got := r.Resolve(context.Background(), keys)

	assert.Len(t, got, 2)
	assert.Contains(t, got, "reserve-000")
	assert.Contains(t, got, "reserve-001")

	// the failed batch is retried on the next call
	delete(f.fail, "reserve-003")
	got = r.Resolve(context.Background(), keys)
	assert.Len(t, got, 4)
}

func TestResolveDeduplicatesInput(t *testing.T) {
	f, keys := newFetcher(1)
	r := New(f, Config{ProgramID: program})
	got := r.Resolve(context.Background(), []string{keys[0], keys[0], keys[0]})
	assert.Len(t, got, 1)
	assert.Equal(t, 1, f.callCount())
}

func TestChunk(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunk(keys, 2))
	assert.Equal(t, [][]string{{"a", "b", "c", "d", "e"}}, chunk(keys, 10))
	assert.Empty(t, chunk(nil, 3))
}
