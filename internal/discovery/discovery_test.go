package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwatch/internal/kamino/kaminotest"
	"lendwatch/internal/solana"
)

const program = "KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD"

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

var (
	market      = key(1)
	otherMarket = key(2)
)

type fakeSource struct {
	primary      []solana.KeyedAccount
	primaryErr   error
	all          []solana.KeyedAccount
	allErr       error
	primaryCalls int
	scanCalls    int
	lastFilters  []solana.MemcmpFilter
}

func (f *fakeSource) GetProgramAccounts(_ context.Context, _ string, filters ...solana.MemcmpFilter) ([]solana.KeyedAccount, error) {
	if len(filters) > 0 {
		f.primaryCalls++
		f.lastFilters = filters
		return f.primary, f.primaryErr
	}
	f.scanCalls++
	return f.all, f.allErr
}

func obligationAccount(addr string, m solana.PublicKey, borrow int64) solana.KeyedAccount {
	fx := kaminotest.ObligationFixture{
		LendingMarket: m,
		Owner:         key(9),
		Deposits:      []kaminotest.DepositFixture{{Reserve: key(10), Amount: 1000}},
	}
	if borrow > 0 {
		fx.Borrows = []kaminotest.BorrowFixture{{Reserve: key(20), Amount: decimal.NewFromInt(borrow)}}
	}
	return solana.KeyedAccount{
		Pubkey:  addr,
		Account: solana.Account{Data: kaminotest.EncodeObligation(fx), Owner: program},
	}
}

func newDiscoverer(src *fakeSource) *Discoverer {
	return New(src, Config{ProgramID: program, LendingMarket: market.String(), MinPrimaryResults: 1})
}

func TestDiscoverPrimaryPath(t *testing.T) {
	src := &fakeSource{primary: []solana.KeyedAccount{
		obligationAccount("a", market, 10),
		obligationAccount("b", market, 0),
		{Pubkey: "bad", Account: solana.Account{Data: append(kaminotest.EncodeObligation(kaminotest.ObligationFixture{})[:8], 1, 2, 3)}},
	}}

	res, err := newDiscoverer(src).Discover(context.Background())
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, 0, src.scanCalls)
	assert.Equal(t, 1, res.DecodeFailures)
	require.Len(t, res.Obligations, 1)
	assert.Equal(t, "a", res.Obligations[0].Address)

	require.Len(t, src.lastFilters, 1)
	assert.EqualValues(t, 32, src.lastFilters[0].Offset)
	assert.Equal(t, market.String(), src.lastFilters[0].Bytes)
}

func TestDiscoverFallbackOnEmptyPrimaryRunsOnce(t *testing.T) {
	src := &fakeSource{all: []solana.KeyedAccount{
		obligationAccount("a", market, 5),
		obligationAccount("other", otherMarket, 5),
		{Pubkey: "reserve", Account: solana.Account{Data: kaminotest.EncodeReserve(key(7), 6)}},
	}}

	res, err := newDiscoverer(src).Discover(context.Background())
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, 1, src.primaryCalls)
	assert.Equal(t, 1, src.scanCalls)
	assert.Equal(t, 0, res.DecodeFailures)
	require.Len(t, res.Obligations, 1)
	assert.Equal(t, "a", res.Obligations[0].Address)
}

func TestDiscoverFallbackOnPrimaryError(t *testing.T) {
	src := &fakeSource{
		primaryErr: errors.New("method not supported"),
		all:        []solana.KeyedAccount{obligationAccount("a", market, 5)},
	}

	res, err := newDiscoverer(src).Discover(context.Background())
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, 1, src.scanCalls)
	assert.Len(t, res.Obligations, 1)
}

func TestDiscoverFallbackBelowMinimum(t *testing.T) {
	src := &fakeSource{
		primary: []solana.KeyedAccount{obligationAccount("a", market, 5)},
		all:     []solana.KeyedAccount{obligationAccount("a", market, 5), obligationAccount("b", market, 5)},
	}
	d := New(src, Config{ProgramID: program, LendingMarket: market.String(), MinPrimaryResults: 2})

	res, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, 1, src.scanCalls)
	assert.Len(t, res.Obligations, 2)
}

func TestDiscoverFallbackEmptyStillSingleScan(t *testing.T) {
	src := &fakeSource{}

	res, err := newDiscoverer(src).Discover(context.Background())
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, 1, src.scanCalls)
	assert.Empty(t, res.Obligations)
}

func TestDiscoverBothPathsFail(t *testing.T) {
	primaryErr := errors.New("primary down")
	scanErr := errors.New("scan down")
	src := &fakeSource{primaryErr: primaryErr, allErr: scanErr}

	res, err := newDiscoverer(src).Discover(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, scanErr))
	assert.True(t, errors.Is(err, primaryErr))
	assert.True(t, res.UsedFallback)
	assert.Equal(t, 1, src.scanCalls)
}

func TestDiscoverOutputAlwaysHasBorrows(t *testing.T) {
	accounts := make([]solana.KeyedAccount, 0, 10)
	for i := 0; i < 10; i++ {
		accounts = append(accounts, obligationAccount(string(rune('a'+i)), market, int64(i%3)))
	}
	res, err := newDiscoverer(&fakeSource{primary: accounts}).Discover(context.Background())
	require.NoError(t, err)
	for _, ob := range res.Obligations {
		assert.True(t, ob.BorrowedAmount().IsPositive(), ob.Address)
	}
	assert.Len(t, res.Obligations, 6)
}
