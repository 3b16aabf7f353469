package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObligationHasBorrows(t *testing.T) {
	o := Obligation{Borrows: []Position{
		{ReserveAddress: "r1", Amount: decimal.Zero},
		{ReserveAddress: "r2", Amount: decimal.NewFromInt(5)},
	}}
	assert.True(t, o.HasBorrows())
	assert.True(t, o.BorrowedAmount().Equal(decimal.NewFromInt(5)))

	empty := Obligation{Borrows: []Position{{ReserveAddress: "r1", Amount: decimal.Zero}}}
	assert.False(t, empty.HasBorrows())
}

func TestReserveAddressesDeduplicated(t *testing.T) {
	o := Obligation{
		Deposits: []Position{{ReserveAddress: "a"}, {ReserveAddress: "b"}},
		Borrows:  []Position{{ReserveAddress: "b"}, {ReserveAddress: "c"}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, o.ReserveAddresses())
}

func TestPositionUnknownValueSerializesAsNull(t *testing.T) {
	p := Position{ReserveAddress: "r", TokenMint: UnknownMint, Amount: decimal.NewFromInt(1)}
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	v, ok := out["market_value"]
	require.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, "1", out["amount"])
}

func TestUnavailableEntry(t *testing.T) {
	e := UnavailableEntry("mint")
	assert.Equal(t, PriceUnavailable, e.Status)
	assert.False(t, e.IsLive())
	assert.True(t, e.LastUpdated.IsZero())
}
