// Package kaminotest builds raw lending-program account bytes for tests.
package kaminotest

import (
	"encoding/binary"
	"math/big"

	"github.com/shopspring/decimal"

	"lendwatch/internal/kamino"
	"lendwatch/internal/solana"
)

// Obligation layout, written independently of the decoder so tests check one
// against the other.
const (
	ownerOffset          = 64
	depositsOffset       = 96
	depositSlot          = 136
	depositedValueOffset = 1192
	borrowsOffset        = 1208
	borrowSlot           = 200
	borrowedValueOffset  = 2224
	elevationGroupOffset = 2285
	hasDebtOffset        = 2287

	reserveMintOffset     = 128
	reserveDecimalsOffset = 272
)

var sfScale = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 60), 0)

// ObligationFixture describes an obligation for EncodeObligation.
type ObligationFixture struct {
	LendingMarket  solana.PublicKey
	Owner          solana.PublicKey
	Deposits       []DepositFixture
	Borrows        []BorrowFixture
	DepositedValue decimal.Decimal
	BorrowedValue  decimal.Decimal
	ElevationGroup uint8
	HasDebt        bool
}

// DepositFixture is one collateral slot; Amount is in base units.
type DepositFixture struct {
	Reserve     solana.PublicKey
	Amount      uint64
	MarketValue decimal.Decimal
}

// BorrowFixture is one debt slot; Amount is stored as a scaled fraction.
type BorrowFixture struct {
	Reserve     solana.PublicKey
	Amount      decimal.Decimal
	MarketValue decimal.Decimal
}

// EncodeObligation lays out f as obligation account bytes. Slots beyond the
// account's eight deposits or five borrows are ignored.
func EncodeObligation(f ObligationFixture) []byte {
	data := make([]byte, kamino.ObligationMinSize)
	tag := kamino.Discriminator("Obligation")
	copy(data[:8], tag[:])
	copy(data[kamino.LendingMarketOffset:], f.LendingMarket[:])
	copy(data[ownerOffset:], f.Owner[:])

	for i, d := range f.Deposits {
		if i >= 8 {
			break
		}
		base := depositsOffset + i*depositSlot
		copy(data[base:], d.Reserve[:])
		binary.LittleEndian.PutUint64(data[base+32:], d.Amount)
		putSF(data, base+40, d.MarketValue)
	}
	for i, b := range f.Borrows {
		if i >= 5 {
			break
		}
		base := borrowsOffset + i*borrowSlot
		copy(data[base:], b.Reserve[:])
		putSF(data, base+88, b.Amount)
		putSF(data, base+104, b.MarketValue)
	}

	putSF(data, depositedValueOffset, f.DepositedValue)
	putSF(data, borrowedValueOffset, f.BorrowedValue)
	data[elevationGroupOffset] = f.ElevationGroup
	if f.HasDebt {
		data[hasDebtOffset] = 1
	}
	return data
}

// EncodeReserve lays out a minimal reserve account holding mint and decimals.
func EncodeReserve(mint solana.PublicKey, decimals uint64) []byte {
	data := make([]byte, kamino.ReserveMinSize)
	tag := kamino.Discriminator("Reserve")
	copy(data[:8], tag[:])
	copy(data[reserveMintOffset:], mint[:])
	binary.LittleEndian.PutUint64(data[reserveDecimalsOffset:], decimals)
	return data
}

// putSF writes d as a little-endian u128 with 60 fractional bits.
func putSF(data []byte, off int, d decimal.Decimal) {
	v := d.Mul(sfScale).Round(0).BigInt()
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	binary.LittleEndian.PutUint64(data[off:off+8], lo.Uint64())
	binary.LittleEndian.PutUint64(data[off+8:off+16], hi.Uint64())
}
