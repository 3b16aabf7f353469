package kamino

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"lendwatch/internal/models"
)

// Obligation account layout. Offsets are from the start of the account data.
const (
	obligationLendingMarketOffset = 32
	obligationOwnerOffset         = 64

	obligationDepositsOffset = 96
	depositSlotSize          = 136
	maxDeposits              = 8

	depositedValueOffset = 1192

	obligationBorrowsOffset = 1208
	borrowSlotSize          = 200
	maxBorrows              = 5

	borrowedValueOffset        = 2224
	allowedBorrowValueOffset   = 2240
	unhealthyBorrowValueOffset = 2256
	elevationGroupOffset       = 2285
	hasDebtOffset              = 2287

	// ObligationMinSize is the shortest buffer DecodeObligation accepts.
	ObligationMinSize = 2288

	// LendingMarketOffset is where the market key sits, for memcmp filters.
	LendingMarketOffset = obligationLendingMarketOffset
)

// Offsets inside a deposit slot.
const (
	depositReserveOffset     = 0
	depositAmountOffset      = 32
	depositMarketValueOffset = 40
)

// Offsets inside a borrow slot.
const (
	borrowReserveOffset     = 0
	borrowAmountOffset      = 88
	borrowMarketValueOffset = 104
)

// IsObligation reports whether data carries the obligation account tag.
func IsObligation(data []byte) bool {
	return checkDiscriminator(data, obligationDiscriminator, "obligation") == nil
}

// DecodeObligation parses raw obligation account data. Deposit slots with a
// default reserve or zero amount and borrow slots with a default reserve or
// zero borrowed amount are left out.
func DecodeObligation(address string, data []byte) (models.Obligation, error) {
	if err := checkDiscriminator(data, obligationDiscriminator, "obligation"); err != nil {
		return models.Obligation{}, err
	}
	if len(data) < ObligationMinSize {
		return models.Obligation{}, fmt.Errorf("%w: obligation %s: %d bytes, need %d", ErrDecode, address, len(data), ObligationMinSize)
	}

	ob := models.Obligation{
		Address:       address,
		LendingMarket: readPubkey(data, obligationLendingMarketOffset).String(),
		Owner:         readPubkey(data, obligationOwnerOffset).String(),
		Onchain: models.OnchainValues{
			DepositedValue:       readSF(data, depositedValueOffset),
			BorrowedValue:        readSF(data, borrowedValueOffset),
			AllowedBorrowValue:   readSF(data, allowedBorrowValueOffset),
			UnhealthyBorrowValue: readSF(data, unhealthyBorrowValueOffset),
		},
		ElevationGroup: data[elevationGroupOffset],
		HasDebt:        data[hasDebtOffset] != 0,
		Deposits:       []models.Position{},
		Borrows:        []models.Position{},
		DepositedValue: decimal.Zero,
		BorrowedValue:  decimal.Zero,
	}

	for i := 0; i < maxDeposits; i++ {
		base := obligationDepositsOffset + i*depositSlotSize
		reserve := readPubkey(data, base+depositReserveOffset)
		amount := readU64(data, base+depositAmountOffset)
		if reserve.IsZero() || amount == 0 {
			continue
		}
		ob.Deposits = append(ob.Deposits, models.Position{
			ReserveAddress: reserve.String(),
			TokenMint:      models.UnknownMint,
			Amount:         decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0),
			OnchainValue:   readSF(data, base+depositMarketValueOffset),
		})
	}

	for i := 0; i < maxBorrows; i++ {
		base := obligationBorrowsOffset + i*borrowSlotSize
		reserve := readPubkey(data, base+borrowReserveOffset)
		amount := readSF(data, base+borrowAmountOffset)
		if reserve.IsZero() || !amount.IsPositive() {
			continue
		}
		ob.Borrows = append(ob.Borrows, models.Position{
			ReserveAddress: reserve.String(),
			TokenMint:      models.UnknownMint,
			Amount:         amount,
			OnchainValue:   readSF(data, base+borrowMarketValueOffset),
		})
	}

	ob.ActiveDepositsCount = len(ob.Deposits)
	ob.ActiveBorrowsCount = len(ob.Borrows)
	return ob, nil
}
