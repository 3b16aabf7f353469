package models

import (
	"github.com/shopspring/decimal"
)

// UnknownMint marks a position whose reserve could not be resolved.
const UnknownMint = "UNKNOWN"

// ReserveMapping links a reserve account to the token it holds.
type ReserveMapping struct {
	Reserve  string `json:"reserve"`
	Mint     string `json:"mint"`
	Decimals uint8  `json:"decimals"`
}

// Position is a single deposit or borrow slot of an obligation. MarketValue is
// nil when no live price was available, which is distinct from a zero value.
type Position struct {
	ReserveAddress string           `json:"reserve_address"`
	TokenMint      string           `json:"token_mint"`
	Symbol         string           `json:"symbol"`
	Amount         decimal.Decimal  `json:"amount"`
	Decimals       uint8            `json:"decimals"`
	MarketValue    *decimal.Decimal `json:"market_value"`
	OnchainValue   decimal.Decimal  `json:"onchain_market_value"`
	Price          *PriceEntry      `json:"price"`
}

// OnchainValues are the USD aggregates last written by the lending program
// itself. They are reported alongside the live valuation, never mixed into it.
type OnchainValues struct {
	DepositedValue       decimal.Decimal `json:"deposited_value"`
	BorrowedValue        decimal.Decimal `json:"borrowed_value"`
	AllowedBorrowValue   decimal.Decimal `json:"allowed_borrow_value"`
	UnhealthyBorrowValue decimal.Decimal `json:"unhealthy_borrow_value"`
}

// Obligation is one borrower account in the market. DepositedValue and
// BorrowedValue sum the positions that have a known MarketValue. Deposit
// amounts are collateral-token units. AllTokenMints has one entry per
// distinct reserve, UNKNOWN where the reserve did not resolve.
type Obligation struct {
	Address             string          `json:"obligation_address"`
	Owner               string          `json:"owner"`
	LendingMarket       string          `json:"lending_market"`
	DepositedValue      decimal.Decimal `json:"deposited_value"`
	BorrowedValue       decimal.Decimal `json:"borrowed_value"`
	Onchain             OnchainValues   `json:"onchain"`
	ElevationGroup      uint8           `json:"elevation_group"`
	HasDebt             bool            `json:"has_debt"`
	ActiveDepositsCount int             `json:"active_deposits_count"`
	ActiveBorrowsCount  int             `json:"active_borrows_count"`
	Deposits            []Position      `json:"deposits"`
	Borrows             []Position      `json:"borrows"`
	AllTokenMints       []string        `json:"all_token_mints"`
}

// BorrowedAmount sums the raw amounts of all borrow positions.
func (o Obligation) BorrowedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, b := range o.Borrows {
		total = total.Add(b.Amount)
	}
	return total
}

// HasBorrows reports whether the obligation owes anything.
func (o Obligation) HasBorrows() bool {
	return o.BorrowedAmount().IsPositive()
}

// ReserveAddresses lists deposit then borrow reserves, de-duplicated, in slot order.
func (o Obligation) ReserveAddresses() []string {
	seen := make(map[string]struct{}, len(o.Deposits)+len(o.Borrows))
	out := make([]string, 0, len(o.Deposits)+len(o.Borrows))
	for _, group := range [][]Position{o.Deposits, o.Borrows} {
		for _, p := range group {
			if _, ok := seen[p.ReserveAddress]; ok {
				continue
			}
			seen[p.ReserveAddress] = struct{}{}
			out = append(out, p.ReserveAddress)
		}
	}
	return out
}
