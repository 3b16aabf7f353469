package kamino

import (
	"fmt"

	"lendwatch/internal/models"
)

const (
	reserveMintOffset     = 128
	reserveDecimalsOffset = 272

	// ReserveMinSize is the shortest buffer DecodeReserve accepts.
	ReserveMinSize = reserveDecimalsOffset + 8

	// MaxDecimals bounds plausible token precision.
	MaxDecimals = 18
)

// DecodeReserve extracts the liquidity mint and its decimals from raw reserve data.
func DecodeReserve(address string, data []byte) (models.ReserveMapping, error) {
	if err := checkDiscriminator(data, reserveDiscriminator, "reserve"); err != nil {
		return models.ReserveMapping{}, err
	}
	if len(data) < ReserveMinSize {
		return models.ReserveMapping{}, fmt.Errorf("%w: reserve %s: %d bytes, need %d", ErrDecode, address, len(data), ReserveMinSize)
	}

	mint := readPubkey(data, reserveMintOffset)
	if mint.IsZero() {
		return models.ReserveMapping{}, fmt.Errorf("%w: reserve %s: empty mint", ErrDecode, address)
	}
	decimals := readU64(data, reserveDecimalsOffset)
	if decimals > MaxDecimals {
		return models.ReserveMapping{}, fmt.Errorf("%w: reserve %s: implausible decimals %d", ErrDecode, address, decimals)
	}

	return models.ReserveMapping{
		Reserve:  address,
		Mint:     mint.String(),
		Decimals: uint8(decimals),
	}, nil
}
