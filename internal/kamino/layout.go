package kamino

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"lendwatch/internal/solana"
)

// ErrDecode is wrapped by every decoding failure.
var ErrDecode = errors.New("decode account")

// fractionBits is the number of fractional bits in a scaled-fraction value.
const fractionBits = 60

// sfPlaces is the precision kept when converting scaled fractions.
const sfPlaces = 18

var sfDenominator = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), fractionBits), 0)

// Discriminator returns the 8-byte account tag the program writes for name.
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	obligationDiscriminator = Discriminator("Obligation")
	reserveDiscriminator    = Discriminator("Reserve")
)

func checkDiscriminator(data []byte, want [8]byte, kind string) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: %s: %d bytes", ErrDecode, kind, len(data))
	}
	var got [8]byte
	copy(got[:], data[:8])
	if got != want {
		return fmt.Errorf("%w: %s: discriminator mismatch", ErrDecode, kind)
	}
	return nil
}

func readU64(data []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(data[off : off+8])
}

func readU128(data []byte, off int) *big.Int {
	lo := binary.LittleEndian.Uint64(data[off : off+8])
	hi := binary.LittleEndian.Uint64(data[off+8 : off+16])
	v := new(big.Int).SetUint64(hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(lo))
}

// readSF converts a u128 scaled fraction to a decimal, rounding half away
// from zero at 18 places.
func readSF(data []byte, off int) decimal.Decimal {
	raw := readU128(data, off)
	if raw.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, 0).DivRound(sfDenominator, sfPlaces)
}

func readPubkey(data []byte, off int) solana.PublicKey {
	var pk solana.PublicKey
	copy(pk[:], data[off:off+solana.PublicKeyLength])
	return pk
}
