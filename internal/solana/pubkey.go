package solana

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size in bytes of an account address.
const PublicKeyLength = 32

// ErrInvalidPublicKey is returned when an address does not decode to 32 bytes.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is a raw 32-byte account address.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %q: %v", ErrInvalidPublicKey, s, err)
	}
	if len(raw) != PublicKeyLength {
		return pk, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidPublicKey, s, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// String returns the base58 form of the key.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsZero reports whether the key is the all-zero default address.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}
