package transport

import (
	"golang.org/x/crypto/sha3"
)

// DefaultHash is the host-side instance of the "256-bit sponge" the
// device specifies (spec §1, §4.1): SHA3-256, a Keccak sponge
// construction, standing in for the hardware-accelerated primitive a
// real platform would wire through Hash.
func DefaultHash(data []byte) [32]byte {
	return sha3.Sum256(data)
}
