package service

import (
	"crypto/rand"
	"math/big"
)

// referenceAlphabet leaves out 0/O and 1/I so references survive being
// read aloud or copied by hand.
const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const referenceLength = 8

// NewBookingReference returns a random reference such as BK7QK2M9XA.
// Uniqueness is checked by the repository, which retries on collision.
func NewBookingReference() (string, error) {
	buf := make([]byte, 2, 2+referenceLength)
	copy(buf, "BK")
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := 0; i < referenceLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf = append(buf, referenceAlphabet[n.Int64()])
	}
	return string(buf), nil
}
