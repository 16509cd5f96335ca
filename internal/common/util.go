// Package common provides utility functions for working with random byte
// sequences and secure memory wiping.
package common

import (
	"crypto/rand"
)

// GenerateRandByteArray returns a slice of size cryptographically random bytes.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// WipeByteArray overwrites the contents of the provided byte slice with zeros.
// This is used to remove sensitive data such as private keys and raw shared
// secrets from memory after use. If the slice is nil, nothing happens.
func WipeByteArray(b []byte) {
	if b == nil {
		return
	}
	for i := range b {
		b[i] = 0
	}
}
