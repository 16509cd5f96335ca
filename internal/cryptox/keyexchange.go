package cryptox

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// PublicKeySize is the wire size of an X25519 public key.
const PublicKeySize = 32

// GenerateKeyPair creates a fresh X25519 key pair. The private key is
// returned to the caller, who must wipe it once the shared secret has been
// derived.
func GenerateKeyPair() (private, public []byte, err error) {
	private = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return nil, nil, err
	}

	public, err = curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}

	return private, public, nil
}

// SharedSecret computes the raw X25519 shared secret between a local private
// key and a remote public key. It rejects keys of the wrong length and
// low-order points (curve25519 returns an error for an all-zero result).
func SharedSecret(private, remotePublic []byte) ([]byte, error) {
	if len(remotePublic) != PublicKeySize {
		return nil, fmt.Errorf("remote public key must be %d bytes, got %d", PublicKeySize, len(remotePublic))
	}

	shared, err := curve25519.X25519(private, remotePublic)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}

	return shared, nil
}
