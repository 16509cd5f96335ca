// Package cryptox implements the cryptographic primitives used by the
// protocol: argon2id password hashing, AES-GCM field encryption with the
// per-connection session secret, and X25519 key agreement for the handshake.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// SessionSecretSize is the exact length of a derived session secret.
	SessionSecretSize = 32

	gcmNonceSize = 12
	saltSize     = 32
)

// NewSalt returns a fresh random password salt.
func NewSalt() []byte {
	return common.GenerateRandByteArray(saltSize)
}

// HashPassword derives a 32-byte argon2id hash from a password and salt.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

// VerifyPassword reports whether the candidate password matches the stored
// hash. The comparison is constant-time.
func VerifyPassword(password string, salt, hash []byte) bool {
	candidate := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

// EncryptField encrypts a single logical packet field with AES-256-GCM and
// returns base64(nonce || ciphertext). The key must be a valid AES key
// length; session secrets are always 32 bytes (AES-256).
func EncryptField(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptField reverses EncryptField. A malformed base64 payload, a
// truncated nonce, or a GCM authentication failure all yield an error and
// never partially decrypted data.
func DecryptField(encoded string, key []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	if len(raw) < gcmNonceSize {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	plaintext, err := aesgcm.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("cipher open: %w", err)
	}

	return string(plaintext), nil
}

// SessionSecretFromShared hashes a raw ECDH shared secret into the 32-byte
// session secret stored on the connection. The caller is responsible for
// wiping the raw shared secret afterwards.
func SessionSecretFromShared(shared []byte) []byte {
	sum := sha256.Sum256(shared)
	return sum[:]
}
