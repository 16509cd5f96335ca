package cryptox

import (
	"testing"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_DeterministicPerSalt(t *testing.T) {
	salt := NewSalt()

	h1 := HashPassword("Passw0rd", salt)
	h2 := HashPassword("Passw0rd", salt)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)

	h3 := HashPassword("Passw0rd", NewSalt())
	assert.NotEqual(t, h1, h3)
}

func TestVerifyPassword(t *testing.T) {
	salt := NewSalt()
	hash := HashPassword("Passw0rd", salt)

	assert.True(t, VerifyPassword("Passw0rd", salt, hash))
	assert.False(t, VerifyPassword("passw0rd", salt, hash))
	assert.False(t, VerifyPassword("", salt, hash))
}

func TestEncryptDecryptField_RoundTrip(t *testing.T) {
	key := common.GenerateRandByteArray(32)

	enc, err := EncryptField("alice", key)
	require.NoError(t, err)
	assert.NotEqual(t, "alice", enc)

	dec, err := DecryptField(enc, key)
	require.NoError(t, err)
	assert.Equal(t, "alice", dec)
}

func TestDecryptField_WrongKey(t *testing.T) {
	key := common.GenerateRandByteArray(32)
	other := common.GenerateRandByteArray(32)

	enc, err := EncryptField("secret", key)
	require.NoError(t, err)

	_, err = DecryptField(enc, other)
	assert.Error(t, err)
}

func TestDecryptField_BadBase64(t *testing.T) {
	key := common.GenerateRandByteArray(32)

	_, err := DecryptField("%%%not-base64%%%", key)
	assert.Error(t, err)
}

func TestDecryptField_TruncatedNonce(t *testing.T) {
	key := common.GenerateRandByteArray(32)

	_, err := DecryptField("AAAA", key)
	assert.Error(t, err)
}

func TestGenerateKeyPair(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.Len(t, priv, 32)
	assert.Len(t, pub, 32)
}

func TestSharedSecret_BothSidesAgree(t *testing.T) {
	aPriv, aPub, err := GenerateKeyPair()
	require.NoError(t, err)
	bPriv, bPub, err := GenerateKeyPair()
	require.NoError(t, err)

	s1, err := SharedSecret(aPriv, bPub)
	require.NoError(t, err)
	s2, err := SharedSecret(bPriv, aPub)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.Len(t, SessionSecretFromShared(s1), SessionSecretSize)
}

func TestSharedSecret_RejectsShortKey(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = SharedSecret(priv, make([]byte, 31))
	assert.Error(t, err)
}
