package utils

import (
	"testing"
	"time"

	"wablast/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	encrypted, err := Encrypt("waha-api-key-123")
	require.NoError(t, err)
	assert.NotEqual(t, "waha-api-key-123", encrypted)

	decrypted, err := Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "waha-api-key-123", decrypted)

	// empty values pass through
	out, err := Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecryptGarbage(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	_, err := Decrypt("not base64!!!")
	assert.Error(t, err)
}

func TestJWTRoundTrip(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"

	token, err := GenerateJWTToken(42, 3, time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWTToken(token)
	require.NoError(t, err)
	assert.EqualValues(t, 42, claims.UserID)
	assert.Equal(t, 3, claims.TokenVersion)
}

func TestJWTExpired(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"

	token, err := GenerateJWTToken(42, 1, -time.Minute)
	require.NoError(t, err)

	_, err = ParseJWTToken(token)
	assert.Error(t, err)
}

func TestJWTWrongSecret(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	token, err := GenerateJWTToken(42, 1, time.Hour)
	require.NoError(t, err)

	config.AppConfig.JWTSecret = "different-secret"
	_, err = ParseJWTToken(token)
	assert.Error(t, err)
}
