package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = bytes.Repeat([]byte{7}, keyLength)

func TestEncryptDecrypt(t *testing.T) {
	for _, plain := range []string{"", "hello", "a longer note body with ünïcode"} {
		sealed, err := Encrypt(plain, testKey)
		require.NoError(t, err)
		assert.NotEqual(t, plain, sealed)

		opened, err := Decrypt(sealed, testKey)
		require.NoError(t, err)
		assert.Equal(t, plain, opened)
	}
}

func TestEncrypt_NonceVaries(t *testing.T) {
	a, err := Encrypt("same", testKey)
	require.NoError(t, err)
	b, err := Encrypt("same", testKey)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_Errors(t *testing.T) {
	sealed, err := Encrypt("secret", testKey)
	require.NoError(t, err)

	_, err = Decrypt(sealed, bytes.Repeat([]byte{8}, keyLength))
	assert.ErrorIs(t, err, ErrDecryptionFailure)

	_, err = Decrypt("not base64!", testKey)
	assert.ErrorIs(t, err, ErrMalformedCipher)

	_, err = Decrypt("AAAA", testKey)
	assert.ErrorIs(t, err, ErrMalformedCipher)

	_, err = Decrypt(sealed, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
