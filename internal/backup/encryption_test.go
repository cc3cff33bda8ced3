package backup

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastEncryption keeps KDF cost low for tests that do not exercise the work factor
func fastEncryption() *EncryptionManager {
	return NewEncryptionManager(1000)
}

func TestEncrypt_RoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":  {},
		"short":  []byte("patient 42"),
		"binary": {0x00, 0xff, 0x10, 0x80},
		"json":   []byte(`{"version":"3.0","tables":{}}`),
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			sealed, err := Encrypt(input, "clinic-password")
			require.NoError(t, err)

			opened, err := Decrypt(sealed, "clinic-password")
			require.NoError(t, err)
			assert.True(t, bytes.Equal(input, opened))
		})
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	em := fastEncryption()
	input := []byte("identical input")

	first, _, err := em.Encrypt(input, "pw")
	require.NoError(t, err)
	second, _, err := em.Encrypt(input, "pw")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, first[:SaltSize], second[:SaltSize], "salt must be re-randomized")
	assert.NotEqual(t, first[SaltSize:SaltSize+IVSize], second[SaltSize:SaltSize+IVSize], "IV must be re-randomized")

	for _, sealed := range [][]byte{first, second} {
		opened, err := em.Decrypt(sealed, "pw")
		require.NoError(t, err)
		assert.Equal(t, input, opened)
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	em := fastEncryption()
	sealed, _, err := em.Encrypt([]byte("secret clinical data"), "right")
	require.NoError(t, err)

	opened, err := em.Decrypt(sealed, "wrong")
	require.Error(t, err)
	assert.Nil(t, opened)
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))
	assert.True(t, IsIntegrityError(err))
}

func TestDecrypt_TamperedBytes(t *testing.T) {
	em := fastEncryption()
	sealed, _, err := em.Encrypt([]byte("secret clinical data"), "pw")
	require.NoError(t, err)

	positions := map[string]int{
		"salt":       0,
		"iv":         SaltSize,
		"tag":        SaltSize + IVSize,
		"ciphertext": HeaderSize,
	}

	for name, pos := range positions {
		t.Run(name, func(t *testing.T) {
			tampered := append([]byte(nil), sealed...)
			tampered[pos] ^= 0x01

			_, err := em.Decrypt(tampered, "pw")
			assert.True(t, errors.Is(err, ErrAuthenticationFailed))
		})
	}
}

func TestDecrypt_Truncated(t *testing.T) {
	_, err := fastEncryption().Decrypt(make([]byte, HeaderSize-1), "pw")
	assert.True(t, errors.Is(err, ErrCorruptArchive))
}

func TestEncrypt_OverheadInvariant(t *testing.T) {
	em := fastEncryption()
	for _, size := range []int{0, 1, 15, 16, 17, 1000} {
		input := make([]byte, size)
		sealed, stats, err := em.Encrypt(input, "pw")
		require.NoError(t, err)
		assert.Len(t, sealed, size+64)
		assert.Equal(t, int64(size+64), stats.EncryptedSize)
	}
}

func TestEncrypt_LargePayload(t *testing.T) {
	input := make([]byte, 1<<20)
	_, err := rand.Read(input)
	require.NoError(t, err)

	sealed, err := Encrypt(input, "pw")
	require.NoError(t, err)
	opened, err := Decrypt(sealed, "pw")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(input, opened))
}

func TestEncrypt_EmptyPassword(t *testing.T) {
	_, err := Encrypt([]byte("x"), "")
	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, BackupErrorTypeConfiguration, backupErr.Type)
}

func TestEncryptionStats(t *testing.T) {
	_, stats, err := NewEncryptionManager(0).Encrypt([]byte("abc"), "pw")
	require.NoError(t, err)
	assert.Equal(t, "AES-256-GCM", stats.Algorithm)
	assert.Equal(t, "PBKDF2-SHA512-100000", stats.KeyDerivation)
}

func TestTenantPassword(t *testing.T) {
	a := TenantPassword("system-secret", 1)
	b := TenantPassword("system-secret", 2)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, TenantPassword("system-secret", 1))
	assert.Equal(t, Checksum([]byte("system-secret-tenant-1-backup")), a)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(nil))
	assert.True(t, VerifyChecksum([]byte("abc"), Checksum([]byte("abc"))))
	assert.False(t, VerifyChecksum([]byte("abd"), Checksum([]byte("abc"))))
	assert.False(t, VerifyChecksum([]byte("abc"), ""))
}
