package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Archive layout: salt(32) || iv(16) || authTag(16) || ciphertext
const (
	SaltSize   = 32
	IVSize     = 16
	TagSize    = 16
	HeaderSize = SaltSize + IVSize + TagSize
	KeySize    = 32

	// DefaultKDFIterations is the PBKDF2-SHA512 work factor
	DefaultKDFIterations = 100000

	encryptedSuffix = ".enc"
)

// EncryptionStats contains statistics about encryption operations
type EncryptionStats struct {
	OriginalSize  int64         `json:"original_size"`
	EncryptedSize int64         `json:"encrypted_size"`
	Algorithm     string        `json:"algorithm"`
	KeyDerivation string        `json:"key_derivation"`
	Duration      time.Duration `json:"duration"`
}

// EncryptionManager encrypts archives with AES-256-GCM under a password-derived key.
// It holds no key material; every call derives a fresh key from a fresh salt.
type EncryptionManager struct {
	iterations int
	random     io.Reader
}

// NewEncryptionManager creates an encryption manager; iterations <= 0 selects the default
func NewEncryptionManager(iterations int) *EncryptionManager {
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}
	return &EncryptionManager{
		iterations: iterations,
		random:     rand.Reader,
	}
}

// Encrypt seals data; identical inputs never produce identical output
func (em *EncryptionManager) Encrypt(data []byte, password string) ([]byte, *EncryptionStats, error) {
	if password == "" {
		return nil, nil, NewConfigurationError("encryption password is empty", nil)
	}

	start := time.Now()

	header := make([]byte, SaltSize+IVSize)
	if _, err := io.ReadFull(em.random, header); err != nil {
		return nil, nil, NewEncryptionError("failed to generate salt and IV", err)
	}
	salt, iv := header[:SaltSize], header[SaltSize:]

	gcm, err := em.newGCM(password, salt)
	if err != nil {
		return nil, nil, err
	}

	// Seal appends the tag to the ciphertext; the archive stores it ahead of the ciphertext
	sealed := gcm.Seal(nil, iv, data, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, HeaderSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)

	stats := &EncryptionStats{
		OriginalSize:  int64(len(data)),
		EncryptedSize: int64(len(out)),
		Algorithm:     "AES-256-GCM",
		KeyDerivation: "PBKDF2-SHA512-" + strconv.Itoa(em.iterations),
		Duration:      time.Since(start),
	}

	return out, stats, nil
}

// Decrypt opens an archive produced by Encrypt. A wrong password or any modified
// byte fails tag verification and returns an AUTHENTICATION_FAILED error.
func (em *EncryptionManager) Decrypt(data []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, NewConfigurationError("encryption password is empty", nil)
	}
	if len(data) < HeaderSize {
		return nil, NewCorruptArchiveError(fmt.Sprintf("encrypted archive is %d bytes, shorter than the %d byte header", len(data), HeaderSize), nil)
	}

	salt := data[:SaltSize]
	iv := data[SaltSize : SaltSize+IVSize]
	tag := data[SaltSize+IVSize : HeaderSize]
	ciphertext := data[HeaderSize:]

	gcm, err := em.newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, NewAuthenticationError("archive authentication failed: wrong password or tampered data", err)
	}

	return plaintext, nil
}

func (em *EncryptionManager) newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, em.iterations, KeySize, sha512.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}

	return gcm, nil
}

// TenantPassword derives the per-tenant archive password from the system secret
func TenantPassword(systemSecret string, tenantID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-tenant-%d-backup", systemSecret, tenantID)))
	return hex.EncodeToString(sum[:])
}

// Checksum returns the hex SHA-256 of the stored bytes
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum compares data against an expected hex digest in constant time
func VerifyChecksum(data []byte, expected string) bool {
	actual := Checksum(data)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1
}
