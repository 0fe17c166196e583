package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/lukium/ats-kms-enclave/internal/metrics"
)

// ErrDecryptionFailed is returned when an AES-GCM open fails authentication —
// either the key, IV, AAD, or ciphertext don't match what was sealed.
var ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

// SealAESGCM encrypts plaintext under key with a fresh random 12-byte IV,
// binding aad (additional authenticated data, e.g. a key ID or purpose
// string) into the authentication tag without encrypting it.
func SealAESGCM(key, aad, plaintext []byte) (iv, ciphertext []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("wrap", "aes-gcm").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("wrap").Inc()
			return
		}
		metrics.CryptoOperations.WithLabelValues("wrap", "aes-gcm").Inc()
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("new GCM: %w", err)
	}

	iv = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generate IV: %w", err)
	}

	ciphertext = gcm.Seal(nil, iv, plaintext, aad)
	return iv, ciphertext, nil
}

// OpenAESGCM decrypts ciphertext sealed by SealAESGCM. A mismatched key,
// IV, aad, or a tampered ciphertext all surface as ErrDecryptionFailed —
// intentionally undifferentiated, so a caller can never distinguish "wrong
// key" from "tampered data" via the error alone.
func OpenAESGCM(key, iv, aad, ciphertext []byte) (plaintext []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("unwrap", "aes-gcm").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("unwrap").Inc()
			return
		}
		metrics.CryptoOperations.WithLabelValues("unwrap", "aes-gcm").Inc()
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new GCM: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err = gcm.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Zero overwrites b with zero bytes in place. Called on every withUnlock
// exit path to scrub a decrypted master secret or derived key from memory
// as soon as it is no longer needed; it cannot prevent a GC-moved copy
// from lingering, but it closes the deliberate-reuse window.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
