package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Fixed HKDF info strings, domain-separating every key this enclave ever
// derives from a user's master secret so that no two purposes can collide
// on the same derived bytes even if the MS is reused across contexts.
const (
	InfoMKEK       = "ATS/KMS/MKEK/v1"
	InfoSessionKEK = "ATS/KMS/SessionKEK/v1"
	InfoUAK        = "ATS/KMS/UAK/v1"
)

const pbkdf2DerivedLen = 64 // keyBytes(32) ‖ verificationBytes(32)

// PBKDF2Derive derives 64 bytes from a passphrase and salt, split as
// keyBytes(32) ‖ verificationBytes(32). keyBytes wraps the AES-GCM
// ciphertext; kcv = SHA-256(verificationBytes) is safe to store alongside
// the wrapped blob and lets credential verify a passphrase without ever
// attempting (and risking a misleading partial decrypt of) the real
// ciphertext.
func PBKDF2Derive(passphrase string, salt []byte, iterations int) (key, kcv []byte) {
	derived := pbkdf2.Key([]byte(passphrase), salt, iterations, pbkdf2DerivedLen, sha256.New)
	key = derived[:32]
	kcv = DeriveKCV(derived[32:])
	return key, kcv
}

// DeriveKCV computes the key-confirmation value from the verification
// half of a PBKDF2Derive split: SHA-256(verificationBytes).
func DeriveKCV(verificationBytes []byte) []byte {
	sum := sha256.Sum256(verificationBytes)
	return sum[:]
}

// CalibrateIterations finds the PBKDF2 iteration count that makes one
// derivation take approximately target. It runs a short calibration
// derivation and scales linearly, the same way a one-shot timing
// measurement calibrates any linear-cost primitive.
func CalibrateIterations(target time.Duration) (iterations int, iterationsPerSec float64) {
	const probeIterations = 10_000
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)

	start := time.Now()
	pbkdf2.Key([]byte("calibration-probe"), salt, probeIterations, pbkdf2DerivedLen, sha256.New)
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Microsecond
	}

	iterationsPerSec = float64(probeIterations) / elapsed.Seconds()
	iterations = int(iterationsPerSec * target.Seconds())
	if iterations < probeIterations {
		iterations = probeIterations
	}
	return iterations, iterationsPerSec
}

// HKDFDerive derives length bytes from ms using HKDF-SHA256 with the given
// salt and purpose-specific info string.
func HKDFDerive(ms, salt []byte, info string, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, ms, salt, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf derive: %w", err)
	}
	return out, nil
}
