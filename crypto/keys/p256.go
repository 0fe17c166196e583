// Copyright (C) 2025 ats-kms-enclave contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"time"

	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/internal/metrics"
)

// p256KeyPair implements the KeyPair interface for the P-256 (secp256r1)
// curve used throughout this enclave for VAPID signing keys.
type p256KeyPair struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	id         string
}

// p256KeyID derives a stable key identifier from the uncompressed point
// encoding of a P-256 public key: 0x04 || X || Y, SHA-256'd and truncated.
func p256KeyID(publicKey *ecdsa.PublicKey) string {
	hash := sha256.Sum256(uncompressedPoint(publicKey))
	return hex.EncodeToString(hash[:8])
}

// uncompressedPoint encodes a P-256 public key as 0x04 || X || Y, manually
// assembled (rather than via the deprecated elliptic.Marshal) so the two
// coordinates are always exactly 32 bytes, zero-padded.
func uncompressedPoint(publicKey *ecdsa.PublicKey) []byte {
	out := make([]byte, 1+32+32)
	out[0] = 0x04
	publicKey.X.FillBytes(out[1:33])
	publicKey.Y.FillBytes(out[33:65])
	return out
}

// GenerateP256KeyPair generates a fresh P-256 key pair.
func GenerateP256KeyPair() (kmscrypto.KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	publicKey := &privateKey.PublicKey
	return &p256KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         p256KeyID(publicKey),
	}, nil
}

// NewP256KeyPair wraps an existing P-256 private key, e.g. one just
// unmarshaled from a PKCS#8 blob decrypted out of wrapped storage.
func NewP256KeyPair(privateKey *ecdsa.PrivateKey, id string) (kmscrypto.KeyPair, error) {
	if privateKey.Curve != elliptic.P256() {
		return nil, kmscrypto.ErrInvalidKeyType
	}
	if id == "" {
		id = p256KeyID(&privateKey.PublicKey)
	}
	return &p256KeyPair{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		id:         id,
	}, nil
}

func (kp *p256KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *p256KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *p256KeyPair) Type() kmscrypto.KeyType       { return kmscrypto.KeyTypeP256 }
func (kp *p256KeyPair) ID() string                    { return kp.id }

// PublicKeyRaw returns the 65-byte uncompressed point encoding, the form
// spec.md's JWK/thumbprint pipeline expects for a VAPID public key.
func (kp *p256KeyPair) PublicKeyRaw() []byte {
	return uncompressedPoint(kp.publicKey)
}

// Sign produces a 64-byte raw (P-1363, R‖S) ECDSA signature over SHA-256(message).
func (kp *p256KeyPair) Sign(message []byte) (sig []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("sign", "p256").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("sign").Inc()
			return
		}
		metrics.CryptoOperations.WithLabelValues("sign", "p256").Inc()
	}()
	hash := sha256.Sum256(message)
	sig, err = SignP1363(kp.privateKey, hash[:])
	return sig, err
}

// Verify accepts a raw 64-byte P-1363 signature over SHA-256(message).
func (kp *p256KeyPair) Verify(message, signature []byte) (err error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("verify", "p256").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("verify").Inc()
			return
		}
		metrics.CryptoOperations.WithLabelValues("verify", "p256").Inc()
	}()
	hash := sha256.Sum256(message)
	err = verifyP1363(kp.publicKey, hash[:], signature)
	return err
}

// SignP1363 signs a pre-hashed digest and returns the raw 64-byte (R‖S)
// encoding JWT libraries expect for ES256, rather than ASN.1 DER.
func SignP1363(privateKey *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, privateKey, digest)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 64)
	rBytes, sBytes := r.Bytes(), s.Bytes()
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	return sig, nil
}

func verifyP1363(publicKey *ecdsa.PublicKey, digest, signature []byte) error {
	if len(signature) != 64 {
		return kmscrypto.ErrInvalidSignature
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	if !ecdsa.Verify(publicKey, digest, r, s) {
		return kmscrypto.ErrInvalidSignature
	}
	return nil
}

// derSignature mirrors the two-integer SEQUENCE asn1 encodes an ECDSA
// signature as.
type derSignature struct {
	R, S *big.Int
}

// P1363ToDER converts a raw 64-byte (R‖S) signature to ASN.1 DER, needed
// when interoperating with libraries (e.g. x509 verification paths) that
// expect the standard Go ecdsa DER encoding instead of P-1363.
func P1363ToDER(sig []byte) ([]byte, error) {
	if len(sig) != 64 {
		return nil, kmscrypto.ErrInvalidSignature
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return asn1.Marshal(derSignature{R: r, S: s})
}

// DERToP1363 converts an ASN.1 DER-encoded ECDSA signature to the raw
// 64-byte (R‖S) form used throughout this package.
func DERToP1363(der []byte) ([]byte, error) {
	var sig derSignature
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, kmscrypto.ErrInvalidSignature
	}
	out := make([]byte, 64)
	rBytes, sBytes := sig.R.Bytes(), sig.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 {
		return nil, kmscrypto.ErrInvalidSignature
	}
	copy(out[32-len(rBytes):32], rBytes)
	copy(out[64-len(sBytes):64], sBytes)
	return out, nil
}
