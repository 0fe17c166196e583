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
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
)

// NewEd25519KeyPair wraps an existing Ed25519 private key as a KeyPair.
func NewEd25519KeyPair(privateKey ed25519.PrivateKey, id string) (kmscrypto.KeyPair, error) {
	publicKey := privateKey.Public().(ed25519.PublicKey)

	if id == "" {
		hash := sha256.Sum256(publicKey)
		id = hex.EncodeToString(hash[:8])
	}

	return &ed25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

// publicKeyOnlyEd25519 wraps an Ed25519 public key for verification only.
type publicKeyOnlyEd25519 struct {
	publicKey ed25519.PublicKey
	id        string
}

func (pk *publicKeyOnlyEd25519) PublicKey() crypto.PublicKey   { return pk.publicKey }
func (pk *publicKeyOnlyEd25519) PrivateKey() crypto.PrivateKey { return nil }
func (pk *publicKeyOnlyEd25519) Type() kmscrypto.KeyType       { return kmscrypto.KeyTypeEd25519 }

func (pk *publicKeyOnlyEd25519) Sign(message []byte) ([]byte, error) {
	return nil, errors.New("cannot sign with public key only")
}

func (pk *publicKeyOnlyEd25519) Verify(message, signature []byte) error {
	if !ed25519.Verify(pk.publicKey, message, signature) {
		return kmscrypto.ErrInvalidSignature
	}
	return nil
}

func (pk *publicKeyOnlyEd25519) ID() string { return pk.id }

// NewPublicKeyOnlyEd25519 wraps a bare Ed25519 public key for verification,
// used when audit chain verification only has a signer's public key on file.
func NewPublicKeyOnlyEd25519(publicKey ed25519.PublicKey, id string) kmscrypto.KeyPair {
	if id == "" {
		hash := sha256.Sum256(publicKey)
		id = hex.EncodeToString(hash[:8])
	}
	return &publicKeyOnlyEd25519{publicKey: publicKey, id: id}
}

// publicKeyOnlyP256 wraps an ECDSA P-256 public key for verification only.
type publicKeyOnlyP256 struct {
	publicKey *ecdsa.PublicKey
	id        string
}

func (pk *publicKeyOnlyP256) PublicKey() crypto.PublicKey   { return pk.publicKey }
func (pk *publicKeyOnlyP256) PrivateKey() crypto.PrivateKey { return nil }
func (pk *publicKeyOnlyP256) Type() kmscrypto.KeyType       { return kmscrypto.KeyTypeP256 }

func (pk *publicKeyOnlyP256) Sign(message []byte) ([]byte, error) {
	return nil, errors.New("cannot sign with public key only")
}

func (pk *publicKeyOnlyP256) Verify(message, signature []byte) error {
	hash := sha256.Sum256(message)
	return verifyP1363(pk.publicKey, hash[:], signature)
}

func (pk *publicKeyOnlyP256) ID() string { return pk.id }

// NewPublicKeyOnlyP256 wraps a bare P-256 public key for verification only.
func NewPublicKeyOnlyP256(publicKey *ecdsa.PublicKey, id string) kmscrypto.KeyPair {
	if id == "" {
		id = p256KeyID(publicKey)
	}
	return &publicKeyOnlyP256{publicKey: publicKey, id: id}
}
