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

package audit

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"

	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/crypto/keys"
)

// DelegationCert authorizes a LAK or KIAK keypair to sign audit entries
// on the UAK's behalf, within a scope and time window.
type DelegationCert struct {
	Type         string     `json:"type"`
	Version      int        `json:"version"`
	SignerKind   SignerKind `json:"signerKind"`
	LeaseID      string     `json:"leaseId,omitempty"`
	InstanceID   string     `json:"instanceId,omitempty"`
	DelegatePub  string     `json:"delegatePub"`
	Scope        []string   `json:"scope"`
	NotBefore    time.Time  `json:"notBefore"`
	NotAfter     *time.Time `json:"notAfter,omitempty"`
	CodeHash     string     `json:"codeHash,omitempty"`
	ManifestHash string     `json:"manifestHash,omitempty"`
	KMSVersion   int        `json:"kmsVersion"`
	Sig          string     `json:"sig,omitempty"`
}

// NewLAKCert builds an (unsigned) delegation cert for a lease's LAK.
func NewLAKCert(leaseID string, delegatePub ed25519.PublicKey, scope []string, notBefore time.Time, notAfter time.Time) DelegationCert {
	return DelegationCert{
		Type:        "audit-delegation",
		Version:     1,
		SignerKind:  SignerLAK,
		LeaseID:     leaseID,
		DelegatePub: base64.RawURLEncoding.EncodeToString(delegatePub),
		Scope:       scope,
		NotBefore:   notBefore,
		NotAfter:    &notAfter,
		KMSVersion:  kmsVersion,
	}
}

// NewKIAKCert builds an (unsigned) delegation cert for the instance KIAK.
// KIAK certs have no expiry: the instance key is long-lived and is
// retired by rotation, not by time.
func NewKIAKCert(instanceID string, delegatePub ed25519.PublicKey, scope []string) DelegationCert {
	return DelegationCert{
		Type:        "audit-delegation",
		Version:     1,
		SignerKind:  SignerKIAK,
		InstanceID:  instanceID,
		DelegatePub: base64.RawURLEncoding.EncodeToString(delegatePub),
		Scope:       scope,
		NotBefore:   time.Now().UTC(),
		KMSVersion:  kmsVersion,
	}
}

// SignCert signs cert with the UAK keypair, returning the signed copy.
func SignCert(cert DelegationCert, uak kmscrypto.KeyPair) (DelegationCert, error) {
	blob, err := certSigningBytes(cert)
	if err != nil {
		return DelegationCert{}, err
	}
	sig, err := uak.Sign(blob)
	if err != nil {
		return DelegationCert{}, err
	}
	cert.Sig = base64.RawURLEncoding.EncodeToString(sig)
	return cert, nil
}

// VerifyCert checks a delegation cert's UAK signature and, if at is
// non-zero, its freshness window.
func VerifyCert(cert DelegationCert, uakPub ed25519.PublicKey, at time.Time) error {
	sigBytes, err := base64.RawURLEncoding.DecodeString(cert.Sig)
	if err != nil {
		return ErrInvalidCertSignature
	}
	blob, err := certSigningBytes(cert)
	if err != nil {
		return err
	}
	verifier := keys.NewPublicKeyOnlyEd25519(uakPub, "")
	if err := verifier.Verify(blob, sigBytes); err != nil {
		return ErrInvalidCertSignature
	}

	if !at.IsZero() {
		if at.Before(cert.NotBefore) {
			return ErrCertNotYetValid
		}
		if cert.NotAfter != nil && at.After(*cert.NotAfter) {
			return ErrCertExpired
		}
	}
	return nil
}

// CertAllowsOp reports whether cert's scope covers op.
func CertAllowsOp(cert DelegationCert, op string) bool {
	for _, s := range cert.Scope {
		if s == op {
			return true
		}
	}
	return false
}

// DelegatePublicKey decodes cert's delegate public key.
func DelegatePublicKey(cert DelegationCert) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cert.DelegatePub)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}
