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

// Package credential owns the Master Secret lifecycle: enrolling a user
// under one or more authentication methods, unlocking (recovering MS
// into a scoped, zeroized-on-exit buffer), and the withUnlock primitive
// every user-authenticated operation in this enclave runs through.
package credential

import (
	"time"

	"github.com/lukium/ats-kms-enclave/internal/canonicaljson"
)

// Method names one of the three ways a user can authenticate to recover
// their Master Secret. AuthCredentials and EnrollmentConfig are Go sum
// types over Method, the same "one struct, tag-switched construction"
// shape crypto/formats/jwk.go uses for its Kty-tagged JWK.
type Method string

const (
	MethodPassphrase  Method = "passphrase"
	MethodPasskeyPRF  Method = "passkey-prf"
	MethodPasskeyGate Method = "passkey-gate"
)

const (
	msAlgVersion  = 1
	msPurpose     = "master-secret"
	msKMSVersion  = 2
	minPassphrase = 8
)

// AuthCredentials is what a caller presents to authenticate. Only the
// fields relevant to Method are meaningful; Validate enforces that.
type AuthCredentials struct {
	UserID string
	Method Method

	// MethodPassphrase
	Passphrase string

	// MethodPasskeyPRF / MethodPasskeyGate
	CredentialID string
	PRFOutput    []byte // MethodPasskeyPRF only, 32 bytes
}

// Validate checks that the fields required by Method are present and
// well-formed, without attempting to authenticate.
func (c AuthCredentials) Validate() error {
	if c.UserID == "" {
		return ErrInvalidCredentials
	}
	switch c.Method {
	case MethodPassphrase:
		if len(c.Passphrase) < minPassphrase {
			return ErrPassphraseTooShort
		}
	case MethodPasskeyPRF:
		if c.CredentialID == "" || len(c.PRFOutput) != 32 {
			return ErrInvalidCredentials
		}
	case MethodPasskeyGate:
		if c.CredentialID == "" {
			return ErrInvalidCredentials
		}
	default:
		return ErrInvalidCredentials
	}
	return nil
}

// EnrollmentConfig is the persisted record for one (userId, method,
// credentialId?) enrollment. Only the fields relevant to Method are
// populated; the rest stay zero.
type EnrollmentConfig struct {
	EnrollmentID string
	UserID       string
	Method       Method
	CredentialID string // passkey methods only
	CreatedAt    time.Time

	// Passphrase
	Iterations       int
	Salt             []byte
	LastCalibratedAt time.Time
	PlatformHash     string
	KCV              []byte

	// Passkey-PRF
	RPID     string
	AppSalt  []byte
	HKDFSalt []byte
	Info     string

	// Passkey-gate
	PepperWrapped []byte

	// Common MS ciphertext envelope
	EncryptedMS []byte
	MSIV        []byte
	MSAAD       []byte
	MSVersion   int
}

// msAAD is the additional authenticated data bound into every
// encryptedMS ciphertext: {kmsVersion, method, algVersion, purpose,
// credentialId?}. Binding method and credentialId means a ciphertext
// produced for one enrollment can never be transplanted to another.
type msAADFields struct {
	KMSVersion   int    `json:"kmsVersion"`
	Method       Method `json:"method"`
	AlgVersion   int    `json:"algVersion"`
	Purpose      string `json:"purpose"`
	CredentialID string `json:"credentialId,omitempty"`
}

func buildMSAAD(method Method, credentialID string) ([]byte, error) {
	return canonicaljson.Marshal(msAADFields{
		KMSVersion:   msKMSVersion,
		Method:       method,
		AlgVersion:   msAlgVersion,
		Purpose:      msPurpose,
		CredentialID: credentialID,
	})
}
