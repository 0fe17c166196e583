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

// Package keyengine owns VAPID key material: generating and wrapping the
// ES256 signing key under a user's Master Secret, signing RFC 8292 push
// JWTs against policy, and the lease model that lets a background worker
// issue JWTs for a bounded time without the user's credentials present.
package keyengine

import (
	"time"

	"github.com/lukium/ats-kms-enclave/audit"
)

// PushSubscription is the push service endpoint a VAPID key's JWTs are
// bound to: aud is derived from Endpoint's scheme+host, sub is the
// enclave's configured contact identity.
type PushSubscription struct {
	Endpoint       string     `json:"endpoint"`
	ExpirationTime *time.Time `json:"expirationTime,omitempty"`
	P256dh         string     `json:"p256dh,omitempty"`
	Auth           string     `json:"auth,omitempty"`
	EID            string     `json:"eid,omitempty"`
}

// WrappedKey is a VAPID signing key at rest: its PKCS#8-encoded private
// key sealed under MKEK, alongside the public material needed to answer
// getPublicKey/getVAPIDKid without ever unwrapping.
type WrappedKey struct {
	Kid          string            `json:"kid"`
	UserID       string            `json:"userId"`
	Purpose      string            `json:"purpose"` // vapid, audit-user, audit-instance
	Alg          string            `json:"alg"`      // ES256
	PublicKeyRaw []byte            `json:"publicKeyRaw"`
	WrappedKey   []byte            `json:"wrappedKey"`
	IV           []byte            `json:"iv"`
	AAD          []byte            `json:"aad"`
	MKEKSalt     []byte            `json:"mkekSalt"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastUsedAt   time.Time         `json:"lastUsedAt"`
	Subscription *PushSubscription `json:"subscription,omitempty"`
}

// Lease is a time-bounded delegation that lets IssueVAPIDJWT sign on a
// user's behalf with no credentials presented: the VAPID private key is
// re-wrapped under a SessionKEK derived fresh for the lease, and a LAK
// delegation cert authorizes the audit entries issuance produces.
type Lease struct {
	LeaseID           string               `json:"leaseId"`
	UserID            string               `json:"userId"`
	Kid               string               `json:"kid"`
	CreatedAt         time.Time            `json:"createdAt"`
	Exp               time.Time            `json:"exp"`
	AutoExtend        bool                 `json:"autoExtend"`
	LeaseSalt         []byte               `json:"leaseSalt"`
	WrappedLeaseKey   []byte               `json:"wrappedLeaseKey"`
	WrappedLeaseKeyIV []byte               `json:"wrappedLeaseKeyIv"`
	LeaseKeyAAD       []byte               `json:"leaseKeyAad"`
	LAKPublicKey      []byte               `json:"lakPublicKey"`
	WrappedLAKSeed    []byte               `json:"wrappedLakSeed"`
	WrappedLAKSeedIV  []byte               `json:"wrappedLakSeedIv"`
	LAKAAD            []byte               `json:"lakAad"`
	Cert              audit.DelegationCert `json:"cert"`
}
