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
	"strings"
	"time"
)

// kmsVersion is stamped on every entry and delegation cert this enclave
// produces.
const kmsVersion = 2

// zeroHash is previousHash for the first entry in the chain: 64 zero hex
// characters, the same width as a hex-encoded SHA-256 digest.
var zeroHash = strings.Repeat("0", 64)

// SignerKind identifies which tier of the audit key hierarchy produced
// an entry's signature.
type SignerKind string

const (
	SignerUAK  SignerKind = "UAK"
	SignerLAK  SignerKind = "LAK"
	SignerKIAK SignerKind = "KIAK"
)

// Entry is one append-only, hash-chained audit record.
type Entry struct {
	KMSVersion   int             `json:"kmsVersion"`
	SeqNum       uint64          `json:"seqNum"`
	Timestamp    time.Time       `json:"timestamp"`
	Op           string          `json:"op"`
	Kid          string          `json:"kid,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Origin       string          `json:"origin,omitempty"`
	LeaseID      string          `json:"leaseId,omitempty"`
	UnlockTime   *time.Time      `json:"unlockTime,omitempty"`
	LockTime     *time.Time      `json:"lockTime,omitempty"`
	DurationMS   *int64          `json:"duration,omitempty"`
	Details      map[string]any  `json:"details,omitempty"`
	PreviousHash string          `json:"previousHash"`
	ChainHash    string          `json:"chainHash,omitempty"`
	Signer       SignerKind      `json:"signer"`
	SignerID     string          `json:"signerId"`
	Cert         *DelegationCert `json:"cert,omitempty"`
	Sig          string          `json:"sig,omitempty"`
}

// OpInput is the caller-supplied content of a new audit entry; Chain
// fills in seqNum, timestamp, previousHash, chainHash and the signature.
type OpInput struct {
	Op         string
	Kid        string
	UserID     string
	Origin     string
	LeaseID    string
	RequestID  string
	UnlockTime *time.Time
	LockTime   *time.Time
	Duration   *time.Duration
	Details    map[string]any
}

// VerifyResult is the outcome of a full chain walk.
type VerifyResult struct {
	Valid       bool
	Verified    int
	Errors      []string
	BreakSeqNum uint64
}
