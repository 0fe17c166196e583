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

// Package audit implements the tamper-evident, hash-chained, Ed25519
// -signed audit log: a three-tier signer hierarchy (UAK/LAK/KIAK)
// rooted in a user's Master Secret, delegation certificates that let a
// lease or the enclave instance sign on the user's behalf within a
// scope and time window, and a canonical-JSON chain hash binding every
// entry to its predecessor.
package audit

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/crypto/keys"
	"github.com/lukium/ats-kms-enclave/internal/metrics"
	"github.com/lukium/ats-kms-enclave/store"
)

// Signer is a ready-to-use audit signing identity: the private key
// material and, for LAK/KIAK, the delegation cert that authorizes it.
// Chain never manages signer lifetimes itself — credential supplies a
// UAK signer from inside withUnlock, keyengine supplies an LAK signer
// from inside a lease, and signers.go supplies the instance's KIAK.
type Signer struct {
	Kind    SignerKind
	KeyPair kmscrypto.KeyPair
	Cert    *DelegationCert
}

// Chain is an append-only, hash-chained audit log over one store's
// audit collection. Append is serialized through a single mutex,
// mirroring the store's own per-write lock: seqNum monotonicity is a
// single-writer invariant, not a CAS loop.
type Chain struct {
	mu    sync.Mutex
	store store.AuditCollection
	meta  store.Store
}

// New creates a Chain over the audit collection of s.
func New(s store.Store) *Chain {
	return &Chain{store: s.Audit(), meta: s}
}

// Append builds, signs and persists the next entry in the chain.
func (c *Chain) Append(signer Signer, in OpInput) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := uint64(c.store.Len()) + 1
	prevHash := zeroHash
	if seq > 1 {
		last, err := c.store.GetBySeq(seq - 1)
		if err == nil {
			var prevEntry Entry
			if jsonErr := json.Unmarshal(last.Data, &prevEntry); jsonErr == nil {
				prevHash = prevEntry.ChainHash
			}
		}
	}

	entry := Entry{
		KMSVersion:   kmsVersion,
		SeqNum:       seq,
		Timestamp:    nowUTC(),
		Op:           in.Op,
		Kid:          in.Kid,
		RequestID:    in.RequestID,
		UserID:       in.UserID,
		Origin:       in.Origin,
		LeaseID:      in.LeaseID,
		UnlockTime:   in.UnlockTime,
		LockTime:     in.LockTime,
		Details:      in.Details,
		PreviousHash: prevHash,
		Signer:       signer.Kind,
		SignerID:     signerID(signer.KeyPair),
		Cert:         signer.Cert,
	}
	if in.Duration != nil {
		ms := in.Duration.Milliseconds()
		entry.DurationMS = &ms
	}

	hashBytes, err := chainHashOf(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: compute chain hash: %w", err)
	}
	entry.ChainHash = hex.EncodeToString(hashBytes)

	sig, err := signer.KeyPair.Sign(hashBytes)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: sign entry: %w", err)
	}
	entry.Sig = base64.RawURLEncoding.EncodeToString(sig)

	blob, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal entry: %w", err)
	}

	gotSeq, err := c.store.Append(entry.Timestamp, blob)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: persist entry: %w", err)
	}
	if gotSeq != seq {
		return Entry{}, ErrSeqNumRace
	}

	if cacheable, ok := asUAKCacheable(signer); ok {
		_ = cacheUAKPublicKey(c.meta, in.UserID, cacheable)
	}

	metrics.AuditAppends.WithLabelValues(in.Op).Inc()
	return entry, nil
}

// GetEntry fetches one entry by sequence number.
func (c *Chain) GetEntry(seq uint64) (Entry, error) {
	rec, err := c.store.GetBySeq(seq)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(rec.Data, &entry); err != nil {
		return Entry{}, fmt.Errorf("audit: unmarshal entry: %w", err)
	}
	return entry, nil
}

// Len reports how many entries the chain currently holds.
func (c *Chain) Len() int { return c.store.Len() }

// VerifyChain walks every entry in ascending seqNum order, checking
// hash-chain continuity, chainHash recomputation, and signature
// validity (including, for LAK entries, the attached cert's UAK
// signature, freshness and scope). It stops and reports the first
// break it finds.
func (c *Chain) VerifyChain() (VerifyResult, error) {
	result := VerifyResult{Valid: true}
	prevHash := zeroHash

	n := c.store.Len()
	for seq := uint64(1); seq <= uint64(n); seq++ {
		entry, err := c.GetEntry(seq)
		if err != nil {
			result.Valid = false
			result.BreakSeqNum = seq
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: read failed: %v", seq, err))
			return result, nil
		}

		if entry.PreviousHash != prevHash {
			result.Valid = false
			result.BreakSeqNum = seq
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: previousHash mismatch", seq))
			metrics.AuditVerifyFailures.WithLabelValues("seq_gap").Inc()
			return result, nil
		}

		hashBytes, err := chainHashOf(entry)
		if err != nil {
			result.Valid = false
			result.BreakSeqNum = seq
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: chainHash computation failed: %v", seq, err))
			metrics.AuditVerifyFailures.WithLabelValues("hash_mismatch").Inc()
			return result, nil
		}
		if entry.ChainHash != hex.EncodeToString(hashBytes) {
			result.Valid = false
			result.BreakSeqNum = seq
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: chainHash mismatch", seq))
			metrics.AuditVerifyFailures.WithLabelValues("hash_mismatch").Inc()
			return result, nil
		}

		if err := c.verifySignature(entry, hashBytes); err != nil {
			result.Valid = false
			result.BreakSeqNum = seq
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: %v", seq, err))
			metrics.AuditVerifyFailures.WithLabelValues("signature_invalid").Inc()
			return result, nil
		}

		result.Verified++
		prevHash = entry.ChainHash
	}

	return result, nil
}

func (c *Chain) verifySignature(entry Entry, hashBytes []byte) error {
	sigBytes, err := base64.RawURLEncoding.DecodeString(entry.Sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	switch entry.Signer {
	case SignerUAK:
		pub, ok := lookupUAKPublicKey(c.meta, entry.UserID)
		if !ok {
			return ErrNoUAKPublicKey
		}
		verifier := keys.NewPublicKeyOnlyEd25519(pub, "")
		return verifier.Verify(hashBytes, sigBytes)

	case SignerLAK:
		if entry.Cert == nil {
			return ErrMissingCert
		}
		uakPub, ok := lookupUAKPublicKey(c.meta, entry.UserID)
		if !ok {
			return ErrNoUAKPublicKey
		}
		if err := VerifyCert(*entry.Cert, uakPub, entry.Timestamp); err != nil {
			return err
		}
		if !CertAllowsOp(*entry.Cert, entry.Op) {
			return ErrCertScopeDenied
		}
		delegatePub, err := DelegatePublicKey(*entry.Cert)
		if err != nil {
			return err
		}
		verifier := keys.NewPublicKeyOnlyEd25519(delegatePub, "")
		return verifier.Verify(hashBytes, sigBytes)

	case SignerKIAK:
		pub, ok := lookupKIAKPublicKey(c.meta)
		if !ok {
			return ErrNoKIAKPublicKey
		}
		verifier := keys.NewPublicKeyOnlyEd25519(pub, "")
		return verifier.Verify(hashBytes, sigBytes)

	default:
		return ErrUnknownSigner
	}
}

func signerID(kp kmscrypto.KeyPair) string {
	pub, ok := kp.PublicKey().(ed25519.PublicKey)
	if !ok {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(hashSum(pub))
}

func asUAKCacheable(signer Signer) (ed25519.PublicKey, bool) {
	if signer.Kind != SignerUAK {
		return nil, false
	}
	pub, ok := signer.KeyPair.PublicKey().(ed25519.PublicKey)
	return pub, ok
}
