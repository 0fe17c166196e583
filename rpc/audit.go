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

package rpc

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/lukium/ats-kms-enclave/audit"
)

type auditRangeParams struct {
	FromSeq uint64 `json:"fromSeq"`
	ToSeq   uint64 `json:"toSeq"`
}

func handleGetAuditLog(s *Server, req Request) (interface{}, error) {
	var p auditRangeParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.ToSeq < p.FromSeq {
		return nil, invalidParams("toSeq must be >= fromSeq")
	}

	n := uint64(s.chain.Len())
	if n == 0 {
		return []audit.Entry{}, nil
	}
	from, to := p.FromSeq, p.ToSeq
	if from == 0 {
		from = 1
	}
	if to == 0 || to > n {
		to = n
	}
	if from > to {
		return []audit.Entry{}, nil
	}

	entries := make([]audit.Entry, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		entry, err := s.chain.GetEntry(seq)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type verifyResultWire struct {
	Valid       bool     `json:"valid"`
	Verified    int      `json:"verified"`
	Errors      []string `json:"errors,omitempty"`
	BreakSeqNum uint64   `json:"breakSeqNum,omitempty"`
}

func handleVerifyAuditChain(s *Server, req Request) (interface{}, error) {
	result, err := s.chain.VerifyChain()
	if err != nil {
		return nil, err
	}
	return verifyResultWire{
		Valid:       result.Valid,
		Verified:    result.Verified,
		Errors:      result.Errors,
		BreakSeqNum: result.BreakSeqNum,
	}, nil
}

type auditPublicKeyParams struct {
	UserID string `json:"userId,omitempty"`
}

type auditPublicKeyResult struct {
	Kind      string `json:"kind"` // UAK or KIAK
	PublicKey string `json:"publicKey"`
}

// handleGetAuditPublicKey returns the key a caller needs to verify audit
// entries itself: a user's cached UAK public key, if one has signed at
// least one entry, otherwise the enclave instance's KIAK public key.
func handleGetAuditPublicKey(s *Server, req Request) (interface{}, error) {
	var p auditPublicKeyParams
	if len(req.Params) > 0 {
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
	}

	if p.UserID != "" {
		if pub, ok := audit.CachedUAKPublicKey(s.store, p.UserID); ok {
			return auditPublicKeyResult{Kind: "UAK", PublicKey: base64.RawURLEncoding.EncodeToString(pub)}, nil
		}
	}

	kiak, err := audit.LoadOrCreateKIAK(s.store)
	if err != nil {
		return nil, err
	}
	pub, ok := kiak.KeyPair.PublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, invalidParams("instance KIAK public key has unexpected type")
	}
	return auditPublicKeyResult{Kind: "KIAK", PublicKey: base64.RawURLEncoding.EncodeToString(pub)}, nil
}
