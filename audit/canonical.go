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
	"crypto/sha256"

	"github.com/lukium/ats-kms-enclave/internal/canonicaljson"
)

// chainHashOf computes SHA-256(canonicalJSON(entry)) with sig and
// chainHash cleared, per spec.md's "chainHash covers everything except
// sig and itself" rule.
func chainHashOf(e Entry) ([]byte, error) {
	e.Sig = ""
	e.ChainHash = ""
	blob, err := canonicaljson.Marshal(e)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(blob)
	return sum[:], nil
}

// certSigningBytes computes the canonical JSON a delegation cert's
// signature covers, with sig cleared.
func certSigningBytes(c DelegationCert) ([]byte, error) {
	c.Sig = ""
	return canonicaljson.Marshal(c)
}
