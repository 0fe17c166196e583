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

import "errors"

var (
	ErrNoUAKPublicKey      = errors.New("audit: no cached UAK public key for this user")
	ErrNoKIAKPublicKey     = errors.New("audit: no KIAK public key available")
	ErrMissingCert         = errors.New("audit: LAK entry missing delegation cert")
	ErrUnknownSigner       = errors.New("audit: unknown signer kind")
	ErrInvalidCertSignature = errors.New("audit: delegation cert signature invalid")
	ErrCertNotYetValid     = errors.New("audit: delegation cert not yet valid")
	ErrCertExpired         = errors.New("audit: delegation cert expired")
	ErrCertScopeDenied     = errors.New("audit: delegation cert scope does not cover operation")
	ErrSeqNumRace          = errors.New("audit: seqNum race detected between chain and store")
)
