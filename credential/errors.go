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

package credential

import "errors"

var (
	ErrAlreadySetup        = errors.New("credential: user already has an enrollment for this method")
	ErrNotSetup            = errors.New("credential: user has no enrollment")
	ErrPassphraseTooShort  = errors.New("credential: passphrase must be at least 8 characters")
	ErrIncorrectPassphrase = errors.New("credential: incorrect passphrase")
	ErrPasskeyAuthFailed   = errors.New("credential: passkey authentication failed")
	ErrInvalidCredentials  = errors.New("credential: malformed credentials for method")
	ErrLastEnrollment      = errors.New("credential: cannot remove the last enrollment")
	ErrEnrollmentNotFound  = errors.New("credential: enrollment not found")
	ErrLocked              = errors.New("credential: too many failed attempts, try again later")
	ErrMSMismatch          = errors.New("credential: existing credentials do not match this user's master secret")
)
