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
	"errors"

	"github.com/lukium/ats-kms-enclave/credential"
	"github.com/lukium/ats-kms-enclave/keyengine"
	"github.com/lukium/ats-kms-enclave/store"
)

// mapError translates a domain sentinel error into the wire code a
// caller matches on. Errors with no specific mapping fall back to
// CRYPTO_ERROR: in this enclave almost everything below the rpc layer
// is a crypto or storage operation, so an unrecognized failure is most
// honestly reported as one.
func mapError(err error) *Error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, credential.ErrNotSetup):
		return &Error{Code: CodeNotSetup, Message: err.Error()}
	case errors.Is(err, credential.ErrAlreadySetup):
		return &Error{Code: CodeAlreadySetup, Message: err.Error()}
	case errors.Is(err, credential.ErrIncorrectPassphrase):
		return &Error{Code: CodeIncorrectPassword, Message: err.Error()}
	case errors.Is(err, credential.ErrPasskeyAuthFailed):
		return &Error{Code: CodePasskeyAuthFailed, Message: err.Error()}
	case errors.Is(err, credential.ErrLocked):
		return &Error{Code: CodeKMSLocked, Message: err.Error()}
	case errors.Is(err, credential.ErrPassphraseTooShort),
		errors.Is(err, credential.ErrInvalidCredentials),
		errors.Is(err, credential.ErrMSMismatch),
		errors.Is(err, credential.ErrLastEnrollment),
		errors.Is(err, credential.ErrEnrollmentNotFound):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}

	case errors.Is(err, keyengine.ErrKeyNotFound):
		return &Error{Code: CodeKeyNotFound, Message: err.Error()}
	case errors.Is(err, keyengine.ErrLeaseNotFound):
		return &Error{Code: CodeLeaseNotFound, Message: err.Error()}
	case errors.Is(err, keyengine.ErrLeaseExpired):
		return &Error{Code: CodeLeaseExpired, Message: err.Error()}
	case errors.Is(err, keyengine.ErrLeaseWrongKey):
		return &Error{Code: CodeLeaseWrongKey, Message: err.Error()}
	case errors.Is(err, keyengine.ErrQuotaExceeded):
		return &Error{Code: CodeQuotaExceeded, Message: err.Error()}
	case errors.Is(err, keyengine.ErrPolicyViolation),
		errors.Is(err, keyengine.ErrSubscriptionScheme),
		errors.Is(err, keyengine.ErrSubscriptionHost),
		errors.Is(err, keyengine.ErrNoSubscription),
		errors.Is(err, keyengine.ErrAutoExtendDenied):
		return &Error{Code: CodePolicyViolation, Message: err.Error()}
	case errors.Is(err, keyengine.ErrTTLTooLong),
		errors.Is(err, keyengine.ErrKeyExists):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}

	case errors.Is(err, store.ErrNotFound):
		return &Error{Code: CodeKeyNotFound, Message: err.Error()}

	default:
		return &Error{Code: CodeCryptoError, Message: err.Error()}
	}
}
