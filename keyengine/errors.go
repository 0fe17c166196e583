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

package keyengine

import "errors"

var (
	ErrKeyNotFound        = errors.New("keyengine: wrapped key not found")
	ErrKeyExists          = errors.New("keyengine: user already has a VAPID key; use regenerateVAPID to replace it")
	ErrLeaseNotFound      = errors.New("keyengine: lease not found")
	ErrLeaseExpired       = errors.New("keyengine: lease expired")
	ErrLeaseWrongKey      = errors.New("keyengine: lease does not authorize this key")
	ErrPolicyViolation    = errors.New("keyengine: JWT payload violates VAPID policy")
	ErrQuotaExceeded      = errors.New("keyengine: quota exceeded")
	ErrNoSubscription     = errors.New("keyengine: no push subscription on file for this key")
	ErrSubscriptionScheme = errors.New("keyengine: push subscription endpoint must be https")
	ErrSubscriptionHost   = errors.New("keyengine: push subscription endpoint host is not an allowed push service")
	ErrTTLTooLong         = errors.New("keyengine: requested lease TTL exceeds the configured maximum")
	ErrAutoExtendDenied   = errors.New("keyengine: lease was not created with autoExtend and requires user auth to extend")
)
