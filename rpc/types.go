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

// Package rpc is the wire boundary a host process exposes to its caller
// (a browser extension background page, a native messaging host, a unix
// socket client): a small JSON-RPC-shaped request/response envelope over
// the credential, keyengine and audit packages, with its own error-code
// taxonomy distinct from internal/logger's generic KMSError codes.
package rpc

import "encoding/json"

// Request is one call across the wire: id echoes back unchanged so a
// caller can correlate responses delivered out of order, method selects
// the handler, and params is handler-specific and validated before
// dispatch. Origin is the requesting page's origin; it is decoded but no
// handler passes it on, so audit entries written through rpc carry no
// origin.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Origin string          `json:"origin,omitempty"`
}

// Response is the one reply a Dispatch call produces: exactly one of
// Result or Error is set.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

// Error is the wire shape of a failed call.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Error codes. These strings are the wire contract a caller matches on;
// they are not derived from internal/logger's KMSError taxonomy, which
// serves a different, more generic set of concerns.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidParams     = "INVALID_PARAMS"
	CodeNotSetup          = "NOT_SETUP"
	CodeAlreadySetup      = "ALREADY_SETUP"
	CodeIncorrectPassword = "INCORRECT_PASSPHRASE"
	CodePasskeyAuthFailed = "PASSKEY_AUTHENTICATION_FAILED"
	CodePasskeyUnavail    = "PASSKEY_NOT_AVAILABLE"
	CodePasskeyNoPRF      = "PASSKEY_PRF_NOT_SUPPORTED"
	CodeKeyNotFound       = "KEY_NOT_FOUND"
	CodeLeaseNotFound     = "LEASE_NOT_FOUND"
	CodeLeaseExpired      = "LEASE_EXPIRED"
	CodeLeaseWrongKey     = "LEASE_WRONG_KEY"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodePolicyViolation   = "POLICY_VIOLATION"
	CodeCryptoError       = "CRYPTO_ERROR"
	CodeKMSLocked         = "KMS_LOCKED"
)

// errResponse builds a Response carrying a single error.
func errResponse(id, code, msg string) Response {
	return Response{ID: id, Error: &Error{Code: code, Message: msg}}
}

func okResponse(id string, result interface{}) Response {
	return Response{ID: id, Result: result}
}

// authCredentialsWire is the wire shape of credential.AuthCredentials:
// PRFOutput travels as base64 since JSON has no byte-string type.
type authCredentialsWire struct {
	UserID       string `json:"userId"`
	Method       string `json:"method"`
	Passphrase   string `json:"passphrase,omitempty"`
	CredentialID string `json:"credentialId,omitempty"`
	PRFOutput    string `json:"prfOutput,omitempty"`
}

// newMethodParamsWire is the wire shape of credential.NewMethodParams
// for addEnrollment, keyed the same way authCredentialsWire is.
type newMethodParamsWire struct {
	Passphrase   string `json:"passphrase,omitempty"`
	CredentialID string `json:"credentialId,omitempty"`
	RPID         string `json:"rpId,omitempty"`
	PRFOutput    string `json:"prfOutput,omitempty"`
}

// pushSubscriptionWire is the wire shape of keyengine.PushSubscription.
type pushSubscriptionWire struct {
	Endpoint       string `json:"endpoint"`
	ExpirationTime string `json:"expirationTime,omitempty"`
	P256dh         string `json:"p256dh,omitempty"`
	Auth           string `json:"auth,omitempty"`
	EID            string `json:"eid,omitempty"`
}

// enrollmentMetaWire is the wire shape of credential.EnrollmentMeta.
type enrollmentMetaWire struct {
	EnrollmentID string `json:"enrollmentId"`
	UserID       string `json:"userId"`
	Method       string `json:"method"`
	CredentialID string `json:"credentialId,omitempty"`
	RPID         string `json:"rpId,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// leaseMetaWire is the wire shape of keyengine.LeaseMeta.
type leaseMetaWire struct {
	LeaseID    string `json:"leaseId"`
	UserID     string `json:"userId"`
	Kid        string `json:"kid"`
	CreatedAt  string `json:"createdAt"`
	Exp        string `json:"exp"`
	AutoExtend bool   `json:"autoExtend"`
}
