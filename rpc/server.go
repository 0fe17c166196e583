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
	"context"
	"encoding/json"
	"time"

	"github.com/lukium/ats-kms-enclave/audit"
	"github.com/lukium/ats-kms-enclave/credential"
	"github.com/lukium/ats-kms-enclave/internal/logger"
	"github.com/lukium/ats-kms-enclave/keyengine"
	"github.com/lukium/ats-kms-enclave/store"
)

// DefaultTimeout is the per-request budget a caller can expect a
// Dispatch call to respect when it isn't overridden by a context
// deadline of its own.
const DefaultTimeout = 10 * time.Second

// Server holds the domain managers one enclave instance dispatches
// requests against. It carries no per-request state: every call is
// self-contained, taking its credentials (if any) from the request.
type Server struct {
	store  store.Store
	chain  *audit.Chain
	cred   *credential.Manager
	engine *keyengine.Engine
	log    logger.Logger
}

// NewServer builds a Server over the given domain managers.
func NewServer(s store.Store, chain *audit.Chain, cred *credential.Manager, engine *keyengine.Engine, log logger.Logger) *Server {
	return &Server{store: s, chain: chain, cred: cred, engine: engine, log: log}
}

type handlerFunc func(s *Server, req Request) (interface{}, error)

var methods = map[string]handlerFunc{
	"setupPassphrase":  handleSetupPassphrase,
	"setupPasskeyPRF":  handleSetupPasskeyPRF,
	"setupPasskeyGate": handleSetupPasskeyGate,
	"addEnrollment":    handleAddEnrollment,
	"removeEnrollment": handleRemoveEnrollment,
	"getEnrollments":   handleGetEnrollments,
	"isSetup":          handleIsSetup,
	"resetKMS":         handleResetKMS,

	"generateVAPID":   handleGenerateVAPID,
	"regenerateVAPID": handleRegenerateVAPID,
	"getPublicKey":    handleGetPublicKey,
	"getVAPIDKid":     handleGetVAPIDKid,
	"signJWT":         handleSignJWT,

	"createLease":     handleCreateLease,
	"extendLeases":    handleExtendLeases,
	"issueVAPIDJWT":   handleIssueVAPIDJWT,
	"issueVAPIDJWTs":  handleIssueVAPIDJWTs,
	"getUserLeases":   handleGetUserLeases,
	"verifyLease":     handleVerifyLease,

	"setPushSubscription":    handleSetPushSubscription,
	"removePushSubscription": handleRemovePushSubscription,
	"getPushSubscription":    handleGetPushSubscription,

	"getAuditLog":      handleGetAuditLog,
	"verifyAuditChain": handleVerifyAuditChain,
	"getAuditPublicKey": handleGetAuditPublicKey,
}

// Dispatch routes req to its handler and returns a Response, never an
// error: every failure, from a malformed request to a domain sentinel,
// is folded into Response.Error.
//
// A request's deadline (ctx, defaulting to DefaultTimeout if ctx carries
// none) is advisory to the caller, not preemptive: the handler always
// runs to completion, because the operations underneath it — an unlock,
// an audit append, a lease mutation — have no internal suspension point
// safe to abandon mid-flight, and an in-flight audit write must finish
// to preserve chain integrity even when the caller has already decided
// to treat the call as timed out. Dispatch only checks the deadline
// after the handler returns, to log that a response arrived late; it
// never discards or rewrites the handler's real result.
func (s *Server) Dispatch(ctx context.Context, req Request) Response {
	if req.Method == "" {
		return errResponse(req.ID, CodeInvalidRequest, "method is required")
	}
	handler, ok := methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeInvalidRequest, "unknown method: "+req.Method)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	result, err := handler(s, req)

	if ctx.Err() != nil && s.log != nil {
		s.log.Warn("rpc: handler completed after caller deadline", logger.String("method", req.Method), logger.String("requestId", req.ID))
	}

	if err != nil {
		wireErr := toWireError(err)
		return errResponse(req.ID, wireErr.Code, wireErr.Message)
	}
	return okResponse(req.ID, result)
}

// toWireError returns err unchanged if it is already a wire *Error
// (raised by a request-shape validator), otherwise maps it through the
// domain error taxonomy.
func toWireError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return mapError(err)
}

func invalidParams(msg string) error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

func unmarshalParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return invalidParams("params is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("malformed params: " + err.Error())
	}
	return nil
}
