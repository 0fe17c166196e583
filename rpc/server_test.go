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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lukium/ats-kms-enclave/audit"
	"github.com/lukium/ats-kms-enclave/config"
	"github.com/lukium/ats-kms-enclave/credential"
	"github.com/lukium/ats-kms-enclave/keyengine"
	"github.com/lukium/ats-kms-enclave/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	s := store.NewMemoryStore()
	chain := audit.New(s)
	credCfg := &config.CredentialConfig{
		PBKDF2TargetMS:       1,
		PBKDF2IterationFloor: 10_000,
		LockoutThreshold:     3,
		LockoutWindow:        time.Minute,
		LockoutCooldown:      time.Hour,
	}
	cred := credential.NewManager(s, chain, credCfg, nil)
	leaseCfg := &config.LeaseConfig{
		MaxTTL:                      24 * time.Hour,
		DefaultTTL:                  time.Hour,
		DefaultQuotaPerHour:         1000,
		DefaultBucketSize:           50,
		DefaultSendsPerMinute:       120,
		DefaultSendsPerMinutePerEid: 5,
		JWTTTL:                      15 * time.Minute,
	}
	engine := keyengine.NewEngine(s, chain, cred, leaseCfg, nil)
	return NewServer(s, chain, cred, engine, nil)
}

func mustParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestDispatchUnknownMethod(t *testing.T) {
	s := testServer(t)
	resp := s.Dispatch(context.Background(), Request{ID: "1", Method: "doesNotExist"})
	require.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestDispatchMissingMethod(t *testing.T) {
	s := testServer(t)
	resp := s.Dispatch(context.Background(), Request{ID: "1"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestSetupPassphraseThenIsSetup(t *testing.T) {
	s := testServer(t)

	resp := s.Dispatch(context.Background(), Request{
		ID:     "1",
		Method: "setupPassphrase",
		Params: mustParams(t, setupPassphraseParams{UserID: "u1", Passphrase: "hunter22!"}),
	})
	require.Nil(t, resp.Error)
	meta, ok := resp.Result.(enrollmentMetaWire)
	require.True(t, ok)
	require.Equal(t, "u1", meta.UserID)
	require.Equal(t, "passphrase", meta.Method)

	resp = s.Dispatch(context.Background(), Request{
		ID:     "2",
		Method: "isSetup",
		Params: mustParams(t, userIDParams{UserID: "u1"}),
	})
	require.Nil(t, resp.Error)
	require.Equal(t, map[string]bool{"isSetup": true}, resp.Result)
}

func TestSetupPassphraseTwiceIsAlreadySetup(t *testing.T) {
	s := testServer(t)
	params := mustParams(t, setupPassphraseParams{UserID: "u1", Passphrase: "hunter22!"})

	resp := s.Dispatch(context.Background(), Request{ID: "1", Method: "setupPassphrase", Params: params})
	require.Nil(t, resp.Error)

	resp = s.Dispatch(context.Background(), Request{ID: "2", Method: "setupPassphrase", Params: params})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeAlreadySetup, resp.Error.Code)
}

func TestGenerateVAPIDWithoutSetupIsNotSetup(t *testing.T) {
	s := testServer(t)
	resp := s.Dispatch(context.Background(), Request{
		ID:     "1",
		Method: "generateVAPID",
		Params: mustParams(t, credsOnlyParams{Credentials: authCredentialsWire{
			UserID: "u1", Method: "passphrase", Passphrase: "hunter22!",
		}}),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeNotSetup, resp.Error.Code)
}

func setupAndGenerateVAPID(t *testing.T, s *Server, userID string) authCredentialsWire {
	t.Helper()
	creds := authCredentialsWire{UserID: userID, Method: "passphrase", Passphrase: "hunter22!"}

	resp := s.Dispatch(context.Background(), Request{
		ID: "setup", Method: "setupPassphrase",
		Params: mustParams(t, setupPassphraseParams{UserID: userID, Passphrase: "hunter22!"}),
	})
	require.Nil(t, resp.Error)

	resp = s.Dispatch(context.Background(), Request{
		ID: "gen", Method: "generateVAPID",
		Params: mustParams(t, credsOnlyParams{Credentials: creds}),
	})
	require.Nil(t, resp.Error)
	return creds
}

func TestGenerateVAPIDAndGetPublicKey(t *testing.T) {
	s := testServer(t)
	creds := setupAndGenerateVAPID(t, s, "u1")

	resp := s.Dispatch(context.Background(), Request{
		ID: "1", Method: "getPublicKey",
		Params: mustParams(t, userIDParams{UserID: creds.UserID}),
	})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(publicKeyResult)
	require.True(t, ok)
	require.NotEmpty(t, result.Kid)
	require.NotEmpty(t, result.PublicKeyRaw)
}

func TestSignJWTUnrecognizedMethodIsInvalidParams(t *testing.T) {
	s := testServer(t)
	resp := s.Dispatch(context.Background(), Request{
		ID:     "1",
		Method: "signJWT",
		Params: mustParams(t, signJWTParams{
			Credentials: authCredentialsWire{UserID: "u1", Method: "carrier-pigeon"},
			Payload:     map[string]interface{}{"aud": "https://fcm.googleapis.com"},
		}),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestCreateLeaseRejectsTTLBeyondWireCeiling(t *testing.T) {
	s := testServer(t)
	creds := setupAndGenerateVAPID(t, s, "u1")

	resp := s.Dispatch(context.Background(), Request{
		ID:     "1",
		Method: "createLease",
		Params: mustParams(t, createLeaseParams{Credentials: creds, TTLHours: 1000}),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestCreateLeaseAndIssueJWTRoundTrip(t *testing.T) {
	s := testServer(t)
	creds := setupAndGenerateVAPID(t, s, "u1")

	resp := s.Dispatch(context.Background(), Request{
		ID:     "1",
		Method: "setPushSubscription",
		Params: mustParams(t, setPushSubscriptionParams{
			Credentials:  creds,
			Subscription: pushSubscriptionWire{Endpoint: "https://fcm.googleapis.com/fcm/send/abc123"},
		}),
	})
	require.Nil(t, resp.Error)

	resp = s.Dispatch(context.Background(), Request{
		ID:     "2",
		Method: "createLease",
		Params: mustParams(t, createLeaseParams{Credentials: creds, TTLHours: 1}),
	})
	require.Nil(t, resp.Error)
	lease, ok := resp.Result.(leaseMetaWire)
	require.True(t, ok)
	require.NotEmpty(t, lease.LeaseID)

	resp = s.Dispatch(context.Background(), Request{
		ID:     "3",
		Method: "issueVAPIDJWT",
		Params: mustParams(t, issueVAPIDJWTParams{LeaseID: lease.LeaseID}),
	})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(signJWTResult)
	require.True(t, ok)
	require.NotEmpty(t, result.JWT)
	require.Equal(t, lease.Kid, result.Kid)
}

func TestIssueVAPIDJWTUnknownLeaseIsLeaseNotFound(t *testing.T) {
	s := testServer(t)
	resp := s.Dispatch(context.Background(), Request{
		ID:     "1",
		Method: "issueVAPIDJWT",
		Params: mustParams(t, issueVAPIDJWTParams{LeaseID: "nonexistent"}),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeLeaseNotFound, resp.Error.Code)
}

func TestGetAuditLogAndVerifyChain(t *testing.T) {
	s := testServer(t)
	setupAndGenerateVAPID(t, s, "u1")

	resp := s.Dispatch(context.Background(), Request{
		ID:     "1",
		Method: "getAuditLog",
		Params: mustParams(t, auditRangeParams{}),
	})
	require.Nil(t, resp.Error)
	entries, ok := resp.Result.([]audit.Entry)
	require.True(t, ok)
	require.NotEmpty(t, entries)

	resp = s.Dispatch(context.Background(), Request{ID: "2", Method: "verifyAuditChain"})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(verifyResultWire)
	require.True(t, ok)
	require.True(t, result.Valid)
	require.Equal(t, len(entries), result.Verified)
}

func TestGetAuditPublicKeyFallsBackToInstanceKIAK(t *testing.T) {
	s := testServer(t)
	resp := s.Dispatch(context.Background(), Request{ID: "1", Method: "getAuditPublicKey"})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(auditPublicKeyResult)
	require.True(t, ok)
	require.Equal(t, "KIAK", result.Kind)
	require.NotEmpty(t, result.PublicKey)
}

func TestGetAuditPublicKeyReturnsCachedUAKAfterSetup(t *testing.T) {
	s := testServer(t)
	setupAndGenerateVAPID(t, s, "u1")

	resp := s.Dispatch(context.Background(), Request{
		ID:     "1",
		Method: "getAuditPublicKey",
		Params: mustParams(t, auditPublicKeyParams{UserID: "u1"}),
	})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(auditPublicKeyResult)
	require.True(t, ok)
	require.Equal(t, "UAK", result.Kind)
}

func TestResetKMSWipesEnrollments(t *testing.T) {
	s := testServer(t)
	setupAndGenerateVAPID(t, s, "u1")

	resp := s.Dispatch(context.Background(), Request{ID: "1", Method: "resetKMS"})
	require.Nil(t, resp.Error)

	resp = s.Dispatch(context.Background(), Request{
		ID:     "2",
		Method: "isSetup",
		Params: mustParams(t, userIDParams{UserID: "u1"}),
	})
	require.Nil(t, resp.Error)
	require.Equal(t, map[string]bool{"isSetup": false}, resp.Result)
}
