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

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestCreateLeaseAndIssueJWT(t *testing.T) {
	e, creds := testEngine(t)

	_, pubRaw, err := e.GenerateVAPID(creds)
	require.NoError(t, err)
	require.NoError(t, e.SetPushSubscription(creds, PushSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc123",
	}))

	meta, err := e.CreateLease(creds, time.Hour, false)
	require.NoError(t, err)
	require.NotEmpty(t, meta.LeaseID)
	require.Equal(t, creds.UserID, meta.UserID)
	require.False(t, meta.AutoExtend)

	verify := e.VerifyLease(meta.LeaseID)
	require.True(t, verify.Valid)

	signed, kid, err := e.IssueVAPIDJWT(meta.LeaseID, "endpoint-1")
	require.NoError(t, err)
	require.Equal(t, meta.Kid, kid)

	pub := pubKeyFromRaw(t, pubRaw)
	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "https://fcm.googleapis.com", claims["aud"])
	require.Equal(t, e.contactSub, claims["sub"])
}

func TestCreateLeaseTTLTooLong(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	_, err = e.CreateLease(creds, e.cfg.MaxTTL+time.Hour, false)
	require.ErrorIs(t, err, ErrTTLTooLong)
}

func TestIssueVAPIDJWTNoSubscription(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	meta, err := e.CreateLease(creds, time.Hour, false)
	require.NoError(t, err)

	_, _, err = e.IssueVAPIDJWT(meta.LeaseID, "")
	require.ErrorIs(t, err, ErrNoSubscription)
}

func TestIssueVAPIDJWTLeaseNotFound(t *testing.T) {
	e, _ := testEngine(t)

	_, _, err := e.IssueVAPIDJWT("nonexistent-lease", "")
	require.ErrorIs(t, err, ErrLeaseNotFound)
}

func TestIssueVAPIDJWTExpiredLease(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)
	require.NoError(t, e.SetPushSubscription(creds, PushSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc123",
	}))

	meta, err := e.CreateLease(creds, time.Hour, false)
	require.NoError(t, err)

	lease, err := e.getLease(meta.LeaseID)
	require.NoError(t, err)
	lease.Exp = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, e.putLease(lease))

	_, _, err = e.IssueVAPIDJWT(meta.LeaseID, "")
	require.ErrorIs(t, err, ErrLeaseExpired)

	result := e.VerifyLease(meta.LeaseID)
	require.False(t, result.Valid)
	require.Equal(t, "expired", result.Reason)
}

func TestIssueVAPIDJWTWrongKeyAfterSessionKEKLost(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)
	require.NoError(t, e.SetPushSubscription(creds, PushSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc123",
	}))

	meta, err := e.CreateLease(creds, time.Hour, false)
	require.NoError(t, err)

	e.leases.forget(meta.LeaseID)

	_, _, err = e.IssueVAPIDJWT(meta.LeaseID, "")
	require.ErrorIs(t, err, ErrLeaseWrongKey)

	result := e.VerifyLease(meta.LeaseID)
	require.False(t, result.Valid)
	require.Equal(t, "wrong-key", result.Reason)
}

func TestGetUserLeasesFiltersExpiredAndOtherUsers(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	active, err := e.CreateLease(creds, time.Hour, false)
	require.NoError(t, err)

	expiring, err := e.CreateLease(creds, time.Hour, false)
	require.NoError(t, err)
	lease, err := e.getLease(expiring.LeaseID)
	require.NoError(t, err)
	lease.Exp = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, e.putLease(lease))

	leases, err := e.GetUserLeases(creds.UserID)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, active.LeaseID, leases[0].LeaseID)
}

func TestExtendLeasesAutoExtendNeedsNoCreds(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	meta, err := e.CreateLease(creds, time.Hour, true)
	require.NoError(t, err)

	newExp := time.Now().UTC().Add(2 * time.Hour)
	results := e.ExtendLeases(nil, []ExtendRequest{{LeaseID: meta.LeaseID, NewExp: newExp}})
	require.Len(t, results, 1)
	require.Equal(t, "extended", results[0].Status)

	lease, err := e.getLease(meta.LeaseID)
	require.NoError(t, err)
	require.WithinDuration(t, newExp, lease.Exp, time.Second)
}

func TestExtendLeasesNonAutoExtendRequiresCreds(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	meta, err := e.CreateLease(creds, time.Hour, false)
	require.NoError(t, err)

	newExp := time.Now().UTC().Add(2 * time.Hour)

	results := e.ExtendLeases(nil, []ExtendRequest{{LeaseID: meta.LeaseID, NewExp: newExp}})
	require.Len(t, results, 1)
	require.Equal(t, "skipped", results[0].Status)
	require.Equal(t, ErrAutoExtendDenied.Error(), results[0].Reason)

	results = e.ExtendLeases(&creds, []ExtendRequest{{LeaseID: meta.LeaseID, NewExp: newExp}})
	require.Len(t, results, 1)
	require.Equal(t, "extended", results[0].Status)
}

func TestExtendLeasesRejectsTTLBeyondMax(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	meta, err := e.CreateLease(creds, time.Hour, true)
	require.NoError(t, err)

	tooFar := meta.CreatedAt.Add(e.cfg.MaxTTL + time.Hour)
	results := e.ExtendLeases(nil, []ExtendRequest{{LeaseID: meta.LeaseID, NewExp: tooFar}})
	require.Len(t, results, 1)
	require.Equal(t, "skipped", results[0].Status)
}
