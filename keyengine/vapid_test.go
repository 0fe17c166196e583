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

	"github.com/stretchr/testify/require"

	"github.com/lukium/ats-kms-enclave/credential"
)

func TestGenerateVAPID(t *testing.T) {
	e, creds := testEngine(t)

	kid, pub, err := e.GenerateVAPID(creds)
	require.NoError(t, err)
	require.NotEmpty(t, kid)
	require.Len(t, pub, 65)
	require.Equal(t, byte(0x04), pub[0])

	gotKid, gotPub, err := e.GetPublicKey(creds.UserID)
	require.NoError(t, err)
	require.Equal(t, kid, gotKid)
	require.Equal(t, pub, gotPub)

	gotKid2, err := e.GetVAPIDKid(creds.UserID)
	require.NoError(t, err)
	require.Equal(t, kid, gotKid2)
}

func TestGenerateVAPIDAlreadyExists(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	_, _, err = e.GenerateVAPID(creds)
	require.ErrorIs(t, err, ErrKeyExists)
}

func TestGetPublicKeyNotFound(t *testing.T) {
	e, _ := testEngine(t)

	_, _, err := e.GetPublicKey("nobody")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRegenerateVAPIDReplacesKey(t *testing.T) {
	e, creds := testEngine(t)

	firstKid, firstPub, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	secondKid, secondPub, err := e.RegenerateVAPID(creds)
	require.NoError(t, err)
	require.NotEqual(t, firstKid, secondKid)
	require.NotEqual(t, firstPub, secondPub)

	_, err = e.getWrappedKey(firstKid)
	require.Error(t, err)

	curKid, err := e.GetVAPIDKid(creds.UserID)
	require.NoError(t, err)
	require.Equal(t, secondKid, curKid)
}

func TestRegenerateVAPIDWithoutExistingKey(t *testing.T) {
	e, creds := testEngine(t)

	kid, pub, err := e.RegenerateVAPID(creds)
	require.NoError(t, err)
	require.NotEmpty(t, kid)
	require.Len(t, pub, 65)
}

func TestRegenerateVAPIDLeavesStaleLeaseDiscoverableButWrongKey(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	require.NoError(t, e.SetPushSubscription(creds, PushSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc123",
	}))

	lease, err := e.CreateLease(creds, time.Hour, false)
	require.NoError(t, err)

	_, _, err = e.RegenerateVAPID(creds)
	require.NoError(t, err)

	result := e.VerifyLease(lease.LeaseID)
	require.False(t, result.Valid)
	require.Equal(t, "wrong-key", result.Reason)

	_, _, err = e.IssueVAPIDJWT(lease.LeaseID, "")
	require.ErrorIs(t, err, ErrLeaseWrongKey)
}

func TestSetAndRemovePushSubscription(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	sub := PushSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc123",
		P256dh:   "p256dh-value",
		Auth:     "auth-value",
	}
	require.NoError(t, e.SetPushSubscription(creds, sub))

	got, err := e.GetPushSubscription(creds.UserID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, sub.Endpoint, got.Endpoint)

	require.NoError(t, e.RemovePushSubscription(creds))

	got, err = e.GetPushSubscription(creds.UserID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSetPushSubscriptionRejectsDisallowedHost(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	err = e.SetPushSubscription(creds, PushSubscription{Endpoint: "https://evil.example.com/push/abc"})
	require.ErrorIs(t, err, ErrSubscriptionHost)
}

func TestSetPushSubscriptionRejectsNonHTTPS(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	err = e.SetPushSubscription(creds, PushSubscription{Endpoint: "http://fcm.googleapis.com/fcm/send/abc123"})
	require.ErrorIs(t, err, ErrSubscriptionScheme)
}

func TestGenerateVAPIDWrongPassphrase(t *testing.T) {
	e, creds := testEngine(t)
	bad := creds
	bad.Passphrase = "wrong-passphrase"

	_, _, err := e.GenerateVAPID(bad)
	require.Error(t, err)
	require.NotErrorIs(t, err, credential.ErrNotSetup)
}
