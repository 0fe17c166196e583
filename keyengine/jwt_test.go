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
	"crypto/ecdsa"
	"crypto/elliptic"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// pubKeyFromRaw reconstructs the *ecdsa.PublicKey a WrappedKey's
// PublicKeyRaw encodes: an uncompressed SEC1 point, 0x04 || X || Y, each
// coordinate a 32-byte big-endian field element.
func pubKeyFromRaw(t *testing.T, raw []byte) *ecdsa.PublicKey {
	t.Helper()
	require.Len(t, raw, 65)
	require.Equal(t, byte(0x04), raw[0])
	x := new(big.Int).SetBytes(raw[1:33])
	y := new(big.Int).SetBytes(raw[33:65])
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
}

func TestSignJWTProducesVerifiableVAPIDToken(t *testing.T) {
	e, creds := testEngine(t)

	kid, pubRaw, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	payload := jwt.MapClaims{
		"aud": "https://fcm.googleapis.com",
		"sub": "mailto:ops@example.com",
		"exp": time.Now().UTC().Add(time.Hour).Unix(),
	}
	signed, gotKid, err := e.SignJWT(creds, payload)
	require.NoError(t, err)
	require.Equal(t, kid, gotKid)

	pub := pubKeyFromRaw(t, pubRaw)
	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		require.Equal(t, kid, tok.Header["kid"])
		return pub, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	require.Equal(t, "https://fcm.googleapis.com", claims["aud"])
	require.Equal(t, "mailto:ops@example.com", claims["sub"])
}

func TestSignJWTRejectsFarFutureExp(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	payload := jwt.MapClaims{
		"aud": "https://fcm.googleapis.com",
		"sub": "mailto:ops@example.com",
		"exp": time.Now().UTC().Add(48 * time.Hour).Unix(),
	}
	_, _, err = e.SignJWT(creds, payload)
	require.ErrorIs(t, err, ErrPolicyViolation)
}

func TestSignJWTRejectsNonHTTPSAud(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	payload := jwt.MapClaims{
		"aud": "http://fcm.googleapis.com",
		"sub": "mailto:ops@example.com",
		"exp": time.Now().UTC().Add(time.Hour).Unix(),
	}
	_, _, err = e.SignJWT(creds, payload)
	require.ErrorIs(t, err, ErrPolicyViolation)
}

func TestSignJWTRejectsBadSub(t *testing.T) {
	e, creds := testEngine(t)

	_, _, err := e.GenerateVAPID(creds)
	require.NoError(t, err)

	payload := jwt.MapClaims{
		"aud": "https://fcm.googleapis.com",
		"sub": "not-a-contact-uri",
		"exp": time.Now().UTC().Add(time.Hour).Unix(),
	}
	_, _, err = e.SignJWT(creds, payload)
	require.ErrorIs(t, err, ErrPolicyViolation)
}

func TestSignJWTNoKey(t *testing.T) {
	e, creds := testEngine(t)

	payload := jwt.MapClaims{
		"aud": "https://fcm.googleapis.com",
		"sub": "mailto:ops@example.com",
		"exp": time.Now().UTC().Add(time.Hour).Unix(),
	}
	_, _, err := e.SignJWT(creds, payload)
	require.ErrorIs(t, err, ErrKeyNotFound)
}
