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
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lukium/ats-kms-enclave/audit"
	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/credential"
	"github.com/lukium/ats-kms-enclave/internal/logger"
)

func rawCoordB64(n *big.Int) string {
	b := make([]byte, 32)
	n.FillBytes(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// checkPolicy enforces RFC 8292's constraints on a VAPID JWT payload
// before anything is signed: exp must be no further than 24h out, aud
// must be an https origin, sub must be a contact URI.
func checkPolicy(payload jwt.MapClaims) error {
	expRaw, ok := payload["exp"]
	if !ok {
		return fmt.Errorf("%w: missing exp", ErrPolicyViolation)
	}
	var expUnix int64
	switch v := expRaw.(type) {
	case int64:
		expUnix = v
	case float64:
		expUnix = int64(v)
	case json.Number:
		n, _ := v.Int64()
		expUnix = n
	default:
		return fmt.Errorf("%w: exp has unsupported type", ErrPolicyViolation)
	}
	exp := time.Unix(expUnix, 0).UTC()
	if exp.After(time.Now().UTC().Add(24 * time.Hour)) {
		return fmt.Errorf("%w: exp exceeds 24h from now", ErrPolicyViolation)
	}

	aud, _ := payload["aud"].(string)
	if !strings.HasPrefix(aud, "https://") {
		return fmt.Errorf("%w: aud must be an https origin", ErrPolicyViolation)
	}

	sub, _ := payload["sub"].(string)
	if !strings.HasPrefix(sub, "mailto:") && !strings.HasPrefix(sub, "https://") {
		return fmt.Errorf("%w: sub must be a mailto: or https: contact URI", ErrPolicyViolation)
	}
	return nil
}

// unwrapVAPIDKey decrypts wk's PKCS#8 private key under a MKEK re-derived
// from ms and the key's persisted salt, returning a usable *ecdsa.PrivateKey.
// The decrypted PKCS#8 plaintext and the MKEK are zeroed before it
// returns; ecdsa.PrivateKey itself cannot be zeroized field-by-field
// safely, so the PKCS#8 plaintext is what gets scrubbed.
func unwrapVAPIDKey(ms []byte, wk WrappedKey) (*ecdsa.PrivateKey, error) {
	mkek, err := kmscrypto.HKDFDerive(ms, wk.MKEKSalt, kmscrypto.InfoMKEK, 32)
	if err != nil {
		return nil, fmt.Errorf("keyengine: derive MKEK: %w", err)
	}
	defer kmscrypto.Zero(mkek)

	pkcs8, err := kmscrypto.OpenAESGCM(mkek, wk.IV, wk.AAD, wk.WrappedKey)
	if err != nil {
		return nil, err
	}
	defer kmscrypto.Zero(pkcs8)

	parsed, err := x509.ParsePKCS8PrivateKey(pkcs8)
	if err != nil {
		return nil, fmt.Errorf("keyengine: parse PKCS8 VAPID key: %w", err)
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keyengine: unexpected VAPID key type")
	}
	return priv, nil
}

// signES256 builds and signs a VAPID JWT over payload with priv, stamping
// kid into the header the way the JWS/VAPID wire format requires.
func signES256(priv *ecdsa.PrivateKey, kid string, payload jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, payload)
	token.Header["kid"] = kid
	return token.SignedString(priv)
}

// SignJWT authenticates creds, enforces RFC 8292 policy on payload, then
// signs it with userID's VAPID key. Use IssueVAPIDJWT (lease.go) for the
// credential-free path a background push worker uses instead.
func (e *Engine) SignJWT(creds credential.AuthCredentials, payload jwt.MapClaims) (jwtStr, kid string, err error) {
	if payload["jti"] == nil {
		payload["jti"] = uuid.NewString()
	}
	if perr := checkPolicy(payload); perr != nil {
		e.auditPolicyViolation(creds.UserID, perr)
		return "", "", perr
	}

	result, err := e.cred.WithUnlock(creds, credential.OpContext{Op: "sign"}, func(ms []byte) (any, error) {
		kid, ok, verr := e.vapidKidFor(creds.UserID)
		if verr != nil {
			return nil, verr
		}
		if !ok {
			return nil, ErrKeyNotFound
		}
		wk, gerr := e.getWrappedKey(kid)
		if gerr != nil {
			return nil, gerr
		}
		priv, uerr := unwrapVAPIDKey(ms, wk)
		if uerr != nil {
			return nil, uerr
		}
		signed, serr := signES256(priv, kid, payload)
		if serr != nil {
			return nil, serr
		}
		wk.LastUsedAt = time.Now().UTC()
		if perr := e.putWrappedKey(wk); perr != nil {
			return nil, perr
		}
		return struct {
			JWT string
			Kid string
		}{signed, kid}, nil
	})
	if err != nil {
		return "", "", err
	}
	out := result.(struct {
		JWT string
		Kid string
	})
	return out.JWT, out.Kid, nil
}

// auditPolicyViolation records a rejected JWT payload signed by the
// instance KIAK: policy violations happen before any user unlock
// succeeds, so no UAK is available yet to sign with. A failure here is
// logged, never surfaced: losing one audit entry must not block
// returning the underlying policy error to the caller.
func (e *Engine) auditPolicyViolation(userID string, cause error) {
	kiak, err := audit.LoadOrCreateKIAK(e.store)
	if err != nil {
		if e.log != nil {
			e.log.Error("keyengine: load KIAK for policy_violation audit failed", logger.Error(err))
		}
		return
	}
	if _, err := e.chain.Append(kiak, audit.OpInput{
		Op:      "policy_violation",
		UserID:  userID,
		Details: map[string]any{"reason": cause.Error()},
	}); err != nil && e.log != nil {
		e.log.Error("keyengine: audit policy_violation failed", logger.Error(err))
	}
}
