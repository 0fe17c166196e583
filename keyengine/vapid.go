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
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lukium/ats-kms-enclave/audit"
	"github.com/lukium/ats-kms-enclave/config"
	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/crypto/formats"
	"github.com/lukium/ats-kms-enclave/crypto/keys"
	"github.com/lukium/ats-kms-enclave/credential"
	"github.com/lukium/ats-kms-enclave/internal/logger"
	"github.com/lukium/ats-kms-enclave/store"
)

const metaVAPIDKidPrefix = "keyengine.vapid.kid:"

// Engine owns VAPID key lifecycle, JWT signing and leases. It wraps a
// credential.Manager rather than embedding auth logic of its own: every
// operation that needs MS runs inside cred.WithUnlock.
type Engine struct {
	store store.Store
	chain *audit.Chain
	cred  *credential.Manager
	cfg   *config.LeaseConfig
	log   logger.Logger

	leases *leaseRegistry

	// contactSub is the mailto:/https: contact URI stamped into every
	// VAPID JWT's sub claim. It identifies the operator of this enclave
	// to push services, not any individual user, so it is configured
	// once rather than derived per subscription.
	contactSub string
}

const defaultContactSub = "mailto:push@ats-kms-enclave.invalid"

// NewEngine builds an Engine over s, auditing through chain and
// authenticating through cred.
func NewEngine(s store.Store, chain *audit.Chain, cred *credential.Manager, cfg *config.LeaseConfig, log logger.Logger) *Engine {
	return &Engine{
		store:      s,
		chain:      chain,
		cred:       cred,
		cfg:        cfg,
		log:        log,
		leases:     newLeaseRegistry(s, log),
		contactSub: defaultContactSub,
	}
}

// SetContactSub overrides the sub claim stamped into VAPID JWTs issued
// by IssueVAPIDJWT; until it is called, defaultContactSub is used.
// Nothing in this module calls it. SignJWT's caller-supplied payload is
// unaffected since its sub comes from the caller directly.
func (e *Engine) SetContactSub(sub string) {
	e.contactSub = sub
}

func vapidKeyAAD(userID, kid string) []byte {
	return []byte(fmt.Sprintf("ats-kms/vapid/%s/%s", userID, kid))
}

func (e *Engine) putWrappedKey(wk WrappedKey) error {
	blob, err := json.Marshal(wk)
	if err != nil {
		return fmt.Errorf("keyengine: marshal wrapped key: %w", err)
	}
	return e.store.WrappedKeys().Put(wk.Kid, blob)
}

func (e *Engine) getWrappedKey(kid string) (WrappedKey, error) {
	rec, err := e.store.WrappedKeys().Get(kid)
	if err != nil {
		return WrappedKey{}, err
	}
	var wk WrappedKey
	if err := json.Unmarshal(rec.Data, &wk); err != nil {
		return WrappedKey{}, fmt.Errorf("keyengine: unmarshal wrapped key: %w", err)
	}
	return wk, nil
}

func (e *Engine) vapidKidFor(userID string) (string, bool, error) {
	raw, ok, err := e.store.MetaGet(metaVAPIDKidPrefix + userID)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

func (e *Engine) setVAPIDKidFor(userID, kid string) error {
	return e.store.MetaSet(metaVAPIDKidPrefix+userID, []byte(kid))
}

// GetPublicKey returns the current VAPID public key for userID without
// requiring authentication: the public key is not secret.
func (e *Engine) GetPublicKey(userID string) (kid string, publicKeyRaw []byte, err error) {
	kid, ok, err := e.vapidKidFor(userID)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, ErrKeyNotFound
	}
	wk, err := e.getWrappedKey(kid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrKeyNotFound
		}
		return "", nil, err
	}
	return wk.Kid, wk.PublicKeyRaw, nil
}

// GetVAPIDKid returns userID's current VAPID kid.
func (e *Engine) GetVAPIDKid(userID string) (string, error) {
	kid, ok, err := e.vapidKidFor(userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrKeyNotFound
	}
	return kid, nil
}

// generateAndSealVAPID builds a fresh ES256 key, wraps its private key
// under MKEK (derived fresh from ms), and returns the persisted record.
func generateAndSealVAPID(userID string, ms []byte) (WrappedKey, error) {
	keyPair, err := keys.GenerateP256KeyPair()
	if err != nil {
		return WrappedKey{}, fmt.Errorf("keyengine: generate VAPID key: %w", err)
	}
	p256, ok := keyPair.PrivateKey().(*ecdsa.PrivateKey)
	if !ok {
		return WrappedKey{}, fmt.Errorf("keyengine: unexpected VAPID private key type")
	}

	jwk := formats.JWK{Kty: "EC", Crv: "P-256",
		X: rawCoordB64(p256.X), Y: rawCoordB64(p256.Y)}
	kid, err := jwk.Thumbprint()
	if err != nil {
		return WrappedKey{}, fmt.Errorf("keyengine: compute kid: %w", err)
	}

	mkekSalt := make([]byte, 16)
	if _, err := rand.Read(mkekSalt); err != nil {
		return WrappedKey{}, err
	}
	mkek, err := kmscrypto.HKDFDerive(ms, mkekSalt, kmscrypto.InfoMKEK, 32)
	if err != nil {
		return WrappedKey{}, fmt.Errorf("keyengine: derive MKEK: %w", err)
	}
	defer kmscrypto.Zero(mkek)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(p256)
	if err != nil {
		return WrappedKey{}, fmt.Errorf("keyengine: marshal PKCS8: %w", err)
	}

	aad := vapidKeyAAD(userID, kid)
	iv, ciphertext, err := kmscrypto.SealAESGCM(mkek, aad, pkcs8)
	if err != nil {
		return WrappedKey{}, fmt.Errorf("keyengine: seal VAPID key: %w", err)
	}

	now := time.Now().UTC()
	return WrappedKey{
		Kid:          kid,
		UserID:       userID,
		Purpose:      "vapid",
		Alg:          "ES256",
		PublicKeyRaw: keyPair.(interface{ PublicKeyRaw() []byte }).PublicKeyRaw(),
		WrappedKey:   ciphertext,
		IV:           iv,
		AAD:          aad,
		MKEKSalt:     mkekSalt,
		CreatedAt:    now,
		LastUsedAt:   now,
	}, nil
}

// GenerateVAPID creates userID's first VAPID signing key. It fails if one
// already exists; callers that want to replace an existing key call
// RegenerateVAPID instead.
func (e *Engine) GenerateVAPID(creds credential.AuthCredentials) (kid string, publicKeyRaw []byte, err error) {
	if _, ok, verr := e.vapidKidFor(creds.UserID); verr != nil {
		return "", nil, verr
	} else if ok {
		return "", nil, ErrKeyExists
	}

	result, err := e.cred.WithUnlock(creds, credential.OpContext{Op: "vapid.generate"}, func(ms []byte) (any, error) {
		wk, err := generateAndSealVAPID(creds.UserID, ms)
		if err != nil {
			return nil, err
		}
		if err := e.putWrappedKey(wk); err != nil {
			return nil, err
		}
		if err := e.setVAPIDKidFor(creds.UserID, wk.Kid); err != nil {
			return nil, err
		}
		return wk, nil
	})
	if err != nil {
		return "", nil, err
	}
	wk := result.(WrappedKey)
	return wk.Kid, wk.PublicKeyRaw, nil
}

// RegenerateVAPID replaces userID's VAPID key with a fresh one, deleting
// the old wrapped key but deliberately leaving any lease that referenced
// its kid in place, discoverable-but-invalid: VerifyLease/IssueVAPIDJWT
// notice the kid mismatch against the user's new current key and report
// wrong-key, rather than the lease vanishing out from under a caller who
// still holds its ID. Only the lease's cached SessionKEK/quota state is
// dropped, since that's ephemeral and re-derivable only by a fresh
// CreateLease.
func (e *Engine) RegenerateVAPID(creds credential.AuthCredentials) (kid string, publicKeyRaw []byte, err error) {
	result, err := e.cred.WithUnlock(creds, credential.OpContext{Op: "vapid.regenerate"}, func(ms []byte) (any, error) {
		oldKid, hadOld, verr := e.vapidKidFor(creds.UserID)
		if verr != nil {
			return nil, verr
		}
		if hadOld {
			if derr := e.store.WrappedKeys().Delete(oldKid); derr != nil && !errors.Is(derr, store.ErrNotFound) {
				return nil, derr
			}
			if derr := e.leases.forgetForKid(oldKid); derr != nil {
				return nil, derr
			}
		}

		wk, werr := generateAndSealVAPID(creds.UserID, ms)
		if werr != nil {
			return nil, werr
		}
		if werr := e.putWrappedKey(wk); werr != nil {
			return nil, werr
		}
		if werr := e.setVAPIDKidFor(creds.UserID, wk.Kid); werr != nil {
			return nil, werr
		}
		return wk, nil
	})
	if err != nil {
		return "", nil, err
	}
	wk := result.(WrappedKey)
	return wk.Kid, wk.PublicKeyRaw, nil
}

// SetPushSubscription validates and attaches a push subscription to
// userID's current VAPID key.
func (e *Engine) SetPushSubscription(creds credential.AuthCredentials, sub PushSubscription) error {
	if err := validateSubscription(sub); err != nil {
		return err
	}
	_, err := e.cred.WithUnlock(creds, credential.OpContext{Op: "vapid.setPushSubscription"}, func(ms []byte) (any, error) {
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
		subCopy := sub
		wk.Subscription = &subCopy
		return nil, e.putWrappedKey(wk)
	})
	return err
}

// RemovePushSubscription detaches the push subscription from userID's
// current VAPID key, if any.
func (e *Engine) RemovePushSubscription(creds credential.AuthCredentials) error {
	_, err := e.cred.WithUnlock(creds, credential.OpContext{Op: "vapid.removePushSubscription"}, func(ms []byte) (any, error) {
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
		wk.Subscription = nil
		return nil, e.putWrappedKey(wk)
	})
	return err
}

// GetPushSubscription returns the push subscription attached to userID's
// current VAPID key, if any.
func (e *Engine) GetPushSubscription(userID string) (*PushSubscription, error) {
	kid, ok, err := e.vapidKidFor(userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrKeyNotFound
	}
	wk, err := e.getWrappedKey(kid)
	if err != nil {
		return nil, err
	}
	return wk.Subscription, nil
}
