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

package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/lukium/ats-kms-enclave/crypto/keys"
	"github.com/lukium/ats-kms-enclave/store"
)

func nowUTC() time.Time { return time.Now().UTC() }

func hashSum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

const (
	metaUAKPubPrefix = "audit.uak.pub:"
	metaKIAKPriv     = "audit.kiak.priv"
	metaKIAKPub      = "audit.kiak.pub"
	metaInstanceID   = "audit.instance.id"
)

func cacheUAKPublicKey(s store.Store, userID string, pub ed25519.PublicKey) error {
	if userID == "" {
		return nil
	}
	return s.MetaSet(metaUAKPubPrefix+userID, pub)
}

func lookupUAKPublicKey(s store.Store, userID string) (ed25519.PublicKey, bool) {
	if userID == "" {
		return nil, false
	}
	raw, ok, err := s.MetaGet(metaUAKPubPrefix + userID)
	if err != nil || !ok {
		return nil, false
	}
	return ed25519.PublicKey(raw), true
}

// CachedUAKPublicKey returns the UAK public key cached for userID by the
// last UAK-signed entry appended through Chain.Append, if any. credential
// uses this to verify that a master secret supplied for a second
// enrollment derives the same UAK identity as the user's existing one.
func CachedUAKPublicKey(s store.Store, userID string) (ed25519.PublicKey, bool) {
	return lookupUAKPublicKey(s, userID)
}

func lookupKIAKPublicKey(s store.Store) (ed25519.PublicKey, bool) {
	raw, ok, err := s.MetaGet(metaKIAKPub)
	if err != nil || !ok {
		return nil, false
	}
	return ed25519.PublicKey(raw), true
}

// instanceID returns this enclave instance's stable identifier,
// generating and persisting one on first use.
func instanceID(s store.Store) (string, error) {
	raw, ok, err := s.MetaGet(metaInstanceID)
	if err != nil {
		return "", err
	}
	if ok {
		return string(raw), nil
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return "", err
	}
	hexID := fmt.Sprintf("%x", id)
	if err := s.MetaSet(metaInstanceID, []byte(hexID)); err != nil {
		return "", err
	}
	return hexID, nil
}

// LoadOrCreateKIAK returns the enclave instance's KIAK signer, generating
// and persisting one on first call. The private key is kept in
// store.Meta in the clear: KIAK signs unattended system events
// (kms.init, rotation) that must not require a user to be unlocked, so
// it cannot itself live behind MS-derived encryption.
func LoadOrCreateKIAK(s store.Store) (Signer, error) {
	id, err := instanceID(s)
	if err != nil {
		return Signer{}, err
	}

	raw, ok, err := s.MetaGet(metaKIAKPriv)
	if err != nil {
		return Signer{}, err
	}

	var priv ed25519.PrivateKey
	if ok {
		priv = ed25519.PrivateKey(raw)
	} else {
		pub, generated, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return Signer{}, genErr
		}
		priv = generated
		if setErr := s.MetaSet(metaKIAKPriv, priv); setErr != nil {
			return Signer{}, setErr
		}
		if setErr := s.MetaSet(metaKIAKPub, pub); setErr != nil {
			return Signer{}, setErr
		}
	}

	kp, err := keys.NewEd25519KeyPair(priv, "")
	if err != nil {
		return Signer{}, err
	}

	cert := NewKIAKCert(id, priv.Public().(ed25519.PublicKey), []string{"kms.init", "rotation"})
	return Signer{Kind: SignerKIAK, KeyPair: kp, Cert: &cert}, nil
}

// RotateKIAK generates a fresh KIAK keypair, persists it in place of the
// old one, and audits the rotation signed by the new key — the same
// generate-new/store-new/record-event shape crypto/rotation's key
// rotator uses, adapted to an Ed25519 audit identity instead of a
// signing key pair under active use for application traffic.
func RotateKIAK(s store.Store, chain *Chain, requestID string) (Entry, error) {
	oldPub, hadOld := lookupKIAKPublicKey(s)

	id, err := instanceID(s)
	if err != nil {
		return Entry{}, err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Entry{}, err
	}
	if err := s.MetaSet(metaKIAKPriv, priv); err != nil {
		return Entry{}, err
	}
	if err := s.MetaSet(metaKIAKPub, pub); err != nil {
		return Entry{}, err
	}

	kp, err := keys.NewEd25519KeyPair(priv, "")
	if err != nil {
		return Entry{}, err
	}
	cert := NewKIAKCert(id, pub, []string{"kms.init", "rotation"})
	signer := Signer{Kind: SignerKIAK, KeyPair: kp, Cert: &cert}

	details := map[string]any{"instanceId": id}
	if hadOld {
		details["previousSignerId"] = base64KeyFingerprint(oldPub)
	}

	return chain.Append(signer, OpInput{
		Op:        "kiak.rotate",
		RequestID: requestID,
		Details:   details,
	})
}

func base64KeyFingerprint(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(hashSum(pub))
}
