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
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lukium/ats-kms-enclave/audit"
	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/crypto/keys"
	"github.com/lukium/ats-kms-enclave/credential"
	"github.com/lukium/ats-kms-enclave/internal/metrics"
	"github.com/lukium/ats-kms-enclave/store"
)

// LeaseMeta is what CreateLease and GetUserLeases return: enough for a
// caller to track and present a lease, never the wrapped key material.
type LeaseMeta struct {
	LeaseID    string
	UserID     string
	Kid        string
	CreatedAt  time.Time
	Exp        time.Time
	AutoExtend bool
}

func toLeaseMeta(l Lease) LeaseMeta {
	return LeaseMeta{
		LeaseID:    l.LeaseID,
		UserID:     l.UserID,
		Kid:        l.Kid,
		CreatedAt:  l.CreatedAt,
		Exp:        l.Exp,
		AutoExtend: l.AutoExtend,
	}
}

func (e *Engine) putLease(l Lease) error {
	blob, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("keyengine: marshal lease: %w", err)
	}
	return e.store.Leases().Put(l.LeaseID, blob)
}

func (e *Engine) getLease(leaseID string) (Lease, error) {
	rec, err := e.store.Leases().Get(leaseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Lease{}, ErrLeaseNotFound
		}
		return Lease{}, err
	}
	var l Lease
	if err := json.Unmarshal(rec.Data, &l); err != nil {
		return Lease{}, fmt.Errorf("keyengine: unmarshal lease: %w", err)
	}
	return l, nil
}

// deriveUAK re-derives the caller's UAK from ms the same way
// credential.Manager does internally. Lease creation needs the UAK
// keypair itself (to sign the lease's LAK delegation cert) while still
// inside cred.WithUnlock's callback, where ms is in scope but the
// Signer credential builds for its own audit entry is not yet handed
// back to the caller.
func deriveUAK(ms []byte) (kmscrypto.KeyPair, error) {
	seed, err := kmscrypto.HKDFDerive(ms, nil, kmscrypto.InfoUAK, ed25519.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("keyengine: derive UAK: %w", err)
	}
	defer kmscrypto.Zero(seed)
	return keys.NewEd25519KeyPair(ed25519.NewKeyFromSeed(seed), "")
}

// leaseScope is the set of operations a lease's LAK delegation cert
// authorizes: issuing JWTs against the lease, and the registry's own
// cleanup marking it expired.
var leaseScope = []string{"lease.issue", "lease.expire"}

// CreateLease mints a time-bounded delegation for userID's current
// VAPID key: the private key is re-wrapped under a SessionKEK derived
// fresh for this lease, and a UAK-signed LAK cert authorizes the audit
// trail IssueVAPIDJWT produces without any further user credentials.
func (e *Engine) CreateLease(creds credential.AuthCredentials, ttl time.Duration, autoExtend bool) (LeaseMeta, error) {
	if ttl <= 0 || ttl > e.cfg.MaxTTL {
		return LeaseMeta{}, ErrTTLTooLong
	}

	result, err := e.cred.WithUnlock(creds, credential.OpContext{Op: "lease.create"}, func(ms []byte) (any, error) {
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
		pkcs8, merr := x509.MarshalPKCS8PrivateKey(priv)
		if merr != nil {
			return nil, fmt.Errorf("keyengine: marshal PKCS8 for lease: %w", merr)
		}
		defer kmscrypto.Zero(pkcs8)

		leaseID := uuid.NewString()
		now := time.Now().UTC()
		exp := now.Add(ttl)

		leaseSalt := make([]byte, 32)
		if _, rerr := rand.Read(leaseSalt); rerr != nil {
			return nil, rerr
		}
		sessionKEK, derr := kmscrypto.HKDFDerive(ms, leaseSalt, kmscrypto.InfoSessionKEK, 32)
		if derr != nil {
			return nil, fmt.Errorf("keyengine: derive SessionKEK: %w", derr)
		}
		defer kmscrypto.Zero(sessionKEK)

		leaseKeyAAD := []byte(fmt.Sprintf("ats-kms/lease/%s/vapid", leaseID))
		leaseKeyIV, wrappedLeaseKey, serr := kmscrypto.SealAESGCM(sessionKEK, leaseKeyAAD, pkcs8)
		if serr != nil {
			return nil, fmt.Errorf("keyengine: seal lease key: %w", serr)
		}

		lakPub, lakPriv, kerr := ed25519.GenerateKey(nil)
		if kerr != nil {
			return nil, fmt.Errorf("keyengine: generate LAK: %w", kerr)
		}
		lakAAD := []byte(fmt.Sprintf("ats-kms/lease/%s/lak", leaseID))
		lakIV, wrappedLAKSeed, serr := kmscrypto.SealAESGCM(sessionKEK, lakAAD, lakPriv.Seed())
		if serr != nil {
			return nil, fmt.Errorf("keyengine: seal LAK seed: %w", serr)
		}

		uak, uerr2 := deriveUAK(ms)
		if uerr2 != nil {
			return nil, uerr2
		}
		cert, cerr := audit.SignCert(audit.NewLAKCert(leaseID, lakPub, leaseScope, now, exp), uak)
		if cerr != nil {
			return nil, fmt.Errorf("keyengine: sign lease delegation cert: %w", cerr)
		}

		lease := Lease{
			LeaseID:           leaseID,
			UserID:            creds.UserID,
			Kid:               kid,
			CreatedAt:         now,
			Exp:               exp,
			AutoExtend:        autoExtend,
			LeaseSalt:         leaseSalt,
			WrappedLeaseKey:   wrappedLeaseKey,
			WrappedLeaseKeyIV: leaseKeyIV,
			LeaseKeyAAD:       leaseKeyAAD,
			LAKPublicKey:      lakPub,
			WrappedLAKSeed:    wrappedLAKSeed,
			WrappedLAKSeedIV:  lakIV,
			LAKAAD:            lakAAD,
			Cert:              cert,
		}
		if perr := e.putLease(lease); perr != nil {
			return nil, perr
		}
		e.leases.cacheSessionKEK(leaseID, sessionKEK)
		metrics.LeasesActive.Inc()
		return lease, nil
	})
	if err != nil {
		return LeaseMeta{}, err
	}
	return toLeaseMeta(result.(Lease)), nil
}

// lakSigner decrypts lease's wrapped LAK seed under sessionKEK and
// returns a ready audit.Signer carrying its delegation cert.
func lakSigner(lease Lease, sessionKEK []byte) (audit.Signer, error) {
	seed, err := kmscrypto.OpenAESGCM(sessionKEK, lease.WrappedLAKSeedIV, lease.LAKAAD, lease.WrappedLAKSeed)
	if err != nil {
		return audit.Signer{}, err
	}
	defer kmscrypto.Zero(seed)
	kp, err := keys.NewEd25519KeyPair(ed25519.NewKeyFromSeed(seed), "")
	if err != nil {
		return audit.Signer{}, err
	}
	cert := lease.Cert
	return audit.Signer{Kind: audit.SignerLAK, KeyPair: kp, Cert: &cert}, nil
}

// IssueVAPIDJWT signs a fresh RFC 8292 push JWT under leaseID's VAPID
// key, requiring no user credentials: the lease's SessionKEK (cached in
// memory since CreateLease) unwraps the private key for the duration of
// one signature. eid identifies the push destination for the per-eid
// quota limiter and may be empty to skip that check.
func (e *Engine) IssueVAPIDJWT(leaseID, eid string) (jwtStr string, kid string, err error) {
	lease, err := e.getLease(leaseID)
	if err != nil {
		return "", "", err
	}
	if time.Now().UTC().After(lease.Exp) {
		return "", "", ErrLeaseExpired
	}
	if currentKid, kerr := e.GetVAPIDKid(lease.UserID); kerr != nil || currentKid != lease.Kid {
		return "", "", ErrLeaseWrongKey
	}
	sessionKEK, ok := e.leases.getSessionKEK(leaseID)
	if !ok {
		return "", "", ErrLeaseWrongKey
	}

	limits := quotaLimits{
		TokensPerHour:        e.cfg.DefaultQuotaPerHour,
		SendsPerMinute:       e.cfg.DefaultSendsPerMinute,
		BurstSends:           e.cfg.DefaultBucketSize,
		SendsPerMinutePerEid: e.cfg.DefaultSendsPerMinutePerEid,
	}
	quota := e.leases.quotaFor(leaseID, limits)
	if allowed, rejectedBy := quota.Allow(eid); !allowed {
		metrics.QuotaRejections.WithLabelValues(rejectedBy).Inc()
		e.auditQuotaExceeded(lease, rejectedBy)
		return "", "", ErrQuotaExceeded
	}

	wk, err := e.getWrappedKey(lease.Kid)
	if err != nil {
		return "", "", err
	}
	audience, err := e.leaseJWTAudience(wk)
	if err != nil {
		return "", "", err
	}
	payload := jwt.MapClaims{
		"aud": audience.aud,
		"sub": e.contactSub,
		"exp": time.Now().UTC().Add(e.cfg.JWTTTL).Unix(),
		"jti": uuid.NewString(),
	}
	if perr := checkPolicy(payload); perr != nil {
		return "", "", perr
	}

	pkcs8, err := kmscrypto.OpenAESGCM(sessionKEK, lease.WrappedLeaseKeyIV, lease.LeaseKeyAAD, lease.WrappedLeaseKey)
	if err != nil {
		return "", "", fmt.Errorf("keyengine: unwrap lease key: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(pkcs8)
	kmscrypto.Zero(pkcs8)
	if err != nil {
		return "", "", fmt.Errorf("keyengine: parse lease PKCS8: %w", err)
	}
	leasePriv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return "", "", fmt.Errorf("keyengine: unexpected lease key type")
	}
	signed, serr := signES256(leasePriv, lease.Kid, payload)
	if serr != nil {
		return "", "", serr
	}

	signer, serr2 := lakSigner(lease, sessionKEK)
	if serr2 != nil {
		if e.log != nil {
			e.log.Error("keyengine: derive LAK signer for audit failed")
		}
	} else if _, aerr := e.chain.Append(signer, audit.OpInput{
		Op:      "lease.issue",
		UserID:  lease.UserID,
		Kid:     lease.Kid,
		LeaseID: leaseID,
	}); aerr != nil && e.log != nil {
		e.log.Error("keyengine: audit lease.issue failed")
	}

	metrics.LeaseIssuances.WithLabelValues(eid).Inc()
	return signed, lease.Kid, nil
}

// JWTRequest is one item of an IssueVAPIDJWTs batch call.
type JWTRequest struct {
	LeaseID string
	Eid     string
}

// IssuedJWT is one result of an IssueVAPIDJWTs batch call.
type IssuedJWT struct {
	LeaseID string
	JWT     string
	Kid     string
	Err     error
}

// IssueVAPIDJWTs issues one JWT per request, continuing past individual
// failures so one expired or over-quota lease in a batch push doesn't
// block the rest.
func (e *Engine) IssueVAPIDJWTs(requests []JWTRequest) []IssuedJWT {
	out := make([]IssuedJWT, 0, len(requests))
	for _, req := range requests {
		jwtStr, kid, err := e.IssueVAPIDJWT(req.LeaseID, req.Eid)
		out = append(out, IssuedJWT{LeaseID: req.LeaseID, JWT: jwtStr, Kid: kid, Err: err})
	}
	return out
}

type leaseJWTAudience struct {
	aud string
}

func (e *Engine) leaseJWTAudience(wk WrappedKey) (leaseJWTAudience, error) {
	if wk.Subscription == nil {
		return leaseJWTAudience{}, ErrNoSubscription
	}
	aud, err := audienceFor(*wk.Subscription)
	if err != nil {
		return leaseJWTAudience{}, err
	}
	return leaseJWTAudience{aud: aud}, nil
}

func (e *Engine) auditQuotaExceeded(lease Lease, limiter string) {
	kiak, err := audit.LoadOrCreateKIAK(e.store)
	if err != nil {
		return
	}
	_, _ = e.chain.Append(kiak, audit.OpInput{
		Op:      "lease.quota_exceeded",
		UserID:  lease.UserID,
		Kid:     lease.Kid,
		LeaseID: lease.LeaseID,
		Details: map[string]any{"limiter": limiter},
	})
}

// ExtendRequest is one item of an ExtendLeases batch.
type ExtendRequest struct {
	LeaseID string
	NewExp  time.Time
}

// ExtendResult reports the outcome of one ExtendRequest.
type ExtendResult struct {
	LeaseID string
	Status  string // extended, skipped
	Reason  string
}

// ExtendLeases processes a batch of lease extensions. Leases created
// with autoExtend need no credentials; any other lease in the batch
// requires creds to be non-nil and valid, since extending a
// non-auto-extend lease is itself a privileged act the user must
// authorize.
func (e *Engine) ExtendLeases(creds *credential.AuthCredentials, items []ExtendRequest) []ExtendResult {
	out := make([]ExtendResult, 0, len(items))
	for _, item := range items {
		out = append(out, e.extendOne(creds, item))
	}
	return out
}

func (e *Engine) extendOne(creds *credential.AuthCredentials, item ExtendRequest) ExtendResult {
	lease, err := e.getLease(item.LeaseID)
	if err != nil {
		return ExtendResult{LeaseID: item.LeaseID, Status: "skipped", Reason: err.Error()}
	}
	if item.NewExp.Sub(lease.CreatedAt) > e.cfg.MaxTTL {
		return ExtendResult{LeaseID: item.LeaseID, Status: "skipped", Reason: ErrTTLTooLong.Error()}
	}

	if !lease.AutoExtend {
		if creds == nil {
			return ExtendResult{LeaseID: item.LeaseID, Status: "skipped", Reason: ErrAutoExtendDenied.Error()}
		}
		if _, err := e.cred.WithUnlock(*creds, credential.OpContext{Op: "lease.extend"}, func(ms []byte) (any, error) {
			return nil, nil
		}); err != nil {
			return ExtendResult{LeaseID: item.LeaseID, Status: "skipped", Reason: err.Error()}
		}
	}

	lease.Exp = item.NewExp
	if err := e.putLease(lease); err != nil {
		return ExtendResult{LeaseID: item.LeaseID, Status: "skipped", Reason: err.Error()}
	}
	return ExtendResult{LeaseID: item.LeaseID, Status: "extended"}
}

// VerifyLeaseResult is what VerifyLease returns.
type VerifyLeaseResult struct {
	LeaseID string
	Valid   bool
	Reason  string // expired, wrong-key, not-found; empty when Valid
	Kid     string
}

// VerifyLease reports whether leaseID is currently usable: present,
// unexpired, still authorizing the user's current VAPID key, and backed
// by a cached SessionKEK.
func (e *Engine) VerifyLease(leaseID string) VerifyLeaseResult {
	lease, err := e.getLease(leaseID)
	if err != nil {
		return VerifyLeaseResult{LeaseID: leaseID, Valid: false, Reason: "not-found"}
	}
	if time.Now().UTC().After(lease.Exp) {
		return VerifyLeaseResult{LeaseID: leaseID, Valid: false, Reason: "expired", Kid: lease.Kid}
	}
	if currentKid, kerr := e.GetVAPIDKid(lease.UserID); kerr != nil || currentKid != lease.Kid {
		return VerifyLeaseResult{LeaseID: leaseID, Valid: false, Reason: "wrong-key", Kid: lease.Kid}
	}
	if _, ok := e.leases.getSessionKEK(leaseID); !ok {
		return VerifyLeaseResult{LeaseID: leaseID, Valid: false, Reason: "wrong-key", Kid: lease.Kid}
	}
	return VerifyLeaseResult{LeaseID: leaseID, Valid: true, Kid: lease.Kid}
}

// GetUserLeases lists metadata for userID's current, unexpired leases.
func (e *Engine) GetUserLeases(userID string) ([]LeaseMeta, error) {
	records, err := e.store.Leases().Scan()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]LeaseMeta, 0, len(records))
	for _, rec := range records {
		var l Lease
		if json.Unmarshal(rec.Data, &l) != nil {
			continue
		}
		if l.UserID != userID || now.After(l.Exp) {
			continue
		}
		out = append(out, toLeaseMeta(l))
	}
	return out, nil
}
