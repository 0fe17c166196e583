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

package credential

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/lukium/ats-kms-enclave/audit"
	"github.com/lukium/ats-kms-enclave/config"
	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/crypto/keys"
	"github.com/lukium/ats-kms-enclave/internal/logger"
	"github.com/lukium/ats-kms-enclave/store"
)

const msLength = 32

// NewMethodParams carries the setup-time parameters for whichever Method
// is being enrolled; only the fields relevant to that method are read.
type NewMethodParams struct {
	Passphrase string // MethodPassphrase

	CredentialID string // MethodPasskeyPRF / MethodPasskeyGate
	RPID         string // MethodPasskeyPRF
	PRFOutput    []byte // MethodPasskeyPRF, 32 bytes, from the WebAuthn ceremony
}

// EnrollmentMeta is what GetEnrollments and the setup operations return:
// enough to drive a client-side auth ceremony, never the MS envelope or
// key-derivation secrets.
type EnrollmentMeta struct {
	EnrollmentID string
	UserID       string
	Method       Method
	CredentialID string
	RPID         string
	AppSalt      []byte
	CreatedAt    time.Time
}

func toMeta(e EnrollmentConfig) EnrollmentMeta {
	return EnrollmentMeta{
		EnrollmentID: e.EnrollmentID,
		UserID:       e.UserID,
		Method:       e.Method,
		CredentialID: e.CredentialID,
		RPID:         e.RPID,
		AppSalt:      e.AppSalt,
		CreatedAt:    e.CreatedAt,
	}
}

// OpContext carries the request-scoped fields withUnlock stamps onto the
// audit entry it emits for the operation it wraps.
type OpContext struct {
	Op        string
	Origin    string
	RequestID string
}

// Manager owns Master Secret enrollment and the withUnlock primitive
// every authenticated operation in this enclave runs through.
type Manager struct {
	store   store.Store
	chain   *audit.Chain
	cfg     *config.CredentialConfig
	log     logger.Logger
	limiter *rateLimiter
}

// NewManager builds a Manager over s, auditing through chain and applying
// cfg's PBKDF2 and lockout policy.
func NewManager(s store.Store, chain *audit.Chain, cfg *config.CredentialConfig, log logger.Logger) *Manager {
	return &Manager{
		store:   s,
		chain:   chain,
		cfg:     cfg,
		log:     log,
		limiter: newRateLimiter(cfg.LockoutThreshold, cfg.LockoutWindow, cfg.LockoutCooldown),
	}
}

func enrollmentID(userID string, method Method, credentialID string) string {
	if credentialID == "" {
		return userID + "|" + string(method)
	}
	return userID + "|" + string(method) + "|" + credentialID
}

func (m *Manager) putEnrollment(e EnrollmentConfig) error {
	blob, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("credential: marshal enrollment: %w", err)
	}
	return m.store.Enrollments().Put(e.EnrollmentID, blob)
}

func (m *Manager) getEnrollment(id string) (EnrollmentConfig, error) {
	rec, err := m.store.Enrollments().Get(id)
	if err != nil {
		return EnrollmentConfig{}, err
	}
	var e EnrollmentConfig
	if err := json.Unmarshal(rec.Data, &e); err != nil {
		return EnrollmentConfig{}, fmt.Errorf("credential: unmarshal enrollment: %w", err)
	}
	return e, nil
}

func (m *Manager) enrollmentExists(userID string, method Method, credentialID string) (bool, error) {
	_, err := m.getEnrollment(enrollmentID(userID, method, credentialID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (m *Manager) enrollmentsForUser(userID string) ([]EnrollmentConfig, error) {
	all, err := m.store.Enrollments().Scan()
	if err != nil {
		return nil, err
	}
	out := make([]EnrollmentConfig, 0, len(all))
	for _, rec := range all {
		var e EnrollmentConfig
		if err := json.Unmarshal(rec.Data, &e); err != nil {
			continue
		}
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// IsSetup reports whether userID has at least one enrollment.
func (m *Manager) IsSetup(userID string) (bool, error) {
	enrollments, err := m.enrollmentsForUser(userID)
	if err != nil {
		return false, err
	}
	return len(enrollments) > 0, nil
}

// GetEnrollments returns metadata for every enrollment userID has, never
// the MS ciphertext envelope or key-derivation salts.
func (m *Manager) GetEnrollments(userID string) ([]EnrollmentMeta, error) {
	enrollments, err := m.enrollmentsForUser(userID)
	if err != nil {
		return nil, err
	}
	out := make([]EnrollmentMeta, 0, len(enrollments))
	for _, e := range enrollments {
		out = append(out, toMeta(e))
	}
	return out, nil
}

// uakSigner derives this user's UAK from ms and wraps it as an audit
// Signer. UAK is never persisted: it is re-derived inside every
// withUnlock call from the same HKDF info string so that the same MS
// always yields the same signing identity.
func (m *Manager) uakSigner(ms []byte) (audit.Signer, error) {
	seed, err := kmscrypto.HKDFDerive(ms, nil, kmscrypto.InfoUAK, ed25519.SeedSize)
	if err != nil {
		return audit.Signer{}, fmt.Errorf("credential: derive UAK: %w", err)
	}
	defer kmscrypto.Zero(seed)

	priv := ed25519.NewKeyFromSeed(seed)
	kp, err := keys.NewEd25519KeyPair(priv, "")
	if err != nil {
		return audit.Signer{}, fmt.Errorf("credential: build UAK keypair: %w", err)
	}
	return audit.Signer{Kind: audit.SignerUAK, KeyPair: kp}, nil
}

// checkMSConsistency verifies that ms derives the same UAK identity as
// the one already on file for userID, refusing to let a second
// enrollment silently fork a user onto a different master secret. A user
// with no prior enrollment has nothing to check against.
func (m *Manager) checkMSConsistency(userID string, ms []byte) error {
	cachedPub, found := audit.CachedUAKPublicKey(m.store, userID)
	if !found {
		return nil
	}
	signer, err := m.uakSigner(ms)
	if err != nil {
		return err
	}
	pub, ok := signer.KeyPair.PublicKey().(ed25519.PublicKey)
	if !ok || !bytes.Equal(pub, cachedPub) {
		return ErrMSMismatch
	}
	return nil
}

func mapDecryptError(method Method) error {
	if method == MethodPassphrase {
		return ErrIncorrectPassphrase
	}
	return ErrPasskeyAuthFailed
}

// deriveKWrap re-derives the method-specific key that wraps e's MS
// ciphertext from the credentials the caller presented.
func (m *Manager) deriveKWrap(creds AuthCredentials, e EnrollmentConfig) ([]byte, error) {
	switch e.Method {
	case MethodPassphrase:
		key, kcv := kmscrypto.PBKDF2Derive(creds.Passphrase, e.Salt, e.Iterations)
		if subtle.ConstantTimeCompare(kcv, e.KCV) != 1 {
			kmscrypto.Zero(key)
			return nil, ErrIncorrectPassphrase
		}
		return key, nil

	case MethodPasskeyPRF:
		return kmscrypto.HKDFDerive(creds.PRFOutput, e.HKDFSalt, e.Info, msLength)

	case MethodPasskeyGate:
		return kmscrypto.HKDFDerive(e.PepperWrapped, []byte(e.CredentialID), "ATS/KMS/Gate/v1", msLength)

	default:
		return nil, ErrInvalidCredentials
	}
}

// unlock authenticates creds, returning the recovered MS and the
// enrollment it was recovered from. Callers must crypto.Zero the
// returned MS once done with it.
func (m *Manager) unlock(creds AuthCredentials) ([]byte, EnrollmentConfig, error) {
	if err := creds.Validate(); err != nil {
		return nil, EnrollmentConfig{}, err
	}
	if m.limiter.CheckLocked(creds.UserID, creds.Method) {
		return nil, EnrollmentConfig{}, ErrLocked
	}

	enrollment, err := m.getEnrollment(enrollmentID(creds.UserID, creds.Method, creds.CredentialID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, EnrollmentConfig{}, ErrNotSetup
		}
		return nil, EnrollmentConfig{}, err
	}

	kwrap, err := m.deriveKWrap(creds, enrollment)
	if err != nil {
		m.limiter.RecordFailure(creds.UserID, creds.Method)
		return nil, EnrollmentConfig{}, err
	}
	defer kmscrypto.Zero(kwrap)

	ms, err := kmscrypto.OpenAESGCM(kwrap, enrollment.MSIV, enrollment.MSAAD, enrollment.EncryptedMS)
	if err != nil {
		m.limiter.RecordFailure(creds.UserID, creds.Method)
		return nil, EnrollmentConfig{}, mapDecryptError(enrollment.Method)
	}

	m.limiter.RecordSuccess(creds.UserID, creds.Method)
	return ms, enrollment, nil
}

// withUnlock is the core primitive every authenticated operation runs
// through: it recovers MS, hands it to op in a scoped buffer that is
// zeroized on every exit path, and audits the call (success or failure)
// signed by the UAK derived from that same MS. A failed unlock has no MS
// to derive a UAK from, so it is audited under the instance KIAK.
func (m *Manager) withUnlock(creds AuthCredentials, ctx OpContext, op func(ms []byte) (any, error)) (any, error) {
	ms, _, err := m.unlock(creds)
	if err != nil {
		if kiak, kerr := audit.LoadOrCreateKIAK(m.store); kerr == nil {
			if _, auditErr := m.chain.Append(kiak, audit.OpInput{
				Op:        ctx.Op,
				UserID:    creds.UserID,
				Origin:    ctx.Origin,
				RequestID: ctx.RequestID,
				Details:   map[string]any{"method": string(creds.Method), "error": err.Error()},
			}); auditErr != nil && m.log != nil {
				m.log.Error("credential: audit failed unlock failed", logger.String("op", ctx.Op), logger.Error(auditErr))
			}
		}
		return nil, err
	}
	defer kmscrypto.Zero(ms)

	unlockTime := time.Now().UTC()
	result, opErr := op(ms)
	lockTime := time.Now().UTC()
	duration := lockTime.Sub(unlockTime)

	signer, signerErr := m.uakSigner(ms)
	if signerErr != nil {
		if m.log != nil {
			m.log.Error("credential: derive UAK for audit failed", logger.Error(signerErr))
		}
		if opErr != nil {
			return nil, opErr
		}
		return nil, signerErr
	}

	details := map[string]any{"method": string(creds.Method)}
	if opErr != nil {
		details["error"] = opErr.Error()
	}

	if _, auditErr := m.chain.Append(signer, audit.OpInput{
		Op:         ctx.Op,
		UserID:     creds.UserID,
		Origin:     ctx.Origin,
		RequestID:  ctx.RequestID,
		UnlockTime: &unlockTime,
		LockTime:   &lockTime,
		Duration:   &duration,
		Details:    details,
	}); auditErr != nil && m.log != nil {
		m.log.Error("credential: audit append failed", logger.String("op", ctx.Op), logger.Error(auditErr))
	}

	if opErr != nil {
		return nil, opErr
	}
	return result, nil
}

// WithUnlock exposes withUnlock to other domain packages. keyengine's VAPID,
// JWT and lease operations all authenticate a caller and run their body
// inside this same scope, so they need it under its own name rather than
// re-implementing MS recovery and UAK-signed auditing themselves.
func (m *Manager) WithUnlock(creds AuthCredentials, ctx OpContext, op func(ms []byte) (any, error)) (any, error) {
	return m.withUnlock(creds, ctx, op)
}

// sealEnrollment derives the method-specific K_wrap from params, AES-GCM
// seals ms under it with the method/credential-bound AAD, and persists
// the resulting enrollment. It does not check for a pre-existing
// enrollment; callers do that first so setup and addEnrollment can apply
// ALREADY_SETUP before ever touching MS.
func (m *Manager) sealEnrollment(userID string, method Method, params NewMethodParams, ms []byte) (EnrollmentConfig, error) {
	e := EnrollmentConfig{
		EnrollmentID: enrollmentID(userID, method, params.CredentialID),
		UserID:       userID,
		Method:       method,
		CredentialID: params.CredentialID,
		CreatedAt:    time.Now().UTC(),
		MSVersion:    msAlgVersion,
	}

	var kwrap []byte
	var err error

	switch method {
	case MethodPassphrase:
		if len(params.Passphrase) < minPassphrase {
			return EnrollmentConfig{}, ErrPassphraseTooShort
		}
		salt := make([]byte, 16)
		if _, rerr := rand.Read(salt); rerr != nil {
			return EnrollmentConfig{}, rerr
		}
		target := time.Duration(m.cfg.PBKDF2TargetMS) * time.Millisecond
		iterations, _ := kmscrypto.CalibrateIterations(target)
		if iterations < m.cfg.PBKDF2IterationFloor {
			iterations = m.cfg.PBKDF2IterationFloor
		}
		var kcv []byte
		kwrap, kcv = kmscrypto.PBKDF2Derive(params.Passphrase, salt, iterations)
		e.Iterations = iterations
		e.Salt = salt
		e.LastCalibratedAt = time.Now().UTC()
		platform := sha256.Sum256([]byte(fmt.Sprintf("%s/%s/%d", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())))
		e.PlatformHash = hex.EncodeToString(platform[:])
		e.KCV = kcv

	case MethodPasskeyPRF:
		if params.CredentialID == "" || len(params.PRFOutput) != 32 {
			return EnrollmentConfig{}, ErrInvalidCredentials
		}
		appSalt := make([]byte, 32)
		hkdfSalt := make([]byte, 16)
		if _, rerr := rand.Read(appSalt); rerr != nil {
			return EnrollmentConfig{}, rerr
		}
		if _, rerr := rand.Read(hkdfSalt); rerr != nil {
			return EnrollmentConfig{}, rerr
		}
		info := fmt.Sprintf("ATS/KMS/PasskeyPRF/v1:%s", params.CredentialID)
		kwrap, err = kmscrypto.HKDFDerive(params.PRFOutput, hkdfSalt, info, msLength)
		if err != nil {
			return EnrollmentConfig{}, err
		}
		e.RPID = params.RPID
		e.AppSalt = appSalt
		e.HKDFSalt = hkdfSalt
		e.Info = info

	case MethodPasskeyGate:
		if params.CredentialID == "" {
			return EnrollmentConfig{}, ErrInvalidCredentials
		}
		pepper := make([]byte, 32)
		if _, rerr := rand.Read(pepper); rerr != nil {
			return EnrollmentConfig{}, rerr
		}
		kwrap, err = kmscrypto.HKDFDerive(pepper, []byte(params.CredentialID), "ATS/KMS/Gate/v1", msLength)
		if err != nil {
			return EnrollmentConfig{}, err
		}
		e.PepperWrapped = pepper

	default:
		return EnrollmentConfig{}, ErrInvalidCredentials
	}
	defer kmscrypto.Zero(kwrap)

	aad, err := buildMSAAD(method, params.CredentialID)
	if err != nil {
		return EnrollmentConfig{}, err
	}
	iv, ciphertext, err := kmscrypto.SealAESGCM(kwrap, aad, ms)
	if err != nil {
		return EnrollmentConfig{}, err
	}
	e.MSIV = iv
	e.EncryptedMS = ciphertext
	e.MSAAD = aad

	if err := m.putEnrollment(e); err != nil {
		return EnrollmentConfig{}, err
	}
	return e, nil
}

// setup creates userID's enrollment under method. If existingMS is
// non-empty it is reused (after checking it derives the same UAK
// identity as any enrollment userID already has) instead of generating a
// fresh one, letting one onboarding flow enroll several methods against
// a single master secret without a full withUnlock round trip per
// method. The caller retains ownership of existingMS and is responsible
// for zeroizing it; setup only zeroizes an MS it generated itself.
func (m *Manager) setup(userID string, method Method, params NewMethodParams, existingMS []byte) (EnrollmentMeta, error) {
	exists, err := m.enrollmentExists(userID, method, params.CredentialID)
	if err != nil {
		return EnrollmentMeta{}, err
	}
	if exists {
		return EnrollmentMeta{}, ErrAlreadySetup
	}

	ms := existingMS
	if len(ms) == 0 {
		ms = make([]byte, msLength)
		if _, rerr := rand.Read(ms); rerr != nil {
			return EnrollmentMeta{}, rerr
		}
		defer kmscrypto.Zero(ms)
	} else if cerr := m.checkMSConsistency(userID, ms); cerr != nil {
		return EnrollmentMeta{}, cerr
	}

	e, err := m.sealEnrollment(userID, method, params, ms)
	if err != nil {
		return EnrollmentMeta{}, err
	}

	signer, err := m.uakSigner(ms)
	if err != nil {
		return EnrollmentMeta{}, err
	}
	if _, err := m.chain.Append(signer, audit.OpInput{
		Op:      "credential.setup",
		UserID:  userID,
		Details: map[string]any{"method": string(method)},
	}); err != nil {
		return EnrollmentMeta{}, err
	}

	return toMeta(e), nil
}

// SetupPassphrase creates userID's first (or an additional, if existingMS
// is supplied) passphrase enrollment.
func (m *Manager) SetupPassphrase(userID, passphrase string, existingMS []byte) (EnrollmentMeta, error) {
	return m.setup(userID, MethodPassphrase, NewMethodParams{Passphrase: passphrase}, existingMS)
}

// SetupPasskeyPRF creates a passkey-PRF enrollment from a WebAuthn PRF
// extension output already obtained by the caller.
func (m *Manager) SetupPasskeyPRF(userID, credentialID, rpID string, prfOutput []byte, existingMS []byte) (EnrollmentMeta, error) {
	return m.setup(userID, MethodPasskeyPRF, NewMethodParams{CredentialID: credentialID, RPID: rpID, PRFOutput: prfOutput}, existingMS)
}

// SetupPasskeyGate creates a passkey-gate enrollment: a random pepper is
// generated and kept available purely on the strength of local
// credential presence, since no PRF output is involved.
func (m *Manager) SetupPasskeyGate(userID, credentialID string, existingMS []byte) (EnrollmentMeta, error) {
	return m.setup(userID, MethodPasskeyGate, NewMethodParams{CredentialID: credentialID}, existingMS)
}

// AddEnrollment authenticates with existingCreds to recover MS, then
// enrolls newMethod/newParams against that same MS.
func (m *Manager) AddEnrollment(existingCreds AuthCredentials, newMethod Method, newParams NewMethodParams) (EnrollmentMeta, error) {
	exists, err := m.enrollmentExists(existingCreds.UserID, newMethod, newParams.CredentialID)
	if err != nil {
		return EnrollmentMeta{}, err
	}
	if exists {
		return EnrollmentMeta{}, ErrAlreadySetup
	}

	result, err := m.withUnlock(existingCreds, OpContext{Op: "credential.addEnrollment"}, func(ms []byte) (any, error) {
		return m.sealEnrollment(existingCreds.UserID, newMethod, newParams, ms)
	})
	if err != nil {
		return EnrollmentMeta{}, err
	}
	return toMeta(result.(EnrollmentConfig)), nil
}

// RemoveEnrollment authenticates with creds, then deletes
// targetEnrollmentID, refusing if it is the user's last remaining
// enrollment.
func (m *Manager) RemoveEnrollment(targetEnrollmentID string, creds AuthCredentials) error {
	_, err := m.withUnlock(creds, OpContext{Op: "credential.removeEnrollment"}, func(ms []byte) (any, error) {
		enrollments, err := m.enrollmentsForUser(creds.UserID)
		if err != nil {
			return nil, err
		}
		if len(enrollments) <= 1 {
			return nil, ErrLastEnrollment
		}

		found := false
		for _, e := range enrollments {
			if e.EnrollmentID == targetEnrollmentID {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrEnrollmentNotFound
		}
		return nil, m.store.Enrollments().Delete(targetEnrollmentID)
	})
	return err
}

// ResetKMS wipes every enrollment, wrapped key, and audit entry this
// instance holds, then starts a fresh chain with one KIAK-signed
// kms.reset entry recording that it happened.
func (m *Manager) ResetKMS() error {
	if err := wipeCollection(m.store.Enrollments()); err != nil {
		return err
	}
	if err := wipeCollection(m.store.WrappedKeys()); err != nil {
		return err
	}
	if err := wipeCollection(m.store.Leases()); err != nil {
		return err
	}
	if _, err := m.store.Audit().Prune(0, 0, 0); err != nil {
		return err
	}

	kiak, err := audit.LoadOrCreateKIAK(m.store)
	if err != nil {
		return err
	}
	_, err = m.chain.Append(kiak, audit.OpInput{Op: "kms.reset"})
	return err
}

func wipeCollection(c store.Collection) error {
	records, err := c.Scan()
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := c.Delete(r.ID); err != nil {
			return err
		}
	}
	return nil
}
