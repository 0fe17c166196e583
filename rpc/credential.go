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
	"encoding/base64"
	"time"

	"github.com/lukium/ats-kms-enclave/credential"
)

// decodeCreds converts the wire shape of AuthCredentials into the
// domain type, rejecting an unrecognized method discriminator before it
// ever reaches credential.Manager.
func decodeCreds(w authCredentialsWire) (credential.AuthCredentials, error) {
	method := credential.Method(w.Method)
	switch method {
	case credential.MethodPassphrase, credential.MethodPasskeyPRF, credential.MethodPasskeyGate:
	default:
		return credential.AuthCredentials{}, invalidParams("unrecognized method: " + w.Method)
	}

	var prf []byte
	if w.PRFOutput != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(w.PRFOutput)
		if err != nil {
			return credential.AuthCredentials{}, invalidParams("prfOutput must be base64url: " + err.Error())
		}
		prf = decoded
	}

	creds := credential.AuthCredentials{
		UserID:       w.UserID,
		Method:       method,
		Passphrase:   w.Passphrase,
		CredentialID: w.CredentialID,
		PRFOutput:    prf,
	}
	if err := creds.Validate(); err != nil {
		return credential.AuthCredentials{}, err
	}
	return creds, nil
}

func toEnrollmentMetaWire(m credential.EnrollmentMeta) enrollmentMetaWire {
	return enrollmentMetaWire{
		EnrollmentID: m.EnrollmentID,
		UserID:       m.UserID,
		Method:       string(m.Method),
		CredentialID: m.CredentialID,
		RPID:         m.RPID,
		CreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type setupPassphraseParams struct {
	UserID     string `json:"userId"`
	Passphrase string `json:"passphrase"`
	ExistingMS string `json:"existingMasterSecret,omitempty"`
}

func decodeExistingMS(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		return nil, invalidParams("existingMasterSecret must be base64url: " + err.Error())
	}
	return raw, nil
}

func handleSetupPassphrase(s *Server, req Request) (interface{}, error) {
	var p setupPassphraseParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, invalidParams("userId is required")
	}
	ms, err := decodeExistingMS(p.ExistingMS)
	if err != nil {
		return nil, err
	}
	meta, err := s.cred.SetupPassphrase(p.UserID, p.Passphrase, ms)
	if err != nil {
		return nil, err
	}
	return toEnrollmentMetaWire(meta), nil
}

type setupPasskeyPRFParams struct {
	UserID       string `json:"userId"`
	CredentialID string `json:"credentialId"`
	RPID         string `json:"rpId"`
	PRFOutput    string `json:"prfOutput"`
	ExistingMS   string `json:"existingMasterSecret,omitempty"`
}

func handleSetupPasskeyPRF(s *Server, req Request) (interface{}, error) {
	var p setupPasskeyPRFParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" || p.CredentialID == "" || p.RPID == "" {
		return nil, invalidParams("userId, credentialId and rpId are required")
	}
	prf, err := base64.RawURLEncoding.DecodeString(p.PRFOutput)
	if err != nil {
		return nil, invalidParams("prfOutput must be base64url: " + err.Error())
	}
	ms, err := decodeExistingMS(p.ExistingMS)
	if err != nil {
		return nil, err
	}
	meta, err := s.cred.SetupPasskeyPRF(p.UserID, p.CredentialID, p.RPID, prf, ms)
	if err != nil {
		return nil, err
	}
	return toEnrollmentMetaWire(meta), nil
}

type setupPasskeyGateParams struct {
	UserID       string `json:"userId"`
	CredentialID string `json:"credentialId"`
	ExistingMS   string `json:"existingMasterSecret,omitempty"`
}

func handleSetupPasskeyGate(s *Server, req Request) (interface{}, error) {
	var p setupPasskeyGateParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" || p.CredentialID == "" {
		return nil, invalidParams("userId and credentialId are required")
	}
	ms, err := decodeExistingMS(p.ExistingMS)
	if err != nil {
		return nil, err
	}
	meta, err := s.cred.SetupPasskeyGate(p.UserID, p.CredentialID, ms)
	if err != nil {
		return nil, err
	}
	return toEnrollmentMetaWire(meta), nil
}

type addEnrollmentParams struct {
	ExistingCreds authCredentialsWire `json:"existingCredentials"`
	NewMethod     string              `json:"newMethod"`
	NewParams     newMethodParamsWire `json:"newParams"`
}

func handleAddEnrollment(s *Server, req Request) (interface{}, error) {
	var p addEnrollmentParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	existing, err := decodeCreds(p.ExistingCreds)
	if err != nil {
		return nil, err
	}

	method := credential.Method(p.NewMethod)
	switch method {
	case credential.MethodPassphrase, credential.MethodPasskeyPRF, credential.MethodPasskeyGate:
	default:
		return nil, invalidParams("unrecognized newMethod: " + p.NewMethod)
	}

	var prf []byte
	if p.NewParams.PRFOutput != "" {
		prf, err = base64.RawURLEncoding.DecodeString(p.NewParams.PRFOutput)
		if err != nil {
			return nil, invalidParams("newParams.prfOutput must be base64url: " + err.Error())
		}
	}

	meta, err := s.cred.AddEnrollment(existing, method, credential.NewMethodParams{
		Passphrase:   p.NewParams.Passphrase,
		CredentialID: p.NewParams.CredentialID,
		RPID:         p.NewParams.RPID,
		PRFOutput:    prf,
	})
	if err != nil {
		return nil, err
	}
	return toEnrollmentMetaWire(meta), nil
}

type removeEnrollmentParams struct {
	TargetEnrollmentID string              `json:"targetEnrollmentId"`
	Credentials        authCredentialsWire `json:"credentials"`
}

func handleRemoveEnrollment(s *Server, req Request) (interface{}, error) {
	var p removeEnrollmentParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.TargetEnrollmentID == "" {
		return nil, invalidParams("targetEnrollmentId is required")
	}
	creds, err := decodeCreds(p.Credentials)
	if err != nil {
		return nil, err
	}
	if err := s.cred.RemoveEnrollment(p.TargetEnrollmentID, creds); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type userIDParams struct {
	UserID string `json:"userId"`
}

func handleGetEnrollments(s *Server, req Request) (interface{}, error) {
	var p userIDParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, invalidParams("userId is required")
	}
	list, err := s.cred.GetEnrollments(p.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]enrollmentMetaWire, 0, len(list))
	for _, m := range list {
		out = append(out, toEnrollmentMetaWire(m))
	}
	return out, nil
}

func handleIsSetup(s *Server, req Request) (interface{}, error) {
	var p userIDParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, invalidParams("userId is required")
	}
	ok, err := s.cred.IsSetup(p.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"isSetup": ok}, nil
}

func handleResetKMS(s *Server, req Request) (interface{}, error) {
	if err := s.cred.ResetKMS(); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}
