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

	"github.com/golang-jwt/jwt/v5"
)

type credsOnlyParams struct {
	Credentials authCredentialsWire `json:"credentials"`
}

type publicKeyResult struct {
	Kid          string `json:"kid"`
	PublicKeyRaw string `json:"publicKeyRaw"`
}

func handleGenerateVAPID(s *Server, req Request) (interface{}, error) {
	var p credsOnlyParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	creds, err := decodeCreds(p.Credentials)
	if err != nil {
		return nil, err
	}
	kid, pub, err := s.engine.GenerateVAPID(creds)
	if err != nil {
		return nil, err
	}
	return publicKeyResult{Kid: kid, PublicKeyRaw: base64.RawURLEncoding.EncodeToString(pub)}, nil
}

func handleRegenerateVAPID(s *Server, req Request) (interface{}, error) {
	var p credsOnlyParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	creds, err := decodeCreds(p.Credentials)
	if err != nil {
		return nil, err
	}
	kid, pub, err := s.engine.RegenerateVAPID(creds)
	if err != nil {
		return nil, err
	}
	return publicKeyResult{Kid: kid, PublicKeyRaw: base64.RawURLEncoding.EncodeToString(pub)}, nil
}

func handleGetPublicKey(s *Server, req Request) (interface{}, error) {
	var p userIDParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, invalidParams("userId is required")
	}
	kid, pub, err := s.engine.GetPublicKey(p.UserID)
	if err != nil {
		return nil, err
	}
	return publicKeyResult{Kid: kid, PublicKeyRaw: base64.RawURLEncoding.EncodeToString(pub)}, nil
}

func handleGetVAPIDKid(s *Server, req Request) (interface{}, error) {
	var p userIDParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, invalidParams("userId is required")
	}
	kid, err := s.engine.GetVAPIDKid(p.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"kid": kid}, nil
}

type signJWTParams struct {
	Credentials authCredentialsWire    `json:"credentials"`
	Payload     map[string]interface{} `json:"payload"`
}

type signJWTResult struct {
	JWT string `json:"jwt"`
	Kid string `json:"kid"`
}

func handleSignJWT(s *Server, req Request) (interface{}, error) {
	var p signJWTParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.Payload == nil {
		return nil, invalidParams("payload is required")
	}
	creds, err := decodeCreds(p.Credentials)
	if err != nil {
		return nil, err
	}
	signed, kid, err := s.engine.SignJWT(creds, jwt.MapClaims(p.Payload))
	if err != nil {
		return nil, err
	}
	return signJWTResult{JWT: signed, Kid: kid}, nil
}
