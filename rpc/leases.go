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
	"time"

	"github.com/lukium/ats-kms-enclave/credential"
	"github.com/lukium/ats-kms-enclave/keyengine"
)

// maxLeaseTTLHours bounds createLease/extendLeases' ttlHours parameter
// at the wire layer, ahead of and independent from whatever
// config.LeaseConfig.MaxTTL the running instance enforces underneath.
const maxLeaseTTLHours = 720

func toLeaseMetaWire(m keyengine.LeaseMeta) leaseMetaWire {
	return leaseMetaWire{
		LeaseID:    m.LeaseID,
		UserID:     m.UserID,
		Kid:        m.Kid,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
		Exp:        m.Exp.UTC().Format(time.RFC3339),
		AutoExtend: m.AutoExtend,
	}
}

type createLeaseParams struct {
	Credentials authCredentialsWire `json:"credentials"`
	TTLHours    float64             `json:"ttlHours"`
	AutoExtend  bool                `json:"autoExtend"`
}

func handleCreateLease(s *Server, req Request) (interface{}, error) {
	var p createLeaseParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.TTLHours <= 0 || p.TTLHours > maxLeaseTTLHours {
		return nil, invalidParams("ttlHours must be in (0, 720]")
	}
	creds, err := decodeCreds(p.Credentials)
	if err != nil {
		return nil, err
	}
	meta, err := s.engine.CreateLease(creds, time.Duration(p.TTLHours*float64(time.Hour)), p.AutoExtend)
	if err != nil {
		return nil, err
	}
	return toLeaseMetaWire(meta), nil
}

type extendLeaseItemParams struct {
	LeaseID     string  `json:"leaseId"`
	NewExpHours float64 `json:"newExpHours"`
}

type extendLeasesParams struct {
	Credentials *authCredentialsWire    `json:"credentials,omitempty"`
	Items       []extendLeaseItemParams `json:"items"`
}

type extendResultWire struct {
	LeaseID string `json:"leaseId"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

func handleExtendLeases(s *Server, req Request) (interface{}, error) {
	var p extendLeasesParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if len(p.Items) == 0 {
		return nil, invalidParams("items is required")
	}

	var creds *credential.AuthCredentials
	if p.Credentials != nil {
		decoded, err := decodeCreds(*p.Credentials)
		if err != nil {
			return nil, err
		}
		creds = &decoded
	}

	items := make([]keyengine.ExtendRequest, 0, len(p.Items))
	for _, it := range p.Items {
		if it.LeaseID == "" {
			return nil, invalidParams("items[].leaseId is required")
		}
		newExp := time.Now().UTC().Add(time.Duration(it.NewExpHours * float64(time.Hour)))
		items = append(items, keyengine.ExtendRequest{LeaseID: it.LeaseID, NewExp: newExp})
	}

	results := s.engine.ExtendLeases(creds, items)
	out := make([]extendResultWire, 0, len(results))
	for _, r := range results {
		out = append(out, extendResultWire{LeaseID: r.LeaseID, Status: r.Status, Reason: r.Reason})
	}
	return out, nil
}

type issueVAPIDJWTParams struct {
	LeaseID string `json:"leaseId"`
	Eid     string `json:"eid,omitempty"`
}

func handleIssueVAPIDJWT(s *Server, req Request) (interface{}, error) {
	var p issueVAPIDJWTParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.LeaseID == "" {
		return nil, invalidParams("leaseId is required")
	}
	signed, kid, err := s.engine.IssueVAPIDJWT(p.LeaseID, p.Eid)
	if err != nil {
		return nil, err
	}
	return signJWTResult{JWT: signed, Kid: kid}, nil
}

type issueVAPIDJWTsParams struct {
	Requests []issueVAPIDJWTParams `json:"requests"`
}

type issuedJWTWire struct {
	LeaseID string `json:"leaseId"`
	JWT     string `json:"jwt,omitempty"`
	Kid     string `json:"kid,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

func handleIssueVAPIDJWTs(s *Server, req Request) (interface{}, error) {
	var p issueVAPIDJWTsParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if len(p.Requests) == 0 {
		return nil, invalidParams("requests is required")
	}
	batch := make([]keyengine.JWTRequest, 0, len(p.Requests))
	for _, r := range p.Requests {
		if r.LeaseID == "" {
			return nil, invalidParams("requests[].leaseId is required")
		}
		batch = append(batch, keyengine.JWTRequest{LeaseID: r.LeaseID, Eid: r.Eid})
	}
	results := s.engine.IssueVAPIDJWTs(batch)
	out := make([]issuedJWTWire, 0, len(results))
	for _, r := range results {
		wire := issuedJWTWire{LeaseID: r.LeaseID, JWT: r.JWT, Kid: r.Kid}
		if r.Err != nil {
			wire.Error = toWireError(r.Err)
		}
		out = append(out, wire)
	}
	return out, nil
}

func handleGetUserLeases(s *Server, req Request) (interface{}, error) {
	var p userIDParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, invalidParams("userId is required")
	}
	leases, err := s.engine.GetUserLeases(p.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]leaseMetaWire, 0, len(leases))
	for _, l := range leases {
		out = append(out, toLeaseMetaWire(l))
	}
	return out, nil
}

type leaseIDParams struct {
	LeaseID string `json:"leaseId"`
}

type verifyLeaseResultWire struct {
	LeaseID string `json:"leaseId"`
	Valid   bool   `json:"valid"`
	Reason  string `json:"reason,omitempty"`
	Kid     string `json:"kid,omitempty"`
}

func handleVerifyLease(s *Server, req Request) (interface{}, error) {
	var p leaseIDParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.LeaseID == "" {
		return nil, invalidParams("leaseId is required")
	}
	result := s.engine.VerifyLease(p.LeaseID)
	return verifyLeaseResultWire{
		LeaseID: result.LeaseID,
		Valid:   result.Valid,
		Reason:  result.Reason,
		Kid:     result.Kid,
	}, nil
}
