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
	"strings"
	"time"

	"github.com/lukium/ats-kms-enclave/keyengine"
)

func decodeSubscription(w pushSubscriptionWire) (keyengine.PushSubscription, error) {
	if w.Endpoint == "" {
		return keyengine.PushSubscription{}, invalidParams("subscription.endpoint is required")
	}
	if !strings.HasPrefix(w.Endpoint, "https://") {
		return keyengine.PushSubscription{}, invalidParams("subscription.endpoint must be https")
	}
	sub := keyengine.PushSubscription{
		Endpoint: w.Endpoint,
		P256dh:   w.P256dh,
		Auth:     w.Auth,
		EID:      w.EID,
	}
	if w.ExpirationTime != "" {
		t, err := time.Parse(time.RFC3339, w.ExpirationTime)
		if err != nil {
			return keyengine.PushSubscription{}, invalidParams("subscription.expirationTime must be RFC3339: " + err.Error())
		}
		sub.ExpirationTime = &t
	}
	return sub, nil
}

func toSubscriptionWire(sub *keyengine.PushSubscription) *pushSubscriptionWire {
	if sub == nil {
		return nil
	}
	wire := &pushSubscriptionWire{
		Endpoint: sub.Endpoint,
		P256dh:   sub.P256dh,
		Auth:     sub.Auth,
		EID:      sub.EID,
	}
	if sub.ExpirationTime != nil {
		wire.ExpirationTime = sub.ExpirationTime.UTC().Format(time.RFC3339)
	}
	return wire
}

type setPushSubscriptionParams struct {
	Credentials  authCredentialsWire  `json:"credentials"`
	Subscription pushSubscriptionWire `json:"subscription"`
}

func handleSetPushSubscription(s *Server, req Request) (interface{}, error) {
	var p setPushSubscriptionParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	creds, err := decodeCreds(p.Credentials)
	if err != nil {
		return nil, err
	}
	sub, err := decodeSubscription(p.Subscription)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetPushSubscription(creds, sub); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func handleRemovePushSubscription(s *Server, req Request) (interface{}, error) {
	var p credsOnlyParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	creds, err := decodeCreds(p.Credentials)
	if err != nil {
		return nil, err
	}
	if err := s.engine.RemovePushSubscription(creds); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func handleGetPushSubscription(s *Server, req Request) (interface{}, error) {
	var p userIDParams
	if err := unmarshalParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, invalidParams("userId is required")
	}
	sub, err := s.engine.GetPushSubscription(p.UserID)
	if err != nil {
		return nil, err
	}
	return toSubscriptionWire(sub), nil
}
