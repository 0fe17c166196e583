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
	"net/url"
	"strings"
)

// allowedPushHosts are the push services a subscription endpoint may
// target, matched on the host or any subdomain of it.
var allowedPushHosts = []string{
	"fcm.googleapis.com",
	"web.push.apple.com",
	"updates.push.services.mozilla.com",
	"notify.windows.com",
}

// validateSubscription enforces an HTTPS endpoint on an allow-listed push
// host before a subscription may be attached to a wrapped VAPID key.
func validateSubscription(sub PushSubscription) error {
	u, err := url.Parse(sub.Endpoint)
	if err != nil {
		return ErrSubscriptionHost
	}
	if u.Scheme != "https" {
		return ErrSubscriptionScheme
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range allowedPushHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return ErrSubscriptionHost
}

// audienceFor derives a VAPID JWT's aud claim from a subscription's
// endpoint: scheme and host only, no path.
func audienceFor(sub PushSubscription) (string, error) {
	u, err := url.Parse(sub.Endpoint)
	if err != nil {
		return "", ErrSubscriptionHost
	}
	return u.Scheme + "://" + u.Host, nil
}
