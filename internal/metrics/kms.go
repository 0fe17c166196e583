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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuditAppends counts audit chain appends, by entry kind.
	AuditAppends = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "appends_total",
			Help:      "Total number of audit chain entries appended",
		},
		[]string{"kind"}, // enrollment/vapid_generate/lease_create/jwt_issue/...
	)

	// AuditVerifyFailures counts chain-verification failures detected,
	// by the reason the break was detected.
	AuditVerifyFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "verify_failures_total",
			Help:      "Total number of audit chain verification failures detected",
		},
		[]string{"reason"}, // hash_mismatch/signature_invalid/seq_gap
	)

	// LeaseIssuances counts VAPID JWT issuances against an active lease.
	LeaseIssuances = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "jwt_issuances_total",
			Help:      "Total number of VAPID JWTs issued against a lease",
		},
		[]string{"eid"},
	)

	// LeasesActive reports the current count of unexpired leases.
	LeasesActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "active",
			Help:      "Current number of unexpired leases",
		},
	)

	// QuotaRejections counts requests denied because a quota limiter
	// reported exhaustion, by limiter.
	QuotaRejections = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "rejections_total",
			Help:      "Total number of requests rejected by a quota limiter",
		},
		[]string{"limiter"}, // sliding_hour/token_bucket/per_eid
	)
)
