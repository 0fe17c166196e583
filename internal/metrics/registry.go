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

// Package metrics exposes Prometheus counters and histograms for the
// crypto, lease, audit, and quota subsystems under a single registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every metric name registered in this package:
// ats_kms_<subsystem>_<name>.
const namespace = "ats_kms"

// Registry is the collector registry every metric in this package
// registers against. It is separate from prometheus.DefaultRegisterer so
// that embedding callers can mount the enclave's metrics without picking
// up whatever else shares the process default registry.
var Registry = prometheus.NewRegistry()
