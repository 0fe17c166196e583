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
	"sync"
	"time"
)

// MetricsCollector accumulates in-process counters and timing samples for
// the enclave's operations, independent of the Prometheus vectors in
// crypto.go and kms.go.
// It backs a lightweight JSON status endpoint; the Prometheus metrics
// remain the source of truth for scraping/alerting.
type MetricsCollector struct {
	mu sync.RWMutex

	// Counters
	SignOperations     int64
	VerifyOperations   int64
	SuccessfulVerifies int64
	FailedVerifies     int64
	LeaseIssuances     int64
	StoreReads         int64
	AuditAppends       int64
	AuditVerifyErrors  int64

	// Timing metrics (in microseconds)
	SignTimes        []int64
	VerifyTimes      []int64
	LeaseIssueTimes  []int64
	AuditAppendTimes []int64

	// Start time for uptime calculation
	startTime time.Time

	// Configuration
	maxTimingSamples int
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime:        time.Now(),
		maxTimingSamples: 1000, // Keep last 1000 samples for each timing metric
	}
}

// RecordSign records a signing operation (VAPID JWT or audit entry).
func (mc *MetricsCollector) RecordSign(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.SignOperations++
	mc.recordTiming(&mc.SignTimes, duration)
}

// RecordVerify records a signature verification.
func (mc *MetricsCollector) RecordVerify(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.VerifyOperations++
	if success {
		mc.SuccessfulVerifies++
	} else {
		mc.FailedVerifies++
	}
	mc.recordTiming(&mc.VerifyTimes, duration)
}

// RecordLeaseIssuance records a VAPID JWT issued against a lease.
func (mc *MetricsCollector) RecordLeaseIssuance(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.LeaseIssuances++
	mc.recordTiming(&mc.LeaseIssueTimes, duration)
}

// RecordStoreRead records a read against the record store.
func (mc *MetricsCollector) RecordStoreRead() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.StoreReads++
}

// RecordAuditAppend records an audit chain append, and whether chain
// verification flagged a problem at the same time.
func (mc *MetricsCollector) RecordAuditAppend(verifyErr bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.AuditAppends++
	if verifyErr {
		mc.AuditVerifyErrors++
	}
	mc.recordTiming(&mc.AuditAppendTimes, duration)
}

// recordTiming records a timing sample
func (mc *MetricsCollector) recordTiming(timings *[]int64, duration time.Duration) {
	microseconds := duration.Microseconds()
	*timings = append(*timings, microseconds)

	// Keep only last N samples
	if len(*timings) > mc.maxTimingSamples {
		*timings = (*timings)[len(*timings)-mc.maxTimingSamples:]
	}
}

// GetSnapshot returns a snapshot of current metrics
func (mc *MetricsCollector) GetSnapshot() *MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return &MetricsSnapshot{
		Timestamp:          time.Now(),
		Uptime:             time.Since(mc.startTime),
		SignOperations:     mc.SignOperations,
		VerifyOperations:   mc.VerifyOperations,
		SuccessfulVerifies: mc.SuccessfulVerifies,
		FailedVerifies:     mc.FailedVerifies,
		LeaseIssuances:     mc.LeaseIssuances,
		StoreReads:         mc.StoreReads,
		AuditAppends:       mc.AuditAppends,
		AuditVerifyErrors:  mc.AuditVerifyErrors,
		AvgSignTime:        calculateAverage(mc.SignTimes),
		AvgVerifyTime:      calculateAverage(mc.VerifyTimes),
		AvgLeaseIssueTime:  calculateAverage(mc.LeaseIssueTimes),
		AvgAuditAppendTime: calculateAverage(mc.AuditAppendTimes),
		P95SignTime:        calculatePercentile(mc.SignTimes, 95),
		P95VerifyTime:      calculatePercentile(mc.VerifyTimes, 95),
		P95LeaseIssueTime:  calculatePercentile(mc.LeaseIssueTimes, 95),
	}
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.SignOperations = 0
	mc.VerifyOperations = 0
	mc.SuccessfulVerifies = 0
	mc.FailedVerifies = 0
	mc.LeaseIssuances = 0
	mc.StoreReads = 0
	mc.AuditAppends = 0
	mc.AuditVerifyErrors = 0

	mc.SignTimes = nil
	mc.VerifyTimes = nil
	mc.LeaseIssueTimes = nil
	mc.AuditAppendTimes = nil

	mc.startTime = time.Now()
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	// Counters
	SignOperations     int64
	VerifyOperations   int64
	SuccessfulVerifies int64
	FailedVerifies     int64
	LeaseIssuances     int64
	StoreReads         int64
	AuditAppends       int64
	AuditVerifyErrors  int64

	// Timing averages (microseconds)
	AvgSignTime        float64
	AvgVerifyTime      float64
	AvgLeaseIssueTime  float64
	AvgAuditAppendTime float64

	// 95th percentile timings (microseconds)
	P95SignTime       int64
	P95VerifyTime     int64
	P95LeaseIssueTime int64
}

// GetVerificationSuccessRate returns the verification success rate as a percentage
func (ms *MetricsSnapshot) GetVerificationSuccessRate() float64 {
	if ms.VerifyOperations == 0 {
		return 0
	}
	return float64(ms.SuccessfulVerifies) / float64(ms.VerifyOperations) * 100
}

// GetAuditErrorRate returns the audit chain verification error rate as a percentage
func (ms *MetricsSnapshot) GetAuditErrorRate() float64 {
	if ms.AuditAppends == 0 {
		return 0
	}
	return float64(ms.AuditVerifyErrors) / float64(ms.AuditAppends) * 100
}

// Helper functions

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func calculatePercentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}

	index := len(values) * percentile / 100
	if index >= len(values) {
		index = len(values) - 1
	}

	// Create a copy and sort (simple bubble sort for small datasets)
	sorted := make([]int64, len(values))
	copy(sorted, values)

	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}

	return sorted[index]
}

// Global metrics collector instance
var globalCollector = NewMetricsCollector()

// GetGlobalCollector returns the global metrics collector
func GetGlobalCollector() *MetricsCollector {
	return globalCollector
}
