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
	"encoding/json"
	"sync"
	"time"

	"github.com/lukium/ats-kms-enclave/internal/logger"
	"github.com/lukium/ats-kms-enclave/internal/metrics"
	"github.com/lukium/ats-kms-enclave/store"
)

// leaseRegistry holds every lease's ephemeral, never-persisted secrets
// (SessionKEK, quota counters) in memory, and runs the background sweep
// that expires leases past their exp. Its shape follows the teacher's
// session manager: a mutex-guarded map plus a ticker-driven cleanup
// goroutine, generalized from session IDs to lease IDs.
type leaseRegistry struct {
	mu          sync.RWMutex
	store       store.Store
	log         logger.Logger
	sessionKEKs map[string][]byte
	quotas      map[string]*quotaState

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

func newLeaseRegistry(s store.Store, log logger.Logger) *leaseRegistry {
	r := &leaseRegistry{
		store:         s,
		log:           log,
		sessionKEKs:   make(map[string][]byte),
		quotas:        make(map[string]*quotaState),
		cleanupTicker: time.NewTicker(time.Minute),
		stopCleanup:   make(chan struct{}),
	}
	go r.runCleanup()
	return r
}

func (r *leaseRegistry) runCleanup() {
	for {
		select {
		case <-r.cleanupTicker.C:
			r.expireLeases()
		case <-r.stopCleanup:
			return
		}
	}
}

// Close stops the registry's background cleanup goroutine. Callers that
// tear down an Engine before process exit should call this to avoid
// leaking the ticker.
func (r *leaseRegistry) Close() {
	r.cleanupTicker.Stop()
	close(r.stopCleanup)
}

func (r *leaseRegistry) expireLeases() {
	records, err := r.store.Leases().Scan()
	if err != nil {
		if r.log != nil {
			r.log.Error("keyengine: scan leases for cleanup failed", logger.Error(err))
		}
		return
	}
	now := time.Now().UTC()
	active := 0
	for _, rec := range records {
		var l Lease
		if json.Unmarshal(rec.Data, &l) != nil {
			continue
		}
		if now.After(l.Exp) {
			r.forget(l.LeaseID)
			_ = r.store.Leases().Delete(l.LeaseID)
			continue
		}
		active++
	}
	metrics.LeasesActive.Set(float64(active))
}

func (r *leaseRegistry) forget(leaseID string) {
	r.mu.Lock()
	delete(r.sessionKEKs, leaseID)
	delete(r.quotas, leaseID)
	r.mu.Unlock()
}

func (r *leaseRegistry) cacheSessionKEK(leaseID string, kek []byte) {
	cp := make([]byte, len(kek))
	copy(cp, kek)
	r.mu.Lock()
	r.sessionKEKs[leaseID] = cp
	r.mu.Unlock()
}

func (r *leaseRegistry) getSessionKEK(leaseID string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kek, ok := r.sessionKEKs[leaseID]
	return kek, ok
}

func (r *leaseRegistry) quotaFor(leaseID string, limits quotaLimits) *quotaState {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[leaseID]
	if !ok {
		q = newQuotaState(limits)
		r.quotas[leaseID] = q
	}
	return q
}

// forgetForKid drops the cached SessionKEK and quota state for every
// lease referencing kid, without touching its persisted record. Called
// when a VAPID key is regenerated: the lease stays discoverable via
// GetUserLeases/VerifyLease, which notices the kid mismatch against the
// user's current VAPID key and reports it as wrong-key, rather than
// vanishing outright.
func (r *leaseRegistry) forgetForKid(kid string) error {
	records, err := r.store.Leases().Scan()
	if err != nil {
		return err
	}
	for _, rec := range records {
		var l Lease
		if json.Unmarshal(rec.Data, &l) != nil {
			continue
		}
		if l.Kid != kid {
			continue
		}
		r.forget(l.LeaseID)
	}
	return nil
}
