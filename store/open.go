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

package store

import (
	"fmt"
	"time"

	"github.com/lukium/ats-kms-enclave/config"
)

// RetentionPolicy bounds how long audit entries are kept.
type RetentionPolicy struct {
	Floor      int
	MaxEntries int
	Window     time.Duration
	Interval   time.Duration
}

// DefaultRetentionPolicy mirrors config.setDefaults' Audit block.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{Floor: 50, MaxEntries: 500, Window: 30 * 24 * time.Hour, Interval: time.Hour}
}

func retentionPolicyFromConfig(cfg *config.AuditConfig) RetentionPolicy {
	if cfg == nil {
		return DefaultRetentionPolicy()
	}
	return RetentionPolicy{
		Floor:      cfg.RetentionFloor,
		MaxEntries: cfg.RetentionMaxEntries,
		Window:     cfg.RetentionWindow,
		Interval:   time.Hour,
	}
}

// retentionStore wraps a Store with a background pruning goroutine,
// grounded on session.Manager's cleanupTicker/stopCleanup/runCleanup
// pattern: a ticker drives periodic work, and a stop channel makes
// Close idempotent-safe to call once.
type retentionStore struct {
	Store
	policy RetentionPolicy
	ticker *time.Ticker
	stop   chan struct{}
}

// WithRetention prunes the audit collection immediately and then on
// every tick of policy.Interval until the returned Store is closed.
func WithRetention(s Store, policy RetentionPolicy) Store {
	rs := &retentionStore{
		Store:  s,
		policy: policy,
		ticker: time.NewTicker(policy.Interval),
		stop:   make(chan struct{}),
	}
	rs.prune()
	go rs.runCleanup()
	return rs
}

func (rs *retentionStore) runCleanup() {
	for {
		select {
		case <-rs.ticker.C:
			rs.prune()
		case <-rs.stop:
			return
		}
	}
}

func (rs *retentionStore) prune() {
	_, _ = rs.Store.Audit().Prune(rs.policy.Floor, rs.policy.MaxEntries, rs.policy.Window)
}

func (rs *retentionStore) Close() error {
	rs.ticker.Stop()
	close(rs.stop)
	return rs.Store.Close()
}

// Open constructs the configured backend and wraps it with the
// configured retention policy.
func Open(cfg *config.Config) (Store, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("store: missing configuration")
	}

	var backend Store
	switch cfg.Store.Backend {
	case "", "memory":
		backend = NewMemoryStore()
	case "file":
		if cfg.Store.Path == "" {
			return nil, fmt.Errorf("store: file backend requires a path")
		}
		fs, err := NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("store: open file backend: %w", err)
		}
		backend = fs
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", cfg.Store.Backend)
	}

	return WithRetention(backend, retentionPolicyFromConfig(cfg.Audit)), nil
}
