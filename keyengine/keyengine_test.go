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
	"testing"
	"time"

	"github.com/lukium/ats-kms-enclave/audit"
	"github.com/lukium/ats-kms-enclave/config"
	"github.com/lukium/ats-kms-enclave/credential"
	"github.com/lukium/ats-kms-enclave/store"
)

// testEngine builds an Engine over a fresh in-memory store with one
// already-enrolled passphrase user, returning the Engine and the
// credentials that unlock it.
func testEngine(t *testing.T) (*Engine, credential.AuthCredentials) {
	t.Helper()
	s := store.NewMemoryStore()
	chain := audit.New(s)
	credCfg := &config.CredentialConfig{
		PBKDF2TargetMS:       1,
		PBKDF2IterationFloor: 10_000,
		LockoutThreshold:     3,
		LockoutWindow:        time.Minute,
		LockoutCooldown:      time.Hour,
	}
	cred := credential.NewManager(s, chain, credCfg, nil)
	_, err := cred.SetupPassphrase("u1", "hunter22!", nil)
	if err != nil {
		t.Fatalf("setup passphrase: %v", err)
	}

	leaseCfg := &config.LeaseConfig{
		MaxTTL:                      24 * time.Hour,
		DefaultTTL:                  time.Hour,
		DefaultQuotaPerHour:         1000,
		DefaultBucketSize:           50,
		DefaultSendsPerMinute:       120,
		DefaultSendsPerMinutePerEid: 5,
		JWTTTL:                      15 * time.Minute,
	}
	e := NewEngine(s, chain, cred, leaseCfg, nil)
	creds := credential.AuthCredentials{UserID: "u1", Method: credential.MethodPassphrase, Passphrase: "hunter22!"}
	return e, creds
}
