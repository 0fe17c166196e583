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
	"sort"
	"sync"
	"time"
)

// memoryCollection is a map+mutex keyed record set, the same shape as
// crypto/storage's in-memory key storage generalized from a single
// key-pair value to an opaque byte-slice record.
type memoryCollection struct {
	mu      sync.RWMutex
	records map[string]Record
}

func newMemoryCollection() *memoryCollection {
	return &memoryCollection{records: make(map[string]Record)}
}

func (c *memoryCollection) Put(id string, data []byte) error {
	if id == "" {
		return ErrInvalidID
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[id] = Record{ID: id, Data: cp, UpdatedAt: time.Now()}
	return nil
}

func (c *memoryCollection) Get(id string) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (c *memoryCollection) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[id]; !ok {
		return ErrNotFound
	}
	delete(c.records, id)
	return nil
}

func (c *memoryCollection) Scan() ([]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.records[id])
	}
	return out, nil
}

// memoryAudit is an append-only slice guarded by a single mutex: the
// mutex is what gives Append its monotonic-seqNum guarantee under
// concurrent callers.
type memoryAudit struct {
	mu      sync.Mutex
	entries []AuditRecord
}

func newMemoryAudit() *memoryAudit {
	return &memoryAudit{}
}

func (a *memoryAudit) Append(ts time.Time, data []byte) (uint64, error) {
	cp := make([]byte, len(data))
	copy(cp, data)

	a.mu.Lock()
	defer a.mu.Unlock()
	seq := uint64(len(a.entries)) + 1
	a.entries = append(a.entries, AuditRecord{SeqNum: seq, Timestamp: ts, Data: cp})
	return seq, nil
}

func (a *memoryAudit) GetBySeq(seq uint64) (AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq == 0 || seq > uint64(len(a.entries)) {
		return AuditRecord{}, ErrNotFound
	}
	return a.entries[seq-1], nil
}

func (a *memoryAudit) ScanRange(fromSeq, toSeq uint64) ([]AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fromSeq == 0 {
		fromSeq = 1
	}
	if toSeq == 0 || toSeq > uint64(len(a.entries)) {
		toSeq = uint64(len(a.entries))
	}
	if fromSeq > toSeq {
		return nil, nil
	}
	out := make([]AuditRecord, toSeq-fromSeq+1)
	copy(out, a.entries[fromSeq-1:toSeq])
	return out, nil
}

func (a *memoryAudit) Last() (AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return AuditRecord{}, ErrNotFound
	}
	return a.entries[len(a.entries)-1], nil
}

func (a *memoryAudit) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *memoryAudit) Prune(floor, maxEntries int, window time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return prunePlan(len(a.entries), floor, maxEntries, window, func(i int) time.Time {
		return a.entries[i].Timestamp
	}, func(cut int) {
		a.entries = a.entries[cut:]
	})
}

// memoryMeta is a small string-keyed byte map for instance-level values.
type memoryMeta struct {
	mu   sync.RWMutex
	vals map[string][]byte
}

func newMemoryMeta() *memoryMeta {
	return &memoryMeta{vals: make(map[string][]byte)}
}

func (m *memoryMeta) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *memoryMeta) Set(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = cp
	return nil
}

// MemoryStore is an in-memory Store: the default for tests and for
// instances that accept losing enrollments/keys/audit history on
// restart.
type MemoryStore struct {
	enrollments *memoryCollection
	wrappedKeys *memoryCollection
	leases      *memoryCollection
	audit       *memoryAudit
	meta        *memoryMeta
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		enrollments: newMemoryCollection(),
		wrappedKeys: newMemoryCollection(),
		leases:      newMemoryCollection(),
		audit:       newMemoryAudit(),
		meta:        newMemoryMeta(),
	}
}

func (s *MemoryStore) Enrollments() Collection      { return s.enrollments }
func (s *MemoryStore) WrappedKeys() Collection      { return s.wrappedKeys }
func (s *MemoryStore) Leases() Collection           { return s.leases }
func (s *MemoryStore) Audit() AuditCollection        { return s.audit }
func (s *MemoryStore) MetaGet(key string) ([]byte, bool, error) { return s.meta.Get(key) }
func (s *MemoryStore) MetaSet(key string, value []byte) error   { return s.meta.Set(key, value) }
func (s *MemoryStore) Close() error                  { return nil }
