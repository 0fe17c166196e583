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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fileCollection persists one JSON file per record at 0600, the same
// dir-of-{id}.json shape as crypto/vault's FileVault generalized from a
// single encrypted blob per key to an arbitrary opaque record.
type fileCollection struct {
	mu  sync.Mutex
	dir string
}

func newFileCollection(dir string) (*fileCollection, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &fileCollection{dir: dir}, nil
}

type fileRecord struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *fileCollection) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

func (c *fileCollection) Put(id string, data []byte) error {
	if id == "" {
		return ErrInvalidID
	}
	blob, err := json.Marshal(fileRecord{ID: id, Data: data, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.WriteFile(c.path(id), blob, 0600)
}

func (c *fileCollection) Get(id string) (Record, error) {
	c.mu.Lock()
	blob, err := os.ReadFile(c.path(id))
	c.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	var rec fileRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return Record{}, err
	}
	return Record{ID: rec.ID, Data: rec.Data, UpdatedAt: rec.UpdatedAt}, nil
}

func (c *fileCollection) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.path(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return os.Remove(path)
}

func (c *fileCollection) Scan() ([]Record, error) {
	c.mu.Lock()
	entries, err := os.ReadDir(c.dir)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := c.Get(id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// fileAudit persists each audit entry as {seqNum:020d}.json. A single
// mutex serializes Append the same way memoryAudit does: the file
// backend trades speed for durability, not the monotonicity guarantee.
type fileAudit struct {
	mu   sync.Mutex
	dir  string
	next uint64
}

func newFileAudit(dir string) (*fileAudit, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var max uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".json"), 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return &fileAudit{dir: dir, next: max + 1}, nil
}

type fileAuditRecord struct {
	SeqNum    uint64    `json:"seq_num"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
}

func (a *fileAudit) path(seq uint64) string {
	return filepath.Join(a.dir, fmt.Sprintf("%020d.json", seq))
}

func (a *fileAudit) Append(ts time.Time, data []byte) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	seq := a.next
	blob, err := json.Marshal(fileAuditRecord{SeqNum: seq, Timestamp: ts, Data: data})
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(a.path(seq), blob, 0600); err != nil {
		return 0, err
	}
	a.next++
	return seq, nil
}

func (a *fileAudit) readSeq(seq uint64) (AuditRecord, error) {
	blob, err := os.ReadFile(a.path(seq))
	if err != nil {
		if os.IsNotExist(err) {
			return AuditRecord{}, ErrNotFound
		}
		return AuditRecord{}, err
	}
	var rec fileAuditRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return AuditRecord{}, err
	}
	return AuditRecord{SeqNum: rec.SeqNum, Timestamp: rec.Timestamp, Data: rec.Data}, nil
}

func (a *fileAudit) GetBySeq(seq uint64) (AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq == 0 || seq >= a.next {
		return AuditRecord{}, ErrNotFound
	}
	return a.readSeq(seq)
}

func (a *fileAudit) ScanRange(fromSeq, toSeq uint64) ([]AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fromSeq == 0 {
		fromSeq = 1
	}
	if toSeq == 0 || toSeq >= a.next {
		toSeq = a.next - 1
	}
	if fromSeq > toSeq {
		return nil, nil
	}
	out := make([]AuditRecord, 0, toSeq-fromSeq+1)
	for seq := fromSeq; seq <= toSeq; seq++ {
		rec, err := a.readSeq(seq)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *fileAudit) Last() (AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next <= 1 {
		return AuditRecord{}, ErrNotFound
	}
	return a.readSeq(a.next - 1)
}

func (a *fileAudit) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.next - 1)
}

func (a *fileAudit) Prune(floor, maxEntries int, window time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := int(a.next - 1)
	oldest := a.next - uint64(n)
	ts := func(i int) time.Time {
		rec, err := a.readSeq(oldest + uint64(i))
		if err != nil {
			return time.Now()
		}
		return rec.Timestamp
	}
	return prunePlan(n, floor, maxEntries, window, ts, func(cut int) {
		for i := 0; i < cut; i++ {
			os.Remove(a.path(oldest + uint64(i)))
		}
	})
}

// fileMeta persists each meta value as {dir}/{key}.val (raw bytes, no
// JSON envelope: meta values are already opaque encoded blobs).
type fileMeta struct {
	mu  sync.Mutex
	dir string
}

func newFileMeta(dir string) (*fileMeta, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &fileMeta{dir: dir}, nil
}

func (m *fileMeta) path(key string) string {
	return filepath.Join(m.dir, key+".val")
}

func (m *fileMeta) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, err := os.ReadFile(m.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return blob, true, nil
}

func (m *fileMeta) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return os.WriteFile(m.path(key), value, 0600)
}

// FileStore is a disk-backed Store rooted at one directory, laid out as
// enrollments/, wrappedkeys/, leases/, audit/ and meta/ subdirectories.
type FileStore struct {
	enrollments *fileCollection
	wrappedKeys *fileCollection
	leases      *fileCollection
	audit       *fileAudit
	meta        *fileMeta
}

// NewFileStore opens (creating if necessary) a file-backed Store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	enrollments, err := newFileCollection(filepath.Join(dir, "enrollments"))
	if err != nil {
		return nil, err
	}
	wrappedKeys, err := newFileCollection(filepath.Join(dir, "wrappedkeys"))
	if err != nil {
		return nil, err
	}
	leases, err := newFileCollection(filepath.Join(dir, "leases"))
	if err != nil {
		return nil, err
	}
	audit, err := newFileAudit(filepath.Join(dir, "audit"))
	if err != nil {
		return nil, err
	}
	meta, err := newFileMeta(filepath.Join(dir, "meta"))
	if err != nil {
		return nil, err
	}
	return &FileStore{enrollments: enrollments, wrappedKeys: wrappedKeys, leases: leases, audit: audit, meta: meta}, nil
}

func (s *FileStore) Enrollments() Collection      { return s.enrollments }
func (s *FileStore) WrappedKeys() Collection      { return s.wrappedKeys }
func (s *FileStore) Leases() Collection           { return s.leases }
func (s *FileStore) Audit() AuditCollection        { return s.audit }
func (s *FileStore) MetaGet(key string) ([]byte, bool, error) { return s.meta.Get(key) }
func (s *FileStore) MetaSet(key string, value []byte) error   { return s.meta.Set(key, value) }
func (s *FileStore) Close() error                  { return nil }
