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

// Package vault provides a passphrase-encrypted blob store, keyed by an
// opaque key ID: StoreEncrypted/LoadDecrypted wrap PBKDF2-derived AES-GCM
// encryption around a single []byte payload per key. The store package's
// file backend follows the same {dir}/{keyID}.json layout but does not
// use this package.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
)

var (
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrKeyNotFound        = errors.New("key not found")
	ErrInvalidKeyID       = errors.New("invalid key ID")
)

// defaultIterations is deliberately low: vault is an at-rest encryption
// primitive for already-derived key material, not the passphrase-hardening
// step itself (that calibration lives in credential, against the user's
// actual login passphrase). A vault-level passphrase is always a
// high-entropy value the caller already holds, so this need not be slow.
const defaultIterations = 100_000

// record is the on-disk/in-memory envelope for one encrypted blob.
type record struct {
	Salt       []byte `json:"salt"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	KCV        []byte `json:"kcv"`
}

func seal(plaintext []byte, passphrase string) (record, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return record{}, err
	}
	key, kcv := kmscrypto.PBKDF2Derive(passphrase, salt, defaultIterations)
	defer kmscrypto.Zero(key)

	iv, ciphertext, err := kmscrypto.SealAESGCM(key, []byte("vault"), plaintext)
	if err != nil {
		return record{}, err
	}
	return record{Salt: salt, IV: iv, Ciphertext: ciphertext, KCV: kcv}, nil
}

func open(rec record, passphrase string) ([]byte, error) {
	key, kcv := kmscrypto.PBKDF2Derive(passphrase, rec.Salt, defaultIterations)
	defer kmscrypto.Zero(key)

	if !constantTimeEqual(kcv, rec.KCV) {
		return nil, ErrInvalidPassphrase
	}

	plaintext, err := kmscrypto.OpenAESGCM(key, rec.IV, []byte("vault"), rec.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// Vault is the common contract both backends satisfy.
type Vault interface {
	StoreEncrypted(keyID string, data []byte, passphrase string) error
	LoadDecrypted(keyID string, passphrase string) ([]byte, error)
	SetPermissions(keyID string, mode os.FileMode) error
	Delete(keyID string) error
	Exists(keyID string) bool
	ListKeys() []string
}

// MemoryVault is an in-memory Vault; SetPermissions is a no-op beyond
// existence-checking since there is no file to chmod.
type MemoryVault struct {
	mu      sync.RWMutex
	records map[string]record
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{records: make(map[string]record)}
}

func (v *MemoryVault) StoreEncrypted(keyID string, data []byte, passphrase string) error {
	if keyID == "" {
		return ErrInvalidKeyID
	}
	rec, err := seal(data, passphrase)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[keyID] = rec
	return nil
}

func (v *MemoryVault) LoadDecrypted(keyID string, passphrase string) ([]byte, error) {
	if keyID == "" {
		return nil, ErrInvalidKeyID
	}
	v.mu.RLock()
	rec, ok := v.records[keyID]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return open(rec, passphrase)
}

func (v *MemoryVault) SetPermissions(keyID string, mode os.FileMode) error {
	v.mu.RLock()
	_, ok := v.records[keyID]
	v.mu.RUnlock()
	if !ok {
		return ErrKeyNotFound
	}
	return nil
}

func (v *MemoryVault) Delete(keyID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.records[keyID]; !ok {
		return ErrKeyNotFound
	}
	delete(v.records, keyID)
	return nil
}

func (v *MemoryVault) Exists(keyID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.records[keyID]
	return ok
}

func (v *MemoryVault) ListKeys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.records))
	for k := range v.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FileVault persists each record as {dir}/{keyID}.json with 0600
// permissions by default.
type FileVault struct {
	mu  sync.Mutex
	dir string
}

// NewFileVault opens (creating if necessary) a file-backed vault rooted at dir.
func NewFileVault(dir string) (*FileVault, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileVault{dir: dir}, nil
}

func (v *FileVault) path(keyID string) string {
	return filepath.Join(v.dir, keyID+".json")
}

func (v *FileVault) StoreEncrypted(keyID string, data []byte, passphrase string) error {
	if keyID == "" {
		return ErrInvalidKeyID
	}
	rec, err := seal(data, passphrase)
	if err != nil {
		return err
	}

	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return os.WriteFile(v.path(keyID), blob, 0600)
}

func (v *FileVault) LoadDecrypted(keyID string, passphrase string) ([]byte, error) {
	if keyID == "" {
		return nil, ErrInvalidKeyID
	}

	v.mu.Lock()
	blob, err := os.ReadFile(v.path(keyID))
	v.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, err
	}
	return open(rec, passphrase)
}

func (v *FileVault) SetPermissions(keyID string, mode os.FileMode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	path := v.path(keyID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return err
	}
	return os.Chmod(path, mode)
}

func (v *FileVault) Delete(keyID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	path := v.path(keyID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return err
	}
	return os.Remove(path)
}

func (v *FileVault) Exists(keyID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := os.Stat(v.path(keyID))
	return err == nil
}

func (v *FileVault) ListKeys() []string {
	v.mu.Lock()
	entries, err := os.ReadDir(v.dir)
	v.mu.Unlock()
	if err != nil {
		return nil
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(keys)
	return keys
}
