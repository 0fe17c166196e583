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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Enrollments().Put("u1", []byte("enrollment-data")))
	require.NoError(t, fs.WrappedKeys().Put("k1", []byte("wrapped-data")))
	seq, err := fs.Audit().Append(time.Now(), []byte("entry-1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
	require.NoError(t, fs.MetaSet("kiak", []byte("kiak-bytes")))

	fs2, err := NewFileStore(dir)
	require.NoError(t, err)

	rec, err := fs2.Enrollments().Get("u1")
	require.NoError(t, err)
	require.Equal(t, []byte("enrollment-data"), rec.Data)

	v, ok, err := fs2.MetaGet("kiak")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("kiak-bytes"), v)

	// Next Append after reopen must continue from the persisted seqNum.
	seq2, err := fs2.Audit().Append(time.Now(), []byte("entry-2"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq2)

	last, err := fs2.Audit().Last()
	require.NoError(t, err)
	require.Equal(t, []byte("entry-2"), last.Data)
}

func TestFileCollectionRecordsAre0600(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Enrollments().Put("u1", []byte("x")))

	info, err := os.Stat(filepath.Join(dir, "enrollments", "u1.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileAuditScanRangeAndPrune(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 5; i++ {
		_, err := fs.Audit().Append(now, []byte("e"))
		require.NoError(t, err)
	}

	recs, err := fs.Audit().ScanRange(2, 4)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, uint64(2), recs[0].SeqNum)

	pruned, err := fs.Audit().Prune(2, 3, 0)
	require.NoError(t, err)
	require.Equal(t, 2, pruned)
	require.Equal(t, 3, fs.Audit().Len())
}

func TestFileCollectionDeleteAndMissing(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.ErrorIs(t, fs.WrappedKeys().Delete("missing"), ErrNotFound)
	require.NoError(t, fs.WrappedKeys().Put("k1", []byte("x")))
	require.NoError(t, fs.WrappedKeys().Delete("k1"))
	_, err = fs.WrappedKeys().Get("k1")
	require.ErrorIs(t, err, ErrNotFound)
}
