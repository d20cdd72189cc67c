// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func writeTestFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "mmap.test")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestOpen(t *testing.T) {
	path := writeTestFile(t, "hello\nworld\n")
	r, err := Open(path)
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	require.Equal(t, int64(12), r.Len())
	require.Equal(t, []byte("hello\nworld\n"), r.Data())
	require.NoError(t, r.Advise(unix.MADV_RANDOM))

	b, err := r.Slice(6, 11)
	require.NoError(t, err)
	require.Equal(t, "world", string(b))

	off, err := r.FindByte('\n', 0)
	require.NoError(t, err)
	require.Equal(t, int64(5), off)
	off, err = r.FindByte('\n', 6)
	require.NoError(t, err)
	require.Equal(t, int64(11), off)

	_, err = r.FindByte('z', 0)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindByte('\n', 12)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindByte('\n', 13)
	require.ErrorIs(t, err, ErrOutOfRange)

	for _, bad := range [][2]int64{{-1, 2}, {3, 2}, {0, 13}} {
		_, err := r.Slice(bad[0], bad[1])
		require.ErrorIs(t, err, ErrOutOfRange)
	}
}

func TestReadAt(t *testing.T) {
	path := writeTestFile(t, "abcdef")
	r, err := Open(path)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := r.ReadAt(buf, 1)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "bcde", string(buf))

	n, err = r.ReadAt(buf, 4)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 2, n)

	require.NoError(t, r.Close())
	// closing twice is fine
	require.NoError(t, r.Close())
	_, err = r.ReadAt(buf, 0)
	require.Error(t, err)
}

func TestOpenEmpty(t *testing.T) {
	path := writeTestFile(t, "")
	r, err := Open(path)
	require.NoError(t, err)
	require.Zero(t, r.Len())
	_, err = r.FindByte('\n', 0)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, r.Advise(unix.MADV_RANDOM))
	require.NoError(t, r.Close())
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
