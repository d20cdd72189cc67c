// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpowers/kvsrv"
	"github.com/bpowers/kvsrv/internal/server"
)

const records = "" +
	"00000000-0000-0000-0000-000000000003 0000000000 ccc\n" +
	"00000000-0000-0000-0000-000000000001 0000000001 aaa\n" +
	"00000000-0000-0000-0000-000000000002 0000000002 bbb\n"

func newTestClient(t *testing.T) *Client {
	dataPath := filepath.Join(t.TempDir(), "test.data")
	require.NoError(t, os.WriteFile(dataPath, []byte(records), 0644))

	svc, err := kvsrv.Open(context.Background(), kvsrv.StrategySorted, dataPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = svc.Close()
	})

	ts := httptest.NewServer(server.New("", svc).Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func TestGet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	v, err := c.Get(ctx, "00000000-0000-0000-0000-000000000002")
	require.NoError(t, err)
	require.Equal(t, "bbb", string(v))

	_, err = c.Get(ctx, "00000000-0000-0000-0000-000000000099")
	require.ErrorIs(t, err, kvsrv.ErrNotFound)

	_, err = c.Get(ctx, "not-a-uuid")
	require.ErrorIs(t, err, kvsrv.ErrInvalidKey)
	require.Contains(t, err.Error(), "not-a-uuid")
}

func TestHeadKeys(t *testing.T) {
	c := newTestClient(t)

	keys, err := c.HeadKeys(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []string{
		"00000000-0000-0000-0000-000000000001",
		"00000000-0000-0000-0000-000000000002",
	}, keys)

	keys, err = c.HeadKeys(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"service not initialized"}`))
	}))
	defer ts.Close()
	c := New(ts.URL)

	_, err := c.Get(context.Background(), "00000000-0000-0000-0000-000000000001")
	require.Error(t, err)
	require.NotErrorIs(t, err, kvsrv.ErrNotFound)
	require.Contains(t, err.Error(), "service not initialized")

	_, err = c.HeadKeys(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestCanceled(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "00000000-0000-0000-0000-000000000001")
	require.ErrorIs(t, err, context.Canceled)
}
