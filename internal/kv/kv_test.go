package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "products")
	require.NoError(t, err)
	assert.False(t, ok, "fresh store should not contain products")

	require.NoError(t, s.Put(ctx, "products", []byte(`[{"id":"a"}]`)))
	require.NoError(t, s.Put(ctx, "products", []byte(`[{"id":"b"}]`)))

	val, ok, err := s.Get(ctx, "products")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"b"}]`, string(val))

	_, ok, err = s.Get(ctx, "sales")
	require.NoError(t, err)
	assert.False(t, ok, "keys are independent")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	buf := []byte(`[1]`)
	require.NoError(t, s.Put(ctx, "sales", buf))
	buf[1] = '2'

	val, _, err := s.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(val))
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	err := s.Put(context.Background(), "edits", []byte(`[]`))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "edits", []byte(`[{"id":"p1"}]`)))

	second, err := NewFileStore(dir)
	require.NoError(t, err)
	val, ok, err := second.Get(ctx, "edits")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"p1"}]`, string(val))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "edits.json", entries[0].Name())
	assert.FileExists(t, filepath.Join(dir, "edits.json"))
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = s.Put(context.Background(), "../escape", []byte(`[]`))
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("WINGSCAFE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set WINGSCAFE_TEST_REDIS_ADDR to run redis integration test")
	}

	s := NewRedisStore(addr, "", 0, "wingscafe-test:"+t.Name()+":")
	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.client.Del(ctx, s.prefix+"products", s.prefix+"sales").Err()
		_ = s.Close()
	})
	require.NoError(t, s.Ping(context.Background()))
	exerciseStore(t, s)
}
