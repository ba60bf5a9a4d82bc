package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wingscafe/backend/internal/config"
	"wingscafe/backend/internal/domain"
	"wingscafe/backend/internal/kv"
)

func TestOpenBackendMemory(t *testing.T) {
	backing, err := openBackend(context.Background(), config.Config{StorageBackend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &kv.MemoryStore{}, backing)
	require.NoError(t, backing.Close())
}

func TestOpenBackendFileCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	backing, err := openBackend(context.Background(), config.Config{StorageBackend: config.BackendFile, DataDir: dir})
	require.NoError(t, err)
	defer backing.Close()

	require.NoError(t, backing.Put(context.Background(), domain.KeyProducts, []byte(`[]`)))
	_, err = os.Stat(filepath.Join(dir, domain.KeyProducts+".json"))
	assert.NoError(t, err)
}

func TestOpenBackendRejectsUnknown(t *testing.T) {
	_, err := openBackend(context.Background(), config.Config{StorageBackend: "sqlite"})
	assert.Error(t, err)
}

func TestOpenBackendRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := openBackend(ctx, config.Config{StorageBackend: config.BackendRedis, RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}
