package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-watcher/internal/config"
	"github.com/JakeFAU/keyword-watcher/internal/store/file"
	"github.com/JakeFAU/keyword-watcher/internal/store/memory"
	"github.com/JakeFAU/keyword-watcher/internal/store/sqlite"
)

func TestOpenLocalBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, config.StoreConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	s, err = Open(ctx, config.StoreConfig{
		Backend: config.BackendFile,
		File:    config.FileConfig{Path: filepath.Join(dir, "control.json")},
	})
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, s)

	s, err = Open(ctx, config.StoreConfig{
		Backend: config.BackendSQLite,
		SQLite:  config.SQLiteConfig{Path: filepath.Join(dir, "watcher.db")},
	})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Close())
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, err := Open(ctx, config.StoreConfig{Backend: "etcd"})
	require.ErrorContains(t, err, "unsupported store backend")

	_, err = Open(ctx, config.StoreConfig{Backend: config.BackendPostgres})
	require.ErrorContains(t, err, "open postgres store")

	_, err = Open(ctx, config.StoreConfig{Backend: config.BackendRedis})
	require.ErrorContains(t, err, "open redis store")
}
