package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "control.json")

	s, err := New(path)
	require.NoError(t, err)
	_, ok, err := s.Get(ctx, "semaforo")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "semaforo", "V"))
	require.NoError(t, s.Set(ctx, "url", "https://example.com"))
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "semaforo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "V", v)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"control.json", "control.json.lock"}, names,
		"temp files must not be left behind")
}

func TestStoresSharingPathSeeEachOthersWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "control.json")

	server, err := New(path)
	require.NoError(t, err)
	cli, err := New(path)
	require.NoError(t, err)

	require.NoError(t, server.Set(ctx, "semaforo", "V"))
	require.NoError(t, cli.Set(ctx, "semaforo", "R"))

	v, ok, err := server.Get(ctx, "semaforo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "R", v, "a pause written elsewhere must be visible")

	// a later write by the server keeps the other process's value
	require.NoError(t, server.Set(ctx, "last_alert", "abc"))
	fresh, err := New(path)
	require.NoError(t, err)
	v, _, err = fresh.Get(ctx, "semaforo")
	require.NoError(t, err)
	assert.Equal(t, "R", v)
	v, _, err = fresh.Get(ctx, "last_alert")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestConcurrentWritersDoNotLoseKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "control.json")

	var g errgroup.Group
	for i := range 10 {
		g.Go(func() error {
			s, err := New(path)
			if err != nil {
				return err
			}
			return s.Set(ctx, fmt.Sprintf("k%d", i), "v")
		})
	}
	require.NoError(t, g.Wait())

	s, err := New(path)
	require.NoError(t, err)
	for i := range 10 {
		_, ok, err := s.Get(ctx, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		assert.True(t, ok, "k%d lost", i)
	}
}

func TestGetReportsCorruptionWrittenLater(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.json")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	_, _, err = s.Get(context.Background(), "semaforo")
	require.ErrorContains(t, err, "decode control file")
}

func TestNewRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := New(path)
	require.ErrorContains(t, err, "decode control file")
}

func TestNewAcceptsEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s, err := New(path)
	require.NoError(t, err)
	_, ok, err := s.Get(context.Background(), "url")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}
