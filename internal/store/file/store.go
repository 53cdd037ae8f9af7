// Package file persists control values as a JSON document on local disk.
// Every write replaces the document through a temp file and rename, so a
// reader never sees a partially written value.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Store is a ControlStore backed by a single JSON file. Nothing is cached:
// other processes (a CLI stop next to a running server) write the same file,
// so every Get reads it and every Set merges into the current document under
// an exclusive lock on a sibling ".lock" file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New validates the JSON document at path. A missing file is created on the
// first Set.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store.file.path is required")
	}
	s := &Store{path: path}
	if _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) read() (map[string]string, error) {
	data := map[string]string{}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read control file: %w", err)
	}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode control file %s: %w", s.path, err)
	}
	return data, nil
}

// Get reads key from the document on disk.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	data, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

// Set reloads the document, applies value and writes it back.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	data[key] = value
	return s.persist(data)
}

// lock takes an exclusive advisory lock shared with other processes using
// the same path.
func (s *Store) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}
	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open control lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock control file: %w", err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}

func (s *Store) persist(data map[string]string) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp control file: %w", err)
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("encode control file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync control file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close control file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace control file: %w", err)
	}
	return nil
}

// Close is a no-op; every Set is already durable.
func (s *Store) Close() error { return nil }
