// Package artifacts provides the durable key-value store that both
// pipelines persist run state into. Keys are slash-separated paths
// relative to a root; the root decides the backend (local directory,
// gs:// bucket, s3:// bucket).
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("artifact not found")

// Store is the contract every backend implements. All state a run needs
// to resume lives behind this interface; nothing may be kept in process
// memory across invocations.
type Store interface {
	// ReadText returns the UTF-8 content at key, or ErrNotFound.
	ReadText(ctx context.Context, key string) (string, error)
	// WriteText persists text at key, creating parents as needed.
	WriteText(ctx context.Context, key, text string) error
	// ReadBytes returns the raw content at key, or ErrNotFound.
	ReadBytes(ctx context.Context, key string) ([]byte, error)
	// WriteBytes persists raw bytes at key.
	WriteBytes(ctx context.Context, key string, data []byte) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns all keys starting with prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
	// ListRuns returns the top-level prefixes of the store, sorted.
	ListRuns(ctx context.Context) ([]string, error)
	// DeletePrefix removes every key under prefix. Missing prefixes are
	// not an error.
	DeletePrefix(ctx context.Context, prefix string) error
	// URIFor renders the externally addressable URI for key.
	URIFor(key string) string
	// CreateIfAbsent atomically creates key with data. It returns true
	// when this call created the key and false when the key already
	// existed. This is the only test-and-set primitive the stores offer.
	CreateIfAbsent(ctx context.Context, key string, data []byte) (bool, error)
}

// LocalStore keeps artifacts under a filesystem directory.
type LocalStore struct {
	root string
	mu   sync.RWMutex
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates (if needed) and opens a store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}
	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure store root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

// Root returns the absolute root directory of the store.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) ReadText(ctx context.Context, key string) (string, error) {
	data, err := s.ReadBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *LocalStore) WriteText(ctx context.Context, key, text string) error {
	return s.WriteBytes(ctx, key, []byte(text))
}

func (s *LocalStore) ReadBytes(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key)) //nolint:gosec // key is store-relative
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *LocalStore) WriteBytes(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to ensure parent of %s: %w", key, err)
	}

	// Write to temp, then rename, so readers never observe a partial file.
	tmp := path + ".tmp"
	//nolint:gosec // G306: 0644 is intentional for readable artifacts
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, err)
}

func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStore) ListRuns(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

func (s *LocalStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(prefix)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", prefix, err)
	}
	if info.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", prefix, err)
		}
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", prefix, err)
	}
	return nil
}

func (s *LocalStore) URIFor(key string) string {
	return "file://" + filepath.ToSlash(s.path(key))
}

func (s *LocalStore) CreateIfAbsent(_ context.Context, key string, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to ensure parent of %s: %w", key, err)
	}

	//nolint:gosec // G302,G304: 0644 artifact, store-relative key
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create %s: %w", key, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to close %s: %w", key, err)
	}
	return true, nil
}
