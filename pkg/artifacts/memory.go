package artifacts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by tests. It honours the same
// CreateIfAbsent atomicity contract as the durable backends.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) ReadText(ctx context.Context, key string) (string, error) {
	data, err := s.ReadBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *MemStore) WriteText(ctx context.Context, key, text string) error {
	return s.WriteBytes(ctx, key, []byte(text))
}

func (s *MemStore) ReadBytes(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemStore) WriteBytes(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.data[key] = buf
	return nil
}

func (s *MemStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	return ok, nil
}

func (s *MemStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemStore) ListRuns(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for key := range s.data {
		if i := strings.Index(key, "/"); i > 0 {
			seen[key[:i]] = true
		}
	}
	runs := make([]string, 0, len(seen))
	for run := range seen {
		runs = append(runs, run)
	}
	sort.Strings(runs)
	return runs, nil
}

func (s *MemStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.data {
		if key == prefix || strings.HasPrefix(key, prefix+"/") || strings.HasPrefix(key, prefix) {
			delete(s.data, key)
		}
	}
	return nil
}

func (s *MemStore) URIFor(key string) string {
	return "mem://" + key
}

func (s *MemStore) CreateIfAbsent(_ context.Context, key string, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; ok {
		return false, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.data[key] = buf
	return true, nil
}
