// Package store provides TokenStore implementations: a single-file JSON
// store matching the persisted token layout, and an in-memory store for
// tests and path-less deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goliatone/go-twitch-listener/core"
)

// FileTokenStore persists the token record as a single JSON file at Path.
// An absent file is not an error: Read reports ok=false. Parent directories
// are created recursively before the first write.
type FileTokenStore struct {
	Path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{Path: strings.TrimSpace(path)}
}

func (s *FileTokenStore) Read(_ context.Context) ([]byte, bool, error) {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: read %s: %w", s.Path, err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *FileTokenStore) Write(_ context.Context, data []byte) error {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store: token path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("store: create token directory: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", s.Path, err)
	}
	return nil
}

// MemoryTokenStore keeps the record in memory only.
type MemoryTokenStore struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Read(_ context.Context) ([]byte, bool, error) {
	if s == nil {
		return nil, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.data) == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), s.data...), true, nil
}

func (s *MemoryTokenStore) Write(_ context.Context, data []byte) error {
	if s == nil {
		return fmt.Errorf("store: memory token store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

var (
	_ core.TokenStore = (*FileTokenStore)(nil)
	_ core.TokenStore = (*MemoryTokenStore)(nil)
)
