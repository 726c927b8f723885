// File: internal/portal/credentials.go
package portal

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CredentialStore is the single named slot holding the last saved bearer
// token. Implementations must degrade to "no stored token" when the backing
// storage is unavailable: Load returns "" and Save/Clear swallow errors, so
// the trio is safe to call in any environment.
type CredentialStore interface {
	Load() string
	Save(token string)
	Clear()
}

var _ CredentialStore = (*FileTokenStore)(nil)
var _ CredentialStore = (*MemoryTokenStore)(nil)

// FileTokenStore persists the token in a single file, created 0600 under a
// 0700 directory.
type FileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Load() string {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (s *FileTokenStore) Save(token string) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return
	}
	_ = os.WriteFile(s.path, []byte(strings.TrimSpace(token)), 0o600)
}

func (s *FileTokenStore) Clear() {
	_ = os.Remove(s.path)
}

// MemoryTokenStore holds the token in process memory. Used in tests and as
// the degraded fallback when no token file path is configured.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (s *MemoryTokenStore) Load() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *MemoryTokenStore) Save(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
}

func (s *MemoryTokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}
