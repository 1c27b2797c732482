package license

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"brvlicense/pkg/contracts/domain"
)

// Store loads and saves the license state document. Save semantics are
// last-writer-wins; callers needing stronger ordering serialize above
// this layer.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st *State) error
}

// FileStore persists the state as a JSON document with 0600
// permissions. Writes go through a temp file and rename so a crash
// never leaves a torn state file.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates a store backed by the given file path. The file
// does not need to exist yet.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   path,
		logger: logger.With(slog.String("component", "license_store")),
	}
}

// Load reads the state file. A missing file is not an error: it yields
// the initial unconfigured state.
func (f *FileStore) Load(ctx context.Context) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read license state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse license state %s: %w", f.path, err)
	}
	if st.Status == "" {
		st.Status = domain.StatusUnconfigured
	}
	return &st, nil
}

// Save writes the state atomically and stamps UpdatedAt.
func (f *FileStore) Save(ctx context.Context, st *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal license state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".license-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write license state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod license state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close license state: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace license state: %w", err)
	}

	f.logger.Debug("license state saved",
		slog.String("path", f.path),
		slog.String("status", string(st.Status)))
	return nil
}

