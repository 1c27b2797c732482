package license

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brvlicense/pkg/contracts/domain"
)

// MemoryStore is the in-memory Store used across this package's tests.
// LoadErr and SaveErr, when set, are returned verbatim to simulate
// storage failures.
type MemoryStore struct {
	mu      sync.Mutex
	state   *State
	saves   int
	LoadErr error
	SaveErr error
}

// NewMemoryStore creates a store seeded with st (nil means the initial
// unconfigured state).
func NewMemoryStore(st *State) *MemoryStore {
	if st == nil {
		st = NewState()
	}
	return &MemoryStore{state: st.Clone()}
}

func (m *MemoryStore) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	st.UpdatedAt = time.Now().UTC()
	m.state = st.Clone()
	m.saves++
	return nil
}

// Current returns a copy of the last saved state.
func (m *MemoryStore) Current() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// SaveCount reports how many successful saves happened.
func (m *MemoryStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "license.json"), nil)

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnconfigured, st.Status)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "license.json")
	store := NewFileStore(path, nil)
	ctx := context.Background()

	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	st := &State{
		LicenseKey:      "TESTKEY-1234567890",
		Status:          domain.StatusValidated,
		ActivationToken: "cafe1234feed5678",
		LastValidated:   timePtr(now),
		Reason:          "Validated",
	}
	require.NoError(t, store.Save(ctx, st))
	assert.False(t, st.UpdatedAt.IsZero(), "save stamps updated_at")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.LicenseKey, got.LicenseKey)
	assert.Equal(t, domain.StatusValidated, got.Status)
	assert.Equal(t, st.ActivationToken, got.ActivationToken)
	require.NotNil(t, got.LastValidated)
	assert.True(t, got.LastValidated.Equal(now))
}

func TestFileStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.json")
	store := NewFileStore(path, nil)

	require.NoError(t, store.Save(context.Background(), NewState()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewFileStore(path, nil)
	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse license state")
}

func TestFileStoreBackfillsStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"license_key":"TESTKEY-1234567890"}`), 0o600))

	store := NewFileStore(path, nil)
	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnconfigured, st.Status)
	assert.Equal(t, "TESTKEY-1234567890", st.LicenseKey)
}

func TestFileStoreOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.json")
	store := NewFileStore(path, nil)
	ctx := context.Background()

	first := NewState()
	first.Status = domain.StatusActive
	require.NoError(t, store.Save(ctx, first))

	second := NewState()
	second.Status = domain.StatusLockHard
	second.Reason = "License deactivated"
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLockHard, got.Status)
	assert.Equal(t, "License deactivated", got.Reason)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files do not survive a save")
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	st, err := store.Load(ctx)
	require.NoError(t, err)
	st.Status = domain.StatusActive

	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnconfigured, again.Status, "loads hand out copies")

	require.NoError(t, store.Save(ctx, st))
	assert.Equal(t, 1, store.SaveCount())
	assert.Equal(t, domain.StatusActive, store.Current().Status)
}
