package store_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/protocol-gateway/internal/store"
)

func TestFileKeyStore_SetOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server-key.json")
	s := store.NewFileKeyStore(path)

	assert.False(t, s.IsSet())
	assert.False(t, s.Verify("anything"))

	require.NoError(t, s.Set("  secret-key  "))
	assert.True(t, s.IsSet())
	assert.True(t, s.Verify("secret-key"))
	assert.True(t, s.Verify(" secret-key\n"))
	assert.False(t, s.Verify("other"))
	assert.False(t, s.Verify(""))

	assert.ErrorIs(t, s.Set("second"), store.ErrKeyAlreadySet)
	assert.True(t, s.Verify("secret-key"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"secret-key"}`, string(data))
}

func TestFileKeyStore_InvalidKey(t *testing.T) {
	s := store.NewFileKeyStore(filepath.Join(t.TempDir(), "k.json"))
	assert.ErrorIs(t, s.Set("   "), store.ErrInvalidKey)
	assert.False(t, s.IsSet())
}

func TestFileKeyStore_LoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"key":" from-disk "}`), 0o600))

	s := store.NewFileKeyStore(path)
	assert.True(t, s.IsSet())
	assert.True(t, s.Verify("from-disk"))
	assert.ErrorIs(t, s.Set("new"), store.ErrKeyAlreadySet)
}

func TestFileKeyStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))

	s := store.NewFileKeyStore(path)
	assert.False(t, s.IsSet())
	// The corrupt file still blocks a silent overwrite.
	assert.ErrorIs(t, s.Set("new"), store.ErrKeyAlreadySet)
}

func TestFileKeyStore_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.json")
	a := store.NewFileKeyStore(path)
	b := store.NewFileKeyStore(path)

	require.NoError(t, a.Set("first"))
	assert.True(t, b.Verify("first"))
	assert.ErrorIs(t, b.Set("second"), store.ErrKeyAlreadySet)
}

func TestFileKeyStore_ConcurrentSet(t *testing.T) {
	s := store.NewFileKeyStore(filepath.Join(t.TempDir(), "k.json"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Set("key") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryKeyStore(t *testing.T) {
	s := store.NewMemoryKeyStore("")
	assert.False(t, s.IsSet())
	assert.ErrorIs(t, s.Set(""), store.ErrInvalidKey)
	require.NoError(t, s.Set("k"))
	assert.ErrorIs(t, s.Set("k2"), store.ErrKeyAlreadySet)
	assert.True(t, s.Verify("k"))
	assert.False(t, s.Verify("k2"))

	preset := store.NewMemoryKeyStore("preset")
	assert.True(t, preset.IsSet())
	assert.True(t, preset.Verify("preset"))
}
