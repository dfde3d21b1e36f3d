package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newStore(t *testing.T, path string) *DataStore {
	t.Helper()
	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = 0
	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)
	return ds
}

func TestPutGetPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ds := newStore(t, path)

	require.NoError(t, ds.Put("user:1", record{Name: "名字", Count: 2}))
	require.NoError(t, ds.Close())

	reopened := newStore(t, path)
	defer reopened.Close()

	var got record
	ok, err := reopened.Get("user:1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record{Name: "名字", Count: 2}, got)
}

func TestUpdateIsReadModifyWrite(t *testing.T) {
	ds := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	defer ds.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, Update(ds, "counter", func(r *record) error {
			r.Count++
			return nil
		}))
	}
	var got record
	_, err := ds.Get("counter", &got)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)
}

func TestKeysAndDelete(t *testing.T) {
	ds := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	defer ds.Close()

	require.NoError(t, ds.Put("conv:b", 1))
	require.NoError(t, ds.Put("conv:a", 1))
	require.NoError(t, ds.Put("pref:a", 1))
	assert.Equal(t, []string{"conv:a", "conv:b"}, ds.Keys("conv:"))
	keys, before := ds.Stats()
	assert.Equal(t, 3, keys)
	assert.Positive(t, before)

	ds.Delete("conv:a")
	assert.Equal(t, []string{"conv:b"}, ds.Keys("conv:"))
	keys, after := ds.Stats()
	assert.Equal(t, 2, keys)
	assert.Less(t, after, before)
}

func TestMemoryLimit(t *testing.T) {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "store.json"))
	cfg.AutoSaveInterval = 0
	cfg.MaxMemorySize = 8
	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)
	defer ds.Close()

	assert.ErrorIs(t, ds.Put("k", "a long string value"), ErrMemoryLimit)
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	ds := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, ds.Close())
	assert.ErrorIs(t, ds.Put("k", 1), ErrClosed)
	assert.ErrorIs(t, ds.Flush(), ErrClosed)
}
